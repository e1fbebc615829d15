// Package domain holds the closed vocabularies of the CRM (pipeline stages,
// statuses, priorities, task and activity types) and the tolerant parsing
// rules applied to them when records enter the system.
package domain

import "strings"

// Normalize folds a free-form enum value into its comparison form: lower
// case, trimmed, with hyphens and underscores treated as spaces and runs of
// whitespace collapsed to one space. It is idempotent.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}
	folded := strings.Map(func(r rune) rune {
		switch r {
		case '-', '_':
			return ' '
		}
		return r
	}, strings.ToLower(raw))
	return strings.Join(strings.Fields(folded), " ")
}

// vocabulary maps normalized tokens onto canonical labels for one enum.
type vocabulary[T ~string] struct {
	canonical []T
	byToken   map[string]T
}

func newVocabulary[T ~string](values ...T) vocabulary[T] {
	v := vocabulary[T]{canonical: values, byToken: make(map[string]T, len(values))}
	for _, value := range values {
		v.byToken[Normalize(string(value))] = value
	}
	return v
}

func (v vocabulary[T]) parse(raw string) (T, bool) {
	if value, ok := v.byToken[Normalize(raw)]; ok {
		return value, true
	}
	return T(strings.TrimSpace(raw)), false
}

func (v vocabulary[T]) known(value T) bool {
	_, ok := v.byToken[Normalize(string(value))]
	return ok
}

func (v vocabulary[T]) values() []T {
	out := make([]T, len(v.canonical))
	copy(out, v.canonical)
	return out
}
