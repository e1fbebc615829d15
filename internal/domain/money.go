package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Amount is a non-negative monetary value. Decoding accepts a JSON number or
// a numeric string; anything else, including null, becomes 0.
type Amount float64

func (a Amount) Float() float64 { return float64(a) }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(a))
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = 0
		return nil
	}
	var raw any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		*a = 0
		return nil
	}
	*a = ParseAmount(raw)
	return nil
}

// ParseAmount coerces an arbitrary decoded value into an Amount. Strings are
// parsed as floats after trimming; negative, non-finite and non-numeric
// values yield 0.
func ParseAmount(v any) Amount {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		f = parsed
	case Amount:
		f = float64(t)
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return Amount(f)
}
