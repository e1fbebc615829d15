package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"salescrm/api/internal/domain"
)

// ErrDuplicate is returned when a write violates a unique natural key.
var ErrDuplicate = errors.New("duplicate record")

const uniqueViolation = "23505"

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// writeErr wraps a failed write, translating unique violations to ErrDuplicate.
func writeErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w (%s)", op, ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// expectOne returns sql.ErrNoRows when an UPDATE or DELETE touched nothing.
func expectOne(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullableTime(t domain.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Time.UTC()
}

func fromNullTime(t sql.NullTime) domain.Time {
	if !t.Valid {
		return domain.Time{}
	}
	return domain.NewTime(t.Time.UTC())
}

func amount(v float64) domain.Amount {
	return domain.ParseAmount(v)
}

func stamp(t time.Time) domain.Time {
	return domain.NewTime(t.UTC())
}

func encodeStrings(values []string) string {
	if values == nil {
		values = []string{}
	}
	encoded, _ := json.Marshal(values)
	return string(encoded)
}

func decodeStrings(raw []byte) []string {
	values := []string{}
	if len(raw) == 0 {
		return values
	}
	_ = json.Unmarshal(raw, &values)
	if values == nil {
		values = []string{}
	}
	return values
}

// idsOf builds the JSON array subquery used for computed back-references.
func idsOf(table, column, outer string) string {
	return fmt.Sprintf(`COALESCE((SELECT json_agg(x.id ORDER BY x.created_date, x.id) FROM %s x WHERE x.%s = %s AND %s <> ''), '[]')`,
		table, column, outer, outer)
}

func limitOrDefault(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}
