package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// migrationLockID keys the advisory lock held while the schema changes, so two
// replicas starting together do not race on the same script.
const migrationLockID = 7_330_412

var migrationFile = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// Migration is one numbered schema change and the script that reverts it.
type Migration struct {
	Number int
	Name   string
	Up     string
	Down   string
}

// Version is the key recorded in schema_migrations.
func (m Migration) Version() string {
	return fmt.Sprintf("%04d_%s.up.sql", m.Number, m.Name)
}

// MigrationState pairs a migration with when it was applied, if it was.
type MigrationState struct {
	Migration
	AppliedAt *time.Time
}

// LoadMigrations reads dir and pairs every up script with its down script,
// ordered by number. A half pair or a reused number is an error.
func LoadMigrations(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	byNumber := map[int]*Migration{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationFile.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, _ := strconv.Atoi(match[1])
		m := byNumber[number]
		if m == nil {
			m = &Migration{Number: number, Name: match[2]}
			byNumber[number] = m
		}
		if m.Name != match[2] {
			return nil, fmt.Errorf("migration %04d is used by both %q and %q", number, m.Name, match[2])
		}
		path := filepath.Join(dir, entry.Name())
		if match[3] == "up" {
			m.Up = path
		} else {
			m.Down = path
		}
	}

	out := make([]Migration, 0, len(byNumber))
	for _, m := range byNumber {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %04d_%s needs both up and down scripts", m.Number, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// Migrator applies and reverts the scripts in one directory.
type Migrator struct {
	db     *sql.DB
	dir    string
	logger *zap.Logger
}

func NewMigrator(db *sql.DB, dir string, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, dir: dir, logger: logger.Named("migrate")}
}

// ApplyMigrations brings the schema up to the newest script in dir.
func ApplyMigrations(ctx context.Context, db *sql.DB, dir string, logger *zap.Logger) error {
	_, err := NewMigrator(db, dir, logger).Up(ctx)
	return err
}

// Up applies every pending migration in order and returns how many ran.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return 0, err
	}
	applied := 0
	err = m.locked(ctx, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if _, ok := done[mig.Version()]; ok {
				continue
			}
			started := time.Now()
			if err := runScript(ctx, conn, mig.Up, `INSERT INTO schema_migrations(version) VALUES($1)`, mig.Version()); err != nil {
				return fmt.Errorf("apply %s: %w", mig.Version(), err)
			}
			applied++
			m.logger.Info("migration applied",
				zap.Int("number", mig.Number),
				zap.String("name", mig.Name),
				zap.Duration("took", time.Since(started)))
		}
		return nil
	})
	if err != nil {
		return applied, err
	}
	if applied == 0 {
		m.logger.Debug("schema up to date", zap.Int("migrations", len(migrations)))
	}
	return applied, nil
}

// Down reverts the newest steps applied migrations, newest first. A step
// count larger than what is applied reverts everything.
func (m *Migrator) Down(ctx context.Context, steps int) (int, error) {
	if steps <= 0 {
		return 0, errors.New("rollback needs at least one step")
	}
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return 0, err
	}
	reverted := 0
	err = m.locked(ctx, func(conn *sql.Conn) error {
		done, err := appliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		for i := len(migrations) - 1; i >= 0 && reverted < steps; i-- {
			mig := migrations[i]
			if _, ok := done[mig.Version()]; !ok {
				continue
			}
			if err := runScript(ctx, conn, mig.Down, `DELETE FROM schema_migrations WHERE version = $1`, mig.Version()); err != nil {
				return fmt.Errorf("revert %s: %w", mig.Version(), err)
			}
			reverted++
			m.logger.Info("migration reverted", zap.Int("number", mig.Number), zap.String("name", mig.Name))
		}
		return nil
	})
	return reverted, err
}

// Status lists every known migration with its applied time.
func (m *Migrator) Status(ctx context.Context) ([]MigrationState, error) {
	migrations, err := LoadMigrations(m.dir)
	if err != nil {
		return nil, err
	}
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return nil, err
	}
	done, err := appliedVersions(ctx, conn)
	if err != nil {
		return nil, err
	}
	out := make([]MigrationState, 0, len(migrations))
	for _, mig := range migrations {
		state := MigrationState{Migration: mig}
		if at, ok := done[mig.Version()]; ok {
			state.AppliedAt = &at
		}
		out = append(out, state)
	}
	return out, nil
}

// locked runs fn on a single connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("take migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.logger.Warn("release migration lock", zap.Error(err))
		}
	}()
	if err := ensureMigrationsTable(ctx, conn); err != nil {
		return err
	}
	return fn(conn)
}

// runScript executes a script and its schema_migrations bookkeeping in one
// transaction.
func runScript(ctx context.Context, conn *sql.Conn, path, record, version string) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if script := strings.TrimSpace(string(contents)); script != "" {
		if _, err := tx.ExecContext(ctx, script); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[string]time.Time, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	out := map[string]time.Time{}
	for rows.Next() {
		var (
			version string
			at      time.Time
		)
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		out[version] = at
	}
	return out, rows.Err()
}
