package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const userColumns = `id, name, email, role, department, status, phone, targets, password_hash, last_login, created_date, updated_date`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user       User
		targetsRaw []byte
		lastLogin  sql.NullTime
		created    time.Time
		updated    time.Time
	)
	if err := row.Scan(&user.ID, &user.Name, &user.Email, &user.Role, &user.Department, &user.Status, &user.Phone,
		&targetsRaw, &user.PasswordHash, &lastLogin, &created, &updated); err != nil {
		return User{}, err
	}
	_ = json.Unmarshal(targetsRaw, &user.Targets)
	user.LastLogin = fromNullTime(lastLogin)
	user.CreatedDate = stamp(created)
	user.UpdatedDate = stamp(updated)
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email)))
}

func (s *PostgresStore) InsertUser(ctx context.Context, user User) error {
	targets, err := json.Marshal(user.Targets)
	if err != nil {
		return fmt.Errorf("marshal user targets: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, role, department, status, phone, targets, password_hash, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11)
	`, user.ID, user.Name, user.Email, string(user.Role), user.Department, string(user.Status), user.Phone,
		string(targets), user.PasswordHash, user.CreatedDate.Time, user.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert user", err)
	}
	return nil
}

// UpdateUser writes profile fields. The password hash is changed only through
// UpdateUserPassword.
func (s *PostgresStore) UpdateUser(ctx context.Context, user User) error {
	targets, err := json.Marshal(user.Targets)
	if err != nil {
		return fmt.Errorf("marshal user targets: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET name=$2, email=$3, role=$4, department=$5, status=$6, phone=$7, targets=$8::jsonb, updated_date=$9
		WHERE id=$1
	`, user.ID, user.Name, user.Email, string(user.Role), user.Department, string(user.Status), user.Phone,
		string(targets), user.UpdatedDate.Time)
	if err != nil {
		return writeErr("update user", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_date=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) TouchUserLogin(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE users SET last_login=NOW() WHERE id=$1`, userID); err != nil {
		return fmt.Errorf("touch user login: %w", err)
	}
	return nil
}
