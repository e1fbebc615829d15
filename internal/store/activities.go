package store

import (
	"context"
	"fmt"
	"time"
)

// Activities are append-only: there is no update or delete path, and the
// table rejects both at the database level.

func (s *PostgresStore) InsertActivity(ctx context.Context, item Activity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, type, entity_type, entity_id, user_id, description, previous_value, new_value, created_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, string(item.Type), string(item.EntityType), item.EntityID, item.UserID, item.Description,
		item.PreviousValue, item.NewValue, item.CreatedDate.Time)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.type, a.entity_type, a.entity_id, a.user_id, a.description, a.previous_value, a.new_value,
			a.created_date, CASE WHEN a.user_id = '' THEN '' ELSE COALESCE(u.name, '`+LabelUnknownUser+`') END
		FROM activities a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE ($1='' OR a.entity_type=$1)
		  AND ($2='' OR a.entity_id=$2)
		  AND ($3='' OR a.user_id=$3)
		ORDER BY a.created_date DESC, a.id DESC
		LIMIT $4
	`, filter.EntityType, filter.EntityID, filter.UserID, limitOrDefault(filter.Limit, 50, 500))
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var (
			item    Activity
			created time.Time
		)
		if err := rows.Scan(&item.ID, &item.Type, &item.EntityType, &item.EntityID, &item.UserID, &item.Description,
			&item.PreviousValue, &item.NewValue, &created, &item.UserName); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		item.CreatedDate = stamp(created)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}
