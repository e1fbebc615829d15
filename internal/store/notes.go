package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var noteSelect = `
	SELECT n.id, n.content, n.contact_id, n.deal_id, n.company_id, n.task_id, n.created_by_id, n.assigned_to_id,
		n.is_pinned, n.is_private, n.tags, n.due_date, n.created_date, n.updated_date,
		CASE WHEN n.created_by_id = '' THEN '' ELSE COALESCE(u.name, '` + LabelUnknownUser + `') END
	FROM notes n
	LEFT JOIN users u ON u.id = n.created_by_id`

func scanNote(row rowScanner) (Note, error) {
	var (
		item             Note
		tags             []byte
		dueDate          sql.NullTime
		created, updated time.Time
	)
	if err := row.Scan(&item.ID, &item.Content, &item.ContactID, &item.DealID, &item.CompanyID, &item.TaskID,
		&item.CreatedByID, &item.AssignedToID, &item.IsPinned, &item.IsPrivate, &tags, &dueDate, &created, &updated,
		&item.CreatedByName); err != nil {
		return Note{}, err
	}
	item.Tags = decodeStrings(tags)
	item.DueDate = fromNullTime(dueDate)
	item.CreatedDate = stamp(created)
	item.UpdatedDate = stamp(updated)
	return item, nil
}

// ListNotes returns pinned notes first, newest first within each group.
func (s *PostgresStore) ListNotes(ctx context.Context, filter NoteFilter) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx, noteSelect+`
		WHERE ($1='' OR n.contact_id=$1)
		  AND ($2='' OR n.deal_id=$2)
		  AND ($3='' OR n.company_id=$3)
		  AND ($4='' OR n.task_id=$4)
		  AND (NOT n.is_private OR n.created_by_id=$5)
		ORDER BY n.is_pinned DESC, n.created_date DESC, n.id
	`, filter.ContactID, filter.DealID, filter.CompanyID, filter.TaskID, filter.ViewerID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	items := make([]Note, 0)
	for rows.Next() {
		item, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNote(ctx context.Context, noteID string) (Note, error) {
	return scanNote(s.db.QueryRowContext(ctx, noteSelect+` WHERE n.id=$1`, noteID))
}

func (s *PostgresStore) InsertNote(ctx context.Context, item Note) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notes (id, content, contact_id, deal_id, company_id, task_id, created_by_id, assigned_to_id,
			is_pinned, is_private, tags, due_date, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14)
	`, item.ID, item.Content, item.ContactID, item.DealID, item.CompanyID, item.TaskID, item.CreatedByID,
		item.AssignedToID, item.IsPinned, item.IsPrivate, encodeStrings(item.Tags), nullableTime(item.DueDate),
		item.CreatedDate.Time, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert note", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNote(ctx context.Context, item Note) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notes
		SET content=$2, contact_id=$3, deal_id=$4, company_id=$5, task_id=$6, assigned_to_id=$7, is_pinned=$8,
			is_private=$9, tags=$10::jsonb, due_date=$11, updated_date=$12
		WHERE id=$1
	`, item.ID, item.Content, item.ContactID, item.DealID, item.CompanyID, item.TaskID, item.AssignedToID,
		item.IsPinned, item.IsPrivate, encodeStrings(item.Tags), nullableTime(item.DueDate), item.UpdatedDate.Time)
	if err != nil {
		return writeErr("update note", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) DeleteNote(ctx context.Context, noteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM notes WHERE id=$1`, noteID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	return expectOne(result)
}
