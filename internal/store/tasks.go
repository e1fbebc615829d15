package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var taskSelect = `
	SELECT t.id, t.title, t.description, t.type, t.priority, t.status, t.due_date, t.due_time, t.contact_id, t.deal_id,
		t.company_id, t.assignee_id, t.created_by_id, t.completed_date, t.created_date, t.updated_date,
		CASE WHEN t.contact_id = '' THEN '' ELSE COALESCE(NULLIF(TRIM(c.first_name || ' ' || c.last_name), ''), '` + LabelDeletedContact + `') END,
		CASE WHEN t.deal_id = '' THEN '' ELSE COALESCE(d.title, '` + LabelDeletedDeal + `') END,
		CASE WHEN t.company_id = '' THEN '' ELSE COALESCE(co.name, '` + LabelDeletedCompany + `') END,
		COALESCE(u.name, '` + LabelUnassigned + `')
	FROM tasks t
	LEFT JOIN contacts c ON c.id = t.contact_id
	LEFT JOIN deals d ON d.id = t.deal_id
	LEFT JOIN companies co ON co.id = t.company_id
	LEFT JOIN users u ON u.id = t.assignee_id`

func scanTask(row rowScanner) (Task, error) {
	var (
		item             Task
		dueDate          sql.NullTime
		completed        sql.NullTime
		created, updated time.Time
	)
	if err := row.Scan(&item.ID, &item.Title, &item.Description, &item.Type, &item.Priority, &item.Status, &dueDate,
		&item.DueTime, &item.ContactID, &item.DealID, &item.CompanyID, &item.AssigneeID, &item.CreatedByID, &completed,
		&created, &updated, &item.ContactName, &item.DealTitle, &item.CompanyName, &item.AssigneeName); err != nil {
		return Task{}, err
	}
	item.DueDate = fromNullTime(dueDate)
	item.CompletedDate = fromNullTime(completed)
	item.CreatedDate = stamp(created)
	item.UpdatedDate = stamp(updated)
	return item, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, taskSelect+`
		WHERE ($1='' OR t.status=$1)
		  AND ($2='' OR t.assignee_id=$2)
		  AND ($3='' OR t.contact_id=$3)
		  AND ($4='' OR t.deal_id=$4)
		  AND ($5='' OR t.company_id=$5)
		ORDER BY t.due_date ASC NULLS LAST, t.created_date DESC, t.id
	`, filter.Status, filter.AssigneeID, filter.ContactID, filter.DealID, filter.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+` WHERE t.id=$1`, taskID))
}

func (s *PostgresStore) InsertTask(ctx context.Context, item Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, type, priority, status, due_date, due_time, contact_id, deal_id,
			company_id, assignee_id, created_by_id, completed_date, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, item.ID, item.Title, item.Description, string(item.Type), string(item.Priority), string(item.Status),
		nullableTime(item.DueDate), item.DueTime, item.ContactID, item.DealID, item.CompanyID, item.AssigneeID,
		item.CreatedByID, nullableTime(item.CompletedDate), item.CreatedDate.Time, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert task", err)
	}
	return nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, item Task) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title=$2, description=$3, type=$4, priority=$5, status=$6, due_date=$7, due_time=$8, contact_id=$9,
			deal_id=$10, company_id=$11, assignee_id=$12, completed_date=$13, updated_date=$14
		WHERE id=$1
	`, item.ID, item.Title, item.Description, string(item.Type), string(item.Priority), string(item.Status),
		nullableTime(item.DueDate), item.DueTime, item.ContactID, item.DealID, item.CompanyID, item.AssigneeID,
		nullableTime(item.CompletedDate), item.UpdatedDate.Time)
	if err != nil {
		return writeErr("update task", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return expectOne(result)
}
