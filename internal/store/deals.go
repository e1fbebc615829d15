package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

var dealSelect = `
	SELECT d.id, d.title, d.value, d.currency, d.stage, d.probability, d.close_date, d.contact_id, d.company_id,
		d.assignee_id, d.description, d.created_date, d.updated_date,
		CASE WHEN d.contact_id = '' THEN '' ELSE COALESCE(NULLIF(TRIM(c.first_name || ' ' || c.last_name), ''), '` + LabelDeletedContact + `') END,
		CASE WHEN d.company_id = '' THEN '' ELSE COALESCE(co.name, '` + LabelDeletedCompany + `') END,
		COALESCE(u.name, '` + LabelUnassigned + `'),
		` + idsOf("tasks", "deal_id", "d.id") + `
	FROM deals d
	LEFT JOIN contacts c ON c.id = d.contact_id
	LEFT JOIN companies co ON co.id = d.company_id
	LEFT JOIN users u ON u.id = d.assignee_id`

func scanDeal(row rowScanner) (Deal, error) {
	var (
		item             Deal
		value            float64
		closeDate        sql.NullTime
		created, updated time.Time
		taskIDs          []byte
	)
	if err := row.Scan(&item.ID, &item.Title, &value, &item.Currency, &item.Stage, &item.Probability, &closeDate,
		&item.ContactID, &item.CompanyID, &item.AssigneeID, &item.Description, &created, &updated,
		&item.ContactName, &item.CompanyName, &item.AssigneeName, &taskIDs); err != nil {
		return Deal{}, err
	}
	item.Value = amount(value)
	item.CloseDate = fromNullTime(closeDate)
	item.CreatedDate = stamp(created)
	item.UpdatedDate = stamp(updated)
	item.TaskIDs = decodeStrings(taskIDs)
	return item, nil
}

func (s *PostgresStore) ListDeals(ctx context.Context, filter DealFilter) ([]Deal, error) {
	rows, err := s.db.QueryContext(ctx, dealSelect+`
		WHERE ($1='' OR d.stage=$1)
		  AND ($2='' OR d.contact_id=$2)
		  AND ($3='' OR d.company_id=$3)
		  AND ($4='' OR d.assignee_id=$4)
		ORDER BY d.updated_date DESC, d.id
	`, filter.Stage, filter.ContactID, filter.CompanyID, filter.AssigneeID)
	if err != nil {
		return nil, fmt.Errorf("list deals: %w", err)
	}
	defer rows.Close()

	items := make([]Deal, 0)
	for rows.Next() {
		item, err := scanDeal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deal: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDeal(ctx context.Context, dealID string) (Deal, error) {
	return scanDeal(s.db.QueryRowContext(ctx, dealSelect+` WHERE d.id=$1`, dealID))
}

func (s *PostgresStore) InsertDeal(ctx context.Context, item Deal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deals (id, title, value, currency, stage, probability, close_date, contact_id, company_id,
			assignee_id, description, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, item.ID, item.Title, item.Value.Float(), item.Currency, string(item.Stage), item.Probability, nullableTime(item.CloseDate),
		item.ContactID, item.CompanyID, item.AssigneeID, item.Description, item.CreatedDate.Time, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert deal", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDeal(ctx context.Context, item Deal) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE deals
		SET title=$2, value=$3, currency=$4, stage=$5, probability=$6, close_date=$7, contact_id=$8, company_id=$9,
			assignee_id=$10, description=$11, updated_date=$12
		WHERE id=$1
	`, item.ID, item.Title, item.Value.Float(), item.Currency, string(item.Stage), item.Probability, nullableTime(item.CloseDate),
		item.ContactID, item.CompanyID, item.AssigneeID, item.Description, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("update deal", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) DeleteDeal(ctx context.Context, dealID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deals WHERE id=$1`, dealID)
	if err != nil {
		return fmt.Errorf("delete deal: %w", err)
	}
	return expectOne(result)
}
