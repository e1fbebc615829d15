package store

import (
	"context"
	"fmt"
	"time"
)

var contactSelect = `
	SELECT c.id, c.first_name, c.last_name, c.email, c.phone, c.title, c.company_name,
		COALESCE(co.name, NULLIF(c.company_name, ''), CASE WHEN c.company_id = '' THEN '' ELSE '` + LabelDeletedCompany + `' END),
		c.company_id, c.status, c.tags, c.assigned_to_id, c.source, c.created_date, c.updated_date,
		CASE WHEN c.assigned_to_id = '' THEN '' ELSE COALESCE(u.name, '` + LabelUnassigned + `') END,
		` + idsOf("deals", "contact_id", "c.id") + `,
		` + idsOf("tasks", "contact_id", "c.id") + `
	FROM contacts c
	LEFT JOIN users u ON u.id = c.assigned_to_id
	LEFT JOIN companies co ON co.id = c.company_id`

func scanContact(row rowScanner) (Contact, error) {
	var (
		item             Contact
		tags             []byte
		created, updated time.Time
		dealIDs          []byte
		taskIDs          []byte
	)
	if err := row.Scan(&item.ID, &item.FirstName, &item.LastName, &item.Email, &item.Phone, &item.Title,
		&item.CompanyName, &item.CompanyLabel, &item.CompanyID, &item.Status, &tags, &item.AssignedToID, &item.Source, &created, &updated,
		&item.AssignedToName, &dealIDs, &taskIDs); err != nil {
		return Contact{}, err
	}
	item.Tags = decodeStrings(tags)
	item.CreatedDate = stamp(created)
	item.UpdatedDate = stamp(updated)
	item.DealIDs = decodeStrings(dealIDs)
	item.TaskIDs = decodeStrings(taskIDs)
	return item, nil
}

func (s *PostgresStore) ListContacts(ctx context.Context, filter ContactFilter) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, contactSelect+`
		WHERE ($1='' OR c.status=$1)
		  AND ($2='' OR c.company_id=$2)
		  AND ($3='' OR c.assigned_to_id=$3)
		ORDER BY c.created_date DESC, c.id
	`, filter.Status, filter.CompanyID, filter.AssignedToID)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	items := make([]Contact, 0)
	for rows.Next() {
		item, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetContact(ctx context.Context, contactID string) (Contact, error) {
	return scanContact(s.db.QueryRowContext(ctx, contactSelect+` WHERE c.id=$1`, contactID))
}

func (s *PostgresStore) InsertContact(ctx context.Context, item Contact) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, first_name, last_name, email, phone, title, company_name, company_id, status, tags,
			assigned_to_id, source, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $14)
	`, item.ID, item.FirstName, item.LastName, item.Email, item.Phone, item.Title, item.CompanyName, item.CompanyID,
		string(item.Status), encodeStrings(item.Tags), item.AssignedToID, item.Source, item.CreatedDate.Time, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert contact", err)
	}
	return nil
}

func (s *PostgresStore) UpdateContact(ctx context.Context, item Contact) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE contacts
		SET first_name=$2, last_name=$3, email=$4, phone=$5, title=$6, company_name=$7, company_id=$8, status=$9,
			tags=$10::jsonb, assigned_to_id=$11, source=$12, updated_date=$13
		WHERE id=$1
	`, item.ID, item.FirstName, item.LastName, item.Email, item.Phone, item.Title, item.CompanyName, item.CompanyID,
		string(item.Status), encodeStrings(item.Tags), item.AssignedToID, item.Source, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("update contact", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) DeleteContact(ctx context.Context, contactID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE id=$1`, contactID)
	if err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return expectOne(result)
}
