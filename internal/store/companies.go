package store

import (
	"context"
	"fmt"
	"time"
)

var companySelect = `
	SELECT c.id, c.name, c.domain, c.industry, c.arr_estimate, c.employee_count, c.status, c.website, c.phone,
		c.address, c.description, c.parent_company_id, c.created_date, c.updated_date,
		CASE WHEN c.parent_company_id = '' THEN '' ELSE COALESCE(p.name, '` + LabelDeletedCompany + `') END,
		` + idsOf("contacts", "company_id", "c.id") + `,
		` + idsOf("deals", "company_id", "c.id") + `,
		` + idsOf("companies", "parent_company_id", "c.id") + `
	FROM companies c
	LEFT JOIN companies p ON p.id = c.parent_company_id`

func scanCompany(row rowScanner) (Company, error) {
	var (
		item             Company
		arr              float64
		created, updated time.Time
		contactIDs       []byte
		dealIDs          []byte
		subIDs           []byte
	)
	if err := row.Scan(&item.ID, &item.Name, &item.Domain, &item.Industry, &arr, &item.EmployeeCount, &item.Status,
		&item.Website, &item.Phone, &item.Address, &item.Description, &item.ParentCompanyID, &created, &updated,
		&item.ParentCompanyName, &contactIDs, &dealIDs, &subIDs); err != nil {
		return Company{}, err
	}
	item.ARREstimate = amount(arr)
	item.CreatedDate = stamp(created)
	item.UpdatedDate = stamp(updated)
	item.ContactIDs = decodeStrings(contactIDs)
	item.DealIDs = decodeStrings(dealIDs)
	item.SubCompanyIDs = decodeStrings(subIDs)
	return item, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, filter CompanyFilter) ([]Company, error) {
	rows, err := s.db.QueryContext(ctx, companySelect+`
		WHERE ($1='' OR c.status=$1)
		  AND ($2='' OR c.parent_company_id=$2)
		ORDER BY c.name, c.id
	`, filter.Status, filter.ParentCompanyID)
	if err != nil {
		return nil, fmt.Errorf("list companies: %w", err)
	}
	defer rows.Close()

	items := make([]Company, 0)
	for rows.Next() {
		item, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (Company, error) {
	return scanCompany(s.db.QueryRowContext(ctx, companySelect+` WHERE c.id=$1`, companyID))
}

func (s *PostgresStore) InsertCompany(ctx context.Context, item Company) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, domain, industry, arr_estimate, employee_count, status, website, phone,
			address, description, parent_company_id, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, item.ID, item.Name, item.Domain, item.Industry, item.ARREstimate.Float(), item.EmployeeCount, string(item.Status),
		item.Website, item.Phone, item.Address, item.Description, item.ParentCompanyID, item.CreatedDate.Time, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert company", err)
	}
	return nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, item Company) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE companies
		SET name=$2, domain=$3, industry=$4, arr_estimate=$5, employee_count=$6, status=$7, website=$8, phone=$9,
			address=$10, description=$11, parent_company_id=$12, updated_date=$13
		WHERE id=$1
	`, item.ID, item.Name, item.Domain, item.Industry, item.ARREstimate.Float(), item.EmployeeCount, string(item.Status),
		item.Website, item.Phone, item.Address, item.Description, item.ParentCompanyID, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("update company", err)
	}
	return expectOne(result)
}

// DeleteCompany removes only the company row. Contacts, deals and
// subsidiaries keep their company_id and render with a fallback label.
func (s *PostgresStore) DeleteCompany(ctx context.Context, companyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE id=$1`, companyID)
	if err != nil {
		return fmt.Errorf("delete company: %w", err)
	}
	return expectOne(result)
}
