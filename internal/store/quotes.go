package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const quoteColumns = `id, quote_number, title, company_name, contact_name, status, line_items, tax_rate, currency,
	valid_until, notes, created_by_id, created_date, updated_date`

func scanQuote(row rowScanner) (Quote, error) {
	var (
		item             Quote
		lineItems        []byte
		validUntil       sql.NullTime
		created, updated time.Time
	)
	if err := row.Scan(&item.ID, &item.QuoteNumber, &item.Title, &item.CompanyName, &item.ContactName, &item.Status,
		&lineItems, &item.TaxRate, &item.Currency, &validUntil, &item.Notes, &item.CreatedByID, &created, &updated); err != nil {
		return Quote{}, err
	}
	item.LineItems = []LineItem{}
	_ = json.Unmarshal(lineItems, &item.LineItems)
	item.ValidUntil = fromNullTime(validUntil)
	item.CreatedDate = stamp(created)
	item.UpdatedDate = stamp(updated)
	item.ComputeTotals()
	return item, nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context) ([]Quote, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+quoteColumns+` FROM quotes ORDER BY created_date DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	items := make([]Quote, 0)
	for rows.Next() {
		item, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quotes: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetQuote(ctx context.Context, quoteID string) (Quote, error) {
	return scanQuote(s.db.QueryRowContext(ctx, `SELECT `+quoteColumns+` FROM quotes WHERE id=$1`, quoteID))
}

// NextQuoteNumber allocates the next number for quotes created in year. The
// counter row is bumped in one statement, so concurrent creates never share a
// number and a deleted quote's number is not handed out again. The first
// allocation in a year starts above the highest number already stored.
func (s *PostgresStore) NextQuoteNumber(ctx context.Context, year int) (string, error) {
	var next int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO quote_counters (year, last_number)
		VALUES ($1, 1 + COALESCE((
			SELECT MAX(CAST(split_part(quote_number, '-', 3) AS INTEGER))
			FROM quotes
			WHERE quote_number ~ $2
		), 0))
		ON CONFLICT (year) DO UPDATE SET last_number = quote_counters.last_number + 1
		RETURNING last_number
	`, year, fmt.Sprintf(`^Q-%d-[0-9]+$`, year)).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("allocate quote number: %w", err)
	}
	return FormatQuoteNumber(year, next), nil
}

// FormatQuoteNumber renders the Q-YYYY-NNNN form.
func FormatQuoteNumber(year, n int) string {
	return fmt.Sprintf("Q-%d-%04d", year, n)
}

func (s *PostgresStore) InsertQuote(ctx context.Context, item Quote) error {
	lineItems, err := encodeLineItems(item.LineItems)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quotes (id, quote_number, title, company_name, contact_name, status, line_items, tax_rate, currency,
			valid_until, notes, created_by_id, created_date, updated_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9, $10, $11, $12, $13, $14)
	`, item.ID, item.QuoteNumber, item.Title, item.CompanyName, item.ContactName, string(item.Status), lineItems,
		item.TaxRate, item.Currency, nullableTime(item.ValidUntil), item.Notes, item.CreatedByID,
		item.CreatedDate.Time, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("insert quote", err)
	}
	return nil
}

func (s *PostgresStore) UpdateQuote(ctx context.Context, item Quote) error {
	lineItems, err := encodeLineItems(item.LineItems)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE quotes
		SET quote_number=$2, title=$3, company_name=$4, contact_name=$5, status=$6, line_items=$7::jsonb, tax_rate=$8,
			currency=$9, valid_until=$10, notes=$11, updated_date=$12
		WHERE id=$1
	`, item.ID, item.QuoteNumber, item.Title, item.CompanyName, item.ContactName, string(item.Status), lineItems,
		item.TaxRate, item.Currency, nullableTime(item.ValidUntil), item.Notes, item.UpdatedDate.Time)
	if err != nil {
		return writeErr("update quote", err)
	}
	return expectOne(result)
}

func (s *PostgresStore) DeleteQuote(ctx context.Context, quoteID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM quotes WHERE id=$1`, quoteID)
	if err != nil {
		return fmt.Errorf("delete quote: %w", err)
	}
	return expectOne(result)
}

func encodeLineItems(items []LineItem) (string, error) {
	if items == nil {
		items = []LineItem{}
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal line items: %w", err)
	}
	return string(encoded), nil
}
