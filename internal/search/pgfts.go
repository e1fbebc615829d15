package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS searches the generated tsvector columns directly. It backs the API
// whenever Meilisearch is not configured or unhealthy.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs a UNION ALL across contacts, companies, deals and notes using
// plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultContact {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'contact'::text AS type, c.id,
				trim(c.first_name || ' ' || c.last_name) AS title,
				ts_headline('english', coalesce(c.company_name, '') || ' ' || coalesce(c.email, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.status,
				ts_rank(c.fts, %[1]s) AS rank
			FROM contacts c
			WHERE c.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultCompany {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'company'::text AS type, co.id, co.name AS title,
				ts_headline('english', co.industry || ' ' || co.description, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				co.status,
				ts_rank(co.fts, %[1]s) AS rank
			FROM companies co
			WHERE co.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultDeal {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'deal'::text AS type, d.id, d.title,
				ts_headline('english', coalesce(d.description, ''), %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.stage AS status,
				ts_rank(d.fts, %[1]s) AS rank
			FROM deals d
			WHERE d.fts @@ %[1]s`, tsQuery))
	}
	if q.FilterType == "" || q.FilterType == ResultNote {
		args = append(args, q.ViewerID)
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, left(n.content, 60) AS title,
				ts_headline('english', n.content, %[1]s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS status,
				ts_rank(n.fts, %[1]s) AS rank
			FROM notes n
			WHERE n.fts @@ %[1]s AND (NOT n.is_private OR n.created_by_id = $2)`, tsQuery))
	}
	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, status
		FROM (%s) sub
		ORDER BY rank DESC, id
		LIMIT %d OFFSET %d`, union, limit, offset)

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r   Result
			typ string
		)
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every searchable record for a full reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) (Records, error) {
	var out Records

	err := p.each(ctx, `
		SELECT id, trim(first_name || ' ' || last_name), coalesce(email, ''), title, company_name, status
		FROM contacts`, func(rows *sql.Rows) error {
		var r ContactRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Title, &r.CompanyName, &r.Status); err != nil {
			return err
		}
		out.Contacts = append(out.Contacts, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load contacts: %w", err)
	}

	err = p.each(ctx, `SELECT id, name, coalesce(domain, ''), industry, description, status FROM companies`, func(rows *sql.Rows) error {
		var r CompanyRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.Domain, &r.Industry, &r.Description, &r.Status); err != nil {
			return err
		}
		out.Companies = append(out.Companies, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load companies: %w", err)
	}

	err = p.each(ctx, `SELECT id, title, description, stage FROM deals`, func(rows *sql.Rows) error {
		var r DealRecord
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Stage); err != nil {
			return err
		}
		out.Deals = append(out.Deals, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load deals: %w", err)
	}

	err = p.each(ctx, `SELECT id, content, created_by_id, is_private FROM notes`, func(rows *sql.Rows) error {
		var r NoteRecord
		if err := rows.Scan(&r.ID, &r.Content, &r.CreatedByID, &r.IsPrivate); err != nil {
			return err
		}
		out.Notes = append(out.Notes, r)
		return nil
	})
	if err != nil {
		return Records{}, fmt.Errorf("load notes: %w", err)
	}
	return out, nil
}

func (p *PgFTS) each(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
