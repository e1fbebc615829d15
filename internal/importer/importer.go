// Package importer turns uploaded spreadsheets into contact and company
// records. Parsing and persistence are separate: callers hand in the create
// function and get back per-row results.
package importer

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"salescrm/api/internal/domain"
	"salescrm/api/internal/store"
)

const maxRows = 100000

var ErrUnsupportedFile = errors.New("unsupported file type; upload .csv, .xls or .xlsx")

type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

type Result struct {
	Created int        `json:"created"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors"`
}

func (r *Result) skip(row int, format string, args ...any) {
	r.Skipped++
	r.Errors = append(r.Errors, RowError{Row: row, Message: fmt.Sprintf(format, args...)})
}

// ReadRows reads the first worksheet (or the CSV body) as a header row
// followed by data rows. The format is chosen by file extension.
func ReadRows(reader io.Reader, filename string) ([][]string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".txt":
		rows, err = readCSV(data)
	case ".xls":
		rows, err = readXLS(data)
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(data)
	default:
		return nil, ErrUnsupportedFile
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("worksheet is empty")
	}
	return rows, nil
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return rows, nil
}

func readXLS(data []byte) ([][]string, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	if workbook.NumSheets() == 0 {
		return nil, fmt.Errorf("no worksheet found")
	}
	return workbook.ReadAllCells(maxRows), nil
}

func readXLSX(data []byte) ([][]string, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = file.Close() }()

	sheetName := file.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("no worksheet found")
	}
	return file.GetRows(sheetName)
}

// header maps canonical column keys to their index in the header row.
type header map[string]int

func newHeader(row []string, aliases map[string]string) header {
	h := header{}
	for idx, raw := range row {
		key, ok := aliases[normalizeHeader(raw)]
		if !ok {
			continue
		}
		if _, taken := h[key]; !taken {
			h[key] = idx
		}
	}
	return h
}

func (h header) value(row []string, key string) string {
	idx, ok := h[key]
	if !ok || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

// normalizeHeader lower-cases and drops separators so "First Name",
// "first_name" and "FirstName" all match.
func normalizeHeader(raw string) string {
	raw = strings.TrimPrefix(raw, "\ufeff")
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(raw)) {
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func splitTags(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ';' || r == ',' })
	tags := make([]string, 0, len(fields))
	seen := map[string]bool{}
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" || seen[strings.ToLower(f)] {
			continue
		}
		seen[strings.ToLower(f)] = true
		tags = append(tags, f)
	}
	return tags
}

func parseInt(raw string) int {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int(f)
	}
	return 0
}

var contactAliases = map[string]string{
	"firstname": "first", "first": "first", "givenname": "first",
	"lastname": "last", "last": "last", "surname": "last", "familyname": "last",
	"name": "name", "fullname": "name", "contactname": "name",
	"email": "email", "emailaddress": "email", "mail": "email",
	"phone": "phone", "phonenumber": "phone", "mobile": "phone", "telephone": "phone",
	"title": "title", "jobtitle": "title", "position": "title",
	"company": "company", "companyname": "company", "organization": "company", "account": "company",
	"status": "status", "leadstatus": "status",
	"tags": "tags", "labels": "tags",
	"source": "source", "leadsource": "source",
}

// Contacts maps data rows onto contacts and calls create for each. Rows
// without a first and last name are skipped; create failures are recorded
// against their row.
func Contacts(ctx context.Context, rows [][]string, create func(context.Context, store.Contact) error) Result {
	result := Result{Errors: []RowError{}}
	if len(rows) == 0 {
		return result
	}
	h := newHeader(rows[0], contactAliases)

	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.skip(line, "import cancelled: %v", err)
			continue
		}

		first, last := h.value(row, "first"), h.value(row, "last")
		if first == "" && last == "" {
			first, last = splitName(h.value(row, "name"))
		}
		if first == "" || last == "" {
			result.skip(line, "first and last name are required")
			continue
		}

		contact := store.Contact{
			FirstName:   first,
			LastName:    last,
			Email:       strings.ToLower(h.value(row, "email")),
			Phone:       h.value(row, "phone"),
			Title:       h.value(row, "title"),
			CompanyName: h.value(row, "company"),
			Tags:        splitTags(h.value(row, "tags")),
			Source:      h.value(row, "source"),
		}
		if contact.Source == "" {
			contact.Source = "import"
		}
		if raw := h.value(row, "status"); raw != "" {
			contact.Status, _ = domain.ParseContactStatus(raw)
		}

		if err := create(ctx, contact); err != nil {
			result.skip(line, "%v", err)
			continue
		}
		result.Created++
	}
	return result
}

var companyAliases = map[string]string{
	"name": "name", "company": "name", "companyname": "name", "organization": "name", "account": "name",
	"domain": "domain", "emaildomain": "domain",
	"industry": "industry", "sector": "industry",
	"website": "website", "url": "website", "web": "website",
	"phone": "phone", "phonenumber": "phone",
	"address": "address",
	"status": "status",
	"employees": "employees", "employeecount": "employees", "headcount": "employees",
	"arr": "arr", "arrestimate": "arr", "revenue": "arr", "annualrevenue": "arr",
	"description": "description", "notes": "description",
}

// Companies maps data rows onto companies and calls create for each. Rows
// without a name are skipped.
func Companies(ctx context.Context, rows [][]string, create func(context.Context, store.Company) error) Result {
	result := Result{Errors: []RowError{}}
	if len(rows) == 0 {
		return result
	}
	h := newHeader(rows[0], companyAliases)

	for i, row := range rows[1:] {
		line := i + 2
		if blank(row) {
			continue
		}
		if err := ctx.Err(); err != nil {
			result.skip(line, "import cancelled: %v", err)
			continue
		}

		name := h.value(row, "name")
		if name == "" {
			result.skip(line, "company name is required")
			continue
		}
		company := store.Company{
			Name:          name,
			Domain:        strings.ToLower(h.value(row, "domain")),
			Industry:      h.value(row, "industry"),
			Website:       h.value(row, "website"),
			Phone:         h.value(row, "phone"),
			Address:       h.value(row, "address"),
			Description:   h.value(row, "description"),
			EmployeeCount: parseInt(h.value(row, "employees")),
			ARREstimate:   domain.ParseAmount(strings.ReplaceAll(h.value(row, "arr"), ",", "")),
		}
		if raw := h.value(row, "status"); raw != "" {
			company.Status, _ = domain.ParseCompanyStatus(raw)
		}

		if err := create(ctx, company); err != nil {
			result.skip(line, "%v", err)
			continue
		}
		result.Created++
	}
	return result
}

// splitName treats "Last, First" and "First Middle Last" forms.
func splitName(full string) (string, string) {
	full = strings.TrimSpace(full)
	if full == "" {
		return "", ""
	}
	if strings.Contains(full, ",") {
		parts := strings.SplitN(full, ",", 2)
		return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[0])
	}
	fields := strings.Fields(full)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return strings.Join(fields[:len(fields)-1], " "), fields[len(fields)-1]
}
