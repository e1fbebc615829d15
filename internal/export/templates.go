package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"

	"salescrm/api/internal/store"
)

//go:embed templates/*.html
var templateFS embed.FS

var quoteTemplate = template.Must(
	template.New("quote.html").Funcs(template.FuncMap{
		"money":      formatMoney,
		"formatDate": formatDate,
		"percent":    func(v float64) string { return fmt.Sprintf("%g%%", v) },
	}).ParseFS(templateFS, "templates/quote.html"),
)

type quoteLine struct {
	Description     string
	Quantity        float64
	UnitPrice       float64
	DiscountPercent float64
	Total           float64
}

type quoteView struct {
	Quote       store.Quote
	Lines       []quoteLine
	GeneratedAt time.Time
}

// RenderQuoteHTML renders the printable quote page. Totals are recomputed
// from the line items so the document always adds up.
func RenderQuoteHTML(q store.Quote, now time.Time) (string, error) {
	q.ComputeTotals()
	view := quoteView{Quote: q, GeneratedAt: now}
	for _, item := range q.LineItems {
		view.Lines = append(view.Lines, quoteLine{
			Description:     item.Description,
			Quantity:        item.Quantity,
			UnitPrice:       item.UnitPrice.Float(),
			DiscountPercent: item.DiscountPercent,
			Total:           item.Total(),
		})
	}

	var buf bytes.Buffer
	if err := quoteTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render quote: %w", err)
	}
	return buf.String(), nil
}

func formatMoney(currency string, v any) string {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case interface{ Float() float64 }:
		f = n.Float()
	}
	if currency == "" {
		currency = "USD"
	}
	return fmt.Sprintf("%s %s", currency, groupThousands(f))
}

func groupThousands(v float64) string {
	s := fmt.Sprintf("%.2f", v)
	neg := s[0] == '-'
	if neg {
		s = s[1:]
	}
	intPart, frac := s[:len(s)-3], s[len(s)-3:]
	var out []byte
	for i, c := range []byte(intPart) {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	if neg {
		return "-" + string(out) + frac
	}
	return string(out) + frac
}

func formatDate(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.Format("January 2, 2006")
	case interface{ Ptr() *time.Time }:
		if p := t.Ptr(); p != nil {
			return p.Format("January 2, 2006")
		}
	}
	return ""
}
