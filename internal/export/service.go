package export

import (
	"context"
	"fmt"
	"time"

	"salescrm/api/internal/store"
)

type renderFunc func(ctx context.Context, html string) ([]byte, error)

// Service renders quotes. The converters are swappable so tests do not need
// chromium or pandoc.
type Service struct {
	pdf  renderFunc
	docx renderFunc
	now  func() time.Time
}

func NewService() *Service {
	return &Service{pdf: renderPDF, docx: renderDOCX, now: time.Now}
}

// Quote renders q in the requested format.
func (s *Service) Quote(ctx context.Context, q store.Quote, format Format) (*Result, error) {
	html, err := RenderQuoteHTML(q, s.now())
	if err != nil {
		return nil, err
	}

	name := sanitizeFilename(q.QuoteNumber + " " + q.Title)
	switch format {
	case FormatPDF:
		data, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".pdf", MimeType: mimePDF}, nil
	case FormatDOCX:
		data, err := s.docx(ctx, html)
		if err != nil {
			return nil, err
		}
		return &Result{Data: data, Filename: name + ".docx", MimeType: mimeDOCX}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

func (s *Service) QuotePDF(ctx context.Context, q store.Quote) (*Result, error) {
	return s.Quote(ctx, q, FormatPDF)
}

func (s *Service) QuoteDOCX(ctx context.Context, q store.Quote) (*Result, error) {
	return s.Quote(ctx, q, FormatDOCX)
}
