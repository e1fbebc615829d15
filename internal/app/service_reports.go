package app

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"salescrm/api/internal/analytics"
	"salescrm/api/internal/blob"
	"salescrm/api/internal/export"
	"salescrm/api/internal/importer"
	"salescrm/api/internal/search"
	"salescrm/api/internal/store"
)

const maxReportMonths = 36

// snapshot is the record set every analytics view is computed from.
type snapshot struct {
	users []store.User
	deals []store.Deal
	tasks []store.Task
}

func (s *Service) loadSnapshot(ctx context.Context) (snapshot, error) {
	var snap snapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.users, err = s.store.ListUsers(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		snap.deals, err = s.store.ListDeals(gctx, store.DealFilter{})
		return err
	})
	g.Go(func() error {
		var err error
		snap.tasks, err = s.store.ListTasks(gctx, store.TaskFilter{})
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}
	return snap, nil
}

func (s *Service) reportMonths(months int) int {
	if months <= 0 {
		months = s.cfg.ReportMonths
	}
	if months <= 0 {
		months = analytics.DefaultMonths
	}
	if months > maxReportMonths {
		months = maxReportMonths
	}
	return months
}

func (s *Service) Dashboard(ctx context.Context, months int) (analytics.Dashboard, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return analytics.Dashboard{}, err
	}
	return analytics.BuildDashboard(snap.users, snap.deals, snap.tasks, s.now().UTC(), s.reportMonths(months), s.logger), nil
}

func (s *Service) Revenue(ctx context.Context, months int) ([]analytics.MonthBucket, error) {
	deals, err := s.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, err
	}
	return analytics.RevenueByMonth(deals, s.now().UTC(), s.reportMonths(months)), nil
}

func (s *Service) Funnel(ctx context.Context) ([]analytics.Conversion, error) {
	deals, err := s.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, err
	}
	return analytics.Funnel(deals, nil), nil
}

func (s *Service) Stages(ctx context.Context) ([]analytics.StageBucket, error) {
	deals, err := s.store.ListDeals(ctx, store.DealFilter{})
	if err != nil {
		return nil, err
	}
	return analytics.StageBreakdown(deals), nil
}

func (s *Service) Assignees(ctx context.Context) ([]analytics.AssigneeStats, error) {
	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	return analytics.AssigneeRollup(snap.users, snap.deals, snap.tasks, s.logger), nil
}

// ReportDocument is the analytics workbook plus an archive link when object
// storage is configured.
type ReportDocument struct {
	*export.Result
	DownloadURL string
}

func (s *Service) ExportReport(ctx context.Context, months int) (ReportDocument, error) {
	dashboard, err := s.Dashboard(ctx, months)
	if err != nil {
		return ReportDocument{}, err
	}
	result, err := export.ReportWorkbook(dashboard)
	if err != nil {
		return ReportDocument{}, err
	}
	doc := ReportDocument{Result: result}
	doc.DownloadURL = s.archiveDocument(ctx, blob.ReportKey(result.Filename, s.now()), result)
	return doc, nil
}

func (s *Service) Search(ctx context.Context, viewer Session, text, rawType string, limit, offset int) (search.Response, error) {
	filterType, ok := search.ParseResultType(rawType)
	if !ok {
		return search.Response{}, validationError("unknown search type", map[string]string{"type": rawType})
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(ctx, search.Query{
		Text:       text,
		FilterType: filterType,
		ViewerID:   viewer.UserID,
		Limit:      limit,
		Offset:     offset,
	}), nil
}

// ImportContacts creates one contact per spreadsheet row through the normal
// create path, so every row is validated and logged like an API write.
func (s *Service) ImportContacts(ctx context.Context, actor Session, file io.Reader, filename string) (importer.Result, error) {
	rows, err := readImport(file, filename)
	if err != nil {
		return importer.Result{}, err
	}
	result := importer.Contacts(ctx, rows, func(ctx context.Context, contact store.Contact) error {
		_, err := s.CreateContact(ctx, actor, contact)
		return err
	})
	s.logger.Info("contacts imported", zap.String("file", filename), zap.Int("created", result.Created), zap.Int("skipped", result.Skipped))
	return result, nil
}

func (s *Service) ImportCompanies(ctx context.Context, actor Session, file io.Reader, filename string) (importer.Result, error) {
	rows, err := readImport(file, filename)
	if err != nil {
		return importer.Result{}, err
	}
	result := importer.Companies(ctx, rows, func(ctx context.Context, company store.Company) error {
		_, err := s.CreateCompany(ctx, actor, company)
		return err
	})
	s.logger.Info("companies imported", zap.String("file", filename), zap.Int("created", result.Created), zap.Int("skipped", result.Skipped))
	return result, nil
}

func readImport(file io.Reader, filename string) ([][]string, error) {
	rows, err := importer.ReadRows(file, filename)
	if errors.Is(err, importer.ErrUnsupportedFile) {
		return nil, validationError(err.Error(), map[string]string{"file": filename})
	}
	if err != nil {
		return nil, domainError(http.StatusBadRequest, "INVALID_FILE", err.Error(), nil)
	}
	return rows, nil
}
