package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"salescrm/api/internal/analytics"
)

// Sheet names in the report workbook, in order.
const (
	SheetSummary   = "Summary"
	SheetStages    = "Stages"
	SheetRevenue   = "Revenue"
	SheetFunnel    = "Funnel"
	SheetAssignees = "Assignees"
)

// ReportWorkbook writes a dashboard snapshot as an xlsx workbook.
func ReportWorkbook(d analytics.Dashboard) (*Result, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetStages, SheetRevenue, SheetFunnel, SheetAssignees} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	s := d.Summary
	summary := [][]any{
		{"Metric", "Value"},
		{"Generated", d.GeneratedAt.Format("2006-01-02 15:04 MST")},
		{"Total deals", s.TotalDeals},
		{"Open deals", s.OpenDeals},
		{"Pipeline value", s.PipelineValue},
		{"Won deals", s.WonDeals},
		{"Won value", s.WonValue},
		{"Lost deals", s.LostDeals},
		{"Win rate %", s.WinRate},
		{"Average won deal", s.AverageWonDeal},
		{"Open tasks", d.Tasks.Open},
		{"Overdue tasks", d.Tasks.Overdue},
		{"Tasks due today", d.Tasks.DueToday},
	}

	stages := [][]any{{"Stage", "Deals", "Value"}}
	for _, b := range d.Stages {
		stages = append(stages, []any{string(b.Stage), b.Count, b.TotalValue})
	}

	revenue := [][]any{{"Month", "Closed won deals", "Closed won value", "Active deals", "Active value"}}
	for i, b := range d.Revenue {
		row := []any{b.Label, b.Count, b.TotalValue, 0, 0.0}
		if i < len(d.Pipeline) {
			row[3], row[4] = d.Pipeline[i].Count, d.Pipeline[i].TotalValue
		}
		revenue = append(revenue, row)
	}

	funnel := [][]any{{"From", "To", "From count", "To count", "Conversion %"}}
	for _, c := range d.Funnel {
		funnel = append(funnel, []any{string(c.From), string(c.To), c.FromCount, c.ToCount, c.Rate})
	}

	assignees := [][]any{{"Assignee", "Deals", "Won", "Won revenue", "Tasks", "Completed", "Completion ratio", "Matched by name"}}
	for _, a := range d.Assignees {
		assignees = append(assignees, []any{a.Name, a.Deals, a.WonDeals, a.WonRevenue, a.Tasks, a.CompletedTasks, a.CompletionRatio, a.NameMatches})
	}

	for sheet, rows := range map[string][][]any{
		SheetSummary:   summary,
		SheetStages:    stages,
		SheetRevenue:   revenue,
		SheetFunnel:    funnel,
		SheetAssignees: assignees,
	} {
		if err := writeRows(f, sheet, rows); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return &Result{
		Data:     buf.Bytes(),
		Filename: "crm-report-" + d.GeneratedAt.Format("2006-01-02") + ".xlsx",
		MimeType: MimeXLSX,
	}, nil
}

func writeRows(f *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}
