// Package sheets publishes report descriptors to a Google spreadsheet, one
// tab per report.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/log"
	"fintrack/internal/report"
)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID      string
	ServiceAccountFile string
	ServiceAccountJSON string
	TitlePrefix        string
}

// Values is the subset of the Sheets API the publisher needs.
type Values interface {
	EnsureSheet(ctx context.Context, spreadsheetID, title string) error
	Clear(ctx context.Context, spreadsheetID, rng string) error
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error
}

type Publisher struct {
	values        Values
	spreadsheetID string
	prefix        string
	logger        *log.Logger
}

// New creates a publisher backed by the Sheets API using service account
// credentials.
func New(ctx context.Context, cfg Config, logger *log.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	credentials, err := credentialsJSON(cfg)
	if err != nil {
		return nil, err
	}
	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentials),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithValues(&apiValues{svc: svc}, cfg, logger), nil
}

// NewWithValues wires a publisher to any Values implementation.
func NewWithValues(values Values, cfg Config, logger *log.Logger) *Publisher {
	return &Publisher{
		values:        values,
		spreadsheetID: cfg.SpreadsheetID,
		prefix:        cfg.TitlePrefix,
		logger:        log.OrNop(logger).WithComponent(log.ComponentSheets),
	}
}

func credentialsJSON(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.ServiceAccountJSON) != "":
		return []byte(cfg.ServiceAccountJSON), nil
	case strings.TrimSpace(cfg.ServiceAccountFile) != "":
		b, err := os.ReadFile(cfg.ServiceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials")
	}
}

// SheetTitle is the tab a report is written to.
func (p *Publisher) SheetTitle(d report.Descriptor) string {
	return p.prefix + d.Title
}

// Publish replaces the report's tab with its header and rows.
func (p *Publisher) Publish(ctx context.Context, d report.Descriptor) error {
	title := p.SheetTitle(d)
	if err := p.values.EnsureSheet(ctx, p.spreadsheetID, title); err != nil {
		return fmt.Errorf("publish %s: %w", d.ID, err)
	}
	whole := quote(title)
	if err := p.values.Clear(ctx, p.spreadsheetID, whole); err != nil {
		return fmt.Errorf("publish %s: clear %s: %w", d.ID, title, err)
	}

	rows := make([][]any, 0, len(d.Data.Rows)+1)
	rows = append(rows, cells(d.Data.Columns))
	for _, r := range d.Data.Rows {
		rows = append(rows, cells(r))
	}
	if err := p.values.Update(ctx, p.spreadsheetID, whole+"!A1", rows); err != nil {
		return fmt.Errorf("publish %s: update %s: %w", d.ID, title, err)
	}
	p.logger.Info("Report published", log.FieldReport, d.ID, "sheet", title, log.FieldRows, len(d.Data.Rows))
	return nil
}

// PublishAll publishes each descriptor, stopping at the first failure.
func (p *Publisher) PublishAll(ctx context.Context, ds []report.Descriptor) error {
	for _, d := range ds {
		if err := p.Publish(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func cells(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}

func quote(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

type apiValues struct {
	svc *gsheet.Service
}

func (a *apiValues) EnsureSheet(ctx context.Context, spreadsheetID, title string) error {
	ss, err := a.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return nil
		}
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
	}}}
	if _, err := a.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	return nil
}

func (a *apiValues) Clear(ctx context.Context, spreadsheetID, rng string) error {
	_, err := a.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do()
	return err
}

func (a *apiValues) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) error {
	vr := &gsheet.ValueRange{Values: rows}
	_, err := a.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	return err
}
