package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"stocktracker/internal"
	"stocktracker/internal/config"
)

// SheetsSink upserts report rows into one spreadsheet tab, keyed by base
// article. Each upsert is a single-row ValueRange update, so an in-flight
// write either lands whole or not at all.
type SheetsSink struct {
	svc           *sheets.Service
	spreadsheetID string
	sheetName     string
	limiter       *rate.Limiter

	mu       sync.Mutex
	rowIndex map[string]int // base article -> 1-based sheet row
	nextRow  int
}

func NewSheetsSink(ctx context.Context, cfg config.Config) (*SheetsSink, error) {
	if err := cfg.Require("SHEETS_SPREADSHEET_ID", cfg.SpreadsheetID); err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read google credentials: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(raw, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse google credentials: %w", err)
	}

	svc, err := sheets.NewService(ctx, option.WithTokenSource(jwtCfg.TokenSource(ctx)))
	if err != nil {
		return nil, err
	}

	rps := cfg.SinkRateLimitRPS
	if rps <= 0 {
		rps = 1
	}

	return &SheetsSink{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		limiter:       rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

// Init writes the header row if the sheet is empty and loads the key column
// so Upsert can address rows in place. Must run before concurrent upserts.
func (s *SheetsSink) Init(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A:A").Context(ctx).Do()
	if err != nil {
		return classify("sheet read", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rowIndex = map[string]int{}
	s.nextRow = len(resp.Values) + 1

	for i, cells := range resp.Values {
		if i == 0 {
			continue // header
		}
		if len(cells) == 0 {
			continue
		}
		if key, ok := cells[0].(string); ok && key != "" {
			s.rowIndex[key] = i + 1
		}
	}

	if len(resp.Values) == 0 {
		header := make([]any, len(Header))
		for i, h := range Header {
			header[i] = h
		}
		if err := s.writeRow(ctx, 1, header); err != nil {
			return err
		}
		s.nextRow = 2
	}
	return nil
}

// Upsert writes the row for one product identity: an existing key updates its
// sheet row in place, a new key claims the next free row. Re-upserting
// identical data rewrites the same cells with the same values.
func (s *SheetsSink) Upsert(ctx context.Context, row internal.ReportRow) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.rowIndex == nil {
		s.mu.Unlock()
		return errors.New("sheets sink not initialized")
	}
	target, ok := s.rowIndex[row.BaseArticle]
	if !ok {
		target = s.nextRow
		s.rowIndex[row.BaseArticle] = target
		s.nextRow++
	}
	s.mu.Unlock()

	return s.writeRow(ctx, target, Values(row))
}

func (s *SheetsSink) writeRow(ctx context.Context, rowNum int, values []any) error {
	endColumn := rune('A' + len(Header) - 1)
	rangeRef := fmt.Sprintf("%s!A%d:%c%d", s.sheetName, rowNum, endColumn, rowNum)
	body := &sheets.ValueRange{Values: [][]any{values}}

	_, err := s.svc.Spreadsheets.Values.
		Update(s.spreadsheetID, rangeRef, body).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classify("sheet write", err)
	}
	return nil
}

// classify maps Google API failures onto the retryable/fatal split the
// orchestrator's retry loop keys on.
func classify(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		class := internal.FailureFatal
		switch {
		case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
			class = internal.FailureRetryable
		}
		return &internal.ExternalError{Op: op, Status: apiErr.Code, Class: class, Err: err}
	}
	// Network-level failures stay retryable by default.
	return &internal.ExternalError{Op: op, Class: internal.FailureRetryable, Err: err}
}
