package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"stocktracker/internal"
	"stocktracker/internal/config"
	"stocktracker/internal/storage"
)

type fakeFeeds struct {
	operator []internal.OperatorStockRecord
	seller   []internal.SellerStockRecord
	orders   []internal.OrderEvent

	operatorErr error
}

func (f *fakeFeeds) FetchOperatorStocks(ctx context.Context) ([]internal.OperatorStockRecord, error) {
	return f.operator, f.operatorErr
}

func (f *fakeFeeds) FetchSellerStocks(ctx context.Context) ([]internal.SellerStockRecord, error) {
	return f.seller, nil
}

func (f *fakeFeeds) FetchOrders(ctx context.Context) ([]internal.OrderEvent, error) {
	return f.orders, nil
}

// fakeSink records upserts keyed by BaseArticle and can fail selected
// articles a configured number of times (or forever with failCount < 0).
type fakeSink struct {
	mu        sync.Mutex
	rows      map[string]internal.ReportRow
	attempts  map[string]int
	failCount map[string]int
	failWith  error

	initErr   error
	initCalls int
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		rows:      map[string]internal.ReportRow{},
		attempts:  map[string]int{},
		failCount: map[string]int{},
	}
}

func (s *fakeSink) Init(ctx context.Context) error {
	s.initCalls++
	return s.initErr
}

func (s *fakeSink) Upsert(ctx context.Context, row internal.ReportRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[row.BaseArticle]++
	if n, ok := s.failCount[row.BaseArticle]; ok && (n < 0 || s.attempts[row.BaseArticle] <= n) {
		if s.failWith != nil {
			return s.failWith
		}
		return &internal.ExternalError{Op: "upsert", Status: 503, Class: internal.FailureRetryable, Err: errors.New("unavailable")}
	}
	s.rows[row.BaseArticle] = row
	return nil
}

func testConfig() config.Config {
	return config.Config{
		SinkMaxAttempts:   3,
		SinkConcurrency:   2,
		LowStockThreshold: 10,
		AnomalyLimit:      100,
	}
}

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestOrchestrator(t *testing.T, feeds FeedSource, sink ReportSink) (*Orchestrator, *storage.DB) {
	t.Helper()
	db := openTestDB(t)
	o := New(testConfig(), db, feeds, sink)
	o.sleep = func(time.Duration) {}
	return o, db
}

func sampleFeeds() *fakeFeeds {
	date := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return &fakeFeeds{
		operator: []internal.OperatorStockRecord{
			{SupplierArticle: "ABC-123", NmID: 111, Barcode: "2000000000017", WarehouseName: "Коледино", Quantity: 400},
			{SupplierArticle: "ABC-123", NmID: 111, Barcode: "2000000000017", WarehouseName: "Казань (Зеленодольск)", Quantity: 300},
			{SupplierArticle: "XYZ-9", NmID: 222, Barcode: "2000000000024", WarehouseName: "Электросталь", Quantity: 5},
		},
		seller: []internal.SellerStockRecord{
			{Barcode: "2000000000017", Amount: 50, WarehouseName: "Мой склад"},
		},
		orders: []internal.OrderEvent{
			{OrderID: "o-1", Article: "ABC-123", NmID: 111, WarehouseName: "Коледино", Date: date},
			{OrderID: "o-1", Article: "ABC-123", NmID: 111, WarehouseName: "Коледино", Date: date},
			{OrderID: "o-2", Article: "ABC-123*2", NmID: 111, WarehouseName: "Зеленодольск", Date: date},
			{OrderID: "o-3", Article: "XYZ-9", NmID: 222, WarehouseName: "Электросталь", Canceled: true, Date: date},
		},
	}
}

func TestRunCompleted(t *testing.T) {
	sink := newFakeSink()
	o, db := newTestOrchestrator(t, sampleFeeds(), sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionCompleted {
		t.Fatalf("state = %s, want COMPLETED", session.State)
	}
	if session.Processed != 2 || session.Failed != 0 {
		t.Fatalf("processed=%d failed=%d, want 2/0", session.Processed, session.Failed)
	}
	if session.DuplicatesSkipped != 1 {
		t.Fatalf("duplicates skipped = %d, want 1", session.DuplicatesSkipped)
	}
	if session.FinishedAt == nil {
		t.Fatal("FinishedAt not set")
	}

	abc, ok := sink.rows["ABC-123"]
	if !ok {
		t.Fatalf("ABC-123 missing from sink, rows: %v", sink.rows)
	}
	if abc.TotalStock != 750 {
		t.Fatalf("ABC-123 total stock = %v, want 750", abc.TotalStock)
	}
	if abc.TotalOrders != 2 {
		t.Fatalf("ABC-123 total orders = %d, want 2", abc.TotalOrders)
	}

	stored, err := db.GetSession(session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if stored.State != internal.SessionCompleted {
		t.Fatalf("stored state = %s, want COMPLETED", stored.State)
	}

	rows, err := db.ListReportRows()
	if err != nil {
		t.Fatalf("list report rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("report rows = %d, want 2", len(rows))
	}
}

func TestRunFeedFailureIsSystemic(t *testing.T) {
	feeds := sampleFeeds()
	feeds.operatorErr = &internal.ExternalError{Op: "feeds.operator", Status: 500, Class: internal.FailureRetryable, Err: errors.New("boom")}
	sink := newFakeSink()
	o, db := newTestOrchestrator(t, feeds, sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionFailed {
		t.Fatalf("state = %s, want FAILED", session.State)
	}
	if len(session.Errors) == 0 {
		t.Fatal("expected a session error entry")
	}
	if sink.initCalls != 0 || len(sink.rows) != 0 {
		t.Fatalf("sink touched on feed failure: init=%d rows=%d", sink.initCalls, len(sink.rows))
	}

	rows, err := db.ListReportRows()
	if err != nil {
		t.Fatalf("list report rows: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("report rows persisted on failed session: %d", len(rows))
	}
}

func TestRunPartialOnExhaustedRetries(t *testing.T) {
	sink := newFakeSink()
	sink.failCount["XYZ-9"] = -1
	o, db := newTestOrchestrator(t, sampleFeeds(), sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionPartial {
		t.Fatalf("state = %s, want PARTIAL", session.State)
	}
	if session.Processed != 1 || session.Failed != 1 {
		t.Fatalf("processed=%d failed=%d, want 1/1", session.Processed, session.Failed)
	}
	if got := sink.attempts["XYZ-9"]; got != 3 {
		t.Fatalf("XYZ-9 attempts = %d, want 3", got)
	}
	if _, ok := sink.rows["ABC-123"]; !ok {
		t.Fatal("ABC-123 should have landed despite XYZ-9 failing")
	}

	rows, err := db.ListReportRows()
	if err != nil {
		t.Fatalf("list report rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("report rows = %d, want only the successful product", len(rows))
	}
}

func TestRunFailedWhenNothingLands(t *testing.T) {
	sink := newFakeSink()
	sink.failCount["ABC-123"] = -1
	sink.failCount["XYZ-9"] = -1
	o, _ := newTestOrchestrator(t, sampleFeeds(), sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionFailed {
		t.Fatalf("state = %s, want FAILED", session.State)
	}
	if session.Processed != 0 || session.Failed != 2 {
		t.Fatalf("processed=%d failed=%d, want 0/2", session.Processed, session.Failed)
	}
}

func TestRunRetryThenSuccess(t *testing.T) {
	sink := newFakeSink()
	sink.failCount["ABC-123"] = 2
	o, _ := newTestOrchestrator(t, sampleFeeds(), sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionCompleted {
		t.Fatalf("state = %s, want COMPLETED after retries", session.State)
	}
	if got := sink.attempts["ABC-123"]; got != 3 {
		t.Fatalf("ABC-123 attempts = %d, want 3", got)
	}
}

func TestRunFatalSinkErrorSkipsRetries(t *testing.T) {
	sink := newFakeSink()
	sink.failCount["ABC-123"] = -1
	sink.failWith = &internal.ExternalError{Op: "upsert", Status: 403, Class: internal.FailureFatal, Err: errors.New("forbidden")}
	o, _ := newTestOrchestrator(t, sampleFeeds(), sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionPartial {
		t.Fatalf("state = %s, want PARTIAL", session.State)
	}
	if got := sink.attempts["ABC-123"]; got != 1 {
		t.Fatalf("ABC-123 attempts = %d, want 1 for a fatal error", got)
	}
}

func TestRunSinkInitFailure(t *testing.T) {
	sink := newFakeSink()
	sink.initErr = errors.New("spreadsheet not found")
	o, _ := newTestOrchestrator(t, sampleFeeds(), sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.State != internal.SessionFailed {
		t.Fatalf("state = %s, want FAILED", session.State)
	}
	if len(sink.rows) != 0 {
		t.Fatal("no upserts expected after init failure")
	}
}

// Running the same feeds twice must converge on the same report rows: the
// sink is keyed by identity and the store upserts, so nothing duplicates.
func TestRunIdempotentAcrossRuns(t *testing.T) {
	sink := newFakeSink()
	o, db := newTestOrchestrator(t, sampleFeeds(), sink)

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := db.ListReportRows()
	if err != nil {
		t.Fatalf("list after first run: %v", err)
	}

	if _, err := o.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := db.ListReportRows()
	if err != nil {
		t.Fatalf("list after second run: %v", err)
	}

	if len(second) != len(first) {
		t.Fatalf("row count changed across runs: %d -> %d", len(first), len(second))
	}
	normalize := func(rows []internal.ReportRow) map[string]internal.ReportRow {
		m := map[string]internal.ReportRow{}
		for _, r := range rows {
			r.SyncedAt = ""
			m[r.BaseArticle] = r
		}
		return m
	}
	if !reflect.DeepEqual(normalize(first), normalize(second)) {
		t.Fatalf("rows diverged across runs:\nfirst:  %v\nsecond: %v", first, second)
	}

	sessions, err := db.ListSessions(10)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(sessions))
	}
	for _, s := range sessions {
		if s.State != internal.SessionCompleted {
			t.Fatalf("session %s state = %s, want COMPLETED", s.ID, s.State)
		}
	}
}

func TestRunRecordsAnomalies(t *testing.T) {
	feeds := sampleFeeds()
	feeds.operator = append(feeds.operator, internal.OperatorStockRecord{
		SupplierArticle: "QQQ-7", WarehouseName: "Новый склад где-то", Quantity: 10,
	})
	sink := newFakeSink()
	o, db := newTestOrchestrator(t, feeds, sink)

	session, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if session.Anomalies == 0 {
		t.Fatal("expected at least one anomaly for the unknown warehouse")
	}

	anomalies, err := db.ListAnomalies(session.ID)
	if err != nil {
		t.Fatalf("list anomalies: %v", err)
	}
	found := false
	for _, a := range anomalies {
		if a.Kind == internal.AnomalyUnknownWarehouse {
			found = true
		}
	}
	if !found {
		t.Fatalf("unknown_warehouse anomaly not persisted: %v", anomalies)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	sink := newFakeSink()
	o, _ := newTestOrchestrator(t, sampleFeeds(), sink)
	o.cfg.WatchIntervalSec = 3600

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	if sink.initCalls == 0 {
		t.Fatal("watch never ran a cycle")
	}
}
