package syncer

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	mrand "math/rand"
	"sync"
	"time"

	"stocktracker/internal"
	"stocktracker/internal/aggregate"
	"stocktracker/internal/config"
	"stocktracker/internal/orders"
	"stocktracker/internal/product"
	"stocktracker/internal/sink"
	"stocktracker/internal/storage"
	"stocktracker/internal/turnover"
	"stocktracker/internal/warehouse"
)

// FeedSource is the read side of a sync run: the three independent feeds.
type FeedSource interface {
	FetchOperatorStocks(ctx context.Context) ([]internal.OperatorStockRecord, error)
	FetchSellerStocks(ctx context.Context) ([]internal.SellerStockRecord, error)
	FetchOrders(ctx context.Context) ([]internal.OrderEvent, error)
}

// ReportSink receives one idempotent upsert per product identity.
type ReportSink interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, row internal.ReportRow) error
}

// Orchestrator drives one fetch -> normalize -> aggregate -> upsert cycle and
// owns the session lifecycle. Feed failures before any useful work abort the
// session as FAILED; per-product sink failures are isolated and only mark the
// session PARTIAL.
type Orchestrator struct {
	cfg   config.Config
	db    *storage.DB
	feeds FeedSource
	sink  ReportSink

	// sleep is a hook so tests can skip real backoff delays.
	sleep func(time.Duration)
}

func New(cfg config.Config, db *storage.DB, feeds FeedSource, sink ReportSink) *Orchestrator {
	return &Orchestrator{cfg: cfg, db: db, feeds: feeds, sink: sink, sleep: time.Sleep}
}

func (o *Orchestrator) Run(ctx context.Context) (internal.SyncSession, error) {
	session := internal.SyncSession{
		ID:        sessionID(),
		State:     internal.SessionPending,
		StartedAt: time.Now().UTC(),
	}
	if err := o.db.CreateSession(session); err != nil {
		return session, err
	}
	session.State = internal.SessionRunning

	operator, seller, orderEvents, err := o.fetchFeeds(ctx)
	if err != nil {
		session.AddError(err.Error())
		return session, o.finalize(&session, internal.SessionFailed, nil, nil)
	}

	log := internal.NewAnomalyLog(o.cfg.AnomalyLimit)

	aliasTable, err := warehouse.BuildAliasTable(o.cfg.WarehouseAliasFile)
	if err != nil {
		session.AddError(err.Error())
		return session, o.finalize(&session, internal.SessionFailed, nil, nil)
	}
	norm := warehouse.NewNormalizer(aliasTable, log)

	resolver := product.NewResolver(log)
	for _, rec := range operator {
		resolver.Register(internal.ProductHints{Article: rec.SupplierArticle, NmID: rec.NmID, Barcode: rec.Barcode})
	}
	for _, event := range orderEvents {
		resolver.Register(internal.ProductHints{Article: event.Article, NmID: event.NmID, Barcode: event.Barcode})
	}
	resolver.Freeze()

	deduped := orders.DedupeAndFilter(orderEvents)
	session.DuplicatesSkipped = deduped.DuplicatesSkipped

	aggregator := aggregate.New(norm, resolver, turnover.NewCalculator(o.cfg.LowStockThreshold), log)
	stocks := append(aggregate.FlattenOperator(operator), aggregate.FlattenSeller(seller)...)
	products := aggregator.Aggregate(stocks, deduped.Events, session.StartedAt)

	if err := o.sink.Init(ctx); err != nil {
		session.AddError(fmt.Sprintf("sink init: %v", err))
		session.Anomalies = log.Total()
		return session, o.finalize(&session, internal.SessionFailed, log, nil)
	}

	rows := o.upsertAll(ctx, &session, products)
	session.Anomalies = log.Total()

	state := internal.SessionCompleted
	switch {
	case session.Failed > 0 && session.Processed == 0:
		state = internal.SessionFailed
	case session.Failed > 0:
		state = internal.SessionPartial
	}

	fmt.Printf("sync %s done state=%s products=%d failed=%d duplicates=%d anomalies=%d\n",
		session.ID, state, session.Processed, session.Failed, session.DuplicatesSkipped, session.Anomalies)
	return session, o.finalize(&session, state, log, rows)
}

// Watch loops Run on the configured interval until the context is cancelled.
func (o *Orchestrator) Watch(ctx context.Context) error {
	for {
		if _, err := o.Run(ctx); err != nil {
			fmt.Printf("sync cycle error: %v\n", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(o.cfg.WatchIntervalSec) * time.Second):
		}
	}
}

func (o *Orchestrator) fetchFeeds(ctx context.Context) ([]internal.OperatorStockRecord, []internal.SellerStockRecord, []internal.OrderEvent, error) {
	var (
		wg          sync.WaitGroup
		operator    []internal.OperatorStockRecord
		seller      []internal.SellerStockRecord
		orderEvents []internal.OrderEvent
		operatorErr error
		sellerErr   error
		ordersErr   error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		operator, operatorErr = o.feeds.FetchOperatorStocks(ctx)
	}()
	go func() {
		defer wg.Done()
		seller, sellerErr = o.feeds.FetchSellerStocks(ctx)
	}()
	go func() {
		defer wg.Done()
		orderEvents, ordersErr = o.feeds.FetchOrders(ctx)
	}()
	wg.Wait()

	for _, err := range []error{operatorErr, sellerErr, ordersErr} {
		if err != nil {
			return nil, nil, nil, fmt.Errorf("feed fetch: %w", err)
		}
	}
	return operator, seller, orderEvents, nil
}

// upsertAll pushes every product into the sink at bounded concurrency. A
// product that exhausts its retries is recorded as failed; the rest of the
// session keeps going.
func (o *Orchestrator) upsertAll(ctx context.Context, session *internal.SyncSession, products []internal.AggregatedProduct) []internal.ReportRow {
	maxAttempts := o.cfg.SinkMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	concurrency := o.cfg.SinkConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		sem  = make(chan struct{}, concurrency)
		rows = make([]internal.ReportRow, 0, len(products))
		b    = backoff{base: 500 * time.Millisecond, cap: 15 * time.Second}
	)

	for _, p := range products {
		p := p
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			row := sink.ToReportRow(p)
			err := o.upsertWithRetry(ctx, row, maxAttempts, b)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				session.Failed++
				session.AddError(fmt.Sprintf("upsert %s: %v", row.BaseArticle, err))
				return
			}
			session.Processed++
			rows = append(rows, row)
		}()
	}
	wg.Wait()

	return rows
}

func (o *Orchestrator) upsertWithRetry(ctx context.Context, row internal.ReportRow, maxAttempts int, b backoff) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = o.sink.Upsert(ctx, row)
		if lastErr == nil {
			return nil
		}
		if internal.IsFatal(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts {
			o.sleep(b.delay(attempt))
		}
	}
	return lastErr
}

// finalize records the terminal session snapshot plus the run's anomalies and
// report rows. The session row is written once and never mutated again.
func (o *Orchestrator) finalize(session *internal.SyncSession, state internal.SessionState, log *internal.AnomalyLog, rows []internal.ReportRow) error {
	now := time.Now().UTC()
	session.State = state
	session.FinishedAt = &now

	if log != nil {
		if err := o.db.InsertAnomalies(session.ID, log.Items()); err != nil {
			return err
		}
	}
	if len(rows) > 0 {
		if err := o.db.UpsertReportRows(rows); err != nil {
			return err
		}
	}
	if err := o.db.FinalizeSession(*session); err != nil {
		return err
	}
	return o.db.SetMetadata("sync.last_session", session.ID)
}

type backoff struct {
	base time.Duration
	cap  time.Duration
}

// delay grows exponentially with attempt and carries jitter so concurrent
// retries against a rate-limited sink spread out.
func (b backoff) delay(attempt int) time.Duration {
	d := time.Duration(float64(b.base) * math.Pow(2, float64(attempt-1)))
	if d > b.cap {
		d = b.cap
	}
	return d + time.Duration(mrand.Intn(100))*time.Millisecond
}

func sessionID() string {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf[:])
}
