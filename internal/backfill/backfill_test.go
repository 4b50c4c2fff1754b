package backfill

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/connector/stub"
	"exchange-volume-tracker/internal/credentials"
	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/normalize"
	"exchange-volume-tracker/internal/pricing"
	"exchange-volume-tracker/internal/storage"
	"exchange-volume-tracker/internal/storage/memory"
)

var (
	windowStart = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
)

func testFills() []domain.RawFill {
	fills := make([]domain.RawFill, 4)
	times := []time.Time{
		time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 2, 10, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	for i, at := range times {
		fills[i] = domain.RawFill{
			Market:     "PERP_BTC_USDT",
			Price:      100,
			Quantity:   1,
			Side:       domain.FillSideBuy,
			QuoteAsset: "USDT",
			ExecutedAt: at,
			FillID:     fmt.Sprintf("f%d", i+1),
		}
	}
	return fills
}

type fixture struct {
	coord   *Coordinator
	store   *memory.HistoricalStore
	cursors *memory.CursorStore
	conn    *stub.Connector
}

func newFixture(conn *stub.Connector) *fixture {
	store := memory.NewHistoricalStore()
	cursors := memory.NewCursorStore()
	return &fixture{
		coord: NewCoordinator(Options{
			Connectors: []connector.Connector{conn},
			Credentials: credentials.NewStatic(map[string]*domain.Credential{
				conn.Name(): {APIKey: "k", APISecret: "s"},
			}),
			Normalizer: normalize.New(pricing.NewStatic(nil)),
			Store:      store,
			Cursors:    cursors,
			Workers:    2,
		}),
		store:   store,
		cursors: cursors,
		conn:    conn,
	}
}

func TestRunCompletesMultiPagePair(t *testing.T) {
	f := newFixture(stub.New("paradex", testFills()).WithPageSize(2))
	ctx := context.Background()

	results, err := f.coord.Run(ctx, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	res := results[0]
	if res.Status != domain.BackfillDone || res.Err != nil {
		t.Fatalf("result = %+v", res)
	}
	if res.Fetched != 4 || res.Stored != 4 || res.Pages != 2 {
		t.Errorf("counts = %+v, want 4 fetched, 4 stored, 2 pages", res)
	}

	records, err := f.store.QueryRange(ctx, "2024-06-01", "2024-06-02")
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want one per touched day", len(records))
	}
	for _, rec := range records {
		if rec.TotalUSDNotional != 200 || rec.FillCount != 2 {
			t.Errorf("record %s = %v USD / %d fills, want 200 / 2", rec.Day, rec.TotalUSDNotional, rec.FillCount)
		}
	}

	cur, err := f.cursors.GetCursor(ctx, "paradex", "PERP_BTC_USDT")
	if err != nil {
		t.Fatalf("GetCursor() error = %v", err)
	}
	if cur.Status != domain.BackfillDone || cur.PagesDone != 2 {
		t.Errorf("cursor = %+v", cur)
	}
}

func TestRunResumesWithoutDoubleCount(t *testing.T) {
	// Simulate a crash after the first page's upsert committed but
	// before its cursor was saved: the fills are in the store, the
	// cursor still points at the start of the window.
	fills := testFills()
	f := newFixture(stub.New("paradex", fills).WithPageSize(2))
	ctx := context.Background()

	var firstPage []domain.VolumeContribution
	for _, fill := range fills[:2] {
		firstPage = append(firstPage, domain.VolumeContribution{
			Exchange:    "paradex",
			Market:      fill.Market,
			Day:         domain.DayOf(fill.ExecutedAt),
			USDNotional: fill.Price * fill.Quantity,
			FillID:      fill.FillID,
		})
	}
	if _, err := f.store.UpsertDaily(ctx, firstPage); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := f.cursors.SaveCursor(ctx, &domain.BackfillCursor{
		Exchange:    "paradex",
		Market:      "PERP_BTC_USDT",
		Cursor:      "",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Status:      domain.BackfillInProgress,
	}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	results, err := f.coord.Run(ctx, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := results[0]
	if res.Status != domain.BackfillDone {
		t.Fatalf("result = %+v", res)
	}
	if res.Duplicates != 2 || res.Stored != 2 {
		t.Errorf("stored = %d, duplicates = %d, want 2 and 2", res.Stored, res.Duplicates)
	}

	records, err := f.store.QueryRange(ctx, "2024-06-01", "2024-06-02")
	if err != nil {
		t.Fatalf("QueryRange() error = %v", err)
	}
	var total float64
	for _, rec := range records {
		total += rec.TotalUSDNotional
	}
	if total != 400 {
		t.Errorf("total = %v, want 400 (re-fetched page must not inflate)", total)
	}
}

func TestRunResumesFromPersistedCursor(t *testing.T) {
	f := newFixture(stub.New("paradex", testFills()).WithPageSize(2))
	ctx := context.Background()

	// Cursor already past the first page.
	if err := f.cursors.SaveCursor(ctx, &domain.BackfillCursor{
		Exchange:    "paradex",
		Market:      "PERP_BTC_USDT",
		Cursor:      "f2",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Status:      domain.BackfillFailed,
		PagesDone:   1,
	}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	results, err := f.coord.Run(ctx, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := results[0]
	if res.Status != domain.BackfillDone {
		t.Fatalf("result = %+v", res)
	}
	if res.Fetched != 2 || res.Stored != 2 {
		t.Errorf("fetched = %d, stored = %d, want only the second page", res.Fetched, res.Stored)
	}
}

func TestRunAuthFailurePersistsFailedCursor(t *testing.T) {
	conn := stub.New("bybit", testFills())
	conn.Err = fmt.Errorf("bybit: invalid api key: %w", connector.ErrAuth)
	f := newFixture(conn)
	ctx := context.Background()

	results, err := f.coord.Run(ctx, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	res := results[0]
	if res.Status != domain.BackfillFailed || !errors.Is(res.Err, connector.ErrAuth) {
		t.Fatalf("result = %+v", res)
	}

	cur, err := f.cursors.GetCursor(ctx, "bybit", "PERP_BTC_USDT")
	if err != nil {
		t.Fatalf("GetCursor() error = %v", err)
	}
	if cur.Status != domain.BackfillFailed {
		t.Errorf("cursor status = %s, want failed", cur.Status)
	}
}

func TestRunSkipsCompletedPair(t *testing.T) {
	f := newFixture(stub.New("paradex", testFills()).WithPageSize(2))
	ctx := context.Background()

	if err := f.cursors.SaveCursor(ctx, &domain.BackfillCursor{
		Exchange:    "paradex",
		Market:      "PERP_BTC_USDT",
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Status:      domain.BackfillDone,
		PagesDone:   2,
	}); err != nil {
		t.Fatalf("seed cursor: %v", err)
	}

	results, err := f.coord.Run(ctx, windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if results[0].Status != domain.BackfillDone {
		t.Fatalf("result = %+v", results[0])
	}
	if f.conn.PageCalls != 0 {
		t.Errorf("PageCalls = %d, want 0 for completed pair", f.conn.PageCalls)
	}
}

func TestRunInvertedWindow(t *testing.T) {
	f := newFixture(stub.New("paradex", nil))

	if _, err := f.coord.Run(context.Background(), windowEnd, windowStart); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("Run() error = %v, want ErrInvalidInput", err)
	}
}

func TestRunOnePairPerMarket(t *testing.T) {
	fills := testFills()
	fills = append(fills, domain.RawFill{
		Market:     "PERP_ETH_USDT",
		Price:      50,
		Quantity:   2,
		Side:       domain.FillSideSell,
		QuoteAsset: "USDT",
		ExecutedAt: time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC),
		FillID:     "e1",
	})
	f := newFixture(stub.New("woox", fills).WithPageSize(10))

	results, err := f.coord.Run(context.Background(), windowStart, windowEnd)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want one per market", len(results))
	}
	for _, res := range results {
		if res.Status != domain.BackfillDone {
			t.Errorf("pair %s/%s = %+v", res.Exchange, res.Market, res)
		}
	}
}
