// Package backfill replays historical fills into the daily volume
// store, one resumable cursor per (exchange, market) pair.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"exchange-volume-tracker/internal/connector"
	"exchange-volume-tracker/internal/credentials"
	"exchange-volume-tracker/internal/domain"
	"exchange-volume-tracker/internal/logger"
	"exchange-volume-tracker/internal/normalize"
	"exchange-volume-tracker/internal/observability"
	"exchange-volume-tracker/internal/storage"
)

const defaultWorkers = 4

// Result is the outcome of one (exchange, market) backfill.
type Result struct {
	Exchange string
	Market   string
	Status   string
	Pages    int
	Fetched  int
	Stored   int
	// Duplicates counts fills already ingested by a previous run;
	// nonzero after a resume, never inflating totals.
	Duplicates int
	// Skipped counts fills dropped for missing oracle prices.
	Skipped int
	Err     error
}

// Options configures a Coordinator.
type Options struct {
	Connectors  []connector.Connector
	Credentials credentials.Store
	Normalizer  *normalize.Normalizer
	Store       storage.HistoricalStore
	Cursors     storage.CursorStore

	// Workers bounds how many pairs backfill concurrently.
	Workers int
}

// Coordinator drives backfill runs. Pages of one pair are consumed
// strictly in cursor order; distinct pairs run concurrently.
type Coordinator struct {
	connectors []connector.Connector
	creds      credentials.Store
	normalizer *normalize.Normalizer
	store      storage.HistoricalStore
	cursors    storage.CursorStore
	workers    int

	log *logger.Entry
	now func() time.Time
}

// NewCoordinator creates a backfill coordinator.
func NewCoordinator(opts Options) *Coordinator {
	c := &Coordinator{
		connectors: opts.Connectors,
		creds:      opts.Credentials,
		normalizer: opts.Normalizer,
		store:      opts.Store,
		cursors:    opts.Cursors,
		workers:    opts.Workers,
		log:        logger.Get().WithComponent("backfill"),
		now:        time.Now,
	}
	if c.workers <= 0 {
		c.workers = defaultWorkers
	}
	return c
}

type pair struct {
	conn   connector.Connector
	market string
}

// Run backfills the [start, end) window for every market of every
// connector and returns one Result per pair. A pair whose cursor is
// already done for this window is reported without refetching; a
// failed or interrupted pair resumes from its persisted cursor on the
// next run.
func (c *Coordinator) Run(ctx context.Context, start, end time.Time) ([]Result, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: window start must precede end", storage.ErrInvalidInput)
	}
	start, end = start.UTC(), end.UTC()

	var pairs []pair
	for _, conn := range c.connectors {
		m, ok := conn.(connector.Markets)
		if !ok || len(m.Markets()) == 0 {
			pairs = append(pairs, pair{conn: conn})
			continue
		}
		for _, market := range m.Markets() {
			pairs = append(pairs, pair{conn: conn, market: market})
		}
	}

	runID := uuid.NewString()
	c.log.WithFields(logger.Fields{
		"run_id": runID,
		"pairs":  len(pairs),
		"start":  start.Format(time.RFC3339),
		"end":    end.Format(time.RFC3339),
	}).Info("backfill run started")

	results := make([]Result, len(pairs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < c.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = c.backfillPair(ctx, pairs[i], start, end)
			}
		}()
	}
	for i := range pairs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	c.log.WithFields(logger.Fields{
		"run_id": runID,
		"pairs":  len(pairs),
		"failed": failed,
	}).Info("backfill run finished")
	return results, nil
}

func (c *Coordinator) backfillPair(ctx context.Context, p pair, start, end time.Time) Result {
	res := Result{Exchange: p.conn.Name(), Market: p.market}
	log := c.log.WithFields(logger.Fields{"exchange": res.Exchange, "market": res.Market})

	cur, err := c.loadCursor(ctx, p, start, end)
	if err != nil {
		res.Status = domain.BackfillFailed
		res.Err = err
		return res
	}
	if cur.Status == domain.BackfillDone {
		res.Status = domain.BackfillDone
		res.Pages = cur.PagesDone
		return res
	}

	cred, err := c.creds.Get(ctx, p.conn.Name())
	if err != nil {
		return c.failPair(ctx, res, cur, err)
	}

	cur.Status = domain.BackfillInProgress
	if err := c.cursors.SaveCursor(ctx, cur); err != nil {
		res.Status = domain.BackfillFailed
		res.Err = err
		return res
	}

	for {
		if err := ctx.Err(); err != nil {
			// The cursor already reflects the last committed page, so
			// a later run picks up exactly here.
			res.Status = domain.BackfillInProgress
			res.Err = err
			return res
		}

		fills, next, err := p.conn.FetchFillsPage(ctx, cred, p.market, cur.WindowStart, cur.WindowEnd, cur.Cursor)
		if err != nil {
			if errors.Is(err, connector.ErrAuth) {
				log.WithError(err).Error("backfill aborted on auth failure")
			}
			return c.failPair(ctx, res, cur, err)
		}
		res.Fetched += len(fills)

		contribs, skipped, err := c.normalizer.NormalizeAll(ctx, fills)
		if err != nil {
			return c.failPair(ctx, res, cur, err)
		}
		res.Skipped += skipped

		stats, err := c.store.UpsertDaily(ctx, contribs)
		if err != nil {
			return c.failPair(ctx, res, cur, err)
		}
		res.Stored += stats.Stored
		res.Duplicates += stats.Duplicates

		// Persist the cursor only after the page's volume is committed.
		cur.Cursor = next
		cur.PagesDone++
		if next == "" {
			cur.Status = domain.BackfillDone
		}
		if err := c.cursors.SaveCursor(ctx, cur); err != nil {
			res.Status = domain.BackfillFailed
			res.Err = err
			return res
		}
		res.Pages = cur.PagesDone
		observability.RecordBackfillPage(res.Exchange, stats.Stored)

		if next == "" {
			res.Status = domain.BackfillDone
			observability.RecordBackfillRun(res.Exchange, "done")
			log.WithFields(logger.Fields{
				"pages":  res.Pages,
				"stored": res.Stored,
			}).Info("pair backfill done")
			return res
		}
	}
}

// loadCursor returns the persisted cursor for the pair, or a fresh
// pending one. A persisted cursor for a different window starts over.
func (c *Coordinator) loadCursor(ctx context.Context, p pair, start, end time.Time) (*domain.BackfillCursor, error) {
	cur, err := c.cursors.GetCursor(ctx, p.conn.Name(), p.market)
	switch {
	case err == nil:
		if cur.WindowStart.Equal(start) && cur.WindowEnd.Equal(end) {
			return cur, nil
		}
	case errors.Is(err, storage.ErrNotFound):
	default:
		return nil, err
	}
	return &domain.BackfillCursor{
		Exchange:    p.conn.Name(),
		Market:      p.market,
		WindowStart: start,
		WindowEnd:   end,
		Status:      domain.BackfillPending,
	}, nil
}

func (c *Coordinator) failPair(ctx context.Context, res Result, cur *domain.BackfillCursor, cause error) Result {
	cur.Status = domain.BackfillFailed
	if err := c.cursors.SaveCursor(ctx, cur); err != nil {
		c.log.WithError(err).WithFields(logger.Fields{
			"exchange": res.Exchange,
			"market":   res.Market,
		}).Error("failed to persist failed cursor")
	}
	res.Status = domain.BackfillFailed
	res.Err = cause
	observability.RecordBackfillRun(res.Exchange, "failed")
	return res
}
