// Package batch drives resolution over every eligible record of a batch.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/charity-cli/internal/metrics"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/resolve"
	"github.com/sells-group/charity-cli/internal/store"
)

// DefaultConcurrency bounds simultaneous resolutions.
const DefaultConcurrency = 5

const maxErrorMessage = 500

// Resolver resolves one record.
type Resolver interface {
	Resolve(ctx context.Context, rec *model.Record, opts resolve.Options) (*model.Record, error)
}

// Options are per-run switches.
type Options struct {
	UseAI       bool
	Concurrency int
}

// ReprocessStatuses are reset to pending by Reprocess.
var ReprocessStatuses = []model.ResolutionStatus{
	model.StatusNoMatch,
	model.StatusManualReview,
	model.StatusMultipleMatches,
}

// Orchestrator runs a Resolver over a batch.
type Orchestrator struct {
	store    store.Store
	resolver Resolver
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New builds an Orchestrator. m may be nil.
func New(st store.Store, resolver Resolver, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:    st,
		resolver: resolver,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// outcome is the result of resolving one record.
type outcome struct {
	status model.ResolutionStatus
	err    error
}

// tally accumulates outcomes and flushes them onto the batch row.
type tally struct {
	mu    sync.Mutex
	batch *model.Batch
	store store.Store
}

func (t *tally) record(ctx context.Context, o outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.batch.ProcessedRecords++
	switch {
	case o.err != nil:
		t.batch.FailedRecords++
	case o.status.IsMatched():
		t.batch.MatchedRecords++
	}
	if err := t.store.UpdateBatch(ctx, t.batch); err != nil {
		zap.L().Warn("batch: progress flush failed", zap.String("batch_id", t.batch.ID), zap.Error(err))
	}
}

// Process resolves every eligible root record of the batch with bounded
// concurrency. A record whose resolution fails or panics is moved to
// manual_review and counted as failed; it never stops the run. Once the batch
// is loaded it always leaves processing: errors that escape the per-record
// boundary mark it failed.
func (o *Orchestrator) Process(ctx context.Context, batchID string, opts Options) (b *model.Batch, err error) {
	b, err = o.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("batch_id", batchID))

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	t := &tally{batch: b, store: o.store}
	start := time.Now()
	settled := false

	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("batch: panic: %v", r)
		}
		if settled && err == nil {
			return
		}
		o.finalize(ctx, t, err)
		log.Info("batch: finished",
			zap.String("status", string(b.Status)),
			zap.Int("processed", b.ProcessedRecords),
			zap.Int("matched", b.MatchedRecords),
			zap.Int("failed", b.FailedRecords),
			zap.Duration("elapsed", time.Since(start)),
		)
	}()

	records, err := o.store.ListRecords(ctx, batchID, store.RecordFilter{
		Statuses:  model.EligibleStatuses,
		RootsOnly: true,
	})
	if err != nil {
		return b, eris.Wrap(err, "batch: list eligible records")
	}
	if len(records) == 0 {
		b.Status = model.BatchStatusCompleted
		b.CompletedAt = o.stamp()
		log.Info("batch: nothing to process")
		if err := o.store.UpdateBatch(ctx, b); err != nil {
			return b, eris.Wrap(err, "batch: mark completed")
		}
		settled = true
		return b, nil
	}

	b.Status = model.BatchStatusProcessing
	b.TotalRecords = len(records)
	b.ProcessedRecords, b.MatchedRecords, b.FailedRecords = 0, 0, 0
	b.ErrorMessage = ""
	b.StartedAt = o.stamp()
	b.CompletedAt = nil
	if err := o.store.UpdateBatch(ctx, b); err != nil {
		return b, eris.Wrap(err, "batch: mark processing")
	}

	log.Info("batch: processing", zap.Int("records", len(records)), zap.Int("concurrency", concurrency), zap.Bool("use_ai", opts.UseAI))

	// In-flight records finish even if ctx is canceled.
	workCtx := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		g.Go(func() error {
			t.record(workCtx, o.processOne(workCtx, rec, opts))
			return nil
		})
	}
	_ = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return b, eris.Wrapf(ctxErr, "batch: stopped after %d of %d records", b.ProcessedRecords, b.TotalRecords)
	}
	return b, nil
}

// Reprocess returns no_match and review records to pending and runs Process.
func (o *Orchestrator) Reprocess(ctx context.Context, batchID string, opts Options) (*model.Batch, error) {
	if _, err := o.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	n, err := o.store.ResetRecords(ctx, batchID, ReprocessStatuses)
	if err != nil {
		return nil, eris.Wrap(err, "batch: reset records")
	}
	zap.L().Info("batch: records reset for reprocessing", zap.String("batch_id", batchID), zap.Int("reset", n))
	return o.Process(ctx, batchID, opts)
}

// processOne resolves rec. Errors and panics from the resolver become a
// failed outcome.
func (o *Orchestrator) processOne(ctx context.Context, rec *model.Record, opts Options) (out outcome) {
	start := time.Now()
	o.metrics.StartResolve()

	defer func() {
		if r := recover(); r != nil {
			out = o.fail(ctx, rec, eris.Errorf("batch: panic resolving record: %v", r), start)
		}
	}()

	res, err := o.resolver.Resolve(ctx, rec, resolve.Options{UseAI: opts.UseAI})
	if err != nil {
		return o.fail(ctx, rec, err, start)
	}
	if res == nil {
		res = rec
	}

	o.metrics.FinishResolve(string(res.Status), string(res.Method), time.Since(start), nil)
	return outcome{status: res.Status}
}

func (o *Orchestrator) fail(ctx context.Context, rec *model.Record, err error, start time.Time) outcome {
	zap.L().Error("batch: record resolution failed",
		zap.String("record_id", rec.ID),
		zap.String("name", rec.OriginalName),
		zap.Error(err),
	)
	o.markForReview(ctx, rec.ID)
	o.metrics.FinishResolve(string(model.StatusManualReview), "", time.Since(start), err)
	return outcome{status: model.StatusManualReview, err: err}
}

// markForReview reloads the record so a half-applied resolution is not
// persisted, then parks it in manual_review.
func (o *Orchestrator) markForReview(ctx context.Context, recordID string) {
	fresh, err := o.store.GetRecord(ctx, recordID)
	if err != nil {
		zap.L().Error("batch: reload failed record", zap.String("record_id", recordID), zap.Error(err))
		return
	}
	fresh.Status = model.StatusManualReview
	fresh.ResolvedAt = o.stamp()
	if err := o.store.UpdateRecord(ctx, fresh); err != nil {
		zap.L().Error("batch: park failed record", zap.String("record_id", recordID), zap.Error(err))
	}
}

func (o *Orchestrator) finalize(ctx context.Context, t *tally, runErr error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b := t.batch

	switch {
	case runErr != nil:
		b.Status = model.BatchStatusFailed
		b.ErrorMessage = truncate(runErr.Error(), maxErrorMessage)
	case b.FailedRecords > 0 && b.FailedRecords == b.ProcessedRecords:
		b.Status = model.BatchStatusFailed
		b.ErrorMessage = fmt.Sprintf("all %d records failed to resolve", b.FailedRecords)
	case b.FailedRecords > 0:
		b.Status = model.BatchStatusPartial
	default:
		b.Status = model.BatchStatusCompleted
	}
	b.CompletedAt = o.stamp()

	if err := o.store.UpdateBatch(context.WithoutCancel(ctx), b); err != nil {
		zap.L().Error("batch: finalize failed", zap.String("batch_id", b.ID), zap.Error(err))
	}
	o.metrics.BatchFinished(string(b.Status))
}

func (o *Orchestrator) stamp() *time.Time {
	t := o.now()
	return &t
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
