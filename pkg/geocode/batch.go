package geocode

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Record is one input row for batch resolution.
type Record struct {
	ID      string
	Address string
}

// RecordStatus classifies the outcome for one record.
type RecordStatus string

const (
	// StatusResolved means the provider returned a valid location.
	StatusResolved RecordStatus = "resolved"
	// StatusNotFound means the provider could not interpret the address;
	// the invalid result is cached and will not be retried.
	StatusNotFound RecordStatus = "not_found"
	// StatusSkipped means the record had no address text to resolve.
	StatusSkipped RecordStatus = "skipped"
	// StatusFailed means the provider call failed transiently; the record
	// is safe to re-run.
	StatusFailed RecordStatus = "failed"
)

// ResolvedRecord pairs an input record with its resolution outcome. Result
// is nil for skipped and failed records.
type ResolvedRecord struct {
	Record
	Status RecordStatus
	Result *Result
}

// BatchSummary totals outcomes for a completed batch so an operator can
// re-run only the failed subset.
type BatchSummary struct {
	Total    int
	Resolved int
	NotFound int
	Skipped  int
	Failed   int
	Session  SessionStats
}

// ProgressFunc receives progress notifications: records processed so far,
// the batch total, and a human-readable message with running API call,
// cache hit, and cost counts. Purely an observability side channel.
type ProgressFunc func(done, total int, msg string)

// progressEvery is the reporting cadence in records.
const progressEvery = 10

// BatchResolver drives a Resolver across a collection of records with
// partial-failure tolerance: one bad address never aborts the batch.
type BatchResolver struct {
	resolver    *Resolver
	concurrency int
}

// BatchOption configures a BatchResolver.
type BatchOption func(*BatchResolver)

// WithConcurrency sets the number of parallel resolutions. The default of 1
// preserves strict sequential processing; higher values share the
// resolver's rate limiter and cache safely.
func WithConcurrency(n int) BatchOption {
	return func(b *BatchResolver) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBatchResolver creates a BatchResolver over the given resolver.
func NewBatchResolver(r *Resolver, opts ...BatchOption) *BatchResolver {
	b := &BatchResolver{resolver: r, concurrency: 1}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// ResolveAll resolves every record, preserving input order in the output.
// Records with blank addresses pass through unresolved; provider failures
// are recorded per record and processing continues.
func (b *BatchResolver) ResolveAll(ctx context.Context, records []Record, actor string, progress ProgressFunc) ([]ResolvedRecord, *BatchSummary) {
	out := make([]ResolvedRecord, len(records))

	runID := uuid.NewString()
	log := zap.L().With(
		zap.String("batch_id", runID),
		zap.String("actor", actor),
	)
	log.Info("batch resolution started", zap.Int("records", len(records)))

	report := func(done int) {
		if progress == nil {
			return
		}
		if done%progressEvery != 0 && done != len(records) {
			return
		}
		s := b.resolver.Stats()
		progress(done, len(records), fmt.Sprintf(
			"processed %d/%d (api calls: %d, cache hits: %d, est. cost: $%.2f)",
			done, len(records), s.APICallsMade, s.CacheHits, s.EstimatedCost,
		))
	}

	if b.concurrency <= 1 {
		for i, rec := range records {
			out[i] = b.resolveOne(ctx, rec, actor, log)
			report(i + 1)
		}
	} else {
		var done atomic.Int64
		eg, gctx := errgroup.WithContext(ctx)
		eg.SetLimit(b.concurrency)
		for i, rec := range records {
			eg.Go(func() error {
				out[i] = b.resolveOne(gctx, rec, actor, log)
				report(int(done.Add(1)))
				return nil
			})
		}
		_ = eg.Wait() // resolveOne never returns an error
	}

	summary := b.summarize(out)
	log.Info("batch resolution complete",
		zap.Int("total", summary.Total),
		zap.Int("resolved", summary.Resolved),
		zap.Int("not_found", summary.NotFound),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int64("api_calls", summary.Session.APICallsMade),
		zap.Int64("cache_hits", summary.Session.CacheHits),
	)
	return out, summary
}

func (b *BatchResolver) resolveOne(ctx context.Context, rec Record, actor string, log *zap.Logger) ResolvedRecord {
	if strings.TrimSpace(rec.Address) == "" {
		return ResolvedRecord{Record: rec, Status: StatusSkipped}
	}

	result, err := b.resolver.Resolve(ctx, rec.Address, actor, false)
	if err != nil {
		log.Warn("batch: record resolution failed",
			zap.String("record_id", rec.ID),
			zap.Error(err),
		)
		return ResolvedRecord{Record: rec, Status: StatusFailed}
	}
	if result == nil {
		return ResolvedRecord{Record: rec, Status: StatusSkipped}
	}
	if !result.Valid {
		return ResolvedRecord{Record: rec, Status: StatusNotFound, Result: result}
	}
	return ResolvedRecord{Record: rec, Status: StatusResolved, Result: result}
}

func (b *BatchResolver) summarize(out []ResolvedRecord) *BatchSummary {
	s := &BatchSummary{Total: len(out), Session: b.resolver.Stats()}
	for _, rr := range out {
		switch rr.Status {
		case StatusResolved:
			s.Resolved++
		case StatusNotFound:
			s.NotFound++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
