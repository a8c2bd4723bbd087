package enrichment

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	v1 "github.com/crimelens-lab/crimelens/internal/api/v1"
	"github.com/crimelens-lab/crimelens/internal/core/catalog"
	"github.com/crimelens-lab/crimelens/internal/provider"
	"github.com/crimelens-lab/crimelens/internal/storage"
)

// interRequestDelay is the voluntary backpressure pause between successful
// category fetches, protecting the upstream provider from burst traffic.
// Process-wide constant, not tunable per job.
const interRequestDelay = 100 * time.Millisecond

const defaultErrorBudget = 3

// ErrInvalidRequest marks a request rejected before any network activity.
var ErrInvalidRequest = errors.New("invalid enrichment request")

// Fetcher is the narrow slice of the provider client the sequencer needs.
type Fetcher interface {
	FetchCrimes(ctx context.Context, scopeKey string, req provider.FetchRequest) (*provider.FetchResponse, error)
}

// ProgressFunc receives one event per successfully completed category with
// a non-zero record count.
type ProgressFunc func(e v1.ProgressEvent)

// SequencerOptions tunes one sequencer instance.
type SequencerOptions struct {
	// Broadcaster receives lifecycle events. Nil detaches notifications
	// without changing acquisition behavior.
	Broadcaster Broadcaster

	// Sink optionally archives ingested records during the Saving phase.
	Sink storage.RecordSink

	// ErrorBudget is the number of per-category failures tolerated before
	// the job aborts its remaining iterations. Zero means the default (3).
	ErrorBudget int

	// DefaultYears is the year span used when a request leaves Years
	// empty. Nil means the full extraction range.
	DefaultYears []int

	// Delay overrides the inter-request pause. Zero means the default.
	Delay time.Duration
}

func (o SequencerOptions) normalized() SequencerOptions {
	n := o
	if n.ErrorBudget <= 0 {
		n.ErrorBudget = defaultErrorBudget
	}
	if n.Delay <= 0 {
		n.Delay = interRequestDelay
	}
	if len(n.DefaultYears) == 0 {
		n.DefaultYears = catalog.ExtractionYears()
	}
	return n
}

// Sequencer turns one enrichment request into N sequential per-offense
// fetches in catalog order, with cooperative cancellation checked at
// iteration boundaries and an error budget bounding tolerated failures.
type Sequencer struct {
	fetcher      Fetcher
	catalog      *catalog.Catalog
	broadcaster  Broadcaster
	sink         storage.RecordSink
	errorBudget  int
	delay        time.Duration
	defaultYears []int
}

// NewSequencer creates a sequencer over the given fetcher and catalog.
func NewSequencer(fetcher Fetcher, cat *catalog.Catalog, opts SequencerOptions) *Sequencer {
	if fetcher == nil {
		panic("enrichment: fetcher must not be nil")
	}
	if cat == nil {
		panic("enrichment: catalog must not be nil")
	}
	opts = opts.normalized()
	return &Sequencer{
		fetcher:      fetcher,
		catalog:      cat,
		broadcaster:  opts.Broadcaster,
		sink:         opts.Sink,
		errorBudget:  opts.ErrorBudget,
		delay:        opts.Delay,
		defaultYears: opts.DefaultYears,
	}
}

// categoryOutcome is the result of one per-offense fetch.
type categoryOutcome struct {
	offense catalog.Offense
	records []v1.Record
	count   int
	err     error
}

// outcomes yields one categoryOutcome per offense, in catalog order. The
// sequence is lazy, finite, and non-restartable; consumers stop it early
// by breaking out of the range. Cancellation is checked before each fetch,
// and the same context aborts an in-flight request.
func (s *Sequencer) outcomes(
	ctx context.Context,
	req v1.EnrichmentRequest,
	offenses []catalog.Offense,
	years []int,
) iter.Seq[categoryOutcome] {
	return func(yield func(categoryOutcome) bool) {
		lastOK := false
		for i, off := range offenses {
			if i > 0 && lastOK {
				if !sleepCtx(ctx, s.delay) {
					return
				}
			}
			if ctx.Err() != nil {
				return
			}

			resp, err := s.fetcher.FetchCrimes(ctx, req.ScopeKey, provider.FetchRequest{
				Years:        years,
				Offenses:     []string{off.Code},
				ForceRefresh: req.ForceRefresh,
			})

			out := categoryOutcome{offense: off, err: err}
			if err == nil {
				out.count = resp.RecordCount
				out.records = toRecords(req.ScopeKey, off.Code, resp.Data)
			}
			lastOK = err == nil

			if !yield(out) {
				return
			}
		}
	}
}

// Run executes the acquisition loop for one job. It never returns an error
// for partial failure: per-category errors decrement the budget and the
// accumulated result is always returned. The only error returns are a
// malformed request (ErrInvalidRequest, before any network activity) and
// cancellation, which is re-raised alongside the partial result rather
// than counted as a failure.
func (s *Sequencer) Run(
	ctx context.Context,
	job *Job,
	req v1.EnrichmentRequest,
	onProgress ProgressFunc,
) (*v1.EnrichmentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	offenses, err := s.catalog.Subset(req.Offenses)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	years := req.Years
	if len(years) == 0 {
		years = s.defaultYears
	}

	job.setState(StateAcquiring)
	slog.Info("[Sequencer] Starting acquisition",
		"job_id", job.ID,
		"scope_key", req.ScopeKey,
		"categories", len(offenses),
		"years", years,
	)

	var (
		records         []v1.Record
		total           int
		budgetExhausted bool
	)

	for out := range s.outcomes(ctx, req, offenses, years) {
		if out.err != nil {
			// A per-request deadline counts against the budget; only the
			// job's own context distinguishes cancellation.
			if ctx.Err() != nil {
				break
			}
			failures := job.addError()
			slog.Warn("[Sequencer] Category fetch failed",
				"job_id", job.ID,
				"scope_key", req.ScopeKey,
				"offense", out.offense.Code,
				"failures", failures,
				"budget", s.errorBudget,
				"error", out.err,
			)
			broadcast(s.broadcaster, StatusEvent{
				JobID:    job.ID,
				ScopeKey: req.ScopeKey,
				Phase:    PhaseWarning,
				Message:  fmt.Sprintf("%s fetch failed, continuing", out.offense.Label),
			})
			if failures >= s.errorBudget {
				budgetExhausted = true
				broadcast(s.broadcaster, StatusEvent{
					JobID:    job.ID,
					ScopeKey: req.ScopeKey,
					Phase:    PhaseError,
					Message:  fmt.Sprintf("aborting after %d failed categories", failures),
					Count:    total,
				})
				break
			}
			continue
		}

		if out.count == 0 {
			continue
		}

		total += out.count
		job.addRecords(out.count)
		records = append(records, out.records...)

		if onProgress != nil {
			onProgress(v1.ProgressEvent{
				Label:      out.offense.Label,
				Count:      out.count,
				Cumulative: total,
			})
		}
		broadcast(s.broadcaster, StatusEvent{
			JobID:    job.ID,
			ScopeKey: req.ScopeKey,
			Phase:    PhaseInfo,
			Message:  fmt.Sprintf("%s: %d records", out.offense.Label, out.count),
			Count:    total,
		})
	}

	if cause := ctx.Err(); cause != nil {
		job.setState(StateCancelled)
		slog.Info("[Sequencer] Acquisition cancelled",
			"job_id", job.ID,
			"scope_key", req.ScopeKey,
			"records", total,
		)
		return &v1.EnrichmentResult{
			Success:      false,
			TotalRecords: total,
			Records:      records,
			Message:      fmt.Sprintf("cancelled with %d records acquired", total),
		}, cause
	}

	if total > 0 {
		s.save(ctx, job, req.ScopeKey, records)
	}
	job.setState(StateCompleted)

	result := &v1.EnrichmentResult{
		TotalRecords: total,
		Records:      records,
	}
	switch {
	case budgetExhausted && total > 0:
		result.Success = true
		result.Message = fmt.Sprintf("partial: %d records before error budget exhausted", total)
	case budgetExhausted:
		result.Message = "error budget exhausted before any data was acquired"
	case total == 0:
		result.Success = true
		result.Message = "no data found"
	default:
		result.Success = true
		result.Message = fmt.Sprintf("acquired %d records", total)
	}
	return result, nil
}

// save runs the Saving phase. With no sink attached it is notification-only.
// Archive failure degrades to a warning: the records already live upstream.
func (s *Sequencer) save(ctx context.Context, job *Job, scopeKey string, records []v1.Record) {
	job.setState(StateSaving)
	broadcast(s.broadcaster, StatusEvent{
		JobID:    job.ID,
		ScopeKey: scopeKey,
		Phase:    PhaseSaving,
		Message:  fmt.Sprintf("saving %d records", len(records)),
		Count:    len(records),
	})

	if s.sink == nil {
		return
	}
	if err := s.sink.SaveRecords(ctx, records); err != nil {
		slog.Warn("[Sequencer] Record archive failed",
			"job_id", job.ID,
			"scope_key", scopeKey,
			"error", err,
		)
		broadcast(s.broadcaster, StatusEvent{
			JobID:    job.ID,
			ScopeKey: scopeKey,
			Phase:    PhaseWarning,
			Message:  "record archive failed",
		})
	}
}

func toRecords(scopeKey, offense string, data []provider.CrimeRecord) []v1.Record {
	if len(data) == 0 {
		return nil
	}
	out := make([]v1.Record, 0, len(data))
	for _, d := range data {
		out = append(out, v1.Record{
			ScopeKey: scopeKey,
			Offense:  offense,
			Year:     d.Year,
			Count:    d.Count,
		})
	}
	return out
}

// sleepCtx pauses for d, returning false if ctx is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
