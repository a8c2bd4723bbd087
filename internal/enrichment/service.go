package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	v1 "github.com/crimelens-lab/crimelens/internal/api/v1"
)

// Enricher orchestrates one acquisition run per scope key: registry
// admission, cache probe short-circuit, sequencer execution, and exactly
// one terminal notification per job.
type Enricher struct {
	registry    *Registry
	probe       *CacheProbe
	sequencer   *Sequencer
	broadcaster Broadcaster
}

// NewEnricher wires the orchestrator. broadcaster may be nil.
func NewEnricher(registry *Registry, probe *CacheProbe, sequencer *Sequencer, broadcaster Broadcaster) *Enricher {
	if registry == nil {
		panic("enrichment: registry must not be nil")
	}
	if probe == nil {
		panic("enrichment: probe must not be nil")
	}
	if sequencer == nil {
		panic("enrichment: sequencer must not be nil")
	}
	return &Enricher{
		registry:    registry,
		probe:       probe,
		sequencer:   sequencer,
		broadcaster: broadcaster,
	}
}

// Enrich acquires crime data for one scope key. A malformed request is
// rejected before any job is registered or any network activity happens.
// A concurrent run for the same key yields *AlreadyRunningError with the
// existing job's cancel token. Cancellation re-raises the context error
// alongside the partial result.
func (e *Enricher) Enrich(ctx context.Context, req v1.EnrichmentRequest, onProgress ProgressFunc) (*v1.EnrichmentResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	job, jobCtx, err := e.registry.Start(ctx, req.ScopeKey)
	if err != nil {
		return nil, err
	}
	defer e.registry.Finish(job)

	broadcast(e.broadcaster, StatusEvent{
		JobID:    job.ID,
		ScopeKey: req.ScopeKey,
		Phase:    PhaseFetching,
		Message:  fmt.Sprintf("enriching %s", req.ScopeKey),
	})

	if !req.ForceRefresh {
		job.setState(StateCacheCheck)
		broadcast(e.broadcaster, StatusEvent{
			JobID:    job.ID,
			ScopeKey: req.ScopeKey,
			Phase:    PhaseCacheCheck,
			Message:  "checking for existing data",
		})

		if probed := e.probe.Probe(jobCtx, req.ScopeKey); probed.HasData {
			job.setState(StateCompleted)
			broadcast(e.broadcaster, StatusEvent{
				JobID:    job.ID,
				ScopeKey: req.ScopeKey,
				Phase:    PhaseCacheHit,
				Message:  fmt.Sprintf("%d records already present", probed.RecordCount),
				Count:    probed.RecordCount,
			})
			broadcast(e.broadcaster, StatusEvent{
				JobID:    job.ID,
				ScopeKey: req.ScopeKey,
				Phase:    PhaseComplete,
				Message:  "using cached data",
				Count:    probed.RecordCount,
			})
			return &v1.EnrichmentResult{
				Success:      true,
				TotalRecords: probed.RecordCount,
				Message:      "using cached data",
			}, nil
		}

		broadcast(e.broadcaster, StatusEvent{
			JobID:    job.ID,
			ScopeKey: req.ScopeKey,
			Phase:    PhaseCacheMiss,
			Message:  "no existing data, acquiring",
		})
	}

	result, runErr := e.sequencer.Run(jobCtx, job, req, onProgress)
	if runErr != nil {
		if result != nil && jobCtx.Err() != nil {
			broadcast(e.broadcaster, StatusEvent{
				JobID:    job.ID,
				ScopeKey: req.ScopeKey,
				Phase:    PhaseInfo,
				Message:  result.Message,
				Count:    result.TotalRecords,
			})
			return result, runErr
		}
		slog.Error("[Enricher] Run failed", "job_id", job.ID, "scope_key", req.ScopeKey, "error", runErr)
		broadcast(e.broadcaster, StatusEvent{
			JobID:    job.ID,
			ScopeKey: req.ScopeKey,
			Phase:    PhaseError,
			Message:  runErr.Error(),
		})
		return nil, runErr
	}

	phase := PhaseComplete
	if !result.Success {
		phase = PhaseError
	}
	broadcast(e.broadcaster, StatusEvent{
		JobID:    job.ID,
		ScopeKey: req.ScopeKey,
		Phase:    phase,
		Message:  result.Message,
		Count:    result.TotalRecords,
	})
	return result, nil
}

// Cancel requests cooperative cancellation of the live job for scopeKey,
// reporting whether one was found. Cancelling a finished job is a no-op.
func (e *Enricher) Cancel(scopeKey string) bool {
	token, ok := e.registry.Token(scopeKey)
	if !ok {
		return false
	}
	token.Cancel()
	return true
}

// Running reports whether a job is live for scopeKey.
func (e *Enricher) Running(scopeKey string) bool {
	_, ok := e.registry.Token(scopeKey)
	return ok
}

// IsCancellation reports whether err represents a cancelled run.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
