package enrichment

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

const defaultBulkWorkers = 4

// JobQueuer queues a provider-side enrichment job for one county and
// returns the provider's job identifier.
type JobQueuer interface {
	QueueJob(ctx context.Context, jobType, countyID string) (string, error)
}

// QueuedJob pairs a county with the provider job it was queued under.
type QueuedJob struct {
	CountyID string `json:"county_id"`
	JobID    string `json:"job_id"`
}

// FailedJob pairs a county with the reason its queue attempt failed.
type FailedJob struct {
	CountyID string `json:"county_id"`
	Error    string `json:"error"`
}

// BulkReport summarizes a fan-out over many counties. Failures do not
// abort the batch; every county gets exactly one entry across the two
// lists.
type BulkReport struct {
	Queued []QueuedJob `json:"queued"`
	Failed []FailedJob `json:"failed"`
}

// BulkDispatcher queues provider jobs for many counties concurrently,
// bounded by a worker limit.
type BulkDispatcher struct {
	queuer  JobQueuer
	jobType string
	workers int
}

// NewBulkDispatcher builds a dispatcher. workers <= 0 falls back to the
// default limit.
func NewBulkDispatcher(queuer JobQueuer, jobType string, workers int) *BulkDispatcher {
	if queuer == nil {
		panic("enrichment: queuer must not be nil")
	}
	if workers <= 0 {
		workers = defaultBulkWorkers
	}
	return &BulkDispatcher{queuer: queuer, jobType: jobType, workers: workers}
}

// Dispatch queues one job per county and aggregates the outcomes. A
// county's failure is recorded and the rest of the batch continues;
// only context cancellation stops the fan-out early.
func (d *BulkDispatcher) Dispatch(ctx context.Context, countyIDs []string) (*BulkReport, error) {
	report := &BulkReport{
		Queued: make([]QueuedJob, 0, len(countyIDs)),
		Failed: make([]FailedJob, 0),
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for _, countyID := range countyIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			jobID, err := d.queuer.QueueJob(gctx, d.jobType, countyID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.Warn("[Bulk] queue failed", "county_id", countyID, "error", err)
				report.Failed = append(report.Failed, FailedJob{CountyID: countyID, Error: err.Error()})
				return nil
			}
			report.Queued = append(report.Queued, QueuedJob{CountyID: countyID, JobID: jobID})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}
	slog.Info("[Bulk] dispatch finished", "queued", len(report.Queued), "failed", len(report.Failed))
	return report, nil
}
