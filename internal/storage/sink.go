package storage

import (
	"context"

	v1 "github.com/crimelens-lab/crimelens/internal/api/v1"
)

// RecordSink archives ingested crime records. The orchestration core
// treats the sink as best-effort: records already live with the upstream
// provider, so an archive failure degrades to a warning, never a failed
// job.
type RecordSink interface {
	// SaveRecords upserts a batch of records keyed by (scope_key, offense, year).
	SaveRecords(ctx context.Context, records []v1.Record) error

	// SeriesFor returns the archived year→count series for one scope and
	// offense. Years with no archived record are absent from the map.
	SeriesFor(ctx context.Context, scopeKey, offense string) (map[int]int, error)
}
