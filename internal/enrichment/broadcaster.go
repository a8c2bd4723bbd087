package enrichment

import (
	"log/slog"

	"github.com/google/uuid"
)

// Phase is one lifecycle transition of an acquisition job.
type Phase string

const (
	PhaseFetching   Phase = "fetching"
	PhaseCacheCheck Phase = "cache_check"
	PhaseCacheHit   Phase = "cache_hit"
	PhaseCacheMiss  Phase = "cache_miss"
	PhaseSaving     Phase = "saving"
	PhaseComplete   Phase = "complete"
	PhaseError      Phase = "error"
	PhaseInfo       Phase = "info"
	PhaseWarning    Phase = "warning"
)

// StatusEvent is one lifecycle notification. JobID is the correlation
// identifier: consumers coalesce repeated updates for the same job into
// one visible status instead of stacking them.
type StatusEvent struct {
	JobID    uuid.UUID `json:"job_id"`
	ScopeKey string    `json:"scope_key"`
	Phase    Phase     `json:"phase"`
	Message  string    `json:"message"`
	Count    int       `json:"count,omitempty"`
}

// Broadcaster is an output sink for lifecycle events. It has no effect on
// control flow: a detached (nil) broadcaster never changes acquisition
// behavior.
type Broadcaster interface {
	Broadcast(e StatusEvent)
}

// NopBroadcaster discards all events.
type NopBroadcaster struct{}

func (NopBroadcaster) Broadcast(StatusEvent) {}

// LogBroadcaster writes lifecycle events to the process logger.
type LogBroadcaster struct{}

func (LogBroadcaster) Broadcast(e StatusEvent) {
	slog.Info("[Lifecycle] "+e.Message,
		"job_id", e.JobID,
		"scope_key", e.ScopeKey,
		"phase", e.Phase,
		"count", e.Count,
	)
}

// broadcast tolerates a nil sink so callers never guard.
func broadcast(b Broadcaster, e StatusEvent) {
	if b == nil {
		return
	}
	b.Broadcast(e)
}
