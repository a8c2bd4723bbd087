package enrichment

import (
	"context"
	"log/slog"

	"github.com/crimelens-lab/crimelens/internal/provider"
)

// Prober is the narrow slice of the provider client the cache probe needs.
type Prober interface {
	AgencyRecords(ctx context.Context, scopeKey string) ([]provider.AgencyRecord, error)
}

// ProbeResult is the advisory answer of one existing-data lookup.
type ProbeResult struct {
	HasData     bool
	RecordCount int
}

// CacheProbe decides whether fresh acquisition is necessary for a scope.
type CacheProbe struct {
	client Prober
}

// NewCacheProbe creates a probe over the given provider client.
func NewCacheProbe(client Prober) *CacheProbe {
	return &CacheProbe{client: client}
}

// Probe performs one read-style lookup. It is purely advisory and fails
// open: any transport or status failure reads as "no data", so a broken
// probe can never prevent enrichment from proceeding.
func (p *CacheProbe) Probe(ctx context.Context, scopeKey string) ProbeResult {
	records, err := p.client.AgencyRecords(ctx, scopeKey)
	if err != nil {
		slog.Warn("[Probe] Existing-data lookup failed, assuming no data",
			"scope_key", scopeKey,
			"error", err,
		)
		return ProbeResult{}
	}
	return ProbeResult{
		HasData:     len(records) > 0,
		RecordCount: len(records),
	}
}
