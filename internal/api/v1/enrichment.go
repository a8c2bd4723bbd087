package v1

import (
	"fmt"
	"strings"
)

// EnrichmentRequest identifies one acquisition run against the remote
// statistics provider. It separates the "Target" (scope key) from the
// "Shape" of the fetch (years, offense subset, refresh policy).
// A request is immutable once handed to the enricher.
type EnrichmentRequest struct {
	// ScopeKey is the opaque identifier of the entity being enriched.
	// Examples: an agency ORI ("CA0194200"), or a synthetic aggregate
	// key ("STATE_TX", "NATIONAL_US").
	// This field is REQUIRED and has no default value.
	ScopeKey string `json:"scope_key"`

	// Years is the ordered list of years to request per offense.
	// Empty means "use the process-wide extraction years".
	Years []int `json:"years,omitempty"`

	// Offenses is the subset of offense codes to acquire.
	// Empty means "the full offense catalog, in catalog order".
	Offenses []string `json:"offenses,omitempty"`

	// ForceRefresh skips the cache probe and always re-acquires.
	ForceRefresh bool `json:"force_refresh"`
}

// Validate ensures the request can be executed at all. It rejects only
// structurally malformed requests; an offense code unknown to the catalog
// is caught later, before any network activity.
func (r *EnrichmentRequest) Validate() error {
	if strings.TrimSpace(r.ScopeKey) == "" {
		return fmt.Errorf("scope_key is required")
	}
	for _, y := range r.Years {
		if y <= 0 {
			return fmt.Errorf("invalid year %d", y)
		}
	}
	for _, code := range r.Offenses {
		if strings.TrimSpace(code) == "" {
			return fmt.Errorf("offense codes must not be empty")
		}
	}
	return nil
}

// Record is one ingested data point: the count for a single
// (scope, offense, year) cell.
type Record struct {
	ScopeKey string `json:"scope_key"`
	Offense  string `json:"offense"`
	Year     int    `json:"year"`
	Count    int    `json:"count"`
}

// EnrichmentResult is the terminal outcome of one acquisition run.
// Partial failure never surfaces as an error — it is folded into
// Success/Message with whatever records were accumulated.
type EnrichmentResult struct {
	Success      bool     `json:"success"`
	TotalRecords int      `json:"total_records"`
	Records      []Record `json:"records,omitempty"`
	Message      string   `json:"message"`
}

// ProgressEvent is emitted once per completed offense batch with a
// non-zero record count. Fire-and-forget: the core never retains it.
type ProgressEvent struct {
	Label      string `json:"label"`
	Count      int    `json:"count"`
	Cumulative int    `json:"cumulative"`
}
