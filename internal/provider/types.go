package provider

// AgencyRecord is one already-persisted record returned by the
// existing-data probe endpoint.
type AgencyRecord struct {
	ORI     string `json:"ori"`
	Offense string `json:"offense"`
	Year    int    `json:"year"`
	Count   int    `json:"count"`
}

// FetchRequest is the body of POST /crimes/fetch/{scopeKey}.
type FetchRequest struct {
	Years        []int    `json:"years"`
	Offenses     []string `json:"offenses"`
	ForceRefresh bool     `json:"forceRefresh,omitempty"`
}

// CrimeRecord is one fetched data point inside a FetchResponse.
type CrimeRecord struct {
	Offense string `json:"offense"`
	Year    int    `json:"year"`
	Count   int    `json:"count"`
}

// FetchResponse is the body returned by POST /crimes/fetch/{scopeKey}.
type FetchResponse struct {
	RecordCount      int           `json:"recordCount"`
	Data             []CrimeRecord `json:"data,omitempty"`
	EnrichmentStatus string        `json:"enrichment_status,omitempty"`
}

// QueueJobRequest is the body of POST /jobs/queue.
type QueueJobRequest struct {
	JobType  string `json:"job_type"`
	CountyID string `json:"county_id"`
}

// QueueJobResponse is the body returned by POST /jobs/queue.
type QueueJobResponse struct {
	JobID string `json:"jobId"`
}

// AggregationSnapshot is the body returned by
// GET /stats/aggregations/{level}/{scopeKey}: a precomputed yearly series
// plus ancillary display fields.
type AggregationSnapshot struct {
	ScopeKey    string      `json:"scope_key"`
	Level       string      `json:"level"`
	Population  int64       `json:"population,omitempty"`
	RatePer100k float64     `json:"rate_per_100k,omitempty"`
	MinYear     int         `json:"min_year,omitempty"`
	MaxYear     int         `json:"max_year,omitempty"`
	Growth      float64     `json:"growth,omitempty"`
	Yearly      map[int]int `json:"yearly"`
}
