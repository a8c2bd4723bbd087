package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/crimelens-lab/crimelens/internal/core/series"
	"github.com/crimelens-lab/crimelens/internal/provider"
	"github.com/crimelens-lab/crimelens/internal/storage"

	"github.com/shopspring/decimal"
)

// Levels the provider exposes precomputed rollups for.
const (
	LevelAgency   = "agency"
	LevelCounty   = "county"
	LevelState    = "state"
	LevelNational = "national"
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid series query")

// ErrSeriesNotFound means neither the provider nor the local archive holds
// a series for the requested scope.
var ErrSeriesNotFound = errors.New("series not found")

var validLevels = map[string]bool{
	LevelAgency:   true,
	LevelCounty:   true,
	LevelState:    true,
	LevelNational: true,
}

// SeriesSource is the narrow slice of the provider client the stats
// service needs.
type SeriesSource interface {
	Aggregations(ctx context.Context, level, scopeKey string) (*provider.AggregationSnapshot, error)
}

// SeriesQuery selects one yearly series and how to collapse it.
type SeriesQuery struct {
	Level    string
	ScopeKey string

	// Offense switches the read to the local archive, which is keyed per
	// offense. Empty means the provider's scope-level rollup.
	Offense string

	// Mode, ReferenceYear, WindowSize and SkipAbsentYears mirror the
	// calculation config. A zero ReferenceYear defaults to the latest
	// reported year.
	Mode            string
	ReferenceYear   int
	WindowSize      int
	SkipAbsentYears bool
}

// Trend is the derived movement of a series: per-year changes plus the
// compound rate across the full reported span.
type Trend struct {
	YoY       []series.YoYChange `json:"yoy"`
	CAGR      decimal.Decimal    `json:"cagr"`
	CAGRKnown bool               `json:"cagr_known"`
}

// SeriesResponse is the body of a series query.
type SeriesResponse struct {
	ScopeKey string                 `json:"scope_key"`
	Level    string                 `json:"level"`
	Offense  string                 `json:"offense,omitempty"`
	Series   map[int]int            `json:"series"`
	Value    series.CalculatedValue `json:"value"`
	Trend    Trend                  `json:"trend"`
}

// Service resolves yearly series from the provider or the local archive
// and collapses them through the calculation engine.
type Service struct {
	source SeriesSource
	sink   storage.RecordSink
}

// NewService creates a stats service. sink may be nil when the record
// archive is disabled; offense-scoped queries then fail with
// ErrInvalidQuery.
func NewService(source SeriesSource, sink storage.RecordSink) *Service {
	if source == nil {
		panic("stats: source must not be nil")
	}
	return &Service{source: source, sink: sink}
}

// QuerySeries resolves the series for q, computes the configured value
// and derives the trend.
func (s *Service) QuerySeries(ctx context.Context, q SeriesQuery) (*SeriesResponse, error) {
	if err := s.validate(q); err != nil {
		return nil, err
	}

	yearly, err := s.resolveSeries(ctx, q)
	if err != nil {
		return nil, err
	}

	resp := &SeriesResponse{
		ScopeKey: q.ScopeKey,
		Level:    q.Level,
		Offense:  q.Offense,
		Series:   yearly,
	}

	ys := series.YearlySeries(yearly)
	value, trend, err := collapse(ys, series.Config{
		ReferenceYear:   q.ReferenceYear,
		Mode:            q.Mode,
		WindowSize:      q.WindowSize,
		SkipAbsentYears: q.SkipAbsentYears,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	resp.Value = value
	resp.Trend = trend
	return resp, nil
}

// CalculateRequest is the body of POST /v1/series/calculate: a caller
// supplied series collapsed without touching the provider.
type CalculateRequest struct {
	Series map[int]int   `json:"series"`
	Config series.Config `json:"config"`
}

// CalculateResponse pairs the collapsed value with the derived trend.
type CalculateResponse struct {
	Value series.CalculatedValue `json:"value"`
	Trend Trend                  `json:"trend"`
}

// Calculate collapses a caller-supplied series. Pure: no I/O.
func (s *Service) Calculate(req CalculateRequest) (*CalculateResponse, error) {
	value, trend, err := collapse(series.YearlySeries(req.Series), req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	return &CalculateResponse{Value: value, Trend: trend}, nil
}

func (s *Service) validate(q SeriesQuery) error {
	if !validLevels[q.Level] {
		return fmt.Errorf("%w: unknown level %q", ErrInvalidQuery, q.Level)
	}
	if q.ScopeKey == "" {
		return fmt.Errorf("%w: scope_key is required", ErrInvalidQuery)
	}
	if q.Offense != "" && s.sink == nil {
		return fmt.Errorf("%w: offense-scoped queries need the record archive enabled", ErrInvalidQuery)
	}
	return nil
}

func (s *Service) resolveSeries(ctx context.Context, q SeriesQuery) (map[int]int, error) {
	if q.Offense != "" {
		yearly, err := s.sink.SeriesFor(ctx, q.ScopeKey, q.Offense)
		if err != nil {
			return nil, fmt.Errorf("archive series lookup: %w", err)
		}
		if len(yearly) == 0 {
			return nil, fmt.Errorf("%w: %s/%s", ErrSeriesNotFound, q.ScopeKey, q.Offense)
		}
		return yearly, nil
	}

	snap, err := s.source.Aggregations(ctx, q.Level, q.ScopeKey)
	if err != nil {
		slog.Warn("[Stats] Provider aggregation lookup failed",
			"level", q.Level,
			"scope_key", q.ScopeKey,
			"error", err,
		)
		return nil, fmt.Errorf("provider aggregation lookup: %w", err)
	}
	if len(snap.Yearly) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrSeriesNotFound, q.Level, q.ScopeKey)
	}
	return snap.Yearly, nil
}

// collapse runs the calculation engine and derives the trend over the
// reported span.
func collapse(ys series.YearlySeries, cfg series.Config) (series.CalculatedValue, Trend, error) {
	if cfg.Mode == "" {
		cfg.Mode = series.ModeSingle
	}
	if cfg.ReferenceYear == 0 {
		cfg.ReferenceYear = latestYear(ys)
	}

	value, err := series.Calculate(ys, cfg)
	if err != nil {
		return series.CalculatedValue{}, Trend{}, err
	}
	return value, deriveTrend(ys), nil
}

func deriveTrend(ys series.YearlySeries) Trend {
	years := reportedYears(ys)
	trend := Trend{YoY: series.YoYChanges(ys, years)}
	if len(years) >= 2 {
		first, last := years[0], years[len(years)-1]
		trend.CAGR, trend.CAGRKnown = series.CAGR(ys.Get(first), ys.Get(last), last-first)
	}
	return trend
}

func reportedYears(ys series.YearlySeries) []int {
	years := make([]int, 0, len(ys))
	for y := range ys {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func latestYear(ys series.YearlySeries) int {
	latest := series.EpochYear
	for y := range ys {
		if y > latest {
			latest = y
		}
	}
	return latest
}
