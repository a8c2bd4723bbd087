package series

import (
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// Aggregation modes. Each collapses a yearly series to one display value.
const (
	ModeSingle  = "single"
	ModeSum     = "sum"
	ModeAverage = "average"
	ModeGrowth  = "growth"
	ModeMin     = "min"
	ModeMax     = "max"
)

const (
	defaultWindowSize = 3
	minWindowSize     = 2
	maxWindowSize     = 6
)

// Config selects the mode and window for one calculation.
type Config struct {
	// ReferenceYear is the year the value is computed "as of".
	// Must not precede EpochYear.
	ReferenceYear int `json:"reference_year"`

	// Mode is one of the Mode* constants.
	Mode string `json:"mode"`

	// WindowSize applies to sum/average/min/max only. Zero means the
	// default (3). Clamped to [2,6] and to the years actually available
	// since EpochYear.
	WindowSize int `json:"window_size,omitempty"`

	// SkipAbsentYears controls the min/max treatment of years with no
	// reported data. The legacy behavior (false) lets an absent year
	// compete as a zero count, which biases min toward "no report filed"
	// years. Set true to let only reported counts compete.
	SkipAbsentYears bool `json:"skip_absent_years,omitempty"`
}

// normalized applies the window default and clamps — first to [2,6], then
// so the implied start year never precedes EpochYear.
func (c Config) normalized() Config {
	n := c
	if n.WindowSize == 0 {
		n.WindowSize = defaultWindowSize
	}
	if n.WindowSize < minWindowSize {
		n.WindowSize = minWindowSize
	}
	if n.WindowSize > maxWindowSize {
		n.WindowSize = maxWindowSize
	}
	if available := n.ReferenceYear - EpochYear + 1; n.WindowSize > available {
		n.WindowSize = available
	}
	return n
}

// windowStart returns the first year of the rolling window, never below
// EpochYear.
func (c Config) windowStart() int {
	start := c.ReferenceYear - c.WindowSize + 1
	if start < EpochYear {
		start = EpochYear
	}
	return start
}

// CalculatedValue is the sole output of the engine. It carries the number
// and its presentation semantics so downstream consumers never re-derive
// them.
type CalculatedValue struct {
	Value           decimal.Decimal `json:"value"`
	IsNotApplicable bool            `json:"is_not_applicable"`
	Label           string          `json:"label,omitempty"`
	Prefix          string          `json:"prefix,omitempty"`
	Suffix          string          `json:"suffix,omitempty"`
}

// Calculator defines the semantics of one aggregation mode.
// To add a new mode: implement this interface and register it in Modes.
type Calculator interface {
	Calculate(s YearlySeries, cfg Config) CalculatedValue
}

// Modes is the registry of all supported aggregation modes.
var Modes = map[string]Calculator{
	ModeSingle:  singleMode{},
	ModeSum:     sumMode{},
	ModeAverage: averageMode{},
	ModeGrowth:  growthMode{},
	ModeMin:     extremumMode{pickMin: true},
	ModeMax:     extremumMode{pickMin: false},
}

// ValidMode reports whether mode is a registered aggregation mode.
func ValidMode(mode string) bool {
	_, ok := Modes[mode]
	return ok
}

// Calculate collapses a yearly series to one display value. Pure: the
// series is never mutated and identical inputs yield identical outputs.
// Errors only for a malformed config; data gaps surface as IsNotApplicable.
func Calculate(s YearlySeries, cfg Config) (CalculatedValue, error) {
	if cfg.ReferenceYear < EpochYear {
		return CalculatedValue{}, fmt.Errorf("reference year %d precedes epoch %d", cfg.ReferenceYear, EpochYear)
	}
	calc, ok := Modes[cfg.Mode]
	if !ok {
		return CalculatedValue{}, fmt.Errorf("unknown aggregation mode %q", cfg.Mode)
	}
	return calc.Calculate(s, cfg.normalized()), nil
}

// singleMode returns the count of the reference year. An absent year is a
// zero count, not NA.
type singleMode struct{}

func (singleMode) Calculate(s YearlySeries, cfg Config) CalculatedValue {
	return CalculatedValue{
		Value: decimal.NewFromInt(int64(s.Get(cfg.ReferenceYear))),
		Label: strconv.Itoa(cfg.ReferenceYear),
	}
}

// growthMode computes year-over-year change as a signed percentage.
// The sign travels in Prefix, the magnitude in Value.
type growthMode struct{}

func (growthMode) Calculate(s YearlySeries, cfg Config) CalculatedValue {
	// At the epoch year the base would sit below the epoch; it is treated
	// as absent even when the caller's series carries pre-epoch entries.
	prev := 0
	if cfg.ReferenceYear > EpochYear {
		prev = s.Get(cfg.ReferenceYear - 1)
	}
	if prev == 0 {
		return CalculatedValue{
			Value:           decimal.Zero,
			IsNotApplicable: true,
			Suffix:          "%",
		}
	}

	cur := s.Get(cfg.ReferenceYear)
	pct := decimal.NewFromInt(int64(cur - prev)).
		Div(decimal.NewFromInt(int64(prev))).
		Mul(decimal.NewFromInt(100)).
		Round(2)

	prefix := "+"
	if pct.IsNegative() {
		prefix = "-"
	}

	return CalculatedValue{
		Value:  pct.Abs(),
		Prefix: prefix,
		Suffix: "%",
	}
}

// sumMode totals the rolling window. Absent years contribute zero.
type sumMode struct{}

func (sumMode) Calculate(s YearlySeries, cfg Config) CalculatedValue {
	total := 0
	for y := cfg.windowStart(); y <= cfg.ReferenceYear; y++ {
		total += s.Get(y)
	}
	return CalculatedValue{Value: decimal.NewFromInt(int64(total))}
}

// averageMode divides the window total by the number of iterated years —
// not the nominal window size — so an epoch-clamped window still averages
// correctly. Rounded to the nearest integer.
type averageMode struct{}

func (averageMode) Calculate(s YearlySeries, cfg Config) CalculatedValue {
	total := 0
	years := 0
	for y := cfg.windowStart(); y <= cfg.ReferenceYear; y++ {
		total += s.Get(y)
		years++
	}
	avg := decimal.NewFromInt(int64(total)).
		Div(decimal.NewFromInt(int64(years))).
		Round(0)
	return CalculatedValue{Value: avg}
}

// extremumMode picks the year with the least (or greatest) count in the
// window, ascending iteration, ties broken by the earliest year. With
// SkipAbsentYears false an unreported year competes as a zero count, so
// min is biased toward "no report filed" years.
type extremumMode struct {
	pickMin bool
}

func (m extremumMode) Calculate(s YearlySeries, cfg Config) CalculatedValue {
	var (
		best     int
		bestYear int
		found    bool
	)

	for y := cfg.windowStart(); y <= cfg.ReferenceYear; y++ {
		if cfg.SkipAbsentYears && !s.Has(y) {
			continue
		}
		v := s.Get(y)
		switch {
		case !found:
			best, bestYear, found = v, y, true
		case m.pickMin && v < best:
			best, bestYear = v, y
		case !m.pickMin && v > best:
			best, bestYear = v, y
		}
	}

	if !found {
		return CalculatedValue{Value: decimal.Zero, IsNotApplicable: true}
	}

	return CalculatedValue{
		Value: decimal.NewFromInt(int64(best)),
		Label: strconv.Itoa(bestYear),
	}
}
