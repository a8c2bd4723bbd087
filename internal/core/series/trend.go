package series

import (
	"math"

	"github.com/shopspring/decimal"
)

// YoYChange is one year-over-year percentage step. Known is false when
// either side of the step has no reported data.
type YoYChange struct {
	Year    int             `json:"year"`
	Percent decimal.Decimal `json:"percent"`
	Known   bool            `json:"known"`
}

// YoYChanges computes the year-over-year percentage change for each
// consecutive pair in years (which must be ascending). Unlike the growth
// mode, a reported zero base is not NA here: a jump from 0 to anything
// positive reads as +100%, and 0 to 0 as flat.
func YoYChanges(s YearlySeries, years []int) []YoYChange {
	if len(years) < 2 {
		return nil
	}

	changes := make([]YoYChange, 0, len(years)-1)
	for i := 1; i < len(years); i++ {
		prevYear, curYear := years[i-1], years[i]
		change := YoYChange{Year: curYear}

		switch {
		case !s.Has(prevYear) || !s.Has(curYear):
			// leave Known false
		case s.Get(prevYear) == 0:
			change.Known = true
			if s.Get(curYear) > 0 {
				change.Percent = decimal.NewFromInt(100)
			}
		default:
			prev, cur := s.Get(prevYear), s.Get(curYear)
			change.Known = true
			change.Percent = decimal.NewFromInt(int64(cur - prev)).
				Div(decimal.NewFromInt(int64(prev))).
				Mul(decimal.NewFromInt(100)).
				Round(2)
		}

		changes = append(changes, change)
	}
	return changes
}

// CAGR computes the compound annual growth rate between two counts as a
// percentage, rounded to two decimals. Returns false when the rate is
// undefined (non-positive start, negative end, or a non-positive span).
func CAGR(startValue, endValue, years int) (decimal.Decimal, bool) {
	if startValue <= 0 || endValue < 0 || years <= 0 {
		return decimal.Zero, false
	}

	rate := (math.Pow(float64(endValue)/float64(startValue), 1/float64(years)) - 1) * 100
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(rate).Round(2), true
}
