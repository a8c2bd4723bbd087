package series

// EpochYear is the earliest year the system tracks data for. Window
// bounds and growth lookbacks never reach below it.
const EpochYear = 2020

// YearlySeries maps year → count. An absent year means "no data reported",
// which is not the same thing as a reported zero — see Config.SkipAbsentYears.
// The engine never mutates a series.
type YearlySeries map[int]int

// Get returns the count for year y, treating an absent year as 0.
func (s YearlySeries) Get(y int) int {
	return s[y]
}

// Has reports whether year y has reported data.
func (s YearlySeries) Has(y int) bool {
	_, ok := s[y]
	return ok
}

// Years returns the number of years with reported data.
func (s YearlySeries) Years() int {
	return len(s)
}
