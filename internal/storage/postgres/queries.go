package postgres

// SQL queries for the crime record archive

const (
	// queryUpsertRecord inserts one (scope_key, offense, year) cell.
	// Re-acquisition overwrites the stored count: the upstream provider is
	// the source of truth and local rows are a replaceable archive.
	queryUpsertRecord = `
		INSERT INTO crime_records (scope_key, offense, year, count, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (scope_key, offense, year)
		DO UPDATE SET count = EXCLUDED.count, updated_at = NOW()
	`

	// querySeriesFor fetches the archived yearly series for one
	// (scope_key, offense) pair, oldest year first.
	querySeriesFor = `
		SELECT year, count
		FROM crime_records
		WHERE scope_key = $1
		  AND offense = $2
		ORDER BY year ASC
	`
)
