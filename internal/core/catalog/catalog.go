package catalog

import "fmt"

// Category is the fixed 3-way partition of tracked offenses.
type Category string

const (
	CategoryViolent    Category = "violent"
	CategoryProperty   Category = "property"
	CategoryIndividual Category = "individual"
)

// ValidCategory reports whether c is a recognized category tag.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryViolent, CategoryProperty, CategoryIndividual:
		return true
	}
	return false
}

// Offense is one static catalog entry. The catalog is process-wide,
// read-only, and loaded once.
type Offense struct {
	Code     string   `yaml:"code" json:"code"`
	Label    string   `yaml:"label" json:"label"`
	Category Category `yaml:"category" json:"category"`
}

// builtin is the selected set of offense types tracked for extraction,
// in acquisition order. Order is part of the contract: the sequencer
// iterates it deterministically and progress events follow it.
var builtin = []Offense{
	// Violent offenses — personal safety.
	{Code: "HOM", Label: "Homicide", Category: CategoryViolent},
	{Code: "RPE", Label: "Rape", Category: CategoryViolent},
	{Code: "ROB", Label: "Robbery", Category: CategoryViolent},
	{Code: "ASS", Label: "Aggravated Assault", Category: CategoryViolent},
	{Code: "100", Label: "Kidnapping/Abduction", Category: CategoryViolent},

	// Property offenses — home and vehicle security.
	{Code: "BUR", Label: "Burglary", Category: CategoryProperty},
	{Code: "LAR", Label: "Larceny-theft", Category: CategoryProperty},
	{Code: "MVT", Label: "Motor Vehicle Theft", Category: CategoryProperty},
	{Code: "ARS", Label: "Arson", Category: CategoryProperty},
	{Code: "23D", Label: "Theft From Building", Category: CategoryProperty},

	// Neighborhood safety offenses — quality of life.
	{Code: "13B", Label: "Simple Assault", Category: CategoryIndividual},
	{Code: "11A", Label: "Sex Offenses", Category: CategoryIndividual},
	{Code: "280", Label: "Stolen Property Offenses", Category: CategoryIndividual},
	{Code: "290", Label: "Vandalism", Category: CategoryIndividual},
	{Code: "520", Label: "Weapon Law Violations", Category: CategoryIndividual},
	{Code: "35A", Label: "Drug/Narcotic Violations", Category: CategoryIndividual},
}

// ExtractionYears returns the default year range requested per offense:
// five consecutive years, enough for trend analysis.
func ExtractionYears() []int {
	return []int{2020, 2021, 2022, 2023, 2024}
}

// RecentExtractionYears returns the most recent n extraction years,
// clamped to the full range.
func RecentExtractionYears(n int) []int {
	years := ExtractionYears()
	if n <= 0 || n >= len(years) {
		return years
	}
	return years[len(years)-n:]
}

// Catalog is an ordered, immutable set of offenses with code lookups.
type Catalog struct {
	offenses []Offense
	byCode   map[string]Offense
}

// Default returns the builtin catalog.
func Default() *Catalog {
	c, err := New(builtin)
	if err != nil {
		// builtin is a compile-time constant; a failure here is a programmer error.
		panic(err)
	}
	return c
}

// New builds a catalog from an explicit offense list, validating codes,
// labels, categories and uniqueness.
func New(offenses []Offense) (*Catalog, error) {
	if len(offenses) == 0 {
		return nil, fmt.Errorf("offense catalog must not be empty")
	}

	byCode := make(map[string]Offense, len(offenses))
	ordered := make([]Offense, 0, len(offenses))
	for _, o := range offenses {
		if o.Code == "" {
			return nil, fmt.Errorf("offense code must not be empty")
		}
		if o.Label == "" {
			return nil, fmt.Errorf("offense %q: label must not be empty", o.Code)
		}
		if !ValidCategory(o.Category) {
			return nil, fmt.Errorf("offense %q: unknown category %q", o.Code, o.Category)
		}
		if _, exists := byCode[o.Code]; exists {
			return nil, fmt.Errorf("offense %q: duplicate code", o.Code)
		}
		byCode[o.Code] = o
		ordered = append(ordered, o)
	}

	return &Catalog{offenses: ordered, byCode: byCode}, nil
}

// Offenses returns all entries in catalog order. The returned slice is a copy.
func (c *Catalog) Offenses() []Offense {
	out := make([]Offense, len(c.offenses))
	copy(out, c.offenses)
	return out
}

// Codes returns all offense codes in catalog order.
func (c *Catalog) Codes() []string {
	codes := make([]string, len(c.offenses))
	for i, o := range c.offenses {
		codes[i] = o.Code
	}
	return codes
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.offenses)
}

// Get returns the offense with the given code.
func (c *Catalog) Get(code string) (Offense, bool) {
	o, ok := c.byCode[code]
	return o, ok
}

// LabelFor returns the human label for code, or the code itself when unknown.
func (c *Catalog) LabelFor(code string) string {
	if o, ok := c.byCode[code]; ok {
		return o.Label
	}
	return code
}

// IsValid reports whether code is in the catalog.
func (c *Catalog) IsValid(code string) bool {
	_, ok := c.byCode[code]
	return ok
}

// ByCategory returns all offenses with the given category, in catalog order.
func (c *Catalog) ByCategory(cat Category) []Offense {
	var out []Offense
	for _, o := range c.offenses {
		if o.Category == cat {
			out = append(out, o)
		}
	}
	return out
}

// Subset resolves a list of requested codes against the catalog, returning
// the matching offenses in catalog order regardless of request order.
// An unknown code is an error — requests are rejected before any network
// activity rather than silently narrowed.
func (c *Catalog) Subset(codes []string) ([]Offense, error) {
	if len(codes) == 0 {
		return c.Offenses(), nil
	}

	requested := make(map[string]bool, len(codes))
	for _, code := range codes {
		if !c.IsValid(code) {
			return nil, fmt.Errorf("unknown offense code %q", code)
		}
		requested[code] = true
	}

	out := make([]Offense, 0, len(requested))
	for _, o := range c.offenses {
		if requested[o.Code] {
			out = append(out, o)
		}
	}
	return out, nil
}
