package models

// GuideSummary is the per-guide line of a run report.
type GuideSummary struct {
	Name     string
	Status   string
	Records  int
	Token    string
	ErrorMsg string
}

// RunReport holds the computed figures over a market's published dataset.
type RunReport struct {
	Market          string
	RunID           string
	State           string
	TotalListings   int
	Guides          []GuideSummary
	ListingsByGuide map[string]int
	AmenityCounts   map[string]int
	MissingCoords   int
	MissingAddress  int
}
