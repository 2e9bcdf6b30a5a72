package services

import (
	"strings"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

// PlaceholderName is the template's example row label; rows whose name
// contains it are never real places.
const PlaceholderName = "Name that will be displayed"

// Cleaner validates one guide's extracted records before they are merged.
type Cleaner struct {
	logger *utils.Logger
}

// NewCleaner creates a Cleaner with the given logger.
func NewCleaner(logger *utils.Logger) *Cleaner {
	return &Cleaner{logger: logger.With("cleaner")}
}

// Clean drops nameless, placeholder and id-less rows, removes duplicate
// listing ids within the guide and stamps provenance. The first occurrence
// of an id wins.
func (c *Cleaner) Clean(guide models.Guide, raw []models.ListingRecord) []models.ListingRecord {
	seen := make(map[string]struct{}, len(raw))
	result := make([]models.ListingRecord, 0, len(raw))
	var empty, placeholder, noID, dups int

	for _, r := range raw {
		r.DisplayName = utils.NormaliseText(r.DisplayName)
		r.ListingID = strings.TrimSpace(r.ListingID)
		r.Location = utils.NormaliseText(r.Location)

		switch {
		case r.DisplayName == "":
			empty++
			continue
		case strings.Contains(r.DisplayName, PlaceholderName):
			placeholder++
			continue
		case r.ListingID == "":
			noID++
			c.logger.Warn("%s: listing %q has no %s, skipped", guide.Name, r.DisplayName, models.ColListingID)
			continue
		}

		if _, dup := seen[r.ListingID]; dup {
			dups++
			c.logger.Warn("%s: duplicate listing id %q (%s) skipped", guide.Name, r.ListingID, r.DisplayName)
			continue
		}
		seen[r.ListingID] = struct{}{}

		r.GuideName = guide.Name
		if r.SourceSheetURL == "" {
			r.SourceSheetURL = guide.SourceURL
		}
		result = append(result, r)
	}

	if empty+placeholder > 0 {
		c.logger.Warn("%s: dropped %d rows without a name and %d placeholder rows", guide.Name, empty, placeholder)
	}
	c.logger.Debug("%s: cleaned %d → %d listings (%d without id, %d duplicates)",
		guide.Name, len(raw), len(result), noID, dups)
	return result
}
