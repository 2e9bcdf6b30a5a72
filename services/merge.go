package services

import (
	"sort"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

// MergeInput is everything the merge needs from one run.
type MergeInput struct {
	// Previous is the aggregate published by the last successful run.
	Previous []models.ListingRecord
	// Fresh holds the cleaned records of each reprocessed guide.
	Fresh map[string][]models.ListingRecord
	// Reprocessed names the guides in Fresh, in directory order.
	Reprocessed []string
	// Retired names guides whose records must be dropped.
	Retired []string
}

// Merge builds the next aggregate: previous records of reprocessed and
// retired guides are replaced by the fresh records, then the result is
// stable-sorted by display name and deduplicated by listing id, keeping the
// first occurrence. Records without a name or a listing id are dropped.
func Merge(in MergeInput, logger *utils.Logger) []models.ListingRecord {
	logger = logger.With("merge")

	drop := make(map[string]struct{}, len(in.Reprocessed)+len(in.Retired))
	for _, g := range in.Reprocessed {
		drop[g] = struct{}{}
	}
	for _, g := range in.Retired {
		drop[g] = struct{}{}
	}

	merged := make([]models.ListingRecord, 0, len(in.Previous))
	for _, r := range in.Previous {
		if _, ok := drop[r.GuideName]; ok {
			continue
		}
		merged = append(merged, r)
	}
	for _, g := range in.Reprocessed {
		merged = append(merged, in.Fresh[g]...)
	}

	kept := merged[:0]
	for _, r := range merged {
		if r.DisplayName == "" {
			logger.Warn("dropping listing %q from %s: empty display name", r.ListingID, r.GuideName)
			continue
		}
		if r.ListingID == "" {
			logger.Warn("dropping %q from %s: no listing id", r.DisplayName, r.GuideName)
			continue
		}
		kept = append(kept, r)
	}
	merged = kept

	SortListings(merged)

	seen := make(map[string]string, len(merged))
	out := make([]models.ListingRecord, 0, len(merged))
	for _, r := range merged {
		if owner, dup := seen[r.ListingID]; dup {
			logger.Warn("duplicate listing id %q: keeping %s's entry, dropping %q from %s",
				r.ListingID, owner, r.DisplayName, r.GuideName)
			continue
		}
		seen[r.ListingID] = r.GuideName
		out = append(out, r)
	}
	return out
}

// SortListings orders records by NFC-normalised display name in codepoint
// order. The sort is stable.
func SortListings(recs []models.ListingRecord) {
	keys := make(map[string]string, len(recs))
	key := func(s string) string {
		k, ok := keys[s]
		if !ok {
			k = utils.SortKey(s)
			keys[s] = k
		}
		return k
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return key(recs[i].DisplayName) < key(recs[j].DisplayName)
	})
}

// IsSorted reports whether recs satisfy SortListings' order.
func IsSorted(recs []models.ListingRecord) bool {
	for i := 1; i < len(recs); i++ {
		if utils.SortKey(recs[i].DisplayName) < utils.SortKey(recs[i-1].DisplayName) {
			return false
		}
	}
	return true
}
