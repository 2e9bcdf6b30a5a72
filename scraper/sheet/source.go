// Package sheet extracts guide listings from per-guide spreadsheets laid out
// as three tabs: listings, nav and story_settings.
package sheet

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"guide-aggregator/models"
	"guide-aggregator/storage"
	"guide-aggregator/utils"
)

const (
	// PlaceholderName marks the template's example row.
	PlaceholderName = "Name that will be displayed"
	// DefaultLiveLinkTemplate builds a guide's public URL.
	DefaultLiveLinkTemplate = "https://www.sfchronicle.com/{year}/{slug}"

	colLabels    = "Labels"
	colSlug      = "Slug"
	colYear      = "Year"
	colTokenDate = "LastModDate_C2P"

	cellRange = "!A1:Z1000"
)

// Options name the guide tabs and the live link template.
type Options struct {
	ListingsTab      string
	NavTab           string
	SettingsTab      string
	LiveLinkTemplate string
}

func (o Options) withDefaults() Options {
	if o.ListingsTab == "" {
		o.ListingsTab = "listings"
	}
	if o.NavTab == "" {
		o.NavTab = "nav"
	}
	if o.SettingsTab == "" {
		o.SettingsTab = "story_settings"
	}
	if o.LiveLinkTemplate == "" {
		o.LiveLinkTemplate = DefaultLiveLinkTemplate
	}
	return o
}

// bundle is one batched read of a guide's three tabs.
type bundle struct {
	listings [][]string
	nav      [][]string
	settings [][]string
}

// Source reads guide spreadsheets from a DocumentStore. The bundle fetched
// for a token check is kept until the guide is extracted, so the records
// always match the token that was classified.
type Source struct {
	store  storage.DocumentStore
	opts   Options
	logger *utils.Logger

	mu    sync.Mutex
	cache map[string]*bundle
}

// New creates a Source.
func New(store storage.DocumentStore, opts Options, logger *utils.Logger) *Source {
	return &Source{
		store:  store,
		opts:   opts.withDefaults(),
		logger: logger.With("sheet"),
		cache:  make(map[string]*bundle),
	}
}

// Token returns the guide's LastModDate_C2P value. Guides without one get a
// digest of their listings tab instead.
func (s *Source) Token(ctx context.Context, guide models.Guide) (string, error) {
	b, err := s.fetch(ctx, guide)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.cache[guide.SourceURL] = b
	s.mu.Unlock()

	settings := storySettings(b.settings)
	if tok := settings[colTokenDate]; tok != "" {
		return tok, nil
	}
	s.logger.Warn("%s: no %s in %s, using listings digest", guide.Name, colTokenDate, s.opts.SettingsTab)
	return digestRows(b.listings), nil
}

// Extract returns the guide's records, reusing the bundle read by Token.
func (s *Source) Extract(ctx context.Context, guide models.Guide) ([]models.ListingRecord, error) {
	s.mu.Lock()
	b, ok := s.cache[guide.SourceURL]
	delete(s.cache, guide.SourceURL)
	s.mu.Unlock()

	if !ok {
		var err error
		if b, err = s.fetch(ctx, guide); err != nil {
			return nil, err
		}
	}
	return s.records(guide, b), nil
}

// Forget drops a cached bundle for a guide that will not be extracted.
func (s *Source) Forget(guide models.Guide) {
	s.mu.Lock()
	delete(s.cache, guide.SourceURL)
	s.mu.Unlock()
}

func (s *Source) fetch(ctx context.Context, guide models.Guide) (*bundle, error) {
	doc, err := s.store.Open(ctx, guide.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("open guide %s: %w", guide.Name, err)
	}
	tabs := []string{s.opts.ListingsTab, s.opts.NavTab, s.opts.SettingsTab}
	ranges := make([]string, len(tabs))
	for i, tab := range tabs {
		ranges[i] = tab + cellRange
	}
	tables, err := doc.BatchRows(ctx, ranges)
	if errors.Is(err, storage.ErrTabNotFound) {
		tables, err = s.readEach(ctx, guide, doc, tabs)
	}
	if err != nil {
		return nil, fmt.Errorf("read guide %s: %w", guide.Name, err)
	}
	return &bundle{listings: tables[0], nav: tables[1], settings: tables[2]}, nil
}

// readEach reads the tabs one by one. Only the first (listings) tab is
// required; any other missing tab reads as empty.
func (s *Source) readEach(ctx context.Context, guide models.Guide, doc storage.Document, tabs []string) ([][][]string, error) {
	out := make([][][]string, len(tabs))
	for i, tab := range tabs {
		rows, err := doc.BatchRows(ctx, []string{tab + cellRange})
		switch {
		case err == nil:
			out[i] = rows[0]
		case i > 0 && errors.Is(err, storage.ErrTabNotFound):
			s.logger.Warn("%s: no %s tab, reading it as empty", guide.Name, tab)
		default:
			return nil, err
		}
	}
	return out, nil
}

func (s *Source) records(guide models.Guide, b *bundle) []models.ListingRecord {
	if len(b.listings) == 0 {
		s.logger.Warn("%s: %s tab is empty", guide.Name, s.opts.ListingsTab)
		return nil
	}
	header := models.NewHeader(b.listings[0])
	coords := navCoordinates(b.nav)
	liveLink := s.liveLink(storySettings(b.settings))

	out := make([]models.ListingRecord, 0, len(b.listings)-1)
	for _, row := range b.listings[1:] {
		if isBlankRow(row) {
			continue
		}
		rec := models.ListingRecord{
			ListingID:      header.Value(row, models.ColListingID),
			DisplayName:    header.Value(row, models.ColDisplayName),
			Location:       header.Value(row, models.ColLocation),
			RichText:       header.Raw(row, models.ColText),
			Amenities:      amenities(header, row),
			Website:        header.Value(row, models.ColWebsite),
			OrderOnline:    header.Value(row, models.ColOrderOnline),
			RelatedStory:   header.Value(row, models.ColRelatedStory),
			ReviewLink:     header.Value(row, models.ColReviewLink),
			Payment:        header.Value(row, models.ColPayment),
			Drinks:         header.Value(row, models.ColDrinks),
			Hours:          header.Value(row, models.ColHours),
			Phone:          header.Value(row, models.ColPhone),
			ImageIDs:       header.Value(row, models.ColImageIDs),
			ImageAlts:      header.Value(row, models.ColImageAlts),
			ImageCredits:   header.Value(row, models.ColImageCredits),
			GuideName:      guide.Name,
			SourceSheetURL: guide.SourceURL,
			LiveLink:       liveLink,
		}
		rec.PlainText = utils.StripTags(rec.RichText)
		if c, ok := coords[rec.ListingID]; ok {
			rec.Lat, rec.Lng = c.lat, c.lng
		} else {
			rec.Lat = header.Value(row, models.ColLat)
			rec.Lng = header.Value(row, models.ColLng)
		}
		out = append(out, rec)
	}
	s.logger.Debug("%s: read %d rows", guide.Name, len(out))
	return out
}

func (s *Source) liveLink(settings map[string]string) string {
	year, slug := settings[colYear], settings[colSlug]
	if year == "" || slug == "" {
		return ""
	}
	return strings.NewReplacer("{year}", year, "{slug}", slug).Replace(s.opts.LiveLinkTemplate)
}

// amenities reads the Labels column when present and ORs in any explicit
// boolean columns.
func amenities(header models.Header, row []string) models.Amenities {
	var a models.Amenities
	if header.Has(colLabels) {
		a = models.AmenitiesFromLabels(SplitLabels(header.Value(row, colLabels)))
	}
	flag := func(col string) bool { return models.ParseBool(header.Value(row, col)) }
	a.Takeout = a.Takeout || flag(models.ColTakeout)
	a.Delivery = a.Delivery || flag(models.ColDelivery)
	a.OutdoorSeating = a.OutdoorSeating || flag(models.ColOutdoorSeating)
	a.IndoorDining = a.IndoorDining || flag(models.ColIndoorDining)
	a.Reservations = a.Reservations || flag(models.ColReservations)
	a.VegetarianFriendly = a.VegetarianFriendly || flag(models.ColVegetarianFriendly)
	return a
}

// SplitLabels splits a comma or semicolon separated label cell.
func SplitLabels(cell string) []string {
	parts := strings.FieldsFunc(cell, func(r rune) bool { return r == ',' || r == ';' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type coord struct{ lat, lng string }

// navCoordinates indexes the nav tab's Lat/Lng by Listing_Id. The nav tab's
// own Display_Name and Location are never read; the first row per id wins.
func navCoordinates(nav [][]string) map[string]coord {
	out := make(map[string]coord)
	if len(nav) == 0 {
		return out
	}
	header := models.NewHeader(nav[0])
	if !header.Has(models.ColListingID) {
		return out
	}
	for _, row := range nav[1:] {
		id := header.Value(row, models.ColListingID)
		if id == "" {
			continue
		}
		if _, seen := out[id]; seen {
			continue
		}
		out[id] = coord{lat: header.Value(row, models.ColLat), lng: header.Value(row, models.ColLng)}
	}
	return out
}

// storySettings reads the single data row directly below the header.
func storySettings(rows [][]string) map[string]string {
	out := make(map[string]string)
	if len(rows) < 2 {
		return out
	}
	header := models.NewHeader(rows[0])
	for _, name := range []string{colSlug, colYear, colTokenDate} {
		out[name] = header.Value(rows[1], name)
	}
	return out
}

func digestRows(rows [][]string) string {
	h := sha256.New()
	for _, row := range rows {
		h.Write([]byte(strings.Join(row, "\x1f")))
		h.Write([]byte{'\n'})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func isBlankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
