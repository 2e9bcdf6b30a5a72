// Package live extracts guide listings from published guide pages.
package live

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

var imageIDPattern = regexp.MustCompile(`/(\d{6,})/`)

// Selectors for the page structure.
const (
	placeSelector       = ".place"
	headingSelector     = "h2, h3"
	addressSelector     = ".place-address"
	descriptionSelector = ".place-description"
	labelsSelector      = ".place-labels li, .place-labels span"
	detailsSelector     = ".place-details"
)

// detailField ties a details label to the record field it fills.
type detailField struct {
	label string
	link  bool
	set   func(*models.ListingRecord, string)
}

var detailFields = []detailField{
	{"Payment", false, func(r *models.ListingRecord, v string) { r.Payment = v }},
	{"Drinks", false, func(r *models.ListingRecord, v string) { r.Drinks = v }},
	{"Hours", false, func(r *models.ListingRecord, v string) { r.Hours = v }},
	{"Phone", false, func(r *models.ListingRecord, v string) { r.Phone = v }},
	{"Website", true, func(r *models.ListingRecord, v string) { r.Website = v }},
	{"Order online", true, func(r *models.ListingRecord, v string) { r.OrderOnline = v }},
	{"Related coverage", true, func(r *models.ListingRecord, v string) { r.RelatedStory = v }},
	{"Full review", true, func(r *models.ListingRecord, v string) { r.ReviewLink = v }},
}

// Page is a parsed guide page.
type Page struct {
	Token   string
	Records []models.ListingRecord
}

// ParsePage reads every place block of a guide page. Blocks without a name
// or an id are dropped with a warning; every other defect yields an empty
// field.
func ParsePage(body []byte, guide models.Guide, logger *utils.Logger) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", guide.Name, err)
	}

	page := &Page{Token: PageToken(doc)}
	doc.Find(placeSelector).Each(func(i int, block *goquery.Selection) {
		rec, reason := parsePlace(block, guide)
		if reason != "" {
			logger.Warn("%s: skipping place #%d: %s", guide.Name, i+1, reason)
			return
		}
		page.Records = append(page.Records, rec)
	})
	return page, nil
}

// PageToken prefers the page's own modification metadata and falls back to
// a digest of the place markup.
func PageToken(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="article:modified_time"]`, `meta[name="last-modified"]`} {
		if v := strings.TrimSpace(doc.Find(sel).First().AttrOr("content", "")); v != "" {
			return v
		}
	}
	h := sha256.New()
	doc.Find(placeSelector).Each(func(_ int, block *goquery.Selection) {
		html, err := goquery.OuterHtml(block)
		if err == nil {
			h.Write([]byte(html))
		}
	})
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func parsePlace(block *goquery.Selection, guide models.Guide) (models.ListingRecord, string) {
	name := utils.NormaliseText(block.Find(headingSelector).First().Text())
	if name == "" {
		return models.ListingRecord{}, "no heading"
	}
	id := strings.TrimSpace(block.AttrOr("id", ""))
	if id == "" {
		return models.ListingRecord{}, fmt.Sprintf("%q has no id", name)
	}

	rec := models.ListingRecord{
		ListingID:      id,
		DisplayName:    name,
		Location:       utils.NormaliseText(block.Find(addressSelector).First().Text()),
		Lat:            strings.TrimSpace(block.AttrOr("data-lat", "")),
		Lng:            strings.TrimSpace(block.AttrOr("data-lng", "")),
		GuideName:      guide.Name,
		SourceSheetURL: guide.SourceURL,
		LiveLink:       guide.SourceURL,
	}
	if rec.Location == "" {
		rec.Location = models.AddressUnavailable
	}

	if desc := block.Find(descriptionSelector).First(); desc.Length() > 0 {
		if html, err := desc.Html(); err == nil {
			rec.RichText = strings.TrimSpace(html)
		}
		rec.PlainText = utils.NormaliseText(desc.Text())
	}

	var ids, alts, credits []string
	block.Find("img").Each(func(_ int, img *goquery.Selection) {
		m := imageIDPattern.FindStringSubmatch(img.AttrOr("src", ""))
		if m == nil {
			return
		}
		ids = append(ids, m[1])
		alts = append(alts, strings.TrimSpace(img.AttrOr("alt", "")))
		credit := img.Closest("figure").Find(".credit, figcaption").First().Text()
		credits = append(credits, utils.NormaliseText(credit))
	})
	rec.ImageIDs = strings.Join(ids, models.ListSeparator)
	rec.ImageAlts = strings.Join(alts, models.ListSeparator)
	rec.ImageCredits = strings.Join(credits, models.ListSeparator)

	var labels []string
	block.Find(labelsSelector).Each(func(_ int, l *goquery.Selection) {
		labels = append(labels, utils.NormaliseText(l.Text()))
	})
	rec.Amenities = models.AmenitiesFromLabels(labels)

	details := block.Find(detailsSelector).First()
	for _, f := range detailFields {
		f.set(&rec, detailValue(details, f.label, f.link))
	}
	return rec, ""
}

// detailValue finds the first element whose text is label and reads its
// next sibling: the href for link fields, the text otherwise.
func detailValue(details *goquery.Selection, label string, link bool) string {
	if details.Length() == 0 {
		return ""
	}
	var value *goquery.Selection
	details.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !labelMatches(el.Text(), label) {
			return true
		}
		value = el.Next()
		return false
	})
	if value == nil || value.Length() == 0 {
		return ""
	}
	if link {
		if href, ok := value.Attr("href"); ok {
			return strings.TrimSpace(href)
		}
		if href, ok := value.Find("a").First().Attr("href"); ok {
			return strings.TrimSpace(href)
		}
	}
	return utils.NormaliseText(value.Text())
}

func labelMatches(text, label string) bool {
	text = strings.TrimSuffix(utils.NormaliseText(text), ":")
	return strings.EqualFold(strings.TrimSpace(text), label)
}
