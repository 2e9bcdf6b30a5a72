package models

import (
	"strings"
)

// Published column names, in order. The database tab header is exactly this row.
const (
	ColListingID          = "Listing_Id"
	ColDisplayName        = "Display_Name"
	ColLocation           = "Location"
	ColText               = "Text"
	ColPlainText          = "Plain_Text"
	ColTakeout            = "Takeout"
	ColDelivery           = "Delivery"
	ColOutdoorSeating     = "Outdoor_Seating"
	ColIndoorDining       = "Indoor_Dining"
	ColReservations       = "Reservations"
	ColVegetarianFriendly = "Vegetarian_Friendly"
	ColWebsite            = "Website"
	ColOrderOnline        = "Order_Online"
	ColRelatedStory       = "Related_Story"
	ColReviewLink         = "Review_Link"
	ColPayment            = "Payment"
	ColDrinks             = "Drinks"
	ColHours              = "Hours"
	ColPhone              = "Phone"
	ColImageIDs           = "Image_Ids"
	ColImageAlts          = "Image_Alts"
	ColImageCredits       = "Image_Credits"
	ColLat                = "Lat"
	ColLng                = "Lng"
	ColGuideName          = "Guide name"
	ColSourceSheet        = "C2P_Sheet"
	ColLiveURL            = "live_url"
)

// Columns is the fixed schema of the aggregate dataset.
var Columns = []string{
	ColListingID, ColDisplayName, ColLocation, ColText, ColPlainText,
	ColTakeout, ColDelivery, ColOutdoorSeating, ColIndoorDining, ColReservations, ColVegetarianFriendly,
	ColWebsite, ColOrderOnline, ColRelatedStory, ColReviewLink,
	ColPayment, ColDrinks, ColHours, ColPhone,
	ColImageIDs, ColImageAlts, ColImageCredits,
	ColLat, ColLng, ColGuideName, ColSourceSheet, ColLiveURL,
}

// AddressUnavailable fills Location for places published without an address.
const AddressUnavailable = "Address unavailable"

// ListSeparator joins the parallel image lists into single cells.
const ListSeparator = " | "

// Amenity labels recognised by exact membership. Anything else in a guide's
// label list is ignored.
const (
	LabelTakeout            = "Takeout"
	LabelDelivery           = "Delivery"
	LabelOutdoorSeating     = "Outdoor seating"
	LabelIndoorDining       = "Indoor dining"
	LabelReservations       = "Reservations"
	LabelVegetarianFriendly = "Vegetarian-friendly"
)

// Amenities is the set of boolean flags derived from capability labels.
type Amenities struct {
	Takeout            bool `json:"takeout"`
	Delivery           bool `json:"delivery"`
	OutdoorSeating     bool `json:"outdoor_seating"`
	IndoorDining       bool `json:"indoor_dining"`
	Reservations       bool `json:"reservations"`
	VegetarianFriendly bool `json:"vegetarian_friendly"`
}

// AmenitiesFromLabels tests each label for exact membership in the vocabulary.
func AmenitiesFromLabels(labels []string) Amenities {
	set := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		set[strings.TrimSpace(l)] = struct{}{}
	}
	has := func(label string) bool {
		_, ok := set[label]
		return ok
	}
	return Amenities{
		Takeout:            has(LabelTakeout),
		Delivery:           has(LabelDelivery),
		OutdoorSeating:     has(LabelOutdoorSeating),
		IndoorDining:       has(LabelIndoorDining),
		Reservations:       has(LabelReservations),
		VegetarianFriendly: has(LabelVegetarianFriendly),
	}
}

// Count returns how many flags are set.
func (a Amenities) Count() int {
	n := 0
	for _, v := range []bool{a.Takeout, a.Delivery, a.OutdoorSeating, a.IndoorDining, a.Reservations, a.VegetarianFriendly} {
		if v {
			n++
		}
	}
	return n
}

// ListingRecord is one normalized place entry of a guide.
type ListingRecord struct {
	ListingID   string `json:"listing_id"`
	DisplayName string `json:"display_name"`
	Location    string `json:"location"`
	RichText    string `json:"rich_text"`
	PlainText   string `json:"plain_text"`

	Amenities

	Website      string `json:"website,omitempty"`
	OrderOnline  string `json:"order_online,omitempty"`
	RelatedStory string `json:"related_story,omitempty"`
	ReviewLink   string `json:"review_link,omitempty"`

	Payment string `json:"payment,omitempty"`
	Drinks  string `json:"drinks,omitempty"`
	Hours   string `json:"hours,omitempty"`
	Phone   string `json:"phone,omitempty"`

	ImageIDs     string `json:"image_ids,omitempty"`
	ImageAlts    string `json:"image_alts,omitempty"`
	ImageCredits string `json:"image_credits,omitempty"`

	Lat string `json:"lat,omitempty"`
	Lng string `json:"lng,omitempty"`

	GuideName      string `json:"guide_name"`
	SourceSheetURL string `json:"source_sheet_url"`
	LiveLink       string `json:"live_link"`
}

// Row renders the record in Columns order.
func (r ListingRecord) Row() []string {
	return []string{
		r.ListingID, r.DisplayName, r.Location, r.RichText, r.PlainText,
		formatBool(r.Takeout), formatBool(r.Delivery), formatBool(r.OutdoorSeating),
		formatBool(r.IndoorDining), formatBool(r.Reservations), formatBool(r.VegetarianFriendly),
		r.Website, r.OrderOnline, r.RelatedStory, r.ReviewLink,
		r.Payment, r.Drinks, r.Hours, r.Phone,
		r.ImageIDs, r.ImageAlts, r.ImageCredits,
		r.Lat, r.Lng, r.GuideName, r.SourceSheetURL, r.LiveLink,
	}
}

// Rows renders a header row followed by one row per record.
func Rows(records []ListingRecord) [][]string {
	out := make([][]string, 0, len(records)+1)
	header := make([]string, len(Columns))
	copy(header, Columns)
	out = append(out, header)
	for _, r := range records {
		out = append(out, r.Row())
	}
	return out
}

// RecordFromRow rebuilds a record from a published row. Columns missing from
// header are left empty.
func RecordFromRow(header Header, row []string) ListingRecord {
	get := func(name string) string { return header.Raw(row, name) }
	return ListingRecord{
		ListingID:   get(ColListingID),
		DisplayName: get(ColDisplayName),
		Location:    get(ColLocation),
		RichText:    get(ColText),
		PlainText:   get(ColPlainText),
		Amenities: Amenities{
			Takeout:            ParseBool(get(ColTakeout)),
			Delivery:           ParseBool(get(ColDelivery)),
			OutdoorSeating:     ParseBool(get(ColOutdoorSeating)),
			IndoorDining:       ParseBool(get(ColIndoorDining)),
			Reservations:       ParseBool(get(ColReservations)),
			VegetarianFriendly: ParseBool(get(ColVegetarianFriendly)),
		},
		Website:        get(ColWebsite),
		OrderOnline:    get(ColOrderOnline),
		RelatedStory:   get(ColRelatedStory),
		ReviewLink:     get(ColReviewLink),
		Payment:        get(ColPayment),
		Drinks:         get(ColDrinks),
		Hours:          get(ColHours),
		Phone:          get(ColPhone),
		ImageIDs:       get(ColImageIDs),
		ImageAlts:      get(ColImageAlts),
		ImageCredits:   get(ColImageCredits),
		Lat:            get(ColLat),
		Lng:            get(ColLng),
		GuideName:      get(ColGuideName),
		SourceSheetURL: get(ColSourceSheet),
		LiveLink:       get(ColLiveURL),
	}
}

// RecordsFromTable parses a published tab (header row first) back into records.
func RecordsFromTable(rows [][]string) []ListingRecord {
	if len(rows) == 0 {
		return nil
	}
	header := NewHeader(rows[0])
	out := make([]ListingRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		out = append(out, RecordFromRow(header, row))
	}
	return out
}

func formatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// ParseBool accepts the truthy spellings editors use in boolean columns.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1", "x":
		return true
	}
	return false
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
