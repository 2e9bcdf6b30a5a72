package services

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"guide-aggregator/models"
	"guide-aggregator/utils"
)

// ReportService computes and renders the per-market run summary.
type ReportService struct {
	logger *utils.Logger
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger}
}

// Generate fills the aggregate figures of r from the published listings.
func (s *ReportService) Generate(r *models.RunReport, listings []models.ListingRecord) *models.RunReport {
	r.TotalListings = len(listings)
	r.ListingsByGuide = make(map[string]int)
	r.AmenityCounts = make(map[string]int)
	r.MissingCoords, r.MissingAddress = 0, 0

	for _, l := range listings {
		r.ListingsByGuide[l.GuideName]++
		if l.Lat == "" || l.Lng == "" {
			r.MissingCoords++
		}
		if l.Location == "" || l.Location == models.AddressUnavailable {
			r.MissingAddress++
		}
		for label, set := range map[string]bool{
			models.LabelTakeout:            l.Takeout,
			models.LabelDelivery:           l.Delivery,
			models.LabelOutdoorSeating:     l.OutdoorSeating,
			models.LabelIndoorDining:       l.IndoorDining,
			models.LabelReservations:       l.Reservations,
			models.LabelVegetarianFriendly: l.VegetarianFriendly,
		} {
			if set {
				r.AmenityCounts[label]++
			}
		}
	}
	s.logger.Debug("report %s: %d listings over %d guides", r.Market, r.TotalListings, len(r.ListingsByGuide))
	for i := range r.Guides {
		if n, ok := r.ListingsByGuide[r.Guides[i].Name]; ok {
			r.Guides[i].Records = n
		}
	}
	return r
}

// Print renders the report as tables.
func (s *ReportService) Print(w io.Writer, r *models.RunReport) {
	fmt.Fprintf(w, "\n%s  market %s  run %s  %s\n", text.Bold.Sprint("Guide sync"), r.Market, r.RunID, r.State)

	guides := table.NewWriter()
	guides.SetOutputMirror(w)
	guides.SetStyle(table.StyleRounded)
	guides.AppendHeader(table.Row{"Guide", "Status", "Listings", "Token", "Error"})
	for _, g := range r.Guides {
		guides.AppendRow(table.Row{g.Name, statusColor(g.Status).Sprint(g.Status), g.Records, truncate(g.Token, 32), truncate(g.ErrorMsg, 60)})
	}
	guides.AppendFooter(table.Row{"", "total", r.TotalListings, "", ""})
	guides.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight, AlignFooter: text.AlignRight},
	})
	guides.Render()

	if r.TotalListings == 0 {
		return
	}
	amenities := table.NewWriter()
	amenities.SetOutputMirror(w)
	amenities.SetStyle(table.StyleRounded)
	amenities.AppendHeader(table.Row{"Amenity", "Listings"})
	labels := make([]string, 0, len(r.AmenityCounts))
	for l := range r.AmenityCounts {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool {
		if r.AmenityCounts[labels[i]] != r.AmenityCounts[labels[j]] {
			return r.AmenityCounts[labels[i]] > r.AmenityCounts[labels[j]]
		}
		return labels[i] < labels[j]
	})
	for _, l := range labels {
		amenities.AppendRow(table.Row{l, r.AmenityCounts[l]})
	}
	amenities.AppendFooter(table.Row{"no coordinates", r.MissingCoords})
	amenities.AppendFooter(table.Row{"no address", r.MissingAddress})
	amenities.Render()
}

func statusColor(status string) text.Colors {
	switch strings.ToLower(status) {
	case "changed", "reprocessed":
		return text.Colors{text.FgYellow}
	case "failed":
		return text.Colors{text.FgRed}
	case "retired":
		return text.Colors{text.FgMagenta}
	}
	return text.Colors{text.FgGreen}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
