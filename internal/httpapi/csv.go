package httpapi

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/mdc-tools/parcel-insights/internal/domain"
)

// Export column sets mirror the dashboard's download buttons; the
// normalized field names in internal/domain stay the API contract, and
// these headings are purely presentation.

var bulkCSVHeader = []string{
	"Folio", "Status", "Property Address", "City", "ZIP", "Owner 1", "Owner 2",
	"Subdivision", "Primary Land Use", "PA Primary Zone", "Beds", "Baths",
	"Half Baths", "Floors", "Living Units", "Actual Area (SqFt)",
	"Living Area (SqFt)", "Adjusted Area (SqFt)", "Lot Size (SqFt)",
	"Year Built", "PA Folio URL", "Source", "Query", "Detail",
}

var salesCSVHeader = []string{
	"Sale Date", "Price", "Address", "City", "ZIP", "Land Use", "Subdivision",
	"Year Built", "Lot SqFt", "Heated SqFt", "Owner", "Folio",
}

var zonesCSVHeader = []string{"Zone", "Description"}

func writeBulkCSV(w io.Writer, rows []domain.BulkRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(bulkCSVHeader); err != nil {
		return err
	}
	for _, row := range rows {
		rec := domain.PropertyRecord{}
		if row.Record != nil {
			rec = *row.Record
		}
		out := []string{
			row.Folio, string(row.Status),
			rec.SiteAddress, rec.City, rec.ZipCode, rec.Owner1, rec.Owner2,
			rec.Subdivision, rec.LandUse, rec.PrimaryZone,
			floatCell(rec.Bedrooms), floatCell(rec.Bathrooms), floatCell(rec.HalfBathrooms),
			floatCell(rec.Floors), floatCell(rec.LivingUnits),
			floatCell(rec.ActualArea), floatCell(rec.LivingArea), floatCell(rec.AdjustedArea),
			floatCell(rec.LotSize), floatCell(rec.YearBuilt),
			domain.AppraiserURL(row.Folio), row.Source, row.WhereUsed, row.Detail,
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeSalesCSV(w io.Writer, records []domain.SaleRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(salesCSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		date := ""
		if !r.SaleDate.IsZero() {
			date = r.SaleDate.Format("2006-01-02 15:04:05")
		}
		out := []string{
			date, floatCell(r.Price), r.SiteAddress, r.City, r.ZipCode,
			r.LandUse, r.Subdivision, floatCell(r.YearBuilt),
			floatCell(r.LotSize), floatCell(r.LivingArea), r.Owner1, r.Folio,
		}
		if err := cw.Write(out); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeZonesCSV(w io.Writer, entries []domain.ZoningEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(zonesCSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		if err := cw.Write([]string{e.Zone, e.Description}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// floatCell renders an optional numeric as an empty cell when absent.
func floatCell(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
