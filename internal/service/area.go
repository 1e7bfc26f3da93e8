package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mdc-tools/parcel-insights/internal/arcgis"
	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/observability"
)

// AreaConfig configures the layers queried by the area engine.
type AreaConfig struct {
	Zoning      arcgis.Service
	ZoningLayer int

	Sales      arcgis.Service
	SalesLayer int

	PageSize   int // records per sales page
	MaxRecords int // hard cap across all pages
}

// AreaEngine answers boundary-scoped questions: the zoning mix inside a
// polygon, the zoning at a point, and recent sales inside a polygon.
type AreaEngine struct {
	zonesExec arcgis.Executor
	salesExec arcgis.Executor
	cfg       AreaConfig
	clock     clockwork.Clock
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewAreaEngine creates an area engine. zonesExec and salesExec are
// usually the same client behind caches with different TTLs.
func NewAreaEngine(zonesExec, salesExec arcgis.Executor, cfg AreaConfig, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) *AreaEngine {
	return &AreaEngine{
		zonesExec: zonesExec,
		salesExec: salesExec,
		cfg:       cfg,
		clock:     clock,
		metrics:   metrics,
		logger:    logger,
	}
}

// salesOutFields is the attribute subset requested per sale.
var salesOutFields = strings.Join([]string{
	"folio", "true_site_addr", "true_site_city", "true_site_zip_code",
	"true_owner1", "dateofsale_utc", "price_1", "dor_desc", "subdivision",
	"year_built", "lot_size", "building_heated_area",
}, ",")

// saleDateCandidates are the field names the sales layer has used for
// the sale date over time, in preference order.
var saleDateCandidates = []string{
	"dateofsale_utc", "dateofsale", "sale_date", "last_sale_date", "date_of_sale", "saledate",
}

// saleDateLayouts are tried against text-encoded dates.
var saleDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"1/2/2006",
	"01/02/2006",
}

// ZonesIn returns the distinct zoning classifications intersecting the
// boundary, sorted by zone code. An empty result is not an error.
func (e *AreaEngine) ZonesIn(ctx context.Context, rings []domain.Ring) ([]domain.ZoningEntry, error) {
	geom, err := polygonJSON(rings)
	if err != nil {
		return nil, err
	}
	resp, err := e.zonesExec.Query(ctx, e.cfg.Zoning, e.cfg.ZoningLayer, arcgis.Params{
		"geometry":             geom,
		"geometryType":         "esriGeometryPolygon",
		"inSR":                 "4326",
		"spatialRel":           "esriSpatialRelIntersects",
		"outFields":            "ZONE,ZONE_DESC",
		"returnDistinctValues": "true",
		"returnGeometry":       "false",
	})
	if err != nil {
		return nil, fmt.Errorf("zoning query: %w", err)
	}

	seen := make(map[string]struct{})
	entries := make([]domain.ZoningEntry, 0, len(resp.Features))
	for _, f := range resp.Features {
		zone := attrString(f.Attributes, "ZONE")
		if zone == "" {
			continue
		}
		desc := attrString(f.Attributes, "ZONE_DESC")
		key := zone + "|" + desc
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		entries = append(entries, domain.ZoningEntry{Zone: zone, Description: desc})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Zone != entries[j].Zone {
			return entries[i].Zone < entries[j].Zone
		}
		return entries[i].Description < entries[j].Description
	})
	return entries, nil
}

// ZoningAt returns the zoning polygon covering a point, or
// domain.ErrNotFound when none intersects it.
func (e *AreaEngine) ZoningAt(ctx context.Context, lon, lat float64) (*domain.ZoningAtPoint, error) {
	point, err := json.Marshal(map[string]any{
		"x": lon, "y": lat,
		"spatialReference": map[string]any{"wkid": 4326},
	})
	if err != nil {
		return nil, fmt.Errorf("encode point: %w", err)
	}
	resp, err := e.zonesExec.Query(ctx, e.cfg.Zoning, e.cfg.ZoningLayer, arcgis.Params{
		"geometry":       string(point),
		"geometryType":   "esriGeometryPoint",
		"inSR":           "4326",
		"spatialRel":     "esriSpatialRelIntersects",
		"outFields":      "ZONE,ZONE_DESC,OVLY,ZONEMUNC",
		"returnGeometry": "false",
	})
	if err != nil {
		return nil, fmt.Errorf("zoning point query: %w", err)
	}
	if len(resp.Features) == 0 {
		return nil, domain.ErrNotFound
	}
	a := resp.Features[0].Attributes
	return &domain.ZoningAtPoint{
		Zone:         attrString(a, "ZONE"),
		Description:  attrString(a, "ZONE_DESC"),
		Overlay:      attrString(a, "OVLY"),
		Jurisdiction: attrString(a, "ZONEMUNC"),
	}, nil
}

// SalesIn returns sales inside the boundary from the last windowDays
// days, newest first. Pagination stops at a short page or the hard
// cap; the exceeded-count field reported by the service is not trusted.
// When no known date field is present the window cannot be applied and
// the result says so instead of silently returning everything as
// "filtered".
func (e *AreaEngine) SalesIn(ctx context.Context, rings []domain.Ring, windowDays int) (*domain.SalesResult, error) {
	geom, err := polygonJSON(rings)
	if err != nil {
		return nil, err
	}
	base := arcgis.Params{
		"geometry":          geom,
		"geometryType":      "esriGeometryPolygon",
		"inSR":              "4326",
		"spatialRel":        "esriSpatialRelIntersects",
		"outFields":         salesOutFields,
		"returnGeometry":    "false",
		"geometryPrecision": "6",
	}

	attrs, pages, err := e.paginate(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("sales query: %w", err)
	}
	e.metrics.SalesPages.Observe(float64(pages))

	result := &domain.SalesResult{Pages: pages}
	if len(attrs) == 0 {
		result.Records = []domain.SaleRecord{}
		return result, nil
	}

	dateField := resolveSaleDateField(attrs)
	result.DateField = dateField
	if dateField == "" {
		// Degrade: no recognizable date field, return unwindowed.
		e.logger.Warn("no sale date field recognized, skipping date window")
		result.Records = mapSaleRecords(attrs, "")
		return result, nil
	}

	cutoff := e.clock.Now().UTC().Add(-time.Duration(windowDays) * 24 * time.Hour)
	records := make([]domain.SaleRecord, 0, len(attrs))
	for _, a := range attrs {
		when, ok := parseSaleDate(a[dateField])
		if !ok {
			continue
		}
		if when.Before(cutoff) {
			continue
		}
		rec := mapSaleAttributes(a)
		rec.SaleDate = when
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].SaleDate.After(records[j].SaleDate)
	})

	result.Records = records
	result.Windowed = true
	return result, nil
}

// paginate walks resultOffset pages until a short page, an empty page,
// or the hard cap. A failure on the first page is a failure; a failure
// mid-run returns the partial set rather than discarding fetched rows.
func (e *AreaEngine) paginate(ctx context.Context, base arcgis.Params) ([]map[string]any, int, error) {
	var rows []map[string]any
	offset, pages := 0, 0
	for len(rows) < e.cfg.MaxRecords {
		want := e.cfg.PageSize
		if remaining := e.cfg.MaxRecords - len(rows); remaining < want {
			want = remaining
		}

		params := arcgis.Params{}
		for k, v := range base {
			params[k] = v
		}
		params["resultRecordCount"] = strconv.Itoa(want)
		params["resultOffset"] = strconv.Itoa(offset)

		resp, err := e.salesExec.Query(ctx, e.cfg.Sales, e.cfg.SalesLayer, params)
		if err != nil {
			if pages == 0 {
				return nil, 0, err
			}
			e.logger.Warn("sales pagination aborted, returning partial results",
				"pages", pages, "rows", len(rows), "error", err)
			break
		}
		pages++

		if len(resp.Features) == 0 {
			break
		}
		for _, f := range resp.Features {
			rows = append(rows, f.Attributes)
		}
		if len(resp.Features) < want {
			break
		}
		offset += want
	}
	return rows, pages, nil
}

// resolveSaleDateField picks the first candidate present in any record.
func resolveSaleDateField(attrs []map[string]any) string {
	for _, cand := range saleDateCandidates {
		for _, a := range attrs {
			if _, ok := a[cand]; ok {
				return cand
			}
		}
	}
	return ""
}

// parseSaleDate handles both encodings the layer has shipped: epoch
// milliseconds and formatted text. The result is UTC with the zone
// stripped for stable sorting and display.
func parseSaleDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case float64:
		if d <= 0 {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(d)).UTC(), true
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range saleDateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), true
			}
		}
	}
	return time.Time{}, false
}

func mapSaleRecords(attrs []map[string]any, dateField string) []domain.SaleRecord {
	out := make([]domain.SaleRecord, 0, len(attrs))
	for _, a := range attrs {
		rec := mapSaleAttributes(a)
		if dateField != "" {
			if when, ok := parseSaleDate(a[dateField]); ok {
				rec.SaleDate = when
			}
		}
		out = append(out, rec)
	}
	return out
}

func mapSaleAttributes(a map[string]any) domain.SaleRecord {
	return domain.SaleRecord{
		Folio:       attrString(a, "folio"),
		SiteAddress: attrString(a, "true_site_addr"),
		City:        attrString(a, "true_site_city"),
		ZipCode:     attrString(a, "true_site_zip_code"),
		Owner1:      attrString(a, "true_owner1"),
		Price:       attrFloat(a, "price_1"),
		LandUse:     attrString(a, "dor_desc"),
		Subdivision: attrString(a, "subdivision"),
		YearBuilt:   attrFloat(a, "year_built"),
		LotSize:     attrFloat(a, "lot_size"),
		LivingArea:  attrFloat(a, "building_heated_area"),
	}
}

// polygonJSON encodes rings as an Esri polygon, simplifying first when
// the vertex count would push the request past payload limits. The
// simplified geometry is only ever a spatial filter.
func polygonJSON(rings []domain.Ring) (string, error) {
	use := rings
	if domain.TotalVertices(rings) > domain.SimplifyVertexThreshold {
		use = domain.SimplifyRings(rings, domain.DefaultSimplifyToleranceMeters)
	}
	b, err := json.Marshal(map[string]any{
		"rings":            use,
		"spatialReference": map[string]any{"wkid": 4326},
	})
	if err != nil {
		return "", fmt.Errorf("encode polygon: %w", err)
	}
	return string(b), nil
}
