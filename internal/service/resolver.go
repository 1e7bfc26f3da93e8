package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mdc-tools/parcel-insights/internal/arcgis"
	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/observability"
)

// FolioFieldResolver is the schema-discovery dependency of the resolver.
type FolioFieldResolver interface {
	ResolveFolioField(ctx context.Context, svc arcgis.Service, layer int) (string, arcgis.FieldResolution)
}

// Sources configures the two property services tried by the resolver.
type Sources struct {
	// Emaps is the county MapServer layer with an explicit FOLIO schema,
	// the more reliable of the two for folio lookups.
	Emaps      arcgis.Service
	EmapsLayer int

	// GISView is the hosted FeatureServer whose folio field name varies
	// and is discovered from layer metadata.
	GISView      arcgis.Service
	GISViewLayer int
}

// Resolver looks up properties by folio, trying an ordered list of
// where-clause candidates against an ordered list of sources.
type Resolver struct {
	exec    arcgis.Executor
	fields  FolioFieldResolver
	sources Sources
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewResolver creates a property resolver.
func NewResolver(exec arcgis.Executor, fields FolioFieldResolver, sources Sources, metrics *observability.Metrics, logger *slog.Logger) *Resolver {
	return &Resolver{
		exec:    exec,
		fields:  fields,
		sources: sources,
		metrics: metrics,
		logger:  logger,
	}
}

// emapsOutFields is the fixed field list of the county layer.
var emapsOutFields = strings.Join([]string{
	"FOLIO", "TRUE_SITE_ADDR", "TRUE_SITE_CITY", "TRUE_SITE_ZIP_CODE",
	"TRUE_OWNER1", "TRUE_OWNER2", "DOR_DESC", "SUBDIVISION", "YEAR_BUILT", "LOT_SIZE",
	"BUILDING_ACTUAL_AREA", "BUILDING_EFFECTIVE_AREA", "BUILDING_GROSS_AREA",
	"BEDROOM_COUNT", "BATHROOM_COUNT", "HALF_BATHROOM_COUNT", "FLOOR_COUNT",
}, ",")

// gisViewOutFields is the hosted layer's lowercase field list.
var gisViewOutFields = strings.Join([]string{
	"folio", "true_site_addr", "true_site_city", "true_site_zip_code",
	"true_owner1", "true_owner2", "dor_desc", "subdivision", "year_built", "lot_size",
	"building_heated_area", "adjusted_area", "actual_area", "living_units",
	"bedrooms", "bathrooms", "half_bathrooms", "no_stories",
	"pa_primary_zone", "primarylanduse_desc",
}, ",")

// Lookup resolves a folio against both sources in the caller's
// preferred order. It returns domain.ErrNotFound when every source
// answered and none matched, and an error unwrapping to
// domain.ErrServiceUnavailable when every attempted query failed.
func (r *Resolver) Lookup(ctx context.Context, raw string, preferCounty bool) (*domain.PropertyMatch, error) {
	folio := domain.NormalizeFolio(raw)
	if folio.Key() == "" {
		return nil, domain.ErrNotFound
	}

	attempts := []func(context.Context, domain.Folio) (*domain.PropertyMatch, error){
		r.lookupEmaps, r.lookupGISView,
	}
	if !preferCounty {
		attempts[0], attempts[1] = attempts[1], attempts[0]
	}

	var lastErr error
	sawEmpty := false
	for _, attempt := range attempts {
		match, err := attempt(ctx, folio)
		if err != nil {
			lastErr = err
			continue
		}
		if match != nil {
			return match, nil
		}
		sawEmpty = true
	}

	// Unavailable only when no source managed a well-formed answer;
	// a clean zero-match from either source means the folio is absent.
	if !sawEmpty && lastErr != nil {
		return nil, fmt.Errorf("folio %s: all sources failed: %w", folio, lastErr)
	}
	return nil, domain.ErrNotFound
}

func (r *Resolver) lookupEmaps(ctx context.Context, folio domain.Folio) (*domain.PropertyMatch, error) {
	provenance := fmt.Sprintf("MapServer/%d", r.sources.EmapsLayer)
	match, err := r.trySource(ctx, r.sources.Emaps, r.sources.EmapsLayer,
		"FOLIO", emapsOutFields, folio, provenance, mapEmapsAttributes)
	r.recordOutcome(r.sources.Emaps.Name, match, err)
	return match, err
}

func (r *Resolver) lookupGISView(ctx context.Context, folio domain.Folio) (*domain.PropertyMatch, error) {
	field, resolution := r.fields.ResolveFolioField(ctx, r.sources.GISView, r.sources.GISViewLayer)
	if resolution != arcgis.ResolutionExact {
		r.logger.Debug("folio field resolved", "service", r.sources.GISView.Name,
			"field", field, "resolution", resolution)
	}
	provenance := fmt.Sprintf("FeatureServer/%d", r.sources.GISViewLayer)
	match, err := r.trySource(ctx, r.sources.GISView, r.sources.GISViewLayer,
		field, gisViewOutFields, folio, provenance, mapGISViewAttributes)
	r.recordOutcome(r.sources.GISView.Name, match, err)
	return match, err
}

func (r *Resolver) recordOutcome(source string, match *domain.PropertyMatch, err error) {
	switch {
	case err != nil:
		r.metrics.ResolveOutcomes.WithLabelValues(source, "unavailable").Inc()
	case match != nil:
		r.metrics.ResolveOutcomes.WithLabelValues(source, "found").Inc()
	default:
		r.metrics.ResolveOutcomes.WithLabelValues(source, "not_found").Inc()
	}
}

// trySource walks the where-clause ladder for one source. The return
// contract mirrors Lookup: (match, nil) on a hit, (nil, nil) when some
// query returned a well-formed empty set, (nil, err) when every query
// failed.
func (r *Resolver) trySource(
	ctx context.Context,
	svc arcgis.Service, layer int,
	folioField, outFields string,
	folio domain.Folio, provenance string,
	mapAttrs func(map[string]any) domain.PropertyRecord,
) (*domain.PropertyMatch, error) {
	var lastErr error
	sawEmpty := false
	for _, where := range whereCandidates(folioField, folio) {
		resp, err := r.exec.Query(ctx, svc, layer, arcgis.Params{
			"where":             where,
			"outFields":         outFields,
			"returnGeometry":    "false",
			"resultRecordCount": "5",
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Features) == 0 {
			sawEmpty = true
			continue
		}
		rec := mapAttrs(resp.Features[0].Attributes)
		if rec.Folio == "" {
			rec.Folio = folio.String()
		}
		return &domain.PropertyMatch{Record: rec, Source: provenance, WhereUsed: where}, nil
	}
	if !sawEmpty && lastErr != nil {
		return nil, lastErr
	}
	return nil, nil
}

// whereCandidates builds the filter ladder: exact hyphenated, exact
// digits, then LIKE on digits. Exact forms come first because a LIKE
// can match a different parcel whose folio contains the digits as a
// substring.
func whereCandidates(field string, folio domain.Folio) []string {
	var wheres []string
	if folio.Hyphenated != "" {
		wheres = append(wheres, fmt.Sprintf("%s = '%s'", field, escapeQuotes(folio.Hyphenated)))
	}
	if folio.Canonical() {
		wheres = append(wheres,
			fmt.Sprintf("%s = '%s'", field, escapeQuotes(folio.Digits)),
			fmt.Sprintf("%s LIKE '%%%s%%'", field, escapeQuotes(folio.Digits)),
		)
	}
	return wheres
}

// mapEmapsAttributes normalizes the county layer's uppercase schema.
// The layer has no zoning column; effective area doubles as both the
// adjusted and (preferred) living area measure.
func mapEmapsAttributes(a map[string]any) domain.PropertyRecord {
	living := attrFloat(a, "BUILDING_EFFECTIVE_AREA")
	if living == nil {
		living = attrFloat(a, "BUILDING_ACTUAL_AREA")
	}
	return domain.PropertyRecord{
		Folio:         attrString(a, "FOLIO"),
		SiteAddress:   attrString(a, "TRUE_SITE_ADDR"),
		City:          attrString(a, "TRUE_SITE_CITY"),
		ZipCode:       attrString(a, "TRUE_SITE_ZIP_CODE"),
		Owner1:        attrString(a, "TRUE_OWNER1"),
		Owner2:        attrString(a, "TRUE_OWNER2"),
		LandUse:       attrString(a, "DOR_DESC"),
		Subdivision:   attrString(a, "SUBDIVISION"),
		YearBuilt:     attrFloat(a, "YEAR_BUILT"),
		LotSize:       attrFloat(a, "LOT_SIZE"),
		LivingArea:    living,
		AdjustedArea:  attrFloat(a, "BUILDING_EFFECTIVE_AREA"),
		ActualArea:    attrFloat(a, "BUILDING_ACTUAL_AREA"),
		Bedrooms:      attrFloat(a, "BEDROOM_COUNT"),
		Bathrooms:     attrFloat(a, "BATHROOM_COUNT"),
		HalfBathrooms: attrFloat(a, "HALF_BATHROOM_COUNT"),
		Floors:        attrFloat(a, "FLOOR_COUNT"),
	}
}

// mapGISViewAttributes normalizes the hosted layer's lowercase schema.
func mapGISViewAttributes(a map[string]any) domain.PropertyRecord {
	return domain.PropertyRecord{
		Folio:         attrString(a, "folio"),
		SiteAddress:   attrString(a, "true_site_addr"),
		City:          attrString(a, "true_site_city"),
		ZipCode:       attrString(a, "true_site_zip_code"),
		Owner1:        attrString(a, "true_owner1"),
		Owner2:        attrString(a, "true_owner2"),
		LandUse:       firstNonEmpty(attrString(a, "primarylanduse_desc"), attrString(a, "dor_desc")),
		PrimaryZone:   attrString(a, "pa_primary_zone"),
		Subdivision:   attrString(a, "subdivision"),
		YearBuilt:     attrFloat(a, "year_built"),
		LotSize:       attrFloat(a, "lot_size"),
		LivingArea:    attrFloat(a, "building_heated_area"),
		AdjustedArea:  attrFloat(a, "adjusted_area"),
		ActualArea:    attrFloat(a, "actual_area"),
		LivingUnits:   attrFloat(a, "living_units"),
		Bedrooms:      attrFloat(a, "bedrooms"),
		Bathrooms:     attrFloat(a, "bathrooms"),
		HalfBathrooms: attrFloat(a, "half_bathrooms"),
		Floors:        attrFloat(a, "no_stories"),
	}
}
