package domain

import (
	"errors"
	"time"
)

// ErrNotFound means every query completed but no matching record
// exists. ErrServiceUnavailable means the backing services themselves
// failed, so the caller cannot conclude the record is absent.
var (
	ErrNotFound           = errors.New("no matching record")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// PropertyRecord is the normalized attribute bag for one parcel. Every
// field except Folio is optional; numeric fields are pointers so an
// absent value renders as empty rather than zero.
type PropertyRecord struct {
	Folio       string `json:"folio"`
	SiteAddress string `json:"site_address,omitempty"`
	City        string `json:"city,omitempty"`
	ZipCode     string `json:"zip_code,omitempty"`
	Owner1      string `json:"owner1,omitempty"`
	Owner2      string `json:"owner2,omitempty"`
	Subdivision string `json:"subdivision,omitempty"`
	LandUse     string `json:"land_use,omitempty"`
	PrimaryZone string `json:"primary_zone,omitempty"`

	Bedrooms      *float64 `json:"bedrooms,omitempty"`
	Bathrooms     *float64 `json:"bathrooms,omitempty"`
	HalfBathrooms *float64 `json:"half_bathrooms,omitempty"`
	Floors        *float64 `json:"floors,omitempty"`
	LivingUnits   *float64 `json:"living_units,omitempty"`
	ActualArea    *float64 `json:"actual_area_sqft,omitempty"`
	AdjustedArea  *float64 `json:"adjusted_area_sqft,omitempty"`
	LivingArea    *float64 `json:"living_area_sqft,omitempty"`
	LotSize       *float64 `json:"lot_size_sqft,omitempty"`
	YearBuilt     *float64 `json:"year_built,omitempty"`
}

// PropertyMatch pairs a resolved record with its provenance: which
// service answered and the exact where clause that matched. The two
// sources use different field names and casings, so a caller needs this
// to explain (and distrust) a result.
type PropertyMatch struct {
	Record    PropertyRecord `json:"record"`
	Source    string         `json:"source"`
	WhereUsed string         `json:"where_used"`
}

// Municipality names a boundary plus its retained rings. Only the
// first (assumed exterior) ring of each source geometry survives.
type Municipality struct {
	Name  string `json:"name"`
	Rings []Ring `json:"rings"`
}

// ZoningEntry is one (code, description) pair in a boundary's zoning mix.
type ZoningEntry struct {
	Zone        string `json:"zone"`
	Description string `json:"description,omitempty"`
}

// ZoningAtPoint describes the zoning polygon covering a single point.
type ZoningAtPoint struct {
	Zone         string `json:"zone"`
	Description  string `json:"description,omitempty"`
	Overlay      string `json:"overlay,omitempty"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
}

// SaleRecord is one sale inside a queried boundary. SaleDate is UTC
// with its zone stripped for stable display and sorting. Price is nil
// when the source value was missing or not numeric.
type SaleRecord struct {
	Folio       string    `json:"folio"`
	SiteAddress string    `json:"site_address,omitempty"`
	City        string    `json:"city,omitempty"`
	ZipCode     string    `json:"zip_code,omitempty"`
	Owner1      string    `json:"owner1,omitempty"`
	SaleDate    time.Time `json:"sale_date"`
	Price       *float64  `json:"price,omitempty"`
	LandUse     string    `json:"land_use,omitempty"`
	Subdivision string    `json:"subdivision,omitempty"`
	YearBuilt   *float64  `json:"year_built,omitempty"`
	LotSize     *float64  `json:"lot_size_sqft,omitempty"`
	LivingArea  *float64  `json:"living_area_sqft,omitempty"`
}

// SalesResult carries windowed sales plus degrade flags so callers can
// tell "filtered correctly" apart from "filtering was skipped because
// no date field resolved".
type SalesResult struct {
	Records   []SaleRecord `json:"records"`
	DateField string       `json:"date_field,omitempty"`
	Windowed  bool         `json:"windowed"`
	Pages     int          `json:"pages"`
}

// BulkStatus labels one bulk-lookup row.
type BulkStatus string

const (
	BulkOK       BulkStatus = "OK"
	BulkNotFound BulkStatus = "NOT FOUND"
	BulkError    BulkStatus = "ERROR"
)

// BulkRow is the outcome for one folio in a bulk run. Record, Source,
// and WhereUsed are set only when Status is BulkOK; Detail carries the
// diagnostic for BulkError rows.
type BulkRow struct {
	Folio     string          `json:"folio"`
	Status    BulkStatus      `json:"status"`
	Detail    string          `json:"detail,omitempty"`
	Record    *PropertyRecord `json:"record,omitempty"`
	Source    string          `json:"source,omitempty"`
	WhereUsed string          `json:"where_used,omitempty"`
}
