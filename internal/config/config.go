package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Default service endpoints and layer indices. These are the live
// Miami-Dade Open Data services; tests point them at httptest servers.
const (
	defaultZoningServiceURL  = "https://services.arcgis.com/LBbVDC0hKPAnLRpO/ArcGIS/rest/services/Miami_Dade_Zoning_Phillips/FeatureServer"
	defaultEmapsServiceURL   = "https://gisweb.miamidade.gov/arcgis/rest/services/MD_Emaps/MapServer"
	defaultGISViewServiceURL = "https://services.arcgis.com/8Pc9XBTAsYuxx9Ny/arcgis/rest/services/PaGISView_gdb/FeatureServer"
	defaultNominatimURL      = "https://nominatim.openstreetmap.org/search"
)

// Config holds all service settings, populated from environment
// variables. It is immutable after Load and passed into components at
// construction time.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Zoning FeatureServer: municipal boundaries and zoning polygons.
	ZoningServiceURL       string
	MunicipalBoundaryLayer int
	ZoningLayer            int

	// County Emaps MapServer: property records with an explicit FOLIO schema.
	EmapsServiceURL      string
	PropertyRecordsLayer int

	// Hosted PaGISView FeatureServer: property points and sales.
	GISViewServiceURL  string
	PropertyPointLayer int

	QueryTimeout    time.Duration
	MaxRetries      int
	LookupCacheTTL  time.Duration
	SalesCacheTTL   time.Duration
	SalesPageSize   int
	SalesMaxRecords int
	BulkDelay       time.Duration
	BulkMaxFolios   int

	GeocoderEnabled bool
	NominatimURL    string
	GeocoderTimeout time.Duration
	UserAgent       string
}

// Load reads configuration from environment variables, applying
// defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := envDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	queryTimeout, err := envDuration("QUERY_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	lookupTTL, err := envDuration("LOOKUP_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	salesTTL, err := envDuration("SALES_CACHE_TTL", 30*time.Minute)
	if err != nil {
		return nil, err
	}
	bulkDelay, err := envDuration("BULK_DELAY", 150*time.Millisecond)
	if err != nil {
		return nil, err
	}
	geocoderTimeout, err := envDuration("GEOCODER_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        envOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		ZoningServiceURL:       envOrDefault("ZONING_SERVICE_URL", defaultZoningServiceURL),
		MunicipalBoundaryLayer: envInt("MUNICIPAL_BOUNDARY_LAYER", 4),
		ZoningLayer:            envInt("ZONING_LAYER", 12),

		EmapsServiceURL:      envOrDefault("EMAPS_SERVICE_URL", defaultEmapsServiceURL),
		PropertyRecordsLayer: envInt("PROPERTY_RECORDS_LAYER", 70),

		GISViewServiceURL:  envOrDefault("GISVIEW_SERVICE_URL", defaultGISViewServiceURL),
		PropertyPointLayer: envInt("PROPERTY_POINT_LAYER", 0),

		QueryTimeout:    queryTimeout,
		MaxRetries:      envInt("QUERY_MAX_RETRIES", 3),
		LookupCacheTTL:  lookupTTL,
		SalesCacheTTL:   salesTTL,
		SalesPageSize:   envInt("SALES_PAGE_SIZE", 2000),
		SalesMaxRecords: envInt("SALES_MAX_RECORDS", 5000),
		BulkDelay:       bulkDelay,
		BulkMaxFolios:   envInt("BULK_MAX_FOLIOS", 500),

		GeocoderEnabled: envOrDefault("GEOCODER_ENABLED", "true") == "true",
		NominatimURL:    envOrDefault("NOMINATIM_URL", defaultNominatimURL),
		GeocoderTimeout: geocoderTimeout,
		UserAgent:       envOrDefault("USER_AGENT", "parcel-insights/1.0"),
	}

	if cfg.ZoningServiceURL == "" || cfg.EmapsServiceURL == "" || cfg.GISViewServiceURL == "" {
		return nil, fmt.Errorf("service URLs must not be empty")
	}
	if cfg.SalesPageSize <= 0 {
		return nil, fmt.Errorf("SALES_PAGE_SIZE must be positive")
	}
	if cfg.SalesMaxRecords < cfg.SalesPageSize {
		return nil, fmt.Errorf("SALES_MAX_RECORDS must be at least SALES_PAGE_SIZE")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("QUERY_MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if s := os.Getenv(key); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return d, nil
}
