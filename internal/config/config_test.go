package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 4, cfg.MunicipalBoundaryLayer)
	assert.Equal(t, 12, cfg.ZoningLayer)
	assert.Equal(t, 70, cfg.PropertyRecordsLayer)
	assert.Equal(t, 0, cfg.PropertyPointLayer)
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Hour, cfg.LookupCacheTTL)
	assert.Equal(t, 30*time.Minute, cfg.SalesCacheTTL)
	assert.Equal(t, 2000, cfg.SalesPageSize)
	assert.Equal(t, 5000, cfg.SalesMaxRecords)
	assert.Equal(t, 150*time.Millisecond, cfg.BulkDelay)
	assert.Equal(t, 500, cfg.BulkMaxFolios)
	assert.True(t, cfg.GeocoderEnabled)
	assert.NotEmpty(t, cfg.ZoningServiceURL)
	assert.NotEmpty(t, cfg.EmapsServiceURL)
	assert.NotEmpty(t, cfg.GISViewServiceURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("EMAPS_SERVICE_URL", "http://localhost:8000/MapServer")
	t.Setenv("QUERY_TIMEOUT", "5s")
	t.Setenv("SALES_PAGE_SIZE", "500")
	t.Setenv("SALES_MAX_RECORDS", "1000")
	t.Setenv("GEOCODER_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "http://localhost:8000/MapServer", cfg.EmapsServiceURL)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 500, cfg.SalesPageSize)
	assert.Equal(t, 1000, cfg.SalesMaxRecords)
	assert.False(t, cfg.GeocoderEnabled)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("QUERY_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUERY_TIMEOUT")
}

func TestLoad_NegativeDuration(t *testing.T) {
	t.Setenv("LOOKUP_CACHE_TTL", "-1h")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_PageSizeValidation(t *testing.T) {
	t.Setenv("SALES_PAGE_SIZE", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SALES_PAGE_SIZE")
}

func TestLoad_CapBelowPageSize(t *testing.T) {
	t.Setenv("SALES_PAGE_SIZE", "2000")
	t.Setenv("SALES_MAX_RECORDS", "100")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SALES_MAX_RECORDS")
}
