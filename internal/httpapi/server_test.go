package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdc-tools/parcel-insights/internal/arcgis"
	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/nominatim"
	"github.com/mdc-tools/parcel-insights/internal/observability"
	"github.com/mdc-tools/parcel-insights/internal/service"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

const knownFolio = "01-3125-046-0340"

// worldExec fakes all four backing layers, routed by service name.
type worldExec struct {
	lookupErr error // when set, both property sources fail
}

func (w *worldExec) Query(_ context.Context, svc arcgis.Service, layer int, params arcgis.Params) (*arcgis.QueryResponse, error) {
	switch svc.Name {
	case "emaps", "pagisview":
		if w.lookupErr != nil {
			return nil, w.lookupErr
		}
		if svc.Name == "emaps" && strings.Contains(params["where"], knownFolio) {
			return &arcgis.QueryResponse{Features: []arcgis.Feature{{Attributes: map[string]any{
				"FOLIO": knownFolio, "TRUE_SITE_ADDR": "123 MAIN ST", "TRUE_SITE_CITY": "MIAMI",
			}}}}, nil
		}
		return &arcgis.QueryResponse{}, nil
	case "zoning":
		if layer == 4 {
			return boundariesResponse(), nil
		}
		if params["geometryType"] == "esriGeometryPoint" {
			return &arcgis.QueryResponse{Features: []arcgis.Feature{{Attributes: map[string]any{
				"ZONE": "T6-8-O", "ZONE_DESC": "URBAN CORE", "ZONEMUNC": "MIAMI",
			}}}}, nil
		}
		return &arcgis.QueryResponse{Features: []arcgis.Feature{
			{Attributes: map[string]any{"ZONE": "T3-O", "ZONE_DESC": "SUB-URBAN"}},
			{Attributes: map[string]any{"ZONE": "T4-R", "ZONE_DESC": "GENERAL URBAN"}},
		}}, nil
	case "sales":
		if params["resultOffset"] != "0" {
			return &arcgis.QueryResponse{}, nil
		}
		return &arcgis.QueryResponse{Features: []arcgis.Feature{
			{Attributes: map[string]any{
				"folio": "30-4015-009-0120", "dateofsale_utc": float64(testNow.Add(-24 * time.Hour).UnixMilli()),
				"price_1": float64(650000), "true_site_addr": "456 CORAL WAY",
			}},
		}}, nil
	}
	return &arcgis.QueryResponse{}, nil
}

func boundariesResponse() *arcgis.QueryResponse {
	ring := domain.Ring{{-80.3, 25.7}, {-80.1, 25.7}, {-80.1, 25.9}, {-80.3, 25.7}}
	geom, _ := json.Marshal(map[string]any{"rings": []domain.Ring{ring}})
	feature := func(name string) arcgis.Feature {
		return arcgis.Feature{Attributes: map[string]any{"NAME": name}, Geometry: geom}
	}
	return &arcgis.QueryResponse{Features: []arcgis.Feature{
		feature("Miami Beach"), feature("Coral Gables"),
	}}
}

type staticFields struct{}

func (staticFields) ResolveFolioField(context.Context, arcgis.Service, int) (string, arcgis.FieldResolution) {
	return "folio", arcgis.ResolutionExact
}

type stubGeocoder struct {
	loc *nominatim.Location
	err error
}

func (s stubGeocoder) Geocode(context.Context, string) (*nominatim.Location, error) {
	return s.loc, s.err
}

type stubReady struct{ err error }

func (s stubReady) CheckReadiness(context.Context) error { return s.err }

func newTestServer(exec arcgis.Executor, geocoder nominatim.Geocoder, ready ReadinessChecker) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()
	clock := clockwork.NewFakeClockAt(testNow)

	resolver := service.NewResolver(exec, staticFields{}, service.Sources{
		Emaps:        arcgis.Service{Name: "emaps", URL: "http://emaps.test"},
		EmapsLayer:   70,
		GISView:      arcgis.Service{Name: "pagisview", URL: "http://gisview.test"},
		GISViewLayer: 0,
	}, metrics, logger)

	area := service.NewAreaEngine(exec, exec, service.AreaConfig{
		Zoning:      arcgis.Service{Name: "zoning", URL: "http://zoning.test"},
		ZoningLayer: 12,
		Sales:       arcgis.Service{Name: "sales", URL: "http://sales.test"},
		SalesLayer:  0,
		PageSize:    2000,
		MaxRecords:  5000,
	}, clock, metrics, logger)

	directory := service.NewDirectory(exec, arcgis.Service{Name: "zoning", URL: "http://zoning.test"}, 4, logger)
	bulk := service.NewBulkResolver(resolver, 0, 0, clock, metrics, logger)

	return NewServer("127.0.0.1:0", resolver, area, directory, bulk, geocoder, ready, logger)
}

func doRequest(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	assert.Equal(t, http.StatusOK, doRequest(s, http.MethodGet, "/readyz", "").Code)

	down := newTestServer(&worldExec{}, nil, stubReady{err: errors.New("boundary layer down")})
	w := doRequest(down, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "boundary layer down")
}

func TestProperty_Found(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/property?folio=0131250460340", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Record struct {
			Folio       string `json:"folio"`
			SiteAddress string `json:"site_address"`
		} `json:"record"`
		Source       string `json:"source"`
		WhereUsed    string `json:"where_used"`
		AppraiserURL string `json:"appraiser_url"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, knownFolio, got.Record.Folio)
	assert.Equal(t, "123 MAIN ST", got.Record.SiteAddress)
	assert.Equal(t, "MapServer/70", got.Source)
	assert.NotEmpty(t, got.WhereUsed)
	assert.Contains(t, got.AppraiserURL, "0131250460340")
}

func TestProperty_MissingFolio(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/property", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProperty_NotFound(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/property?folio=9999999999999", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "prefer=hosted", "response should suggest the other source")
}

func TestProperty_BackendsUnavailable(t *testing.T) {
	exec := &worldExec{lookupErr: &arcgis.QueryError{Kind: arcgis.KindTransport, Service: "emaps", Message: "down"}}
	s := newTestServer(exec, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/property?folio=0131250460340", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "unavailable")
}

func TestProperty_CSVExport(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/property?folio=0131250460340&format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Folio,Status,"))
	assert.Contains(t, lines[1], knownFolio)
	assert.Contains(t, lines[1], "OK")
}

func TestMunicipalities(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/municipalities", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Municipalities []string `json:"municipalities"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, []string{"Coral Gables", "Miami Beach"}, got.Municipalities)
}

func TestZones(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zones?municipality=Coral+Gables", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Municipality string               `json:"municipality"`
		Zones        []domain.ZoningEntry `json:"zones"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, "Coral Gables", got.Municipality)
	require.Len(t, got.Zones, 2)
	assert.Equal(t, "T3-O", got.Zones[0].Zone)
}

func TestZones_UnknownMunicipality(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zones?municipality=Atlantis", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "/api/municipalities")
}

func TestZones_MissingParam(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/zones", "").Code)
}

func TestZones_CSVExport(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zones?municipality=Coral+Gables&format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "Zone,Description\n"))
}

func TestSales(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/sales?municipality=Miami+Beach&days=90", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		WindowDays int                `json:"window_days"`
		Sales      domain.SalesResult `json:"sales"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, 90, got.WindowDays)
	assert.True(t, got.Sales.Windowed)
	require.Len(t, got.Sales.Records, 1)
	assert.Equal(t, "30-4015-009-0120", got.Sales.Records[0].Folio)
}

func TestSales_InvalidDays(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	assert.Equal(t, http.StatusBadRequest,
		doRequest(s, http.MethodGet, "/api/sales?municipality=Miami+Beach&days=soon", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		doRequest(s, http.MethodGet, "/api/sales?municipality=Miami+Beach&days=-5", "").Code)
}

func TestSales_CSVExport(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/sales?municipality=Miami+Beach&format=csv", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "Miami Beach_recent_sales.csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "Sale Date,Price,"))
	assert.Contains(t, lines[1], "650000")
}

func TestZoningAt_Coordinates(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zoning-at?lat=25.77&lon=-80.19", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Zoning domain.ZoningAtPoint `json:"zoning"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, "T6-8-O", got.Zoning.Zone)
}

func TestZoningAt_Address(t *testing.T) {
	geo := stubGeocoder{loc: &nominatim.Location{Lat: 25.77, Lon: -80.19}}
	s := newTestServer(&worldExec{}, geo, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zoning-at?address=123+Main+St+Miami", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestZoningAt_AddressNotFound(t *testing.T) {
	s := newTestServer(&worldExec{}, stubGeocoder{}, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zoning-at?address=nowhere", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestZoningAt_GeocoderDisabled(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zoning-at?address=123+Main+St", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "lat and lon")
}

func TestZoningAt_GeocoderDown(t *testing.T) {
	s := newTestServer(&worldExec{}, stubGeocoder{err: errors.New("timeout")}, stubReady{})
	w := doRequest(s, http.MethodGet, "/api/zoning-at?address=123+Main+St", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestZoningAt_MissingParams(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	assert.Equal(t, http.StatusBadRequest, doRequest(s, http.MethodGet, "/api/zoning-at", "").Code)
}

func TestBulk(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodPost, "/api/bulk", "0131250460340\n9999999999999")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Requested int              `json:"requested"`
		Rows      []domain.BulkRow `json:"rows"`
	}
	decodeBody(t, w, &got)
	assert.Equal(t, 2, got.Requested)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, domain.BulkOK, got.Rows[0].Status)
	assert.Equal(t, domain.BulkNotFound, got.Rows[1].Status)
}

func TestBulk_EmptyBody(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodPost, "/api/bulk", "   \n  ")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBulk_CSVExport(t *testing.T) {
	s := newTestServer(&worldExec{}, nil, stubReady{})
	w := doRequest(s, http.MethodPost, "/api/bulk?format=csv", "0131250460340")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], knownFolio)
}
