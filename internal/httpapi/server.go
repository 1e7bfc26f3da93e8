// Package httpapi exposes the query layer over HTTP: JSON endpoints
// for the dashboard UI, CSV exports, and the health/metrics routes.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/nominatim"
	"github.com/mdc-tools/parcel-insights/internal/service"
)

// maxBulkBody bounds a pasted folio list; generous for 13-digit codes.
const maxBulkBody = 1 << 20

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Server exposes the query layer plus health, readiness, and metrics.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger

	resolver  *service.Resolver
	area      *service.AreaEngine
	directory *service.Directory
	bulk      *service.BulkResolver
	geocoder  nominatim.Geocoder // nil when geocoding is disabled
	ready     ReadinessChecker
}

// NewServer creates the API server and its routes.
func NewServer(
	addr string,
	resolver *service.Resolver,
	area *service.AreaEngine,
	directory *service.Directory,
	bulk *service.BulkResolver,
	geocoder nominatim.Geocoder,
	ready ReadinessChecker,
	logger *slog.Logger,
) *Server {
	s := &Server{
		logger:    logger,
		resolver:  resolver,
		area:      area,
		directory: directory,
		bulk:      bulk,
		geocoder:  geocoder,
		ready:     ready,
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/property", s.handleProperty)
		r.Get("/municipalities", s.handleMunicipalities)
		r.Get("/zones", s.handleZones)
		r.Get("/sales", s.handleSales)
		r.Get("/zoning-at", s.handleZoningAt)
		r.Post("/bulk", s.handleBulk)
	})

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // bulk runs are slow by design
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.ready.CheckReadiness(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleProperty resolves one folio.
// GET /api/property?folio=01-3125-046-0340&prefer=county|hosted
func (s *Server) handleProperty(w http.ResponseWriter, r *http.Request) {
	folio := r.URL.Query().Get("folio")
	if folio == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("folio query parameter is required", ""))
		return
	}
	preferCounty := r.URL.Query().Get("prefer") != "hosted"

	match, err := s.resolver.Lookup(r.Context(), folio, preferCounty)
	if err != nil {
		s.writeLookupError(w, err, preferCounty)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		writeCSVHeaders(w, "property.csv")
		row := domain.BulkRow{
			Folio:     match.Record.Folio,
			Status:    domain.BulkOK,
			Record:    &match.Record,
			Source:    match.Source,
			WhereUsed: match.WhereUsed,
		}
		if err := writeBulkCSV(w, []domain.BulkRow{row}); err != nil {
			s.logger.Error("csv write failed", "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, struct {
		domain.PropertyMatch
		AppraiserURL string `json:"appraiser_url"`
	}{*match, domain.AppraiserURL(match.Record.Folio)})
}

// handleMunicipalities lists boundary names for the area picker.
func (s *Server) handleMunicipalities(w http.ResponseWriter, r *http.Request) {
	items, err := s.directory.List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"municipalities": names})
}

// handleZones returns the zoning mix of a municipality.
// GET /api/zones?municipality=Coral+Gables[&format=csv]
func (s *Server) handleZones(w http.ResponseWriter, r *http.Request) {
	boundary, ok := s.lookupBoundary(w, r)
	if !ok {
		return
	}
	entries, err := s.area.ZonesIn(r.Context(), boundary.Rings)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		writeCSVHeaders(w, boundary.Name+"_zoning.csv")
		if err := writeZonesCSV(w, entries); err != nil {
			s.logger.Error("csv write failed", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"municipality": boundary.Name,
		"zones":        entries,
	})
}

// handleSales returns recent sales inside a municipality.
// GET /api/sales?municipality=Coral+Gables&days=90[&format=csv]
func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	boundary, ok := s.lookupBoundary(w, r)
	if !ok {
		return
	}
	days := 90
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("days must be a positive integer", ""))
			return
		}
		days = n
	}

	result, err := s.area.SalesIn(r.Context(), boundary.Rings, days)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "csv" {
		writeCSVHeaders(w, boundary.Name+"_recent_sales.csv")
		if err := writeSalesCSV(w, result.Records); err != nil {
			s.logger.Error("csv write failed", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"municipality": boundary.Name,
		"window_days":  days,
		"sales":        result,
	})
}

// handleZoningAt returns the zoning at a coordinate or geocoded address.
// GET /api/zoning-at?lat=&lon=  or  GET /api/zoning-at?address=
func (s *Server) handleZoningAt(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var lat, lon float64
	switch {
	case q.Get("address") != "":
		if s.geocoder == nil {
			writeJSON(w, http.StatusBadRequest, errorBody("address lookups are disabled", "supply lat and lon instead"))
			return
		}
		loc, err := s.geocoder.Geocode(r.Context(), q.Get("address"))
		if err != nil {
			s.logger.Warn("geocode failed", "error", err)
			writeJSON(w, http.StatusBadGateway, errorBody("address lookup unavailable", "retry, or supply lat and lon"))
			return
		}
		if loc == nil {
			writeJSON(w, http.StatusNotFound, errorBody("address not found", "check the address or supply lat and lon"))
			return
		}
		lat, lon = loc.Lat, loc.Lon
	default:
		var errLat, errLon error
		lat, errLat = strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon = strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("lat and lon (or address) are required", ""))
			return
		}
	}

	zone, err := s.area.ZoningAt(r.Context(), lon, lat)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody(
				"no zoning polygon found at this point",
				"try moving the point or selecting a municipality"))
			return
		}
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lat": lat, "lon": lon, "zoning": zone,
	})
}

// handleBulk runs a bulk folio lookup over a text body of identifiers.
// POST /api/bulk?prefer=county|hosted[&format=csv]
func (s *Server) handleBulk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBulkBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("could not read request body", ""))
		return
	}
	folios := domain.ParseBulk(string(body))
	if len(folios) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody(
			"no folios found in request body",
			"paste folios one per line, or separated by commas"))
		return
	}
	preferCounty := r.URL.Query().Get("prefer") != "hosted"

	rows := s.bulk.ResolveAll(r.Context(), folios, preferCounty)

	if r.URL.Query().Get("format") == "csv" {
		writeCSVHeaders(w, "mdc_properties_bulk.csv")
		if err := writeBulkCSV(w, rows); err != nil {
			s.logger.Error("csv write failed", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"requested": len(folios),
		"rows":      rows,
	})
}

// lookupBoundary resolves the municipality query parameter, writing the
// error response itself when resolution fails.
func (s *Server) lookupBoundary(w http.ResponseWriter, r *http.Request) (*domain.Municipality, bool) {
	name := r.URL.Query().Get("municipality")
	if name == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("municipality query parameter is required", ""))
		return nil, false
	}
	boundary, err := s.directory.Find(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody(
				"unknown municipality: "+name,
				"list valid names via /api/municipalities"))
			return nil, false
		}
		s.writeServiceError(w, err)
		return nil, false
	}
	return boundary, true
}

func (s *Server) writeLookupError(w http.ResponseWriter, err error, preferCounty bool) {
	if errors.Is(err, domain.ErrNotFound) {
		other := "hosted"
		if !preferCounty {
			other = "county"
		}
		writeJSON(w, http.StatusNotFound, errorBody(
			"no property found for that folio",
			"try prefer="+other+", or open the Property Appraiser link"))
		return
	}
	s.writeServiceError(w, err)
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrServiceUnavailable) {
		writeJSON(w, http.StatusBadGateway, errorBody(
			"the county data services are unavailable right now",
			"retry shortly; details: "+err.Error()))
		return
	}
	s.logger.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody("internal error", ""))
}

// errorBody pairs a message with a suggested next action. The
// suggestion is display text, not something to branch on.
func errorBody(msg, suggestion string) map[string]string {
	body := map[string]string{"error": msg}
	if suggestion != "" {
		body["suggestion"] = suggestion
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}

func writeCSVHeaders(w http.ResponseWriter, filename string) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
}
