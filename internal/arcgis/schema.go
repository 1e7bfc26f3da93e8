package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultFolioField is the hardcoded fallback when schema discovery
// cannot resolve a parcel-identifier field. Wrong-but-available beats
// failing the whole lookup; the query will just return zero matches.
const DefaultFolioField = "folio"

// folioFieldCandidates are likely parcel-identifier field names in
// preference order, matched case-insensitively.
var folioFieldCandidates = []string{
	"folio", "folio_num", "folio_nbr", "folioid", "folio_number", "md_folio",
}

// FieldResolution records how a folio field name was arrived at, so
// callers and tests can tell a discovered name from the fallback.
type FieldResolution string

const (
	ResolutionExact     FieldResolution = "exact"
	ResolutionSubstring FieldResolution = "substring"
	ResolutionDefault   FieldResolution = "default"
)

// FieldResolver discovers a layer's parcel-identifier field from its
// metadata, memoizing per service/layer for a TTL.
type FieldResolver struct {
	httpClient *http.Client
	clock      clockwork.Clock
	ttl        time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]fieldsEntry
}

type fieldsEntry struct {
	fields  []Field // service-declared order
	expires time.Time
}

// NewFieldResolver creates a resolver with the given metadata TTL.
func NewFieldResolver(timeout, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger) *FieldResolver {
	return &FieldResolver{
		httpClient: &http.Client{Timeout: timeout},
		clock:      clock,
		ttl:        ttl,
		logger:     logger,
		cache:      make(map[string]fieldsEntry),
	}
}

// ResolveFolioField returns the layer's folio field name. It tries the
// candidate list against the layer metadata, then any field whose name
// contains "folio", then DefaultFolioField. It never fails: metadata
// errors degrade to the default, reported via the resolution kind.
func (r *FieldResolver) ResolveFolioField(ctx context.Context, svc Service, layer int) (string, FieldResolution) {
	fields, err := r.layerFields(ctx, svc, layer)
	if err != nil {
		r.logger.Warn("layer metadata unavailable, using default folio field",
			"service", svc.Name, "layer", layer, "error", err)
		return DefaultFolioField, ResolutionDefault
	}

	for _, cand := range folioFieldCandidates {
		for _, f := range fields {
			if strings.EqualFold(f.Name, cand) {
				return f.Name, ResolutionExact
			}
		}
	}
	// Fallback scans in the service's declared field order so the pick
	// is stable when several names contain "folio".
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f.Name), "folio") {
			return f.Name, ResolutionSubstring
		}
	}
	return DefaultFolioField, ResolutionDefault
}

// layerFields fetches {service}/{layer}?f=json and returns the field
// definitions in the order the service declares them.
func (r *FieldResolver) layerFields(ctx context.Context, svc Service, layer int) ([]Field, error) {
	key := fmt.Sprintf("%s/%d", svc.URL, layer)

	r.mu.Lock()
	if e, ok := r.cache[key]; ok && r.clock.Now().Before(e.expires) {
		r.mu.Unlock()
		return e.fields, nil
	}
	r.mu.Unlock()

	u := fmt.Sprintf("%s/%d?f=json", strings.TrimRight(svc.URL, "/"), layer)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create metadata request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch layer metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("layer metadata status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var meta struct {
		Fields []Field `json:"fields"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode layer metadata: %w", err)
	}

	fields := make([]Field, 0, len(meta.Fields))
	for _, f := range meta.Fields {
		if f.Name == "" {
			continue
		}
		fields = append(fields, f)
	}

	r.mu.Lock()
	r.cache[key] = fieldsEntry{fields: fields, expires: r.clock.Now().Add(r.ttl)}
	r.mu.Unlock()
	return fields, nil
}
