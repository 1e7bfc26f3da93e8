// Package arcgis is a client for Esri ArcGIS REST query endpoints
// (FeatureServer and MapServer layers). It owns transport selection,
// retry, the service error taxonomy, layer schema discovery, and query
// memoization; everything above it works with decoded feature sets.
package arcgis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mdc-tools/parcel-insights/internal/domain"
	"github.com/mdc-tools/parcel-insights/internal/observability"
)

// maxGetChars is the request size beyond which the client switches from
// GET to a form POST. Size-limited gateways in front of the county
// services reject longer GET URLs with 413/414.
const maxGetChars = 1800

// Service identifies one remote GIS query endpoint.
type Service struct {
	Name string // short label for logs, metrics, and provenance
	URL  string // service root, e.g. ".../MD_Emaps/MapServer"
}

// Params is the caller-supplied portion of a layer query.
type Params map[string]string

// Feature is one record in a query response.
type Feature struct {
	Attributes map[string]any  `json:"attributes"`
	Geometry   json.RawMessage `json:"geometry,omitempty"`
}

// QueryResponse is a decoded, well-formed query result. Zero features
// is a valid outcome and distinct from any error.
type QueryResponse struct {
	Features              []Feature `json:"features"`
	Fields                []Field   `json:"fields,omitempty"`
	ExceededTransferLimit bool      `json:"exceededTransferLimit,omitempty"`
}

// Field is one column definition from a layer's schema.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Alias string `json:"alias,omitempty"`
}

// ErrorKind classifies a failed query for diagnostics.
type ErrorKind string

const (
	// KindTransport covers network failures and non-2xx statuses.
	KindTransport ErrorKind = "transport"
	// KindService covers 2xx responses whose body encodes an error.
	KindService ErrorKind = "service"
	// KindDecode covers 2xx responses that are not valid JSON.
	KindDecode ErrorKind = "decode"
)

// QueryError is the single failure type crossing the client boundary.
// It unwraps to domain.ErrServiceUnavailable so callers can branch on
// the sentinel without knowing this package's taxonomy.
type QueryError struct {
	Kind    ErrorKind
	Service string
	Layer   int
	Status  int
	Message string
}

func (e *QueryError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s/%d query failed (%s, status %d): %s", e.Service, e.Layer, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s/%d query failed (%s): %s", e.Service, e.Layer, e.Kind, e.Message)
}

func (e *QueryError) Unwrap() error { return domain.ErrServiceUnavailable }

// retryableStatuses are transient per the services' observed behavior;
// anything else fails immediately.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Executor issues one GIS layer query. Implemented by Client and the
// caching decorator; mocked in resolver tests.
type Executor interface {
	Query(ctx context.Context, svc Service, layer int, params Params) (*QueryResponse, error)
}

// Client issues live queries with bounded retry.
type Client struct {
	httpClient *http.Client
	maxRetries int
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a query client. maxRetries counts retries after the
// first attempt.
func NewClient(timeout time.Duration, maxRetries int, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		metrics:    metrics,
		logger:     logger,
	}
}

// Query runs a layer query and returns the decoded feature set, or a
// *QueryError. Defaults: f=json, where=1=1, outFields=*, no geometry.
// outSR is set only when geometry is requested back, because some
// layers reject the parameter otherwise. Requests carrying geometry or
// exceeding maxGetChars go as form POSTs.
func (c *Client) Query(ctx context.Context, svc Service, layer int, params Params) (*QueryResponse, error) {
	base := fmt.Sprintf("%s/%d/query", strings.TrimRight(svc.URL, "/"), layer)

	form := url.Values{}
	form.Set("f", "json")
	form.Set("where", "1=1")
	form.Set("outFields", "*")
	form.Set("returnGeometry", "false")
	for k, v := range params {
		form.Set(k, v)
	}
	if form.Get("returnGeometry") == "true" && form.Get("outSR") == "" {
		form.Set("outSR", "4326")
	}
	encoded := form.Encode()

	_, hasGeometry := params["geometry"]
	usePost := hasGeometry || len(base)+len(encoded) > maxGetChars

	start := time.Now()
	var resp *QueryResponse
	op := func() error {
		r, err := c.doOnce(ctx, svc, layer, base, encoded, usePost)
		if err != nil {
			var qe *QueryError
			if errors.As(err, &qe) && qe.Kind == KindTransport && (qe.Status == 0 || retryableStatuses[qe.Status]) {
				return err
			}
			return backoff.Permanent(err)
		}
		resp = r
		return nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = 5 * time.Second
	bo := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.maxRetries)), ctx)

	err := backoff.RetryNotify(op, bo, func(err error, wait time.Duration) {
		c.metrics.QueryRetries.Inc()
		c.logger.Warn("retrying gis query", "service", svc.Name, "layer", layer, "wait", wait, "error", err)
	})
	c.metrics.QueryDuration.WithLabelValues(svc.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := "transport_error"
		var qe *QueryError
		if errors.As(err, &qe) && qe.Kind != KindTransport {
			outcome = "service_error"
		}
		c.metrics.QueryRequests.WithLabelValues(svc.Name, outcome).Inc()
		c.logger.Error("gis query failed", "service", svc.Name, "layer", layer, "post", usePost, "error", err)
		return nil, err
	}

	outcome := "ok"
	if len(resp.Features) == 0 {
		outcome = "empty"
	}
	c.metrics.QueryRequests.WithLabelValues(svc.Name, outcome).Inc()
	c.logger.Debug("gis query", "service", svc.Name, "layer", layer, "post", usePost,
		"features", len(resp.Features), "duration", time.Since(start))
	return resp, nil
}

func (c *Client) doOnce(ctx context.Context, svc Service, layer int, base, encoded string, usePost bool) (*QueryResponse, error) {
	var req *http.Request
	var err error
	if usePost {
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, base, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+encoded, nil)
	}
	if err != nil {
		return nil, &QueryError{Kind: KindTransport, Service: svc.Name, Layer: layer, Message: err.Error()}
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &QueryError{Kind: KindTransport, Service: svc.Name, Layer: layer, Message: err.Error()}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, &QueryError{
			Kind: KindTransport, Service: svc.Name, Layer: layer,
			Status: httpResp.StatusCode, Message: strings.TrimSpace(string(body)),
		}
	}

	// ArcGIS reports logical errors inside a 200 body.
	var envelope struct {
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
		Features              []Feature `json:"features"`
		Fields                []Field   `json:"fields"`
		ExceededTransferLimit bool      `json:"exceededTransferLimit"`
	}
	if err := json.NewDecoder(httpResp.Body).Decode(&envelope); err != nil {
		return nil, &QueryError{Kind: KindDecode, Service: svc.Name, Layer: layer, Message: err.Error()}
	}
	if envelope.Error != nil {
		return nil, &QueryError{
			Kind: KindService, Service: svc.Name, Layer: layer,
			Status: envelope.Error.Code, Message: envelope.Error.Message,
		}
	}

	return &QueryResponse{
		Features:              envelope.Features,
		Fields:                envelope.Fields,
		ExceededTransferLimit: envelope.ExceededTransferLimit,
	}, nil
}
