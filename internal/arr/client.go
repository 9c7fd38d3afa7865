// Package arr is the generic HTTP client for the configured upstream
// managers (Sonarr, Radarr, Lidarr, Readarr, Prowlarr, Bazarr). It builds
// authenticated requests, applies a timeout, falls back across alternate
// endpoint paths, and classifies failures so callers can degrade gracefully.
package arr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
	"github.com/mescon/hydrarr/internal/metrics"
)

// snippetLen caps the response body excerpt carried in errors.
const snippetLen = 120

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 10 << 20

// apiBases maps each service to its API path prefixes, tried in order.
// Sonarr and Radarr moved to /api/v3 with a legacy /api fallback; the v1
// services never had a v3.
var apiBases = map[string][]string{
	"sonarr":   {"/api/v3", "/api"},
	"radarr":   {"/api/v3", "/api"},
	"lidarr":   {"/api/v1", "/api"},
	"readarr":  {"/api/v1", "/api"},
	"prowlarr": {"/api/v1", "/api"},
	"bazarr":   {"/api"},
}

// Endpoints returns the candidate endpoint paths for a relative resource,
// one per API base of the service, for use with RequestWithFallback.
func Endpoints(service, resource string) []string {
	bases, ok := apiBases[service]
	if !ok {
		bases = []string{"/api/v1"}
	}
	paths := make([]string, len(bases))
	for i, base := range bases {
		paths[i] = base + "/" + strings.TrimLeft(resource, "/")
	}
	return paths
}

// PrimaryEndpoint returns the preferred endpoint path for a resource.
func PrimaryEndpoint(service, resource string) string {
	return Endpoints(service, resource)[0]
}

// RequestOptions tune a single upstream call.
type RequestOptions struct {
	// Method defaults to GET.
	Method string
	// Body is JSON-encoded unless it is already a string.
	Body any
	// Timeout overrides the configured default.
	Timeout time.Duration
}

// Client issues requests to the configured upstream services.
type Client struct {
	cfg        *config.Config
	log        *logger.Logger
	metrics    *metrics.Service
	httpClient *http.Client
}

// NewClient creates a Client. The metrics service may not be nil; pass a
// fresh metrics.New() in tests.
func NewClient(cfg *config.Config, log *logger.Logger, m *metrics.Service) *Client {
	return &Client{
		cfg:     cfg,
		log:     log,
		metrics: m,
		// Per-call deadlines come from the request context; the client
		// itself carries no timeout.
		httpClient: &http.Client{},
	}
}

// Request performs one authenticated call against a configured service and
// returns the decoded JSON payload. A 204 yields an empty object. All
// failure modes map onto the package's error taxonomy.
func (c *Client) Request(ctx context.Context, service, endpoint string, opts *RequestOptions) (any, error) {
	v, err := c.request(ctx, service, endpoint, opts)
	outcome := "ok"
	if err != nil {
		outcome = FailureKind(err)
	}
	c.metrics.RecordUpstreamRequest(service, outcome)
	return v, err
}

func (c *Client) request(ctx context.Context, service, endpoint string, opts *RequestOptions) (any, error) {
	svc, ok := c.cfg.Services[service]
	if !ok || !svc.Configured() {
		return nil, &NotConfiguredError{Service: service}
	}

	if opts == nil {
		opts = &RequestOptions{}
	}
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.UpstreamTimeout
	}

	url := strings.TrimRight(svc.URL, "/") + "/" + strings.TrimLeft(endpoint, "/")

	var body io.Reader
	if method != http.MethodGet && opts.Body != nil {
		if s, isStr := opts.Body.(string); isStr {
			body = strings.NewReader(s)
		} else {
			encoded, err := json.Marshal(opts.Body)
			if err != nil {
				return nil, fmt.Errorf("%s: encode request body: %w", service, err)
			}
			body = bytes.NewReader(encoded)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", service, err)
	}
	req.Header.Set("X-Api-Key", svc.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Warnf("Upstream timeout: service=%s endpoint=%s timeout=%s", service, endpoint, timeout)
			return nil, &TimeoutError{Service: service, Endpoint: endpoint, Timeout: timeout}
		}
		c.log.Warnf("Upstream request failed: service=%s endpoint=%s error=%v", service, endpoint, err)
		return nil, fmt.Errorf("%s: %w", service, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return map[string]any{}, nil
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.log.Warnf("Upstream body read failed: service=%s endpoint=%s error=%v", service, endpoint, err)
		return nil, fmt.Errorf("%s: read response: %w", service, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &UpstreamStatusError{
			Service:    service,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Snippet:    snippet(raw),
		}
		c.log.Warnf("Upstream error status: service=%s endpoint=%s status=%d body=%q",
			service, endpoint, resp.StatusCode, statusErr.Snippet)
		return nil, statusErr
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "json") {
		nonJSON := &NonJSONResponseError{
			Service:     service,
			Endpoint:    endpoint,
			ContentType: contentType,
			Snippet:     snippet(raw),
		}
		c.log.Warnf("Upstream non-JSON response: service=%s endpoint=%s content_type=%q", service, endpoint, contentType)
		return nil, nonJSON
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.log.Warnf("Upstream JSON decode failed: service=%s endpoint=%s error=%v", service, endpoint, err)
		return nil, &NonJSONResponseError{
			Service:     service,
			Endpoint:    endpoint,
			ContentType: contentType,
			Snippet:     snippet(raw),
		}
	}
	return parsed, nil
}

// RequestWithFallback tries each endpoint in order and returns the first
// success. When every endpoint fails, the last error is returned.
func (c *Client) RequestWithFallback(ctx context.Context, service string, endpoints []string, opts *RequestOptions) (any, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%s: no endpoint available", service)
	}

	var lastErr error
	for _, endpoint := range endpoints {
		v, err := c.Request(ctx, service, endpoint, opts)
		if err == nil {
			return v, nil
		}
		lastErr = err
		// Not-configured never resolves by trying another path.
		if IsNotConfigured(err) {
			break
		}
		c.log.Debugf("Endpoint fallback: service=%s endpoint=%s kind=%s", service, endpoint, FailureKind(err))
	}
	return nil, lastErr
}

func snippet(raw []byte) string {
	s := string(raw)
	if len(s) > snippetLen {
		s = s[:snippetLen]
	}
	return s
}
