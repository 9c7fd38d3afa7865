// Package qbit adapts the qBittorrent Web API to the shared download model.
package qbit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
	"github.com/mescon/hydrarr/internal/media"
	"github.com/mescon/hydrarr/internal/metrics"
)

// etaNoneSentinel is qBittorrent's "no ETA" marker (100 days, in seconds).
const etaNoneSentinel = 8640000

const snippetLen = 120

// ErrNotConfigured is returned when no qBittorrent URL is set.
var ErrNotConfigured = errors.New("qbittorrent: not configured")

// LoginError indicates the WebUI rejected the login request.
type LoginError struct {
	StatusCode int
	Snippet    string
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("qbittorrent: login failed with status %d: %s", e.StatusCode, e.Snippet)
}

// Status is the download client's health block in the services listing.
type Status struct {
	Online       bool     `json:"online"`
	Version      string   `json:"version"`
	DownloadRate *int64   `json:"downloadRate,omitempty"`
	UploadRate   *int64   `json:"uploadRate,omitempty"`
	Queueing     *bool    `json:"queueing,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// Client talks to a single qBittorrent instance. Each public call runs its
// own login and discards the session afterwards; cookies are never reused
// across calls.
type Client struct {
	cfg        *config.Config
	log        *logger.Logger
	metrics    *metrics.Service
	httpClient *http.Client
}

func NewClient(cfg *config.Config, log *logger.Logger, m *metrics.Service) *Client {
	return &Client{
		cfg:     cfg,
		log:     log,
		metrics: m,
		// Per-call deadlines come from context; no client-level timeout.
		httpClient: &http.Client{},
	}
}

func (c *Client) configured() bool {
	return c.cfg.QBittorrent.Configured()
}

func (c *Client) apiURL(path string) string {
	return strings.TrimRight(c.cfg.QBittorrent.URL, "/") + path
}

// login authenticates against the WebUI and returns the SID cookie value.
// Empty credentials still attempt the login: a WebUI with authentication
// disabled accepts it and some setups whitelist by address.
func (c *Client) login(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("username", c.cfg.QBittorrent.Username)
	form.Set("password", c.cfg.QBittorrent.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("/api/v2/auth/login"), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &LoginError{StatusCode: resp.StatusCode, Snippet: snippet(body)}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "SID" {
			return cookie.Value, nil
		}
	}
	// Authentication disabled: no cookie issued, requests work without one.
	return "", nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > snippetLen {
		s = s[:snippetLen]
	}
	return s
}

// get performs an authenticated GET and returns the raw body.
func (c *Client) get(ctx context.Context, sid, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL(path), nil)
	if err != nil {
		return nil, err
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "SID", Value: sid})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("qbittorrent: %s returned status %d: %s", path, resp.StatusCode, snippet(body))
	}
	return body, nil
}

func (c *Client) getJSON(ctx context.Context, sid, path string, out any) error {
	body, err := c.get(ctx, sid, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// session runs login with the configured timeout and records the outcome.
func (c *Client) session(ctx context.Context) (string, context.Context, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.UpstreamTimeout)
	sid, err := c.login(ctx)
	if err != nil {
		cancel()
		c.metrics.RecordUpstreamRequest("qbittorrent", "network")
		return "", nil, nil, err
	}
	return sid, ctx, cancel, nil
}

type torrentInfo struct {
	Hash         string  `json:"hash"`
	Name         string  `json:"name"`
	State        string  `json:"state"`
	Progress     float64 `json:"progress"`
	Eta          int64   `json:"eta"`
	NumLeechs    int64   `json:"num_leechs"`
	NumSeeds     int64   `json:"num_seeds"`
	Size         float64 `json:"size"`
	LastActivity int64   `json:"last_activity"`
}

// ListDownloads returns all torrents keyed by normalized hash. An
// unconfigured client yields an empty, unconfigured result without any
// network traffic.
func (c *Client) ListDownloads(ctx context.Context) (media.Downloads, error) {
	if !c.configured() {
		return media.Downloads{Configured: false, ByHash: map[string]media.DownloadInfo{}}, nil
	}

	sid, ctx, cancel, err := c.session(ctx)
	if err != nil {
		return media.Downloads{}, err
	}
	defer cancel()

	var torrents []torrentInfo
	if err := c.getJSON(ctx, sid, "/api/v2/torrents/info", &torrents); err != nil {
		c.metrics.RecordUpstreamRequest("qbittorrent", "network")
		return media.Downloads{}, err
	}
	c.metrics.RecordUpstreamRequest("qbittorrent", "ok")

	now := time.Now().Unix()
	byHash := make(map[string]media.DownloadInfo, len(torrents))
	for _, t := range torrents {
		hash := media.NormalizeHash(t.Hash)
		if hash == "" {
			continue
		}

		info := media.DownloadInfo{
			Hash:        hash,
			Name:        t.Name,
			State:       t.State,
			ProgressPct: media.RoundPct(t.Progress * 100),
			Peers:       t.NumLeechs + t.NumSeeds,
		}
		if gb := media.BytesToGB(t.Size); gb != nil {
			info.SizeGb = *gb
		}
		if t.Eta > 0 && t.Eta < etaNoneSentinel {
			eta := t.Eta
			info.EtaSeconds = &eta
		}
		if strings.Contains(strings.ToLower(t.State), "stalled") {
			info.IsStalled = true
			if t.LastActivity > 0 && now > t.LastActivity {
				stalled := now - t.LastActivity
				info.StalledSeconds = &stalled
			}
		}
		byHash[hash] = info
	}

	return media.Downloads{Configured: true, ByHash: byHash}, nil
}

// FetchStatus probes the WebUI version and transfer info. Failures never
// surface as errors: the client simply reports offline with a message.
func (c *Client) FetchStatus(ctx context.Context) Status {
	if !c.configured() {
		return Status{Online: false, Message: "not configured"}
	}

	sid, ctx, cancel, err := c.session(ctx)
	if err != nil {
		c.log.Warnf("qBittorrent status probe failed: %v", err)
		return Status{Online: false, Message: err.Error()}
	}
	defer cancel()

	var (
		version     string
		versionErr  error
		transfer    struct {
			DlSpeed  int64 `json:"dl_info_speed"`
			UpSpeed  int64 `json:"up_info_speed"`
			Queueing bool  `json:"queueing"`
		}
		transferErr error
	)

	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		body, err := c.get(ctx, sid, "/api/v2/app/version")
		if err != nil {
			versionErr = err
			return
		}
		version = strings.TrimSpace(string(body))
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		transferErr = c.getJSON(ctx, sid, "/api/v2/transfer/info", &transfer)
	}()
	<-done
	<-done

	if versionErr != nil {
		c.log.Warnf("qBittorrent status probe failed: %v", versionErr)
		return Status{Online: false, Message: versionErr.Error()}
	}
	if transferErr != nil {
		c.log.Warnf("qBittorrent status probe failed: %v", transferErr)
		return Status{Online: false, Message: transferErr.Error()}
	}

	return Status{
		Online:       true,
		Version:      version,
		DownloadRate: &transfer.DlSpeed,
		UploadRate:   &transfer.UpSpeed,
		Queueing:     &transfer.Queueing,
	}
}

// qBittorrent log severities: 1 normal, 2 info, 4 warning, 8 critical.
func logLevel(severity int64) string {
	switch severity {
	case 8:
		return "fatal"
	case 4:
		return "warn"
	default:
		return "info"
	}
}

// Logs returns the WebUI main log normalized onto the shared log shape.
func (c *Client) Logs(ctx context.Context) ([]media.LogEntry, error) {
	if !c.configured() {
		return nil, ErrNotConfigured
	}

	sid, ctx, cancel, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var raw []struct {
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
		Type      int64  `json:"type"`
	}
	if err := c.getJSON(ctx, sid, "/api/v2/log/main", &raw); err != nil {
		return nil, err
	}

	entries := make([]media.LogEntry, 0, len(raw))
	for _, line := range raw {
		message := line.Message
		if message == "" {
			message = "No message"
		}
		var ts *string
		if line.Timestamp > 0 {
			iso := time.Unix(line.Timestamp, 0).UTC().Format(time.RFC3339)
			ts = &iso
		}
		entries = append(entries, media.LogEntry{
			Service: "qbittorrent",
			Level:   logLevel(line.Type),
			Message: message,
			Time:    ts,
		})
	}
	return entries, nil
}
