package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/hydrarr/internal/arr"
	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
	"github.com/mescon/hydrarr/internal/metrics"
	"github.com/mescon/hydrarr/internal/qbit"
)

type stubUpstream struct {
	mu   sync.Mutex
	up   map[string]bool
	vers map[string]string
}

func (s *stubUpstream) RequestWithFallback(ctx context.Context, service string, endpoints []string, opts *arr.RequestOptions) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.up[service] {
		return nil, &arr.UpstreamStatusError{Service: service, StatusCode: 503}
	}
	return map[string]any{"version": s.vers[service]}, nil
}

type stubQbit struct {
	status qbit.Status
}

func (s *stubQbit) FetchStatus(ctx context.Context) qbit.Status {
	return s.status
}

type stubNotifier struct {
	mu    sync.Mutex
	downs []string
	ups   []string
}

func (s *stubNotifier) ServiceDown(service, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.downs = append(s.downs, service)
}

func (s *stubNotifier) ServiceUp(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ups = append(s.ups, service)
}

func testMonitor(t *testing.T, upstream *stubUpstream, qb *stubQbit) (*HealthMonitor, *stubNotifier) {
	t.Helper()
	cfg := config.NewTestConfig()
	cfg.Services["sonarr"] = config.Service{Name: "sonarr", URL: "http://sonarr:8989", APIKey: "k"}
	cfg.Services["radarr"] = config.Service{Name: "radarr", URL: "http://radarr:7878", APIKey: "k"}
	notify := &stubNotifier{}
	if qb == nil {
		qb = &stubQbit{status: qbit.Status{Online: false, Message: "not configured"}}
	}
	return NewHealthMonitor(cfg, logger.Discard(), metrics.New(), upstream, qb, notify), notify
}

func TestCheckAllProbesOnlyConfigured(t *testing.T) {
	upstream := &stubUpstream{
		up:   map[string]bool{"sonarr": true, "radarr": false},
		vers: map[string]string{"sonarr": "4.0.0"},
	}
	monitor, _ := testMonitor(t, upstream, nil)

	statuses, _ := monitor.CheckAll(context.Background())
	byName := make(map[string]ServiceStatus)
	for _, s := range statuses {
		byName[s.Name] = s
	}

	assert.True(t, byName["sonarr"].Online)
	assert.Equal(t, "4.0.0", byName["sonarr"].Version)
	assert.False(t, byName["radarr"].Online)
	assert.NotEmpty(t, byName["radarr"].Message)

	// Unconfigured services are listed but never probed.
	assert.False(t, byName["lidarr"].Configured)
	assert.False(t, byName["lidarr"].Online)
}

func TestRunOnceNotifiesOnTransitions(t *testing.T) {
	upstream := &stubUpstream{
		up:   map[string]bool{"sonarr": true, "radarr": true},
		vers: map[string]string{},
	}
	monitor, notify := testMonitor(t, upstream, nil)

	// Baseline probe: everything online, nothing to announce.
	monitor.RunOnce(context.Background())
	assert.Empty(t, notify.downs)
	assert.Empty(t, notify.ups)

	// Sonarr drops.
	upstream.mu.Lock()
	upstream.up["sonarr"] = false
	upstream.mu.Unlock()
	monitor.RunOnce(context.Background())
	require.Equal(t, []string{"sonarr"}, notify.downs)

	// Still down: no repeat.
	monitor.RunOnce(context.Background())
	assert.Equal(t, []string{"sonarr"}, notify.downs)

	// Recovery.
	upstream.mu.Lock()
	upstream.up["sonarr"] = true
	upstream.mu.Unlock()
	monitor.RunOnce(context.Background())
	assert.Equal(t, []string{"sonarr"}, notify.ups)
}

func TestRunOnceInitiallyOfflineNotifies(t *testing.T) {
	upstream := &stubUpstream{up: map[string]bool{"sonarr": false, "radarr": true}}
	monitor, notify := testMonitor(t, upstream, nil)

	monitor.RunOnce(context.Background())
	assert.Equal(t, []string{"sonarr"}, notify.downs)
	assert.Empty(t, notify.ups)
}

func TestRunOnceTracksQbitTransitions(t *testing.T) {
	upstream := &stubUpstream{up: map[string]bool{"sonarr": true, "radarr": true}}
	qb := &stubQbit{status: qbit.Status{Online: true, Version: "v4.6.3"}}
	monitor, notify := testMonitor(t, upstream, qb)
	monitor.cfg.QBittorrent = config.QBittorrent{URL: "http://qbit:8080"}

	monitor.RunOnce(context.Background())
	assert.Empty(t, notify.downs)

	qb.status = qbit.Status{Online: false, Message: "connection refused"}
	monitor.RunOnce(context.Background())
	assert.Equal(t, []string{"qbittorrent"}, notify.downs)
}

func TestStartWithoutScheduleIsNoop(t *testing.T) {
	upstream := &stubUpstream{up: map[string]bool{}}
	monitor, _ := testMonitor(t, upstream, nil)
	monitor.cfg.HealthCheckSchedule = ""

	require.NoError(t, monitor.Start())
	monitor.Stop()
}

func TestStartRejectsBadSchedule(t *testing.T) {
	upstream := &stubUpstream{up: map[string]bool{}}
	monitor, _ := testMonitor(t, upstream, nil)
	monitor.cfg.HealthCheckSchedule = "not a schedule"

	require.Error(t, monitor.Start())
}
