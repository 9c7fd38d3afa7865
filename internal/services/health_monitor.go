// Package services hosts the background workers running alongside the API.
package services

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/mescon/hydrarr/internal/arr"
	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
	"github.com/mescon/hydrarr/internal/metrics"
	"github.com/mescon/hydrarr/internal/qbit"
)

// ServiceStatus is one row of the services listing.
type ServiceStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
	Online     bool   `json:"online"`
	Version    string `json:"version,omitempty"`
	Message    string `json:"message,omitempty"`
}

// QBitStatus is the download client's block in the services listing.
type QBitStatus struct {
	Configured bool        `json:"configured"`
	Status     qbit.Status `json:"status"`
}

type statusUpstream interface {
	RequestWithFallback(ctx context.Context, service string, endpoints []string, opts *arr.RequestOptions) (any, error)
}

type statusDownloadClient interface {
	FetchStatus(ctx context.Context) qbit.Status
}

type transitionListener interface {
	ServiceDown(service, reason string)
	ServiceUp(service string)
}

// HealthMonitor probes every configured service on a cron schedule,
// updates the service-up gauge, and notifies on up/down transitions.
// Probes always run fresh; the monitor keeps no cache beyond the last
// online flag per service.
type HealthMonitor struct {
	cfg      *config.Config
	log      *logger.Logger
	metrics  *metrics.Service
	upstream statusUpstream
	qbit     statusDownloadClient
	notify   transitionListener
	cron     *cron.Cron

	mu       sync.Mutex
	lastSeen map[string]bool
}

func NewHealthMonitor(cfg *config.Config, log *logger.Logger, m *metrics.Service, upstream statusUpstream, qb statusDownloadClient, notify transitionListener) *HealthMonitor {
	return &HealthMonitor{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		upstream: upstream,
		qbit:     qb,
		notify:   notify,
		cron:     cron.New(),
		lastSeen: make(map[string]bool),
	}
}

// Start schedules the periodic probe. An empty schedule disables the
// monitor entirely.
func (h *HealthMonitor) Start() error {
	if h.cfg.HealthCheckSchedule == "" {
		h.log.Infof("Health monitor disabled (no schedule configured)")
		return nil
	}
	_, err := h.cron.AddFunc(h.cfg.HealthCheckSchedule, func() {
		h.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	h.cron.Start()
	h.log.Infof("Health monitor started with schedule %q", h.cfg.HealthCheckSchedule)
	return nil
}

func (h *HealthMonitor) Stop() {
	h.cron.Stop()
}

// RunOnce probes everything once and processes the transitions.
func (h *HealthMonitor) RunOnce(ctx context.Context) {
	statuses, qbitStatus := h.CheckAll(ctx)
	for _, status := range statuses {
		if !status.Configured {
			continue
		}
		h.metrics.SetServiceUp(status.Name, status.Online)
		h.transition(status.Name, status.Online, status.Message)
	}
	if qbitStatus.Configured {
		h.metrics.SetServiceUp("qbittorrent", qbitStatus.Status.Online)
		h.transition("qbittorrent", qbitStatus.Status.Online, qbitStatus.Status.Message)
	}
}

// transition fires a notification only when the online flag actually
// changed since the last probe. The first probe establishes the baseline:
// an initially offline service notifies, an initially online one is silent.
func (h *HealthMonitor) transition(service string, online bool, message string) {
	h.mu.Lock()
	prev, seen := h.lastSeen[service]
	h.lastSeen[service] = online
	h.mu.Unlock()

	if seen && prev == online {
		return
	}
	if online {
		if seen {
			h.notify.ServiceUp(service)
		}
		return
	}
	h.log.Warnf("Service went offline: %s (%s)", service, message)
	h.notify.ServiceDown(service, message)
}

// CheckAll probes every configured manager plus the download client
// concurrently and returns the fresh statuses.
func (h *HealthMonitor) CheckAll(ctx context.Context) ([]ServiceStatus, QBitStatus) {
	statuses := make([]ServiceStatus, len(config.ServiceNames))

	var wg sync.WaitGroup
	for i, name := range config.ServiceNames {
		if !h.cfg.Services[name].Configured() {
			statuses[i] = ServiceStatus{Name: name}
			continue
		}
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			statuses[i] = h.probe(ctx, name)
		}(i, name)
	}

	var qbitStatus QBitStatus
	wg.Add(1)
	go func() {
		defer wg.Done()
		qbitStatus = QBitStatus{
			Configured: h.cfg.QBittorrent.Configured(),
			Status:     h.qbit.FetchStatus(ctx),
		}
	}()

	wg.Wait()
	return statuses, qbitStatus
}

// probe hits the manager's system/status endpoint. Any failure marks the
// service offline with the failure kind as message; probes never error.
func (h *HealthMonitor) probe(ctx context.Context, name string) ServiceStatus {
	status := ServiceStatus{Name: name, Configured: true}

	v, err := h.upstream.RequestWithFallback(ctx, name, arr.Endpoints(name, "system/status"), nil)
	if err != nil {
		status.Message = err.Error()
		return status
	}

	status.Online = true
	if m, ok := v.(map[string]any); ok {
		if version, ok := m["version"].(string); ok {
			status.Version = version
		}
	}
	return status
}
