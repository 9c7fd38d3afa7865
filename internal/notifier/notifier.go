// Package notifier sends service up/down notifications through shoutrrr.
package notifier

import (
	"fmt"
	"sync"
	"time"

	"github.com/containrrr/shoutrrr"

	"github.com/mescon/hydrarr/internal/config"
	"github.com/mescon/hydrarr/internal/logger"
)

// defaultThrottle suppresses repeat notifications for the same service
// transition inside this window, so a flapping upstream does not spam
// every configured channel.
const defaultThrottle = 5 * time.Minute

// sendFunc matches shoutrrr.Send; swapped out in tests.
type sendFunc func(rawURL, message string) error

// Notifier fans a message out to every configured shoutrrr URL.
type Notifier struct {
	cfg      *config.Config
	log      *logger.Logger
	send     sendFunc
	throttle time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func New(cfg *config.Config, log *logger.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		log:      log,
		send:     shoutrrr.Send,
		throttle: defaultThrottle,
		lastSent: make(map[string]time.Time),
	}
}

// Enabled reports whether any notification URL is configured.
func (n *Notifier) Enabled() bool {
	return len(n.cfg.NotifyURLs) > 0
}

// ServiceDown announces that a service stopped answering its status probe.
func (n *Notifier) ServiceDown(service, reason string) {
	msg := fmt.Sprintf("🔴 %s is offline", service)
	if reason != "" {
		msg += fmt.Sprintf("\n⚠️ %s", reason)
	}
	n.notify("down:"+service, msg)
}

// ServiceUp announces that a previously offline service recovered.
func (n *Notifier) ServiceUp(service string) {
	n.notify("up:"+service, fmt.Sprintf("✅ %s is back online", service))
}

// notify sends the message to every URL unless the same transition fired
// inside the throttle window. Delivery runs asynchronously; failures are
// logged per URL and never propagate.
func (n *Notifier) notify(key, message string) {
	if !n.Enabled() {
		return
	}
	if !n.canSend(key) {
		n.log.Debugf("Notification throttled: %s", key)
		return
	}

	for _, rawURL := range n.cfg.NotifyURLs {
		go func(rawURL string) {
			if err := n.send(rawURL, message); err != nil {
				n.log.Errorf("Failed to send notification: %v", err)
				return
			}
			n.log.Debugf("Notification sent: %s", key)
		}(rawURL)
	}
}

func (n *Notifier) canSend(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastSent[key]; ok && time.Since(last) < n.throttle {
		return false
	}
	n.lastSent[key] = time.Now()
	return true
}
