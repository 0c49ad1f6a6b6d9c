package connstate

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goevery/ideaboard/internal/fanout"
	"go.uber.org/zap"
)

// NetworkMonitor reports whether the device has connectivity and announces
// every transition.
type NetworkMonitor interface {
	Online() bool
	Subscribe(fn func(online bool)) (unsubscribe func())
}

// Signals is a NetworkMonitor driven by explicit SetOnline calls.
type Signals struct {
	mu        sync.Mutex
	online    bool
	listeners fanout.List[bool]
}

func NewSignals(online bool) *Signals {
	return &Signals{online: online}
}

func (s *Signals) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.online
}

func (s *Signals) Subscribe(fn func(online bool)) (unsubscribe func()) {
	return s.listeners.Add(fn)
}

// SetOnline records the network status. Listeners are told even when the
// status did not change, as a browser re-dispatching the same event would.
func (s *Signals) SetOnline(online bool) {
	s.mu.Lock()
	s.online = online
	s.mu.Unlock()

	s.listeners.Emit(online)
}

// Listeners counts live subscriptions.
func (s *Signals) Listeners() int {
	return s.listeners.Len()
}

// Probe derives the network status from periodic requests to a health URL.
// Any HTTP answer counts as online.
type Probe struct {
	*Signals

	logger   *zap.Logger
	client   *http.Client
	url      string
	interval time.Duration
}

func NewProbe(logger *zap.Logger, client *http.Client, url string, interval time.Duration) *Probe {
	if client == nil {
		client = &http.Client{Timeout: interval}
	}

	return &Probe{
		Signals:  NewSignals(true),
		logger:   logger,
		client:   client,
		url:      url,
		interval: interval,
	}
}

// Run probes until ctx is done. Only transitions are dispatched.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.Check(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Probe) Check(ctx context.Context) bool {
	online := p.reachable(ctx)
	if ctx.Err() != nil {
		return p.Online()
	}

	if online != p.Online() {
		p.logger.Info("network status changed", zap.Bool("online", online))
		p.SetOnline(online)
	}

	return online
}

func (p *Probe) reachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("invalid probe request", zap.Error(err))
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", zap.String("url", p.url), zap.Error(err))
		return false
	}

	resp.Body.Close()

	return true
}
