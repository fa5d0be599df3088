// Package reconloop implements the cross-tenant reconciliation loop
// (D3): a ticker-driven goroutine that calls Synchronize for every
// configured tenant once per interval. Grounded directly on
// pkg/reconciler/reconciler.go's Start/Stop/run ticker shape (a
// goroutine, a stop channel, a mutex-guarded cycle method, a metrics
// timer around the cycle), retargeted from node/container
// reconciliation to tenant synchronization.
package reconloop

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/reconsync/pkg/metrics"
	"github.com/meridian/reconsync/pkg/rlog"
)

const defaultInterval = 10 * time.Second

// Synchronizer is the subset of *tenant.Controller the loop depends
// on, so tests can substitute a fake without constructing a full
// Controller.
type Synchronizer interface {
	TenantIDs() []string
	Synchronize(ctx context.Context, tenantID string) (bool, error)
	PendingChangelogCount(ctx context.Context, tenantID string) (int, error)
}

// Loop periodically synchronizes every configured tenant.
type Loop struct {
	ctrl     Synchronizer
	interval time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New returns a Loop that calls ctrl.Synchronize for every tenant
// every interval. interval<=0 defaults to 10s, matching the teacher's
// reconciler tick.
func New(ctrl Synchronizer, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Loop{
		ctrl:     ctrl,
		interval: interval,
		logger:   rlog.WithComponent("reconloop"),
	}
}

// Start begins the reconciliation loop in a background goroutine. It
// is a no-op if the loop is already running.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	go l.run()
}

// Stop signals the loop to exit and blocks until its goroutine has
// returned. It is a no-op if the loop is not running.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stopCh := l.stopCh
	doneCh := l.doneCh
	l.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (l *Loop) run() {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.interval).Msg("reconciliation loop started")

	for {
		select {
		case <-ticker.C:
			l.cycle()
		case <-l.stopCh:
			l.logger.Info().Msg("reconciliation loop stopped")
			return
		}
	}
}

// cycle runs one reconciliation pass: Synchronize for every tenant,
// in sequence, recording per-tenant metrics. One tenant's failure is
// logged and does not prevent the remaining tenants from running,
// since each tenant's stores and lock are fully independent.
func (l *Loop) cycle() {
	for _, tenantID := range l.ctrl.TenantIDs() {
		timer := metrics.NewTimer()
		noOp, err := l.ctrl.Synchronize(context.Background(), tenantID)
		timer.ObserveDurationVec(metrics.ReconcileDuration, tenantID)

		if err != nil {
			metrics.ReconcileCyclesTotal.WithLabelValues(tenantID, "error").Inc()
			l.logger.Error().Err(err).Str("tenant", tenantID).Msg("tenant synchronize failed")
			continue
		}

		result := "synced"
		if noOp {
			result = "noop"
		}
		metrics.ReconcileCyclesTotal.WithLabelValues(tenantID, result).Inc()

		if pending, err := l.ctrl.PendingChangelogCount(context.Background(), tenantID); err == nil {
			metrics.ChangelogPending.WithLabelValues(tenantID).Set(float64(pending))
		}
	}
}

// RunOnce executes a single synchronize pass over every tenant
// immediately, outside the ticker schedule — used by cmd/reconsyncd on
// startup.
func (l *Loop) RunOnce() {
	l.cycle()
}
