package reconloop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/reconsync/pkg/metrics"
)

type fakeController struct {
	mu        sync.Mutex
	ids       []string
	calls     []string
	noOp      map[string]bool
	err       map[string]error
	pending   map[string]int
	callCount int
}

func (f *fakeController) TenantIDs() []string {
	return f.ids
}

func (f *fakeController) Synchronize(ctx context.Context, tenantID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tenantID)
	f.callCount++
	return f.noOp[tenantID], f.err[tenantID]
}

func (f *fakeController) PendingChangelogCount(ctx context.Context, tenantID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[tenantID], nil
}

func TestRunOnce_SynchronizesEveryTenant(t *testing.T) {
	fc := &fakeController{ids: []string{"FR", "DE"}, noOp: map[string]bool{"FR": true, "DE": false}}
	loop := New(fc, time.Hour)

	loop.RunOnce()

	assert.ElementsMatch(t, []string{"FR", "DE"}, fc.calls)
}

func TestRunOnce_ContinuesPastOneTenantFailure(t *testing.T) {
	fc := &fakeController{
		ids: []string{"FR", "DE", "IT"},
		err: map[string]error{"DE": assert.AnError},
	}
	loop := New(fc, time.Hour)

	loop.RunOnce()

	assert.ElementsMatch(t, []string{"FR", "DE", "IT"}, fc.calls, "a failing tenant must not prevent the remaining tenants from being synchronized")
}

func TestStartStop_RunsCyclesOnTicker(t *testing.T) {
	fc := &fakeController{ids: []string{"FR"}}
	loop := New(fc, 20*time.Millisecond)

	loop.Start()
	defer loop.Stop()

	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.callCount >= 2
	}, time.Second, 10*time.Millisecond, "expected at least two ticks within the wait window")
}

func TestStop_IsIdempotentAndStopsFurtherCycles(t *testing.T) {
	fc := &fakeController{ids: []string{"FR"}}
	loop := New(fc, 15*time.Millisecond)

	loop.Start()
	require.Eventually(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.callCount >= 1
	}, time.Second, 10*time.Millisecond)

	loop.Stop()
	fc.mu.Lock()
	countAtStop := fc.callCount
	fc.mu.Unlock()

	time.Sleep(100 * time.Millisecond)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	assert.Equal(t, countAtStop, fc.callCount, "no further cycles should run after Stop")

	assert.NotPanics(t, func() { loop.Stop() })
}

func TestRunOnce_ReportsPendingChangelogCount(t *testing.T) {
	fc := &fakeController{ids: []string{"FR"}, pending: map[string]int{"FR": 7}}
	loop := New(fc, time.Hour)

	loop.RunOnce()

	assert.Equal(t, float64(7), testutil.ToFloat64(metrics.ChangelogPending.WithLabelValues("FR")))
}

func TestNew_DefaultsIntervalWhenNonPositive(t *testing.T) {
	fc := &fakeController{ids: []string{"FR"}}
	loop := New(fc, 0)
	assert.Equal(t, defaultInterval, loop.interval)
}
