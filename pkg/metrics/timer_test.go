package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewTimer_StartsImmediately(t *testing.T) {
	timer := NewTimer()
	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}
	if timer.start.IsZero() {
		t.Error("NewTimer() start time is zero")
	}
	if time.Since(timer.start) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDuration_TracksElapsedTime(t *testing.T) {
	timer := NewTimer()

	sleepDuration := 100 * time.Millisecond
	time.Sleep(sleepDuration)
	duration := timer.Duration()

	if duration < sleepDuration {
		t.Errorf("Duration() = %v, want >= %v", duration, sleepDuration)
	}
	if duration > 2*sleepDuration {
		t.Errorf("Duration() = %v, want < %v", duration, 2*sleepDuration)
	}
}

func TestTimerDuration_MonotonicallyIncreases(t *testing.T) {
	timer := NewTimer()

	var last time.Duration
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		d := timer.Duration()
		if d <= last {
			t.Errorf("iteration %d: Duration should increase: last=%v current=%v", i, last, d)
		}
		last = d
	}
}

// TestTimerObserveDuration exercises ObserveDuration with an unlabeled
// histogram.
func TestTimerObserveDuration(t *testing.T) {
	publishDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconsync_test_publish_duration_seconds",
		Help:    "Test double for publish duration histogram",
		Buckets: prometheus.DefBuckets,
	})

	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	timer.ObserveDuration(publishDuration)

	if timer.Duration() == 0 {
		t.Error("ObserveDuration() should not zero out Duration()")
	}
}

// TestTimerObserveDurationVec exercises a (tenant, store kind)-labeled
// vec shape like the one pkg/publisher observes into.
func TestTimerObserveDurationVec(t *testing.T) {
	pushDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reconsync_test_push_duration_seconds",
			Help:    "Test double for push duration histogram",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenantId", "storeKind"},
	)

	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)
	timer.ObserveDurationVec(pushDuration, "FR", "reconciliation")

	if timer.Duration() == 0 {
		t.Error("ObserveDurationVec() should not zero out Duration()")
	}
}

func TestMultipleTimers_RunIndependently(t *testing.T) {
	timer1 := NewTimer()
	time.Sleep(50 * time.Millisecond)

	timer2 := NewTimer()
	time.Sleep(50 * time.Millisecond)

	d1, d2 := timer1.Duration(), timer2.Duration()
	if d1 <= d2 {
		t.Errorf("timer1 should be running longer: timer1=%v timer2=%v", d1, d2)
	}
	if d1 == 0 || d2 == 0 {
		t.Error("both timers should report non-zero durations")
	}
}
