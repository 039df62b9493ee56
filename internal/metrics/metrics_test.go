package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRefresh(3, nil)
	m.ObserveRefresh(0, errors.New("boom"))
	m.ObserveRPC("/duoledger.v1.LedgerService/List", "ok", 0.01)
	m.ObserveNotification("insert")

	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("ok")); got != 1 {
		t.Errorf("ok refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.refreshes.WithLabelValues("error")); got != 1 {
		t.Errorf("error refreshes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.snapshotRows); got != 3 {
		t.Errorf("snapshot rows = %v, want 3", got)
	}

	live := 2
	m.TrackSubscriptions(func() int { return live })
	count, err := testutil.GatherAndCount(reg, "duoledger_live_subscriptions")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("live_subscriptions series = %d, want 1", count)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRefresh(1, nil)
	m.ObserveRPC("p", "ok", 1)
	m.ObserveNotification("delete")
	m.TrackSubscriptions(func() int { return 0 })
}
