package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCartMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCartMetrics(reg)

	m.IncMutation("add_product")
	m.IncMutation("add_product")
	m.IncRollback("add_product")
	m.IncResync(nil)
	m.IncMerge(errors.New("boom"))
	m.ObserveRemote("add_line", 120*time.Millisecond, nil)
	done := m.TrackInflight()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	assertCounter(t, mfs, "cart_mutations_total", "op", "add_product", 2)
	assertCounter(t, mfs, "cart_rollbacks_total", "op", "add_product", 1)
	assertCounter(t, mfs, "cart_resyncs_total", "result", ResultOK, 1)
	assertCounter(t, mfs, "cart_merges_total", "result", ResultError, 1)

	if got, err := fetchHistogramSum(mfs, "cart_remote_call_duration_seconds", "op", "add_line"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f", got)
	}

	if got := gaugeValue(t, mfs, "cart_remote_inflight"); got != 1 {
		t.Fatalf("expected inflight=1, got %f", got)
	}
	done()
	mfs, _ = reg.Gather()
	if got := gaugeValue(t, mfs, "cart_remote_inflight"); got != 0 {
		t.Fatalf("expected inflight=0 after done, got %f", got)
	}
}

func TestCartMetricsNilSafe(t *testing.T) {
	var m *CartMetrics
	m.IncMutation("x")
	m.IncRollback("x")
	m.IncResync(nil)
	m.IncMerge(nil)
	m.ObserveRemote("x", time.Second, nil)
	m.TrackInflight()()

	empty := NewCartMetrics(nil)
	empty.IncMutation("x")
	empty.TrackInflight()()
}

func assertCounter(t *testing.T, mfs []*dto.MetricFamily, name, label, value string, want float64) {
	t.Helper()
	got, err := fetchCounterValue(mfs, name, label, value)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	if got != want {
		t.Fatalf("expected %s=%v, got %v", name, want, got)
	}
}

func gaugeValue(t *testing.T, mfs []*dto.MetricFamily, name string) float64 {
	t.Helper()
	mf := findMetricFamily(mfs, name)
	if mf == nil || len(mf.GetMetric()) == 0 {
		t.Fatalf("metric %q not found", name)
	}
	return mf.GetMetric()[0].GetGauge().GetValue()
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, lp := range labels {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}
