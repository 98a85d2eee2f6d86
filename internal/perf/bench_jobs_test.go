package perf

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/cfdilab/cfdilab/internal/jobs"
	"github.com/cfdilab/cfdilab/jobs"
)

func TestIntegrityJobThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("throughput run skipped in short mode")
	}
	rt := seededRuntime(t, "small")
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	job := jobs.NewLedgerIntegrityJob(rt.Documents, slog.New(slog.NewTextHandler(io.Discard, nil)), metrics)

	for range 10 {
		report, err := job.Run(context.Background())
		if err != nil {
			t.Fatalf("integrity run: %v", err)
		}
		if report.Checked != 200 || len(report.Violations) != 0 {
			t.Fatalf("unexpected report: checked=%d violations=%d", report.Checked, len(report.Violations))
		}
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	runs := metricValue(t, families, "cfdilab_jobs_total", map[string]string{"job": jobs.TaskLedgerIntegrity, "status": "success"})
	if runs != 10 {
		t.Fatalf("expected 10 successful runs, got %f", runs)
	}
	if checked := metricValue(t, families, "cfdilab_ledger_integrity_checked_documents", nil); checked != 200 {
		t.Fatalf("checked gauge: %f", checked)
	}

	mean := histogramMean(t, families, "cfdilab_job_duration_seconds", map[string]string{"job": jobs.TaskLedgerIntegrity})
	if mean > 2.0 {
		t.Fatalf("integrity pass above budget: %f", mean)
	}
}

func BenchmarkSeedDefaultScale(b *testing.B) {
	for range b.N {
		seededRuntime(b, "")
	}
}

// find returns the first series of family name whose labels include every pair in labels.
func find(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, metric := range fam.GetMetric() {
			have := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				have[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if have[k] != v {
					continue series
				}
			}
			return metric
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return nil
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	m := find(t, families, name, labels)
	if m.GetCounter() != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	hist := find(t, families, name, labels).GetHistogram()
	if hist.GetSampleCount() == 0 {
		t.Fatalf("histogram %s missing samples", name)
	}
	return hist.GetSampleSum() / float64(hist.GetSampleCount())
}
