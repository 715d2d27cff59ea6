package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	stageDuration   *prom.HistogramVec
	compileDuration prom.Histogram
	stageResults    *prom.CounterVec
	compileOutcome  *prom.CounterVec
	cacheEvents     *prom.CounterVec
	patchesApplied  *prom.CounterVec
	defectRetries   *prom.CounterVec
	defectFailures  *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "wasmforge",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual compile pipeline stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"})
		pr.compileDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "wasmforge",
			Name:      "compile_duration_seconds",
			Help:      "Total compile job duration",
			Buckets:   prom.ExponentialBuckets(1, 2, 12),
		})
		pr.stageResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wasmforge",
			Name:      "stage_results_total",
			Help:      "Stage result counts by outcome",
		}, []string{"stage", "result"})
		pr.compileOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wasmforge",
			Name:      "compile_outcomes_total",
			Help:      "Compile job outcomes by final status",
		}, []string{"outcome"})
		pr.cacheEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wasmforge",
			Name:      "artifact_cache_events_total",
			Help:      "Artifact cache warm results",
		}, []string{"result"})
		pr.patchesApplied = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wasmforge",
			Name:      "manifest_patches_total",
			Help:      "Manifest/lockfile patches applied by rule",
		}, []string{"rule"})
		pr.defectRetries = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wasmforge",
			Name:      "defect_retries_total",
			Help:      "Repair-and-retry cycles triggered by known defect signatures",
		}, []string{"signature"})
		pr.defectFailures = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "wasmforge",
			Name:      "defect_retry_failures_total",
			Help:      "Retries that still failed after repair",
		}, []string{"signature"})
		reg.MustRegister(pr.stageDuration, pr.compileDuration, pr.stageResults,
			pr.compileOutcome, pr.cacheEvents, pr.patchesApplied,
			pr.defectRetries, pr.defectFailures)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil || p.stageDuration == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveCompileDuration(d time.Duration) {
	if p == nil || p.compileDuration == nil {
		return
	}
	p.compileDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncStageResult(stage string, result ResultLabel) {
	if p == nil || p.stageResults == nil {
		return
	}
	p.stageResults.WithLabelValues(stage, string(result)).Inc()
}

func (p *PrometheusRecorder) IncCompileOutcome(outcome string) {
	if p == nil || p.compileOutcome == nil {
		return
	}
	p.compileOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncCacheEvent(hit bool) {
	if p == nil || p.cacheEvents == nil {
		return
	}
	label := "miss"
	if hit {
		label = "hit"
	}
	p.cacheEvents.WithLabelValues(label).Inc()
}

func (p *PrometheusRecorder) IncPatchApplied(rule string) {
	if p == nil || p.patchesApplied == nil {
		return
	}
	p.patchesApplied.WithLabelValues(rule).Inc()
}

func (p *PrometheusRecorder) IncDefectRetry(signature string) {
	if p == nil || p.defectRetries == nil {
		return
	}
	p.defectRetries.WithLabelValues(signature).Inc()
}

func (p *PrometheusRecorder) IncDefectRetryFailed(signature string) {
	if p == nil || p.defectFailures == nil {
		return
	}
	p.defectFailures.WithLabelValues(signature).Inc()
}
