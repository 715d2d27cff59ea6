package metrics

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopRecorderIsSafe(t *testing.T) {
	var r Recorder = NoopRecorder{}
	r.ObserveStageDuration("build", time.Second)
	r.ObserveCompileDuration(time.Second)
	r.IncStageResult("build", ResultSuccess)
	r.IncCompileOutcome("success")
	r.IncCacheEvent(true)
	r.IncPatchApplied("pin-funty")
	r.IncDefectRetry("sig")
	r.IncDefectRetryFailed("sig")
}

func TestPrometheusRecorderRegistersAndCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObserveStageDuration("build", 2*time.Second)
	r.ObserveCompileDuration(10 * time.Second)
	r.IncStageResult("build", ResultFatal)
	r.IncCompileOutcome("failed")
	r.IncCacheEvent(true)
	r.IncCacheEvent(false)
	r.IncPatchApplied("pin-funty")
	r.IncDefectRetry("funty")

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["wasmforge_stage_duration_seconds"])
	assert.True(t, names["wasmforge_compile_duration_seconds"])
	assert.True(t, names["wasmforge_stage_results_total"])
	assert.True(t, names["wasmforge_compile_outcomes_total"])
	assert.True(t, names["wasmforge_artifact_cache_events_total"])
	assert.True(t, names["wasmforge_manifest_patches_total"])
	assert.True(t, names["wasmforge_defect_retries_total"])
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var p *PrometheusRecorder
	p.ObserveStageDuration("build", time.Second)
	p.IncStageResult("build", ResultSuccess)
	p.IncCompileOutcome("success")
	p.IncCacheEvent(false)
}
