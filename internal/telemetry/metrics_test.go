package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteTextfile(t *testing.T) {
	SetBuildInfo("v1.2.3", "abc123")
	Racks.Set(2)

	path := filepath.Join(t.TempDir(), "rackmap.prom")
	require.NoError(t, WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, `rackmap_build_info{git_sha="abc123",version="v1.2.3"} 1`)
	assert.Contains(t, out, "rackmap_racks 2")
	assert.Contains(t, out, "rackmap_run_seconds")
}

func TestWriteTextfileMissingDirectory(t *testing.T) {
	assert.Error(t, WriteTextfile(filepath.Join(t.TempDir(), "missing", "rackmap.prom")))
}

func TestMetricsRegistered(t *testing.T) {
	ProbesSent.WithLabelValues("eth9").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(ProbesSent.WithLabelValues("eth9")))
	assert.Positive(t, testutil.CollectAndCount(ProbesSent))
}
