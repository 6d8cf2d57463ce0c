package hooks

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/rackmap/pkg/crush"
	"github.com/ryandielhenn/rackmap/pkg/crush/crushtest"
	"github.com/ryandielhenn/rackmap/pkg/probe"
	"github.com/ryandielhenn/rackmap/pkg/probe/probetest"
	"github.com/ryandielhenn/rackmap/pkg/registry"
)

// Three hosts: h1 and h2 share a switch, h3 sits alone on another.
func TestEndToEndTwoSegments(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	type agent struct {
		unit, host string
		n          int
		seg        *probetest.Segment
	}
	left, right := probetest.NewSegment(), probetest.NewSegment()
	agents := []agent{
		{"agent/0", "h1", 1, left},
		{"agent/1", "h2", 2, left},
		{"agent/2", "h3", 3, right},
	}
	for _, a := range agents {
		a.seg.AddHost(probetest.Addr(a.n), probetest.MAC(a.n))
	}

	m := registry.NewMemory()
	ctl := m.Join(controller)
	for _, a := range agents {
		require.NoError(t, Register(ctx, m.Join(a.unit), a.host, probetest.Addr(a.n), logger))
	}

	ok, err := Announce(ctx, ctl, len(agents), logger)
	require.NoError(t, err)
	require.True(t, ok)

	opts := createOptions(t, m, nil)
	require.NoError(t, Begin(ctx, ctl, dumperFunc(func(context.Context) error {
		return os.WriteFile(opts.CurrentMap, crushtest.Encoded("h1", "h2", "h3"), 0o644)
	}), logger))

	for _, a := range agents {
		engine := probe.NewEngine(probe.EngineOptions{
			Logger:        logger,
			Interfaces:    probetest.Interfaces(probetest.Interface("eth0", probetest.MAC(a.n), probetest.Addr(a.n))),
			Open:          a.seg.Open,
			ReceiveWindow: 200 * time.Millisecond,
			Ceiling:       5 * time.Second,
		})
		out, err := Discover(ctx, discoverOptions(t, m.Join(a.unit), engine))
		require.NoError(t, err, a.unit)
		assert.Equal(t, Converged, out, a.unit)
	}

	want := map[string]string{"agent/0": "h2", "agent/1": "h1", "agent/2": ""}
	for unit, neighbors := range want {
		got, err := ctl.Get(ctx, unit, KeyNeighbors)
		require.NoError(t, err)
		assert.Equal(t, neighbors, got, unit)
	}

	res, err := Create(ctx, opts)
	require.NoError(t, err)

	written, err := os.ReadFile(opts.OutputMap)
	require.NoError(t, err)
	out, err := crush.Decode(written)
	require.NoError(t, err)

	rackOf := func(id int32) []string {
		var hosts []string
		for _, it := range out.Bucket(id).Header().Items {
			hosts = append(hosts, it.Name)
		}
		return hosts
	}
	require.Len(t, res.RackIDs, 2)
	assert.Equal(t, []string{"h1", "h2"}, rackOf(res.RackIDs[0]))
	assert.Equal(t, []string{"h3"}, rackOf(res.RackIDs[1]))
	assert.Equal(t, []string{"0", "1"}, rackOf(res.RootID))

	var roots int
	for _, b := range out.Buckets {
		if b.Header().ID < res.RackIDs[1] {
			roots++
		}
	}
	assert.Equal(t, 1, roots, "a single root sits below the racks")
}
