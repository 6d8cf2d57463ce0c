package hooks

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ryandielhenn/rackmap/pkg/crush"
	"github.com/ryandielhenn/rackmap/pkg/crush/crushtest"
	"github.com/ryandielhenn/rackmap/pkg/placement"
	"github.com/ryandielhenn/rackmap/pkg/probe"
	"github.com/ryandielhenn/rackmap/pkg/registry"
)

const controller = "ctl/0"

type fakeEngine struct {
	found []string
	err   error
	got   []probe.Host
}

func (f *fakeEngine) Discover(_ context.Context, hosts []probe.Host) ([]string, error) {
	f.got = hosts
	return f.found, f.err
}

type dumperFunc func(ctx context.Context) error

func (f dumperFunc) Dump(ctx context.Context) error { return f(ctx) }

func status(t *testing.T, m *registry.Memory, unit string) registry.StatusEntry {
	t.Helper()
	s, err := m.Status(context.Background(), unit)
	require.NoError(t, err)
	return s
}

func registered(t *testing.T, m *registry.Memory, units map[string]string) {
	t.Helper()
	i := 1
	for unit, host := range units {
		addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(i)})
		require.NoError(t, Register(context.Background(), m.Join(unit), host, addr, zaptest.NewLogger(t)))
		i++
	}
}

func TestAnnounceWaitsForAllUnits(t *testing.T) {
	ctx := context.Background()
	m := registry.NewMemory()
	ctl := m.Join(controller)
	registered(t, m, map[string]string{"agent/0": "h1"})

	ok, err := Announce(ctx, ctl, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, registry.StatusWaiting, status(t, m, controller).Status)

	registered(t, m, map[string]string{"agent/1": "h2"})
	ok, err = Announce(ctx, ctl, 2, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, registry.StatusEntry{Status: registry.StatusActive, Message: "Ready to begin network discovery"}, status(t, m, controller))

	v, err := m.Join("agent/0").Get(ctx, controller, KeyRelatedUnits)
	require.NoError(t, err)
	assert.Equal(t, "agent/0 agent/1", v)
}

func TestAnnounceRejectsMissingUnitCount(t *testing.T) {
	m := registry.NewMemory()
	ctl := m.Join(controller)

	for _, n := range []int{0, -1} {
		ok, err := Announce(context.Background(), ctl, n, zaptest.NewLogger(t))
		assert.Error(t, err, "num-units %d", n)
		assert.False(t, ok)
	}
	_, err := ctl.Get(context.Background(), controller, KeyRelatedUnits)
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	dir := registry.NewMemory().Join("agent/0")
	assert.Error(t, Register(context.Background(), dir, "", netip.MustParseAddr("10.0.0.1"), zaptest.NewLogger(t)))
	assert.Error(t, Register(context.Background(), dir, "h1", netip.MustParseAddr("fe80::1"), zaptest.NewLogger(t)))
}

func TestBegin(t *testing.T) {
	ctx := context.Background()
	m := registry.NewMemory()
	ctl := m.Join(controller)

	dumped := false
	require.NoError(t, Begin(ctx, ctl, dumperFunc(func(context.Context) error {
		dumped = true
		return nil
	}), zaptest.NewLogger(t)))
	assert.True(t, dumped)
	assert.Equal(t, registry.StatusEntry{Status: registry.StatusMaintenance, Message: "Network discovery initiated"}, status(t, m, controller))

	ready, err := isSet(ctx, ctl, controller, KeyReady)
	require.NoError(t, err)
	assert.True(t, ready)
}

func TestBeginReportsDumpFailure(t *testing.T) {
	m := registry.NewMemory()
	err := Begin(context.Background(), m.Join(controller), dumperFunc(func(context.Context) error {
		return errors.New("ceph: command not found")
	}), zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Equal(t, registry.StatusBlocked, status(t, m, controller).Status)
}

// blockedStatusFails rejects blocked statuses and passes everything else through.
type blockedStatusFails struct {
	registry.Directory
}

func (d blockedStatusFails) SetStatus(ctx context.Context, st registry.Status, msg string) error {
	if st == registry.StatusBlocked {
		return errors.New("directory unavailable")
	}
	return d.Directory.SetStatus(ctx, st, msg)
}

func TestBeginKeepsDumpErrorWhenStatusFails(t *testing.T) {
	m := registry.NewMemory()
	dumpErr := errors.New("ceph: command not found")
	err := Begin(context.Background(), blockedStatusFails{m.Join(controller)}, dumperFunc(func(context.Context) error {
		return dumpErr
	}), zaptest.NewLogger(t))
	assert.ErrorIs(t, err, dumpErr)
	assert.Equal(t, registry.StatusMaintenance, status(t, m, controller).Status)
}

func TestCommandDumper(t *testing.T) {
	ctx := context.Background()
	assert.Error(t, CommandDumper{}.Dump(ctx))

	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true(1) not available")
	}
	assert.NoError(t, CommandDumper{Command: "true"}.Dump(ctx))
	assert.Error(t, CommandDumper{Command: "false"}.Dump(ctx))
}

func discoverOptions(t *testing.T, dir registry.Directory, engine Discoverer) DiscoverOptions {
	return DiscoverOptions{
		Dir:           dir,
		Controller:    controller,
		Engine:        engine,
		Logger:        zaptest.NewLogger(t),
		Retries:       3,
		RetryInterval: 10 * time.Millisecond,
	}
}

// readyCluster registers three agents, announces them and begins discovery.
func readyCluster(t *testing.T) *registry.Memory {
	ctx := context.Background()
	m := registry.NewMemory()
	ctl := m.Join(controller)
	registered(t, m, map[string]string{"agent/0": "h1", "agent/1": "h2", "agent/2": "h3"})
	ok, err := Announce(ctx, ctl, 3, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ctl.Set(ctx, KeyReady, "1"))
	return m
}

func TestDiscoverSkipsUntilReady(t *testing.T) {
	m := registry.NewMemory()
	m.Join(controller)
	engine := &fakeEngine{}

	out, err := Discover(context.Background(), discoverOptions(t, m.Join("agent/0"), engine))
	require.NoError(t, err)
	assert.Equal(t, NotReady, out)
	assert.Nil(t, engine.got)
}

func TestDiscoverPublishesNeighbors(t *testing.T) {
	ctx := context.Background()
	m := readyCluster(t)
	dir := m.Join("agent/0")
	engine := &fakeEngine{found: []string{"h3", "h2"}}

	out, err := Discover(ctx, discoverOptions(t, dir, engine))
	require.NoError(t, err)
	assert.Equal(t, Converged, out)

	var names []string
	for _, h := range engine.got {
		names = append(names, h.Name)
		assert.True(t, h.Addr.Is4())
	}
	assert.ElementsMatch(t, []string{"h2", "h3"}, names, "self is never probed")

	v, err := dir.Get(ctx, "agent/0", KeyNeighbors)
	require.NoError(t, err)
	assert.Equal(t, "h2 h3", v)
	assert.Equal(t, registry.StatusEntry{Status: registry.StatusActive, Message: "Finished network discovery"}, status(t, m, "agent/0"))

	// A second run is a no-op.
	out, err = Discover(ctx, discoverOptions(t, dir, &fakeEngine{}))
	require.NoError(t, err)
	assert.Equal(t, AlreadyFinished, out)
}

// staleDir never reads back what was published as neighbors, and counts
// how often it was asked.
type staleDir struct {
	registry.Directory
	reads int
}

func (d *staleDir) Get(ctx context.Context, peer, key string) (string, error) {
	if peer == d.Self() && key == KeyNeighbors {
		d.reads++
		return "stale", nil
	}
	return d.Directory.Get(ctx, peer, key)
}

func TestDiscoverReportsNonConvergence(t *testing.T) {
	ctx := context.Background()
	m := readyCluster(t)
	dir := &staleDir{Directory: m.Join("agent/1")}

	opts := discoverOptions(t, dir, &fakeEngine{found: []string{"h1"}})
	out, err := Discover(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, Unconverged, out)
	assert.Equal(t, opts.Retries, dir.reads)
	assert.Equal(t, registry.StatusBlocked, status(t, m, "agent/1").Status)

	finished, err := isSet(ctx, dir, "agent/1", KeyFinished)
	require.NoError(t, err)
	assert.False(t, finished)
}

func TestDiscoverPropagatesEngineFailure(t *testing.T) {
	m := readyCluster(t)
	_, err := Discover(context.Background(), discoverOptions(t, m.Join("agent/0"), &fakeEngine{err: errors.New("no interfaces")}))
	assert.Error(t, err)
}

func publishNeighbors(t *testing.T, m *registry.Memory, neighbors map[string]string) {
	t.Helper()
	for unit, v := range neighbors {
		require.NoError(t, m.Join(unit).Set(context.Background(), KeyNeighbors, v))
	}
}

func createOptions(t *testing.T, m *registry.Memory, current []byte) CreateOptions {
	dir := t.TempDir()
	opts := CreateOptions{
		Dir:        m.Join(controller),
		Logger:     zaptest.NewLogger(t),
		CurrentMap: filepath.Join(dir, "currentmap"),
		OutputMap:  filepath.Join(dir, "out", "dct_crushmap"),
	}
	require.NoError(t, os.MkdirAll(filepath.Dir(opts.OutputMap), 0o755))
	if current != nil {
		require.NoError(t, os.WriteFile(opts.CurrentMap, current, 0o644))
	}
	return opts
}

func TestCreate(t *testing.T) {
	m := readyCluster(t)
	publishNeighbors(t, m, map[string]string{"agent/0": "h2", "agent/1": "h1", "agent/2": ""})
	opts := createOptions(t, m, crushtest.Encoded("h1", "h2", "h3"))

	res, err := Create(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, res.RackIDs, 2)

	written, err := os.ReadFile(opts.OutputMap)
	require.NoError(t, err)
	assert.Equal(t, res.Encoded, written)

	st := status(t, m, controller)
	assert.Equal(t, registry.StatusActive, st.Status)
	assert.Equal(t, "Crushmap generated in "+filepath.Dir(opts.OutputMap)+". Please examine crushmap with Ceph before use.", st.Message)
}

func TestCreateFailuresLeaveOutputAlone(t *testing.T) {
	tests := []struct {
		name    string
		current []byte
		check   func(t *testing.T, err error)
	}{
		{
			name: "missing current map",
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, os.ErrNotExist)
			},
		},
		{
			name:    "corrupt current map",
			current: []byte{1, 2, 3},
			check: func(t *testing.T, err error) {
				var de *crush.DecodeError
				assert.True(t, errors.As(err, &de), "got %v", err)
			},
		},
		{
			name:    "host missing from current map",
			current: crushtest.Encoded("h1", "h2"),
			check: func(t *testing.T, err error) {
				var ue *placement.UnresolvedHostError
				require.True(t, errors.As(err, &ue), "got %v", err)
				assert.Equal(t, "h3", ue.Host)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := readyCluster(t)
			publishNeighbors(t, m, map[string]string{"agent/0": "h2", "agent/1": "h1", "agent/2": ""})
			opts := createOptions(t, m, tt.current)
			require.NoError(t, os.WriteFile(opts.OutputMap, []byte("previous"), 0o644))

			res, err := Create(context.Background(), opts)
			assert.Nil(t, res)
			require.Error(t, err)
			tt.check(t, err)

			prev, rerr := os.ReadFile(opts.OutputMap)
			require.NoError(t, rerr)
			assert.Equal(t, "previous", string(prev))

			st := status(t, m, controller)
			assert.Equal(t, registry.StatusBlocked, st.Status)
			assert.Equal(t, "Failed to create crushmap with error: "+err.Error(), st.Message)
		})
	}
}

func TestCreateRequiresEveryNeighborList(t *testing.T) {
	m := readyCluster(t)
	publishNeighbors(t, m, map[string]string{"agent/0": "h2", "agent/1": "h1"})
	_, err := Create(context.Background(), createOptions(t, m, crushtest.Encoded("h1", "h2", "h3")))
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestCreateWithoutUnitsWritesNothing(t *testing.T) {
	m := registry.NewMemory()
	opts := createOptions(t, m, crushtest.Encoded("h1", "h2", "h3"))

	res, err := Create(context.Background(), opts)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrNoUnits)

	_, serr := os.Stat(opts.OutputMap)
	assert.ErrorIs(t, serr, os.ErrNotExist)
	assert.Equal(t, registry.StatusBlocked, status(t, m, controller).Status)
}

func TestCreateWithEmptyUnitList(t *testing.T) {
	m := registry.NewMemory()
	ctl := m.Join(controller)
	require.NoError(t, ctl.Set(context.Background(), KeyRelatedUnits, ""))
	opts := createOptions(t, m, crushtest.Encoded("h1"))

	_, err := Create(context.Background(), opts)
	assert.ErrorIs(t, err, ErrNoUnits)
	_, serr := os.Stat(opts.OutputMap)
	assert.ErrorIs(t, serr, os.ErrNotExist)
}
