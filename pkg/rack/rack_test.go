package rack

import (
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterLargestCandidateWins(t *testing.T) {
	ns := NeighborSet{
		"A": {"A", "B"},
		"B": {"A", "B", "C"},
		"C": {"B", "C"},
	}
	res := Cluster(ns)
	assert.Equal(t, []Rack{{"A", "B", "C"}}, res.Racks)
	assert.Empty(t, res.Orphans)
}

func TestClusterTwoSegments(t *testing.T) {
	ns := NeighborSet{
		"h1": {"h2"},
		"h2": {"h1"},
		"h3": nil,
	}
	res := Cluster(ns)
	assert.Equal(t, []Rack{{"h1", "h2"}, {"h3"}}, res.Racks)
	assert.Empty(t, res.Orphans)
}

func TestClusterTieBreakIsLexical(t *testing.T) {
	ns := NeighborSet{
		"a": {"b"},
		"b": {"c"},
		"c": nil,
	}
	// {a,b} and {b,c} tie on size; {a,b} sorts first and takes b.
	res := Cluster(ns)
	assert.Equal(t, []Rack{{"a", "b"}, {"c"}}, res.Racks)
}

func TestClusterOrphansGetOwnRack(t *testing.T) {
	ns := NeighborSet{
		"A": {"B"},
		"B": {"C"},
		"C": {"A"},
	}
	res := Cluster(ns)
	assert.Equal(t, []string{"C"}, res.Orphans)
	assert.Equal(t, []Rack{{"A", "B"}, {"C"}}, res.Racks)
}

func TestClusterIgnoresUnknownNeighbors(t *testing.T) {
	ns := NeighborSet{
		"h1": {"h2", "stranger", "h1", "h2"},
		"h2": {"h1"},
	}
	res := Cluster(ns)
	assert.Equal(t, []Rack{{"h1", "h2"}}, res.Racks)
}

func TestClusterEmpty(t *testing.T) {
	res := Cluster(NeighborSet{})
	assert.Empty(t, res.Racks)
	assert.Empty(t, res.Orphans)
}

func randomNeighborSet(r *rand.Rand, hosts int) NeighborSet {
	names := make([]string, hosts)
	for i := range names {
		names[i] = fmt.Sprintf("host-%02d", i)
	}
	ns := make(NeighborSet, hosts)
	for _, h := range names {
		var neighbors []string
		for _, other := range names {
			if r.Intn(4) == 0 {
				neighbors = append(neighbors, other)
			}
		}
		ns[h] = neighbors
	}
	return ns
}

func TestClusterDeterministic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		ns := randomNeighborSet(r, 1+r.Intn(20))

		// Rebuild the map so iteration order differs between runs.
		shuffled := make(NeighborSet, len(ns))
		keys := make([]string, 0, len(ns))
		for k := range ns {
			keys = append(keys, k)
		}
		r.Shuffle(len(keys), func(a, b int) { keys[a], keys[b] = keys[b], keys[a] })
		for _, k := range keys {
			neighbors := slices.Clone(ns[k])
			r.Shuffle(len(neighbors), func(a, b int) { neighbors[a], neighbors[b] = neighbors[b], neighbors[a] })
			shuffled[k] = neighbors
		}

		assert.Equal(t, Cluster(ns), Cluster(shuffled), "case %d", i)
	}
}

func TestClusterPartitionsHosts(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 100; i++ {
		ns := randomNeighborSet(r, 1+r.Intn(30))
		res := Cluster(ns)

		var want []string
		for h := range ns {
			want = append(want, h)
		}
		slices.Sort(want)

		got := res.Hosts()
		require.Equal(t, want, got, "case %d: racks must cover every host exactly once", i)
		for _, rk := range res.Racks {
			assert.True(t, slices.IsSorted(rk), "case %d: rack %v not sorted", i, rk)
		}
	}
}

func TestParseAndFormatNeighbors(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, ParseNeighbors("  c a\n b a "))
	assert.Empty(t, ParseNeighbors(""))
	assert.Equal(t, "a b c", FormatNeighbors([]string{"c", " a", "b", "a", ""}))
	assert.Equal(t, "", FormatNeighbors(nil))

	names := []string{"node-3", "node-1"}
	assert.Equal(t, []string{"node-1", "node-3"}, ParseNeighbors(FormatNeighbors(names)))
}
