package rack

import (
	"slices"
	"strings"
)

// NeighborSet maps a host name to the hosts it found on its layer-2 segment.
type NeighborSet map[string][]string

// Rack is a sorted, duplicate-free list of host names.
type Rack []string

// Result is the outcome of one clustering pass.
type Result struct {
	Racks []Rack
	// Orphans were left out by every accepted group and were given a rack of
	// their own. A non-empty list means the adjacency data disagreed with itself.
	Orphans []string
}

// Hosts returns every host of every rack, sorted.
func (r Result) Hosts() []string {
	var out []string
	for _, rk := range r.Racks {
		out = append(out, rk...)
	}
	slices.Sort(out)
	return out
}

// Cluster partitions the hosts of ns into racks.
//
// Each host proposes itself plus its neighbors as a candidate rack. Larger
// candidates are tried first and a candidate is accepted only if none of its
// members already sits in an accepted rack; a conflicting candidate is dropped
// whole. Neighbor names that are not keys of ns are ignored.
func Cluster(ns NeighborSet) Result {
	candidates := make([]Rack, 0, len(ns))
	for host, neighbors := range ns {
		members := Rack{host}
		for _, n := range neighbors {
			if _, known := ns[n]; known {
				members = append(members, n)
			}
		}
		slices.Sort(members)
		candidates = append(candidates, slices.Compact(members))
	}

	slices.SortFunc(candidates, func(a, b Rack) int {
		if len(a) != len(b) {
			return len(b) - len(a)
		}
		return slices.Compare(a, b)
	})
	candidates = slices.CompactFunc(candidates, func(a, b Rack) bool { return slices.Equal(a, b) })

	var res Result
	assigned := make(map[string]bool, len(ns))
	for _, c := range candidates {
		if slices.ContainsFunc(c, func(h string) bool { return assigned[h] }) {
			continue
		}
		for _, h := range c {
			assigned[h] = true
		}
		res.Racks = append(res.Racks, c)
	}

	for host := range ns {
		if !assigned[host] {
			res.Orphans = append(res.Orphans, host)
		}
	}
	slices.Sort(res.Orphans)
	for _, host := range res.Orphans {
		res.Racks = append(res.Racks, Rack{host})
	}
	return res
}

// ParseNeighbors splits a published neighbor list. Duplicates and empty
// fields are dropped and the result is sorted.
func ParseNeighbors(s string) []string {
	fields := strings.Fields(s)
	slices.Sort(fields)
	return slices.Compact(fields)
}

// FormatNeighbors renders names the way ParseNeighbors reads them.
func FormatNeighbors(names []string) string {
	out := slices.Clone(names)
	for i := range out {
		out[i] = strings.TrimSpace(out[i])
	}
	slices.Sort(out)
	out = slices.Compact(out)
	if len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	return strings.Join(out, " ")
}
