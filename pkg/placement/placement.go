// Package placement turns racks into a CRUSH hierarchy that hangs the
// existing host buckets under new rack buckets and a single root.
package placement

import (
	"slices"
	"strconv"

	"github.com/ryandielhenn/rackmap/pkg/crush"
	"github.com/ryandielhenn/rackmap/pkg/rack"
)

const (
	RootName = "default"
	RuleName = "replicated_ruleset"

	rackType = "rack"
	rootType = "root"

	// deviceWeight is used for rack members that are bare devices.
	deviceWeight uint32 = 0x10000
)

type Options struct {
	// LabelPrefix is prepended to the sequential rack labels.
	LabelPrefix string
	// FailureDomain is the bucket type replicas are spread across.
	// Defaults to "rack".
	FailureDomain string
}

type Result struct {
	Map     *crush.Map
	Encoded []byte
	// RackIDs holds the bucket id of each input rack, in input order.
	RackIDs []int32
	RootID  int32
}

// allocator hands out bucket ids strictly below every id already in use.
type allocator struct {
	next int32
}

func newAllocator(m *crush.Map) *allocator {
	lowest, ok := m.MinID()
	if !ok || lowest >= 0 {
		return &allocator{next: -1}
	}
	return &allocator{next: lowest - 1}
}

func (a *allocator) alloc() int32 {
	id := a.next
	a.next--
	return id
}

// Synthesize builds a new map from current in which every host of racks sits
// in a straw rack bucket and all racks sit under one straw root. Host buckets
// (and whatever is nested under them) are carried over unchanged; every other
// bucket and rule of current is dropped. Nothing is encoded unless the whole
// map could be assembled.
func Synthesize(current *crush.Map, racks []rack.Rack, opts Options) (*Result, error) {
	if len(current.Names) == 0 {
		return nil, ErrNoAnchor
	}
	if len(racks) == 0 {
		return nil, synthesisErrorf("no racks to place")
	}
	if opts.FailureDomain == "" {
		opts.FailureDomain = rackType
	}
	ids := newAllocator(current)

	out := &crush.Map{Types: slices.Clone(current.Types)}
	if len(out.Types) == 0 {
		out.Types = crush.DefaultTypes()
	}
	rackTypeID, ok := out.TypeID(rackType)
	if !ok {
		return nil, synthesisErrorf("type table has no %q type", rackType)
	}
	rootTypeID, ok := out.TypeID(rootType)
	if !ok {
		return nil, synthesisErrorf("type table has no %q type", rootType)
	}
	domainID, ok := out.TypeID(opts.FailureDomain)
	if !ok {
		return nil, synthesisErrorf("unknown failure domain %q", opts.FailureDomain)
	}

	// Resolve members and carry their buckets over.
	memberIDs := make([][]int32, len(racks))
	seen := make(map[string]bool)
	carried := make(map[int32]bool)
	for i, rk := range racks {
		if len(rk) == 0 {
			return nil, synthesisErrorf("rack %d has no hosts", i)
		}
		for _, host := range rk {
			if seen[host] {
				return nil, synthesisErrorf("host %q appears in more than one rack", host)
			}
			seen[host] = true
			id, ok := current.IDOf(host)
			if !ok {
				return nil, &UnresolvedHostError{Host: host}
			}
			if id < 0 && current.Bucket(id) == nil {
				return nil, synthesisErrorf("host %q (id %d) has no bucket", host, id)
			}
			memberIDs[i] = append(memberIDs[i], id)
			carry(current, out, id, carried)
		}
	}
	// Devices keep their ids, so max_devices never shrinks and must cover
	// every device a carried bucket still holds, named or not.
	out.MaxDevices = current.MaxDevices
	raise := func(id int32) {
		if id >= 0 && id+1 > out.MaxDevices {
			out.MaxDevices = id + 1
		}
	}
	for _, n := range current.Names {
		if n.ID >= 0 || carried[n.ID] {
			out.Names = append(out.Names, n)
		}
		raise(n.ID)
	}
	for _, b := range out.Buckets {
		for _, id := range crush.ItemIDs(b) {
			raise(id)
		}
	}
	taken := make(map[string]bool, len(out.Names))
	for _, n := range out.Names {
		taken[n.Name] = true
	}

	res := &Result{Map: out}
	var rootItems []crush.Item
	var rootWeights []uint32
	for i, rk := range racks {
		label := opts.LabelPrefix + strconv.Itoa(i)
		if taken[label] {
			return nil, synthesisErrorf("rack label %q is already used by the map", label)
		}
		taken[label] = true

		items := make([]crush.Item, len(rk))
		weights := make([]uint32, len(rk))
		for j, host := range rk {
			id := memberIDs[i][j]
			items[j] = crush.Item{ID: id, Name: host}
			weights[j] = deviceWeight
			if b := out.Bucket(id); b != nil {
				weights[j] = b.Header().Weight
			}
		}
		b := crush.NewStrawBucket(ids.alloc(), rackTypeID, items, weights)
		out.Buckets = append(out.Buckets, b)
		out.Names = append(out.Names, crush.Name{ID: b.ID, Name: label})
		res.RackIDs = append(res.RackIDs, b.ID)
		rootItems = append(rootItems, crush.Item{ID: b.ID, Name: label})
		rootWeights = append(rootWeights, b.Weight)
	}

	if taken[RootName] {
		return nil, synthesisErrorf("root name %q is already used by the map", RootName)
	}
	res.RootID = ids.alloc()
	out.Buckets = append(out.Buckets, crush.NewStrawBucket(res.RootID, rootTypeID, rootItems, rootWeights))
	out.Names = append(out.Names, crush.Name{ID: res.RootID, Name: RootName})

	out.Rules = []*crush.Rule{{
		Ruleset: 0,
		Type:    crush.RuleReplicated,
		MinSize: 1,
		MaxSize: 10,
		Steps: []crush.Step{
			{Op: crush.OpTake, Arg1: res.RootID},
			{Op: crush.OpChooseLeafFirstN, Arg1: 0, Arg2: int32(domainID)},
			{Op: crush.OpEmit},
		},
	}}
	out.RuleNames = []crush.Name{{ID: 0, Name: RuleName}}
	out.Tunables = crush.JewelTunables()
	out.Canonicalize()

	encoded, err := crush.Encode(out)
	if err != nil {
		return nil, err
	}
	res.Encoded = encoded
	return res, nil
}

// carry copies bucket id and every bucket nested under it from src to dst.
func carry(src, dst *crush.Map, id int32, done map[int32]bool) {
	if id >= 0 || done[id] {
		return
	}
	b := src.Bucket(id)
	if b == nil {
		return
	}
	done[id] = true
	dst.Buckets = append(dst.Buckets, crush.Clone(b))
	for _, child := range crush.ItemIDs(b) {
		carry(src, dst, child, done)
	}
}
