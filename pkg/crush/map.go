package crush

import (
	"slices"
	"sort"
)

// Magic is the leading word of every encoded map.
const Magic uint32 = 0x00010000

// Hash functions a bucket may use to place items.
const HashRJenkins1 uint8 = 0

// Rule step opcodes.
const (
	OpNoop                        uint32 = 0
	OpTake                        uint32 = 1
	OpChooseFirstN                uint32 = 2
	OpChooseIndep                 uint32 = 3
	OpEmit                        uint32 = 4
	OpChooseLeafFirstN            uint32 = 6
	OpChooseLeafIndep             uint32 = 7
	OpSetChooseTries              uint32 = 8
	OpSetChooseLeafTries          uint32 = 9
	OpSetChooseLocalTries         uint32 = 10
	OpSetChooseLocalFallbackTries uint32 = 11
	OpSetChooseLeafVaryR          uint32 = 12
	OpSetChooseLeafStable         uint32 = 13
)

// Rule types.
const (
	RuleReplicated uint8 = 1
	RuleErasure    uint8 = 3
)

// Name is one entry of an id to name table.
type Name struct {
	ID   int32  `yaml:"id"`
	Name string `yaml:"name"`
}

// Map is a decoded CRUSH map.
type Map struct {
	MaxDevices int32

	Buckets   []Bucket
	Rules     []*Rule
	Types     []Name
	Names     []Name
	RuleNames []Name
	Tunables  Tunables

	// Extra holds trailing sections this package does not interpret
	// (device classes, choose_args). It is written back verbatim.
	Extra []byte
}

// Rule is a placement rule. A nil *Rule in Map.Rules is an empty slot.
type Rule struct {
	Ruleset uint8
	Type    uint8
	MinSize uint8
	MaxSize uint8
	Steps   []Step
}

type Step struct {
	Op   uint32
	Arg1 int32
	Arg2 int32
}

// NameOf returns the name for id from the name table.
func (m *Map) NameOf(id int32) (string, bool) {
	return lookupName(m.Names, id)
}

// IDOf returns the id registered for name in the name table.
func (m *Map) IDOf(name string) (int32, bool) {
	for _, n := range m.Names {
		if n.Name == name {
			return n.ID, true
		}
	}
	return 0, false
}

// TypeID returns the id of the bucket type called name.
func (m *Map) TypeID(name string) (uint16, bool) {
	for _, t := range m.Types {
		if t.Name == name {
			return uint16(t.ID), true
		}
	}
	return 0, false
}

// Bucket returns the bucket with the given id, or nil.
func (m *Map) Bucket(id int32) Bucket {
	for _, b := range m.Buckets {
		if b.Header().ID == id {
			return b
		}
	}
	return nil
}

// MinID returns the lowest id in the name table and bucket list. ok is false
// when the map holds no ids at all.
func (m *Map) MinID() (lowest int32, ok bool) {
	for _, n := range m.Names {
		if !ok || n.ID < lowest {
			lowest, ok = n.ID, true
		}
	}
	for _, b := range m.Buckets {
		if id := b.Header().ID; !ok || id < lowest {
			lowest, ok = id, true
		}
	}
	return lowest, ok
}

// Canonicalize orders buckets by slot (-1, -2, ...) and the name tables by id,
// and fills item names from the name table. Decode always returns canonical maps.
func (m *Map) Canonicalize() {
	sort.SliceStable(m.Buckets, func(i, j int) bool {
		return m.Buckets[i].Header().ID > m.Buckets[j].Header().ID
	})
	sortNames(m.Types)
	sortNames(m.Names)
	sortNames(m.RuleNames)
	for _, b := range m.Buckets {
		h := b.Header()
		for i := range h.Items {
			h.Items[i].Name, _ = lookupName(m.Names, h.Items[i].ID)
		}
	}
}

func sortNames(names []Name) {
	slices.SortStableFunc(names, func(a, b Name) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

func lookupName(names []Name, id int32) (string, bool) {
	for _, n := range names {
		if n.ID == id {
			return n.Name, true
		}
	}
	return "", false
}

// DefaultTypes is the type table Ceph ships with.
func DefaultTypes() []Name {
	return []Name{
		{0, "osd"},
		{1, "host"},
		{2, "chassis"},
		{3, "rack"},
		{4, "row"},
		{5, "pdu"},
		{6, "pod"},
		{7, "room"},
		{8, "datacenter"},
		{9, "region"},
		{10, "root"},
	}
}
