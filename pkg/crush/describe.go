package crush

import "fmt"

// Summary is a readable view of a Map, suitable for YAML or JSON output.
// Weights are converted from 16.16 fixed point.
type Summary struct {
	MaxDevices int32           `yaml:"max_devices"`
	Types      []Name          `yaml:"types"`
	Devices    []Name          `yaml:"devices"`
	Buckets    []BucketSummary `yaml:"buckets"`
	Rules      []RuleSummary   `yaml:"rules"`
	Tunables   Tunables        `yaml:"tunables"`
	ExtraBytes int             `yaml:"extra_bytes,omitempty"`
}

type BucketSummary struct {
	ID     int32         `yaml:"id"`
	Name   string        `yaml:"name"`
	Type   string        `yaml:"type"`
	Alg    string        `yaml:"alg"`
	Weight float64       `yaml:"weight"`
	Items  []ItemSummary `yaml:"items"`
}

type ItemSummary struct {
	ID     int32   `yaml:"id"`
	Name   string  `yaml:"name,omitempty"`
	Weight float64 `yaml:"weight"`
}

type RuleSummary struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	Ruleset uint8    `yaml:"ruleset"`
	Type    string   `yaml:"type"`
	MinSize uint8    `yaml:"min_size"`
	MaxSize uint8    `yaml:"max_size"`
	Steps   []string `yaml:"steps"`
}

// Describe builds a Summary of m.
func Describe(m *Map) Summary {
	s := Summary{
		MaxDevices: m.MaxDevices,
		Types:      m.Types,
		Tunables:   m.Tunables,
		ExtraBytes: len(m.Extra),
	}
	for _, n := range m.Names {
		if n.ID >= 0 {
			s.Devices = append(s.Devices, n)
		}
	}
	for _, b := range m.Buckets {
		h := b.Header()
		name, _ := m.NameOf(h.ID)
		typ, ok := lookupName(m.Types, int32(h.Type))
		if !ok {
			typ = fmt.Sprintf("type%d", h.Type)
		}
		bs := BucketSummary{
			ID:     h.ID,
			Name:   name,
			Type:   typ,
			Alg:    b.Alg().String(),
			Weight: fixed(h.Weight),
		}
		for i, it := range h.Items {
			bs.Items = append(bs.Items, ItemSummary{ID: it.ID, Name: it.Name, Weight: fixed(itemWeight(b, i))})
		}
		s.Buckets = append(s.Buckets, bs)
	}
	for i, r := range m.Rules {
		if r == nil {
			continue
		}
		name, _ := lookupName(m.RuleNames, int32(i))
		rs := RuleSummary{
			ID:      i,
			Name:    name,
			Ruleset: r.Ruleset,
			Type:    ruleType(r.Type),
			MinSize: r.MinSize,
			MaxSize: r.MaxSize,
		}
		for _, step := range r.Steps {
			rs.Steps = append(rs.Steps, describeStep(m, step))
		}
		s.Rules = append(s.Rules, rs)
	}
	return s
}

func itemWeight(b Bucket, i int) uint32 {
	var weights []uint32
	switch b := b.(type) {
	case *UniformBucket:
		return b.ItemWeight
	case *ListBucket:
		weights = b.ItemWeights
	case *TreeBucket:
		// Leaf i sits at node 2i+1 of the implicit tree.
		weights, i = b.NodeWeights, 2*i+1
	case *StrawBucket:
		weights = b.ItemWeights
	case *Straw2Bucket:
		weights = b.ItemWeights
	}
	if i < len(weights) {
		return weights[i]
	}
	return 0
}

func fixed(w uint32) float64 {
	return float64(w) / 0x10000
}

func ruleType(t uint8) string {
	switch t {
	case RuleReplicated:
		return "replicated"
	case RuleErasure:
		return "erasure"
	}
	return fmt.Sprintf("type%d", t)
}

func describeStep(m *Map, s Step) string {
	typeName := func(id int32) string {
		if n, ok := lookupName(m.Types, id); ok {
			return n
		}
		return fmt.Sprint(id)
	}
	switch s.Op {
	case OpTake:
		if n, ok := m.NameOf(s.Arg1); ok {
			return "take " + n
		}
		return fmt.Sprintf("take %d", s.Arg1)
	case OpEmit:
		return "emit"
	case OpChooseFirstN:
		return fmt.Sprintf("choose firstn %d type %s", s.Arg1, typeName(s.Arg2))
	case OpChooseIndep:
		return fmt.Sprintf("choose indep %d type %s", s.Arg1, typeName(s.Arg2))
	case OpChooseLeafFirstN:
		return fmt.Sprintf("chooseleaf firstn %d type %s", s.Arg1, typeName(s.Arg2))
	case OpChooseLeafIndep:
		return fmt.Sprintf("chooseleaf indep %d type %s", s.Arg1, typeName(s.Arg2))
	}
	return fmt.Sprintf("op%d %d %d", s.Op, s.Arg1, s.Arg2)
}
