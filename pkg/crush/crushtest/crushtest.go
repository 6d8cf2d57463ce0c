// Package crushtest builds small CRUSH maps shaped like the ones a fresh Ceph
// cluster reports, for use in tests.
package crushtest

import (
	"fmt"

	"github.com/ryandielhenn/rackmap/pkg/crush"
)

// DeviceWeight is the weight of one OSD (1.0 in 16.16 fixed point).
const DeviceWeight uint32 = 0x10000

// ClusterMap returns a map with one OSD per host, one straw2 host bucket per
// host and a "default" root (id -1) holding every host. Host i gets bucket id
// -2-i and OSD id i, so the lowest id is -1-len(hosts).
func ClusterMap(hosts ...string) *crush.Map {
	m := &crush.Map{
		MaxDevices: int32(len(hosts)),
		Types:      crush.DefaultTypes(),
		Tunables:   crush.JewelTunables(),
		Names:      []crush.Name{{ID: -1, Name: "default"}},
		RuleNames:  []crush.Name{{ID: 0, Name: "replicated_rule"}},
		Rules: []*crush.Rule{{
			Ruleset: 0,
			Type:    crush.RuleReplicated,
			MinSize: 1,
			MaxSize: 10,
			Steps: []crush.Step{
				{Op: crush.OpTake, Arg1: -1},
				{Op: crush.OpChooseLeafFirstN, Arg1: 0, Arg2: 1},
				{Op: crush.OpEmit},
			},
		}},
	}

	root := &crush.Straw2Bucket{BucketHeader: crush.BucketHeader{ID: -1, Type: 10, Hash: crush.HashRJenkins1}}
	for i, host := range hosts {
		osd := fmt.Sprintf("osd.%d", i)
		id := int32(-2 - i)
		m.Names = append(m.Names, crush.Name{ID: int32(i), Name: osd}, crush.Name{ID: id, Name: host})
		m.Buckets = append(m.Buckets, &crush.Straw2Bucket{
			BucketHeader: crush.BucketHeader{
				ID:     id,
				Type:   1,
				Hash:   crush.HashRJenkins1,
				Weight: DeviceWeight,
				Items:  []crush.Item{{ID: int32(i), Name: osd}},
			},
			ItemWeights: []uint32{DeviceWeight},
		})
		root.Items = append(root.Items, crush.Item{ID: id, Name: host})
		root.ItemWeights = append(root.ItemWeights, DeviceWeight)
		root.Weight += DeviceWeight
	}
	m.Buckets = append(m.Buckets, root)
	m.Canonicalize()
	return m
}

// Encoded is ClusterMap encoded, panicking on failure.
func Encoded(hosts ...string) []byte {
	b, err := crush.Encode(ClusterMap(hosts...))
	if err != nil {
		panic(err)
	}
	return b
}
