package crush

import (
	"fmt"
	"slices"
)

// Alg identifies a bucket's placement algorithm on the wire.
type Alg uint8

const (
	AlgUniform Alg = 1
	AlgList    Alg = 2
	AlgTree    Alg = 3
	AlgStraw   Alg = 4
	AlgStraw2  Alg = 5
)

func (a Alg) String() string {
	switch a {
	case AlgUniform:
		return "uniform"
	case AlgList:
		return "list"
	case AlgTree:
		return "tree"
	case AlgStraw:
		return "straw"
	case AlgStraw2:
		return "straw2"
	}
	return fmt.Sprintf("unknown(%d)", uint8(a))
}

// Item is one child of a bucket. Name is filled from the map's name table and
// is not part of the encoding.
type Item struct {
	ID   int32
	Name string
}

// BucketHeader holds the fields every bucket algorithm shares.
type BucketHeader struct {
	ID     int32
	Type   uint16
	Hash   uint8
	Weight uint32
	Items  []Item
}

// Bucket is implemented by exactly the five algorithm types below.
type Bucket interface {
	Header() *BucketHeader
	Alg() Alg
	bucket()
}

type UniformBucket struct {
	BucketHeader
	ItemWeight uint32
}

type ListBucket struct {
	BucketHeader
	ItemWeights []uint32
	SumWeights  []uint32
}

type TreeBucket struct {
	BucketHeader
	NodeWeights []uint32
}

type StrawBucket struct {
	BucketHeader
	ItemWeights []uint32
	Straws      []uint32
}

type Straw2Bucket struct {
	BucketHeader
	ItemWeights []uint32
}

func (b *UniformBucket) Header() *BucketHeader { return &b.BucketHeader }
func (b *ListBucket) Header() *BucketHeader    { return &b.BucketHeader }
func (b *TreeBucket) Header() *BucketHeader    { return &b.BucketHeader }
func (b *StrawBucket) Header() *BucketHeader   { return &b.BucketHeader }
func (b *Straw2Bucket) Header() *BucketHeader  { return &b.BucketHeader }

func (*UniformBucket) Alg() Alg { return AlgUniform }
func (*ListBucket) Alg() Alg    { return AlgList }
func (*TreeBucket) Alg() Alg    { return AlgTree }
func (*StrawBucket) Alg() Alg   { return AlgStraw }
func (*Straw2Bucket) Alg() Alg  { return AlgStraw2 }

func (*UniformBucket) bucket() {}
func (*ListBucket) bucket()    {}
func (*TreeBucket) bucket()    {}
func (*StrawBucket) bucket()   {}
func (*Straw2Bucket) bucket()  {}

// Clone returns a deep copy of b.
func Clone(b Bucket) Bucket {
	switch b := b.(type) {
	case *UniformBucket:
		c := *b
		c.Items = slices.Clone(b.Items)
		return &c
	case *ListBucket:
		c := *b
		c.Items = slices.Clone(b.Items)
		c.ItemWeights = slices.Clone(b.ItemWeights)
		c.SumWeights = slices.Clone(b.SumWeights)
		return &c
	case *TreeBucket:
		c := *b
		c.Items = slices.Clone(b.Items)
		c.NodeWeights = slices.Clone(b.NodeWeights)
		return &c
	case *StrawBucket:
		c := *b
		c.Items = slices.Clone(b.Items)
		c.ItemWeights = slices.Clone(b.ItemWeights)
		c.Straws = slices.Clone(b.Straws)
		return &c
	case *Straw2Bucket:
		c := *b
		c.Items = slices.Clone(b.Items)
		c.ItemWeights = slices.Clone(b.ItemWeights)
		return &c
	}
	panic(fmt.Sprintf("crush: unknown bucket type %T", b))
}

// ItemIDs returns the ids of b's children in order.
func ItemIDs(b Bucket) []int32 {
	items := b.Header().Items
	ids := make([]int32, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

// NewStrawBucket builds a straw bucket over items with the given weights,
// computing straw lengths and the total weight.
func NewStrawBucket(id int32, typ uint16, items []Item, weights []uint32) *StrawBucket {
	var total uint32
	for _, w := range weights {
		total += w
	}
	return &StrawBucket{
		BucketHeader: BucketHeader{
			ID:     id,
			Type:   typ,
			Hash:   HashRJenkins1,
			Weight: total,
			Items:  items,
		},
		ItemWeights: weights,
		Straws:      CalcStraws(weights),
	}
}
