package crush

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	errShort    = errors.New("unexpected end of data")
	errTooLarge = errors.New("length exceeds remaining data")
)

// Decode parses an encoded CRUSH map as produced by `ceph osd getcrushmap`.
func Decode(data []byte) (*Map, error) {
	d := &decoder{buf: data}

	magic := d.u32("magic")
	if d.err == nil && magic != Magic {
		return nil, &DecodeError{Offset: 0, Field: "magic", Err: fmt.Errorf("got %#x, want %#x", magic, Magic)}
	}
	maxBuckets := d.i32("max_buckets")
	maxRules := d.u32("max_rules")

	m := &Map{}
	m.MaxDevices = d.i32("max_devices")
	if d.err != nil {
		return nil, d.err
	}
	if maxBuckets < 0 {
		return nil, d.fail("max_buckets", fmt.Errorf("negative count %d", maxBuckets))
	}

	for slot := int32(0); slot < maxBuckets; slot++ {
		b := d.bucket(slot)
		if d.err != nil {
			return nil, d.err
		}
		if b != nil {
			m.Buckets = append(m.Buckets, b)
		}
	}

	for i := uint32(0); i < maxRules; i++ {
		r := d.rule()
		if d.err != nil {
			return nil, d.err
		}
		m.Rules = append(m.Rules, r)
	}

	m.Types = d.nameMap("type_map")
	m.Names = d.nameMap("name_map")
	m.RuleNames = d.nameMap("rule_name_map")
	if d.err != nil {
		return nil, d.err
	}

	// Each tunable group was appended by a later release; older blobs stop early.
	m.Tunables = LegacyTunables()
	if d.more() {
		m.Tunables.ChooseLocalTries = d.u32("choose_local_tries")
		m.Tunables.ChooseLocalFallbackTries = d.u32("choose_local_fallback_tries")
		m.Tunables.ChooseTotalTries = d.u32("choose_total_tries")
	}
	if d.more() {
		m.Tunables.ChooseLeafDescendOnce = d.u32("chooseleaf_descend_once")
	}
	if d.more() {
		m.Tunables.ChooseLeafVaryR = d.u8("chooseleaf_vary_r")
	}
	if d.more() {
		m.Tunables.StrawCalcVersion = d.u8("straw_calc_version")
	}
	if d.more() {
		m.Tunables.AllowedBucketAlgs = d.u32("allowed_bucket_algs")
	}
	if d.more() {
		m.Tunables.ChooseLeafStable = d.u8("chooseleaf_stable")
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.more() {
		m.Extra = append([]byte(nil), d.buf[d.off:]...)
	}

	m.Canonicalize()
	return m, nil
}

// Encode serializes m. Buckets are written into slot -1-id, so bucket ids must
// be negative and unique.
func Encode(m *Map) ([]byte, error) {
	slots, err := bucketSlots(m.Buckets)
	if err != nil {
		return nil, err
	}
	for _, table := range [][]Name{m.Types, m.Names, m.RuleNames} {
		for _, n := range table {
			// A zero length is read back as the legacy 64-bit key marker.
			if n.Name == "" {
				return nil, &EncodeError{Field: "name_map", Err: fmt.Errorf("id %d has an empty name", n.ID)}
			}
		}
	}

	e := &encoder{}
	e.u32(Magic)
	e.i32(int32(len(slots)))
	e.u32(uint32(len(m.Rules)))
	e.i32(m.MaxDevices)

	for _, b := range slots {
		if b == nil {
			e.u32(0)
			continue
		}
		if err := e.bucket(b); err != nil {
			return nil, err
		}
	}

	for _, r := range m.Rules {
		if r == nil {
			e.u32(0)
			continue
		}
		e.u32(1)
		e.u32(uint32(len(r.Steps)))
		e.buf = append(e.buf, r.Ruleset, r.Type, r.MinSize, r.MaxSize)
		for _, s := range r.Steps {
			e.u32(s.Op)
			e.i32(s.Arg1)
			e.i32(s.Arg2)
		}
	}

	e.nameMap(m.Types)
	e.nameMap(m.Names)
	e.nameMap(m.RuleNames)

	t := m.Tunables
	e.u32(t.ChooseLocalTries)
	e.u32(t.ChooseLocalFallbackTries)
	e.u32(t.ChooseTotalTries)
	e.u32(t.ChooseLeafDescendOnce)
	e.buf = append(e.buf, t.ChooseLeafVaryR, t.StrawCalcVersion)
	e.u32(t.AllowedBucketAlgs)
	e.buf = append(e.buf, t.ChooseLeafStable)

	e.buf = append(e.buf, m.Extra...)
	return e.buf, nil
}

func bucketSlots(buckets []Bucket) ([]Bucket, error) {
	var n int32
	for _, b := range buckets {
		id := b.Header().ID
		if id >= 0 {
			return nil, &EncodeError{Field: "bucket", Err: fmt.Errorf("bucket id %d is not negative", id)}
		}
		if -id > n {
			n = -id
		}
	}
	slots := make([]Bucket, n)
	for _, b := range buckets {
		slot := -1 - b.Header().ID
		if slots[slot] != nil {
			return nil, &EncodeError{Field: "bucket", Err: fmt.Errorf("duplicate bucket id %d", b.Header().ID)}
		}
		slots[slot] = b
	}
	return slots, nil
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) fail(field string, err error) error {
	if d.err == nil {
		d.err = &DecodeError{Offset: d.off, Field: field, Err: err}
	}
	return d.err
}

func (d *decoder) more() bool {
	return d.err == nil && d.off < len(d.buf)
}

func (d *decoder) take(field string, n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || len(d.buf)-d.off < n {
		d.fail(field, errShort)
		return nil
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) u8(field string) uint8 {
	b := d.take(field, 1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (d *decoder) u16(field string) uint16 {
	b := d.take(field, 2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (d *decoder) u32(field string) uint32 {
	b := d.take(field, 4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (d *decoder) i32(field string) int32 {
	return int32(d.u32(field))
}

// count reads a u32 element count and checks that count elements of at least
// width bytes each can still be present.
func (d *decoder) count(field string, width int) int {
	n := d.u32(field)
	if d.err != nil {
		return 0
	}
	if uint64(n)*uint64(width) > uint64(len(d.buf)-d.off) {
		d.fail(field, errTooLarge)
		return 0
	}
	return int(n)
}

func (d *decoder) u32s(field string, n int) []uint32 {
	if n == 0 {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = d.u32(field)
	}
	return out
}

func (d *decoder) bucket(slot int32) Bucket {
	alg := d.u32("bucket.alg")
	if d.err != nil || alg == 0 {
		return nil
	}

	var h BucketHeader
	h.ID = d.i32("bucket.id")
	h.Type = d.u16("bucket.type")
	inner := d.u8("bucket.alg")
	h.Hash = d.u8("bucket.hash")
	h.Weight = d.u32("bucket.weight")
	size := d.count("bucket.size", 4)
	if d.err != nil {
		return nil
	}
	if uint32(inner) != alg {
		d.fail("bucket.alg", fmt.Errorf("bucket %d declares alg %d and %d", h.ID, alg, inner))
		return nil
	}
	if h.ID != -1-slot {
		d.fail("bucket.id", fmt.Errorf("bucket id %d stored in slot %d", h.ID, slot))
		return nil
	}
	if size > 0 {
		h.Items = make([]Item, size)
	}
	for i := range h.Items {
		h.Items[i].ID = d.i32("bucket.items")
	}

	switch Alg(alg) {
	case AlgUniform:
		return &UniformBucket{BucketHeader: h, ItemWeight: d.u32("uniform.item_weight")}
	case AlgList:
		b := &ListBucket{BucketHeader: h, ItemWeights: zeros(size), SumWeights: zeros(size)}
		for i := 0; i < size; i++ {
			b.ItemWeights[i] = d.u32("list.item_weights")
			b.SumWeights[i] = d.u32("list.sum_weights")
		}
		return b
	case AlgTree:
		n := int(d.u8("tree.num_nodes"))
		return &TreeBucket{BucketHeader: h, NodeWeights: d.u32s("tree.node_weights", n)}
	case AlgStraw:
		b := &StrawBucket{BucketHeader: h, ItemWeights: zeros(size), Straws: zeros(size)}
		for i := 0; i < size; i++ {
			b.ItemWeights[i] = d.u32("straw.item_weights")
			b.Straws[i] = d.u32("straw.straws")
		}
		return b
	case AlgStraw2:
		return &Straw2Bucket{BucketHeader: h, ItemWeights: d.u32s("straw2.item_weights", size)}
	}
	d.fail("bucket.alg", fmt.Errorf("unsupported algorithm %d", alg))
	return nil
}

func (d *decoder) rule() *Rule {
	if present := d.u32("rule.present"); present == 0 {
		return nil
	}
	steps := d.count("rule.len", 12)
	mask := d.take("rule.mask", 4)
	if d.err != nil {
		return nil
	}
	r := &Rule{
		Ruleset: mask[0],
		Type:    mask[1],
		MinSize: mask[2],
		MaxSize: mask[3],
		Steps:   make([]Step, steps),
	}
	for i := range r.Steps {
		r.Steps[i] = Step{
			Op:   d.u32("rule.step.op"),
			Arg1: d.i32("rule.step.arg1"),
			Arg2: d.i32("rule.step.arg2"),
		}
	}
	return r
}

func (d *decoder) nameMap(field string) []Name {
	n := d.count(field, 8)
	var names []Name
	for i := 0; i < n && d.err == nil; i++ {
		key := d.i32(field)
		strLen := d.u32(field)
		// Some old encoders wrote 64-bit keys; the high word shows up as a zero length.
		if strLen == 0 && d.err == nil {
			strLen = d.u32(field)
		}
		if d.err == nil && uint64(strLen) > uint64(len(d.buf)-d.off) {
			d.fail(field, errTooLarge)
			break
		}
		s := d.take(field, int(strLen))
		names = append(names, Name{ID: key, Name: string(s)})
	}
	return names
}

func zeros(n int) []uint32 {
	if n == 0 {
		return nil
	}
	return make([]uint32, n)
}

type encoder struct {
	buf []byte
}

func (e *encoder) u16(v uint16) { e.buf = binary.LittleEndian.AppendUint16(e.buf, v) }
func (e *encoder) u32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *encoder) i32(v int32)  { e.u32(uint32(v)) }

func (e *encoder) bucket(b Bucket) error {
	h := b.Header()
	size := len(h.Items)

	switch b := b.(type) {
	case *ListBucket:
		if len(b.ItemWeights) != size || len(b.SumWeights) != size {
			return weightMismatch(h.ID)
		}
	case *TreeBucket:
		if len(b.NodeWeights) > 0xff {
			return &EncodeError{Field: "tree.num_nodes", Err: fmt.Errorf("bucket %d has %d nodes", h.ID, len(b.NodeWeights))}
		}
	case *StrawBucket:
		if len(b.ItemWeights) != size || len(b.Straws) != size {
			return weightMismatch(h.ID)
		}
	case *Straw2Bucket:
		if len(b.ItemWeights) != size {
			return weightMismatch(h.ID)
		}
	}

	e.u32(uint32(b.Alg()))
	e.i32(h.ID)
	e.u16(h.Type)
	e.buf = append(e.buf, uint8(b.Alg()), h.Hash)
	e.u32(h.Weight)
	e.u32(uint32(size))
	for _, it := range h.Items {
		e.i32(it.ID)
	}

	switch b := b.(type) {
	case *UniformBucket:
		e.u32(b.ItemWeight)
	case *ListBucket:
		for i := range b.ItemWeights {
			e.u32(b.ItemWeights[i])
			e.u32(b.SumWeights[i])
		}
	case *TreeBucket:
		e.buf = append(e.buf, uint8(len(b.NodeWeights)))
		for _, w := range b.NodeWeights {
			e.u32(w)
		}
	case *StrawBucket:
		for i := range b.ItemWeights {
			e.u32(b.ItemWeights[i])
			e.u32(b.Straws[i])
		}
	case *Straw2Bucket:
		for _, w := range b.ItemWeights {
			e.u32(w)
		}
	}
	return nil
}

func (e *encoder) nameMap(names []Name) {
	e.u32(uint32(len(names)))
	for _, n := range names {
		e.i32(n.ID)
		e.u32(uint32(len(n.Name)))
		e.buf = append(e.buf, n.Name...)
	}
}

func weightMismatch(id int32) error {
	return &EncodeError{Field: "bucket.weights", Err: fmt.Errorf("bucket %d weight count does not match item count", id)}
}
