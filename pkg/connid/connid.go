// Package connid implements the connection-identity registry (spec §3
// "Connection identity"): a canonicalised 5-tuple maps to a monotonically
// allocated id, with both directions of a flow resolving to the same id,
// and a fresh TCP SYN rewriting the id. It is built on pkg/simplelist and
// inherits that package's "not thread-safe, caller must guard if shared"
// contract (spec §5).
package connid

import "github.com/protei/dpmi/pkg/simplelist"

// Proto identifies the transport protocol class a Tuple belongs to.
type Proto uint8

const (
	ProtoTCP Proto = iota
	ProtoUDP
	ProtoSCTP
	ProtoOther
)

// Tuple is the (protocol, src, dst) key a connection is looked up by. Two
// Tuples that are each other's reverse (src/dst swapped) describe the same
// bidirectional flow.
type Tuple struct {
	Proto   Proto
	SrcIP   [4]byte
	DstIP   [4]byte
	SrcPort uint16
	DstPort uint16
}

// Reverse swaps src and dst, producing the key the other direction of the
// same flow would be looked up under.
func (t Tuple) Reverse() Tuple {
	return Tuple{Proto: t.Proto, SrcIP: t.DstIP, DstIP: t.SrcIP, SrcPort: t.DstPort, DstPort: t.SrcPort}
}

type entry struct {
	id      uint64
	synSeq  uint32
	hasSeq  bool
}

// Registry allocates and tracks connection ids.
type Registry struct {
	list  *simplelist.List[Tuple, *entry]
	nextID uint64
}

// NewRegistry creates an empty registry. Ids are allocated starting at 1
// (spec: "id >= 1").
func NewRegistry() *Registry {
	return &Registry{list: simplelist.New[Tuple, *entry](), nextID: 1}
}

// Lookup returns the id for t (checking both t and its reverse) without
// creating one.
func (r *Registry) Lookup(t Tuple) (uint64, bool) {
	if e, ok := r.list.Get(t); ok {
		return e.id, true
	}
	if e, ok := r.list.Get(t.Reverse()); ok {
		return e.id, true
	}
	return 0, false
}

// Observe resolves t to a connection id, allocating one on first sight.
// When isSyn is true and ack is false (a TCP SYN, no ACK), a sequence
// number different from the last stored SYN for this tuple retires the
// previous id's keys and allocates a fresh one (spec: "A TCP SYN (no ACK)
// with a sequence number different from the last stored SYN allocates a
// new id and retires both keys of the previous entry").
func (r *Registry) Observe(t Tuple, isSyn, ack bool, seq uint32) uint64 {
	if isSyn && !ack {
		if e, ok := r.list.Get(t); ok {
			if e.hasSeq && e.synSeq == seq {
				return e.id
			}
			r.retire(t)
		} else if e, ok := r.list.Get(t.Reverse()); ok {
			if e.hasSeq && e.synSeq == seq {
				return e.id
			}
			r.retire(t.Reverse())
		}
		return r.allocate(t, true, seq)
	}

	if e, ok := r.list.Get(t); ok {
		return e.id
	}
	if e, ok := r.list.Get(t.Reverse()); ok {
		return e.id
	}
	return r.allocate(t, false, 0)
}

func (r *Registry) retire(forward Tuple) {
	r.list.Delete(forward)
	r.list.Delete(forward.Reverse())
}

func (r *Registry) allocate(t Tuple, hasSeq bool, seq uint32) uint64 {
	id := r.nextID
	r.nextID++
	e := &entry{id: id, synSeq: seq, hasSeq: hasSeq}
	r.list.Set(t, e)
	r.list.Set(t.Reverse(), e)
	return id
}
