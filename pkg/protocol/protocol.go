// Package protocol implements the table-driven header walker (spec §3
// "Protocol descriptor", "Header walker state"; §4.G). It owns the Type
// namespace and the Registry/Descriptor/Header types; concrete
// descriptors live in the l2/l3/l4/app subpackages so this package stays
// free of any particular protocol's parsing logic, and pkg/protocol/stdproto
// wires the default set together (spec §9: the registry is an explicit,
// caller-owned object, not a package-level global populated by init()).
package protocol

import "fmt"

// Type identifies a protocol a Descriptor handles. Ethernet/VLAN/MPLS/ARP/
// IPv4/IPv6 use their real EtherType values; TCP/UDP/SCTP use their real
// IP protocol numbers (these two ranges never collide; ICMP is the one
// exception, shifted away from protocol number 1 because that collides
// with TypeEthernet). PW and the application-layer types sniffed off
// well-known ports (DNS, GTP) have no standard single-byte/two-byte
// identifier, so they're assigned arbitrary values outside both ranges
// purely as registry keys.
type Type uint16

const (
	TypeNone Type = 0

	TypeEthernet Type = 1

	TypeIPv4        Type = 0x0800
	TypeARP         Type = 0x0806
	TypeVLAN        Type = 0x8100
	TypeVLANQinQ    Type = 0x88a8
	TypeMPLSUnicast Type = 0x8847
	TypeMPLSMulti   Type = 0x8848
	TypeIPv6        Type = 0x86dd

	// TypeICMP is shifted away from its real IP protocol number (1) only
	// because that value collides with TypeEthernet; IPv4's NextPayload
	// maps protocol number 1 to this constant internally.
	TypeICMP Type = 1 << 8
	TypeTCP  Type = 6
	TypeUDP  Type = 17
	TypeSCTP Type = 132

	TypePW   Type = 0xfff0
	TypeDNS  Type = 0xfff1
	TypeGTP  Type = 0xfff2
	TypeHTTP Type = 0xfff3
)

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(0x%04x)", uint16(t))
}

var typeNames = map[Type]string{
	TypeEthernet:    "ethernet",
	TypeIPv4:        "ipv4",
	TypeARP:         "arp",
	TypeVLAN:        "vlan",
	TypeVLANQinQ:    "vlan-qinq",
	TypeMPLSUnicast: "mpls",
	TypeMPLSMulti:   "mpls-multicast",
	TypeIPv6:        "ipv6",
	TypeICMP:        "icmp",
	TypeTCP:         "tcp",
	TypeUDP:         "udp",
	TypeSCTP:        "sctp",
	TypePW:          "pw",
	TypeDNS:         "dns",
	TypeGTP:         "gtp",
	TypeHTTP:        "http",
}

// LastNet is the human-readable network-layer context IPv4/IPv6
// descriptors leave for downstream L4 descriptors (spec §3).
type LastNet struct {
	SrcStr     string
	DstStr     string
	PayloadLen int
}

// Flags is an opaque bitmask passed through to Format/Dump
// callbacks; DPMI defines no bits of its own, callers may use them for
// verbosity levels.
type Flags uint32

// Descriptor describes one protocol layer in the walk (spec §3 "Protocol
// descriptor").
type Descriptor struct {
	// Type this descriptor handles.
	Type Type
	// Name is the display name ("ethernet", "ipv4", ...).
	Name string
	// HeaderSize is this protocol's static header size, 0 if variable
	// (use SizeFunc instead).
	HeaderSize int
	// SizeFunc computes a variable-length header's size given the packet
	// bytes and the offset this header starts at. Only consulted when
	// HeaderSize == 0.
	SizeFunc func(payload []byte, offset int) int
	// PartialPrint marks a descriptor that can format/dump a packet even
	// when the walk hit truncation trying to reach it.
	PartialPrint bool
	// NextPayload advances past this header, returning the next
	// protocol's Type and the offset it starts at. Returns (TypeNone, _)
	// when this is a terminal protocol layer (no NextPayload callback is
	// also acceptable and has the same effect).
	NextPayload func(payload []byte, offset int, lastNet *LastNet) (next Type, newOffset int)
	// Format renders a single-line representation of this header.
	Format func(w WriteFlusher, payload []byte, offset int, flags Flags)
	// Dump renders a verbose, prefixed representation of this header.
	Dump func(w WriteFlusher, payload []byte, offset int, prefix string, flags Flags)
}

// WriteFlusher is the narrow io.Writer DPMI's own dump/format helpers need;
// it matches fmt.Fprintf's requirement without pulling callers into a
// specific logging or buffering choice.
type WriteFlusher interface {
	Write(p []byte) (int, error)
}

// Registry is a process- or caller-scoped table of descriptors keyed by
// Type. It is an explicit, non-global object: the application constructs
// one (stdproto.NewRegistry for the default set) and passes it to every
// Header it walks.
type Registry struct {
	descriptors map[Type]*Descriptor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[Type]*Descriptor)}
}

// Register adds desc to the registry. Registering the same Type twice is a
// programmer error and panics, per spec §4.G ("Duplicate registration is a
// fatal programmer error").
func (r *Registry) Register(desc *Descriptor) {
	if _, exists := r.descriptors[desc.Type]; exists {
		panic(fmt.Sprintf("protocol: duplicate registration for %s", desc.Type))
	}
	r.descriptors[desc.Type] = desc
}

// Get looks up the descriptor for t.
func (r *Registry) Get(t Type) (*Descriptor, bool) {
	d, ok := r.descriptors[t]
	return d, ok
}

// Header is the walker state for one capture packet (spec §3 "Header
// walker state").
type Header struct {
	registry   *Registry
	payload    []byte // the captured bytes, i.e. payload[:caplen]
	Protocol   *Descriptor
	ProtoType  Type
	Ptr        int
	LastNet    LastNet
	Truncated  bool
	started    bool
}

// Init resets h to walk payload (the packet bytes actually captured, not
// including the CaptureHeader) using registry to resolve descriptors.
func Init(registry *Registry, payload []byte) *Header {
	return &Header{registry: registry, payload: payload}
}

// Walk advances to the next header and returns whether one is available.
// The first call positions at the start of the payload with Protocol set
// to the Ethernet descriptor (spec §4.G).
func (h *Header) Walk() bool {
	if !h.started {
		h.started = true
		desc, ok := h.registry.Get(TypeEthernet)
		if !ok {
			return false
		}
		h.Protocol = desc
		h.ProtoType = TypeEthernet
		h.Ptr = 0
		return true
	}

	if h.Protocol == nil || h.Protocol.NextPayload == nil {
		return false
	}

	next, newPtr := h.Protocol.NextPayload(h.payload, h.Ptr, &h.LastNet)
	if next == TypeNone {
		return false
	}

	nextDesc, ok := h.registry.Get(next)
	if !ok {
		h.Truncated = true
		return false
	}

	size := nextDesc.HeaderSize
	if nextDesc.HeaderSize == 0 && nextDesc.SizeFunc != nil {
		size = nextDesc.SizeFunc(h.payload, newPtr)
	}

	if newPtr > len(h.payload) || len(h.payload)-newPtr < size {
		h.Truncated = true
		if !nextDesc.PartialPrint {
			return false
		}
	}

	h.Protocol = nextDesc
	h.ProtoType = next
	h.Ptr = newPtr
	return true
}

// Format renders the current header, or does nothing if the descriptor has
// no Format callback or the walk is truncated past a non-PartialPrint
// descriptor (spec §4.G).
func (h *Header) Format(w WriteFlusher, flags Flags) {
	if h.Protocol == nil || h.Protocol.Format == nil {
		return
	}
	if h.Truncated && !h.Protocol.PartialPrint {
		return
	}
	h.Protocol.Format(w, h.payload, h.Ptr, flags)
}

// Dump renders the current header verbosely, subject to the same
// truncation rule as Format.
func (h *Header) Dump(w WriteFlusher, prefix string, flags Flags) {
	if h.Protocol == nil || h.Protocol.Dump == nil {
		return
	}
	if h.Truncated && !h.Protocol.PartialPrint {
		return
	}
	h.Protocol.Dump(w, h.payload, h.Ptr, prefix, flags)
}
