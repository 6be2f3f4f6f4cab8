package l2

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const mplsLabelSize = 4

// RegisterMPLS adds the MPLS label-stack descriptor to r. NextPayload pops
// one label per call; once the bottom-of-stack bit is set, it guesses the
// payload type by peeking its first nibble (0x4/0x6 for IPv4/IPv6, 0x0 for
// a pseudowire control word) since the label stack itself carries no
// explicit next-protocol field.
func RegisterMPLS(r *protocol.Registry) {
	desc := &protocol.Descriptor{
		Type:        protocol.TypeMPLSUnicast,
		Name:        "mpls",
		HeaderSize:  mplsLabelSize,
		NextPayload: mplsNext,
		Format:      mplsFormat,
	}
	r.Register(desc)
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypeMPLSMulti,
		Name:        "mpls-multicast",
		HeaderSize:  mplsLabelSize,
		NextPayload: mplsNext,
		Format:      mplsFormat,
	})
}

func mplsNext(payload []byte, offset int, _ *protocol.LastNet) (protocol.Type, int) {
	if offset+mplsLabelSize > len(payload) {
		return protocol.TypeNone, offset
	}
	bottom := payload[offset+3]&0x01 != 0
	newOffset := offset + mplsLabelSize
	if !bottom {
		return protocol.TypeMPLSUnicast, newOffset
	}
	if newOffset >= len(payload) {
		return protocol.TypeNone, newOffset
	}
	switch payload[newOffset] >> 4 {
	case 4:
		return protocol.TypeIPv4, newOffset
	case 6:
		return protocol.TypeIPv6, newOffset
	case 0:
		return protocol.TypePW, newOffset
	default:
		return protocol.TypeNone, newOffset
	}
}

func mplsFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+mplsLabelSize > len(payload) {
		fmt.Fprintf(w, "mpls (truncated)")
		return
	}
	word := uint32(payload[offset])<<24 | uint32(payload[offset+1])<<16 | uint32(payload[offset+2])<<8 | uint32(payload[offset+3])
	label := word >> 12
	ttl := word & 0xff
	fmt.Fprintf(w, "mpls label=%d ttl=%d", label, ttl)
}
