// Package l2 provides the link-layer protocol descriptors (Ethernet,
// 802.1Q/802.1ad VLAN tags, MPLS label stack, pseudowire control word) for
// the DPMI protocol walker (spec §4.G).
package l2

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const ethernetHeaderSize = 14

// RegisterEthernet adds the Ethernet descriptor to r. Every walk starts
// here (protocol.Header.Walk positions the first call at TypeEthernet
// regardless of registration order).
func RegisterEthernet(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:         protocol.TypeEthernet,
		Name:         "ethernet",
		HeaderSize:   ethernetHeaderSize,
		PartialPrint: true,
		NextPayload:  ethernetNext,
		Format:       ethernetFormat,
	})
}

func ethernetNext(payload []byte, offset int, lastNet *protocol.LastNet) (protocol.Type, int) {
	if offset+ethernetHeaderSize > len(payload) {
		return protocol.TypeNone, offset
	}
	etherType := uint16(payload[offset+12])<<8 | uint16(payload[offset+13])
	return etherTypeToType(etherType), offset + ethernetHeaderSize
}

func etherTypeToType(et uint16) protocol.Type {
	switch protocol.Type(et) {
	case protocol.TypeVLAN, protocol.TypeVLANQinQ, protocol.TypeMPLSUnicast,
		protocol.TypeMPLSMulti, protocol.TypeIPv4, protocol.TypeIPv6, protocol.TypeARP:
		return protocol.Type(et)
	default:
		return protocol.TypeNone
	}
}

func ethernetFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+ethernetHeaderSize > len(payload) {
		fmt.Fprintf(w, "ethernet (truncated)")
		return
	}
	fmt.Fprintf(w, "%02x:%02x:%02x:%02x:%02x:%02x > %02x:%02x:%02x:%02x:%02x:%02x",
		payload[offset+6], payload[offset+7], payload[offset+8], payload[offset+9], payload[offset+10], payload[offset+11],
		payload[offset+0], payload[offset+1], payload[offset+2], payload[offset+3], payload[offset+4], payload[offset+5])
}
