// Package l3 provides the IPv4, IPv6, and ARP descriptors for the DPMI
// protocol walker (spec §4.G).
package l3

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const ipv4MinHeaderSize = 20

// RegisterIPv4 adds the IPv4 descriptor to r.
func RegisterIPv4(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypeIPv4,
		Name:        "ipv4",
		SizeFunc:    ipv4Size,
		NextPayload: ipv4Next,
		Format:      ipv4Format,
	})
}

func ipv4Size(payload []byte, offset int) int {
	if offset >= len(payload) {
		return ipv4MinHeaderSize
	}
	ihl := int(payload[offset]&0x0f) * 4
	if ihl < ipv4MinHeaderSize {
		return ipv4MinHeaderSize
	}
	return ihl
}

func ipv4Next(payload []byte, offset int, lastNet *protocol.LastNet) (protocol.Type, int) {
	if offset+ipv4MinHeaderSize > len(payload) {
		return protocol.TypeNone, offset
	}
	ihl := ipv4Size(payload, offset)
	if offset+ihl > len(payload) {
		// Header itself is truncated; let the walker's own bounds check
		// on the *next* layer surface the truncation rather than
		// returning a bogus offset past the buffer.
		ihl = len(payload) - offset
	}
	proto := payload[offset+9]
	totalLen := int(payload[offset+2])<<8 | int(payload[offset+3])

	if lastNet != nil {
		lastNet.SrcStr = ipString(payload[offset+12 : offset+16])
		lastNet.DstStr = ipString(payload[offset+16 : offset+20])
		lastNet.PayloadLen = totalLen - ihl
	}

	newOffset := offset + ihl
	switch proto {
	case 6:
		return protocol.TypeTCP, newOffset
	case 17:
		return protocol.TypeUDP, newOffset
	case 1:
		return protocol.TypeICMP, newOffset
	case 132:
		return protocol.TypeSCTP, newOffset
	default:
		return protocol.TypeNone, newOffset
	}
}

func ipv4Format(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+ipv4MinHeaderSize > len(payload) {
		fmt.Fprintf(w, "ipv4 (truncated)")
		return
	}
	fmt.Fprintf(w, "%s > %s proto=%d",
		ipString(payload[offset+12:offset+16]), ipString(payload[offset+16:offset+20]), payload[offset+9])
}

func ipString(b []byte) string {
	return fmt.Sprintf("%d.%d.%d.%d", b[0], b[1], b[2], b[3])
}
