package l3

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const ipv6HeaderSize = 40

// RegisterIPv6 adds the IPv6 descriptor to r. NextPayload walks past any
// Hop-by-Hop/Routing/Destination-Options/Fragment extension headers
// internally and returns the first transport-layer type it finds; DPMI
// does not expose IPv6 extension headers as their own walker layers since
// §1 lists "IPv6" as a single protocol.
func RegisterIPv6(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypeIPv6,
		Name:        "ipv6",
		HeaderSize:  ipv6HeaderSize,
		NextPayload: ipv6Next,
		Format:      ipv6Format,
	})
}

const (
	ipv6HopByHop    = 0
	ipv6Routing     = 43
	ipv6Fragment    = 44
	ipv6DestOptions = 60
)

func ipv6Next(payload []byte, offset int, lastNet *protocol.LastNet) (protocol.Type, int) {
	if offset+ipv6HeaderSize > len(payload) {
		return protocol.TypeNone, offset
	}
	payloadLen := int(payload[offset+4])<<8 | int(payload[offset+5])
	nextHeader := payload[offset+6]

	if lastNet != nil {
		lastNet.SrcStr = ip6String(payload[offset+8 : offset+24])
		lastNet.DstStr = ip6String(payload[offset+24 : offset+40])
		lastNet.PayloadLen = payloadLen
	}

	cursor := offset + ipv6HeaderSize
	for {
		switch nextHeader {
		case ipv6HopByHop, ipv6Routing, ipv6DestOptions:
			if cursor+2 > len(payload) {
				return protocol.TypeNone, cursor
			}
			nextHeader = payload[cursor]
			extLen := int(payload[cursor+1])*8 + 8
			cursor += extLen
		case ipv6Fragment:
			if cursor+1 > len(payload) {
				return protocol.TypeNone, cursor
			}
			nextHeader = payload[cursor]
			cursor += 8
		default:
			switch nextHeader {
			case 6:
				return protocol.TypeTCP, cursor
			case 17:
				return protocol.TypeUDP, cursor
			case 58:
				return protocol.TypeICMP, cursor
			case 132:
				return protocol.TypeSCTP, cursor
			default:
				return protocol.TypeNone, cursor
			}
		}
		if cursor > len(payload) {
			return protocol.TypeNone, cursor
		}
	}
}

func ipv6Format(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+ipv6HeaderSize > len(payload) {
		fmt.Fprintf(w, "ipv6 (truncated)")
		return
	}
	fmt.Fprintf(w, "%s > %s next=%d",
		ip6String(payload[offset+8:offset+24]), ip6String(payload[offset+24:offset+40]), payload[offset+6])
}

func ip6String(b []byte) string {
	return fmt.Sprintf("%02x%02x:%02x%02x:%02x%02x:%02x%02x:%02x%02x:%02x%02x:%02x%02x:%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7], b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15])
}
