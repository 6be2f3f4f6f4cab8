// Package l4 provides the TCP/UDP/ICMP/SCTP transport-layer descriptors
// for the DPMI protocol walker, including the well-known-port sniffing
// into application-layer descriptors described in spec §4.G.
package l4

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const udpHeaderSize = 8

const (
	portDNS  = 53
	portHTTP = 80
	portGTPC = 2123
	portGTPU = 2152
)

// RegisterUDP adds the UDP descriptor to r.
func RegisterUDP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypeUDP,
		Name:        "udp",
		HeaderSize:  udpHeaderSize,
		NextPayload: udpNext,
		Format:      udpFormat,
	})
}

func ports(payload []byte, offset int) (src, dst uint16) {
	src = uint16(payload[offset])<<8 | uint16(payload[offset+1])
	dst = uint16(payload[offset+2])<<8 | uint16(payload[offset+3])
	return
}

func appLayerFor(src, dst uint16) protocol.Type {
	switch {
	case src == portDNS || dst == portDNS:
		return protocol.TypeDNS
	case src == portHTTP || dst == portHTTP:
		return protocol.TypeHTTP
	case src == portGTPC || dst == portGTPC || src == portGTPU || dst == portGTPU:
		return protocol.TypeGTP
	default:
		return protocol.TypeNone
	}
}

func udpNext(payload []byte, offset int, _ *protocol.LastNet) (protocol.Type, int) {
	if offset+udpHeaderSize > len(payload) {
		return protocol.TypeNone, offset
	}
	src, dst := ports(payload, offset)
	return appLayerFor(src, dst), offset + udpHeaderSize
}

func udpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+udpHeaderSize > len(payload) {
		fmt.Fprintf(w, "udp (truncated)")
		return
	}
	src, dst := ports(payload, offset)
	fmt.Fprintf(w, "udp %d > %d", src, dst)
}
