package l3

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const arpHeaderSize = 28 // Ethernet/IPv4 ARP, the overwhelming common case

// RegisterARP adds the ARP descriptor to r. ARP is terminal: it carries no
// further nested headers.
func RegisterARP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:       protocol.TypeARP,
		Name:       "arp",
		HeaderSize: arpHeaderSize,
		Format:     arpFormat,
	})
}

func arpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+arpHeaderSize > len(payload) {
		fmt.Fprintf(w, "arp (truncated)")
		return
	}
	op := uint16(payload[offset+6])<<8 | uint16(payload[offset+7])
	verb := "request"
	if op == 2 {
		verb = "reply"
	}
	fmt.Fprintf(w, "arp %s %s > %s", verb, ipString(payload[offset+14:offset+18]), ipString(payload[offset+24:offset+28]))
}
