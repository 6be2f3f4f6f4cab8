package l4

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const icmpHeaderSize = 8

// RegisterICMP adds the ICMP/ICMPv6 descriptor to r. ICMP is treated as
// terminal: DPMI does not walk into the original-datagram copy an ICMP
// error carries.
func RegisterICMP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:       protocol.TypeICMP,
		Name:       "icmp",
		HeaderSize: icmpHeaderSize,
		Format:     icmpFormat,
	})
}

func icmpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+icmpHeaderSize > len(payload) {
		fmt.Fprintf(w, "icmp (truncated)")
		return
	}
	fmt.Fprintf(w, "icmp type=%d code=%d", payload[offset], payload[offset+1])
}
