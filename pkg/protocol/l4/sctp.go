package l4

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const sctpCommonHeaderSize = 12

// RegisterSCTP adds the SCTP descriptor to r. Only the common header
// (ports + verification tag + checksum) is parsed; chunk walking is left
// to callers that need it, per §1's "decoder body is not [in scope]".
func RegisterSCTP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:       protocol.TypeSCTP,
		Name:       "sctp",
		HeaderSize: sctpCommonHeaderSize,
		Format:     sctpFormat,
	})
}

func sctpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+sctpCommonHeaderSize > len(payload) {
		fmt.Fprintf(w, "sctp (truncated)")
		return
	}
	src, dst := ports(payload, offset)
	vtag := uint32(payload[offset+4])<<24 | uint32(payload[offset+5])<<16 | uint32(payload[offset+6])<<8 | uint32(payload[offset+7])
	fmt.Fprintf(w, "sctp %d > %d vtag=%d", src, dst, vtag)
}
