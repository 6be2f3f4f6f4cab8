package l2

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const pwControlWordSize = 4

// RegisterPW adds the pseudowire control-word descriptor to r (spec §5
// "Supplemented features": the distilled spec lists MPLS/PW together in
// §1 but only the original's walking chain makes PW an explicit layer).
func RegisterPW(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypePW,
		Name:        "pw",
		HeaderSize:  pwControlWordSize,
		NextPayload: pwNext,
		Format:      pwFormat,
	})
}

func pwNext(payload []byte, offset int, _ *protocol.LastNet) (protocol.Type, int) {
	newOffset := offset + pwControlWordSize
	if newOffset >= len(payload) {
		return protocol.TypeNone, newOffset
	}
	switch payload[newOffset] >> 4 {
	case 4:
		return protocol.TypeIPv4, newOffset
	case 6:
		return protocol.TypeIPv6, newOffset
	default:
		return protocol.TypeNone, newOffset
	}
}

func pwFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+pwControlWordSize > len(payload) {
		fmt.Fprintf(w, "pw (truncated)")
		return
	}
	seq := uint16(payload[offset+2])<<8 | uint16(payload[offset+3])
	fmt.Fprintf(w, "pw seq=%d", seq)
}
