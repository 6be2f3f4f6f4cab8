package l2

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const vlanHeaderSize = 4

// RegisterVLAN adds the 802.1Q/802.1ad tag descriptor to r. Both EtherTypes
// share the same 4-byte TCI+inner-ethertype layout.
func RegisterVLAN(r *protocol.Registry) {
	desc := &protocol.Descriptor{
		Type:        protocol.TypeVLAN,
		Name:        "vlan",
		HeaderSize:  vlanHeaderSize,
		NextPayload: vlanNext,
		Format:      vlanFormat,
	}
	r.Register(desc)
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypeVLANQinQ,
		Name:        "vlan-qinq",
		HeaderSize:  vlanHeaderSize,
		NextPayload: vlanNext,
		Format:      vlanFormat,
	})
}

func vlanNext(payload []byte, offset int, _ *protocol.LastNet) (protocol.Type, int) {
	if offset+vlanHeaderSize > len(payload) {
		return protocol.TypeNone, offset
	}
	inner := uint16(payload[offset+2])<<8 | uint16(payload[offset+3])
	return etherTypeToType(inner), offset + vlanHeaderSize
}

func vlanFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+vlanHeaderSize > len(payload) {
		fmt.Fprintf(w, "vlan (truncated)")
		return
	}
	tci := uint16(payload[offset])<<8 | uint16(payload[offset+1])
	fmt.Fprintf(w, "vlan tci=%d", tci&0x0fff)
}
