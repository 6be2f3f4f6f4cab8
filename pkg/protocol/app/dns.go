package app

import (
	"encoding/binary"
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const dnsHeaderSize = 12

// RegisterDNS adds the DNS descriptor to r. Terminal: question/answer
// record decoding is out of scope (§1).
func RegisterDNS(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:       protocol.TypeDNS,
		Name:       "dns",
		HeaderSize: dnsHeaderSize,
		Format:     dnsFormat,
	})
}

func dnsFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+dnsHeaderSize > len(payload) {
		fmt.Fprintf(w, "dns (truncated)")
		return
	}
	id := binary.BigEndian.Uint16(payload[offset : offset+2])
	flags := binary.BigEndian.Uint16(payload[offset+2 : offset+4])
	qdcount := binary.BigEndian.Uint16(payload[offset+4 : offset+6])
	qr := "query"
	if flags&0x8000 != 0 {
		qr = "response"
	}
	fmt.Fprintf(w, "dns %s id=0x%04x qdcount=%d", qr, id, qdcount)
}
