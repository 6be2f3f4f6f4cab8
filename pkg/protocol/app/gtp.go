// Package app provides the application-layer descriptors DPMI's UDP/TCP
// descriptors sniff into by well-known port (spec §4.G): DNS, a minimal
// HTTP request-line stub, and GTP-C/U header parsing grounded on the
// teacher's pkg/decoder/gtp.
package app

import (
	"encoding/binary"
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const gtpMandatoryHeaderSize = 8

// RegisterGTP adds the GTP (v1-C/v1-U and v2-C) descriptor to r. GTP is
// treated as terminal: decoding the information-element body of a GTP
// message is out of scope (§1).
func RegisterGTP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:         protocol.TypeGTP,
		Name:         "gtp",
		SizeFunc:     gtpSize,
		PartialPrint: true,
		Format:       gtpFormat,
	})
}

func gtpSize(payload []byte, offset int) int {
	if offset >= len(payload) {
		return gtpMandatoryHeaderSize
	}
	version := (payload[offset] >> 5) & 0x07
	size := gtpMandatoryHeaderSize
	if version == 1 {
		// Sequence number / N-PDU number / next-extension-header flags
		// together add one 4-byte optional field when any is set.
		flags := payload[offset]
		if flags&0x07 != 0 {
			size += 4
		}
	} else if version == 2 {
		// TEID is only present when the T flag (bit 3) is set.
		if payload[offset]&0x08 != 0 {
			size += 4
		}
	}
	return size
}

func gtpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+gtpMandatoryHeaderSize > len(payload) {
		fmt.Fprintf(w, "gtp (truncated)")
		return
	}
	version := (payload[offset] >> 5) & 0x07
	msgType := payload[offset+1]
	length := binary.BigEndian.Uint16(payload[offset+2 : offset+4])
	if version == 1 {
		teid := binary.BigEndian.Uint32(payload[offset+4 : offset+8])
		fmt.Fprintf(w, "gtpv1 type=%d len=%d teid=%d", msgType, length, teid)
		return
	}
	fmt.Fprintf(w, "gtpv%d type=%d len=%d", version, msgType, length)
}
