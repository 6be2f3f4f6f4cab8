package l4

import (
	"fmt"

	"github.com/protei/dpmi/pkg/protocol"
)

const tcpMinHeaderSize = 20

// RegisterTCP adds the TCP descriptor to r.
func RegisterTCP(r *protocol.Registry) {
	r.Register(&protocol.Descriptor{
		Type:        protocol.TypeTCP,
		Name:        "tcp",
		SizeFunc:    tcpSize,
		NextPayload: tcpNext,
		Format:      tcpFormat,
	})
}

func tcpSize(payload []byte, offset int) int {
	if offset+13 > len(payload) {
		return tcpMinHeaderSize
	}
	dataOffset := int(payload[offset+12]>>4) * 4
	if dataOffset < tcpMinHeaderSize {
		return tcpMinHeaderSize
	}
	return dataOffset
}

func tcpNext(payload []byte, offset int, _ *protocol.LastNet) (protocol.Type, int) {
	if offset+tcpMinHeaderSize > len(payload) {
		return protocol.TypeNone, offset
	}
	size := tcpSize(payload, offset)
	newOffset := offset + size
	if newOffset > len(payload) {
		return protocol.TypeNone, newOffset
	}
	src, dst := ports(payload, offset)
	return appLayerFor(src, dst), newOffset
}

// Flags bits (spec-neutral, standard TCP flag layout).
const (
	FlagFIN = 1 << 0
	FlagSYN = 1 << 1
	FlagRST = 1 << 2
	FlagACK = 1 << 4
)

// SegmentFlags extracts the TCP flags byte for a header starting at
// offset; FlagSYN and FlagACK in it are the bits pkg/connid's Observe
// takes from its caller as booleans.
func SegmentFlags(payload []byte, offset int) uint8 {
	if offset+14 > len(payload) {
		return 0
	}
	return payload[offset+13]
}

// SequenceNumber extracts the 32-bit TCP sequence number.
func SequenceNumber(payload []byte, offset int) uint32 {
	if offset+8 > len(payload) {
		return 0
	}
	return uint32(payload[offset+4])<<24 | uint32(payload[offset+5])<<16 | uint32(payload[offset+6])<<8 | uint32(payload[offset+7])
}

func tcpFormat(w protocol.WriteFlusher, payload []byte, offset int, _ protocol.Flags) {
	if offset+tcpMinHeaderSize > len(payload) {
		fmt.Fprintf(w, "tcp (truncated)")
		return
	}
	src, dst := ports(payload, offset)
	fmt.Fprintf(w, "tcp %d > %d flags=0x%02x", src, dst, SegmentFlags(payload, offset))
}
