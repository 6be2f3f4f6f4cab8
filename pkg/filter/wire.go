package filter

import (
	"encoding/binary"
	"fmt"

	"github.com/protei/dpmi/pkg/picotime"
)

// wireVersion is bumped whenever a field is appended to the packed
// form; Unpack uses the length prefix (not the version) to skip fields
// it doesn't recognise, so older and newer packers interoperate (spec
// §4.E: "forward-compatible version").
const wireVersion uint16 = 1

const ifaceFieldLen = 32

// Pack serialises f into the canonical big-endian wire form (spec
// §4.E, "shipped to an MP"). The BPF program, if any, is not packed:
// it is a local evaluation artifact, not part of the transmitted
// predicate (a receiving MP recompiles from its own policy if needed).
func (f *Filter) Pack() []byte {
	buf := make([]byte, 0, 256)
	put16 := func(v uint16) { buf = binary.BigEndian.AppendUint16(buf, v) }
	put32 := func(v uint32) { buf = binary.BigEndian.AppendUint32(buf, v) }
	put64 := func(v uint64) { buf = binary.BigEndian.AppendUint64(buf, v) }
	putPico := func(t picotime.Picotime) { put32(t.Sec); put64(t.Psec) }

	put32(f.index)
	buf = append(buf, byte(f.mode))

	put16(f.srcPort)
	put16(f.srcPortMask)
	put16(f.dstPort)
	put16(f.dstPortMask)
	put16(f.port)
	put16(f.portMask)

	put32(f.srcIP)
	put32(f.srcMask)
	put32(f.dstIP)
	put32(f.dstMask)

	buf = append(buf, f.ipProto)

	buf = append(buf, f.srcMAC[:]...)
	buf = append(buf, f.srcMACMask[:]...)
	buf = append(buf, f.dstMAC[:]...)
	buf = append(buf, f.dstMACMask[:]...)

	put16(f.ethType)
	put16(f.ethTypeMask)
	put16(f.vlanTCI)
	put16(f.vlanMask)

	var ifaceBuf [ifaceFieldLen]byte
	copy(ifaceBuf[:], f.ifaceSubstr)
	buf = append(buf, ifaceBuf[:]...)

	buf = append(buf, f.mampid[:]...)

	putPico(f.startTime)
	putPico(f.endTime)
	putPico(f.frameMaxDt)

	put32(uint32(f.caplen))

	put16(uint16(len(f.frameRanges)))
	for _, r := range f.frameRanges {
		put64(r.Start)
		put64(r.End)
	}

	out := make([]byte, 0, 6+len(buf))
	out = binary.BigEndian.AppendUint16(out, wireVersion)
	out = binary.BigEndian.AppendUint32(out, uint32(len(buf)))
	out = append(out, buf...)
	return out
}

// Unpack parses a Pack-produced byte slice. Any trailing bytes beyond
// the fields this version of the package understands are ignored
// (forward compatibility: an older reader can still load a filter
// packed by a newer writer that appended fields).
func Unpack(data []byte) (*Filter, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("filter: short packed filter (%d bytes)", len(data))
	}
	bodyLen := binary.BigEndian.Uint32(data[2:6])
	body := data[6:]
	if uint32(len(body)) < bodyLen {
		return nil, fmt.Errorf("filter: truncated packed filter body (%d/%d bytes)", len(body), bodyLen)
	}
	body = body[:bodyLen]

	f := New()
	r := &reader{buf: body}

	f.index = r.u32()
	f.mode = Mode(r.u8())

	f.srcPort = r.u16()
	f.srcPortMask = r.u16()
	f.dstPort = r.u16()
	f.dstPortMask = r.u16()
	f.port = r.u16()
	f.portMask = r.u16()

	f.srcIP = r.u32()
	f.srcMask = r.u32()
	f.dstIP = r.u32()
	f.dstMask = r.u32()

	f.ipProto = r.u8()

	copy(f.srcMAC[:], r.bytes(6))
	copy(f.srcMACMask[:], r.bytes(6))
	copy(f.dstMAC[:], r.bytes(6))
	copy(f.dstMACMask[:], r.bytes(6))

	f.ethType = r.u16()
	f.ethTypeMask = r.u16()
	f.vlanTCI = r.u16()
	f.vlanMask = r.u16()

	ifaceBuf := r.bytes(ifaceFieldLen)
	n := 0
	for n < len(ifaceBuf) && ifaceBuf[n] != 0 {
		n++
	}
	f.ifaceSubstr = string(ifaceBuf[:n])

	copy(f.mampid[:], r.bytes(8))

	f.startTime = picotime.Picotime{Sec: r.u32(), Psec: r.u64()}
	f.endTime = picotime.Picotime{Sec: r.u32(), Psec: r.u64()}
	f.frameMaxDt = picotime.Picotime{Sec: r.u32(), Psec: r.u64()}

	f.caplen = int(r.u32())

	count := r.u16()
	for i := 0; i < int(count); i++ {
		start := r.u64()
		end := r.u64()
		f.frameRanges = append(f.frameRanges, FrameRange{Start: start, End: end})
	}

	if r.err != nil {
		return nil, r.err
	}
	return f, nil
}

// reader sequentially consumes big-endian fields from a fixed buffer,
// recording the first short-read error rather than panicking.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return make([]byte, n)
	}
	if r.pos+n > len(r.buf) {
		r.err = fmt.Errorf("filter: short packed filter at offset %d", r.pos)
		return make([]byte, n)
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) u8() uint8   { b := r.bytes(1); return b[0] }
func (r *reader) u16() uint16 { return binary.BigEndian.Uint16(r.bytes(2)) }
func (r *reader) u32() uint32 { return binary.BigEndian.Uint32(r.bytes(4)) }
func (r *reader) u64() uint64 { return binary.BigEndian.Uint64(r.bytes(8)) }
