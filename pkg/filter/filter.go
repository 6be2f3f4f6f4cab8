// Package filter implements the capture-packet predicate (spec §4.E): a
// bitmap-gated set of optional fields over Ethernet/VLAN/IPv4/TCP/UDP
// header values, combined with And/Or, plus an optionally attached BPF
// program evaluated last.
package filter

import (
	"encoding/binary"

	"github.com/protei/dpmi/pkg/picotime"
)

// Mode selects how active predicates combine.
type Mode int

const (
	ModeAnd Mode = iota
	ModeOr
)

// bit indexes into Filter.index; each corresponds to one optional field.
const (
	bitSrcPort = 1 << iota
	bitDstPort
	bitPort // src OR dst
	bitSrcIP
	bitDstIP
	bitIPProto
	bitSrcMAC
	bitDstMAC
	bitEthType
	bitVLANTCI
	bitIface
	bitMAMPid
	bitStartTime
	bitEndTime
	bitFrameMaxDt
	bitFrameRange
)

// FrameRange is an inclusive [Start, End] frame-number range.
type FrameRange struct {
	Start, End uint64
}

// Filter is the optional-predicate set of spec §4.E. Zero value is a
// no-op filter (index == 0, matches every packet).
type Filter struct {
	index uint32
	mode  Mode

	srcPort, srcPortMask uint16
	dstPort, dstPortMask uint16
	port, portMask       uint16

	srcIP, srcMask uint32
	dstIP, dstMask uint32

	ipProto uint8

	srcMAC, srcMACMask [6]byte
	dstMAC, dstMACMask [6]byte

	ethType, ethTypeMask uint16
	vlanTCI, vlanMask    uint16

	ifaceSubstr string
	mampid      [8]byte

	startTime, endTime picotime.Picotime

	frameMaxDt   picotime.Picotime
	frameLastTs  picotime.Picotime
	haveLastTs   bool

	frameRanges []FrameRange

	caplen int

	bpf *Program
}

// New returns an empty (no-op) filter in ModeAnd.
func New() *Filter { return &Filter{mode: ModeAnd} }

// Close releases anything the filter owns (currently only the BPF
// program, which has nothing to release in this Go port but the call
// is kept for symmetry with the C lifecycle spec §4.E describes).
func (f *Filter) Close() { f.bpf = nil }

// SetMode sets how active predicates combine.
func (f *Filter) SetMode(m Mode) { f.mode = m }

// SetSrcPort/SetDstPort/SetPort mask and store a port predicate; Port
// matches either source or destination port.
func (f *Filter) SetSrcPort(port, mask uint16) {
	f.srcPort, f.srcPortMask = port&mask, mask
	f.index |= bitSrcPort
}

func (f *Filter) SetDstPort(port, mask uint16) {
	f.dstPort, f.dstPortMask = port&mask, mask
	f.index |= bitDstPort
}

func (f *Filter) SetPort(port, mask uint16) {
	f.port, f.portMask = port&mask, mask
	f.index |= bitPort
}

// SetSrcIP/SetDstIP mask and store an IPv4 predicate (addr in host byte
// order), mask is a /prefix-or-dotted mask per spec §4.E.
func (f *Filter) SetSrcIP(ip, mask uint32) {
	f.srcIP, f.srcMask = ip&mask, mask
	f.index |= bitSrcIP
}

func (f *Filter) SetDstIP(ip, mask uint32) {
	f.dstIP, f.dstMask = ip&mask, mask
	f.index |= bitDstIP
}

func (f *Filter) SetIPProto(proto uint8) {
	f.ipProto = proto
	f.index |= bitIPProto
}

func (f *Filter) SetSrcMAC(mac, mask [6]byte) {
	for i := range mac {
		f.srcMAC[i] = mac[i] & mask[i]
	}
	f.srcMACMask = mask
	f.index |= bitSrcMAC
}

func (f *Filter) SetDstMAC(mac, mask [6]byte) {
	for i := range mac {
		f.dstMAC[i] = mac[i] & mask[i]
	}
	f.dstMACMask = mask
	f.index |= bitDstMAC
}

func (f *Filter) SetEthType(ethType, mask uint16) {
	f.ethType, f.ethTypeMask = ethType&mask, mask
	f.index |= bitEthType
}

func (f *Filter) SetVLAN(tci, mask uint16) {
	f.vlanTCI, f.vlanMask = tci&mask, mask
	f.index |= bitVLANTCI
}

func (f *Filter) SetIface(substr string) {
	f.ifaceSubstr = substr
	f.index |= bitIface
}

// SetMAMPid stores up to 8 bytes, compared byte-wise (spec: "prefix-8
// exact").
func (f *Filter) SetMAMPid(s string) {
	var b [8]byte
	n := copy(b[:], s)
	_ = n
	f.mampid = b
	f.index |= bitMAMPid
}

func (f *Filter) SetStartTime(t picotime.Picotime) {
	f.startTime = t
	f.index |= bitStartTime
}

func (f *Filter) SetEndTime(t picotime.Picotime) {
	f.endTime = t
	f.index |= bitEndTime
}

func (f *Filter) SetFrameMaxDt(d picotime.Picotime) {
	f.frameMaxDt = d
	f.index |= bitFrameMaxDt
}

func (f *Filter) AddFrameRange(start, end uint64) {
	f.frameRanges = append(f.frameRanges, FrameRange{Start: start, End: end})
	f.index |= bitFrameRange
}

// SetCaplen limits the number of bytes a producer saves per packet; it
// is not itself part of the predicate bitmap (spec §4.E: "caplen limits
// saved bytes" is applied at capture time, not matched).
func (f *Filter) SetCaplen(n int) { f.caplen = n }

func (f *Filter) Caplen() int { return f.caplen }

// SetBPF attaches a compiled BPF program, evaluated last (spec §4.E
// step 5).
func (f *Filter) SetBPF(p *Program) { f.bpf = p }

// parsed is the progressively-decoded view of a packet's headers,
// built once per Match call (spec §4.E step 2).
type parsed struct {
	haveEth            bool
	dstMAC, srcMAC     [6]byte
	ethType            uint16
	haveVLAN           bool
	vlanTCI            uint16
	haveIPv4           bool
	srcIP, dstIP       uint32
	ipProto            uint8
	haveL4             bool
	srcPort, dstPort   uint16
}

const (
	ethHeaderLen  = 14
	vlanHeaderLen = 4
)

func parsePacket(payload []byte) parsed {
	var p parsed
	if len(payload) < ethHeaderLen {
		return p
	}
	copy(p.dstMAC[:], payload[0:6])
	copy(p.srcMAC[:], payload[6:12])
	p.ethType = binary.BigEndian.Uint16(payload[12:14])
	p.haveEth = true

	off := ethHeaderLen
	if p.ethType == 0x8100 || p.ethType == 0x88a8 {
		if len(payload) < off+vlanHeaderLen+2 {
			return p
		}
		p.vlanTCI = binary.BigEndian.Uint16(payload[off : off+2])
		p.haveVLAN = true
		p.ethType = binary.BigEndian.Uint16(payload[off+2 : off+4])
		off += vlanHeaderLen
	}

	if p.ethType != 0x0800 {
		return p
	}
	if len(payload) < off+20 {
		return p
	}
	ihl := int(payload[off]&0x0f) * 4
	if ihl < 20 || len(payload) < off+ihl {
		return p
	}
	p.ipProto = payload[off+9]
	p.srcIP = binary.BigEndian.Uint32(payload[off+12 : off+16])
	p.dstIP = binary.BigEndian.Uint32(payload[off+16 : off+20])
	p.haveIPv4 = true

	l4off := off + ihl
	switch p.ipProto {
	case 6, 17: // TCP, UDP: source/dest port are the first 4 bytes of both
		if len(payload) < l4off+4 {
			return p
		}
		p.srcPort = binary.BigEndian.Uint16(payload[l4off : l4off+2])
		p.dstPort = binary.BigEndian.Uint16(payload[l4off+2 : l4off+4])
		p.haveL4 = true
	}
	return p
}

// Match implements spec §4.E's matching algorithm, including its
// deliberately-preserved IP-mask semantics (see ipMatch below).
func (f *Filter) Match(payload []byte, ts picotime.Picotime, nic string, frameNr uint64) bool {
	if f.index == 0 {
		return f.bpfMatch(payload)
	}

	p := parsePacket(payload)

	results := make([]bool, 0, 16)

	if f.index&bitSrcMAC != 0 {
		results = append(results, p.haveEth && macMatch(p.srcMAC, f.srcMACMask, f.srcMAC))
	}
	if f.index&bitDstMAC != 0 {
		results = append(results, p.haveEth && macMatch(p.dstMAC, f.dstMACMask, f.dstMAC))
	}
	if f.index&bitEthType != 0 {
		results = append(results, p.haveEth && intMatch(uint32(p.ethType), uint32(f.ethTypeMask), uint32(f.ethType)))
	}
	if f.index&bitVLANTCI != 0 {
		results = append(results, p.haveVLAN && intMatch(uint32(p.vlanTCI), uint32(f.vlanMask), uint32(f.vlanTCI)))
	}
	if f.index&bitSrcIP != 0 {
		results = append(results, p.haveIPv4 && ipMatch(p.srcIP, f.srcMask, f.srcIP))
	}
	if f.index&bitDstIP != 0 {
		results = append(results, p.haveIPv4 && ipMatch(p.dstIP, f.dstMask, f.dstIP))
	}
	if f.index&bitIPProto != 0 {
		results = append(results, p.haveIPv4 && p.ipProto == f.ipProto)
	}
	if f.index&bitSrcPort != 0 {
		results = append(results, p.haveL4 && intMatch(uint32(p.srcPort), uint32(f.srcPortMask), uint32(f.srcPort)))
	}
	if f.index&bitDstPort != 0 {
		results = append(results, p.haveL4 && intMatch(uint32(p.dstPort), uint32(f.dstPortMask), uint32(f.dstPort)))
	}
	if f.index&bitPort != 0 {
		m := p.haveL4 && (intMatch(uint32(p.srcPort), uint32(f.portMask), uint32(f.port)) ||
			intMatch(uint32(p.dstPort), uint32(f.portMask), uint32(f.port)))
		results = append(results, m)
	}
	if f.index&bitIface != 0 {
		results = append(results, ifaceMatch(nic, f.ifaceSubstr))
	}
	if f.index&bitMAMPid != 0 {
		results = append(results, true) // mampid is matched by the caller against the capture header; see MatchMAMPid
	}
	if f.index&bitStartTime != 0 {
		results = append(results, !ts.Before(f.startTime))
	}
	if f.index&bitEndTime != 0 {
		results = append(results, !ts.After(f.endTime))
	}
	if f.index&bitFrameMaxDt != 0 {
		ok := true
		if f.haveLastTs && picotime.Sub(ts, f.frameLastTs).After(f.frameMaxDt) {
			ok = false
		}
		if ok {
			f.frameLastTs = ts
			f.haveLastTs = true
		}
		results = append(results, ok)
	}
	if f.index&bitFrameRange != 0 {
		results = append(results, frameInRanges(frameNr, f.frameRanges))
	}

	var ok bool
	if f.mode == ModeOr {
		ok = false
		for _, r := range results {
			if r {
				ok = true
				break
			}
		}
	} else {
		ok = true
		for _, r := range results {
			if !r {
				ok = false
				break
			}
		}
	}
	if !ok {
		return false
	}
	return f.bpfMatch(payload)
}

// MatchMAMPid is called by the stream layer with the capture header's
// mampid field, since the predicate itself is evaluated against
// CaptureHeader rather than packet payload.
func (f *Filter) MatchMAMPid(mampid [8]byte) bool {
	if f.index&bitMAMPid == 0 {
		return true
	}
	return f.mampid == mampid
}

func (f *Filter) bpfMatch(payload []byte) bool {
	if f.bpf == nil {
		return true
	}
	return f.bpf.Run(payload)
}

func macMatch(addr, mask, target [6]byte) bool {
	for i := 0; i < 6; i++ {
		if addr[i]&mask[i] != target[i] {
			return false
		}
	}
	return true
}

func intMatch(value, mask, target uint32) bool {
	return value&mask == target
}

// ipMatch preserves the source library's IP-mask semantics exactly: it
// is "(addr & mask) & target != 0", not "(addr & mask) == target". A
// zero target combined with any mask therefore never matches; this is
// intentional and must not be "corrected" (spec §4.E step 3, §9).
func ipMatch(addr, mask, target uint32) bool {
	return (addr&mask)&target != 0
}

func ifaceMatch(nic, substr string) bool {
	if substr == "" {
		return true
	}
	return contains(nic, substr)
}

func contains(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	if len(substr) > len(s) {
		return false
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

func frameInRanges(nr uint64, ranges []FrameRange) bool {
	for _, r := range ranges {
		if nr >= r.Start && nr <= r.End {
			return true
		}
	}
	return false
}
