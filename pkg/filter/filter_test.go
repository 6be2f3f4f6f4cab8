package filter

import (
	"bytes"
	"testing"

	"github.com/protei/dpmi/pkg/picotime"
)

func ipv4UDPPacket(srcMAC, dstMAC [6]byte, srcIP, dstIP uint32, srcPort, dstPort uint16) []byte {
	buf := make([]byte, 14+20+8)
	copy(buf[0:6], dstMAC[:])
	copy(buf[6:12], srcMAC[:])
	buf[12], buf[13] = 0x08, 0x00
	buf[14] = 0x45 // version 4, IHL 5
	buf[23] = 17   // UDP
	putU32(buf[26:30], srcIP)
	putU32(buf[30:34], dstIP)
	putU16(buf[34:36], srcPort)
	putU16(buf[36:38], dstPort)
	return buf
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func putU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func TestShortCircuitMatchesEverything(t *testing.T) {
	f := New()
	if !f.Match(nil, picotime.Picotime{}, "eth0", 0) {
		t.Fatal("empty filter must match everything, including a nil packet")
	}
}

func TestPortAndModeAnd(t *testing.T) {
	pkt := ipv4UDPPacket([6]byte{1, 2, 3, 4, 5, 6}, [6]byte{6, 5, 4, 3, 2, 1}, 0x0A000001, 0x0A000002, 12345, 53)

	f := New()
	f.SetDstPort(53, 0xFFFF)
	f.SetIPProto(17)
	if !f.Match(pkt, picotime.Picotime{}, "eth0", 0) {
		t.Fatal("expected match on dst-port 53 + udp")
	}

	f2 := New()
	f2.SetDstPort(80, 0xFFFF)
	f2.SetIPProto(17)
	if f2.Match(pkt, picotime.Picotime{}, "eth0", 0) {
		t.Fatal("expected no match: dst-port 80 does not match 53")
	}
}

func TestModeOrIsDisjunction(t *testing.T) {
	pkt := ipv4UDPPacket([6]byte{1, 2, 3, 4, 5, 6}, [6]byte{6, 5, 4, 3, 2, 1}, 0x0A000001, 0x0A000002, 53, 12345)

	f := New()
	f.SetMode(ModeOr)
	f.SetDstPort(80, 0xFFFF) // false
	f.SetIPProto(17)         // true
	if !f.Match(pkt, picotime.Picotime{}, "eth0", 0) {
		t.Fatal("OR mode should match when any predicate is true")
	}
}

// TestIPMaskSemanticsAreNotEquality locks in the deliberately preserved
// "(addr & mask) & target != 0" semantics (spec §4.E, §9): a target of
// 0 never matches, and the predicate is not the same as masked
// equality.
func TestIPMaskSemanticsAreNotEquality(t *testing.T) {
	addr := uint32(0x0A000001)
	mask := uint32(0xFFFFFFFF)

	if ipMatch(addr, mask, 0) {
		t.Fatal("a zero target must never match under the preserved semantics")
	}
	// addr & mask == addr, and addr & addr != 0, so this matches even
	// though "addr == target" would also hold here; assert the two
	// formulations diverge on a case where masked equality is false
	// but the bitwise-AND predicate is true.
	target := uint32(0x0A000003) // shares bits with addr, not equal to it
	if (addr & mask) == target {
		t.Fatal("test setup invariant broken: addr should not equal target")
	}
	if !ipMatch(addr, mask, target) {
		t.Fatal("expected the preserved AND-not-equal semantics to match on overlapping bits")
	}
}

func TestFrameRanges(t *testing.T) {
	f := New()
	f.AddFrameRange(10, 20)
	pkt := ipv4UDPPacket([6]byte{}, [6]byte{}, 0, 0, 0, 0)
	if f.Match(pkt, picotime.Picotime{}, "eth0", 5) {
		t.Fatal("frame 5 should not be in range [10,20]")
	}
	if !f.Match(pkt, picotime.Picotime{}, "eth0", 15) {
		t.Fatal("frame 15 should be in range [10,20]")
	}
}

func TestFrameMaxDt(t *testing.T) {
	f := New()
	f.SetFrameMaxDt(picotime.Picotime{Sec: 1})
	pkt := ipv4UDPPacket([6]byte{}, [6]byte{}, 0, 0, 0, 0)

	t0 := picotime.Picotime{Sec: 100}
	if !f.Match(pkt, t0, "eth0", 0) {
		t.Fatal("first packet always matches frame-max-dt")
	}
	t1 := picotime.Picotime{Sec: 100, Psec: 500_000_000_000} // +0.5s
	if !f.Match(pkt, t1, "eth0", 1) {
		t.Fatal("0.5s gap should be within the 1s max-dt")
	}
	t2 := picotime.Picotime{Sec: 103} // +2.5s from t1
	if f.Match(pkt, t2, "eth0", 2) {
		t.Fatal("2.5s gap should exceed the 1s max-dt")
	}
}

func TestIfaceSubstring(t *testing.T) {
	f := New()
	f.SetIface("eth")
	pkt := ipv4UDPPacket([6]byte{}, [6]byte{}, 0, 0, 0, 0)
	if !f.Match(pkt, picotime.Picotime{}, "eth0", 0) {
		t.Fatal("expected substring match on eth0")
	}
	if f.Match(pkt, picotime.Picotime{}, "wlan0", 0) {
		t.Fatal("expected no substring match on wlan0")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	f := New()
	f.SetMode(ModeOr)
	f.SetSrcPort(53, 0xFFFF)
	f.SetDstIP(0x0A000001, 0xFFFFFF00)
	f.SetIface("eth")
	f.SetCaplen(128)
	f.AddFrameRange(1, 100)
	f.SetStartTime(picotime.Picotime{Sec: 42, Psec: 7})

	packed := f.Pack()
	got, err := Unpack(packed)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}

	if got.index != f.index || got.mode != f.mode {
		t.Fatalf("index/mode mismatch: got %v/%v want %v/%v", got.index, got.mode, f.index, f.mode)
	}
	if got.srcPort != f.srcPort || got.srcPortMask != f.srcPortMask {
		t.Fatal("src port round-trip mismatch")
	}
	if got.dstIP != f.dstIP || got.dstMask != f.dstMask {
		t.Fatal("dst IP round-trip mismatch")
	}
	if got.ifaceSubstr != f.ifaceSubstr {
		t.Fatal("iface round-trip mismatch")
	}
	if got.caplen != f.caplen {
		t.Fatal("caplen round-trip mismatch")
	}
	if len(got.frameRanges) != 1 || got.frameRanges[0] != f.frameRanges[0] {
		t.Fatal("frame range round-trip mismatch")
	}
	if got.startTime != f.startTime {
		t.Fatal("start time round-trip mismatch")
	}
}

func TestFromArgvConsumesKnownOptionsOnly(t *testing.T) {
	var logs bytes.Buffer
	logFn := func(format string, args ...any) { logs.WriteString(format) }

	args := []string{"--tp.dport=53", "--filter-mode=or", "--unknown-flag", "positional"}
	f, rest := FromArgv(args, logFn)

	if f.index&bitDstPort == 0 {
		t.Fatal("expected dst-port bit set")
	}
	if f.mode != ModeOr {
		t.Fatal("expected OR mode")
	}
	if len(rest) != 2 || rest[0] != "--unknown-flag" || rest[1] != "positional" {
		t.Fatalf("expected unrecognised args preserved, got %v", rest)
	}
}

func TestFromArgvLogsAndSkipsBadOption(t *testing.T) {
	var logged bool
	logFn := func(format string, args ...any) { logged = true }

	f, _ := FromArgv([]string{"--tp.dport=not-a-port"}, logFn)
	if f.index&bitDstPort != 0 {
		t.Fatal("a failed option parse must not set the field's bit")
	}
	if !logged {
		t.Fatal("expected the parse failure to be logged")
	}
}

func TestCompileAndRunBPF(t *testing.T) {
	prog, err := Compile("udp and dst port 53")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	pkt := ipv4UDPPacket([6]byte{}, [6]byte{}, 0x0A000001, 0x0A000002, 12345, 53)
	if !prog.Run(pkt) {
		t.Fatal("expected BPF program to accept a udp/53 packet")
	}
	other := ipv4UDPPacket([6]byte{}, [6]byte{}, 0x0A000001, 0x0A000002, 12345, 80)
	if prog.Run(other) {
		t.Fatal("expected BPF program to reject a udp/80 packet")
	}
}
