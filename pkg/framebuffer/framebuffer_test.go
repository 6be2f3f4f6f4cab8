package framebuffer

import (
	"testing"
	"time"

	"github.com/protei/dpmi/pkg/wire"
)

// buildFrame assembles a (no Ethernet header) measurement frame: send
// header + nopkts capture packets, each carrying payload.
func buildFrame(seq uint32, payloads [][]byte) []byte {
	send := wire.SendHeader{SequenceNr: seq, NoPkts: uint32(len(payloads))}
	buf := send.Marshal()
	for _, p := range payloads {
		ch := wire.CaptureHeader{Len: uint32(len(p)), Caplen: uint32(len(p))}
		buf = append(buf, ch.Marshal()...)
		buf = append(buf, p...)
	}
	return buf
}

func TestReadSinglePacketFrame(t *testing.T) {
	frame := buildFrame(1, [][]byte{[]byte("hello")})

	calls := 0
	readFrame := func(dst []byte, timeout time.Duration) (int, error) {
		calls++
		if calls > 1 {
			return 0, nil // subsequent calls (top-up) report no more data
		}
		return copy(dst, frame), nil
	}

	b := New(4, 1500, false)
	pkt, err := b.Read(readFrame, nil, "eth0", time.Second)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(pkt.Payload) != "hello" {
		t.Fatalf("got payload %q, want %q", pkt.Payload, "hello")
	}
}

func TestReadMultiplePacketsInOneFrame(t *testing.T) {
	frame := buildFrame(1, [][]byte{[]byte("aa"), []byte("bbb")})

	served := false
	readFrame := func(dst []byte, timeout time.Duration) (int, error) {
		if served {
			return 0, nil
		}
		served = true
		return copy(dst, frame), nil
	}

	b := New(4, 1500, false)
	p1, err := b.Read(readFrame, nil, "eth0", time.Second)
	if err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if string(p1.Payload) != "aa" {
		t.Fatalf("packet 1 = %q, want aa", p1.Payload)
	}
	p2, err := b.Read(readFrame, nil, "eth0", time.Second)
	if err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if string(p2.Payload) != "bbb" {
		t.Fatalf("packet 2 = %q, want bbb", p2.Payload)
	}
}

func TestFirstOfFrameSetOncePerFrame(t *testing.T) {
	frame := buildFrame(5, [][]byte{[]byte("aa"), []byte("bbb")})

	served := false
	readFrame := func(dst []byte, timeout time.Duration) (int, error) {
		if served {
			return 0, nil
		}
		served = true
		return copy(dst, frame), nil
	}

	b := New(4, 1500, false)
	p1, err := b.Read(readFrame, nil, "eth0", time.Second)
	if err != nil {
		t.Fatalf("Read 1: %v", err)
	}
	if !p1.FirstOfFrame {
		t.Fatal("first packet of a frame must have FirstOfFrame set")
	}
	if p1.FrameSeq != 5 {
		t.Fatalf("FrameSeq = %d, want 5", p1.FrameSeq)
	}

	p2, err := b.Read(readFrame, nil, "eth0", time.Second)
	if err != nil {
		t.Fatalf("Read 2: %v", err)
	}
	if p2.FirstOfFrame {
		t.Fatal("second packet of the same frame must not have FirstOfFrame set")
	}
	if p2.FrameSeq != 5 {
		t.Fatalf("FrameSeq = %d, want 5", p2.FrameSeq)
	}
}

func TestReadTimeoutWhenNoFrame(t *testing.T) {
	readFrame := func(dst []byte, timeout time.Duration) (int, error) { return 0, nil }
	b := New(4, 1500, false)
	_, err := b.Read(readFrame, nil, "eth0", time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestMalformedFrameDiscarded(t *testing.T) {
	calls := 0
	readFrame := func(dst []byte, timeout time.Duration) (int, error) {
		calls++
		if calls == 1 {
			return copy(dst, []byte{1, 2, 3}), nil // too short to be a send header
		}
		return 0, nil
	}
	b := New(4, 1500, false)
	_, err := b.Read(readFrame, nil, "eth0", time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout after discarding malformed frame, got %v", err)
	}
}

func TestEmpty(t *testing.T) {
	b := New(4, 1500, false)
	if !b.Empty() {
		t.Fatal("a fresh buffer should be empty")
	}
}
