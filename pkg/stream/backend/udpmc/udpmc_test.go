package udpmc

import (
	"net"
	"testing"
	"time"

	"github.com/protei/dpmi/pkg/wire"
)

func TestUnicastRoundTrip(t *testing.T) {
	rx, err := Open(net.IPv4(127, 0, 0, 1), 0, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rx.Close()

	port := uint16(rx.conn.LocalAddr().(*net.UDPAddr).Port)
	tx, err := Create(net.IPv4(127, 0, 0, 1), port, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tx.Close()

	send := wire.SendHeader{SequenceNr: 7, NoPkts: 1}
	frame := append(send.Marshal(), []byte("payload")...)
	if _, err := tx.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1500)
	n, err := rx.ReadFrame(buf, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("ReadFrame: got %d bytes, want %d", n, len(frame))
	}
	if rx.LastFrameSeq() != 7 {
		t.Fatalf("LastFrameSeq: got %d, want 7", rx.LastFrameSeq())
	}
	if rx.LastSourceKey() == "" {
		t.Fatalf("LastSourceKey: want non-empty")
	}
	if !rx.LastSourceIsLoopback() {
		t.Fatalf("LastSourceIsLoopback: want true for 127.0.0.1")
	}
}

func TestReadFrameTimeout(t *testing.T) {
	rx, err := Open(net.IPv4(127, 0, 0, 1), 0, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rx.Close()

	buf := make([]byte, 1500)
	n, err := rx.ReadFrame(buf, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != 0 {
		t.Fatalf("ReadFrame: got %d bytes, want 0 on timeout", n)
	}
}

func TestFlushedFlag(t *testing.T) {
	rx, err := Open(net.IPv4(127, 0, 0, 1), 0, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rx.Close()

	port := uint16(rx.conn.LocalAddr().(*net.UDPAddr).Port)
	tx, err := Create(net.IPv4(127, 0, 0, 1), port, "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer tx.Close()

	send := wire.SendHeader{SequenceNr: 1, NoPkts: 0, Flags: wire.SendFlagFlush}
	if _, err := tx.Write(send.Marshal()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1500)
	if _, err := rx.ReadFrame(buf, time.Second); err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !rx.Flushed() {
		t.Fatalf("Flushed: want true after a Flush-flagged frame")
	}
}

func TestAddRequiresMulticastSocket(t *testing.T) {
	rx, err := Open(net.IPv4(127, 0, 0, 1), 0, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rx.Close()

	if err := rx.Add(net.IPv4(239, 1, 1, 1)); err == nil {
		t.Fatalf("Add: want error on a unicast-opened socket")
	}
}
