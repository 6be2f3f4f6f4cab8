package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/protei/dpmi/pkg/wire"
)

func TestReadFrameSingleFrameNoPackets(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	b, err := Open(addr.IP, uint16(addr.Port))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	server := <-accepted
	defer server.Close()

	send := wire.SendHeader{SequenceNr: 42, NoPkts: 0}
	if _, err := server.Write(send.Marshal()); err != nil {
		t.Fatalf("server Write: %v", err)
	}

	buf := make([]byte, 1500)
	n, err := b.ReadFrame(buf, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != wire.SendHeaderSize {
		t.Fatalf("ReadFrame: got %d bytes, want %d", n, wire.SendHeaderSize)
	}
	if b.LastFrameSeq() != 42 {
		t.Fatalf("LastFrameSeq: got %d, want 42", b.LastFrameSeq())
	}
}

func TestReadFrameWithPackets(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	b, err := Open(addr.IP, uint16(addr.Port))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	server := <-accepted
	defer server.Close()

	send := wire.SendHeader{SequenceNr: 1, NoPkts: 1, Flags: wire.SendFlagFlush}
	ch := wire.CaptureHeader{Len: 3, Caplen: 3}
	frame := append(send.Marshal(), ch.Marshal()...)
	frame = append(frame, []byte("abc")...)
	if _, err := server.Write(frame); err != nil {
		t.Fatalf("server Write: %v", err)
	}

	buf := make([]byte, 1500)
	n, err := b.ReadFrame(buf, time.Second)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("ReadFrame: got %d bytes, want %d", n, len(frame))
	}
	if !b.Flushed() {
		t.Fatalf("Flushed: want true")
	}
}

func TestCreateNotImplemented(t *testing.T) {
	if _, err := Create(net.IPv4(127, 0, 0, 1), 9999); err == nil {
		t.Fatalf("Create: want an error, got nil")
	}
}

func TestLastSourceKeyIsPeerAddr(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	b, err := Open(addr.IP, uint16(addr.Port))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()

	if b.LastSourceKey() == "" {
		t.Fatalf("LastSourceKey: want non-empty")
	}
	if b.LastSourceIsLoopback() {
		t.Fatalf("LastSourceIsLoopback: want false (spec §4.M leaves TCP sources unclassified)")
	}
}
