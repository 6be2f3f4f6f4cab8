package marker

import (
	"encoding/binary"
	"testing"
)

func buildPayload(flags uint8, comment string) []byte {
	buf := make([]byte, 4+bodySize)
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	body := buf[4:]
	body[0] = 1 // version
	body[1] = flags
	binary.BigEndian.PutUint16(body[2:4], 0)
	binary.BigEndian.PutUint32(body[4:8], 100)  // exp_id
	binary.BigEndian.PutUint32(body[8:12], 7)   // run_id
	binary.BigEndian.PutUint32(body[12:16], 42) // key_id
	binary.BigEndian.PutUint32(body[16:20], 3)  // seq_num
	binary.BigEndian.PutUint64(body[20:28], 0x0102030405060708)
	copy(body[28:28+64], []byte(comment))
	return buf
}

func TestIsMarkerMatch(t *testing.T) {
	payload := buildPayload(FlagTerminate, "run complete")

	var m Marker
	dst := IsMarker(MagicSrcPort, 9000, payload, 9000, &m)
	if dst != 9000 {
		t.Fatalf("IsMarker: got dst %d, want 9000", dst)
	}
	if !m.Terminate() {
		t.Fatalf("Terminate: want true")
	}
	if m.ExpId != 100 || m.RunId != 7 || m.KeyId != 42 || m.SeqNum != 3 {
		t.Fatalf("decoded fields wrong: %+v", m)
	}
	if m.CommentString() != "run complete" {
		t.Fatalf("CommentString: got %q", m.CommentString())
	}
}

func TestIsMarkerWrongSrcPort(t *testing.T) {
	payload := buildPayload(0, "")
	var m Marker
	if dst := IsMarker(12345, 9000, payload, 9000, &m); dst != 0 {
		t.Fatalf("IsMarker: got dst %d, want 0 for wrong src port", dst)
	}
}

func TestIsMarkerWrongDstPort(t *testing.T) {
	payload := buildPayload(0, "")
	var m Marker
	if dst := IsMarker(MagicSrcPort, 1234, payload, 9000, &m); dst != 0 {
		t.Fatalf("IsMarker: got dst %d, want 0 for wrong dst port", dst)
	}
}

func TestIsMarkerAnyDstPort(t *testing.T) {
	payload := buildPayload(0, "")
	var m Marker
	if dst := IsMarker(MagicSrcPort, 5555, payload, 0, &m); dst != 5555 {
		t.Fatalf("IsMarker: got dst %d, want 5555 when wantDstPort is 0", dst)
	}
}

func TestIsMarkerBadMagic(t *testing.T) {
	payload := buildPayload(0, "")
	binary.BigEndian.PutUint32(payload[0:4], 0xdeadbeef)
	var m Marker
	if dst := IsMarker(MagicSrcPort, 9000, payload, 9000, &m); dst != 0 {
		t.Fatalf("IsMarker: got dst %d, want 0 for bad magic", dst)
	}
}

func TestIsMarkerTooShort(t *testing.T) {
	payload := buildPayload(0, "")[:10]
	var m Marker
	if dst := IsMarker(MagicSrcPort, 9000, payload, 9000, &m); dst != 0 {
		t.Fatalf("IsMarker: got dst %d, want 0 for short payload", dst)
	}
}

func TestNotTerminate(t *testing.T) {
	payload := buildPayload(0, "")
	var m Marker
	IsMarker(MagicSrcPort, 9000, payload, 9000, &m)
	if m.Terminate() {
		t.Fatalf("Terminate: want false when FlagTerminate unset")
	}
}
