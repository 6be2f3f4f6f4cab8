package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/wire"
)

func TestCreateThenOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.dpmi")
	addr := address.CapfileAddr{Path: path}

	w, err := Create(addr, "mp-1", "a test capture")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch := wire.CaptureHeader{Len: 5, Caplen: 5}
	frame := append(ch.Marshal(), []byte("hello")...)
	if _, err := w.Write(frame); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(addr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if got := r.Header().MpidString(); got != "mp-1" {
		t.Fatalf("MpidString: got %q, want mp-1", got)
	}
	if r.Comment() != "a test capture" {
		t.Fatalf("Comment: got %q", r.Comment())
	}

	buf := make([]byte, 256)
	n, err := r.FillBuffer(buf, 0)
	if err != nil {
		t.Fatalf("FillBuffer: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("FillBuffer: got %d bytes, want %d", n, len(frame))
	}
}

func TestFillBufferReturnsZeroOnEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.dpmi")
	addr := address.CapfileAddr{Path: path}

	w, err := Create(addr, "mp-2", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(addr)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	buf := make([]byte, 64)
	n, err := r.FillBuffer(buf, 0)
	if err != nil {
		t.Fatalf("FillBuffer: %v", err)
	}
	if n != 0 {
		t.Fatalf("FillBuffer: got %d bytes, want 0 at EOF", n)
	}
}

func TestOpenLegacyV05(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.dpmi")
	mpid := make([]byte, legacyMpidLen)
	copy(mpid, "legacy-mp")
	ch := wire.CaptureHeader{Len: 3, Caplen: 3}
	content := append(mpid, ch.Marshal()...)
	content = append(content, []byte("abc")...)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	addr := address.CapfileAddr{Path: path}
	r, err := Open(addr)
	if err != nil {
		t.Fatalf("Open legacy v0.5: %v", err)
	}
	defer r.Close()

	if got := r.Header().MpidString(); got != "legacy-mp" {
		t.Fatalf("MpidString: got %q, want legacy-mp", got)
	}
	if r.Header().Version.Minor != 5 {
		t.Fatalf("Version: got minor %d, want 5", r.Header().Version.Minor)
	}

	buf := make([]byte, 256)
	n, err := r.FillBuffer(buf, 0)
	if err != nil {
		t.Fatalf("FillBuffer: %v", err)
	}
	if n != len(ch.Marshal())+3 {
		t.Fatalf("FillBuffer: got %d bytes, want %d", n, len(ch.Marshal())+3)
	}
}

func TestOpenLegacyV06(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy06.dpmi")
	mpid := make([]byte, legacyMpidLen)
	copy(mpid, "legacy-mp6")
	content := append([]byte{}, mpid...)
	content = append(content, 0, 0, 0, 5) // comment_size = 5, big-endian
	content = append(content, []byte("howdy")...)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	addr := address.CapfileAddr{Path: path}
	r, err := Open(addr)
	if err != nil {
		t.Fatalf("Open legacy v0.6: %v", err)
	}
	defer r.Close()

	if r.Comment() != "howdy" {
		t.Fatalf("Comment: got %q, want howdy", r.Comment())
	}
	if r.Header().Version.Minor != 6 {
		t.Fatalf("Version: got minor %d, want 6", r.Header().Version.Minor)
	}
}

func TestCreateHandleDoesNotCloseUnderlyingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "handle.dpmi")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	b, err := CreateHandle(f, false, false, "mp-h", "")
	if err != nil {
		t.Fatalf("CreateHandle: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// fclose was false, so f must still be usable.
	if _, err := f.Stat(); err != nil {
		t.Fatalf("Stat after Close: underlying file was closed: %v", err)
	}
	f.Close()
}
