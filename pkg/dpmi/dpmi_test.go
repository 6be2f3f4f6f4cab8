package dpmi

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/stream"
	"github.com/protei/dpmi/pkg/wire"
)

func TestCapfileCreateThenOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.dpmi")
	addr := address.CapfileAddr{Path: path}

	w, err := Create(addr, "", "mp-1", "round trip", stream.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ch := wire.CaptureHeader{Len: 5, Caplen: 5}
	if _, err := w.Copy(ch, []byte("hello")); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(addr, "", stream.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	_, payload, err := r.Read(nil, 0)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(payload) != "hello" {
		t.Fatalf("Read: got payload %q, want %q", payload, "hello")
	}

	if _, _, err := r.Read(nil, 0); !errors.Is(err, stream.ErrEOF) {
		t.Fatalf("second Read: got %v, want ErrEOF", err)
	}
}

func TestOpenUnsupportedKindFails(t *testing.T) {
	if _, err := Open(fakeAddr{}, "", stream.Options{}); err == nil {
		t.Fatalf("Open: want an error for an unsupported address kind")
	}
}

func TestCreateTCPIsNotImplemented(t *testing.T) {
	addr := address.TCPAddr{Port: 9999}
	if _, err := Create(addr, "", "", "", stream.Options{}); err == nil {
		t.Fatalf("Create: want an error for TCP (spec §9 open question b)")
	}
}

func TestAddRejectsNonMultiAddressStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.dpmi")
	addr := address.CapfileAddr{Path: path}

	w, err := Create(addr, "", "mp-1", "", stream.Options{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	if err := Add(w, address.CapfileAddr{Path: path}); err == nil {
		t.Fatalf("Add: want an error for a capfile-backed stream")
	}
}

// fakeAddr is a minimal address.Address whose Kind never matches a real
// backend, used to exercise Open/Create's default dispatch case.
type fakeAddr struct{}

func (fakeAddr) Kind() address.Kind { return address.KindGuess }
func (fakeAddr) String() string     { return "fake://" }
