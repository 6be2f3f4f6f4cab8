// Package dpmi ties pkg/address's parsed endpoints to concrete
// pkg/stream backends (spec §4.I: "open/create dispatches on address
// type"). It lives one layer above pkg/stream to avoid an import cycle
// between the backend-agnostic stream core and its backends, the same
// shape pkg/protocol/stdproto uses for protocol registration.
package dpmi

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/config"
	"github.com/protei/dpmi/pkg/dpmierr"
	"github.com/protei/dpmi/pkg/stream"
	"github.com/protei/dpmi/pkg/stream/backend/file"
	"github.com/protei/dpmi/pkg/stream/backend/tcp"
	"github.com/protei/dpmi/pkg/stream/backend/udpmc"
)

// Open builds a consumer-side Stream for addr (spec §4.I "open"). Guess
// addresses are rejected: Parse already resolves scheme-less text to a
// concrete kind before this function ever sees it.
func Open(addr address.Address, iface string, opts stream.Options) (*stream.Stream, error) {
	opts.Iface = iface
	switch a := addr.(type) {
	case address.CapfileAddr:
		b, err := file.Open(a)
		if err != nil {
			return nil, err
		}
		opts.Mpid = b.Header().MpidString()
		opts.Comment = b.Comment()
		return stream.New(b, addr, opts), nil

	case address.FifoAddr:
		f, err := openExistingFifo(a)
		if err != nil {
			return nil, err
		}
		b, err := file.OpenHandle(f)
		if err != nil {
			return nil, err
		}
		opts.Mpid = b.Header().MpidString()
		opts.Comment = b.Comment()
		return stream.New(b, addr, opts), nil

	case address.FilePointerAddr:
		b, err := file.OpenHandle(a.Handle)
		if err != nil {
			return nil, err
		}
		opts.Mpid = b.Header().MpidString()
		opts.Comment = b.Comment()
		return stream.New(b, addr, opts), nil

	case address.EthernetAddr:
		b, err := openEthernet(a, iface, opts.BufferSize)
		if err != nil {
			return nil, err
		}
		if mb, ok := b.(mtuBackend); ok {
			opts.MTU = mb.MTU()
		}
		opts.HasEthernetHeader = true
		return stream.New(b, addr, opts), nil

	case address.UDPAddr:
		b, err := udpmc.Open(a.IP, a.Port, iface)
		if err != nil {
			return nil, err
		}
		opts.MTU = b.MTU()
		opts.HasEthernetHeader = false
		return stream.New(b, addr, opts), nil

	case address.TCPAddr:
		b, err := tcp.Open(a.IP, a.Port)
		if err != nil {
			return nil, err
		}
		opts.HasEthernetHeader = false
		return stream.New(b, addr, opts), nil

	default:
		return nil, dpmierr.New(dpmierr.InvalidProtocol, "Open: unsupported or Guess address")
	}
}

// Create builds a producer-side Stream for addr (spec §4.I "create").
func Create(addr address.Address, iface, mpid, comment string, opts stream.Options) (*stream.Stream, error) {
	opts.Iface = iface
	opts.Mpid = mpid
	opts.Comment = comment
	switch a := addr.(type) {
	case address.CapfileAddr:
		b, err := file.Create(a, mpid, comment)
		if err != nil {
			return nil, err
		}
		return stream.New(b, addr, opts), nil

	case address.FifoAddr:
		f, err := createFifo(a)
		if err != nil {
			return nil, err
		}
		b, err := file.CreateHandle(f, a.Flags&address.Flush != 0, a.Flags&address.Fclose != 0, mpid, comment)
		if err != nil {
			unix.Unlink(a.Path)
			return nil, err
		}
		return stream.New(b, addr, opts), nil

	case address.FilePointerAddr:
		b, err := file.CreateHandle(a.Handle, false, false, mpid, comment)
		if err != nil {
			return nil, err
		}
		return stream.New(b, addr, opts), nil

	case address.EthernetAddr:
		b, err := openEthernet(a, iface, opts.BufferSize)
		if err != nil {
			return nil, err
		}
		if mb, ok := b.(mtuBackend); ok {
			opts.MTU = mb.MTU()
		}
		opts.HasEthernetHeader = true
		return stream.New(b, addr, opts), nil

	case address.UDPAddr:
		b, err := udpmc.Create(a.IP, a.Port, iface)
		if err != nil {
			return nil, err
		}
		opts.MTU = b.MTU()
		opts.HasEthernetHeader = false
		return stream.New(b, addr, opts), nil

	case address.TCPAddr:
		_, err := tcp.Create(a.IP, a.Port)
		if err != nil {
			return nil, err
		}
		return nil, dpmierr.New(dpmierr.NotImplemented, "tcp Create")

	default:
		return nil, dpmierr.New(dpmierr.InvalidProtocol, "Create: unsupported or Guess address")
	}
}

// Add joins an additional sibling address to an already-open stream;
// valid only for Ethernet and UDP multicast streams (spec §4.I).
func Add(s *stream.Stream, addr address.Address) error {
	if err := s.Add(addr); err != nil {
		return err
	}
	switch a := addr.(type) {
	case address.EthernetAddr:
		if adder, ok := s.Backend().(ethernetAdder); ok {
			return adder.Add(a.MAC)
		}
	case address.UDPAddr:
		if adder, ok := s.Backend().(udpAdder); ok {
			return adder.Add(a.IP)
		}
	}
	return dpmierr.New(dpmierr.InvalidProtocol, "Add: not a multi-address-capable stream")
}

type ethernetAdder interface{ Add(group [6]byte) error }
type udpAdder interface{ Add(group net.IP) error }

// mtuBackend is implemented by backends that discover an MTU at open
// time (Ethernet, UDP) so the stream core can size its frame buffer
// cells accordingly (spec §4.H).
type mtuBackend interface{ MTU() int }

func openExistingFifo(a address.FifoAddr) (*os.File, error) {
	f, err := os.OpenFile(a.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func createFifo(a address.FifoAddr) (*os.File, error) {
	if err := unix.Mkfifo(a.Path, 0644); err != nil {
		return nil, dpmierr.Wrap(dpmierr.CapfileFifoExist, a.Path, err)
	}
	f, err := os.OpenFile(a.Path, os.O_WRONLY, 0)
	if err != nil {
		unix.Unlink(a.Path)
		return nil, err
	}
	return f, nil
}

// SeqMismatchPolicy re-exports pkg/config's policy type so callers of
// this package don't need a second import for stream.Options.
type SeqMismatchPolicy = config.SeqMismatchPolicy
