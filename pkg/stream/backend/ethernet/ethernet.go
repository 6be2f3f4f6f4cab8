//go:build linux

// Package ethernet implements the Ethernet multicast backend (spec
// §4.K): an AF_PACKET raw socket bound to one interface and one or more
// joined multicast groups, feeding the stream core's network read path
// (pkg/framebuffer) through ReadFrame.
package ethernet

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/protei/dpmi/internal/logger"
	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/dpmierr"
	"github.com/protei/dpmi/pkg/wire"
)

const ethHeaderLen = 14

// maxGroups is the "at most 100 sibling addresses" cap from spec §4.I,
// applied here to joined multicast groups on one socket.
const maxGroups = 100

// Backend is a pkg/stream.Backend over an AF_PACKET SOCK_RAW socket,
// implementing pkg/stream.FrameReader and pkg/stream.SourceIdentifier.
type Backend struct {
	fd       int
	ifIndex  int
	ifName   string
	mtu      int
	hwaddr   [6]byte
	loopback bool
	groups   [][6]byte

	lastSrcMAC [6]byte
	lastSeq    uint32
	flushed    bool
}

// MTU is the joined interface's MTU, used by the caller to size the
// stream frame buffer's cells (spec §4.H).
func (b *Backend) MTU() int { return b.mtu }

// Loopback reports whether the bound interface is the loopback device.
func (b *Backend) Loopback() bool { return b.loopback }

// HardwareAddr is the interface's own MAC, used as a measurement frame's
// source address on Write.
func (b *Backend) HardwareAddr() [6]byte { return b.hwaddr }

// Open binds a raw AF_PACKET socket to iface on EtherType 0x0810 and
// joins group as the primary multicast address (spec §4.K "Open"). A
// bufferSize of 0 picks the spec default of 250*MTU; otherwise it must
// be a positive multiple of the interface MTU.
func Open(iface string, group [6]byte, bufferSize int) (*Backend, error) {
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, dpmierr.Wrap(dpmierr.InvalidIface, iface, err)
	}
	if len(ifi.HardwareAddr) != 6 {
		return nil, dpmierr.New(dpmierr.InvalidHwaddr, iface)
	}

	proto := htons(wire.MTypeEtherType)
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(proto))
	if err != nil {
		return nil, err
	}
	sa := &unix.SockaddrLinklayer{Protocol: proto, Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}

	b := &Backend{
		fd:       fd,
		ifIndex:  ifi.Index,
		ifName:   iface,
		mtu:      ifi.MTU,
		loopback: ifi.Flags&net.FlagLoopback != 0,
	}
	copy(b.hwaddr[:], ifi.HardwareAddr)

	if bufferSize == 0 {
		bufferSize = 250 * ifi.MTU
	} else if bufferSize < ifi.MTU {
		unix.Close(fd)
		return nil, dpmierr.New(dpmierr.BufferLength, fmt.Sprintf("%d < MTU %d", bufferSize, ifi.MTU))
	} else if bufferSize%ifi.MTU != 0 {
		unix.Close(fd)
		return nil, dpmierr.New(dpmierr.BufferMultiple, fmt.Sprintf("%d not a multiple of MTU %d", bufferSize, ifi.MTU))
	}

	if err := b.Add(group); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return b, nil
}

// Add joins an additional multicast group on the same socket (spec
// §4.K "subsequent add calls join additional multicast groups ...
// max 100"). A group's first byte must have the multicast bit set.
func (b *Backend) Add(group [6]byte) error {
	if !address.IsMulticast(group) {
		return dpmierr.New(dpmierr.InvalidMulticast, formatMAC(group))
	}
	if len(b.groups) >= maxGroups {
		return dpmierr.New(dpmierr.InvalidMulticast, "max 100 groups reached")
	}
	mreq := unix.PacketMreq{
		Ifindex: int32(b.ifIndex),
		Type:    unix.PACKET_MR_MULTICAST,
		Alen:    6,
	}
	copy(mreq.Address[:6], group[:])
	if err := unix.SetsockoptPacketMreq(b.fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, &mreq); err != nil {
		return err
	}
	b.groups = append(b.groups, group)
	return nil
}

// AttachFilter installs a compiled BPF program via SO_ATTACH_FILTER (spec
// §4.E note: the Ethernet backend reuses the filter's raw instructions for
// kernel-side filtering instead of only filtering in userspace).
// golang.org/x/net/bpf.RawInstruction and unix.SockFilter share the same
// four-field wire layout, so the conversion is a straight field copy.
func (b *Backend) AttachFilter(raw []bpf.RawInstruction) error {
	if len(raw) == 0 {
		return nil
	}
	sf := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		sf[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	prog := unix.SockFprog{Len: uint16(len(sf)), Filter: &sf[0]}
	return unix.SetsockoptSockFprog(b.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog)
}

// ReadFrame implements pkg/stream.FrameReader: receive one frame,
// validate its destination MAC and EtherType, and record the source MAC
// and sequence number for the stream core's sequence-validation step
// (spec §4.K "Read-frame callback").
//
// The "select with the caller's timeout" requirement is implemented as
// SO_RCVTIMEO on the socket rather than a raw select(2) call: both block
// the calling goroutine for at most timeout and return the stdlib
// equivalent of EAGAIN on expiry, and this keeps the backend portable to
// any unix.Setsockopt-capable kernel rather than hand-rolling fd sets.
func (b *Backend) ReadFrame(dst []byte, timeout time.Duration) (int, error) {
	if err := setRecvTimeout(b.fd, timeout); err != nil {
		return 0, err
	}
	for {
		n, _, err := unix.Recvfrom(b.fd, dst, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return 0, nil
			}
			return 0, err
		}
		if n < ethHeaderLen+wire.SendHeaderSize {
			logger.Warn("ethernet backend: short frame, discarding", "bytes", n)
			continue
		}
		frame := dst[:n]
		if !b.matchesGroup(frame[0:6]) {
			continue
		}
		if binary.BigEndian.Uint16(frame[12:14]) != wire.MTypeEtherType {
			continue
		}

		var send wire.SendHeader
		if err := send.Unmarshal(frame[ethHeaderLen : ethHeaderLen+wire.SendHeaderSize]); err != nil {
			logger.Warn("ethernet backend: send header decode failed, discarding", "error", err)
			continue
		}
		copy(b.lastSrcMAC[:], frame[6:12])
		b.lastSeq = send.SequenceNr
		b.flushed = send.Flags&wire.SendFlagFlush != 0
		return n, nil
	}
}

func (b *Backend) matchesGroup(dstMAC []byte) bool {
	for _, g := range b.groups {
		if string(g[:]) == string(dstMAC) {
			return true
		}
	}
	return false
}

// Write sends one pre-framed measurement frame (spec §4.K "Write": "the
// caller must pre-frame").
func (b *Backend) Write(data []byte) (int, error) {
	return unix.Write(b.fd, data)
}

// Close releases the raw socket.
func (b *Backend) Close() error { return unix.Close(b.fd) }

// LastSourceKey/LastSourceIsLoopback/LastFrameSeq implement
// pkg/stream.SourceIdentifier (spec §4.I "Sequence validation").
func (b *Backend) LastSourceKey() string      { return formatMAC(b.lastSrcMAC) }
func (b *Backend) LastSourceIsLoopback() bool { return b.loopback }
func (b *Backend) LastFrameSeq() uint32       { return b.lastSeq }

// Flushed reports whether the most recently read frame carried the
// SendFlagFlush bit (spec §4.K: "subsequent reads return EOF when the
// buffer drains").
func (b *Backend) Flushed() bool { return b.flushed }

func setRecvTimeout(fd int, d time.Duration) error {
	if d <= 0 {
		return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{Sec: 0, Usec: 1})
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv)
}

func htons(v uint16) uint16 { return (v<<8)&0xff00 | v>>8 }

func formatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}
