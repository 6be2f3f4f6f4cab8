// Package udpmc implements the UDP multicast (and unicast) backend (spec
// §4.L): a UDP socket carrying measurement frames with the same send-
// header framing as Ethernet but without an Ethernet header, feeding the
// stream core's network read path.
package udpmc

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/protei/dpmi/internal/logger"
	"github.com/protei/dpmi/pkg/dpmierr"
	"github.com/protei/dpmi/pkg/wire"
)

// maxGroups mirrors the Ethernet backend's multicast-group cap (spec
// §4.I "at most 100 sibling addresses").
const maxGroups = 100

// Backend is a pkg/stream.Backend over a UDP socket, implementing
// pkg/stream.FrameReader and pkg/stream.SourceIdentifier.
type Backend struct {
	conn   *net.UDPConn
	pc     *ipv4.PacketConn // non-nil only for a multicast-joined (consumer) socket
	ifName string
	mtu    int
	groups []net.IP

	lastSrcIP net.IP
	lastSeq   uint32
	flushed   bool
}

func isMulticast(ip net.IP) bool { return ip.IsMulticast() }

// MTU is the discovered path MTU, used to size the stream frame buffer.
func (b *Backend) MTU() int { return b.mtu }

// Open opens a consumer-side socket (spec §4.L "Open"): for a multicast
// group address, bind INADDR_ANY on the port and join group on iface; for
// a unicast address, bind directly to it.
func Open(group net.IP, port uint16, iface string) (*Backend, error) {
	bindAddr := &net.UDPAddr{Port: int(port)}
	if !isMulticast(group) {
		bindAddr.IP = group
	}
	conn, err := net.ListenUDP("udp4", bindAddr)
	if err != nil {
		return nil, err
	}

	b := &Backend{conn: conn, ifName: iface, mtu: discoverMTU(conn, iface)}

	if isMulticast(group) {
		b.pc = ipv4.NewPacketConn(conn)
		if err := b.Add(group); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return b, nil
}

// Create opens a producer-side socket connected to dst:port (spec §4.L
// "Create: connect to the destination; writes use send").
func Create(dst net.IP, port uint16, iface string) (*Backend, error) {
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: dst, Port: int(port)})
	if err != nil {
		return nil, err
	}
	return &Backend{conn: conn, ifName: iface, mtu: discoverMTU(conn, iface)}, nil
}

// discoverMTU implements spec §4.L: "default MTU discovered via IP_MTU
// after an unconnected connect, else from the interface."
func discoverMTU(conn *net.UDPConn, iface string) int {
	if raw, err := conn.SyscallConn(); err == nil {
		var mtu int
		_ = raw.Control(func(fd uintptr) {
			if v, gerr := unix.GetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU); gerr == nil {
				mtu = v
			}
		})
		if mtu > 0 {
			return mtu
		}
	}
	if iface != "" {
		if ifi, err := net.InterfaceByName(iface); err == nil && ifi.MTU > 0 {
			return ifi.MTU
		}
	}
	return 1500
}

// Add joins an additional multicast group on the same socket (spec §4.I,
// §4.L). Valid only on a consumer-side (Open) socket.
func (b *Backend) Add(group net.IP) error {
	if b.pc == nil {
		return dpmierr.New(dpmierr.InvalidMulticast, "Add requires a multicast-opened stream")
	}
	if len(b.groups) >= maxGroups {
		return dpmierr.New(dpmierr.InvalidMulticast, "max 100 groups reached")
	}
	var ifi *net.Interface
	if b.ifName != "" {
		var err error
		ifi, err = net.InterfaceByName(b.ifName)
		if err != nil {
			return dpmierr.Wrap(dpmierr.InvalidIface, b.ifName, err)
		}
	}
	if err := b.pc.JoinGroup(ifi, &net.UDPAddr{IP: group}); err != nil {
		return err
	}
	b.groups = append(b.groups, group)
	return nil
}

// ReadFrame implements pkg/stream.FrameReader (spec §4.L "Read-frame:
// same sequence rules as Ethernet; source identity is the IPv4 source").
func (b *Backend) ReadFrame(dst []byte, timeout time.Duration) (int, error) {
	if err := b.setDeadline(timeout); err != nil {
		return 0, err
	}
	for {
		n, src, err := b.conn.ReadFromUDP(dst)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return 0, nil
			}
			return 0, err
		}
		if n < wire.SendHeaderSize {
			logger.Warn("udpmc backend: short frame, discarding", "bytes", n)
			continue
		}
		var send wire.SendHeader
		if err := send.Unmarshal(dst[:wire.SendHeaderSize]); err != nil {
			logger.Warn("udpmc backend: send header decode failed, discarding", "error", err)
			continue
		}
		b.lastSrcIP = src.IP
		b.lastSeq = send.SequenceNr
		b.flushed = send.Flags&wire.SendFlagFlush != 0
		return n, nil
	}
}

func (b *Backend) setDeadline(timeout time.Duration) error {
	if timeout <= 0 {
		return b.conn.SetReadDeadline(time.Now().Add(time.Microsecond))
	}
	return b.conn.SetReadDeadline(time.Now().Add(timeout))
}

// Write sends one pre-framed measurement frame on the connected socket.
func (b *Backend) Write(data []byte) (int, error) { return b.conn.Write(data) }

// Close releases the socket.
func (b *Backend) Close() error { return b.conn.Close() }

// LastSourceKey/LastSourceIsLoopback/LastFrameSeq implement
// pkg/stream.SourceIdentifier, keyed on the sender's IPv4 address rather
// than a MAC (spec §4.I, §4.L).
func (b *Backend) LastSourceKey() string {
	if b.lastSrcIP == nil {
		return ""
	}
	return b.lastSrcIP.String()
}
func (b *Backend) LastSourceIsLoopback() bool { return b.lastSrcIP != nil && b.lastSrcIP.IsLoopback() }
func (b *Backend) LastFrameSeq() uint32       { return b.lastSeq }

// Flushed mirrors the Ethernet backend's EOF-on-drain signal (spec §4.K,
// applied identically to UDP framing).
func (b *Backend) Flushed() bool { return b.flushed }
