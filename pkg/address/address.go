// Package address implements the DPMI stream address grammar: a tagged
// union over four transport backends plus a preopened-handle form, its
// text syntax, and the on-wire serialised forms for Capfile and Ethernet
// addresses (spec §3 "Stream address (tagged)").
package address

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

// DefaultPort is the UDP/TCP port used when a stream address's text form
// does not specify one (0x0810, the same EtherType DPMI uses on the wire).
const DefaultPort = 0x0810

// Flags are the Capfile/Fifo behavioural bits from spec §3.
type Flags uint8

const (
	// Local means a long path is referenced, not copied, into the Address.
	Local Flags = 1 << iota
	// Duplicate means the Address owns a private copy of the path string.
	Duplicate
	// Unlink removes the file when the stream is closed.
	Unlink
	// Flush forces a flush after every write.
	Flush
	// Fclose closes the underlying FILE*/os.File when the stream is closed.
	Fclose
)

// Kind discriminates the tagged union.
type Kind int

const (
	KindCapfile Kind = iota
	KindFifo
	KindEthernet
	KindUDP
	KindTCP
	KindFilePointer
	// KindGuess is never stored in a parsed Address; it is a Parse-time
	// intermediate that resolves to KindEthernet or a local KindCapfile.
	KindGuess
)

// Address is a parsed, formattable stream endpoint.
type Address interface {
	Kind() Kind
	// String renders the canonical text form, stable for display and for
	// round-tripping through Parse.
	String() string
}

// CapfileAddr addresses an on-disk capture file.
type CapfileAddr struct {
	Path  string
	Flags Flags
}

func (a CapfileAddr) Kind() Kind   { return KindCapfile }
func (a CapfileAddr) String() string { return "file://" + a.Path }

// FifoAddr addresses a named pipe, created on Create and expected to
// pre-exist on Open.
type FifoAddr struct {
	Path  string
	Flags Flags
}

func (a FifoAddr) Kind() Kind   { return KindFifo }
func (a FifoAddr) String() string { return "fifo://" + a.Path }

// EthernetAddr addresses a 48-bit Ethernet multicast group.
type EthernetAddr struct {
	MAC [6]byte
}

func (a EthernetAddr) Kind() Kind { return KindEthernet }
func (a EthernetAddr) String() string {
	return "eth://" + formatMAC(a.MAC)
}

// UDPAddr addresses an IPv4 UDP multicast or unicast endpoint.
type UDPAddr struct {
	IP   net.IP
	Port uint16
}

func (a UDPAddr) Kind() Kind { return KindUDP }
func (a UDPAddr) String() string {
	return fmt.Sprintf("udp://%s:%d", a.IP.String(), a.Port)
}

// TCPAddr addresses an IPv4 TCP endpoint.
type TCPAddr struct {
	IP   net.IP
	Port uint16
}

func (a TCPAddr) Kind() Kind { return KindTCP }
func (a TCPAddr) String() string {
	return fmt.Sprintf("tcp://%s:%d", a.IP.String(), a.Port)
}

// FilePointerAddr wraps a preopened file handle; it has no stable text
// form since the handle did not come from parsing.
type FilePointerAddr struct {
	Handle *os.File
}

func (a FilePointerAddr) Kind() Kind     { return KindFilePointer }
func (a FilePointerAddr) String() string { return fmt.Sprintf("fp://%d", a.Handle.Fd()) }

// Parse parses a stream address's text form. A scheme prefix
// (tcp://, udp://, eth://, file://, fifo://) selects the kind directly;
// without one, Parse first tries the Ethernet grammar, then falls back to
// treating the text as a local capture-file path ("Guess" in spec §3).
func Parse(s string) (Address, error) {
	if rest, ok := cutScheme(s, "tcp://"); ok {
		return parseIPPort(rest, KindTCP)
	}
	if rest, ok := cutScheme(s, "udp://"); ok {
		return parseIPPort(rest, KindUDP)
	}
	if rest, ok := cutScheme(s, "eth://"); ok {
		mac, err := ParseMAC(rest)
		if err != nil {
			return nil, err
		}
		return EthernetAddr{MAC: mac}, nil
	}
	if rest, ok := cutScheme(s, "file://"); ok {
		return CapfileAddr{Path: rest}, nil
	}
	if rest, ok := cutScheme(s, "fifo://"); ok {
		return FifoAddr{Path: rest}, nil
	}

	if mac, err := ParseMAC(s); err == nil {
		return EthernetAddr{MAC: mac}, nil
	}
	return CapfileAddr{Path: s}, nil
}

func cutScheme(s, scheme string) (string, bool) {
	if strings.HasPrefix(s, scheme) {
		return s[len(scheme):], true
	}
	return "", false
}

func parseIPPort(s string, kind Kind) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	port := uint16(DefaultPort)
	if err != nil {
		// No ":port" suffix; the whole string is the host.
		host = s
	} else {
		p, perr := strconv.ParseUint(portStr, 10, 16)
		if perr != nil {
			return nil, fmt.Errorf("address: invalid port %q: %w", portStr, perr)
		}
		port = uint16(p)
	}
	ip := net.ParseIP(host)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("address: invalid IPv4 address %q", host)
	}
	ip = ip.To4()
	switch kind {
	case KindTCP:
		return TCPAddr{IP: ip, Port: port}, nil
	default:
		return UDPAddr{IP: ip, Port: port}, nil
	}
}

// ParseMAC accepts "XX:XX:XX:XX:XX:XX", "XX-XX-XX-XX-XX-XX",
// "XXXXXXXXXXXX", and the "::" fill-with-zero-pairs shorthand
// ("01::01" -> "01:00:00:00:00:01").
func ParseMAC(s string) ([6]byte, error) {
	var mac [6]byte

	if idx := strings.Index(s, "::"); idx >= 0 {
		left := splitHexPairs(s[:idx])
		right := splitHexPairs(s[idx+2:])
		if len(left)+len(right) > 6 || len(left) == 0 || len(right) == 0 {
			return mac, fmt.Errorf("address: invalid MAC shorthand %q", s)
		}
		pairs := make([]string, 6)
		for i := range pairs {
			pairs[i] = "00"
		}
		copy(pairs[:len(left)], left)
		copy(pairs[6-len(right):], right)
		return pairsToMAC(pairs)
	}

	if strings.Contains(s, ":") {
		return pairsToMAC(strings.Split(s, ":"))
	}
	if strings.Contains(s, "-") {
		return pairsToMAC(strings.Split(s, "-"))
	}
	if len(s) == 12 && isHex(s) {
		pairs := make([]string, 6)
		for i := 0; i < 6; i++ {
			pairs[i] = s[i*2 : i*2+2]
		}
		return pairsToMAC(pairs)
	}
	return mac, fmt.Errorf("address: invalid MAC %q", s)
}

func splitHexPairs(s string) []string {
	if s == "" {
		return nil
	}
	if strings.Contains(s, ":") {
		return strings.Split(s, ":")
	}
	if strings.Contains(s, "-") {
		return strings.Split(s, "-")
	}
	var out []string
	for i := 0; i+2 <= len(s); i += 2 {
		out = append(out, s[i:i+2])
	}
	return out
}

func pairsToMAC(pairs []string) ([6]byte, error) {
	var mac [6]byte
	if len(pairs) != 6 {
		return mac, fmt.Errorf("address: MAC needs 6 octets, got %d", len(pairs))
	}
	for i, p := range pairs {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("address: invalid MAC octet %q: %w", p, err)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

func isHex(s string) bool {
	for _, r := range s {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')) {
			return false
		}
	}
	return true
}

func formatMAC(mac [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", mac[0], mac[1], mac[2], mac[3], mac[4], mac[5])
}

// wireCapfileNameLen is the fixed filename width of the network-serialised
// Capfile address form (spec §3 "network-serialised form").
const wireCapfileNameLen = 22

// PackCapfile serialises a Capfile address's filename into its 22-byte
// wire form (truncated/zero-padded).
func PackCapfile(path string) [wireCapfileNameLen]byte {
	var out [wireCapfileNameLen]byte
	n := copy(out[:], path)
	_ = n
	return out
}

// UnpackCapfile decodes a 22-byte wire Capfile filename back to a Go string.
func UnpackCapfile(b [wireCapfileNameLen]byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

// PackEthernet serialises an Ethernet address into its 6-byte wire form.
func PackEthernet(a EthernetAddr) [6]byte { return a.MAC }

// UnpackEthernet decodes a 6-byte wire Ethernet address.
func UnpackEthernet(b [6]byte) EthernetAddr { return EthernetAddr{MAC: b} }

// IsMulticast reports whether mac's first byte has the multicast bit set,
// per spec §4.K's group-address validation.
func IsMulticast(mac [6]byte) bool { return mac[0]&0x01 != 0 }

// PortBytes returns port in the network-byte-order form used when packing
// UDP/TCP addresses into filter/marker wire structures.
func PortBytes(port uint16) [2]byte {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], port)
	return b
}
