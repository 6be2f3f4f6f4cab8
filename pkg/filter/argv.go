package filter

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/picotime"
)

// optionLogger lets callers observe per-option parse failures without
// pulling a logging dependency into this package's API; FromArgv calls
// it (if non-nil) instead of writing to stderr directly, so library
// users can route the message through their own logger.
type optionLogger func(format string, args ...any)

var etherTypeNames = map[string]uint16{
	"ipv4": 0x0800, "arp": 0x0806, "vlan": 0x8100, "ipv6": 0x86dd,
	"mpls": 0x8847, "mpls-multi": 0x8848,
}

var ipProtoNames = map[string]uint8{
	"icmp": 1, "tcp": 6, "udp": 17, "sctp": 132,
}

// FromArgv parses the closed set of long options from spec §4.E out of
// args, returning the built Filter and the args that were not
// recognised (so a caller's own flag parsing can continue on them).
// A malformed option value is logged via logFn (if non-nil) and that
// field's bit is simply not set (spec §4.E: "individual option parse
// failures log and skip that field").
func FromArgv(args []string, logFn optionLogger) (*Filter, []string) {
	if logFn == nil {
		logFn = func(string, ...any) {}
	}
	f := New()
	var rest []string

	for _, a := range args {
		key, val, _ := cutOption(a)
		switch key {
		case "--starttime", "--begin":
			if t, err := picotime.Parse(val); err == nil {
				f.SetStartTime(t)
			} else {
				logFn("filter: invalid --starttime %q: %v", val, err)
			}
		case "--endtime", "--end":
			if t, err := picotime.Parse(val); err == nil {
				f.SetEndTime(t)
			} else {
				logFn("filter: invalid --endtime %q: %v", val, err)
			}
		case "--mampid", "--mpid":
			f.SetMAMPid(val)
		case "--iface", "--if":
			f.SetIface(val)
		case "--eth.vlan":
			tci, mask, err := parseIntSlash(val, 0xFFFF)
			if err != nil {
				logFn("filter: invalid --eth.vlan %q: %v", val, err)
				continue
			}
			f.SetVLAN(uint16(tci), uint16(mask))
		case "--eth.type":
			et, mask, err := parseEtherType(val)
			if err != nil {
				logFn("filter: invalid --eth.type %q: %v", val, err)
				continue
			}
			f.SetEthType(et, mask)
		case "--eth.src":
			mac, mask, err := parseMACSlash(val)
			if err != nil {
				logFn("filter: invalid --eth.src %q: %v", val, err)
				continue
			}
			f.SetSrcMAC(mac, mask)
		case "--eth.dst":
			mac, mask, err := parseMACSlash(val)
			if err != nil {
				logFn("filter: invalid --eth.dst %q: %v", val, err)
				continue
			}
			f.SetDstMAC(mac, mask)
		case "--ip.proto":
			proto, err := parseIPProto(val)
			if err != nil {
				logFn("filter: invalid --ip.proto %q: %v", val, err)
				continue
			}
			f.SetIPProto(proto)
		case "--ip.src":
			ip, mask, err := parseIPSlash(val)
			if err != nil {
				logFn("filter: invalid --ip.src %q: %v", val, err)
				continue
			}
			f.SetSrcIP(ip, mask)
		case "--ip.dst":
			ip, mask, err := parseIPSlash(val)
			if err != nil {
				logFn("filter: invalid --ip.dst %q: %v", val, err)
				continue
			}
			f.SetDstIP(ip, mask)
		case "--tp.sport":
			port, mask, err := parsePortSlash(val)
			if err != nil {
				logFn("filter: invalid --tp.sport %q: %v", val, err)
				continue
			}
			f.SetSrcPort(port, mask)
		case "--tp.dport":
			port, mask, err := parsePortSlash(val)
			if err != nil {
				logFn("filter: invalid --tp.dport %q: %v", val, err)
				continue
			}
			f.SetDstPort(port, mask)
		case "--tp.port":
			port, mask, err := parsePortSlash(val)
			if err != nil {
				logFn("filter: invalid --tp.port %q: %v", val, err)
				continue
			}
			f.SetPort(port, mask)
		case "--frame-max-dt":
			d, err := picotime.Parse(val)
			if err != nil {
				logFn("filter: invalid --frame-max-dt %q: %v", val, err)
				continue
			}
			f.SetFrameMaxDt(d)
		case "--caplen":
			n, err := strconv.Atoi(val)
			if err != nil {
				logFn("filter: invalid --caplen %q: %v", val, err)
				continue
			}
			f.SetCaplen(n)
		case "--filter-mode":
			switch strings.ToLower(val) {
			case "and":
				f.SetMode(ModeAnd)
			case "or":
				f.SetMode(ModeOr)
			default:
				logFn("filter: invalid --filter-mode %q", val)
			}
		case "--bpf":
			prog, err := Compile(val)
			if err != nil {
				logFn("filter: invalid --bpf %q: %v", val, err)
				continue
			}
			f.SetBPF(prog)
		default:
			rest = append(rest, a)
		}
	}
	return f, rest
}

// cutOption splits "--key=value" into ("--key", "value", true), or
// returns ("--key", "", false) for a bare flag.
func cutOption(a string) (key, val string, hasVal bool) {
	if idx := strings.IndexByte(a, '='); idx >= 0 {
		return a[:idx], a[idx+1:], true
	}
	return a, "", false
}

func parseIntSlash(s string, defaultMask uint32) (value, mask uint32, err error) {
	parts := strings.SplitN(s, "/", 2)
	v, err := strconv.ParseUint(parts[0], 0, 32)
	if err != nil {
		return 0, 0, err
	}
	m := uint64(defaultMask)
	if len(parts) == 2 {
		m, err = strconv.ParseUint(parts[1], 0, 32)
		if err != nil {
			return 0, 0, err
		}
	}
	return uint32(v), uint32(m), nil
}

func parseEtherType(s string) (et, mask uint16, err error) {
	parts := strings.SplitN(s, "/", 2)
	var v uint64
	if named, ok := etherTypeNames[strings.ToLower(parts[0])]; ok {
		v = uint64(named)
	} else {
		v, err = strconv.ParseUint(parts[0], 0, 16)
		if err != nil {
			return 0, 0, fmt.Errorf("unknown ethertype %q", parts[0])
		}
	}
	m := uint64(0xFFFF)
	if len(parts) == 2 {
		m, err = strconv.ParseUint(parts[1], 0, 16)
		if err != nil {
			return 0, 0, err
		}
	}
	return uint16(v), uint16(m), nil
}

func parseIPProto(s string) (uint8, error) {
	if named, ok := ipProtoNames[strings.ToLower(s)]; ok {
		return named, nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown IP protocol %q", s)
	}
	return uint8(v), nil
}

func parseMACSlash(s string) (mac, mask [6]byte, err error) {
	parts := strings.SplitN(s, "/", 2)
	mac, err = address.ParseMAC(parts[0])
	if err != nil {
		return mac, mask, err
	}
	if len(parts) == 2 {
		mask, err = address.ParseMAC(parts[1])
		if err != nil {
			return mac, mask, err
		}
	} else {
		for i := range mask {
			mask[i] = 0xFF
		}
	}
	return mac, mask, nil
}

// parseIPSlash parses "IP[/MASK_OR_CIDR]" where the mask may be a
// dotted-quad mask or a 0-32 CIDR prefix length (spec §4.E).
func parseIPSlash(s string) (ip, mask uint32, err error) {
	parts := strings.SplitN(s, "/", 2)
	parsedIP := net.ParseIP(parts[0])
	if parsedIP == nil || parsedIP.To4() == nil {
		return 0, 0, fmt.Errorf("invalid IPv4 address %q", parts[0])
	}
	ip = ipToUint32(parsedIP.To4())

	mask = 0xFFFFFFFF
	if len(parts) == 2 {
		if prefix, perr := strconv.Atoi(parts[1]); perr == nil && prefix >= 0 && prefix <= 32 {
			mask = prefixMask(prefix)
		} else if dotted := net.ParseIP(parts[1]); dotted != nil && dotted.To4() != nil {
			mask = ipToUint32(dotted.To4())
		} else {
			return 0, 0, fmt.Errorf("invalid mask %q", parts[1])
		}
	}
	return ip, mask, nil
}

func ipToUint32(b net.IP) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func prefixMask(prefix int) uint32 {
	if prefix == 0 {
		return 0
	}
	return ^uint32(0) << (32 - prefix)
}

// parsePortSlash parses "PORT[/MASK]" where PORT is a service name or
// integer (spec §4.E).
func parsePortSlash(s string) (port, mask uint16, err error) {
	parts := strings.SplitN(s, "/", 2)
	var p int
	if v, verr := strconv.Atoi(parts[0]); verr == nil {
		p = v
	} else if looked, lerr := net.LookupPort("tcp", parts[0]); lerr == nil {
		p = looked
	} else {
		return 0, 0, fmt.Errorf("unknown port %q", parts[0])
	}
	if p < 0 || p > 0xFFFF {
		return 0, 0, fmt.Errorf("port %d out of range", p)
	}
	m := uint64(0xFFFF)
	if len(parts) == 2 {
		mv, merr := strconv.ParseUint(parts[1], 0, 16)
		if merr != nil {
			return 0, 0, merr
		}
		m = mv
	}
	return uint16(p), uint16(m), nil
}
