package filter

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/bpf"
)

// Program wraps a compiled BPF program, evaluated as the filter's final
// step (spec §4.E step 5). The same instruction set is reusable as a
// kernel filter via SO_ATTACH_FILTER on the Ethernet backend (§4.K) and
// is run here in Go via x/net/bpf's pure-software VM, so a filter with
// an attached BPF program behaves identically whether or not the
// backend can offload it to the kernel.
type Program struct {
	raw []bpf.RawInstruction
	vm  *bpf.VM
}

// Run reports whether pkt (a full Ethernet frame) passes p.
func (p *Program) Run(pkt []byte) bool {
	if p == nil || p.vm == nil {
		return true
	}
	n, err := p.vm.Run(pkt)
	if err != nil {
		return false
	}
	return n > 0
}

// RawInstructions returns the assembled instructions, for backends that
// attach the filter to a kernel socket (SO_ATTACH_FILTER).
func (p *Program) RawInstructions() []bpf.RawInstruction { return p.raw }

// Compile translates a small subset of tcpdump-like filter expressions
// into a BPF program: "tcp", "udp", "tcp and dst port N", "tcp and src
// port N", "udp and dst port N", "ether dst MAC" (grounded on the same
// subset the retrieval pack's socket/bpf backend supports). Expressions
// outside this subset are rejected; DPMI does not link libpcap, so it
// cannot compile the full tcpdump grammar.
func Compile(expr string) (*Program, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))

	var insns []bpf.Instruction
	switch {
	case expr == "tcp":
		insns = ipProtoProgram(6)
	case expr == "udp":
		insns = ipProtoProgram(17)
	case strings.HasPrefix(expr, "tcp and dst port "):
		port, err := parsePortWord(strings.TrimPrefix(expr, "tcp and dst port "))
		if err != nil {
			return nil, err
		}
		insns = tcpPortProgram(port, true)
	case strings.HasPrefix(expr, "tcp and src port "):
		port, err := parsePortWord(strings.TrimPrefix(expr, "tcp and src port "))
		if err != nil {
			return nil, err
		}
		insns = tcpPortProgram(port, false)
	case strings.HasPrefix(expr, "udp and dst port "):
		port, err := parsePortWord(strings.TrimPrefix(expr, "udp and dst port "))
		if err != nil {
			return nil, err
		}
		insns = udpPortProgram(port, true)
	case strings.HasPrefix(expr, "ether dst "):
		mac, err := parseMACWord(strings.TrimPrefix(expr, "ether dst "))
		if err != nil {
			return nil, err
		}
		insns = etherDstProgram(mac)
	default:
		return nil, fmt.Errorf("filter: unsupported BPF expression %q", expr)
	}

	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, fmt.Errorf("filter: BPF assemble: %w", err)
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("filter: BPF VM: %w", err)
	}
	return &Program{raw: raw, vm: vm}, nil
}

func parsePortWord(s string) (uint16, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || v < 1 || v > 0xFFFF {
		return 0, fmt.Errorf("filter: invalid port %q", s)
	}
	return uint16(v), nil
}

func parseMACWord(s string) ([6]byte, error) {
	var mac [6]byte
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 6 {
		return mac, fmt.Errorf("filter: invalid MAC %q", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return mac, fmt.Errorf("filter: invalid MAC %q", s)
		}
		mac[i] = byte(v)
	}
	return mac, nil
}

// ipProtoProgram accepts only IPv4 frames whose protocol field equals
// proto.
func ipProtoProgram(proto uint32) []bpf.Instruction {
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: proto, SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	}
}

// tcpPortProgram accepts IPv4/TCP frames whose src (or dst) port equals
// port. IPv4 options are not accounted for (assumes a 20-byte IP
// header), matching the same simplification the reference socket/bpf
// sketch in the retrieval pack makes.
func tcpPortProgram(port uint16, dst bool) []bpf.Instruction {
	portOff := uint32(14 + 20) // src port
	if dst {
		portOff += 2
	}
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 5},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 6, SkipFalse: 3},
		bpf.LoadAbsolute{Off: portOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	}
}

func udpPortProgram(port uint16, dst bool) []bpf.Instruction {
	portOff := uint32(14 + 20)
	if dst {
		portOff += 2
	}
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0x0800, SkipFalse: 5},
		bpf.LoadAbsolute{Off: 23, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 17, SkipFalse: 3},
		bpf.LoadAbsolute{Off: portOff, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: uint32(port), SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	}
}

func etherDstProgram(mac [6]byte) []bpf.Instruction {
	hi := uint32(mac[0])<<8 | uint32(mac[1])
	lo := uint32(mac[2])<<24 | uint32(mac[3])<<16 | uint32(mac[4])<<8 | uint32(mac[5])
	return []bpf.Instruction{
		bpf.LoadAbsolute{Off: 0, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: hi, SkipFalse: 3},
		bpf.LoadAbsolute{Off: 2, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: lo, SkipFalse: 1},
		bpf.RetConstant{Val: 0xFFFF},
		bpf.RetConstant{Val: 0},
	}
}
