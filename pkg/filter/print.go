package filter

import (
	"fmt"
	"io"
)

// Print writes a human-readable description of the active predicates
// to w (spec §4.E). With verbose=false only the active field names and
// mode are listed; verbose=true also prints each field's value/mask.
func (f *Filter) Print(w io.Writer, verbose bool) {
	if f.index == 0 {
		fmt.Fprintln(w, "filter: (none)")
		return
	}
	mode := "and"
	if f.mode == ModeOr {
		mode = "or"
	}
	fmt.Fprintf(w, "filter: mode=%s\n", mode)

	type field struct {
		bit  uint32
		name string
		val  func() string
	}
	fields := []field{
		{bitSrcPort, "src-port", func() string { return fmt.Sprintf("%d/0x%04x", f.srcPort, f.srcPortMask) }},
		{bitDstPort, "dst-port", func() string { return fmt.Sprintf("%d/0x%04x", f.dstPort, f.dstPortMask) }},
		{bitPort, "port", func() string { return fmt.Sprintf("%d/0x%04x", f.port, f.portMask) }},
		{bitSrcIP, "src-ip", func() string { return fmt.Sprintf("0x%08x/0x%08x", f.srcIP, f.srcMask) }},
		{bitDstIP, "dst-ip", func() string { return fmt.Sprintf("0x%08x/0x%08x", f.dstIP, f.dstMask) }},
		{bitIPProto, "ip-proto", func() string { return fmt.Sprintf("%d", f.ipProto) }},
		{bitSrcMAC, "src-mac", func() string { return fmt.Sprintf("%x/%x", f.srcMAC, f.srcMACMask) }},
		{bitDstMAC, "dst-mac", func() string { return fmt.Sprintf("%x/%x", f.dstMAC, f.dstMACMask) }},
		{bitEthType, "eth-type", func() string { return fmt.Sprintf("0x%04x/0x%04x", f.ethType, f.ethTypeMask) }},
		{bitVLANTCI, "vlan-tci", func() string { return fmt.Sprintf("0x%04x/0x%04x", f.vlanTCI, f.vlanMask) }},
		{bitIface, "iface", func() string { return f.ifaceSubstr }},
		{bitMAMPid, "mampid", func() string { return string(f.mampid[:]) }},
		{bitStartTime, "starttime", func() string { return f.startTime.String() }},
		{bitEndTime, "endtime", func() string { return f.endTime.String() }},
		{bitFrameMaxDt, "frame-max-dt", func() string { return f.frameMaxDt.String() }},
		{bitFrameRange, "frame-range", func() string { return fmt.Sprintf("%d ranges", len(f.frameRanges)) }},
	}
	for _, fl := range fields {
		if f.index&fl.bit == 0 {
			continue
		}
		if verbose {
			fmt.Fprintf(w, "  %s = %s\n", fl.name, fl.val())
		} else {
			fmt.Fprintf(w, "  %s\n", fl.name)
		}
	}
	if f.bpf != nil {
		fmt.Fprintln(w, "  bpf: attached")
	}
}
