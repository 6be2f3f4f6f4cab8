// Package stdproto wires the default DPMI protocol descriptor set into a
// fresh protocol.Registry. It is the only package that imports every
// concrete descriptor subpackage, keeping pkg/protocol itself free of any
// particular protocol's parsing logic (spec §9: registries are explicit,
// caller-owned objects, not hidden globals populated by init()).
package stdproto

import (
	"github.com/protei/dpmi/pkg/protocol"
	"github.com/protei/dpmi/pkg/protocol/app"
	"github.com/protei/dpmi/pkg/protocol/l2"
	"github.com/protei/dpmi/pkg/protocol/l3"
	"github.com/protei/dpmi/pkg/protocol/l4"
)

// NewRegistry builds a protocol.Registry with every descriptor DPMI ships
// registered: Ethernet, VLAN (802.1Q/802.1ad), MPLS, PW, IPv4, IPv6, ARP,
// TCP, UDP, ICMP, SCTP, DNS, HTTP, GTP.
func NewRegistry() *protocol.Registry {
	r := protocol.NewRegistry()

	l2.RegisterEthernet(r)
	l2.RegisterVLAN(r)
	l2.RegisterMPLS(r)
	l2.RegisterPW(r)

	l3.RegisterIPv4(r)
	l3.RegisterIPv6(r)
	l3.RegisterARP(r)

	l4.RegisterTCP(r)
	l4.RegisterUDP(r)
	l4.RegisterICMP(r)
	l4.RegisterSCTP(r)

	app.RegisterDNS(r)
	app.RegisterHTTP(r)
	app.RegisterGTP(r)

	return r
}
