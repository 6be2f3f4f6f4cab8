//go:build !linux

package dpmi

import (
	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/dpmierr"
	"github.com/protei/dpmi/pkg/stream"
)

// openEthernet has no raw-AF_PACKET backend outside Linux (spec §4.K
// explicitly builds on AF_PACKET, a Linux-only facility).
func openEthernet(a address.EthernetAddr, iface string, bufferSize int) (stream.Backend, error) {
	return nil, dpmierr.New(dpmierr.NotImplemented, "ethernet backend requires linux")
}
