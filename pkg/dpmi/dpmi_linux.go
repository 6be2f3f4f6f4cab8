//go:build linux

package dpmi

import (
	"github.com/protei/dpmi/pkg/address"
	"github.com/protei/dpmi/pkg/stream"
	"github.com/protei/dpmi/pkg/stream/backend/ethernet"
)

// openEthernet wires an EthernetAddr to the real AF_PACKET backend (spec
// §4.K), available only on Linux.
func openEthernet(a address.EthernetAddr, iface string, bufferSize int) (stream.Backend, error) {
	return ethernet.Open(iface, a.MAC, bufferSize)
}
