//go:build linux

package ethernet

import "testing"

func TestHtons(t *testing.T) {
	if got := htons(0x0810); got != 0x1008 {
		t.Fatalf("htons(0x0810): got 0x%04x, want 0x1008", got)
	}
}

func TestFormatMAC(t *testing.T) {
	mac := [6]byte{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}
	want := "01:00:5e:00:00:01"
	if got := formatMAC(mac); got != want {
		t.Fatalf("formatMAC: got %q, want %q", got, want)
	}
}

func TestMatchesGroup(t *testing.T) {
	b := &Backend{groups: [][6]byte{{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}}}

	if !b.matchesGroup([]byte{0x01, 0x00, 0x5e, 0x00, 0x00, 0x01}) {
		t.Fatalf("matchesGroup: want true for a joined group")
	}
	if b.matchesGroup([]byte{0x01, 0x00, 0x5e, 0x00, 0x00, 0x02}) {
		t.Fatalf("matchesGroup: want false for an unjoined group")
	}
}

func TestBackendAccessors(t *testing.T) {
	b := &Backend{mtu: 1500, loopback: true, hwaddr: [6]byte{1, 2, 3, 4, 5, 6}}

	if b.MTU() != 1500 {
		t.Fatalf("MTU: got %d, want 1500", b.MTU())
	}
	if !b.Loopback() {
		t.Fatalf("Loopback: want true")
	}
	if b.HardwareAddr() != [6]byte{1, 2, 3, 4, 5, 6} {
		t.Fatalf("HardwareAddr: got %v", b.HardwareAddr())
	}
	if !b.LastSourceIsLoopback() {
		t.Fatalf("LastSourceIsLoopback: want true (mirrors Loopback)")
	}
}
