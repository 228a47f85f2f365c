package usbtransport

import "testing"

func TestDescriptorLabel(t *testing.T) {
	cases := []struct {
		pid  uint16
		want string
	}{
		{0x6601, "Download Mode"},
		{0x685D, "Download Mode (Newer)"},
		{0x6860, "Download Mode (S3/S4)"},
		{0x68C3, "Download Mode (Note)"},
		{0x685E, "Download Mode (Alternative)"},
		{0x1234, "Unknown"},
	}
	for _, c := range cases {
		d := Descriptor{VendorID: VendorID, ProductID: c.pid}
		if got := d.Label(); got != c.want {
			t.Errorf("Label(%#x) = %q, want %q", c.pid, got, c.want)
		}
	}
}

func TestDescriptorKeyDistinguishesPorts(t *testing.T) {
	a := Descriptor{Bus: 1, Address: 2}
	b := Descriptor{Bus: 1, Address: 3}
	if a.key() == b.key() {
		t.Fatal("descriptors on different addresses must have distinct keys")
	}
}

func TestDiscoverDoesNotPanicWithoutSysfs(t *testing.T) {
	// Best-effort: environments without /sys/bus/usb/devices (containers,
	// CI without USB) should fail cleanly, not panic.
	_, _ = Discover()
}
