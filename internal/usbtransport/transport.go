// Package usbtransport discovers Samsung download-mode USB devices via
// sysfs and exposes a claimed interface as blocking bulk-in/bulk-out byte
// channels with per-operation timeouts. Linux only: claiming
// an interface and submitting bulk URBs goes through the usbfs ioctl
// surface, the same one `kevmo314/go-usb` talks to directly instead of
// linking libusb.
package usbtransport

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// VendorID is the fixed Samsung USB vendor id.
const VendorID uint16 = 0x04E8

// KnownProducts maps download-mode product ids to a human label.
var KnownProducts = map[uint16]string{
	0x6601: "Download Mode",
	0x685D: "Download Mode (Newer)",
	0x6860: "Download Mode (S3/S4)",
	0x68C3: "Download Mode (Note)",
	0x685E: "Download Mode (Alternative)",
}

// Mode tags a descriptor's inferred operating mode.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeDownload Mode = "download"
	ModeRecovery Mode = "recovery"
)

// Descriptor identifies a physical device candidate. Produced by
// discovery; consumed read-only by the session manager.
type Descriptor struct {
	VendorID     uint16
	ProductID    uint16
	Bus          uint8
	Address      uint8
	Path         string
	Model        string
	SerialNumber string
	Mode         Mode
}

// Label returns the known-product label for the descriptor's product id,
// or "Unknown" if it isn't one of the download-mode ids.
func (d Descriptor) Label() string {
	if label, ok := KnownProducts[d.ProductID]; ok {
		return label
	}
	return "Unknown"
}

// key identifies a physical device by bus and address, not the product id,
// since the same physical port can present different pids across resets.
// It has the same bus:address form as the session package's registry key,
// which the session package builds itself.
func (d Descriptor) key() string {
	return fmt.Sprintf("%03d:%03d", d.Bus, d.Address)
}

// Discover enumerates sysfs for devices whose vendor id is VendorID and
// whose product id is a known download-mode id.
func Discover() ([]Descriptor, error) {
	const sysfsDir = "/sys/bus/usb/devices"

	entries, err := os.ReadDir(sysfsDir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", sysfsDir, err)
	}

	var out []Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if strings.Contains(name, ":") {
			continue // interface node, not a device node
		}
		if !strings.Contains(name, "-") {
			continue // skip root hubs ("usb1", "usb2", ...)
		}

		d, ok := descriptorFromSysfs(filepath.Join(sysfsDir, name))
		if !ok {
			continue
		}
		if d.VendorID != VendorID {
			continue
		}
		if _, known := KnownProducts[d.ProductID]; !known {
			continue
		}
		d.Mode = ModeDownload
		out = append(out, d)
	}
	return out, nil
}

func descriptorFromSysfs(path string) (Descriptor, bool) {
	readHex16 := func(name string) (uint16, bool) {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return 0, false
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 16, 16)
		return uint16(v), err == nil
	}
	readUint8 := func(name string) (uint8, bool) {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return 0, false
		}
		v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 8)
		return uint8(v), err == nil
	}
	readString := func(name string) string {
		data, err := os.ReadFile(filepath.Join(path, name))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(string(data))
	}

	vid, ok := readHex16("idVendor")
	if !ok {
		return Descriptor{}, false
	}
	pid, ok := readHex16("idProduct")
	if !ok {
		return Descriptor{}, false
	}
	bus, ok := readUint8("busnum")
	if !ok {
		return Descriptor{}, false
	}
	addr, ok := readUint8("devnum")
	if !ok {
		return Descriptor{}, false
	}

	return Descriptor{
		VendorID:     vid,
		ProductID:    pid,
		Bus:          bus,
		Address:      addr,
		Path:         fmt.Sprintf("/dev/bus/usb/%03d/%03d", bus, addr),
		Model:        readString("product"),
		SerialNumber: readString("serial"),
	}, true
}
