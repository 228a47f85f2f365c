package usbtransport

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// usbfs ioctl numbers (Linux uapi/linux/usbdevice_fs.h), unchanged from
// the values every usbfs client (libusb, go-usb, gousb) encodes by hand —
// there is no golang.org/x/sys constant for them.
const (
	usbdevfsControl          = 0xc0185500
	usbdevfsBulk             = 0xc0185502
	usbdevfsClaimInterface   = 0x8004550f
	usbdevfsReleaseInterface = 0x80045510
	usbdevfsSetConfiguration = 0x80045505
	usbdevfsDisconnectClaim  = 0x8108551b
	usbdevfsDisconnect       = 0x00005516
)

const (
	endpointDirIn    = 0x80
	transferTypeBulk = 0x02
)

type ctrlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32
	_           [4]byte // align Timeout/Data the way the kernel struct does
	Data        unsafe.Pointer
}

type bulkTransfer struct {
	Endpoint uint32
	Length   uint32
	Timeout  uint32
	Data     uintptr
}

type disconnectClaim struct {
	Interface uint32
	Flags     uint32
	Driver    [256]int8
}

// Handle is a claimed USB interface: the bulk-in/bulk-out endpoint pair
// plus the file descriptor, exactly the shape the session manager holds.
type Handle struct {
	descriptor Descriptor

	mu      sync.Mutex
	fd      int
	iface   uint8
	epIn    uint8
	epOut   uint8
	claimed bool
	closed  bool
}

// Open claims interface 0 on the device at descriptor.Path: detaches any
// kernel driver, selects the default configuration, and locates one
// bulk-IN and one bulk-OUT endpoint.
func Open(d Descriptor) (*Handle, error) {
	fd, err := unix.Open(d.Path, unix.O_RDWR, 0)
	if err != nil {
		if err == unix.EACCES {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("open %s: %w", d.Path, err)
	}

	h := &Handle{descriptor: d, fd: fd, iface: 0}

	if err := h.detachKernelDriver(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := h.setConfiguration(1); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := h.claimInterface(); err != nil {
		unix.Close(fd)
		return nil, err
	}

	epIn, epOut, err := h.findBulkEndpoints()
	if err != nil {
		h.releaseInterface()
		unix.Close(fd)
		return nil, err
	}
	h.epIn, h.epOut = epIn, epOut

	return h, nil
}

// Close releases the claimed interface and the file descriptor. Safe to
// call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true

	if h.claimed {
		h.releaseInterfaceLocked()
	}
	return unix.Close(h.fd)
}

func (h *Handle) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (h *Handle) detachKernelDriver() error {
	claim := disconnectClaim{Interface: uint32(h.iface), Flags: 0x01}
	if err := h.ioctl(usbdevfsDisconnectClaim, unsafe.Pointer(&claim)); err == nil {
		h.claimed = true
		return nil
	}

	ifaceNum := uint32(h.iface)
	err := h.ioctl(usbdevfsDisconnect, unsafe.Pointer(&ifaceNum))
	if err != nil && err != unix.ENODATA {
		return fmt.Errorf("detach kernel driver: %w", err)
	}
	return nil
}

func (h *Handle) setConfiguration(config uint32) error {
	return h.ioctl(usbdevfsSetConfiguration, unsafe.Pointer(&config))
}

func (h *Handle) claimInterface() error {
	if h.claimed {
		return nil
	}
	ifaceNum := uint32(h.iface)
	if err := h.ioctl(usbdevfsClaimInterface, unsafe.Pointer(&ifaceNum)); err != nil {
		if err == unix.EBUSY {
			return ErrBusy
		}
		return fmt.Errorf("claim interface %d: %w", h.iface, err)
	}
	h.claimed = true
	return nil
}

func (h *Handle) releaseInterface() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseInterfaceLocked()
}

func (h *Handle) releaseInterfaceLocked() {
	if !h.claimed {
		return
	}
	ifaceNum := uint32(h.iface)
	_ = h.ioctl(usbdevfsReleaseInterface, unsafe.Pointer(&ifaceNum))
	h.claimed = false
}

// findBulkEndpoints reads the active configuration descriptor and returns
// the first bulk-IN and bulk-OUT endpoint addresses found on interface 0.
func (h *Handle) findBulkEndpoints() (epIn, epOut uint8, err error) {
	buf := make([]byte, 512)
	ctrl := ctrlRequest{
		RequestType: 0x80,
		Request:     0x06, // GET_DESCRIPTOR
		Value:       (0x02 << 8),
		Length:      uint16(len(buf)),
		Data:        unsafe.Pointer(&buf[0]),
	}
	if e := h.ioctl(usbdevfsControl, unsafe.Pointer(&ctrl)); e != nil {
		return 0, 0, fmt.Errorf("read config descriptor: %w", e)
	}

	if len(buf) < 9 {
		return 0, 0, fmt.Errorf("config descriptor too short")
	}
	totalLength := int(binary.LittleEndian.Uint16(buf[2:4]))
	if totalLength > len(buf) {
		totalLength = len(buf)
	}

	pos := 9
	ifaceNum := -1
	for pos+2 <= totalLength {
		length := int(buf[pos])
		descType := buf[pos+1]
		if length == 0 || pos+length > totalLength {
			break
		}
		if descType == 0x04 && length >= 3 { // interface descriptor
			ifaceNum = int(buf[pos+2])
		}
		if descType == 0x05 && length >= 7 && ifaceNum == int(h.iface) { // endpoint descriptor
			addr := buf[pos+2]
			attrs := buf[pos+3]
			if attrs&0x03 == transferTypeBulk {
				if addr&endpointDirIn != 0 {
					if epIn == 0 {
						epIn = addr
					}
				} else if epOut == 0 {
					epOut = addr
				}
			}
		}
		pos += length
	}

	if epIn == 0 || epOut == 0 {
		return 0, 0, ErrNoEndpoints
	}
	return epIn, epOut, nil
}

// Write performs a blocking bulk-OUT transfer of data with the given
// timeout.
func (h *Handle) Write(data []byte, timeout time.Duration) (int, error) {
	return h.bulkTransfer(h.epOut, data, timeout, true)
}

// Read performs a blocking bulk-IN transfer of up to length bytes with the
// given timeout.
func (h *Handle) Read(length int, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, length)
	n, err := h.bulkTransfer(h.epIn, buf, timeout, false)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (h *Handle) bulkTransfer(endpoint uint8, data []byte, timeout time.Duration, allowEmpty bool) (int, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}

	var dataPtr uintptr
	if len(data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&data[0]))
	} else if !allowEmpty {
		return 0, fmt.Errorf("zero-length read requested")
	}

	bulk := bulkTransfer{
		Endpoint: uint32(endpoint),
		Length:   uint32(len(data)),
		Timeout:  uint32(timeout.Milliseconds()),
		Data:     dataPtr,
	}

	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(h.fd), usbdevfsBulk, uintptr(unsafe.Pointer(&bulk)))
	if errno != 0 {
		switch errno {
		case unix.ETIMEDOUT:
			return 0, ErrTimeout
		case unix.EPIPE:
			return 0, ErrStalled
		case unix.ENODEV, unix.ENOENT:
			return 0, ErrDisconnected
		default:
			return 0, errno
		}
	}
	return int(ret), nil
}

// Descriptor returns the descriptor this handle was opened from.
func (h *Handle) Descriptor() Descriptor { return h.descriptor }
