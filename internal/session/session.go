// Package session owns the download-mode protocol state machine: the
// disconnected → connected → handshaken → closed transitions (flashing
// runs in the handshaken state, not in a state of its own),
// an exclusivity guarantee (one live session per physical device), and
// guaranteed interface release on every exit path.
package session

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Llucs/ZodinLinux/internal/frame"
	"github.com/Llucs/ZodinLinux/internal/protoerr"
	"github.com/Llucs/ZodinLinux/internal/usbtransport"
)

// State is one of the protocol session's legal states.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateHandshaken
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateHandshaken:
		return "handshaken"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Default timeouts for each kind of request/reply round trip.
const (
	ControlTimeout = 5 * time.Second
	PITTimeout     = 10 * time.Second
	ChunkTimeout   = 30 * time.Second
)

// transport is the subset of *usbtransport.Handle the session depends on,
// so tests can swap in an in-memory fake instead of touching real USB.
type transport interface {
	Write(data []byte, timeout time.Duration) (int, error)
	Read(length int, timeout time.Duration) ([]byte, error)
	Close() error
}

// registry enforces "at most one session per physical device" with the
// smallest shared state that can satisfy it: a mutex-guarded set keyed by
// bus:address, reconciled against Session otherwise holding no
// process-wide state.
var registry = struct {
	mu  sync.Mutex
	set map[string]bool
}{set: make(map[string]bool)}

func registryKey(d usbtransport.Descriptor) string {
	return fmt.Sprintf("%03d:%03d", d.Bus, d.Address)
}

func acquire(d usbtransport.Descriptor) bool {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	key := registryKey(d)
	if registry.set[key] {
		return false
	}
	registry.set[key] = true
	return true
}

func release(d usbtransport.Descriptor) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.set, registryKey(d))
}

// DeviceInfo holds the informational fields decoded from a DEVICE_TYPE
// reply.
type DeviceInfo struct {
	DeviceType        uint32
	BootloaderVersion uint32
}

// Session is a claimed USB interface plus the state machine governing
// legal operations on it. Not safe for concurrent use — callers drive it
// from a single cooperative flow, one request outstanding at a time.
type Session struct {
	descriptor usbtransport.Descriptor
	transport  transport
	log        logrus.FieldLogger

	mu    sync.Mutex
	state State
}

// Connect claims the USB interface for descriptor and returns a Session in
// StateConnected. Failure leaves no session registered.
func Connect(d usbtransport.Descriptor, log logrus.FieldLogger) (*Session, error) {
	if !acquire(d) {
		return nil, protoerr.State("device %s already has an active session", d.Path)
	}

	h, err := usbtransport.Open(d)
	if err != nil {
		release(d)
		return nil, protoerr.Discovery("connect %s: %w", d.Path, err)
	}

	return &Session{descriptor: d, transport: h, log: log, state: StateConnected}, nil
}

// State returns the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) requireState(want State) error {
	if s.state != want {
		return protoerr.State("operation illegal in state %s (need %s)", s.state, want)
	}
	return nil
}

// roundTrip sends a frame of typ/payload and reads back one reply frame,
// failing if the reply's type does not match typ.
func (s *Session) roundTrip(typ uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	encoded := frame.Encode(typ, payload)
	if _, err := s.transport.Write(encoded, timeout); err != nil {
		return nil, protoerr.Transport("write frame %d: %w", typ, err)
	}

	header, err := s.transport.Read(frame.HeaderSize, timeout)
	if err != nil {
		return nil, protoerr.Transport("read frame header: %w", err)
	}
	if len(header) < frame.HeaderSize {
		return nil, protoerr.Protocol("short header read (%d bytes)", len(header))
	}

	replyType := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])
	if length > frame.MaxPayload {
		return nil, protoerr.Protocol("reply payload length %d exceeds guard", length)
	}

	var reply []byte
	if length > 0 {
		reply, err = s.transport.Read(int(length), timeout)
		if err != nil {
			return nil, protoerr.Transport("read frame payload: %w", err)
		}
		if uint32(len(reply)) < length {
			return nil, protoerr.Transport("short payload read (%d of %d bytes)", len(reply), length)
		}
	}

	if replyType != typ {
		return nil, protoerr.Protocol("reply type %d does not match request type %d", replyType, typ)
	}
	return reply, nil
}

// Handshake sends HANDSHAKE and awaits the reply. On mismatch or timeout
// it closes the session.
func (s *Session) Handshake() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateConnected); err != nil {
		return err
	}

	if _, err := s.roundTrip(frame.TypeHandshake, nil, ControlTimeout); err != nil {
		s.closeLocked()
		return err
	}

	s.state = StateHandshaken
	s.log.Info("handshake complete")
	return nil
}

// DeviceInfo requests DEVICE_TYPE and decodes the device-type and
// bootloader-version words. Informational only; not required for flashing.
func (s *Session) DeviceInfo() (DeviceInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateHandshaken); err != nil {
		return DeviceInfo{}, err
	}

	reply, err := s.roundTrip(frame.TypeDeviceType, nil, ControlTimeout)
	if err != nil {
		s.closeLocked()
		return DeviceInfo{}, err
	}

	var info DeviceInfo
	if len(reply) >= 4 {
		info.DeviceType = binary.LittleEndian.Uint32(reply[0:4])
	}
	if len(reply) >= 8 {
		info.BootloaderVersion = binary.LittleEndian.Uint32(reply[4:8])
	}
	return info, nil
}

// RoundTrip exposes the raw request/reply primitive to collaborating
// packages (pit.Fetch, flasher.Flash) that must run in StateHandshaken.
// It does not change state on success.
func (s *Session) RoundTrip(typ uint32, payload []byte, timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateHandshaken); err != nil {
		return nil, err
	}

	reply, err := s.roundTrip(typ, payload, timeout)
	if err != nil {
		s.closeLocked()
		return nil, err
	}
	return reply, nil
}

// Reboot sends END_SESSION, which tears down the device's USB endpoint on
// reset, and implicitly transitions to StateClosed.
func (s *Session) Reboot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireState(StateHandshaken); err != nil {
		return err
	}

	_, _ = s.transport.Write(frame.Encode(frame.TypeEndSession, nil), ControlTimeout)
	s.log.Info("reboot requested")
	s.closeLocked()
	return nil
}

// Disconnect releases the claimed interface. Idempotent once closed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// closeLocked is the single exit path every state transition to Closed
// goes through, guaranteeing the interface is released exactly once even
// on exceptional paths.
func (s *Session) closeLocked() {
	if s.state == StateClosed {
		return
	}
	if err := s.transport.Close(); err != nil && err != io.EOF {
		s.log.WithError(err).Warn("error releasing USB interface")
	}
	release(s.descriptor)
	s.state = StateClosed
}

// Descriptor returns the device descriptor this session was connected to.
func (s *Session) Descriptor() usbtransport.Descriptor { return s.descriptor }
