package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Llucs/ZodinLinux/internal/frame"
	"github.com/Llucs/ZodinLinux/internal/protoerr"
	"github.com/Llucs/ZodinLinux/internal/usbtransport"
	"github.com/Llucs/ZodinLinux/internal/zlog"
)

// fakeTransport is an in-memory stand-in for a claimed USB handle: a
// queue of reply bytes the test preloads, and a record of everything
// written, so session tests never touch real hardware.
type fakeTransport struct {
	replies [][]byte
	writes  [][]byte
	closed  bool
}

func (f *fakeTransport) Write(data []byte, _ time.Duration) (int, error) {
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return len(data), nil
}

func (f *fakeTransport) Read(length int, _ time.Duration) ([]byte, error) {
	if len(f.replies) == 0 {
		return nil, usbtransport.ErrTimeout
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	if len(next) > length {
		next = next[:length]
	}
	return next, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// enqueueReply preloads the header+payload bytes of a reply frame so the
// next roundTrip call receives them split as header then payload, the
// same way a real bulk-IN read would split across two Read calls.
func (f *fakeTransport) enqueueReply(typ uint32, payload []byte) {
	encoded := frame.Encode(typ, payload)
	f.replies = append(f.replies, encoded[:frame.HeaderSize])
	if len(payload) > 0 {
		f.replies = append(f.replies, payload)
	}
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	s := &Session{
		descriptor: usbtransport.Descriptor{Bus: 1, Address: uint8(len(t.Name()))},
		transport:  ft,
		log:        zlog.Discard(),
		state:      StateConnected,
	}
	return s, ft
}

func TestHandshakeSuccess(t *testing.T) {
	s, ft := newTestSession(t)
	ft.enqueueReply(frame.TypeHandshake, nil)

	require.NoError(t, s.Handshake())
	assert.Equal(t, StateHandshaken, s.State())
}

func TestHandshakeMismatchClosesSession(t *testing.T) {
	// Device replies to HANDSHAKE with an unexpected reply type.
	s, ft := newTestSession(t)
	ft.enqueueReply(frame.TypeEndSession, nil)

	err := s.Handshake()
	require.Error(t, err)
	var protoErr *protoerr.ProtocolErr
	assert.ErrorAs(t, err, &protoErr)
	assert.Equal(t, StateClosed, s.State())

	_, err = s.RoundTrip(frame.TypePITFile, nil, time.Second)
	var stateErr *protoerr.StateErr
	assert.ErrorAs(t, err, &stateErr)
}

func TestStateLegality(t *testing.T) {
	s, _ := newTestSession(t)

	_, err := s.DeviceInfo()
	var stateErr *protoerr.StateErr
	assert.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateConnected, s.State(), "illegal operation must not change state")
}

func TestRebootClosesSession(t *testing.T) {
	s, ft := newTestSession(t)
	ft.enqueueReply(frame.TypeHandshake, nil)
	require.NoError(t, s.Handshake())

	require.NoError(t, s.Reboot())
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, ft.closed)
}

func TestDisconnectIdempotent(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Disconnect())
	require.NoError(t, s.Disconnect())
	assert.True(t, ft.closed)
}

func TestExclusiveConnectRegistry(t *testing.T) {
	d := usbtransport.Descriptor{Bus: 9, Address: 9}
	require.True(t, acquire(d))
	assert.False(t, acquire(d), "second acquire for same descriptor must fail")
	release(d)
	assert.True(t, acquire(d), "acquire must succeed again after release")
	release(d)
}
