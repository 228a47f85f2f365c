// Package frame implements the wire-level framing shared by every packet
// the download-mode protocol exchanges: a fixed eight-byte little-endian
// header followed by a payload of the announced length.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Packet type codes, part of the wire contract.
const (
	TypeHandshake          uint32 = 0
	TypeFlashSetTotalBytes uint32 = 1
	TypeFlashSendData      uint32 = 2
	TypeDumpPartPIT        uint32 = 3
	TypeDumpPartNAND       uint32 = 4
	TypeEndSession         uint32 = 5
	TypeDeviceType         uint32 = 6
	TypePITFile            uint32 = 7
	TypeDumpPartSBoot      uint32 = 8
)

// HeaderSize is the length in bytes of the type+length header.
const HeaderSize = 8

// MaxPayload guards against a corrupted or misbehaving device claiming an
// unreasonable payload length. 8 MiB comfortably covers a PIT image and a
// single flash chunk at the largest configurable chunk size.
const MaxPayload = 8 << 20

// ErrPayloadTooLarge is returned by Decode when the announced length
// exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("frame: payload length exceeds guard")

// ErrShortHeader is returned when fewer than HeaderSize bytes are
// available before the reader is exhausted or times out.
var ErrShortHeader = errors.New("frame: short header read")

// Frame is a decoded wire message.
type Frame struct {
	Type    uint32
	Payload []byte
}

// Encode serializes typ and payload into type_u32_le || length_u32_le || payload.
func Encode(typ uint32, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], typ)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	return buf
}

// Decode reads exactly one frame from r: eight header bytes, then exactly
// length payload bytes. A short header is a distinct error from a short
// payload (the caller surfaces the former as protocol corruption and the
// latter as a transport failure).
func Decode(r io.Reader) (Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, fmt.Errorf("%w: %v", ErrShortHeader, err)
		}
		return Frame{}, err
	}

	typ := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, length)
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("frame: short payload read: %w", err)
		}
	}

	return Frame{Type: typ, Payload: payload}, nil
}
