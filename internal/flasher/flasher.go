// Package flasher implements the set-total-bytes → send-chunk → ack loop
// for a single partition.
package flasher

import (
	"encoding/binary"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/Llucs/ZodinLinux/internal/frame"
	"github.com/Llucs/ZodinLinux/internal/progress"
	"github.com/Llucs/ZodinLinux/internal/protoerr"
	"github.com/Llucs/ZodinLinux/internal/session"
)

// DefaultChunkSize is 1 MiB.
const DefaultChunkSize = 1 << 20

// AllowedChunkSizes lists the supported chunk sizes. Flash does not check
// Options.ChunkSize against this list: any positive value is used as given.
var AllowedChunkSizes = []int{512 << 10, 1 << 20, 2 << 20, 4 << 20, 8 << 20}

// Options configures a single Flash call.
type Options struct {
	ChunkSize int
	Cancel    <-chan struct{} // closed to request cooperative cancellation between chunks
}

// roundTripper is the subset of *session.Session the flasher depends on.
type roundTripper interface {
	RoundTrip(typ uint32, payload []byte, timeout time.Duration) ([]byte, error)
}

// Flash streams data to the device under partition name: one
// FLASH_SET_TOTAL_BYTES (even for an empty partition), then one
// FLASH_SEND_DATA per chunk, each acknowledged before the next is sent —
// at most one outstanding frame at a time.
//
// Ack payloads are read (and length-guarded by the frame codec) but never
// interpreted; a device encoding partial-failure status inside the ack
// payload would go unnoticed here.
func Flash(s roundTripper, name string, data []byte, sink progress.Sink, log logrus.FieldLogger, opts Options) error {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if sink == nil {
		sink = progress.NopSink
	}

	total := len(data)
	totalBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(totalBytes, uint32(total))

	if _, err := s.RoundTrip(frame.TypeFlashSetTotalBytes, totalBytes, session.ControlTimeout); err != nil {
		return err
	}

	if total == 0 {
		sink.OnProgress(progress.Record{CurrentFile: name, Stage: "sending", CurrentBytes: 0, TotalBytes: 0, Percentage: 0})
		log.WithField("partition", name).Info("flashed empty partition")
		return nil
	}

	for offset := 0; offset < total; offset += chunkSize {
		select {
		case <-opts.Cancel:
			return protoerr.Cancelled("flash of %s cancelled after %s/%s", name, humanize.Bytes(uint64(offset)), humanize.Bytes(uint64(total)))
		default:
		}

		end := offset + chunkSize
		if end > total {
			end = total
		}
		chunk := data[offset:end]

		if _, err := s.RoundTrip(frame.TypeFlashSendData, chunk, ChunkTimeout); err != nil {
			return err
		}

		current := end
		sink.OnProgress(progress.Record{
			CurrentFile:  name,
			Stage:        "sending",
			CurrentBytes: uint64(current),
			TotalBytes:   uint64(total),
			Percentage:   100 * float32(current) / float32(total),
		})
		log.WithFields(logrus.Fields{
			"partition": name,
			"sent":      humanize.Bytes(uint64(current)),
			"total":     humanize.Bytes(uint64(total)),
		}).Debug("chunk acknowledged")
	}

	log.WithField("partition", name).Info("partition flashed")
	return nil
}

// ChunkTimeout is the per-chunk bulk-transfer timeout, long enough to
// accommodate slow writes.
const ChunkTimeout = 30 * time.Second
