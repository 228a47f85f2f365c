// Package pit fetches the partition-information table as an opaque byte
// blob. Interpreting its contents is out of scope for this
// engine; the `zodin pit` command writes the bytes to a file for
// inspection. The orchestrator does not fetch the PIT.
package pit

import (
	"github.com/Llucs/ZodinLinux/internal/frame"
	"github.com/Llucs/ZodinLinux/internal/session"
)

// Fetch sends PIT_FILE and returns the device's raw PIT image. Uses an
// extended timeout because the device reads flash media to answer.
// Download only: this package has no operation that writes a PIT to the
// device.
func Fetch(s *session.Session) ([]byte, error) {
	return s.RoundTrip(frame.TypePITFile, nil, session.PITTimeout)
}
