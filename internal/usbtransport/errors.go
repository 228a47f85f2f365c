package usbtransport

import "errors"

// Sentinel causes wrapped by protoerr.TransportErr / protoerr.DiscoveryErr
// at the call site: exported error values for comparison with errors.Is,
// rather than an error type hierarchy.
var (
	ErrNotFound         = errors.New("device not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrBusy             = errors.New("device busy")
	ErrTimeout          = errors.New("operation timed out")
	ErrStalled          = errors.New("endpoint stall")
	ErrDisconnected     = errors.New("device disconnected")
	ErrClosed           = errors.New("handle closed")
	ErrNoEndpoints      = errors.New("bulk in/out endpoints not found")
)
