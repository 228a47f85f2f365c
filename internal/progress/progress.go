// Package progress defines the public progress record and the narrow
// callback interfaces the engine reports through. No inheritance
// hierarchy: a sink is one method, same as a log writer.
package progress

import "fmt"

// Record is the public progress shape reported to a Sink.
type Record struct {
	CurrentBytes uint64
	TotalBytes   uint64
	CurrentFile  string
	Stage        string
	Percentage   float32
}

// String renders a short human line, e.g. for CLI fallback output when no
// progress bar is attached.
func (r Record) String() string {
	return fmt.Sprintf("%s: %s %.1f%% (%d/%d)", r.CurrentFile, r.Stage, r.Percentage, r.CurrentBytes, r.TotalBytes)
}

// Sink receives progress updates. Implementations must not block for long;
// the flasher calls it synchronously between chunks.
type Sink interface {
	OnProgress(Record)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Record)

// OnProgress implements Sink.
func (f SinkFunc) OnProgress(r Record) { f(r) }

// NopSink discards every update.
var NopSink Sink = SinkFunc(func(Record) {})
