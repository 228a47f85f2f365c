// Package orchestrator sequences parsing, verification, connection,
// handshake, per-partition flash and reboot given a {slot → source path}
// mapping.
package orchestrator

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Llucs/ZodinLinux/internal/firmware"
	"github.com/Llucs/ZodinLinux/internal/flasher"
	"github.com/Llucs/ZodinLinux/internal/progress"
	"github.com/Llucs/ZodinLinux/internal/protoerr"
	"github.com/Llucs/ZodinLinux/internal/session"
	"github.com/Llucs/ZodinLinux/internal/usbtransport"
)

// PlanEntry is one {slot → path} mapping supplied by the caller. Whether
// the path is an archive is inferred from its extension: an archive is
// expanded into sub-slots via firmware.ParseArchive, otherwise the whole
// file is flashed under Slot.
type PlanEntry struct {
	Slot string
	Path string
}

func (p PlanEntry) isArchive() bool {
	lower := strings.ToLower(p.Path)
	return strings.HasSuffix(lower, ".tar") || strings.HasSuffix(lower, ".tar.md5")
}

// Options configures a run.
type Options struct {
	StrictVerify bool // integrity mismatch aborts the run instead of only warning
	AutoReboot   bool
	ChunkSize    int
	Sink         progress.Sink
	Cancel       <-chan struct{}
}

// ExitCode is the process exit status a caller should use for a Run result.
type ExitCode int

const (
	ExitOK               ExitCode = 0
	ExitUsage            ExitCode = 1
	ExitNoDevice         ExitCode = 2
	ExitHandshakeFailure ExitCode = 3
	ExitFlashFailure     ExitCode = 4
	ExitVerificationFail ExitCode = 5
)

// Run verifies, discovers, connects, handshakes, flashes every entry and
// optionally reboots the device, returning the exit code the CLI should use.
func Run(plan []PlanEntry, opts Options, log logrus.FieldLogger) ExitCode {
	runID := uuid.NewString()
	log = log.WithField("run_id", runID)

	sink := opts.Sink
	if sink == nil {
		sink = progress.NopSink
	}

	// Step 1: verify integrity of every source file up front, before any
	// device I/O. Hashing each file is independent, so the group runs them
	// concurrently instead of one at a time.
	verdicts := make([]firmware.Verdict, len(plan))
	var g errgroup.Group
	for i, entry := range plan {
		i, entry := i, entry
		g.Go(func() error {
			verdict, err := firmware.VerifyIntegrity(entry.Path)
			if err != nil {
				return fmt.Errorf("slot %s: %w", entry.Slot, err)
			}
			verdicts[i] = verdict
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("integrity check failed")
		return ExitVerificationFail
	}
	for i, entry := range plan {
		v := verdicts[i]
		if v.Checked && !v.Valid {
			log.WithField("slot", entry.Slot).Warn(v.String())
			if opts.StrictVerify {
				log.WithField("slot", entry.Slot).Error("strict verification aborts before device I/O")
				return ExitVerificationFail
			}
		}
	}

	// Step 2: discover devices.
	devices, err := usbtransport.Discover()
	if err != nil || len(devices) == 0 {
		log.WithError(err).Error("no download-mode device found")
		return ExitNoDevice
	}

	// Step 3: connect and handshake.
	sess, err := session.Connect(devices[0], log)
	if err != nil {
		log.WithError(err).Error("connect failed")
		return ExitNoDevice
	}
	defer func() {
		if derr := sess.Disconnect(); derr != nil {
			log.WithError(derr).Warn("disconnect reported an error")
		}
	}()

	if err := sess.Handshake(); err != nil {
		log.WithError(err).Error("handshake failed")
		return ExitHandshakeFailure
	}

	// Step 4: flash each entry, expanding archives into sub-slots.
	flashOpts := flasher.Options{ChunkSize: opts.ChunkSize, Cancel: opts.Cancel}
	for _, entry := range plan {
		if entry.isArchive() {
			members, err := firmware.ParseArchive(entry.Path)
			if err != nil {
				log.WithError(err).WithField("slot", entry.Slot).Error("archive parse failed")
				return ExitFlashFailure
			}
			for slot, data := range members {
				if err := flashOne(sess, slot, data, sink, log, flashOpts); err != nil {
					return ExitFlashFailure
				}
			}
			continue
		}

		data, err := os.ReadFile(entry.Path)
		if err != nil {
			log.WithError(err).WithField("slot", entry.Slot).Error("read firmware file failed")
			return ExitFlashFailure
		}
		if err := flashOne(sess, entry.Slot, data, sink, log, flashOpts); err != nil {
			return ExitFlashFailure
		}
	}

	// Step 5: optional reboot, then unconditional disconnect (deferred above).
	if opts.AutoReboot {
		if err := sess.Reboot(); err != nil {
			log.WithError(err).Warn("reboot request failed")
		}
	}

	return ExitOK
}

func flashOne(sess *session.Session, slot string, data []byte, sink progress.Sink, log logrus.FieldLogger, opts flasher.Options) error {
	if err := flasher.Flash(sess, slot, data, sink, log, opts); err != nil {
		if _, cancelled := asCancelled(err); cancelled {
			log.WithField("slot", slot).Warn("flash cancelled; closing session without END_SESSION")
		} else {
			log.WithError(err).WithField("slot", slot).Error("flash failed")
		}
		return err
	}
	return nil
}

func asCancelled(err error) (*protoerr.CancelledErr, bool) {
	var c *protoerr.CancelledErr
	ok := false
	if e, matches := err.(*protoerr.CancelledErr); matches {
		c, ok = e, true
	}
	return c, ok
}

// ParsePlan builds a []PlanEntry from repeated --slot=path CLI arguments of
// the form "SLOT=path".
func ParsePlan(args []string) ([]PlanEntry, error) {
	plan := make([]PlanEntry, 0, len(args))
	for _, arg := range args {
		slot, path, ok := strings.Cut(arg, "=")
		if !ok || slot == "" || path == "" {
			return nil, fmt.Errorf("invalid --slot argument %q, expected SLOT=path", arg)
		}
		plan = append(plan, PlanEntry{Slot: strings.ToUpper(slot), Path: path})
	}
	return plan, nil
}
