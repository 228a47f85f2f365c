package main

import (
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/Llucs/ZodinLinux/internal/orchestrator"
	"github.com/Llucs/ZodinLinux/internal/progress"
	"github.com/Llucs/ZodinLinux/internal/zlog"
)

func newFlashCmd() *cobra.Command {
	var (
		slots      []string
		autoReboot bool
		strict     bool
		chunkSize  int
	)

	cmd := &cobra.Command{
		Use:   "flash",
		Short: "Flash one or more partitions to the first attached device",
		Long: "Flash accepts repeated --slot=path arguments, where path is either a\n" +
			"raw partition image or a tar archive whose members are classified by name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(slots) == 0 {
				return fmt.Errorf("at least one --slot=path is required")
			}

			plan, err := orchestrator.ParsePlan(slots)
			if err != nil {
				return withExit(orchestrator.ExitUsage, err)
			}

			log := zlog.New(verbose)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cancel := make(chan struct{})
			go func() {
				<-ctx.Done()
				close(cancel)
			}()

			sink, wait := newBarSink()
			defer wait()

			code := orchestrator.Run(plan, orchestrator.Options{
				AutoReboot:   autoReboot,
				StrictVerify: strict,
				ChunkSize:    chunkSize,
				Sink:         sink,
				Cancel:       cancel,
			}, log)

			if code != orchestrator.ExitOK {
				return withExit(code, fmt.Errorf("flash did not complete (exit %d)", code))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&slots, "slot", nil, "SLOT=path, repeatable")
	cmd.Flags().BoolVar(&autoReboot, "auto-reboot", false, "reboot the device once flashing completes")
	cmd.Flags().BoolVar(&strict, "verify", false, "abort before any device I/O on an md5 sidecar mismatch")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "bytes per FLASH_SEND_DATA frame (0 = default)")
	return cmd
}

// barSink fans progress.Record updates out to one mpb bar per partition
// name, created lazily on first sight of that partition.
type barSink struct {
	mu   sync.Mutex
	prog *mpb.Progress
	bars map[string]*mpb.Bar
}

func newBarSink() (progress.Sink, func()) {
	p := mpb.New(mpb.WithWidth(60))
	s := &barSink{prog: p, bars: make(map[string]*mpb.Bar)}
	return progress.SinkFunc(s.onProgress), p.Wait
}

func (s *barSink) onProgress(r progress.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bar, ok := s.bars[r.CurrentFile]
	if !ok {
		total := int64(r.TotalBytes)
		if total == 0 {
			total = 1
		}
		bar = s.prog.AddBar(total,
			mpb.PrependDecorators(decor.Name(r.CurrentFile+" ")),
			mpb.AppendDecorators(decor.Percentage(decor.WCSyncSpace)),
		)
		s.bars[r.CurrentFile] = bar
	}
	bar.SetCurrent(int64(r.CurrentBytes))
}
