package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Llucs/ZodinLinux/internal/orchestrator"
	"github.com/Llucs/ZodinLinux/internal/pit"
	"github.com/Llucs/ZodinLinux/internal/session"
	"github.com/Llucs/ZodinLinux/internal/usbtransport"
	"github.com/Llucs/ZodinLinux/internal/zlog"
)

func newPitCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "pit",
		Short: "Connect to the first attached device and dump its partition table",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zlog.New(verbose)

			devices, err := usbtransport.Discover()
			if err != nil {
				return withExit(orchestrator.ExitNoDevice, err)
			}
			if len(devices) == 0 {
				return withExit(orchestrator.ExitNoDevice, fmt.Errorf("no download-mode device found"))
			}

			sess, err := session.Connect(devices[0], log)
			if err != nil {
				return withExit(orchestrator.ExitNoDevice, err)
			}
			defer sess.Disconnect()

			if err := sess.Handshake(); err != nil {
				return withExit(orchestrator.ExitHandshakeFailure, err)
			}

			data, err := pit.Fetch(sess)
			if err != nil {
				return withExit(orchestrator.ExitHandshakeFailure, err)
			}

			if outPath == "" {
				outPath = "device.pit"
			}
			if err := os.WriteFile(outPath, data, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "output", "o", "device.pit", "output path for the partition table")
	return cmd
}
