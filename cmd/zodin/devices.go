package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Llucs/ZodinLinux/internal/usbtransport"
)

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List Samsung download-mode devices currently attached",
		RunE: func(cmd *cobra.Command, args []string) error {
			devices, err := usbtransport.Discover()
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no download-mode devices found")
				return nil
			}
			for _, d := range devices {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", d.Path, d.Label(), d.Mode)
			}
			return nil
		},
	}
}
