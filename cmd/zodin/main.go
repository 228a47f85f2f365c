// Command zodin is the command-line front end for the download-mode
// flashing engine: enumerate devices, pull a partition table, and flash
// one or more partitions with live progress bars.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verbose bool

func main() {
	root := newRootCmd()
	err := root.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	if code := exitCode(err); code != 0 {
		os.Exit(code)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "zodin",
		Short:         "Samsung download-mode USB flashing engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.AddCommand(newDevicesCmd(), newPitCmd(), newFlashCmd())
	return cmd
}
