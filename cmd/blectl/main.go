package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/blectl/pkg/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blectl",
		Short: "BLE link-layer controller simulator",
		Long: `Runs a BLE link-layer controller on a cooperative scheduler with a
simulated radio:

- Initiate, scan, advertise and hold connections for a given time
- Drive the stack from Lua scenario scripts
- Expose a text command console on a virtual UART (PTY)
- Inspect the buffer pool layout of a configuration`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
		SilenceErrors: true,
	}

	root.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	root.PersistentFlags().Bool("verbose", false, "Debug logging (same as --log-level debug)")
	root.PersistentFlags().String("config", "", "YAML configuration file")

	root.AddCommand(newRunCmd(), newScriptCmd(), newConsoleCmd(), newPoolsCmd())
	return root
}

// loadConfig reads --config or falls back to the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}
