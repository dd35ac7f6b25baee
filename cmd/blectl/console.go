package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/internal/uart"
	"github.com/srg/blectl/pkg/ll"
)

func newConsoleCmd() *cobra.Command {
	var peers []string
	cmd := &cobra.Command{
		Use:   "console",
		Short: "Serve a text command console on a virtual UART",
		Long: `Create a PTY and serve the link-layer command console on it. Open the
printed device with a terminal program (screen, minicom, picocom) and type
help. Host events are written to the same line as they happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd, peers)
		},
	}
	cmd.Flags().StringSliceVar(&peers, "peer", nil, "Simulated connectable advertisers")
	return cmd
}

func runConsole(cmd *cobra.Command, peers []string) error {
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	simOpts := sim.Options{Latency: cfg.RadioLatency, Logger: logger}
	for _, p := range peers {
		addr, err := parsePeer(p)
		if err != nil {
			return err
		}
		simOpts.Peers = append(simOpts.Peers, sim.Peer{Addr: addr, RSSI: -60, Connectable: true})
	}

	cmd.SilenceUsage = true

	drv := sim.New(simOpts)
	stack, err := ll.New(cfg, logger, drv)
	if err != nil {
		return err
	}

	port, err := uart.Open(uart.Options{Logger: logger})
	if err != nil {
		return err
	}
	defer port.Close()

	uart.NewConsole(stack, logger).Attach(port)
	fmt.Fprintf(cmd.OutOrStdout(), "Console on %s (Ctrl+C to stop)\n", port.TTYName())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	drv.Run(ctx)
	if err := stack.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	st := port.Stats()
	logger.WithFields(logrus.Fields{"rx": st.RxBytes, "tx": st.TxBytes}).Info("Console closed")
	return nil
}
