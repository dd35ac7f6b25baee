package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/pkg/ll"
)

type runOptions struct {
	duration  time.Duration
	format    string
	initiate  string
	scan      bool
	dedup     bool
	advertise bool
	peers     []string
	central   string
	progress  bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the stack against a timed simulated radio",
		Long: `Run the link layer for a fixed time with a simulated radio that
advertises the given peers and delivers radio results after the configured
latency. Host events are printed when the run ends.`,
		Example: `  blectl run --peer 11:22:33:44:55:66 --initiate 11:22:33:44:55:66 -d 2s
  blectl run --advertise --central aa:bb:cc:dd:ee:ff -f json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.DurationVarP(&opts.duration, "duration", "d", 2*time.Second, "How long to run")
	f.StringVarP(&opts.format, "format", "f", "table", "Output format (table, json)")
	f.StringVar(&opts.initiate, "initiate", "", "Create a connection to this address")
	f.BoolVar(&opts.scan, "scan", false, "Scan while running")
	f.BoolVar(&opts.dedup, "no-duplicates", true, "Filter duplicate advertising reports")
	f.BoolVar(&opts.advertise, "advertise", false, "Advertise while running")
	f.StringSliceVar(&opts.peers, "peer", nil, "Simulated connectable advertisers")
	f.StringVar(&opts.central, "central", "", "Simulated central that connects to our advertising")
	f.BoolVar(&opts.progress, "progress", false, "Show a countdown while running")
	return cmd
}

func runSimulation(cmd *cobra.Command, opts *runOptions) error {
	if opts.format != "table" && opts.format != "json" {
		return fmt.Errorf("%w: invalid format %q: must be table or json", ErrUsage, opts.format)
	}
	if opts.duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrUsage)
	}
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	simOpts := sim.Options{Latency: cfg.RadioLatency, Logger: logger}
	for _, p := range opts.peers {
		addr, err := parsePeer(p)
		if err != nil {
			return err
		}
		simOpts.Peers = append(simOpts.Peers, sim.Peer{Addr: addr, RSSI: -60, Connectable: true})
	}
	if opts.central != "" {
		addr, err := parsePeer(opts.central)
		if err != nil {
			return err
		}
		simOpts.Central = &addr
	}

	// Arguments validated: runtime errors should not print usage.
	cmd.SilenceUsage = true

	drv := sim.New(simOpts)
	stack, err := ll.New(cfg, logger, drv)
	if err != nil {
		return err
	}

	var seen atomic.Int64
	stack.OnEvent(func(ev ll.Event) {
		seen.Add(1)
		logger.WithField("event", ev.String()).Debug("Host event")
	})

	if err := startRoles(stack, opts); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()

	if opts.progress {
		progress := NewProgressPrinter(cmd.ErrOrStderr(), "Running", opts.duration, func() int { return int(seen.Load()) })
		progress.Start()
		defer progress.Stop()
	}

	drv.Run(ctx)
	err = stack.Run(ctx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return err
	}

	return printRun(cmd.OutOrStdout(), opts.format, stack.DrainEvents(), stack.Snapshot(), logger)
}

func startRoles(stack *ll.Stack, opts *runOptions) error {
	if opts.scan {
		if err := stack.ScanEnable(0, opts.dedup); err != nil {
			return err
		}
	}
	if opts.advertise {
		if err := stack.AdvEnable(0); err != nil {
			return err
		}
	}
	if opts.initiate != "" {
		if err := stack.CreateConn(ble.NewAddr(opts.initiate), 0); err != nil {
			return err
		}
	}
	return nil
}

// eventJSON is the machine-readable form of a host event.
type eventJSON struct {
	Type       string `json:"type"`
	Status     uint8  `json:"status"`
	StatusText string `json:"status_text"`
	Handle     uint16 `json:"handle"`
	Role       string `json:"role,omitempty"`
	Peer       string `json:"peer,omitempty"`
	RSSI       int8   `json:"rssi,omitempty"`
	Packets    uint32 `json:"packets,omitempty"`
}

func toEventJSON(ev ll.Event) eventJSON {
	out := eventJSON{
		Type:       ev.Type.String(),
		Status:     uint8(ev.Status),
		StatusText: ev.Status.String(),
		Handle:     ev.Handle,
		RSSI:       ev.RSSI,
		Packets:    ev.Packets,
	}
	if !ev.Peer.IsZero() {
		out.Peer = ev.Peer.String()
	}
	switch ev.Type {
	case ll.EvtConnComplete, ll.EvtDisconnectComplete, ll.EvtAdvTerminated:
		out.Role = ev.Role.String()
	}
	return out
}

func printRun(w io.Writer, format string, events []ll.Event, snap ll.Snapshot, logger *logrus.Logger) error {
	logger.WithFields(logrus.Fields{
		"events":      len(events),
		"connections": len(snap.Connections),
		"messages":    snap.Scheduler.Messages,
	}).Info("Run finished")

	if format == "json" {
		out := struct {
			Events   []eventJSON `json:"events"`
			Snapshot ll.Snapshot `json:"snapshot"`
		}{Events: make([]eventJSON, 0, len(events)), Snapshot: snap}
		for _, ev := range events {
			out.Events = append(out.Events, toEventJSON(ev))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(events) == 0 {
		fmt.Fprintln(w, "No host events")
	} else {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "#\tEVENT\tSTATUS\tHANDLE\tPEER\tRSSI")
		for i, ev := range events {
			e := toEventJSON(ev)
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\n", i+1, e.Type, statusColor(ev.Status), e.Handle, e.Peer, e.RSSI)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "\ninitiator %s, scanner %s, advertiser %s, %d connection(s)\n",
		snap.Initiator, snap.Scanner, snap.Advertiser, len(snap.Connections))
	return nil
}

func statusColor(s ll.Status) string {
	if s == 0 {
		return color.GreenString("%s", s.String())
	}
	return color.RedString("%s", s.String())
}

func parsePeer(s string) (radio.Addr, error) {
	return radio.ParseAddr(ble.NewAddr(s))
}
