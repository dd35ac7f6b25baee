package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blectl/internal/wsf"
)

type poolRow struct {
	Pool  int `json:"pool"`
	Len   int `json:"len"`
	Block int `json:"block"`
	Num   int `json:"num"`
	Bytes int `json:"bytes"`
}

type poolReport struct {
	Pools      []poolRow `json:"pools"`
	TotalBytes int       `json:"total_bytes"`
	MaxConn    int       `json:"max_conn"`
	MsPerTick  uint32    `json:"ms_per_tick"`
}

func newPoolsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Print the buffer pool layout of a configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("%w: invalid format %q: must be table or json", ErrUsage, format)
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			// Building the pool checks the layout the way a stack would.
			if _, err := wsf.NewBufPool(cfg.Pools...); err != nil {
				return err
			}

			report := poolReport{TotalBytes: cfg.PoolMemory(), MaxConn: cfg.MaxConn, MsPerTick: cfg.MsPerTick}
			for i, d := range cfg.Pools {
				// Blocks are aligned, so rows add up to the total.
				bytes := wsf.RequiredMemory([]wsf.PoolDesc{d})
				report.Pools = append(report.Pools, poolRow{
					Pool:  i,
					Len:   d.Len,
					Block: bytes / d.Num,
					Num:   d.Num,
					Bytes: bytes,
				})
			}

			w := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "POOL\tLEN\tBLOCK\tNUM\tBYTES")
			for _, r := range report.Pools {
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%d\n", r.Pool, r.Len, r.Block, r.Num, r.Bytes)
			}
			fmt.Fprintf(tw, "total\t\t\t\t%d\n", report.TotalBytes)
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format (table, json)")
	return cmd
}
