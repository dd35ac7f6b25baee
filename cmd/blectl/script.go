package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/srg/blectl"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/internal/script"
	"github.com/srg/blectl/pkg/ll"
)

func newScriptCmd() *cobra.Command {
	var args []string
	var example string
	cmd := &cobra.Command{
		Use:   "script [file.lua]",
		Short: "Run a Lua scenario against a manually driven stack",
		Long: `Run a Lua scenario script. The script owns the scheduler and the
simulated radio: ll.* calls post host commands, ll.run() and ll.tick(n)
dispatch them, and sim.adv / sim.conn_ind inject radio activity.`,
		Example: `  blectl script my_scenario.lua --arg peer=11:22:33:44:55:66
  blectl script --example peripheral`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, positional []string) error {
			name, src, err := scriptSource(positional, example)
			if err != nil {
				return err
			}
			return runScript(cmd, name, src, args)
		},
	}
	cmd.Flags().StringArrayVar(&args, "arg", nil, "Script argument key=value, available as arg.key")
	cmd.Flags().StringVar(&example, "example", "", fmt.Sprintf("Run a bundled example %v", blectl.ExampleNames()))
	return cmd
}

func parseScriptArgs(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("%w: script argument %q must be key=value", ErrUsage, p)
		}
		out[k] = v
	}
	return out, nil
}

// scriptSource resolves the file argument or --example name.
func scriptSource(positional []string, example string) (string, string, error) {
	switch {
	case example != "" && len(positional) > 0:
		return "", "", fmt.Errorf("%w: give a script file or --example, not both", ErrUsage)
	case example != "":
		src, ok := blectl.ExampleScripts[example]
		if !ok {
			return "", "", fmt.Errorf("%w: unknown example %q (have %v)", ErrUsage, example, blectl.ExampleNames())
		}
		return example + ".lua", src, nil
	case len(positional) == 1:
		data, err := os.ReadFile(positional[0])
		if err != nil {
			return "", "", err
		}
		return positional[0], string(data), nil
	}
	return "", "", fmt.Errorf("%w: a script file or --example is required", ErrUsage)
}

func runScript(cmd *cobra.Command, name, src string, pairs []string) error {
	scriptArgs, err := parseScriptArgs(pairs)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, "verbose")
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	drv := sim.New(sim.Options{Logger: logger})
	stack, err := ll.New(cfg, logger, drv)
	if err != nil {
		return err
	}
	return script.RunWithOutput(cmd.Context(), stack, drv, src, script.RunOptions{
		Name:   name,
		Args:   scriptArgs,
		Stdout: cmd.OutOrStdout(),
		Stderr: cmd.ErrOrStderr(),
		Logger: logger,
	})
}
