package script

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/groutine"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/pkg/ll"
)

// RunOptions configures RunWithOutput.
type RunOptions struct {
	Name   string
	Args   map[string]string
	Stdout io.Writer
	Stderr io.Writer
	Logger *logrus.Logger
}

// RunWithOutput executes script against stack, copying printed lines to the
// writers while the script runs. Nil writers discard.
func RunWithOutput(ctx context.Context, stack *ll.Stack, drv *sim.Radio, script string, opts RunOptions) error {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	engine := NewEngine(opts.Logger, 0)
	if _, err := Bind(engine, stack, drv); err != nil {
		engine.Close()
		return err
	}
	if err := engine.SetArgs(opts.Args); err != nil {
		engine.Close()
		return err
	}

	var g groutine.Group
	g.Go(ctx, "script-output", func(ctx context.Context) {
		for rec := range engine.Output().C() {
			w := stdout
			if rec.Source == "stderr" {
				w = stderr
			}
			if _, err := fmt.Fprint(w, rec.Content); err != nil {
				engine.log.WithError(err).Debug("Script output write failed")
			}
		}
	})

	err := engine.Run(script, opts.Name)
	// Close ends the drainer once the buffered lines are written.
	engine.Close()
	g.Wait()
	return err
}
