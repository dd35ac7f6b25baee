package main

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/script"
	"github.com/srg/blectl/pkg/config"
	"github.com/srg/blectl/pkg/ll"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUserError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"config", fmt.Errorf("%w: max_conn must be positive", config.ErrInvalidConfig), "configuration: max_conn must be positive"},
		{"address", fmt.Errorf("%w: %q", radio.ErrBadAddr, "zz"), `address: "zz"`},
		{"adv data", fmt.Errorf("%w: 40 bytes, max 31", ll.ErrAdvDataTooLong), "advertising data too long: 40 bytes, max 31"},
		{"usage", fmt.Errorf("%w: bad flag", ErrUsage), "bad flag"},
		{"missing file", &os.PathError{Op: "open", Path: "x.lua", Err: os.ErrNotExist}, "file not found: open x.lua: file does not exist"},
		{"script", fmt.Errorf("run: %w", &script.ScriptError{Kind: script.KindRuntime, Message: "boom", Line: 3}), "lua runtime error (line 3): boom"},
		{"other", errors.New("radio on fire"), "radio on fire"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, FormatUserError(c.err))
		})
	}
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{Use: "x"}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().Bool("verbose", false, "")
		require.NoError(t, cmd.Flags().Parse(args))
		return cmd
	}

	cases := []struct {
		args []string
		want logrus.Level
	}{
		{nil, logrus.PanicLevel},
		{[]string{"--verbose"}, logrus.DebugLevel},
		{[]string{"--log-level", "warn"}, logrus.WarnLevel},
		{[]string{"--log-level", "error", "--verbose"}, logrus.ErrorLevel},
	}
	for _, c := range cases {
		logger, err := configureLogger(newCmd(c.args...), "verbose")
		require.NoError(t, err)
		assert.Equal(t, c.want, logger.GetLevel(), "args %v", c.args)
	}

	_, err := configureLogger(newCmd("--log-level", "trace"), "verbose")
	assert.ErrorIs(t, err, ErrUsage)
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "v1.2.0", formatVersion("1.2.0"))
	assert.Equal(t, "dev", formatVersion("dev"))
}
