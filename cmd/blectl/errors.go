package main

import (
	"errors"
	"os"
	"strings"

	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/script"
	"github.com/srg/blectl/pkg/config"
	"github.com/srg/blectl/pkg/ll"
)

// Command-level errors
var (
	ErrUsage = errors.New("invalid usage")
)

// FormatUserError turns an error chain into a one-line message for the
// terminal.
func FormatUserError(err error) string {
	var serr *script.ScriptError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &serr):
		return serr.Error()
	case errors.Is(err, config.ErrInvalidConfig):
		return "configuration: " + trimPrefix(err, config.ErrInvalidConfig)
	case errors.Is(err, radio.ErrBadAddr):
		return "address: " + trimPrefix(err, radio.ErrBadAddr)
	case errors.Is(err, ll.ErrAdvDataTooLong):
		return err.Error()
	case errors.Is(err, os.ErrNotExist):
		return "file not found: " + err.Error()
	case errors.Is(err, ErrUsage):
		return trimPrefix(err, ErrUsage)
	}
	return err.Error()
}

// trimPrefix drops the sentinel text from a "%w: detail" message.
func trimPrefix(err, sentinel error) string {
	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, sentinel.Error()+": "); ok {
		return rest
	}
	return msg
}
