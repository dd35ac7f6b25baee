// Package testutils holds assertion helpers and stack fixtures shared by the
// package tests.
package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/pkg/config"
	"github.com/srg/blectl/pkg/ll"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper returns a helper whose logger only reports panics unless
// BLECTL_TEST_LOG names a level.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	if lvl, err := logrus.ParseLevel(os.Getenv("BLECTL_TEST_LOG")); err == nil {
		logger.SetLevel(lvl)
	}
	return &TestHelper{T: t, Logger: logger}
}

// NewSimStack builds a stack on a manual simulated radio. A nil cfg uses the
// defaults.
func (h *TestHelper) NewSimStack(cfg *config.Config) (*ll.Stack, *sim.Radio) {
	h.T.Helper()
	drv := sim.New(sim.Options{Logger: h.Logger})
	stack, err := ll.New(cfg, h.Logger, drv)
	if err != nil {
		h.T.Fatalf("stack MUST build: %v", err)
	}
	return stack, drv
}

// LoadFile reads relPath from the repository root (the directory holding
// go.mod).
func LoadFile(relPath string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found above %s", dir)
		}
		dir = parent
	}
	data, err := os.ReadFile(filepath.Join(dir, relPath))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
