package main

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/srg/blectl/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// CommandTestSuite runs blectl commands in-process.
type CommandTestSuite struct {
	suite.Suite

	stderr string
}

func (s *CommandTestSuite) SetupSuite() {
	// Table output must not depend on whether the test runs in a terminal.
	color.NoColor = true
}

// ExecuteCommand runs the root command with args and returns its stdout.
// Stderr is kept in s.stderr.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	s.stderr = errOut.String()
	return out.String(), err
}

// WriteFile stores content in a temporary file and returns its path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600), "temp file MUST be written")
	return path
}

func (s *CommandTestSuite) Text() *testutils.TextAsserter {
	return testutils.NewTextAsserter(s.T()).WithOptions(testutils.WithTrimSpace(true), testutils.WithIgnoreTrailingWhitespace(true))
}

func (s *CommandTestSuite) JSON() *testutils.JSONAsserter {
	return testutils.NewJSONAsserter(s.T())
}
