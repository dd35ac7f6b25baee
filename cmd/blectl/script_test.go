package main

import (
	"errors"
	"testing"

	"github.com/srg/blectl/internal/script"
	"github.com/stretchr/testify/suite"
)

type ScriptTestSuite struct {
	CommandTestSuite
}

func (s *ScriptTestSuite) TestRunsFileWithArgs() {
	path := s.WriteFile("hello.lua", `
ll.create_conn(arg.peer)
ll.run()
print("init", ll.state("init"))
`)
	out, err := s.ExecuteCommand("script", path, "--arg", "peer=11:22:33:44:55:66")
	s.Require().NoError(err)
	s.Equal("init\tinitiating\n", out)
}

// GOAL: the bundled examples run cleanly against the default configuration
func (s *ScriptTestSuite) TestBundledExamples() {
	out, err := s.ExecuteCommand("script", "--example", "connect")
	s.Require().NoError(err)
	s.Text().Assert(out, `
initiator	initiating
conn-complete	0	0	central	11:22:33:44:55:66
connections	1
disconnect-complete	22	0
connections	0
`)

	out, err = s.ExecuteCommand("script", "--example", "peripheral", "--arg", "central=01:02:03:04:05:06")
	s.Require().NoError(err)
	s.Text().Assert(out, `
advertiser	advertising
adv-terminated	0	0	central	01:02:03:04:05:06
conn-complete	0	0	peripheral	01:02:03:04:05:06
advertiser	idle	connections	1
`)
}

func (s *ScriptTestSuite) TestScriptErrors() {
	path := s.WriteFile("bad.lua", "ll.state('mesh')")
	_, err := s.ExecuteCommand("script", path)
	var serr *script.ScriptError
	s.Require().True(errors.As(err, &serr), "script failures MUST be *ScriptError")
	s.Equal(script.KindRuntime, serr.Kind)
	s.Contains(s.stderr, "unknown role")

	cases := []struct {
		name string
		args []string
	}{
		{"nothing to run", []string{"script"}},
		{"both", []string{"script", path, "--example", "connect"}},
		{"unknown example", []string{"script", "--example", "mesh"}},
		{"bad arg", []string{"script", path, "--arg", "novalue"}},
	}
	for _, c := range cases {
		s.Run(c.name, func() {
			_, err := s.ExecuteCommand(c.args...)
			s.ErrorIs(err, ErrUsage)
		})
	}
}

func TestScriptTestSuite(t *testing.T) {
	suite.Run(t, new(ScriptTestSuite))
}
