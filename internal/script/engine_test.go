package script

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

type EngineTestSuite struct {
	suite.Suite

	logger *logrus.Logger
	engine *Engine
}

func (s *EngineTestSuite) SetupSuite() {
	s.logger = logrus.New()
	s.logger.SetLevel(logrus.PanicLevel)
}

func (s *EngineTestSuite) SetupTest() {
	s.engine = NewEngine(s.logger, 64)
}

func (s *EngineTestSuite) TearDownTest() {
	s.engine.Close()
}

func (s *EngineTestSuite) SetupSubTest() {
	s.engine.Close()
	s.engine = NewEngine(s.logger, 64)
}

func (s *EngineTestSuite) stdout() string {
	var b strings.Builder
	for _, rec := range s.engine.Output().Drain() {
		if rec.Source == "stdout" {
			b.WriteString(rec.Content)
		}
	}
	return b.String()
}

func (s *EngineTestSuite) TestPrintVariants() {
	cases := []struct {
		name     string
		script   string
		expected *regexp.Regexp
	}{
		{"no args", `print()`, regexp.MustCompile(`^\n$`)},
		{"two strings", `print("foo", "bar")`, regexp.MustCompile(`^foo\tbar\n$`)},
		{"number", `print(123)`, regexp.MustCompile(`^123\n$`)},
		{"booleans", `print(true, false)`, regexp.MustCompile(`^true\tfalse\n$`)},
		{"nil value", `print(nil)`, regexp.MustCompile(`^nil\n$`)},
		{"concat", `print("val=" .. 7)`, regexp.MustCompile(`^val=7\n$`)},
		{"table", `print({})`, regexp.MustCompile(`^table: 0x[0-9a-fA-F]+\n$`)},
		{"two lines", "print('a')\nprint('b')", regexp.MustCompile(`^a\nb\n$`)},
	}

	for _, c := range cases {
		s.Run(c.name, func() {
			s.Require().NoError(s.engine.Run(c.script, "print"))
			out := s.stdout()
			s.Regexp(c.expected, out, "print output MUST match for %q", c.script)
		})
	}
}

// GOAL: a syntax error is reported as KindSyntax with its line and nothing runs
func (s *EngineTestSuite) TestSyntaxError() {
	err := s.engine.Run("print('before')\nif then end", "broken.lua")
	s.Require().Error(err)

	var serr *ScriptError
	s.Require().True(errors.As(err, &serr))
	s.Equal(KindSyntax, serr.Kind)
	s.Equal(2, serr.Line, "error line MUST point at the bad statement")
	s.Equal("broken.lua", serr.Source)
	s.True(errors.Is(err, &ScriptError{Kind: KindSyntax}))
	s.False(errors.Is(err, &ScriptError{Kind: KindRuntime}))

	s.Empty(s.stdout(), "a script that fails to compile MUST NOT run")
}

// GOAL: a runtime error keeps output produced before it and lands on stderr
func (s *EngineTestSuite) TestRuntimeError() {
	err := s.engine.Run("print('first')\nerror('boom')", "fail.lua")
	s.Require().Error(err)

	var serr *ScriptError
	s.Require().True(errors.As(err, &serr))
	s.Equal(KindRuntime, serr.Kind)
	s.Contains(serr.Message, "boom")
	s.NotNil(serr.Unwrap())

	var stdout, stderr []string
	for _, rec := range s.engine.Output().Drain() {
		if rec.Source == "stderr" {
			stderr = append(stderr, rec.Content)
		} else {
			stdout = append(stdout, rec.Content)
		}
	}
	s.Equal([]string{"first\n"}, stdout)
	s.Require().Len(stderr, 1)
	s.Contains(stderr[0], "boom")
}

func (s *EngineTestSuite) TestEmptyScript() {
	err := s.engine.Check("  \n", "empty")
	s.True(errors.Is(err, &ScriptError{Kind: KindAPI}))
}

func (s *EngineTestSuite) TestArgsAndGlobals() {
	s.Require().NoError(s.engine.SetArgs(map[string]string{"peer": "11:22:33:44:55:66"}))
	s.Require().NoError(s.engine.Run(`result = arg.peer; count = 3; ok = true`, "args"))

	s.Equal("11:22:33:44:55:66", s.engine.Global("result"))
	s.Equal(float64(3), s.engine.Global("count"))
	s.Equal(true, s.engine.Global("ok"))
	s.Nil(s.engine.Global("missing"))
}

func (s *EngineTestSuite) TestRunFile() {
	path := filepath.Join(s.T().TempDir(), "hello.lua")
	s.Require().NoError(os.WriteFile(path, []byte(`print("from file")`), 0o600))

	s.Require().NoError(s.engine.RunFile(path))
	s.Equal("from file\n", s.stdout())

	err := s.engine.RunFile(filepath.Join(s.T().TempDir(), "missing.lua"))
	s.ErrorIs(err, os.ErrNotExist)
}

// GOAL: a closed engine refuses work and closing twice is harmless
func (s *EngineTestSuite) TestClosed() {
	s.engine.Close()
	s.engine.Close()

	s.ErrorIs(s.engine.Run(`print(1)`, "closed"), ErrClosed)
	s.ErrorIs(s.engine.SetArgs(nil), ErrClosed)
	s.Nil(s.engine.Global("x"))
}

func TestEngineTestSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}
