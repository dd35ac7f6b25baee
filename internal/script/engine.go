// Package script runs Lua scenario scripts against a link-layer stack.
package script

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/ringchan"
)

// Error kinds.
const (
	KindSyntax  = "syntax"
	KindRuntime = "runtime"
	KindAPI     = "api"
)

// ErrClosed is returned by calls on a closed engine.
var ErrClosed = errors.New("script engine closed")

// OutputRecord is one line printed by a script.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// ScriptError describes a failed load or run.
type ScriptError struct {
	Kind       string
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *ScriptError) Error() string {
	var where []string
	if e.Source != "" {
		where = append(where, "in "+e.Source)
	}
	if e.Line > 0 {
		where = append(where, fmt.Sprintf("line %d", e.Line))
	}
	if len(where) == 0 {
		return fmt.Sprintf("lua %s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("lua %s error (%s): %s", e.Kind, strings.Join(where, ", "), e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Underlying }

// Is matches another *ScriptError of the same kind.
func (e *ScriptError) Is(target error) bool {
	var other *ScriptError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// chunk:LINE: message, as produced by the Lua compiler and runtime.
var lineRe = regexp.MustCompile(`^(?:\[string "[^"]*"\]|[^:]*):(\d+): (.*)$`)

func newScriptError(kind, source, raw string, underlying error) *ScriptError {
	e := &ScriptError{Kind: kind, Message: strings.TrimSpace(raw), Source: source, Underlying: underlying}
	first, _, _ := strings.Cut(e.Message, "\n")
	if m := lineRe.FindStringSubmatch(first); m != nil {
		e.Line, _ = strconv.Atoi(m[1])
		e.Message = m[2]
	}
	return e
}

// Engine owns one Lua state. Calls are serialized.
type Engine struct {
	mu     sync.Mutex
	state  *lua.State
	log    *logrus.Logger
	output *ringchan.Ring[OutputRecord]
}

// NewEngine creates a Lua state with the standard libraries and a print that
// writes to the engine's output ring.
func NewEngine(logger *logrus.Logger, outputDepth int) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if outputDepth <= 0 {
		outputDepth = 256
	}
	e := &Engine{
		log:    logger,
		output: ringchan.New[OutputRecord](outputDepth),
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrint()
	return e
}

// Output returns the printed lines.
func (e *Engine) Output() *ringchan.Ring[OutputRecord] { return e.output }

// Do runs fn with the Lua state locked.
func (e *Engine) Do(fn func(L *lua.State) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return ErrClosed
	}
	return fn(e.state)
}

func (e *Engine) emit(source, line string) {
	if e.output.Send(OutputRecord{Content: line, Timestamp: time.Now(), Source: source}) {
		e.log.Debug("Script output ring full, oldest line dropped")
	}
}

func (e *Engine) registerPrint() {
	L := e.state
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, strconv.FormatBool(L.ToBoolean(i)))
			case L.IsNumber(i) || L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}
		e.emit("stdout", strings.Join(parts, "\t")+"\n")
		return 0
	})
	L.SetGlobal("print")
}

// SetArgs publishes args as the global table arg.
func (e *Engine) SetArgs(args map[string]string) error {
	return e.Do(func(L *lua.State) error {
		L.NewTable()
		for k, v := range args {
			L.PushString(k)
			L.PushString(v)
			L.SetTable(-3)
		}
		L.SetGlobal("arg")
		return nil
	})
}

// Check compiles script without running it.
func (e *Engine) Check(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &ScriptError{Kind: KindAPI, Message: "empty script", Source: name}
	}
	return e.Do(func(L *lua.State) error {
		if status := L.LoadString(script); status != 0 {
			msg := L.ToString(-1)
			L.Pop(1)
			return newScriptError(KindSyntax, name, msg, nil)
		}
		L.Pop(1)
		return nil
	})
}

// Run compiles and executes script. Runtime failures are reported on the
// stderr output stream as well as returned.
func (e *Engine) Run(script, name string) error {
	if err := e.Check(script, name); err != nil {
		e.emit("stderr", err.Error())
		return err
	}
	e.log.WithFields(logrus.Fields{"script": name, "bytes": len(script)}).Debug("Running script")
	return e.Do(func(L *lua.State) error {
		if err := L.DoString(script); err != nil {
			serr := newScriptError(KindRuntime, name, err.Error(), err)
			e.emit("stderr", serr.Error())
			return serr
		}
		return nil
	})
}

// RunFile executes the script stored at path.
func (e *Engine) RunFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	return e.Run(string(data), path)
}

// Global returns a string, number or boolean global, or nil.
func (e *Engine) Global(name string) any {
	var out any
	_ = e.Do(func(L *lua.State) error {
		L.GetGlobal(name)
		defer L.Pop(1)
		switch {
		case L.IsBoolean(-1):
			out = L.ToBoolean(-1)
		case L.IsNumber(-1):
			out = L.ToNumber(-1)
		case L.IsString(-1):
			out = L.ToString(-1)
		}
		return nil
	})
	return out
}

// Close releases the Lua state and closes the output ring.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != nil {
		e.state.Close()
		e.state = nil
	}
	e.output.Close()
}
