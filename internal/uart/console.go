package uart

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/pkg/ll"
)

// ErrUnknownCommand is returned by Execute for an unrecognised verb.
var ErrUnknownCommand = errors.New("unknown command")

// Console maps text commands to stack calls. Replies are "OK", "ERR <reason>"
// or command output; host events are written as "EVT <event>".
type Console struct {
	stack *ll.Stack
	log   *logrus.Logger
}

func NewConsole(stack *ll.Stack, logger *logrus.Logger) *Console {
	if logger == nil {
		logger = discard
	}
	return &Console{stack: stack, log: logger}
}

// Attach serves the console on port until the port is closed.
func (c *Console) Attach(port *Port) {
	c.stack.OnEvent(func(ev ll.Event) {
		port.Printf("EVT %s", ev)
	})
	port.OnLine(func(line string) {
		port.Printf("%s", c.Handle(line))
	})
	port.Printf("blectl console ready, type help")
}

// Handle executes one line and returns its reply.
func (c *Console) Handle(line string) string {
	out, err := c.Execute(line)
	if err != nil {
		c.log.WithFields(logrus.Fields{"line": line, "error": err}).Debug("Console command failed")
		return "ERR " + err.Error()
	}
	if out == "" {
		return "OK"
	}
	return out
}

const help = "commands: reset | conn <addr> [ms] | cancel | scan on|off [ms] [dedup] | " +
	"adv on|off [ms] | advdata <hex> | disc <handle> | test start <ch> [prbs] [rx] | test end | state"

func (c *Console) Execute(line string) (string, error) {
	f := strings.Fields(line)
	if len(f) == 0 {
		return "", fmt.Errorf("%w: empty line", ErrUnknownCommand)
	}
	args := f[1:]
	switch strings.ToLower(f[0]) {
	case "help", "?":
		return help, nil
	case "reset":
		return "", c.stack.Reset()
	case "conn":
		if len(args) < 1 {
			return "", errors.New("usage: conn <addr> [ms]")
		}
		d, err := msArg(args, 1)
		if err != nil {
			return "", err
		}
		return "", c.stack.CreateConn(ble.NewAddr(args[0]), d)
	case "cancel":
		return "", c.stack.CreateConnCancel()
	case "scan":
		on, err := onOff(args)
		if err != nil {
			return "", err
		}
		if !on {
			return "", c.stack.ScanDisable()
		}
		d, err := msArg(args, 1)
		if err != nil {
			return "", err
		}
		return "", c.stack.ScanEnable(d, len(args) > 2 && args[2] == "dedup")
	case "adv":
		on, err := onOff(args)
		if err != nil {
			return "", err
		}
		if !on {
			return "", c.stack.AdvDisable()
		}
		d, err := msArg(args, 1)
		if err != nil {
			return "", err
		}
		return "", c.stack.AdvEnable(d)
	case "advdata":
		var data []byte
		if len(args) > 0 {
			var err error
			if data, err = hex.DecodeString(args[0]); err != nil {
				return "", fmt.Errorf("advdata: %w", err)
			}
		}
		return "", c.stack.SetAdvData(data)
	case "disc":
		if len(args) < 1 {
			return "", errors.New("usage: disc <handle>")
		}
		h, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return "", fmt.Errorf("disc: %w", err)
		}
		return "", c.stack.Disconnect(uint16(h))
	case "test":
		return "", c.test(args)
	case "state":
		return c.state(), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, f[0])
}

func (c *Console) test(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: test start <ch> [prbs] [rx] | test end")
	}
	switch args[0] {
	case "end":
		return c.stack.TestEnd()
	case "start":
		if len(args) < 2 {
			return errors.New("usage: test start <ch> [prbs] [rx]")
		}
		ch, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return fmt.Errorf("test: channel: %w", err)
		}
		p := ll.TestParams{Channel: uint8(ch)}
		for _, opt := range args[2:] {
			switch opt {
			case "prbs":
				p.PRBS = true
			case "rx":
				p.Receive = true
			default:
				return fmt.Errorf("test: unknown option %q", opt)
			}
		}
		return c.stack.TestStart(p)
	}
	return fmt.Errorf("test: unknown action %q", args[0])
}

func (c *Console) state() string {
	snap := c.stack.Snapshot()
	return fmt.Sprintf("init=%s scan=%s adv=%s test=%t conns=%d",
		snap.Initiator, snap.Scanner, snap.Advertiser, snap.Testing, len(snap.Connections))
}

func onOff(args []string) (bool, error) {
	if len(args) == 0 {
		return false, errors.New("expected on or off")
	}
	switch args[0] {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", args[0])
}

func msArg(args []string, i int) (time.Duration, error) {
	if len(args) <= i {
		return 0, nil
	}
	n, err := strconv.ParseUint(args[i], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("duration ms: %w", err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
