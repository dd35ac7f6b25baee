package script

import (
	"fmt"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/pkg/ll"
)

// API binds a stack to the Lua globals ll and, for a simulated radio, sim.
// The script owns the scheduler: ll.run and ll.tick dispatch on the calling
// goroutine.
type API struct {
	engine *Engine
	stack  *ll.Stack
	radio  *sim.Radio
	log    *logrus.Logger
}

// Bind registers the ll table on engine. radio may be nil.
func Bind(engine *Engine, stack *ll.Stack, drv *sim.Radio) (*API, error) {
	api := &API{engine: engine, stack: stack, radio: drv, log: engine.log}
	err := engine.Do(func(L *lua.State) error {
		L.NewTable()
		api.fn(L, "reset", api.reset)
		api.fn(L, "create_conn", api.createConn)
		api.fn(L, "create_conn_cancel", api.createConnCancel)
		api.fn(L, "scan", api.scan)
		api.fn(L, "adv", api.adv)
		api.fn(L, "adv_data", api.advData)
		api.fn(L, "disconnect", api.disconnect)
		api.fn(L, "test", api.test)
		api.fn(L, "tick", api.tick)
		api.fn(L, "run", api.run)
		api.fn(L, "state", api.state)
		api.fn(L, "conns", api.conns)
		api.fn(L, "events", api.events)
		L.SetGlobal("ll")

		if drv != nil {
			L.NewTable()
			api.fn(L, "adv", api.simAdv)
			api.fn(L, "conn_ind", api.simConnInd)
			L.SetGlobal("sim")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return api, nil
}

// raise carries a script-facing error out of an API function.
type raise string

func fail(format string, args ...any) {
	panic(raise(fmt.Sprintf(format, args...)))
}

// fn adds a function to the table on top of the stack. Failures and stack
// asserts become Lua errors.
func (api *API) fn(L *lua.State, name string, impl func(L *lua.State) int) {
	L.PushString(name)
	L.PushGoFunction(func(L *lua.State) int {
		n, msg := api.call(L, name, impl)
		if msg != "" {
			L.RaiseError(msg)
		}
		return n
	})
	L.SetTable(-3)
}

func (api *API) call(L *lua.State, name string, impl func(L *lua.State) int) (n int, msg string) {
	defer func() {
		switch r := recover().(type) {
		case nil:
		case raise:
			msg = string(r)
		default:
			api.log.WithFields(logrus.Fields{"fn": name, "panic": r}).Error("Script call panicked")
			msg = fmt.Sprintf("%s: %v", name, r)
		}
	}()
	return impl(L), ""
}

func argString(L *lua.State, i int, fn string) string {
	if !L.IsString(i) {
		fail("%s: argument %d must be a string", fn, i)
	}
	return L.ToString(i)
}

func optInt(L *lua.State, i int, def int) int {
	if L.GetTop() < i || L.IsNil(i) {
		return def
	}
	return L.ToInteger(i)
}

func optBool(L *lua.State, i int, def bool) bool {
	if L.GetTop() < i || L.IsNil(i) {
		return def
	}
	return L.ToBoolean(i)
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

// check raises a Lua error for a failed API call.
func check(L *lua.State, fn string, err error) int {
	if err != nil {
		fail("%s: %v", fn, err)
	}
	return 0
}

func (api *API) reset(L *lua.State) int {
	return check(L, "reset", api.stack.Reset())
}

func (api *API) createConn(L *lua.State) int {
	addr := argString(L, 1, "create_conn")
	return check(L, "create_conn", api.stack.CreateConn(ble.NewAddr(addr), ms(optInt(L, 2, 0))))
}

func (api *API) createConnCancel(L *lua.State) int {
	return check(L, "create_conn_cancel", api.stack.CreateConnCancel())
}

func (api *API) scan(L *lua.State) int {
	if !optBool(L, 1, true) {
		return check(L, "scan", api.stack.ScanDisable())
	}
	return check(L, "scan", api.stack.ScanEnable(ms(optInt(L, 2, 0)), optBool(L, 3, false)))
}

func (api *API) adv(L *lua.State) int {
	if !optBool(L, 1, true) {
		return check(L, "adv", api.stack.AdvDisable())
	}
	return check(L, "adv", api.stack.AdvEnable(ms(optInt(L, 2, 0))))
}

func (api *API) advData(L *lua.State) int {
	return check(L, "adv_data", api.stack.SetAdvData([]byte(argString(L, 1, "adv_data"))))
}

func (api *API) disconnect(L *lua.State) int {
	return check(L, "disconnect", api.stack.Disconnect(uint16(optInt(L, 1, 0))))
}

func (api *API) test(L *lua.State) int {
	if !optBool(L, 1, true) {
		return check(L, "test", api.stack.TestEnd())
	}
	return check(L, "test", api.stack.TestStart(ll.TestParams{
		Channel: uint8(optInt(L, 2, 0)),
		PRBS:    optBool(L, 3, false),
		Receive: optBool(L, 4, false),
	}))
}

// tick advances the clock and dispatches everything that became due.
func (api *API) tick(L *lua.State) int {
	api.stack.Tick(uint32(optInt(L, 1, 1)))
	L.PushInteger(int64(api.stack.RunUntilIdle()))
	return 1
}

func (api *API) run(L *lua.State) int {
	L.PushInteger(int64(api.stack.RunUntilIdle()))
	return 1
}

func (api *API) state(L *lua.State) int {
	role := argString(L, 1, "state")
	ctr := api.stack.Controller()
	switch role {
	case "init":
		L.PushString(ctr.Initiator().State().String())
	case "scan":
		L.PushString(ctr.Scanner().State().String())
	case "adv":
		L.PushString(ctr.Advertiser().State().String())
	case "test":
		L.PushBoolean(ctr.Test().Running())
	default:
		fail("state: unknown role %q", role)
	}
	return 1
}

func (api *API) conns(L *lua.State) int {
	L.PushInteger(int64(api.stack.Controller().Conns().Active()))
	return 1
}

func setField(L *lua.State, key string, push func()) {
	L.PushString(key)
	push()
	L.SetTable(-3)
}

// events drains host events into an array of tables.
func (api *API) events(L *lua.State) int {
	L.NewTable()
	for i, ev := range api.stack.DrainEvents() {
		L.PushInteger(int64(i + 1))
		L.NewTable()
		setField(L, "type", func() { L.PushString(ev.Type.String()) })
		setField(L, "status", func() { L.PushInteger(int64(ev.Status)) })
		setField(L, "handle", func() { L.PushInteger(int64(ev.Handle)) })
		setField(L, "role", func() { L.PushString(ev.Role.String()) })
		setField(L, "rssi", func() { L.PushInteger(int64(ev.RSSI)) })
		if !ev.Peer.IsZero() {
			setField(L, "peer", func() { L.PushString(ev.Peer.String()) })
		}
		if ev.Type == ll.EvtTestEnd {
			setField(L, "packets", func() { L.PushInteger(int64(ev.Packets)) })
		}
		L.SetTable(-3)
	}
	return 1
}

func (api *API) simAdv(L *lua.State) int {
	addr, err := radio.ParseAddr(ble.NewAddr(argString(L, 1, "sim.adv")))
	if err != nil {
		fail("%v", err)
	}
	n := api.radio.InjectAdv(sim.Peer{
		Addr:        addr,
		RSSI:        int8(optInt(L, 2, -60)),
		Connectable: optBool(L, 3, true),
	})
	L.PushInteger(int64(n))
	return 1
}

func (api *API) simConnInd(L *lua.State) int {
	addr, err := radio.ParseAddr(ble.NewAddr(argString(L, 1, "sim.conn_ind")))
	if err != nil {
		fail("%v", err)
	}
	L.PushBoolean(api.radio.InjectConnInd(addr))
	return 1
}
