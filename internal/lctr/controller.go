// Package lctr implements the link-layer controller roles as state machines
// driven by scheduler messages. API calls, radio completions (delivered by the
// baseband dispatcher) and timer expiries are the only inputs.
package lctr

import (
	"errors"
	"fmt"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// ErrNoMemory is returned when an API message cannot be allocated.
var ErrNoMemory = errors.New("no buffer for api message")

// BLE operation types.
const (
	OpInitiate bb.OpType = iota
	OpScan
	OpAdv
	OpConn
)

// Test-mode operation types, shared by the DTM and PRBS15 protocols.
const (
	OpTestTx bb.OpType = iota
	OpTestRx
)

// Options configures a Controller.
type Options struct {
	Task           wsf.TaskID `default:"1"`
	MaxConn        int        `default:"4"`
	InitTimeoutMs  uint32     `default:"10000"`
	SupervisionMs  uint32     `default:"4000"`
	// BodTimeoutMs bounds how long the radio may hold a scan, advertising or
	// test BOD without ending it.
	BodTimeoutMs   uint32     `default:"5000"`
	TerminateTicks wsf.Ticks  `default:"3"`
	ScanChannel    uint8      `default:"37"`
	Logger         *logrus.Logger
	Sink           EventSink
}

// DispatchFunc handles one message routed to a role.
type DispatchFunc func(msg *wsf.Msg)

// Controller is the link-layer context of one stack instance.
type Controller struct {
	opts    Options
	sched   *wsf.Scheduler
	timers  *wsf.TimerService
	disp    *bb.Dispatcher
	drv     radio.Driver
	handler wsf.HandlerID
	log     *wsf.ThrottledLog

	dispatchers [numDisp]DispatchFunc

	init  *Initiator
	scan  *Scanner
	adv   *Advertiser
	conns *ConnTable
	test  *TestMode
}

// New builds the controller, registers its scheduler handler and the BLE,
// DTM and PRBS15 protocols with disp, and initializes every role.
func New(sched *wsf.Scheduler, disp *bb.Dispatcher, drv radio.Driver, opts Options) *Controller {
	defaults.SetDefaults(&opts)

	c := &Controller{
		opts:   opts,
		sched:  sched,
		timers: sched.Timers(),
		disp:   disp,
		drv:    drv,
		log:    wsf.NewThrottledLog(opts.Logger, "lctr"),
	}
	c.handler = sched.SetNextHandler(opts.Task, "ll", c.handle)

	c.registerProtocols()

	c.conns = newConnTable(c, opts.MaxConn)
	c.init = &Initiator{ctr: c}
	c.scan = &Scanner{ctr: c}
	c.adv = &Advertiser{ctr: c}
	c.test = &TestMode{ctr: c}

	c.conns.Init()
	c.init.Init()
	c.scan.Init()
	c.adv.Init()
	c.test.Init()
	return c
}

func (c *Controller) registerProtocols() {
	ble := bb.RadioProtocol(bb.ProtBLE, c.drv)
	c.registerOp(ble, OpInitiate, func(b *bb.Bod) radio.Operation {
		p := b.Param.(*CreateConnParams)
		return radio.Operation{Kind: radio.KindInitiate, Channel: c.opts.ScanChannel, Peer: p.Peer}
	})
	c.registerOp(ble, OpScan, func(b *bb.Bod) radio.Operation {
		return radio.Operation{Kind: radio.KindScan, Channel: c.opts.ScanChannel}
	})
	c.registerOp(ble, OpAdv, func(b *bb.Bod) radio.Operation {
		data := b.Param.(AdvData)
		return radio.Operation{Kind: radio.KindAdv, Channel: c.opts.ScanChannel, Data: data}
	})
	c.registerOp(ble, OpConn, func(b *bb.Bod) radio.Operation {
		conn := b.Param.(*Conn)
		return radio.Operation{Kind: radio.KindConnEvent, Peer: conn.Peer()}
	})
	c.disp.RegisterProtocol(bb.ProtBLE, ble)

	dtm := bb.RadioProtocol(bb.ProtBLEDTM, c.drv)
	c.registerOp(dtm, OpTestTx, testOp(radio.KindDTMTx))
	c.registerOp(dtm, OpTestRx, testOp(radio.KindDTMRx))
	c.disp.RegisterProtocol(bb.ProtBLEDTM, dtm)

	prbs := bb.RadioProtocol(bb.ProtPRBS15, c.drv)
	c.registerOp(prbs, OpTestTx, testOp(radio.KindPRBS))
	c.disp.RegisterProtocol(bb.ProtPRBS15, prbs)
}

func testOp(kind radio.Kind) func(b *bb.Bod) radio.Operation {
	return func(b *bb.Bod) radio.Operation {
		p := b.Param.(*TestParams)
		return radio.Operation{Kind: kind, Channel: p.Channel}
	}
}

func (c *Controller) registerOp(t *bb.OpTable, op bb.OpType, build func(b *bb.Bod) radio.Operation) {
	exec, cancel := bb.ArmOp(c.disp, c.drv, build)
	t.RegisterOp(op, exec, cancel)
}

// RegisterDispatcher installs fn for disp.
func (c *Controller) RegisterDispatcher(disp DispatchID, fn DispatchFunc) {
	wsf.Assert(disp > DispBroadcast && disp < numDisp, wsf.ErrUnknownHandler, "dispatcher %d", disp)
	c.dispatchers[disp] = fn
}

// Handler returns the controller's scheduler handler.
func (c *Controller) Handler() wsf.HandlerID { return c.handler }

func (c *Controller) Initiator() *Initiator   { return c.init }
func (c *Controller) Scanner() *Scanner       { return c.scan }
func (c *Controller) Advertiser() *Advertiser { return c.adv }
func (c *Controller) Conns() *ConnTable       { return c.conns }
func (c *Controller) Test() *TestMode         { return c.test }

// Dispatcher returns the baseband dispatcher the roles schedule on.
func (c *Controller) Dispatcher() *bb.Dispatcher { return c.disp }

// Post queues an API message for a role. It is safe from any goroutine.
func (c *Controller) Post(disp DispatchID, id MsgID, inst uint8, body Body) error {
	n := 0
	if body != nil {
		n = body.EncodedLen()
	}
	msg := c.sched.AllocMsg(n)
	if msg == nil {
		return fmt.Errorf("%w: %s", ErrNoMemory, id)
	}
	if body != nil {
		body.Encode(msg.Payload)
	}
	msg.Hdr = wsf.MsgHdr{Param: hdrParam(disp, inst), Event: uint8(id)}
	if err := c.sched.PostMessage(c.handler, msg); err != nil {
		c.sched.FreeMsg(msg)
		return fmt.Errorf("post %s: %w", id, err)
	}
	return nil
}

func (c *Controller) handle(_ wsf.EventMask, msg *wsf.Msg) {
	if msg == nil {
		return
	}
	disp := msgDisp(msg)

	c.log.WithFields(logrus.Fields{
		"msg":  msgID(msg).String(),
		"disp": disp,
		"inst": msgInst(msg),
	}).Debug("Message dispatched")

	if disp == DispBroadcast {
		for _, fn := range c.dispatchers {
			if fn != nil {
				fn(msg)
			}
		}
		return
	}
	wsf.Assert(disp < numDisp && c.dispatchers[disp] != nil, wsf.ErrUnknownHandler, "dispatcher %d", disp)
	c.dispatchers[disp](msg)
}

// timer prepares t to post id to disp when it expires.
func (c *Controller) timer(t *wsf.Timer, disp DispatchID, id MsgID, inst uint8) {
	t.Handler = c.handler
	t.Msg = wsf.MsgHdr{Param: hdrParam(disp, inst), Event: uint8(id)}
}

func (c *Controller) emit(ev Event) {
	c.log.WithField("event", ev.String()).Debug("Host event")
	if c.opts.Sink != nil {
		c.opts.Sink(ev)
	}
}

func (c *Controller) reject(id MsgID, status Status) {
	c.log.WithFields(logrus.Fields{
		"msg":    id.String(),
		"status": status.String(),
	}).Debug("Command rejected")
	c.emit(Event{Type: EvtCommandStatus, Command: id, Status: status})
}

// decode fills body from msg, rejecting the command on malformed input.
func (c *Controller) decode(msg *wsf.Msg, body Decoder) bool {
	if err := body.Decode(msg.Payload); err != nil {
		c.log.WithError(err).WithField("msg", msgID(msg).String()).Warn("Bad command parameters")
		c.reject(msgID(msg), StatusInvalidParams)
		return false
	}
	return true
}

// execute schedules b and restarts wdog, the worst-case bound on the radio
// ending b.
func (c *Controller) execute(b *bb.Bod, wdog *wsf.Timer) {
	c.disp.ExecuteOperation(b)
	c.timers.StartMs(wdog, c.opts.BodTimeoutMs)
}

// testing rejects id while a radio test owns the radio.
func (c *Controller) testing(id MsgID) bool {
	if !c.test.Running() {
		return false
	}
	c.reject(id, StatusCommandDisallowed)
	return true
}

// Busy reports whether any role holds the radio.
func (c *Controller) Busy() bool {
	return c.init.State() == InitInitiating ||
		c.scan.State() == ScanScanning ||
		c.adv.State() == AdvAdvertising ||
		c.conns.Active() > 0 ||
		c.test.Running()
}
