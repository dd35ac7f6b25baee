// Package bb is the baseband layer: it owns the radio schedule and routes each
// BOD to the protocol registered for it. Radio interrupts never reach the
// link layer directly; they become scheduler messages handled here.
package bb

import (
	"sync/atomic"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ProtocolState is the lifecycle of a registered protocol.
type ProtocolState uint8

const (
	ProtUnregistered ProtocolState = iota
	ProtIdle
	ProtActive
)

func (s ProtocolState) String() string {
	switch s {
	case ProtIdle:
		return "idle"
	case ProtActive:
		return "active"
	default:
		return "unregistered"
	}
}

// Message events handled by the dispatcher.
const (
	EvtOpDone uint8 = iota + 1
	EvtRx
)

// Options configures a Dispatcher.
type Options struct {
	Task         wsf.TaskID
	MaxExecuting int `default:"4"`
	Logger       *logrus.Logger
}

type protoSlot struct {
	id       ProtocolID
	proto    Protocol
	state    ProtocolState
	lowPower bool
}

// Dispatcher is the baseband context for one stack instance.
type Dispatcher struct {
	sched   *wsf.Scheduler
	handler wsf.HandlerID
	log     *wsf.ThrottledLog

	protos   *orderedmap.OrderedMap[ProtocolID, *protoSlot]
	active   *protoSlot
	schedule *Schedule

	cs        wsf.CriticalSection
	inflight  map[uint16]*Bod
	nextToken uint16

	dropped atomic.Uint64
}

// NewDispatcher registers the baseband handler with sched.
func NewDispatcher(sched *wsf.Scheduler, opts Options) *Dispatcher {
	defaults.SetDefaults(&opts)

	d := &Dispatcher{
		sched:    sched,
		log:      wsf.NewThrottledLog(opts.Logger, "bb"),
		protos:   orderedmap.New[ProtocolID, *protoSlot](),
		schedule: NewSchedule(opts.MaxExecuting),
		inflight: make(map[uint16]*Bod),
	}
	d.handler = sched.SetNextHandler(opts.Task, "bb", d.handle)
	return d
}

// Handler returns the dispatcher's scheduler handler.
func (d *Dispatcher) Handler() wsf.HandlerID { return d.handler }

// AttachRadio routes drv's interrupts into the dispatcher.
func (d *Dispatcher) AttachRadio(drv radio.Driver) {
	drv.SetIRQ(d.OnRadio)
}

// RegisterProtocol installs proto for id. Registering the same tag again
// replaces its callbacks and keeps its state.
func (d *Dispatcher) RegisterProtocol(id ProtocolID, proto Protocol) {
	wsf.Assert(proto != nil, ErrUnknownProtocol, "nil protocol %s", id)

	if slot, ok := d.protos.Get(id); ok {
		slot.proto = proto
		return
	}
	d.protos.Set(id, &protoSlot{id: id, proto: proto, state: ProtIdle})
	d.log.WithField("protocol", id.String()).Debug("Protocol registered")
}

func (d *Dispatcher) slot(id ProtocolID) *protoSlot {
	slot, ok := d.protos.Get(id)
	wsf.Assert(ok, ErrUnknownProtocol, "%s", id)
	return slot
}

// State returns the lifecycle state of id.
func (d *Dispatcher) State(id ProtocolID) ProtocolState {
	if slot, ok := d.protos.Get(id); ok {
		return slot.state
	}
	return ProtUnregistered
}

// ActiveProtocol returns the protocol currently owning the radio.
func (d *Dispatcher) ActiveProtocol() (ProtocolID, bool) {
	if d.active == nil {
		return 0, false
	}
	return d.active.id, true
}

// Registered returns protocol tags in registration order.
func (d *Dispatcher) Registered() []ProtocolID {
	ids := make([]ProtocolID, 0, d.protos.Len())
	for pair := d.protos.Oldest(); pair != nil; pair = pair.Next() {
		ids = append(ids, pair.Key)
	}
	return ids
}

// Start hands the radio to id, stopping whichever protocol held it.
func (d *Dispatcher) Start(id ProtocolID) {
	slot := d.slot(id)
	if d.active == slot {
		return
	}
	if d.active != nil {
		d.Stop(d.active.id)
	}
	slot.state = ProtActive
	slot.lowPower = false
	d.active = slot
	slot.proto.Start()

	d.log.WithField("protocol", id.String()).Debug("Protocol started")
}

// Stop releases the radio from id. Its queued and executing BODs are
// cancelled.
func (d *Dispatcher) Stop(id ProtocolID) {
	slot := d.slot(id)
	if slot.state != ProtActive {
		return
	}
	d.schedule.Each(func(b *Bod) {
		if b.Prot == id {
			d.cancel(slot, b)
		}
	})
	slot.proto.Stop()
	slot.state = ProtIdle
	if d.active == slot {
		d.active = nil
	}
	d.log.WithField("protocol", id.String()).Debug("Protocol stopped")
	d.runNext()
}

// LowPower lets id power down its radio resources.
func (d *Dispatcher) LowPower(id ProtocolID) {
	slot := d.slot(id)
	if slot.lowPower {
		return
	}
	slot.lowPower = true
	slot.proto.LowPower()
}

// LowPowerAll powers down every registered protocol, in registration order,
// when nothing is scheduled. It returns how many protocols entered low power.
func (d *Dispatcher) LowPowerAll() int {
	if d.schedule.Len() > 0 {
		return 0
	}
	n := 0
	for pair := d.protos.Oldest(); pair != nil; pair = pair.Next() {
		if !pair.Value.lowPower {
			d.LowPower(pair.Key)
			n++
		}
	}
	return n
}

func (d *Dispatcher) allocToken(b *Bod) {
	d.cs.Enter()
	defer d.cs.Exit()

	for {
		d.nextToken++
		if d.nextToken == 0 {
			continue
		}
		if _, used := d.inflight[d.nextToken]; !used {
			break
		}
	}
	b.token = d.nextToken
	d.inflight[b.token] = b
}

func (d *Dispatcher) releaseToken(b *Bod) {
	d.cs.Enter()
	delete(d.inflight, b.token)
	d.cs.Exit()
}

func (d *Dispatcher) lookup(token uint16) *Bod {
	d.cs.Enter()
	defer d.cs.Exit()
	return d.inflight[token]
}

// ExecuteOperation schedules b on its protocol, starting the protocol if
// another one holds the radio. An unregistered protocol or a BOD that is
// already active asserts.
func (d *Dispatcher) ExecuteOperation(b *Bod) {
	slot := d.slot(b.Prot)
	wsf.Assert(!b.Active(), ErrBodActive, "%s", b)

	if d.active != slot {
		d.Start(b.Prot)
	}
	slot.lowPower = false

	b.Status = radio.StatusSuccess
	b.Result = radio.Result{}
	d.allocToken(b)

	if !d.schedule.Insert(b) {
		b.state = BodQueued
		d.log.WithField("bod", b.String()).Debug("BOD queued")
		return
	}
	d.exec(slot, b)
}

func (d *Dispatcher) exec(slot *protoSlot, b *Bod) {
	b.state = BodExecuting
	d.log.WithField("bod", b.String()).Debug("BOD executing")
	slot.proto.Exec(b)
}

func (d *Dispatcher) runNext() {
	for b := d.schedule.Next(); b != nil; b = d.schedule.Next() {
		d.exec(d.slot(b.Prot), b)
	}
}

func (d *Dispatcher) finish(b *Bod, state BodState) {
	d.schedule.Remove(b)
	d.releaseToken(b)
	b.state = state
}

// CancelOperation cancels a queued or executing BOD. The protocol's cancel
// callback runs once and the BOD's completion callback never runs. Cancelling
// an idle, completed or cancelled BOD does nothing and returns false.
func (d *Dispatcher) CancelOperation(b *Bod) bool {
	if !b.Active() {
		return false
	}
	d.cancel(d.slot(b.Prot), b)
	d.runNext()
	return true
}

// cancel ends b without promoting queued BODs.
func (d *Dispatcher) cancel(slot *protoSlot, b *Bod) {
	slot.proto.Cancel(b)
	d.finish(b, BodCancelled)
	d.log.WithField("bod", b.String()).Debug("BOD cancelled")
}

// Complete reports that the radio ended b with status. It is safe from
// interrupt context.
func (d *Dispatcher) Complete(b *Bod, status radio.Status) {
	d.post(b.token, EvtOpDone, radio.Result{
		ID:     b.Token(),
		Status: status,
		Final:  true,
	})
}

// OnRadio is the radio interrupt handler.
func (d *Dispatcher) OnRadio(res radio.Result) {
	event := EvtRx
	if res.Final {
		event = EvtOpDone
	}
	d.post(uint16(res.ID), event, res)
}

func (d *Dispatcher) post(token uint16, event uint8, res radio.Result) {
	if d.lookup(token) == nil {
		return
	}

	msg := d.sched.AllocMsg(res.EncodedLen())
	if msg == nil {
		if event == EvtRx {
			d.dropped.Add(1)
			d.log.Throttled("rx-drop", logrus.Fields{"op": token}, "Radio result dropped, pool exhausted")
			return
		}
		// A completion must not be lost; deliver it without the result body.
		msg = d.sched.AllocMsg(0)
	} else if _, err := res.Encode(msg.Payload); err != nil {
		d.sched.FreeMsg(msg)
		d.log.WithError(err).Error("Radio result encode failed")
		return
	}

	msg.Hdr = wsf.MsgHdr{Param: token, Event: event, Status: uint8(res.Status)}
	if err := d.sched.PostMessage(d.handler, msg); err != nil {
		d.sched.FreeMsg(msg)
		d.log.Throttled("post", logrus.Fields{"op": token, "event": event}, "Radio result lost: %v", err)
	}
}

func (d *Dispatcher) handle(_ wsf.EventMask, msg *wsf.Msg) {
	if msg == nil {
		return
	}
	b := d.lookup(msg.Hdr.Param)
	if b == nil || b.state != BodExecuting {
		d.log.WithField("op", msg.Hdr.Param).Debug("Stale radio result ignored")
		return
	}

	var res radio.Result
	if msg.Payload != nil {
		var err error
		if res, err = radio.DecodeResult(msg.Payload); err != nil {
			d.log.WithError(err).Error("Radio result decode failed")
			return
		}
	}
	res.Status = radio.Status(msg.Hdr.Status)

	switch msg.Hdr.Event {
	case EvtRx:
		if b.OnRx != nil {
			b.OnRx(b, res)
		}
	case EvtOpDone:
		b.Status = res.Status
		b.Result = res
		d.finish(b, BodCompleted)
		d.log.WithFields(logrus.Fields{
			"bod":    b.String(),
			"status": b.Status.String(),
		}).Debug("BOD completed")
		if b.OnComplete != nil {
			b.OnComplete(b)
		}
		d.runNext()
	default:
		wsf.Assert(false, ErrUnknownOp, "unexpected event %d", msg.Hdr.Event)
	}
}

// Executing returns the number of BODs on the radio.
func (d *Dispatcher) Executing() int { return d.schedule.Executing() }

// Queued returns the number of BODs waiting for the radio.
func (d *Dispatcher) Queued() int { return d.schedule.Queued() }

// Dropped returns intermediate radio results lost to pool exhaustion.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }
