package bb

import (
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// Protocol is the callback set a radio protocol registers with the
// dispatcher.
type Protocol interface {
	Exec(b *Bod)
	Cancel(b *Bod)
	Start()
	Stop()
	LowPower()
}

// ProtocolFuncs adapts plain functions to Protocol. Nil functions are
// skipped.
type ProtocolFuncs struct {
	ExecFn     func(b *Bod)
	CancelFn   func(b *Bod)
	StartFn    func()
	StopFn     func()
	LowPowerFn func()
}

func (p ProtocolFuncs) Exec(b *Bod) {
	wsf.Assert(p.ExecFn != nil, ErrNoExec, "%s", b)
	p.ExecFn(b)
}

func (p ProtocolFuncs) Cancel(b *Bod) {
	if p.CancelFn != nil {
		p.CancelFn(b)
	}
}

func (p ProtocolFuncs) Start() {
	if p.StartFn != nil {
		p.StartFn()
	}
}

func (p ProtocolFuncs) Stop() {
	if p.StopFn != nil {
		p.StopFn()
	}
}

func (p ProtocolFuncs) LowPower() {
	if p.LowPowerFn != nil {
		p.LowPowerFn()
	}
}

// OpFunc executes or cancels one operation type.
type OpFunc func(b *Bod)

type opEntry struct {
	exec   OpFunc
	cancel OpFunc
}

// OpTable is a Protocol that routes each BOD to the callbacks registered for
// its OpType. Executing an unregistered type asserts.
type OpTable struct {
	ProtocolFuncs
	ops map[OpType]opEntry
}

// NewOpTable returns an empty table with protocol-level callbacks from base.
func NewOpTable(base ProtocolFuncs) *OpTable {
	return &OpTable{ProtocolFuncs: base, ops: make(map[OpType]opEntry)}
}

// RegisterOp installs the callbacks for op, replacing any previous ones.
func (t *OpTable) RegisterOp(op OpType, exec, cancel OpFunc) {
	wsf.Assert(exec != nil, ErrNoExec, "op %d", op)
	t.ops[op] = opEntry{exec: exec, cancel: cancel}
}

// HasOp reports whether op is registered.
func (t *OpTable) HasOp(op OpType) bool {
	_, ok := t.ops[op]
	return ok
}

func (t *OpTable) Exec(b *Bod) {
	e, ok := t.ops[b.Op]
	wsf.Assert(ok, ErrUnknownOp, "%s", b)
	e.exec(b)
}

func (t *OpTable) Cancel(b *Bod) {
	if e, ok := t.ops[b.Op]; ok && e.cancel != nil {
		e.cancel(b)
	}
}

// RadioProtocol builds the op table for a radio protocol on drv. BLE runs with
// whitening; the test protocols run without it.
func RadioProtocol(id ProtocolID, drv radio.Driver) *OpTable {
	whitening := id == ProtBLE
	return NewOpTable(ProtocolFuncs{
		StartFn:    func() { drv.SetWhitening(whitening) },
		StopFn:     drv.Quiesce,
		LowPowerFn: drv.Quiesce,
	})
}

// ArmOp returns an OpFunc that arms a radio operation built by build, and
// a cancel OpFunc that aborts it. Arm failures complete the BOD with
// StatusFailed through the dispatcher.
func ArmOp(d *Dispatcher, drv radio.Driver, build func(b *Bod) radio.Operation) (exec, cancel OpFunc) {
	exec = func(b *Bod) {
		op := build(b)
		op.ID = b.Token()
		if err := drv.Arm(op); err != nil {
			d.log.WithError(err).WithField("bod", b.String()).Warn("Radio arm failed")
			d.Complete(b, radio.StatusFailed)
		}
	}
	cancel = func(b *Bod) {
		drv.Abort(b.Token())
	}
	return exec, cancel
}
