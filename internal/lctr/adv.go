package lctr

import (
	"sync/atomic"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// AdvState is the advertiser's state.
type AdvState uint32

const (
	AdvDisabled AdvState = iota
	AdvIdle
	AdvAdvertising
)

var advStateNames = [...]string{"disabled", "idle", "advertising"}

func (s AdvState) String() string { return advStateNames[s] }

// Advertiser advertises and accepts connections as peripheral. Parameter
// and data changes are rejected with StatusCommandDisallowed while
// advertising.
type Advertiser struct {
	ctr    *Controller
	state  atomic.Uint32
	params AdvParams
	data   AdvData
	bod    bb.Bod
	timer  wsf.Timer
	wdog   wsf.Timer
}

// Init registers the advertiser dispatcher and applies defaults.
func (a *Advertiser) Init() {
	a.ctr.RegisterDispatcher(DispAdv, a.dispatch)
	a.ctr.timer(&a.timer, DispAdv, AdvMsgTimeout, 0)
	a.ctr.timer(&a.wdog, DispAdv, AdvMsgWatchdog, 0)
	a.bod = bb.Bod{
		Prot:       bb.ProtBLE,
		Op:         OpAdv,
		Owner:      a,
		OnComplete: a.onComplete,
	}
	a.Defaults()
	a.setState(AdvIdle)
}

// Defaults resets parameters and clears advertising data.
func (a *Advertiser) Defaults() {
	a.params = AdvParams{}
	defaults.SetDefaults(&a.params)
	a.data = nil
}

// State returns the current state. It is safe from any goroutine.
func (a *Advertiser) State() AdvState { return AdvState(a.state.Load()) }

// Params returns the current parameters.
func (a *Advertiser) Params() AdvParams { return a.params }

// Data returns the advertising payload.
func (a *Advertiser) Data() []byte { return a.data }

func (a *Advertiser) setState(s AdvState) {
	old := AdvState(a.state.Swap(uint32(s)))
	if old != s {
		a.ctr.log.WithFields(logrus.Fields{
			"role": "adv",
			"from": old.String(),
			"to":   s.String(),
		}).Debug("State changed")
	}
}

func (a *Advertiser) dispatch(msg *wsf.Msg) {
	switch msgID(msg) {
	case MsgReset:
		a.reset()
	case AdvMsgEnable:
		var p EnableParams
		if a.ctr.decode(msg, &p) {
			a.start(p)
		}
	case AdvMsgDisable:
		a.stop()
	case AdvMsgSetParams:
		var p AdvParams
		if a.ctr.decode(msg, &p) {
			a.setParams(p)
		}
	case AdvMsgSetData:
		var d AdvData
		if a.ctr.decode(msg, &d) {
			a.setData(d)
		}
	case AdvMsgTimeout:
		a.timeout()
	case AdvMsgWatchdog:
		a.watchdog()
	}
}

func (a *Advertiser) setParams(p AdvParams) {
	if a.State() == AdvAdvertising {
		a.ctr.reject(AdvMsgSetParams, StatusCommandDisallowed)
		return
	}
	if !p.Validate() {
		a.ctr.reject(AdvMsgSetParams, StatusInvalidParams)
		return
	}
	a.params = p
}

func (a *Advertiser) setData(d AdvData) {
	if a.State() == AdvAdvertising {
		a.ctr.reject(AdvMsgSetData, StatusCommandDisallowed)
		return
	}
	a.data = d
}

func (a *Advertiser) start(p EnableParams) {
	if a.State() == AdvAdvertising {
		a.ctr.reject(AdvMsgEnable, StatusCommandDisallowed)
		return
	}
	if a.ctr.testing(AdvMsgEnable) {
		return
	}
	if a.params.Connectable && a.ctr.conns.Free() == 0 {
		a.ctr.reject(AdvMsgEnable, StatusMemCapExceeded)
		return
	}

	a.bod.Param = a.data
	a.setState(AdvAdvertising)
	a.ctr.execute(&a.bod, &a.wdog)
	if p.DurationMs > 0 {
		a.ctr.timers.StartMs(&a.timer, p.DurationMs)
	}
}

func (a *Advertiser) stop() {
	if a.State() != AdvAdvertising {
		return
	}
	a.halt()
}

// halt cancels the advertising BOD and every advertising timer.
func (a *Advertiser) halt() {
	a.ctr.disp.CancelOperation(&a.bod)
	a.ctr.timers.Stop(&a.timer)
	a.ctr.timers.Stop(&a.wdog)
	a.setState(AdvIdle)
}

func (a *Advertiser) timeout() {
	if a.State() != AdvAdvertising {
		return
	}
	a.halt()
	a.ctr.emit(Event{Type: EvtAdvTerminated, Status: StatusAdvTimeout})
}

// watchdog ends advertising whose radio stopped reporting.
func (a *Advertiser) watchdog() {
	if a.State() != AdvAdvertising {
		return
	}
	a.ctr.log.Throttled("adv-watchdog", logrus.Fields{"bod": a.bod.String()}, "Advertising BOD never ended")
	a.halt()
	a.ctr.emit(Event{Type: EvtAdvTerminated, Status: StatusUnspecified})
}

// onComplete handles the end of an advertising event. A connect indication
// ends it with success; an event without one ends with a timeout and
// advertising continues.
func (a *Advertiser) onComplete(b *bb.Bod) {
	if a.State() != AdvAdvertising {
		return
	}
	if b.Status == radio.StatusTimeout || (b.Status == radio.StatusSuccess && !a.params.Connectable) {
		a.ctr.execute(&a.bod, &a.wdog)
		return
	}
	a.ctr.timers.Stop(&a.timer)
	a.ctr.timers.Stop(&a.wdog)
	a.setState(AdvIdle)

	if b.Status != radio.StatusSuccess {
		a.ctr.log.Throttled("adv-failed", logrus.Fields{"status": b.Status.String()}, "Advertising BOD failed")
		a.ctr.emit(Event{Type: EvtAdvTerminated, Status: StatusUnspecified})
		return
	}

	conn := a.ctr.conns.Open(RolePeripheral, b.Result.Peer)
	if conn == nil {
		a.ctr.emit(Event{Type: EvtAdvTerminated, Status: StatusMemCapExceeded})
		return
	}
	a.ctr.emit(Event{Type: EvtAdvTerminated, Status: StatusSuccess, Handle: conn.Handle, Peer: conn.Peer()})
	a.ctr.emit(Event{
		Type:   EvtConnComplete,
		Status: StatusSuccess,
		Handle: conn.Handle,
		Role:   RolePeripheral,
		Peer:   conn.Peer(),
	})
}

func (a *Advertiser) reset() {
	a.halt()
	a.Defaults()
}
