package lctr

import (
	"sync/atomic"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// InitState is the initiator's state.
type InitState uint32

const (
	InitDisabled InitState = iota
	InitIdle
	InitInitiating
	InitConnected
)

var initStateNames = [...]string{"disabled", "idle", "initiating", "connected"}

func (s InitState) String() string { return initStateNames[s] }

// PHYs the initiator can scan on.
const (
	Phy1M    uint8 = 1
	PhyCoded uint8 = 3
)

// InitParams are the initiator's configurable parameters.
type InitParams struct {
	ScanPhy uint8 `json:"scan_phy" yaml:"scan_phy" default:"1"`
}

// Initiator creates connections as central.
//
// Parameter changes are rejected with StatusCommandDisallowed while
// initiating. After a successful initiation the state stays Connected until
// the next CreateConn or reset; the connection itself belongs to the
// connection table.
type Initiator struct {
	ctr    *Controller
	state  atomic.Uint32
	params InitParams
	req    CreateConnParams
	bod    bb.Bod
	timer  wsf.Timer

	lastHandle uint16
}

// Init registers the initiator dispatcher and applies defaults.
func (i *Initiator) Init() {
	i.ctr.RegisterDispatcher(DispInit, i.dispatch)
	i.ctr.timer(&i.timer, DispInit, InitMsgTimeout, 0)
	i.bod = bb.Bod{
		Prot:       bb.ProtBLE,
		Op:         OpInitiate,
		Param:      &i.req,
		Owner:      i,
		OnComplete: i.onComplete,
	}
	i.Defaults()
	i.setState(InitIdle)
}

// Defaults resets parameters.
func (i *Initiator) Defaults() {
	i.params = InitParams{}
	defaults.SetDefaults(&i.params)
}

// State returns the current state. It is safe from any goroutine.
func (i *Initiator) State() InitState { return InitState(i.state.Load()) }

// Params returns the current parameters.
func (i *Initiator) Params() InitParams { return i.params }

// LastHandle returns the handle of the last connection created.
func (i *Initiator) LastHandle() uint16 { return i.lastHandle }

// Bod exposes the initiation BOD for inspection.
func (i *Initiator) Bod() *bb.Bod { return &i.bod }

func (i *Initiator) setState(s InitState) {
	old := InitState(i.state.Swap(uint32(s)))
	if old != s {
		i.ctr.log.WithFields(logrus.Fields{
			"role": "init",
			"from": old.String(),
			"to":   s.String(),
		}).Debug("State changed")
	}
}

func (i *Initiator) dispatch(msg *wsf.Msg) {
	switch msgID(msg) {
	case MsgReset:
		i.reset()
	case InitMsgInitiate:
		var p CreateConnParams
		if i.ctr.decode(msg, &p) {
			i.initiate(p)
		}
	case InitMsgInitiateCancel:
		i.cancel()
	case InitMsgSetScanPhy:
		var p PhyParams
		if i.ctr.decode(msg, &p) {
			i.setScanPhy(p.Phy)
		}
	case InitMsgTimeout:
		i.timeout()
	}
}

func (i *Initiator) initiate(p CreateConnParams) {
	if i.State() == InitInitiating {
		i.ctr.reject(InitMsgInitiate, StatusCommandDisallowed)
		return
	}
	if i.ctr.testing(InitMsgInitiate) {
		return
	}
	if i.ctr.conns.Free() == 0 {
		i.ctr.reject(InitMsgInitiate, StatusMemCapExceeded)
		return
	}

	i.req = p
	timeout := p.TimeoutMs
	if timeout == 0 {
		timeout = i.ctr.opts.InitTimeoutMs
	}

	i.setState(InitInitiating)
	i.ctr.disp.ExecuteOperation(&i.bod)
	i.ctr.timers.StartMs(&i.timer, timeout)
}

// cancel is idempotent: without an active BOD it changes nothing.
func (i *Initiator) cancel() {
	if i.State() != InitInitiating {
		return
	}
	i.ctr.disp.CancelOperation(&i.bod)
	i.ctr.timers.Stop(&i.timer)
	i.setState(InitIdle)
	i.ctr.emit(Event{Type: EvtInitiateFailed, Status: StatusUnknownConnID, Peer: i.req.Peer})
}

func (i *Initiator) timeout() {
	if i.State() != InitInitiating {
		return
	}
	i.ctr.log.Throttled("init-timeout", logrus.Fields{"peer": i.req.Peer.String()}, "Initiation timed out")
	i.ctr.disp.CancelOperation(&i.bod)
	i.setState(InitIdle)
	i.ctr.emit(Event{Type: EvtInitiateFailed, Status: StatusConnTimeout, Peer: i.req.Peer})
}

func (i *Initiator) onComplete(b *bb.Bod) {
	if i.State() != InitInitiating {
		return
	}
	i.ctr.timers.Stop(&i.timer)

	if b.Status != radio.StatusSuccess {
		i.ctr.log.Throttled("init-failed", logrus.Fields{"status": b.Status.String()}, "Initiation BOD failed")
		i.setState(InitIdle)
		i.ctr.emit(Event{Type: EvtInitiateFailed, Status: StatusConnFailedToEstablish, Peer: i.req.Peer})
		return
	}

	conn := i.ctr.conns.Open(RoleCentral, b.Result.Peer)
	if conn == nil {
		i.setState(InitIdle)
		i.ctr.emit(Event{Type: EvtInitiateFailed, Status: StatusMemCapExceeded, Peer: b.Result.Peer})
		return
	}
	i.lastHandle = conn.Handle
	i.setState(InitConnected)
	i.ctr.emit(Event{
		Type:   EvtConnComplete,
		Status: StatusSuccess,
		Handle: conn.Handle,
		Role:   RoleCentral,
		Peer:   conn.Peer(),
		RSSI:   b.Result.RSSI,
	})
}

func (i *Initiator) setScanPhy(phy uint8) {
	if i.State() == InitInitiating {
		i.ctr.reject(InitMsgSetScanPhy, StatusCommandDisallowed)
		return
	}
	if phy != Phy1M && phy != PhyCoded {
		i.ctr.reject(InitMsgSetScanPhy, StatusInvalidParams)
		return
	}
	i.params.ScanPhy = phy
}

func (i *Initiator) reset() {
	i.ctr.disp.CancelOperation(&i.bod)
	i.ctr.timers.Stop(&i.timer)
	i.Defaults()
	i.setState(InitIdle)
}
