package lctr

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// TestMode runs the direct test mode and PRBS15 radio tests. A test owns the
// radio exclusively and is refused while any other role is active.
type TestMode struct {
	ctr     *Controller
	running atomic.Bool
	params  TestParams
	bod     bb.Bod
	wdog    wsf.Timer
	packets atomic.Uint32
}

// Init registers the test dispatcher.
func (t *TestMode) Init() {
	t.ctr.RegisterDispatcher(DispTest, t.dispatch)
	t.ctr.timer(&t.wdog, DispTest, TestMsgWatchdog, 0)
	t.bod = bb.Bod{
		Param:      &t.params,
		Owner:      t,
		OnComplete: t.onComplete,
	}
}

// Running reports whether a test is in progress.
func (t *TestMode) Running() bool { return t.running.Load() }

// Packets returns the packets counted by the current or last test.
func (t *TestMode) Packets() uint32 { return t.packets.Load() }

func (t *TestMode) dispatch(msg *wsf.Msg) {
	switch msgID(msg) {
	case MsgReset:
		t.reset()
	case TestMsgStart:
		var p TestParams
		if t.ctr.decode(msg, &p) {
			t.start(p)
		}
	case TestMsgEnd:
		t.end()
	case TestMsgWatchdog:
		t.watchdog()
	}
}

func (t *TestMode) start(p TestParams) {
	if t.ctr.Busy() {
		t.ctr.reject(TestMsgStart, StatusCommandDisallowed)
		return
	}
	if p.PRBS && p.Receive {
		t.ctr.reject(TestMsgStart, StatusInvalidParams)
		return
	}
	t.params = p
	switch {
	case p.PRBS:
		t.bod.Prot, t.bod.Op = bb.ProtPRBS15, OpTestTx
	case p.Receive:
		t.bod.Prot, t.bod.Op = bb.ProtBLEDTM, OpTestRx
	default:
		t.bod.Prot, t.bod.Op = bb.ProtBLEDTM, OpTestTx
	}

	t.packets.Store(0)
	t.running.Store(true)
	t.ctr.log.WithFields(logrus.Fields{
		"protocol": t.bod.Prot.String(),
		"channel":  p.Channel,
	}).Info("Radio test started")
	t.ctr.execute(&t.bod, &t.wdog)
}

func (t *TestMode) end() {
	if !t.Running() {
		t.ctr.reject(TestMsgEnd, StatusCommandDisallowed)
		return
	}
	t.halt()
	t.ctr.emit(Event{Type: EvtTestEnd, Status: StatusSuccess, Packets: t.packets.Load()})
}

func (t *TestMode) halt() {
	t.ctr.disp.CancelOperation(&t.bod)
	t.ctr.timers.Stop(&t.wdog)
	t.running.Store(false)
}

// watchdog ends a test whose radio stopped reporting.
func (t *TestMode) watchdog() {
	if !t.Running() {
		return
	}
	t.ctr.log.Throttled("test-watchdog", logrus.Fields{"bod": t.bod.String()}, "Test BOD never ended")
	t.halt()
	t.ctr.emit(Event{Type: EvtTestEnd, Status: StatusUnspecified, Packets: t.packets.Load()})
}

// onComplete counts one packet per radio operation and re-arms.
func (t *TestMode) onComplete(b *bb.Bod) {
	if !t.Running() {
		return
	}
	if b.Status != radio.StatusSuccess {
		if !t.params.Receive {
			t.ctr.log.Throttled("test-failed", logrus.Fields{"status": b.Status.String()}, "Test transmit failed")
			t.ctr.timers.Stop(&t.wdog)
			t.running.Store(false)
			t.ctr.emit(Event{Type: EvtTestEnd, Status: StatusUnspecified, Packets: t.packets.Load()})
			return
		}
	} else {
		t.packets.Add(1)
	}
	t.ctr.execute(&t.bod, &t.wdog)
}

func (t *TestMode) reset() {
	t.halt()
	t.packets.Store(0)
}
