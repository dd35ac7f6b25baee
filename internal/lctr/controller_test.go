package lctr_test

import (
	"strings"
	"testing"

	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/lctr"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/internal/wsf"
	"github.com/stretchr/testify/suite"
)

var (
	peerA   = radio.MustParseAddr("11:22:33:44:55:66")
	peerB   = radio.MustParseAddr("aa:bb:cc:dd:ee:ff")
	central = radio.MustParseAddr("c0:ff:ee:00:00:01")
)

type ControllerTestSuite struct {
	suite.Suite
	sched  *wsf.Scheduler
	disp   *bb.Dispatcher
	radio  *sim.Radio
	ctr    *lctr.Controller
	events []lctr.Event
}

func (s *ControllerTestSuite) SetupTest() {
	var err error
	s.sched, err = wsf.NewScheduler(wsf.Options{})
	s.Require().NoError(err)

	s.disp = bb.NewDispatcher(s.sched, bb.Options{})
	s.radio = sim.New(sim.Options{})
	s.disp.AttachRadio(s.radio)

	s.events = nil
	s.ctr = lctr.New(s.sched, s.disp, s.radio, lctr.Options{
		MaxConn: 2,
		Sink:    func(ev lctr.Event) { s.events = append(s.events, ev) },
	})
}

func (s *ControllerTestSuite) post(disp lctr.DispatchID, id lctr.MsgID, inst uint8, body lctr.Body) {
	s.Require().NoError(s.ctr.Post(disp, id, inst, body))
	s.run()
}

func (s *ControllerTestSuite) run() {
	for s.sched.RunOnce() > 0 {
	}
}

func (s *ControllerTestSuite) tick(n wsf.Ticks) {
	s.sched.Tick(n)
	s.run()
}

func (s *ControllerTestSuite) types() []lctr.EventType {
	out := make([]lctr.EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func (s *ControllerTestSuite) count(prefix string) int {
	n := 0
	for _, c := range s.radio.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (s *ControllerTestSuite) createConn(peer radio.Addr) {
	s.post(lctr.DispInit, lctr.InitMsgInitiate, 0, &lctr.CreateConnParams{Peer: peer})
}

func (s *ControllerTestSuite) TestInitiateCancelIsIdempotent() {
	// GOAL: cancel while idle changes nothing; cancel while initiating
	// cancels the BOD exactly once and reports the failure exactly once
	s.post(lctr.DispInit, lctr.InitMsgInitiateCancel, 0, nil)
	s.Empty(s.events, "cancel while idle MUST NOT emit events")
	s.Zero(s.count("abort"), "cancel while idle MUST NOT touch the radio")
	s.Equal(lctr.InitIdle, s.ctr.Initiator().State())

	s.createConn(peerA)
	s.Equal(lctr.InitInitiating, s.ctr.Initiator().State())
	s.Equal(bb.BodExecuting, s.ctr.Initiator().Bod().State())
	s.Equal(1, s.sched.Timers().Len(), "initiation MUST run its timeout timer")

	s.post(lctr.DispInit, lctr.InitMsgInitiateCancel, 0, nil)
	s.post(lctr.DispInit, lctr.InitMsgInitiateCancel, 0, nil)

	s.Equal(1, s.count("abort"), "radio abort MUST happen exactly once")
	s.Equal(bb.BodCancelled, s.ctr.Initiator().Bod().State())
	s.Equal(lctr.InitIdle, s.ctr.Initiator().State())
	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtInitiateFailed, s.events[0].Type)
	s.Equal(lctr.StatusUnknownConnID, s.events[0].Status)
	s.Zero(s.sched.Timers().Len(), "initiation timer MUST be stopped")
}

func (s *ControllerTestSuite) TestInitiateConnects() {
	s.createConn(peerA)
	s.radio.InjectAdv(sim.Peer{Addr: peerB, Connectable: true})
	s.run()
	s.Empty(s.events, "an advertiser other than the target MUST be ignored")

	s.radio.InjectAdv(sim.Peer{Addr: peerA, RSSI: -50, Connectable: true})
	s.run()

	s.Require().Len(s.events, 1)
	ev := s.events[0]
	s.Equal(lctr.EvtConnComplete, ev.Type)
	s.Equal(lctr.StatusSuccess, ev.Status)
	s.Equal(lctr.RoleCentral, ev.Role)
	s.Equal(peerA, ev.Peer)
	s.Equal(int8(-50), ev.RSSI)

	s.Equal(lctr.InitConnected, s.ctr.Initiator().State())
	s.Equal(ev.Handle, s.ctr.Initiator().LastHandle())
	s.Equal(1, s.ctr.Conns().Active())
	_, armed := s.radio.ArmedKind(radio.KindConnEvent)
	s.True(armed, "an established connection MUST keep a connection BOD armed")
}

func (s *ControllerTestSuite) TestInitiateTimeout() {
	s.createConn(peerA)
	s.tick(999)
	s.Empty(s.events)

	s.tick(1)
	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtInitiateFailed, s.events[0].Type)
	s.Equal(lctr.StatusConnTimeout, s.events[0].Status)
	s.Equal(1, s.count("abort"))
	s.Equal(lctr.InitIdle, s.ctr.Initiator().State())
}

func (s *ControllerTestSuite) TestInitiateRejectedWhileInitiating() {
	s.createConn(peerA)
	s.createConn(peerB)

	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtCommandStatus, s.events[0].Type)
	s.Equal(lctr.InitMsgInitiate, s.events[0].Command)
	s.Equal(lctr.StatusCommandDisallowed, s.events[0].Status)
}

func (s *ControllerTestSuite) TestSetScanPhy() {
	s.post(lctr.DispInit, lctr.InitMsgSetScanPhy, 0, &lctr.PhyParams{Phy: lctr.PhyCoded})
	s.Equal(lctr.PhyCoded, s.ctr.Initiator().Params().ScanPhy)
	s.Empty(s.events)

	s.post(lctr.DispInit, lctr.InitMsgSetScanPhy, 0, &lctr.PhyParams{Phy: 2})
	s.Require().Len(s.events, 1)
	s.Equal(lctr.StatusInvalidParams, s.events[0].Status)

	s.createConn(peerA)
	s.post(lctr.DispInit, lctr.InitMsgSetScanPhy, 0, &lctr.PhyParams{Phy: lctr.Phy1M})
	s.Require().Len(s.events, 2)
	s.Equal(lctr.StatusCommandDisallowed, s.events[1].Status)
	s.Equal(lctr.PhyCoded, s.ctr.Initiator().Params().ScanPhy, "rejected change MUST NOT apply")
}

func (s *ControllerTestSuite) TestMalformedParamsRejected() {
	s.Require().NoError(s.ctr.Post(lctr.DispScan, lctr.ScanMsgSetParams, 0, nil))
	s.run()

	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtCommandStatus, s.events[0].Type)
	s.Equal(lctr.StatusInvalidParams, s.events[0].Status)
}

func (s *ControllerTestSuite) TestScanDuplicateFilter() {
	s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{FilterDuplicates: true})
	s.Equal(lctr.ScanScanning, s.ctr.Scanner().State())

	s.radio.InjectAdv(sim.Peer{Addr: peerA, RSSI: -40, Data: []byte{0x02, 0x01, 0x06}})
	s.radio.InjectAdv(sim.Peer{Addr: peerA, RSSI: -41})
	s.radio.InjectAdv(sim.Peer{Addr: peerB, RSSI: -70})
	s.run()

	s.Equal([]lctr.EventType{lctr.EvtAdvReport, lctr.EvtAdvReport}, s.types())
	s.Equal(peerA, s.events[0].Peer)
	s.Equal([]byte{0x02, 0x01, 0x06}, s.events[0].Data)
	s.Equal(peerB, s.events[1].Peer)

	delivered, filtered := s.ctr.Scanner().Reports()
	s.Equal(uint64(2), delivered)
	s.Equal(uint64(1), filtered)
	s.Equal(2, s.ctr.Scanner().Seen())
}

func (s *ControllerTestSuite) TestScanRearmsAndTimesOut() {
	s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{DurationMs: 1000})
	op, ok := s.radio.ArmedKind(radio.KindScan)
	s.Require().True(ok)

	s.radio.Fire(op.ID, radio.StatusTimeout)
	s.run()
	_, ok = s.radio.ArmedKind(radio.KindScan)
	s.True(ok, "end of a scan window MUST re-arm the scan")

	s.post(lctr.DispScan, lctr.ScanMsgSetParams, 0, &lctr.ScanParams{IntervalMs: 200, WindowMs: 100})
	s.Require().Len(s.events, 1)
	s.Equal(lctr.StatusCommandDisallowed, s.events[0].Status)

	s.tick(100)
	s.Require().Len(s.events, 2)
	s.Equal(lctr.EvtScanTimeout, s.events[1].Type)
	s.Equal(lctr.ScanIdle, s.ctr.Scanner().State())
	_, ok = s.radio.ArmedKind(radio.KindScan)
	s.False(ok)

	s.post(lctr.DispScan, lctr.ScanMsgSetParams, 0, &lctr.ScanParams{IntervalMs: 200, WindowMs: 100})
	s.Equal(uint16(200), s.ctr.Scanner().Params().IntervalMs)
}

func (s *ControllerTestSuite) TestAdvertiserAcceptsConnection() {
	data := lctr.AdvData{0x02, 0x01, 0x06}
	s.post(lctr.DispAdv, lctr.AdvMsgSetData, 0, &data)
	s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{})
	s.Equal(lctr.AdvAdvertising, s.ctr.Advertiser().State())

	op, ok := s.radio.ArmedKind(radio.KindAdv)
	s.Require().True(ok)
	s.Equal([]byte(data), op.Data)

	s.True(s.radio.InjectConnInd(central))
	s.run()

	s.Equal([]lctr.EventType{lctr.EvtAdvTerminated, lctr.EvtConnComplete}, s.types())
	s.Equal(lctr.StatusSuccess, s.events[0].Status)
	s.Equal(lctr.RolePeripheral, s.events[1].Role)
	s.Equal(central, s.events[1].Peer)
	s.Equal(lctr.AdvIdle, s.ctr.Advertiser().State())

	conn := s.ctr.Conns().Get(s.events[1].Handle)
	s.Require().NotNil(conn)
	s.Equal(lctr.ConnEstablished, conn.State())
}

func (s *ControllerTestSuite) TestAdvertiserDuration() {
	s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{DurationMs: 50})
	s.post(lctr.DispAdv, lctr.AdvMsgSetParams, 0, &lctr.AdvParams{IntervalMs: 20, ChannelMap: 1})
	s.Require().Len(s.events, 1)
	s.Equal(lctr.AdvMsgSetParams, s.events[0].Command)

	s.tick(5)
	s.Require().Len(s.events, 2)
	s.Equal(lctr.EvtAdvTerminated, s.events[1].Type)
	s.Equal(lctr.StatusAdvTimeout, s.events[1].Status)
	s.Equal(1, s.count("abort"))

	s.post(lctr.DispAdv, lctr.AdvMsgDisable, 0, nil)
	s.Len(s.events, 2, "disable while idle MUST be a no-op")
}

func (s *ControllerTestSuite) TestSupervisionTimeout() {
	s.createConn(peerA)
	s.radio.InjectAdv(sim.Peer{Addr: peerA, Connectable: true})
	s.run()
	handle := s.events[0].Handle
	op, ok := s.radio.ArmedKind(radio.KindConnEvent)
	s.Require().True(ok)

	s.tick(300)
	s.True(s.radio.InjectConnRx(op.ID, []byte{0x01}))
	s.run()
	s.tick(300)
	s.Len(s.events, 1, "received packets MUST restart supervision")
	s.Equal(uint64(1), s.ctr.Conns().Get(handle).EventCounter())

	s.tick(100)
	s.Require().Len(s.events, 2)
	s.Equal(lctr.EvtDisconnectComplete, s.events[1].Type)
	s.Equal(lctr.StatusConnTimeout, s.events[1].Status)
	s.Equal(handle, s.events[1].Handle)
	s.Zero(s.ctr.Conns().Active())
}

func (s *ControllerTestSuite) TestDisconnect() {
	s.post(lctr.DispConn, lctr.ConnMsgDisconnect, 0, &lctr.DisconnectParams{Handle: 1, Reason: lctr.StatusRemoteUserTerminated})
	s.Require().Len(s.events, 1)
	s.Equal(lctr.StatusUnknownConnID, s.events[0].Status)

	s.createConn(peerA)
	s.radio.InjectAdv(sim.Peer{Addr: peerA, Connectable: true})
	s.run()
	handle := s.events[1].Handle

	s.post(lctr.DispConn, lctr.ConnMsgDisconnect, 0, &lctr.DisconnectParams{Handle: handle, Reason: lctr.StatusRemoteUserTerminated})
	s.Equal(lctr.ConnTerminating, s.ctr.Conns().Get(handle).State())

	s.tick(3)
	s.Require().Len(s.events, 3)
	s.Equal(lctr.EvtDisconnectComplete, s.events[2].Type)
	s.Equal(lctr.StatusLocalHostTerminated, s.events[2].Status)
	s.Nil(s.ctr.Conns().Get(handle))
	_, ok := s.radio.ArmedKind(radio.KindConnEvent)
	s.False(ok)
}

func (s *ControllerTestSuite) TestRemoteTermination() {
	s.createConn(peerA)
	s.radio.InjectAdv(sim.Peer{Addr: peerA, Connectable: true})
	s.run()
	op, _ := s.radio.ArmedKind(radio.KindConnEvent)

	s.radio.Fire(op.ID, radio.StatusSuccess)
	s.run()

	s.Require().Len(s.events, 2)
	s.Equal(lctr.EvtDisconnectComplete, s.events[1].Type)
	s.Equal(lctr.StatusRemoteUserTerminated, s.events[1].Status)
}

func (s *ControllerTestSuite) TestConnTableFull() {
	for _, peer := range []radio.Addr{peerA, peerB} {
		s.createConn(peer)
		s.radio.InjectAdv(sim.Peer{Addr: peer, Connectable: true})
		s.run()
	}
	s.Equal(2, s.ctr.Conns().Active())
	s.Zero(s.ctr.Conns().Free())

	s.createConn(central)
	s.Equal(lctr.EvtCommandStatus, s.events[len(s.events)-1].Type)
	s.Equal(lctr.StatusMemCapExceeded, s.events[len(s.events)-1].Status)
}

func (s *ControllerTestSuite) TestResetRestoresEverything() {
	// GOAL: reset cancels every BOD, stops every timer and restores defaults
	// without emitting host events
	s.post(lctr.DispScan, lctr.ScanMsgSetParams, 0, &lctr.ScanParams{Active: true, IntervalMs: 300, WindowMs: 30})
	s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{DurationMs: 5000})
	s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{DurationMs: 5000})
	s.createConn(peerA)
	s.Require().Empty(s.events)
	s.NotZero(s.sched.Timers().Len())

	s.post(lctr.DispBroadcast, lctr.MsgReset, 0, nil)

	s.Empty(s.events, "reset MUST NOT emit host events")
	s.Zero(s.sched.Timers().Len(), "reset MUST stop every timer")
	s.Zero(s.disp.Executing())
	s.Zero(s.disp.Queued())
	s.Empty(s.radio.Armed())
	s.Equal(lctr.InitIdle, s.ctr.Initiator().State())
	s.Equal(lctr.ScanIdle, s.ctr.Scanner().State())
	s.Equal(lctr.AdvIdle, s.ctr.Advertiser().State())
	s.Equal(uint16(100), s.ctr.Scanner().Params().IntervalMs)
	s.False(s.ctr.Scanner().Params().Active)
	s.False(s.ctr.Busy())
}

func (s *ControllerTestSuite) TestRadioTestMode() {
	s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{})
	s.post(lctr.DispTest, lctr.TestMsgStart, 0, &lctr.TestParams{Channel: 19})
	s.Require().Len(s.events, 1)
	s.Equal(lctr.StatusCommandDisallowed, s.events[0].Status, "test MUST be refused while a role is active")

	s.post(lctr.DispScan, lctr.ScanMsgDisable, 0, nil)
	s.post(lctr.DispTest, lctr.TestMsgStart, 0, &lctr.TestParams{Channel: 19})
	s.True(s.ctr.Test().Running())
	active, _ := s.disp.ActiveProtocol()
	s.Equal(bb.ProtBLEDTM, active)
	s.False(s.radio.Whitening())

	for range 3 {
		op, ok := s.radio.ArmedKind(radio.KindDTMTx)
		s.Require().True(ok)
		s.Equal(uint8(19), op.Channel)
		s.radio.Fire(op.ID, radio.StatusSuccess)
		s.run()
	}

	s.post(lctr.DispTest, lctr.TestMsgEnd, 0, nil)
	s.False(s.ctr.Test().Running())
	last := s.events[len(s.events)-1]
	s.Equal(lctr.EvtTestEnd, last.Type)
	s.Equal(uint32(3), last.Packets)

	s.post(lctr.DispTest, lctr.TestMsgEnd, 0, nil)
	s.Equal(lctr.StatusCommandDisallowed, s.events[len(s.events)-1].Status)
}

func (s *ControllerTestSuite) TestPRBSUsesOwnProtocol() {
	s.post(lctr.DispTest, lctr.TestMsgStart, 0, &lctr.TestParams{PRBS: true, Channel: 0})
	active, _ := s.disp.ActiveProtocol()
	s.Equal(bb.ProtPRBS15, active)
	_, ok := s.radio.ArmedKind(radio.KindPRBS)
	s.True(ok)
}

func (s *ControllerTestSuite) TestRolesRefusedDuringRadioTest() {
	// GOAL: while a radio test owns the radio, scan, advertising and
	// initiation are refused and the test keeps its DTM operation armed
	s.post(lctr.DispTest, lctr.TestMsgStart, 0, &lctr.TestParams{Channel: 5})
	s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{})
	s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{})
	s.createConn(peerA)

	s.Require().Len(s.events, 3)
	for i, id := range []lctr.MsgID{lctr.ScanMsgEnable, lctr.AdvMsgEnable, lctr.InitMsgInitiate} {
		s.Equal(lctr.EvtCommandStatus, s.events[i].Type)
		s.Equal(id, s.events[i].Command)
		s.Equal(lctr.StatusCommandDisallowed, s.events[i].Status)
	}
	s.Equal(lctr.ScanIdle, s.ctr.Scanner().State())
	s.Equal(lctr.AdvIdle, s.ctr.Advertiser().State())
	s.Equal(lctr.InitIdle, s.ctr.Initiator().State())

	s.True(s.ctr.Test().Running())
	active, _ := s.disp.ActiveProtocol()
	s.Equal(bb.ProtBLEDTM, active)
	s.Require().Len(s.radio.Armed(), 1)
	op, ok := s.radio.ArmedKind(radio.KindDTMTx)
	s.Require().True(ok, "test still running MUST keep its DTM op armed")
	s.Equal(uint8(5), op.Channel)

	s.radio.Fire(op.ID, radio.StatusSuccess)
	s.run()
	s.Equal(uint32(1), s.ctr.Test().Packets())
}

func (s *ControllerTestSuite) TestScanWatchdog() {
	// GOAL: a scan whose radio never ends a window returns to idle after the
	// BOD timeout; each completed window restarts the bound
	s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{})
	s.tick(400)
	op, ok := s.radio.ArmedKind(radio.KindScan)
	s.Require().True(ok)
	s.radio.Fire(op.ID, radio.StatusTimeout)
	s.run()

	s.tick(499)
	s.Empty(s.events, "a re-armed scan MUST get a fresh bound")
	s.Equal(lctr.ScanScanning, s.ctr.Scanner().State())

	s.tick(1)
	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtScanTimeout, s.events[0].Type)
	s.Equal(lctr.StatusUnspecified, s.events[0].Status)
	s.Equal(lctr.ScanIdle, s.ctr.Scanner().State())
	s.Empty(s.radio.Armed())
	s.Zero(s.sched.Timers().Len())
	s.Zero(s.disp.Executing())
}

func (s *ControllerTestSuite) TestAdvertiserWatchdog() {
	s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{})
	op, ok := s.radio.ArmedKind(radio.KindAdv)
	s.Require().True(ok)

	s.radio.Fire(op.ID, radio.StatusTimeout)
	s.run()
	s.Empty(s.events, "an advertising event without a connection MUST continue advertising")
	s.Equal(lctr.AdvAdvertising, s.ctr.Advertiser().State())
	_, ok = s.radio.ArmedKind(radio.KindAdv)
	s.True(ok)

	s.tick(500)
	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtAdvTerminated, s.events[0].Type)
	s.Equal(lctr.StatusUnspecified, s.events[0].Status)
	s.Equal(lctr.AdvIdle, s.ctr.Advertiser().State())
	s.Empty(s.radio.Armed())
	s.Zero(s.sched.Timers().Len())
}

func (s *ControllerTestSuite) TestRadioTestWatchdog() {
	s.post(lctr.DispTest, lctr.TestMsgStart, 0, &lctr.TestParams{Channel: 1, Receive: true})
	s.tick(500)

	s.Require().Len(s.events, 1)
	s.Equal(lctr.EvtTestEnd, s.events[0].Type)
	s.Equal(lctr.StatusUnspecified, s.events[0].Status)
	s.False(s.ctr.Test().Running())
	s.Empty(s.radio.Armed())
	s.Zero(s.sched.Timers().Len())
}

// quiet asserts that nothing holds the radio, a timer or a connection.
func (s *ControllerTestSuite) quiet() {
	s.Empty(s.events, "reset MUST NOT emit host events")
	s.Zero(s.ctr.Conns().Active())
	s.False(s.ctr.Test().Running())
	s.Zero(s.sched.Timers().Len(), "reset MUST stop every timer")
	s.Zero(s.disp.Executing())
	s.Zero(s.disp.Queued())
	s.Empty(s.radio.Armed())
	s.Equal(lctr.InitIdle, s.ctr.Initiator().State())
	s.Equal(lctr.ScanIdle, s.ctr.Scanner().State())
	s.Equal(lctr.AdvIdle, s.ctr.Advertiser().State())
	s.False(s.ctr.Busy())
}

func (s *ControllerTestSuite) TestResetFromConnectionsAndRadioTest() {
	// GOAL: reset releases established central and peripheral links and a
	// running radio test. A radio test cannot start while links exist, so
	// the two states are reset one after the other
	s.createConn(peerA)
	s.radio.InjectAdv(sim.Peer{Addr: peerA, Connectable: true})
	s.run()
	s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{})
	s.Require().True(s.radio.InjectConnInd(central))
	s.run()
	s.Require().Equal(2, s.ctr.Conns().Active())
	s.Require().Equal(lctr.InitConnected, s.ctr.Initiator().State())
	s.Require().Equal(2, s.sched.Timers().Len(), "each link MUST run its supervision timer")

	s.events = nil
	s.post(lctr.DispBroadcast, lctr.MsgReset, 0, nil)
	s.quiet()

	s.tick(1000)
	s.Empty(s.events, "released links MUST NOT time out later")

	s.post(lctr.DispTest, lctr.TestMsgStart, 0, &lctr.TestParams{Channel: 3})
	s.Require().True(s.ctr.Test().Running())
	s.Require().Empty(s.events)

	s.post(lctr.DispBroadcast, lctr.MsgReset, 0, nil)
	s.quiet()
	s.Zero(s.ctr.Test().Packets())
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}
