package ll_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/lctr"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/radio/sim"
	"github.com/srg/blectl/pkg/config"
	"github.com/srg/blectl/pkg/ll"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	testPeer    = "11:22:33:44:55:66"
	testCentral = "c0:ff:ee:00:00:01"
)

type StackTestSuite struct {
	suite.Suite
	cfg   *config.Config
	radio *sim.Radio
	stack *ll.Stack
}

func (s *StackTestSuite) SetupTest() {
	s.cfg = config.DefaultConfig()
	s.cfg.MaxConn = 2

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s.radio = sim.New(sim.Options{Logger: logger})
	var err error
	s.stack, err = ll.New(s.cfg, logger, s.radio)
	s.Require().NoError(err)
}

func (s *StackTestSuite) TestRejectsInvalidConfig() {
	cfg := config.DefaultConfig()
	cfg.MaxConn = 0
	_, err := ll.New(cfg, nil, s.radio)
	s.ErrorIs(err, config.ErrInvalidConfig)
}

func (s *StackTestSuite) TestCallsOnlyPostMessages() {
	// GOAL: API calls never touch role state; the scheduler pass does
	s.Require().NoError(s.stack.ScanEnable(0, true))
	s.Equal(lctr.ScanIdle, s.stack.Controller().Scanner().State(), "state MUST NOT change before a pass")

	s.stack.RunUntilIdle()
	s.Equal(lctr.ScanScanning, s.stack.Controller().Scanner().State())
}

func (s *StackTestSuite) TestEventsAndCallbacks() {
	var seen []ll.Event
	s.stack.OnEvent(func(ev ll.Event) { seen = append(seen, ev) })

	s.Require().NoError(s.stack.ScanEnable(0, false))
	s.stack.RunUntilIdle()
	s.radio.InjectAdv(sim.Peer{Addr: radio.MustParseAddr(testPeer), RSSI: -60})
	s.stack.RunUntilIdle()

	events := s.stack.DrainEvents()
	s.Require().Len(events, 1)
	s.Equal(lctr.EvtAdvReport, events[0].Type)
	s.Equal(testPeer, events[0].Peer.String())
	s.Equal(events, seen, "callbacks MUST see the same events as the channel")
}

func (s *StackTestSuite) TestOnEventCallbacksAreIndependent() {
	// GOAL: every registered callback sees every event; a callback added
	// during delivery starts with the next event
	var first, second, late []lctr.EventType
	s.stack.OnEvent(func(ev ll.Event) {
		first = append(first, ev.Type)
		if len(first) == 1 {
			s.stack.OnEvent(func(ev ll.Event) { late = append(late, ev.Type) })
		}
	})
	s.stack.OnEvent(func(ev ll.Event) { second = append(second, ev.Type) })

	s.Require().NoError(s.stack.Disconnect(1))
	s.Require().NoError(s.stack.CreateConnCancel())
	s.Require().NoError(s.stack.TestEnd())
	s.stack.RunUntilIdle()

	want := []lctr.EventType{lctr.EvtCommandStatus, lctr.EvtCommandStatus}
	s.Equal(want, first)
	s.Equal(want, second)
	s.Equal(want[:1], late, "a callback added during delivery MUST NOT see that event")
}

func (s *StackTestSuite) TestCreateConnUsesBLEAddress() {
	s.Require().NoError(s.stack.CreateConn(ble.NewAddr(testPeer), 50*time.Millisecond))
	s.stack.RunUntilIdle()

	op, ok := s.radio.ArmedKind(radio.KindInitiate)
	s.Require().True(ok)
	s.Equal(testPeer, op.Peer.String())

	s.stack.Tick(5)
	s.stack.RunUntilIdle()
	events := s.stack.DrainEvents()
	s.Require().Len(events, 1)
	s.Equal(lctr.StatusConnTimeout, events[0].Status, "the timeout MUST come from the call, not the default")

	s.Error(s.stack.CreateConn(ble.NewAddr("not-an-address"), 0))
}

func (s *StackTestSuite) TestSetAdvDataLimit() {
	s.ErrorIs(s.stack.SetAdvData(make([]byte, ll.MaxAdvData+1)), ll.ErrAdvDataTooLong)
	s.NoError(s.stack.SetAdvData([]byte{0x02, 0x01, 0x06}))
	s.stack.RunUntilIdle()
	s.Equal([]byte{0x02, 0x01, 0x06}, s.stack.Controller().Advertiser().Data())
}

func (s *StackTestSuite) TestSnapshot() {
	s.Require().NoError(s.stack.CreateConn(ble.NewAddr(testPeer), 0))
	s.stack.RunUntilIdle()
	s.radio.InjectAdv(sim.Peer{Addr: radio.MustParseAddr(testPeer), Connectable: true})
	s.stack.RunUntilIdle()

	snap := s.stack.Snapshot()
	s.Equal("connected", snap.Initiator)
	s.Equal("idle", snap.Scanner)
	s.Require().Len(snap.Connections, 1)
	s.Equal("central", snap.Connections[0].Role)
	s.Equal(testPeer, snap.Connections[0].PeerID)
	s.Equal(1, snap.Timers, "only the supervision timer MUST run")
	s.Len(snap.Pools, len(s.cfg.Pools))
	s.NotZero(snap.Scheduler.Messages)
}

func (s *StackTestSuite) TestDisconnectThroughAPI() {
	s.Require().NoError(s.stack.AdvEnable(0))
	s.stack.RunUntilIdle()
	s.True(s.radio.InjectConnInd(radio.MustParseAddr(testCentral)))
	s.stack.RunUntilIdle()
	s.Require().Len(s.stack.DrainEvents(), 2)

	s.Require().NoError(s.stack.Disconnect(0))
	s.stack.RunUntilIdle()
	s.stack.Tick(s.cfg.TerminateTicks)
	s.stack.RunUntilIdle()

	events := s.stack.DrainEvents()
	s.Require().Len(events, 1)
	s.Equal(lctr.EvtDisconnectComplete, events[0].Type)
	s.Equal(lctr.StatusLocalHostTerminated, events[0].Status)
}

func (s *StackTestSuite) TestIdleEntersLowPower() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.stack.Run(ctx) }()

	s.Eventually(func() bool {
		for _, c := range s.radio.Calls() {
			if c == "quiesce" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "an idle stack MUST put its protocols in low power")

	cancel()
	s.ErrorIs(<-done, context.Canceled)
}

func TestStackTestSuite(t *testing.T) {
	suite.Run(t, new(StackTestSuite))
}

func TestStackRunsWithTimedRadio(t *testing.T) {
	// GOAL: with a timed radio and the wall-clock tick source, advertising
	// ends in a connection without any manual stepping
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	central := radio.MustParseAddr(testCentral)
	drv := sim.New(sim.Options{Latency: 5 * time.Millisecond, Central: &central, Logger: logger})

	stack, err := ll.New(nil, logger, drv)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	drv.Run(ctx)
	go func() { _ = stack.Run(ctx) }()

	require.NoError(t, stack.AdvEnable(0))
	for {
		select {
		case ev := <-stack.Events():
			if ev.Type == lctr.EvtConnComplete {
				require.Equal(t, lctr.RolePeripheral, ev.Role)
				require.Equal(t, central, ev.Peer)
				return
			}
		case <-ctx.Done():
			t.Fatal("no connection within the deadline")
		}
	}
}

func TestSnapshotWhileRunning(t *testing.T) {
	// GOAL: snapshots taken off the scheduler goroutine while it opens a
	// connection always carry the link's role and peer
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	central := radio.MustParseAddr(testCentral)
	drv := sim.New(sim.Options{Latency: 2 * time.Millisecond, Central: &central, Logger: logger})

	stack, err := ll.New(nil, logger, drv)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	drv.Run(ctx)
	go func() { _ = stack.Run(ctx) }()
	require.NoError(t, stack.AdvEnable(0))

	require.Eventually(t, func() bool {
		snap := stack.Snapshot()
		for _, c := range snap.Connections {
			if c.Role != "peripheral" || c.PeerID != testCentral {
				t.Errorf("connection MUST be a complete link, got %+v", c)
			}
		}
		return len(snap.Connections) == 1
	}, 5*time.Second, time.Millisecond)
}
