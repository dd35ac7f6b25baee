// Package ll is the public API of one link-layer stack instance. Every call
// posts a message to the stack's scheduler; role state is only ever changed
// by the goroutine running RunOnce or Run.
package ll

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/groutine"
	"github.com/srg/blectl/internal/lctr"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/ringchan"
	"github.com/srg/blectl/internal/wsf"
	"github.com/srg/blectl/pkg/config"
)

// ErrAdvDataTooLong is returned by SetAdvData for payloads over MaxAdvData.
var ErrAdvDataTooLong = errors.New("advertising data too long")

// Scheduler task priorities: the baseband runs ahead of the link layer so
// radio results are consumed before new API messages.
const (
	taskBB wsf.TaskID = 0
	taskLL wsf.TaskID = 1
)

type (
	Event      = lctr.Event
	EventType  = lctr.EventType
	Status     = lctr.Status
	ConnRole   = lctr.ConnRole
	ScanParams = lctr.ScanParams
	AdvParams  = lctr.AdvParams
	TestParams = lctr.TestParams
)

const MaxAdvData = lctr.MaxAdvData

// Host event types.
const (
	EvtConnComplete       = lctr.EvtConnComplete
	EvtInitiateFailed     = lctr.EvtInitiateFailed
	EvtAdvReport          = lctr.EvtAdvReport
	EvtScanTimeout        = lctr.EvtScanTimeout
	EvtAdvTerminated      = lctr.EvtAdvTerminated
	EvtDisconnectComplete = lctr.EvtDisconnectComplete
	EvtCommandStatus      = lctr.EvtCommandStatus
	EvtTestEnd            = lctr.EvtTestEnd
)

// Stack is one controller instance: buffer pool, scheduler, baseband
// dispatcher and link-layer roles.
type Stack struct {
	cfg   *config.Config
	log   *logrus.Logger
	drv   radio.Driver
	sched *wsf.Scheduler
	disp  *bb.Dispatcher
	ctr   *lctr.Controller

	events *ringchan.Ring[Event]

	mu        sync.RWMutex
	callbacks []func(Event)
}

// New builds a stack on drv. A nil cfg uses config.DefaultConfig and a nil
// logger gets a fresh logrus logger.
func New(cfg *config.Config, logger *logrus.Logger, drv radio.Driver) (*Stack, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}

	pool, err := wsf.NewBufPool(cfg.Pools...)
	if err != nil {
		return nil, fmt.Errorf("buffer pool: %w", err)
	}

	s := &Stack{
		cfg:    cfg,
		log:    logger,
		drv:    drv,
		events: ringchan.New[Event](cfg.EventDepth),
	}

	s.sched, err = wsf.NewScheduler(wsf.Options{
		MsPerTick:          cfg.MsPerTick,
		MaxTimers:          cfg.MaxTimers,
		IngressDepth:       cfg.IngressDepth,
		MaxDispatchPerPass: cfg.MaxDispatchPerPass,
		Pool:               pool,
		Logger:             logger,
		IdleHook:           s.idle,
	})
	if err != nil {
		return nil, err
	}

	s.disp = bb.NewDispatcher(s.sched, bb.Options{
		Task:         taskBB,
		MaxExecuting: cfg.MaxExecuting,
		Logger:       logger,
	})
	s.disp.AttachRadio(drv)

	s.ctr = lctr.New(s.sched, s.disp, drv, lctr.Options{
		Task:           taskLL,
		MaxConn:        cfg.MaxConn,
		InitTimeoutMs:  cfg.InitTimeoutMs,
		SupervisionMs:  cfg.SupervisionMs,
		BodTimeoutMs:   cfg.BodTimeoutMs,
		TerminateTicks: wsf.Ticks(cfg.TerminateTicks),
		ScanChannel:    cfg.ScanChannel,
		Logger:         logger,
		Sink:           s.deliver,
	})

	logger.WithFields(logrus.Fields{
		"pools":       len(cfg.Pools),
		"pool_bytes":  cfg.PoolMemory(),
		"ms_per_tick": cfg.MsPerTick,
		"max_conn":    cfg.MaxConn,
	}).Debug("Stack created")

	return s, nil
}

// idle runs in scheduler context when a pass found nothing to do.
func (s *Stack) idle(next wsf.Ticks, ok bool) {
	if n := s.disp.LowPowerAll(); n > 0 {
		s.log.WithFields(logrus.Fields{
			"protocols":  n,
			"next_timer": next,
			"timers":     ok,
		}).Debug("Radio protocols in low power")
	}
}

func (s *Stack) deliver(ev Event) {
	if s.events.Send(ev) {
		s.log.WithField("event", ev.String()).Debug("Event ring full, oldest event dropped")
	}
	s.mu.RLock()
	cbs := s.callbacks
	s.mu.RUnlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// OnEvent registers cb for every host event. Callbacks run on the scheduler
// goroutine and must not block.
func (s *Stack) OnEvent(cb func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(slices.Clone(s.callbacks), cb)
}

// Events returns host events. When nobody reads, the oldest are overwritten.
func (s *Stack) Events() <-chan Event { return s.events.C() }

// DrainEvents returns every buffered host event.
func (s *Stack) DrainEvents() []Event { return s.events.Drain() }

// Config returns the configuration the stack was built with.
func (s *Stack) Config() *config.Config { return s.cfg }

// Controller exposes the link-layer roles for inspection from the scheduler
// goroutine.
func (s *Stack) Controller() *lctr.Controller { return s.ctr }

// RunOnce runs a single scheduler pass.
func (s *Stack) RunOnce() int { return s.sched.RunOnce() }

// RunUntilIdle runs passes until one dispatches nothing and returns the total
// handler invocations.
func (s *Stack) RunUntilIdle() int {
	total := 0
	for {
		n := s.sched.RunOnce()
		if n == 0 {
			return total
		}
		total += n
	}
}

// Tick advances the stack clock by n ticks. It is safe from any goroutine.
func (s *Stack) Tick(n uint32) { s.sched.Tick(wsf.Ticks(n)) }

// Run drives the scheduler and a wall-clock tick source until ctx is done.
func (s *Stack) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g groutine.Group
	period := time.Duration(s.cfg.MsPerTick) * time.Millisecond
	g.Go(ctx, "tick-source", func(ctx context.Context) {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sched.Tick(1)
			}
		}
	})

	s.log.WithField("tick", period).Info("Stack running")
	err := s.sched.RunForever(ctx)
	cancel()
	g.Wait()
	s.log.Info("Stack stopped")
	return err
}

func (s *Stack) post(disp lctr.DispatchID, id lctr.MsgID, inst uint8, body lctr.Body) error {
	return s.ctr.Post(disp, id, inst, body)
}

func durationMs(d time.Duration) uint32 {
	if d <= 0 {
		return 0
	}
	return uint32((d + time.Millisecond - 1) / time.Millisecond)
}

// Reset returns every role to idle, cancels every radio operation and drops
// every connection without events.
func (s *Stack) Reset() error {
	return s.post(lctr.DispBroadcast, lctr.MsgReset, 0, nil)
}

// CreateConn starts initiating a connection to peer. A zero timeout uses the
// configured default.
func (s *Stack) CreateConn(peer ble.Addr, timeout time.Duration) error {
	addr, err := radio.ParseAddr(peer)
	if err != nil {
		return err
	}
	return s.post(lctr.DispInit, lctr.InitMsgInitiate, 0, &lctr.CreateConnParams{
		Peer:      addr,
		TimeoutMs: durationMs(timeout),
	})
}

// CreateConnCancel stops an initiation. It does nothing when none runs.
func (s *Stack) CreateConnCancel() error {
	return s.post(lctr.DispInit, lctr.InitMsgInitiateCancel, 0, nil)
}

// SetScanPhy selects the PHY the initiator scans on.
func (s *Stack) SetScanPhy(phy uint8) error {
	return s.post(lctr.DispInit, lctr.InitMsgSetScanPhy, 0, &lctr.PhyParams{Phy: phy})
}

func (s *Stack) SetScanParams(p ScanParams) error {
	return s.post(lctr.DispScan, lctr.ScanMsgSetParams, 0, &p)
}

// ScanEnable starts scanning for duration (zero runs until disabled).
func (s *Stack) ScanEnable(duration time.Duration, filterDuplicates bool) error {
	return s.post(lctr.DispScan, lctr.ScanMsgEnable, 0, &lctr.EnableParams{
		DurationMs:       durationMs(duration),
		FilterDuplicates: filterDuplicates,
	})
}

func (s *Stack) ScanDisable() error {
	return s.post(lctr.DispScan, lctr.ScanMsgDisable, 0, nil)
}

func (s *Stack) SetAdvParams(p AdvParams) error {
	return s.post(lctr.DispAdv, lctr.AdvMsgSetParams, 0, &p)
}

func (s *Stack) SetAdvData(data []byte) error {
	if len(data) > MaxAdvData {
		return fmt.Errorf("%w: %d bytes, max %d", ErrAdvDataTooLong, len(data), MaxAdvData)
	}
	d := lctr.AdvData(data)
	return s.post(lctr.DispAdv, lctr.AdvMsgSetData, 0, &d)
}

// AdvEnable starts advertising for duration (zero runs until disabled).
func (s *Stack) AdvEnable(duration time.Duration) error {
	return s.post(lctr.DispAdv, lctr.AdvMsgEnable, 0, &lctr.EnableParams{DurationMs: durationMs(duration)})
}

func (s *Stack) AdvDisable() error {
	return s.post(lctr.DispAdv, lctr.AdvMsgDisable, 0, nil)
}

// Disconnect terminates the connection with handle.
func (s *Stack) Disconnect(handle uint16) error {
	return s.post(lctr.DispConn, lctr.ConnMsgDisconnect, uint8(handle), &lctr.DisconnectParams{
		Handle: handle,
		Reason: lctr.StatusRemoteUserTerminated,
	})
}

// TestStart starts a DTM or PRBS15 radio test.
func (s *Stack) TestStart(p TestParams) error {
	return s.post(lctr.DispTest, lctr.TestMsgStart, 0, &p)
}

func (s *Stack) TestEnd() error {
	return s.post(lctr.DispTest, lctr.TestMsgEnd, 0, nil)
}
