package wsf

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// IdleFunc is called when a scheduling pass found no work, before the
// scheduler waits. next is the tick count to the earliest timer and ok tells
// whether any timer runs; together they size a low-power sleep.
type IdleFunc func(next Ticks, ok bool)

// Options configures a Scheduler. Zero fields take their default tag.
type Options struct {
	MsPerTick          uint32 `default:"10"`
	MaxTimers          int    `default:"32"`
	IngressDepth       uint32 `default:"64"`
	MaxDispatchPerPass int    `default:"1024"`

	Pool     *BufPool
	Logger   *logrus.Logger
	IdleHook IdleFunc
}

// Stats counts scheduler activity since creation.
type Stats struct {
	Messages        uint64 `json:"messages"`
	Events          uint64 `json:"events"`
	TimersFired     uint64 `json:"timers_fired"`
	IngressDropped  uint64 `json:"ingress_dropped"`
	AllocFailed     uint64 `json:"alloc_failed"`
	Passes          uint64 `json:"passes"`
	IdleWaits       uint64 `json:"idle_waits"`
	QueuedMessages  int    `json:"queued_messages"`
	RegisteredTasks int    `json:"registered_tasks"`
}

type handler struct {
	id     HandlerID
	name   string
	fn     HandlerFunc
	events atomic.Uint32
}

type envelope struct {
	id  HandlerID
	msg *Msg
}

// msgQueue is a per-task FIFO touched only from scheduler context.
type msgQueue struct {
	items []*Msg
	head  int
}

func (q *msgQueue) push(m *Msg) { q.items = append(q.items, m) }

func (q *msgQueue) pop() *Msg {
	if q.head == len(q.items) {
		return nil
	}
	m := q.items[q.head]
	q.items[q.head] = nil
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	}
	return m
}

func (q *msgQueue) len() int { return len(q.items) - q.head }

// Scheduler runs handlers to completion in priority order. One goroutine
// calls RunOnce or RunForever; any goroutine may call PostMessage, SetEvent
// and Tick.
type Scheduler struct {
	opts   Options
	log    *ThrottledLog
	pool   *BufPool
	timers *TimerService

	handlers [MaxTasks * MaxHandlersPerTask]atomic.Pointer[handler]
	slots    [MaxTasks]atomic.Uint32
	queues   [MaxTasks]msgQueue

	ingress      mpmc.RingBuffer[envelope]
	ingressLen   atomic.Int64
	queued       atomic.Int64
	eventTasks   atomic.Uint32
	pendingTicks atomic.Uint32
	wake         chan struct{}

	messages       atomic.Uint64
	events         atomic.Uint64
	timersFired    atomic.Uint64
	ingressDropped atomic.Uint64
	allocFailed    atomic.Uint64
	passes         atomic.Uint64
	idleWaits      atomic.Uint64
}

// NewScheduler creates a scheduler with its own timer service. A nil
// Options.Pool gets a pool laid out with DefaultPoolDescs.
func NewScheduler(opts Options) (*Scheduler, error) {
	defaults.SetDefaults(&opts)

	pool := opts.Pool
	if pool == nil {
		var err error
		if pool, err = NewBufPool(DefaultPoolDescs...); err != nil {
			return nil, fmt.Errorf("scheduler pool: %w", err)
		}
	}

	s := &Scheduler{
		opts:    opts,
		log:     NewThrottledLog(opts.Logger, "wsf"),
		pool:    pool,
		timers:  NewTimerService(opts.MsPerTick, opts.MaxTimers),
		ingress: mpmc.New[envelope](opts.IngressDepth),
		wake:    make(chan struct{}, 1),
	}

	s.log.WithFields(logrus.Fields{
		"ms_per_tick":   opts.MsPerTick,
		"max_timers":    opts.MaxTimers,
		"ingress_depth": opts.IngressDepth,
		"pools":         pool.NumPools(),
	}).Debug("Scheduler created")

	return s, nil
}

// Timers returns the scheduler's timer service.
func (s *Scheduler) Timers() *TimerService { return s.timers }

// Pool returns the buffer pool backing message payloads.
func (s *Scheduler) Pool() *BufPool { return s.pool }

// SetNextHandler registers fn in task and returns its ID. Registration
// happens at init time; exceeding the per-task slot count asserts.
func (s *Scheduler) SetNextHandler(task TaskID, name string, fn HandlerFunc) HandlerID {
	Assert(int(task) < MaxTasks, ErrHandlerTableFull, "task %d out of range", task)
	Assert(fn != nil, ErrUnknownHandler, "nil handler %q", name)

	slot := s.slots[task].Add(1) - 1
	Assert(slot < MaxHandlersPerTask, ErrHandlerTableFull, "task %d has %d handlers", task, slot)

	id := NewHandlerID(task, uint8(slot))
	s.handlers[id].Store(&handler{id: id, name: name, fn: fn})

	s.log.WithFields(logrus.Fields{
		"handler": id.String(),
		"name":    name,
	}).Debug("Handler registered")
	return id
}

// HandlerName returns the name a handler was registered with.
func (s *Scheduler) HandlerName(id HandlerID) string {
	if h := s.handlers[id].Load(); h != nil {
		return h.name
	}
	return ""
}

// AllocMsg returns a message with an n-byte payload from the pool, or nil
// when the pool is exhausted. n == 0 yields a message without payload.
func (s *Scheduler) AllocMsg(n int) *Msg {
	if n == 0 {
		return &Msg{}
	}
	b := s.pool.Alloc(n)
	if b == nil {
		s.allocFailed.Add(1)
		s.log.Throttled("alloc", logrus.Fields{"len": n}, "Message allocation failed")
		return nil
	}
	clear(b)
	return &Msg{Payload: b}
}

// FreeMsg returns msg's payload to the pool.
func (s *Scheduler) FreeMsg(msg *Msg) {
	if msg == nil || msg.Payload == nil {
		return
	}
	s.pool.Free(msg.Payload)
	msg.Payload = nil
}

// PostMessage queues msg for handler id. It is safe from any goroutine. On
// error the caller still owns msg.
func (s *Scheduler) PostMessage(id HandlerID, msg *Msg) error {
	if s.handlers[id].Load() == nil {
		return fmt.Errorf("%w: %s", ErrUnknownHandler, id)
	}
	msg.Handler = id
	msg.detached = false

	if err := s.ingress.Enqueue(envelope{id: id, msg: msg}); err != nil {
		s.ingressDropped.Add(1)
		s.log.Throttled("ingress", logrus.Fields{"handler": id.String()}, "Ingress queue full")
		return fmt.Errorf("%w: %v", ErrQueueFull, err)
	}
	s.ingressLen.Add(1)
	s.signal()
	return nil
}

// SetEvent ORs mask into the pending events of handler id. It is safe from
// any goroutine.
func (s *Scheduler) SetEvent(id HandlerID, mask EventMask) {
	h := s.handlers[id].Load()
	if h == nil || mask == 0 {
		return
	}
	h.events.Or(uint32(mask))
	s.eventTasks.Or(1 << id.Task())
	s.signal()
}

// Tick records n elapsed ticks, applied at the start of the next pass. It is
// safe from any goroutine.
func (s *Scheduler) Tick(n Ticks) {
	if n == 0 {
		return
	}
	s.pendingTicks.Add(uint32(n))
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainIngress() {
	for !s.ingress.IsEmpty() {
		env, err := s.ingress.Dequeue()
		if err != nil {
			return
		}
		s.ingressLen.Add(-1)
		s.enqueue(env.msg)
	}
}

func (s *Scheduler) enqueue(msg *Msg) {
	s.queues[msg.Handler.Task()].push(msg)
	s.queued.Add(1)
}

func (s *Scheduler) serviceTimers() {
	ticks := s.pendingTicks.Swap(0)
	if ticks == 0 {
		return
	}
	for _, t := range s.timers.Update(Ticks(ticks)) {
		s.timersFired.Add(1)
		s.enqueue(&Msg{Hdr: t.Msg, Handler: t.Handler})
	}
}

// nextTask returns the highest-priority task with events or messages.
func (s *Scheduler) nextTask() (TaskID, bool) {
	evt := s.eventTasks.Load()
	for task := 0; task < MaxTasks; task++ {
		if evt&(1<<task) != 0 || s.queues[task].len() > 0 {
			return TaskID(task), true
		}
	}
	return 0, false
}

func (s *Scheduler) dispatchEvents(task TaskID) int {
	if s.eventTasks.And(^uint32(1<<task))&(1<<task) == 0 {
		return 0
	}
	n := 0
	slots := int(s.slots[task].Load())
	for slot := 0; slot < slots && slot < MaxHandlersPerTask; slot++ {
		h := s.handlers[NewHandlerID(task, uint8(slot))].Load()
		if h == nil {
			continue
		}
		if ev := EventMask(h.events.Swap(0)); ev != 0 {
			h.fn(ev, nil)
			s.events.Add(1)
			n++
		}
	}
	return n
}

func (s *Scheduler) dispatchMessage(task TaskID) int {
	msg := s.queues[task].pop()
	if msg == nil {
		return 0
	}
	s.queued.Add(-1)
	h := s.handlers[msg.Handler].Load()
	h.fn(0, msg)
	s.messages.Add(1)
	if !msg.detached {
		s.FreeMsg(msg)
	}
	return 1
}

// RunOnce runs one scheduling pass: pending ticks are applied to the timer
// service, then events and messages are dispatched until no task has work or
// the per-pass budget is spent. Each dispatch picks the highest-priority task
// that has work, delivering its events before its next message. It returns
// the number of handler invocations.
func (s *Scheduler) RunOnce() int {
	s.passes.Add(1)
	s.serviceTimers()

	n := 0
	for n < s.opts.MaxDispatchPerPass {
		s.drainIngress()
		task, ok := s.nextTask()
		if !ok {
			break
		}
		if d := s.dispatchEvents(task); d > 0 {
			n += d
			continue
		}
		n += s.dispatchMessage(task)
	}
	return n
}

// HasWork reports whether a pass would dispatch anything.
func (s *Scheduler) HasWork() bool {
	if s.pendingTicks.Load() != 0 || s.ingressLen.Load() > 0 || s.eventTasks.Load() != 0 {
		return true
	}
	_, ok := s.nextTask()
	return ok
}

// RunForever runs passes until ctx is done. Between passes with no work it
// calls the idle hook and sleeps until a message, event or tick arrives.
func (s *Scheduler) RunForever(ctx context.Context) error {
	s.log.Debug("Scheduler loop started")
	defer s.log.Debug("Scheduler loop stopped")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.RunOnce() > 0 || s.HasWork() {
			continue
		}

		if s.opts.IdleHook != nil {
			next, ok := s.timers.NextExpiration()
			s.opts.IdleHook(next, ok)
		}
		s.idleWaits.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Pending returns the number of messages waiting in ingress and task queues.
func (s *Scheduler) Pending() int {
	return int(s.ingressLen.Load() + s.queued.Load())
}

// Stats returns activity counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Messages:       s.messages.Load(),
		Events:         s.events.Load(),
		TimersFired:    s.timersFired.Load(),
		IngressDropped: s.ingressDropped.Load(),
		AllocFailed:    s.allocFailed.Load(),
		Passes:         s.passes.Load(),
		IdleWaits:      s.idleWaits.Load(),
		QueuedMessages: s.Pending(),
	}
	for task := range s.slots {
		if s.slots[task].Load() > 0 {
			st.RegisteredTasks++
		}
	}
	return st
}
