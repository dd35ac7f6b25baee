package wsf

import "fmt"

// Ticks counts timer service ticks.
type Ticks uint32

// DefaultMsPerTick is the tick period used when none is configured.
const DefaultMsPerTick = 10

const noNode int32 = -1

// Timer is embedded by value in its owner's control block. Handler and Msg
// describe the message posted when the timer expires; both may be changed
// while the timer is stopped or before a restart.
type Timer struct {
	Handler HandlerID
	Msg     MsgHdr

	svc  *TimerService
	node int32 // arena index + 1, zero when stopped
}

type timerNode struct {
	t     *Timer
	delta Ticks
	next  int32
}

// TimerService keeps active timers in a delta-encoded list: each node stores
// the ticks between its own deadline and its predecessor's. The list lives in
// a fixed arena and is linked by index.
//
// Timers are started, stopped and serviced from scheduler context only.
type TimerService struct {
	cs        CriticalSection
	msPerTick uint32
	nodes     []timerNode
	head      int32
	free      int32
	count     int
}

// NewTimerService creates a service able to hold capacity simultaneously
// running timers.
func NewTimerService(msPerTick uint32, capacity int) *TimerService {
	if msPerTick == 0 {
		msPerTick = DefaultMsPerTick
	}
	Assert(capacity > 0, ErrTimerArenaFull, "capacity %d", capacity)

	ts := &TimerService{
		msPerTick: msPerTick,
		nodes:     make([]timerNode, capacity),
	}
	ts.Init()
	return ts
}

// Init empties the active list. Timers that were running are marked stopped.
func (ts *TimerService) Init() {
	ts.cs.Enter()
	defer ts.cs.Exit()

	for i := range ts.nodes {
		if t := ts.nodes[i].t; t != nil && t.svc == ts {
			t.node = 0
		}
		ts.nodes[i] = timerNode{next: int32(i + 1)}
	}
	ts.nodes[len(ts.nodes)-1].next = noNode
	ts.head = noNode
	ts.free = 0
	ts.count = 0
}

// MsPerTick returns the tick period.
func (ts *TimerService) MsPerTick() uint32 {
	return ts.msPerTick
}

// MsToTicks converts milliseconds to ticks, rounding up. Any non-zero
// duration is at least one tick.
func (ts *TimerService) MsToTicks(ms uint32) Ticks {
	ticks := (uint64(ms) + uint64(ts.msPerTick) - 1) / uint64(ts.msPerTick)
	if ticks == 0 {
		ticks = 1
	}
	if ticks > uint64(^Ticks(0)) {
		ticks = uint64(^Ticks(0))
	}
	return Ticks(ticks)
}

// StartSec starts t to expire in sec seconds. Durations past the tick range
// clamp to the longest one.
func (ts *TimerService) StartSec(t *Timer, sec uint32) {
	ms := uint64(sec) * 1000
	if ms > uint64(^uint32(0)) {
		ms = uint64(^uint32(0))
	}
	ts.StartMs(t, uint32(ms))
}

// StartMs starts t to expire in ms milliseconds.
func (ts *TimerService) StartMs(t *Timer, ms uint32) {
	ts.StartTicks(t, ts.MsToTicks(ms))
}

// StartTicks starts t to expire after ticks. A running timer is restarted:
// its previous deadline is discarded and the current t.Msg is the one that
// will be delivered.
func (ts *TimerService) StartTicks(t *Timer, ticks Ticks) {
	if ticks == 0 {
		ticks = 1
	}

	ts.cs.Enter()
	defer ts.cs.Exit()

	if t.node != 0 {
		Assert(t.svc == ts, ErrTimerMisuse, "timer belongs to another service")
		ts.unlink(t.node - 1)
	}

	Assert(ts.free != noNode, ErrTimerArenaFull, "%d timers running", ts.count)
	idx := ts.free
	ts.free = ts.nodes[idx].next

	ts.nodes[idx] = timerNode{t: t, next: noNode}
	t.svc = ts
	t.node = idx + 1
	ts.count++

	ts.insert(idx, ticks)
}

func (ts *TimerService) insert(idx int32, ticks Ticks) {
	prev := noNode
	cur := ts.head
	// Equal deadlines go after existing ones so expiry follows start order.
	for cur != noNode && ts.nodes[cur].delta <= ticks {
		ticks -= ts.nodes[cur].delta
		prev = cur
		cur = ts.nodes[cur].next
	}

	ts.nodes[idx].delta = ticks
	ts.nodes[idx].next = cur
	if cur != noNode {
		ts.nodes[cur].delta -= ticks
	}
	if prev == noNode {
		ts.head = idx
	} else {
		ts.nodes[prev].next = idx
	}
}

// unlink removes idx from the active list and returns it to the free list.
// The removed delta moves to the successor so later deadlines do not shift.
func (ts *TimerService) unlink(idx int32) {
	prev := noNode
	cur := ts.head
	for cur != noNode && cur != idx {
		prev = cur
		cur = ts.nodes[cur].next
	}
	Assert(cur == idx, ErrTimerMisuse, "timer node %d not on active list", idx)

	n := &ts.nodes[idx]
	if n.next != noNode {
		ts.nodes[n.next].delta += n.delta
	}
	if prev == noNode {
		ts.head = n.next
	} else {
		ts.nodes[prev].next = n.next
	}

	n.t.node = 0
	*n = timerNode{next: ts.free}
	ts.free = idx
	ts.count--
}

// Stop cancels t. Stopping a timer that is not running does nothing.
func (ts *TimerService) Stop(t *Timer) {
	ts.cs.Enter()
	defer ts.cs.Exit()

	if t.node == 0 || t.svc != ts {
		return
	}
	ts.unlink(t.node - 1)
}

// IsStarted reports whether t is on the active list.
func (ts *TimerService) IsStarted(t *Timer) bool {
	ts.cs.Enter()
	defer ts.cs.Exit()
	return t.node != 0 && t.svc == ts
}

// Remaining returns the ticks until t expires.
func (ts *TimerService) Remaining(t *Timer) (Ticks, bool) {
	ts.cs.Enter()
	defer ts.cs.Exit()

	if t.node == 0 || t.svc != ts {
		return 0, false
	}
	var sum Ticks
	for cur := ts.head; cur != noNode; cur = ts.nodes[cur].next {
		sum += ts.nodes[cur].delta
		if cur == t.node-1 {
			return sum, true
		}
	}
	return 0, false
}

// Advance consumes ticks from the front of the list. Timers whose deadline
// passes stay on the list with a zero delta until serviced.
func (ts *TimerService) Advance(ticks Ticks) {
	ts.cs.Enter()
	defer ts.cs.Exit()
	ts.advance(ticks)
}

func (ts *TimerService) advance(ticks Ticks) {
	for cur := ts.head; cur != noNode && ticks > 0; cur = ts.nodes[cur].next {
		n := &ts.nodes[cur]
		if n.delta <= ticks {
			ticks -= n.delta
			n.delta = 0
			continue
		}
		n.delta -= ticks
		ticks = 0
	}
}

// Update advances the list by ticks and removes every expired timer,
// returning them in deadline order.
func (ts *TimerService) Update(ticks Ticks) []*Timer {
	ts.cs.Enter()
	defer ts.cs.Exit()

	ts.advance(ticks)

	var expired []*Timer
	for ts.head != noNode && ts.nodes[ts.head].delta == 0 {
		t := ts.nodes[ts.head].t
		ts.unlink(ts.head)
		expired = append(expired, t)
	}
	return expired
}

// ServiceExpired removes and returns the first expired timer whose handler
// runs in task, or nil when there is none.
func (ts *TimerService) ServiceExpired(task TaskID) *Timer {
	ts.cs.Enter()
	defer ts.cs.Exit()

	for cur := ts.head; cur != noNode && ts.nodes[cur].delta == 0; cur = ts.nodes[cur].next {
		t := ts.nodes[cur].t
		if t.Handler.Task() == task {
			ts.unlink(cur)
			return t
		}
	}
	return nil
}

// NextExpiration returns the ticks until the earliest deadline and whether
// any timer is running.
func (ts *TimerService) NextExpiration() (Ticks, bool) {
	ts.cs.Enter()
	defer ts.cs.Exit()

	if ts.head == noNode {
		return 0, false
	}
	return ts.nodes[ts.head].delta, true
}

// Len returns the number of running timers.
func (ts *TimerService) Len() int {
	ts.cs.Enter()
	defer ts.cs.Exit()
	return ts.count
}

// Cap returns the arena size.
func (ts *TimerService) Cap() int {
	return len(ts.nodes)
}

func (ts *TimerService) String() string {
	ts.cs.Enter()
	defer ts.cs.Exit()
	return fmt.Sprintf("timers(%d/%d, %dms/tick)", ts.count, len(ts.nodes), ts.msPerTick)
}
