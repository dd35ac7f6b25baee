package wsf

import "fmt"

// MsgHdr is the fixed header carried by every message. Its fields are
// interpreted by the receiving handler.
type MsgHdr struct {
	Param  uint16
	Event  uint8
	Status uint8
}

// EventMask is a set of event bits delivered to a handler.
type EventMask uint8

// TaskID identifies a task. Lower IDs have higher priority.
type TaskID uint8

// MaxTasks bounds the number of tasks; HandlerID reserves four bits each for
// task and slot.
const (
	MaxTasks           = 16
	MaxHandlersPerTask = 16
)

// HandlerID names a registered handler as task<<4 | slot.
type HandlerID uint8

// NewHandlerID packs task and slot.
func NewHandlerID(task TaskID, slot uint8) HandlerID {
	return HandlerID(uint8(task)<<4 | slot&0x0f)
}

// Task returns the task the handler runs in.
func (h HandlerID) Task() TaskID { return TaskID(h >> 4) }

// Slot returns the handler's position within its task.
func (h HandlerID) Slot() uint8 { return uint8(h) & 0x0f }

func (h HandlerID) String() string {
	return fmt.Sprintf("%d.%d", h.Task(), h.Slot())
}

// HandlerFunc handles events or a message. When msg is nil the call carries
// event bits only.
type HandlerFunc func(event EventMask, msg *Msg)

// Msg is a queued message. Payload, when present, is a buffer pool block and
// is released after the handler returns unless the handler called Detach.
type Msg struct {
	Hdr     MsgHdr
	Handler HandlerID
	Payload []byte

	detached bool
}

// Detach transfers ownership of Payload to the handler, which must free it
// through the scheduler's pool.
func (m *Msg) Detach() {
	m.detached = true
}

// Detached reports whether the handler took ownership of the payload.
func (m *Msg) Detached() bool {
	return m.detached
}
