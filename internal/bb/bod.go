package bb

import (
	"fmt"

	"github.com/srg/blectl/internal/radio"
)

// ProtocolID tags the radio protocol a BOD belongs to.
type ProtocolID uint8

const (
	ProtBLE ProtocolID = iota
	ProtBLEDTM
	ProtPRBS15
)

var protNames = [...]string{"ble", "ble-dtm", "prbs15"}

func (p ProtocolID) String() string {
	if int(p) < len(protNames) {
		return protNames[p]
	}
	return fmt.Sprintf("prot(%d)", p)
}

// OpType selects an operation within a protocol.
type OpType uint8

// BodState tracks a BOD through dispatch.
type BodState uint8

const (
	BodIdle BodState = iota
	BodQueued
	BodExecuting
	BodCompleted
	BodCancelled
)

var bodStateNames = [...]string{"idle", "queued", "executing", "completed", "cancelled"}

func (s BodState) String() string {
	if int(s) < len(bodStateNames) {
		return bodStateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// Bod is a baseband operation descriptor. It is owned by a link-layer
// control block and reused across executions.
type Bod struct {
	Prot  ProtocolID
	Op    OpType
	Param any
	Owner any

	// OnRx receives intermediate radio results in scheduler context.
	OnRx func(b *Bod, res radio.Result)
	// OnComplete runs in scheduler context once the radio ends the BOD.
	// It is not called for cancelled BODs.
	OnComplete func(b *Bod)

	Status radio.Status
	Result radio.Result

	state BodState
	token uint16
}

// State returns the dispatch state.
func (b *Bod) State() BodState { return b.state }

// Token returns the radio operation ID while the BOD is queued or executing.
func (b *Bod) Token() radio.OpID { return radio.OpID(b.token) }

// Active reports whether the BOD is queued or executing.
func (b *Bod) Active() bool {
	return b.state == BodQueued || b.state == BodExecuting
}

func (b *Bod) String() string {
	return fmt.Sprintf("bod(%s/%d %s #%d)", b.Prot, b.Op, b.state, b.token)
}
