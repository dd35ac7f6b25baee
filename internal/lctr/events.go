package lctr

import (
	"fmt"

	"github.com/srg/blectl/internal/radio"
)

// EventType names a host event.
type EventType uint8

const (
	EvtConnComplete EventType = iota + 1
	EvtInitiateFailed
	EvtAdvReport
	EvtScanTimeout
	EvtAdvTerminated
	EvtDisconnectComplete
	EvtCommandStatus
	EvtTestEnd
)

var eventNames = map[EventType]string{
	EvtConnComplete:       "conn-complete",
	EvtInitiateFailed:     "initiate-failed",
	EvtAdvReport:          "adv-report",
	EvtScanTimeout:        "scan-timeout",
	EvtAdvTerminated:      "adv-terminated",
	EvtDisconnectComplete: "disconnect-complete",
	EvtCommandStatus:      "command-status",
	EvtTestEnd:            "test-end",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", t)
}

// ConnRole is the link-layer role of a connection.
type ConnRole uint8

const (
	RoleCentral ConnRole = iota
	RolePeripheral
)

func (r ConnRole) String() string {
	if r == RolePeripheral {
		return "peripheral"
	}
	return "central"
}

// Event is delivered to the host in scheduler context.
type Event struct {
	Type    EventType
	Status  Status
	Handle  uint16
	Role    ConnRole
	Peer    radio.Addr
	RSSI    int8
	Data    []byte
	Command MsgID  // EvtCommandStatus: the rejected command
	Packets uint32 // EvtTestEnd
}

func (e Event) String() string {
	switch e.Type {
	case EvtAdvReport:
		return fmt.Sprintf("%s peer=%s rssi=%d len=%d", e.Type, e.Peer, e.RSSI, len(e.Data))
	case EvtCommandStatus:
		return fmt.Sprintf("%s cmd=%s status=%s", e.Type, e.Command, e.Status)
	case EvtTestEnd:
		return fmt.Sprintf("%s packets=%d", e.Type, e.Packets)
	case EvtConnComplete, EvtDisconnectComplete, EvtAdvTerminated:
		return fmt.Sprintf("%s handle=%d peer=%s status=%s", e.Type, e.Handle, e.Peer, e.Status)
	default:
		return fmt.Sprintf("%s status=%s", e.Type, e.Status)
	}
}

// EventSink receives host events.
type EventSink func(Event)
