package ll

import (
	"github.com/go-ble/ble"
	"github.com/srg/blectl/internal/wsf"
)

// ConnInfo describes one open connection.
type ConnInfo struct {
	Handle uint16   `json:"handle" yaml:"handle"`
	Role   string   `json:"role" yaml:"role"`
	Peer   ble.Addr `json:"-" yaml:"-"`
	PeerID string   `json:"peer" yaml:"peer"`
	State  string   `json:"state" yaml:"state"`
	Events uint64   `json:"events" yaml:"events"`
}

// Snapshot is a diagnostic view of a stack. Every field is loaded atomically
// or under a lock, so it may be taken from any goroutine; fields are not
// consistent with each other while the stack runs.
type Snapshot struct {
	Initiator   string          `json:"initiator" yaml:"initiator"`
	Scanner     string          `json:"scanner" yaml:"scanner"`
	Advertiser  string          `json:"advertiser" yaml:"advertiser"`
	Testing     bool            `json:"testing" yaml:"testing"`
	Connections []ConnInfo      `json:"connections" yaml:"connections"`
	Pools       []wsf.PoolStats `json:"pools" yaml:"pools"`
	Timers      int             `json:"timers" yaml:"timers"`
	Scheduler   wsf.Stats       `json:"scheduler" yaml:"scheduler"`
	RxDropped   uint64          `json:"rx_dropped" yaml:"rx_dropped"`
	AdvSeen     int             `json:"adv_seen" yaml:"adv_seen"`
}

// Snapshot collects role states, pool and scheduler statistics.
func (s *Stack) Snapshot() Snapshot {
	snap := Snapshot{
		Initiator:  s.ctr.Initiator().State().String(),
		Scanner:    s.ctr.Scanner().State().String(),
		Advertiser: s.ctr.Advertiser().State().String(),
		Testing:    s.ctr.Test().Running(),
		Pools:      s.sched.Pool().Stats(),
		Timers:     s.sched.Timers().Len(),
		Scheduler:  s.sched.Stats(),
		RxDropped:  s.disp.Dropped(),
		AdvSeen:    s.ctr.Scanner().Seen(),
	}
	for _, conn := range s.ctr.Conns().Conns() {
		link := conn.Link()
		snap.Connections = append(snap.Connections, ConnInfo{
			Handle: conn.Handle,
			Role:   link.Role.String(),
			Peer:   link.Peer.BLE(),
			PeerID: link.Peer.String(),
			State:  conn.State().String(),
			Events: conn.EventCounter(),
		})
	}
	return snap
}
