package lctr

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// ConnState is a connection's state.
type ConnState uint32

const (
	ConnIdle ConnState = iota
	ConnEstablished
	ConnTerminating
)

var connStateNames = [...]string{"idle", "established", "terminating"}

func (s ConnState) String() string { return connStateNames[s] }

// Link identifies the local role and the remote device of a connection.
type Link struct {
	Role ConnRole
	Peer radio.Addr
}

// Conn is one connection context. Its handle is its slot in the table.
type Conn struct {
	Handle uint16

	table  *ConnTable
	link   atomic.Pointer[Link]
	state  atomic.Uint32
	bod    bb.Bod
	timer  wsf.Timer
	reason Status

	events atomic.Uint64
}

// State returns the connection state. It is safe from any goroutine.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Link returns the role and peer of the current or last connection in this
// slot. It is safe from any goroutine.
func (c *Conn) Link() Link {
	if l := c.link.Load(); l != nil {
		return *l
	}
	return Link{}
}

func (c *Conn) Role() ConnRole { return c.Link().Role }

func (c *Conn) Peer() radio.Addr { return c.Link().Peer }

// EventCounter returns the connection events seen since establishment.
func (c *Conn) EventCounter() uint64 { return c.events.Load() }

// ConnTable holds the fixed set of connection contexts.
type ConnTable struct {
	ctr   *Controller
	conns []*Conn
}

func newConnTable(ctr *Controller, max int) *ConnTable {
	t := &ConnTable{ctr: ctr, conns: make([]*Conn, max)}
	for i := range t.conns {
		conn := &Conn{Handle: uint16(i), table: t}
		conn.bod = bb.Bod{
			Prot:       bb.ProtBLE,
			Op:         OpConn,
			Param:      conn,
			Owner:      conn,
			OnRx:       conn.onRx,
			OnComplete: conn.onComplete,
		}
		t.conns[i] = conn
	}
	return t
}

// Init registers the connection dispatcher.
func (t *ConnTable) Init() {
	t.ctr.RegisterDispatcher(DispConn, t.dispatch)
	for _, conn := range t.conns {
		t.ctr.timer(&conn.timer, DispConn, ConnMsgSupTimeout, uint8(conn.Handle))
	}
}

// Get returns the open connection with handle, or nil.
func (t *ConnTable) Get(handle uint16) *Conn {
	if int(handle) >= len(t.conns) {
		return nil
	}
	conn := t.conns[handle]
	if conn.State() == ConnIdle {
		return nil
	}
	return conn
}

// Conns returns the open connections in handle order.
func (t *ConnTable) Conns() []*Conn {
	var out []*Conn
	for _, conn := range t.conns {
		if conn.State() != ConnIdle {
			out = append(out, conn)
		}
	}
	return out
}

// Active returns the number of open connections.
func (t *ConnTable) Active() int {
	n := 0
	for _, conn := range t.conns {
		if conn.State() != ConnIdle {
			n++
		}
	}
	return n
}

// Free returns the number of unused connection contexts.
func (t *ConnTable) Free() int { return len(t.conns) - t.Active() }

// Open establishes a connection with peer in the lowest free slot. It returns
// nil when the table is full.
func (t *ConnTable) Open(role ConnRole, peer radio.Addr) *Conn {
	for _, conn := range t.conns {
		if conn.State() != ConnIdle {
			continue
		}
		conn.link.Store(&Link{Role: role, Peer: peer})
		conn.reason = StatusSuccess
		conn.events.Store(0)
		conn.setState(ConnEstablished)

		t.ctr.disp.ExecuteOperation(&conn.bod)
		t.ctr.timers.StartMs(&conn.timer, t.ctr.opts.SupervisionMs)
		return conn
	}
	return nil
}

func (t *ConnTable) dispatch(msg *wsf.Msg) {
	switch msgID(msg) {
	case MsgReset:
		t.reset()
	case ConnMsgDisconnect:
		var p DisconnectParams
		if t.ctr.decode(msg, &p) {
			t.disconnect(p)
		}
	case ConnMsgSupTimeout:
		if conn := t.Get(uint16(msgInst(msg))); conn != nil {
			conn.supervisionExpired()
		}
	}
}

func (t *ConnTable) disconnect(p DisconnectParams) {
	conn := t.Get(p.Handle)
	if conn == nil {
		t.ctr.reject(ConnMsgDisconnect, StatusUnknownConnID)
		return
	}
	if conn.State() == ConnTerminating {
		t.ctr.reject(ConnMsgDisconnect, StatusCommandDisallowed)
		return
	}
	conn.reason = p.Reason
	conn.setState(ConnTerminating)
	t.ctr.timers.StartTicks(&conn.timer, t.ctr.opts.TerminateTicks)
}

// reset drops every connection without host events.
func (t *ConnTable) reset() {
	for _, conn := range t.conns {
		if conn.State() != ConnIdle {
			conn.release()
		}
	}
}

func (c *Conn) setState(s ConnState) {
	old := ConnState(c.state.Swap(uint32(s)))
	if old != s {
		c.table.ctr.log.WithFields(logrus.Fields{
			"role":   "conn",
			"handle": c.Handle,
			"from":   old.String(),
			"to":     s.String(),
		}).Debug("State changed")
	}
}

func (c *Conn) release() {
	c.table.ctr.disp.CancelOperation(&c.bod)
	c.table.ctr.timers.Stop(&c.timer)
	c.setState(ConnIdle)
}

func (c *Conn) close(status Status) {
	c.release()
	c.table.ctr.emit(Event{
		Type:   EvtDisconnectComplete,
		Status: status,
		Handle: c.Handle,
		Role:   c.Role(),
		Peer:   c.Peer(),
	})
}

// onRx counts a connection event. The peer acknowledging our terminate
// indication ends the connection.
func (c *Conn) onRx(_ *bb.Bod, _ radio.Result) {
	switch c.State() {
	case ConnEstablished:
		c.events.Add(1)
		c.table.ctr.timers.StartMs(&c.timer, c.table.ctr.opts.SupervisionMs)
	case ConnTerminating:
		c.events.Add(1)
		c.close(StatusLocalHostTerminated)
	}
}

func (c *Conn) supervisionExpired() {
	switch c.State() {
	case ConnEstablished:
		c.table.ctr.log.Throttled("sup-timeout", logrus.Fields{"handle": c.Handle}, "Supervision timeout")
		c.close(StatusConnTimeout)
	case ConnTerminating:
		c.close(StatusLocalHostTerminated)
	}
}

// onComplete ends the connection: the radio stops a connection BOD only when
// the link is lost or the peer terminated it.
func (c *Conn) onComplete(b *bb.Bod) {
	if c.State() == ConnIdle {
		return
	}
	if c.State() == ConnTerminating {
		c.close(StatusLocalHostTerminated)
		return
	}
	if b.Status == radio.StatusSuccess {
		c.close(StatusRemoteUserTerminated)
		return
	}
	c.close(StatusConnTimeout)
}
