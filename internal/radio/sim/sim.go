// Package sim is a host-side radio that completes operations either when a
// test tells it to (manual mode) or on its own after a latency (timed mode).
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/groutine"
	"github.com/srg/blectl/internal/radio"
)

// Peer is a simulated remote device seen by scans and initiations in timed
// mode.
type Peer struct {
	Addr        radio.Addr
	RSSI        int8
	Data        []byte
	Connectable bool
}

// Options configures a Radio. Latency zero means manual mode.
type Options struct {
	Latency time.Duration
	Peers   []Peer
	// Central, when set, connects to the first armed advertising operation
	// in timed mode.
	Central *radio.Addr
	Logger  *logrus.Logger
}

// Radio implements radio.Driver.
type Radio struct {
	mu        sync.Mutex
	opts      Options
	log       *logrus.Entry
	irq       radio.IRQFunc
	whitening bool
	armed     []radio.Operation
	calls     []string
}

var _ radio.Driver = (*Radio)(nil)

// New creates a simulated radio.
func New(opts Options) *Radio {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Radio{
		opts: opts,
		log:  logger.WithField("component", "radio-sim"),
	}
}

func (r *Radio) record(format string, args ...any) {
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

func (r *Radio) SetWhitening(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.whitening = on
	r.record("whitening %t", on)
}

func (r *Radio) Arm(op radio.Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.armed {
		if a.ID == op.ID {
			return fmt.Errorf("%w: %d", radio.ErrAlreadyArmed, op.ID)
		}
	}
	op.Data = append([]byte(nil), op.Data...)
	r.armed = append(r.armed, op)
	r.record("arm %d %s", op.ID, op.Kind)

	r.log.WithFields(logrus.Fields{
		"op":   op.ID,
		"kind": op.Kind.String(),
	}).Debug("Operation armed")
	return nil
}

func (r *Radio) Abort(id radio.OpID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.remove(id); ok {
		r.record("abort %d", id)
	}
}

func (r *Radio) Quiesce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.armed = nil
	r.record("quiesce")
}

func (r *Radio) SetIRQ(fn radio.IRQFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.irq = fn
}

func (r *Radio) remove(id radio.OpID) (radio.Operation, bool) {
	for i, a := range r.armed {
		if a.ID == id {
			r.armed = append(r.armed[:i], r.armed[i+1:]...)
			return a, true
		}
	}
	return radio.Operation{}, false
}

// raise delivers res outside the lock, as a radio interrupt would.
func (r *Radio) raise(irq radio.IRQFunc, res radio.Result) {
	if irq != nil {
		irq(res)
	}
}

// Whitening reports the current whitening setting.
func (r *Radio) Whitening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.whitening
}

// Armed returns the operations currently armed.
func (r *Radio) Armed() []radio.Operation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]radio.Operation(nil), r.armed...)
}

// ArmedKind returns the first armed operation of kind.
func (r *Radio) ArmedKind(kind radio.Kind) (radio.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.armed {
		if a.Kind == kind {
			return a, true
		}
	}
	return radio.Operation{}, false
}

// Calls returns the driver call log.
func (r *Radio) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Fire ends armed operation id with status. It reports false when id is not
// armed.
func (r *Radio) Fire(id radio.OpID, status radio.Status) bool {
	r.mu.Lock()
	op, ok := r.remove(id)
	irq := r.irq
	if ok {
		r.record("fire %d %s", id, status)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	r.raise(irq, radio.Result{ID: id, Kind: op.Kind, Status: status, Final: true, Peer: op.Peer})
	return true
}

// InjectAdv delivers an advertisement from peer to every armed scan, and
// completes an armed initiation that targets peer (or any peer).
func (r *Radio) InjectAdv(p Peer) int {
	r.mu.Lock()
	var results []radio.Result
	var keep []radio.Operation
	for _, op := range r.armed {
		switch op.Kind {
		case radio.KindScan:
			results = append(results, radio.Result{
				ID: op.ID, Kind: op.Kind, Status: radio.StatusSuccess,
				Peer: p.Addr, RSSI: p.RSSI, Data: p.Data,
			})
		case radio.KindInitiate:
			if p.Connectable && (op.Peer.IsZero() || op.Peer == p.Addr) {
				results = append(results, radio.Result{
					ID: op.ID, Kind: op.Kind, Status: radio.StatusSuccess,
					Final: true, Peer: p.Addr, RSSI: p.RSSI,
				})
				continue
			}
		}
		keep = append(keep, op)
	}
	r.armed = keep
	irq := r.irq
	r.record("adv %s", p.Addr)
	r.mu.Unlock()

	for _, res := range results {
		r.raise(irq, res)
	}
	return len(results)
}

// InjectConnInd ends the first armed advertising operation with a connect
// indication from central.
func (r *Radio) InjectConnInd(central radio.Addr) bool {
	r.mu.Lock()
	var res radio.Result
	found := false
	for _, op := range r.armed {
		if op.Kind == radio.KindAdv {
			r.remove(op.ID)
			res = radio.Result{ID: op.ID, Kind: op.Kind, Status: radio.StatusSuccess, Final: true, Peer: central}
			found = true
			break
		}
	}
	irq := r.irq
	if found {
		r.record("conn-ind %s", central)
	}
	r.mu.Unlock()

	if found {
		r.raise(irq, res)
	}
	return found
}

// InjectConnRx delivers one received packet on connection operation id.
func (r *Radio) InjectConnRx(id radio.OpID, data []byte) bool {
	r.mu.Lock()
	var res radio.Result
	found := false
	for _, op := range r.armed {
		if op.ID == id && op.Kind == radio.KindConnEvent {
			res = radio.Result{ID: id, Kind: op.Kind, Status: radio.StatusSuccess, Peer: op.Peer, Data: data}
			found = true
			break
		}
	}
	irq := r.irq
	r.mu.Unlock()

	if found {
		r.raise(irq, res)
	}
	return found
}

// Run drives timed mode until ctx is done. It is a no-op in manual mode.
func (r *Radio) Run(ctx context.Context) {
	if r.opts.Latency <= 0 {
		return
	}
	groutine.Go(ctx, "radio-sim", func(ctx context.Context) {
		ticker := time.NewTicker(r.opts.Latency)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.step()
			}
		}
	})
}

// step performs one latency period of timed-mode activity.
func (r *Radio) step() {
	for _, p := range r.opts.Peers {
		r.InjectAdv(p)
	}

	if r.opts.Central != nil {
		r.InjectConnInd(*r.opts.Central)
	}

	for _, op := range r.Armed() {
		switch op.Kind {
		case radio.KindConnEvent:
			r.InjectConnRx(op.ID, nil)
		case radio.KindDTMTx, radio.KindDTMRx, radio.KindPRBS:
			r.Fire(op.ID, radio.StatusSuccess)
		case radio.KindScan, radio.KindAdv:
			// End of a scan window or of an advertising event nobody
			// connected to.
			r.Fire(op.ID, radio.StatusTimeout)
		}
	}
}
