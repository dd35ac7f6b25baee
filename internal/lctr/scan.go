package lctr

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blectl/internal/bb"
	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// ScanState is the scanner's state.
type ScanState uint32

const (
	ScanDisabled ScanState = iota
	ScanIdle
	ScanScanning
)

var scanStateNames = [...]string{"disabled", "idle", "scanning"}

func (s ScanState) String() string { return scanStateNames[s] }

// Scanner reports advertisements. Parameter changes are rejected with
// StatusCommandDisallowed while scanning.
type Scanner struct {
	ctr    *Controller
	state  atomic.Uint32
	params ScanParams
	enable EnableParams
	bod    bb.Bod
	timer  wsf.Timer
	wdog   wsf.Timer

	// seen is read by diagnostics from other goroutines.
	seen       atomic.Pointer[hashmap.Map[uint64, int8]]
	reports    atomic.Uint64
	duplicates atomic.Uint64
}

func addrKey(a radio.Addr) uint64 {
	var b [8]byte
	copy(b[:], a[:])
	return binary.LittleEndian.Uint64(b[:])
}

// Init registers the scanner dispatcher and applies defaults.
func (s *Scanner) Init() {
	s.ctr.RegisterDispatcher(DispScan, s.dispatch)
	s.ctr.timer(&s.timer, DispScan, ScanMsgTimeout, 0)
	s.ctr.timer(&s.wdog, DispScan, ScanMsgWatchdog, 0)
	s.bod = bb.Bod{
		Prot:       bb.ProtBLE,
		Op:         OpScan,
		Param:      &s.params,
		Owner:      s,
		OnRx:       s.onRx,
		OnComplete: s.onComplete,
	}
	s.seen.Store(hashmap.New[uint64, int8]())
	s.Defaults()
	s.setState(ScanIdle)
}

// Defaults resets parameters.
func (s *Scanner) Defaults() {
	s.params = ScanParams{}
	defaults.SetDefaults(&s.params)
}

// State returns the current state. It is safe from any goroutine.
func (s *Scanner) State() ScanState { return ScanState(s.state.Load()) }

// Params returns the current parameters.
func (s *Scanner) Params() ScanParams { return s.params }

// Seen returns how many distinct advertisers the current scan reported.
func (s *Scanner) Seen() int { return s.seen.Load().Len() }

// Reports returns advertising reports delivered and duplicates filtered.
func (s *Scanner) Reports() (delivered, filtered uint64) {
	return s.reports.Load(), s.duplicates.Load()
}

func (s *Scanner) setState(st ScanState) {
	old := ScanState(s.state.Swap(uint32(st)))
	if old != st {
		s.ctr.log.WithFields(logrus.Fields{
			"role": "scan",
			"from": old.String(),
			"to":   st.String(),
		}).Debug("State changed")
	}
}

func (s *Scanner) dispatch(msg *wsf.Msg) {
	switch msgID(msg) {
	case MsgReset:
		s.reset()
	case ScanMsgEnable:
		var p EnableParams
		if s.ctr.decode(msg, &p) {
			s.start(p)
		}
	case ScanMsgDisable:
		s.stop()
	case ScanMsgSetParams:
		var p ScanParams
		if s.ctr.decode(msg, &p) {
			s.setParams(p)
		}
	case ScanMsgTimeout:
		s.timeout()
	case ScanMsgWatchdog:
		s.watchdog()
	}
}

func (s *Scanner) setParams(p ScanParams) {
	if s.State() == ScanScanning {
		s.ctr.reject(ScanMsgSetParams, StatusCommandDisallowed)
		return
	}
	if !p.Validate() {
		s.ctr.reject(ScanMsgSetParams, StatusInvalidParams)
		return
	}
	s.params = p
}

func (s *Scanner) start(p EnableParams) {
	if s.State() == ScanScanning {
		s.ctr.reject(ScanMsgEnable, StatusCommandDisallowed)
		return
	}
	if s.ctr.testing(ScanMsgEnable) {
		return
	}
	s.enable = p
	s.seen.Store(hashmap.New[uint64, int8]())

	s.setState(ScanScanning)
	s.ctr.execute(&s.bod, &s.wdog)
	if p.DurationMs > 0 {
		s.ctr.timers.StartMs(&s.timer, p.DurationMs)
	}
}

func (s *Scanner) stop() {
	if s.State() != ScanScanning {
		return
	}
	s.halt()
}

// halt cancels the scan BOD and every scan timer.
func (s *Scanner) halt() {
	s.ctr.disp.CancelOperation(&s.bod)
	s.ctr.timers.Stop(&s.timer)
	s.ctr.timers.Stop(&s.wdog)
	s.setState(ScanIdle)
}

func (s *Scanner) timeout() {
	if s.State() != ScanScanning {
		return
	}
	s.halt()
	s.ctr.emit(Event{Type: EvtScanTimeout, Status: StatusSuccess})
}

// watchdog ends a scan whose radio stopped reporting.
func (s *Scanner) watchdog() {
	if s.State() != ScanScanning {
		return
	}
	s.ctr.log.Throttled("scan-watchdog", logrus.Fields{"bod": s.bod.String()}, "Scan BOD never ended")
	s.halt()
	s.ctr.emit(Event{Type: EvtScanTimeout, Status: StatusUnspecified})
}

func (s *Scanner) onRx(_ *bb.Bod, res radio.Result) {
	if s.State() != ScanScanning {
		return
	}
	seen := s.seen.Load()
	if s.enable.FilterDuplicates {
		if _, dup := seen.GetOrInsert(addrKey(res.Peer), res.RSSI); dup {
			s.duplicates.Add(1)
			return
		}
	} else {
		seen.Set(addrKey(res.Peer), res.RSSI)
	}

	s.reports.Add(1)
	s.ctr.emit(Event{
		Type:   EvtAdvReport,
		Status: StatusSuccess,
		Peer:   res.Peer,
		RSSI:   res.RSSI,
		Data:   res.Data,
	})
}

// onComplete re-arms the scan while enabled; the radio ends a BOD at each
// scan window.
func (s *Scanner) onComplete(b *bb.Bod) {
	if s.State() != ScanScanning {
		return
	}
	if b.Status != radio.StatusSuccess && b.Status != radio.StatusTimeout {
		s.ctr.log.Throttled("scan-failed", logrus.Fields{"status": b.Status.String()}, "Scan BOD failed")
		s.ctr.timers.Stop(&s.timer)
		s.ctr.timers.Stop(&s.wdog)
		s.setState(ScanIdle)
		return
	}
	s.ctr.execute(&s.bod, &s.wdog)
}

func (s *Scanner) reset() {
	s.halt()
	s.enable = EnableParams{}
	s.Defaults()
}
