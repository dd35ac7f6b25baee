// Package radio defines the boundary between the baseband layer and a radio
// driver. A driver arms operations and reports their progress through an
// interrupt callback; the baseband layer never calls into link-layer roles
// from that callback.
package radio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/go-ble/ble"
)

var (
	ErrBadAddr      = errors.New("invalid device address")
	ErrShortResult  = errors.New("result buffer too short")
	ErrNotArmed     = errors.New("operation not armed")
	ErrAlreadyArmed = errors.New("operation already armed")
)

// OpID identifies an armed operation. The baseband layer uses its BOD token.
type OpID uint16

// Kind selects what the radio does for an operation.
type Kind uint8

const (
	KindScan Kind = iota
	KindAdv
	KindInitiate
	KindConnEvent
	KindDTMTx
	KindDTMRx
	KindPRBS
)

var kindNames = [...]string{"scan", "adv", "initiate", "conn", "dtm-tx", "dtm-rx", "prbs15"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Status is the outcome carried by a Result.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusTimeout
	StatusCRCError
	StatusAborted
	StatusFailed
)

var statusNames = [...]string{"success", "timeout", "crc-error", "aborted", "failed"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", s)
}

// Addr is a 48-bit device address in transmission order of its string form.
type Addr [6]byte

// ParseAddr converts a go-ble address ("aa:bb:cc:dd:ee:ff") to Addr.
func ParseAddr(a ble.Addr) (Addr, error) {
	var out Addr
	if a == nil {
		return out, ErrBadAddr
	}
	hw, err := net.ParseMAC(a.String())
	if err != nil || len(hw) != len(out) {
		return out, fmt.Errorf("%w: %q", ErrBadAddr, a.String())
	}
	copy(out[:], hw)
	return out, nil
}

// MustParseAddr is ParseAddr for literals.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(ble.NewAddr(s))
	if err != nil {
		panic(err)
	}
	return a
}

func (a Addr) String() string { return net.HardwareAddr(a[:]).String() }

// BLE returns the go-ble form of the address.
func (a Addr) BLE() ble.Addr { return ble.NewAddr(a.String()) }

// IsZero reports whether the address is unset.
func (a Addr) IsZero() bool { return a == Addr{} }

// Operation is what the baseband layer asks the radio to do.
type Operation struct {
	ID      OpID
	Kind    Kind
	Channel uint8
	Peer    Addr   // initiate target, zero for any
	Data    []byte // advertising payload or test pattern
}

// Result reports progress of an armed operation. Final results end the
// operation; others (received advertisements, connection event packets)
// leave it armed.
type Result struct {
	ID     OpID
	Kind   Kind
	Status Status
	Final  bool
	Peer   Addr
	RSSI   int8
	Data   []byte
}

// ResultHeaderLen is the encoded size of a Result without data.
const ResultHeaderLen = 13

// MaxResultData bounds Result.Data; longer payloads are truncated on encode.
const MaxResultData = 31

// EncodedLen returns the bytes Encode writes for r.
func (r *Result) EncodedLen() int {
	return ResultHeaderLen + min(len(r.Data), MaxResultData)
}

// Encode writes r into b, which must hold EncodedLen bytes, and returns the
// number of bytes written.
func (r *Result) Encode(b []byte) (int, error) {
	n := r.EncodedLen()
	if len(b) < n {
		return 0, fmt.Errorf("%w: need %d, have %d", ErrShortResult, n, len(b))
	}
	binary.LittleEndian.PutUint16(b[0:2], uint16(r.ID))
	b[2] = byte(r.Kind)
	b[3] = byte(r.Status)
	b[4] = 0
	if r.Final {
		b[4] = 1
	}
	copy(b[5:11], r.Peer[:])
	b[11] = byte(r.RSSI)
	b[12] = byte(n - ResultHeaderLen)
	copy(b[ResultHeaderLen:n], r.Data)
	return n, nil
}

// DecodeResult parses a buffer written by Encode. Data is copied.
func DecodeResult(b []byte) (Result, error) {
	var r Result
	if len(b) < ResultHeaderLen {
		return r, fmt.Errorf("%w: %d bytes", ErrShortResult, len(b))
	}
	dlen := int(b[12])
	if len(b) < ResultHeaderLen+dlen {
		return r, fmt.Errorf("%w: data length %d", ErrShortResult, dlen)
	}
	r.ID = OpID(binary.LittleEndian.Uint16(b[0:2]))
	r.Kind = Kind(b[2])
	r.Status = Status(b[3])
	r.Final = b[4] != 0
	copy(r.Peer[:], b[5:11])
	r.RSSI = int8(b[11])
	if dlen > 0 {
		r.Data = append([]byte(nil), b[ResultHeaderLen:ResultHeaderLen+dlen]...)
	}
	return r, nil
}

// IRQFunc receives results. It runs in interrupt context.
type IRQFunc func(Result)

// Driver is implemented by radio back ends.
type Driver interface {
	// SetWhitening enables data whitening; BLE needs it, test modes do not.
	SetWhitening(on bool)
	// Arm starts op. Results for it arrive through the IRQ callback.
	Arm(op Operation) error
	// Abort stops op synchronously; no result is reported for it afterwards.
	Abort(id OpID)
	// Quiesce aborts everything and idles the radio.
	Quiesce()
	SetIRQ(fn IRQFunc)
}
