package lctr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/srg/blectl/internal/radio"
	"github.com/srg/blectl/internal/wsf"
)

// ErrBadParams indicates an API message payload that does not decode.
var ErrBadParams = errors.New("malformed message parameters")

// MsgID is carried in MsgHdr.Event of every link-layer message.
type MsgID uint8

const (
	MsgReset MsgID = iota + 1

	InitMsgInitiate
	InitMsgInitiateCancel
	InitMsgSetScanPhy
	InitMsgTimeout

	ScanMsgEnable
	ScanMsgDisable
	ScanMsgSetParams
	ScanMsgTimeout

	AdvMsgEnable
	AdvMsgDisable
	AdvMsgSetParams
	AdvMsgSetData
	AdvMsgTimeout

	ConnMsgDisconnect
	ConnMsgSupTimeout

	TestMsgStart
	TestMsgEnd

	ScanMsgWatchdog
	AdvMsgWatchdog
	TestMsgWatchdog
)

var msgNames = map[MsgID]string{
	MsgReset:              "reset",
	InitMsgInitiate:       "create-conn",
	InitMsgInitiateCancel: "create-conn-cancel",
	InitMsgSetScanPhy:     "set-scan-phy",
	InitMsgTimeout:        "init-timeout",
	ScanMsgEnable:         "scan-enable",
	ScanMsgDisable:        "scan-disable",
	ScanMsgSetParams:      "set-scan-params",
	ScanMsgTimeout:        "scan-timeout",
	AdvMsgEnable:          "adv-enable",
	AdvMsgDisable:         "adv-disable",
	AdvMsgSetParams:       "set-adv-params",
	AdvMsgSetData:         "set-adv-data",
	AdvMsgTimeout:         "adv-timeout",
	ConnMsgDisconnect:     "disconnect",
	ConnMsgSupTimeout:     "supervision-timeout",
	TestMsgStart:          "test-start",
	TestMsgEnd:            "test-end",
	ScanMsgWatchdog:       "scan-watchdog",
	AdvMsgWatchdog:        "adv-watchdog",
	TestMsgWatchdog:       "test-watchdog",
}

func (m MsgID) String() string {
	if name, ok := msgNames[m]; ok {
		return name
	}
	return fmt.Sprintf("msg(%d)", m)
}

// DispatchID selects the role dispatcher for a message.
type DispatchID uint8

const (
	DispBroadcast DispatchID = iota
	DispInit
	DispScan
	DispAdv
	DispConn
	DispTest
	numDisp
)

// MsgHdr.Param layout: low byte dispatcher, high byte instance.
func hdrParam(disp DispatchID, inst uint8) uint16 {
	return uint16(inst)<<8 | uint16(disp)
}

func msgDisp(m *wsf.Msg) DispatchID { return DispatchID(m.Hdr.Param & 0xff) }

func msgInst(m *wsf.Msg) uint8 { return uint8(m.Hdr.Param >> 8) }

func msgID(m *wsf.Msg) MsgID { return MsgID(m.Hdr.Event) }

// Body is an API message payload.
type Body interface {
	EncodedLen() int
	Encode(b []byte)
}

// Decoder is the receiving side of Body.
type Decoder interface {
	Decode(b []byte) error
}

func need(b []byte, n int) error {
	if len(b) < n {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrBadParams, n, len(b))
	}
	return nil
}

// CreateConnParams starts an initiation.
type CreateConnParams struct {
	Peer      radio.Addr
	TimeoutMs uint32
}

func (p *CreateConnParams) EncodedLen() int { return 10 }

func (p *CreateConnParams) Encode(b []byte) {
	copy(b[0:6], p.Peer[:])
	binary.LittleEndian.PutUint32(b[6:10], p.TimeoutMs)
}

func (p *CreateConnParams) Decode(b []byte) error {
	if err := need(b, 10); err != nil {
		return err
	}
	copy(p.Peer[:], b[0:6])
	p.TimeoutMs = binary.LittleEndian.Uint32(b[6:10])
	return nil
}

// PhyParams selects the PHY used while initiating.
type PhyParams struct {
	Phy uint8
}

func (p *PhyParams) EncodedLen() int { return 1 }

func (p *PhyParams) Encode(b []byte) { b[0] = p.Phy }

func (p *PhyParams) Decode(b []byte) error {
	if err := need(b, 1); err != nil {
		return err
	}
	p.Phy = b[0]
	return nil
}

// EnableParams carries an optional duration for scan and advertising enable.
type EnableParams struct {
	DurationMs       uint32
	FilterDuplicates bool
}

func (p *EnableParams) EncodedLen() int { return 5 }

func (p *EnableParams) Encode(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], p.DurationMs)
	b[4] = boolByte(p.FilterDuplicates)
}

func (p *EnableParams) Decode(b []byte) error {
	if err := need(b, 5); err != nil {
		return err
	}
	p.DurationMs = binary.LittleEndian.Uint32(b[0:4])
	p.FilterDuplicates = b[4] != 0
	return nil
}

// ScanParams configures the scanner.
type ScanParams struct {
	Active     bool   `json:"active" yaml:"active"`
	IntervalMs uint16 `json:"interval_ms" yaml:"interval_ms" default:"100"`
	WindowMs   uint16 `json:"window_ms" yaml:"window_ms" default:"50"`
}

func (p *ScanParams) EncodedLen() int { return 5 }

func (p *ScanParams) Encode(b []byte) {
	b[0] = boolByte(p.Active)
	binary.LittleEndian.PutUint16(b[1:3], p.IntervalMs)
	binary.LittleEndian.PutUint16(b[3:5], p.WindowMs)
}

func (p *ScanParams) Decode(b []byte) error {
	if err := need(b, 5); err != nil {
		return err
	}
	p.Active = b[0] != 0
	p.IntervalMs = binary.LittleEndian.Uint16(b[1:3])
	p.WindowMs = binary.LittleEndian.Uint16(b[3:5])
	return nil
}

// Validate checks the window fits the interval.
func (p *ScanParams) Validate() bool {
	return p.IntervalMs > 0 && p.WindowMs > 0 && p.WindowMs <= p.IntervalMs
}

// AdvParams configures the advertiser.
type AdvParams struct {
	Connectable bool   `json:"connectable" yaml:"connectable" default:"true"`
	IntervalMs  uint16 `json:"interval_ms" yaml:"interval_ms" default:"100"`
	ChannelMap  uint8  `json:"channel_map" yaml:"channel_map" default:"7"`
}

func (p *AdvParams) EncodedLen() int { return 4 }

func (p *AdvParams) Encode(b []byte) {
	b[0] = boolByte(p.Connectable)
	binary.LittleEndian.PutUint16(b[1:3], p.IntervalMs)
	b[3] = p.ChannelMap
}

func (p *AdvParams) Decode(b []byte) error {
	if err := need(b, 4); err != nil {
		return err
	}
	p.Connectable = b[0] != 0
	p.IntervalMs = binary.LittleEndian.Uint16(b[1:3])
	p.ChannelMap = b[3]
	return nil
}

// Validate checks at least one primary channel is enabled.
func (p *AdvParams) Validate() bool {
	return p.IntervalMs >= 20 && p.ChannelMap&0x07 != 0
}

// MaxAdvData is the legacy advertising payload limit.
const MaxAdvData = 31

// AdvData is the advertising payload.
type AdvData []byte

func (d *AdvData) EncodedLen() int { return 1 + len(*d) }

func (d *AdvData) Encode(b []byte) {
	b[0] = byte(len(*d))
	copy(b[1:], *d)
}

func (d *AdvData) Decode(b []byte) error {
	if err := need(b, 1); err != nil {
		return err
	}
	n := int(b[0])
	if n > MaxAdvData {
		return fmt.Errorf("%w: advertising data %d bytes", ErrBadParams, n)
	}
	if err := need(b, 1+n); err != nil {
		return err
	}
	*d = append((*d)[:0], b[1:1+n]...)
	return nil
}

// DisconnectParams terminates a connection.
type DisconnectParams struct {
	Handle uint16
	Reason Status
}

func (p *DisconnectParams) EncodedLen() int { return 3 }

func (p *DisconnectParams) Encode(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], p.Handle)
	b[2] = byte(p.Reason)
}

func (p *DisconnectParams) Decode(b []byte) error {
	if err := need(b, 3); err != nil {
		return err
	}
	p.Handle = binary.LittleEndian.Uint16(b[0:2])
	p.Reason = Status(b[2])
	return nil
}

// TestParams starts a radio test.
type TestParams struct {
	PRBS    bool
	Receive bool
	Channel uint8
}

func (p *TestParams) EncodedLen() int { return 3 }

func (p *TestParams) Encode(b []byte) {
	b[0] = boolByte(p.PRBS)
	b[1] = boolByte(p.Receive)
	b[2] = p.Channel
}

func (p *TestParams) Decode(b []byte) error {
	if err := need(b, 3); err != nil {
		return err
	}
	p.PRBS = b[0] != 0
	p.Receive = b[1] != 0
	p.Channel = b[2]
	return nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
