package radio_test

import (
	"bytes"
	"testing"

	"github.com/go-ble/ble"
	"github.com/srg/blectl/internal/radio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	a, err := radio.ParseAddr(ble.NewAddr("11:22:33:44:55:66"))
	require.NoError(t, err)
	assert.Equal(t, radio.Addr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}, a)
	assert.Equal(t, "11:22:33:44:55:66", a.String())
	assert.Equal(t, "11:22:33:44:55:66", a.BLE().String())
	assert.False(t, a.IsZero())
	assert.True(t, radio.Addr{}.IsZero())

	for _, bad := range []string{"", "nope", "11:22:33:44:55", "00:11:22:33:44:55:66:77"} {
		_, err := radio.ParseAddr(ble.NewAddr(bad))
		assert.ErrorIs(t, err, radio.ErrBadAddr, "address %q", bad)
	}
	_, err = radio.ParseAddr(nil)
	assert.ErrorIs(t, err, radio.ErrBadAddr)
	assert.Panics(t, func() { radio.MustParseAddr("zz") })
}

// GOAL: results survive the trip through a pool buffer, with oversized data
// truncated and decoded data detached from the buffer
func TestResultCodec(t *testing.T) {
	res := radio.Result{
		ID: 0x1234, Kind: radio.KindScan, Status: radio.StatusCRCError, Final: true,
		Peer: radio.MustParseAddr("aa:bb:cc:dd:ee:ff"), RSSI: -70,
		Data: bytes.Repeat([]byte{0xAB}, radio.MaxResultData+9),
	}
	buf := make([]byte, res.EncodedLen())
	n, err := res.Encode(buf)
	require.NoError(t, err)
	require.Equal(t, radio.ResultHeaderLen+radio.MaxResultData, n)

	got, err := radio.DecodeResult(buf[:n])
	require.NoError(t, err)
	want := res
	want.Data = res.Data[:radio.MaxResultData]
	assert.Equal(t, want, got)

	buf[radio.ResultHeaderLen] = 0
	assert.Equal(t, byte(0xAB), got.Data[0], "decoded data MUST NOT alias the buffer")

	_, err = res.Encode(make([]byte, 4))
	assert.ErrorIs(t, err, radio.ErrShortResult)
	_, err = radio.DecodeResult(buf[:radio.ResultHeaderLen-1])
	assert.ErrorIs(t, err, radio.ErrShortResult)
	_, err = radio.DecodeResult(buf[:radio.ResultHeaderLen+1])
	assert.ErrorIs(t, err, radio.ErrShortResult)
}

func TestNames(t *testing.T) {
	assert.Equal(t, "prbs15", radio.KindPRBS.String())
	assert.Equal(t, "kind(99)", radio.Kind(99).String())
	assert.Equal(t, "aborted", radio.StatusAborted.String())
}
