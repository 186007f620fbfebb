package frame

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		name                       string
		b0, b1, c0, c1, c2, d0, d1 uint64
	}{
		{"all zero", 0, 0, 0, 0, 0, 0, 0},
		{"power on response", 1, 1, OpPowerOn, 0, 0, 0, 0},
		{"dev probe mask", 1, 1, OpDevProbe, 0, 0, 0x00FF, 0},
		{"block xfer read", 0, 0, OpBlockXfer, 5, XferRead, 1234, 9},
		{"max fields", 0xF, 0xF, 0xFF, 0xFF, 0xFF, 0xFFFF, 0xFFFF},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			f := Pack(c.b0, c.b1, c.c0, c.c1, c.c2, c.d0, c.d1)
			b0, b1, c0, c1, c2, d0, d1 := Unpack(f)
			assert.Equal(t, c.b0, b0)
			assert.Equal(t, c.b1, b1)
			assert.Equal(t, c.c0, c0)
			assert.Equal(t, c.c1, c1)
			assert.Equal(t, c.c2, c2)
			assert.Equal(t, c.d0, d0)
			assert.Equal(t, c.d1, d1)
		})
	}
}

func TestFieldOffsetsDoNotOverlap(t *testing.T) {
	f := Pack(0, 0, 0, 0, 0, 1, 0)
	fl := UnpackFields(f)
	require.Equal(t, uint64(1), fl.D0)
	require.Zero(t, fl.D1)
	require.Zero(t, fl.C0)

	f = Pack(0, 0, 0, 0, 0, 0, 1)
	fl = UnpackFields(f)
	require.Equal(t, uint64(1), fl.D1)
	require.Zero(t, fl.D0)
}

func TestIsSuccessResponse(t *testing.T) {
	ok := UnpackFields(ResponseOK(OpBlockXfer, 3, XferRead, 10, 2))
	assert.True(t, ok.IsSuccessResponse(OpBlockXfer))
	assert.False(t, ok.IsSuccessResponse(OpPowerOn))

	req := UnpackFields(RequestBlockXfer(3, XferRead, 10, 2))
	assert.False(t, req.IsSuccessResponse(OpBlockXfer))
}

func TestRequestBuilders(t *testing.T) {
	assert.Equal(t, Pack(0, 0, OpPowerOn, 0, 0, 0, 0), RequestPowerOn())
	assert.Equal(t, Pack(0, 0, OpPowerOff, 0, 0, 0, 0), RequestPowerOff())
	assert.Equal(t, Pack(0, 0, OpDevProbe, 0, 0, 0, 0), RequestDevProbe())
	assert.Equal(t, Pack(0, 0, OpDevInit, 7, 0, 0, 0), RequestDevInit(7))
}
