package devtable

import (
	"context"
	"testing"

	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/stretchr/testify/require"
)

// fakeTransport answers the power-on/probe/init handshake with two
// online devices: device 0 has 2 sectors x 2 blocks (4 slots), device 1
// has 1 sector x 4 blocks (4 slots).
type fakeTransport struct {
	sectors map[int]int
	blocks  map[int]int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		sectors: map[int]int{0: 2, 1: 1},
		blocks:  map[int]int{0: 2, 1: 4},
	}
}

func (f *fakeTransport) Request(ctx context.Context, req uint64, payload []byte) (uint64, []byte, error) {
	fl := frame.UnpackFields(req)
	switch fl.C0 {
	case frame.OpPowerOn:
		return frame.ResponseOK(frame.OpPowerOn, 0, 0, 0, 0), nil, nil
	case frame.OpPowerOff:
		return frame.ResponseOK(frame.OpPowerOff, 0, 0, 0, 0), nil, nil
	case frame.OpDevProbe:
		return frame.ResponseOK(frame.OpDevProbe, 0, 0, 0x0003, 0), nil, nil
	case frame.OpDevInit:
		devID := int(fl.C1)
		return frame.ResponseOK(frame.OpDevInit, uint64(devID), 0, uint64(f.sectors[devID]), uint64(f.blocks[devID])), nil, nil
	}
	panic("unexpected opcode in fake transport")
}

func TestInitAllProbesAndInitsOnlineDevices(t *testing.T) {
	dt := New(newFakeTransport(), nil)
	require.NoError(t, dt.InitAll(context.Background()))

	d0, ok := dt.Device(0)
	require.True(t, ok)
	require.Equal(t, 2, d0.Sectors)
	require.Equal(t, 2, d0.Blocks)

	d1, ok := dt.Device(1)
	require.True(t, ok)
	require.Equal(t, 1, d1.Sectors)
	require.Equal(t, 4, d1.Blocks)

	_, ok = dt.Device(2)
	require.False(t, ok)
}

func TestAllocateBlockScansDeviceSectorBlockOrder(t *testing.T) {
	dt := New(newFakeTransport(), nil)
	require.NoError(t, dt.InitAll(context.Background()))

	dev, sector, block, ok := dt.AllocateBlock()
	require.True(t, ok)
	require.Equal(t, 0, dev)
	require.Equal(t, 0, sector)
	require.Equal(t, 0, block)

	// AllocateBlock alone never marks; calling it again with nothing
	// marked yields the exact same slot.
	dev, sector, block, ok = dt.AllocateBlock()
	require.True(t, ok)
	require.Equal(t, 0, dev)
	require.Equal(t, 0, sector)
	require.Equal(t, 0, block)
}

func TestAllocateBlockMovesToNextDeviceWhenFull(t *testing.T) {
	dt := New(newFakeTransport(), nil)
	require.NoError(t, dt.InitAll(context.Background()))

	// Fill all 4 slots on device 0.
	dt.MarkUsed(0, 0, 0)
	dt.MarkUsed(0, 0, 1)
	dt.MarkUsed(0, 1, 0)
	dt.MarkUsed(0, 1, 1)

	dev, sector, block, ok := dt.AllocateBlock()
	require.True(t, ok)
	require.Equal(t, 1, dev)
	require.Equal(t, 0, sector)
	require.Equal(t, 0, block)
}

func TestAllocateBlockFailsWhenEveryDeviceFull(t *testing.T) {
	dt := New(newFakeTransport(), nil)
	require.NoError(t, dt.InitAll(context.Background()))

	for _, dev := range []int{0, 1} {
		d, _ := dt.Device(dev)
		for s := 0; s < d.Sectors; s++ {
			for b := 0; b < d.Blocks; b++ {
				dt.MarkUsed(dev, s, b)
			}
		}
	}

	_, _, _, ok := dt.AllocateBlock()
	require.False(t, ok)
}

func TestMarkUsedAdvancesScanWithinDevice(t *testing.T) {
	dt := New(newFakeTransport(), nil)
	require.NoError(t, dt.InitAll(context.Background()))

	dt.MarkUsed(0, 0, 0)
	dev, sector, block, ok := dt.AllocateBlock()
	require.True(t, ok)
	require.Equal(t, 0, dev)
	require.Equal(t, 0, sector)
	require.Equal(t, 1, block)
}

func TestTeardownSendsPowerOff(t *testing.T) {
	dt := New(newFakeTransport(), nil)
	require.NoError(t, dt.InitAll(context.Background()))
	require.NoError(t, dt.Teardown(context.Background()))
}
