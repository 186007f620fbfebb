package lcfs

import (
	"context"
	"sync"

	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/lioncloud/lcfs/internal/transport"
)

// MockTransport is an in-memory transport.Transport, used to unit test
// the file layer without a socket. It answers the same power-on/probe/
// init/block-xfer protocol fakectrl does, but entirely in-process and
// with call-count tracking for test assertions.
type MockTransport struct {
	mu sync.Mutex

	devices map[int]*mockDevice

	requestCalls int
	lastFrame    uint64
}

type mockDevice struct {
	sectors, blocks int
	data            [][]byte
}

// NewMockTransport builds a MockTransport with the given device
// geometries, keyed by device id.
func NewMockTransport(deviceSectors, deviceBlocks map[int]int) *MockTransport {
	m := &MockTransport{devices: make(map[int]*mockDevice, len(deviceSectors))}
	for id, sectors := range deviceSectors {
		blocks := deviceBlocks[id]
		grid := make([][]byte, sectors*blocks)
		for i := range grid {
			grid[i] = make([]byte, frame.BlockSize)
		}
		m.devices[id] = &mockDevice{sectors: sectors, blocks: blocks, data: grid}
	}
	return m
}

// RequestCalls returns how many times Request has been called.
func (m *MockTransport) RequestCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCalls
}

// LastFrame returns the most recently sent request frame.
func (m *MockTransport) LastFrame() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastFrame
}

// Request implements transport.Transport.
func (m *MockTransport) Request(ctx context.Context, f uint64, payload []byte) (uint64, []byte, error) {
	m.mu.Lock()
	m.requestCalls++
	m.lastFrame = f
	m.mu.Unlock()

	fl := frame.UnpackFields(f)
	switch fl.C0 {
	case frame.OpPowerOn:
		return frame.ResponseOK(frame.OpPowerOn, 0, 0, 0, 0), nil, nil
	case frame.OpPowerOff:
		return frame.ResponseOK(frame.OpPowerOff, 0, 0, 0, 0), nil, nil
	case frame.OpDevProbe:
		var mask uint64
		m.mu.Lock()
		for id := range m.devices {
			mask |= 1 << uint(id)
		}
		m.mu.Unlock()
		return frame.ResponseOK(frame.OpDevProbe, 0, 0, mask, 0), nil, nil
	case frame.OpDevInit:
		devID := int(fl.C1)
		m.mu.Lock()
		d, ok := m.devices[devID]
		m.mu.Unlock()
		if !ok {
			return frame.Pack(0, 0, frame.OpDevInit, fl.C1, 0, 0, 0), nil, nil
		}
		return frame.ResponseOK(frame.OpDevInit, uint64(devID), 0, uint64(d.sectors), uint64(d.blocks)), nil, nil
	case frame.OpBlockXfer:
		return m.blockXfer(fl, payload)
	}
	return frame.Pack(0, 0, fl.C0, 0, 0, 0, 0), nil, nil
}

func (m *MockTransport) blockXfer(fl frame.Fields, payload []byte) (uint64, []byte, error) {
	devID := int(fl.C1)
	block := int(fl.D0)
	sector := int(fl.D1)

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[devID]
	if !ok {
		return frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1), nil, nil
	}
	idx := sector*d.blocks + block
	if idx < 0 || idx >= len(d.data) {
		return frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1), nil, nil
	}

	if fl.C2 == frame.XferWrite {
		copy(d.data[idx], payload)
		return frame.ResponseOK(frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1), nil, nil
	}

	out := make([]byte, frame.BlockSize)
	copy(out, d.data[idx])
	return frame.ResponseOK(frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1), out, nil
}

var _ transport.Transport = (*MockTransport)(nil)
