// Package devtable tracks the set of controller-side devices visible to
// this client, and the block allocation state within each one.
package devtable

import (
	"context"
	"fmt"

	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/lioncloud/lcfs/internal/logging"
	"github.com/lioncloud/lcfs/internal/transport"
)

// Device is one controller-side storage device: its geometry and its
// per-(sector,block) usage bitmap.
type Device struct {
	ID      int
	Online  bool
	Sectors int
	Blocks  int
	used    *bitset
}

// Table holds every device probed from the controller, indexed by
// device id. It keeps no allocation cursor: AllocateBlock rescans from
// device 0 on every call.
type Table struct {
	t   transport.Transport
	log *logging.Logger

	devices [frame.MaxDevices]Device
}

// New builds a Table against the given transport. InitAll must be
// called before AllocateBlock/MarkUsed are meaningful.
func New(t transport.Transport, log *logging.Logger) *Table {
	if log == nil {
		log = logging.Default()
	}
	dt := &Table{t: t, log: log}
	for i := range dt.devices {
		dt.devices[i].ID = i
	}
	return dt
}

// InitAll powers on the controller, probes which devices are present,
// and initializes each present device in turn — the power-on/probe/init
// handshake of spec.md §4.3, in the same three-request order the
// original performs it.
func (dt *Table) InitAll(ctx context.Context) error {
	respFrame, _, err := dt.t.Request(ctx, frame.RequestPowerOn(), nil)
	if err != nil {
		return fmt.Errorf("devtable: power on: %w", err)
	}
	fl := frame.UnpackFields(respFrame)
	if !fl.IsSuccessResponse(frame.OpPowerOn) {
		return fmt.Errorf("devtable: power on: controller returned failure")
	}

	respFrame, _, err = dt.t.Request(ctx, frame.RequestDevProbe(), nil)
	if err != nil {
		return fmt.Errorf("devtable: probe: %w", err)
	}
	fl = frame.UnpackFields(respFrame)
	if !fl.IsSuccessResponse(frame.OpDevProbe) {
		return fmt.Errorf("devtable: probe: controller returned failure")
	}

	mask := fl.D0
	for i := 0; i < frame.MaxDevices; i++ {
		online := mask&1 == 1
		mask >>= 1
		if !online {
			dt.devices[i].Online = false
			continue
		}
		if err := dt.initDevice(ctx, i); err != nil {
			return err
		}
	}
	dt.log.Info("device table initialized")
	return nil
}

func (dt *Table) initDevice(ctx context.Context, id int) error {
	respFrame, _, err := dt.t.Request(ctx, frame.RequestDevInit(uint64(id)), nil)
	if err != nil {
		return fmt.Errorf("devtable: init device %d: %w", id, err)
	}
	fl := frame.UnpackFields(respFrame)
	if !fl.IsSuccessResponse(frame.OpDevInit) {
		return fmt.Errorf("devtable: init device %d: controller returned failure", id)
	}
	sectors := int(fl.D0)
	blocks := int(fl.D1)
	dt.devices[id] = Device{
		ID:      id,
		Online:  true,
		Sectors: sectors,
		Blocks:  blocks,
		used:    newBitset(sectors * blocks),
	}
	dt.log.WithDevice(id).Debug("device initialized", "sectors", sectors, "blocks", blocks)
	return nil
}

// AllocateBlock scans devices in id order, and within each online device
// scans sector-major/block-minor, returning the first unused slot. It
// does not mark the slot used — per spec.md §9 item 3, only a
// successful write does that, via MarkUsed. Returns ok=false if every
// device is full or none are online.
func (dt *Table) AllocateBlock() (device, sector, block int, ok bool) {
	for i := range dt.devices {
		d := &dt.devices[i]
		if !d.Online {
			continue
		}
		idx := d.used.firstZero()
		if idx < 0 {
			continue
		}
		return d.ID, idx / d.Blocks, idx % d.Blocks, true
	}
	return -1, -1, -1, false
}

// MarkUsed flips the bit for (sector, block) on the given device.
func (dt *Table) MarkUsed(device, sector, block int) {
	d := &dt.devices[device]
	d.used.set(sector*d.Blocks + block)
}

// Unmark clears the bit for (sector, block) on the given device; not
// exercised by the original semantics (no delete operation) but kept
// for symmetry and test setup.
func (dt *Table) Unmark(device, sector, block int) {
	d := &dt.devices[device]
	d.used.clear(sector*d.Blocks + block)
}

// Device returns a copy of the device descriptor for id, or ok=false if
// id is out of range or never probed online.
func (dt *Table) Device(id int) (Device, bool) {
	if id < 0 || id >= frame.MaxDevices {
		return Device{}, false
	}
	d := dt.devices[id]
	return d, d.Online
}

// Teardown sends the power-off request. Safe to call even if InitAll
// never succeeded.
func (dt *Table) Teardown(ctx context.Context) error {
	respFrame, _, err := dt.t.Request(ctx, frame.RequestPowerOff(), nil)
	if err != nil {
		return fmt.Errorf("devtable: power off: %w", err)
	}
	fl := frame.UnpackFields(respFrame)
	if !fl.IsSuccessResponse(frame.OpPowerOff) {
		return fmt.Errorf("devtable: power off: controller returned failure")
	}
	dt.log.Debug("device table powered off")
	return nil
}
