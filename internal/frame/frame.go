// Package frame implements the Lion Cloud register-frame codec: packing
// and unpacking the 64-bit control word exchanged with the device
// controller, in both directions, over the wire.
package frame

// Field widths, MSB first: b0(4) b1(4) c0(8) c1(8) c2(8) d0(16) d1(16).
// Bit offsets (LSB=0): d0=[0,16) d1=[16,32) c2=[32,40) c1=[40,48)
// c0=[48,56) b1=[56,60) b0=[60,64). The top 4 bits are reserved zero.
const (
	d0Shift = 0
	d1Shift = 16
	c2Shift = 32
	c1Shift = 40
	c0Shift = 48
	b1Shift = 56
	b0Shift = 60

	d0Mask = 0xFFFF
	d1Mask = 0xFFFF
	c2Mask = 0xFF
	c1Mask = 0xFF
	c0Mask = 0xFF
	b1Mask = 0xF
	b0Mask = 0xF
)

// Opcodes (c0).
const (
	OpPowerOn   uint64 = 0
	OpDevProbe  uint64 = 1
	OpDevInit   uint64 = 2
	OpBlockXfer uint64 = 3
	OpPowerOff  uint64 = 4
)

// Sub-opcodes (c2, block-xfer only).
const (
	XferRead  uint64 = 0
	XferWrite uint64 = 1
)

// BlockSize is the fixed payload size of every block transferred between
// client and controller.
const BlockSize = 256

// MaxDevices is the width of the device-presence mask on the wire and is
// part of the external contract (spec.md's "16 devices" constant).
const MaxDevices = 16

// Pack OR-combines the seven register fields into one 64-bit frame.
// Callers are responsible for ensuring each field fits within its width;
// passing a wider value is a programmer error and the frame will carry
// truncated high bits.
func Pack(b0, b1, c0, c1, c2, d0, d1 uint64) uint64 {
	return (b0 & b0Mask << b0Shift) |
		(b1 & b1Mask << b1Shift) |
		(c0 & c0Mask << c0Shift) |
		(c1 & c1Mask << c1Shift) |
		(c2 & c2Mask << c2Shift) |
		(d0 & d0Mask << d0Shift) |
		(d1 & d1Mask << d1Shift)
}

// Unpack masks and shifts every field back out of a packed frame.
func Unpack(f uint64) (b0, b1, c0, c1, c2, d0, d1 uint64) {
	b0 = (f >> b0Shift) & b0Mask
	b1 = (f >> b1Shift) & b1Mask
	c0 = (f >> c0Shift) & c0Mask
	c1 = (f >> c1Shift) & c1Mask
	c2 = (f >> c2Shift) & c2Mask
	d0 = (f >> d0Shift) & d0Mask
	d1 = (f >> d1Shift) & d1Mask
	return
}

// Fields is the unpacked, named form of a register frame, useful when a
// caller wants to pass the result of Unpack around without seven loose
// uint64s.
type Fields struct {
	B0, B1, C0, C1, C2, D0, D1 uint64
}

// UnpackFields is Unpack returning a Fields value.
func UnpackFields(f uint64) Fields {
	b0, b1, c0, c1, c2, d0, d1 := Unpack(f)
	return Fields{B0: b0, B1: b1, C0: c0, C1: c1, C2: c2, D0: d0, D1: d1}
}

// IsSuccessResponse reports whether the unpacked fields describe a
// successfully-acknowledged response (b0=1, b1=1) to the given opcode.
func (fl Fields) IsSuccessResponse(wantOp uint64) bool {
	return fl.B0 == 1 && fl.B1 == 1 && fl.C0 == wantOp
}

// RequestPowerOn builds the power-on request frame.
func RequestPowerOn() uint64 {
	return Pack(0, 0, OpPowerOn, 0, 0, 0, 0)
}

// RequestPowerOff builds the power-off request frame.
func RequestPowerOff() uint64 {
	return Pack(0, 0, OpPowerOff, 0, 0, 0, 0)
}

// RequestDevProbe builds the device-probe request frame.
func RequestDevProbe() uint64 {
	return Pack(0, 0, OpDevProbe, 0, 0, 0, 0)
}

// RequestDevInit builds the device-init request frame for device devID.
func RequestDevInit(devID uint64) uint64 {
	return Pack(0, 0, OpDevInit, devID, 0, 0, 0)
}

// RequestBlockXfer builds a block-transfer request frame.
func RequestBlockXfer(devID, subOp, block, sector uint64) uint64 {
	return Pack(0, 0, OpBlockXfer, devID, subOp, block, sector)
}

// ResponseOK builds a successful response frame echoing the given opcode
// and parameters — used by fake controllers in tests.
func ResponseOK(op, c1, c2, d0, d1 uint64) uint64 {
	return Pack(1, 1, op, c1, c2, d0, d1)
}
