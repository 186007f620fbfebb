package lcfs

import (
	"sync/atomic"
	"time"
)

// Metrics tracks ambient operational statistics for a FileSystem. This
// is observability, not the spec-mandated cache hit/miss counters —
// those live on cache.Cache and are never routed through here (see
// DESIGN.md).
type Metrics struct {
	FilesOpened atomic.Uint64

	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ProtocolErrors atomic.Uint64
	CapacityErrors atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new, running metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordOpen records a successful Open.
func (m *Metrics) RecordOpen() {
	m.FilesOpened.Add(1)
}

// RecordRead records a completed Read of n bytes.
func (m *Metrics) RecordRead(n int) {
	m.ReadOps.Add(1)
	m.ReadBytes.Add(uint64(n))
}

// RecordWrite records a completed Write of n bytes.
func (m *Metrics) RecordWrite(n int) {
	m.WriteOps.Add(1)
	m.WriteBytes.Add(uint64(n))
}

// RecordError tallies a failed operation by its error kind.
func (m *Metrics) RecordError(kind ErrorKind) {
	switch kind {
	case KindProtocol, KindController:
		m.ProtocolErrors.Add(1)
	case KindCapacity:
		m.CapacityErrors.Add(1)
	}
}

// Stop marks the filesystem as shut down.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time, safe-to-read copy of Metrics.
type MetricsSnapshot struct {
	FilesOpened    uint64
	ReadOps        uint64
	WriteOps       uint64
	ReadBytes      uint64
	WriteBytes     uint64
	ProtocolErrors uint64
	CapacityErrors uint64
	UptimeNs       uint64
}

// Snapshot returns a MetricsSnapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		FilesOpened:    m.FilesOpened.Load(),
		ReadOps:        m.ReadOps.Load(),
		WriteOps:       m.WriteOps.Load(),
		ReadBytes:      m.ReadBytes.Load(),
		WriteBytes:     m.WriteBytes.Load(),
		ProtocolErrors: m.ProtocolErrors.Load(),
		CapacityErrors: m.CapacityErrors.Load(),
	}
	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}
	return snap
}

// Reset zeroes every counter and restarts the uptime clock; useful for
// tests that want a clean metrics instance without a new FileSystem.
func (m *Metrics) Reset() {
	m.FilesOpened.Store(0)
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.ProtocolErrors.Store(0)
	m.CapacityErrors.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
