package lcfs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lioncloud/lcfs/internal/cache"
	"github.com/lioncloud/lcfs/internal/devtable"
	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/lioncloud/lcfs/internal/logging"
	"github.com/lioncloud/lcfs/internal/transport"
)

// wrapTransportErr turns a transport-layer failure into a Protocol-kind
// *Error, mapping a short frame read/write — transport.ErrShortIO — onto
// the exported ErrShortFrame sentinel so callers can errors.Is against it
// without importing internal/transport themselves.
func wrapTransportErr(op string, err error) *Error {
	if errors.Is(err, transport.ErrShortIO) {
		err = fmt.Errorf("%w: %w", ErrShortFrame, err)
	}
	return WrapError(op, KindProtocol, err)
}

// blockLoc is one block's coordinate on the controller: which device,
// which sector within the device, which block within the sector.
type blockLoc struct {
	device, sector, block int
}

// handle is one open file's state. Two Open calls against the same path
// get two independent handles and two independent, empty files — there
// is no path-keyed file table, matching the original's lack of one.
type handle struct {
	name     string
	position int64
	size     int64
	blocks   []blockLoc // blocks[i] is the location backing byte range [i*256, (i+1)*256)
}

// FileSystem is the client-side view of the Lion Cloud block-addressed
// filesystem: a transport connection, the device table it was probed
// into, a block cache sitting in front of both, and the open file
// handles built on top.
type FileSystem struct {
	t       transport.Transport
	devices *devtable.Table
	blocks  *cache.Cache
	metrics *Metrics
	log     *logging.Logger

	bringUpOnce sync.Once
	bringUpErr  error

	mu      sync.Mutex
	handles map[int32]*handle
	nextFh  int32
}

// NewFileSystem builds a FileSystem around the given transport. The
// controller power-on/probe/init handshake is deferred to the first
// Open call (bringUp), not performed here.
func NewFileSystem(t transport.Transport, cacheBlocks int, log *logging.Logger) *FileSystem {
	if log == nil {
		log = logging.Default()
	}
	return &FileSystem{
		t:       t,
		devices: devtable.New(t, log),
		blocks:  cache.New(cacheBlocks),
		metrics: NewMetrics(),
		log:     log,
		handles: make(map[int32]*handle),
	}
}

// Metrics returns the filesystem's operation counters.
func (fs *FileSystem) Metrics() *Metrics {
	return fs.metrics
}

func (fs *FileSystem) bringUp(ctx context.Context) error {
	fs.bringUpOnce.Do(func() {
		fs.bringUpErr = fs.devices.InitAll(ctx)
	})
	return fs.bringUpErr
}

// Open brings the controller up on first use and allocates a new,
// independent, empty file handle for path. Re-opening a path already
// open elsewhere does not share state with the earlier handle.
func (fs *FileSystem) Open(ctx context.Context, path string) (int32, error) {
	if err := fs.bringUp(ctx); err != nil {
		return -1, WrapError("open", KindController, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fh := fs.nextFh
	fs.nextFh++
	fs.handles[fh] = &handle{name: path}
	fs.metrics.RecordOpen()
	fs.log.WithHandle(fh).Debug("file opened", "path", path)
	return fh, nil
}

func (fs *FileSystem) lookup(fh int32) (*handle, error) {
	h, ok := fs.handles[fh]
	if !ok {
		return nil, NewHandleError("lookup", fh, KindUsage, "file handle not open")
	}
	return h, nil
}

// readBlockThrough fetches one 256-byte block, consulting the cache
// before the controller and populating the cache on a miss — the Go
// equivalent of the original's lcloud_getcache/client_lcloud_bus_request/
// lcloud_putcache sequence, addressed directly by block coordinate
// instead of via a save-position/seek/read/restore-position detour.
func (fs *FileSystem) readBlockThrough(ctx context.Context, loc blockLoc) ([]byte, error) {
	key := cache.Key{Device: loc.device, Sector: loc.sector, Block: loc.block}
	if data, ok := fs.blocks.Get(key); ok {
		return data, nil
	}

	f := frame.RequestBlockXfer(uint64(loc.device), frame.XferRead, uint64(loc.block), uint64(loc.sector))
	respFrame, payload, err := fs.t.Request(ctx, f, nil)
	if err != nil {
		fs.metrics.RecordError(KindProtocol)
		return nil, wrapTransportErr("read-block", err)
	}
	fl := frame.UnpackFields(respFrame)
	if !fl.IsSuccessResponse(frame.OpBlockXfer) {
		fs.metrics.RecordError(KindController)
		return nil, NewDeviceError("read-block", loc.device, KindController, "controller reported read failure")
	}

	fs.blocks.Put(key, payload)
	return payload, nil
}

// writeBlockThrough sends one 256-byte block to the controller, updates
// the cache, and marks the block used in the device table.
func (fs *FileSystem) writeBlockThrough(ctx context.Context, loc blockLoc, data []byte) error {
	f := frame.RequestBlockXfer(uint64(loc.device), frame.XferWrite, uint64(loc.block), uint64(loc.sector))
	respFrame, _, err := fs.t.Request(ctx, f, data)
	if err != nil {
		fs.metrics.RecordError(KindProtocol)
		return wrapTransportErr("write-block", err)
	}
	fl := frame.UnpackFields(respFrame)
	if !fl.IsSuccessResponse(frame.OpBlockXfer) {
		fs.metrics.RecordError(KindController)
		return NewDeviceError("write-block", loc.device, KindController, "controller reported write failure")
	}

	fs.blocks.Put(cache.Key{Device: loc.device, Sector: loc.sector, Block: loc.block}, data)
	fs.devices.MarkUsed(loc.device, loc.sector, loc.block)
	return nil
}

// Read copies up to len(buf) bytes starting at the file's current
// position, stopping at the file's size, and advances position by the
// number of bytes read. A read straddling a block boundary, a read
// confined to one block, and a read of a final partial block are all
// the same loop iteration here — unlike the original's four duplicated
// branches, one block read plus an offset/length clamp covers every
// case.
func (fs *FileSystem) Read(ctx context.Context, fh int32, buf []byte) (int, error) {
	// mu is held for the whole call, not just the handle-table lookup:
	// transport.Client.Request and the cache are not safe for concurrent
	// use, and this client holds exactly one connection to the
	// controller, so every request across every handle is already
	// serialized in practice.
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, err := fs.lookup(fh)
	if err != nil {
		return 0, err
	}

	var read int
	for read < len(buf) && h.position < h.size {
		blockIdx := int(h.position / frame.BlockSize)
		offset := int(h.position % frame.BlockSize)
		loc := h.blocks[blockIdx]

		data, err := fs.readBlockThrough(ctx, loc)
		if err != nil {
			return read, err
		}

		n := frame.BlockSize - offset
		if remaining := len(buf) - read; n > remaining {
			n = remaining
		}
		if fileRemaining := int(h.size - h.position); n > fileRemaining {
			n = fileRemaining
		}

		copy(buf[read:read+n], data[offset:offset+n])
		read += n
		h.position += int64(n)
	}

	fs.metrics.RecordRead(read)
	fs.log.WithHandle(fh).Debug("read", "bytes", read)
	return read, nil
}

// Write copies all of buf into the file starting at its current
// position, allocating new blocks from the device table as the file
// grows and read-modify-writing any block that is only partially
// overwritten. It advances position and size by the number of bytes
// written. Returns a Capacity-kind error if the device table has no
// free block left when one is needed.
func (fs *FileSystem) Write(ctx context.Context, fh int32, buf []byte) (int, error) {
	// See Read for why mu stays held across the controller round trips:
	// one transport.Client connection, serialized.
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h, err := fs.lookup(fh)
	if err != nil {
		return 0, err
	}

	var written int
	for written < len(buf) {
		blockIdx := int(h.position / frame.BlockSize)
		offset := int(h.position % frame.BlockSize)
		n := frame.BlockSize - offset
		if remaining := len(buf) - written; n > remaining {
			n = remaining
		}

		existing := blockIdx < len(h.blocks)
		var loc blockLoc
		var blockData []byte

		if existing {
			loc = h.blocks[blockIdx]
			if n < frame.BlockSize {
				data, err := fs.readBlockThrough(ctx, loc)
				if err != nil {
					return written, err
				}
				blockData = data
			} else {
				blockData = make([]byte, frame.BlockSize)
			}
		} else {
			device, sector, block, ok := fs.devices.AllocateBlock()
			if !ok {
				fs.metrics.RecordError(KindCapacity)
				return written, NewError("write", KindCapacity, "no free block on any device")
			}
			loc = blockLoc{device: device, sector: sector, block: block}
			blockData = make([]byte, frame.BlockSize)
		}

		copy(blockData[offset:offset+n], buf[written:written+n])

		if err := fs.writeBlockThrough(ctx, loc, blockData); err != nil {
			return written, err
		}

		if existing {
			h.blocks[blockIdx] = loc
		} else {
			h.blocks = append(h.blocks, loc)
		}

		written += n
		h.position += int64(n)
		if h.position > h.size {
			h.size = h.position
		}
	}

	fs.metrics.RecordWrite(written)
	fs.log.WithHandle(fh).Debug("write", "bytes", written)
	return written, nil
}

// Seek moves the file's position to off, which must not exceed the
// file's current size.
func (fs *FileSystem) Seek(fh int32, off int64) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, err := fs.lookup(fh)
	if err != nil {
		return -1, err
	}
	if off < 0 || off > h.size {
		return -1, NewHandleError("seek", fh, KindUsage, "offset beyond end of file")
	}
	h.position = off
	return off, nil
}

// Close releases a file handle. Closing an unopened or already-closed
// handle is an error.
func (fs *FileSystem) Close(fh int32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.lookup(fh); err != nil {
		return err
	}
	delete(fs.handles, fh)
	fs.log.WithHandle(fh).Debug("file closed")
	return nil
}

// Shutdown closes every remaining open handle, powers the controller
// off, logs the final cache statistics, and stops the metrics clock. This is best
// effort: a failed power-off still leaves the cache closed and the
// metrics stopped, since the in-process state has nothing left to wait
// on once the handle table is cleared.
func (fs *FileSystem) Shutdown(ctx context.Context) error {
	fs.mu.Lock()
	for fh := range fs.handles {
		delete(fs.handles, fh)
	}
	fs.mu.Unlock()

	teardownErr := fs.devices.Teardown(ctx)

	stats := fs.blocks.Close()
	fs.log.Info("cache closed", "hits", stats.Hits, "misses", stats.Misses, "hit_ratio", stats.HitRatio)
	fs.metrics.Stop()

	if teardownErr != nil {
		return WrapError("shutdown", KindController, teardownErr)
	}
	return nil
}
