// Package transport implements the TCP link between the client and the
// Lion Cloud device controller: a connection state machine plus a single
// blocking request/response call built on the C1 register-frame codec.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/lioncloud/lcfs/internal/logging"
)

const blockSize = frame.BlockSize

// Transport is the request/response seam C3 and C5 depend on, rather
// than the concrete *Client, so tests can substitute the root package's
// MockTransport without touching a socket.
type Transport interface {
	Request(ctx context.Context, f uint64, payload []byte) (uint64, []byte, error)
}

var _ Transport = (*Client)(nil)

// state is the connection's lifecycle stage.
type state int

const (
	disconnected state = iota
	connecting
	connected
	disconnecting
)

func (s state) String() string {
	switch s {
	case disconnected:
		return "disconnected"
	case connecting:
		return "connecting"
	case connected:
		return "connected"
	case disconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// DialFunc dials the controller; substitutable in tests so a Client can
// be pointed at an in-process fakectrl listener or any other net.Conn
// source without touching a real socket.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Client is a single connection to the controller. It is not safe for
// concurrent use; callers serialize requests the same way the file layer
// serializes calls onto itself.
type Client struct {
	addr        string
	dialTimeout time.Duration
	dial        DialFunc
	log         *logging.Logger

	mu     sync.Mutex
	st     state
	conn   net.Conn
	tagSeq int // correlation counter for WithRequest log scoping
}

// NewClient builds a Client for the given "host:port" address. A nil dial
// function defaults to (&net.Dialer{}).DialContext.
func NewClient(addr string, dialTimeout time.Duration, dial DialFunc, log *logging.Logger) *Client {
	if dial == nil {
		d := &net.Dialer{}
		dial = d.DialContext
	}
	if log == nil {
		log = logging.Default()
	}
	return &Client{
		addr:        addr,
		dialTimeout: dialTimeout,
		dial:        dial,
		log:         log,
		st:          disconnected,
	}
}

// Connect dials the controller. Calling Connect while already connected
// is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st == connected {
		return nil
	}
	c.st = connecting
	dialCtx := ctx
	var cancel context.CancelFunc
	if c.dialTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, c.dialTimeout)
		defer cancel()
	}
	conn, err := c.dial(dialCtx, "tcp", c.addr)
	if err != nil {
		c.st = disconnected
		return &TransportError{Op: "connect", Addr: c.addr, Err: err}
	}
	c.conn = conn
	c.st = connected
	c.log.Debug("connected", "addr", c.addr)
	return nil
}

// Close tears the connection down. Safe to call on an already-closed or
// never-connected Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st != connected || c.conn == nil {
		c.st = disconnected
		return nil
	}
	c.st = disconnecting
	err := c.conn.Close()
	c.conn = nil
	c.st = disconnected
	return err
}

// Connected reports whether the client currently holds a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.st == connected
}

// requestHasPayload and responseHasPayload report which direction (if
// any) carries a 256-byte payload for the given opcode/sub-opcode pair,
// per the wire format table.
func requestHasPayload(op, subOp uint64) bool {
	return op == frame.OpBlockXfer && subOp == frame.XferWrite
}

func responseHasPayload(op, subOp uint64) bool {
	return op == frame.OpBlockXfer && subOp == frame.XferRead
}

// opName names an opcode for log scoping; unrecognized opcodes still get
// a label rather than a bare number.
func opName(op uint64) string {
	switch op {
	case frame.OpPowerOn:
		return "power-on"
	case frame.OpPowerOff:
		return "power-off"
	case frame.OpDevProbe:
		return "dev-probe"
	case frame.OpDevInit:
		return "dev-init"
	case frame.OpBlockXfer:
		return "block-xfer"
	default:
		return "unknown"
	}
}

// Request sends one frame (and, for a block write, its payload) and
// blocks for the matching response. No retries: a short read or write on
// the connection surfaces as a *TransportError wrapping ErrShortIO
// (which the file layer reports as a Protocol-kind error), and leaves
// the connection closed, matching the no-retry
// contract of spec.md's transport module.
func (c *Client) Request(ctx context.Context, f uint64, payload []byte) (uint64, []byte, error) {
	c.mu.Lock()
	if c.st != connected || c.conn == nil {
		c.mu.Unlock()
		return 0, nil, &TransportError{Op: "request", Addr: c.addr, Err: errNotConnected}
	}
	conn := c.conn
	c.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	} else {
		_ = conn.SetDeadline(time.Time{})
	}

	fl := frame.UnpackFields(f)
	reqLog := c.log.WithRequest(c.nextTag(), opName(fl.C0))
	reqLog.Debug("request")

	// Validate the outgoing payload before writing anything: once the
	// frame header hits the wire, the stream can only be kept in sync by
	// also writing (or skipping) exactly the payload the peer expects.
	if requestHasPayload(fl.C0, fl.C2) && len(payload) != blockSize {
		err := &TransportError{Op: "write-payload", Addr: c.addr, Err: fmt.Errorf("payload must be %d bytes, got %d", blockSize, len(payload))}
		reqLog.WithError(err).Error("request failed")
		return 0, nil, err
	}

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], f)
	if _, err := conn.Write(hdr[:]); err != nil {
		c.fail()
		wrapped := shortIOError("write-frame", c.addr, err)
		reqLog.WithError(wrapped).Error("request failed")
		return 0, nil, wrapped
	}

	if requestHasPayload(fl.C0, fl.C2) {
		if _, err := conn.Write(payload); err != nil {
			c.fail()
			wrapped := shortIOError("write-payload", c.addr, err)
			reqLog.WithError(wrapped).Error("request failed")
			return 0, nil, wrapped
		}
	}

	var respHdr [8]byte
	if _, err := io.ReadFull(conn, respHdr[:]); err != nil {
		c.fail()
		wrapped := shortIOError("read-frame", c.addr, err)
		reqLog.WithError(wrapped).Error("request failed")
		return 0, nil, wrapped
	}
	respFrame := binary.BigEndian.Uint64(respHdr[:])
	respFields := frame.UnpackFields(respFrame)

	var respPayload []byte
	if responseHasPayload(respFields.C0, respFields.C2) {
		buf := getBuf()
		if _, err := io.ReadFull(conn, buf); err != nil {
			putBuf(buf)
			c.fail()
			wrapped := shortIOError("read-payload", c.addr, err)
			reqLog.WithError(wrapped).Error("request failed")
			return 0, nil, wrapped
		}
		respPayload = buf
	}

	return respFrame, respPayload, nil
}

// nextTag returns a monotonically increasing correlation id for scoping
// one request's log lines together.
func (c *Client) nextTag() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tagSeq++
	return c.tagSeq
}

// fail tears the connection down after a protocol-level I/O error; the
// caller always gets the error back, this just keeps Client's state
// machine honest (a broken conn cannot stay "connected").
func (c *Client) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.st = disconnected
}

// ReleasePayload returns a response payload buffer obtained from Request
// to the pool. Callers that are done with the bytes should call this;
// skipping it only costs an extra allocation on the next pooled read, it
// is never unsafe to omit.
func ReleasePayload(buf []byte) {
	putBuf(buf)
}
