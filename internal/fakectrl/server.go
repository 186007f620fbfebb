// Package fakectrl is an in-process stand-in for the Lion Cloud device
// controller, used by integration tests to drive a real net.Conn round
// trip through the client's codec, transport, device table, cache, and
// file layer. The real controller is explicitly out of scope (spec.md
// treats it as an external system); this package exists purely as a
// test double, adapted from the teacher's sharded in-memory backend and
// its request-dispatch shape.
package fakectrl

import (
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/lioncloud/lcfs/internal/logging"
)

// DeviceSpec describes one device to bring online: its sector/block
// geometry. Devices not listed are reported offline by DevProbe.
type DeviceSpec struct {
	ID      int
	Sectors int
	Blocks  int
}

// Server is the fake controller: one TCP listener, a fixed set of
// devices, and a dispatch loop that speaks the exact wire protocol of
// internal/transport.
type Server struct {
	listener net.Listener
	log      *logging.Logger

	mu        sync.Mutex
	poweredOn bool
	devices   map[int]*deviceStore
	mask      uint64

	wg sync.WaitGroup
}

// New starts listening on 127.0.0.1:0 and returns a Server configured
// with the given devices. Callers must call Close when done.
func New(devices []DeviceSpec, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.Default()
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		listener: ln,
		log:      log,
		devices:  make(map[int]*deviceStore, len(devices)),
	}
	for _, d := range devices {
		s.devices[d.ID] = newDeviceStore(d.Sectors, d.Blocks)
		s.mask |= 1 << uint(d.ID)
	}
	s.wg.Add(1)
	go s.acceptLoop()
	return s, nil
}

// Addr returns the "host:port" string a transport.Client should dial.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close stops accepting new connections and waits for the accept loop
// to exit. Connections already accepted are not closed by Close; each
// one's goroutine ends when its peer disconnects or an I/O on it fails.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		req := binary.BigEndian.Uint64(hdr[:])
		fl := frame.UnpackFields(req)

		if fl.C0 == frame.OpBlockXfer && fl.C2 == frame.XferWrite {
			payload := make([]byte, frame.BlockSize)
			if _, err := io.ReadFull(conn, payload); err != nil {
				return
			}
			if !s.dispatchWrite(conn, fl, payload) {
				return
			}
			continue
		}

		if !s.dispatch(conn, fl) {
			return
		}
	}
}

func (s *Server) dispatch(conn net.Conn, fl frame.Fields) bool {
	switch fl.C0 {
	case frame.OpPowerOn:
		s.mu.Lock()
		s.poweredOn = true
		s.mu.Unlock()
		return s.reply(conn, frame.ResponseOK(frame.OpPowerOn, 0, 0, 0, 0))
	case frame.OpPowerOff:
		s.mu.Lock()
		s.poweredOn = false
		s.mu.Unlock()
		return s.reply(conn, frame.ResponseOK(frame.OpPowerOff, 0, 0, 0, 0))
	case frame.OpDevProbe:
		return s.reply(conn, frame.ResponseOK(frame.OpDevProbe, 0, 0, s.mask, 0))
	case frame.OpDevInit:
		devID := int(fl.C1)
		s.mu.Lock()
		ds, ok := s.devices[devID]
		s.mu.Unlock()
		if !ok {
			return s.reply(conn, frame.Pack(0, 0, frame.OpDevInit, fl.C1, 0, 0, 0))
		}
		return s.reply(conn, frame.ResponseOK(frame.OpDevInit, uint64(devID), 0, uint64(ds.sectors), uint64(ds.blocks)))
	case frame.OpBlockXfer:
		if fl.C2 == frame.XferRead {
			return s.dispatchRead(conn, fl)
		}
		return s.reply(conn, frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, 0, 0))
	default:
		return s.reply(conn, frame.Pack(0, 0, fl.C0, 0, 0, 0, 0))
	}
}

func (s *Server) dispatchRead(conn net.Conn, fl frame.Fields) bool {
	devID := int(fl.C1)
	s.mu.Lock()
	ds, ok := s.devices[devID]
	s.mu.Unlock()
	if !ok {
		return s.reply(conn, frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1))
	}
	data, ok := ds.read(int(fl.D1), int(fl.D0))
	if !ok {
		return s.reply(conn, frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1))
	}
	resp := frame.ResponseOK(frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1)
	if !s.reply(conn, resp) {
		return false
	}
	_, err := conn.Write(data)
	return err == nil
}

func (s *Server) dispatchWrite(conn net.Conn, fl frame.Fields, payload []byte) bool {
	devID := int(fl.C1)
	s.mu.Lock()
	ds, ok := s.devices[devID]
	s.mu.Unlock()
	if !ok {
		return s.reply(conn, frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1))
	}
	if !ds.write(int(fl.D1), int(fl.D0), payload) {
		return s.reply(conn, frame.Pack(0, 0, frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1))
	}
	return s.reply(conn, frame.ResponseOK(frame.OpBlockXfer, fl.C1, fl.C2, fl.D0, fl.D1))
}

func (s *Server) reply(conn net.Conn, f uint64) bool {
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], f)
	_, err := conn.Write(hdr[:])
	return err == nil
}
