package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/lioncloud/lcfs/internal/frame"
	"github.com/stretchr/testify/require"
)

// dialPipe returns a DialFunc that hands back one end of a net.Pipe,
// running srv on the other end in a goroutine.
func dialPipe(t *testing.T, srv func(net.Conn)) DialFunc {
	t.Helper()
	client, server := net.Pipe()
	go srv(server)
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return client, nil
	}
}

func readFrame(t *testing.T, conn net.Conn) uint64 {
	t.Helper()
	var hdr [8]byte
	_, err := io.ReadFull(conn, hdr[:])
	require.NoError(t, err)
	return binary.BigEndian.Uint64(hdr[:])
}

func writeFrame(t *testing.T, conn net.Conn, f uint64) {
	t.Helper()
	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], f)
	_, err := conn.Write(hdr[:])
	require.NoError(t, err)
}

func TestRequestPowerOnNoPayload(t *testing.T) {
	dial := dialPipe(t, func(conn net.Conn) {
		defer conn.Close()
		req := readFrame(t, conn)
		fl := frame.UnpackFields(req)
		require.Equal(t, frame.OpPowerOn, fl.C0)
		writeFrame(t, conn, frame.ResponseOK(frame.OpPowerOn, 0, 0, 0, 0))
	})

	c := NewClient("fake:1", time.Second, dial, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	resp, payload, err := c.Request(context.Background(), frame.RequestPowerOn(), nil)
	require.NoError(t, err)
	require.Nil(t, payload)
	fl := frame.UnpackFields(resp)
	require.True(t, fl.IsSuccessResponse(frame.OpPowerOn))
}

func TestRequestBlockReadReturnsPayload(t *testing.T) {
	want := make([]byte, frame.BlockSize)
	for i := range want {
		want[i] = byte(i)
	}
	dial := dialPipe(t, func(conn net.Conn) {
		defer conn.Close()
		readFrame(t, conn)
		writeFrame(t, conn, frame.ResponseOK(frame.OpBlockXfer, 2, frame.XferRead, 3, 9))
		_, err := conn.Write(want)
		require.NoError(t, err)
	})

	c := NewClient("fake:1", time.Second, dial, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	_, payload, err := c.Request(context.Background(), frame.RequestBlockXfer(2, frame.XferRead, 3, 9), nil)
	require.NoError(t, err)
	require.Equal(t, want, payload)
	ReleasePayload(payload)
}

func TestRequestBlockWriteSendsPayload(t *testing.T) {
	sent := make([]byte, frame.BlockSize)
	for i := range sent {
		sent[i] = byte(255 - i)
	}
	received := make(chan []byte, 1)
	dial := dialPipe(t, func(conn net.Conn) {
		defer conn.Close()
		readFrame(t, conn)
		buf := make([]byte, frame.BlockSize)
		_, err := io.ReadFull(conn, buf)
		require.NoError(t, err)
		received <- buf
		writeFrame(t, conn, frame.ResponseOK(frame.OpBlockXfer, 2, frame.XferWrite, 3, 9))
	})

	c := NewClient("fake:1", time.Second, dial, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	_, payload, err := c.Request(context.Background(), frame.RequestBlockXfer(2, frame.XferWrite, 3, 9), sent)
	require.NoError(t, err)
	require.Nil(t, payload)
	require.Equal(t, sent, <-received)
}

func TestRequestWrongPayloadSizeRejected(t *testing.T) {
	srvSawBytes := make(chan int, 1)
	dial := dialPipe(t, func(conn net.Conn) {
		buf := make([]byte, 16)
		n, _ := conn.Read(buf)
		srvSawBytes <- n
		conn.Close()
	})
	c := NewClient("fake:1", time.Second, dial, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	_, _, err := c.Request(context.Background(), frame.RequestBlockXfer(0, frame.XferWrite, 0, 0), []byte{1, 2, 3})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrShortIO), "a rejected payload size is a validation error, not a short I/O failure")

	// Rejecting the payload before writing the frame header must leave the
	// connection untouched and still usable; a header written with no
	// matching payload would desync the stream.
	require.True(t, c.Connected())
	c.Close()
	require.Equal(t, 0, <-srvSawBytes)
}

func TestRequestWithoutConnectFails(t *testing.T) {
	c := NewClient("fake:1", time.Second, dialPipe(t, func(conn net.Conn) { conn.Close() }), nil)
	_, _, err := c.Request(context.Background(), frame.RequestPowerOn(), nil)
	require.Error(t, err)
}

func TestShortReadIsTransportError(t *testing.T) {
	dial := dialPipe(t, func(conn net.Conn) {
		// take the request frame, then write only 4 bytes of the 8-byte
		// response frame header, then close
		readFrame(t, conn)
		conn.Write([]byte{1, 2, 3, 4})
		conn.Close()
	})
	c := NewClient("fake:1", time.Second, dial, nil)
	require.NoError(t, c.Connect(context.Background()))
	defer c.Close()

	_, _, err := c.Request(context.Background(), frame.RequestPowerOn(), nil)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrShortIO))
	require.False(t, c.Connected())
}
