package gateway

import (
	"net"
	"testing"
	"time"

	"fenrir/internal/domain"
	"fenrir/internal/protocol"
	"fenrir/internal/ring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tomb "gopkg.in/tomb.v2"
)

func popWithin(t *testing.T, c *ring.Consumer[domain.EngineCommand], timeout time.Duration) domain.EngineCommand {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cmd, err := c.Pop(); err == nil {
			return cmd
		}
	}
	t.Fatal("timed out waiting for ring to produce a command")
	return nil
}

// TestHandleConnectionTimestampsNewOrder exercises scenario (g): a New
// Order frame written to a connection is decoded, timestamped, and
// observed on the ring's consumer with a nonzero timestamp, even though
// the wire format itself never carries one.
func TestHandleConnectionTimestampsNewOrder(t *testing.T) {
	producer, consumer := ring.New[domain.EngineCommand](16)
	gw := New("unused", producer, 1)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go gw.handleConnection(&tomb.Tomb{}, serverConn)

	order, err := domain.NewOrder(1, 2, domain.Bid, 100, 10, 0)
	require.NoError(t, err)
	var buf [protocol.NewOrderSize]byte
	require.NoError(t, protocol.EncodeNewOrder(buf[:], order))
	_, err = clientConn.Write(buf[:])
	require.NoError(t, err)

	cmd := popWithin(t, consumer, time.Second)
	newOrder, ok := cmd.(domain.NewOrderCommand)
	require.True(t, ok)
	assert.Equal(t, uint64(1), newOrder.Order.ID)
	assert.Greater(t, newOrder.Order.Timestamp, uint64(0))
}

func TestHandleConnectionDecodesCancelOrder(t *testing.T) {
	producer, consumer := ring.New[domain.EngineCommand](16)
	gw := New("unused", producer, 1)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go gw.handleConnection(&tomb.Tomb{}, serverConn)

	var buf [protocol.CancelOrderSize]byte
	require.NoError(t, protocol.EncodeCancelOrder(buf[:], 7))
	_, err := clientConn.Write(buf[:])
	require.NoError(t, err)

	cmd := popWithin(t, consumer, time.Second)
	cancel, ok := cmd.(domain.CancelOrderCommand)
	require.True(t, ok)
	assert.Equal(t, uint64(7), cancel.OrderID)
}

// TestHandleConnectionDropsMalformedFrameAndContinues asserts the
// resolved open question from §9: a decode error drops the offending
// frame and keeps the connection open for the next one. handleConnection
// is called directly, once per frame, to keep the assertion independent
// of the worker pool's scheduling.
func TestHandleConnectionDropsMalformedFrameAndContinues(t *testing.T) {
	producer, consumer := ring.New[domain.EngineCommand](16)
	gw := New("unused", producer, 1)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	// An unknown message type is rejected on its single header byte
	// alone; handleConnection drops it and returns without touching the
	// connection's remaining state.
	writeErr := make(chan error, 1)
	go func() { _, err := clientConn.Write([]byte{0xFF}); writeErr <- err }()
	require.NoError(t, gw.handleConnection(&tomb.Tomb{}, serverConn))
	require.NoError(t, <-writeErr)

	var okBuf [protocol.CancelOrderSize]byte
	require.NoError(t, protocol.EncodeCancelOrder(okBuf[:], 9))
	go func() { _, err := clientConn.Write(okBuf[:]); writeErr <- err }()
	require.NoError(t, gw.handleConnection(&tomb.Tomb{}, serverConn))
	require.NoError(t, <-writeErr)

	cmd := popWithin(t, consumer, time.Second)
	cancel, ok := cmd.(domain.CancelOrderCommand)
	require.True(t, ok)
	assert.Equal(t, uint64(9), cancel.OrderID)
}
