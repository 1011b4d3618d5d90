package gateway

import (
	"net"
	"testing"

	"fenrir/internal/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPublisherSendsDecodableReports exercises scenario (h)'s publish
// half: sends against a loopback UDP listener (standing in for a
// multicast group, which the sender side treats identically — it is
// simply a destination address) and decodes what arrives.
func TestPublisherSendsDecodableReports(t *testing.T) {
	listener, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	pub, err := NewPublisher(listener.LocalAddr().String())
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.PublishFill(10, 20, 100, 5, 123456))
	require.NoError(t, pub.PublishFill(11, 21, 101, 6, 123457))

	buf := make([]byte, protocol.ExecutionReportSize)

	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)
	report, err := protocol.DecodeExecutionReport(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(1), report.SeqNum)
	assert.Equal(t, uint64(10), report.TakerOrderID)
	assert.Equal(t, uint64(20), report.MakerOrderID)
	assert.Equal(t, int64(100), report.Price)
	assert.Equal(t, uint64(5), report.Quantity)
	assert.Equal(t, uint64(123456), report.Timestamp)

	n, _, err = listener.ReadFromUDP(buf)
	require.NoError(t, err)
	report, err = protocol.DecodeExecutionReport(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, uint32(2), report.SeqNum)
}
