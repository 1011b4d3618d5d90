// Package gateway implements the external collaborators the core spec
// leaves as interfaces: a TCP listener that frames the wire protocol and
// stamps ingress timestamps, and a UDP multicast publisher for execution
// reports. Grounded on the teacher's internal/net/server.go (zerolog +
// tomb.v2 + client-session map + accept loop shape) and
// original_source/src/gateway.rs (ring wiring, timestamp assignment,
// shutdown-then-drain order).
package gateway

import (
	"fmt"
	"net"

	"fenrir/internal/protocol"

	"github.com/rs/zerolog/log"
)

// Publisher sends execution reports as UDP datagrams to a multicast
// group. One report is one datagram, matching §6's wire protocol.
// Publisher is owned and driven exclusively by the matcher goroutine; it
// is never touched by the ingress goroutine.
type Publisher struct {
	conn      *net.UDPConn
	seq       uint32
	encodeBuf [protocol.ExecutionReportSize]byte
}

// NewPublisher dials a non-blocking UDP socket bound for writes to the
// given multicast address, e.g. "239.0.0.1:9002".
func NewPublisher(multicastAddr string) (*Publisher, error) {
	addr, err := net.ResolveUDPAddr("udp", multicastAddr)
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve multicast addr %s: %w", multicastAddr, err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("gateway: dial multicast %s: %w", multicastAddr, err)
	}
	return &Publisher{conn: conn}, nil
}

// Close releases the underlying UDP socket.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// PublishFill assigns the next monotonic sequence number and sends an
// execution report datagram for one fill. Sequence number wrap-around is
// a wrapping add, not fatal, per §5's ordering guarantees.
func (p *Publisher) PublishFill(takerID, makerID uint64, price int64, quantity, timestamp uint64) error {
	p.seq++
	report := protocol.ExecutionReport{
		SeqNum:       p.seq,
		TakerOrderID: takerID,
		MakerOrderID: makerID,
		Price:        price,
		Quantity:     quantity,
		Timestamp:    timestamp,
	}
	if err := protocol.EncodeExecutionReport(p.encodeBuf[:], report); err != nil {
		return fmt.Errorf("gateway: encode execution report: %w", err)
	}

	// Non-blocking send in the steady state: UDP writes to a connected
	// socket do not block on the network, only on local buffer pressure,
	// which the OS handles without involving this goroutine.
	if _, err := p.conn.Write(p.encodeBuf[:]); err != nil {
		log.Error().Err(err).Msg("gateway: failed to publish execution report")
		return fmt.Errorf("gateway: publish execution report: %w", err)
	}
	return nil
}
