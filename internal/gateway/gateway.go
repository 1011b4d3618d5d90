package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"fenrir/internal/domain"
	"fenrir/internal/protocol"
	"fenrir/internal/ring"
	"fenrir/internal/utils"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	defaultWorkerPoolSize = 10
	defaultReadTimeout    = 30 * time.Second
	// maxFrameSize is the largest frame the gateway ever reads off the
	// wire: the 48-byte Execution Report frame, the largest size
	// protocol.MessageSize declares. An inbound Execution Report is read
	// in full and then dropped as malformed by protocol.DecodeMessage.
	maxFrameSize = protocol.ExecutionReportSize
)

var (
	// ErrImproperTask is returned by the pool worker when handed a task
	// that isn't a net.Conn; a programming error, never expected in
	// practice since this gateway only ever enqueues connections.
	ErrImproperTask = errors.New("gateway: improper task type")
)

// clientSession tracks the one TCP connection the gateway is currently
// servicing, tagged with a random session id. Per §5's Non-goals (no
// multi-producer ingress) the core data plane only ever has one live
// session, so the teacher's mutex-guarded session map is reduced here to
// a single mutex-guarded session pointer: a newly accepted connection
// replaces the one active session rather than being added alongside it.
type clientSession struct {
	conn      net.Conn
	sessionID uuid.UUID
}

// Gateway is the TCP ingress half of the external interface: it accepts
// the single client connection, frames wire-protocol messages, assigns
// ingress timestamps to new orders, and pushes them onto the SPSC ring
// for the matcher goroutine to consume.
type Gateway struct {
	listenAddr string

	producer *ring.Producer[domain.EngineCommand]
	pool     utils.WorkerPool

	sessionsLock sync.Mutex
	session      *clientSession

	shuttingDown atomic.Bool
	cancel       context.CancelFunc
}

// New constructs a Gateway that will push decoded commands onto producer.
func New(listenAddr string, producer *ring.Producer[domain.EngineCommand], poolSize int) *Gateway {
	if poolSize <= 0 {
		poolSize = defaultWorkerPoolSize
	}
	return &Gateway{
		listenAddr: listenAddr,
		producer:   producer,
		pool:       utils.NewWorkerPool(poolSize),
	}
}

// ShuttingDown reports whether the shared shutdown flag has been set,
// either by the client disconnecting or by an external signal.
func (g *Gateway) ShuttingDown() bool { return g.shuttingDown.Load() }

// RequestShutdown sets the shared shutdown flag, observed by Run's accept
// loop and by the matcher goroutine, which drains the ring and exits.
func (g *Gateway) RequestShutdown() {
	g.shuttingDown.Store(true)
	if g.cancel != nil {
		g.cancel()
	}
}

// Run accepts connections until ctx is cancelled or the client
// disconnects, framing every New Order / Cancel Order message and
// pushing it onto the ring. It blocks until the listener stops.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)
	defer g.RequestShutdown()

	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", g.listenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen on %s: %w", g.listenAddr, err)
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("gateway: error closing listener")
		}
	}()

	t.Go(func() error {
		g.pool.Setup(t, g.handleConnection)
		return nil
	})

	log.Info().Str("addr", g.listenAddr).Msg("gateway: listening")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn, err := acceptWithContext(ctx, listener)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("gateway: error accepting connection")
			continue
		}

		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("gateway: client connected")
		g.setSession(conn)
		g.pool.AddTask(conn)
	}
}

// acceptWithContext runs the blocking Accept in its own goroutine and
// races it against ctx: it returns ctx.Err() as soon as ctx is
// cancelled, without waiting for Accept. The abandoned Accept goroutine
// is released when Run's deferred listener.Close makes Accept fail.
func acceptWithContext(ctx context.Context, listener net.Listener) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := listener.Accept()
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

func (g *Gateway) setSession(conn net.Conn) {
	g.sessionsLock.Lock()
	defer g.sessionsLock.Unlock()
	g.session = &clientSession{conn: conn, sessionID: uuid.New()}
}

func (g *Gateway) clearSession(conn net.Conn) {
	g.sessionsLock.Lock()
	defer g.sessionsLock.Unlock()
	if g.session != nil && g.session.conn == conn {
		g.session = nil
	}
}

// handleConnection reads exactly one frame off conn, decodes and
// timestamps it, pushes it onto the ring, and requeues conn for its next
// frame. A decode error drops the offending frame and logs it, leaving
// the connection open, per §9's resolved open question; a read failure
// (EOF, reset, deadline) ends the session and — since this gateway
// services exactly one client — requests shutdown so the matcher
// goroutine can drain and exit.
func (g *Gateway) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperTask
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	if err := conn.SetReadDeadline(time.Now().Add(defaultReadTimeout)); err != nil {
		log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("gateway: failed setting read deadline")
	}

	header := make([]byte, 1)
	if _, err := io.ReadFull(conn, header); err != nil {
		g.endSession(conn, err)
		return nil
	}

	size, err := protocol.MessageSize(header[0])
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("gateway: dropping frame with unknown message type")
		g.pool.AddTask(conn)
		return nil
	}

	buf := make([]byte, maxFrameSize)
	buf[0] = header[0]
	if _, err := io.ReadFull(conn, buf[1:size]); err != nil {
		g.endSession(conn, err)
		return nil
	}

	cmd, err := protocol.DecodeMessage(buf[:size])
	if err != nil {
		log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("gateway: dropping malformed frame")
		g.pool.AddTask(conn)
		return nil
	}

	if newOrder, ok := cmd.(domain.NewOrderCommand); ok {
		newOrder.Order.Timestamp = uint64(time.Now().UnixNano())
		cmd = newOrder
	}

	if err := g.pushWithRetry(t, cmd); err != nil {
		return nil
	}

	g.pool.AddTask(conn)
	return nil
}

// pushWithRetry pushes cmd onto the ring, cooperatively yielding while
// full, until it succeeds or the tomb starts dying.
func (g *Gateway) pushWithRetry(t *tomb.Tomb, cmd domain.EngineCommand) error {
	for {
		select {
		case <-t.Dying():
			return t.Err()
		default:
		}
		if err := g.producer.Push(cmd); err == nil {
			return nil
		}
		runtime.Gosched()
	}
}

func (g *Gateway) endSession(conn net.Conn, err error) {
	if errors.Is(err, io.EOF) {
		log.Info().Str("remote", conn.RemoteAddr().String()).Msg("gateway: client disconnected")
	} else {
		log.Error().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("gateway: connection read error")
	}
	if cerr := conn.Close(); cerr != nil {
		log.Error().Err(cerr).Str("remote", conn.RemoteAddr().String()).Msg("gateway: error closing connection")
	}
	g.clearSession(conn)
	g.RequestShutdown()
}
