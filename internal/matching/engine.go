// Package matching implements the core matching loop: given an incoming
// order, walk the opposite side in price-time priority, apply self-trade
// prevention, emit fills, and rest any residual quantity. Grounded on the
// teacher's internal/engine/orderbook.go Match() loop shape (walk best
// level, consume FIFO) and on original_source/src/matching.rs for the
// exact self-trade-check-before-fill ordering.
package matching

import (
	"errors"
	"fmt"

	"fenrir/internal/book"
	"fenrir/internal/domain"

	"github.com/rs/zerolog/log"
)

// fillsInitialCapacity mirrors the reference engine's reusable fills
// buffer sizing.
const fillsInitialCapacity = 16

var ErrZeroQuantity = domain.ErrZeroQuantity

// Engine owns the order book and the reusable fills buffer used across
// calls to AddOrder.
type Engine struct {
	book     *book.OrderBook
	fillsBuf []domain.Fill
}

// New constructs a matching engine backed by a fresh book of the given
// arena capacity.
func New(arenaCapacity uint32) *Engine {
	return &Engine{
		book:     book.NewWithCapacity(arenaCapacity),
		fillsBuf: make([]domain.Fill, 0, fillsInitialCapacity),
	}
}

// Book exposes the underlying order book for recovery, snapshot capture,
// and diagnostics.
func (e *Engine) Book() *book.OrderBook { return e.book }

// RestoreFromOrders rebuilds an engine from a flat list of resting
// orders, as produced by book.AllRestingOrders and persisted in a
// snapshot. Orders are inserted directly rather than replayed through
// AddOrder, since a snapshot's orders are already known to be
// non-crossing.
func RestoreFromOrders(orders []domain.Order, arenaCapacity uint32) (*Engine, error) {
	e := New(arenaCapacity)
	for _, order := range orders {
		if err := e.book.InsertOrder(order); err != nil {
			return nil, fmt.Errorf("matching: restore order %d: %w", order.ID, err)
		}
	}
	return e, nil
}

// AddOrder submits a new order to the engine, matching it against the
// opposite side under price-time priority and resting any residual
// quantity.
func (e *Engine) AddOrder(order domain.Order) (domain.AddOrderResult, error) {
	if order.Quantity == 0 {
		return domain.AddOrderResult{}, ErrZeroQuantity
	}

	e.fillsBuf = e.fillsBuf[:0]
	residual := order

	var status domain.OrderStatus
	for {
		makerSide, makerPrice, crosses, ok := e.bestOpposing(residual)
		if !ok || !crosses {
			break
		}

		maker, ok := e.book.PeekFront(makerSide, makerPrice)
		if !ok {
			// Invariant violation: best price existed with no head order.
			log.Error().Msg("matching: best price level had no resting order")
			break
		}

		if maker.TraderID == residual.TraderID {
			status = domain.StatusCancelledSelfTrade
			residual.Quantity = 0
			e.recordSelfTradeCancel()
			return domain.AddOrderResult{Status: status, Fills: e.fillsBuf}, nil
		}

		fillQty := min(residual.Quantity, maker.Quantity)
		fillPrice := maker.Price

		remaining, err := e.book.ReduceFrontQuantity(makerSide, makerPrice, fillQty)
		if err != nil {
			return domain.AddOrderResult{}, fmt.Errorf("matching: reduce front quantity: %w", err)
		}

		e.fillsBuf = append(e.fillsBuf, domain.Fill{
			TakerOrderID:     residual.ID,
			MakerOrderID:     maker.ID,
			Price:            fillPrice,
			Quantity:         fillQty,
			MakerFullyFilled: remaining == 0,
		})

		residual.Quantity -= fillQty
		if residual.Quantity == 0 {
			status = domain.StatusFullyFilled
			return domain.AddOrderResult{Status: status, Fills: e.fillsBuf}, nil
		}
	}

	if err := e.book.InsertOrder(residual); err != nil {
		return domain.AddOrderResult{}, fmt.Errorf("matching: insert residual: %w", err)
	}
	if len(e.fillsBuf) > 0 {
		status = domain.StatusPartiallyFilled
	} else {
		status = domain.StatusResting
	}
	return domain.AddOrderResult{Status: status, Fills: e.fillsBuf}, nil
}

// recordSelfTradeCancel exists purely to give the self-trade branch above
// a single named seam for future metrics/logging without cluttering the
// main loop.
func (e *Engine) recordSelfTradeCancel() {
	log.Debug().Msg("matching: self-trade prevented, incoming order cancelled")
}

// bestOpposing returns the opposite side, its best price, and whether the
// incoming order crosses it.
func (e *Engine) bestOpposing(incoming domain.Order) (side domain.Side, price int64, crosses bool, ok bool) {
	if incoming.Side == domain.Bid {
		price, ok = e.book.BestAsk()
		if !ok {
			return domain.Ask, 0, false, false
		}
		return domain.Ask, price, incoming.Price >= price, true
	}
	price, ok = e.book.BestBid()
	if !ok {
		return domain.Bid, 0, false, false
	}
	return domain.Bid, price, incoming.Price <= price, true
}

// CancelOrder delegates to the book; errors surface unchanged.
func (e *Engine) CancelOrder(id uint64) (domain.Order, error) {
	return e.book.CancelOrder(id)
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// ErrNotImplemented documents command kinds not dispatched by Apply; kept
// as a sentinel rather than a panic so recovery replay (which ignores
// errors) never risks crashing on an unexpected command variant.
var ErrNotImplemented = errors.New("matching: unsupported command")

// Apply dispatches a generic EngineCommand to AddOrder or CancelOrder,
// used by both the live matcher goroutine and WAL replay during recovery.
func (e *Engine) Apply(cmd domain.EngineCommand) (domain.AddOrderResult, error) {
	switch c := cmd.(type) {
	case domain.NewOrderCommand:
		return e.AddOrder(c.Order)
	case domain.CancelOrderCommand:
		_, err := e.CancelOrder(c.OrderID)
		return domain.AddOrderResult{}, err
	default:
		return domain.AddOrderResult{}, ErrNotImplemented
	}
}
