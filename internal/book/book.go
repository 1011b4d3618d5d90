// Package book implements the order book: two side-keyed ordered maps from
// price to PriceLevel, an id index into the arena, and cached best-bid /
// best-ask. Price levels are stored in a github.com/tidwall/btree ordered
// map, following the teacher's choice of an ordered BTreeG over price
// levels (internal/engine/orderbook.go), generalized from float64 price
// keys to int64 tick keys and from []*Order slices to arena-backed FIFO
// queues.
package book

import (
	"errors"

	"fenrir/internal/arena"
	"fenrir/internal/domain"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/btree"
)

var (
	ErrDuplicateOrderID   = errors.New("book: duplicate order id")
	ErrOrderNotFound      = errors.New("book: order not found")
	ErrPriceLevelNotFound = errors.New("book: price level not found")
	ErrFillExceedsQty     = errors.New("book: fill exceeds resting quantity")
)

// levelEntry is the keyed value stored in the side's ordered map.
type levelEntry struct {
	price int64
	level arena.PriceLevel
}

type levels = btree.BTreeG[*levelEntry]

// OrderBook holds the arena-backed FIFO queues for both sides of a single
// instrument plus the id -> arena-index lookup and cached best prices.
type OrderBook struct {
	arena *arena.Arena

	bids *levels // keyed greatest-price-first
	asks *levels // keyed least-price-first

	ids map[uint64]uint32 // order id -> arena index

	bestBid    int64
	haveBid    bool
	bestAsk    int64
	haveAsk    bool
	buyQty     uint64
	sellQty    uint64
	buyOrders  uint64
	sellOrders uint64
}

// New constructs an empty order book backed by a fresh arena of
// arena.DefaultCapacity slots.
func New() *OrderBook {
	return NewWithCapacity(arena.DefaultCapacity)
}

// NewWithCapacity constructs an empty order book backed by an arena of the
// given capacity.
func NewWithCapacity(capacity uint32) *OrderBook {
	bids := btree.NewBTreeG(func(a, b *levelEntry) bool {
		return a.price > b.price // greatest first: best bid is the max key
	})
	asks := btree.NewBTreeG(func(a, b *levelEntry) bool {
		return a.price < b.price // least first: best ask is the min key
	})
	return &OrderBook{
		arena: arena.NewWithCapacity(capacity),
		bids:  bids,
		asks:  asks,
		ids:   make(map[uint64]uint32),
	}
}

func (b *OrderBook) sideLevels(side domain.Side) *levels {
	if side == domain.Bid {
		return b.bids
	}
	return b.asks
}

// BestBid returns the highest resting bid price, if any.
func (b *OrderBook) BestBid() (int64, bool) { return b.bestBid, b.haveBid }

// BestAsk returns the lowest resting ask price, if any.
func (b *OrderBook) BestAsk() (int64, bool) { return b.bestAsk, b.haveAsk }

// OrderCount returns the total number of resting orders across both sides.
func (b *OrderBook) OrderCount() int { return len(b.ids) }

// BidDepth returns the number of resting bid orders and their aggregate
// quantity, for diagnostics and monitoring.
func (b *OrderBook) BidDepth() (orders, qty uint64) { return b.buyOrders, b.buyQty }

// AskDepth returns the number of resting ask orders and their aggregate
// quantity, for diagnostics and monitoring.
func (b *OrderBook) AskDepth() (orders, qty uint64) { return b.sellOrders, b.sellQty }

// InsertOrder adds a new resting order to the book. The order's id must
// not already be known.
func (b *OrderBook) InsertOrder(order domain.Order) error {
	if _, exists := b.ids[order.ID]; exists {
		return ErrDuplicateOrderID
	}

	idx, err := b.arena.Alloc(order)
	if err != nil {
		return err
	}

	lvls := b.sideLevels(order.Side)
	entry, ok := lvls.Get(&levelEntry{price: order.Price})
	if !ok {
		entry = &levelEntry{price: order.Price, level: arena.NewPriceLevel()}
		lvls.Set(entry)
	}
	b.arena.PushBack(&entry.level, idx)
	b.ids[order.ID] = idx

	b.updateBestOnInsert(order.Side, order.Price)
	b.bookkeepInsert(order.Side, order.Quantity)

	return nil
}

func (b *OrderBook) bookkeepInsert(side domain.Side, qty uint64) {
	if side == domain.Bid {
		b.buyQty += qty
		b.buyOrders++
	} else {
		b.sellQty += qty
		b.sellOrders++
	}
}

func (b *OrderBook) updateBestOnInsert(side domain.Side, price int64) {
	if side == domain.Bid {
		if !b.haveBid || price > b.bestBid {
			b.bestBid = price
			b.haveBid = true
		}
	} else {
		if !b.haveAsk || price < b.bestAsk {
			b.bestAsk = price
			b.haveAsk = true
		}
	}
}

// rescanBest recomputes the cached best price for side from the first
// key of the side's ordered map (the highest bid or the lowest ask).
// Used whenever the previously-best level is deleted.
func (b *OrderBook) rescanBest(side domain.Side) {
	lvls := b.sideLevels(side)
	first, ok := lvls.Min()
	if side == domain.Bid {
		b.haveBid = ok
		if ok {
			b.bestBid = first.price
		}
	} else {
		b.haveAsk = ok
		if ok {
			b.bestAsk = first.price
		}
	}
}

// CancelOrder removes a resting order by id, returning its current
// (possibly partially filled) state.
func (b *OrderBook) CancelOrder(id uint64) (domain.Order, error) {
	idx, ok := b.ids[id]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	node := b.arena.Get(idx)
	order := nodeToOrder(node)

	lvls := b.sideLevels(order.Side)
	entry, ok := lvls.Get(&levelEntry{price: order.Price})
	if !ok {
		// Invariant violation: id index points somewhere the level index
		// disagrees with. This is a bug, not a recoverable input error.
		log.Error().Uint64("orderID", id).Msg("book: id index referenced a missing price level")
		return domain.Order{}, ErrPriceLevelNotFound
	}

	b.arena.Remove(&entry.level, idx)
	b.arena.Dealloc(idx)
	delete(b.ids, id)

	bestWasThisLevel := (order.Side == domain.Bid && b.haveBid && entry.price == b.bestBid) ||
		(order.Side == domain.Ask && b.haveAsk && entry.price == b.bestAsk)

	if entry.level.Count == 0 {
		lvls.Delete(entry)
		if bestWasThisLevel {
			b.rescanBest(order.Side)
		}
	}

	if order.Side == domain.Bid {
		b.buyQty -= order.Quantity
		b.buyOrders--
	} else {
		b.sellQty -= order.Quantity
		b.sellOrders--
	}

	return order, nil
}

// PeekFront returns the order resting at the head of the given (side,
// price) level, without removing it.
func (b *OrderBook) PeekFront(side domain.Side, price int64) (domain.Order, bool) {
	lvls := b.sideLevels(side)
	entry, ok := lvls.Get(&levelEntry{price: price})
	if !ok || entry.level.Head == arena.Null {
		return domain.Order{}, false
	}
	return nodeToOrder(b.arena.Get(entry.level.Head)), true
}

// ReduceFrontQuantity subtracts q from the quantity of the head order at
// (side, price), returning its new remaining quantity. When the head
// reaches zero it is unlinked, deallocated, and removed from the id
// index; if the level then becomes empty it is deleted and the side's
// best price is recomputed.
func (b *OrderBook) ReduceFrontQuantity(side domain.Side, price int64, q uint64) (uint64, error) {
	lvls := b.sideLevels(side)
	entry, ok := lvls.Get(&levelEntry{price: price})
	if !ok {
		return 0, ErrPriceLevelNotFound
	}
	if entry.level.Head == arena.Null {
		return 0, ErrPriceLevelNotFound
	}

	idx := entry.level.Head
	node := b.arena.Get(idx)
	if q > node.Quantity {
		return 0, ErrFillExceedsQty
	}

	node.Quantity -= q
	entry.level.Qty -= q
	if side == domain.Bid {
		b.buyQty -= q
	} else {
		b.sellQty -= q
	}

	remaining := node.Quantity
	if remaining == 0 {
		id := node.ID
		b.arena.Remove(&entry.level, idx)
		b.arena.Dealloc(idx)
		delete(b.ids, id)
		if side == domain.Bid {
			b.buyOrders--
		} else {
			b.sellOrders--
		}

		if entry.level.Count == 0 {
			wasBest := (side == domain.Bid && b.haveBid && price == b.bestBid) ||
				(side == domain.Ask && b.haveAsk && price == b.bestAsk)
			lvls.Delete(entry)
			if wasBest {
				b.rescanBest(side)
			}
		}
	}

	return remaining, nil
}

// AllRestingOrders returns every resting order in a deterministic order:
// side (bids then asks), then price in the side's priority order, then
// FIFO arrival within a level. Used by snapshot capture and tests.
func (b *OrderBook) AllRestingOrders() []domain.Order {
	var out []domain.Order
	b.bids.Scan(func(entry *levelEntry) bool {
		for idx := entry.level.Head; idx != arena.Null; idx = b.arena.Get(idx).Next {
			out = append(out, nodeToOrder(b.arena.Get(idx)))
		}
		return true
	})
	b.asks.Scan(func(entry *levelEntry) bool {
		for idx := entry.level.Head; idx != arena.Null; idx = b.arena.Get(idx).Next {
			out = append(out, nodeToOrder(b.arena.Get(idx)))
		}
		return true
	})
	return out
}

// Arena exposes the backing arena for diagnostics (occupancy invariant
// checks in tests).
func (b *OrderBook) Arena() *arena.Arena { return b.arena }

func nodeToOrder(n *arena.Node) domain.Order {
	return domain.Order{
		ID:        n.ID,
		TraderID:  n.TraderID,
		Side:      n.Side,
		Price:     n.Price,
		Quantity:  n.Quantity,
		Timestamp: n.Timestamp,
	}
}
