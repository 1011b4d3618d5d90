// Package arena implements the fixed-size order-node slab backing every
// OrderBook price level: O(1) allocation and O(1) intrusive doubly-linked
// FIFO queues over 32-bit indices instead of pointers.
package arena

import (
	"errors"
	"math"

	"fenrir/internal/domain"
)

// Null is the sentinel index meaning "no node" — analogous to a nil
// pointer, but representable in the 32-bit index fields that replace
// pointers throughout this package.
const Null uint32 = math.MaxUint32

// DefaultCapacity is the slot count used when no explicit capacity is
// given; at 56 bytes per Node this is a 56 MiB slab.
const DefaultCapacity = 1 << 20

// ErrFull is returned by Alloc when the free list is exhausted.
var ErrFull = errors.New("arena: full")

// Node is the arena-resident form of an order: all Order fields plus the
// doubly-linked-list pointers (as indices) used both for level FIFO
// membership and for the free list when vacant. Field order is chosen to
// keep the struct compact: a Node is 56 bytes, and it is neither padded
// to 64 bytes nor aligned to a 64-byte cache line.
type Node struct {
	ID        uint64
	TraderID  uint64
	Price     int64
	Quantity  uint64
	Timestamp uint64
	Side      domain.Side
	Prev      uint32
	Next      uint32
}

// Arena is a dense slab of Nodes with an embedded singly-linked free list
// threaded through Next, and intrusive doubly-linked-list operations for
// per-price-level FIFO queues.
type Arena struct {
	slots    []Node
	freeHead uint32
	count    uint32
}

// New constructs an Arena with DefaultCapacity slots.
func New() *Arena {
	return NewWithCapacity(DefaultCapacity)
}

// NewWithCapacity constructs an Arena with the given number of slots, all
// initially vacant and chained 0 -> 1 -> ... -> (n-1) -> Null.
func NewWithCapacity(capacity uint32) *Arena {
	a := &Arena{
		slots: make([]Node, capacity),
	}
	for i := uint32(0); i < capacity; i++ {
		if i+1 < capacity {
			a.slots[i].Next = i + 1
		} else {
			a.slots[i].Next = Null
		}
	}
	if capacity == 0 {
		a.freeHead = Null
	}
	return a
}

// Capacity returns the total number of slots.
func (a *Arena) Capacity() uint32 { return uint32(len(a.slots)) }

// Count returns the number of currently allocated slots.
func (a *Arena) Count() uint32 { return a.count }

// Alloc pops a slot off the free list, fills it with the order's fields,
// and returns its index. Returns ErrFull if the arena has no vacant slots.
func (a *Arena) Alloc(order domain.Order) (uint32, error) {
	if a.freeHead == Null {
		return Null, ErrFull
	}
	idx := a.freeHead
	slot := &a.slots[idx]
	a.freeHead = slot.Next

	slot.ID = order.ID
	slot.TraderID = order.TraderID
	slot.Price = order.Price
	slot.Quantity = order.Quantity
	slot.Timestamp = order.Timestamp
	slot.Side = order.Side
	slot.Prev = Null
	slot.Next = Null

	a.count++
	return idx, nil
}

// Dealloc returns a slot to the free list. The caller must guarantee the
// slot is not currently linked into any PriceLevel.
func (a *Arena) Dealloc(idx uint32) {
	slot := &a.slots[idx]
	slot.Next = a.freeHead
	slot.Prev = Null
	a.freeHead = idx
	a.count--
}

// Get returns a pointer to the node at idx for direct field access. The
// caller is responsible for idx validity (arena indices are trusted,
// never attacker-controlled — they originate from the book's own id
// index).
func (a *Arena) Get(idx uint32) *Node {
	return &a.slots[idx]
}

// PriceLevel is the FIFO queue bookkeeping for one (side, price) level:
// head/tail arena indices, order count, and aggregate resting quantity.
type PriceLevel struct {
	Head  uint32
	Tail  uint32
	Count uint32
	Qty   uint64
}

// NewPriceLevel returns an empty level with both ends at Null.
func NewPriceLevel() PriceLevel {
	return PriceLevel{Head: Null, Tail: Null}
}

// PushBack appends the node at idx to the tail of level's FIFO queue.
func (a *Arena) PushBack(level *PriceLevel, idx uint32) {
	node := a.Get(idx)
	node.Prev = level.Tail
	node.Next = Null

	if level.Tail != Null {
		a.Get(level.Tail).Next = idx
	} else {
		level.Head = idx
	}
	level.Tail = idx
	level.Count++
	level.Qty += node.Quantity
}

// PopFront removes and returns the index at the head of level's queue, or
// Null if the level is empty. The returned node is unlinked but not
// deallocated — callers typically reduce its quantity and only dealloc it
// once empty, or dealloc it immediately if fully consumed.
func (a *Arena) PopFront(level *PriceLevel) uint32 {
	idx := level.Head
	if idx == Null {
		return Null
	}
	a.Remove(level, idx)
	return idx
}

// Remove unlinks the node at idx from level's doubly-linked list,
// updating head/tail/count/qty bookkeeping. idx must currently be linked
// into level.
func (a *Arena) Remove(level *PriceLevel, idx uint32) {
	node := a.Get(idx)

	if node.Prev != Null {
		a.Get(node.Prev).Next = node.Next
	} else {
		level.Head = node.Next
	}
	if node.Next != Null {
		a.Get(node.Next).Prev = node.Prev
	} else {
		level.Tail = node.Prev
	}

	level.Count--
	level.Qty -= node.Quantity

	node.Prev = Null
	node.Next = Null
}
