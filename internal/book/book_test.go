package book

import (
	"testing"

	"fenrir/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bid(id uint64, price int64, qty uint64) domain.Order {
	o, _ := domain.NewOrder(id, id, domain.Bid, price, qty, id)
	return o
}

func ask(id uint64, price int64, qty uint64) domain.Order {
	o, _ := domain.NewOrder(id, id, domain.Ask, price, qty, id)
	return o
}

func TestInsertOrderUpdatesBestMonotonically(t *testing.T) {
	b := NewWithCapacity(64)

	require.NoError(t, b.InsertOrder(bid(1, 100, 10)))
	price, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, int64(100), price)

	require.NoError(t, b.InsertOrder(bid(2, 95, 5)))
	price, _ = b.BestBid()
	assert.Equal(t, int64(100), price, "lower bid must not move best_bid down")

	require.NoError(t, b.InsertOrder(bid(3, 105, 5)))
	price, _ = b.BestBid()
	assert.Equal(t, int64(105), price)
}

func TestInsertOrderRejectsDuplicateID(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(bid(1, 100, 10)))
	err := b.InsertOrder(bid(1, 101, 5))
	assert.ErrorIs(t, err, ErrDuplicateOrderID)
}

func TestCancelOrderRemovesAndRescansBest(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(bid(1, 100, 10)))
	require.NoError(t, b.InsertOrder(bid(2, 95, 5)))

	removed, err := b.CancelOrder(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), removed.ID)

	price, ok := b.BestBid()
	assert.True(t, ok)
	assert.Equal(t, int64(95), price, "best_bid must rescan to the next-highest level")
}

func TestCancelOrderNotFound(t *testing.T) {
	b := NewWithCapacity(64)
	_, err := b.CancelOrder(999)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestReduceFrontQuantityPartial(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(ask(1, 100, 10)))

	remaining, err := b.ReduceFrontQuantity(domain.Ask, 100, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(6), remaining)
	assert.Equal(t, 1, b.OrderCount())
}

func TestReduceFrontQuantityFullyConsumesLevelAndRescans(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(ask(1, 100, 10)))
	require.NoError(t, b.InsertOrder(ask(2, 105, 5)))

	remaining, err := b.ReduceFrontQuantity(domain.Ask, 100, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), remaining)

	price, ok := b.BestAsk()
	assert.True(t, ok)
	assert.Equal(t, int64(105), price)
	assert.Equal(t, 1, b.OrderCount())
}

func TestReduceFrontQuantityExceedsHead(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(ask(1, 100, 10)))

	_, err := b.ReduceFrontQuantity(domain.Ask, 100, 11)
	assert.ErrorIs(t, err, ErrFillExceedsQty)
}

func TestReduceFrontQuantityMissingLevel(t *testing.T) {
	b := NewWithCapacity(64)
	_, err := b.ReduceFrontQuantity(domain.Bid, 100, 1)
	assert.ErrorIs(t, err, ErrPriceLevelNotFound)
}

func TestFIFOWithinLevel(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(ask(1, 100, 10)))
	require.NoError(t, b.InsertOrder(ask(2, 100, 10)))
	require.NoError(t, b.InsertOrder(ask(3, 100, 10)))

	front, ok := b.PeekFront(domain.Ask, 100)
	require.True(t, ok)
	assert.Equal(t, uint64(1), front.ID, "earliest order must be at the head")

	_, err := b.ReduceFrontQuantity(domain.Ask, 100, 10)
	require.NoError(t, err)

	front, ok = b.PeekFront(domain.Ask, 100)
	require.True(t, ok)
	assert.Equal(t, uint64(2), front.ID)
}

func TestBookNeverCrosses(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(bid(1, 99, 10)))
	require.NoError(t, b.InsertOrder(ask(2, 100, 10)))

	bb, okB := b.BestBid()
	ba, okA := b.BestAsk()
	require.True(t, okB)
	require.True(t, okA)
	assert.Less(t, bb, ba)
}

func TestAllRestingOrdersDeterministicOrder(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(bid(1, 99, 10)))
	require.NoError(t, b.InsertOrder(bid(2, 100, 5)))
	require.NoError(t, b.InsertOrder(ask(3, 101, 5)))

	all := b.AllRestingOrders()
	require.Len(t, all, 3)
	// Bids come first, best (100) before 99; then asks.
	assert.Equal(t, uint64(2), all[0].ID)
	assert.Equal(t, uint64(1), all[1].ID)
	assert.Equal(t, uint64(3), all[2].ID)
}

func TestArenaOccupancyMatchesIDIndex(t *testing.T) {
	b := NewWithCapacity(64)
	require.NoError(t, b.InsertOrder(bid(1, 99, 10)))
	require.NoError(t, b.InsertOrder(ask(2, 100, 5)))
	assert.Equal(t, uint32(b.OrderCount()), b.Arena().Count())

	_, err := b.CancelOrder(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(b.OrderCount()), b.Arena().Count())
}
