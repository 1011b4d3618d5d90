package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"fenrir/internal/domain"
	"fenrir/internal/matching"
	"fenrir/internal/snapshot"
	"fenrir/internal/wal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// corruptRecordCRC flips a single bit at byteOffset within the WAL file,
// simulating bit-rot in a record's CRC field without going through the
// package's own encode path.
func corruptRecordCRC(t *testing.T, path string, byteOffset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	b := make([]byte, 1)
	_, err = f.ReadAt(b, byteOffset)
	require.NoError(t, err)
	b[0] ^= 0x01
	_, err = f.WriteAt(b, byteOffset)
	require.NoError(t, err)
}

const testArenaCapacity = 1024

func bid(id uint64, price int64, qty uint64) domain.Order {
	o, _ := domain.NewOrder(id, id, domain.Bid, price, qty, 0)
	return o
}

func ask(id uint64, price int64, qty uint64) domain.Order {
	o, _ := domain.NewOrder(id, id, domain.Ask, price, qty, 0)
	return o
}

func TestRecoverEmptyDataDir(t *testing.T) {
	dir := t.TempDir()

	result, err := Recover(dir, testArenaCapacity)
	require.NoError(t, err)
	defer result.Wal.Close()

	assert.Equal(t, uint64(0), result.Wal.RecordCount())
	assert.Empty(t, result.Engine.Book().AllRestingOrders())
}

func TestRecoverWalOnlyNoSnapshot(t *testing.T) {
	dir := t.TempDir()

	// Write a WAL directly, as if a prior process had appended commands
	// before crashing without ever snapshotting.
	w, err := wal.Open(filepath.Join(dir, WalFileName))
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: bid(1, 100, 10)})
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: ask(2, 105, 5)})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	result, err := Recover(dir, testArenaCapacity)
	require.NoError(t, err)
	defer result.Wal.Close()

	assert.Equal(t, uint64(2), result.Wal.RecordCount())
	orders := result.Engine.Book().AllRestingOrders()
	assert.Len(t, orders, 2)

	bestBid, ok := result.Engine.Book().BestBid()
	require.True(t, ok)
	assert.Equal(t, int64(100), bestBid)

	bestAsk, ok := result.Engine.Book().BestAsk()
	require.True(t, ok)
	assert.Equal(t, int64(105), bestAsk)
}

// TestRecoverSnapshotPlusWalReplay exercises scenario (f) from the
// testable-properties list: an engine snapshotted at record 2, with
// three more WAL records (including a cancel) appended afterward, must
// recover to reflect all five operations.
func TestRecoverSnapshotPlusWalReplay(t *testing.T) {
	dir := t.TempDir()

	engine := matching.New(testArenaCapacity)
	_, err := engine.AddOrder(bid(1, 100, 10))
	require.NoError(t, err)
	_, err = engine.AddOrder(ask(2, 200, 10))
	require.NoError(t, err)

	snap := snapshot.Capture(engine, 2)
	snapDir := filepath.Join(dir, SnapshotDirName)
	_, err = snap.Save(snapDir)
	require.NoError(t, err)

	w, err := wal.Open(filepath.Join(dir, WalFileName))
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: bid(1, 100, 10)})
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: ask(2, 200, 10)})
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: bid(3, 150, 5)})
	require.NoError(t, err)
	_, err = w.Append(domain.CancelOrderCommand{OrderID: 1})
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: ask(4, 150, 2)})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	result, err := Recover(dir, testArenaCapacity)
	require.NoError(t, err)
	defer result.Wal.Close()

	assert.Equal(t, uint64(5), result.Wal.RecordCount())

	// id=1's resting 10 @ 100 was cancelled; id=3's 5 @ 150 was filled
	// for 2 by id=4's new ask, leaving id=3 resting with 3 and id=2's
	// 10 @ 200 untouched (nothing crosses it).
	orders := result.Engine.Book().AllRestingOrders()
	byID := make(map[uint64]domain.Order)
	for _, o := range orders {
		byID[o.ID] = o
	}
	assert.NotContains(t, byID, uint64(1))
	assert.Equal(t, uint64(3), byID[3].Quantity)
	assert.Equal(t, uint64(10), byID[2].Quantity)
}

func TestRecoverTruncatesCorruptTail(t *testing.T) {
	dir := t.TempDir()

	w, err := wal.Open(filepath.Join(dir, WalFileName))
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: bid(1, 100, 10)})
	require.NoError(t, err)
	_, err = w.Append(domain.NewOrderCommand{Order: ask(2, 105, 5)})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Flip a bit in the second record's CRC field, matching scenario (e).
	// Each New Order record is 48 bytes (8-byte header + 40-byte
	// payload); the CRC occupies bytes [4:8) of the record.
	corruptRecordCRC(t, filepath.Join(dir, WalFileName), 48+4)

	result, err := Recover(dir, testArenaCapacity)
	require.NoError(t, err)
	defer result.Wal.Close()

	assert.Equal(t, uint64(1), result.Wal.RecordCount())
	assert.Equal(t, uint64(48), result.Wal.WritePos())
}
