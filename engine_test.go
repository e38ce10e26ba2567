package tableorder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/0x5487/tableorder/protocol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *MemoryPublishLog) {
	t.Helper()

	book, publishLog := createTestOrderBook(t)
	engine := NewEngine(book, opts...)
	engine.Start()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = engine.Shutdown(ctx)
	})

	return engine, publishLog
}

func TestEngine(t *testing.T) {
	ctx := context.Background()

	t.Run("table lifecycle", func(t *testing.T) {
		engine, _ := createTestEngine(t)

		require.NoError(t, engine.AddItem(ctx, 5, "Cola", 2))
		require.NoError(t, engine.AddItem(ctx, 5, "Bier", 1))

		total, err := engine.TotalForTable(ctx, 5)
		require.NoError(t, err)
		assert.True(t, decimal.RequireFromString("11").Equal(total))

		tables, err := engine.ActiveTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{5}, tables)

		bill, err := engine.Bill(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, bill.Lines, 2)

		records, err := engine.CompleteTable(ctx, 5)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, "Cola", records[0].ItemName)
		assert.Equal(t, 2, records[0].Quantity)

		tables, err = engine.ActiveTables(ctx)
		require.NoError(t, err)
		assert.Empty(t, tables)

		log, err := engine.CompletedLog(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, records, log)

		log, err = engine.CompletedLog(ctx, records[0].SeqID)
		require.NoError(t, err)
		assert.Equal(t, records[1:], log)

		stats, err := engine.GetStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, stats.CompletedRecords)
		assert.Equal(t, 0, stats.ActiveTables)
	})

	t.Run("errors pass through", func(t *testing.T) {
		engine, _ := createTestEngine(t)

		assert.ErrorIs(t, engine.AddItem(ctx, 5, "Pizza", 1), ErrInvalidReference)
		assert.ErrorIs(t, engine.RemoveItem(ctx, 40, "Cola", 1), ErrUnknownTable)
		assert.ErrorIs(t, engine.RemoveItem(ctx, 5, "Cola", -1), ErrInvalidParam)

		_, err := engine.TotalForTable(ctx, 0)
		assert.ErrorIs(t, err, ErrUnknownTable)
	})

	t.Run("concurrent waiters on one table", func(t *testing.T) {
		engine, _ := createTestEngine(t)

		const waiters = 20
		const perWaiter = 50

		var wg sync.WaitGroup
		wg.Add(waiters)
		for i := 0; i < waiters; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < perWaiter; j++ {
					_ = engine.AddItem(ctx, 9, "Cola", 1)
				}
			}()
		}
		wg.Wait()

		bill, err := engine.Bill(ctx, 9)
		require.NoError(t, err)
		require.Len(t, bill.Lines, 1)
		assert.Equal(t, waiters*perWaiter, bill.Lines[0].Quantity)
	})
}

func TestEngineExecuteCommand(t *testing.T) {
	ctx := context.Background()

	cbor, err := protocol.NewCBORSerializer()
	require.NoError(t, err)

	serializers := map[string]protocol.Serializer{
		"json": &protocol.DefaultJSONSerializer{},
		"cbor": cbor,
	}

	for name, serializer := range serializers {
		t.Run(name, func(t *testing.T) {
			engine, _ := createTestEngine(t, WithSerializer(serializer))

			cmd, err := protocol.NewCommand(serializer, 10, protocol.CmdAddItem, &protocol.AddItemCommand{TableNumber: 3, ItemName: "Wein", Quantity: 2})
			require.NoError(t, err)
			_, err = engine.ExecuteCommand(ctx, cmd)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), engine.LastCmdSeqID())

			cmd, err = protocol.NewCommand(serializer, 11, protocol.CmdRemoveItem, &protocol.RemoveItemCommand{TableNumber: 3, ItemName: "Wein", Quantity: 1})
			require.NoError(t, err)
			_, err = engine.ExecuteCommand(ctx, cmd)
			require.NoError(t, err)

			cmd, err = protocol.NewCommand(serializer, 12, protocol.CmdCompleteTable, &protocol.CompleteTableCommand{TableNumber: 3})
			require.NoError(t, err)
			records, err := engine.ExecuteCommand(ctx, cmd)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, 1, records[0].Quantity)
			assert.Equal(t, uint64(12), engine.LastCmdSeqID())
		})
	}

	t.Run("duplicate and stale envelopes are skipped", func(t *testing.T) {
		engine, publishLog := createTestEngine(t)
		serializer := &protocol.DefaultJSONSerializer{}

		add := func(seqID uint64) {
			cmd, err := protocol.NewCommand(serializer, seqID, protocol.CmdAddItem, &protocol.AddItemCommand{TableNumber: 3, ItemName: "Wein", Quantity: 2})
			require.NoError(t, err)
			_, err = engine.ExecuteCommand(ctx, cmd)
			require.NoError(t, err)
		}

		add(10)
		add(10)
		add(9)
		assert.Equal(t, uint64(10), engine.LastCmdSeqID())
		assert.Equal(t, 1, publishLog.Count())

		bill, err := engine.Bill(ctx, 3)
		require.NoError(t, err)
		require.Len(t, bill.Lines, 1)
		assert.Equal(t, 2, bill.Lines[0].Quantity)

		// unnumbered commands always apply
		require.NoError(t, engine.AddItem(ctx, 3, "Wein", 1))
		add(11)
		assert.Equal(t, uint64(11), engine.LastCmdSeqID())

		bill, err = engine.Bill(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 5, bill.Lines[0].Quantity)
	})

	t.Run("invalid payload", func(t *testing.T) {
		engine, publishLog := createTestEngine(t)

		_, err := engine.ExecuteCommand(ctx, &protocol.Command{SeqID: 1, Type: protocol.CmdAddItem, Payload: []byte("{broken")})
		assert.ErrorIs(t, err, ErrInvalidParam)

		// rejected commands still advance the command sequence
		assert.Equal(t, uint64(1), engine.LastCmdSeqID())

		require.Equal(t, 1, publishLog.Count())
		assert.Equal(t, LogTypeReject, publishLog.Get(0).Type)
		assert.Equal(t, protocol.RejectReasonInvalidPayload, publishLog.Get(0).RejectReason)
	})

	t.Run("unknown command type", func(t *testing.T) {
		engine, _ := createTestEngine(t)

		_, err := engine.ExecuteCommand(ctx, &protocol.Command{Type: protocol.CmdUnknown})
		assert.ErrorIs(t, err, ErrInvalidParam)

		_, err = engine.ExecuteCommand(ctx, nil)
		assert.ErrorIs(t, err, ErrInvalidParam)
	})
}

func TestEngineShutdown(t *testing.T) {
	ctx := context.Background()

	t.Run("rejects after shutdown", func(t *testing.T) {
		engine, _ := createTestEngine(t)

		require.NoError(t, engine.AddItem(ctx, 1, "Cola", 1))
		require.NoError(t, engine.Shutdown(ctx))

		assert.ErrorIs(t, engine.AddItem(ctx, 1, "Cola", 1), ErrShutdown)
		_, err := engine.ActiveTables(ctx)
		assert.ErrorIs(t, err, ErrShutdown)

		// second shutdown is a no-op
		assert.NoError(t, engine.Shutdown(ctx))
	})

	t.Run("drains pending commands", func(t *testing.T) {
		engine, publishLog := createTestEngine(t)

		var wg sync.WaitGroup
		wg.Add(10)
		for i := 0; i < 10; i++ {
			go func(table int) {
				defer wg.Done()
				_ = engine.AddItem(ctx, table, "Bier", 1)
			}(i + 1)
		}

		assert.Eventually(t, func() bool {
			return publishLog.Count() >= 5
		}, time.Second, time.Millisecond)

		timeoutCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		require.NoError(t, engine.Shutdown(timeoutCtx))
		wg.Wait()

		// every accepted command was applied exactly once
		seen := map[int]int{}
		for _, log := range publishLog.Logs() {
			seen[log.TableNumber]++
		}
		for table, n := range seen {
			assert.Equal(t, 1, n, "table %d", table)
		}
	})

	t.Run("caller timeout", func(t *testing.T) {
		engine, _ := createTestEngine(t)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		// the command may or may not be applied, but the caller returns
		err := engine.AddItem(cancelled, 1, "Cola", 1)
		if err != nil {
			assert.ErrorIs(t, err, ErrTimeout)
		}
	})
}

func TestEngineSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "snapshot")

	engine, _ := createTestEngine(t)

	serializer := &protocol.DefaultJSONSerializer{}
	cmd, err := protocol.NewCommand(serializer, 41, protocol.CmdAddItem, &protocol.AddItemCommand{TableNumber: 12, ItemName: "Cola", Quantity: 2})
	require.NoError(t, err)
	_, err = engine.ExecuteCommand(ctx, cmd)
	require.NoError(t, err)

	require.NoError(t, engine.AddItem(ctx, 3, "Bier", 1))
	require.NoError(t, engine.AddItem(ctx, 8, "Wein", 1))
	_, err = engine.CompleteTable(ctx, 8)
	require.NoError(t, err)

	meta, err := engine.TakeSnapshot(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, SnapshotSchemaVersion, meta.SchemaVersion)
	assert.Equal(t, uint64(41), meta.LastCmdSeqID)
	assert.Equal(t, uint64(4), meta.SeqID)
	assert.Equal(t, EngineVersion, meta.EngineVersion)

	assert.FileExists(t, filepath.Join(dir, "snapshot.bin"))
	assert.FileExists(t, filepath.Join(dir, "metadata.json"))
	assert.NoDirExists(t, dir+".tmp")

	t.Run("restore into a fresh engine", func(t *testing.T) {
		restored, _ := createTestEngine(t)

		restoredMeta, err := restored.RestoreFromSnapshot(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, meta.SnapshotChecksum, restoredMeta.SnapshotChecksum)
		assert.Equal(t, uint64(41), restored.LastCmdSeqID())

		tables, err := restored.ActiveTables(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{12, 3}, tables)

		total, err := restored.TotalForTable(ctx, 12)
		require.NoError(t, err)
		assert.Equal(t, "7", total.String())

		log, err := restored.CompletedLog(ctx, 0)
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.Equal(t, "Wein", log[0].ItemName)
	})

	t.Run("overwrite", func(t *testing.T) {
		_, err := engine.CompleteTable(ctx, 12)
		require.NoError(t, err)

		meta2, err := engine.TakeSnapshot(ctx, dir)
		require.NoError(t, err)
		assert.Greater(t, meta2.SeqID, meta.SeqID)

		snap, _, err := ReadSnapshot(dir)
		require.NoError(t, err)
		assert.Len(t, snap.OpenOrders, 1)
		assert.Len(t, snap.Completed, 2)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		binPath := filepath.Join(dir, "snapshot.bin")
		data, err := os.ReadFile(binPath)
		require.NoError(t, err)
		data[len(data)/2] ^= 0xff
		require.NoError(t, os.WriteFile(binPath, data, 0600))

		restored, _ := createTestEngine(t)
		_, err = restored.RestoreFromSnapshot(ctx, dir)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("missing snapshot", func(t *testing.T) {
		_, _, err := ReadSnapshot(filepath.Join(t.TempDir(), "none"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}
