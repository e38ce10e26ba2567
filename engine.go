package tableorder

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0x5487/tableorder/protocol"
	"github.com/shopspring/decimal"
)

const defaultRingSize = 1024

// commandResult is the response of a state-changing command.
type commandResult struct {
	records []CompletedOrderRecord
	err     error
}

// queryResult is the response of a read or admin request.
type queryResult struct {
	value any
	err   error
}

type totalRequest struct {
	tableNumber int
}

type snapshotRequest struct{}

type restoreRequest struct {
	snap *OrderBookSnapshot
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSerializer sets the serializer used for command payloads.
func WithSerializer(s protocol.Serializer) EngineOption {
	return func(engine *Engine) {
		engine.serializer = s
	}
}

// WithRingSize sets the capacity of the inbound ring buffer. Must be a power of 2.
func WithRingSize(size int64) EngineOption {
	return func(engine *Engine) {
		engine.ringSize = size
	}
}

// Engine is the service boundary around one OrderBook.
// A single consumer goroutine owns the book; every command and query is
// funneled through an MPSC ring buffer, so mutations of a table are always serialized.
type Engine struct {
	isShutdown   atomic.Bool
	book         *OrderBook
	ring         *RingBuffer[*InputEvent]
	ringSize     int64
	serializer   protocol.Serializer
	lastCmdSeqID atomic.Uint64
	startOnce    sync.Once
	stopped      chan struct{}
}

// NewEngine creates a new engine instance around book. Call Start before use.
func NewEngine(book *OrderBook, opts ...EngineOption) *Engine {
	engine := &Engine{
		book:       book,
		ringSize:   defaultRingSize,
		serializer: &protocol.DefaultJSONSerializer{},
		stopped:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(engine)
	}

	engine.ring = NewRingBuffer[*InputEvent](engine.ringSize, engine)
	return engine
}

// Start starts the consumer goroutine. Calling it more than once has no effect.
func (engine *Engine) Start() {
	engine.startOnce.Do(engine.ring.Start)
}

// AddItem adds quantity of item to the table's open order.
func (engine *Engine) AddItem(ctx context.Context, table int, item string, quantity int) error {
	_, err := engine.submit(ctx, protocol.CmdAddItem, &protocol.AddItemCommand{
		TableNumber: table,
		ItemName:    item,
		Quantity:    quantity,
	})
	return err
}

// RemoveItem removes quantity of item from the table's open order.
func (engine *Engine) RemoveItem(ctx context.Context, table int, item string, quantity int) error {
	_, err := engine.submit(ctx, protocol.CmdRemoveItem, &protocol.RemoveItemCommand{
		TableNumber: table,
		ItemName:    item,
		Quantity:    quantity,
	})
	return err
}

// CompleteTable completes the table's whole open order and returns the appended journal records.
func (engine *Engine) CompleteTable(ctx context.Context, table int) ([]CompletedOrderRecord, error) {
	return engine.submit(ctx, protocol.CmdCompleteTable, &protocol.CompleteTableCommand{
		TableNumber: table,
	})
}

func (engine *Engine) submit(ctx context.Context, cmdType protocol.CommandType, payload any) ([]CompletedOrderRecord, error) {
	cmd, err := protocol.NewCommand(engine.serializer, 0, cmdType, payload)
	if err != nil {
		return nil, err
	}
	return engine.ExecuteCommand(ctx, cmd)
}

// ExecuteCommand routes a serialized command envelope to the order book and
// waits for its result. Commands carrying a SeqID advance LastCmdSeqID;
// an envelope whose SeqID is not above LastCmdSeqID is skipped and returns no records.
func (engine *Engine) ExecuteCommand(ctx context.Context, cmd *protocol.Command) ([]CompletedOrderRecord, error) {
	if cmd == nil {
		return nil, ErrInvalidParam
	}

	res, err := engine.send(ctx, &InputEvent{Cmd: cmd})
	if err != nil {
		return nil, err
	}

	result, ok := res.(*commandResult)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", res)
	}
	return result.records, result.err
}

// TotalForTable returns the running total of the table's open order.
func (engine *Engine) TotalForTable(ctx context.Context, table int) (decimal.Decimal, error) {
	value, err := engine.query(ctx, &totalRequest{tableNumber: table})
	if err != nil {
		return decimal.Zero, err
	}
	total, _ := value.(decimal.Decimal)
	return total, nil
}

// Bill returns the table's open order lines and total.
func (engine *Engine) Bill(ctx context.Context, table int) (TableBill, error) {
	value, err := engine.query(ctx, &protocol.GetBillRequest{TableNumber: table})
	if err != nil {
		return TableBill{}, err
	}
	bill, _ := value.(TableBill)
	return bill, nil
}

// ActiveTables returns the tables with a pending order in activation order.
func (engine *Engine) ActiveTables(ctx context.Context) ([]int, error) {
	value, err := engine.query(ctx, &protocol.GetActiveTablesRequest{})
	if err != nil {
		return nil, err
	}
	tables, _ := value.([]int)
	return tables, nil
}

// CompletedLog returns the journal records with a sequence ID greater than sinceSeqID.
// Pass 0 for the whole journal.
func (engine *Engine) CompletedLog(ctx context.Context, sinceSeqID uint64) ([]CompletedOrderRecord, error) {
	value, err := engine.query(ctx, &protocol.GetCompletedLogRequest{SinceSeqID: sinceSeqID})
	if err != nil {
		return nil, err
	}
	records, _ := value.([]CompletedOrderRecord)
	return records, nil
}

// GetStats returns counters of the order book.
func (engine *Engine) GetStats(ctx context.Context) (BookStats, error) {
	value, err := engine.query(ctx, &protocol.GetStatsRequest{})
	if err != nil {
		return BookStats{}, err
	}
	stats, _ := value.(BookStats)
	return stats, nil
}

// Snapshot captures a consistent snapshot of the order book.
func (engine *Engine) Snapshot(ctx context.Context) (*OrderBookSnapshot, error) {
	value, err := engine.query(ctx, &snapshotRequest{})
	if err != nil {
		return nil, err
	}
	snap, _ := value.(*OrderBookSnapshot)
	return snap, nil
}

// Restore replaces the order book state with snap.
func (engine *Engine) Restore(ctx context.Context, snap *OrderBookSnapshot) error {
	_, err := engine.query(ctx, &restoreRequest{snap: snap})
	return err
}

// LastCmdSeqID returns the sequence ID of the last processed command.
// This is used for snapshot recovery to know where to resume consuming from.
func (engine *Engine) LastCmdSeqID() uint64 {
	return engine.lastCmdSeqID.Load()
}

func (engine *Engine) query(ctx context.Context, q any) (any, error) {
	res, err := engine.send(ctx, &InputEvent{Query: q})
	if err != nil {
		return nil, err
	}

	result, ok := res.(*queryResult)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", res)
	}
	return result.value, result.err
}

func (engine *Engine) send(ctx context.Context, ev *InputEvent) (any, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}

	ev.Resp = make(chan any, 1)
	if err := engine.ring.Publish(ev); err != nil {
		return nil, err
	}

	select {
	case res := <-ev.Resp:
		return res, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-engine.stopped:
		// the event may have been handled while draining
		select {
		case res := <-ev.Resp:
			return res, nil
		default:
			return nil, ErrShutdown
		}
	}
}

// OnEvent handles one event on the consumer goroutine.
func (engine *Engine) OnEvent(ev *InputEvent) {
	var result any
	if ev.Cmd != nil {
		seqID := ev.Cmd.SeqID
		if seqID > 0 && seqID <= engine.lastCmdSeqID.Load() {
			// already applied, e.g. a redelivered envelope
			logger.Debug("duplicate command skipped", "type", ev.Cmd.Type.String(), "seq_id", seqID)
			result = &commandResult{}
		} else {
			result = engine.handleCommand(ev.Cmd)
			// Update lastCmdSeqID after processing each command (for snapshot recovery)
			if seqID > 0 {
				engine.lastCmdSeqID.Store(seqID)
			}
		}
	} else {
		result = engine.handleQuery(ev.Query)
	}

	if ev.Resp != nil {
		select {
		case ev.Resp <- result:
		default:
			// Non-blocking send, if no one is listening, just drop it
		}
	}
}

func (engine *Engine) handleCommand(cmd *protocol.Command) *commandResult {
	switch cmd.Type {
	case protocol.CmdAddItem:
		payload := &protocol.AddItemCommand{}
		if err := engine.serializer.Unmarshal(cmd.Payload, payload); err != nil {
			return engine.invalidPayload(cmd, err)
		}
		return &commandResult{err: engine.book.AddItem(payload.TableNumber, payload.ItemName, payload.Quantity)}
	case protocol.CmdRemoveItem:
		payload := &protocol.RemoveItemCommand{}
		if err := engine.serializer.Unmarshal(cmd.Payload, payload); err != nil {
			return engine.invalidPayload(cmd, err)
		}
		return &commandResult{err: engine.book.RemoveItem(payload.TableNumber, payload.ItemName, payload.Quantity)}
	case protocol.CmdCompleteTable:
		payload := &protocol.CompleteTableCommand{}
		if err := engine.serializer.Unmarshal(cmd.Payload, payload); err != nil {
			return engine.invalidPayload(cmd, err)
		}
		records, err := engine.book.CompleteTable(payload.TableNumber)
		return &commandResult{records: records, err: err}
	default:
		engine.book.reject(0, "", 0, protocol.RejectReasonInvalidPayload)
		return &commandResult{err: fmt.Errorf("%w: unknown command type %d", ErrInvalidParam, cmd.Type)}
	}
}

func (engine *Engine) invalidPayload(cmd *protocol.Command, err error) *commandResult {
	logger.Error("failed to unmarshal command", "type", cmd.Type.String(), "seq_id", cmd.SeqID, "error", err)
	engine.book.reject(0, "", 0, protocol.RejectReasonInvalidPayload)
	return &commandResult{err: fmt.Errorf("%w: %s payload: %v", ErrInvalidParam, cmd.Type, err)}
}

func (engine *Engine) handleQuery(q any) *queryResult {
	switch req := q.(type) {
	case *totalRequest:
		total, err := engine.book.TotalForTable(req.tableNumber)
		return &queryResult{value: total, err: err}
	case *protocol.GetBillRequest:
		bill, err := engine.book.Bill(req.TableNumber)
		return &queryResult{value: bill, err: err}
	case *protocol.GetActiveTablesRequest:
		return &queryResult{value: engine.book.ActiveTables()}
	case *protocol.GetCompletedLogRequest:
		return &queryResult{value: engine.book.CompletedSince(req.SinceSeqID)}
	case *protocol.GetStatsRequest:
		return &queryResult{value: engine.book.Stats()}
	case *snapshotRequest:
		snap := engine.book.Snapshot()
		snap.LastCmdSeqID = engine.lastCmdSeqID.Load()
		return &queryResult{value: snap}
	case *restoreRequest:
		if err := engine.book.Restore(req.snap); err != nil {
			return &queryResult{err: err}
		}
		engine.lastCmdSeqID.Store(req.snap.LastCmdSeqID)
		return &queryResult{}
	default:
		return &queryResult{err: fmt.Errorf("%w: unknown query %T", ErrInvalidParam, q)}
	}
}

// Shutdown stops accepting new events and blocks until every pending event
// has been handled or ctx is done.
func (engine *Engine) Shutdown(ctx context.Context) error {
	if !engine.isShutdown.CompareAndSwap(false, true) {
		return nil
	}

	err := engine.ring.Shutdown(ctx)
	close(engine.stopped)
	return err
}

// TakeSnapshot captures a consistent snapshot of the order book and writes it to outputDir.
// It generates two files: `snapshot.bin` (JSON state) and `metadata.json` (metadata).
// The directory is replaced atomically.
func (engine *Engine) TakeSnapshot(ctx context.Context, outputDir string) (*SnapshotMetadata, error) {
	snap, err := engine.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	// Use a temporary directory for atomic writes
	tmpDir := outputDir + ".tmp"
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(tmpDir, 0755); err != nil {
		return nil, err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, err
	}

	binPath := filepath.Join(tmpDir, "snapshot.bin")
	if err := writeFileSync(binPath, data); err != nil {
		return nil, err
	}

	snapshotChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, err
	}

	meta := &SnapshotMetadata{
		SchemaVersion:    SnapshotSchemaVersion,
		Timestamp:        time.Now().UnixNano(),
		LastCmdSeqID:     snap.LastCmdSeqID,
		SeqID:            snap.SeqID,
		EngineVersion:    EngineVersion,
		SnapshotChecksum: snapshotChecksum,
	}

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, err
	}

	metaPath := filepath.Join(tmpDir, "metadata.json")
	if err := os.WriteFile(metaPath, metaBytes, 0600); err != nil {
		return nil, err
	}

	// Atomic rename: remove old dir and rename temp to final
	if err := os.RemoveAll(outputDir); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpDir, outputDir); err != nil {
		return nil, err
	}

	logger.Info("snapshot written", "dir", outputDir, "seq_id", meta.SeqID, "last_cmd_seq_id", meta.LastCmdSeqID)

	return meta, nil
}

// RestoreFromSnapshot restores the order book state from a snapshot in inputDir.
// Returns the metadata from the snapshot for replay positioning.
func (engine *Engine) RestoreFromSnapshot(ctx context.Context, inputDir string) (*SnapshotMetadata, error) {
	snap, meta, err := ReadSnapshot(inputDir)
	if err != nil {
		return nil, err
	}

	if err := engine.Restore(ctx, snap); err != nil {
		return nil, err
	}

	logger.Info("snapshot restored", "dir", inputDir, "seq_id", meta.SeqID, "last_cmd_seq_id", meta.LastCmdSeqID)

	return meta, nil
}

// ReadSnapshot reads and verifies a snapshot directory written by TakeSnapshot.
func ReadSnapshot(inputDir string) (*OrderBookSnapshot, *SnapshotMetadata, error) {
	metaBytes, err := os.ReadFile(filepath.Join(inputDir, "metadata.json"))
	if err != nil {
		return nil, nil, err
	}

	var meta SnapshotMetadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, nil, err
	}
	if meta.SchemaVersion != SnapshotSchemaVersion {
		return nil, nil, fmt.Errorf("%w: unsupported snapshot schema version %d", ErrInvalidParam, meta.SchemaVersion)
	}

	binPath := filepath.Join(inputDir, "snapshot.bin")
	fileChecksum, err := calculateFileCRC32(binPath)
	if err != nil {
		return nil, nil, err
	}
	if fileChecksum != meta.SnapshotChecksum {
		return nil, nil, fmt.Errorf("%w: snapshot.bin", ErrChecksumMismatch)
	}

	data, err := os.ReadFile(binPath)
	if err != nil {
		return nil, nil, err
	}

	var snap OrderBookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, err
	}

	return &snap, &meta, nil
}

func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	// Sync to ensure data is flushed to disk before checksum calculation
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func calculateFileCRC32(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}

