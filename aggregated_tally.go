package tableorder

import (
	"fmt"
	"sync"

	"github.com/igrmk/treemap/v2"
)

// ItemTally holds the aggregated quantities of one menu item across all tables.
type ItemTally struct {
	ItemName  string `json:"item"`
	Pending   int64  `json:"pending"`   // Ordered but not yet completed
	Completed int64  `json:"completed"` // Handed out since the journal began
}

// AggregatedTally maintains a per-item view of the order book,
// tracking only pending and completed quantities.
// It is designed for downstream services (e.g. a kitchen display) that
// rebuild state from OrderBookLog events received via a sink.
type AggregatedTally struct {
	mu    sync.RWMutex
	seqID uint64 // Last processed SequenceID for gap detection and deduplication
	items *treemap.TreeMap[string, ItemTally]
}

// NewAggregatedTally creates an empty tally.
func NewAggregatedTally() *AggregatedTally {
	return &AggregatedTally{
		items: treemap.New[string, ItemTally](),
	}
}

// SequenceID returns the last processed sequence ID.
func (t *AggregatedTally) SequenceID() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seqID
}

// Replay applies an OrderBookLog event to the tally.
// Already applied events are ignored; Reject events only advance the sequence ID.
// Returns ErrSequenceGap if events were skipped.
func (t *AggregatedTally) Replay(log *OrderBookLog) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if log.SequenceID <= t.seqID {
		return nil
	}
	if log.SequenceID != t.seqID+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrSequenceGap, t.seqID+1, log.SequenceID)
	}

	change := CalculateQuantityChange(log)
	if change.ItemName != "" {
		t.apply(change)
	}

	t.seqID = log.SequenceID
	return nil
}

// Publish lets the tally be used directly as a PublishLog sink.
func (t *AggregatedTally) Publish(logs ...*OrderBookLog) {
	for _, log := range logs {
		if err := t.Replay(log); err != nil {
			logger.Warn("tally replay failed", "seq_id", log.SequenceID, "error", err)
		}
	}
}

// OnRebuild resets the tally from a snapshot.
// This should be called before replaying events that follow the snapshot.
func (t *AggregatedTally) OnRebuild(snap *OrderBookSnapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrInvalidParam)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.items = treemap.New[string, ItemTally]()
	for _, order := range snap.OpenOrders {
		for _, it := range order.Items {
			t.apply(QuantityChange{ItemName: it.ItemName, PendingDiff: int64(it.Quantity)})
		}
	}
	for _, rec := range snap.Completed {
		t.apply(QuantityChange{ItemName: rec.ItemName, CompletedDiff: int64(rec.Quantity)})
	}
	t.seqID = snap.SeqID

	return nil
}

// Item returns the tally of one item; zero values if it was never seen.
func (t *AggregatedTally) Item(name string) ItemTally {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tally, ok := t.items.Get(name)
	if !ok {
		return ItemTally{ItemName: name}
	}
	return tally
}

// Items returns all tallies sorted by item name.
func (t *AggregatedTally) Items() []ItemTally {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]ItemTally, 0, t.items.Len())
	for it := t.items.Iterator(); it.Valid(); it.Next() {
		result = append(result, it.Value())
	}
	return result
}

func (t *AggregatedTally) apply(change QuantityChange) {
	tally, ok := t.items.Get(change.ItemName)
	if !ok {
		tally = ItemTally{ItemName: change.ItemName}
	}
	tally.Pending += change.PendingDiff
	tally.Completed += change.CompletedDiff

	if tally.Pending == 0 && tally.Completed == 0 {
		t.items.Del(change.ItemName)
		return
	}
	t.items.Set(change.ItemName, tally)
}
