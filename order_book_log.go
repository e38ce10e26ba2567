package tableorder

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBookLog represents an event in the order book.
// SequenceID is a globally increasing ID for every event, used for ordering,
// deduplication, and rebuild synchronization in downstream systems.
// Use LogType to determine if the event affects order book state:
// - Add, Remove, Complete: affect order book state
// - Reject: does not affect order book state
type OrderBookLog struct {
	SequenceID   uint64          `json:"seq_id"`
	Type         LogType         `json:"type"` // Event type: add, remove, complete, reject
	TableNumber  int             `json:"table"`
	ItemName     string          `json:"item,omitempty"`
	Delta        int             `json:"delta,omitempty"`    // Applied quantity change; negative for Remove
	Quantity     int             `json:"quantity"`           // Quantity after the change; completed quantity for Complete
	UnitPrice    decimal.Decimal `json:"unit_price"`         // Catalog price of the item
	Amount       decimal.Decimal `json:"amount,omitempty"`   // UnitPrice * Quantity, only set for Complete events
	RecordID     string          `json:"record_id,omitempty"` // Completed journal record ID, only set for Complete events
	RejectReason RejectReason    `json:"reject_reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

var bookLogPool = sync.Pool{
	New: func() any {
		return new(OrderBookLog)
	},
}

func acquireBookLog() *OrderBookLog {
	return bookLogPool.Get().(*OrderBookLog)
}

func releaseBookLog(log *OrderBookLog) {
	// For decimal.Decimal, the zero value represents 0, which is valid.
	*log = OrderBookLog{}
	bookLogPool.Put(log)
}

// NewQuantityLog builds an Add or Remove log depending on the sign of delta.
func NewQuantityLog(seqID uint64, table int, item MenuItem, delta int, quantity int, createdAt time.Time) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeAdd
	if delta < 0 {
		log.Type = LogTypeRemove
	}
	log.TableNumber = table
	log.ItemName = item.Name
	log.Delta = delta
	log.Quantity = quantity
	log.UnitPrice = item.UnitPrice
	log.CreatedAt = createdAt
	return log
}

func NewCompleteLog(record *CompletedOrderRecord) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = record.SeqID
	log.Type = LogTypeComplete
	log.TableNumber = record.TableNumber
	log.ItemName = record.ItemName
	log.Quantity = record.Quantity
	log.UnitPrice = record.UnitPrice
	log.Amount = record.Amount()
	log.RecordID = record.ID
	log.CreatedAt = record.CompletedAt
	return log
}

func NewRejectLog(seqID uint64, table int, itemName string, delta int, reason RejectReason, createdAt time.Time) *OrderBookLog {
	log := acquireBookLog()
	log.SequenceID = seqID
	log.Type = LogTypeReject
	log.TableNumber = table
	log.ItemName = itemName
	log.Delta = delta
	log.RejectReason = reason
	log.CreatedAt = createdAt
	return log
}
