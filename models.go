package tableorder

import (
	"time"

	"github.com/0x5487/tableorder/protocol"
	"github.com/shopspring/decimal"
)

type LogType = protocol.LogType

const (
	LogTypeAdd      LogType = protocol.LogTypeAdd
	LogTypeRemove   LogType = protocol.LogTypeRemove
	LogTypeComplete LogType = protocol.LogTypeComplete
	LogTypeReject   LogType = protocol.LogTypeReject
)

type RejectReason = protocol.RejectReason

// MenuItem is an orderable catalog entry. Items are immutable once loaded.
type MenuItem struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Category  string          `json:"category,omitempty"`
}

// OrderLine is one item of a table's open order.
type OrderLine struct {
	ItemName  string          `json:"item"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// TableBill is derived from the open order and never stored.
type TableBill struct {
	TableNumber int             `json:"table"`
	Lines       []OrderLine     `json:"lines"`
	Total       decimal.Decimal `json:"total"`
}

// CompletedOrderRecord is an entry of the completed journal.
// One record is written per item of a completed table and carries the item's quantity.
type CompletedOrderRecord struct {
	ID          string          `json:"id"`
	SeqID       uint64          `json:"seq_id"` // SequenceID of the complete log that produced this record
	TableNumber int             `json:"table"`
	ItemName    string          `json:"item"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Amount returns quantity × unit price.
func (r CompletedOrderRecord) Amount() decimal.Decimal {
	return r.UnitPrice.Mul(decimal.NewFromInt(int64(r.Quantity)))
}

// BookStats contains counters of the order book state.
type BookStats struct {
	ActiveTables     int    `json:"active_tables"`
	OpenLines        int    `json:"open_lines"`
	CompletedRecords int    `json:"completed_records"`
	SeqID            uint64 `json:"seq_id"`
}

// InputEvent is the internal wrapper for all events entering the Engine actor.
type InputEvent struct {
	// Cmd is the external command carrier.
	Cmd *protocol.Command

	// Internal Query fields (Read Path)
	Query any // e.g. *protocol.GetBillRequest
	Resp  chan any
}
