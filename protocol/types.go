package protocol

// ItemQuantity is a single item line of an open order.
type ItemQuantity struct {
	ItemName string `json:"item"`
	Quantity int    `json:"quantity"`
}

// GetBillRequest is the payload for querying the running bill of one table.
type GetBillRequest struct {
	TableNumber int `json:"table"`
}

// GetActiveTablesRequest queries the tables that currently hold an open order.
type GetActiveTablesRequest struct{}

// GetCompletedLogRequest queries the completed journal.
// Only records with a sequence ID greater than SinceSeqID are returned.
type GetCompletedLogRequest struct {
	SinceSeqID uint64 `json:"since_seq_id"`
}

// GetStatsRequest is the payload for querying order book statistics.
type GetStatsRequest struct{}

// LogType represents the type of event log.
type LogType string

const (
	LogTypeAdd      LogType = "add"
	LogTypeRemove   LogType = "remove"
	LogTypeComplete LogType = "complete"
	LogTypeReject   LogType = "reject"
)

// RejectReason represents the reason why a command was rejected.
type RejectReason string

const (
	RejectReasonNone             RejectReason = ""
	RejectReasonUnknownTable     RejectReason = "unknown_table"
	RejectReasonUnknownItem      RejectReason = "unknown_item"
	RejectReasonNegativeQuantity RejectReason = "negative_quantity" // strict mode: quantity would drop below zero
	RejectReasonInvalidQuantity  RejectReason = "invalid_quantity"
	RejectReasonInvalidPayload   RejectReason = "invalid_payload"
)
