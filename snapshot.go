package tableorder

import "github.com/0x5487/tableorder/protocol"

// OrderBookSnapshot contains the full state of an OrderBook.
type OrderBookSnapshot struct {
	SeqID        uint64                 `json:"seq_id"`          // Current OrderBookLog sequence ID
	LastCmdSeqID uint64                 `json:"last_cmd_seq_id"` // Last processed command sequence ID, set by Engine
	TableCount   int                    `json:"table_count"`
	OpenOrders   []OpenOrderSnapshot    `json:"open_orders"` // Ordered by table activation
	Completed    []CompletedOrderRecord `json:"completed"`   // Completed journal, chronological
}

// OpenOrderSnapshot is the open order of one table.
type OpenOrderSnapshot struct {
	TableNumber int                     `json:"table"`
	Items       []protocol.ItemQuantity `json:"items"` // First-added order
}

// SnapshotMetadata holds the global metadata for a snapshot (stored in metadata.json).
type SnapshotMetadata struct {
	SchemaVersion    int    `json:"schema_version"`
	Timestamp        int64  `json:"timestamp"`         // Unix Nano
	LastCmdSeqID     uint64 `json:"last_cmd_seq_id"`   // Command sequence to resume replay from
	SeqID            uint64 `json:"seq_id"`            // OrderBookLog sequence at snapshot time
	EngineVersion    string `json:"engine_version"`    // Engine version
	SnapshotChecksum uint32 `json:"snapshot_checksum"` // CRC32 of the entire snapshot.bin file
}
