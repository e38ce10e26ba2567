package protocol

// Version is the protocol version written into every command envelope.
const Version uint8 = 1

// CommandType defines the type of the command (using uint8 for memory alignment and performance)
type CommandType uint8

// Command Type Numbering Strategy:
// - 0-50:  reserved for management commands
// - 51+:   order commands (waiter terminals, kitchen display)
const (
	CmdUnknown CommandType = 0

	CmdAddItem       CommandType = 51
	CmdRemoveItem    CommandType = 52
	CmdCompleteTable CommandType = 53
)

func (t CommandType) String() string {
	switch t {
	case CmdAddItem:
		return "add_item"
	case CmdRemoveItem:
		return "remove_item"
	case CmdCompleteTable:
		return "complete_table"
	default:
		return "unknown"
	}
}

// Command is the standard carrier for commands entering the order engine.
// It is designed to be efficient for serialization and compatible with Event Sourcing.
type Command struct {
	// Version is the protocol version for backward compatibility.
	Version uint8 `json:"version"`

	// SeqID orders commands from one source. The engine skips an envelope
	// whose SeqID is not above the last one it applied; 0 means unnumbered.
	SeqID uint64 `json:"seq_id"`

	// Type identifies the payload type for fast routing.
	Type CommandType `json:"type"`

	// Payload contains the serialized business data (e.g., JSON bytes of AddItemCommand).
	Payload []byte `json:"payload"`

	// Metadata stores non-business context (e.g., terminal ID, waiter name).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewCommand serializes payload and wraps it into a Command envelope.
func NewCommand(s Serializer, seqID uint64, cmdType CommandType, payload any) (*Command, error) {
	data, err := s.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Command{
		Version: Version,
		SeqID:   seqID,
		Type:    cmdType,
		Payload: data,
	}, nil
}

// AddItemCommand is the payload for adding items to a table's open order.
// Quantity may be negative (stepping down in the picker).
type AddItemCommand struct {
	TableNumber int    `json:"table"`
	ItemName    string `json:"item"`
	Quantity    int    `json:"quantity"`
}

// RemoveItemCommand is the payload for removing items from a table's open order.
type RemoveItemCommand struct {
	TableNumber int    `json:"table"`
	ItemName    string `json:"item"`
	Quantity    int    `json:"quantity"`
}

// CompleteTableCommand is the payload for marking a table's whole order as ready.
type CompleteTableCommand struct {
	TableNumber int `json:"table"`
}
