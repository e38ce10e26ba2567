package tableorder

// QuantityChange is the effect of one OrderBookLog on per-item counters.
type QuantityChange struct {
	ItemName      string
	PendingDiff   int64
	CompletedDiff int64
}

// CalculateQuantityChange calculates how a log moves the pending and completed
// quantities of its item.
// Add/Remove change pending by the applied delta; Complete moves quantity
// from pending to completed; Reject changes nothing.
func CalculateQuantityChange(log *OrderBookLog) QuantityChange {
	switch log.Type {
	case LogTypeAdd, LogTypeRemove:
		return QuantityChange{
			ItemName:    log.ItemName,
			PendingDiff: int64(log.Delta),
		}
	case LogTypeComplete:
		return QuantityChange{
			ItemName:      log.ItemName,
			PendingDiff:   -int64(log.Quantity),
			CompletedDiff: int64(log.Quantity),
		}
	case LogTypeReject:
		return QuantityChange{}
	}

	return QuantityChange{}
}
