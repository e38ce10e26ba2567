package tableorder

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/0x5487/tableorder/protocol"
	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// openOrder holds the pending item quantities of one table.
// Entries never hold a zero quantity; names keeps first-added order.
type openOrder struct {
	quantities map[string]int
	names      []string
}

func newOpenOrder() *openOrder {
	return &openOrder{quantities: make(map[string]int)}
}

func (o *openOrder) quantity(name string) int {
	return o.quantities[name]
}

func (o *openOrder) set(name string, qty int) {
	if qty <= 0 {
		if _, ok := o.quantities[name]; !ok {
			return
		}
		delete(o.quantities, name)
		for i, n := range o.names {
			if n == name {
				o.names = append(o.names[:i], o.names[i+1:]...)
				break
			}
		}
		return
	}

	if _, ok := o.quantities[name]; !ok {
		o.names = append(o.names, name)
	}
	o.quantities[name] = qty
}

func (o *openOrder) empty() bool {
	return len(o.quantities) == 0
}

// OrderBookOption configures an OrderBook.
type OrderBookOption func(*OrderBook)

// WithStrictQuantities rejects changes that would leave a quantity below zero
// with ErrInvariantViolation instead of clamping them at zero.
func WithStrictQuantities() OrderBookOption {
	return func(book *OrderBook) {
		book.strict = true
	}
}

// WithPublishLog sets the sink receiving every order book log.
func WithPublishLog(publishLog PublishLog) OrderBookOption {
	return func(book *OrderBook) {
		book.publishLog = publishLog
	}
}

// WithClock overrides the time source used for logs and completed records.
func WithClock(now func() time.Time) OrderBookOption {
	return func(book *OrderBook) {
		book.now = now
	}
}

// WithIDGenerator overrides the generator of completed record IDs.
func WithIDGenerator(newID func() string) OrderBookOption {
	return func(book *OrderBook) {
		book.newID = newID
	}
}

// OrderBook owns the open orders of every table and the completed journal.
// It is not safe for concurrent use; Engine serializes access to it.
type OrderBook struct {
	catalog    *Catalog
	tableCount int
	strict     bool
	seqID      uint64 // Globally increasing sequence ID for OrderBookLog production
	orders     map[int]*openOrder
	active     *activeTables
	completed  []CompletedOrderRecord
	publishLog PublishLog
	now        func() time.Time
	newID      func() string
}

// NewOrderBook creates an order book for tables 1..tableCount backed by catalog.
func NewOrderBook(catalog *Catalog, tableCount int, opts ...OrderBookOption) (*OrderBook, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrInvalidParam)
	}
	if tableCount < 1 {
		return nil, fmt.Errorf("%w: table count must be positive, got %d", ErrInvalidParam, tableCount)
	}

	book := &OrderBook{
		catalog:    catalog,
		tableCount: tableCount,
		orders:     make(map[int]*openOrder),
		active:     newActiveTables(),
		completed:  make([]CompletedOrderRecord, 0),
		publishLog: NewDiscardPublishLog(),
		now:        time.Now,
		newID:      func() string { return xid.New().String() },
	}

	for _, opt := range opts {
		opt(book)
	}

	return book, nil
}

// Catalog returns the catalog the book validates items against.
func (book *OrderBook) Catalog() *Catalog {
	return book.catalog
}

// TableCount returns the number of configured tables.
func (book *OrderBook) TableCount() int {
	return book.tableCount
}

// AddItem changes the quantity of item in table's open order by delta.
// A negative delta steps the quantity down; the result is clamped at zero
// unless the book is strict.
func (book *OrderBook) AddItem(table int, itemName string, delta int) error {
	item, err := book.resolve(table, itemName)
	if err != nil {
		book.reject(table, itemName, delta, rejectReasonFor(err))
		return err
	}
	return book.apply(table, item, delta)
}

// RemoveItem decrements the quantity of item in table's open order by delta.
// Removing an item that has not been ordered yet is a no-op.
func (book *OrderBook) RemoveItem(table int, itemName string, delta int) error {
	if delta < 0 {
		book.reject(table, itemName, delta, protocol.RejectReasonInvalidQuantity)
		return fmt.Errorf("%w: remove quantity must not be negative, got %d", ErrInvalidParam, delta)
	}

	item, err := book.resolve(table, itemName)
	if err != nil {
		book.reject(table, itemName, -delta, rejectReasonFor(err))
		return err
	}
	return book.apply(table, item, -delta)
}

func (book *OrderBook) apply(table int, item MenuItem, delta int) error {
	if delta == 0 {
		return nil
	}

	order := book.orders[table]
	current := 0
	if order != nil {
		current = order.quantity(item.Name)
	}

	next := current + delta
	if next < 0 {
		// nothing to take back from an item that is not ordered
		if current == 0 {
			return nil
		}
		if book.strict {
			book.reject(table, item.Name, delta, protocol.RejectReasonNegativeQuantity)
			return fmt.Errorf("%w: table %d item %q quantity %d cannot change by %d", ErrInvariantViolation, table, item.Name, current, delta)
		}
		next = 0
	}

	if next == current {
		return nil
	}

	if order == nil {
		order = newOpenOrder()
		book.orders[table] = order
	}
	order.set(item.Name, next)

	if order.empty() {
		delete(book.orders, table)
		book.active.deactivate(table)
	} else {
		book.active.activate(table)
	}

	log := NewQuantityLog(book.nextSeqID(), table, item, next-current, next, book.now().UTC())
	book.publish(log)

	return nil
}

// CompleteTable moves the table's whole open order into the completed journal
// and returns the records it appended. It is a no-op for a table without an open order.
func (book *OrderBook) CompleteTable(table int) ([]CompletedOrderRecord, error) {
	if err := book.checkTable(table); err != nil {
		book.reject(table, "", 0, protocol.RejectReasonUnknownTable)
		return nil, err
	}

	order, ok := book.orders[table]
	if !ok {
		return nil, nil
	}

	now := book.now().UTC()
	records := make([]CompletedOrderRecord, 0, len(order.names))
	logs := make([]*OrderBookLog, 0, len(order.names))

	for _, name := range order.names {
		item, err := book.catalog.Lookup(name)
		if err != nil {
			// open orders only ever hold catalog items
			return nil, err
		}

		records = append(records, CompletedOrderRecord{
			ID:          book.newID(),
			SeqID:       book.nextSeqID(),
			TableNumber: table,
			ItemName:    name,
			Quantity:    order.quantity(name),
			UnitPrice:   item.UnitPrice,
			CompletedAt: now,
		})
	}

	for i := range records {
		logs = append(logs, NewCompleteLog(&records[i]))
	}

	book.completed = append(book.completed, records...)
	delete(book.orders, table)
	book.active.deactivate(table)

	book.publish(logs...)

	logger.Debug("table completed", "table", table, "records", len(records))

	return records, nil
}

// TotalForTable returns Σ quantity × unit price over the table's open order.
func (book *OrderBook) TotalForTable(table int) (decimal.Decimal, error) {
	if err := book.checkTable(table); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	order, ok := book.orders[table]
	if !ok {
		return total, nil
	}

	for _, name := range order.names {
		item, err := book.catalog.Lookup(name)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(order.quantity(name)))))
	}

	return total, nil
}

// OpenOrder returns the lines of the table's open order in first-added order.
func (book *OrderBook) OpenOrder(table int) ([]OrderLine, error) {
	if err := book.checkTable(table); err != nil {
		return nil, err
	}

	order, ok := book.orders[table]
	if !ok {
		return []OrderLine{}, nil
	}

	lines := make([]OrderLine, 0, len(order.names))
	for _, name := range order.names {
		item, err := book.catalog.Lookup(name)
		if err != nil {
			return nil, err
		}
		qty := order.quantity(name)
		lines = append(lines, OrderLine{
			ItemName:  name,
			Quantity:  qty,
			UnitPrice: item.UnitPrice,
			LineTotal: item.UnitPrice.Mul(decimal.NewFromInt(int64(qty))),
		})
	}

	return lines, nil
}

// Bill returns the table's open order lines together with their total.
func (book *OrderBook) Bill(table int) (TableBill, error) {
	lines, err := book.OpenOrder(table)
	if err != nil {
		return TableBill{}, err
	}

	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.LineTotal)
	}

	return TableBill{
		TableNumber: table,
		Lines:       lines,
		Total:       total,
	}, nil
}

// Quantity returns the open quantity of item at table; zero when not ordered.
func (book *OrderBook) Quantity(table int, itemName string) (int, error) {
	if _, err := book.resolve(table, itemName); err != nil {
		return 0, err
	}
	order, ok := book.orders[table]
	if !ok {
		return 0, nil
	}
	return order.quantity(itemName), nil
}

// ActiveTables returns the tables with a non-empty open order in activation order.
func (book *OrderBook) ActiveTables() []int {
	return book.active.tables()
}

// CompletedLog returns a copy of the completed journal in chronological order.
func (book *OrderBook) CompletedLog() []CompletedOrderRecord {
	log := make([]CompletedOrderRecord, len(book.completed))
	copy(log, book.completed)
	return log
}

// CompletedSince returns the journal records with a sequence ID greater than seqID.
func (book *OrderBook) CompletedSince(seqID uint64) []CompletedOrderRecord {
	idx := sort.Search(len(book.completed), func(i int) bool {
		return book.completed[i].SeqID > seqID
	})

	log := make([]CompletedOrderRecord, len(book.completed)-idx)
	copy(log, book.completed[idx:])
	return log
}

// Stats returns counters of the current state.
func (book *OrderBook) Stats() BookStats {
	lines := 0
	for _, order := range book.orders {
		lines += len(order.names)
	}
	return BookStats{
		ActiveTables:     book.active.len(),
		OpenLines:        lines,
		CompletedRecords: len(book.completed),
		SeqID:            book.seqID,
	}
}

// SeqID returns the sequence ID of the last published log.
func (book *OrderBook) SeqID() uint64 {
	return book.seqID
}

// Snapshot captures the full state of the order book.
func (book *OrderBook) Snapshot() *OrderBookSnapshot {
	snap := &OrderBookSnapshot{
		SeqID:      book.seqID,
		TableCount: book.tableCount,
		OpenOrders: make([]OpenOrderSnapshot, 0, book.active.len()),
		Completed:  book.CompletedLog(),
	}

	for _, table := range book.active.tables() {
		order := book.orders[table]
		items := make([]protocol.ItemQuantity, 0, len(order.names))
		for _, name := range order.names {
			items = append(items, protocol.ItemQuantity{ItemName: name, Quantity: order.quantity(name)})
		}
		snap.OpenOrders = append(snap.OpenOrders, OpenOrderSnapshot{TableNumber: table, Items: items})
	}

	return snap
}

// Restore replaces the order book state with snap.
// The snapshot is validated against the catalog and table range first;
// on error the current state is left untouched.
func (book *OrderBook) Restore(snap *OrderBookSnapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrInvalidParam)
	}
	if snap.TableCount > book.tableCount {
		return fmt.Errorf("%w: snapshot has %d tables, book has %d", ErrInvalidParam, snap.TableCount, book.tableCount)
	}

	orders := make(map[int]*openOrder, len(snap.OpenOrders))
	active := newActiveTables()

	for _, o := range snap.OpenOrders {
		if err := book.checkTable(o.TableNumber); err != nil {
			return err
		}
		if _, dup := orders[o.TableNumber]; dup {
			return fmt.Errorf("%w: table %d appears twice in snapshot", ErrInvalidParam, o.TableNumber)
		}

		order := newOpenOrder()
		for _, it := range o.Items {
			if _, err := book.catalog.Lookup(it.ItemName); err != nil {
				return err
			}
			if it.Quantity <= 0 {
				return fmt.Errorf("%w: table %d item %q has quantity %d", ErrInvariantViolation, o.TableNumber, it.ItemName, it.Quantity)
			}
			order.set(it.ItemName, order.quantity(it.ItemName)+it.Quantity)
		}
		if order.empty() {
			continue
		}

		orders[o.TableNumber] = order
		active.activate(o.TableNumber)
	}

	completed := make([]CompletedOrderRecord, len(snap.Completed))
	var lastSeq uint64
	for i, rec := range snap.Completed {
		if err := book.checkTable(rec.TableNumber); err != nil {
			return fmt.Errorf("completed record %d: %w", rec.SeqID, err)
		}
		if _, err := book.catalog.Lookup(rec.ItemName); err != nil {
			return fmt.Errorf("completed record %d: %w", rec.SeqID, err)
		}
		if rec.Quantity <= 0 {
			return fmt.Errorf("%w: completed record %d has quantity %d", ErrInvariantViolation, rec.SeqID, rec.Quantity)
		}
		// CompletedSince searches the journal by SeqID
		if rec.SeqID <= lastSeq || rec.SeqID > snap.SeqID {
			return fmt.Errorf("%w: completed record %d out of order (previous %d, snapshot %d)", ErrInvariantViolation, rec.SeqID, lastSeq, snap.SeqID)
		}
		lastSeq = rec.SeqID
		completed[i] = rec
	}

	book.seqID = snap.SeqID
	book.orders = orders
	book.active = active
	book.completed = completed

	return nil
}

func (book *OrderBook) checkTable(table int) error {
	if table < 1 || table > book.tableCount {
		return fmt.Errorf("%w: %d (valid range 1..%d)", ErrUnknownTable, table, book.tableCount)
	}
	return nil
}

func (book *OrderBook) resolve(table int, itemName string) (MenuItem, error) {
	if err := book.checkTable(table); err != nil {
		return MenuItem{}, err
	}
	return book.catalog.Lookup(itemName)
}

func (book *OrderBook) nextSeqID() uint64 {
	book.seqID++
	return book.seqID
}

// reject publishes a Reject log. Rejected commands do not change state.
func (book *OrderBook) reject(table int, itemName string, delta int, reason RejectReason) {
	log := NewRejectLog(book.nextSeqID(), table, itemName, delta, reason, book.now().UTC())
	book.publish(log)
}

func (book *OrderBook) publish(logs ...*OrderBookLog) {
	if len(logs) == 0 {
		return
	}
	book.publishLog.Publish(logs...)
	for _, log := range logs {
		releaseBookLog(log)
	}
}

func rejectReasonFor(err error) RejectReason {
	switch {
	case errors.Is(err, ErrUnknownTable):
		return protocol.RejectReasonUnknownTable
	case errors.Is(err, ErrUnknownItem):
		return protocol.RejectReasonUnknownItem
	case errors.Is(err, ErrInvariantViolation):
		return protocol.RejectReasonNegativeQuantity
	default:
		return protocol.RejectReasonInvalidQuantity
	}
}
