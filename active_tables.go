package tableorder

import (
	"github.com/huandu/skiplist"
)

// activeTables keeps the tables holding an open order, sorted by activation.
// A table re-entering after going idle is placed at the back.
type activeTables struct {
	lastSeq uint64
	list    *skiplist.SkipList // activation seq -> table number
	index   map[int]uint64     // table number -> activation seq
}

func newActiveTables() *activeTables {
	return &activeTables{
		list:  skiplist.New(skiplist.Uint64),
		index: make(map[int]uint64),
	}
}

// activate appends table unless it is already active.
func (a *activeTables) activate(table int) {
	if _, ok := a.index[table]; ok {
		return
	}
	a.lastSeq++
	a.list.Set(a.lastSeq, table)
	a.index[table] = a.lastSeq
}

func (a *activeTables) deactivate(table int) {
	seq, ok := a.index[table]
	if !ok {
		return
	}
	a.list.Remove(seq)
	delete(a.index, table)
}

func (a *activeTables) contains(table int) bool {
	_, ok := a.index[table]
	return ok
}

func (a *activeTables) len() int {
	return len(a.index)
}

// tables returns the active tables in activation order.
func (a *activeTables) tables() []int {
	result := make([]int, 0, len(a.index))
	for el := a.list.Front(); el != nil; el = el.Next() {
		table, _ := el.Value.(int)
		result = append(result, table)
	}
	return result
}
