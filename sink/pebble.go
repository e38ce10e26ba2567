package sink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/0x5487/tableorder"
	"github.com/0x5487/tableorder/protocol"
	"github.com/cockroachdb/pebble"
)

var (
	keyPrefix = []byte("log/")
	keyUpper  = []byte("log0") // '0' sorts right after '/'
)

// PebblePublishLog persists every OrderBookLog in a pebble database keyed by
// sequence ID, so downstream views can be rebuilt after a restart.
type PebblePublishLog struct {
	mu         sync.Mutex
	db         *pebble.DB
	serializer protocol.Serializer
	lastErr    error
}

// OpenPebble opens (or creates) the journal database in dir.
// A nil serializer selects JSON.
func OpenPebble(dir string, serializer protocol.Serializer) (*PebblePublishLog, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", dir, err)
	}
	if serializer == nil {
		serializer = &protocol.DefaultJSONSerializer{}
	}
	return &PebblePublishLog{db: db, serializer: serializer}, nil
}

// Publish writes logs in one synced batch. Failures are logged and kept in Err.
func (p *PebblePublishLog) Publish(logs ...*tableorder.OrderBookLog) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.write(logs); err != nil {
		p.lastErr = err
		logger.Error("journal write failed", "count", len(logs), "error", err)
	}
}

func (p *PebblePublishLog) write(logs []*tableorder.OrderBookLog) error {
	batch := p.db.NewBatch()
	defer batch.Close()

	for _, log := range logs {
		data, err := p.serializer.Marshal(log)
		if err != nil {
			return err
		}
		if err := batch.Set(keyFor(log.SequenceID), data, nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// Err returns the last write error, if any.
func (p *PebblePublishLog) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Scan calls fn for every stored log with a sequence ID of at least fromSeqID, in sequence order.
func (p *PebblePublishLog) Scan(fromSeqID uint64, fn func(log *tableorder.OrderBookLog) error) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: keyFor(fromSeqID),
		UpperBound: keyUpper,
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		log := &tableorder.OrderBookLog{}
		if err := p.serializer.Unmarshal(iter.Value(), log); err != nil {
			return fmt.Errorf("decode journal entry %x: %w", iter.Key(), err)
		}
		if err := fn(log); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LastSequenceID returns the highest stored sequence ID, or 0 for an empty journal.
func (p *PebblePublishLog) LastSequenceID() (uint64, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: keyUpper,
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return parseKey(iter.Key())
}

func (p *PebblePublishLog) Close() error {
	return p.db.Close()
}

func keyFor(seqID uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seqID)
	return key
}

func parseKey(key []byte) (uint64, error) {
	if len(key) != len(keyPrefix)+8 {
		return 0, errors.New("invalid journal key length")
	}
	return binary.BigEndian.Uint64(key[len(keyPrefix):]), nil
}
