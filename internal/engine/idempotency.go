package engine

import (
	"container/list"
	"fmt"
)

// dedupCapacity bounds the in-memory idempotency LRU.
const dedupCapacity = 100_000

// DBRequestChecker is the durable dedup tier: it answers whether a request
// ID derived from an idempotency key already exists in the event log.
type DBRequestChecker interface {
	Seen(kind, key string) (bool, error)
}

// Deduper implements two-tier idempotency: an in-memory LRU for the hot
// path and a database lookup for keys that aged out of it. It is only
// accessed under the engine mutex.
type Deduper struct {
	capacity int
	cache    map[string]*list.Element
	order    *list.List
	db       DBRequestChecker
}

func NewDeduper(capacity int, db DBRequestChecker) *Deduper {
	return &Deduper{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		db:       db,
	}
}

// IsDuplicate reports whether the (kind, key) pair was applied before. A
// failing database lookup counts as not-duplicate: a storage hiccup must
// not block request processing, and replays are still caught by the log's
// unique request constraint.
func (d *Deduper) IsDuplicate(kind, key string) bool {
	composite := fmt.Sprintf("%s:%s", kind, key)

	if elem, ok := d.cache[composite]; ok {
		d.order.MoveToFront(elem)
		return true
	}

	if d.db != nil {
		seen, err := d.db.Seen(kind, key)
		if err == nil && seen {
			d.add(composite)
			return true
		}
	}
	return false
}

// MarkProcessed records a key after its request committed.
func (d *Deduper) MarkProcessed(kind, key string) {
	d.add(fmt.Sprintf("%s:%s", kind, key))
}

// Size returns the current LRU occupancy.
func (d *Deduper) Size() int { return d.order.Len() }

func (d *Deduper) add(composite string) {
	if elem, ok := d.cache[composite]; ok {
		d.order.MoveToFront(elem)
		return
	}
	d.cache[composite] = d.order.PushFront(composite)
	if d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.cache, oldest.Value.(string))
	}
}
