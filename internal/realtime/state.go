package realtime

import (
	"reflect"
	"sort"
	"sync"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
)

type liveRecord struct {
	row        store.Row
	commitTime time.Time
	deleted    bool
}

// LiveState is the latest known image of every record of one offer, built
// from change events. Events replace whole records, so applying the same event
// twice leaves the state unchanged.
type LiveState struct {
	mu     sync.RWMutex
	tables map[string]map[string]*liveRecord
}

// NewLiveState returns an empty state.
func NewLiveState() *LiveState {
	return &LiveState{tables: make(map[string]map[string]*liveRecord)}
}

// Apply replaces the record ev describes. Channels deliver in commit order,
// so the last event to arrive wins; commit stamps come from the publisher's
// clock and are not compared. Deletes leave a tombstone so late events cannot
// resurrect the record, and a redelivery of the applied event is skipped. It
// reports whether ev was applied.
func (s *LiveState) Apply(ev Event) bool {
	if ev.RecordID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.tables[ev.Table]
	if recs == nil {
		recs = make(map[string]*liveRecord)
		s.tables[ev.Table] = recs
	}
	if cur, ok := recs[ev.RecordID]; ok {
		if cur.deleted {
			return false
		}
		if cur.commitTime.Equal(ev.CommitTime) && !ev.Deleted() && reflect.DeepEqual(cur.row, ev.Record) {
			return false
		}
	}
	recs[ev.RecordID] = &liveRecord{row: ev.Record, commitTime: ev.CommitTime, deleted: ev.Deleted()}
	return true
}

// Rows returns the live records of table ordered by id.
func (s *LiveState) Rows(table string) []store.Row {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.tables[table]))
	for id, rec := range s.tables[table] {
		if !rec.deleted {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	out := make([]store.Row, len(ids))
	for i, id := range ids {
		out[i] = s.tables[table][id].row
	}
	return out
}

// Record returns the live image of one record.
func (s *LiveState) Record(table, id string) (store.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tables[table][id]
	if !ok || rec.deleted {
		return nil, false
	}
	return rec.row, true
}

// Len counts live records across every table.
func (s *LiveState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, recs := range s.tables {
		for _, rec := range recs {
			if !rec.deleted {
				n++
			}
		}
	}
	return n
}

// patchCache brings the cached copies of ev's offer up to date. The offer is
// replaced whole; list entries are replaced by id.
func patchCache(c *cache.TTLCache, ev Event) {
	if c == nil || ev.OfferID == "" {
		return
	}
	switch ev.Table {
	case models.TableOffers:
		patchOffer(c, ev)
	case models.TableDocuments:
		patchList[models.OfferDocument](c, cache.DocumentsKey(ev.OfferID), ev,
			func(d models.OfferDocument) string { return d.ID.String() })
	case models.TableCommunications:
		patchList[models.OfferCommunication](c, cache.CommunicationsKey(ev.OfferID), ev,
			func(m models.OfferCommunication) string { return m.ID.String() })
	}
}

func patchOffer(c *cache.TTLCache, ev Event) {
	key := cache.OfferKey(ev.OfferID)
	if ev.Deleted() {
		c.Delete(key)
		return
	}
	var next models.SaleOffer
	if err := store.Decode(ev.Record, &next); err != nil {
		c.Delete(key)
		return
	}
	c.Set(key, next)
}

// patchList updates a cached list in place. Lists that are not cached stay
// uncached; the next read loads them whole.
func patchList[T any](c *cache.TTLCache, key string, ev Event, id func(T) string) {
	v, ok := c.Peek(key)
	if !ok {
		return
	}
	cur, ok := v.([]T)
	if !ok {
		c.Delete(key)
		return
	}
	var item T
	if !ev.Deleted() {
		if err := store.Decode(ev.Record, &item); err != nil {
			c.Delete(key)
			return
		}
	}

	next := make([]T, 0, len(cur)+1)
	found := false
	for _, x := range cur {
		if id(x) != ev.RecordID {
			next = append(next, x)
			continue
		}
		found = true
		if !ev.Deleted() {
			next = append(next, item)
		}
	}
	if !found && !ev.Deleted() {
		next = append(next, item)
	}
	c.Set(key, next)
}
