package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process RecordStore. It backs the "memory" store driver
// and the package tests. Tables spring into existence on first insert unless
// they have been dropped, in which case every call reports 42P01 until
// CreateTable is called again.
type MemoryStore struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex // serializes deliveries in commit order

	tables  map[string][]Row
	dropped map[string]bool
	faults  map[string][]error
	subs    map[string]map[int]*memorySub
	nextSub int
	now     func() time.Time
}

type memorySub struct {
	filter   Row
	onChange ChangeFunc
}

type delivery struct {
	fn     ChangeFunc
	change Change
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:  make(map[string][]Row),
		dropped: make(map[string]bool),
		faults:  make(map[string][]error),
		subs:    make(map[string]map[int]*memorySub),
		now:     time.Now,
	}
}

// DropTable makes table behave as not yet provisioned.
func (s *MemoryStore) DropTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, table)
	s.dropped[table] = true
}

// CreateTable provisions table (again).
func (s *MemoryStore) CreateTable(table string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dropped, table)
	if _, ok := s.tables[table]; !ok {
		s.tables[table] = nil
	}
}

// FailNext makes the next call touching table return err.
func (s *MemoryStore) FailNext(table string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[table] = append(s.faults[table], err)
}

// SubscriptionCount returns the number of live subscriptions on table, or on
// all tables when table is "".
func (s *MemoryStore) SubscriptionCount(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if table != "" {
		return len(s.subs[table])
	}
	n := 0
	for _, subs := range s.subs {
		n += len(subs)
	}
	return n
}

// checkLocked returns an injected fault or a provisioning gap for table.
// Callers must hold the write lock.
func (s *MemoryStore) checkLocked(table string) error {
	if q := s.faults[table]; len(q) > 0 {
		err := q[0]
		s.faults[table] = q[1:]
		return err
	}
	if s.dropped[table] {
		return &Error{Code: CodeUndefinedRelation, Table: table, Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	return nil
}

func cloneRow(r Row) Row {
	if r == nil {
		return nil
	}
	c, err := Encode(r)
	if err != nil {
		return nil
	}
	return c
}

// Select returns copies of the matching rows in the requested order.
func (s *MemoryStore) Select(ctx context.Context, table string, filter Filter, order ...Order) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nf, err := normalize(filter)
	if err != nil {
		return nil, err
	}

	// Faults are consumed, so selects take the write lock too.
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(table); err != nil {
		return nil, err
	}

	var out []Row
	for _, row := range s.tables[table] {
		if Matches(row, nf) {
			out = append(out, cloneRow(row))
		}
	}
	sortRows(out, order)
	return out, nil
}

// Insert stores row; "_id" is required and must be unique.
func (s *MemoryStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nr, err := normalize(row)
	if err != nil {
		return nil, err
	}
	id := ID(nr)
	if id == "" {
		return nil, &Error{Code: CodeInvalidRow, Table: table, Message: "row has no _id"}
	}

	s.mu.Lock()
	if err := s.checkLocked(table); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	for _, existing := range s.tables[table] {
		if ID(existing) == id {
			s.mu.Unlock()
			return nil, &Error{Code: CodeDuplicateKey, Table: table, Message: fmt.Sprintf("duplicate key %s", id)}
		}
	}
	s.tables[table] = append(s.tables[table], nr)
	out := s.deliverAndUnlock(table, []Change{{Op: OpInsert, Table: table, New: cloneRow(nr)}})
	s.notify(out)
	return cloneRow(nr), nil
}

// Update sets the patch fields on every matching row.
func (s *MemoryStore) Update(ctx context.Context, table string, filter Filter, patch Row) ([]Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nf, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	np, err := normalize(patch)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if err := s.checkLocked(table); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var updated []Row
	var changes []Change
	for i, row := range s.tables[table] {
		if !Matches(row, nf) {
			continue
		}
		old := cloneRow(row)
		next := cloneRow(row)
		for k, v := range np {
			if k == "_id" {
				continue
			}
			next[k] = v
		}
		s.tables[table][i] = next
		updated = append(updated, cloneRow(next))
		changes = append(changes, Change{Op: OpUpdate, Table: table, New: cloneRow(next), Old: old})
	}
	out := s.deliverAndUnlock(table, changes)
	s.notify(out)
	return updated, nil
}

// Delete removes matching rows and returns how many were removed.
func (s *MemoryStore) Delete(ctx context.Context, table string, filter Filter) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	nf, err := normalize(filter)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	if err := s.checkLocked(table); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	kept := s.tables[table][:0:0]
	var changes []Change
	for _, row := range s.tables[table] {
		if Matches(row, nf) {
			changes = append(changes, Change{Op: OpDelete, Table: table, Old: cloneRow(row)})
			continue
		}
		kept = append(kept, row)
	}
	s.tables[table] = kept
	out := s.deliverAndUnlock(table, changes)
	s.notify(out)
	return len(changes), nil
}

// Subscribe registers onChange for changes on table whose new (or, for
// deletes, old) image matches filter.
func (s *MemoryStore) Subscribe(ctx context.Context, table string, filter Filter, onChange ChangeFunc) (Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nf, err := normalize(filter)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLocked(table); err != nil {
		return nil, err
	}
	if s.subs[table] == nil {
		s.subs[table] = make(map[int]*memorySub)
	}
	s.nextSub++
	id := s.nextSub
	s.subs[table][id] = &memorySub{filter: nf, onChange: onChange}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[table], id)
			s.mu.Unlock()
		})
	}, nil
}

// deliverAndUnlock routes changes to subscribers, takes the notify lock and
// releases the data lock, so deliveries happen in commit order without
// holding the data lock. Callers must call notify with the result.
func (s *MemoryStore) deliverAndUnlock(table string, changes []Change) []delivery {
	var out []delivery
	commit := s.now()
	for _, ch := range changes {
		ch.CommitTime = commit
		for _, sub := range s.subs[table] {
			img := ch.New
			if ch.Op == OpDelete {
				img = ch.Old
			}
			if Matches(img, sub.filter) {
				out = append(out, delivery{fn: sub.onChange, change: Change{
					Op: ch.Op, Table: ch.Table, New: cloneRow(ch.New), Old: cloneRow(ch.Old), CommitTime: ch.CommitTime,
				}})
			}
		}
	}
	s.notifyMu.Lock()
	s.mu.Unlock()
	return out
}

func (s *MemoryStore) notify(out []delivery) {
	defer s.notifyMu.Unlock()
	for _, d := range out {
		d.fn(d.change)
	}
}
