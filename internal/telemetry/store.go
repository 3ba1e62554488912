package telemetry

import (
	"context"

	"greendrake/offers/internal/store"
)

// instrumentedStore counts every store round trip and every failure other
// than a provisioning gap, which callers treat as an empty result.
type instrumentedStore struct {
	inner store.RecordStore
	rec   *Recorder
}

// WrapStore returns a RecordStore that reports to rec.
func WrapStore(inner store.RecordStore, rec *Recorder) store.RecordStore {
	if rec == nil {
		return inner
	}
	return &instrumentedStore{inner: inner, rec: rec}
}

func (s *instrumentedStore) observe(err error) {
	s.rec.RecordAPICall()
	if err != nil && !store.IsUndefinedRelation(err) {
		s.rec.RecordError()
	}
}

func (s *instrumentedStore) Select(ctx context.Context, table string, filter store.Filter, order ...store.Order) ([]store.Row, error) {
	rows, err := s.inner.Select(ctx, table, filter, order...)
	s.observe(err)
	return rows, err
}

func (s *instrumentedStore) Insert(ctx context.Context, table string, row store.Row) (store.Row, error) {
	out, err := s.inner.Insert(ctx, table, row)
	s.observe(err)
	return out, err
}

func (s *instrumentedStore) Update(ctx context.Context, table string, filter store.Filter, patch store.Row) ([]store.Row, error) {
	rows, err := s.inner.Update(ctx, table, filter, patch)
	s.observe(err)
	return rows, err
}

func (s *instrumentedStore) Delete(ctx context.Context, table string, filter store.Filter) (int, error) {
	n, err := s.inner.Delete(ctx, table, filter)
	s.observe(err)
	return n, err
}

func (s *instrumentedStore) Subscribe(ctx context.Context, table string, filter store.Filter, onChange store.ChangeFunc) (store.Unsubscribe, error) {
	unsub, err := s.inner.Subscribe(ctx, table, filter, onChange)
	s.observe(err)
	return unsub, err
}
