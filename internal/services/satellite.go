package services

import (
	"context"
	"fmt"
	"time"

	"greendrake/offers/internal/cache"
	"greendrake/offers/internal/db"
	"greendrake/offers/internal/models"
	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

// satellite holds what every satellite manager shares: the store, the role
// resolver, the timeline and the cache.
type satellite struct {
	st       store.RecordStore
	roles    IRoleResolver
	timeline ITimelineService
	cache    *cache.TTLCache
	now      func() time.Time
}

func newSatellite(st store.RecordStore, roles IRoleResolver, timeline ITimelineService, c *cache.TTLCache) satellite {
	return satellite{
		st:       st,
		roles:    roles,
		timeline: timeline,
		cache:    c,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// authorize resolves the caller against the offer and checks the role is one
// of allowed. Buyers must be the offer's own buyer.
func (s *satellite) authorize(ctx context.Context, op string, identity models.Identity, offerID utils.SixID, allowed ...models.Role) (*Resolution, error) {
	res, err := s.roles.Resolve(ctx, identity, &offerID)
	if err != nil {
		return nil, err
	}
	if !res.Is(allowed...) {
		return nil, permissionDenied(op, "")
	}
	if res.Role == models.RoleBuyer && !res.IsParty {
		return nil, permissionDenied(op, "")
	}
	return res, nil
}

// list selects an offer's rows oldest first. A missing table reads as empty.
func (s *satellite) list(ctx context.Context, op, table string, offerID utils.SixID) ([]store.Row, error) {
	rows, err := s.st.Select(ctx, table, store.Filter{"offer_id": offerID}, store.Asc("created_at"))
	if err != nil {
		if store.IsUndefinedRelation(err) {
			return []store.Row{}, nil
		}
		return nil, storeFailure(op, err)
	}
	return rows, nil
}

// insert encodes the value built by build and inserts it, building again with
// a fresh id when the id collides.
func (s *satellite) insert(ctx context.Context, op, table string, build func(id utils.SixID) interface{}) error {
	err := db.Try(func() error {
		row, err := store.Encode(build(utils.NewSixID()))
		if err != nil {
			return err
		}
		_, err = s.st.Insert(ctx, table, row)
		return err
	})
	return storeFailure(op, err)
}

// fetch loads one row of the offer into out.
func (s *satellite) fetch(ctx context.Context, op, table, what string, offerID, id utils.SixID, out interface{}) error {
	rows, err := s.st.Select(ctx, table, store.Filter{"_id": id, "offer_id": offerID})
	if err != nil {
		return storeFailure(op, err)
	}
	if len(rows) == 0 {
		return notFound(op, what)
	}
	return storeFailure(op, store.Decode(rows[0], out))
}

// conditionalUpdate patches the row only while its status is still expected.
func (s *satellite) conditionalUpdate(ctx context.Context, op, table string, id utils.SixID, expected string, patch store.Row, out interface{}) error {
	patch["updated_at"] = s.now()
	rows, err := s.st.Update(ctx, table, store.Filter{"_id": id, "status": expected}, patch)
	if err != nil {
		return storeFailure(op, err)
	}
	if len(rows) == 0 {
		return newError(KindConcurrentTransition, op, "", fmt.Errorf("%s %s is no longer %s", table, id.String(), expected))
	}
	return storeFailure(op, store.Decode(rows[0], out))
}

// update patches the row unconditionally.
func (s *satellite) update(ctx context.Context, op, table, what string, offerID, id utils.SixID, patch store.Row, out interface{}) error {
	rows, err := s.st.Update(ctx, table, store.Filter{"_id": id, "offer_id": offerID}, patch)
	if err != nil {
		return storeFailure(op, err)
	}
	if len(rows) == 0 {
		return notFound(op, what)
	}
	return storeFailure(op, store.Decode(rows[0], out))
}

func (s *satellite) remove(ctx context.Context, op, table, what string, offerID, id utils.SixID) error {
	n, err := s.st.Delete(ctx, table, store.Filter{"_id": id, "offer_id": offerID})
	if err != nil {
		return storeFailure(op, err)
	}
	if n == 0 {
		return notFound(op, what)
	}
	return nil
}

// record appends the timeline entry of a successful mutation.
func (s *satellite) record(ctx context.Context, res *Resolution, offerID utils.SixID, eventType, title, description string, payload map[string]interface{}) {
	s.timeline.Append(ctx, newEntry(res, offerID, eventType, title, description, payload))
}

// canTransition looks up to in a status transition table.
func canTransition[S ~string](table map[S][]S, from, to S) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}
