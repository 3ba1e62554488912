// Package realtime keeps a view of one offer live. It opens one store
// subscription per tracked table, normalizes change notifications and fans
// them out to handlers, the cache and the notification surface.
package realtime

import (
	"fmt"
	"time"

	"greendrake/offers/internal/models"
	"greendrake/offers/internal/services"
	"greendrake/offers/internal/store"
)

// Event is the uniform shape of one change on a tracked table. Record is the
// full new image, or the old image for deletes, so consumers can apply events
// as replacements.
type Event struct {
	Op         store.Op  `json:"op"`
	Table      string    `json:"table"`
	OfferID    string    `json:"offer_id"`
	RecordID   string    `json:"record_id"`
	Status     string    `json:"status,omitempty"`
	OldStatus  string    `json:"old_status,omitempty"`
	Record     store.Row `json:"record"`
	Old        store.Row `json:"old,omitempty"`
	CommitTime time.Time `json:"commit_time"`
}

// Deleted reports whether the record is gone.
func (e Event) Deleted() bool {
	return e.Op == store.OpDelete
}

// StatusChanged is true for inserts, deletes, and updates whose status moved
// or whose previous image is unknown.
func (e Event) StatusChanged() bool {
	if e.Op != store.OpUpdate || e.Old == nil {
		return true
	}
	return e.Status != e.OldStatus
}

// Normalize converts a store change into an Event.
func Normalize(ch store.Change) Event {
	ev := Event{
		Op:         ch.Op,
		Table:      ch.Table,
		Record:     ch.New,
		Old:        ch.Old,
		CommitTime: ch.CommitTime,
	}
	if ch.Op == store.OpDelete {
		ev.Record = ch.Old
	}
	ev.RecordID = store.ID(ev.Record)
	ev.Status = str(ev.Record, "status")
	ev.OldStatus = str(ch.Old, "status")
	if ch.Table == models.TableOffers {
		ev.OfferID = ev.RecordID
	} else {
		ev.OfferID = str(ev.Record, "offer_id")
	}
	return ev
}

func str(row store.Row, field string) string {
	if row == nil {
		return ""
	}
	s, _ := row[field].(string)
	return s
}

// SubscriptionError reports a channel that could not be opened or was lost.
// Live updates stop for that channel only.
type SubscriptionError struct {
	OfferID string
	Table   string
	Err     error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription %s on offer %s: %v", e.Table, e.OfferID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Is matches services.ErrSubscription.
func (e *SubscriptionError) Is(target error) bool {
	return target == services.ErrSubscription
}
