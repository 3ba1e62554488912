// Package store is the boundary to the remote record store: row-level CRUD
// plus a change subscription per table and filter. Rows are BSON documents
// keyed by "_id"; filters are plain field equality.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Row is a single record as seen by the store.
type Row = bson.M

// Filter selects rows whose fields equal every given value.
type Filter map[string]interface{}

// Order sorts a select by one field.
type Order struct {
	Field string
	Desc  bool
}

// Asc and Desc build single-field orders.
func Asc(field string) Order  { return Order{Field: field} }
func Desc(field string) Order { return Order{Field: field, Desc: true} }

// Op is the kind of a change notification.
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is one committed mutation as delivered to subscribers. New is empty
// for deletes; Old is set when the driver has the previous image.
type Change struct {
	Op         Op        `bson:"op"`
	Table      string    `bson:"table"`
	New        Row       `bson:"new,omitempty"`
	Old        Row       `bson:"old,omitempty"`
	CommitTime time.Time `bson:"commit_time"`
}

// ChangeFunc receives change notifications. Deliveries on one subscription are
// sequential and in commit order. Implementations must not write to the store
// from inside the callback.
type ChangeFunc func(Change)

// Unsubscribe tears a subscription down. It is safe to call more than once.
type Unsubscribe func()

// Subscriber opens change subscriptions.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, filter Filter, onChange ChangeFunc) (Unsubscribe, error)
}

// RecordStore is the full store boundary consumed by the services.
type RecordStore interface {
	Subscriber
	Select(ctx context.Context, table string, filter Filter, order ...Order) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) (Row, error)
	// Update applies patch to every matching row and returns the updated rows.
	// An empty result means nothing matched.
	Update(ctx context.Context, table string, filter Filter, patch Row) ([]Row, error)
	Delete(ctx context.Context, table string, filter Filter) (int, error)
}

// Error codes reported by store drivers. They follow the SQLSTATE values the
// hosted backend uses so clients can treat every driver the same way.
const (
	CodeUndefinedRelation = "42P01"
	CodeDuplicateKey      = "23505"
	CodeUnavailable       = "08006"
	CodeInvalidRow        = "22023"
)

// Error is a store failure with a machine-readable code.
type Error struct {
	Code    string
	Table   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("store: %s [%s] %s", e.Table, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the store error code carried by err, or "".
func Code(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsUndefinedRelation reports whether err means the table does not exist yet.
func IsUndefinedRelation(err error) bool {
	return Code(err) == CodeUndefinedRelation
}

// IsDuplicateKey reports a unique-key violation.
func IsDuplicateKey(err error) bool {
	return Code(err) == CodeDuplicateKey
}

// IsTransient reports network, timeout and availability failures that a
// caller may retry with backoff.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if Code(err) == CodeUnavailable {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Encode converts a tagged struct (or map) into a Row using its BSON encoding.
func Encode(v interface{}) (Row, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, &Error{Code: CodeInvalidRow, Message: "encode row", Err: err}
	}
	var row Row
	if err := bson.Unmarshal(raw, &row); err != nil {
		return nil, &Error{Code: CodeInvalidRow, Message: "encode row", Err: err}
	}
	return row, nil
}

// Decode fills out from row.
func Decode(row Row, out interface{}) error {
	raw, err := bson.Marshal(row)
	if err != nil {
		return &Error{Code: CodeInvalidRow, Message: "decode row", Err: err}
	}
	if err := bson.Unmarshal(raw, out); err != nil {
		return &Error{Code: CodeInvalidRow, Message: "decode row", Err: err}
	}
	return nil
}

// DecodeAll decodes every row into a T.
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var v T
		if err := Decode(row, &v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ID reads the "_id" of a row as a string.
func ID(row Row) string {
	if row == nil {
		return ""
	}
	s, _ := row["_id"].(string)
	return s
}
