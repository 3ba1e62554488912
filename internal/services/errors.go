package services

import (
	"errors"
	"fmt"

	"greendrake/offers/internal/store"
)

// ErrorKind classifies failures for callers and for HTTP status mapping.
type ErrorKind string

const (
	KindPermissionDenied     ErrorKind = "permission_denied"
	KindStateTransition      ErrorKind = "state_transition"
	KindConcurrentTransition ErrorKind = "concurrent_transition"
	KindProvisioningGap      ErrorKind = "provisioning_gap"
	KindTransientStore       ErrorKind = "transient_store"
	KindSubscription         ErrorKind = "subscription"
	KindNotFound             ErrorKind = "not_found"
	KindValidation           ErrorKind = "validation"
	KindStore                ErrorKind = "store"
)

var (
	ErrPermissionDenied     = errors.New("permission denied")
	ErrStateTransition      = errors.New("invalid state transition")
	ErrConcurrentTransition = errors.New("concurrent transition")
	ErrProvisioningGap      = errors.New("relation not provisioned")
	ErrTransientStore       = errors.New("transient store failure")
	ErrSubscription         = errors.New("subscription failure")
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrStore                = errors.New("store failure")
)

var kindSentinel = map[ErrorKind]error{
	KindPermissionDenied:     ErrPermissionDenied,
	KindStateTransition:      ErrStateTransition,
	KindConcurrentTransition: ErrConcurrentTransition,
	KindProvisioningGap:      ErrProvisioningGap,
	KindTransientStore:       ErrTransientStore,
	KindSubscription:         ErrSubscription,
	KindNotFound:             ErrNotFound,
	KindValidation:           ErrValidation,
	KindStore:                ErrStore,
}

var userMessages = map[ErrorKind]string{
	KindPermissionDenied:     "You are not allowed to perform this action on this offer.",
	KindStateTransition:      "This action is not available for the offer in its current state.",
	KindConcurrentTransition: "The offer was changed by someone else. Reload it and try again.",
	KindProvisioningGap:      "This feature is not available yet.",
	KindTransientStore:       "The service is temporarily unavailable. Please try again.",
	KindSubscription:         "Live updates are unavailable right now.",
	KindNotFound:             "The requested item was not found.",
	KindValidation:           "Some of the provided information is invalid.",
	KindStore:                "Something went wrong while saving your changes.",
}

// OfferError is the typed failure returned by every service operation.
// Message is safe to show to end users; Err keeps the internal cause.
type OfferError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *OfferError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *OfferError) Unwrap() error { return e.Err }

// Is matches the sentinel of the error kind. A concurrent transition is also
// a state transition error.
func (e *OfferError) Is(target error) bool {
	if target == kindSentinel[e.Kind] {
		return true
	}
	return e.Kind == KindConcurrentTransition && target == ErrStateTransition
}

// KindOf returns the kind of the outermost OfferError in err's chain.
func KindOf(err error) ErrorKind {
	var oe *OfferError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return ""
}

// UserMessage returns a short message suitable for end users. Raw store
// errors are never exposed.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var oe *OfferError
	if errors.As(err, &oe) {
		if oe.Message != "" && oe.Kind != KindStore && oe.Kind != KindTransientStore {
			return oe.Message
		}
		return userMessages[oe.Kind]
	}
	return userMessages[KindStore]
}

func newError(kind ErrorKind, op, msg string, err error) *OfferError {
	if msg == "" {
		msg = userMessages[kind]
	}
	return &OfferError{Kind: kind, Op: op, Message: msg, Err: err}
}

func permissionDenied(op, msg string) error {
	return newError(KindPermissionDenied, op, msg, nil)
}

func validationError(op, msg string) error {
	return newError(KindValidation, op, msg, nil)
}

func notFound(op, what string) error {
	return newError(KindNotFound, op, fmt.Sprintf("%s not found.", what), nil)
}

// storeFailure classifies a store error. It returns nil for nil.
func storeFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	var oe *OfferError
	if errors.As(err, &oe) {
		return err
	}
	switch {
	case store.IsUndefinedRelation(err):
		return newError(KindProvisioningGap, op, "", err)
	case store.IsTransient(err):
		return newError(KindTransientStore, op, "", err)
	}
	return newError(KindStore, op, "", err)
}
