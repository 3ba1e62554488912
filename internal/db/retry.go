package db

import (
	"time"

	"greendrake/offers/internal/store"
)

// Operation is a function that performs an action and returns an error if it fails.
type Operation func() error

// Retryable decides whether a failed attempt may be repeated.
type Retryable func(err error) bool

const DefaultMaxRetries = 3

// Try runs an insert that generates a fresh random id on each attempt and
// retries only on id collisions. Other failures, transient ones included, are
// returned at once: the caller decides whether to repeat a side-effecting write.
func Try(op Operation) error {
	return WithRetries(op, DefaultMaxRetries, store.IsDuplicateKey)
}

// WithRetries executes op up to maxRetries+1 times while retryable(err) holds,
// backing off a little more after each attempt.
func WithRetries(op Operation, maxRetries int, retryable Retryable) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if attempt == maxRetries || !retryable(err) {
			break
		}
		time.Sleep(time.Duration(50*(attempt+1)) * time.Millisecond)
	}
	return err
}
