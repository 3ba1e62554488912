package db

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/offers/internal/store"
	"greendrake/offers/internal/utils"
)

func duplicateKey(id utils.SixID) error {
	return &store.Error{Code: store.CodeDuplicateKey, Table: "sale_offers", Message: "duplicate key " + id.String()}
}

func TestWithRetries_SuccessfulFirstAttempt(t *testing.T) {
	calls := 0
	err := WithRetries(func() error { calls++; return nil }, 3, store.IsDuplicateKey)
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetries_NonRetryableReturnsImmediately(t *testing.T) {
	calls := 0
	unavailable := &store.Error{Code: store.CodeUnavailable, Message: "connection refused"}
	err := Try(func() error { calls++; return unavailable })
	assert.True(t, errors.Is(err, unavailable))
	assert.Equal(t, 1, calls, "transient errors are not retried inside the core")
}

func TestWithRetries_ExhaustRetries(t *testing.T) {
	calls := 0
	err := WithRetries(func() error {
		calls++
		return duplicateKey(utils.SixID{0, 0, 0, 0, 0, 1})
	}, 3, store.IsDuplicateKey)
	require.Error(t, err)
	assert.True(t, store.IsDuplicateKey(err))
	assert.Equal(t, 4, calls)
}

func TestTry_CollisionResolves(t *testing.T) {
	originalHook := utils.NewSixIDHook
	defer func() { utils.NewSixIDHook = originalHook }()

	taken := utils.SixID{1, 2, 3, 4, 5, 1}
	fresh := utils.SixID{1, 2, 3, 4, 5, 2}
	sequence := []utils.SixID{taken, taken, fresh}
	next := 0
	utils.NewSixIDHook = func() (utils.SixID, bool) {
		if next < len(sequence) {
			id := sequence[next]
			next++
			return id, true
		}
		return utils.SixID{}, false
	}

	inserted := map[utils.SixID]bool{taken: true}
	calls := 0
	err := Try(func() error {
		calls++
		id := utils.NewSixID()
		if inserted[id] {
			return duplicateKey(id)
		}
		inserted[id] = true
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, inserted[fresh])
	assert.Len(t, inserted, 2)
}
