package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/offers/internal/utils"
)

func TestMongoStore_CRUD(t *testing.T) {
	db := utils.SetupTestDB(t, "offers_store_test", "widgets")
	s := NewMongoStore(db, false)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		row, err := Encode(widget{ID: id, OfferID: "o1", Status: "pendiente", Amount: float64(i), At: time.Now()})
		require.NoError(t, err)
		_, err = s.Insert(ctx, "widgets", row)
		require.NoError(t, err)
	}

	rows, err := s.Select(ctx, "widgets", Filter{"offer_id": "o1"}, Desc("amount"))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "c", ID(rows[0]))

	updated, err := s.Update(ctx, "widgets", Filter{"_id": "b", "status": "pendiente"}, Row{"status": "validado"})
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, "validado", updated[0]["status"])

	// The second conditional update no longer matches.
	updated, err = s.Update(ctx, "widgets", Filter{"_id": "b", "status": "pendiente"}, Row{"status": "rechazado"})
	require.NoError(t, err)
	assert.Empty(t, updated)

	n, err := s.Delete(ctx, "widgets", Filter{"offer_id": "o1", "status": "pendiente"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMongoStore_DuplicateKey(t *testing.T) {
	db := utils.SetupTestDB(t, "offers_store_test", "widgets")
	s := NewMongoStore(db, false)
	ctx := context.Background()

	row := Row{"_id": "dup", "status": "pendiente"}
	_, err := s.Insert(ctx, "widgets", row)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "widgets", row)
	require.Error(t, err)
	assert.True(t, IsDuplicateKey(err))
}

func TestMongoStore_StrictReportsMissingCollection(t *testing.T) {
	db := utils.SetupTestDB(t, "offers_store_test", "widgets", "missing")
	ctx := context.Background()
	require.NoError(t, db.CreateCollection(ctx, "widgets"))
	s := NewMongoStore(db, true)

	_, err := s.Select(ctx, "missing", Filter{})
	require.Error(t, err)
	assert.True(t, IsUndefinedRelation(err))

	_, err = s.Select(ctx, "widgets", Filter{})
	assert.NoError(t, err)
}
