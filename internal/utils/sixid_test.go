package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSixID_StringRoundTrip(t *testing.T) {
	id := SixID{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02}
	s := id.String()
	assert.Len(t, s, 10)

	parsed, err := ParseSixID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	lower, err := ParseSixID(strings.ToLower(s))
	require.NoError(t, err)
	assert.Equal(t, id, lower)
}

func TestSixID_ParseRejectsGarbage(t *testing.T) {
	_, err := ParseSixID("short")
	assert.Error(t, err)

	_, err = ParseSixID("UUUUUUUUUU")
	assert.Error(t, err)

	zero, err := ParseSixID("")
	assert.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestSixID_BSONTravelsAsString(t *testing.T) {
	type holder struct {
		ID    SixID  `bson:"_id"`
		Owner *SixID `bson:"owner,omitempty"`
	}
	id := NewSixID()
	owner := NewSixID()

	raw, err := bson.Marshal(holder{ID: id, Owner: &owner})
	require.NoError(t, err)

	var row bson.M
	require.NoError(t, bson.Unmarshal(raw, &row))
	assert.Equal(t, id.String(), row["_id"])
	assert.Equal(t, owner.String(), row["owner"])

	var back holder
	require.NoError(t, bson.Unmarshal(raw, &back))
	assert.Equal(t, id, back.ID)
	require.NotNil(t, back.Owner)
	assert.Equal(t, owner, *back.Owner)
}

func TestNewSixIDHook(t *testing.T) {
	fixed := SixID{1, 2, 3, 4, 5, 6}
	NewSixIDHook = func() (SixID, bool) { return fixed, true }
	defer func() { NewSixIDHook = nil }()

	assert.Equal(t, fixed, NewSixID())
}
