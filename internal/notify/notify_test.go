package notify

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n Notification) error {
	return m.Called(ctx, n).Error(0)
}

func TestFileNotifier_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "notifications.jsonl")
	fn, err := NewFileNotifier(path)
	require.NoError(t, err)

	require.NoError(t, fn.Notify(context.Background(), Notification{Kind: "document_validated", OfferID: "A", Title: "Documento validado"}))
	require.NoError(t, fn.Notify(context.Background(), Notification{Kind: "message_sent", OfferID: "A"}))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var got []Notification
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var n Notification
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &n))
		got = append(got, n)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "document_validated", got[0].Kind)
	assert.NotEmpty(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	_, err = NewFileNotifier("  ")
	assert.Error(t, err)
}

func TestCompositeNotifier(t *testing.T) {
	ok := new(mockNotifier)
	failing := new(mockNotifier)
	ok.On("Notify", mock.Anything, mock.MatchedBy(func(n Notification) bool { return n.ID != "" })).Return(nil)
	failing.On("Notify", mock.Anything, mock.Anything).Return(errors.New("inbox full"))

	c := NewCompositeNotifier(ok)
	c.AddNotifier(nil)
	require.NoError(t, c.Notify(context.Background(), Notification{Kind: "x"}))

	c.AddNotifier(failing)
	err := c.Notify(context.Background(), Notification{Kind: "x"})
	assert.ErrorContains(t, err, "inbox full")
	ok.AssertNumberOfCalls(t, "Notify", 2)

	assert.Error(t, NewCompositeNotifier().Notify(context.Background(), Notification{}))
}

func TestInboxKey(t *testing.T) {
	assert.Equal(t, "notifications:user:U1", InboxKey(Notification{Recipient: "U1", OfferID: "O"}))
	assert.Equal(t, "notifications:offer:O", InboxKey(Notification{OfferID: "O"}))
}

func TestRedisNotifier(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping Redis notifier test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()

	n := Notification{Kind: "offer_countered", OfferID: "TESTOFFER1", Recipient: "TESTUSER01"}
	key := InboxKey(n)
	client.Del(ctx, key)
	defer client.Del(ctx, key)

	rn := NewRedisNotifier(client)
	require.NoError(t, rn.Notify(ctx, n))

	inbox, err := rn.Inbox(ctx, key, 10)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, "offer_countered", inbox[0].Kind)
}
