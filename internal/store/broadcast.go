package store

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// Broadcaster decorates a RecordStore so every committed write is published
// on Redis and subscriptions are served from Redis pub/sub. This lets the
// dispatchers of every API process observe writes made by any other process,
// whatever the underlying driver supports.
type Broadcaster struct {
	RecordStore
	rdb    *redis.Client
	prefix string
}

// NewBroadcaster wraps inner. Channels are named "<prefix>:<table>".
func NewBroadcaster(inner RecordStore, rdb *redis.Client, prefix string) *Broadcaster {
	if prefix == "" {
		prefix = "offers:changes"
	}
	return &Broadcaster{RecordStore: inner, rdb: rdb, prefix: prefix}
}

func (b *Broadcaster) channel(table string) string {
	return b.prefix + ":" + table
}

// publish is best-effort: the write has already committed. The stamp is this
// process's clock; subscribers order changes by arrival on the channel.
func (b *Broadcaster) publish(ctx context.Context, ch Change) {
	ch.CommitTime = time.Now().UTC()
	payload, err := bson.Marshal(ch)
	if err != nil {
		log.Printf("WARNING: broadcast: cannot encode %s change: %v", ch.Table, err)
		return
	}
	if err := b.rdb.Publish(ctx, b.channel(ch.Table), payload).Err(); err != nil {
		log.Printf("WARNING: broadcast: publish on %s failed: %v", b.channel(ch.Table), err)
	}
}

// Insert implements RecordStore.
func (b *Broadcaster) Insert(ctx context.Context, table string, row Row) (Row, error) {
	out, err := b.RecordStore.Insert(ctx, table, row)
	if err == nil {
		b.publish(ctx, Change{Op: OpInsert, Table: table, New: out})
	}
	return out, err
}

// Update implements RecordStore. Previous images are not available here.
func (b *Broadcaster) Update(ctx context.Context, table string, filter Filter, patch Row) ([]Row, error) {
	rows, err := b.RecordStore.Update(ctx, table, filter, patch)
	if err == nil {
		for _, r := range rows {
			b.publish(ctx, Change{Op: OpUpdate, Table: table, New: r})
		}
	}
	return rows, err
}

// Delete implements RecordStore, reading the rows first so subscribers get
// the deleted images.
func (b *Broadcaster) Delete(ctx context.Context, table string, filter Filter) (int, error) {
	doomed, err := b.RecordStore.Select(ctx, table, filter)
	if err != nil {
		return 0, err
	}
	n, err := b.RecordStore.Delete(ctx, table, filter)
	if err == nil {
		for _, r := range doomed {
			b.publish(ctx, Change{Op: OpDelete, Table: table, Old: r})
		}
	}
	return n, err
}

// Subscribe listens on the table channel and filters changes locally.
func (b *Broadcaster) Subscribe(ctx context.Context, table string, filter Filter, onChange ChangeFunc) (Unsubscribe, error) {
	nf, err := normalize(filter)
	if err != nil {
		return nil, err
	}
	ps := b.rdb.Subscribe(ctx, b.channel(table))
	// Wait for the subscription confirmation so no publish is missed after return.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, &Error{Code: CodeUnavailable, Table: table, Err: err}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var ch Change
			if err := bson.Unmarshal([]byte(msg.Payload), &ch); err != nil {
				log.Printf("WARNING: broadcast: undecodable message on %s: %v", msg.Channel, err)
				continue
			}
			img := ch.New
			if ch.Op == OpDelete {
				img = ch.Old
			}
			if Matches(img, nf) {
				onChange(ch)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = ps.Close()
			<-done
		})
	}, nil
}
