package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements RecordStore on a MongoDB database. Each table is a
// collection. In strict mode a collection that has not been created reports
// CodeUndefinedRelation instead of being created implicitly, so a partially
// deployed schema behaves the same as on the hosted backend.
type MongoStore struct {
	db     *mongo.Database
	strict bool

	mu          sync.Mutex
	collections map[string]bool
}

// NewMongoStore wraps db.
func NewMongoStore(db *mongo.Database, strict bool) *MongoStore {
	return &MongoStore{db: db, strict: strict, collections: make(map[string]bool)}
}

// ensure checks that table exists when running strict.
func (s *MongoStore) ensure(ctx context.Context, table string) error {
	if !s.strict {
		return nil
	}
	s.mu.Lock()
	known := s.collections[table]
	s.mu.Unlock()
	if known {
		return nil
	}

	names, err := s.db.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return mapMongoError(table, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range names {
		s.collections[n] = true
	}
	if !s.collections[table] {
		return &Error{Code: CodeUndefinedRelation, Table: table, Message: fmt.Sprintf("relation %q does not exist", table)}
	}
	return nil
}

func mapMongoError(table string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case mongo.IsDuplicateKeyError(err):
		return &Error{Code: CodeDuplicateKey, Table: table, Err: err}
	case mongo.IsNetworkError(err), mongo.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeUnavailable, Table: table, Err: err}
	}
	return &Error{Table: table, Err: err}
}

func sortDoc(order []Order) bson.D {
	d := bson.D{}
	for _, o := range order {
		dir := 1
		if o.Desc {
			dir = -1
		}
		d = append(d, bson.E{Key: o.Field, Value: dir})
	}
	return d
}

// Select implements RecordStore.
func (s *MongoStore) Select(ctx context.Context, table string, filter Filter, order ...Order) ([]Row, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}
	opts := options.Find()
	if len(order) > 0 {
		opts.SetSort(sortDoc(order))
	}
	cur, err := s.db.Collection(table).Find(ctx, bson.M(filter), opts)
	if err != nil {
		return nil, mapMongoError(table, err)
	}
	var rows []Row
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapMongoError(table, err)
	}
	return rows, nil
}

// Insert implements RecordStore.
func (s *MongoStore) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}
	nr, err := normalize(row)
	if err != nil {
		return nil, err
	}
	if ID(nr) == "" {
		return nil, &Error{Code: CodeInvalidRow, Table: table, Message: "row has no _id"}
	}
	if _, err := s.db.Collection(table).InsertOne(ctx, nr); err != nil {
		return nil, mapMongoError(table, err)
	}
	return nr, nil
}

// Update implements RecordStore. A filter on "_id" is applied atomically with
// FindOneAndUpdate, which is what conditional status transitions rely on.
func (s *MongoStore) Update(ctx context.Context, table string, filter Filter, patch Row) ([]Row, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}
	np, err := normalize(patch)
	if err != nil {
		return nil, err
	}
	delete(np, "_id")
	coll := s.db.Collection(table)
	update := bson.M{"$set": np}

	if _, single := filter["_id"]; single {
		var row Row
		opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
		err := coll.FindOneAndUpdate(ctx, bson.M(filter), update, opts).Decode(&row)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		if err != nil {
			return nil, mapMongoError(table, err)
		}
		return []Row{row}, nil
	}

	matched, err := s.Select(ctx, table, filter)
	if err != nil {
		return nil, err
	}
	if len(matched) == 0 {
		return nil, nil
	}
	ids := make([]interface{}, 0, len(matched))
	for _, r := range matched {
		ids = append(ids, r["_id"])
	}
	scoped := bson.M{}
	for k, v := range filter {
		scoped[k] = v
	}
	scoped["_id"] = bson.M{"$in": ids}
	if _, err := coll.UpdateMany(ctx, scoped, update); err != nil {
		return nil, mapMongoError(table, err)
	}
	cur, err := coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, mapMongoError(table, err)
	}
	var rows []Row
	if err := cur.All(ctx, &rows); err != nil {
		return nil, mapMongoError(table, err)
	}
	return rows, nil
}

// Delete implements RecordStore.
func (s *MongoStore) Delete(ctx context.Context, table string, filter Filter) (int, error) {
	if err := s.ensure(ctx, table); err != nil {
		return 0, err
	}
	res, err := s.db.Collection(table).DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, mapMongoError(table, err)
	}
	return int(res.DeletedCount), nil
}

type changeEvent struct {
	OperationType string              `bson:"operationType"`
	FullDocument  Row                 `bson:"fullDocument"`
	Before        Row                 `bson:"fullDocumentBeforeChange"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
}

// Subscribe opens a change stream on the collection. Update events carry the
// post-image via updateLookup; delete events are only matched when the
// collection has pre-images enabled.
func (s *MongoStore) Subscribe(ctx context.Context, table string, filter Filter, onChange ChangeFunc) (Unsubscribe, error) {
	if err := s.ensure(ctx, table); err != nil {
		return nil, err
	}
	var after, before bson.D
	for k, v := range filter {
		after = append(after, bson.E{Key: "fullDocument." + k, Value: v})
		before = append(before, bson.E{Key: "fullDocumentBeforeChange." + k, Value: v})
	}
	match := bson.M{"operationType": bson.M{"$in": bson.A{"insert", "update", "replace", "delete"}}}
	if len(after) > 0 {
		match["$or"] = bson.A{after, before}
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)

	streamCtx, cancel := context.WithCancel(context.Background())
	cs, err := s.db.Collection(table).Watch(ctx, pipeline, opts)
	if err != nil {
		cancel()
		return nil, mapMongoError(table, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cs.Close(context.Background())
		for cs.Next(streamCtx) {
			var ev changeEvent
			if err := cs.Decode(&ev); err != nil {
				log.Printf("WARNING: store: undecodable change on %s: %v", table, err)
				continue
			}
			ch := Change{Table: table, New: ev.FullDocument, Old: ev.Before, CommitTime: time.Unix(int64(ev.ClusterTime.T), 0)}
			switch ev.OperationType {
			case "insert":
				ch.Op = OpInsert
			case "delete":
				ch.Op = OpDelete
				ch.New = nil
			default:
				ch.Op = OpUpdate
			}
			onChange(ch)
		}
		if err := cs.Err(); err != nil && streamCtx.Err() == nil {
			log.Printf("WARNING: store: change stream on %s ended: %v", table, err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
