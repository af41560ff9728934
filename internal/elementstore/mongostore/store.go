// Package mongostore keeps element documents in a MongoDB collection, one
// collection per queue. Revisions live in the document's rev field and every
// write is filtered on {_id, rev}.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dmwm/workqueue/internal/element"
	"github.com/dmwm/workqueue/internal/elementstore"
)

type document struct {
	element.Element `bson:",inline"`
	Rev             int64 `bson:"rev"`
}

// Store implements elementstore.Store over a collection.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
	owned      bool
}

var _ elementstore.Store = (*Store)(nil)

// New returns a store on database.queue. Close does not disconnect client.
func New(client *mongo.Client, database, queue string) *Store {
	return &Store{client: client, collection: client.Database(database).Collection(queue)}
}

// Connect dials uri, ensures indexes and returns a store owning the client.
func Connect(ctx context.Context, uri, database, queue string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	s := New(client, database, queue)
	s.owned = true
	if err := s.EnsureIndexes(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// EnsureIndexes creates the indexes backing each view.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "request_name", Value: 1}}},
		{Keys: bson.D{{Key: "parent_queue_id", Value: 1}}},
		{Keys: bson.D{{Key: "child_queue", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "priority", Value: -1}, {Key: "insert_id", Value: 1}}},
	}
	if _, err := s.collection.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Disconnect(context.Background())
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*element.Element, elementstore.Revision, error) {
	var doc document
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, fmt.Errorf("%s: %w", id, elementstore.ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	el := doc.Element
	return &el, elementstore.Revision(doc.Rev), nil
}

func (s *Store) Put(ctx context.Context, el *element.Element, expected elementstore.Revision) (elementstore.Revision, error) {
	if el.ID == "" {
		return 0, &element.ValidationError{Field: "id", Reason: "must not be empty"}
	}
	next := expected + 1
	doc := document{Element: *el, Rev: int64(next)}
	if expected == 0 {
		_, err := s.collection.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return 0, s.conflict(ctx, el.ID, expected)
		}
		if err != nil {
			return 0, err
		}
		return next, nil
	}
	res, err := s.collection.ReplaceOne(ctx, bson.M{"_id": el.ID, "rev": int64(expected)}, doc)
	if err != nil {
		return 0, err
	}
	if res.MatchedCount == 0 {
		return 0, s.conflict(ctx, el.ID, expected)
	}
	return next, nil
}

// conflict builds the error for a write whose filter matched nothing.
func (s *Store) conflict(ctx context.Context, id string, expected elementstore.Revision) error {
	_, actual, err := s.Get(ctx, id)
	if err != nil && !errors.Is(err, elementstore.ErrNotFound) {
		return err
	}
	return &elementstore.ConflictError{ID: id, Expected: expected, Actual: actual}
}

func (s *Store) Delete(ctx context.Context, id string, expected elementstore.Revision) error {
	res, err := s.collection.DeleteOne(ctx, bson.M{"_id": id, "rev": int64(expected)})
	if err != nil {
		return err
	}
	if res.DeletedCount == 1 {
		return nil
	}
	_, actual, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return &elementstore.ConflictError{ID: id, Expected: expected, Actual: actual}
}

func (s *Store) BulkPut(ctx context.Context, writes []elementstore.Write) ([]elementstore.WriteResult, error) {
	out := make([]elementstore.WriteResult, len(writes))
	for i, w := range writes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rev, err := s.Put(ctx, w.Element, w.Expected)
		out[i] = elementstore.WriteResult{ID: w.Element.ID, Rev: rev, Err: err}
	}
	return out, nil
}

func (s *Store) Query(ctx context.Context, view elementstore.View, r elementstore.KeyRange) ([]elementstore.Doc, error) {
	filter, sort, err := viewQuery(view, r)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetSort(sort)
	if r.Limit > 0 {
		opts.SetLimit(int64(r.Limit))
	}
	cur, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []elementstore.Doc
	for cur.Next(ctx) {
		var doc document
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		el := doc.Element
		out = append(out, elementstore.Doc{Element: &el, Rev: elementstore.Revision(doc.Rev)})
	}
	return out, cur.Err()
}

var viewFields = map[elementstore.View]string{
	elementstore.ByStatus:     "status",
	elementstore.ByRequest:    "request_name",
	elementstore.ByParent:     "parent_queue_id",
	elementstore.ByChildQueue: "child_queue",
}

// viewQuery translates a view and range into a filter and sort order.
func viewQuery(view elementstore.View, r elementstore.KeyRange) (bson.D, bson.D, error) {
	if err := elementstore.ValidView(view); err != nil {
		return nil, nil, err
	}
	if view == elementstore.Available {
		return bson.D{{Key: "status", Value: string(element.Available)}},
			bson.D{{Key: "priority", Value: -1}, {Key: "insert_id", Value: 1}}, nil
	}
	field := viewFields[view]
	cond := bson.D{{Key: "$exists", Value: true}, {Key: "$ne", Value: ""}}
	if !r.Whole() {
		cond = bson.D{{Key: "$gte", Value: r.Start}}
		if r.End != "" {
			cond = append(cond, bson.E{Key: "$lte", Value: r.End})
		}
	}
	return bson.D{{Key: field, Value: cond}}, bson.D{{Key: field, Value: 1}, {Key: "_id", Value: 1}}, nil
}
