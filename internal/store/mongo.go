package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/caneko-app/caneko-server/internal/config"
)

// Mongo implements Store on a MongoDB database. Every document carries its
// logical id as _id within its collection.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, cfg config.MongoConfig) (*Mongo, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Mongo{
		client: client,
		db:     client.Database(cfg.Database),
	}, nil
}

// Close disconnects the underlying client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

func (m *Mongo) Get(ctx context.Context, collection, id string, out interface{}) error {
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(out)
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return nil
}

func (m *Mongo) Set(ctx context.Context, collection, id string, doc interface{}, merge bool) error {
	if !merge {
		_, err := m.db.Collection(collection).ReplaceOne(ctx,
			bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
		}
		return nil
	}

	fields, err := toFields(doc)
	if err != nil {
		return err
	}
	delete(fields, "_id")

	_, err = m.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id}, bson.M{"$set": fields}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to merge %s/%s: %w", collection, id, err)
	}
	return nil
}

func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	_, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (m *Mongo) FindOne(ctx context.Context, collection, field string, value interface{}, out interface{}) error {
	err := m.db.Collection(collection).FindOne(ctx, bson.M{field: value}).Decode(out)
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to find in %s by %s: %w", collection, field, err)
	}
	return nil
}

func (m *Mongo) All(ctx context.Context, collection string, out interface{}) error {
	cursor, err := m.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", collection, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", collection, err)
	}
	return nil
}

func (m *Mongo) SetFieldAll(ctx context.Context, collection, field string, value interface{}) error {
	_, err := m.db.Collection(collection).UpdateMany(ctx,
		bson.M{}, bson.M{"$set": bson.M{field: value}})
	if err != nil {
		return fmt.Errorf("failed to update %s.%s on all documents: %w", collection, field, err)
	}
	return nil
}

func (m *Mongo) Append(ctx context.Context, collection, id, field string, value interface{}) error {
	_, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$push": bson.M{field: value}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to append to %s/%s.%s: %w", collection, id, field, err)
	}
	return nil
}

func (m *Mongo) AppendBounded(ctx context.Context, collection, id, field string, value interface{}, limit int) error {
	// The size guard lives in the filter so the check and the push are one
	// write on the document. When the filter misses on an existing document the
	// upsert collides on _id, which is the "array full" signal.
	filter := bson.M{
		"_id": id,
		"$expr": bson.M{"$lt": bson.A{
			bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}},
			limit,
		}},
	}

	res, err := m.db.Collection(collection).UpdateOne(ctx,
		filter,
		bson.M{"$push": bson.M{field: value}},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return ErrLimitExceeded
	}
	if err != nil {
		return fmt.Errorf("failed bounded append to %s/%s.%s: %w", collection, id, field, err)
	}
	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return ErrLimitExceeded
	}
	return nil
}

func (m *Mongo) Remove(ctx context.Context, collection, id, field string, match Match) error {
	res, err := m.db.Collection(collection).UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$pull": bson.M{field: bson.M(match)}})
	if err != nil {
		return fmt.Errorf("failed to remove from %s/%s.%s: %w", collection, id, field, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Count(ctx context.Context, collection, id, field string) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"_id": id}}},
		{{Key: "$project", Value: bson.M{
			"n": bson.M{"$size": bson.M{"$ifNull": bson.A{"$" + field, bson.A{}}}},
		}}},
	}

	cursor, err := m.db.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s/%s.%s: %w", collection, id, field, err)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		// Absent document, zero items.
		return 0, cursor.Err()
	}

	var result struct {
		N int `bson:"n"`
	}
	if err := cursor.Decode(&result); err != nil {
		return 0, fmt.Errorf("failed to decode count: %w", err)
	}
	return result.N, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// toFields normalizes a document value into a field map for $set merges.
func toFields(doc interface{}) (bson.M, error) {
	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	var fields bson.M
	if err := bson.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal document: %w", err)
	}
	return fields, nil
}
