package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const storageCollection = "web_storage"

// storageDocument holds one key of one origin. A nil Value is a removed key;
// the document stays so the change stream can report who removed it.
type storageDocument struct {
	ID        string    `bson:"_id"`
	Origin    string    `bson:"origin"`
	Key       string    `bson:"key"`
	Value     *string   `bson:"value"`
	Source    string    `bson:"source"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// ConnectMongoDB dials and pings. Watch needs the server to run as a replica set.
func ConnectMongoDB(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client.Database(database), nil
}

type MongoBackend struct {
	collection *mongo.Collection
}

func NewMongoBackend(db *mongo.Database) *MongoBackend {
	return &MongoBackend{collection: db.Collection(storageCollection)}
}

func (b *MongoBackend) Origin(name string) Store {
	return &MongoStore{
		collection: b.collection,
		origin:     name,
	}
}

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.collection.Database().Client().Disconnect(ctx)
}

func (b *MongoBackend) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "origin", Value: 1}, {Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60), // 90 days TTL
		},
	}

	_, err := b.collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

type MongoStore struct {
	collection *mongo.Collection
	origin     string
}

func (m *MongoStore) Get(ctx context.Context, key string) (string, error) {
	var doc storageDocument
	err := m.collection.FindOne(ctx, bson.M{"_id": m.documentID(key)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to get key %q: %w", key, err)
	}
	if doc.Value == nil {
		return "", ErrNotFound
	}
	return *doc.Value, nil
}

func (m *MongoStore) Set(ctx context.Context, key, value string) error {
	update := bson.M{
		"$set": bson.M{
			"origin":     m.origin,
			"key":        key,
			"value":      value,
			"source":     SourceFrom(ctx),
			"updated_at": time.Now(),
		},
	}
	opts := options.Update().SetUpsert(true)

	_, err := m.collection.UpdateOne(ctx, bson.M{"_id": m.documentID(key)}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to set key %q: %w", key, err)
	}
	return nil
}

// Remove on a key that was never written touches nothing and notifies nobody.
func (m *MongoStore) Remove(ctx context.Context, key string) error {
	update := bson.M{
		"$set": bson.M{
			"value":      nil,
			"source":     SourceFrom(ctx),
			"updated_at": time.Now(),
		},
	}

	_, err := m.collection.UpdateOne(ctx, bson.M{"_id": m.documentID(key)}, update)
	if err != nil {
		return fmt.Errorf("failed to remove key %q: %w", key, err)
	}
	return nil
}

type storageChangeEvent struct {
	FullDocument *storageDocument `bson:"fullDocument"`
}

func (m *MongoStore) Watch(ctx context.Context) (<-chan Change, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
			{Key: "fullDocument.origin", Value: m.origin},
		}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := m.collection.Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open change stream: %w", err)
	}

	out := make(chan Change, subscriberBuffer)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var event storageChangeEvent
			if err := stream.Decode(&event); err != nil || event.FullDocument == nil {
				continue
			}
			change := Change{Key: event.FullDocument.Key, Source: event.FullDocument.Source}
			select {
			case out <- change:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (m *MongoStore) documentID(key string) string {
	return m.origin + ":" + key
}
