package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sweetpotato0/ai-concierge/docstore"
	errorspkg "github.com/sweetpotato0/ai-concierge/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config holds MongoDB connection configuration
type Config struct {
	URI        string
	Database   string
	Collection string
}

// DefaultConfig returns default MongoDB configuration
func DefaultConfig() *Config {
	return &Config{
		URI:        "mongodb://localhost:27017",
		Database:   "concierge",
		Collection: "devices",
	}
}

// Store implements docstore.Store over a MongoDB collection. Documents are
// addressed by _id and field paths map directly onto Mongo dotted paths.
type Store struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ docstore.Store = (*Store)(nil)

// New connects to MongoDB.
func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &Store{
		client:     client,
		collection: client.Database(config.Database).Collection(config.Collection),
	}, nil
}

// Put replaces a whole document. It is used to seed device documents.
func (s *Store) Put(ctx context.Context, docID string, doc map[string]any) error {
	body := bson.M{}
	for k, v := range doc {
		body[k] = v
	}
	body["_id"] = docID
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": docID}, body, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store document %s: %w", docID, err)
	}
	return nil
}

// GetField returns the value at path.
func (s *Store) GetField(ctx context.Context, docID, path string) (any, error) {
	doc, err := s.find(ctx, docID, []string{path})
	if err != nil {
		return nil, err
	}
	v, ok := docstore.Lookup(doc, path)
	if !ok {
		return nil, fmt.Errorf("field %s: %w", path, errorspkg.ErrNotFound)
	}
	return v, nil
}

// UpdateField sets path only when it already exists on the document.
func (s *Store) UpdateField(ctx context.Context, docID, path string, value any) (*docstore.Ack, error) {
	prev, err := s.GetField(ctx, docID, path)
	if errors.Is(err, errorspkg.ErrNotFound) {
		return &docstore.Ack{Path: path, Error: err.Error()}, nil
	}
	if err != nil {
		return nil, err
	}

	filter := bson.M{"_id": docID, path: bson.M{"$exists": true}}
	res, err := s.collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{path: value}})
	if err != nil {
		return nil, fmt.Errorf("failed to update %s on %s: %w", path, docID, err)
	}
	if res.MatchedCount == 0 {
		return &docstore.Ack{Path: path, Error: fmt.Sprintf("field %s not found", path)}, nil
	}
	return &docstore.Ack{Success: true, Path: path, Value: value, Previous: prev}, nil
}

// GetFields fetches the requested paths in one round trip.
func (s *Store) GetFields(ctx context.Context, docID string, paths []string) (map[string]any, error) {
	out := make(map[string]any, len(paths))
	if len(paths) == 0 {
		return out, nil
	}
	doc, err := s.find(ctx, docID, paths)
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if v, ok := docstore.Lookup(doc, p); ok {
			out[p] = v
		}
	}
	return out, nil
}

// Close disconnects the client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Store) find(ctx context.Context, docID string, paths []string) (map[string]any, error) {
	projection := bson.M{}
	for _, p := range paths {
		projection[p] = 1
	}

	var raw bson.M
	err := s.collection.FindOne(ctx, bson.M{"_id": docID}, options.FindOne().SetProjection(projection)).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("document %s: %w", docID, errorspkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", docID, err)
	}
	doc, _ := normalize(raw).(map[string]any)
	return doc, nil
}

// normalize converts driver container types into plain maps and slices so
// docstore.Lookup can walk them.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case primitive.DateTime:
		return t.Time()
	default:
		return v
	}
}
