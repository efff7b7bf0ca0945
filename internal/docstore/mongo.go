package docstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/HanTheDev/reqnest-engine/internal/docid"
	"github.com/HanTheDev/reqnest-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore maps each collection name onto a MongoDB collection of the
// same name.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Collection(name string) Collection {
	return &mongoCollection{coll: s.db.Collection(name)}
}

func (s *MongoStore) Drop(ctx context.Context, name string) error {
	if err := s.db.Collection(name).Drop(ctx); err != nil {
		return fmt.Errorf("mongo drop %s: %w", name, err)
	}
	return nil
}

type mongoCollection struct {
	coll *mongo.Collection
}

func (c *mongoCollection) Insert(ctx context.Context, doc Document) (Document, error) {
	res, err := c.coll.InsertOne(ctx, bson.M(doc))
	if mongo.IsDuplicateKeyError(err) {
		return nil, fmt.Errorf("mongo insert %s: %w", c.coll.Name(), models.ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("mongo insert %s: %w", c.coll.Name(), err)
	}
	stored := copyDocument(doc)
	stored[docid.Field] = res.InsertedID
	return stored, nil
}

func (c *mongoCollection) FindAll(ctx context.Context) ([]Document, error) {
	return c.Find(ctx, Filter{})
}

func (c *mongoCollection) Find(ctx context.Context, filter Filter) ([]Document, error) {
	cur, err := c.coll.Find(ctx, bson.M(filter))
	if err != nil {
		return nil, fmt.Errorf("mongo find %s: %w", c.coll.Name(), err)
	}
	var raw []bson.M
	if err := cur.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("mongo decode %s: %w", c.coll.Name(), err)
	}
	docs := make([]Document, 0, len(raw))
	for _, m := range raw {
		docs = append(docs, plain(m).(Document))
	}
	return docs, nil
}

func (c *mongoCollection) FindOne(ctx context.Context, filter Filter) (Document, error) {
	var m bson.M
	err := c.coll.FindOne(ctx, bson.M(filter)).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find one %s: %w", c.coll.Name(), err)
	}
	return plain(m).(Document), nil
}

func (c *mongoCollection) Save(ctx context.Context, doc Document) (Document, error) {
	id, ok := doc[docid.Field]
	if !ok {
		return c.Insert(ctx, doc)
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{docid.Field: id}, bson.M(doc), options.Replace().SetUpsert(true))
	if err != nil {
		return nil, fmt.Errorf("mongo save %s: %w", c.coll.Name(), err)
	}
	return copyDocument(doc), nil
}

func (c *mongoCollection) Delete(ctx context.Context, filter Filter) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, bson.M(filter))
	if err != nil {
		return 0, fmt.Errorf("mongo delete %s: %w", c.coll.Name(), err)
	}
	return res.DeletedCount, nil
}

// plain converts decoded BSON containers into plain maps and slices.
func plain(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(Document, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case bson.D:
		out := make(Document, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}
