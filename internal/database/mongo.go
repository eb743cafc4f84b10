package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"

	"github.com/Paul-frank/bluegreen-todo-api/internal/models"
)

const (
	// DefaultDatabase is used when the connection string names no database.
	DefaultDatabase = "todoapp"
	// TodoCollection holds the todo documents.
	TodoCollection = "todos"
)

type todoDocument struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	Title       string             `bson:"title"`
	Description string             `bson:"description"`
	Completed   bool               `bson:"completed"`
	CreatedAt   time.Time          `bson:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt"`
}

func (d todoDocument) model() models.Todo {
	return models.Todo{
		ID:          d.ID.Hex(),
		Title:       d.Title,
		Description: d.Description,
		Completed:   d.Completed,
		CreatedAt:   d.CreatedAt.UTC(),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
}

// MongoStore keeps todos in a MongoDB collection.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore configures a client for uri. The driver connects lazily, so
// an unreachable server is reported by Ping and by the first operation, not here.
func NewMongoStore(ctx context.Context, uri string) (*MongoStore, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("parse mongodb uri: %w", err)
	}
	dbName := cs.Database
	if dbName == "" {
		dbName = DefaultDatabase
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(TodoCollection),
	}, nil
}

// Database returns the database name the store writes to.
func (s *MongoStore) Database() string {
	return s.collection.Database().Name()
}

func (s *MongoStore) List(ctx context.Context, opts models.ListOptions) ([]models.Todo, error) {
	filter := bson.M{}
	if opts.Completed != nil {
		filter["completed"] = *opts.Completed
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("find todos: %w", err)
	}
	var docs []todoDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("read todos: %w", err)
	}

	todos := make([]models.Todo, 0, len(docs))
	for _, doc := range docs {
		todos = append(todos, doc.model())
	}
	return todos, nil
}

func (s *MongoStore) Create(ctx context.Context, todo models.Todo) (models.Todo, error) {
	if err := todo.Validate(); err != nil {
		return models.Todo{}, validationError(err)
	}

	doc := todoDocument{
		ID:          primitive.NewObjectID(),
		Title:       todo.Title,
		Description: todo.Description,
		Completed:   todo.Completed,
		CreatedAt:   todo.CreatedAt,
		UpdatedAt:   todo.UpdatedAt,
	}
	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		return models.Todo{}, fmt.Errorf("insert todo: %w", err)
	}
	return doc.model(), nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (models.Todo, error) {
	oid, err := objectID(id)
	if err != nil {
		return models.Todo{}, err
	}

	var doc todoDocument
	err = s.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Todo{}, ErrNotFound
	}
	if err != nil {
		return models.Todo{}, fmt.Errorf("find todo %s: %w", id, err)
	}
	return doc.model(), nil
}

// Update runs a single pipeline update so that updatedAt can be compared with
// the stored value server-side.
func (s *MongoStore) Update(ctx context.Context, id string, patch models.TodoPatch) (models.Todo, error) {
	oid, err := objectID(id)
	if err != nil {
		return models.Todo{}, err
	}
	if err := patch.Validate(); err != nil {
		return models.Todo{}, validationError(err)
	}

	set := bson.M{
		"updatedAt": bson.M{"$max": bson.A{
			patch.UpdatedAt,
			bson.M{"$add": bson.A{"$updatedAt", int64(1)}},
		}},
	}
	if patch.Title != nil {
		set["title"] = bson.M{"$literal": *patch.Title}
	}
	if patch.Description != nil {
		set["description"] = bson.M{"$literal": *patch.Description}
	}
	if patch.Completed != nil {
		set["completed"] = *patch.Completed
	}

	var doc todoDocument
	err = s.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		mongo.Pipeline{{{Key: "$set", Value: set}}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Todo{}, ErrNotFound
	}
	if err != nil {
		return models.Todo{}, fmt.Errorf("update todo %s: %w", id, err)
	}
	return doc.model(), nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) (models.Todo, error) {
	oid, err := objectID(id)
	if err != nil {
		return models.Todo{}, err
	}

	var doc todoDocument
	err = s.collection.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Todo{}, ErrNotFound
	}
	if err != nil {
		return models.Todo{}, fmt.Errorf("delete todo %s: %w", id, err)
	}
	return doc.model(), nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Driver() string { return "mongodb" }

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}
