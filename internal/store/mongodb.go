package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"presence-bot/internal/model"
)

// parentField links a subcollection document to its parent document id.
const parentField = "_parent"

type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
}

func NewMongoDB(uri, database string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	slog.Info("Connected to MongoDB", "database", database)

	return &MongoDB{
		client: client,
		db:     client.Database(database),
	}, nil
}

func (m *MongoDB) Collection(name string) *mongo.Collection {
	return m.db.Collection(name)
}

// Ping checks that the primary is reachable.
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// MongoProvider implements Provider on top of MongoDB. A subcollection
// <parent>/<id>/<name> is stored in the collection "<parent>.<name>", with the
// parent id kept in the _parent field.
type MongoProvider struct {
	db *MongoDB
}

func NewMongoProvider(ctx context.Context, db *MongoDB) (*MongoProvider, error) {
	indexes := map[string][]mongo.IndexModel{
		model.UserStatusCollection: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		model.SessionCollection: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "checkin_time", Value: -1}}},
			{Keys: bson.D{{Key: "date", Value: 1}}},
		},
		model.SessionCollection + "." + model.BreakCollection: {
			{Keys: bson.D{{Key: parentField, Value: 1}, {Key: "status", Value: 1}}},
		},
		model.SessionCollection + "." + model.StatusUpdateCollection: {
			{Keys: bson.D{{Key: parentField, Value: 1}, {Key: "timestamp", Value: -1}}},
		},
		model.ReminderCollection: {
			{Keys: bson.D{{Key: "is_active", Value: 1}}},
		},
	}
	for name, models := range indexes {
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return nil, fmt.Errorf("create %s indexes: %w", name, err)
		}
	}
	return &MongoProvider{db: db}, nil
}

func (p *MongoProvider) collection(path Path) *mongo.Collection {
	if path.Parent == "" {
		return p.db.Collection(path.Name)
	}
	return p.db.Collection(path.Parent + "." + path.Name)
}

func scoped(path Path, filter bson.D) bson.D {
	if path.Parent != "" {
		filter = append(filter, bson.E{Key: parentField, Value: path.ParentID})
	}
	return filter
}

func (p *MongoProvider) Get(ctx context.Context, path Path, id string, out any) error {
	err := p.collection(path).FindOne(ctx, scoped(path, bson.D{{Key: "_id", Value: id}})).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("find %s/%s: %w", path, id, err)
	}
	return nil
}

func (p *MongoProvider) Set(ctx context.Context, path Path, id string, doc any) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", path, id, err)
	}
	var replacement bson.D
	if err := bson.Unmarshal(data, &replacement); err != nil {
		return fmt.Errorf("encode %s/%s: %w", path, id, err)
	}
	if path.Parent != "" {
		replacement = append(replacement, bson.E{Key: parentField, Value: path.ParentID})
	}

	_, err = p.collection(path).ReplaceOne(ctx, bson.D{{Key: "_id", Value: id}}, replacement,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace %s/%s: %w", path, id, err)
	}
	return nil
}

func (p *MongoProvider) Merge(ctx context.Context, path Path, id string, fields Fields) error {
	set := bson.D{}
	unset := bson.D{}
	for k, v := range fields {
		if isNil(v) {
			unset = append(unset, bson.E{Key: k, Value: ""})
			continue
		}
		set = append(set, bson.E{Key: k, Value: v})
	}
	if path.Parent != "" {
		set = append(set, bson.E{Key: parentField, Value: path.ParentID})
	}

	update := bson.D{}
	if len(set) > 0 {
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(unset) > 0 {
		update = append(update, bson.E{Key: "$unset", Value: unset})
	}
	if len(update) == 0 {
		return nil
	}

	_, err := p.collection(path).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update,
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("merge %s/%s: %w", path, id, err)
	}
	return nil
}

func (p *MongoProvider) Increment(ctx context.Context, path Path, id, field string, delta int) error {
	res, err := p.collection(path).UpdateOne(ctx, scoped(path, bson.D{{Key: "_id", Value: id}}),
		bson.D{{Key: "$inc", Value: bson.D{{Key: field, Value: delta}}}})
	if err != nil {
		return fmt.Errorf("increment %s/%s %s: %w", path, id, field, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *MongoProvider) Query(ctx context.Context, path Path, q Query, out any) error {
	filter := bson.D{}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq:
			filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
		case OpIn:
			filter = append(filter, bson.E{Key: f.Field, Value: bson.D{{Key: "$in", Value: f.Value}}})
		default:
			return fmt.Errorf("query %s: unsupported operator %q", path, f.Op)
		}
	}

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := p.collection(path).Find(ctx, scoped(path, filter), opts)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
