package mongodb

import (
	"context"
	"errors"
	"time"

	"github.com/goevery/ideaboard/internal/ierr"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Entry struct {
	Id         bson.ObjectID `bson:"_id,omitempty"`
	DeviceId   string        `bson:"deviceId"`
	Key        string        `bson:"key"`
	Value      string        `bson:"value"`
	UpdateTime time.Time     `bson:"updateTime"`
}

// Engine stores the client state of one device, one document per key.
type Engine struct {
	collection *mongo.Collection
	deviceId   string
}

func NewEngine(client *mongo.Client, deviceId string) *Engine {
	database := client.Database("ideaboard")
	collection := database.Collection("clientState")

	return &Engine{
		collection,
		deviceId,
	}
}

// Setup creates the indexes. Entries of devices idle for 90 days expire.
func (e *Engine) Setup(ctx context.Context) error {
	keyIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "deviceId", Value: 1},
			{Key: "key", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}

	ttlIndexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "updateTime", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(90 * 24 * 60 * 60),
	}

	_, err := e.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{keyIndexModel, ttlIndexModel})

	return err
}

func (e *Engine) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry

	err := e.collection.FindOne(ctx, e.filter(key)).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, ierr.New(ierr.ErrorCodeInternal, err)
	}

	return entry.Value, true, nil
}

func (e *Engine) Set(ctx context.Context, key string, value string) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "value", Value: value},
		{Key: "updateTime", Value: time.Now()},
	}}}
	opts := options.UpdateOne().SetUpsert(true)

	if _, err := e.collection.UpdateOne(ctx, e.filter(key), update, opts); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return nil
}

func (e *Engine) Delete(ctx context.Context, key string) error {
	if _, err := e.collection.DeleteOne(ctx, e.filter(key)); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return nil
}

func (e *Engine) Clear(ctx context.Context) error {
	if _, err := e.collection.DeleteMany(ctx, bson.D{{Key: "deviceId", Value: e.deviceId}}); err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	return nil
}

func (e *Engine) filter(key string) bson.D {
	return bson.D{
		{Key: "deviceId", Value: e.deviceId},
		{Key: "key", Value: key},
	}
}
