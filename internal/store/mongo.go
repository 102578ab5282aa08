package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/sells-group/collector-cli/internal/model"
)

// MongoConfig locates the properties collection.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

// MongoRepository implements Repository on a MongoDB collection with a
// unique index on property_id.
type MongoRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
	log    *zap.Logger
}

// NewMongo connects, pings, and ensures the unique index.
func NewMongo(ctx context.Context, cfg MongoConfig) (*MongoRepository, error) {
	if cfg.URI == "" {
		return nil, eris.New("mongo: uri required")
	}
	if cfg.Database == "" {
		cfg.Database = "collector"
	}
	if cfg.Collection == "" {
		cfg.Collection = "properties"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, eris.Wrap(err, "mongo: ping")
	}

	coll := client.Database(cfg.Database).Collection(cfg.Collection)
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "property_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, eris.Wrap(err, "mongo: ensure index")
	}

	return &MongoRepository{
		client: client,
		coll:   coll,
		log:    zap.L().Named("store"),
	}, nil
}

func (r *MongoRepository) Create(ctx context.Context, rec *model.PropertyRecord) (string, error) {
	res, err := r.coll.InsertOne(ctx, rec)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", eris.Errorf("mongo: property %s already exists", rec.PropertyID)
		}
		return "", eris.Wrap(err, "mongo: insert property")
	}
	if oid, ok := res.InsertedID.(interface{ Hex() string }); ok {
		return oid.Hex(), nil
	}
	return rec.PropertyID, nil
}

func (r *MongoRepository) GetByPropertyID(ctx context.Context, propertyID string) (*model.PropertyRecord, error) {
	var rec model.PropertyRecord
	err := r.coll.FindOne(ctx, bson.M{"property_id": propertyID}).Decode(&rec)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: get property %s", propertyID)
	}
	return &rec, nil
}

func (r *MongoRepository) SearchByZipcode(ctx context.Context, zipcode string, limit, offset int) ([]model.PropertyRecord, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	filter := bson.M{"address.zipcode": zipcode}

	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, eris.Wrap(err, "mongo: count by zipcode")
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "last_updated", Value: -1}}).
		SetLimit(int64(limit)).
		SetSkip(int64(offset))
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, eris.Wrap(err, "mongo: search by zipcode")
	}
	defer cur.Close(ctx)

	var recs []model.PropertyRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, 0, eris.Wrap(err, "mongo: decode search results")
	}
	return recs, total, nil
}

func (r *MongoRepository) GetRecentUpdates(ctx context.Context, since time.Time, limit int) ([]model.PropertyRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "last_updated", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := r.coll.Find(ctx, bson.M{"last_updated": bson.M{"$gte": since}}, opts)
	if err != nil {
		return nil, eris.Wrap(err, "mongo: recent updates")
	}
	defer cur.Close(ctx)

	var recs []model.PropertyRecord
	if err := cur.All(ctx, &recs); err != nil {
		return nil, eris.Wrap(err, "mongo: decode recent updates")
	}
	return recs, nil
}

func (r *MongoRepository) Close(ctx context.Context) error {
	return eris.Wrap(r.client.Disconnect(ctx), "mongo: disconnect")
}
