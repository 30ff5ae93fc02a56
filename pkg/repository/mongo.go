package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoRepository struct {
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoRepository(ctx context.Context, cfg *config.MongoDBConfig) (*MongoRepository, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	repo := NewMongoRepositoryFromDatabase(client.Database(cfg.Database), cfg.Collection)
	repo.client = client
	return repo, nil
}

// NewMongoRepositoryFromDatabase wraps an existing database handle. Close is a no-op for
// repositories built this way.
func NewMongoRepositoryFromDatabase(db *mongo.Database, collection string) *MongoRepository {
	return &MongoRepository{collection: db.Collection(collection)}
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Ping(ctx, nil)
}

func (m *MongoRepository) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// AuditLog records one committed change to an order.
type AuditLog struct {
	ID        string         `bson:"_id,omitempty"`
	Service   string         `bson:"service"`
	OwnerID   models.OwnerID `bson:"owner_id"`
	Action    string         `bson:"action"`
	EntityID  string         `bson:"entity_id"`
	Data      bson.M         `bson:"data"`
	CreatedAt time.Time      `bson:"created_at"`
}

func (m *MongoRepository) CreateAuditLog(ctx context.Context, log *AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	_, err := m.collection.InsertOne(ctx, log)
	return err
}

// GetAuditLogs returns the newest entries for one entity of one owner.
func (m *MongoRepository) GetAuditLogs(ctx context.Context, owner models.OwnerID, entityID string, limit int64) ([]*AuditLog, error) {
	filter := bson.M{"owner_id": owner, "entity_id": entityID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}

	return logs, nil
}
