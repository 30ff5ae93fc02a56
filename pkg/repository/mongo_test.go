package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/example/stockkeeper/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func TestMongoAuditLogs(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("Create", func(mt *mtest.T) {
		repo := repository.NewMongoRepositoryFromDatabase(mt.DB, "audit_logs")
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		entry := &repository.AuditLog{
			Service:  "stockkeeper",
			OwnerID:  "owner-1",
			Action:   "order.created",
			EntityID: "o-1",
			Data:     bson.M{"total_amount": "30"},
		}
		require.NoError(mt, repo.CreateAuditLog(context.Background(), entry))
		assert.False(mt, entry.CreatedAt.IsZero())
	})

	mt.Run("Find", func(mt *mtest.T) {
		repo := repository.NewMongoRepositoryFromDatabase(mt.DB, "audit_logs")
		created := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
		ns := mt.DB.Name() + ".audit_logs"
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "_id", Value: "a-1"},
			{Key: "service", Value: "stockkeeper"},
			{Key: "owner_id", Value: "owner-1"},
			{Key: "action", Value: "order.status_changed"},
			{Key: "entity_id", Value: "o-1"},
			{Key: "data", Value: bson.D{{Key: "status", Value: "done"}}},
			{Key: "created_at", Value: created},
		}))

		logs, err := repo.GetAuditLogs(context.Background(), "owner-1", "o-1", 10)
		require.NoError(mt, err)
		require.Len(mt, logs, 1)
		assert.Equal(mt, "order.status_changed", logs[0].Action)
		assert.Equal(mt, "done", logs[0].Data["status"])
		assert.True(mt, created.Equal(logs[0].CreatedAt))
	})
}
