package orders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/events"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/orders"
	"github.com/example/stockkeeper/pkg/repository"
	"github.com/example/stockkeeper/pkg/repository/repositorytest"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const owner models.OwnerID = "owner-1"

type recordingAudit struct {
	mu   sync.Mutex
	logs []*repository.AuditLog
	err  error
}

func (r *recordingAudit) CreateAuditLog(_ context.Context, log *repository.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.logs = append(r.logs, log)
	return nil
}

func (r *recordingAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.logs))
	for _, l := range r.logs {
		out = append(out, l.Action)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event events.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	db        *gorm.DB
	coord     *orders.Coordinator
	audit     *recordingAudit
	publisher *recordingPublisher
	redis     *miniredis.Miniredis
}

func newFixture(t *testing.T, opts ...func(*orders.CoordinatorDeps)) *fixture {
	t.Helper()
	db := repositorytest.NewDB(t)
	mr := miniredis.RunT(t)
	cache := repository.NewRedisRepositoryFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { _ = cache.Close() })

	f := &fixture{db: db, audit: &recordingAudit{}, publisher: &recordingPublisher{}, redis: mr}
	deps := orders.CoordinatorDeps{
		Tx:             repository.NewTxRunner(db, nil),
		LineValidation: config.LineValidationLenient,
		Cache:          cache,
		Audit:          f.audit,
		Events:         f.publisher,
		Clock:          func() time.Time { return time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	for _, opt := range opts {
		opt(&deps)
	}
	coord, err := orders.NewCoordinator(deps)
	require.NoError(t, err)
	f.coord = coord
	return f
}

func strict(deps *orders.CoordinatorDeps) {
	deps.LineValidation = config.LineValidationStrict
}

func (f *fixture) product(t *testing.T, bought, sold int, sellPrice string) *models.Product {
	t.Helper()
	p := &models.Product{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Name:      "Shirt",
		Size:      models.SizeM,
		Bought:    bought,
		Sold:      sold,
		BuyPrice:  decimal.RequireFromString("5.00"),
		SellPrice: decimal.RequireFromString(sellPrice),
	}
	require.NoError(t, f.db.Create(p).Error)
	return p
}

func (f *fixture) client(t *testing.T, ownerID models.OwnerID, phone string) *models.Client {
	t.Helper()
	c := &models.Client{ID: uuid.NewString(), OwnerID: ownerID, Name: "Ann", Phone: phone}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func (f *fixture) reload(t *testing.T, productID string) models.Product {
	t.Helper()
	var p models.Product
	require.NoError(t, f.db.Where("id = ?", productID).First(&p).Error)
	return p
}

func (f *fixture) orderStatus(t *testing.T, orderID string) models.OrderStatus {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.Where("id = ?", orderID).First(&o).Error)
	return o.Status
}

func (f *fixture) count(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func (f *fixture) createOrder(t *testing.T, clientID string, lines ...orders.LineRequest) *models.Order {
	t.Helper()
	report, err := f.coord.CreateOrder(context.Background(), owner, orders.CreateOrderRequest{
		ClientID: clientID,
		Lines:    lines,
	})
	require.NoError(t, err)
	return report.Order
}

func line(productID string, qty int) orders.LineRequest {
	return orders.LineRequest{ProductID: productID, Quantity: qty}
}

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

var errSinkDown = errors.New("sink down")
