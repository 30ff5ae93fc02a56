package orders_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/example/stockkeeper/pkg/clients"
	"github.com/example/stockkeeper/pkg/dispatch"
	"github.com/example/stockkeeper/pkg/events"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/orders"
	"github.com/example/stockkeeper/pkg/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderLeavesStockUntouched(t *testing.T) {
	f := newFixture(t)
	product := f.product(t, 5, 0, "20.00")
	client := f.client(t, owner, "100")

	order := f.createOrder(t, client.ID, line(product.ID, 3))

	assert.Equal(t, models.StatusProcessing, order.Status)
	assert.True(t, decimal.RequireFromString("60").Equal(order.TotalAmount), order.TotalAmount.String())
	require.Len(t, order.Items, 1)
	assert.True(t, decimal.RequireFromString("20").Equal(order.Items[0].Price))
	assert.Zero(t, f.reload(t, product.ID).Sold)
	assert.Equal(t, models.StatusProcessing, f.orderStatus(t, order.ID))
	assert.Equal(t, []events.Type{events.OrderCreated}, f.publisher.types())
	assert.Equal(t, []string{"create_order"}, f.audit.actions())
}

func TestDoneConsumesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 5, 0, "20.00")
	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 3))

	updated, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "done")

	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, updated.Status)
	stored := f.reload(t, product.ID)
	assert.Equal(t, 3, stored.Sold)
	assert.Equal(t, 2, stored.Left())
	assert.Equal(t, models.StatusDone, f.orderStatus(t, order.ID))

	require.Len(t, f.publisher.events, 2)
	changed := f.publisher.events[1]
	assert.Equal(t, events.OrderStatusChanged, changed.Type)
	assert.Equal(t, models.StatusProcessing, changed.PreviousStatus)
	assert.True(t, changed.StockConsumed)
	assert.Equal(t, owner, changed.OwnerID)
}

func TestCreateOrderRejectsExcessQuantity(t *testing.T) {
	f := newFixture(t)
	product := f.product(t, 5, 3, "20.00")

	_, err := f.coord.CreateOrder(context.Background(), owner, orders.CreateOrderRequest{
		NewClient: clients.ClientInput{Name: "Ann", Phone: "100"},
		Lines:     []orders.LineRequest{line(product.ID, 5)},
	})

	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	var stockErr *apperr.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, product.ID, stockErr.ProductID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.OrderItem{}))
	assert.Zero(t, f.count(t, &models.Client{}), "new client must roll back with the order")
	assert.Empty(t, f.publisher.types())
}

func TestCreateOrderWithNewClient(t *testing.T) {
	f := newFixture(t)
	product := f.product(t, 5, 0, "20.00")

	report, err := f.coord.CreateOrder(context.Background(), owner, orders.CreateOrderRequest{
		NewClient: clients.ClientInput{Name: "Bea", Phone: "555-0101"},
		Lines:     []orders.LineRequest{line(product.ID, 1)},
	})

	require.NoError(t, err)
	assert.True(t, report.ClientCreated)
	var stored models.Client
	require.NoError(t, f.db.Where("id = ?", report.Order.ClientID).First(&stored).Error)
	assert.Equal(t, "Bea", stored.Name)
	assert.Equal(t, "555-0101", stored.Phone)
	assert.Empty(t, stored.Address)
	assert.Empty(t, stored.Email)
	assert.Equal(t, owner, stored.OwnerID)
}

func TestConcurrentDoneTransitionsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 4, 0, "20.00")
	client := f.client(t, owner, "100")
	first := f.createOrder(t, client.ID, line(product.ID, 3))
	second := f.createOrder(t, client.ID, line(product.ID, 3))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = f.coord.SetOrderStatus(ctx, owner, id, "done")
		}(i, id)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
		rejected++
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)
	assert.Equal(t, 1, f.reload(t, product.ID).Left())

	statuses := []models.OrderStatus{f.orderStatus(t, first.ID), f.orderStatus(t, second.ID)}
	assert.ElementsMatch(t, []models.OrderStatus{models.StatusDone, models.StatusProcessing}, statuses)
}

func TestDoneIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	plenty := f.product(t, 10, 0, "20.00")
	scarce := f.product(t, 2, 0, "15.00")
	client := f.client(t, owner, "100")
	order := f.createOrder(t, client.ID, line(plenty.ID, 4), line(scarce.ID, 2))

	// another order drains the scarce product after assembly
	drain := f.createOrder(t, client.ID, line(scarce.ID, 1))
	_, err := f.coord.SetOrderStatus(ctx, owner, drain.ID, "done")
	require.NoError(t, err)

	_, err = f.coord.SetOrderStatus(ctx, owner, order.ID, "done")

	require.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.Zero(t, f.reload(t, plenty.ID).Sold)
	assert.Equal(t, 1, f.reload(t, scarce.ID).Sold)
	assert.Equal(t, models.StatusProcessing, f.orderStatus(t, order.ID))
}

func TestResubmittedDoneConsumesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 5, 0, "20.00")
	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 2))

	_, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
	require.NoError(t, err)
	again, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "DONE")

	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, again.Status)
	assert.Equal(t, 2, f.reload(t, product.ID).Sold)
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderStatusChanged}, f.publisher.types())
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 10, 0, "20.00")
	client := f.client(t, owner, "100")

	t.Run("Cancel processing order keeps stock", func(t *testing.T) {
		order := f.createOrder(t, client.ID, line(product.ID, 2))
		updated, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "cancelled")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, updated.Status)
		assert.Zero(t, f.reload(t, product.ID).Sold)

		_, err = f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		_, err = f.coord.SetOrderStatus(ctx, owner, order.ID, "processing")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Zero(t, f.reload(t, product.ID).Sold)
	})

	t.Run("Cancel done order does not restock", func(t *testing.T) {
		order := f.createOrder(t, client.ID, line(product.ID, 3))
		_, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
		require.NoError(t, err)

		_, err = f.coord.SetOrderStatus(ctx, owner, order.ID, "cancelled")
		require.NoError(t, err)
		assert.Equal(t, 3, f.reload(t, product.ID).Sold)
		assert.Equal(t, models.StatusCancelled, f.orderStatus(t, order.ID))
	})

	t.Run("Done cannot go back to processing", func(t *testing.T) {
		order := f.createOrder(t, client.ID, line(product.ID, 1))
		_, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
		require.NoError(t, err)

		_, err = f.coord.SetOrderStatus(ctx, owner, order.ID, "processing")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Equal(t, models.StatusDone, f.orderStatus(t, order.ID))
	})

	t.Run("Fail on unknown status", func(t *testing.T) {
		order := f.createOrder(t, client.ID, line(product.ID, 1))
		_, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "shipped")
		assert.ErrorIs(t, err, apperr.ErrValidation)
		assert.Equal(t, models.StatusProcessing, f.orderStatus(t, order.ID))
	})

	t.Run("Fail on missing or foreign order", func(t *testing.T) {
		_, err := f.coord.SetOrderStatus(ctx, owner, "missing", "done")
		assert.ErrorIs(t, err, apperr.ErrNotFound)

		order := f.createOrder(t, client.ID, line(product.ID, 1))
		_, err = f.coord.SetOrderStatus(ctx, "owner-2", order.ID, "done")
		assert.ErrorIs(t, err, apperr.ErrNotFound)
		assert.Equal(t, models.StatusProcessing, f.orderStatus(t, order.ID))
	})
}

func TestSideEffectFailuresDoNotFailCalls(t *testing.T) {
	f := newFixture(t)
	f.audit.err = errSinkDown
	f.publisher.err = errSinkDown
	f.redis.Close()
	product := f.product(t, 5, 0, "20.00")

	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 1))
	_, err := f.coord.SetOrderStatus(context.Background(), owner, order.ID, "done")

	require.NoError(t, err)
	assert.Equal(t, 1, f.reload(t, product.ID).Sold)
}

func TestGetOrderUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 5, 0, "20.00")
	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 2))
	key := "order:" + owner.String() + ":" + order.ID

	got, err := f.coord.GetOrder(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	require.NotNil(t, got.Client)
	assert.Equal(t, "Ann", got.Client.Name)
	require.Len(t, got.Items, 1)
	assert.True(t, f.redis.Exists(key))

	cached, err := f.coord.GetOrder(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.True(t, order.TotalAmount.Equal(cached.TotalAmount))

	_, err = f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
	require.NoError(t, err)
	assert.False(t, f.redis.Exists(key))

	fresh, err := f.coord.GetOrder(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, fresh.Status)

	_, err = f.coord.GetOrder(ctx, "owner-2", order.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// pausingCache holds the first cache write until release is closed.
type pausingCache struct {
	*repository.RedisRepository
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (c *pausingCache) CacheOrder(ctx context.Context, order *models.Order, version int64) (bool, error) {
	c.once.Do(func() {
		close(c.entered)
		<-c.release
	})
	return c.RedisRepository.CacheOrder(ctx, order, version)
}

func TestGetOrderDoesNotCacheStaleRead(t *testing.T) {
	cache := &pausingCache{entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, func(deps *orders.CoordinatorDeps) {
		cache.RedisRepository = deps.Cache.(*repository.RedisRepository)
		deps.Cache = cache
	})
	ctx := context.Background()
	product := f.product(t, 5, 0, "20.00")
	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 1))

	type result struct {
		order *models.Order
		err   error
	}
	done := make(chan result, 1)
	go func() {
		got, err := f.coord.GetOrder(ctx, owner, order.ID)
		done <- result{got, err}
	}()

	<-cache.entered
	_, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
	require.NoError(t, err)
	close(cache.release)

	first := <-done
	require.NoError(t, first.err)
	assert.Equal(t, models.StatusProcessing, first.order.Status)
	assert.False(t, f.redis.Exists("order:"+owner.String()+":"+order.ID))

	fresh, err := f.coord.GetOrder(ctx, owner, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDone, fresh.Status)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 10, 0, "20.00")
	client := f.client(t, owner, "100")
	active := f.createOrder(t, client.ID, line(product.ID, 1))
	done := f.createOrder(t, client.ID, line(product.ID, 1))
	_, err := f.coord.SetOrderStatus(ctx, owner, done.ID, "done")
	require.NoError(t, err)

	list, err := f.coord.ListOrders(ctx, owner, orders.ViewActive)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)

	list, err = f.coord.ListOrders(ctx, owner, orders.ViewHistory)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, done.ID, list[0].ID)

	list, err = f.coord.ListOrders(ctx, owner, orders.ViewAll)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = f.coord.ListOrders(ctx, "owner-2", orders.ViewAll)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = orders.ParseListView("archived")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDeleteOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	product := f.product(t, 5, 0, "20.00")
	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 2))
	_, err := f.coord.SetOrderStatus(ctx, owner, order.ID, "done")
	require.NoError(t, err)

	assert.ErrorIs(t, f.coord.DeleteOrder(ctx, "owner-2", order.ID), apperr.ErrNotFound)
	require.NoError(t, f.coord.DeleteOrder(ctx, owner, order.ID))

	assert.Zero(t, f.count(t, &models.Order{}))
	assert.Zero(t, f.count(t, &models.OrderItem{}))
	assert.Equal(t, 2, f.reload(t, product.ID).Sold)
	assert.Contains(t, f.publisher.types(), events.OrderDeleted)

	assert.ErrorIs(t, f.coord.DeleteOrder(ctx, owner, order.ID), apperr.ErrNotFound)
}

func TestSideEffectsThroughActorDispatcher(t *testing.T) {
	dispatcher, err := dispatch.NewActorDispatcher(nil, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dispatcher.Close() })

	f := newFixture(t, func(deps *orders.CoordinatorDeps) { deps.Dispatcher = dispatcher })
	product := f.product(t, 5, 0, "20.00")
	order := f.createOrder(t, f.client(t, owner, "100").ID, line(product.ID, 1))
	_, err = f.coord.SetOrderStatus(context.Background(), owner, order.ID, "done")
	require.NoError(t, err)

	processed, failed, err := dispatcher.Flush(time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Zero(t, failed)
	assert.Equal(t, []string{"create_order", "set_order_status"}, f.audit.actions())
	assert.Equal(t, []events.Type{events.OrderCreated, events.OrderStatusChanged}, f.publisher.types())
}
