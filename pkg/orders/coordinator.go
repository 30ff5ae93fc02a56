package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/example/stockkeeper/pkg/dispatch"
	"github.com/example/stockkeeper/pkg/events"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OrderCache is the read-through cache for single orders. *repository.RedisRepository
// satisfies it. CacheOrder must not store an order whose version moved past version.
type OrderCache interface {
	OrderVersion(ctx context.Context, owner models.OwnerID, orderID string) (int64, error)
	CacheOrder(ctx context.Context, order *models.Order, version int64) (bool, error)
	GetCachedOrder(ctx context.Context, owner models.OwnerID, orderID string) (*models.Order, bool, error)
	InvalidateOrder(ctx context.Context, owner models.OwnerID, orderID string) error
}

// AuditRecorder stores audit entries. *repository.MongoRepository satisfies it.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

// ListView selects which orders ListOrders returns.
type ListView string

const (
	ViewActive  ListView = "active"
	ViewHistory ListView = "history"
	ViewAll     ListView = "all"
)

// ParseListView maps an empty view to ViewAll.
func ParseListView(raw string) (ListView, error) {
	switch v := ListView(raw); v {
	case "":
		return ViewAll, nil
	case ViewActive, ViewHistory, ViewAll:
		return v, nil
	}
	return "", apperr.Validation("orders.list", "unknown view %q, expected active, history or all", raw)
}

// CoordinatorDeps wires a Coordinator. Only Tx is required; missing side-effect sinks are
// replaced by no-ops and a missing Dispatcher runs audit and event writes inline.
type CoordinatorDeps struct {
	Tx             *repository.TxRunner
	LineValidation string
	Cache          OrderCache
	Audit          AuditRecorder
	Events         events.Publisher
	Dispatcher     dispatch.Dispatcher
	Logger         *zap.Logger
	ServiceName    string
	Clock          func() time.Time
}

// Coordinator is the transaction boundary for order creation and status changes. Cache,
// audit and event side effects run only after commit and never fail the call.
type Coordinator struct {
	tx          *repository.TxRunner
	assembler   *Assembler
	lifecycle   *Lifecycle
	cache       OrderCache
	audit       AuditRecorder
	events      events.Publisher
	dispatcher  dispatch.Dispatcher
	logger      *zap.Logger
	serviceName string
	clock       func() time.Time
	telemetry   *instruments
}

func NewCoordinator(deps CoordinatorDeps) (*Coordinator, error) {
	if deps.Tx == nil {
		return nil, errors.New("orders: transaction runner is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("orders")

	telemetry, err := newInstruments()
	if err != nil {
		return nil, fmt.Errorf("failed to create order instruments: %w", err)
	}

	c := &Coordinator{
		tx:          deps.Tx,
		assembler:   NewAssembler(deps.LineValidation, logger),
		lifecycle:   NewLifecycle(logger),
		cache:       deps.Cache,
		audit:       deps.Audit,
		events:      deps.Events,
		dispatcher:  deps.Dispatcher,
		logger:      logger,
		serviceName: deps.ServiceName,
		clock:       deps.Clock,
		telemetry:   telemetry,
	}
	if c.cache == nil {
		c.cache = nopCache{}
	}
	if c.audit == nil {
		c.audit = nopAudit{}
	}
	if c.events == nil {
		c.events = events.NopPublisher{}
	}
	if c.dispatcher == nil {
		c.dispatcher = dispatch.Inline{Logger: logger}
	}
	if c.serviceName == "" {
		c.serviceName = "stockkeeper"
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	return c, nil
}

func classify(op string, err error) error {
	if apperr.Classified(err) {
		return err
	}
	return apperr.Unavailable(op, err)
}

func (c *Coordinator) startSpan(ctx context.Context, name string, owner models.OwnerID, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("owner.id", owner.String()))
	return c.telemetry.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// CreateOrder assembles and persists an order in one transaction. On any error nothing is
// written, including a new client.
func (c *Coordinator) CreateOrder(ctx context.Context, owner models.OwnerID, req CreateOrderRequest) (*AssemblyReport, error) {
	const op = "orders.create"
	ctx, span := c.startSpan(ctx, "orders.CreateOrder", owner, attribute.Int("order.lines", len(req.Lines)))
	defer span.End()

	var report *AssemblyReport
	err := c.tx.Run(ctx, func(tx *gorm.DB) error {
		var err error
		report, err = c.assembler.Assemble(ctx, tx, owner, req)
		return err
	})
	if err != nil {
		err = classify(op, err)
		c.telemetry.fail(ctx, span, op, err)
		return nil, err
	}

	order := report.Order
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Int("order.skipped_lines", len(report.Skipped)))
	c.telemetry.created.Add(ctx, 1)
	c.logger.Info("Order created",
		zap.String("owner_id", owner.String()),
		zap.String("order_id", order.ID),
		zap.String("client_id", order.ClientID),
		zap.Bool("client_created", report.ClientCreated),
		zap.Int("items", len(order.Items)),
		zap.Int("skipped_lines", len(report.Skipped)),
		zap.String("total_amount", order.TotalAmount.StringFixed(2)))

	c.afterCommit(ctx, order, "create_order", events.OrderEvent{
		Type:        events.OrderCreated,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
	}, bson.M{
		"client_id":      order.ClientID,
		"client_created": report.ClientCreated,
		"total_amount":   order.TotalAmount.String(),
		"shipping_cost":  order.ShippingCost.String(),
		"items":          len(order.Items),
		"skipped_lines":  len(report.Skipped),
	})
	return report, nil
}

// SetOrderStatus parses status and applies the transition in one transaction. Moving a
// processing order to done consumes stock for every item or for none.
func (c *Coordinator) SetOrderStatus(ctx context.Context, owner models.OwnerID, orderID, status string) (*models.Order, error) {
	const op = "orders.set_status"
	ctx, span := c.startSpan(ctx, "orders.SetOrderStatus", owner,
		attribute.String("order.id", orderID),
		attribute.String("order.target_status", status))
	defer span.End()

	target, ok := models.ParseOrderStatus(status)
	if !ok {
		err := apperr.Validation(op, "unknown order status %q, expected processing, done or cancelled", status)
		c.telemetry.fail(ctx, span, op, err)
		return nil, err
	}

	var transition *Transition
	err := c.tx.Run(ctx, func(tx *gorm.DB) error {
		var err error
		transition, err = c.lifecycle.Apply(ctx, tx, owner, orderID, target)
		return err
	})
	if err != nil {
		err = classify(op, err)
		c.telemetry.fail(ctx, span, op, err)
		return nil, err
	}

	order := transition.Order
	if !transition.Changed {
		c.logger.Debug("Order status unchanged",
			zap.String("owner_id", owner.String()),
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)))
		return order, nil
	}

	span.SetAttributes(attribute.Bool("stock.consumed", transition.StockConsumed))
	c.telemetry.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(transition.From)),
		attribute.String("to", string(transition.To))))
	c.logger.Info("Order status changed",
		zap.String("owner_id", owner.String()),
		zap.String("order_id", order.ID),
		zap.String("from", string(transition.From)),
		zap.String("to", string(transition.To)),
		zap.Bool("stock_consumed", transition.StockConsumed))

	c.afterCommit(ctx, order, "set_order_status", events.OrderEvent{
		Type:           events.OrderStatusChanged,
		Status:         transition.To,
		PreviousStatus: transition.From,
		TotalAmount:    order.TotalAmount,
		StockConsumed:  transition.StockConsumed,
	}, bson.M{
		"from":           string(transition.From),
		"to":             string(transition.To),
		"stock_consumed": transition.StockConsumed,
	})
	return order, nil
}

// GetOrder returns one order with its client and items, served from the cache when possible.
func (c *Coordinator) GetOrder(ctx context.Context, owner models.OwnerID, orderID string) (*models.Order, error) {
	const op = "orders.get"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	cached, found, err := c.cache.GetCachedOrder(ctx, owner, orderID)
	if err != nil {
		c.logger.Warn("Order cache read failed", zap.String("order_id", orderID), zap.Error(err))
	}
	if found {
		return cached, nil
	}

	version, versionErr := c.cache.OrderVersion(ctx, owner, orderID)
	if versionErr != nil {
		c.logger.Warn("Order cache version read failed", zap.String("order_id", orderID), zap.Error(versionErr))
	}

	var order models.Order
	err = c.preload(c.tx.DB(ctx)).Where("id = ? AND owner_id = ?", orderID, owner).First(&order).Error
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound(op, "order %s not found", orderID)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	if versionErr != nil {
		return &order, nil
	}
	stored, err := c.cache.CacheOrder(ctx, &order, version)
	if err != nil {
		c.logger.Warn("Order cache write failed", zap.String("order_id", orderID), zap.Error(err))
	} else if !stored {
		c.logger.Debug("Order changed while loading, not cached", zap.String("order_id", orderID))
	}
	return &order, nil
}

// ListOrders returns the owner's orders in view, newest first. Active orders are those still
// processing; history holds done and cancelled ones.
func (c *Coordinator) ListOrders(ctx context.Context, owner models.OwnerID, view ListView) ([]models.Order, error) {
	const op = "orders.list"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	query := c.preload(c.tx.DB(ctx)).Where("owner_id = ?", owner)
	switch view {
	case ViewActive:
		query = query.Where("status = ?", models.StatusProcessing)
	case ViewHistory:
		query = query.Where("status IN ?", []models.OrderStatus{models.StatusDone, models.StatusCancelled})
	case ViewAll, "":
	default:
		return nil, apperr.Validation(op, "unknown view %q", view)
	}

	var list []models.Order
	if err := query.Order("created_at DESC").Order("id").Find(&list).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return list, nil
}

// DeleteOrder removes an order and its items. Stock already consumed by the order stays
// consumed.
func (c *Coordinator) DeleteOrder(ctx context.Context, owner models.OwnerID, orderID string) error {
	const op = "orders.delete"
	ctx, span := c.startSpan(ctx, "orders.DeleteOrder", owner, attribute.String("order.id", orderID))
	defer span.End()

	if err := owner.Require(op); err != nil {
		c.telemetry.fail(ctx, span, op, err)
		return err
	}

	var order models.Order
	err := c.tx.Run(ctx, func(tx *gorm.DB) error {
		err := repository.ForUpdate(tx).Where("id = ? AND owner_id = ?", orderID, owner).First(&order).Error
		if repository.IsNotFound(err) {
			return apperr.NotFound(op, "order %s not found", orderID)
		}
		if err != nil {
			return apperr.Unavailable(op, err)
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&models.OrderItem{}).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if err := tx.Delete(&order).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		err = classify(op, err)
		c.telemetry.fail(ctx, span, op, err)
		return err
	}

	c.logger.Info("Order deleted",
		zap.String("owner_id", owner.String()),
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)))

	c.afterCommit(ctx, &order, "delete_order", events.OrderEvent{
		Type:        events.OrderDeleted,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
	}, bson.M{"status": string(order.Status)})
	return nil
}

func (c *Coordinator) preload(db *gorm.DB) *gorm.DB {
	return db.Preload("Client").Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("product_id ASC")
	})
}

// afterCommit drops the cached copy, then hands the audit entry and the event to the
// dispatcher. Failures are logged only; the change is already committed.
func (c *Coordinator) afterCommit(ctx context.Context, order *models.Order, action string, event events.OrderEvent, data bson.M) {
	now := c.clock().UTC()

	if err := c.cache.InvalidateOrder(ctx, order.OwnerID, order.ID); err != nil {
		c.logger.Warn("Failed to invalidate cached order",
			zap.String("owner_id", order.OwnerID.String()),
			zap.String("order_id", order.ID),
			zap.Error(err))
	}

	entry := &repository.AuditLog{
		Service:   c.serviceName,
		OwnerID:   order.OwnerID,
		Action:    action,
		EntityID:  order.ID,
		Data:      data,
		CreatedAt: now,
	}
	c.dispatcher.Dispatch(ctx, dispatch.Task{
		Name:    "audit." + action,
		OrderID: order.ID,
		Run: func(ctx context.Context) error {
			return c.audit.CreateAuditLog(ctx, entry)
		},
	})

	event.OwnerID = order.OwnerID
	event.OrderID = order.ID
	event.ClientID = order.ClientID
	event.OccurredAt = now
	c.dispatcher.Dispatch(ctx, dispatch.Task{
		Name:    "event." + string(event.Type),
		OrderID: order.ID,
		Run: func(ctx context.Context) error {
			return c.events.Publish(ctx, event)
		},
	})
}

type nopCache struct{}

func (nopCache) OrderVersion(context.Context, models.OwnerID, string) (int64, error) {
	return 0, nil
}
func (nopCache) CacheOrder(context.Context, *models.Order, int64) (bool, error) { return false, nil }
func (nopCache) GetCachedOrder(context.Context, models.OwnerID, string) (*models.Order, bool, error) {
	return nil, false, nil
}
func (nopCache) InvalidateOrder(context.Context, models.OwnerID, string) error { return nil }

type nopAudit struct{}

func (nopAudit) CreateAuditLog(context.Context, *repository.AuditLog) error { return nil }
