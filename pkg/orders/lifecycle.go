package orders

import (
	"context"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/example/stockkeeper/pkg/inventory"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Transition is the outcome of a status change. Changed is false for a resubmitted status.
type Transition struct {
	Order         *models.Order
	From          models.OrderStatus
	To            models.OrderStatus
	Changed       bool
	StockConsumed bool
}

// Lifecycle is the order status state machine. Only processing -> done touches stock.
type Lifecycle struct {
	logger *zap.Logger
}

func NewLifecycle(logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{logger: logger.Named("lifecycle")}
}

func allowed(from, to models.OrderStatus) bool {
	switch from {
	case models.StatusProcessing:
		return to == models.StatusDone || to == models.StatusCancelled
	case models.StatusDone:
		return to == models.StatusCancelled
	}
	return false
}

func loadItems(ctx context.Context, tx *gorm.DB, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Order("product_id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Apply moves the order to target inside tx. The order row is re-read under lock so the
// done decision is made on the persisted status, never on what the caller last saw.
func (l *Lifecycle) Apply(ctx context.Context, tx *gorm.DB, owner models.OwnerID, orderID string, target models.OrderStatus) (*Transition, error) {
	const op = "orders.transition"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	var order models.Order
	err := repository.ForUpdate(tx.WithContext(ctx)).
		Where("id = ? AND owner_id = ?", orderID, owner).
		First(&order).Error
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound(op, "order %s not found", orderID)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	items, err := loadItems(ctx, tx, order.ID)
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	order.Items = items

	from := order.Status
	result := &Transition{Order: &order, From: from, To: target}
	if from == target {
		return result, nil
	}
	if !allowed(from, target) {
		return nil, apperr.Validation(op, "order %s cannot move from %s to %s", order.ID, from, target)
	}

	if target == models.StatusDone {
		ledger := inventory.NewLedger(tx)
		for _, item := range items {
			if err := ledger.ReserveAndConsume(ctx, owner, item.ProductID, item.Quantity); err != nil {
				return nil, err
			}
		}
		result.StockConsumed = true
	}

	res := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND owner_id = ? AND status = ?", order.ID, owner, from).
		Update("status", target)
	if res.Error != nil {
		return nil, apperr.Unavailable(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict(op, "order %s changed status concurrently", order.ID)
	}

	if from.Completed() {
		l.logger.Warn("Completed order cancelled, sold units are not restored",
			zap.String("owner_id", owner.String()),
			zap.String("order_id", order.ID))
	}

	order.Status = target
	result.Changed = true
	return result, nil
}
