// Package inventory owns product records and the stock counters on them.
package inventory

import (
	"context"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/repository"
	"gorm.io/gorm"
)

// Ledger answers how much of a product can still be sold and applies consumption.
// Bind it to a transaction with WithTx so reads and writes share one snapshot.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

func findProduct(db *gorm.DB, op string, owner models.OwnerID, productID string) (*models.Product, error) {
	var product models.Product
	err := db.Where("id = ? AND owner_id = ?", productID, owner).First(&product).Error
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound(op, "product %s not found", productID)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &product, nil
}

// Product loads one of the owner's products through the ledger's handle.
func (l *Ledger) Product(ctx context.Context, owner models.OwnerID, productID string) (*models.Product, error) {
	const op = "inventory.product"
	if err := owner.Require(op); err != nil {
		return nil, err
	}
	return findProduct(l.db.WithContext(ctx), op, owner, productID)
}

// AvailableStock returns bought - sold as currently persisted.
func (l *Ledger) AvailableStock(ctx context.Context, owner models.OwnerID, productID string) (int, error) {
	const op = "inventory.available"
	if err := owner.Require(op); err != nil {
		return 0, err
	}
	product, err := findProduct(l.db.WithContext(ctx), op, owner, productID)
	if err != nil {
		return 0, err
	}
	return product.Left(), nil
}

// ReserveAndConsume adds quantity to sold. The row is locked and the write is conditional on
// bought - sold still covering quantity, so two consumers can never both pass on a stale
// read. On InsufficientStock the caller must roll back its transaction.
func (l *Ledger) ReserveAndConsume(ctx context.Context, owner models.OwnerID, productID string, quantity int) error {
	const op = "inventory.consume"
	if err := owner.Require(op); err != nil {
		return err
	}
	if quantity < 1 {
		return apperr.Validation(op, "quantity must be positive, got %d", quantity)
	}

	db := l.db.WithContext(ctx)
	product, err := findProduct(repository.ForUpdate(db), op, owner, productID)
	if err != nil {
		return err
	}
	if quantity > product.Left() {
		return insufficient(product, quantity)
	}

	res := db.Model(&models.Product{}).
		Where("id = ? AND owner_id = ? AND bought - sold >= ?", productID, owner, quantity).
		Update("sold", gorm.Expr("sold + ?", quantity))
	if res.Error != nil {
		return apperr.Unavailable(op, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := findProduct(db, op, owner, productID)
		if err != nil {
			return err
		}
		return insufficient(current, quantity)
	}
	return nil
}

// Receive adds delivered units to bought.
func (l *Ledger) Receive(ctx context.Context, owner models.OwnerID, productID string, quantity int) error {
	const op = "inventory.receive"
	if err := owner.Require(op); err != nil {
		return err
	}
	if quantity < 1 {
		return apperr.Validation(op, "quantity must be positive, got %d", quantity)
	}

	res := l.db.WithContext(ctx).Model(&models.Product{}).
		Where("id = ? AND owner_id = ?", productID, owner).
		Update("bought", gorm.Expr("bought + ?", quantity))
	if res.Error != nil {
		return apperr.Unavailable(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound(op, "product %s not found", productID)
	}
	return nil
}

func insufficient(product *models.Product, requested int) error {
	return &apperr.InsufficientStockError{
		ProductID:   product.ID,
		ProductName: product.Name,
		Available:   product.Left(),
		Requested:   requested,
	}
}
