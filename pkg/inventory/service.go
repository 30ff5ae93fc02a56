package inventory

import (
	"context"
	"strings"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/example/stockkeeper/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProductInput carries the owner-editable product fields.
type ProductInput struct {
	Name      string
	Color     string
	Size      string
	Bought    int
	BuyPrice  decimal.Decimal
	SellPrice decimal.Decimal
}

func (in ProductInput) validate(op string) (models.Size, error) {
	if strings.TrimSpace(in.Name) == "" {
		return "", apperr.Validation(op, "product name is required")
	}
	size, err := models.ParseSize(in.Size)
	if err != nil {
		return "", apperr.Validation(op, "%v", err)
	}
	if in.Bought < 0 {
		return "", apperr.Validation(op, "bought must not be negative, got %d", in.Bought)
	}
	if in.BuyPrice.IsNegative() || in.SellPrice.IsNegative() {
		return "", apperr.Validation(op, "prices must not be negative")
	}
	return size, nil
}

// Service manages the owner's products. Sold is never written here; it only moves through
// completed orders.
type Service struct {
	tx     *repository.TxRunner
	logger *zap.Logger
}

func NewService(tx *repository.TxRunner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tx: tx, logger: logger.Named("inventory")}
}

func (s *Service) CreateProduct(ctx context.Context, owner models.OwnerID, in ProductInput) (*models.Product, error) {
	const op = "inventory.create_product"
	if err := owner.Require(op); err != nil {
		return nil, err
	}
	size, err := in.validate(op)
	if err != nil {
		return nil, err
	}

	product := &models.Product{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Name:      strings.TrimSpace(in.Name),
		Color:     strings.TrimSpace(in.Color),
		Size:      size,
		Bought:    in.Bought,
		BuyPrice:  in.BuyPrice.Round(models.MoneyPlaces),
		SellPrice: in.SellPrice.Round(models.MoneyPlaces),
	}
	if err := s.tx.DB(ctx).Create(product).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	s.logger.Info("Product created",
		zap.String("owner_id", owner.String()),
		zap.String("product_id", product.ID),
		zap.Int("bought", product.Bought))
	return product, nil
}

// UpdateProduct replaces the editable fields. Bought may be lowered only down to sold.
func (s *Service) UpdateProduct(ctx context.Context, owner models.OwnerID, productID string, in ProductInput) (*models.Product, error) {
	const op = "inventory.update_product"
	if err := owner.Require(op); err != nil {
		return nil, err
	}
	size, err := in.validate(op)
	if err != nil {
		return nil, err
	}

	var product *models.Product
	err = s.tx.Run(ctx, func(tx *gorm.DB) error {
		current, err := findProduct(repository.ForUpdate(tx), op, owner, productID)
		if err != nil {
			return err
		}
		if in.Bought < current.Sold {
			return apperr.Validation(op, "bought cannot be lower than sold (%d)", current.Sold)
		}

		current.Name = strings.TrimSpace(in.Name)
		current.Color = strings.TrimSpace(in.Color)
		current.Size = size
		current.Bought = in.Bought
		current.BuyPrice = in.BuyPrice.Round(models.MoneyPlaces)
		current.SellPrice = in.SellPrice.Round(models.MoneyPlaces)

		if err := tx.Model(current).Select("name", "color", "size", "bought", "buy_price", "sell_price", "updated_at").Updates(current).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		product = current
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return product, nil
}

// DeleteProduct removes a product that no order line references.
func (s *Service) DeleteProduct(ctx context.Context, owner models.OwnerID, productID string) error {
	const op = "inventory.delete_product"
	if err := owner.Require(op); err != nil {
		return err
	}

	err := s.tx.Run(ctx, func(tx *gorm.DB) error {
		product, err := findProduct(repository.ForUpdate(tx), op, owner, productID)
		if err != nil {
			return err
		}

		var refs int64
		if err := tx.Model(&models.OrderItem{}).Where("product_id = ?", product.ID).Count(&refs).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if refs > 0 {
			return apperr.Conflict(op, "product %s is referenced by %d order line(s)", product.Name, refs)
		}

		if err := tx.Delete(product).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return classify(op, err)
	}

	s.logger.Info("Product deleted", zap.String("owner_id", owner.String()), zap.String("product_id", productID))
	return nil
}

func (s *Service) GetProduct(ctx context.Context, owner models.OwnerID, productID string) (*models.Product, error) {
	const op = "inventory.get_product"
	if err := owner.Require(op); err != nil {
		return nil, err
	}
	return findProduct(s.tx.DB(ctx), op, owner, productID)
}

// ListProducts returns the owner's products, newest first. inStockOnly keeps those with
// units left.
func (s *Service) ListProducts(ctx context.Context, owner models.OwnerID, inStockOnly bool) ([]models.Product, error) {
	const op = "inventory.list_products"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	query := s.tx.DB(ctx).Where("owner_id = ?", owner)
	if inStockOnly {
		query = query.Where("bought - sold > 0")
	}

	var products []models.Product
	if err := query.Order("created_at DESC").Find(&products).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return products, nil
}

// Availability is the read accessor over Ledger.AvailableStock.
func (s *Service) Availability(ctx context.Context, owner models.OwnerID, productID string) (int, error) {
	return NewLedger(s.tx.DB(ctx)).AvailableStock(ctx, owner, productID)
}

// Restock records newly bought units and returns the updated product.
func (s *Service) Restock(ctx context.Context, owner models.OwnerID, productID string, quantity int) (*models.Product, error) {
	const op = "inventory.restock"

	var product *models.Product
	err := s.tx.Run(ctx, func(tx *gorm.DB) error {
		if err := NewLedger(tx).Receive(ctx, owner, productID, quantity); err != nil {
			return err
		}
		var err error
		product, err = findProduct(tx, op, owner, productID)
		return err
	})
	if err != nil {
		return nil, classify(op, err)
	}

	s.logger.Info("Product restocked",
		zap.String("owner_id", owner.String()),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity),
		zap.Int("left", product.Left()))
	return product, nil
}

func classify(op string, err error) error {
	if apperr.Classified(err) {
		return err
	}
	return apperr.Unavailable(op, err)
}
