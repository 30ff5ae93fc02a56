// Package orders assembles orders, drives their status lifecycle and is the transaction
// boundary that keeps stock and orders consistent.
package orders

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/stockkeeper/pkg/apperr"
	"github.com/example/stockkeeper/pkg/clients"
	"github.com/example/stockkeeper/pkg/config"
	"github.com/example/stockkeeper/pkg/inventory"
	"github.com/example/stockkeeper/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LineRequest is one requested order line. Invalid carries a decoding failure from the
// transport; such a line is treated as malformed.
type LineRequest struct {
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
	Invalid   string           `json:"-"`
}

// CreateOrderRequest names either an existing client by ClientID or a new one in NewClient.
type CreateOrderRequest struct {
	ClientID     string
	NewClient    clients.ClientInput
	Lines        []LineRequest
	ShippingCost decimal.Decimal
	Notes        string
}

type SkippedLine struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Reason    string `json:"reason"`
}

// AssemblyReport describes a persisted order and what was left out of it.
type AssemblyReport struct {
	Order         *models.Order
	ClientCreated bool
	Skipped       []SkippedLine
}

type Assembler struct {
	strict bool
	logger *zap.Logger
}

// NewAssembler builds an assembler for the given line validation mode. Anything other than
// strict is treated as lenient.
func NewAssembler(lineValidation string, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		strict: lineValidation == config.LineValidationStrict,
		logger: logger.Named("assembler"),
	}
}

type acceptedLine struct {
	product  *models.Product
	quantity int
	price    decimal.Decimal
}

func malformed(line LineRequest) string {
	switch {
	case line.Invalid != "":
		return line.Invalid
	case strings.TrimSpace(line.ProductID) == "":
		return "product is required"
	case line.Quantity < 1:
		return fmt.Sprintf("quantity must be at least 1, got %d", line.Quantity)
	case line.UnitPrice != nil && line.UnitPrice.IsNegative():
		return fmt.Sprintf("unit price must not be negative, got %s", line.UnitPrice.StringFixed(2))
	}
	return ""
}

// Assemble validates req and writes the order, its items and any new client through tx.
// Nothing is reserved: stock is checked against the current ledger and consumed later by the
// lifecycle. Any error leaves tx for the caller to roll back.
func (a *Assembler) Assemble(ctx context.Context, tx *gorm.DB, owner models.OwnerID, req CreateOrderRequest) (*AssemblyReport, error) {
	const op = "orders.assemble"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	clientID := strings.TrimSpace(req.ClientID)
	if clientID == "" && !req.NewClient.Complete() {
		return nil, apperr.Validation(op, "select an existing client or provide the new client's name and phone")
	}
	if req.ShippingCost.IsNegative() {
		return nil, apperr.Validation(op, "shipping cost must not be negative, got %s", req.ShippingCost.StringFixed(2))
	}

	var client *models.Client
	if clientID != "" {
		found, err := clients.Find(ctx, tx, owner, clientID)
		if err != nil {
			return nil, err
		}
		client = found
	}

	ledger := inventory.NewLedger(tx)
	report := &AssemblyReport{}
	seen := make(map[string]bool, len(req.Lines))
	accepted := make([]acceptedLine, 0, len(req.Lines))

	for i, line := range req.Lines {
		if reason := malformed(line); reason != "" {
			if a.strict {
				return nil, apperr.Validation(op, "line %d: %s", i+1, reason)
			}
			a.logger.Debug("Skipping malformed order line",
				zap.String("owner_id", owner.String()),
				zap.Int("line", i+1),
				zap.String("reason", reason))
			report.Skipped = append(report.Skipped, SkippedLine{Index: i, ProductID: line.ProductID, Reason: reason})
			continue
		}

		productID := strings.TrimSpace(line.ProductID)
		if seen[productID] {
			return nil, apperr.Conflict(op, "product %s appears in more than one line", productID)
		}
		seen[productID] = true

		product, err := ledger.Product(ctx, owner, productID)
		if err != nil {
			return nil, err
		}

		price := product.SellPrice
		if line.UnitPrice != nil {
			price = *line.UnitPrice
		}
		accepted = append(accepted, acceptedLine{product: product, quantity: line.Quantity, price: price.Round(models.MoneyPlaces)})
	}

	if len(accepted) == 0 {
		return nil, apperr.Validation(op, "order has no valid lines")
	}

	for _, line := range accepted {
		available, err := ledger.AvailableStock(ctx, owner, line.product.ID)
		if err != nil {
			return nil, err
		}
		if line.quantity > available {
			return nil, &apperr.InsufficientStockError{
				ProductID:   line.product.ID,
				ProductName: line.product.Name,
				Available:   available,
				Requested:   line.quantity,
			}
		}
	}

	if client == nil {
		created, err := clients.Create(ctx, tx, owner, req.NewClient)
		if err != nil {
			return nil, err
		}
		client = created
		report.ClientCreated = true
	}

	order := &models.Order{
		ID:           uuid.NewString(),
		OwnerID:      owner,
		ClientID:     client.ID,
		Status:       models.StatusProcessing,
		ShippingCost: req.ShippingCost.Round(models.MoneyPlaces),
		Notes:        strings.TrimSpace(req.Notes),
	}
	items := make([]models.OrderItem, 0, len(accepted))
	total := decimal.Zero
	for _, line := range accepted {
		item := models.OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: line.product.ID,
			Quantity:  line.quantity,
			Price:     line.price,
		}
		total = total.Add(item.Subtotal())
		items = append(items, item)
	}
	order.TotalAmount = total

	db := tx.WithContext(ctx)
	if err := db.Omit(clause.Associations).Create(order).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	if err := db.Omit(clause.Associations).Create(&items).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	order.Client = client
	order.Items = items
	report.Order = order
	return report, nil
}
