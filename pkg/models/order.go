package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the scale of every decimal(10,2) money column.
const MoneyPlaces int32 = 2

type OrderStatus string

const (
	StatusProcessing OrderStatus = "processing"
	StatusDone       OrderStatus = "done"
	StatusCancelled  OrderStatus = "cancelled"
)

// ParseOrderStatus accepts a status name in any case.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch s := OrderStatus(strings.ToLower(strings.TrimSpace(raw))); s {
	case StatusProcessing, StatusDone, StatusCancelled:
		return s, true
	}
	return "", false
}

// Completed reports whether the order left the processing state.
func (s OrderStatus) Completed() bool {
	return s == StatusDone || s == StatusCancelled
}

type Order struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID      OwnerID         `gorm:"type:varchar(64);not null;index:idx_orders_owner_status,priority:1" json:"owner_id"`
	ClientID     string          `gorm:"type:varchar(36);not null;index" json:"client_id"`
	Client       *Client         `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"client,omitempty"`
	Status       OrderStatus     `gorm:"type:varchar(20);not null;index:idx_orders_owner_status,priority:2" json:"status"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"total_amount"`
	ShippingCost decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"shipping_cost"`
	Notes        string          `gorm:"type:text" json:"notes"`
	Items        []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o Order) GrandTotal() decimal.Decimal {
	return o.TotalAmount.Add(o.ShippingCost)
}

// OrderItem is one product line of an order. Quantity and price are fixed when the order is
// assembled; price is the selling price at that moment.
type OrderItem struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID   string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_order_items_order_product,priority:1" json:"order_id"`
	ProductID string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_order_items_order_product,priority:2;index" json:"product_id"`
	Product   *Product        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"product,omitempty"`
	Quantity  int             `gorm:"not null;check:chk_order_items_quantity,quantity >= 1" json:"quantity"`
	Price     decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
