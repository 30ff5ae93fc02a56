package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Size string

const (
	SizeXS  Size = "XS"
	SizeS   Size = "S"
	SizeM   Size = "M"
	SizeL   Size = "L"
	SizeXL  Size = "XL"
	SizeXXL Size = "XXL"
	SizeOS  Size = "OS"
)

var sizes = []Size{SizeXS, SizeS, SizeM, SizeL, SizeXL, SizeXXL, SizeOS}

// ParseSize accepts a size code in any case. An empty value means M.
func ParseSize(raw string) (Size, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return SizeM, nil
	}
	for _, s := range sizes {
		if string(s) == raw {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown size %q", raw)
}

// Product is a stock-keeping unit. Sold only grows through completed orders;
// bought - sold is the quantity left to sell and never goes negative.
type Product struct {
	ID        string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   OwnerID         `gorm:"type:varchar(64);not null;index" json:"owner_id"`
	Name      string          `gorm:"type:varchar(255);not null" json:"name"`
	Color     string          `gorm:"type:varchar(50)" json:"color"`
	Size      Size            `gorm:"type:varchar(3);not null" json:"size"`
	Bought    int             `gorm:"not null;check:chk_products_bought,bought >= 0" json:"bought"`
	Sold      int             `gorm:"not null;check:chk_products_sold,sold >= 0 AND sold <= bought" json:"sold"`
	BuyPrice  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"buy_price"`
	SellPrice decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"sell_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

func (p Product) Left() int {
	return p.Bought - p.Sold
}

func (p Product) TotalBuyingCost() decimal.Decimal {
	return p.BuyPrice.Mul(decimal.NewFromInt(int64(p.Bought)))
}

func (p Product) TotalRevenue() decimal.Decimal {
	return p.SellPrice.Mul(decimal.NewFromInt(int64(p.Sold)))
}

func (p Product) Profit() decimal.Decimal {
	return p.TotalRevenue().Sub(p.BuyPrice.Mul(decimal.NewFromInt(int64(p.Sold))))
}

func (p Product) String() string {
	if p.Color != "" {
		return fmt.Sprintf("%s (%s) - %s", p.Name, p.Size, p.Color)
	}
	return fmt.Sprintf("%s (%s)", p.Name, p.Size)
}
