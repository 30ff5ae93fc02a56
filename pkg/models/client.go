package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Client struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OwnerID   OwnerID   `gorm:"type:varchar(64);not null;uniqueIndex:idx_clients_owner_phone,priority:1" json:"owner_id"`
	Name      string    `gorm:"type:varchar(255);not null" json:"name"`
	Phone     string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_clients_owner_phone,priority:2" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	Email     string    `gorm:"type:varchar(254)" json:"email"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Client) TableName() string {
	return "clients"
}

// ClientHistory summarises the orders placed by one client.
type ClientHistory struct {
	ClientID    string          `json:"client_id"`
	TotalOrders int64           `json:"total_orders"`
	TotalSpent  decimal.Decimal `json:"total_spent"`
}
