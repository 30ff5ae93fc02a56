// Package clients manages the owner's customers.
package clients

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

type ClientInput struct {
	Name    string
	Phone   string
	Address string
	Email   string
}

// Complete reports whether the input names a client that can be created.
func (in ClientInput) Complete() bool {
	return strings.TrimSpace(in.Name) != "" && strings.TrimSpace(in.Phone) != ""
}

func (in ClientInput) normalize() ClientInput {
	return ClientInput{
		Name:    strings.TrimSpace(in.Name),
		Phone:   strings.TrimSpace(in.Phone),
		Address: strings.TrimSpace(in.Address),
		Email:   strings.TrimSpace(in.Email),
	}
}

func validate(op string, in ClientInput) error {
	if !in.Complete() {
		return apperr.Validation(op, "client name and phone are required")
	}
	if in.Email != "" && !strings.Contains(in.Email, "@") {
		return apperr.Validation(op, "invalid email %q", in.Email)
	}
	return nil
}

func phoneTaken(tx *gorm.DB, op string, owner models.OwnerID, phone, exceptID string) error {
	query := tx.Model(&models.Client{}).Where("owner_id = ? AND phone = ?", owner, phone)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return apperr.Unavailable(op, err)
	}
	if count > 0 {
		return apperr.Conflict(op, "a client with phone %s already exists", phone)
	}
	return nil
}

// Create inserts a client using tx, which may be part of a larger transaction.
func Create(ctx context.Context, tx *gorm.DB, owner models.OwnerID, in ClientInput) (*models.Client, error) {
	const op = "clients.create"
	if err := owner.Require(op); err != nil {
		return nil, err
	}
	in = in.normalize()
	if err := validate(op, in); err != nil {
		return nil, err
	}

	db := tx.WithContext(ctx)
	if err := phoneTaken(db, op, owner, in.Phone, ""); err != nil {
		return nil, err
	}

	client := &models.Client{
		ID:      uuid.NewString(),
		OwnerID: owner,
		Name:    in.Name,
		Phone:   in.Phone,
		Address: in.Address,
		Email:   in.Email,
	}
	if err := db.Create(client).Error; err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, apperr.Conflict(op, "a client with phone %s already exists", in.Phone)
		}
		return nil, apperr.Unavailable(op, err)
	}
	return client, nil
}

// Find loads one of the owner's clients using tx.
func Find(ctx context.Context, tx *gorm.DB, owner models.OwnerID, clientID string) (*models.Client, error) {
	const op = "clients.find"
	var client models.Client
	err := tx.WithContext(ctx).Where("id = ? AND owner_id = ?", clientID, owner).First(&client).Error
	if repository.IsNotFound(err) {
		return nil, apperr.NotFound(op, "client %s not found", clientID)
	}
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return &client, nil
}

type Service struct {
	tx     *repository.TxRunner
	logger *zap.Logger
}

func NewService(tx *repository.TxRunner, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{tx: tx, logger: logger.Named("clients")}
}

func (s *Service) CreateClient(ctx context.Context, owner models.OwnerID, in ClientInput) (*models.Client, error) {
	var client *models.Client
	err := s.tx.Run(ctx, func(tx *gorm.DB) error {
		var err error
		client, err = Create(ctx, tx, owner, in)
		return err
	})
	if err != nil {
		return nil, classify("clients.create", err)
	}

	s.logger.Info("Client created", zap.String("owner_id", owner.String()), zap.String("client_id", client.ID))
	return client, nil
}

func (s *Service) UpdateClient(ctx context.Context, owner models.OwnerID, clientID string, in ClientInput) (*models.Client, error) {
	const op = "clients.update"
	if err := owner.Require(op); err != nil {
		return nil, err
	}
	in = in.normalize()
	if err := validate(op, in); err != nil {
		return nil, err
	}

	var client *models.Client
	err := s.tx.Run(ctx, func(tx *gorm.DB) error {
		current, err := Find(ctx, repository.ForUpdate(tx), owner, clientID)
		if err != nil {
			return err
		}
		if err := phoneTaken(tx, op, owner, in.Phone, current.ID); err != nil {
			return err
		}

		current.Name = in.Name
		current.Phone = in.Phone
		current.Address = in.Address
		current.Email = in.Email
		if err := tx.Model(current).Select("name", "phone", "address", "email", "updated_at").Updates(current).Error; err != nil {
			if repository.IsDuplicateKey(err) {
				return apperr.Conflict(op, "a client with phone %s already exists", in.Phone)
			}
			return apperr.Unavailable(op, err)
		}
		client = current
		return nil
	})
	if err != nil {
		return nil, classify(op, err)
	}
	return client, nil
}

// DeleteClient removes a client that has no orders.
func (s *Service) DeleteClient(ctx context.Context, owner models.OwnerID, clientID string) error {
	const op = "clients.delete"
	if err := owner.Require(op); err != nil {
		return err
	}

	err := s.tx.Run(ctx, func(tx *gorm.DB) error {
		client, err := Find(ctx, repository.ForUpdate(tx), owner, clientID)
		if err != nil {
			return err
		}

		var orders int64
		if err := tx.Model(&models.Order{}).Where("client_id = ? AND owner_id = ?", client.ID, owner).Count(&orders).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		if orders > 0 {
			return apperr.Conflict(op, "client %s has %d order(s)", client.Name, orders)
		}

		if err := tx.Delete(client).Error; err != nil {
			return apperr.Unavailable(op, err)
		}
		return nil
	})
	if err != nil {
		return classify(op, err)
	}

	s.logger.Info("Client deleted", zap.String("owner_id", owner.String()), zap.String("client_id", clientID))
	return nil
}

func (s *Service) GetClient(ctx context.Context, owner models.OwnerID, clientID string) (*models.Client, error) {
	if err := owner.Require("clients.get"); err != nil {
		return nil, err
	}
	return Find(ctx, s.tx.DB(ctx), owner, clientID)
}

// ListClients returns the owner's clients ordered by name.
func (s *Service) ListClients(ctx context.Context, owner models.OwnerID) ([]models.Client, error) {
	const op = "clients.list"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	var clients []models.Client
	if err := s.tx.DB(ctx).Where("owner_id = ?", owner).Order("name ASC").Find(&clients).Error; err != nil {
		return nil, apperr.Unavailable(op, err)
	}
	return clients, nil
}

// History counts a client's orders and sums their totals.
func (s *Service) History(ctx context.Context, owner models.OwnerID, clientID string) (*models.ClientHistory, error) {
	const op = "clients.history"
	if err := owner.Require(op); err != nil {
		return nil, err
	}

	db := s.tx.DB(ctx)
	client, err := Find(ctx, db, owner, clientID)
	if err != nil {
		return nil, err
	}

	var row struct {
		Orders int64
		Spent  decimal.NullDecimal
	}
	err = db.Model(&models.Order{}).
		Select("COUNT(*) AS orders, SUM(total_amount) AS spent").
		Where("client_id = ? AND owner_id = ?", client.ID, owner).
		Scan(&row).Error
	if err != nil {
		return nil, apperr.Unavailable(op, err)
	}

	history := &models.ClientHistory{ClientID: client.ID, TotalOrders: row.Orders, TotalSpent: decimal.Zero}
	if row.Spent.Valid {
		history.TotalSpent = row.Spent.Decimal
	}
	return history, nil
}

func classify(op string, err error) error {
	if apperr.Classified(err) {
		return err
	}
	return apperr.Unavailable(op, err)
}
