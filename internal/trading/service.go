package trading

import (
	"context"
	"errors"

	"rectrade-backend/internal/domain"
	"rectrade-backend/internal/ledger"
	"rectrade-backend/internal/matching"
	"rectrade-backend/internal/orderbook"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Service exposes the engine's operations to the API layer. The caller is an
// already-verified account; no credential checks happen here.
type Service struct {
	DB     *gorm.DB
	Engine *matching.Engine
	Store  *ledger.Store
}

func (s *Service) SubmitOrder(ctx context.Context, req matching.SubmitRequest) (*domain.Order, []*domain.Transaction, error) {
	return s.Engine.SubmitOrder(ctx, req)
}

func (s *Service) CancelOrder(ctx context.Context, accountID, orderID uuid.UUID) (*domain.Order, error) {
	return s.Engine.CancelOrder(ctx, accountID, orderID)
}

// GetOrderBook returns the aggregated depth of one partition.
func (s *Service) GetOrderBook(criteria domain.CertificateCriteria) []orderbook.DepthLevel {
	return s.Engine.Book().Depth(orderbook.KeyFor(criteria))
}

func (s *Service) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	if err := s.DB.WithContext(ctx).Where("order_id = ?", id).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, matching.ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

var ErrTransactionNotFound = errors.New("transaction not found")

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := s.DB.WithContext(ctx).Where("tx_id = ?", id).First(&tx).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// Balances is the account view returned by GetAccountBalances.
type Balances struct {
	Account  *domain.Account  `json:"account"`
	Holdings []domain.Holding `json:"holdings"`
}

func (s *Service) GetAccountBalances(ctx context.Context, accountID uuid.UUID) (*Balances, error) {
	acct, err := s.Store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	var holdings []domain.Holding
	if err := s.DB.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&holdings).Error; err != nil {
		return nil, err
	}
	return &Balances{Account: acct, Holdings: holdings}, nil
}
