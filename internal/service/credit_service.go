package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mscan/mscan-core/internal/model"
)

// CreditService reads and spends consumer credit.
type CreditService struct {
	pool       TxBeginner
	creditRepo CreditRepositoryInterface
	now        func() time.Time
}

// NewCreditService creates a CreditService.
func NewCreditService(pool TxBeginner, creditRepo CreditRepositoryInterface) *CreditService {
	return &CreditService{pool: pool, creditRepo: creditRepo, now: time.Now}
}

// Statement returns the balance and the most recent transactions for identity.
func (s *CreditService) Statement(ctx context.Context, tenantID uuid.UUID, identity string, limit int) (*model.CreditStatement, error) {
	balance, err := s.creditRepo.GetBalance(ctx, tenantID, identity)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	txns, err := s.creditRepo.ListTransactions(ctx, tenantID, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return &model.CreditStatement{Balance: balance, Transactions: txns}, nil
}

// Debit spends amount from identity's balance. reference makes the debit
// idempotent: reusing it fails with ErrDuplicateDebit.
// Returns ErrInsufficientCredit when the balance does not cover amount.
func (s *CreditService) Debit(ctx context.Context, tenantID uuid.UUID, identity string, amount int64, reference string) (*model.CreditBalance, error) {
	reference = strings.TrimSpace(reference)
	if amount < 1 {
		return nil, ErrValidation.WithMessage("invalid request: amount must be at least 1")
	}
	if reference == "" {
		return nil, ErrValidation.WithMessage("invalid request: reference is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	txn := &model.CreditTransaction{
		ID:           uuid.New(),
		TenantID:     tenantID,
		UserIdentity: identity,
		Amount:       -amount,
		Reason:       model.ReasonRedemptionDebit,
		Reference:    reference,
		CreatedAt:    now,
	}
	if err := s.creditRepo.AppendTransaction(ctx, tx, txn); err != nil {
		if errors.Is(err, ErrDuplicateDebit) {
			return nil, ErrDuplicateDebit
		}
		return nil, fmt.Errorf("append debit: %w", err)
	}

	balance, ok, err := s.creditRepo.Debit(ctx, tx, txn, amount)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientCredit
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit debit: %w", err)
	}

	log.Info().
		Str("tenant_id", tenantID.String()).
		Int64("amount", amount).
		Str("reference", reference).
		Msg("credit debited")
	return &model.CreditBalance{TenantID: tenantID, UserIdentity: identity, Balance: balance, UpdatedAt: now}, nil
}
