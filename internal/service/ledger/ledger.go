package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"billing-engine/internal/domain/credits"
	"billing-engine/internal/errs"
	"billing-engine/internal/logger"
)

// Service is the credit ledger. Both operations are insert-only; idempotency
// comes from the uniqueness constraint on (reference_type, reference_id), not
// from a pre-check. A duplicate insert is the expected signal of "already
// applied" and resolves to the existing row.
type Service struct {
	db            *gorm.DB
	log           *logger.Logger
	allowNegative bool
}

func New(db *gorm.DB, log *logger.Logger, allowNegative bool) *Service {
	return &Service{db: db, log: log, allowNegative: allowNegative}
}

type GrantParams struct {
	OrganizationID uuid.UUID
	Amount         int64
	Type           credits.TransactionType
	ReferenceType  string
	ReferenceID    string
	Metadata       map[string]string
}

// Grant credits once per (ReferenceType, ReferenceID). Retried grants for the
// same reference return the original transaction.
func (s *Service) Grant(ctx context.Context, p GrantParams) (*credits.CreditTransaction, error) {
	if p.Amount <= 0 {
		return nil, errs.Permanentf("credit grant amount must be positive, got %d", p.Amount)
	}
	if p.ReferenceType == "" || p.ReferenceID == "" {
		return nil, errs.Permanentf("credit grant requires a reference")
	}

	tx := &credits.CreditTransaction{
		OrganizationID: p.OrganizationID,
		Amount:         p.Amount,
		Type:           p.Type,
		ReferenceType:  p.ReferenceType,
		ReferenceID:    p.ReferenceID,
		Metadata:       marshalMetadata(p.Metadata),
	}

	err := s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		balance, err := sumBalance(dbtx, p.OrganizationID)
		if err != nil {
			return err
		}
		tx.BalanceAfter = balance + p.Amount
		return dbtx.Create(tx).Error
	})
	if err != nil {
		if errs.IsDuplicate(err) {
			s.log.Infow("credit grant already applied",
				"org_id", p.OrganizationID, "reference_type", p.ReferenceType, "reference_id", p.ReferenceID)
			return s.findByReference(ctx, p.ReferenceType, p.ReferenceID)
		}
		return nil, fmt.Errorf("grant credits: %w", err)
	}
	return tx, nil
}

type ReverseParams struct {
	OrganizationID  uuid.UUID
	PurchaseRefType string
	PurchaseRefID   string
	RefundID        string
	Metadata        map[string]string
}

// Reverse sums every prior grant for the purchase reference (base and bonus)
// and inserts a single negative transaction keyed by the refund's own id, so
// a redelivered refund webhook is a no-op. Returns nil without error when
// there was nothing to reverse.
func (s *Service) Reverse(ctx context.Context, p ReverseParams) (*credits.CreditTransaction, error) {
	if p.RefundID == "" {
		return nil, errs.Permanentf("credit reversal requires a refund id")
	}

	var total int64
	err := s.db.WithContext(ctx).Model(&credits.CreditTransaction{}).
		Where("organization_id = ? AND reference_id = ? AND reference_type IN ? AND amount > 0",
			p.OrganizationID, p.PurchaseRefID,
			[]string{p.PurchaseRefType, p.PurchaseRefType + credits.BonusSuffix}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	if err != nil {
		return nil, fmt.Errorf("sum grants for reversal: %w", err)
	}
	if total == 0 {
		s.log.Warnw("credit reversal found no prior grants",
			"org_id", p.OrganizationID, "purchase_reference", p.PurchaseRefID)
		return nil, nil
	}

	tx := &credits.CreditTransaction{
		OrganizationID: p.OrganizationID,
		Amount:         -total,
		Type:           credits.TransactionRefund,
		ReferenceType:  credits.RefRefund,
		ReferenceID:    p.RefundID,
		Metadata:       marshalMetadata(p.Metadata),
	}

	err = s.db.WithContext(ctx).Transaction(func(dbtx *gorm.DB) error {
		balance, err := sumBalance(dbtx, p.OrganizationID)
		if err != nil {
			return err
		}
		if !s.allowNegative && balance-total < 0 {
			return errs.Permanentf("reversal of %d would take balance %d below zero", total, balance)
		}
		tx.BalanceAfter = balance - total
		return dbtx.Create(tx).Error
	})
	if err != nil {
		if errs.IsDuplicate(err) {
			s.log.Infow("credit reversal already applied", "refund_id", p.RefundID)
			return s.findByReference(ctx, credits.RefRefund, p.RefundID)
		}
		return nil, err
	}
	return tx, nil
}

// Balance is derived by summing; BalanceAfter on each row is a point-in-time
// snapshot for audit reads, not the source of truth.
func (s *Service) Balance(ctx context.Context, orgID uuid.UUID) (int64, error) {
	return sumBalance(s.db.WithContext(ctx), orgID)
}

func sumBalance(db *gorm.DB, orgID uuid.UUID) (int64, error) {
	var balance int64
	err := db.Model(&credits.CreditTransaction{}).
		Where("organization_id = ?", orgID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	return balance, err
}

func (s *Service) findByReference(ctx context.Context, refType, refID string) (*credits.CreditTransaction, error) {
	var tx credits.CreditTransaction
	if err := s.db.WithContext(ctx).
		Where("reference_type = ? AND reference_id = ?", refType, refID).
		First(&tx).Error; err != nil {
		return nil, err
	}
	return &tx, nil
}

func marshalMetadata(md map[string]string) []byte {
	if len(md) == 0 {
		return nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil
	}
	return raw
}
