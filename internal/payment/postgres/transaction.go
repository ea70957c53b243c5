package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/frahmantamala/pos-payments/internal/core/datamodel/transaction"
	paymentpkg "github.com/frahmantamala/pos-payments/internal/payment"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{
		db: db,
	}
}

var (
	_ paymentpkg.Store            = (*TransactionRepository)(nil)
	_ paymentpkg.PendingPixLister = (*TransactionRepository)(nil)
)

// Save inserts a new transaction when tx.Version is zero and otherwise
// updates the row only if its version still matches.
func (r *TransactionRepository) Save(ctx context.Context, tx *paymentpkg.Transaction) error {
	rec, err := toRecord(tx)
	if err != nil {
		return err
	}
	rec.Version = tx.Version + 1

	db := r.db.WithContext(ctx)
	if tx.Version == 0 {
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return paymentpkg.ErrVersionConflict
		}
		tx.Version = rec.Version
		return nil
	}

	res := db.Model(&transaction.PaymentTransaction{}).
		Where("id = ? AND version = ?", tx.ID, tx.Version).
		Updates(map[string]interface{}{
			"status":             rec.Status,
			"method_info":        rec.MethodInfo,
			"processor_response": rec.ProcessorResponse,
			"customer":           rec.Customer,
			"metadata":           rec.Metadata,
			"pix_expires_at":     rec.PixExpiresAt,
			"completed_at":       rec.CompletedAt,
			"updated_at":         rec.UpdatedAt,
			"version":            rec.Version,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return paymentpkg.ErrVersionConflict
	}
	tx.Version = rec.Version
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id string) (*paymentpkg.Transaction, error) {
	var rec transaction.PaymentTransaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&rec)
}

// ListExpiredPix returns pending PIX transactions whose charge expired at or
// before now, oldest expiry first.
func (r *TransactionRepository) ListExpiredPix(ctx context.Context, now time.Time, limit int) ([]*paymentpkg.Transaction, error) {
	query := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND pix_expires_at <= ?", string(paymentpkg.TypePix), string(paymentpkg.StatusPending), now.UTC()).
		Order("pix_expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var recs []transaction.PaymentTransaction
	if err := query.Find(&recs).Error; err != nil {
		return nil, err
	}

	result := make([]*paymentpkg.Transaction, 0, len(recs))
	for i := range recs {
		tx, err := fromRecord(&recs[i])
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, nil
}

func toRecord(tx *paymentpkg.Transaction) (*transaction.PaymentTransaction, error) {
	view := paymentpkg.ToView(tx)

	var info interface{}
	switch {
	case view.PixInfo != nil:
		info = view.PixInfo
	case view.CardInfo != nil:
		info = view.CardInfo
	case view.CashInfo != nil:
		info = view.CashInfo
	case view.VoucherInfo != nil:
		info = view.VoucherInfo
	default:
		return nil, fmt.Errorf("transaction %s has no method info", tx.ID)
	}
	methodInfo, err := json.Marshal(info)
	if err != nil {
		return nil, err
	}
	processorResponse, err := json.Marshal(view.ProcessorResponse)
	if err != nil {
		return nil, err
	}

	rec := &transaction.PaymentTransaction{
		ID:                view.ID,
		Type:              string(view.Type),
		Status:            string(view.Status),
		Amount:            view.Amount,
		Currency:          view.Currency,
		MethodInfo:        string(methodInfo),
		ProcessorResponse: string(processorResponse),
		CompletedAt:       utcPtr(view.CompletedAt),
		CreatedAt:         view.CreatedAt.UTC(),
		UpdatedAt:         view.UpdatedAt.UTC(),
	}
	if view.PixInfo != nil {
		rec.PixExpiresAt = utcPtr(&view.PixInfo.ExpiresAt)
	}
	if view.Customer != nil {
		b, err := json.Marshal(view.Customer)
		if err != nil {
			return nil, err
		}
		s := string(b)
		rec.Customer = &s
	}
	if len(view.Metadata) > 0 {
		b, err := json.Marshal(view.Metadata)
		if err != nil {
			return nil, err
		}
		s := string(b)
		rec.Metadata = &s
	}
	return rec, nil
}

func fromRecord(rec *transaction.PaymentTransaction) (*paymentpkg.Transaction, error) {
	view := &paymentpkg.TransactionView{
		ID:          rec.ID,
		Type:        paymentpkg.Type(rec.Type),
		Status:      paymentpkg.Status(rec.Status),
		Amount:      rec.Amount,
		Currency:    rec.Currency,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		CompletedAt: rec.CompletedAt,
	}

	var target interface{}
	switch view.Type {
	case paymentpkg.TypePix:
		view.PixInfo = &paymentpkg.PixInfo{}
		target = view.PixInfo
	case paymentpkg.TypeCredit, paymentpkg.TypeDebit:
		view.CardInfo = &paymentpkg.CardInfo{}
		target = view.CardInfo
	case paymentpkg.TypeCash:
		view.CashInfo = &paymentpkg.CashInfo{}
		target = view.CashInfo
	case paymentpkg.TypeVoucher:
		view.VoucherInfo = &paymentpkg.VoucherInfo{}
		target = view.VoucherInfo
	default:
		return nil, fmt.Errorf("transaction %s: unsupported type %q", rec.ID, rec.Type)
	}
	if err := json.Unmarshal([]byte(rec.MethodInfo), target); err != nil {
		return nil, fmt.Errorf("transaction %s: decode method info: %w", rec.ID, err)
	}
	if rec.ProcessorResponse != "" {
		if err := json.Unmarshal([]byte(rec.ProcessorResponse), &view.ProcessorResponse); err != nil {
			return nil, fmt.Errorf("transaction %s: decode processor response: %w", rec.ID, err)
		}
	}
	if rec.Customer != nil {
		view.Customer = &paymentpkg.Customer{}
		if err := json.Unmarshal([]byte(*rec.Customer), view.Customer); err != nil {
			return nil, fmt.Errorf("transaction %s: decode customer: %w", rec.ID, err)
		}
	}
	if rec.Metadata != nil {
		if err := json.Unmarshal([]byte(*rec.Metadata), &view.Metadata); err != nil {
			return nil, fmt.Errorf("transaction %s: decode metadata: %w", rec.ID, err)
		}
	}

	tx, err := view.ToTransaction()
	if err != nil {
		return nil, err
	}
	tx.Version = rec.Version
	return tx, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
