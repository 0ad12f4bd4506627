package repository

import (
	"context"
	"errors"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by lookups that matched no row.
var ErrNotFound = errors.New("repository: not found")

// TokenStat is one row of the daily confirmed-deposit projection.
type TokenStat struct {
	TokenSymbol string `json:"token_symbol"`
	Count       int64  `json:"count"`
	TotalAmount string `json:"total_amount"`
}

// DepositRepository persists instant-path deposit records.
type DepositRepository interface {
	// GetOrCreate inserts the record if its hash is unseen, otherwise loads
	// the existing row into it. Reports whether the row was created.
	GetOrCreate(ctx context.Context, record *models.DepositRecord) (bool, error)
	Get(ctx context.Context, txHash string) (*models.DepositRecord, error)

	MarkConfirmed(ctx context.Context, txHash, tokenSymbol, amount string) error

	// SetUnconfirmedSend records the broadcast hash of the outbound send.
	// Fails if an unconfirmed or final send hash is already present.
	SetUnconfirmedSend(ctx context.Context, txHash, sendTxHash string) error

	// PromoteSend flips the unconfirmed send hash to final, together with
	// the confirming DFC block. At most one promotion succeeds per record.
	PromoteSend(ctx context.Context, txHash, blockHash string, blockHeight uint64) error

	// DailyStats aggregates confirmed deposits for the UTC day of date.
	DailyStats(ctx context.Context, date time.Time) ([]TokenStat, error)
}

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a DepositRepository backed by gorm.
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) GetOrCreate(ctx context.Context, record *models.DepositRecord) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	err := r.db.WithContext(ctx).
		Where("transaction_hash = ?", record.TransactionHash).
		First(record).Error
	return false, err
}

func (r *depositRepository) Get(ctx context.Context, txHash string) (*models.DepositRecord, error) {
	var record models.DepositRecord
	err := r.db.WithContext(ctx).Where("transaction_hash = ?", txHash).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *depositRepository) MarkConfirmed(ctx context.Context, txHash, tokenSymbol, amount string) error {
	return r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("transaction_hash = ?", txHash).
		Updates(map[string]interface{}{
			"status":       models.ConfirmationStatusConfirmed,
			"token_symbol": tokenSymbol,
			"amount":       amount,
		}).Error
}

func (r *depositRepository) SetUnconfirmedSend(ctx context.Context, txHash, sendTxHash string) error {
	res := r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("transaction_hash = ? AND unconfirmed_send_transaction_hash = '' AND send_transaction_hash = ''", txHash).
		Update("unconfirmed_send_transaction_hash", sendTxHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *depositRepository) PromoteSend(ctx context.Context, txHash, blockHash string, blockHeight uint64) error {
	res := r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Where("transaction_hash = ? AND unconfirmed_send_transaction_hash <> '' AND send_transaction_hash = ''", txHash).
		Updates(map[string]interface{}{
			"send_transaction_hash": gorm.Expr("unconfirmed_send_transaction_hash"),
			"block_hash":            blockHash,
			"block_height":          blockHeight,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *depositRepository) DailyStats(ctx context.Context, date time.Time) ([]TokenStat, error) {
	dayStart := date.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)

	var stats []TokenStat
	err := r.db.WithContext(ctx).
		Model(&models.DepositRecord{}).
		Select("token_symbol, COUNT(*) AS count, COALESCE(SUM(amount::numeric), 0)::text AS total_amount").
		Where("status = ? AND updated_at >= ? AND updated_at < ?", models.ConfirmationStatusConfirmed, dayStart, dayEnd).
		Group("token_symbol").
		Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
