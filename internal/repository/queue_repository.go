package repository

import (
	"context"
	"errors"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QueueRepository persists queued-path entries and their settlement
// companions. Status changes go through TransitionStatus so monotonicity is
// enforced at the storage boundary, not just in service code.
type QueueRepository interface {
	GetOrCreate(ctx context.Context, entry *models.QueueEntry) (bool, error)
	Get(ctx context.Context, txHash string) (*models.QueueEntry, error)

	// TransitionStatus moves the entry from any of the given statuses to the
	// target, reporting whether this call performed the move. A false return
	// with nil error means another caller already transitioned the row or the
	// current status is not in from.
	TransitionStatus(ctx context.Context, txHash string, from []models.QueueStatus, to models.QueueStatus) (bool, error)

	MarkEthereumConfirmed(ctx context.Context, txHash string) error

	// EnsureAdminEntry creates the companion settlement row if absent.
	EnsureAdminEntry(ctx context.Context, entry *models.AdminQueueEntry) error
	GetAdminEntry(ctx context.Context, txHash string) (*models.AdminQueueEntry, error)
	SetAdminSend(ctx context.Context, txHash, sendTxHash string) error
	MarkAdminConfirmed(ctx context.Context, txHash, blockHash string, blockHeight uint64) error
}

type queueRepository struct {
	db *gorm.DB
}

// NewQueueRepository creates a QueueRepository backed by gorm.
func NewQueueRepository(db *gorm.DB) QueueRepository {
	return &queueRepository{db: db}
}

func (r *queueRepository) GetOrCreate(ctx context.Context, entry *models.QueueEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	err := r.db.WithContext(ctx).
		Where("transaction_hash = ?", entry.TransactionHash).
		First(entry).Error
	return false, err
}

func (r *queueRepository) Get(ctx context.Context, txHash string) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	err := r.db.WithContext(ctx).
		Preload("AdminQueueEntry").
		Where("transaction_hash = ?", txHash).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *queueRepository) TransitionStatus(ctx context.Context, txHash string, from []models.QueueStatus, to models.QueueStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("transaction_hash = ? AND status IN ?", txHash, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *queueRepository) MarkEthereumConfirmed(ctx context.Context, txHash string) error {
	return r.db.WithContext(ctx).
		Model(&models.QueueEntry{}).
		Where("transaction_hash = ?", txHash).
		Update("ethereum_status", models.ConfirmationStatusConfirmed).Error
}

func (r *queueRepository) EnsureAdminEntry(ctx context.Context, entry *models.AdminQueueEntry) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(entry).Error
}

func (r *queueRepository) GetAdminEntry(ctx context.Context, txHash string) (*models.AdminQueueEntry, error) {
	var entry models.AdminQueueEntry
	err := r.db.WithContext(ctx).
		Where("queue_transaction_hash = ?", txHash).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *queueRepository) SetAdminSend(ctx context.Context, txHash, sendTxHash string) error {
	res := r.db.WithContext(ctx).
		Model(&models.AdminQueueEntry{}).
		Where("queue_transaction_hash = ? AND send_transaction_hash = ''", txHash).
		Update("send_transaction_hash", sendTxHash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *queueRepository) MarkAdminConfirmed(ctx context.Context, txHash, blockHash string, blockHeight uint64) error {
	return r.db.WithContext(ctx).
		Model(&models.AdminQueueEntry{}).
		Where("queue_transaction_hash = ?", txHash).
		Updates(map[string]interface{}{
			"defichain_status": models.ConfirmationStatusConfirmed,
			"block_hash":       blockHash,
			"block_height":     blockHeight,
		}).Error
}
