package repository

import (
	"context"
	"errors"
	"time"

	"bridge-backend/internal/models"

	"gorm.io/gorm"
)

// ClaimData is the persisted half of a signed claim, attached to a derived
// address exactly once.
type ClaimData struct {
	Signature          string
	Nonce              uint64
	Deadline           int64
	Amount             string
	TokenSymbol        string
	EthReceiverAddress string
}

// AddressRepository persists HD-derived deposit addresses and their claims.
type AddressRepository interface {
	Create(ctx context.Context, address *models.DerivedAddress) error
	GetByAddress(ctx context.Context, address string) (*models.DerivedAddress, error)

	// NextIndex returns the next unused HD index for the hot wallet, never
	// below floor (low indices are reserved for the wallet's own use).
	NextIndex(ctx context.Context, hotWalletAddress string, floor uint64) (uint64, error)

	// AttachClaim persists claim data onto an unsigned address row. Returns
	// ErrClaimExists if a claim is already present; the caller must then
	// re-read and return the stored claim instead.
	AttachClaim(ctx context.Context, address string, claim ClaimData) error

	// MarkDustSent sets the dust timestamp if unset, reporting whether this
	// call won the right to send the one-time top-up.
	MarkDustSent(ctx context.Context, address string, at time.Time) (bool, error)
}

// ErrClaimExists is returned when attaching a claim to an already signed row.
var ErrClaimExists = errors.New("repository: claim already attached")

type addressRepository struct {
	db *gorm.DB
}

// NewAddressRepository creates an AddressRepository backed by gorm.
func NewAddressRepository(db *gorm.DB) AddressRepository {
	return &addressRepository{db: db}
}

func (r *addressRepository) Create(ctx context.Context, address *models.DerivedAddress) error {
	return r.db.WithContext(ctx).Create(address).Error
}

func (r *addressRepository) GetByAddress(ctx context.Context, address string) (*models.DerivedAddress, error) {
	var row models.DerivedAddress
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *addressRepository) NextIndex(ctx context.Context, hotWalletAddress string, floor uint64) (uint64, error) {
	var maxIndex *uint64
	err := r.db.WithContext(ctx).
		Model(&models.DerivedAddress{}).
		Where("hot_wallet_address = ?", hotWalletAddress).
		Select("MAX(hd_index)").
		Scan(&maxIndex).Error
	if err != nil {
		return 0, err
	}
	if maxIndex == nil || *maxIndex < floor {
		return floor, nil
	}
	return *maxIndex + 1, nil
}

func (r *addressRepository) AttachClaim(ctx context.Context, address string, claim ClaimData) error {
	res := r.db.WithContext(ctx).
		Model(&models.DerivedAddress{}).
		Where("address = ? AND claim_signature = ''", address).
		Updates(map[string]interface{}{
			"claim_signature":      claim.Signature,
			"claim_nonce":          claim.Nonce,
			"claim_deadline":       claim.Deadline,
			"claim_amount":         claim.Amount,
			"token_symbol":         claim.TokenSymbol,
			"eth_receiver_address": claim.EthReceiverAddress,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrClaimExists
	}
	return nil
}

func (r *addressRepository) MarkDustSent(ctx context.Context, address string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.DerivedAddress{}).
		Where("address = ? AND dust_sent_at IS NULL", address).
		Update("dust_sent_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
