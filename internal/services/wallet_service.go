package services

import (
	"context"
	"fmt"

	"bridge-backend/internal/cache"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/sirupsen/logrus"
)

// WalletService hands out per-user DFC deposit addresses derived from the
// hot wallet.
type WalletService struct {
	dfc       clients.DFCClient
	addresses repository.AddressRepository
	locks     *cache.KeyedCache
	cfg       *config.DefichainConfig
	logger    *logrus.Logger
}

// NewWalletService creates a WalletService.
func NewWalletService(
	dfc clients.DFCClient,
	addresses repository.AddressRepository,
	locks *cache.KeyedCache,
	cfg *config.DefichainConfig,
	logger *logrus.Logger,
) *WalletService {
	return &WalletService{
		dfc:       dfc,
		addresses: addresses,
		locks:     locks,
		cfg:       cfg,
		logger:    logger,
	}
}

// GenerateAddress derives the next HD address and persists it with the
// user's refund address. Index allocation is serialized per hot wallet so
// concurrent requests never derive the same index; the unique index on
// (hot_wallet_address, hd_index) backs this up at the storage level.
func (s *WalletService) GenerateAddress(ctx context.Context, refundAddress string) (*models.DerivedAddress, error) {
	valid, err := s.dfc.ValidateAddress(ctx, refundAddress)
	if err != nil {
		return nil, fmt.Errorf("generate address: %w", err)
	}
	if !valid {
		return nil, fmt.Errorf("generate address: refund address %s: %w", refundAddress, ErrInvalidDestination)
	}

	var row *models.DerivedAddress
	err = s.locks.WithLock(ctx, "hd-index:"+s.cfg.HotWalletAddress, func(ctx context.Context) error {
		index, err := s.addresses.NextIndex(ctx, s.cfg.HotWalletAddress, s.cfg.WalletStartIndex)
		if err != nil {
			return fmt.Errorf("generate address: next index: %w", err)
		}

		address, err := s.dfc.DeriveAddress(ctx, index)
		if err != nil {
			return fmt.Errorf("generate address: %w", err)
		}

		row = &models.DerivedAddress{
			Address:          address,
			Index:            index,
			HotWalletAddress: s.cfg.HotWalletAddress,
			RefundAddress:    refundAddress,
		}
		if err := s.addresses.Create(ctx, row); err != nil {
			return fmt.Errorf("generate address: persist index %d: %w", index, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"op":      "generate_address",
		"address": row.Address,
		"index":   row.Index,
	}).Info("deposit address derived")

	return row, nil
}
