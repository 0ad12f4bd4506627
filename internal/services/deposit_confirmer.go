package services

import (
	"context"
	"errors"
	"fmt"

	"bridge-backend/internal/cache"
	"bridge-backend/internal/config"
	"bridge-backend/internal/events"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ConfirmResult reports the depth of an EVM deposit to a polling caller.
type ConfirmResult struct {
	NumberOfConfirmations uint64 `json:"numberOfConfirmations"`
	IsConfirmed           bool   `json:"isConfirmed"`
}

// AllocationResult reports the state of the outbound DFC settlement.
type AllocationResult struct {
	SendTxID              string `json:"txnId"`
	NumberOfConfirmations uint64 `json:"numberOfConfirmations"`
	IsConfirmed           bool   `json:"isConfirmed"`
}

// DepositConfirmer drives the EVM->DFC instant path: confirm the inbound EVM
// deposit, allocate funds with one outbound DFC send, then promote that send
// once it reaches DFC depth. Each step is an idempotent poll target.
type DepositConfirmer struct {
	verifier *TxnVerifier
	tracker  *ConfirmationTracker
	sender   *OutboundSender
	deposits repository.DepositRepository
	locks    *cache.KeyedCache
	cfg      *config.Config
	events   *events.Publisher
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewDepositConfirmer creates a DepositConfirmer.
func NewDepositConfirmer(
	verifier *TxnVerifier,
	tracker *ConfirmationTracker,
	sender *OutboundSender,
	deposits repository.DepositRepository,
	locks *cache.KeyedCache,
	cfg *config.Config,
	publisher *events.Publisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *DepositConfirmer {
	return &DepositConfirmer{
		verifier: verifier,
		tracker:  tracker,
		sender:   sender,
		deposits: deposits,
		locks:    locks,
		cfg:      cfg,
		events:   publisher,
		metrics:  m,
		logger:   logger,
	}
}

// Confirm verifies the deposit transaction and reports its depth, creating
// the deposit record on first sight so repeated polling stays cheap. The
// record moves NOT_CONFIRMED -> CONFIRMED exactly once, at threshold depth.
func (c *DepositConfirmer) Confirm(ctx context.Context, txHash common.Hash) (*ConfirmResult, error) {
	decoded, err := c.verifier.Verify(ctx, txHash, ContractInstant)
	if err != nil {
		return nil, err
	}

	record := &models.DepositRecord{
		TransactionHash: txHash.Hex(),
		Status:          models.ConfirmationStatusNotConfirmed,
	}
	if _, err := c.deposits.GetOrCreate(ctx, record); err != nil {
		return nil, fmt.Errorf("confirm %s: %w", txHash.Hex(), err)
	}

	depth, err := c.tracker.EVMDepth(ctx, txHash)
	if err != nil {
		return nil, err
	}

	if depth.Confirmed() && record.Status == models.ConfirmationStatusNotConfirmed {
		symbol, _, ok := c.cfg.TokenByEVMAddress(decoded.TokenAddress.Hex())
		if !ok {
			return nil, fmt.Errorf("confirm %s: %w", txHash.Hex(), ErrTokenNotSupported)
		}
		if err := c.deposits.MarkConfirmed(ctx, txHash.Hex(), symbol, decoded.Amount.String()); err != nil {
			return nil, fmt.Errorf("confirm %s: %w", txHash.Hex(), err)
		}
		c.metrics.DepositsConfirmed.Inc()
		c.events.Publish(events.SubjectDepositConfirmed, map[string]string{
			"transactionHash": txHash.Hex(),
			"tokenSymbol":     symbol,
			"amount":          decoded.Amount.String(),
		})
		c.logger.WithFields(logrus.Fields{
			"op":      "deposit_confirm",
			"tx_hash": txHash.Hex(),
			"token":   symbol,
			"depth":   depth.Confirmations,
		}).Info("deposit confirmed")
	}

	return &ConfirmResult{
		NumberOfConfirmations: depth.Confirmations,
		IsConfirmed:           depth.Confirmed(),
	}, nil
}

// AllocateFund moves the deposited funds to the user's DFC address. Until the
// deposit is confirmed it fails with ErrNotConfirmed; after the outbound send
// it polls DFC depth, promoting the send hash to final exactly once; after
// promotion it fails with ErrAlreadyAllocated permanently. Calls for the same
// hash serialize on a per-hash lock so the broadcast-or-poll decision is made
// against a settled record and at most one send ever leaves the hot wallet.
func (c *DepositConfirmer) AllocateFund(ctx context.Context, txHash common.Hash) (*AllocationResult, error) {
	var result *AllocationResult
	err := c.locks.WithLock(ctx, "allocate:"+txHash.Hex(), func(ctx context.Context) error {
		var err error
		result, err = c.allocate(ctx, txHash)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *DepositConfirmer) allocate(ctx context.Context, txHash common.Hash) (*AllocationResult, error) {
	record, err := c.deposits.Get(ctx, txHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), err)
	}
	if record.SendTransactionHash != "" {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), ErrAlreadyAllocated)
	}
	if record.Status != models.ConfirmationStatusConfirmed {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), ErrNotConfirmed)
	}

	if record.UnconfirmedSendTransactionHash != "" {
		return c.pollOutbound(ctx, record)
	}

	// First allocation call after confirmation. Re-derive everything from
	// the transaction itself rather than trusting stored fields.
	decoded, err := c.verifier.Verify(ctx, txHash, ContractInstant)
	if err != nil {
		return nil, err
	}

	valid, err := c.sender.dfc.ValidateAddress(ctx, decoded.DefiAddress)
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), err)
	}
	if !valid {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), ErrInvalidDestination)
	}

	symbol, token, ok := c.cfg.TokenByEVMAddress(decoded.TokenAddress.Hex())
	if !ok {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), ErrTokenNotSupported)
	}

	amount := decimal.NewFromBigInt(decoded.Amount, -int32(token.Decimals))
	amountLessFee := applyFee(amount, c.cfg.Bridge.FeeRate)

	sendTxID, err := c.sender.Send(ctx, decoded.DefiAddress, TokenAmount{
		Symbol:  symbol,
		TokenID: token.DFCTokenID,
		Amount:  amountLessFee,
	})
	if err != nil {
		return nil, fmt.Errorf("allocate %s: %w", txHash.Hex(), err)
	}

	if err := c.deposits.SetUnconfirmedSend(ctx, txHash.Hex(), sendTxID); err != nil {
		// The send is on the wire but the hash was not recorded; surface the
		// conflict instead of risking a second send on retry.
		return nil, fmt.Errorf("allocate %s: record send %s: %w", txHash.Hex(), sendTxID, err)
	}

	c.events.Publish(events.SubjectDepositAllocated, map[string]string{
		"transactionHash":     txHash.Hex(),
		"sendTransactionHash": sendTxID,
		"tokenSymbol":         symbol,
		"amount":              amountLessFee.String(),
	})

	return &AllocationResult{SendTxID: sendTxID}, nil
}

// pollOutbound reports the outbound send's DFC depth, finalizing the record
// when the threshold is reached.
func (c *DepositConfirmer) pollOutbound(ctx context.Context, record *models.DepositRecord) (*AllocationResult, error) {
	depth, err := c.tracker.DFCDepth(ctx, record.UnconfirmedSendTransactionHash)
	if err != nil {
		return nil, err
	}

	if !depth.Confirmed() {
		return &AllocationResult{
			SendTxID:              record.UnconfirmedSendTransactionHash,
			NumberOfConfirmations: depth.Confirmations,
		}, nil
	}

	err = c.deposits.PromoteSend(ctx, record.TransactionHash, depth.BlockHash, depth.BlockHeight)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("allocate %s: promote send: %w", record.TransactionHash, err)
	}
	// ErrNotFound here means a concurrent poll already promoted the hash;
	// the outcome is the same either way.

	return &AllocationResult{
		SendTxID:              record.UnconfirmedSendTransactionHash,
		NumberOfConfirmations: depth.Confirmations,
		IsConfirmed:           true,
	}, nil
}
