package services

import (
	"context"
	"errors"
	"fmt"

	"bridge-backend/internal/clients"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// DepthStatus classifies a transaction's confirmation depth against its
// chain's required threshold. Shallow is an expected poll-again outcome, not
// an error.
type DepthStatus string

const (
	DepthNotMined  DepthStatus = "NOT_MINED"
	DepthShallow   DepthStatus = "SHALLOW"
	DepthConfirmed DepthStatus = "CONFIRMED"
)

// Depth is the confirmation depth of a transaction and its classification.
type Depth struct {
	Confirmations uint64
	Status        DepthStatus
	BlockHeight   uint64
	BlockHash     string
}

// Confirmed is a convenience for Status == DepthConfirmed.
func (d Depth) Confirmed() bool {
	return d.Status == DepthConfirmed
}

// ConfirmationTracker computes confirmation depth on either chain. Thresholds
// differ per chain: the EVM chain needs more depth than DFC, reflecting the
// two chains' finality assumptions.
type ConfirmationTracker struct {
	evm          clients.EVMClient
	dfc          clients.DFCClient
	evmThreshold uint64
	dfcThreshold uint64
}

// NewConfirmationTracker creates a tracker with the configured thresholds.
func NewConfirmationTracker(evm clients.EVMClient, dfc clients.DFCClient, evmThreshold, dfcThreshold uint64) *ConfirmationTracker {
	return &ConfirmationTracker{
		evm:          evm,
		dfc:          dfc,
		evmThreshold: evmThreshold,
		dfcThreshold: dfcThreshold,
	}
}

// EVMDepth returns the depth of an EVM transaction.
func (t *ConfirmationTracker) EVMDepth(ctx context.Context, txHash common.Hash) (Depth, error) {
	receipt, err := t.evm.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return Depth{Status: DepthNotMined}, nil
		}
		return Depth{}, fmt.Errorf("evm depth of %s: %w", txHash.Hex(), err)
	}

	current, err := t.evm.BlockNumber(ctx)
	if err != nil {
		return Depth{}, fmt.Errorf("evm depth of %s: current height: %w", txHash.Hex(), err)
	}

	txHeight := receipt.BlockNumber.Uint64()
	return classify(current, txHeight, t.evmThreshold, receipt.BlockHash.Hex()), nil
}

// DFCDepth returns the depth of a DFC transaction.
func (t *ConfirmationTracker) DFCDepth(ctx context.Context, txID string) (Depth, error) {
	tx, err := t.dfc.GetTransaction(ctx, txID)
	if err != nil {
		return Depth{}, fmt.Errorf("dfc depth of %s: %w", txID, err)
	}
	if tx.BlockHeight == 0 {
		return Depth{Status: DepthNotMined}, nil
	}

	current, err := t.dfc.GetBlockHeight(ctx)
	if err != nil {
		return Depth{}, fmt.Errorf("dfc depth of %s: current height: %w", txID, err)
	}

	return classify(current, tx.BlockHeight, t.dfcThreshold, tx.BlockHash), nil
}

// classify clamps depth to zero when the node's reported height lags the
// transaction's block (mid-reorg the difference can come out negative).
func classify(current, txHeight, threshold uint64, blockHash string) Depth {
	var confirmations uint64
	if current >= txHeight {
		confirmations = current - txHeight
	}

	status := DepthShallow
	if confirmations >= threshold {
		status = DepthConfirmed
	}
	return Depth{
		Confirmations: confirmations,
		Status:        status,
		BlockHeight:   txHeight,
		BlockHash:     blockHash,
	}
}
