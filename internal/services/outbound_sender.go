package services

import (
	"context"
	"fmt"
	"time"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/metrics"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// TokenAmount is an outbound transfer request. TokenID -1 selects a native
// UTXO spend, anything else an account-to-account dToken transfer.
type TokenAmount struct {
	Symbol  string
	TokenID int
	Amount  decimal.Decimal
}

// utxoFee is the flat fee budgeted for a native UTXO spend. DFC fees are
// small and stable enough that a fixed budget beats estimating per send.
var utxoFee = decimal.RequireFromString("0.0001")

// OutboundSender crafts and broadcasts outbound DFC transactions from the
// hot wallet. Broadcast endpoints intermittently reject valid transactions,
// so broadcasting retries a small fixed number of times before failing.
type OutboundSender struct {
	dfc     clients.DFCClient
	metrics *metrics.Metrics
	logger  *logrus.Logger

	hotWalletAddress  string
	reservedLiquidity decimal.Decimal
	broadcastRetries  int
}

// NewOutboundSender creates an OutboundSender.
func NewOutboundSender(
	dfc clients.DFCClient,
	m *metrics.Metrics,
	logger *logrus.Logger,
	hotWalletAddress string,
	reservedLiquidity decimal.Decimal,
	broadcastRetries int,
) *OutboundSender {
	return &OutboundSender{
		dfc:               dfc,
		metrics:           m,
		logger:            logger,
		hotWalletAddress:  hotWalletAddress,
		reservedLiquidity: reservedLiquidity,
		broadcastRetries:  broadcastRetries,
	}
}

// Send crafts, signs and broadcasts the transfer, returning the broadcast
// transaction id. Native sends are liquidity-checked first; an underfunded
// hot wallet is a user-facing condition, not a retryable fault.
func (s *OutboundSender) Send(ctx context.Context, destination string, token TokenAmount) (string, error) {
	if token.TokenID < 0 {
		if err := s.EnsureLiquidity(ctx, token.Amount); err != nil {
			return "", err
		}
	}

	signed, err := s.dfc.CraftTransfer(ctx, clients.TransferSpec{
		To:      destination,
		Symbol:  token.Symbol,
		TokenID: token.TokenID,
		Amount:  token.Amount,
	})
	if err != nil {
		return "", fmt.Errorf("send %s %s to %s: craft: %w", token.Amount, token.Symbol, destination, err)
	}

	txID, err := s.broadcast(ctx, signed.Hex)
	if err != nil {
		return "", fmt.Errorf("send %s %s to %s: %w", token.Amount, token.Symbol, destination, err)
	}

	s.metrics.Broadcasts.Inc()
	s.logger.WithFields(logrus.Fields{
		"op":      "outbound_send",
		"tx_id":   txID,
		"token":   token.Symbol,
		"amount":  token.Amount.String(),
		"address": destination,
	}).Info("outbound transfer broadcast")

	return txID, nil
}

// EnsureLiquidity verifies the hot wallet can cover amount plus the fee
// budget, net of the configured reserve.
func (s *OutboundSender) EnsureLiquidity(ctx context.Context, amount decimal.Decimal) error {
	balance, err := s.dfc.GetBalance(ctx, s.hotWalletAddress)
	if err != nil {
		return fmt.Errorf("check hot wallet liquidity: %w", err)
	}
	s.metrics.HotWalletBalance.Set(balance.InexactFloat64())

	spendable := balance.Sub(s.reservedLiquidity)
	if spendable.LessThan(amount.Add(utxoFee)) {
		s.logger.WithFields(logrus.Fields{
			"op":        "liquidity_check",
			"spendable": spendable.String(),
			"requested": amount.String(),
		}).Warn("insufficient hot wallet liquidity")
		return ErrInsufficientLiquidity
	}
	return nil
}

func (s *OutboundSender) broadcast(ctx context.Context, rawHex string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.broadcastRetries; attempt++ {
		txID, err := s.dfc.Broadcast(ctx, rawHex)
		if err == nil {
			return txID, nil
		}
		lastErr = err
		s.logger.WithError(err).WithField("attempt", attempt).Warn("broadcast attempt failed")
		if attempt < s.broadcastRetries {
			s.metrics.BroadcastRetries.Inc()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
			}
		}
	}
	return "", fmt.Errorf("broadcast failed after %d attempts: %w", s.broadcastRetries, lastErr)
}
