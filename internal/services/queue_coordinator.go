package services

import (
	"context"
	"fmt"
	"time"

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

// QueueCoordinator drives the EVM->DFC queued path. Status moves are
// monotonic: every transition is a conditional update keyed on the current
// status, so a repeated or concurrent call can win at most once.
type QueueCoordinator struct {
	verifier *TxnVerifier
	tracker  *ConfirmationTracker
	sender   *OutboundSender
	queue    repository.QueueRepository
	locks    *cache.KeyedCache
	cfg      *config.Config
	events   *events.Publisher
	metrics  *metrics.Metrics
	logger   *logrus.Logger
}

// NewQueueCoordinator creates a QueueCoordinator.
func NewQueueCoordinator(
	verifier *TxnVerifier,
	tracker *ConfirmationTracker,
	sender *OutboundSender,
	queue repository.QueueRepository,
	locks *cache.KeyedCache,
	cfg *config.Config,
	publisher *events.Publisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *QueueCoordinator {
	return &QueueCoordinator{
		verifier: verifier,
		tracker:  tracker,
		sender:   sender,
		queue:    queue,
		locks:    locks,
		cfg:      cfg,
		events:   publisher,
		metrics:  m,
		logger:   logger,
	}
}

// Create registers a queued transfer in DRAFT, or returns the existing entry
// for an already seen hash. A below-minimum transfer is persisted as REJECTED
// so the hash stays known and the rejection is visible on later reads.
func (q *QueueCoordinator) Create(ctx context.Context, txHash common.Hash) (*models.QueueEntry, error) {
	decoded, err := q.verifier.Verify(ctx, txHash, ContractQueued)
	if err != nil {
		return nil, err
	}

	symbol, token, ok := q.cfg.TokenByEVMAddress(decoded.TokenAddress.Hex())
	if !ok {
		return nil, fmt.Errorf("queue create %s: %w", txHash.Hex(), ErrTokenNotSupported)
	}

	amount := decimal.NewFromBigInt(decoded.Amount, -int32(token.Decimals))
	minimum, err := decimal.NewFromString(token.MinQueueAmount)
	if err != nil {
		return nil, fmt.Errorf("queue create %s: parse minimum for %s: %w", txHash.Hex(), symbol, err)
	}

	status := models.QueueStatusDraft
	if amount.LessThan(minimum) {
		status = models.QueueStatusRejected
	}

	entry := &models.QueueEntry{
		TransactionHash:  txHash.Hex(),
		Status:           status,
		EthereumStatus:   models.ConfirmationStatusNotConfirmed,
		Amount:           amount.String(),
		TokenSymbol:      symbol,
		DefichainAddress: decoded.DefiAddress,
		ExpiryDate:       time.Now().UTC().Add(q.cfg.Bridge.QueueHorizon),
	}
	created, err := q.queue.GetOrCreate(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("queue create %s: %w", txHash.Hex(), err)
	}

	if created {
		q.logger.WithFields(logrus.Fields{
			"op":      "queue_create",
			"tx_hash": txHash.Hex(),
			"token":   symbol,
			"amount":  amount.String(),
			"status":  string(entry.Status),
		}).Info("queue entry created")
	}
	return entry, nil
}

// Verify re-checks the entry's EVM transaction and reports its depth. Below
// threshold it mutates nothing; at threshold it moves DRAFT -> IN_PROGRESS
// exactly once and creates the settlement companion row.
func (q *QueueCoordinator) Verify(ctx context.Context, txHash common.Hash) (*ConfirmResult, error) {
	entry, err := q.queue.Get(ctx, txHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("queue verify %s: %w", txHash.Hex(), err)
	}

	if err := q.expireIfDue(ctx, entry); err != nil {
		return nil, err
	}

	if _, err := q.verifier.Verify(ctx, txHash, ContractQueued); err != nil {
		return nil, err
	}

	depth, err := q.tracker.EVMDepth(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if !depth.Confirmed() {
		return &ConfirmResult{NumberOfConfirmations: depth.Confirmations}, nil
	}

	moved, err := q.queue.TransitionStatus(ctx, txHash.Hex(),
		[]models.QueueStatus{models.QueueStatusDraft}, models.QueueStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("queue verify %s: %w", txHash.Hex(), err)
	}
	if moved {
		if err := q.queue.MarkEthereumConfirmed(ctx, txHash.Hex()); err != nil {
			return nil, fmt.Errorf("queue verify %s: %w", txHash.Hex(), err)
		}
		// EnsureAdminEntry is an insert-if-absent: racing verifiers cannot
		// produce a duplicate companion row.
		if err := q.queue.EnsureAdminEntry(ctx, &models.AdminQueueEntry{
			QueueTransactionHash: txHash.Hex(),
			DefichainStatus:      models.ConfirmationStatusNotConfirmed,
		}); err != nil {
			return nil, fmt.Errorf("queue verify %s: admin entry: %w", txHash.Hex(), err)
		}
		q.publishStatus(txHash.Hex(), models.QueueStatusInProgress)
	}

	return &ConfirmResult{
		NumberOfConfirmations: depth.Confirmations,
		IsConfirmed:           true,
	}, nil
}

// Settle broadcasts the outbound DFC transfer for an in-progress entry and
// records the send hash on the companion row. Admin-side operation; calling
// it again after the send is recorded fails with ErrAlreadyAllocated. Calls
// for the same hash serialize on a per-hash lock so at most one transfer is
// ever broadcast per entry.
func (q *QueueCoordinator) Settle(ctx context.Context, txHash common.Hash) (string, error) {
	var sendTxID string
	err := q.locks.WithLock(ctx, "settle:"+txHash.Hex(), func(ctx context.Context) error {
		var err error
		sendTxID, err = q.settle(ctx, txHash)
		return err
	})
	if err != nil {
		return "", err
	}
	return sendTxID, nil
}

func (q *QueueCoordinator) settle(ctx context.Context, txHash common.Hash) (string, error) {
	entry, err := q.queue.Get(ctx, txHash.Hex())
	if err != nil {
		return "", fmt.Errorf("queue settle %s: %w", txHash.Hex(), err)
	}
	if entry.Status != models.QueueStatusInProgress {
		return "", fmt.Errorf("queue settle %s: %w", txHash.Hex(), ErrNotConfirmed)
	}
	admin, err := q.queue.GetAdminEntry(ctx, txHash.Hex())
	if err != nil {
		return "", fmt.Errorf("queue settle %s: %w", txHash.Hex(), err)
	}
	if admin.SendTransactionHash != "" {
		return "", fmt.Errorf("queue settle %s: %w", txHash.Hex(), ErrAlreadyAllocated)
	}

	_, token, ok := q.cfg.TokenBySymbol(entry.TokenSymbol)
	if !ok {
		return "", fmt.Errorf("queue settle %s: %w", txHash.Hex(), ErrTokenNotSupported)
	}
	amount, err := decimal.NewFromString(entry.Amount)
	if err != nil {
		return "", fmt.Errorf("queue settle %s: parse amount: %w", txHash.Hex(), err)
	}

	sendTxID, err := q.sender.Send(ctx, entry.DefichainAddress, TokenAmount{
		Symbol:  entry.TokenSymbol,
		TokenID: token.DFCTokenID,
		Amount:  applyFee(amount, q.cfg.Bridge.FeeRate),
	})
	if err != nil {
		return "", fmt.Errorf("queue settle %s: %w", txHash.Hex(), err)
	}

	if err := q.queue.SetAdminSend(ctx, txHash.Hex(), sendTxID); err != nil {
		return "", fmt.Errorf("queue settle %s: record send %s: %w", txHash.Hex(), sendTxID, err)
	}
	return sendTxID, nil
}

// DefichainVerify tracks the outbound settlement's DFC depth, marking the
// companion row confirmed and completing the entry once deep enough.
func (q *QueueCoordinator) DefichainVerify(ctx context.Context, txHash common.Hash) (*ConfirmResult, error) {
	admin, err := q.queue.GetAdminEntry(ctx, txHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("queue defichain verify %s: %w", txHash.Hex(), err)
	}
	if admin.SendTransactionHash == "" {
		return nil, fmt.Errorf("queue defichain verify %s: %w", txHash.Hex(), ErrNotConfirmed)
	}

	depth, err := q.tracker.DFCDepth(ctx, admin.SendTransactionHash)
	if err != nil {
		return nil, err
	}
	if !depth.Confirmed() {
		return &ConfirmResult{NumberOfConfirmations: depth.Confirmations}, nil
	}

	if admin.DefichainStatus != models.ConfirmationStatusConfirmed {
		if err := q.queue.MarkAdminConfirmed(ctx, txHash.Hex(), depth.BlockHash, depth.BlockHeight); err != nil {
			return nil, fmt.Errorf("queue defichain verify %s: %w", txHash.Hex(), err)
		}
		moved, err := q.queue.TransitionStatus(ctx, txHash.Hex(),
			[]models.QueueStatus{models.QueueStatusInProgress}, models.QueueStatusCompleted)
		if err != nil {
			return nil, fmt.Errorf("queue defichain verify %s: %w", txHash.Hex(), err)
		}
		if moved {
			q.publishStatus(txHash.Hex(), models.QueueStatusCompleted)
		}
	}

	return &ConfirmResult{
		NumberOfConfirmations: depth.Confirmations,
		IsConfirmed:           true,
	}, nil
}

// RequestRefund moves an eligible entry to REFUND_REQUESTED. Eligibility is
// status in {IN_PROGRESS, ERROR, EXPIRED} and the horizon passed; refunds
// inside the waiting window are rejected with a distinct reason so a
// still-pending transfer is not mistaken for a stuck one.
func (q *QueueCoordinator) RequestRefund(ctx context.Context, txHash common.Hash) (*models.QueueEntry, error) {
	entry, err := q.queue.Get(ctx, txHash.Hex())
	if err != nil {
		return nil, fmt.Errorf("queue refund %s: %w", txHash.Hex(), err)
	}

	if err := q.expireIfDue(ctx, entry); err != nil {
		return nil, err
	}

	if !statusIn(entry.Status, models.RefundableStatuses) {
		return nil, fmt.Errorf("queue refund %s (status %s): %w", txHash.Hex(), entry.Status, ErrRefundNotAllowed)
	}
	if !time.Now().UTC().After(entry.ExpiryDate) {
		return nil, fmt.Errorf("queue refund %s (expires %s): %w",
			txHash.Hex(), entry.ExpiryDate.Format(time.RFC3339), ErrRefundNotDue)
	}

	// A queue row whose underlying transaction turns out invalid must not be
	// refundable, so the EVM transaction is re-validated independently here.
	if _, err := q.verifier.Verify(ctx, txHash, ContractQueued); err != nil {
		return nil, err
	}

	moved, err := q.queue.TransitionStatus(ctx, txHash.Hex(),
		models.RefundableStatuses, models.QueueStatusRefundRequested)
	if err != nil {
		return nil, fmt.Errorf("queue refund %s: %w", txHash.Hex(), err)
	}
	if moved {
		q.metrics.RefundsRequested.Inc()
		q.events.Publish(events.SubjectRefundRequested, map[string]string{
			"transactionHash": txHash.Hex(),
		})
		q.logger.WithFields(logrus.Fields{
			"op":      "queue_refund",
			"tx_hash": txHash.Hex(),
		}).Info("refund requested")
	}

	return q.queue.Get(ctx, txHash.Hex())
}

// MarkRefunded finalizes a refund after the admin returns the funds on the
// EVM side.
func (q *QueueCoordinator) MarkRefunded(ctx context.Context, txHash common.Hash) (*models.QueueEntry, error) {
	moved, err := q.queue.TransitionStatus(ctx, txHash.Hex(),
		[]models.QueueStatus{models.QueueStatusRefundRequested}, models.QueueStatusRefunded)
	if err != nil {
		return nil, fmt.Errorf("queue mark refunded %s: %w", txHash.Hex(), err)
	}
	if !moved {
		return nil, fmt.Errorf("queue mark refunded %s: %w", txHash.Hex(), ErrRefundNotAllowed)
	}
	q.publishStatus(txHash.Hex(), models.QueueStatusRefunded)
	return q.queue.Get(ctx, txHash.Hex())
}

// expireIfDue lazily expires an unsettled entry whose horizon has passed.
// Entries already terminal or refund-bound are untouched.
func (q *QueueCoordinator) expireIfDue(ctx context.Context, entry *models.QueueEntry) error {
	if !time.Now().UTC().After(entry.ExpiryDate) {
		return nil
	}
	if entry.Status != models.QueueStatusDraft && entry.Status != models.QueueStatusInProgress {
		return nil
	}
	moved, err := q.queue.TransitionStatus(ctx, entry.TransactionHash,
		[]models.QueueStatus{models.QueueStatusDraft, models.QueueStatusInProgress}, models.QueueStatusExpired)
	if err != nil {
		return fmt.Errorf("queue expire %s: %w", entry.TransactionHash, err)
	}
	if moved {
		entry.Status = models.QueueStatusExpired
		q.publishStatus(entry.TransactionHash, models.QueueStatusExpired)
	}
	return nil
}

func (q *QueueCoordinator) publishStatus(txHash string, status models.QueueStatus) {
	q.events.Publish(events.SubjectQueueStatus, map[string]string{
		"transactionHash": txHash,
		"status":          string(status),
	})
}

func statusIn(status models.QueueStatus, set []models.QueueStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
