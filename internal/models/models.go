package models

import (
	"time"
)

// ConfirmationStatus tracks whether a source-chain transaction has reached
// the required confirmation depth.
type ConfirmationStatus string

const (
	ConfirmationStatusNotConfirmed ConfirmationStatus = "NOT_CONFIRMED"
	ConfirmationStatusConfirmed    ConfirmationStatus = "CONFIRMED"
)

// QueueStatus is the lifecycle state of a queued EVM->DFC transfer.
type QueueStatus string

const (
	QueueStatusDraft           QueueStatus = "DRAFT"
	QueueStatusInProgress      QueueStatus = "IN_PROGRESS"
	QueueStatusCompleted       QueueStatus = "COMPLETED"
	QueueStatusError           QueueStatus = "ERROR"
	QueueStatusRejected        QueueStatus = "REJECTED"
	QueueStatusExpired         QueueStatus = "EXPIRED"
	QueueStatusRefundRequested QueueStatus = "REFUND_REQUESTED"
	QueueStatusRefunded        QueueStatus = "REFUNDED"
)

// RefundableStatuses are the only states a refund request may start from.
// The expiry-date check is enforced separately.
var RefundableStatuses = []QueueStatus{
	QueueStatusInProgress,
	QueueStatusError,
	QueueStatusExpired,
}

// DepositRecord is one EVM->DFC instant-path bridging, keyed by the EVM
// transaction hash. Created on first sighting, never deleted.
type DepositRecord struct {
	TransactionHash string             `json:"transaction_hash" gorm:"primaryKey;column:transaction_hash"`
	Status          ConfirmationStatus `json:"status" gorm:"not null;default:'NOT_CONFIRMED'"`
	TokenSymbol     string             `json:"token_symbol"`
	Amount          string             `json:"amount"` // raw on-chain units, decimal string

	// UnconfirmedSendTransactionHash is set when the outbound DFC send is
	// broadcast; SendTransactionHash only once that send reaches DFC depth.
	UnconfirmedSendTransactionHash string  `json:"unconfirmed_send_transaction_hash"`
	SendTransactionHash            string  `json:"send_transaction_hash"`
	BlockHash                      string  `json:"block_hash"`
	BlockHeight                    *uint64 `json:"block_height"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DepositRecord) TableName() string {
	return "deposit_records"
}

// QueueEntry is one EVM->DFC queued-path transfer, keyed by the EVM
// transaction hash.
type QueueEntry struct {
	TransactionHash  string             `json:"transaction_hash" gorm:"primaryKey;column:transaction_hash"`
	Status           QueueStatus        `json:"status" gorm:"not null;default:'DRAFT'"`
	EthereumStatus   ConfirmationStatus `json:"ethereum_status" gorm:"not null;default:'NOT_CONFIRMED'"`
	Amount           string             `json:"amount"`
	TokenSymbol      string             `json:"token_symbol"`
	DefichainAddress string             `json:"defichain_address"`
	ExpiryDate       time.Time          `json:"expiry_date" gorm:"not null"`

	AdminQueueEntry *AdminQueueEntry `json:"admin_queue_entry,omitempty" gorm:"foreignKey:QueueTransactionHash;references:TransactionHash"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (QueueEntry) TableName() string {
	return "bridge_queue"
}

// AdminQueueEntry is the settlement companion row of a QueueEntry, created
// exactly once when the entry moves to IN_PROGRESS.
type AdminQueueEntry struct {
	QueueTransactionHash string             `json:"queue_transaction_hash" gorm:"primaryKey;column:queue_transaction_hash"`
	DefichainStatus      ConfirmationStatus `json:"defichain_status" gorm:"not null;default:'NOT_CONFIRMED'"`
	SendTransactionHash  string             `json:"send_transaction_hash"`
	BlockHash            string             `json:"block_hash"`
	BlockHeight          *uint64            `json:"block_height"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (AdminQueueEntry) TableName() string {
	return "admin_bridge_queue"
}

// DerivedAddress is a per-user DFC deposit address derived from the hot
// wallet, keyed by the derived address itself. Claim fields are attached once
// and never rewritten: reissuing a claim must return the persisted one.
type DerivedAddress struct {
	Address          string    `json:"address" gorm:"primaryKey;column:address"`
	Index            uint64    `json:"index" gorm:"column:hd_index;not null;uniqueIndex:idx_wallet_index"`
	HotWalletAddress string    `json:"hot_wallet_address" gorm:"not null;uniqueIndex:idx_wallet_index"`
	RefundAddress    string    `json:"refund_address" gorm:"not null"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`

	ClaimSignature     string  `json:"claim_signature"`
	ClaimNonce         *uint64 `json:"claim_nonce"`
	ClaimDeadline      *int64  `json:"claim_deadline"` // unix seconds
	ClaimAmount        string  `json:"claim_amount"`
	TokenSymbol        string  `json:"token_symbol"`
	EthReceiverAddress string  `json:"eth_receiver_address"`

	// DustSentAt marks that the one-time fee top-up was attempted for this
	// address. Set before broadcasting so a retried verification cannot
	// double-dust the address.
	DustSentAt *time.Time `json:"dust_sent_at"`
}

func (DerivedAddress) TableName() string {
	return "derived_addresses"
}

// HasClaim reports whether a claim has already been issued for the address.
func (d *DerivedAddress) HasClaim() bool {
	return d.ClaimSignature != "" && d.ClaimNonce != nil && d.ClaimDeadline != nil
}
