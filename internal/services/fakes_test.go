package services

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"time"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// packBridgeCall builds call data for the bridge entry point.
func packBridgeCall(t interface{ Fatalf(string, ...interface{}) }, defiAddress string, token common.Address, amount *big.Int) []byte {
	parsed, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	data, err := parsed.Pack(bridgeEntryPoint, []byte(defiAddress), token, amount)
	if err != nil {
		t.Fatalf("pack call: %v", err)
	}
	return data
}

// fakeEVMClient implements clients.EVMClient in memory.
type fakeEVMClient struct {
	mu sync.Mutex

	txs      map[common.Hash]*types.Transaction
	receipts map[common.Hash]*types.Receipt
	height   uint64

	claimNonce    *big.Int
	domainName    string
	domainVersion string
	decimals      map[common.Address]uint8

	signCalls     int
	signErr       error
	lastTypedData apitypes.TypedData
	decimalsCalls int
}

func newFakeEVMClient() *fakeEVMClient {
	return &fakeEVMClient{
		txs:           make(map[common.Hash]*types.Transaction),
		receipts:      make(map[common.Hash]*types.Receipt),
		claimNonce:    big.NewInt(0),
		domainName:    "BRIDGE",
		domainVersion: "1",
		decimals:      make(map[common.Address]uint8),
	}
}

func (f *fakeEVMClient) addTx(hash common.Hash, to common.Address, data []byte, receipt *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs[hash] = types.NewTx(&types.LegacyTx{To: &to, Data: data, Gas: 21000, GasPrice: big.NewInt(1)})
	if receipt != nil {
		f.receipts[hash] = receipt
	}
}

func (f *fakeEVMClient) TransactionByHash(_ context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := f.receipts[hash]
	return tx, !mined, nil
}

func (f *fakeEVMClient) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

func (f *fakeEVMClient) BlockNumber(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeEVMClient) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeEVMClient) Balance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (f *fakeEVMClient) ClaimNonce(context.Context, common.Address, common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.claimNonce), nil
}

func (f *fakeEVMClient) EIP712Domain(context.Context, common.Address) (string, string, error) {
	return f.domainName, f.domainVersion, nil
}

func (f *fakeEVMClient) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decimalsCalls++
	d, ok := f.decimals[token]
	if !ok {
		return 0, fmt.Errorf("no decimals for %s", token.Hex())
	}
	return d, nil
}

// SignTypedData returns a distinct signature per invocation, so idempotence
// tests can prove the second request was served from persistence.
func (f *fakeEVMClient) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signErr != nil {
		return nil, f.signErr
	}
	f.signCalls++
	f.lastTypedData = data
	return []byte(fmt.Sprintf("signature-%d", f.signCalls)), nil
}

func (f *fakeEVMClient) SignerAddress() common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000000000aa")
}

// fakeDFCClient implements clients.DFCClient in memory.
type fakeDFCClient struct {
	mu sync.Mutex

	txs           map[string]*clients.DFCTransaction
	height        uint64
	balances      map[string]decimal.Decimal
	tokenBalances map[string]map[string]decimal.Decimal
	history       map[string][]clients.AddressTransaction
	derived       map[uint64]string
	invalidAddrs  map[string]bool

	craftCalls     int
	lastSpec       clients.TransferSpec
	broadcastCalls int
	broadcastErrs  []error // consumed per call, nil entry = success
	nextTxID       string

	// Artificial latencies, to widen race windows in concurrency tests.
	validateDelay time.Duration
	craftDelay    time.Duration
}

func newFakeDFCClient() *fakeDFCClient {
	return &fakeDFCClient{
		txs:           make(map[string]*clients.DFCTransaction),
		balances:      make(map[string]decimal.Decimal),
		tokenBalances: make(map[string]map[string]decimal.Decimal),
		history:       make(map[string][]clients.AddressTransaction),
		derived:       make(map[uint64]string),
		invalidAddrs:  make(map[string]bool),
		nextTxID:      "dfc-send-1",
	}
}

func (f *fakeDFCClient) GetTransaction(_ context.Context, txID string) (*clients.DFCTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txID]
	if !ok {
		return nil, fmt.Errorf("transaction %s not found", txID)
	}
	return tx, nil
}

func (f *fakeDFCClient) GetBlockHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeDFCClient) setHeight(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.height = h
}

func (f *fakeDFCClient) GetBalance(_ context.Context, address string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[address], nil
}

func (f *fakeDFCClient) GetTokenBalances(_ context.Context, address string) (map[string]decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenBalances[address], nil
}

func (f *fakeDFCClient) ListTransactions(_ context.Context, address string) ([]clients.AddressTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[address], nil
}

func (f *fakeDFCClient) CraftTransfer(_ context.Context, spec clients.TransferSpec) (*clients.SignedTransfer, error) {
	f.mu.Lock()
	delay := f.craftDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.craftCalls++
	f.lastSpec = spec
	return &clients.SignedTransfer{TxID: f.nextTxID, Hex: "deadbeef"}, nil
}

func (f *fakeDFCClient) Broadcast(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.broadcastCalls
	f.broadcastCalls++
	if call < len(f.broadcastErrs) && f.broadcastErrs[call] != nil {
		return "", f.broadcastErrs[call]
	}
	return f.nextTxID, nil
}

func (f *fakeDFCClient) DeriveAddress(_ context.Context, index uint64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if address, ok := f.derived[index]; ok {
		return address, nil
	}
	return fmt.Sprintf("df1-derived-%d", index), nil
}

func (f *fakeDFCClient) ValidateAddress(_ context.Context, address string) (bool, error) {
	f.mu.Lock()
	delay := f.validateDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.invalidAddrs[address], nil
}

// memDepositRepo is an in-memory repository.DepositRepository.
type memDepositRepo struct {
	mu      sync.Mutex
	records map[string]*models.DepositRecord
}

func newMemDepositRepo() *memDepositRepo {
	return &memDepositRepo{records: make(map[string]*models.DepositRecord)}
}

func (r *memDepositRepo) GetOrCreate(_ context.Context, record *models.DepositRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[record.TransactionHash]; ok {
		*record = *existing
		return false, nil
	}
	record.CreatedAt = time.Now()
	stored := *record
	r.records[record.TransactionHash] = &stored
	return true, nil
}

func (r *memDepositRepo) Get(_ context.Context, txHash string) (*models.DepositRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[txHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *memDepositRepo) MarkConfirmed(_ context.Context, txHash, tokenSymbol, amount string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[txHash]
	if !ok {
		return repository.ErrNotFound
	}
	record.Status = models.ConfirmationStatusConfirmed
	record.TokenSymbol = tokenSymbol
	record.Amount = amount
	record.UpdatedAt = time.Now()
	return nil
}

func (r *memDepositRepo) SetUnconfirmedSend(_ context.Context, txHash, sendTxHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[txHash]
	if !ok || record.UnconfirmedSendTransactionHash != "" || record.SendTransactionHash != "" {
		return repository.ErrNotFound
	}
	record.UnconfirmedSendTransactionHash = sendTxHash
	return nil
}

func (r *memDepositRepo) PromoteSend(_ context.Context, txHash, blockHash string, blockHeight uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[txHash]
	if !ok || record.UnconfirmedSendTransactionHash == "" || record.SendTransactionHash != "" {
		return repository.ErrNotFound
	}
	record.SendTransactionHash = record.UnconfirmedSendTransactionHash
	record.BlockHash = blockHash
	record.BlockHeight = &blockHeight
	return nil
}

func (r *memDepositRepo) DailyStats(context.Context, time.Time) ([]repository.TokenStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, record := range r.records {
		if record.Status == models.ConfirmationStatusConfirmed {
			counts[record.TokenSymbol]++
		}
	}
	var stats []repository.TokenStat
	for symbol, count := range counts {
		stats = append(stats, repository.TokenStat{TokenSymbol: symbol, Count: count})
	}
	return stats, nil
}

// memQueueRepo is an in-memory repository.QueueRepository.
type memQueueRepo struct {
	mu      sync.Mutex
	entries map[string]*models.QueueEntry
	admins  map[string]*models.AdminQueueEntry
}

func newMemQueueRepo() *memQueueRepo {
	return &memQueueRepo{
		entries: make(map[string]*models.QueueEntry),
		admins:  make(map[string]*models.AdminQueueEntry),
	}
}

func (r *memQueueRepo) GetOrCreate(_ context.Context, entry *models.QueueEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries[entry.TransactionHash]; ok {
		*entry = *existing
		return false, nil
	}
	entry.CreatedAt = time.Now()
	stored := *entry
	r.entries[entry.TransactionHash] = &stored
	return true, nil
}

func (r *memQueueRepo) Get(_ context.Context, txHash string) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[txHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *entry
	if admin, ok := r.admins[txHash]; ok {
		adminCopy := *admin
		copied.AdminQueueEntry = &adminCopy
	}
	return &copied, nil
}

func (r *memQueueRepo) TransitionStatus(_ context.Context, txHash string, from []models.QueueStatus, to models.QueueStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[txHash]
	if !ok {
		return false, nil
	}
	for _, status := range from {
		if entry.Status == status {
			entry.Status = to
			entry.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *memQueueRepo) MarkEthereumConfirmed(_ context.Context, txHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[txHash]
	if !ok {
		return repository.ErrNotFound
	}
	entry.EthereumStatus = models.ConfirmationStatusConfirmed
	return nil
}

func (r *memQueueRepo) EnsureAdminEntry(_ context.Context, entry *models.AdminQueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.admins[entry.QueueTransactionHash]; ok {
		return nil
	}
	stored := *entry
	r.admins[entry.QueueTransactionHash] = &stored
	return nil
}

func (r *memQueueRepo) GetAdminEntry(_ context.Context, txHash string) (*models.AdminQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	admin, ok := r.admins[txHash]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *admin
	return &copied, nil
}

func (r *memQueueRepo) SetAdminSend(_ context.Context, txHash, sendTxHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	admin, ok := r.admins[txHash]
	if !ok || admin.SendTransactionHash != "" {
		return repository.ErrNotFound
	}
	admin.SendTransactionHash = sendTxHash
	return nil
}

func (r *memQueueRepo) MarkAdminConfirmed(_ context.Context, txHash, blockHash string, blockHeight uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	admin, ok := r.admins[txHash]
	if !ok {
		return repository.ErrNotFound
	}
	admin.DefichainStatus = models.ConfirmationStatusConfirmed
	admin.BlockHash = blockHash
	admin.BlockHeight = &blockHeight
	return nil
}

// memAddressRepo is an in-memory repository.AddressRepository.
type memAddressRepo struct {
	mu   sync.Mutex
	rows map[string]*models.DerivedAddress
	fail bool // force AttachClaim to fail, for commit-point tests
}

func newMemAddressRepo() *memAddressRepo {
	return &memAddressRepo{rows: make(map[string]*models.DerivedAddress)}
}

func (r *memAddressRepo) Create(_ context.Context, address *models.DerivedAddress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[address.Address]; ok {
		return fmt.Errorf("duplicate address %s", address.Address)
	}
	address.CreatedAt = time.Now()
	stored := *address
	r.rows[address.Address] = &stored
	return nil
}

func (r *memAddressRepo) GetByAddress(_ context.Context, address string) (*models.DerivedAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[address]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *row
	return &copied, nil
}

func (r *memAddressRepo) NextIndex(_ context.Context, hotWalletAddress string, floor uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := floor
	for _, row := range r.rows {
		if row.HotWalletAddress == hotWalletAddress && row.Index >= next {
			next = row.Index + 1
		}
	}
	return next, nil
}

func (r *memAddressRepo) AttachClaim(_ context.Context, address string, claim repository.ClaimData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return fmt.Errorf("storage unavailable")
	}
	row, ok := r.rows[address]
	if !ok {
		return repository.ErrNotFound
	}
	if row.ClaimSignature != "" {
		return repository.ErrClaimExists
	}
	row.ClaimSignature = claim.Signature
	row.ClaimNonce = &claim.Nonce
	row.ClaimDeadline = &claim.Deadline
	row.ClaimAmount = claim.Amount
	row.TokenSymbol = claim.TokenSymbol
	row.EthReceiverAddress = claim.EthReceiverAddress
	return nil
}

func (r *memAddressRepo) MarkDustSent(_ context.Context, address string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[address]
	if !ok {
		return false, repository.ErrNotFound
	}
	if row.DustSentAt != nil {
		return false, nil
	}
	row.DustSentAt = &at
	return true, nil
}

func (r *memAddressRepo) dustSent(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[address]
	return ok && row.DustSentAt != nil
}
