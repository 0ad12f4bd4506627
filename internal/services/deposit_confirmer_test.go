package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"bridge-backend/internal/cache"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/models"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Ethereum: *testEthConfig(),
		Defichain: config.DefichainConfig{
			OceanURL:          "http://localhost:3000",
			Network:           "regtest",
			Confirmations:     35,
			DustAmount:        "0.001",
			ReservedLiquidity: "10",
			WalletStartIndex:  2,
			HotWalletAddress:  "df1q-hot",
		},
		Bridge: config.BridgeConfig{
			FeeRate:          0.003,
			ClaimValidity:    24 * time.Hour,
			QueueHorizon:     72 * time.Hour,
			BroadcastRetries: 3,
		},
		Tokens: map[string]config.TokenConfig{
			"DFI": {
				EVMAddress:     common.Address{}.Hex(),
				Decimals:       18,
				DFCTokenID:     -1,
				WrappedSymbol:  "wDFI",
				MinQueueAmount: "1",
			},
			"USDC": {
				EVMAddress:     usdcToken.Hex(),
				Decimals:       6,
				DFCTokenID:     3,
				WrappedSymbol:  "dUSDC",
				MinQueueAmount: "5",
			},
		},
	}
}

type confirmerFixture struct {
	confirmer *DepositConfirmer
	evm       *fakeEVMClient
	dfc       *fakeDFCClient
	deposits  *memDepositRepo
}

func newConfirmerFixture() *confirmerFixture {
	cfg := testConfig()
	evm := newFakeEVMClient()
	dfc := newFakeDFCClient()
	deposits := newMemDepositRepo()
	m := metrics.New()
	logger := testLogger()

	verifier := NewTxnVerifier(evm, &cfg.Ethereum, logger)
	tracker := NewConfirmationTracker(evm, dfc, cfg.Ethereum.Confirmations, cfg.Defichain.Confirmations)
	sender := NewOutboundSender(dfc, m, logger, cfg.Defichain.HotWalletAddress,
		decimal.RequireFromString(cfg.Defichain.ReservedLiquidity), cfg.Bridge.BroadcastRetries)

	return &confirmerFixture{
		confirmer: NewDepositConfirmer(verifier, tracker, sender, deposits, cache.New(), cfg, nil, m, logger),
		evm:       evm,
		dfc:       dfc,
		deposits:  deposits,
	}
}

func (f *confirmerFixture) seedDeposit(t *testing.T, hash common.Hash, amount *big.Int) {
	t.Helper()
	f.evm.addTx(hash, instantContract,
		packBridgeCall(t, "df1q-user-destination", usdcToken, amount),
		successReceipt(100, 0))
}

func TestConfirmCreatesRecordAndTracksDepth(t *testing.T) {
	f := newConfirmerFixture()
	hash := common.HexToHash("0xcc01")
	f.seedDeposit(t, hash, big.NewInt(100_000_000)) // 100 USDC
	f.evm.setHeight(110)

	result, err := f.confirmer.Confirm(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), result.NumberOfConfirmations)
	assert.False(t, result.IsConfirmed)

	record, err := f.deposits.Get(context.Background(), hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmationStatusNotConfirmed, record.Status)

	// 65 confirmations reached: record flips exactly once.
	f.evm.setHeight(165)
	result, err = f.confirmer.Confirm(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, result.IsConfirmed)

	record, err = f.deposits.Get(context.Background(), hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, models.ConfirmationStatusConfirmed, record.Status)
	assert.Equal(t, "USDC", record.TokenSymbol)
	assert.Equal(t, "100000000", record.Amount)
}

func TestAllocateLifecycle(t *testing.T) {
	f := newConfirmerFixture()
	hash := common.HexToHash("0xcc02")
	f.seedDeposit(t, hash, big.NewInt(100_000_000))
	f.evm.setHeight(110)

	_, err := f.confirmer.Confirm(context.Background(), hash)
	require.NoError(t, err)

	// Before 65 confirmations the allocation is refused.
	_, err = f.confirmer.AllocateFund(context.Background(), hash)
	assert.ErrorIs(t, err, ErrNotConfirmed)

	f.evm.setHeight(165)
	_, err = f.confirmer.Confirm(context.Background(), hash)
	require.NoError(t, err)

	// First allocation broadcasts the outbound send, fee deducted.
	result, err := f.confirmer.AllocateFund(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "dfc-send-1", result.SendTxID)
	assert.False(t, result.IsConfirmed)
	assert.Equal(t, "99.7", f.dfc.lastSpec.Amount.String())
	assert.Equal(t, "df1q-user-destination", f.dfc.lastSpec.To)

	// While the send sits in the mempool, allocation is a cheap poll.
	f.dfc.txs["dfc-send-1"] = &clients.DFCTransaction{ID: "dfc-send-1"}
	result, err = f.confirmer.AllocateFund(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, "dfc-send-1", result.SendTxID)
	assert.False(t, result.IsConfirmed)
	assert.Equal(t, 1, f.dfc.craftCalls)

	// 35 DFC confirmations: the hash is promoted to final.
	f.dfc.txs["dfc-send-1"] = &clients.DFCTransaction{ID: "dfc-send-1", BlockHeight: 570, BlockHash: "dfc-block"}
	f.dfc.setHeight(605)
	result, err = f.confirmer.AllocateFund(context.Background(), hash)
	require.NoError(t, err)
	assert.True(t, result.IsConfirmed)
	assert.Equal(t, uint64(35), result.NumberOfConfirmations)

	record, err := f.deposits.Get(context.Background(), hash.Hex())
	require.NoError(t, err)
	assert.Equal(t, "dfc-send-1", record.SendTransactionHash)
	assert.Equal(t, "dfc-block", record.BlockHash)

	// Allocation is permanently closed.
	_, err = f.confirmer.AllocateFund(context.Background(), hash)
	assert.ErrorIs(t, err, ErrAlreadyAllocated)
}

func TestAllocateConcurrentCallsSendOnce(t *testing.T) {
	f := newConfirmerFixture()
	hash := common.HexToHash("0xcc05")
	f.seedDeposit(t, hash, big.NewInt(100_000_000))
	f.evm.setHeight(165)
	_, err := f.confirmer.Confirm(context.Background(), hash)
	require.NoError(t, err)

	// Slow destination validation widens the window between the send-hash
	// check and the broadcast; late callers must land on the poll path, so
	// their send is already visible as a mempool transaction.
	f.dfc.validateDelay = 50 * time.Millisecond
	f.dfc.txs["dfc-send-1"] = &clients.DFCTransaction{ID: "dfc-send-1"}

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*AllocationResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.confirmer.AllocateFund(context.Background(), hash)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "dfc-send-1", results[i].SendTxID)
	}

	f.dfc.mu.Lock()
	defer f.dfc.mu.Unlock()
	assert.Equal(t, 1, f.dfc.craftCalls)
	assert.Equal(t, 1, f.dfc.broadcastCalls)
}

func TestAllocateRejectsInvalidDestination(t *testing.T) {
	f := newConfirmerFixture()
	hash := common.HexToHash("0xcc03")
	f.seedDeposit(t, hash, big.NewInt(1_000_000))
	f.evm.setHeight(165)
	f.dfc.invalidAddrs["df1q-user-destination"] = true

	_, err := f.confirmer.Confirm(context.Background(), hash)
	require.NoError(t, err)
	_, err = f.confirmer.AllocateFund(context.Background(), hash)
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestAllocateUnknownDeposit(t *testing.T) {
	f := newConfirmerFixture()
	_, err := f.confirmer.AllocateFund(context.Background(), common.HexToHash("0xcc04"))
	assert.Error(t, err)
}

func TestApplyFeeClampsAtZero(t *testing.T) {
	assert.Equal(t, "99.7", applyFee(decimal.RequireFromString("100"), 0.003).String())
	assert.Equal(t, "0", applyFee(decimal.Zero, 0.003).String())
}
