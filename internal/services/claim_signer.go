package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"bridge-backend/internal/cache"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// SignedClaim authorizes a one-time withdrawal on the EVM bridge contract.
// The contract consumes the nonce on redemption, so a claim is redeemable
// exactly once no matter how often it is handed out.
type SignedClaim struct {
	Signature string `json:"signature"`
	Nonce     uint64 `json:"nonce"`
	Deadline  int64  `json:"deadline"`
}

const (
	nativeDecimals   = 18
	domainCacheTTL   = 24 * time.Hour
	decimalsCacheTTL = 24 * time.Hour
)

// ClaimSigner issues EIP-712 claims with persistence-backed idempotency: the
// first successful signing for a source address is the only one that ever
// exists, and every later request returns it verbatim.
type ClaimSigner struct {
	evm       clients.EVMClient
	addresses repository.AddressRepository
	locks     *cache.KeyedCache
	metrics   *metrics.Metrics
	logger    *logrus.Logger

	contract common.Address
	chainID  int64
	validity time.Duration
}

// NewClaimSigner creates a ClaimSigner bound to the instant bridge contract.
func NewClaimSigner(
	evm clients.EVMClient,
	addresses repository.AddressRepository,
	locks *cache.KeyedCache,
	m *metrics.Metrics,
	logger *logrus.Logger,
	contract common.Address,
	chainID int64,
	validity time.Duration,
) *ClaimSigner {
	return &ClaimSigner{
		evm:       evm,
		addresses: addresses,
		locks:     locks,
		metrics:   m,
		logger:    logger,
		contract:  contract,
		chainID:   chainID,
		validity:  validity,
	}
}

// SignClaim returns the claim for sourceAddress, signing and persisting it on
// first issue. Concurrent calls for the same source address serialize on the
// per-address lock; the persistence write is the commit point, so a failed
// write means no claim was issued.
func (s *ClaimSigner) SignClaim(
	ctx context.Context,
	receiver common.Address,
	tokenAddress common.Address,
	tokenSymbol string,
	amount decimal.Decimal,
	sourceAddress string,
) (*SignedClaim, error) {
	var claim *SignedClaim

	err := s.locks.WithLock(ctx, "claim:"+sourceAddress, func(ctx context.Context) error {
		row, err := s.addresses.GetByAddress(ctx, sourceAddress)
		if err != nil {
			return fmt.Errorf("sign claim for %s: %w", sourceAddress, err)
		}
		if row.HasClaim() {
			claim = &SignedClaim{
				Signature: row.ClaimSignature,
				Nonce:     *row.ClaimNonce,
				Deadline:  *row.ClaimDeadline,
			}
			return nil
		}

		claim, err = s.issue(ctx, receiver, tokenAddress, tokenSymbol, amount, sourceAddress)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claim, nil
}

func (s *ClaimSigner) issue(
	ctx context.Context,
	receiver common.Address,
	tokenAddress common.Address,
	tokenSymbol string,
	amount decimal.Decimal,
	sourceAddress string,
) (*SignedClaim, error) {
	nonce, err := s.evm.ClaimNonce(ctx, s.contract, receiver)
	if err != nil {
		return nil, fmt.Errorf("sign claim for %s: %w", sourceAddress, err)
	}

	name, version, err := s.domain(ctx)
	if err != nil {
		return nil, fmt.Errorf("sign claim for %s: %w", sourceAddress, err)
	}

	onChainAmount, err := s.normalize(ctx, tokenAddress, amount)
	if err != nil {
		return nil, fmt.Errorf("sign claim for %s: %w", sourceAddress, err)
	}

	deadline := time.Now().Add(s.validity).Unix()

	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"CLAIM": {
				{Name: "to", Type: "address"},
				{Name: "amount", Type: "uint256"},
				{Name: "nonce", Type: "uint256"},
				{Name: "deadline", Type: "uint256"},
				{Name: "tokenAddress", Type: "address"},
			},
		},
		PrimaryType: "CLAIM",
		Domain: apitypes.TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainId:           math.NewHexOrDecimal256(s.chainID),
			VerifyingContract: s.contract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":           receiver.Hex(),
			"amount":       onChainAmount.String(),
			"nonce":        nonce.String(),
			"deadline":     new(big.Int).SetInt64(deadline).String(),
			"tokenAddress": tokenAddress.Hex(),
		},
	}

	signature, err := s.evm.SignTypedData(typedData)
	if err != nil {
		return nil, fmt.Errorf("sign claim for %s: %w", sourceAddress, err)
	}

	claim := &SignedClaim{
		Signature: hexutil.Encode(signature),
		Nonce:     nonce.Uint64(),
		Deadline:  deadline,
	}

	err = s.addresses.AttachClaim(ctx, sourceAddress, repository.ClaimData{
		Signature:          claim.Signature,
		Nonce:              claim.Nonce,
		Deadline:           claim.Deadline,
		Amount:             amount.String(),
		TokenSymbol:        tokenSymbol,
		EthReceiverAddress: receiver.Hex(),
	})
	if errors.Is(err, repository.ErrClaimExists) {
		// Lost a race with another writer (for example a second replica).
		// The persisted claim wins; the one signed here is discarded.
		row, readErr := s.addresses.GetByAddress(ctx, sourceAddress)
		if readErr != nil || !row.HasClaim() {
			return nil, fmt.Errorf("sign claim for %s: reread persisted claim: %w", sourceAddress, readErr)
		}
		return &SignedClaim{
			Signature: row.ClaimSignature,
			Nonce:     *row.ClaimNonce,
			Deadline:  *row.ClaimDeadline,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sign claim for %s: persist: %w", sourceAddress, err)
	}

	s.metrics.ClaimsSigned.Inc()
	s.logger.WithFields(logrus.Fields{
		"op":       "claim_sign",
		"address":  sourceAddress,
		"receiver": receiver.Hex(),
		"token":    tokenSymbol,
		"nonce":    claim.Nonce,
	}).Info("claim signed")

	return claim, nil
}

// domain reads the contract's EIP-712 name/version, cached for the process
// lifetime since they are immutable on chain.
func (s *ClaimSigner) domain(ctx context.Context) (string, string, error) {
	value, err := s.locks.Get(ctx, "eip712:"+s.contract.Hex(), domainCacheTTL, func(ctx context.Context) (interface{}, error) {
		name, version, err := s.evm.EIP712Domain(ctx, s.contract)
		if err != nil {
			return nil, err
		}
		return [2]string{name, version}, nil
	})
	if err != nil {
		return "", "", err
	}
	pair := value.([2]string)
	return pair[0], pair[1], nil
}

// normalize converts a DFC-side decimal amount to the token's on-chain
// integer units: 18 decimals for the native asset, the ERC-20's own decimals
// otherwise.
func (s *ClaimSigner) normalize(ctx context.Context, tokenAddress common.Address, amount decimal.Decimal) (*big.Int, error) {
	decimals := uint8(nativeDecimals)
	if tokenAddress != (common.Address{}) {
		value, err := s.locks.Get(ctx, "decimals:"+tokenAddress.Hex(), decimalsCacheTTL, func(ctx context.Context) (interface{}, error) {
			return s.evm.TokenDecimals(ctx, tokenAddress)
		})
		if err != nil {
			return nil, err
		}
		decimals = value.(uint8)
	}
	return amount.Shift(int32(decimals)).BigInt(), nil
}
