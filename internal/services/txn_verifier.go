package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ContractKind selects which bridge contract a transaction is verified
// against.
type ContractKind string

const (
	ContractInstant ContractKind = "instant"
	ContractQueued  ContractKind = "queued"
)

// bridgeEntryPoint is the only function users may call to bridge funds out.
// Both the instant and the queued contract expose the same signature.
const bridgeEntryPoint = "bridgeToDeFiChain"

const bridgeABI = `[
	{"name":"bridgeToDeFiChain","type":"function","stateMutability":"payable","inputs":[
		{"name":"_defiAddress","type":"bytes"},
		{"name":"_tokenAddress","type":"address"},
		{"name":"_amount","type":"uint256"}
	],"outputs":[]}
]`

// DecodedDeposit is the successfully verified and decoded bridge call.
type DecodedDeposit struct {
	DefiAddress  string
	TokenAddress common.Address
	Amount       *big.Int
	BlockHeight  uint64
	BlockHash    common.Hash
}

// TxnVerifier checks an EVM transaction against the known bridge contract.
// Results are intentionally never cached: a receipt can move from pending to
// final (or vanish in a reorg) between calls, so every downstream operation
// re-runs the check.
type TxnVerifier struct {
	evm    clients.EVMClient
	cfg    *config.EthereumConfig
	abi    abi.ABI
	logger *logrus.Logger
}

// NewTxnVerifier parses the embedded bridge ABI. The ABI is a constant, so a
// parse failure is a programming error and panics at startup.
func NewTxnVerifier(evm clients.EVMClient, cfg *config.EthereumConfig, logger *logrus.Logger) *TxnVerifier {
	parsed, err := abi.JSON(strings.NewReader(bridgeABI))
	if err != nil {
		panic(fmt.Sprintf("bridge abi: %v", err))
	}
	return &TxnVerifier{evm: evm, cfg: cfg, abi: parsed, logger: logger}
}

// Verify runs the full check sequence: decode, receipt presence, contract
// address, revert status, deployment checkpoint. Success returns the decoded
// call parameters and the confirming block.
func (v *TxnVerifier) Verify(ctx context.Context, txHash common.Hash, kind ContractKind) (*DecodedDeposit, error) {
	contract := v.contractFor(kind)

	tx, _, err := v.evm.TransactionByHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("verify %s: %w", txHash.Hex(), ErrPendingTransaction)
		}
		return nil, fmt.Errorf("verify %s: fetch transaction: %w", txHash.Hex(), err)
	}

	decoded, err := v.decodeCall(tx.Data())
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", txHash.Hex(), err)
	}

	receipt, err := v.evm.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("verify %s: %w", txHash.Hex(), ErrPendingTransaction)
		}
		return nil, fmt.Errorf("verify %s: fetch receipt: %w", txHash.Hex(), err)
	}

	if tx.To() == nil || *tx.To() != common.HexToAddress(contract.Address) {
		return nil, fmt.Errorf("verify %s: %w", txHash.Hex(), ErrWrongContract)
	}
	if receipt.Status == 0 {
		return nil, fmt.Errorf("verify %s: %w", txHash.Hex(), ErrReverted)
	}

	height := receipt.BlockNumber.Uint64()
	if height < contract.DeploymentBlock ||
		(height == contract.DeploymentBlock && receipt.TransactionIndex <= contract.DeploymentTxIndex) {
		return nil, fmt.Errorf("verify %s: %w", txHash.Hex(), ErrBeforeDeployment)
	}

	decoded.BlockHeight = height
	decoded.BlockHash = receipt.BlockHash

	v.logger.WithFields(logrus.Fields{
		"op":      "txn_verify",
		"tx_hash": txHash.Hex(),
		"kind":    string(kind),
		"height":  height,
	}).Debug("bridge transaction verified")

	return decoded, nil
}

func (v *TxnVerifier) contractFor(kind ContractKind) config.ContractConfig {
	if kind == ContractQueued {
		return v.cfg.Queue
	}
	return v.cfg.Bridge
}

// decodeCall decodes the call data and asserts the method is exactly the
// bridge entry point. A selector collision or a lookalike function on a shell
// contract fails here, before any state is touched.
func (v *TxnVerifier) decodeCall(data []byte) (*DecodedDeposit, error) {
	if len(data) < 4 {
		return nil, ErrInvalidSignature
	}
	method, err := v.abi.MethodById(data[:4])
	if err != nil || method.Name != bridgeEntryPoint {
		return nil, ErrInvalidSignature
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 3 {
		return nil, ErrInvalidSignature
	}

	defiAddress, ok := args[0].([]byte)
	if !ok {
		return nil, ErrInvalidSignature
	}
	tokenAddress, ok := args[1].(common.Address)
	if !ok {
		return nil, ErrInvalidSignature
	}
	amount, ok := args[2].(*big.Int)
	if !ok {
		return nil, ErrInvalidSignature
	}

	return &DecodedDeposit{
		DefiAddress:  string(defiAddress),
		TokenAddress: tokenAddress,
		Amount:       amount,
	}, nil
}
