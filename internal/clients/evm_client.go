package clients

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EVMClient is the read/sign gateway to the EVM node used by the core
// services. Implementations must be safe for concurrent use.
type EVMClient interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, address common.Address) (*big.Int, error)

	// Bridge contract reads.
	ClaimNonce(ctx context.Context, contract, receiver common.Address) (*big.Int, error)
	EIP712Domain(ctx context.Context, contract common.Address) (name, version string, err error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)

	// SignTypedData signs an EIP-712 typed struct with the operational key.
	SignTypedData(data apitypes.TypedData) ([]byte, error)
	SignerAddress() common.Address
}

// readABI covers the contract views the relayer needs: the bridge's per-user
// claim nonce, its EIP-5267 domain descriptor and ERC-20 decimals.
const readABI = `[
	{"name":"eoaAddressToNonce","type":"function","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"eip712Domain","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"fields","type":"bytes1"},{"name":"name","type":"string"},{"name":"version","type":"string"},{"name":"chainId","type":"uint256"},{"name":"verifyingContract","type":"address"},{"name":"salt","type":"bytes32"},{"name":"extensions","type":"uint256[]"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// EthereumClient implements EVMClient on top of ethclient.
type EthereumClient struct {
	client  *ethclient.Client
	chainID *big.Int
	privKey *ecdsa.PrivateKey
	address common.Address
	abi     abi.ABI
}

// NewEthereumClient dials the RPC endpoint and loads the operational signing
// key from its hex encoding.
func NewEthereumClient(rpcEndpoint string, chainID int64, privKeyHex string) (*EthereumClient, error) {
	client, err := ethclient.Dial(rpcEndpoint)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}

	privKey, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operational key: %w", err)
	}

	parsed, err := abi.JSON(strings.NewReader(readABI))
	if err != nil {
		return nil, fmt.Errorf("parse read abi: %w", err)
	}

	return &EthereumClient{
		client:  client,
		chainID: big.NewInt(chainID),
		privKey: privKey,
		address: crypto.PubkeyToAddress(privKey.PublicKey),
		abi:     parsed,
	}, nil
}

func (c *EthereumClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	return c.client.TransactionByHash(ctx, hash)
}

func (c *EthereumClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return c.client.TransactionReceipt(ctx, hash)
}

func (c *EthereumClient) BlockNumber(ctx context.Context) (uint64, error) {
	return c.client.BlockNumber(ctx)
}

func (c *EthereumClient) Balance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.client.BalanceAt(ctx, address, nil)
}

func (c *EthereumClient) ClaimNonce(ctx context.Context, contract, receiver common.Address) (*big.Int, error) {
	out, err := c.call(ctx, contract, "eoaAddressToNonce", receiver)
	if err != nil {
		return nil, fmt.Errorf("read claim nonce for %s: %w", receiver.Hex(), err)
	}
	nonce, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("read claim nonce for %s: unexpected output type %T", receiver.Hex(), out[0])
	}
	return nonce, nil
}

func (c *EthereumClient) EIP712Domain(ctx context.Context, contract common.Address) (string, string, error) {
	out, err := c.call(ctx, contract, "eip712Domain")
	if err != nil {
		return "", "", fmt.Errorf("read eip712 domain of %s: %w", contract.Hex(), err)
	}
	name, _ := out[1].(string)
	version, _ := out[2].(string)
	if name == "" || version == "" {
		return "", "", fmt.Errorf("read eip712 domain of %s: empty name or version", contract.Hex())
	}
	return name, version, nil
}

func (c *EthereumClient) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := c.call(ctx, token, "decimals")
	if err != nil {
		return 0, fmt.Errorf("read decimals of %s: %w", token.Hex(), err)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("read decimals of %s: unexpected output type %T", token.Hex(), out[0])
	}
	return decimals, nil
}

// SignTypedData hashes the typed struct per EIP-712 and signs it, normalizing
// the recovery id to the 27/28 convention the contract expects.
func (c *EthereumClient) SignTypedData(data apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := data.HashStruct("EIP712Domain", data.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash eip712 domain: %w", err)
	}
	messageHash, err := data.HashStruct(data.PrimaryType, data.Message)
	if err != nil {
		return nil, fmt.Errorf("hash eip712 message: %w", err)
	}

	digest := crypto.Keccak256(
		[]byte("\x19\x01"),
		domainSeparator,
		messageHash,
	)

	signature, err := crypto.Sign(digest, c.privKey)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	signature[64] += 27
	return signature, nil
}

func (c *EthereumClient) SignerAddress() common.Address {
	return c.address
}

func (c *EthereumClient) call(ctx context.Context, contract common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	output, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	return c.abi.Unpack(method, output)
}
