package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DFCTransaction is a transaction as reported by the DFC indexer, with the
// block that confirmed it (zero height while still in the mempool).
type DFCTransaction struct {
	ID          string `json:"id"`
	BlockHash   string `json:"blockHash"`
	BlockHeight uint64 `json:"blockHeight"`
}

// AddressTransaction is one entry of an address's transfer history. Value is
// positive for funds received by the address.
type AddressTransaction struct {
	TxID        string          `json:"txid"`
	TokenSymbol string          `json:"tokenSymbol"`
	Value       decimal.Decimal `json:"value"`
	BlockHeight uint64          `json:"blockHeight"`
}

// TransferSpec describes an outbound transfer for the wallet node to craft
// and sign. TokenID -1 selects a native UTXO spend.
type TransferSpec struct {
	To      string          `json:"to"`
	Symbol  string          `json:"symbol"`
	TokenID int             `json:"tokenId"`
	Amount  decimal.Decimal `json:"amount"`
}

// SignedTransfer is a crafted, signed, not yet broadcast transaction.
type SignedTransfer struct {
	TxID string `json:"txid"`
	Hex  string `json:"hex"`
}

// DFCClient is the gateway to the DFC indexer/wallet node. Implementations
// must be safe for concurrent use.
type DFCClient interface {
	GetTransaction(ctx context.Context, txID string) (*DFCTransaction, error)
	GetBlockHeight(ctx context.Context) (uint64, error)

	// GetBalance returns the spendable native (UTXO) balance of an address.
	GetBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// GetTokenBalances returns the dToken balances of an address by symbol.
	GetTokenBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error)
	ListTransactions(ctx context.Context, address string) ([]AddressTransaction, error)

	CraftTransfer(ctx context.Context, spec TransferSpec) (*SignedTransfer, error)
	Broadcast(ctx context.Context, rawHex string) (string, error)

	// DeriveAddress derives the hot wallet's HD address at index. The
	// mnemonic never leaves the wallet node.
	DeriveAddress(ctx context.Context, index uint64) (string, error)

	// ValidateAddress checks an address against the configured network.
	ValidateAddress(ctx context.Context, address string) (bool, error)
}

// OceanClient implements DFCClient against an Ocean-style indexer with a
// co-located wallet endpoint.
type OceanClient struct {
	baseURL    string
	network    string
	httpClient *http.Client
}

// NewOceanClient creates a DFC client for the given indexer endpoint and
// network (mainnet, testnet or regtest).
func NewOceanClient(baseURL, network string) *OceanClient {
	return &OceanClient{
		baseURL: baseURL,
		network: network,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// envelope is the Ocean response wrapper.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *OceanClient) GetTransaction(ctx context.Context, txID string) (*DFCTransaction, error) {
	var tx DFCTransaction
	if err := c.get(ctx, fmt.Sprintf("/v0/%s/transactions/%s", c.network, txID), &tx); err != nil {
		return nil, fmt.Errorf("get dfc transaction %s: %w", txID, err)
	}
	return &tx, nil
}

func (c *OceanClient) GetBlockHeight(ctx context.Context) (uint64, error) {
	var stats struct {
		Count struct {
			Blocks uint64 `json:"blocks"`
		} `json:"count"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v0/%s/stats", c.network), &stats); err != nil {
		return 0, fmt.Errorf("get dfc block height: %w", err)
	}
	return stats.Count.Blocks, nil
}

func (c *OceanClient) GetBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := c.get(ctx, fmt.Sprintf("/v0/%s/address/%s/balance", c.network, address), &balance); err != nil {
		return decimal.Zero, fmt.Errorf("get balance of %s: %w", address, err)
	}
	return balance, nil
}

func (c *OceanClient) GetTokenBalances(ctx context.Context, address string) (map[string]decimal.Decimal, error) {
	var tokens []struct {
		Symbol string          `json:"symbol"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v0/%s/address/%s/tokens", c.network, address), &tokens); err != nil {
		return nil, fmt.Errorf("get token balances of %s: %w", address, err)
	}
	balances := make(map[string]decimal.Decimal, len(tokens))
	for _, token := range tokens {
		balances[token.Symbol] = token.Amount
	}
	return balances, nil
}

func (c *OceanClient) ListTransactions(ctx context.Context, address string) ([]AddressTransaction, error) {
	var txs []AddressTransaction
	if err := c.get(ctx, fmt.Sprintf("/v0/%s/address/%s/transactions", c.network, address), &txs); err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", address, err)
	}
	return txs, nil
}

func (c *OceanClient) CraftTransfer(ctx context.Context, spec TransferSpec) (*SignedTransfer, error) {
	var signed SignedTransfer
	if err := c.post(ctx, fmt.Sprintf("/v0/%s/wallet/transfers", c.network), spec, &signed); err != nil {
		return nil, fmt.Errorf("craft transfer to %s: %w", spec.To, err)
	}
	return &signed, nil
}

func (c *OceanClient) Broadcast(ctx context.Context, rawHex string) (string, error) {
	var txID string
	body := map[string]string{"hex": rawHex}
	if err := c.post(ctx, fmt.Sprintf("/v0/%s/rawtx/send", c.network), body, &txID); err != nil {
		return "", fmt.Errorf("broadcast raw transaction: %w", err)
	}
	return txID, nil
}

func (c *OceanClient) DeriveAddress(ctx context.Context, index uint64) (string, error) {
	var address string
	body := map[string]uint64{"index": index}
	if err := c.post(ctx, fmt.Sprintf("/v0/%s/wallet/derive", c.network), body, &address); err != nil {
		return "", fmt.Errorf("derive address at index %d: %w", index, err)
	}
	return address, nil
}

func (c *OceanClient) ValidateAddress(ctx context.Context, address string) (bool, error) {
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v0/%s/address/%s/validate", c.network, address), &result); err != nil {
		return false, fmt.Errorf("validate address %s: %w", address, err)
	}
	return result.Valid, nil
}

func (c *OceanClient) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *OceanClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *OceanClient) do(req *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		return fmt.Errorf("node error %d: %s", env.Error.Code, env.Error.Message)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode response data: %w", err)
		}
	}
	return nil
}
