package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full relayer configuration, loaded from YAML with secrets
// taken from the environment. Load fails if any required value is missing so
// a misconfigured relayer never starts half-working.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Database  DatabaseConfig         `yaml:"database"`
	NATS      NATSConfig             `yaml:"nats"`
	Ethereum  EthereumConfig         `yaml:"ethereum"`
	Defichain DefichainConfig        `yaml:"defichain"`
	Bridge    BridgeConfig           `yaml:"bridge"`
	Tokens    map[string]TokenConfig `yaml:"tokens"`

	// Secrets, environment only. Never serialized.
	OperationalPrivKey string `yaml:"-"`
	AdminJWTSecret     string `yaml:"-"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig message broker configuration. Optional: with an empty URL the
// relayer runs without event publishing.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Timeout       int    `yaml:"timeout"`
	ReconnectWait int    `yaml:"reconnect_wait"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

// EthereumConfig EVM chain configuration
type EthereumConfig struct {
	RPCEndpoint   string         `yaml:"rpcEndpoint"`
	ChainID       int64          `yaml:"chainId"`
	Confirmations uint64         `yaml:"confirmations"` // required depth, e.g. 65
	Bridge        ContractConfig `yaml:"bridge"`        // instant bridge proxy
	Queue         ContractConfig `yaml:"queue"`         // queued bridge proxy
}

// ContractConfig identifies a deployed bridge contract and its deployment
// checkpoint. Transactions at or before the checkpoint are rejected outright.
type ContractConfig struct {
	Address           string `yaml:"address"`
	DeploymentBlock   uint64 `yaml:"deploymentBlock"`
	DeploymentTxIndex uint   `yaml:"deploymentTxIndex"`
}

// DefichainConfig DFC chain configuration
type DefichainConfig struct {
	OceanURL          string `yaml:"oceanUrl"`          // indexer/wallet node endpoint
	Network           string `yaml:"network"`           // mainnet | testnet | regtest
	Confirmations     uint64 `yaml:"confirmations"`     // required depth, e.g. 35
	DustAmount        string `yaml:"dustAmount"`        // DFI sent to fresh addresses
	ReservedLiquidity string `yaml:"reservedLiquidity"` // DFI kept unspendable
	WalletStartIndex  uint64 `yaml:"walletStartIndex"`  // first derivable HD index
	HotWalletAddress  string `yaml:"hotWalletAddress"`
}

// BridgeConfig cross-cutting bridge policy
type BridgeConfig struct {
	FeeRate          float64       `yaml:"feeRate"`          // e.g. 0.003
	ClaimValidity    time.Duration `yaml:"claimValidity"`    // EIP-712 deadline window
	QueueHorizon     time.Duration `yaml:"queueHorizon"`     // refund eligibility window
	BroadcastRetries int           `yaml:"broadcastRetries"` // DFC broadcast attempts
}

// TokenConfig per-token bridging policy, keyed by the DFC-native symbol.
type TokenConfig struct {
	EVMAddress     string `yaml:"evmAddress"` // zero address for the native asset
	Decimals       uint8  `yaml:"decimals"`
	DFCTokenID     int    `yaml:"dfcTokenId"` // -1 for UTXO DFI
	WrappedSymbol  string `yaml:"wrappedSymbol"`
	MinQueueAmount string `yaml:"minQueueAmount"`
}

const (
	envOperationalKey = "BRIDGE_OPERATIONAL_KEY"
	envAdminJWTSecret = "BRIDGE_ADMIN_JWT_SECRET"
)

// Load reads the YAML file at path, overlays secrets from the environment and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.OperationalPrivKey = os.Getenv(envOperationalKey)
	cfg.AdminJWTSecret = os.Getenv(envAdminJWTSecret)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Bridge.ClaimValidity == 0 {
		c.Bridge.ClaimValidity = 24 * time.Hour
	}
	if c.Bridge.QueueHorizon == 0 {
		c.Bridge.QueueHorizon = 72 * time.Hour
	}
	if c.Bridge.BroadcastRetries == 0 {
		c.Bridge.BroadcastRetries = 3
	}
	if c.Defichain.WalletStartIndex == 0 {
		c.Defichain.WalletStartIndex = 2
	}
}

// Validate collects every missing required field so operators see the whole
// problem at once instead of fixing one field per restart.
func (c *Config) Validate() error {
	var missing []string

	require := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}

	require(c.Database.DSN != "", "database.dsn")
	require(c.Ethereum.RPCEndpoint != "", "ethereum.rpcEndpoint")
	require(c.Ethereum.ChainID != 0, "ethereum.chainId")
	require(c.Ethereum.Confirmations != 0, "ethereum.confirmations")
	require(c.Ethereum.Bridge.Address != "", "ethereum.bridge.address")
	require(c.Ethereum.Bridge.DeploymentBlock != 0, "ethereum.bridge.deploymentBlock")
	require(c.Ethereum.Queue.Address != "", "ethereum.queue.address")
	require(c.Ethereum.Queue.DeploymentBlock != 0, "ethereum.queue.deploymentBlock")
	require(c.Defichain.OceanURL != "", "defichain.oceanUrl")
	require(c.Defichain.Network != "", "defichain.network")
	require(c.Defichain.Confirmations != 0, "defichain.confirmations")
	require(c.Defichain.DustAmount != "", "defichain.dustAmount")
	require(c.Defichain.ReservedLiquidity != "", "defichain.reservedLiquidity")
	require(c.Defichain.HotWalletAddress != "", "defichain.hotWalletAddress")
	require(c.Bridge.FeeRate >= 0 && c.Bridge.FeeRate < 1, "bridge.feeRate")
	require(len(c.Tokens) > 0, "tokens")
	require(c.OperationalPrivKey != "", envOperationalKey+" (env)")
	require(c.AdminJWTSecret != "", envAdminJWTSecret+" (env)")

	for symbol, token := range c.Tokens {
		if token.EVMAddress == "" {
			missing = append(missing, fmt.Sprintf("tokens.%s.evmAddress", symbol))
		}
		if token.MinQueueAmount == "" {
			missing = append(missing, fmt.Sprintf("tokens.%s.minQueueAmount", symbol))
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("config: missing required values: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TokenBySymbol resolves a native or wrapped token symbol to its config.
func (c *Config) TokenBySymbol(symbol string) (string, TokenConfig, bool) {
	if token, ok := c.Tokens[symbol]; ok {
		return symbol, token, true
	}
	for native, token := range c.Tokens {
		if token.WrappedSymbol == symbol {
			return native, token, true
		}
	}
	return "", TokenConfig{}, false
}

// TokenByEVMAddress resolves an EVM token contract address (zero address for
// the native asset) to its configured token.
func (c *Config) TokenByEVMAddress(address string) (string, TokenConfig, bool) {
	for symbol, token := range c.Tokens {
		if strings.EqualFold(token.EVMAddress, address) {
			return symbol, token, true
		}
	}
	return "", TokenConfig{}, false
}

// SupportedSymbols returns the configured native token symbols.
func (c *Config) SupportedSymbols() []string {
	symbols := make([]string, 0, len(c.Tokens))
	for symbol := range c.Tokens {
		symbols = append(symbols, symbol)
	}
	return symbols
}
