package app

import (
	"fmt"
	"time"

	"bridge-backend/internal/cache"
	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/events"
	"bridge-backend/internal/handlers"
	"bridge-backend/internal/metrics"
	"bridge-backend/internal/middleware"
	"bridge-backend/internal/models"
	"bridge-backend/internal/repository"
	"bridge-backend/internal/router"
	"bridge-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ServiceContainer wires every layer of the relayer. Construction order is
// clients, repositories, core services, transport.
type ServiceContainer struct {
	Config *config.Config
	DB     *gorm.DB
	Logger *logrus.Logger

	EVMClient clients.EVMClient
	DFCClient clients.DFCClient

	DepositRepo repository.DepositRepository
	QueueRepo   repository.QueueRepository
	AddressRepo repository.AddressRepository

	Cache   *cache.KeyedCache
	Metrics *metrics.Metrics
	Events  *events.Publisher

	TxnVerifier         *services.TxnVerifier
	ConfirmationTracker *services.ConfirmationTracker
	ClaimSigner         *services.ClaimSigner
	OutboundSender      *services.OutboundSender
	DepositConfirmer    *services.DepositConfirmer
	AddressVerifier     *services.AddressVerifier
	QueueCoordinator    *services.QueueCoordinator
	WalletService       *services.WalletService
	StatsService        *services.StatsService

	Router *gin.Engine
}

// NewContainer builds the full dependency graph from config.
func NewContainer(cfg *config.Config, logger *logrus.Logger) (*ServiceContainer, error) {
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&models.DepositRecord{},
		&models.QueueEntry{},
		&models.AdminQueueEntry{},
		&models.DerivedAddress{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	evmClient, err := clients.NewEthereumClient(cfg.Ethereum.RPCEndpoint, cfg.Ethereum.ChainID, cfg.OperationalPrivKey)
	if err != nil {
		return nil, err
	}
	dfcClient := clients.NewOceanClient(cfg.Defichain.OceanURL, cfg.Defichain.Network)

	publisher, err := events.Connect(
		cfg.NATS.URL,
		time.Duration(cfg.NATS.ReconnectWait)*time.Second,
		cfg.NATS.MaxReconnects,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	c := &ServiceContainer{
		Config:    cfg,
		DB:        db,
		Logger:    logger,
		EVMClient: evmClient,
		DFCClient: dfcClient,
		Cache:     cache.New(),
		Metrics:   metrics.New(),
		Events:    publisher,

		DepositRepo: repository.NewDepositRepository(db),
		QueueRepo:   repository.NewQueueRepository(db),
		AddressRepo: repository.NewAddressRepository(db),
	}

	if err := c.initServices(); err != nil {
		return nil, err
	}
	c.initRouter()
	return c, nil
}

func (c *ServiceContainer) initServices() error {
	cfg := c.Config

	reserved, err := decimal.NewFromString(cfg.Defichain.ReservedLiquidity)
	if err != nil {
		return fmt.Errorf("parse reserved liquidity %q: %w", cfg.Defichain.ReservedLiquidity, err)
	}

	c.TxnVerifier = services.NewTxnVerifier(c.EVMClient, &cfg.Ethereum, c.Logger)
	c.ConfirmationTracker = services.NewConfirmationTracker(
		c.EVMClient, c.DFCClient,
		cfg.Ethereum.Confirmations, cfg.Defichain.Confirmations,
	)
	c.OutboundSender = services.NewOutboundSender(
		c.DFCClient, c.Metrics, c.Logger,
		cfg.Defichain.HotWalletAddress, reserved, cfg.Bridge.BroadcastRetries,
	)
	c.ClaimSigner = services.NewClaimSigner(
		c.EVMClient, c.AddressRepo, c.Cache, c.Metrics, c.Logger,
		common.HexToAddress(cfg.Ethereum.Bridge.Address), cfg.Ethereum.ChainID, cfg.Bridge.ClaimValidity,
	)
	c.DepositConfirmer = services.NewDepositConfirmer(
		c.TxnVerifier, c.ConfirmationTracker, c.OutboundSender,
		c.DepositRepo, c.Cache, cfg, c.Events, c.Metrics, c.Logger,
	)
	c.AddressVerifier, err = services.NewAddressVerifier(
		c.DFCClient, c.ConfirmationTracker, c.ClaimSigner, c.OutboundSender,
		c.AddressRepo, cfg, c.Events, c.Logger,
	)
	if err != nil {
		return err
	}
	c.QueueCoordinator = services.NewQueueCoordinator(
		c.TxnVerifier, c.ConfirmationTracker, c.OutboundSender,
		c.QueueRepo, c.Cache, cfg, c.Events, c.Metrics, c.Logger,
	)
	c.WalletService = services.NewWalletService(
		c.DFCClient, c.AddressRepo, c.Cache, &cfg.Defichain, c.Logger,
	)
	c.StatsService = services.NewStatsService(c.DepositRepo, c.Cache)
	return nil
}

func (c *ServiceContainer) initRouter() {
	bridgeHandler := handlers.NewBridgeHandler(c.DepositConfirmer, c.AddressVerifier, c.WalletService, c.Logger)
	queueHandler := handlers.NewQueueHandler(c.QueueCoordinator, c.StatsService, c.Logger)
	adminAuth := middleware.NewAdminAuthMiddleware(c.Config.AdminJWTSecret, c.Logger)

	c.Router = router.New(bridgeHandler, queueHandler, adminAuth, c.Metrics.Registry, c.Logger)
}

// Close releases external connections.
func (c *ServiceContainer) Close() {
	c.Events.Close()
}
