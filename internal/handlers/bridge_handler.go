package handlers

import (
	"net/http"

	"bridge-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// BridgeHandler exposes the instant path and the DFC->EVM path.
type BridgeHandler struct {
	confirmer *services.DepositConfirmer
	verifier  *services.AddressVerifier
	wallet    *services.WalletService
	logger    *logrus.Logger
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(
	confirmer *services.DepositConfirmer,
	verifier *services.AddressVerifier,
	wallet *services.WalletService,
	logger *logrus.Logger,
) *BridgeHandler {
	return &BridgeHandler{
		confirmer: confirmer,
		verifier:  verifier,
		wallet:    wallet,
		logger:    logger,
	}
}

type txHashRequest struct {
	TransactionHash string `json:"transactionHash" binding:"required"`
}

// ConfirmDeposit handles POST /v1/evm/verify.
func (h *BridgeHandler) ConfirmDeposit(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	result, err := h.confirmer.Confirm(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AllocateFund handles POST /v1/evm/allocate.
func (h *BridgeHandler) AllocateFund(c *gin.Context) {
	var req txHashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	hash, ok := parseTxHash(req.TransactionHash)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction hash"})
		return
	}

	result, err := h.confirmer.AllocateFund(c.Request.Context(), hash)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type defichainVerifyRequest struct {
	Amount             string `json:"amount" binding:"required"`
	Address            string `json:"address" binding:"required"`
	EthReceiverAddress string `json:"ethReceiverAddress" binding:"required"`
	TokenAddress       string `json:"tokenAddress"`
	Symbol             string `json:"symbol" binding:"required"`
}

// VerifyDefichainDeposit handles POST /v1/defichain/verify.
func (h *BridgeHandler) VerifyDefichainDeposit(c *gin.Context) {
	var req defichainVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
		return
	}
	if !common.IsHexAddress(req.EthReceiverAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid receiver address"})
		return
	}
	if req.TokenAddress != "" && !common.IsHexAddress(req.TokenAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token address"})
		return
	}

	result, err := h.verifier.Verify(c.Request.Context(), services.VerifyRequest{
		Amount:             amount,
		Address:            req.Address,
		EthReceiverAddress: req.EthReceiverAddress,
		TokenAddress:       req.TokenAddress,
		Symbol:             req.Symbol,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GenerateAddress handles GET /v1/defichain/address.
func (h *BridgeHandler) GenerateAddress(c *gin.Context) {
	refundAddress := c.Query("refundAddress")
	if refundAddress == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "refundAddress is required"})
		return
	}

	row, err := h.wallet.GenerateAddress(c.Request.Context(), refundAddress)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address":       row.Address,
		"refundAddress": row.RefundAddress,
		"createdAt":     row.CreatedAt,
	})
}
