package handlers

import (
	"errors"
	"net/http"
	"regexp"

	"bridge-backend/internal/repository"
	"bridge-backend/internal/services"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func parseTxHash(s string) (common.Hash, bool) {
	if !txHashPattern.MatchString(s) {
		return common.Hash{}, false
	}
	return common.HexToHash(s), true
}

// respondError maps the service error taxonomy onto HTTP statuses. Integrity
// failures and policy rejections are client-visible with their sentinel
// message; infrastructure failures are logged and masked.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	switch {
	case errors.Is(err, services.ErrPendingTransaction),
		errors.Is(err, services.ErrNotConfirmed):
		c.JSON(http.StatusAccepted, gin.H{"error": err.Error(), "retryable": true})

	case errors.Is(err, services.ErrInvalidSignature),
		errors.Is(err, services.ErrWrongContract),
		errors.Is(err, services.ErrReverted),
		errors.Is(err, services.ErrBeforeDeployment),
		errors.Is(err, services.ErrInvalidDestination),
		errors.Is(err, services.ErrTokenNotSupported):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrAlreadyAllocated),
		errors.Is(err, services.ErrRefundNotAllowed),
		errors.Is(err, services.ErrRefundNotDue):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, services.ErrInsufficientLiquidity):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	case errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})

	default:
		logger.WithError(err).Error("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
