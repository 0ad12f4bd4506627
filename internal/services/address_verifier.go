package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bridge-backend/internal/clients"
	"bridge-backend/internal/config"
	"bridge-backend/internal/events"
	"bridge-backend/internal/repository"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// VerifyCode identifies why a verification was rejected. Rejections are
// expected high-frequency outcomes of user input, so they travel as codes,
// not errors; callers branch on them programmatically.
type VerifyCode int

const (
	VerifyOK VerifyCode = iota
	VerifyInvalidAddress
	VerifyInvalidAmount
	VerifyTooManyDecimals
	VerifyTokenNotSupported
	VerifyAddressNotFound
	VerifyAddressNotOwned
	VerifyZeroBalance
	VerifyBalanceMismatch
	VerifyNoMatchingDeposit
	VerifyInsufficientConfirmations
)

// maxFractionDigits bounds the precision a user may request; DFC itself
// settles at 8 but the bridge only accepts 5 to keep fee arithmetic exact.
const maxFractionDigits = 5

// VerifyRequest is one DFC->EVM verification attempt.
type VerifyRequest struct {
	Amount             decimal.Decimal
	Address            string // derived DFC deposit address
	EthReceiverAddress string
	TokenAddress       string
	Symbol             string
}

// VerifyResult is the outcome: either a rejection code or a signed claim.
type VerifyResult struct {
	IsValid    bool       `json:"isValid"`
	StatusCode VerifyCode `json:"statusCode,omitempty"`
	Signature  string     `json:"signature,omitempty"`
	Nonce      *uint64    `json:"nonce,omitempty"`
	Deadline   *int64     `json:"deadline,omitempty"`
	TxnID      string     `json:"txnId,omitempty"`
}

func rejected(code VerifyCode) *VerifyResult {
	return &VerifyResult{IsValid: false, StatusCode: code}
}

// AddressVerifier validates a claimed DFC deposit against the derived
// address's real on-chain state and issues the EVM claim when everything
// lines up. Checks run in a fixed order and short-circuit on first failure.
type AddressVerifier struct {
	dfc       clients.DFCClient
	tracker   *ConfirmationTracker
	signer    *ClaimSigner
	sender    *OutboundSender
	addresses repository.AddressRepository
	cfg       *config.Config
	events    *events.Publisher
	logger    *logrus.Logger

	dustAmount decimal.Decimal
}

// NewAddressVerifier creates an AddressVerifier. The dust amount comes from
// config as a string and must parse; a typo there should stop startup.
func NewAddressVerifier(
	dfc clients.DFCClient,
	tracker *ConfirmationTracker,
	signer *ClaimSigner,
	sender *OutboundSender,
	addresses repository.AddressRepository,
	cfg *config.Config,
	publisher *events.Publisher,
	logger *logrus.Logger,
) (*AddressVerifier, error) {
	dust, err := decimal.NewFromString(cfg.Defichain.DustAmount)
	if err != nil {
		return nil, fmt.Errorf("parse dust amount %q: %w", cfg.Defichain.DustAmount, err)
	}
	return &AddressVerifier{
		dfc:        dfc,
		tracker:    tracker,
		signer:     signer,
		sender:     sender,
		addresses:  addresses,
		cfg:        cfg,
		events:     publisher,
		logger:     logger,
		dustAmount: dust,
	}, nil
}

// Verify runs the ordered check sequence. Only infrastructure failures come
// back as errors; every policy rejection is a result code.
func (v *AddressVerifier) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	valid, err := v.dfc.ValidateAddress(ctx, req.Address)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", req.Address, err)
	}
	if !valid {
		return rejected(VerifyInvalidAddress), nil
	}

	if !req.Amount.IsPositive() {
		return rejected(VerifyInvalidAmount), nil
	}
	// Trailing zeros carry no precision; only significant fraction digits
	// count against the limit.
	if !req.Amount.Equal(req.Amount.Truncate(maxFractionDigits)) {
		return rejected(VerifyTooManyDecimals), nil
	}

	symbol, token, ok := v.cfg.TokenBySymbol(req.Symbol)
	if !ok {
		return rejected(VerifyTokenNotSupported), nil
	}
	// The claim is always bound to the configured contract for the verified
	// symbol; a supplied token address must agree with it.
	if req.TokenAddress != "" && !strings.EqualFold(req.TokenAddress, token.EVMAddress) {
		return rejected(VerifyTokenNotSupported), nil
	}
	isNative := token.DFCTokenID < 0

	row, err := v.addresses.GetByAddress(ctx, req.Address)
	if errors.Is(err, repository.ErrNotFound) {
		return rejected(VerifyAddressNotFound), nil
	}
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", req.Address, err)
	}

	// Ownership proof: a stale or spoofed DB row must not let a foreign
	// address through, so the HD wallet is re-derived at the stored index.
	derived, err := v.dfc.DeriveAddress(ctx, row.Index)
	if err != nil {
		return nil, fmt.Errorf("verify %s: re-derive index %d: %w", req.Address, row.Index, err)
	}
	if derived != req.Address {
		v.logger.WithFields(logrus.Fields{
			"op":      "address_verify",
			"address": req.Address,
			"index":   row.Index,
		}).Warn("derived address mismatch")
		return rejected(VerifyAddressNotOwned), nil
	}

	balance, err := v.balanceOf(ctx, req.Address, symbol, isNative)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", req.Address, err)
	}
	if balance.IsZero() {
		return rejected(VerifyZeroBalance), nil
	}
	if !v.balanceMatches(balance, req.Amount, isNative) {
		return rejected(VerifyBalanceMismatch), nil
	}

	deposit, code, err := v.findDeposit(ctx, req.Address, symbol, req.Amount, isNative)
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", req.Address, err)
	}
	if code != VerifyOK {
		return rejected(code), nil
	}

	hadClaim := row.HasClaim()

	amountLessFee := applyFee(req.Amount, v.cfg.Bridge.FeeRate)
	claim, err := v.signer.SignClaim(
		ctx,
		common.HexToAddress(req.EthReceiverAddress),
		common.HexToAddress(token.EVMAddress),
		symbol,
		amountLessFee,
		req.Address,
	)
	if err != nil {
		return nil, err
	}

	if !hadClaim {
		v.events.Publish(events.SubjectClaimSigned, map[string]string{
			"address":     req.Address,
			"tokenSymbol": symbol,
			"amount":      amountLessFee.String(),
		})
		// One-time fee top-up for the fresh address. Detached: the claim is
		// already valid, so a failed top-up is logged and never surfaced.
		go v.topUpDust(req.Address)
	}

	return &VerifyResult{
		IsValid:   true,
		Signature: claim.Signature,
		Nonce:     &claim.Nonce,
		Deadline:  &claim.Deadline,
		TxnID:     deposit,
	}, nil
}

func (v *AddressVerifier) balanceOf(ctx context.Context, address, symbol string, isNative bool) (decimal.Decimal, error) {
	if isNative {
		return v.dfc.GetBalance(ctx, address)
	}
	balances, err := v.dfc.GetTokenBalances(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return balances[symbol], nil
}

// balanceMatches accepts an exact amount match, or amount plus the dust
// top-up for the native asset: the relayer's own dust must not count toward
// the user's claimable balance.
func (v *AddressVerifier) balanceMatches(balance, amount decimal.Decimal, isNative bool) bool {
	if balance.Equal(amount) {
		return true
	}
	return isNative && balance.Equal(amount.Add(v.dustAmount))
}

// findDeposit requires exactly one history entry of the claimed amount and
// symbol, deep enough on the source chain.
func (v *AddressVerifier) findDeposit(ctx context.Context, address, symbol string, amount decimal.Decimal, isNative bool) (string, VerifyCode, error) {
	history, err := v.dfc.ListTransactions(ctx, address)
	if err != nil {
		return "", VerifyOK, err
	}

	var matches []clients.AddressTransaction
	for _, tx := range history {
		sameToken := tx.TokenSymbol == symbol || (isNative && tx.TokenSymbol == "")
		if sameToken && tx.Value.Equal(amount) {
			matches = append(matches, tx)
		}
	}
	if len(matches) != 1 {
		return "", VerifyNoMatchingDeposit, nil
	}

	depth, err := v.tracker.DFCDepth(ctx, matches[0].TxID)
	if err != nil {
		return "", VerifyOK, err
	}
	if !depth.Confirmed() {
		return "", VerifyInsufficientConfirmations, nil
	}
	return matches[0].TxID, VerifyOK, nil
}

// topUpDust sends the one-time dust amount to a freshly verified address so
// it can pay its own fees later. The DustSentAt flag is taken before the
// broadcast, so a retried verification can never double-dust the address.
func (v *AddressVerifier) topUpDust(address string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	won, err := v.addresses.MarkDustSent(ctx, address, time.Now().UTC())
	if err != nil {
		v.logger.WithError(err).WithField("address", address).Warn("dust top-up: flag update failed")
		return
	}
	if !won {
		return
	}

	if _, err := v.sender.Send(ctx, address, TokenAmount{
		Symbol:  "DFI",
		TokenID: -1,
		Amount:  v.dustAmount,
	}); err != nil {
		v.logger.WithError(err).WithField("address", address).Warn("dust top-up failed")
	}
}
