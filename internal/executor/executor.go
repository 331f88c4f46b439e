package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

// Custody is the token book the executor moves balances in.
type Custody interface {
	Known(token common.Address) bool
	Credit(token, holder common.Address, amount *uint256.Int) error
	Debit(token, holder common.Address, amount *uint256.Int) error
	Transfer(token, from, to common.Address, amount *uint256.Int) error
}

// VaultLedger is the subset of the share ledger touched by inbound rebalances.
type VaultLedger interface {
	Vault() model.Vault
	CreditAssets(amount *uint256.Int) error
	DepositFor(beneficiary common.Address, assets *uint256.Int) (*uint256.Int, error)
}

// Config identifies the executor's custody addresses.
type Config struct {
	// Address holds bridged funds between arrival and payout.
	Address common.Address
	// VaultAddress holds the vault's underlying asset in custody.
	VaultAddress common.Address
	// AutoDeposit deposits vault-asset payouts on behalf of the beneficiary
	// instead of paying them out directly.
	AutoDeposit bool
}

// Executor applies inbound rebalance messages on the destination chain. Every
// step registers an undo so a failed message leaves no effects.
type Executor struct {
	cfg     Config
	custody Custody
	vault   VaultLedger
	venue   SwapVenue
	logger  *zap.Logger
}

// New creates an executor. vault and venue may be nil; messages that need
// them are then refused.
func New(cfg Config, custody Custody, vault VaultLedger, venue SwapVenue, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{cfg: cfg, custody: custody, vault: vault, venue: venue, logger: logger}
}

type undoLog struct {
	steps  []func() error
	logger *zap.Logger
}

func (u *undoLog) push(step func() error) { u.steps = append(u.steps, step) }

func (u *undoLog) rollback() {
	for i := len(u.steps) - 1; i >= 0; i-- {
		if err := u.steps[i](); err != nil {
			u.logger.Error("rollback step failed", zap.Int("step", i), zap.Error(err))
		}
	}
	u.steps = nil
}

// Apply implements protocol.Applier.
func (e *Executor) Apply(ctx context.Context, msg model.RebalanceMessage) (result model.ExecutionResult, err error) {
	if msg.AmountIn == nil || msg.AmountIn.IsZero() {
		return result, fmt.Errorf("apply: %w", model.ErrZeroAmount)
	}
	for _, token := range []common.Address{msg.TokenIn, msg.TokenOut} {
		if !e.custody.Known(token) {
			return result, fmt.Errorf("token %s: %w", token.Hex(), model.ErrUnknownToken)
		}
	}
	minOut := msg.MinOut
	if minOut == nil {
		minOut = new(uint256.Int)
	}

	undo := &undoLog{logger: e.logger}
	defer func() {
		if err != nil {
			undo.rollback()
		}
	}()

	// Bridged funds arrive at the executor first.
	if err := e.custody.Credit(msg.TokenIn, e.cfg.Address, msg.AmountIn); err != nil {
		return result, fmt.Errorf("receive bridged funds: %w", err)
	}
	undo.push(func() error { return e.custody.Debit(msg.TokenIn, e.cfg.Address, msg.AmountIn) })

	amountOut := msg.AmountIn.Clone()
	switch msg.Swap.Kind {
	case model.SwapKindNone:
		if msg.TokenOut != msg.TokenIn {
			return result, fmt.Errorf("direct transfer of %s cannot pay out %s: %w",
				msg.TokenIn.Hex(), msg.TokenOut.Hex(), model.ErrUnknownToken)
		}
	case model.SwapKindVenue:
		amountOut, err = e.swap(ctx, msg, minOut, undo)
		if err != nil {
			return result, err
		}
		result.Swapped = true
	default:
		return result, fmt.Errorf("swap kind %d: %w", msg.Swap.Kind, model.ErrMalformedEnvelope)
	}
	if amountOut.Lt(minOut) {
		return result, fmt.Errorf("output %s below min %s: %w",
			model.FormatAmount(amountOut), model.FormatAmount(minOut), model.ErrSlippageExceeded)
	}

	payee := msg.Beneficiary
	deposit := false
	if e.vault != nil && msg.TokenOut == e.vault.Vault().UnderlyingAsset {
		if msg.Beneficiary == e.cfg.VaultAddress {
			result.Credited = true
		} else if e.cfg.AutoDeposit {
			payee = e.cfg.VaultAddress
			deposit = true
		}
	} else if msg.Beneficiary == e.cfg.VaultAddress && e.cfg.VaultAddress != (common.Address{}) {
		return result, fmt.Errorf("vault cannot hold %s: %w", msg.TokenOut.Hex(), model.ErrUnknownToken)
	}

	if err := e.custody.Transfer(msg.TokenOut, e.cfg.Address, payee, amountOut); err != nil {
		return result, fmt.Errorf("pay out: %w", err)
	}
	undo.push(func() error { return e.custody.Transfer(msg.TokenOut, payee, e.cfg.Address, amountOut) })

	// Ledger updates go last and are never undone.
	switch {
	case result.Credited:
		if err := e.vault.CreditAssets(amountOut); err != nil {
			return result, fmt.Errorf("credit vault: %w", err)
		}
	case deposit:
		shares, err := e.vault.DepositFor(msg.Beneficiary, amountOut)
		if err != nil {
			return result, fmt.Errorf("deposit for %s: %w", msg.Beneficiary.Hex(), err)
		}
		result.SharesMinted = shares
	}

	result.AmountOut = amountOut
	e.logger.Info("rebalance applied",
		zap.Uint64("source", msg.SourceChainID),
		zap.Uint64("nonce", msg.Nonce),
		zap.String("beneficiary", msg.Beneficiary.Hex()),
		zap.String("amount_out", model.FormatAmount(amountOut)),
		zap.Bool("swapped", result.Swapped),
		zap.Bool("vault_credit", result.Credited),
	)
	return result, nil
}

func (e *Executor) swap(ctx context.Context, msg model.RebalanceMessage, minOut *uint256.Int, undo *undoLog) (*uint256.Int, error) {
	if e.venue == nil {
		return nil, fmt.Errorf("no swap venue configured: %w", model.ErrVenueUnavailable)
	}
	out, err := e.venue.Execute(ctx, SwapRequest{
		TokenIn:      msg.TokenIn,
		AmountIn:     msg.AmountIn.Clone(),
		TokenOut:     msg.TokenOut,
		MinOut:       minOut.Clone(),
		Instructions: append([]byte(nil), msg.Swap.Data...),
	})
	if err != nil {
		if errors.Is(err, model.ErrSlippageExceeded) || errors.Is(err, model.ErrVenueUnavailable) {
			return nil, fmt.Errorf("swap: %w", err)
		}
		return nil, fmt.Errorf("swap: %v: %w", err, model.ErrVenueUnavailable)
	}
	if out == nil || out.IsZero() {
		return nil, fmt.Errorf("swap returned nothing: %w", model.ErrSlippageExceeded)
	}
	if out.Lt(minOut) {
		return nil, fmt.Errorf("swap output %s below min %s: %w",
			model.FormatAmount(out), model.FormatAmount(minOut), model.ErrSlippageExceeded)
	}

	if err := e.custody.Debit(msg.TokenIn, e.cfg.Address, msg.AmountIn); err != nil {
		return nil, fmt.Errorf("hand input to venue: %w", err)
	}
	undo.push(func() error { return e.custody.Credit(msg.TokenIn, e.cfg.Address, msg.AmountIn) })
	if err := e.custody.Credit(msg.TokenOut, e.cfg.Address, out); err != nil {
		return nil, fmt.Errorf("receive venue output: %w", err)
	}
	undo.push(func() error { return e.custody.Debit(msg.TokenOut, e.cfg.Address, out) })
	return out.Clone(), nil
}
