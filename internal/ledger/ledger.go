package ledger

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

// Ledger tracks one vault's pooled assets and the shares claiming them.
// Invariants: TotalShares == 0 iff TotalAssets == 0, and the sum of all
// holder balances equals TotalShares.
type Ledger struct {
	mu          sync.RWMutex
	asset       common.Address
	totalShares *uint256.Int
	totalAssets *uint256.Int
	balances    map[common.Address]*uint256.Int
	logger      *zap.Logger
}

// New creates an empty ledger over the underlying asset.
func New(asset common.Address, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		asset:       asset,
		totalShares: new(uint256.Int),
		totalAssets: new(uint256.Int),
		balances:    make(map[common.Address]*uint256.Int),
		logger:      logger,
	}
}

// Deposit adds assets for holder and returns the shares minted.
func (l *Ledger) Deposit(holder common.Address, assets *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.deposit(holder, assets)
}

// DepositFor is Deposit on behalf of a rebalance beneficiary.
func (l *Ledger) DepositFor(beneficiary common.Address, assets *uint256.Int) (*uint256.Int, error) {
	return l.Deposit(beneficiary, assets)
}

func (l *Ledger) deposit(holder common.Address, assets *uint256.Int) (*uint256.Int, error) {
	if assets == nil || assets.IsZero() {
		return nil, model.ErrZeroAmount
	}

	shares, err := l.convertToShares(assets)
	if err != nil {
		return nil, err
	}
	if shares.IsZero() {
		return nil, fmt.Errorf("deposit %s: %w", model.FormatAmount(assets), model.ErrZeroShares)
	}

	totalAssets, overflow := new(uint256.Int).AddOverflow(l.totalAssets, assets)
	if overflow {
		return nil, fmt.Errorf("total assets: %w", model.ErrOverflow)
	}
	totalShares, overflow := new(uint256.Int).AddOverflow(l.totalShares, shares)
	if overflow {
		return nil, fmt.Errorf("total shares: %w", model.ErrOverflow)
	}

	l.totalAssets = totalAssets
	l.totalShares = totalShares
	l.balances[holder] = new(uint256.Int).Add(l.balanceOf(holder), shares)

	l.logger.Debug("deposit",
		zap.String("holder", holder.Hex()),
		zap.String("assets", model.FormatAmount(assets)),
		zap.String("shares", model.FormatAmount(shares)),
	)
	return shares.Clone(), nil
}

// Withdraw burns shares from holder and returns the assets released.
func (l *Ledger) Withdraw(holder common.Address, shares *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if shares == nil || shares.IsZero() {
		return nil, model.ErrZeroAmount
	}
	balance := l.balanceOf(holder)
	if shares.Gt(balance) {
		return nil, fmt.Errorf("withdraw %s shares, holder has %s: %w",
			model.FormatAmount(shares), model.FormatAmount(balance), model.ErrInsufficientBalance)
	}

	// The last shares out take any rounding dust with them.
	var assets *uint256.Int
	if shares.Eq(l.totalShares) {
		assets = l.totalAssets.Clone()
	} else {
		var overflow bool
		assets, overflow = new(uint256.Int).MulDivOverflow(shares, l.totalAssets, l.totalShares)
		if overflow {
			return nil, fmt.Errorf("convert to assets: %w", model.ErrOverflow)
		}
	}
	if assets.IsZero() {
		return nil, fmt.Errorf("withdraw %s shares: %w", model.FormatAmount(shares), model.ErrZeroAssets)
	}

	l.totalAssets = new(uint256.Int).Sub(l.totalAssets, assets)
	l.totalShares = new(uint256.Int).Sub(l.totalShares, shares)
	remaining := new(uint256.Int).Sub(balance, shares)
	if remaining.IsZero() {
		delete(l.balances, holder)
	} else {
		l.balances[holder] = remaining
	}

	l.logger.Debug("withdraw",
		zap.String("holder", holder.Hex()),
		zap.String("shares", model.FormatAmount(shares)),
		zap.String("assets", model.FormatAmount(assets)),
	)
	return assets, nil
}

// CreditAssets records a rebalance inflow. No shares are minted, so the share
// price rises. An inflow into an empty vault is refused because it would
// break TotalShares == 0 iff TotalAssets == 0.
func (l *Ledger) CreditAssets(amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return model.ErrZeroAmount
	}
	if l.totalShares.IsZero() {
		return fmt.Errorf("credit into vault without shares: %w", model.ErrZeroShares)
	}
	total, overflow := new(uint256.Int).AddOverflow(l.totalAssets, amount)
	if overflow {
		return fmt.Errorf("total assets: %w", model.ErrOverflow)
	}
	l.totalAssets = total
	l.logger.Info("rebalance inflow", zap.String("amount", model.FormatAmount(amount)))
	return nil
}

// DebitAssets records a rebalance outflow without touching shares. The vault
// must keep a non-zero asset balance while shares are outstanding.
func (l *Ledger) DebitAssets(amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount == nil || amount.IsZero() {
		return model.ErrZeroAmount
	}
	if !amount.Lt(l.totalAssets) {
		return fmt.Errorf("debit %s of %s assets: %w",
			model.FormatAmount(amount), model.FormatAmount(l.totalAssets), model.ErrInsufficientBalance)
	}
	l.totalAssets = new(uint256.Int).Sub(l.totalAssets, amount)
	l.logger.Info("rebalance outflow", zap.String("amount", model.FormatAmount(amount)))
	return nil
}

// BalanceOf returns holder's shares.
func (l *Ledger) BalanceOf(holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceOf(holder).Clone()
}

// Vault returns the ledger totals.
func (l *Ledger) Vault() model.Vault {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return model.Vault{
		UnderlyingAsset: l.asset,
		TotalShares:     l.totalShares.Clone(),
		TotalAssets:     l.totalAssets.Clone(),
	}
}

// PreviewDeposit returns the shares assets would mint right now.
func (l *Ledger) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.convertToShares(assets)
}

func (l *Ledger) convertToShares(assets *uint256.Int) (*uint256.Int, error) {
	if l.totalShares.IsZero() {
		return assets.Clone(), nil
	}
	shares, overflow := new(uint256.Int).MulDivOverflow(assets, l.totalShares, l.totalAssets)
	if overflow {
		return nil, fmt.Errorf("convert to shares: %w", model.ErrOverflow)
	}
	return shares, nil
}

func (l *Ledger) balanceOf(holder common.Address) *uint256.Int {
	if bal, ok := l.balances[holder]; ok {
		return bal
	}
	return new(uint256.Int)
}
