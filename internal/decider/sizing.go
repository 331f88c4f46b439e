package decider

import (
	"fmt"

	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
)

// SizingPolicy decides how much to move for a given score.
type SizingPolicy interface {
	Size(score model.RiskScore, vault model.Vault) (*uint256.Int, error)
	Name() string
}

// FixedSizing moves the same amount every trigger.
type FixedSizing struct {
	Amount *uint256.Int
}

func (p FixedSizing) Name() string { return "fixed" }

func (p FixedSizing) Size(_ model.RiskScore, _ model.Vault) (*uint256.Int, error) {
	if p.Amount == nil {
		return new(uint256.Int), nil
	}
	return p.Amount.Clone(), nil
}

// ProportionalSizing moves a share of the vault's assets that grows with the
// score: vaultAssets * min(score*MultiplierBps/10000, MaxBps) / 10000, capped at
// MaxAmount when set.
type ProportionalSizing struct {
	MultiplierBps uint64
	MaxBps        uint64
	MaxAmount     *uint256.Int
}

func (p ProportionalSizing) Name() string { return "proportional" }

func (p ProportionalSizing) Size(score model.RiskScore, vault model.Vault) (*uint256.Int, error) {
	if vault.TotalAssets == nil || vault.TotalAssets.IsZero() {
		return new(uint256.Int), nil
	}

	fraction, overflow := new(uint256.Int).MulDivOverflow(
		uint256.NewInt(uint64(score)), uint256.NewInt(p.MultiplierBps), uint256.NewInt(bps))
	if overflow {
		return nil, fmt.Errorf("sizing fraction: %w", model.ErrOverflow)
	}
	maxBps := p.MaxBps
	if maxBps == 0 || maxBps > bps {
		maxBps = bps
	}
	if fraction.Gt(uint256.NewInt(maxBps)) {
		fraction = uint256.NewInt(maxBps)
	}

	amount, overflow := new(uint256.Int).MulDivOverflow(vault.TotalAssets, fraction, uint256.NewInt(bps))
	if overflow {
		return nil, fmt.Errorf("sizing amount: %w", model.ErrOverflow)
	}
	if p.MaxAmount != nil && !p.MaxAmount.IsZero() && amount.Gt(p.MaxAmount) {
		amount = p.MaxAmount.Clone()
	}
	return amount, nil
}

// MinOut returns amountIn reduced by maxSlippageBps.
func MinOut(amountIn *uint256.Int, maxSlippageBps uint64) *uint256.Int {
	if maxSlippageBps >= bps {
		return new(uint256.Int)
	}
	out, _ := new(uint256.Int).MulDivOverflow(amountIn, uint256.NewInt(bps-maxSlippageBps), uint256.NewInt(bps))
	return out
}
