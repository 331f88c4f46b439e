package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceReader reads on-chain token balances.
type BalanceReader interface {
	BalanceOf(ctx context.Context, token, owner common.Address) (*uint256.Int, error)
}

// Holding is a balance the local state expects to find on chain.
type Holding struct {
	Token    common.Address
	Holder   common.Address
	Expected *uint256.Int
}

// Drift reports one holding whose on-chain balance differs from the
// expectation.
type Drift struct {
	Holding
	OnChain *uint256.Int
	// Surplus is true when the chain holds more than expected.
	Surplus bool
	Delta   *uint256.Int
}

// Reconcile compares every holding against the chain and returns the ones
// that differ. It stops at the first read error.
func Reconcile(ctx context.Context, reader BalanceReader, holdings []Holding) ([]Drift, error) {
	var drifts []Drift
	for _, h := range holdings {
		onChain, err := reader.BalanceOf(ctx, h.Token, h.Holder)
		if err != nil {
			return drifts, fmt.Errorf("balance of %s for %s: %w", h.Token.Hex(), h.Holder.Hex(), err)
		}
		expected := h.Expected
		if expected == nil {
			expected = new(uint256.Int)
		}
		if onChain.Eq(expected) {
			continue
		}
		d := Drift{Holding: h, OnChain: onChain, Surplus: onChain.Gt(expected)}
		if d.Surplus {
			d.Delta = new(uint256.Int).Sub(onChain, expected)
		} else {
			d.Delta = new(uint256.Int).Sub(expected, onChain)
		}
		drifts = append(drifts, d)
	}
	return drifts, nil
}
