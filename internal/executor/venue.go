package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
)

// SwapRequest is what the executor hands to a swap venue.
type SwapRequest struct {
	TokenIn      common.Address
	AmountIn     *uint256.Int
	TokenOut     common.Address
	MinOut       *uint256.Int
	Instructions []byte
}

// SwapVenue is the external DEX aggregator. Errors should wrap
// model.ErrSlippageExceeded or model.ErrVenueUnavailable.
type SwapVenue interface {
	Execute(ctx context.Context, req SwapRequest) (*uint256.Int, error)
}

// Pair is a directed token pair.
type Pair struct {
	TokenIn  common.Address
	TokenOut common.Address
}

// FixedRateVenue quotes every pair at a constant rate in basis points of the
// input amount. It is used for simulation and tests.
type FixedRateVenue struct {
	mu    sync.RWMutex
	rates map[Pair]uint64
	down  bool
}

// NewFixedRateVenue creates a venue with no pairs.
func NewFixedRateVenue() *FixedRateVenue {
	return &FixedRateVenue{rates: make(map[Pair]uint64)}
}

// SetRate quotes tokenIn -> tokenOut at rateBps/10000.
func (v *FixedRateVenue) SetRate(tokenIn, tokenOut common.Address, rateBps uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rates[Pair{TokenIn: tokenIn, TokenOut: tokenOut}] = rateBps
}

// SetAvailable toggles whether the venue accepts swaps.
func (v *FixedRateVenue) SetAvailable(available bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.down = !available
}

// Execute implements SwapVenue.
func (v *FixedRateVenue) Execute(ctx context.Context, req SwapRequest) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("swap: %v: %w", err, model.ErrVenueUnavailable)
	}
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.down {
		return nil, fmt.Errorf("venue offline: %w", model.ErrVenueUnavailable)
	}
	if len(req.Instructions) == 0 {
		return nil, fmt.Errorf("empty swap instructions: %w", model.ErrVenueUnavailable)
	}
	rate, ok := v.rates[Pair{TokenIn: req.TokenIn, TokenOut: req.TokenOut}]
	if !ok {
		return nil, fmt.Errorf("no pool for %s -> %s: %w", req.TokenIn.Hex(), req.TokenOut.Hex(), model.ErrVenueUnavailable)
	}
	out, overflow := new(uint256.Int).MulDivOverflow(req.AmountIn, uint256.NewInt(rate), uint256.NewInt(10_000))
	if overflow {
		return nil, fmt.Errorf("swap output: %w", model.ErrOverflow)
	}
	if req.MinOut != nil && out.Lt(req.MinOut) {
		return nil, fmt.Errorf("venue output %s below %s: %w",
			model.FormatAmount(out), model.FormatAmount(req.MinOut), model.ErrSlippageExceeded)
	}
	return out, nil
}
