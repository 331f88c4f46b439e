package risk

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
)

// BasisPoints is the score unit.
const BasisPoints = 10_000

// PriceReader is the read side of the price store.
type PriceReader interface {
	Read(feedID common.Hash) (*uint256.Int, uint64, error)
	History(feedID common.Hash) []model.PriceSample
}

// Config defines the staleness bound.
type Config struct {
	// MaxPriceAge is the oldest accepted price in seconds. Zero disables the check.
	MaxPriceAge uint64
}

// Engine computes risk scores on demand from a PriceReader. It keeps no state
// of its own, so identical store contents always yield identical scores.
type Engine struct {
	cfg    Config
	prices PriceReader
}

// NewEngine creates a risk engine over prices.
func NewEngine(cfg Config, prices PriceReader) *Engine {
	return &Engine{cfg: cfg, prices: prices}
}

// Breakdown exposes the components of a score.
type Breakdown struct {
	Score         model.RiskScore
	DivergenceBps uint64
	VolatilityBps uint64
}

// ComputeRisk returns the score for the feed pair. The score is symmetric in
// its arguments.
func (e *Engine) ComputeRisk(feedA, feedB common.Hash) (model.RiskScore, error) {
	b, err := e.Explain(feedA, feedB)
	if err != nil {
		return 0, err
	}
	return b.Score, nil
}

// Explain computes the score and its components:
//
//	divergence = |pA - pB| * 10000 / max(pA, pB)
//	volatility = max over both feeds of (max - min) * 10000 / min in the window
//	score      = divergence + volatility
func (e *Engine) Explain(feedA, feedB common.Hash) (Breakdown, error) {
	priceA, err := e.fresh(feedA)
	if err != nil {
		return Breakdown{}, err
	}
	priceB, err := e.fresh(feedB)
	if err != nil {
		return Breakdown{}, err
	}

	divergence := divergenceBps(priceA, priceB)
	volatility := volatilityBps(e.prices.History(feedA))
	if v := volatilityBps(e.prices.History(feedB)); v > volatility {
		volatility = v
	}

	score := divergence + volatility
	if score < divergence {
		score = ^uint64(0)
	}
	return Breakdown{
		Score:         model.RiskScore(score),
		DivergenceBps: divergence,
		VolatilityBps: volatility,
	}, nil
}

func (e *Engine) fresh(feedID common.Hash) (*uint256.Int, error) {
	price, age, err := e.prices.Read(feedID)
	if err != nil {
		return nil, err
	}
	if price.IsZero() {
		return nil, fmt.Errorf("feed %s has zero price: %w", feedID.Hex(), model.ErrFeedUnavailable)
	}
	if e.cfg.MaxPriceAge > 0 && age > e.cfg.MaxPriceAge {
		return nil, fmt.Errorf("feed %s age %ds exceeds %ds: %w", feedID.Hex(), age, e.cfg.MaxPriceAge, model.ErrStalePrice)
	}
	return price, nil
}

func divergenceBps(a, b *uint256.Int) uint64 {
	hi, lo := a, b
	if a.Lt(b) {
		hi, lo = b, a
	}
	diff := new(uint256.Int).Sub(hi, lo)
	return ratioBps(diff, hi)
}

func volatilityBps(samples []model.PriceSample) uint64 {
	if len(samples) < 2 {
		return 0
	}
	var hi, lo *uint256.Int
	for _, s := range samples {
		if s.Price == nil || s.Price.IsZero() {
			continue
		}
		if hi == nil || s.Price.Gt(hi) {
			hi = s.Price
		}
		if lo == nil || s.Price.Lt(lo) {
			lo = s.Price
		}
	}
	if lo == nil {
		return 0
	}
	return ratioBps(new(uint256.Int).Sub(hi, lo), lo)
}

// ratioBps returns num * 10000 / den, saturating at MaxUint64.
func ratioBps(num, den *uint256.Int) uint64 {
	if den.IsZero() {
		return 0
	}
	out, overflow := new(uint256.Int).MulDivOverflow(num, uint256.NewInt(BasisPoints), den)
	if overflow || !out.IsUint64() {
		return ^uint64(0)
	}
	return out.Uint64()
}
