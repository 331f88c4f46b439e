package decider

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

const (
	bps = 10_000

	// DefaultMaxSlippageBps bounds minOut when nothing is configured.
	DefaultMaxSlippageBps = 50
)

// Reasons reported when no plan is produced.
const (
	ReasonBelowThreshold = "below_threshold"
	ReasonStaleData      = "stale_data"
	ReasonMissingData    = "missing_data"
	ReasonNoRoute        = "no_route"
	ReasonZeroSize       = "zero_size"
	ReasonUnsafeMinOut   = "unsafe_min_out"
	ReasonRiskError      = "risk_error"
	ReasonTriggered      = "triggered"
)

// RiskSource computes the score for a feed pair.
type RiskSource interface {
	ComputeRisk(feedA, feedB common.Hash) (model.RiskScore, error)
}

// VaultSource exposes the source vault totals.
type VaultSource interface {
	Vault() model.Vault
}

// Route is one entry of the routing table.
type Route struct {
	Source      uint64
	Destination uint64
	TokenIn     common.Address
	TokenOut    common.Address
	Beneficiary common.Address
	MinScore    model.RiskScore
	// SwapTemplate, when non-empty, is sent as a venue instruction.
	SwapTemplate []byte
}

// Config drives Evaluate.
type Config struct {
	LocalChainID    uint64
	FeedA           common.Hash
	FeedB           common.Hash
	ThresholdBps    model.RiskScore
	Routes          []Route
	Sizing          SizingPolicy
	MaxSlippageBps  uint64
	AllowZeroMinOut bool
}

// Plan is a rebalance candidate ready for the message protocol.
type Plan struct {
	Score   model.RiskScore
	Route   Route
	Message model.RebalanceMessage
}

// Decision is the outcome of one evaluation. Plan is nil when no action is
// taken; Reason says why.
type Decision struct {
	Plan   *Plan
	Score  model.RiskScore
	Reason string
}

// Triggered reports whether a plan was produced.
func (d Decision) Triggered() bool { return d.Plan != nil }

// Decider turns risk scores into rebalance plans. It never dispatches
// anything itself.
type Decider struct {
	cfg    Config
	risk   RiskSource
	vault  VaultSource
	logger *zap.Logger
}

// New creates a Decider. The threshold can later be replaced with SetThreshold.
func New(cfg Config, risk RiskSource, vault VaultSource, logger *zap.Logger) (*Decider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if risk == nil {
		return nil, fmt.Errorf("risk source is nil")
	}
	if cfg.Sizing == nil {
		return nil, fmt.Errorf("sizing policy is required")
	}
	if cfg.MaxSlippageBps > bps {
		return nil, fmt.Errorf("max slippage %d bps exceeds %d", cfg.MaxSlippageBps, bps)
	}
	if cfg.MaxSlippageBps == bps && !cfg.AllowZeroMinOut {
		return nil, fmt.Errorf("max slippage of 100%% sets minOut to zero; set allow-zero-min-out to accept it")
	}
	if cfg.AllowZeroMinOut {
		logger.Warn("zero minOut allowed: rebalances are unprotected against slippage")
	}
	for i, r := range cfg.Routes {
		if r.Source == r.Destination {
			return nil, fmt.Errorf("route %d: source and destination are both %d", i, r.Source)
		}
	}
	return &Decider{cfg: cfg, risk: risk, vault: vault, logger: logger}, nil
}

// SetThreshold replaces the trigger threshold.
func (d *Decider) SetThreshold(threshold model.RiskScore) {
	d.cfg.ThresholdBps = threshold
}

// Threshold returns the trigger threshold.
func (d *Decider) Threshold() model.RiskScore {
	return d.cfg.ThresholdBps
}

// Evaluate computes the current risk and returns a plan when it exceeds the
// threshold. It fails closed: any missing, stale or invalid input yields no
// plan rather than an error.
func (d *Decider) Evaluate(ctx context.Context) Decision {
	if err := ctx.Err(); err != nil {
		return Decision{Reason: ReasonRiskError}
	}

	score, err := d.risk.ComputeRisk(d.cfg.FeedA, d.cfg.FeedB)
	if err != nil {
		reason := ReasonRiskError
		switch {
		case errors.Is(err, model.ErrStalePrice):
			reason = ReasonStaleData
		case errors.Is(err, model.ErrFeedUnavailable):
			reason = ReasonMissingData
		}
		d.logger.Info("rebalance skipped", zap.String("reason", reason), zap.Error(err))
		return Decision{Reason: reason}
	}

	if score <= d.cfg.ThresholdBps {
		d.logger.Debug("risk below threshold", zap.Uint64("score", uint64(score)), zap.Uint64("threshold", uint64(d.cfg.ThresholdBps)))
		return Decision{Score: score, Reason: ReasonBelowThreshold}
	}

	route, ok := d.selectRoute(score)
	if !ok {
		d.logger.Warn("no route for score", zap.Uint64("score", uint64(score)))
		return Decision{Score: score, Reason: ReasonNoRoute}
	}

	var vault model.Vault
	if d.vault != nil {
		vault = d.vault.Vault()
	}
	amountIn, err := d.cfg.Sizing.Size(score, vault)
	if err != nil || amountIn.IsZero() {
		d.logger.Warn("sizing produced no amount", zap.String("policy", d.cfg.Sizing.Name()), zap.Error(err))
		return Decision{Score: score, Reason: ReasonZeroSize}
	}

	minOut := MinOut(amountIn, d.cfg.MaxSlippageBps)
	if minOut.IsZero() && !d.cfg.AllowZeroMinOut {
		d.logger.Warn("minOut rounds to zero", zap.String("amount_in", model.FormatAmount(amountIn)))
		return Decision{Score: score, Reason: ReasonUnsafeMinOut}
	}

	swap := model.NoSwap()
	if len(route.SwapTemplate) > 0 {
		swap = model.VenueInstruction(route.SwapTemplate)
	}

	plan := &Plan{
		Score: score,
		Route: route,
		Message: model.RebalanceMessage{
			SourceChainID:      route.Source,
			DestinationChainID: route.Destination,
			TokenIn:            route.TokenIn,
			Beneficiary:        route.Beneficiary,
			AmountIn:           amountIn,
			TokenOut:           route.TokenOut,
			MinOut:             minOut,
			Swap:               swap,
		},
	}

	d.logger.Info("rebalance triggered",
		zap.Uint64("score", uint64(score)),
		zap.Uint64("destination", route.Destination),
		zap.String("amount_in", model.FormatAmount(amountIn)),
		zap.String("min_out", model.FormatAmount(minOut)),
		zap.String("swap", swap.Kind.String()),
	)
	return Decision{Plan: plan, Score: score, Reason: ReasonTriggered}
}

// selectRoute picks the local route with the highest MinScore not above
// score; ties go to the first declared route.
func (d *Decider) selectRoute(score model.RiskScore) (Route, bool) {
	var best Route
	found := false
	for _, r := range d.cfg.Routes {
		if r.Source != d.cfg.LocalChainID || r.MinScore > score {
			continue
		}
		if !found || r.MinScore > best.MinScore {
			best = r
			found = true
		}
	}
	if found {
		best.SwapTemplate = append([]byte(nil), best.SwapTemplate...)
	}
	return best, found
}

// ParseSizing builds a policy from configuration values.
func ParseSizing(name string, fixedAmount, maxAmount *uint256.Int, multiplierBps, maxBps uint64) (SizingPolicy, error) {
	switch name {
	case "", "fixed":
		if fixedAmount == nil || fixedAmount.IsZero() {
			return nil, fmt.Errorf("fixed sizing requires a non-zero amount")
		}
		return FixedSizing{Amount: fixedAmount}, nil
	case "proportional":
		if multiplierBps == 0 {
			return nil, fmt.Errorf("proportional sizing requires a multiplier")
		}
		return ProportionalSizing{MultiplierBps: multiplierBps, MaxBps: maxBps, MaxAmount: maxAmount}, nil
	default:
		return nil, fmt.Errorf("unknown sizing policy %q", name)
	}
}
