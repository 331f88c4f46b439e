package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"crossRebalance/internal/decider"
	"crossRebalance/internal/executor"
	"crossRebalance/internal/model"
	"crossRebalance/internal/node"
)

// NodeConfig converts the deployment into a node configuration.
func (c ChainConfig) NodeConfig() (node.Config, error) {
	out := node.Config{
		ChainID:         c.ChainID,
		ThresholdBps:    model.RiskScore(c.ThresholdBps),
		PriceWindow:     c.PriceWindow,
		MaxPriceAge:     c.MaxPriceAge,
		MaxSlippageBps:  decider.DefaultMaxSlippageBps,
		AllowZeroMinOut: c.AllowZeroMinOut,
		AllowedSkew:     c.AllowedSkew,
		AutoDeposit:     c.AutoDeposit,
		Clock:           func() uint64 { return uint64(time.Now().Unix()) },
	}
	if c.MaxSlippageBps != nil {
		out.MaxSlippageBps = *c.MaxSlippageBps
	}

	var err error
	for _, f := range []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"controller", c.Controller, &out.Controller},
		{"vault", c.Vault, &out.Vault},
		{"rebalancer", c.Rebalancer, &out.Rebalancer},
		{"asset", c.Asset, &out.Asset},
		{"owner", c.Owner, &out.Owner},
	} {
		if *f.dst, err = ParseAddress(f.value); err != nil {
			return node.Config{}, fmt.Errorf("chain %d %s: %w", c.ChainID, f.name, err)
		}
	}
	if out.Tokens, err = parseAddresses(c.Tokens); err != nil {
		return node.Config{}, fmt.Errorf("chain %d tokens: %w", c.ChainID, err)
	}
	if out.Updaters, err = parseAddresses(c.Updaters); err != nil {
		return node.Config{}, fmt.Errorf("chain %d updaters: %w", c.ChainID, err)
	}
	for _, r := range c.TrustedRemotes {
		addr, err := ParseAddress(r.Address)
		if err != nil {
			return node.Config{}, fmt.Errorf("chain %d trusted remote %d: %w", c.ChainID, r.ChainID, err)
		}
		out.TrustedRemotes = append(out.TrustedRemotes, model.TrustedRemote{ChainID: r.ChainID, Address: addr})
	}
	if out.FeedA, err = ParseFeedID(c.FeedA); err != nil {
		return node.Config{}, fmt.Errorf("chain %d feed-a: %w", c.ChainID, err)
	}
	if out.FeedB, err = ParseFeedID(c.FeedB); err != nil {
		return node.Config{}, fmt.Errorf("chain %d feed-b: %w", c.ChainID, err)
	}

	for i, r := range c.Routes {
		route, err := r.route(c.ChainID)
		if err != nil {
			return node.Config{}, fmt.Errorf("chain %d route %d: %w", c.ChainID, i, err)
		}
		out.Routes = append(out.Routes, route)
	}

	if out.Sizing, err = c.Sizing.policy(); err != nil {
		return node.Config{}, fmt.Errorf("chain %d sizing: %w", c.ChainID, err)
	}
	return out, nil
}

// SwapVenue builds the simulated venue for this chain, or nil when no pairs
// are configured.
func (c ChainConfig) SwapVenue() (executor.SwapVenue, error) {
	if len(c.Venue) == 0 {
		return nil, nil
	}
	venue := executor.NewFixedRateVenue()
	for i, rate := range c.Venue {
		in, err := ParseAddress(rate.TokenIn)
		if err != nil {
			return nil, fmt.Errorf("venue %d token-in: %w", i, err)
		}
		out, err := ParseAddress(rate.TokenOut)
		if err != nil {
			return nil, fmt.Errorf("venue %d token-out: %w", i, err)
		}
		venue.SetRate(in, out, rate.RateBps)
	}
	return venue, nil
}

func (r RouteConfig) route(source uint64) (decider.Route, error) {
	route := decider.Route{
		Source:      source,
		Destination: r.Destination,
		MinScore:    model.RiskScore(r.MinScore),
	}
	var err error
	if route.TokenIn, err = ParseAddress(r.TokenIn); err != nil {
		return decider.Route{}, fmt.Errorf("token-in: %w", err)
	}
	if route.TokenOut, err = ParseAddress(r.TokenOut); err != nil {
		return decider.Route{}, fmt.Errorf("token-out: %w", err)
	}
	if route.Beneficiary, err = ParseAddress(r.Beneficiary); err != nil {
		return decider.Route{}, fmt.Errorf("beneficiary: %w", err)
	}
	if r.SwapTemplate != "" {
		if route.SwapTemplate, err = hexutil.Decode(r.SwapTemplate); err != nil {
			return decider.Route{}, fmt.Errorf("swap-template: %w", err)
		}
	}
	return route, nil
}

func (s SizingConfig) policy() (decider.SizingPolicy, error) {
	var amount, maxAmount *uint256.Int
	var err error
	if s.Amount != "" {
		if amount, err = model.ParseAmount(s.Amount); err != nil {
			return nil, err
		}
	}
	if s.MaxAmount != "" {
		if maxAmount, err = model.ParseAmount(s.MaxAmount); err != nil {
			return nil, err
		}
	}
	return decider.ParseSizing(s.Policy, amount, maxAmount, s.MultiplierBps, s.MaxBps)
}

// ParseAddress parses a hex address, rejecting malformed input.
func ParseAddress(input string) (common.Address, error) {
	input = strings.TrimSpace(input)
	if !common.IsHexAddress(input) {
		return common.Address{}, fmt.Errorf("invalid address %q", input)
	}
	return common.HexToAddress(input), nil
}

func parseAddresses(items []string) ([]common.Address, error) {
	out := make([]common.Address, 0, len(items))
	for _, item := range cleanStrings(items) {
		addr, err := ParseAddress(item)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

// ParseFeedID parses a 32-byte hex feed id.
func ParseFeedID(input string) (common.Hash, error) {
	input = strings.TrimSpace(input)
	raw, err := hexutil.Decode(input)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid feed id %q: %w", input, err)
	}
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("feed id %q is %d bytes", input, len(raw))
	}
	return common.BytesToHash(raw), nil
}

// ResolveFeed maps a symbol from the feeds table, or a raw id, to a feed id.
func (c Config) ResolveFeed(nameOrID string) (common.Hash, error) {
	if id, ok := c.Feeds[strings.ToUpper(strings.TrimSpace(nameOrID))]; ok {
		return ParseFeedID(id)
	}
	return ParseFeedID(nameOrID)
}

// ParseTimestamp parses a timestamp value (unix seconds or RFC3339).
func ParseTimestamp(input string) (uint64, error) {
	if strings.TrimSpace(input) == "" {
		return 0, nil
	}

	if isNumeric(input) {
		val, err := strconv.ParseUint(input, 10, 64)
		if err != nil {
			return 0, err
		}
		return val, nil
	}

	tm, err := time.Parse(time.RFC3339, input)
	if err != nil {
		return 0, err
	}
	return uint64(tm.Unix()), nil
}

func isNumeric(input string) bool {
	for _, r := range input {
		if r < '0' || r > '9' {
			return false
		}
	}
	return input != ""
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
