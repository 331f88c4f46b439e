package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"crossRebalance/internal/decider"
)

const sampleYAML = `
chain: 421614
state-backend: sqlite
feeds:
  btc: "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
  eth: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
chains:
  - chain-id: 421614
    controller: "0x000000000000000000000000000000000000c0a1"
    vault: "0x000000000000000000000000000000000000f0a1"
    rebalancer: "0x000000000000000000000000000000000000e0a1"
    asset: "0x00000000000000000000000000000000000000a1"
    owner: "0x0000000000000000000000000000000000000001"
    updaters: ["0x0000000000000000000000000000000000000002"]
    trusted-remotes:
      - chain-id: 84532
        address: "0x000000000000000000000000000000000000c0b2"
    threshold-bps: 500
    feed-a: "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43"
    feed-b: "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace"
    max-price-age: 3600
    routes:
      - destination: 84532
        token-in: "0x00000000000000000000000000000000000000a1"
        token-out: "0x00000000000000000000000000000000000000a1"
        beneficiary: "0x00000000000000000000000000000000000000b1"
      - destination: 84532
        token-in: "0x00000000000000000000000000000000000000a1"
        token-out: "0x00000000000000000000000000000000000000a2"
        beneficiary: "0x00000000000000000000000000000000000000b1"
        min-score: 5000
        swap-template: "0x01"
    sizing:
      policy: proportional
      multiplier-bps: 10000
      max-bps: 2000
      max-amount: "500000"
    max-slippage-bps: 0
    venue:
      - token-in: "0x00000000000000000000000000000000000000a1"
        token-out: "0x00000000000000000000000000000000000000a2"
        rate-bps: 9990
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML), nil)
	require.NoError(t, err)
	require.Equal(t, uint64(421614), cfg.Chain)
	require.Equal(t, "sqlite", cfg.StateBackend)
	require.Equal(t, "10000000000000000", cfg.Fee, "default fee")
	require.Equal(t, "info", cfg.LogLevel, "default log level")

	chain, ok := cfg.ChainByID(421614)
	require.True(t, ok)
	nc, err := chain.NodeConfig()
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0x01"), nc.Owner)
	require.Len(t, nc.Updaters, 1)
	require.Len(t, nc.TrustedRemotes, 1)
	require.EqualValues(t, 84532, nc.TrustedRemotes[0].ChainID)
	require.Len(t, nc.Routes, 2)
	require.EqualValues(t, 5000, nc.Routes[1].MinScore)
	require.Len(t, nc.Routes[1].SwapTemplate, 1)
	require.EqualValues(t, 421614, nc.Routes[0].Source, "route source is the owning chain")
	require.Zero(t, nc.MaxSlippageBps, "explicit zero slippage kept")

	sizing, ok := nc.Sizing.(decider.ProportionalSizing)
	require.True(t, ok, "sizing %#v", nc.Sizing)
	require.EqualValues(t, 2000, sizing.MaxBps)
	require.Equal(t, uint64(500000), sizing.MaxAmount.Uint64())

	venue, err := chain.SwapVenue()
	require.NoError(t, err)
	require.NotNil(t, venue)

	feed, err := cfg.ResolveFeed("BTC")
	require.NoError(t, err)
	require.Equal(t, nc.FeedA, feed)
}

func TestLoadFlagsAndEnvOverride(t *testing.T) {
	t.Setenv("REBALANCER_LOG_LEVEL", "debug")
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("state-backend", "file", "")
	require.NoError(t, flags.Parse([]string{"--state-backend=postgres"}))

	cfg, err := Load(writeConfig(t, sampleYAML), flags)
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.StateBackend, "flag overrides file")
	require.Equal(t, "debug", cfg.LogLevel, "env sets log level")
}

func TestLoadRejectsBadConfig(t *testing.T) {
	_, err := Load(writeConfig(t, "state-backend: etcd\n"), nil)
	require.Error(t, err, "unknown backend")
	dup := "chains:\n  - chain-id: 1\n  - chain-id: 1\n"
	_, err = Load(writeConfig(t, dup), nil)
	require.Error(t, err, "duplicate chain")
}

func TestNodeConfigDefaultsAndErrors(t *testing.T) {
	chain := ChainConfig{
		ChainID:    1,
		Controller: "0x000000000000000000000000000000000000c0a1",
		Vault:      "0x000000000000000000000000000000000000f0a1",
		Rebalancer: "0x000000000000000000000000000000000000e0a1",
		Asset:      "0x00000000000000000000000000000000000000a1",
		Owner:      "0x0000000000000000000000000000000000000001",
		FeedA:      "0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
		FeedB:      "0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace",
		Sizing:     SizingConfig{Policy: "fixed", Amount: "10000"},
	}
	nc, err := chain.NodeConfig()
	require.NoError(t, err)
	require.EqualValues(t, decider.DefaultMaxSlippageBps, nc.MaxSlippageBps)
	venue, err := chain.SwapVenue()
	require.NoError(t, err)
	require.Nil(t, venue)

	chain.Vault = "not-an-address"
	_, err = chain.NodeConfig()
	require.Error(t, err, "bad address")
	chain.Vault = "0x000000000000000000000000000000000000f0a1"
	chain.FeedA = "0x1234"
	_, err = chain.NodeConfig()
	require.Error(t, err, "bad feed id")
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("100")
	require.NoError(t, err)
	require.EqualValues(t, 100, ts)
	ts, err = ParseTimestamp("2024-01-01T00:00:00Z")
	require.NoError(t, err)
	require.EqualValues(t, 1704067200, ts)
	_, err = ParseTimestamp("yesterday")
	require.Error(t, err)
}
