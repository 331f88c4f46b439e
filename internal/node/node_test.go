package node

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"crossRebalance/internal/decider"
	"crossRebalance/internal/model"
	"crossRebalance/internal/protocol"
	"crossRebalance/internal/transport"
)

const (
	arbSepolia  = 421614
	baseSepolia = 84532
)

var (
	btcFeed = common.HexToHash("0xe62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43")
	ethFeed = common.HexToHash("0xff61491a931112ddf1bd8147cd1b641375f79f5825126d665480874634fd0ace")

	usdc    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	owner   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	updater = common.HexToAddress("0x0000000000000000000000000000000000000002")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000b1")

	ctrlA  = common.HexToAddress("0x000000000000000000000000000000000000c0a1")
	vaultA = common.HexToAddress("0x000000000000000000000000000000000000f0a1")
	rebA   = common.HexToAddress("0x000000000000000000000000000000000000e0a1")
	ctrlB  = common.HexToAddress("0x000000000000000000000000000000000000c0b2")
	vaultB = common.HexToAddress("0x000000000000000000000000000000000000f0b2")
	rebB   = common.HexToAddress("0x000000000000000000000000000000000000e0b2")
)

func chainConfig(chainID uint64, ctrl, vault, reb common.Address, remote model.TrustedRemote, now *uint64) Config {
	return Config{
		ChainID:        chainID,
		Controller:     ctrl,
		Vault:          vault,
		Rebalancer:     reb,
		Asset:          usdc,
		Owner:          owner,
		Updaters:       []common.Address{updater},
		TrustedRemotes: []model.TrustedRemote{remote},
		ThresholdBps:   500,
		FeedA:          btcFeed,
		FeedB:          ethFeed,
		MaxPriceAge:    3600,
		Routes: []decider.Route{{
			Source:      chainID,
			Destination: remote.ChainID,
			TokenIn:     usdc,
			TokenOut:    usdc,
			Beneficiary: alice,
		}},
		Sizing: decider.FixedSizing{Amount: uint256.NewInt(10_000)},
		Clock:  func() uint64 { return *now },
	}
}

type pair struct {
	network *transport.Network
	a, b    *Node
	now     *uint64
}

func newPair(t *testing.T) pair {
	t.Helper()
	now := uint64(200)
	network := transport.NewNetwork(uint256.NewInt(10_000_000_000_000_000), nil)

	portA := network.Port(arbSepolia, ctrlA)
	portB := network.Port(baseSepolia, ctrlB)
	a, err := New(chainConfig(arbSepolia, ctrlA, vaultA, rebA, model.TrustedRemote{ChainID: baseSepolia, Address: ctrlB}, &now), portA, nil, nil)
	require.NoError(t, err)
	b, err := New(chainConfig(baseSepolia, ctrlB, vaultB, rebB, model.TrustedRemote{ChainID: arbSepolia, Address: ctrlA}, &now), portB, nil, nil)
	require.NoError(t, err)
	require.NoError(t, network.Connect(arbSepolia, a))
	require.NoError(t, network.Connect(baseSepolia, b))
	return pair{network: network, a: a, b: b, now: &now}
}

func pushPrices(t *testing.T, n *Node, btc, eth string, ts uint64) {
	t.Helper()
	btcPrice, err := model.ParsePrice(btc)
	require.NoError(t, err)
	ethPrice, err := model.ParsePrice(eth)
	require.NoError(t, err)
	require.NoError(t, n.UpdatePrice(btcFeed, btcPrice, ts, updater))
	require.NoError(t, n.UpdatePrice(ethFeed, ethPrice, ts, updater))
}

func fee() *uint256.Int { return uint256.NewInt(10_000_000_000_000_000) }

func TestEndToEndRebalance(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.a.Deposit(alice, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	pushPrices(t, p.a, "60000.00000000", "3000.00000000", 100)

	breakdown, err := p.a.Risk()
	require.NoError(t, err)
	require.Equal(t, model.RiskScore(9500), breakdown.Score)

	decision := p.a.Evaluate(ctx)
	require.True(t, decision.Triggered())
	require.Equal(t, uint64(10_000), decision.Plan.Message.AmountIn.Uint64())
	require.False(t, decision.Plan.Message.MinOut.IsZero())

	handle, err := p.a.Send(ctx, decision.Plan, fee())
	require.NoError(t, err)
	require.Equal(t, uint64(1), handle.Nonce)
	require.Len(t, p.a.Pending(), 1)

	before := p.b.Custody(usdc, alice)
	results := p.network.Flush(ctx)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	require.Equal(t, protocol.OutcomeApplied, results[0].Outcome)

	after := p.b.Custody(usdc, alice)
	require.Equal(t, uint64(10_000), new(uint256.Int).Sub(after, before).Uint64())
	require.Empty(t, p.a.Pending())

	vault := p.a.Vault()
	require.Equal(t, uint64(990_000), vault.TotalAssets.Uint64())
	require.Equal(t, uint64(1_000_000), vault.TotalShares.Uint64())
	require.Equal(t, uint64(990_000), p.a.Custody(usdc, vaultA).Uint64())
}

func TestRedeliveryIsReplayed(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.a.Deposit(alice, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	pushPrices(t, p.a, "60000", "3000", 100)

	_, handle, err := p.a.Rebalance(ctx, fee())
	require.NoError(t, err)
	require.NotNil(t, handle)

	delivery := p.network.InFlight()[0]
	p.network.Redeliver(delivery)
	results := p.network.Flush(ctx)
	require.Len(t, results, 2)
	require.Equal(t, protocol.OutcomeApplied, results[0].Outcome)
	require.Equal(t, protocol.OutcomeReplayed, results[1].Outcome)
	require.NoError(t, results[1].Err)
	require.Equal(t, uint64(10_000), p.b.Custody(usdc, alice).Uint64())
}

func TestNoActionOnStaleData(t *testing.T) {
	p := newPair(t)
	_, err := p.a.Deposit(alice, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	pushPrices(t, p.a, "60000", "3000", 100)
	*p.now = 100 + 3601

	decision, handle, err := p.a.Rebalance(context.Background(), fee())
	require.NoError(t, err)
	require.Nil(t, handle)
	require.Equal(t, decider.ReasonStaleData, decision.Reason)
	require.Empty(t, p.network.InFlight())
}

func TestFailedSendRestoresVault(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.a.Deposit(alice, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	pushPrices(t, p.a, "60000", "3000", 100)

	decision := p.a.Evaluate(ctx)
	require.True(t, decision.Triggered())

	_, err = p.a.Send(ctx, decision.Plan, uint256.NewInt(1))
	require.ErrorIs(t, err, model.ErrInsufficientFee)

	require.NoError(t, p.a.AdminRemoveTrustedRemote(owner, baseSepolia))
	_, err = p.a.Send(ctx, decision.Plan, fee())
	require.ErrorIs(t, err, model.ErrUntrustedDestination)

	vault := p.a.Vault()
	require.Equal(t, uint64(1_000_000), vault.TotalAssets.Uint64())
	require.Equal(t, uint64(1_000_000), p.a.Custody(usdc, vaultA).Uint64())
	require.Empty(t, p.a.Pending())
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	p := newPair(t)
	shares, err := p.b.Deposit(alice, uint256.NewInt(600))
	require.NoError(t, err)
	require.Equal(t, uint64(600), shares.Uint64())

	assets, err := p.b.Withdraw(alice, shares)
	require.NoError(t, err)
	require.Equal(t, uint64(600), assets.Uint64())
	require.Equal(t, uint64(600), p.b.Custody(usdc, alice).Uint64())
	require.True(t, p.b.Custody(usdc, vaultB).IsZero())

	_, err = p.b.Withdraw(alice, uint256.NewInt(1))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	_, err = p.b.Deposit(alice, new(uint256.Int))
	require.ErrorIs(t, err, model.ErrZeroAmount)
}

func TestWithdrawRoundingToZeroLeavesLedger(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.a.Deposit(alice, uint256.NewInt(10_001))
	require.NoError(t, err)
	pushPrices(t, p.a, "60000", "3000", 100)

	// The fixed 10_000 outflow leaves 1 asset behind 10_001 shares.
	_, handle, err := p.a.Rebalance(ctx, fee())
	require.NoError(t, err)
	require.NotNil(t, handle)

	before := p.a.Vault()
	require.Equal(t, uint64(1), before.TotalAssets.Uint64())

	_, err = p.a.Withdraw(alice, uint256.NewInt(1))
	require.ErrorIs(t, err, model.ErrZeroAssets)
	require.Equal(t, before, p.a.Vault())
	require.Equal(t, uint64(10_001), p.a.BalanceOf(alice).Uint64())
	require.Equal(t, uint64(1), p.a.Custody(usdc, vaultA).Uint64())
	require.True(t, p.a.Custody(usdc, alice).IsZero())

	assets, err := p.a.Withdraw(alice, uint256.NewInt(10_001))
	require.NoError(t, err)
	require.Equal(t, uint64(1), assets.Uint64())
	require.True(t, p.a.Vault().TotalShares.IsZero())
	require.True(t, p.a.Custody(usdc, vaultA).IsZero())
}

func TestAdminRequiresOwner(t *testing.T) {
	p := newPair(t)
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000ee")

	require.ErrorIs(t, p.a.AdminSetThreshold(stranger, 1), model.ErrUnauthorized)
	require.ErrorIs(t, p.a.AdminSetUpdater(stranger, stranger, true), model.ErrUnauthorized)
	require.ErrorIs(t, p.a.AdminSetTrustedRemote(stranger, 1, stranger), model.ErrUnauthorized)

	price, err := model.ParsePrice("1")
	require.NoError(t, err)
	solFeed := common.HexToHash("0xef0d8b6fda2ceba41da15d4095d1da392a0d2f8ed0c6c7bc0f4cfac8c280b56d")
	require.ErrorIs(t, p.a.UpdatePrice(solFeed, price, 1, stranger), model.ErrUnauthorized)

	require.NoError(t, p.a.AdminSetUpdater(owner, stranger, true))
	require.NoError(t, p.a.UpdatePrice(solFeed, price, 1, stranger))

	require.NoError(t, p.a.AdminTransferOwnership(owner, stranger))
	require.ErrorIs(t, p.a.AdminSetThreshold(owner, 1), model.ErrUnauthorized)
	require.NoError(t, p.a.AdminSetThreshold(stranger, 10_000))

	pushPrices(t, p.a, "60000", "3000", 100)
	decision := p.a.Evaluate(context.Background())
	require.Equal(t, decider.ReasonBelowThreshold, decision.Reason)
}

func TestSnapshotRestore(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()
	_, err := p.a.Deposit(alice, uint256.NewInt(1_000_000))
	require.NoError(t, err)
	pushPrices(t, p.a, "60000", "3000", 100)
	_, _, err = p.a.Rebalance(ctx, fee())
	require.NoError(t, err)
	require.NoError(t, p.a.AdminSetThreshold(owner, 700))

	snap := p.a.Snapshot()

	now := uint64(200)
	restored, err := New(chainConfig(arbSepolia, ctrlA, vaultA, rebA, model.TrustedRemote{ChainID: baseSepolia, Address: ctrlB}, &now),
		p.network.Port(arbSepolia, ctrlA), nil, nil)
	require.NoError(t, err)
	require.NoError(t, restored.Restore(snap))

	again := restored.Snapshot()
	again.UpdatedAt = snap.UpdatedAt
	require.Equal(t, snap, again)
	require.Len(t, restored.Pending(), 1)

	snap.ChainID = baseSepolia
	require.Error(t, restored.Restore(snap))
}
