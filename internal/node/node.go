package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/custody"
	"crossRebalance/internal/decider"
	"crossRebalance/internal/executor"
	"crossRebalance/internal/ledger"
	"crossRebalance/internal/model"
	"crossRebalance/internal/pricestore"
	"crossRebalance/internal/protocol"
	"crossRebalance/internal/risk"
)

// Config describes one chain deployment.
type Config struct {
	ChainID uint64
	// Controller is the messaging endpoint address on this chain.
	Controller common.Address
	// Vault holds the underlying asset backing the share ledger.
	Vault common.Address
	// Rebalancer holds bridged funds while a message is applied.
	Rebalancer common.Address
	Asset      common.Address
	Tokens     []common.Address

	// Genesis admin tables. Later changes go through the Admin methods.
	Owner          common.Address
	Updaters       []common.Address
	TrustedRemotes []model.TrustedRemote
	ThresholdBps   model.RiskScore

	FeedA       common.Hash
	FeedB       common.Hash
	PriceWindow int
	MaxPriceAge uint64

	Routes          []decider.Route
	Sizing          decider.SizingPolicy
	MaxSlippageBps  uint64
	AllowZeroMinOut bool

	AllowedSkew uint64
	AutoDeposit bool
	Clock       func() uint64
}

// Node is one chain's state machine. Every state transition runs under a
// single lock, so the components behind it never interleave.
type Node struct {
	mu       sync.Mutex
	cfg      Config
	owner    common.Address
	prices   *pricestore.Store
	risk     *risk.Engine
	ledger   *ledger.Ledger
	custody  *custody.Book
	decider  *decider.Decider
	endpoint *protocol.Endpoint
	executor *executor.Executor
	logger   *zap.Logger
}

// New wires a node. transport carries outbound envelopes and venue executes
// inbound swap instructions; venue may be nil.
func New(cfg Config, transport protocol.Transport, venue executor.SwapVenue, logger *zap.Logger) (*Node, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChainID == 0 {
		return nil, fmt.Errorf("chain id is required")
	}
	if cfg.Asset == (common.Address{}) {
		return nil, fmt.Errorf("vault asset is required")
	}
	logger = logger.With(zap.Uint64("chain_id", cfg.ChainID))

	tokens := append([]common.Address{cfg.Asset}, cfg.Tokens...)
	book := custody.NewBook(tokens...)
	prices := pricestore.New(pricestore.Config{
		Updaters: cfg.Updaters,
		Window:   cfg.PriceWindow,
		Clock:    pricestore.Clock(cfg.Clock),
	}, logger.Named("prices"))
	engine := risk.NewEngine(risk.Config{MaxPriceAge: cfg.MaxPriceAge}, prices)
	shares := ledger.New(cfg.Asset, logger.Named("ledger"))

	dec, err := decider.New(decider.Config{
		LocalChainID:    cfg.ChainID,
		FeedA:           cfg.FeedA,
		FeedB:           cfg.FeedB,
		ThresholdBps:    cfg.ThresholdBps,
		Routes:          cfg.Routes,
		Sizing:          cfg.Sizing,
		MaxSlippageBps:  cfg.MaxSlippageBps,
		AllowZeroMinOut: cfg.AllowZeroMinOut,
	}, engine, shares, logger.Named("decider"))
	if err != nil {
		return nil, fmt.Errorf("decider: %w", err)
	}

	exec := executor.New(executor.Config{
		Address:      cfg.Rebalancer,
		VaultAddress: cfg.Vault,
		AutoDeposit:  cfg.AutoDeposit,
	}, book, shares, venue, logger.Named("executor"))

	endpoint := protocol.NewEndpoint(protocol.Config{
		ChainID:        cfg.ChainID,
		Address:        cfg.Controller,
		TrustedRemotes: cfg.TrustedRemotes,
		AllowedSkew:    cfg.AllowedSkew,
		Clock:          cfg.Clock,
	}, transport, exec, logger.Named("protocol"))

	return &Node{
		cfg:      cfg,
		owner:    cfg.Owner,
		prices:   prices,
		risk:     engine,
		ledger:   shares,
		custody:  book,
		decider:  dec,
		endpoint: endpoint,
		executor: exec,
		logger:   logger,
	}, nil
}

// ChainID returns the node's chain id.
func (n *Node) ChainID() uint64 { return n.cfg.ChainID }

// Controller returns the messaging endpoint address.
func (n *Node) Controller() common.Address { return n.cfg.Controller }

// Now returns the node's chain time.
func (n *Node) Now() uint64 { return n.prices.Now() }

// UpdatePrice records a price pushed by signer.
func (n *Node) UpdatePrice(feedID common.Hash, price *uint256.Int, timestamp uint64, signer common.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prices.Update(feedID, price, timestamp, signer)
}

// Price returns the last accepted value of a feed.
func (n *Node) Price(feedID common.Hash) (model.PriceFeed, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.prices.Feed(feedID)
}

// Risk scores the configured feed pair.
func (n *Node) Risk() (risk.Breakdown, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.risk.Explain(n.cfg.FeedA, n.cfg.FeedB)
}

// Evaluate asks the decider for a plan without sending anything.
func (n *Node) Evaluate(ctx context.Context) decider.Decision {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.decider.Evaluate(ctx)
}

// Send dispatches plan. The outflow leaves the vault before dispatch and is
// restored if the send fails.
func (n *Node) Send(ctx context.Context, plan *decider.Plan, fee *uint256.Int) (protocol.Handle, error) {
	if plan == nil {
		return protocol.Handle{}, fmt.Errorf("send: no plan")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sendLocked(ctx, plan.Message, fee)
}

// Rebalance evaluates and, when triggered, sends in one step.
func (n *Node) Rebalance(ctx context.Context, fee *uint256.Int) (decider.Decision, *protocol.Handle, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	decision := n.decider.Evaluate(ctx)
	if !decision.Triggered() {
		return decision, nil, nil
	}
	handle, err := n.sendLocked(ctx, decision.Plan.Message, fee)
	if err != nil {
		return decision, nil, err
	}
	return decision, &handle, nil
}

func (n *Node) sendLocked(ctx context.Context, msg model.RebalanceMessage, fee *uint256.Int) (protocol.Handle, error) {
	if msg.AmountIn == nil || msg.AmountIn.IsZero() {
		return protocol.Handle{}, fmt.Errorf("send: %w", model.ErrZeroAmount)
	}

	var undo []func() error
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			if err := undo[i](); err != nil {
				n.logger.Error("restore outflow", zap.Int("step", i), zap.Error(err))
			}
		}
	}

	if msg.TokenIn == n.cfg.Asset {
		if err := n.ledger.DebitAssets(msg.AmountIn); err != nil {
			return protocol.Handle{}, fmt.Errorf("vault outflow: %w", err)
		}
		undo = append(undo, func() error { return n.ledger.CreditAssets(msg.AmountIn) })
	}
	if err := n.custody.Debit(msg.TokenIn, n.cfg.Vault, msg.AmountIn); err != nil {
		rollback()
		return protocol.Handle{}, fmt.Errorf("custody outflow: %w", err)
	}
	undo = append(undo, func() error { return n.custody.Credit(msg.TokenIn, n.cfg.Vault, msg.AmountIn) })

	handle, err := n.endpoint.Send(ctx, msg, fee)
	if err != nil {
		rollback()
		return protocol.Handle{}, err
	}
	return handle, nil
}

// Receive applies an inbound envelope.
func (n *Node) Receive(ctx context.Context, srcChainID uint64, srcAddress common.Address, envelope []byte) (protocol.Outcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoint.Receive(ctx, srcChainID, srcAddress, envelope)
}

// Pending lists unacknowledged outbound messages.
func (n *Node) Pending() []model.OutboxEntry {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoint.Pending()
}

// Acknowledge removes a delivered message from the outbox.
func (n *Node) Acknowledge(destination, nonce uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoint.Acknowledge(destination, nonce)
}

// Deposit pools assets from holder into the vault and returns the shares
// minted.
func (n *Node) Deposit(holder common.Address, assets *uint256.Int) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if assets == nil || assets.IsZero() {
		return nil, fmt.Errorf("deposit: %w", model.ErrZeroAmount)
	}
	if err := n.custody.Credit(n.cfg.Asset, n.cfg.Vault, assets); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	shares, err := n.ledger.Deposit(holder, assets)
	if err != nil {
		if undoErr := n.custody.Debit(n.cfg.Asset, n.cfg.Vault, assets); undoErr != nil {
			n.logger.Error("undo deposit custody", zap.Error(undoErr))
		}
		return nil, fmt.Errorf("deposit: %w", err)
	}
	return shares, nil
}

// Withdraw burns shares and pays the released assets to holder's custody.
func (n *Node) Withdraw(holder common.Address, shares *uint256.Int) (*uint256.Int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	prev := n.ledger.Snapshot()
	assets, err := n.ledger.Withdraw(holder, shares)
	if err != nil {
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	if err := n.custody.Transfer(n.cfg.Asset, n.cfg.Vault, holder, assets); err != nil {
		// Vault custody always covers TotalAssets, so this means corruption.
		n.logger.Error("vault custody out of sync", zap.Error(err))
		if undoErr := n.ledger.Restore(prev); undoErr != nil {
			n.logger.Error("undo withdraw", zap.Error(undoErr))
		}
		return nil, fmt.Errorf("withdraw payout: %w", err)
	}
	return assets, nil
}

// BalanceOf returns holder's shares.
func (n *Node) BalanceOf(holder common.Address) *uint256.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.BalanceOf(holder)
}

// Vault returns the share ledger totals.
func (n *Node) Vault() model.Vault {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ledger.Vault()
}

// Custody returns holder's balance of token.
func (n *Node) Custody(token, holder common.Address) *uint256.Int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.custody.BalanceOf(token, holder)
}

// CustodyTokens returns every token the node tracks.
func (n *Node) CustodyTokens() []common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.custody.Tokens()
}

// Addresses returns the node's custody-holding addresses.
func (n *Node) Addresses() (vault, rebalancer common.Address) {
	return n.cfg.Vault, n.cfg.Rebalancer
}
