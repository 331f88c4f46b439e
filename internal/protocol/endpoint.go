package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

// Transport is the outbound side of the cross-chain messaging network. It is
// assumed to deliver at-least-once, in any order, with unbounded delay.
type Transport interface {
	MinFee(ctx context.Context, destination uint64, envelope []byte) (*uint256.Int, error)
	Dispatch(ctx context.Context, destination uint64, envelope []byte, fee *uint256.Int) error
}

// Applier executes a decoded message on the receiving chain. It must either
// apply the message fully or leave no effects behind.
type Applier interface {
	Apply(ctx context.Context, msg model.RebalanceMessage) (model.ExecutionResult, error)
}

// Outcome is the result of a delivery.
type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeApplied
	OutcomeReplayed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeReplayed:
		return "replayed"
	default:
		return "rejected"
	}
}

// Handle identifies a sent message.
type Handle struct {
	ID          common.Hash
	Destination uint64
	Nonce       uint64
	Envelope    []byte
}

// Config holds an endpoint's identity and delivery policy.
type Config struct {
	ChainID        uint64
	Address        common.Address
	TrustedRemotes []model.TrustedRemote
	// AllowedSkew tolerates late nonces up to this distance below the
	// highest applied nonce of a source.
	AllowedSkew uint64
	Clock       func() uint64
}

// Endpoint sends and receives rebalance envelopes for one chain. Nonce
// assignment is committed together with a successful dispatch, and the replay
// record is committed together with a successful apply, both under the same
// lock.
type Endpoint struct {
	mu        sync.Mutex
	cfg       Config
	remotes   map[uint64]common.Address
	nonces    map[model.RouteKey]uint64
	highest   map[uint64]uint64
	delivered map[model.DeliveryRecord]struct{}
	outbox    []model.OutboxEntry
	transport Transport
	applier   Applier
	logger    *zap.Logger
}

// NewEndpoint creates an endpoint. transport may be nil for receive-only use
// and applier may be nil for send-only use.
func NewEndpoint(cfg Config, transport Transport, applier Applier, logger *zap.Logger) *Endpoint {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Endpoint{
		cfg:       cfg,
		remotes:   make(map[uint64]common.Address, len(cfg.TrustedRemotes)),
		nonces:    make(map[model.RouteKey]uint64),
		highest:   make(map[uint64]uint64),
		delivered: make(map[model.DeliveryRecord]struct{}),
		transport: transport,
		applier:   applier,
		logger:    logger.With(zap.Uint64("chain_id", cfg.ChainID)),
	}
	for _, r := range cfg.TrustedRemotes {
		e.remotes[r.ChainID] = r.Address
	}
	return e
}

// ChainID returns the local chain id.
func (e *Endpoint) ChainID() uint64 { return e.cfg.ChainID }

// Address returns the local endpoint address.
func (e *Endpoint) Address() common.Address { return e.cfg.Address }

// Send assigns the next nonce for the route, encodes msg and hands it to the
// transport with fee attached.
func (e *Endpoint) Send(ctx context.Context, msg model.RebalanceMessage, fee *uint256.Int) (Handle, error) {
	if e.transport == nil {
		return Handle{}, fmt.Errorf("endpoint has no transport")
	}
	if msg.AmountIn == nil || msg.AmountIn.IsZero() {
		return Handle{}, fmt.Errorf("send: %w", model.ErrZeroAmount)
	}
	if fee == nil {
		fee = new(uint256.Int)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	dst := msg.DestinationChainID
	if _, ok := e.remotes[dst]; !ok || dst == e.cfg.ChainID {
		return Handle{}, fmt.Errorf("destination %d: %w", dst, model.ErrUntrustedDestination)
	}

	key := model.RouteKey{Source: e.cfg.ChainID, Destination: dst}
	out := msg.Clone()
	out.SourceChainID = e.cfg.ChainID
	out.SourceAddress = e.cfg.Address
	out.Nonce = e.nonces[key] + 1

	envelope, err := Encode(out)
	if err != nil {
		return Handle{}, fmt.Errorf("encode envelope: %w", err)
	}

	minFee, err := e.transport.MinFee(ctx, dst, envelope)
	if err != nil {
		return Handle{}, fmt.Errorf("quote fee: %w", err)
	}
	if fee.Lt(minFee) {
		return Handle{}, fmt.Errorf("fee %s below minimum %s: %w",
			model.FormatAmount(fee), model.FormatAmount(minFee), model.ErrInsufficientFee)
	}

	if err := e.transport.Dispatch(ctx, dst, envelope, fee); err != nil {
		return Handle{}, fmt.Errorf("dispatch: %w", err)
	}

	e.nonces[key] = out.Nonce
	handle := Handle{ID: MessageID(envelope), Destination: dst, Nonce: out.Nonce, Envelope: envelope}
	e.outbox = append(e.outbox, model.OutboxEntry{
		ID:          handle.ID,
		Destination: dst,
		Nonce:       out.Nonce,
		Envelope:    envelope,
		Status:      model.OutboxPending,
		SentAt:      e.now(),
	})

	e.logger.Info("message sent",
		zap.Uint64("destination", dst),
		zap.Uint64("nonce", out.Nonce),
		zap.String("id", handle.ID.Hex()),
		zap.String("fee", model.FormatAmount(fee)),
	)
	return handle, nil
}

// Receive verifies and applies an inbound envelope. A redelivery of an
// already applied message returns OutcomeReplayed and a nil error.
func (e *Endpoint) Receive(ctx context.Context, srcChainID uint64, srcAddress common.Address, envelope []byte) (Outcome, error) {
	if e.applier == nil {
		return OutcomeRejected, fmt.Errorf("endpoint has no applier")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	trusted, ok := e.remotes[srcChainID]
	if !ok || trusted != srcAddress {
		return OutcomeRejected, fmt.Errorf("source %d/%s: %w", srcChainID, srcAddress.Hex(), model.ErrUntrustedSource)
	}

	msg, err := Decode(envelope)
	if err != nil {
		return OutcomeRejected, err
	}
	if msg.SourceChainID != srcChainID || msg.SourceAddress != srcAddress || msg.DestinationChainID != e.cfg.ChainID {
		return OutcomeRejected, fmt.Errorf("envelope route %d->%d does not match delivery %d->%d: %w",
			msg.SourceChainID, msg.DestinationChainID, srcChainID, e.cfg.ChainID, model.ErrMalformedEnvelope)
	}

	record := model.DeliveryRecord{SourceChainID: srcChainID, Nonce: msg.Nonce}
	if _, seen := e.delivered[record]; seen {
		e.logger.Info("replay ignored", zap.Uint64("source", srcChainID), zap.Uint64("nonce", msg.Nonce))
		return OutcomeReplayed, nil
	}

	highest := e.highest[srcChainID]
	if highest > e.cfg.AllowedSkew && msg.Nonce < highest-e.cfg.AllowedSkew {
		return OutcomeRejected, fmt.Errorf("nonce %d below highest applied %d (skew %d): %w",
			msg.Nonce, highest, e.cfg.AllowedSkew, model.ErrOutOfOrder)
	}

	result, err := e.applier.Apply(ctx, msg)
	if err != nil {
		e.logger.Warn("apply failed", zap.Uint64("source", srcChainID), zap.Uint64("nonce", msg.Nonce), zap.Error(err))
		return OutcomeRejected, fmt.Errorf("apply %d/%d: %w", srcChainID, msg.Nonce, err)
	}

	e.delivered[record] = struct{}{}
	if msg.Nonce > highest {
		e.highest[srcChainID] = msg.Nonce
	}

	e.logger.Info("message applied",
		zap.Uint64("source", srcChainID),
		zap.Uint64("nonce", msg.Nonce),
		zap.String("amount_out", model.FormatAmount(result.AmountOut)),
		zap.Bool("swapped", result.Swapped),
	)
	return OutcomeApplied, nil
}

// Pending lists outbound messages not yet acknowledged as delivered. These
// are in flight and may stay so indefinitely.
func (e *Endpoint) Pending() []model.OutboxEntry {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.OutboxEntry, 0)
	for _, entry := range e.outbox {
		if entry.Status == model.OutboxPending {
			out = append(out, cloneEntry(entry))
		}
	}
	return out
}

// Acknowledge drops a delivered message from the outbox. Acknowledging a nonce
// already removed is harmless; one that was never sent is an error.
func (e *Endpoint) Acknowledge(destination, nonce uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.outbox {
		if e.outbox[i].Destination == destination && e.outbox[i].Nonce == nonce {
			e.outbox = append(e.outbox[:i], e.outbox[i+1:]...)
			return nil
		}
	}
	key := model.RouteKey{Source: e.cfg.ChainID, Destination: destination}
	if nonce > 0 && nonce <= e.nonces[key] {
		return nil
	}
	return fmt.Errorf("no outbound message %d to chain %d", nonce, destination)
}

// Delivered reports whether (source, nonce) was already applied.
func (e *Endpoint) Delivered(source, nonce uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.delivered[model.DeliveryRecord{SourceChainID: source, Nonce: nonce}]
	return ok
}

// HighestApplied returns the highest nonce applied from source.
func (e *Endpoint) HighestApplied(source uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highest[source]
}

// LastNonce returns the last nonce assigned towards destination.
func (e *Endpoint) LastNonce(destination uint64) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces[model.RouteKey{Source: e.cfg.ChainID, Destination: destination}]
}

// SetTrustedRemote allow-lists addr on chainID, replacing any previous entry.
func (e *Endpoint) SetTrustedRemote(chainID uint64, addr common.Address) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remotes[chainID] = addr
}

// RemoveTrustedRemote drops the entry for chainID.
func (e *Endpoint) RemoveTrustedRemote(chainID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.remotes, chainID)
}

// TrustedRemotes returns the allow-list ordered by chain id.
func (e *Endpoint) TrustedRemotes() []model.TrustedRemote {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.TrustedRemote, 0, len(e.remotes))
	for id, addr := range e.remotes {
		out = append(out, model.TrustedRemote{ChainID: id, Address: addr})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

func (e *Endpoint) now() uint64 {
	if e.cfg.Clock == nil {
		return 0
	}
	return e.cfg.Clock()
}

func cloneEntry(entry model.OutboxEntry) model.OutboxEntry {
	entry.Envelope = append([]byte(nil), entry.Envelope...)
	return entry
}
