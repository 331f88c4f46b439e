package transport

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
	"crossRebalance/internal/protocol"
)

// Peer is a chain attached to the loopback network.
type Peer interface {
	Receive(ctx context.Context, srcChainID uint64, srcAddress common.Address, envelope []byte) (protocol.Outcome, error)
	Acknowledge(destination, nonce uint64) error
}

// Delivery is an envelope in flight.
type Delivery struct {
	Source        uint64
	SourceAddress common.Address
	Destination   uint64
	Envelope      []byte
	Fee           *uint256.Int
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Delivery Delivery
	Outcome  protocol.Outcome
	Err      error
}

type peerEntry struct {
	address common.Address
	peer    Peer
}

// Network is an in-process message bus between chains. It delivers
// at-least-once and only when asked to, so callers can reorder and redeliver.
type Network struct {
	mu     sync.Mutex
	minFee *uint256.Int
	peers  map[uint64]peerEntry
	queue  []Delivery
	logger *zap.Logger
}

// NewNetwork creates a network charging minFee per message.
func NewNetwork(minFee *uint256.Int, logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	if minFee == nil {
		minFee = new(uint256.Int)
	}
	return &Network{minFee: minFee.Clone(), peers: make(map[uint64]peerEntry), logger: logger}
}

// Port registers a chain's endpoint address and returns its outbound
// transport. The chain receives nothing until Connect is called.
func (n *Network) Port(chainID uint64, address common.Address) *Loopback {
	n.mu.Lock()
	defer n.mu.Unlock()
	entry := n.peers[chainID]
	entry.address = address
	n.peers[chainID] = entry
	return &Loopback{network: n, chainID: chainID}
}

// Connect attaches the receiving side of a chain registered with Port.
func (n *Network) Connect(chainID uint64, peer Peer) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	entry, ok := n.peers[chainID]
	if !ok {
		return fmt.Errorf("chain %d has no port", chainID)
	}
	entry.peer = peer
	n.peers[chainID] = entry
	return nil
}

// InFlight returns a copy of the undelivered queue.
func (n *Network) InFlight() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivery, len(n.queue))
	for i, d := range n.queue {
		out[i] = d.clone()
	}
	return out
}

// Shuffle reorders the queue deterministically for seed.
func (n *Network) Shuffle(seed int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	r := rand.New(rand.NewSource(seed))
	r.Shuffle(len(n.queue), func(i, j int) { n.queue[i], n.queue[j] = n.queue[j], n.queue[i] })
}

// Redeliver queues d again.
func (n *Network) Redeliver(d Delivery) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.queue = append(n.queue, d.clone())
}

// DeliverNext hands the head of the queue to its destination. Deliveries
// that fail are dropped; the source outbox still lists them as pending.
func (n *Network) DeliverNext(ctx context.Context) (Result, bool) {
	n.mu.Lock()
	if len(n.queue) == 0 {
		n.mu.Unlock()
		return Result{}, false
	}
	d := n.queue[0]
	n.queue = n.queue[1:]
	dst, okDst := n.peers[d.Destination]
	src, okSrc := n.peers[d.Source]
	n.mu.Unlock()

	res := Result{Delivery: d}
	if !okDst || dst.peer == nil {
		res.Err = fmt.Errorf("no chain %d on network", d.Destination)
		return res, true
	}
	res.Outcome, res.Err = dst.peer.Receive(ctx, d.Source, d.SourceAddress, d.Envelope)
	if res.Err != nil {
		n.logger.Warn("delivery rejected",
			zap.Uint64("source", d.Source),
			zap.Uint64("destination", d.Destination),
			zap.String("kind", string(model.Kind(res.Err))),
			zap.Error(res.Err),
		)
		return res, true
	}
	if okSrc && src.peer != nil {
		msg, err := protocol.Decode(d.Envelope)
		if err == nil {
			err = src.peer.Acknowledge(d.Destination, msg.Nonce)
		}
		if err != nil {
			n.logger.Warn("acknowledge failed", zap.Uint64("source", d.Source), zap.Error(err))
		}
	}
	return res, true
}

// Flush delivers until the queue is empty.
func (n *Network) Flush(ctx context.Context) []Result {
	var results []Result
	for {
		res, ok := n.DeliverNext(ctx)
		if !ok {
			return results
		}
		results = append(results, res)
	}
}

// Loopback is one chain's outbound side of a Network.
type Loopback struct {
	network *Network
	chainID uint64
}

// MinFee implements protocol.Transport.
func (l *Loopback) MinFee(_ context.Context, destination uint64, _ []byte) (*uint256.Int, error) {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	if _, ok := l.network.peers[destination]; !ok {
		return nil, fmt.Errorf("no chain %d on network", destination)
	}
	return l.network.minFee.Clone(), nil
}

// Dispatch implements protocol.Transport. It only queues.
func (l *Loopback) Dispatch(_ context.Context, destination uint64, envelope []byte, fee *uint256.Int) error {
	l.network.mu.Lock()
	defer l.network.mu.Unlock()
	src, ok := l.network.peers[l.chainID]
	if !ok {
		return fmt.Errorf("chain %d detached", l.chainID)
	}
	l.network.queue = append(l.network.queue, Delivery{
		Source:        l.chainID,
		SourceAddress: src.address,
		Destination:   destination,
		Envelope:      append([]byte(nil), envelope...),
		Fee:           fee.Clone(),
	})
	return nil
}

func (d Delivery) clone() Delivery {
	d.Envelope = append([]byte(nil), d.Envelope...)
	if d.Fee != nil {
		d.Fee = d.Fee.Clone()
	}
	return d
}
