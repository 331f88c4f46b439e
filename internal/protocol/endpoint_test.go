package protocol

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"crossRebalance/internal/model"
)

const (
	chainA = 421614
	chainB = 84532
)

var (
	addrA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	addrB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

type dispatched struct {
	destination uint64
	envelope    []byte
}

type recordingTransport struct {
	minFee uint64
	fail   error
	sent   []dispatched
}

func (r *recordingTransport) MinFee(context.Context, uint64, []byte) (*uint256.Int, error) {
	return uint256.NewInt(r.minFee), nil
}

func (r *recordingTransport) Dispatch(_ context.Context, dst uint64, envelope []byte, _ *uint256.Int) error {
	if r.fail != nil {
		return r.fail
	}
	r.sent = append(r.sent, dispatched{destination: dst, envelope: envelope})
	return nil
}

type countingApplier struct {
	applied []model.RebalanceMessage
	fail    error
}

func (c *countingApplier) Apply(_ context.Context, msg model.RebalanceMessage) (model.ExecutionResult, error) {
	if c.fail != nil {
		return model.ExecutionResult{}, c.fail
	}
	c.applied = append(c.applied, msg)
	return model.ExecutionResult{AmountOut: msg.AmountIn.Clone()}, nil
}

func newPair(t *testing.T) (*Endpoint, *recordingTransport, *Endpoint, *countingApplier) {
	t.Helper()
	transport := &recordingTransport{minFee: 100}
	sender := NewEndpoint(Config{
		ChainID:        chainA,
		Address:        addrA,
		TrustedRemotes: []model.TrustedRemote{{ChainID: chainB, Address: addrB}},
	}, transport, nil, nil)
	applier := &countingApplier{}
	receiver := NewEndpoint(Config{
		ChainID:        chainB,
		Address:        addrB,
		TrustedRemotes: []model.TrustedRemote{{ChainID: chainA, Address: addrA}},
	}, nil, applier, nil)
	return sender, transport, receiver, applier
}

func planMessage() model.RebalanceMessage {
	msg := sampleMessage()
	msg.DestinationChainID = chainB
	msg.Nonce = 0
	return msg
}

func TestSendAssignsIncreasingNonces(t *testing.T) {
	sender, transport, _, _ := newPair(t)
	ctx := context.Background()

	first, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
	require.NoError(t, err)
	second, err := sender.Send(ctx, planMessage(), uint256.NewInt(500))
	require.NoError(t, err)

	require.Equal(t, uint64(1), first.Nonce)
	require.Equal(t, uint64(2), second.Nonce)
	require.NotEqual(t, first.ID, second.ID)
	require.Len(t, transport.sent, 2)
	require.Len(t, sender.Pending(), 2)

	decoded, err := Decode(transport.sent[0].envelope)
	require.NoError(t, err)
	require.Equal(t, uint64(chainA), decoded.SourceChainID)
	require.Equal(t, addrA, decoded.SourceAddress)
}

func TestSendRejectsUntrustedDestinationAndLowFee(t *testing.T) {
	sender, transport, _, _ := newPair(t)
	ctx := context.Background()

	msg := planMessage()
	msg.DestinationChainID = 1
	_, err := sender.Send(ctx, msg, uint256.NewInt(100))
	require.ErrorIs(t, err, model.ErrUntrustedDestination)

	_, err = sender.Send(ctx, planMessage(), uint256.NewInt(99))
	require.ErrorIs(t, err, model.ErrInsufficientFee)

	require.Empty(t, transport.sent)
	require.Zero(t, sender.LastNonce(chainB))
	require.Empty(t, sender.Pending())
}

func TestSendDispatchFailureDoesNotConsumeNonce(t *testing.T) {
	sender, transport, _, _ := newPair(t)
	transport.fail = errors.New("network down")

	_, err := sender.Send(context.Background(), planMessage(), uint256.NewInt(100))
	require.Error(t, err)
	require.Zero(t, sender.LastNonce(chainB))

	transport.fail = nil
	handle, err := sender.Send(context.Background(), planMessage(), uint256.NewInt(100))
	require.NoError(t, err)
	require.Equal(t, uint64(1), handle.Nonce)
}

func TestReceiveIsIdempotent(t *testing.T) {
	sender, transport, receiver, applier := newPair(t)
	ctx := context.Background()
	_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
	require.NoError(t, err)
	envelope := transport.sent[0].envelope

	outcome, err := receiver.Receive(ctx, chainA, addrA, envelope)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	after := receiver.Snapshot()

	outcome, err = receiver.Receive(ctx, chainA, addrA, envelope)
	require.NoError(t, err)
	require.Equal(t, OutcomeReplayed, outcome)
	require.Len(t, applier.applied, 1)
	require.Equal(t, after, receiver.Snapshot())
}

func TestReceiveRejectsOutOfOrder(t *testing.T) {
	sender, transport, receiver, applier := newPair(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
		require.NoError(t, err)
	}

	outcome, err := receiver.Receive(ctx, chainA, addrA, transport.sent[2].envelope)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
	before := receiver.Snapshot()

	outcome, err = receiver.Receive(ctx, chainA, addrA, transport.sent[0].envelope)
	require.ErrorIs(t, err, model.ErrOutOfOrder)
	require.Equal(t, OutcomeRejected, outcome)
	require.Equal(t, before, receiver.Snapshot())
	require.Len(t, applier.applied, 1)
}

func TestReceiveWithinSkewApplies(t *testing.T) {
	sender, transport, _, _ := newPair(t)
	applier := &countingApplier{}
	receiver := NewEndpoint(Config{
		ChainID:        chainB,
		Address:        addrB,
		TrustedRemotes: []model.TrustedRemote{{ChainID: chainA, Address: addrA}},
		AllowedSkew:    1,
	}, nil, applier, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
		require.NoError(t, err)
	}

	for _, idx := range []int{2, 1} {
		outcome, err := receiver.Receive(ctx, chainA, addrA, transport.sent[idx].envelope)
		require.NoError(t, err)
		require.Equal(t, OutcomeApplied, outcome)
	}
	_, err := receiver.Receive(ctx, chainA, addrA, transport.sent[0].envelope)
	require.ErrorIs(t, err, model.ErrOutOfOrder)
	require.Equal(t, uint64(3), receiver.HighestApplied(chainA))
}

func TestReceiveRejectsUntrustedSource(t *testing.T) {
	sender, transport, receiver, applier := newPair(t)
	ctx := context.Background()
	_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
	require.NoError(t, err)
	envelope := transport.sent[0].envelope

	_, err = receiver.Receive(ctx, chainA, addrB, envelope)
	require.ErrorIs(t, err, model.ErrUntrustedSource)
	_, err = receiver.Receive(ctx, 1, addrA, envelope)
	require.ErrorIs(t, err, model.ErrUntrustedSource)

	receiver.RemoveTrustedRemote(chainA)
	_, err = receiver.Receive(ctx, chainA, addrA, envelope)
	require.ErrorIs(t, err, model.ErrUntrustedSource)
	require.Empty(t, applier.applied)
	require.False(t, receiver.Delivered(chainA, 1))
}

func TestReceiveRejectsMisroutedEnvelope(t *testing.T) {
	_, _, receiver, _ := newPair(t)
	msg := sampleMessage()
	msg.SourceChainID = chainA
	msg.SourceAddress = addrA
	msg.DestinationChainID = 1
	envelope, err := Encode(msg)
	require.NoError(t, err)

	_, err = receiver.Receive(context.Background(), chainA, addrA, envelope)
	require.ErrorIs(t, err, model.ErrMalformedEnvelope)
}

func TestReceiveApplyFailureLeavesMessageRetryable(t *testing.T) {
	sender, transport, receiver, applier := newPair(t)
	ctx := context.Background()
	_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
	require.NoError(t, err)
	envelope := transport.sent[0].envelope

	applier.fail = fmt.Errorf("venue: %w", model.ErrSlippageExceeded)
	_, err = receiver.Receive(ctx, chainA, addrA, envelope)
	require.ErrorIs(t, err, model.ErrSlippageExceeded)
	require.False(t, receiver.Delivered(chainA, 1))

	applier.fail = nil
	outcome, err := receiver.Receive(ctx, chainA, addrA, envelope)
	require.NoError(t, err)
	require.Equal(t, OutcomeApplied, outcome)
}

func TestAcknowledgeClearsPending(t *testing.T) {
	sender, _, _, _ := newPair(t)
	_, err := sender.Send(context.Background(), planMessage(), uint256.NewInt(100))
	require.NoError(t, err)

	require.NoError(t, sender.Acknowledge(chainB, 1))
	require.NoError(t, sender.Acknowledge(chainB, 1))
	require.Empty(t, sender.Pending())
	require.Error(t, sender.Acknowledge(chainB, 9))
}

func TestAcknowledgePrunesOutbox(t *testing.T) {
	sender, _, _, _ := newPair(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
		require.NoError(t, err)
	}

	require.NoError(t, sender.Acknowledge(chainB, 2))
	snap := sender.Snapshot()
	require.Len(t, snap.Outbox, 2)
	for _, entry := range snap.Outbox {
		require.NotEqual(t, uint64(2), entry.Nonce)
	}

	require.NoError(t, sender.Acknowledge(chainB, 1))
	require.NoError(t, sender.Acknowledge(chainB, 3))
	require.Empty(t, sender.Snapshot().Outbox)

	restored := NewEndpoint(Config{ChainID: chainA, Address: addrA}, &recordingTransport{}, nil, nil)
	restored.RestoreRemotes(sender.TrustedRemotes())
	require.NoError(t, restored.Restore(sender.Snapshot()))
	require.NoError(t, restored.Acknowledge(chainB, 2), "acknowledged before restore")
	require.Error(t, restored.Acknowledge(chainB, 4))
	require.Error(t, restored.Acknowledge(chainB, 0))
}

func TestSnapshotRestore(t *testing.T) {
	sender, _, _, _ := newPair(t)
	ctx := context.Background()
	_, err := sender.Send(ctx, planMessage(), uint256.NewInt(100))
	require.NoError(t, err)

	restored := NewEndpoint(Config{ChainID: chainA, Address: addrA}, &recordingTransport{}, nil, nil)
	restored.RestoreRemotes(sender.TrustedRemotes())
	require.NoError(t, restored.Restore(sender.Snapshot()))

	handle, err := restored.Send(ctx, planMessage(), uint256.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, uint64(2), handle.Nonce)
	require.Len(t, restored.Pending(), 2)
}
