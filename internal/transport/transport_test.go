package transport

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"crossRebalance/internal/model"
	"crossRebalance/internal/protocol"
)

type recordingPeer struct {
	received []uint64
	acked    []uint64
	fail     error
}

func (p *recordingPeer) Receive(_ context.Context, _ uint64, _ common.Address, envelope []byte) (protocol.Outcome, error) {
	if p.fail != nil {
		return protocol.OutcomeRejected, p.fail
	}
	msg, err := protocol.Decode(envelope)
	if err != nil {
		return protocol.OutcomeRejected, err
	}
	p.received = append(p.received, msg.Nonce)
	return protocol.OutcomeApplied, nil
}

func (p *recordingPeer) Acknowledge(_ uint64, nonce uint64) error {
	p.acked = append(p.acked, nonce)
	return nil
}

func envelope(t *testing.T, nonce uint64) []byte {
	t.Helper()
	env, err := protocol.Encode(model.RebalanceMessage{
		SourceChainID:      1,
		DestinationChainID: 2,
		Nonce:              nonce,
		AmountIn:           uint256.NewInt(10),
		MinOut:             uint256.NewInt(9),
		Swap:               model.NoSwap(),
	})
	require.NoError(t, err)
	return env
}

func TestNetworkDeliversAndAcknowledges(t *testing.T) {
	network := NewNetwork(uint256.NewInt(5), nil)
	src, dst := &recordingPeer{}, &recordingPeer{}
	out := network.Port(1, common.Address{1})
	network.Port(2, common.Address{2})
	require.NoError(t, network.Connect(1, src))
	require.NoError(t, network.Connect(2, dst))
	require.Error(t, network.Connect(9, dst))
	ctx := context.Background()

	fee, err := out.MinFee(ctx, 2, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(5), fee.Uint64())
	_, err = out.MinFee(ctx, 3, nil)
	require.Error(t, err)

	for n := uint64(1); n <= 3; n++ {
		require.NoError(t, out.Dispatch(ctx, 2, envelope(t, n), fee))
	}
	require.Empty(t, dst.received)
	require.Len(t, network.InFlight(), 3)

	results := network.Flush(ctx)
	require.Len(t, results, 3)
	require.Equal(t, []uint64{1, 2, 3}, dst.received)
	require.Equal(t, []uint64{1, 2, 3}, src.acked)
	require.Empty(t, network.InFlight())
}

func TestNetworkShuffleAndRedeliver(t *testing.T) {
	network := NewNetwork(nil, nil)
	dst := &recordingPeer{}
	out := network.Port(1, common.Address{1})
	network.Port(2, common.Address{2})
	require.NoError(t, network.Connect(1, &recordingPeer{}))
	require.NoError(t, network.Connect(2, dst))
	ctx := context.Background()
	for n := uint64(1); n <= 5; n++ {
		require.NoError(t, out.Dispatch(ctx, 2, envelope(t, n), new(uint256.Int)))
	}
	first := network.InFlight()[0]
	network.Shuffle(7)
	network.Redeliver(first)
	network.Flush(ctx)

	require.Len(t, dst.received, 6)
	require.ElementsMatch(t, []uint64{1, 1, 2, 3, 4, 5}, dst.received)
}

func TestNetworkRejectedDeliveryIsNotAcknowledged(t *testing.T) {
	network := NewNetwork(nil, nil)
	src := &recordingPeer{}
	out := network.Port(1, common.Address{1})
	network.Port(2, common.Address{2})
	require.NoError(t, network.Connect(1, src))
	require.NoError(t, network.Connect(2, &recordingPeer{fail: errors.New("boom")}))
	require.NoError(t, out.Dispatch(context.Background(), 2, envelope(t, 1), new(uint256.Int)))

	res, ok := network.DeliverNext(context.Background())
	require.True(t, ok)
	require.Error(t, res.Err)
	require.Equal(t, protocol.OutcomeRejected, res.Outcome)
	require.Empty(t, src.acked)

	_, ok = network.DeliverNext(context.Background())
	require.False(t, ok)
}

func TestJSONLOutboxAppendsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay", "outbox.jsonl")
	outbox := NewJSONLOutbox(path, 1, common.Address{1}, uint256.NewInt(3))
	ctx := context.Background()

	fee, err := outbox.MinFee(ctx, 2, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(3), fee.Uint64())

	require.NoError(t, outbox.Dispatch(ctx, 2, envelope(t, 1), uint256.NewInt(3)))
	require.NoError(t, outbox.Dispatch(ctx, 2, envelope(t, 2), uint256.NewInt(4)))
	require.Error(t, outbox.Dispatch(ctx, 2, []byte{1, 2, 3}, uint256.NewInt(4)))

	records, err := ReadOutbox(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(2), records[1].Nonce)
	require.Equal(t, "4", records[1].Fee)
	require.Equal(t, common.Address{1}, records[0].SourceAddress)
	require.Equal(t, protocol.MessageID(envelope(t, 1)), records[0].ID)
	require.Equal(t, envelope(t, 2), []byte(records[1].Envelope))

	missing, err := ReadOutbox(filepath.Join(t.TempDir(), "none.jsonl"))
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestStagedForwardsOnlyOnFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.jsonl")
	staged := NewStaged(NewJSONLOutbox(path, 1, common.Address{1}, uint256.NewInt(2)))
	ctx := context.Background()

	fee, err := staged.MinFee(ctx, 2, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), fee.Uint64())

	require.NoError(t, staged.Dispatch(ctx, 2, envelope(t, 1), fee))
	require.NoError(t, staged.Dispatch(ctx, 2, envelope(t, 2), fee))
	require.Equal(t, 2, staged.Held())

	records, err := ReadOutbox(path)
	require.NoError(t, err)
	require.Empty(t, records)

	require.NoError(t, staged.Flush(ctx))
	require.Zero(t, staged.Held())
	records, err = ReadOutbox(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(1), records[0].Nonce)

	require.NoError(t, staged.Dispatch(ctx, 2, envelope(t, 3), fee))
	staged.Discard()
	require.NoError(t, staged.Flush(ctx))
	records, err = ReadOutbox(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestCursorStoreRoundTrip(t *testing.T) {
	cursors := NewCursorStore(filepath.Join(t.TempDir(), "relay", "outbox.jsonl"))

	offset, err := cursors.Load(84532)
	require.NoError(t, err)
	require.Zero(t, offset)

	require.NoError(t, cursors.Save(84532, 7))
	require.NoError(t, cursors.Save(421614, 2))

	offset, err = cursors.Load(84532)
	require.NoError(t, err)
	require.Equal(t, 7, offset)

	offset, err = cursors.Load(421614)
	require.NoError(t, err)
	require.Equal(t, 2, offset)
}
