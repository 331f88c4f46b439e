package custody

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"crossRebalance/internal/model"
)

var (
	usdc  = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	alice = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestTransferMovesBalance(t *testing.T) {
	book := NewBook(usdc)
	require.NoError(t, book.Credit(usdc, alice, uint256.NewInt(1000)))
	require.NoError(t, book.Transfer(usdc, alice, bob, uint256.NewInt(400)))

	require.Equal(t, uint64(600), book.BalanceOf(usdc, alice).Uint64())
	require.Equal(t, uint64(400), book.BalanceOf(usdc, bob).Uint64())
}

func TestTransferFailuresLeaveBalances(t *testing.T) {
	book := NewBook(usdc)
	require.NoError(t, book.Credit(usdc, alice, uint256.NewInt(10)))

	err := book.Transfer(usdc, alice, bob, uint256.NewInt(11))
	require.ErrorIs(t, err, model.ErrInsufficientBalance)
	err = book.Transfer(common.Address{1}, alice, bob, uint256.NewInt(1))
	require.ErrorIs(t, err, model.ErrUnknownToken)
	err = book.Transfer(usdc, alice, bob, new(uint256.Int))
	require.ErrorIs(t, err, model.ErrZeroAmount)

	require.Equal(t, uint64(10), book.BalanceOf(usdc, alice).Uint64())
	require.True(t, book.BalanceOf(usdc, bob).IsZero())
}

func TestCreditOverflow(t *testing.T) {
	book := NewBook(usdc)
	max := new(uint256.Int).SetAllOne()
	require.NoError(t, book.Credit(usdc, alice, max))
	require.ErrorIs(t, book.Credit(usdc, alice, uint256.NewInt(1)), model.ErrOverflow)
	require.Equal(t, max, book.BalanceOf(usdc, alice))
}

func TestSnapshotRestore(t *testing.T) {
	weth := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	book := NewBook(usdc, weth)
	require.NoError(t, book.Credit(usdc, alice, uint256.NewInt(5)))
	require.NoError(t, book.Credit(usdc, bob, uint256.NewInt(7)))

	snap := book.Snapshot()
	restored := NewBook()
	require.NoError(t, restored.Restore(snap))

	require.Equal(t, snap, restored.Snapshot())
	require.True(t, restored.Known(weth))
	require.Equal(t, uint64(7), restored.BalanceOf(usdc, bob).Uint64())
	require.Equal(t, []common.Address{usdc, weth}, restored.Tokens())
}
