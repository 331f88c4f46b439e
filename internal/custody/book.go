package custody

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
)

// Book tracks token balances held by addresses on one chain. Only registered
// tokens can be moved.
type Book struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*uint256.Int
}

// NewBook creates a book that accepts the given tokens.
func NewBook(tokens ...common.Address) *Book {
	b := &Book{balances: make(map[common.Address]map[common.Address]*uint256.Int, len(tokens))}
	for _, token := range tokens {
		b.balances[token] = make(map[common.Address]*uint256.Int)
	}
	return b
}

// RegisterToken adds token to the book. Registering twice is a no-op.
func (b *Book) RegisterToken(token common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.balances[token]; !ok {
		b.balances[token] = make(map[common.Address]*uint256.Int)
	}
}

// Known reports whether token is registered.
func (b *Book) Known(token common.Address) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.balances[token]
	return ok
}

// Tokens returns the registered tokens in address order.
func (b *Book) Tokens() []common.Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]common.Address, 0, len(b.balances))
	for token := range b.balances {
		out = append(out, token)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}

// BalanceOf returns holder's balance of token. Unknown tokens read as zero.
func (b *Book) BalanceOf(token, holder common.Address) *uint256.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[token][holder]; ok {
		return bal.Clone()
	}
	return new(uint256.Int)
}

// Credit mints amount of token to holder.
func (b *Book) Credit(token, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("credit: %w", model.ErrZeroAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	holders, ok := b.balances[token]
	if !ok {
		return fmt.Errorf("credit %s: %w", token.Hex(), model.ErrUnknownToken)
	}
	cur := holders[holder]
	if cur == nil {
		cur = new(uint256.Int)
	}
	next, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("credit %s: %w", token.Hex(), model.ErrOverflow)
	}
	holders[holder] = next
	return nil
}

// Debit burns amount of token from holder.
func (b *Book) Debit(token, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("debit: %w", model.ErrZeroAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.debitLocked(token, holder, amount)
}

// Transfer moves amount of token from one holder to another.
func (b *Book) Transfer(token, from, to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("transfer: %w", model.ErrZeroAmount)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.debitLocked(token, from, amount); err != nil {
		return err
	}
	holders := b.balances[token]
	cur := holders[to]
	if cur == nil {
		cur = new(uint256.Int)
	}
	// Total supply of token bounds every balance, so this cannot overflow.
	holders[to] = new(uint256.Int).Add(cur, amount)
	return nil
}

func (b *Book) debitLocked(token, holder common.Address, amount *uint256.Int) error {
	holders, ok := b.balances[token]
	if !ok {
		return fmt.Errorf("debit %s: %w", token.Hex(), model.ErrUnknownToken)
	}
	cur := holders[holder]
	if cur == nil || cur.Lt(amount) {
		return fmt.Errorf("%s holds %s of %s, need %s: %w",
			holder.Hex(), model.FormatAmount(cur), token.Hex(), model.FormatAmount(amount), model.ErrInsufficientBalance)
	}
	next := new(uint256.Int).Sub(cur, amount)
	if next.IsZero() {
		delete(holders, holder)
		return nil
	}
	holders[holder] = next
	return nil
}

// Snapshot exports non-zero balances ordered by token then holder.
func (b *Book) Snapshot() []model.CustodyBalance {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.CustodyBalance, 0)
	for token, holders := range b.balances {
		if len(holders) == 0 {
			out = append(out, model.CustodyBalance{Token: token, Amount: "0"})
			continue
		}
		for holder, bal := range holders {
			out = append(out, model.CustodyBalance{Token: token, Holder: holder, Amount: model.FormatAmount(bal)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Token.Cmp(out[j].Token); c != 0 {
			return c < 0
		}
		return out[i].Holder.Cmp(out[j].Holder) < 0
	})
	return out
}

// Restore replaces all balances. Zero entries only register their token.
func (b *Book) Restore(entries []model.CustodyBalance) error {
	balances := make(map[common.Address]map[common.Address]*uint256.Int)
	for _, entry := range entries {
		holders, ok := balances[entry.Token]
		if !ok {
			holders = make(map[common.Address]*uint256.Int)
			balances[entry.Token] = holders
		}
		amount, err := model.ParseAmount(entry.Amount)
		if err != nil {
			return fmt.Errorf("custody %s/%s: %w", entry.Token.Hex(), entry.Holder.Hex(), err)
		}
		if amount.IsZero() {
			continue
		}
		if _, dup := holders[entry.Holder]; dup {
			return fmt.Errorf("custody %s/%s listed twice", entry.Token.Hex(), entry.Holder.Hex())
		}
		holders[entry.Holder] = amount
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for token := range b.balances {
		if _, ok := balances[token]; !ok {
			balances[token] = make(map[common.Address]*uint256.Int)
		}
	}
	b.balances = balances
	return nil
}
