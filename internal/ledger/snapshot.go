package ledger

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"crossRebalance/internal/model"
)

// Snapshot exports the ledger with holders in address order.
func (l *Ledger) Snapshot() model.VaultState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holders := make([]common.Address, 0, len(l.balances))
	for holder := range l.balances {
		holders = append(holders, holder)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].Cmp(holders[j]) < 0 })

	st := model.VaultState{
		Asset:       l.asset,
		TotalShares: model.FormatAmount(l.totalShares),
		TotalAssets: model.FormatAmount(l.totalAssets),
	}
	for _, holder := range holders {
		st.Holders = append(st.Holders, model.HolderShares{
			Holder: holder,
			Shares: model.FormatAmount(l.balances[holder]),
		})
	}
	return st
}

// Restore replaces the ledger contents after checking its invariants.
func (l *Ledger) Restore(st model.VaultState) error {
	totalShares, err := model.ParseAmount(st.TotalShares)
	if err != nil {
		return fmt.Errorf("total shares: %w", err)
	}
	totalAssets, err := model.ParseAmount(st.TotalAssets)
	if err != nil {
		return fmt.Errorf("total assets: %w", err)
	}
	if totalShares.IsZero() != totalAssets.IsZero() {
		return fmt.Errorf("vault totals inconsistent: shares=%s assets=%s", st.TotalShares, st.TotalAssets)
	}

	sum := new(uint256.Int)
	balances := make(map[common.Address]*uint256.Int, len(st.Holders))
	for _, h := range st.Holders {
		shares, err := model.ParseAmount(h.Shares)
		if err != nil {
			return fmt.Errorf("holder %s: %w", h.Holder.Hex(), err)
		}
		if shares.IsZero() {
			continue
		}
		balances[h.Holder] = shares
		sum.Add(sum, shares)
	}
	if !sum.Eq(totalShares) {
		return fmt.Errorf("holder shares %s do not sum to total %s", model.FormatAmount(sum), st.TotalShares)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st.Asset != (common.Address{}) {
		l.asset = st.Asset
	}
	l.totalShares = totalShares
	l.totalAssets = totalAssets
	l.balances = balances
	return nil
}

// Holders returns the number of holders with a non-zero balance.
func (l *Ledger) Holders() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.balances)
}

// SumBalances adds up every holder balance.
func (l *Ledger) SumBalances() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sum := new(uint256.Int)
	for _, bal := range l.balances {
		sum.Add(sum, bal)
	}
	return sum
}
