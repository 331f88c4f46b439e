package protocol

import (
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"crossRebalance/internal/model"
)

// Snapshot exports nonces, delivery records and the outbox in a stable order.
func (e *Endpoint) Snapshot() model.ProtocolState {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := model.ProtocolState{}
	for key, nonce := range e.nonces {
		st.Nonces = append(st.Nonces, model.NonceState{Route: key, Nonce: nonce})
	}
	sort.Slice(st.Nonces, func(i, j int) bool { return st.Nonces[i].Route.Destination < st.Nonces[j].Route.Destination })

	for src, nonce := range e.highest {
		st.Highest = append(st.Highest, model.NonceState{
			Route: model.RouteKey{Source: src, Destination: e.cfg.ChainID},
			Nonce: nonce,
		})
	}
	sort.Slice(st.Highest, func(i, j int) bool { return st.Highest[i].Route.Source < st.Highest[j].Route.Source })

	for record := range e.delivered {
		st.Delivered = append(st.Delivered, record)
	}
	sort.Slice(st.Delivered, func(i, j int) bool {
		a, b := st.Delivered[i], st.Delivered[j]
		if a.SourceChainID != b.SourceChainID {
			return a.SourceChainID < b.SourceChainID
		}
		return a.Nonce < b.Nonce
	})

	for _, entry := range e.outbox {
		st.Outbox = append(st.Outbox, cloneEntry(entry))
	}
	return st
}

// Restore replaces the endpoint's nonces, delivery records and outbox.
func (e *Endpoint) Restore(st model.ProtocolState) error {
	nonces := make(map[model.RouteKey]uint64, len(st.Nonces))
	for _, n := range st.Nonces {
		if n.Route.Source != e.cfg.ChainID {
			return fmt.Errorf("nonce route %d->%d does not start at chain %d", n.Route.Source, n.Route.Destination, e.cfg.ChainID)
		}
		nonces[n.Route] = n.Nonce
	}
	highest := make(map[uint64]uint64, len(st.Highest))
	for _, n := range st.Highest {
		highest[n.Route.Source] = n.Nonce
	}
	delivered := make(map[model.DeliveryRecord]struct{}, len(st.Delivered))
	for _, record := range st.Delivered {
		delivered[record] = struct{}{}
		if record.Nonce > highest[record.SourceChainID] {
			highest[record.SourceChainID] = record.Nonce
		}
	}
	outbox := make([]model.OutboxEntry, 0, len(st.Outbox))
	for _, entry := range st.Outbox {
		key := model.RouteKey{Source: e.cfg.ChainID, Destination: entry.Destination}
		if entry.Nonce > nonces[key] {
			return fmt.Errorf("outbox nonce %d to chain %d exceeds route nonce %d", entry.Nonce, entry.Destination, nonces[key])
		}
		outbox = append(outbox, cloneEntry(entry))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonces = nonces
	e.highest = highest
	e.delivered = delivered
	e.outbox = outbox
	return nil
}

// RestoreRemotes replaces the trusted remote table.
func (e *Endpoint) RestoreRemotes(remotes []model.TrustedRemote) {
	table := make(map[uint64]common.Address, len(remotes))
	for _, r := range remotes {
		table[r.ChainID] = r.Address
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remotes = table
}
