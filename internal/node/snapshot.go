package node

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

// Snapshot captures the node's full state.
func (n *Node) Snapshot() model.ChainState {
	n.mu.Lock()
	defer n.mu.Unlock()

	return model.ChainState{
		ChainID: n.cfg.ChainID,
		Admin: model.AdminState{
			Owner:          n.owner,
			Updaters:       n.prices.Updaters(),
			TrustedRemotes: n.endpoint.TrustedRemotes(),
			ThresholdBps:   uint64(n.decider.Threshold()),
		},
		Feeds:     n.prices.Snapshot(),
		Vault:     n.ledger.Snapshot(),
		Custody:   n.custody.Snapshot(),
		Protocol:  n.endpoint.Snapshot(),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Restore replaces the node's state with st. Admin tables in st take
// precedence over the genesis configuration.
func (n *Node) Restore(st model.ChainState) error {
	if st.ChainID != n.cfg.ChainID {
		return fmt.Errorf("state belongs to chain %d, node is chain %d", st.ChainID, n.cfg.ChainID)
	}
	if st.Vault.Asset != n.cfg.Asset {
		return fmt.Errorf("state vault asset %s does not match %s", st.Vault.Asset.Hex(), n.cfg.Asset.Hex())
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	prev := model.ChainState{
		Feeds:    n.prices.Snapshot(),
		Vault:    n.ledger.Snapshot(),
		Custody:  n.custody.Snapshot(),
		Protocol: n.endpoint.Snapshot(),
	}
	if err := n.restoreParts(st); err != nil {
		if undoErr := n.restoreParts(prev); undoErr != nil {
			n.logger.Error("revert partial restore", zap.Error(undoErr))
		}
		return err
	}
	// Tokens added to the configuration after the snapshot was taken.
	n.custody.RegisterToken(n.cfg.Asset)
	for _, token := range n.cfg.Tokens {
		n.custody.RegisterToken(token)
	}

	n.owner = st.Admin.Owner
	for _, addr := range n.prices.Updaters() {
		n.prices.SetUpdater(addr, false)
	}
	for _, addr := range st.Admin.Updaters {
		n.prices.SetUpdater(addr, true)
	}
	n.endpoint.RestoreRemotes(st.Admin.TrustedRemotes)
	n.decider.SetThreshold(model.RiskScore(st.Admin.ThresholdBps))
	return nil
}

func (n *Node) restoreParts(st model.ChainState) error {
	if err := n.prices.Restore(st.Feeds); err != nil {
		return fmt.Errorf("restore prices: %w", err)
	}
	if err := n.ledger.Restore(st.Vault); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	if err := n.custody.Restore(st.Custody); err != nil {
		return fmt.Errorf("restore custody: %w", err)
	}
	if err := n.endpoint.Restore(st.Protocol); err != nil {
		return fmt.Errorf("restore protocol: %w", err)
	}
	return nil
}
