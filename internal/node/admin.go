package node

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"crossRebalance/internal/model"
)

func (n *Node) authorize(caller common.Address) error {
	if caller != n.owner || caller == (common.Address{}) {
		return fmt.Errorf("caller %s is not the owner: %w", caller.Hex(), model.ErrUnauthorized)
	}
	return nil
}

// Owner returns the current admin owner.
func (n *Node) Owner() common.Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.owner
}

// AdminSetUpdater allows or revokes a price updater.
func (n *Node) AdminSetUpdater(caller, updater common.Address, allowed bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.authorize(caller); err != nil {
		return err
	}
	n.prices.SetUpdater(updater, allowed)
	n.logger.Info("updater changed", zap.String("updater", updater.Hex()), zap.Bool("allowed", allowed))
	return nil
}

// AdminSetTrustedRemote allow-lists the endpoint address of a remote chain.
func (n *Node) AdminSetTrustedRemote(caller common.Address, chainID uint64, remote common.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.authorize(caller); err != nil {
		return err
	}
	if chainID == n.cfg.ChainID {
		return fmt.Errorf("chain %d cannot trust itself", chainID)
	}
	n.endpoint.SetTrustedRemote(chainID, remote)
	n.logger.Info("trusted remote set", zap.Uint64("remote_chain", chainID), zap.String("remote", remote.Hex()))
	return nil
}

// AdminRemoveTrustedRemote stops trusting a remote chain.
func (n *Node) AdminRemoveTrustedRemote(caller common.Address, chainID uint64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.authorize(caller); err != nil {
		return err
	}
	n.endpoint.RemoveTrustedRemote(chainID)
	n.logger.Info("trusted remote removed", zap.Uint64("remote_chain", chainID))
	return nil
}

// AdminSetThreshold replaces the risk trigger threshold.
func (n *Node) AdminSetThreshold(caller common.Address, threshold model.RiskScore) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.authorize(caller); err != nil {
		return err
	}
	n.decider.SetThreshold(threshold)
	n.logger.Info("threshold set", zap.Uint64("threshold_bps", uint64(threshold)))
	return nil
}

// AdminTransferOwnership hands the admin role to next.
func (n *Node) AdminTransferOwnership(caller, next common.Address) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.authorize(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return fmt.Errorf("new owner is the zero address")
	}
	n.owner = next
	n.logger.Info("ownership transferred", zap.String("owner", next.Hex()))
	return nil
}
