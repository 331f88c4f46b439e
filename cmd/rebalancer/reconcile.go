package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crossRebalance/internal/chain"
	"crossRebalance/internal/model"
)

type driftView struct {
	Token    string `json:"token"`
	Holder   string `json:"holder"`
	Expected string `json:"expected"`
	OnChain  string `json:"on_chain"`
	Delta    string `json:"delta"`
	Surplus  bool   `json:"surplus"`
}

func newReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare custody balances against ERC20 balances on chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rpcArg, _ := cmd.Flags().GetString("rpc")
			return withSession(cmd, false, func(ctx context.Context, s *session) error {
				rpcURL := rpcArg
				if rpcURL == "" {
					rpcURL = s.chain.RPC
				}
				if rpcURL == "" {
					return fmt.Errorf("chain %d has no rpc configured", s.node.ChainID())
				}

				client, err := chain.NewClient(ctx, rpcURL, s.cfg.MaxRetries, s.cfg.RetryBackoff)
				if err != nil {
					return err
				}
				defer client.Close()

				remoteID, err := client.ChainID(ctx)
				if err != nil {
					return err
				}
				if remoteID != s.node.ChainID() {
					return fmt.Errorf("rpc serves chain %d, expected %d", remoteID, s.node.ChainID())
				}

				vault, rebalancer := s.node.Addresses()
				var holdings []chain.Holding
				for _, token := range s.node.CustodyTokens() {
					for _, holder := range []common.Address{vault, rebalancer} {
						if holder == (common.Address{}) {
							continue
						}
						holdings = append(holdings, chain.Holding{
							Token:    token,
							Holder:   holder,
							Expected: s.node.Custody(token, holder),
						})
					}
				}

				drifts, err := chain.Reconcile(ctx, client, holdings)
				if err != nil {
					return err
				}
				views := make([]driftView, 0, len(drifts))
				for _, d := range drifts {
					views = append(views, driftView{
						Token:    d.Token.Hex(),
						Holder:   d.Holder.Hex(),
						Expected: model.FormatAmount(d.Expected),
						OnChain:  model.FormatAmount(d.OnChain),
						Delta:    model.FormatAmount(d.Delta),
						Surplus:  d.Surplus,
					})
				}
				s.logger.Info("reconciled", zap.Int("holdings", len(holdings)), zap.Int("drifts", len(drifts)))
				return printJSON(cmd.OutOrStdout(), views)
			})
		},
	}
	cmd.Flags().String("rpc", "", "RPC endpoint, defaults to the chain's configured rpc")
	return cmd
}
