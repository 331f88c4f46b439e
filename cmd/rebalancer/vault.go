package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"crossRebalance/internal/config"
	"crossRebalance/internal/model"
)

func newDepositCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deposit",
		Short: "Deposit assets into the vault and mint shares",
		RunE: func(cmd *cobra.Command, _ []string) error {
			holder, amount, err := holderAmount(cmd, "assets")
			if err != nil {
				return err
			}
			return withSession(cmd, true, func(_ context.Context, s *session) error {
				shares, err := s.node.Deposit(holder, amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"holder": holder.Hex(),
					"assets": model.FormatAmount(amount),
					"shares": model.FormatAmount(shares),
				})
			})
		},
	}
	cmd.Flags().String("holder", "", "holder address")
	cmd.Flags().String("assets", "", "asset amount in base units")
	return cmd
}

func newWithdrawCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "Burn shares and release the matching assets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			holder, shares, err := holderAmount(cmd, "shares")
			if err != nil {
				return err
			}
			return withSession(cmd, true, func(_ context.Context, s *session) error {
				assets, err := s.node.Withdraw(holder, shares)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"holder": holder.Hex(),
					"shares": model.FormatAmount(shares),
					"assets": model.FormatAmount(assets),
				})
			})
		},
	}
	cmd.Flags().String("holder", "", "holder address")
	cmd.Flags().String("shares", "", "share amount")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show vault totals, or a holder's shares with --holder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			holderArg, _ := cmd.Flags().GetString("holder")
			return withSession(cmd, false, func(_ context.Context, s *session) error {
				vault := s.node.Vault()
				out := map[string]string{
					"asset":        vault.UnderlyingAsset.Hex(),
					"total_shares": model.FormatAmount(vault.TotalShares),
					"total_assets": model.FormatAmount(vault.TotalAssets),
				}
				if holderArg != "" {
					holder, err := config.ParseAddress(holderArg)
					if err != nil {
						return fmt.Errorf("holder: %w", err)
					}
					out["holder"] = holder.Hex()
					out["shares"] = model.FormatAmount(s.node.BalanceOf(holder))
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().String("holder", "", "holder address")
	return cmd
}

func holderAmount(cmd *cobra.Command, amountFlag string) (common.Address, *uint256.Int, error) {
	holderArg, _ := cmd.Flags().GetString("holder")
	amountArg, _ := cmd.Flags().GetString(amountFlag)

	holder, err := config.ParseAddress(holderArg)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("holder: %w", err)
	}
	amount, err := model.ParseAmount(amountArg)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%s: %w", amountFlag, err)
	}
	return holder, amount, nil
}
