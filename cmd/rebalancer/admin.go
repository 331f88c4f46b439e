package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"crossRebalance/internal/config"
	"crossRebalance/internal/model"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Owner-only configuration changes",
	}
	cmd.PersistentFlags().String("caller", "", "address issuing the change")

	cmd.AddCommand(
		adminCmd("set-updater", "Allow or revoke a price updater",
			func(c *cobra.Command) {
				c.Flags().String("updater", "", "updater address")
				c.Flags().Bool("revoke", false, "revoke instead of allow")
			},
			func(c *cobra.Command, s *session, caller common.Address) error {
				updater, err := addressFlag(c, "updater")
				if err != nil {
					return err
				}
				revoke, _ := c.Flags().GetBool("revoke")
				return s.node.AdminSetUpdater(caller, updater, !revoke)
			}),
		adminCmd("set-remote", "Trust the endpoint address of a remote chain",
			func(c *cobra.Command) {
				c.Flags().Uint64("remote-chain", 0, "remote chain id")
				c.Flags().String("address", "", "remote endpoint address")
			},
			func(c *cobra.Command, s *session, caller common.Address) error {
				chainID, _ := c.Flags().GetUint64("remote-chain")
				if chainID == 0 {
					return fmt.Errorf("--remote-chain is required")
				}
				remote, err := addressFlag(c, "address")
				if err != nil {
					return err
				}
				return s.node.AdminSetTrustedRemote(caller, chainID, remote)
			}),
		adminCmd("remove-remote", "Stop trusting a remote chain",
			func(c *cobra.Command) {
				c.Flags().Uint64("remote-chain", 0, "remote chain id")
			},
			func(c *cobra.Command, s *session, caller common.Address) error {
				chainID, _ := c.Flags().GetUint64("remote-chain")
				return s.node.AdminRemoveTrustedRemote(caller, chainID)
			}),
		adminCmd("set-threshold", "Replace the risk trigger threshold",
			func(c *cobra.Command) {
				c.Flags().Uint64("bps", 0, "threshold in basis points")
			},
			func(c *cobra.Command, s *session, caller common.Address) error {
				bps, _ := c.Flags().GetUint64("bps")
				return s.node.AdminSetThreshold(caller, model.RiskScore(bps))
			}),
		adminCmd("transfer-owner", "Hand the admin role to another address",
			func(c *cobra.Command) {
				c.Flags().String("owner", "", "new owner address")
			},
			func(c *cobra.Command, s *session, caller common.Address) error {
				next, err := addressFlag(c, "owner")
				if err != nil {
					return err
				}
				return s.node.AdminTransferOwnership(caller, next)
			}),
	)
	return cmd
}

func adminCmd(use, short string, flags func(*cobra.Command), run func(*cobra.Command, *session, common.Address) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			caller, err := addressFlag(cmd, "caller")
			if err != nil {
				return err
			}
			return withSession(cmd, true, func(_ context.Context, s *session) error {
				return run(cmd, s, caller)
			})
		},
	}
	flags(cmd)
	return cmd
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	value, _ := cmd.Flags().GetString(name)
	addr, err := config.ParseAddress(value)
	if err != nil {
		return common.Address{}, fmt.Errorf("--%s: %w", name, err)
	}
	return addr, nil
}
