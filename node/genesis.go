package node

import (
	"context"
	"fmt"
	"log/slog"

	"loanledger/core/exec"
	"loanledger/crypto"
	"loanledger/native/access"
	"loanledger/native/custody"
	"loanledger/native/fees"
)

var genesisKey = []byte("node/genesis")

type genesisMarker struct {
	ChainID   uint64
	Timestamp uint64
}

// applyGenesis seeds state once. Later starts only check that the stored
// chain id matches.
func (n *Node) applyGenesis(ctx context.Context) error {
	var marker genesisMarker
	var applied bool
	if err := n.runtime.View(ctx, func(c *exec.Context) error {
		var err error
		applied, err = c.State().KVGet(genesisKey, &marker)
		return err
	}); err != nil {
		return err
	}
	if applied {
		if marker.ChainID != n.spec.ChainID {
			return fmt.Errorf("node: state belongs to chain %d, genesis is chain %d", marker.ChainID, n.spec.ChainID)
		}
		return nil
	}

	admin := n.spec.AdminAddress()
	err := n.runtime.Execute(ctx, admin, "genesis", func(c *exec.Context) error {
		if bps := n.spec.OriginationFeeBps(); bps != fees.DefaultOriginationFeeBps {
			if err := n.policy.SetOriginationFeeBps(c, bps); err != nil {
				return err
			}
		}
		for _, p := range n.spec.FeePolicies {
			if p.FeeBps == nil {
				continue
			}
			if err := n.extra[p.Name].SetOriginationFeeBps(c, *p.FeeBps); err != nil {
				return fmt.Errorf("fee policy %s: %w", p.Name, err)
			}
		}
		for _, d := range n.deployments {
			if err := n.seedRoles(c, d, admin); err != nil {
				return fmt.Errorf("deployment %s: %w", d.Name, err)
			}
		}

		minter := c.As(MinterAddress)
		for _, alloc := range n.spec.Allocations() {
			token, err := n.currencies.Token(CurrencyAddress(alloc.Currency))
			if err != nil {
				return err
			}
			if err := token.Mint(minter, alloc.Account, alloc.Amount); err != nil {
				return err
			}
		}
		for _, liquidity := range n.spec.Liquidity() {
			token, err := n.currencies.Token(CurrencyAddress(liquidity.Currency))
			if err != nil {
				return err
			}
			if err := token.Mint(minter, n.pool.Address(), liquidity.Amount); err != nil {
				return err
			}
		}
		for _, asset := range n.spec.AssetAllocations() {
			id := custody.AssetID{Collection: CollectionAddress(asset.Collection), TokenID: asset.TokenID}
			if err := n.vault.Mint(minter, asset.Owner, id); err != nil {
				return err
			}
		}
		return c.State().KVPut(genesisKey, genesisMarker{
			ChainID:   n.spec.ChainID,
			Timestamp: uint64(n.spec.GenesisTimestamp().Unix()),
		})
	})
	if err != nil {
		return fmt.Errorf("node: apply genesis: %w", err)
	}
	n.logger.Info("genesis applied",
		slog.Uint64("chainId", n.spec.ChainID),
		slog.Int("deployments", len(n.deployments)),
		slog.Int("allocations", len(n.spec.Allocations())))
	return nil
}

func (n *Node) seedRoles(c *exec.Context, d *Deployment, admin crypto.Address) error {
	if err := d.Roles.Bootstrap(c, admin); err != nil {
		return err
	}
	if err := d.Roles.Grant(c, access.RoleOriginator, d.Origination.Address()); err != nil {
		return err
	}
	if err := d.Roles.Grant(c, access.RoleRepayer, d.Settlement.Address()); err != nil {
		return err
	}
	for _, grant := range n.spec.RoleGrants() {
		if err := d.Roles.Grant(c, grant.Role, grant.Account); err != nil {
			return err
		}
	}
	return nil
}
