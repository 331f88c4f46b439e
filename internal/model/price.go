package model

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PriceFeed is the last accepted price for a feed, 8-decimal fixed point.
type PriceFeed struct {
	FeedID    common.Hash
	Price     *uint256.Int
	UpdatedAt uint64
}

// PriceSample is one accepted observation in a feed's history window.
type PriceSample struct {
	Price     *uint256.Int
	Timestamp uint64
}

// RiskScore is expressed in basis points.
type RiskScore uint64

// Vault is a read-only view of a share ledger's totals.
type Vault struct {
	UnderlyingAsset common.Address
	TotalShares     *uint256.Int
	TotalAssets     *uint256.Int
}
