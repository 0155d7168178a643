package chain

import (
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// FacilitatorAddress receives minting fees, royalty fees and append payments.
var FacilitatorAddress = common.HexToAddress("0x45708C2Ac90A671e2C642cA14002C6f9C0750057")

const (
	// FeeDenominator is the denominator of every on-chain fee numerator.
	FeeDenominator = 10_000
	// MintingFeePercent is the facilitator's cut of primary sales.
	MintingFeePercent = 5.0
	// RoyaltyFeePercent is the facilitator's royalty on secondary sales of
	// collections without a public mint.
	RoyaltyFeePercent = 2.5
)

// TotalRoyaltyPercent combines the creator royalty with the facilitator's.
func TotalRoyaltyPercent(creatorRoyalty float64, hasPublicMint bool) float64 {
	if hasPublicMint {
		return creatorRoyalty
	}
	return creatorRoyalty + RoyaltyFeePercent
}

// MintFeeNumerator is the revenue share numerator for primary sales.
func MintFeeNumerator() uint64 {
	return uint64(MintingFeePercent * FeeDenominator / 100)
}

// RoyaltyFeeNumerator is the facilitator's share of collected royalties.
func RoyaltyFeeNumerator(totalRoyaltyPercent float64, hasPublicMint bool) uint64 {
	if hasPublicMint || totalRoyaltyPercent <= 0 {
		return 0
	}
	return uint64(math.Floor(RoyaltyFeePercent * FeeDenominator / totalRoyaltyPercent))
}

// RoyaltyNumerator is the on-chain royalty numerator for the NFT contract.
func RoyaltyNumerator(totalRoyaltyPercent float64) uint64 {
	return uint64(math.Round(totalRoyaltyPercent * FeeDenominator / 100))
}
