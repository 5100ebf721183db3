package domain

import (
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ErrInvalidPairID is returned when a pair identifier is not a 20-byte hex address.
var ErrInvalidPairID = errors.New("invalid pair id")

// FeeRate is the Uniswap V2 LP fee charged on swap volume (0.3%).
var FeeRate = decimal.RequireFromString("0.003")

// NormalizePairID validates an EVM pair address and returns it lowercased with 0x prefix.
func NormalizePairID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if !common.IsHexAddress(id) {
		return "", ErrInvalidPairID
	}
	return strings.ToLower(common.HexToAddress(id).Hex()), nil
}

// FeesFromVolume derives LP fees from hourly volume.
func FeesFromVolume(volume decimal.Decimal) decimal.Decimal {
	return volume.Mul(FeeRate)
}
