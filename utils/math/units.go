package math

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxBps is 100% expressed in basis points
const MaxBps = 10000

var (
	ErrNegativeAmount = errors.New("amount must not be negative")
	ErrOverflow       = errors.New("amount overflows uint256")
	ErrInvalidBps     = errors.New("basis points out of range")
)

// ToWei converts a human-readable decimal amount ("27.5", "1e3") into the
// token's smallest unit. Digits beyond the token's precision are truncated.
func ToWei(amount string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	return DecimalToWei(d, decimals)
}

// DecimalToWei scales d by 10^decimals and truncates the fraction
func DecimalToWei(d decimal.Decimal, decimals uint8) (*big.Int, error) {
	if d.IsNegative() {
		return nil, ErrNegativeAmount
	}
	wei := d.Shift(int32(decimals)).Truncate(0).BigInt()
	if wei.BitLen() > 256 {
		return nil, ErrOverflow
	}
	return wei, nil
}

// FromWei converts a smallest-unit amount to a decimal token amount
func FromWei(amount *big.Int, decimals uint8) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}

// USDValue prices amount (smallest unit) at priceUSD per whole token
func USDValue(amount *big.Int, decimals uint8, priceUSD decimal.Decimal) decimal.Decimal {
	return FromWei(amount, decimals).Mul(priceUSD)
}

// ApplySlippage returns amount * (10000 - bps) / 10000 rounded down.
// The arithmetic is done in uint256 so the result is exactly what the
// on-chain comparison will see.
func ApplySlippage(amount *big.Int, bps uint32) (*big.Int, error) {
	if bps >= MaxBps {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBps, bps)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	a, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	keep := uint256.NewInt(uint64(MaxBps - bps))
	out, overflow := new(uint256.Int).MulDivOverflow(a, keep, uint256.NewInt(MaxBps))
	if overflow {
		return nil, ErrOverflow
	}
	return out.ToBig(), nil
}

// BpsOf returns amount * bps / 10000 rounded down
func BpsOf(amount *big.Int, bps uint32) *big.Int {
	out := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(bps)))
	return out.Div(out, big.NewInt(MaxBps))
}
