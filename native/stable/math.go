package stable

import "math/big"

var basisPoints = big.NewInt(10_000)

const secondsPerYear = 31_536_000

// accruedFee computes the linear stability fee on the outstanding debt for the
// elapsed interval. Linear (non-compounding) accrual keeps every figure exactly
// reproducible from (principal, rate, elapsed).
func accruedFee(debt *big.Int, feeBps uint64, elapsedSeconds int64) *big.Int {
	if debt == nil || debt.Sign() <= 0 || feeBps == 0 || elapsedSeconds <= 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(debt, new(big.Int).SetUint64(feeBps))
	fee.Mul(fee, big.NewInt(elapsedSeconds))
	fee.Quo(fee, new(big.Int).Mul(basisPoints, big.NewInt(secondsPerYear)))
	return fee
}

// meetsRatio reports whether collateral valued at the given price covers the
// debt at the required ratio: collateral * price * 10000 >= debt * ratioBps.
// The price is a rational so the comparison cross-multiplies by its
// denominator and stays exact.
func meetsRatio(collateral, debt *big.Int, priceNum, priceDen *big.Int, ratioBps uint64) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	if collateral == nil || collateral.Sign() == 0 {
		return false
	}
	if priceNum == nil || priceDen == nil || priceNum.Sign() <= 0 || priceDen.Sign() <= 0 {
		return false
	}
	lhs := new(big.Int).Mul(collateral, priceNum)
	lhs.Mul(lhs, basisPoints)
	rhs := new(big.Int).Mul(debt, new(big.Int).SetUint64(ratioBps))
	rhs.Mul(rhs, priceDen)
	return lhs.Cmp(rhs) >= 0
}

// collateralPayout converts a debt amount into collateral units at the given
// price with the liquidation penalty applied:
// debt * (10000 + penaltyBps) / (10000 * price).
func collateralPayout(debt *big.Int, priceNum, priceDen *big.Int, penaltyBps uint64) *big.Int {
	if debt == nil || debt.Sign() <= 0 || priceNum == nil || priceNum.Sign() <= 0 || priceDen == nil || priceDen.Sign() <= 0 {
		return big.NewInt(0)
	}
	payout := new(big.Int).Mul(debt, new(big.Int).SetUint64(10_000+penaltyBps))
	payout.Mul(payout, priceDen)
	payout.Quo(payout, new(big.Int).Mul(basisPoints, priceNum))
	return payout
}
