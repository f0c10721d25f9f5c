package stable

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestMeetsRatioMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("more collateral never breaks a passing ratio", prop.ForAll(
		func(collateral, debt, extra int64, num, den int64, ratio uint64) bool {
			c := big.NewInt(collateral)
			d := big.NewInt(debt)
			if !meetsRatio(c, d, big.NewInt(num), big.NewInt(den), ratio) {
				return true
			}
			more := new(big.Int).Add(c, big.NewInt(extra))
			return meetsRatio(more, d, big.NewInt(num), big.NewInt(den), ratio)
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
		gen.UInt64Range(10_000, 50_000),
	))

	properties.Property("more debt never fixes a failing ratio", prop.ForAll(
		func(collateral, debt, extra int64, num, den int64, ratio uint64) bool {
			c := big.NewInt(collateral)
			d := big.NewInt(debt)
			if meetsRatio(c, d, big.NewInt(num), big.NewInt(den), ratio) {
				return true
			}
			more := new(big.Int).Add(d, big.NewInt(extra))
			return !meetsRatio(c, more, big.NewInt(num), big.NewInt(den), ratio)
		},
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(1, 1<<40),
		gen.Int64Range(0, 1<<40),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
		gen.UInt64Range(10_000, 50_000),
	))

	properties.TestingRun(t)
}

func TestAccruedFeeSplitNeverExceedsWhole(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// accruing in two steps can only lose dust to floor division, never gain
	properties.Property("split accrual <= whole accrual", prop.ForAll(
		func(debt int64, bps uint64, a, b int64) bool {
			d := big.NewInt(debt)
			whole := accruedFee(d, bps, a+b)
			split := new(big.Int).Add(accruedFee(d, bps, a), accruedFee(d, bps, b))
			return split.Cmp(whole) <= 0
		},
		gen.Int64Range(1, 1<<50),
		gen.UInt64Range(0, 5_000),
		gen.Int64Range(0, 1<<30),
		gen.Int64Range(0, 1<<30),
	))

	properties.TestingRun(t)
}

func TestCollateralPayoutBoundedByPenalty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// payout valued at the price never exceeds debt * (1 + penalty)
	properties.Property("payout value bounded", prop.ForAll(
		func(debt, num, den int64, penalty uint64) bool {
			payout := collateralPayout(big.NewInt(debt), big.NewInt(num), big.NewInt(den), penalty)
			lhs := new(big.Int).Mul(payout, big.NewInt(num))
			lhs.Mul(lhs, basisPoints)
			rhs := new(big.Int).Mul(big.NewInt(debt), new(big.Int).SetUint64(10_000+penalty))
			rhs.Mul(rhs, big.NewInt(den))
			return lhs.Cmp(rhs) <= 0
		},
		gen.Int64Range(1, 1<<50),
		gen.Int64Range(1, 1_000_000),
		gen.Int64Range(1, 1_000_000),
		gen.UInt64Range(0, 3_000),
	))

	properties.TestingRun(t)
}
