package stable

import (
	"math/big"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type opStep struct {
	op     int
	amount int64
}

// Random deposit/mint/withdraw sequences must never leave a position with
// outstanding debt below the collateral ratio; rejected operations must leave
// state untouched.
func TestRatioInvariantUnderRandomSequences(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	stepGen := gopter.CombineGens(
		gen.IntRange(0, 2),
		gen.Int64Range(1, 2_000),
	).Map(func(vals []interface{}) opStep {
		return opStep{op: vals[0].(int), amount: vals[1].(int64)}
	})

	properties.Property("ratio holds after every step", prop.ForAll(
		func(steps []opStep) bool {
			f := newFixture(t)
			owner := testAddress(0x42)
			f.fund(owner, 1_000_000, 0)
			priceNum, priceDen := big.NewInt(2), big.NewInt(1)
			for _, s := range steps {
				amount := big.NewInt(s.amount)
				switch s.op {
				case 0:
					_ = f.engine.DepositCollateral(owner, testAsset, amount)
				case 1:
					_ = f.engine.Mint(owner, testAsset, amount)
				case 2:
					_ = f.engine.WithdrawCollateral(owner, testAsset, amount)
				}
				position, err := f.engine.Position(owner, testAsset)
				if err != nil {
					return false
				}
				if position.Debt.Sign() > 0 && !meetsRatio(position.Collateral, position.Debt, priceNum, priceDen, 15_000) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(stepGen),
	))

	properties.TestingRun(t)
}
