package stable

import (
	"errors"
	"math/big"
	"testing"
)

// setupUnderwater opens a position of 1000 collateral and 1200 debt, then
// drops the price from 2.0 to 1.2 so the 120% threshold is breached.
func setupUnderwater(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	owner := testAddress(0x10)
	liquidator := testAddress(0x20)
	f.fund(owner, 1_000, 0)
	f.fund(liquidator, 0, 2_000)

	if err := f.engine.DepositCollateral(owner, testAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Mint(owner, testAsset, big.NewInt(1_200)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	f.source.SetPrice(testAsset, big.NewRat(6, 5), f.now)
	return f
}

func TestLiquidationEligibility(t *testing.T) {
	f := newFixture(t)
	owner := testAddress(0x11)
	f.fund(owner, 1_000, 0)
	if err := f.engine.DepositCollateral(owner, testAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Mint(owner, testAsset, big.NewInt(1_200)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	eligible, err := f.engine.IsLiquidatable(owner, testAsset)
	if err != nil {
		t.Fatalf("eligibility: %v", err)
	}
	if eligible {
		t.Fatal("healthy position reported liquidatable")
	}

	f.source.SetPrice(testAsset, big.NewRat(6, 5), f.now)
	eligible, err = f.engine.IsLiquidatable(owner, testAsset)
	if err != nil {
		t.Fatalf("eligibility after price drop: %v", err)
	}
	if !eligible {
		t.Fatal("underwater position reported healthy")
	}
}

func TestLiquidatePaysPenaltyDiscount(t *testing.T) {
	f := setupUnderwater(t)
	ownerAddr := testAddress(0x10)
	liquidator := testAddress(0x20)

	// 600 debt at price 1.2 with a 10% penalty converts to 550 collateral
	repaid, seized, err := f.engine.Liquidate(liquidator, ownerAddr, testAsset, big.NewInt(600))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("repaid = %s, want 600", repaid)
	}
	if seized.Cmp(big.NewInt(550)) != 0 {
		t.Fatalf("seized = %s, want 550", seized)
	}

	position, err := f.engine.Position(ownerAddr, testAsset)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Debt.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("remaining debt = %s, want 600", position.Debt)
	}
	if position.Collateral.Cmp(big.NewInt(450)) != 0 {
		t.Fatalf("remaining collateral = %s, want 450", position.Collateral)
	}

	liqAcc, _ := f.state.GetAccount(liquidator)
	if got := liqAcc.BalanceStable; got.Cmp(big.NewInt(1_400)) != 0 {
		t.Fatalf("liquidator stable balance = %s, want 1400", got)
	}
	if got := liqAcc.CollateralBalance(testAsset); got.Cmp(big.NewInt(550)) != 0 {
		t.Fatalf("liquidator collateral = %s, want 550", got)
	}
	// burned from supply
	if got := f.state.supply; got.Cmp(big.NewInt(600)) != 0 {
		t.Fatalf("supply = %s, want 600", got)
	}
}

func TestLiquidateRejectsHealthyPosition(t *testing.T) {
	f := newFixture(t)
	owner := testAddress(0x12)
	liquidator := testAddress(0x21)
	f.fund(owner, 1_000, 0)
	f.fund(liquidator, 0, 1_000)
	if err := f.engine.DepositCollateral(owner, testAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := f.engine.Mint(owner, testAsset, big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := f.engine.Liquidate(liquidator, owner, testAsset, big.NewInt(100)); !errors.Is(err, ErrNotLiquidatable) {
		t.Fatalf("expected ErrNotLiquidatable, got %v", err)
	}
}

func TestLiquidateRejectsExcessDebtAmount(t *testing.T) {
	f := setupUnderwater(t)
	ownerAddr := testAddress(0x10)
	liquidator := testAddress(0x20)
	if _, _, err := f.engine.Liquidate(liquidator, ownerAddr, testAsset, big.NewInt(1_201)); !errors.Is(err, ErrExceedsPositionDebt) {
		t.Fatalf("expected ErrExceedsPositionDebt, got %v", err)
	}
}

func TestLiquidatePayoutCappedAtCollateral(t *testing.T) {
	f := setupUnderwater(t)
	ownerAddr := testAddress(0x10)
	liquidator := testAddress(0x20)

	// full 1200 debt would convert to 1100 collateral, above the 1000 held
	repaid, seized, err := f.engine.Liquidate(liquidator, ownerAddr, testAsset, big.NewInt(1_200))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if repaid.Cmp(big.NewInt(1_200)) != 0 {
		t.Fatalf("repaid = %s, want 1200", repaid)
	}
	if seized.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("seized = %s, want capped 1000", seized)
	}
	position, err := f.engine.Position(ownerAddr, testAsset)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if position.Debt.Sign() != 0 || position.Collateral.Sign() != 0 {
		t.Fatalf("position not emptied: debt=%s collateral=%s", position.Debt, position.Collateral)
	}
	if position.Active {
		t.Fatal("emptied position still active")
	}
}

// Debt conservation: stablecoin destroyed by a liquidation equals the debt
// removed from the position.
func TestLiquidationConservesDebt(t *testing.T) {
	f := setupUnderwater(t)
	ownerAddr := testAddress(0x10)
	liquidator := testAddress(0x20)

	supplyBefore := new(big.Int).Set(f.state.supply)
	before, err := f.engine.Position(ownerAddr, testAsset)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	repaid, _, err := f.engine.Liquidate(liquidator, ownerAddr, testAsset, big.NewInt(700))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	after, err := f.engine.Position(ownerAddr, testAsset)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	debtRemoved := new(big.Int).Sub(before.Debt, after.Debt)
	supplyRemoved := new(big.Int).Sub(supplyBefore, f.state.supply)
	if debtRemoved.Cmp(repaid) != 0 || supplyRemoved.Cmp(repaid) != 0 {
		t.Fatalf("debt removed %s, supply removed %s, repaid %s", debtRemoved, supplyRemoved, repaid)
	}
}
