package stable

import (
	"math/big"
	"time"

	"greenledger/crypto"
)

// Position maintains the collateralized debt position for one owner against
// one collateral asset. A position is logically closed (Active=false) once
// both collateral and debt reach zero; the record itself is never deleted.
type Position struct {
	// Owner is the account holding the position.
	Owner crypto.Address
	// AssetID identifies the collateral asset backing the debt.
	AssetID string
	// Collateral is the amount of the asset locked in module custody.
	Collateral *big.Int
	// Debt is the outstanding stablecoin debt including accrued stability fees.
	Debt *big.Int
	// LastAccrual records the unix time when the stability fee was last applied.
	LastAccrual int64
	// Active reports whether the position currently holds collateral or debt.
	Active bool
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	}
	return &clone
}

// EnsureDefaults populates nil amounts so serialisation round trips are safe.
func (p *Position) EnsureDefaults() {
	if p == nil {
		return
	}
	if p.Collateral == nil {
		p.Collateral = big.NewInt(0)
	}
	if p.Debt == nil {
		p.Debt = big.NewInt(0)
	}
}

// FeeAccrual captures the stability fees accrued against one collateral asset
// that have not yet been drained to the treasury.
type FeeAccrual struct {
	AccruedWei *big.Int
}

// Clone returns a deep copy of the fee accrual structure.
func (f *FeeAccrual) Clone() *FeeAccrual {
	if f == nil {
		return nil
	}
	clone := &FeeAccrual{}
	if f.AccruedWei != nil {
		clone.AccruedWei = new(big.Int).Set(f.AccruedWei)
	}
	return clone
}

// Params groups the governance controlled parameters of the issuance engine.
type Params struct {
	// StabilityFeeBps is the annual fee charged on outstanding debt, in basis
	// points. Accrual is linear: debt * bps * elapsed / (10000 * secondsPerYear).
	StabilityFeeBps uint64
	// LiquidationPenaltyBps is the bonus paid to liquidators on top of the
	// debt value, in basis points.
	LiquidationPenaltyBps uint64
	// MaxQuoteAge bounds the age of an oracle quote accepted for mint,
	// debt-bearing withdrawal and liquidation checks.
	MaxQuoteAge time.Duration
}
