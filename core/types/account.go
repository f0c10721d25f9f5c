package types

import "math/big"

// Account holds the fungible balances tracked by the ledger: the pegged
// stablecoin balance plus one balance per registered environmental collateral
// asset. Collateral balances are keyed by asset identifier.
type Account struct {
	Nonce         uint64              `json:"nonce"`
	BalanceStable *big.Int            `json:"balanceStable"`
	Collateral    map[string]*big.Int `json:"collateral,omitempty"`
}

// NewAccount returns an account with all balances initialised to zero.
func NewAccount() *Account {
	return &Account{
		BalanceStable: big.NewInt(0),
		Collateral:    make(map[string]*big.Int),
	}
}

// CollateralBalance returns the balance held for the given asset, zero when the
// asset has never been credited.
func (a *Account) CollateralBalance(assetID string) *big.Int {
	if a == nil || a.Collateral == nil {
		return big.NewInt(0)
	}
	if bal, ok := a.Collateral[assetID]; ok && bal != nil {
		return bal
	}
	return big.NewInt(0)
}

// SetCollateralBalance records the balance for the given asset, allocating the
// map on first use.
func (a *Account) SetCollateralBalance(assetID string, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Collateral == nil {
		a.Collateral = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Collateral[assetID] = amount
}

// EnsureDefaults populates nil balances so serialisation round trips are safe.
func (a *Account) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.BalanceStable == nil {
		a.BalanceStable = big.NewInt(0)
	}
	if a.Collateral == nil {
		a.Collateral = make(map[string]*big.Int)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceStable != nil {
		clone.BalanceStable = new(big.Int).Set(a.BalanceStable)
	}
	if len(a.Collateral) > 0 {
		clone.Collateral = make(map[string]*big.Int, len(a.Collateral))
		for asset, bal := range a.Collateral {
			if bal != nil {
				clone.Collateral[asset] = new(big.Int).Set(bal)
			}
		}
	}
	return clone
}
