package stable

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"greenledger/core/events"
	"greenledger/core/types"
	"greenledger/crypto"
	"greenledger/native/collateral"
	nativecommon "greenledger/native/common"
	"greenledger/native/oracle"
)

var (
	errNilState              = errors.New("stable engine: state not configured")
	errNilRegistry           = errors.New("stable engine: registry not configured")
	errNilOracle             = errors.New("stable engine: oracle not configured")
	errInvalidAmount         = errors.New("stable engine: amount must be positive")
	errInsufficientBalance   = errors.New("stable engine: insufficient balance")
	errInsufficientLiquidity = errors.New("stable engine: insufficient custody liquidity")
	// ErrAssetInactive rejects deposits and mints against deactivated assets.
	ErrAssetInactive = errors.New("stable engine: asset not active")
	// ErrUndercollateralized rejects mints and withdrawals that would leave the
	// position below the required collateral ratio.
	ErrUndercollateralized = errors.New("stable engine: position would fall below collateral ratio")
	// ErrPriceStale blocks ratio-sensitive operations until the oracle refreshes.
	ErrPriceStale = errors.New("stable engine: oracle price stale")
	// ErrNoDebt indicates the position carries no outstanding debt.
	ErrNoDebt = errors.New("stable engine: no outstanding debt")
	// ErrRepayExceedsDebt rejects repayments larger than the outstanding debt.
	ErrRepayExceedsDebt = errors.New("stable engine: repay amount exceeds debt")
	// ErrExceedsPositionDebt rejects liquidations claiming more than the debt.
	ErrExceedsPositionDebt = errors.New("stable engine: debt amount exceeds position debt")
	// ErrNotLiquidatable indicates the position is above the liquidation threshold.
	ErrNotLiquidatable = errors.New("stable engine: position not eligible for liquidation")
	// ErrReentrancy rejects nested invocation of a mutating operation.
	ErrReentrancy = errors.New("stable engine: reentrant call")
	// ErrInsufficientFees rejects treasury withdrawals above the accrued total.
	ErrInsufficientFees = errors.New("stable engine: insufficient accrued fees")
)

const moduleName = "stable"

type engineState interface {
	GetPosition(assetID string, addr crypto.Address) (*Position, error)
	PutPosition(position *Position) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	GetFeeAccrual(assetID string) (*FeeAccrual, error)
	PutFeeAccrual(assetID string, fees *FeeAccrual) error
	StableSupply() (*big.Int, error)
	SetStableSupply(supply *big.Int) error
}

type assetRegistry interface {
	Get(assetID string) (*collateral.Asset, error)
	AdjustTotals(assetID string, depositedDelta, borrowedDelta *big.Int) error
}

// Engine orchestrates the primary state transitions for the issuance module:
// collateral custody, stablecoin mint/repay and permissionless liquidation.
// Mutating operations are serialized: each holds the engine mutex from entry
// to exit, so concurrent callers observe all-or-nothing state transitions.
type Engine struct {
	state    engineState
	registry assetRegistry
	custody  crypto.Address
	source   oracle.Source
	params   Params
	pauses   nativecommon.PauseView
	emitter  events.Emitter
	clock    func() time.Time

	mu      sync.Mutex
	entered bool
}

// NewEngine constructs an issuance engine holding collateral in the supplied
// custody account.
func NewEngine(custody crypto.Address, params Params) *Engine {
	return &Engine{
		custody: custody,
		params:  params,
		emitter: events.NoopEmitter{},
		clock:   time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetRegistry wires the collateral registry consulted for asset configuration.
func (e *Engine) SetRegistry(registry assetRegistry) {
	if e == nil {
		return
	}
	e.registry = registry
}

// SetOracle wires the price source used for ratio checks.
func (e *Engine) SetOracle(source oracle.Source) {
	if e == nil {
		return
	}
	e.source = source
}

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink used for engine notifications.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// enter acquires the engine mutex, which is held until the matching exit so
// each mutating operation runs to completion before the next is admitted. The
// entered latch underneath rejects reentrant invocation through external
// transfer hooks.
func (e *Engine) enter() error {
	e.mu.Lock()
	if e.entered {
		e.mu.Unlock()
		return ErrReentrancy
	}
	e.entered = true
	return nil
}

func (e *Engine) exit() {
	e.entered = false
	e.mu.Unlock()
}

// DepositCollateral pulls the asset amount from the owner's balance into
// module custody and grows the position.
func (e *Engine) DepositCollateral(owner crypto.Address, assetID string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return err
	}
	if !asset.Active {
		return ErrAssetInactive
	}

	position, err := e.ensurePosition(asset.ID, owner)
	if err != nil {
		return err
	}
	fee, err := e.accrueFee(position)
	if err != nil {
		return err
	}

	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	balance := ownerAcc.CollateralBalance(asset.ID)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	custodyAcc, err := e.loadAccount(e.custody)
	if err != nil {
		return err
	}

	ownerAcc.SetCollateralBalance(asset.ID, new(big.Int).Sub(balance, amount))
	custodyAcc.SetCollateralBalance(asset.ID, new(big.Int).Add(custodyAcc.CollateralBalance(asset.ID), amount))

	position.Collateral = new(big.Int).Add(position.Collateral, amount)
	position.Active = true

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.registry.AdjustTotals(asset.ID, amount, fee); err != nil {
		return err
	}
	if err := e.state.PutAccount(owner, ownerAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.custody, custodyAcc); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralDeposited{Owner: owner, AssetID: asset.ID, Amount: new(big.Int).Set(amount)})
	return nil
}

// WithdrawCollateral releases collateral back to the owner while ensuring any
// remaining debt stays covered at the collateral ratio.
func (e *Engine) WithdrawCollateral(owner crypto.Address, assetID string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(asset.ID, owner)
	if err != nil {
		return err
	}
	fee, err := e.accrueFee(position)
	if err != nil {
		return err
	}
	if position.Collateral.Cmp(amount) < 0 {
		return errInsufficientBalance
	}

	remaining := new(big.Int).Sub(position.Collateral, amount)
	if position.Debt.Sign() > 0 {
		quote, err := e.freshQuote(asset.ID)
		if err != nil {
			return err
		}
		if !meetsRatio(remaining, position.Debt, quote.Rate.Num(), quote.Rate.Denom(), asset.CollateralRatioBps) {
			return ErrUndercollateralized
		}
	}

	custodyAcc, err := e.loadAccount(e.custody)
	if err != nil {
		return err
	}
	custodyBalance := custodyAcc.CollateralBalance(asset.ID)
	if custodyBalance.Cmp(amount) < 0 {
		return errInsufficientLiquidity
	}
	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}

	custodyAcc.SetCollateralBalance(asset.ID, new(big.Int).Sub(custodyBalance, amount))
	ownerAcc.SetCollateralBalance(asset.ID, new(big.Int).Add(ownerAcc.CollateralBalance(asset.ID), amount))

	position.Collateral = remaining
	e.closeIfEmpty(position)

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.registry.AdjustTotals(asset.ID, new(big.Int).Neg(amount), fee); err != nil {
		return err
	}
	if err := e.state.PutAccount(e.custody, custodyAcc); err != nil {
		return err
	}
	if err := e.state.PutAccount(owner, ownerAcc); err != nil {
		return err
	}

	e.emitter.Emit(events.CollateralWithdrawn{Owner: owner, AssetID: asset.ID, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint issues stablecoin against the position's collateral. The resulting
// position must meet the asset's collateral ratio against a fresh oracle price.
func (e *Engine) Mint(owner crypto.Address, assetID string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return err
	}
	if !asset.Active {
		return ErrAssetInactive
	}
	position, err := e.ensurePosition(asset.ID, owner)
	if err != nil {
		return err
	}
	fee, err := e.accrueFee(position)
	if err != nil {
		return err
	}

	quote, err := e.freshQuote(asset.ID)
	if err != nil {
		return err
	}
	projected := new(big.Int).Add(position.Debt, amount)
	if !meetsRatio(position.Collateral, projected, quote.Rate.Num(), quote.Rate.Denom(), asset.CollateralRatioBps) {
		return ErrUndercollateralized
	}

	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	supply, err := e.loadSupply()
	if err != nil {
		return err
	}

	position.Debt = projected
	position.Active = true
	ownerAcc.BalanceStable = new(big.Int).Add(ownerAcc.BalanceStable, amount)

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.registry.AdjustTotals(asset.ID, nil, new(big.Int).Add(amount, fee)); err != nil {
		return err
	}
	if err := e.state.SetStableSupply(new(big.Int).Add(supply, amount)); err != nil {
		return err
	}
	if err := e.state.PutAccount(owner, ownerAcc); err != nil {
		return err
	}

	e.emitter.Emit(events.StableMinted{Owner: owner, AssetID: asset.ID, Amount: new(big.Int).Set(amount)})
	return nil
}

// Repay burns stablecoin from the owner and reduces the position debt. The
// amount must not exceed the outstanding debt including accrued fees.
func (e *Engine) Repay(owner crypto.Address, assetID string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return err
	}
	position, err := e.ensurePosition(asset.ID, owner)
	if err != nil {
		return err
	}
	fee, err := e.accrueFee(position)
	if err != nil {
		return err
	}
	if position.Debt.Sign() == 0 {
		return ErrNoDebt
	}
	if amount.Cmp(position.Debt) > 0 {
		return ErrRepayExceedsDebt
	}

	ownerAcc, err := e.loadAccount(owner)
	if err != nil {
		return err
	}
	if ownerAcc.BalanceStable.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	supply, err := e.loadSupply()
	if err != nil {
		return err
	}

	ownerAcc.BalanceStable = new(big.Int).Sub(ownerAcc.BalanceStable, amount)
	position.Debt = new(big.Int).Sub(position.Debt, amount)
	e.closeIfEmpty(position)

	if err := e.state.PutPosition(position); err != nil {
		return err
	}
	if err := e.registry.AdjustTotals(asset.ID, nil, new(big.Int).Sub(fee, amount)); err != nil {
		return err
	}
	if err := e.state.SetStableSupply(new(big.Int).Sub(supply, amount)); err != nil {
		return err
	}
	if err := e.state.PutAccount(owner, ownerAcc); err != nil {
		return err
	}

	e.emitter.Emit(events.StableRepaid{Owner: owner, AssetID: asset.ID, Amount: new(big.Int).Set(amount)})
	return nil
}

// IsLiquidatable reports whether the position sits below the asset's
// liquidation threshold at the live oracle price. Accrued fees are included in
// the debt figure without persisting them.
func (e *Engine) IsLiquidatable(owner crypto.Address, assetID string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return false, err
	}
	position, err := e.ensurePosition(asset.ID, owner)
	if err != nil {
		return false, err
	}
	if position.Debt.Sign() == 0 {
		return false, nil
	}
	quote, err := e.freshQuote(asset.ID)
	if err != nil {
		return false, err
	}
	debt := new(big.Int).Add(position.Debt, accruedFee(position.Debt, e.params.StabilityFeeBps, e.elapsedSince(position.LastAccrual)))
	return !meetsRatio(position.Collateral, debt, quote.Rate.Num(), quote.Rate.Denom(), asset.LiquidationThresholdBps), nil
}

// Liquidate lets any caller repay part of an unhealthy position's debt in
// exchange for collateral at a penalty discount. The payout is capped at the
// position's remaining collateral; when the cap binds, the liquidation is
// partial on the collateral side while the debt is still reduced by the full
// debtAmount.
func (e *Engine) Liquidate(liquidator, owner crypto.Address, assetID string, debtAmount *big.Int) (*big.Int, *big.Int, error) {
	if e == nil || e.state == nil {
		return nil, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()
	if debtAmount == nil || debtAmount.Sign() <= 0 {
		return nil, nil, errInvalidAmount
	}

	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return nil, nil, err
	}
	position, err := e.ensurePosition(asset.ID, owner)
	if err != nil {
		return nil, nil, err
	}
	fee, err := e.accrueFee(position)
	if err != nil {
		return nil, nil, err
	}
	if position.Debt.Sign() == 0 {
		return nil, nil, ErrNoDebt
	}
	if debtAmount.Cmp(position.Debt) > 0 {
		return nil, nil, ErrExceedsPositionDebt
	}

	quote, err := e.freshQuote(asset.ID)
	if err != nil {
		return nil, nil, err
	}
	if meetsRatio(position.Collateral, position.Debt, quote.Rate.Num(), quote.Rate.Denom(), asset.LiquidationThresholdBps) {
		return nil, nil, ErrNotLiquidatable
	}

	payout := collateralPayout(debtAmount, quote.Rate.Num(), quote.Rate.Denom(), e.params.LiquidationPenaltyBps)
	if payout.Cmp(position.Collateral) > 0 {
		payout = new(big.Int).Set(position.Collateral)
	}

	liquidatorAcc, err := e.loadAccount(liquidator)
	if err != nil {
		return nil, nil, err
	}
	if liquidatorAcc.BalanceStable.Cmp(debtAmount) < 0 {
		return nil, nil, errInsufficientBalance
	}
	custodyAcc, err := e.loadAccount(e.custody)
	if err != nil {
		return nil, nil, err
	}
	custodyBalance := custodyAcc.CollateralBalance(asset.ID)
	if custodyBalance.Cmp(payout) < 0 {
		return nil, nil, errInsufficientLiquidity
	}
	supply, err := e.loadSupply()
	if err != nil {
		return nil, nil, err
	}

	liquidatorAcc.BalanceStable = new(big.Int).Sub(liquidatorAcc.BalanceStable, debtAmount)
	custodyAcc.SetCollateralBalance(asset.ID, new(big.Int).Sub(custodyBalance, payout))
	liquidatorAcc.SetCollateralBalance(asset.ID, new(big.Int).Add(liquidatorAcc.CollateralBalance(asset.ID), payout))

	position.Debt = new(big.Int).Sub(position.Debt, debtAmount)
	position.Collateral = new(big.Int).Sub(position.Collateral, payout)
	e.closeIfEmpty(position)

	if err := e.state.PutPosition(position); err != nil {
		return nil, nil, err
	}
	if err := e.registry.AdjustTotals(asset.ID, new(big.Int).Neg(payout), new(big.Int).Sub(fee, debtAmount)); err != nil {
		return nil, nil, err
	}
	if err := e.state.SetStableSupply(new(big.Int).Sub(supply, debtAmount)); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutAccount(liquidator, liquidatorAcc); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutAccount(e.custody, custodyAcc); err != nil {
		return nil, nil, err
	}

	e.emitter.Emit(events.PositionLiquidated{
		Liquidator: liquidator,
		Owner:      owner,
		AssetID:    asset.ID,
		DebtRepaid: new(big.Int).Set(debtAmount),
		Seized:     new(big.Int).Set(payout),
	})
	return new(big.Int).Set(debtAmount), payout, nil
}

// WithdrawProtocolFees drains accrued stability fees for the asset to the
// recipient as freshly issued stablecoin. The issuance is backed by the debt
// growth already recorded against positions.
func (e *Engine) WithdrawProtocolFees(recipient crypto.Address, assetID string, amount *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	asset, err := e.lookupAsset(assetID)
	if err != nil {
		return nil, err
	}
	fees, err := e.ensureFeeAccrual(asset.ID)
	if err != nil {
		return nil, err
	}
	if fees.AccruedWei.Cmp(amount) < 0 {
		return nil, ErrInsufficientFees
	}
	recipientAcc, err := e.loadAccount(recipient)
	if err != nil {
		return nil, err
	}
	supply, err := e.loadSupply()
	if err != nil {
		return nil, err
	}

	fees.AccruedWei = new(big.Int).Sub(fees.AccruedWei, amount)
	recipientAcc.BalanceStable = new(big.Int).Add(recipientAcc.BalanceStable, amount)

	if err := e.state.PutFeeAccrual(asset.ID, fees); err != nil {
		return nil, err
	}
	if err := e.state.SetStableSupply(new(big.Int).Add(supply, amount)); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(recipient, recipientAcc); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// Position returns a snapshot of the (owner, asset) position.
func (e *Engine) Position(owner crypto.Address, assetID string) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.ensurePosition(strings.TrimSpace(assetID), owner)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

func (e *Engine) lookupAsset(assetID string) (*collateral.Asset, error) {
	if e.registry == nil {
		return nil, errNilRegistry
	}
	return e.registry.Get(assetID)
}

func (e *Engine) ensurePosition(assetID string, owner crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(assetID, owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Owner: owner, AssetID: assetID, LastAccrual: e.clock().UTC().Unix()}
	}
	position.EnsureDefaults()
	return position, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	acc.EnsureDefaults()
	return acc, nil
}

func (e *Engine) loadSupply() (*big.Int, error) {
	supply, err := e.state.StableSupply()
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return big.NewInt(0), nil
	}
	return supply, nil
}

func (e *Engine) ensureFeeAccrual(assetID string) (*FeeAccrual, error) {
	fees, err := e.state.GetFeeAccrual(assetID)
	if err != nil {
		return nil, err
	}
	if fees == nil {
		fees = &FeeAccrual{}
	}
	if fees.AccruedWei == nil {
		fees.AccruedWei = big.NewInt(0)
	}
	return fees, nil
}

// accrueFee applies the lazy linear stability fee to the position and records
// it against the asset's fee accrual. The returned fee is the debt growth the
// caller must fold into the registry's borrowed total.
func (e *Engine) accrueFee(position *Position) (*big.Int, error) {
	now := e.clock().UTC().Unix()
	elapsed := now - position.LastAccrual
	position.LastAccrual = now
	if position.Debt.Sign() == 0 || elapsed <= 0 {
		return big.NewInt(0), nil
	}
	fee := accruedFee(position.Debt, e.params.StabilityFeeBps, elapsed)
	if fee.Sign() == 0 {
		return fee, nil
	}
	position.Debt = new(big.Int).Add(position.Debt, fee)
	fees, err := e.ensureFeeAccrual(position.AssetID)
	if err != nil {
		return nil, err
	}
	fees.AccruedWei = new(big.Int).Add(fees.AccruedWei, fee)
	if err := e.state.PutFeeAccrual(position.AssetID, fees); err != nil {
		return nil, err
	}
	return fee, nil
}

func (e *Engine) elapsedSince(lastAccrual int64) int64 {
	return e.clock().UTC().Unix() - lastAccrual
}

func (e *Engine) freshQuote(assetID string) (oracle.Quote, error) {
	if e.source == nil {
		return oracle.Quote{}, errNilOracle
	}
	quote, err := e.source.Price(assetID)
	if err != nil {
		return oracle.Quote{}, err
	}
	if quote.Rate == nil || quote.Rate.Sign() <= 0 {
		return oracle.Quote{}, fmt.Errorf("stable engine: invalid price for %s", assetID)
	}
	if err := oracle.CheckFresh(quote, e.clock().UTC(), e.params.MaxQuoteAge); err != nil {
		return oracle.Quote{}, ErrPriceStale
	}
	return quote, nil
}

func (e *Engine) closeIfEmpty(position *Position) {
	if position.Collateral.Sign() == 0 && position.Debt.Sign() == 0 {
		position.Active = false
	}
}
