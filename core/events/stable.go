package events

import (
	"math/big"
	"strings"

	"greenledger/core/types"
	"greenledger/crypto"
)

const (
	// TypeStableMinted is emitted when stablecoin is minted against collateral.
	TypeStableMinted = "stable.minted"
	// TypeStableRepaid is emitted when outstanding debt is repaid and burned.
	TypeStableRepaid = "stable.repaid"
	// TypeCollateralDeposited is emitted on a successful collateral deposit.
	TypeCollateralDeposited = "stable.collateral_deposited"
	// TypeCollateralWithdrawn is emitted on a successful collateral withdrawal.
	TypeCollateralWithdrawn = "stable.collateral_withdrawn"
	// TypePositionLiquidated is emitted when a position is liquidated.
	TypePositionLiquidated = "stable.liquidated"
)

type StableMinted struct {
	Owner   crypto.Address
	AssetID string
	Amount  *big.Int
}

func (StableMinted) EventType() string { return TypeStableMinted }

func (e StableMinted) Event() *types.Event {
	return &types.Event{
		Type: TypeStableMinted,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"asset":  strings.TrimSpace(e.AssetID),
			"amount": amountString(e.Amount),
		},
	}
}

type StableRepaid struct {
	Owner   crypto.Address
	AssetID string
	Amount  *big.Int
}

func (StableRepaid) EventType() string { return TypeStableRepaid }

func (e StableRepaid) Event() *types.Event {
	return &types.Event{
		Type: TypeStableRepaid,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"asset":  strings.TrimSpace(e.AssetID),
			"amount": amountString(e.Amount),
		},
	}
}

type CollateralDeposited struct {
	Owner   crypto.Address
	AssetID string
	Amount  *big.Int
}

func (CollateralDeposited) EventType() string { return TypeCollateralDeposited }

func (e CollateralDeposited) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralDeposited,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"asset":  strings.TrimSpace(e.AssetID),
			"amount": amountString(e.Amount),
		},
	}
}

type CollateralWithdrawn struct {
	Owner   crypto.Address
	AssetID string
	Amount  *big.Int
}

func (CollateralWithdrawn) EventType() string { return TypeCollateralWithdrawn }

func (e CollateralWithdrawn) Event() *types.Event {
	return &types.Event{
		Type: TypeCollateralWithdrawn,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"asset":  strings.TrimSpace(e.AssetID),
			"amount": amountString(e.Amount),
		},
	}
}

type PositionLiquidated struct {
	Liquidator crypto.Address
	Owner      crypto.Address
	AssetID    string
	DebtRepaid *big.Int
	Seized     *big.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	return &types.Event{
		Type: TypePositionLiquidated,
		Attributes: map[string]string{
			"liquidator": e.Liquidator.String(),
			"owner":      e.Owner.String(),
			"asset":      strings.TrimSpace(e.AssetID),
			"debtRepaid": amountString(e.DebtRepaid),
			"seized":     amountString(e.Seized),
		},
	}
}

func amountString(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
