package events

import (
	"strconv"
	"strings"

	"greenledger/core/types"
)

const (
	// TypeAssetRegistered is emitted when a collateral asset is registered.
	TypeAssetRegistered = "collateral.asset_registered"
	// TypeAssetStatusChanged is emitted when an asset is (de)activated.
	TypeAssetStatusChanged = "collateral.asset_status_changed"
)

type AssetRegistered struct {
	AssetID             string
	AssetType           string
	CollateralRatioBps  uint64
	LiquidationThresBps uint64
}

func (AssetRegistered) EventType() string { return TypeAssetRegistered }

func (e AssetRegistered) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetRegistered,
		Attributes: map[string]string{
			"asset":               strings.TrimSpace(e.AssetID),
			"type":                strings.TrimSpace(e.AssetType),
			"collateralRatioBps":  strconv.FormatUint(e.CollateralRatioBps, 10),
			"liquidationThresBps": strconv.FormatUint(e.LiquidationThresBps, 10),
		},
	}
}

type AssetStatusChanged struct {
	AssetID string
	Active  bool
}

func (AssetStatusChanged) EventType() string { return TypeAssetStatusChanged }

func (e AssetStatusChanged) Event() *types.Event {
	return &types.Event{
		Type: TypeAssetStatusChanged,
		Attributes: map[string]string{
			"asset":  strings.TrimSpace(e.AssetID),
			"active": strconv.FormatBool(e.Active),
		},
	}
}
