package collateral

import (
	"fmt"
	"math/big"
	"strings"
)

// AssetType enumerates the environmental collateral classes accepted by the
// issuance engine.
type AssetType string

const (
	AssetTypeCarbonCredits   AssetType = "CarbonCredits"
	AssetTypeWaterCredits    AssetType = "WaterCredits"
	AssetTypeRenewableEnergy AssetType = "RenewableEnergy"
	AssetTypeGreenBonds      AssetType = "GreenBonds"
	AssetTypeESGTokens       AssetType = "ESGTokens"
)

// ParseAssetType validates a textual asset type.
func ParseAssetType(value string) (AssetType, error) {
	switch AssetType(strings.TrimSpace(value)) {
	case AssetTypeCarbonCredits:
		return AssetTypeCarbonCredits, nil
	case AssetTypeWaterCredits:
		return AssetTypeWaterCredits, nil
	case AssetTypeRenewableEnergy:
		return AssetTypeRenewableEnergy, nil
	case AssetTypeGreenBonds:
		return AssetTypeGreenBonds, nil
	case AssetTypeESGTokens:
		return AssetTypeESGTokens, nil
	}
	return "", fmt.Errorf("collateral: unknown asset type %q", value)
}

// Asset captures the per-asset configuration and aggregate accounting for a
// registered collateral class. Assets are never deleted, only deactivated.
type Asset struct {
	ID                      string
	Type                    AssetType
	CollateralRatioBps      uint64
	LiquidationThresholdBps uint64
	PriceSource             string
	Active                  bool
	TotalDeposited          *big.Int
	TotalBorrowed           *big.Int
	LastPriceUpdate         int64
}

// Clone returns a deep copy to avoid callers mutating shared pointers.
func (a *Asset) Clone() *Asset {
	if a == nil {
		return nil
	}
	clone := *a
	if a.TotalDeposited != nil {
		clone.TotalDeposited = new(big.Int).Set(a.TotalDeposited)
	}
	if a.TotalBorrowed != nil {
		clone.TotalBorrowed = new(big.Int).Set(a.TotalBorrowed)
	}
	return &clone
}

// EnsureDefaults populates nil aggregates so serialisation round trips are safe.
func (a *Asset) EnsureDefaults() {
	if a == nil {
		return
	}
	if a.TotalDeposited == nil {
		a.TotalDeposited = big.NewInt(0)
	}
	if a.TotalBorrowed == nil {
		a.TotalBorrowed = big.NewInt(0)
	}
}

// AuditEntry is one append-only record of a registry mutation.
type AuditEntry struct {
	ID        string
	AssetID   string
	Actor     string
	Action    string
	Detail    string
	Timestamp int64
}
