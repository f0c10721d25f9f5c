package collateral

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"greenledger/core/events"
)

// Storage abstracts the subset of state manager functionality required by the
// collateral registry.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

var (
	assetRecordPrefix = []byte("collateral/asset/")
	assetIndexKey     = []byte("collateral/asset/index")
	assetAuditPrefix  = []byte("collateral/audit/")
)

var (
	// ErrAssetNotFound indicates the asset identifier is not registered.
	ErrAssetNotFound = errors.New("collateral: asset not registered")
	// ErrAssetExists indicates a duplicate registration attempt.
	ErrAssetExists = errors.New("collateral: asset already registered")
	// ErrRatioTooLow indicates a collateral ratio below 100%.
	ErrRatioTooLow = errors.New("collateral: ratio must be at least 10000 bps")
	// ErrThresholdNotBelowRatio indicates the liquidation threshold does not
	// sit strictly below the collateral ratio.
	ErrThresholdNotBelowRatio = errors.New("collateral: liquidation threshold must be below collateral ratio")
)

// Audit actions recorded for registry mutations.
const (
	auditActionRegister    = "register"
	auditActionSetActive   = "set_active"
	auditActionTotalsDelta = "totals_delta"
)

// Registry persists collateral asset configuration in the underlying key-value
// store, with an append-only audit trail per asset. Mutations are serialized
// by an internal mutex.
type Registry struct {
	store   Storage
	emitter events.Emitter
	clock   func() time.Time
	mu      sync.Mutex
}

// NewRegistry constructs a registry bound to the provided storage backend.
func NewRegistry(store Storage) *Registry {
	return &Registry{store: store, emitter: events.NoopEmitter{}, clock: time.Now}
}

// SetEmitter wires the event sink used for registry notifications.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if r == nil || emitter == nil {
		return
	}
	r.emitter = emitter
}

// SetClock overrides the time source (primarily for deterministic testing).
func (r *Registry) SetClock(clock func() time.Time) {
	if r == nil || clock == nil {
		return
	}
	r.clock = clock
}

// Register validates and stores a new collateral asset. Totals start at zero
// and the asset is active immediately.
func (r *Registry) Register(actor string, asset *Asset) error {
	if r == nil {
		return fmt.Errorf("registry not initialised")
	}
	if asset == nil {
		return fmt.Errorf("collateral: asset must not be nil")
	}
	id := strings.TrimSpace(asset.ID)
	if id == "" {
		return fmt.Errorf("collateral: asset id required")
	}
	if _, err := ParseAssetType(string(asset.Type)); err != nil {
		return err
	}
	if asset.CollateralRatioBps < 10_000 {
		return ErrRatioTooLow
	}
	if asset.LiquidationThresholdBps >= asset.CollateralRatioBps {
		return ErrThresholdNotBelowRatio
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assetKey(id)
	var existing storedAsset
	ok, err := r.store.KVGet(key, &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrAssetExists
	}
	record := &Asset{
		ID:                      id,
		Type:                    asset.Type,
		CollateralRatioBps:      asset.CollateralRatioBps,
		LiquidationThresholdBps: asset.LiquidationThresholdBps,
		PriceSource:             strings.TrimSpace(asset.PriceSource),
		Active:                  true,
		TotalDeposited:          big.NewInt(0),
		TotalBorrowed:           big.NewInt(0),
	}
	if err := r.store.KVPut(key, toStoredAsset(record)); err != nil {
		return err
	}
	if err := r.store.KVAppend(assetIndexKey, []byte(id)); err != nil {
		return err
	}
	detail := fmt.Sprintf("type=%s ratio=%d threshold=%d", record.Type, record.CollateralRatioBps, record.LiquidationThresholdBps)
	if err := r.appendAudit(id, actor, auditActionRegister, detail); err != nil {
		return err
	}
	r.emitter.Emit(events.AssetRegistered{
		AssetID:             id,
		AssetType:           string(record.Type),
		CollateralRatioBps:  record.CollateralRatioBps,
		LiquidationThresBps: record.LiquidationThresholdBps,
	})
	return nil
}

// SetActive toggles the asset's active flag. Deactivation blocks new deposits
// and mints but leaves withdrawals, repayments and liquidations untouched.
func (r *Registry) SetActive(actor, assetID string, active bool) error {
	if r == nil {
		return fmt.Errorf("registry not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.Get(assetID)
	if err != nil {
		return err
	}
	if asset.Active == active {
		return nil
	}
	asset.Active = active
	if err := r.store.KVPut(assetKey(asset.ID), toStoredAsset(asset)); err != nil {
		return err
	}
	if err := r.appendAudit(asset.ID, actor, auditActionSetActive, fmt.Sprintf("active=%t", active)); err != nil {
		return err
	}
	r.emitter.Emit(events.AssetStatusChanged{AssetID: asset.ID, Active: active})
	return nil
}

// Get retrieves a registered asset by identifier.
func (r *Registry) Get(assetID string) (*Asset, error) {
	if r == nil {
		return nil, fmt.Errorf("registry not initialised")
	}
	var stored storedAsset
	ok, err := r.store.KVGet(assetKey(assetID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAssetNotFound
	}
	return fromStoredAsset(&stored)
}

// List returns all registered assets sorted by identifier.
func (r *Registry) List() ([]*Asset, error) {
	if r == nil {
		return nil, fmt.Errorf("registry not initialised")
	}
	var raw [][]byte
	if err := r.store.KVGetList(assetIndexKey, &raw); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(raw))
	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		id := strings.TrimSpace(string(entry))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	assets := make([]*Asset, 0, len(ids))
	for _, id := range ids {
		asset, err := r.Get(id)
		if err != nil {
			if errors.Is(err, ErrAssetNotFound) {
				continue
			}
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, nil
}

// AdjustTotals applies signed deltas to the aggregate deposited/borrowed
// figures. The issuance engine calls this within its own serialized operation.
func (r *Registry) AdjustTotals(assetID string, depositedDelta, borrowedDelta *big.Int) error {
	if r == nil {
		return fmt.Errorf("registry not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.Get(assetID)
	if err != nil {
		return err
	}
	asset.EnsureDefaults()
	if depositedDelta != nil {
		asset.TotalDeposited = new(big.Int).Add(asset.TotalDeposited, depositedDelta)
		if asset.TotalDeposited.Sign() < 0 {
			return fmt.Errorf("collateral: total deposited for %s would go negative", asset.ID)
		}
	}
	if borrowedDelta != nil {
		asset.TotalBorrowed = new(big.Int).Add(asset.TotalBorrowed, borrowedDelta)
		if asset.TotalBorrowed.Sign() < 0 {
			return fmt.Errorf("collateral: total borrowed for %s would go negative", asset.ID)
		}
	}
	return r.store.KVPut(assetKey(asset.ID), toStoredAsset(asset))
}

// TouchPrice records the acceptance time of the latest oracle observation.
func (r *Registry) TouchPrice(assetID string, ts int64) error {
	if r == nil {
		return fmt.Errorf("registry not initialised")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	asset, err := r.Get(assetID)
	if err != nil {
		return err
	}
	asset.LastPriceUpdate = ts
	return r.store.KVPut(assetKey(asset.ID), toStoredAsset(asset))
}

// AuditTrail returns the append-only mutation log for the asset.
func (r *Registry) AuditTrail(assetID string) ([]AuditEntry, error) {
	if r == nil {
		return nil, fmt.Errorf("registry not initialised")
	}
	var raw [][]byte
	if err := r.store.KVGetList(auditKey(assetID), &raw); err != nil {
		return nil, err
	}
	entries := make([]AuditEntry, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) == 0 {
			continue
		}
		var stored storedAuditEntry
		if err := rlp.DecodeBytes(encoded, &stored); err != nil {
			return nil, err
		}
		ts, err := uint64ToInt64(stored.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("collateral: audit timestamp overflow: %w", err)
		}
		entries = append(entries, AuditEntry{
			ID:        stored.ID,
			AssetID:   stored.AssetID,
			Actor:     stored.Actor,
			Action:    stored.Action,
			Detail:    stored.Detail,
			Timestamp: ts,
		})
	}
	return entries, nil
}

func (r *Registry) appendAudit(assetID, actor, action, detail string) error {
	now := r.clock().UTC().Unix()
	var ts uint64
	if now > 0 {
		ts = uint64(now)
	}
	entry := storedAuditEntry{
		ID:        uuid.NewString(),
		AssetID:   assetID,
		Actor:     strings.TrimSpace(actor),
		Action:    action,
		Detail:    detail,
		Timestamp: ts,
	}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return r.store.KVAppend(auditKey(assetID), encoded)
}

type storedAsset struct {
	ID                      string
	Type                    string
	CollateralRatioBps      uint64
	LiquidationThresholdBps uint64
	PriceSource             string
	Active                  bool
	TotalDeposited          string
	TotalBorrowed           string
	LastPriceUpdate         uint64
}

type storedAuditEntry struct {
	ID        string
	AssetID   string
	Actor     string
	Action    string
	Detail    string
	Timestamp uint64
}

func toStoredAsset(asset *Asset) storedAsset {
	stored := storedAsset{}
	if asset == nil {
		return stored
	}
	stored.ID = strings.TrimSpace(asset.ID)
	stored.Type = string(asset.Type)
	stored.CollateralRatioBps = asset.CollateralRatioBps
	stored.LiquidationThresholdBps = asset.LiquidationThresholdBps
	stored.PriceSource = strings.TrimSpace(asset.PriceSource)
	stored.Active = asset.Active
	if asset.TotalDeposited != nil {
		stored.TotalDeposited = asset.TotalDeposited.String()
	}
	if asset.TotalBorrowed != nil {
		stored.TotalBorrowed = asset.TotalBorrowed.String()
	}
	if asset.LastPriceUpdate > 0 {
		stored.LastPriceUpdate = uint64(asset.LastPriceUpdate)
	}
	return stored
}

func fromStoredAsset(stored *storedAsset) (*Asset, error) {
	if stored == nil {
		return nil, fmt.Errorf("collateral: nil stored asset")
	}
	lastUpdate, err := uint64ToInt64(stored.LastPriceUpdate)
	if err != nil {
		return nil, fmt.Errorf("collateral: price update overflow: %w", err)
	}
	asset := &Asset{
		ID:                      stored.ID,
		Type:                    AssetType(stored.Type),
		CollateralRatioBps:      stored.CollateralRatioBps,
		LiquidationThresholdBps: stored.LiquidationThresholdBps,
		PriceSource:             stored.PriceSource,
		Active:                  stored.Active,
		LastPriceUpdate:         lastUpdate,
	}
	asset.TotalDeposited, err = parseStoredAmount(stored.TotalDeposited)
	if err != nil {
		return nil, fmt.Errorf("collateral: invalid deposited total: %w", err)
	}
	asset.TotalBorrowed, err = parseStoredAmount(stored.TotalBorrowed)
	if err != nil {
		return nil, fmt.Errorf("collateral: invalid borrowed total: %w", err)
	}
	return asset, nil
}

func parseStoredAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}

func assetKey(assetID string) []byte {
	trimmed := strings.TrimSpace(assetID)
	buf := make([]byte, len(assetRecordPrefix)+len(trimmed))
	copy(buf, assetRecordPrefix)
	copy(buf[len(assetRecordPrefix):], trimmed)
	return buf
}

func auditKey(assetID string) []byte {
	trimmed := strings.TrimSpace(assetID)
	buf := make([]byte, len(assetAuditPrefix)+len(trimmed))
	copy(buf, assetAuditPrefix)
	copy(buf[len(assetAuditPrefix):], trimmed)
	return buf
}
