package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"greenledger/core/types"
	"greenledger/crypto"
	"greenledger/native/stable"
	"greenledger/storage"
)

// Manager provides the typed and key-value persistence surface the native
// modules run against, backed by a single Database. All values are RLP
// encoded. A mutex serialises writers; the engines layer their own reentrancy
// latches on top.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// KVGet decodes the stored value into out, reporting whether the key exists.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, errors.New("state: manager not configured")
	}
	ok, err := m.db.Has(key)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(key, raw)
}

// KVAppend appends value to the byte-slice list stored under key.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var list [][]byte
	ok, err := m.hasLocked(key)
	if err != nil {
		return err
	}
	if ok {
		raw, err := m.db.Get(key)
		if err != nil {
			return err
		}
		if err := rlp.DecodeBytes(raw, &list); err != nil {
			return fmt.Errorf("state: decode list %q: %w", key, err)
		}
	}
	list = append(list, append([]byte(nil), value...))
	raw, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(key, raw)
}

// KVGetList decodes the list stored under key into out. A missing key leaves
// out untouched.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if m == nil || m.db == nil {
		return errors.New("state: manager not configured")
	}
	ok, err := m.db.Has(key)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	raw, err := m.db.Get(key)
	if err != nil {
		return err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return fmt.Errorf("state: decode list %q: %w", key, err)
	}
	return nil
}

func (m *Manager) hasLocked(key []byte) (bool, error) {
	return m.db.Has(key)
}

const (
	accountPrefix  = "state/account/"
	positionPrefix = "state/position/"
	feePrefix      = "state/fees/"
	supplyKey      = "state/supply/stable"
)

type storedBalance struct {
	Asset  string
	Amount string
}

type storedAccount struct {
	Nonce         uint64
	BalanceStable string
	Collateral    []storedBalance
}

type storedPosition struct {
	Owner       []byte
	AssetID     string
	Collateral  string
	Debt        string
	LastAccrual uint64
	Active      bool
}

type storedFees struct {
	AccruedWei string
}

type storedSupply struct {
	Total string
}

func accountKey(addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(accountPrefix)+len(raw))
	buf = append(buf, accountPrefix...)
	buf = append(buf, raw...)
	return buf
}

func positionKey(assetID string, addr crypto.Address) []byte {
	raw := addr.Bytes()
	buf := make([]byte, 0, len(positionPrefix)+len(assetID)+1+len(raw))
	buf = append(buf, positionPrefix...)
	buf = append(buf, assetID...)
	buf = append(buf, '/')
	buf = append(buf, raw...)
	return buf
}

func feeKey(assetID string) []byte {
	buf := make([]byte, 0, len(feePrefix)+len(assetID))
	buf = append(buf, feePrefix...)
	buf = append(buf, assetID...)
	return buf
}

func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: corrupted %s amount", field)
	}
	return v, nil
}

// GetAccount loads the account, or nil when it does not exist.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.KVGet(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	balance, err := parseAmount(stored.BalanceStable, "stable balance")
	if err != nil {
		return nil, err
	}
	account := types.NewAccount()
	account.Nonce = stored.Nonce
	account.BalanceStable = balance
	for _, entry := range stored.Collateral {
		amount, err := parseAmount(entry.Amount, "collateral")
		if err != nil {
			return nil, err
		}
		account.SetCollateralBalance(entry.Asset, amount)
	}
	return account, nil
}

// PutAccount persists the account with collateral balances in asset order so
// encoding stays deterministic.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	account.EnsureDefaults()
	stored := storedAccount{
		Nonce:         account.Nonce,
		BalanceStable: account.BalanceStable.String(),
	}
	assets := make([]string, 0, len(account.Collateral))
	for asset := range account.Collateral {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		amount := account.Collateral[asset]
		if amount == nil || amount.Sign() == 0 {
			continue
		}
		stored.Collateral = append(stored.Collateral, storedBalance{Asset: asset, Amount: amount.String()})
	}
	return m.KVPut(accountKey(addr), stored)
}

// GetPosition loads the (asset, owner) position, or nil when absent.
func (m *Manager) GetPosition(assetID string, addr crypto.Address) (*stable.Position, error) {
	var stored storedPosition
	ok, err := m.KVGet(positionKey(assetID, addr), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	collateralAmt, err := parseAmount(stored.Collateral, "position collateral")
	if err != nil {
		return nil, err
	}
	debt, err := parseAmount(stored.Debt, "position debt")
	if err != nil {
		return nil, err
	}
	if stored.LastAccrual > uint64(int64(^uint64(0)>>1)) {
		return nil, fmt.Errorf("state: accrual timestamp overflows int64")
	}
	return &stable.Position{
		Owner:       crypto.NewAddress(crypto.AccountPrefix, stored.Owner),
		AssetID:     stored.AssetID,
		Collateral:  collateralAmt,
		Debt:        debt,
		LastAccrual: int64(stored.LastAccrual),
		Active:      stored.Active,
	}, nil
}

// PutPosition persists the position.
func (m *Manager) PutPosition(position *stable.Position) error {
	if position == nil {
		return errors.New("state: nil position")
	}
	position.EnsureDefaults()
	stored := storedPosition{
		Owner:      append([]byte(nil), position.Owner.Bytes()...),
		AssetID:    position.AssetID,
		Collateral: position.Collateral.String(),
		Debt:       position.Debt.String(),
		Active:     position.Active,
	}
	if position.LastAccrual > 0 {
		stored.LastAccrual = uint64(position.LastAccrual)
	}
	return m.KVPut(positionKey(position.AssetID, position.Owner), stored)
}

// GetFeeAccrual loads the fee bucket for the asset, or nil when absent.
func (m *Manager) GetFeeAccrual(assetID string) (*stable.FeeAccrual, error) {
	var stored storedFees
	ok, err := m.KVGet(feeKey(assetID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	accrued, err := parseAmount(stored.AccruedWei, "fee accrual")
	if err != nil {
		return nil, err
	}
	return &stable.FeeAccrual{AccruedWei: accrued}, nil
}

// PutFeeAccrual persists the fee bucket for the asset.
func (m *Manager) PutFeeAccrual(assetID string, fees *stable.FeeAccrual) error {
	if fees == nil {
		return errors.New("state: nil fee accrual")
	}
	amount := "0"
	if fees.AccruedWei != nil {
		amount = fees.AccruedWei.String()
	}
	return m.KVPut(feeKey(assetID), storedFees{AccruedWei: amount})
}

// StableSupply returns the tracked circulating supply.
func (m *Manager) StableSupply() (*big.Int, error) {
	var stored storedSupply
	ok, err := m.KVGet([]byte(supplyKey), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return parseAmount(stored.Total, "stable supply")
}

// SetStableSupply records the circulating supply, refusing negative values.
func (m *Manager) SetStableSupply(supply *big.Int) error {
	if supply == nil || supply.Sign() < 0 {
		return errors.New("state: supply must be non-negative")
	}
	return m.KVPut([]byte(supplyKey), storedSupply{Total: supply.String()})
}
