package state

import (
	"math/big"
	"testing"

	"greenledger/core/types"
	"greenledger/crypto"
	"greenledger/native/stable"
	"greenledger/storage"
)

func testAddr(seed byte) crypto.Address {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

func TestAccountRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	addr := testAddr(0x01)

	missing, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("missing account should be nil")
	}

	acc := types.NewAccount()
	acc.Nonce = 7
	acc.BalanceStable = big.NewInt(12_345)
	acc.SetCollateralBalance("carbon-1", big.NewInt(500))
	acc.SetCollateralBalance("water-1", big.NewInt(250))
	acc.SetCollateralBalance("empty", big.NewInt(0))
	if err := m.PutAccount(addr, acc); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := m.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Nonce != 7 {
		t.Fatalf("nonce = %d, want 7", loaded.Nonce)
	}
	if loaded.BalanceStable.Cmp(big.NewInt(12_345)) != 0 {
		t.Fatalf("balance = %s", loaded.BalanceStable)
	}
	if loaded.CollateralBalance("carbon-1").Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("carbon balance = %s", loaded.CollateralBalance("carbon-1"))
	}
	if loaded.CollateralBalance("water-1").Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("water balance = %s", loaded.CollateralBalance("water-1"))
	}
	// zero balances are not persisted
	if _, ok := loaded.Collateral["empty"]; ok {
		t.Fatal("zero balance should not round-trip")
	}
}

func TestPositionRoundTrip(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	owner := testAddr(0x02)

	missing, err := m.GetPosition("carbon-1", owner)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("missing position should be nil")
	}

	position := &stable.Position{
		Owner:       owner,
		AssetID:     "carbon-1",
		Collateral:  big.NewInt(1_000),
		Debt:        big.NewInt(400),
		LastAccrual: 1_717_243_200,
		Active:      true,
	}
	if err := m.PutPosition(position); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, err := m.GetPosition("carbon-1", owner)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Owner.String() != owner.String() {
		t.Fatalf("owner = %s, want %s", loaded.Owner, owner)
	}
	if loaded.Collateral.Cmp(big.NewInt(1_000)) != 0 || loaded.Debt.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("amounts = %s/%s", loaded.Collateral, loaded.Debt)
	}
	if loaded.LastAccrual != 1_717_243_200 || !loaded.Active {
		t.Fatalf("metadata = %d/%t", loaded.LastAccrual, loaded.Active)
	}

	// positions are keyed per asset
	other, err := m.GetPosition("water-1", owner)
	if err != nil {
		t.Fatalf("get other asset: %v", err)
	}
	if other != nil {
		t.Fatal("position leaked across assets")
	}
}

func TestSupplyAndFees(t *testing.T) {
	m := NewManager(storage.NewMemDB())

	supply, err := m.StableSupply()
	if err != nil {
		t.Fatalf("initial supply: %v", err)
	}
	if supply.Sign() != 0 {
		t.Fatalf("initial supply = %s, want 0", supply)
	}
	if err := m.SetStableSupply(big.NewInt(-1)); err == nil {
		t.Fatal("negative supply accepted")
	}
	if err := m.SetStableSupply(big.NewInt(9_999)); err != nil {
		t.Fatalf("set supply: %v", err)
	}
	supply, err = m.StableSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(9_999)) != 0 {
		t.Fatalf("supply = %s, want 9999", supply)
	}

	if err := m.PutFeeAccrual("carbon-1", &stable.FeeAccrual{AccruedWei: big.NewInt(42)}); err != nil {
		t.Fatalf("put fees: %v", err)
	}
	fees, err := m.GetFeeAccrual("carbon-1")
	if err != nil {
		t.Fatalf("get fees: %v", err)
	}
	if fees.AccruedWei.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("fees = %s, want 42", fees.AccruedWei)
	}
}

func TestKVAppendAndGetList(t *testing.T) {
	m := NewManager(storage.NewMemDB())
	key := []byte("test/list")

	var empty [][]byte
	if err := m.KVGetList(key, &empty); err != nil {
		t.Fatalf("get empty list: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("empty list has %d entries", len(empty))
	}

	for _, v := range []string{"a", "b", "c"} {
		if err := m.KVAppend(key, []byte(v)); err != nil {
			t.Fatalf("append %s: %v", v, err)
		}
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(list) != 3 || string(list[0]) != "a" || string(list[2]) != "c" {
		t.Fatalf("list = %q", list)
	}
}
