package bridge_test

import (
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"greenledger/core/types"
	"greenledger/crypto"
	"greenledger/native/bridge"
	"greenledger/state"
	"greenledger/storage"
)

var bridgeBase = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type bridgeFixture struct {
	engine  *bridge.Engine
	manager *state.Manager
	now     time.Time
	escrow  crypto.Address
	keys    []*crypto.PrivateKey
}

func newBridgeFixture(t *testing.T, validators int, threshold uint64) *bridgeFixture {
	t.Helper()
	f := &bridgeFixture{
		manager: state.NewManager(storage.NewMemDB()),
		now:     bridgeBase,
		escrow:  crypto.NewAddress(crypto.AccountPrefix, bytesOf(0xaa)),
	}
	f.engine = bridge.NewEngine(f.manager, f.escrow, bridge.Params{
		MinAmount:       big.NewInt(10),
		MaxAmount:       big.NewInt(1_000_000),
		DailyCap:        big.NewInt(10_000),
		SettlementDelay: 10 * time.Minute,
	})
	f.engine.SetAccounts(f.manager)
	f.engine.SetClock(func() time.Time { return f.now })

	for i := 0; i < validators; i++ {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
		f.keys = append(f.keys, key)
		if err := f.engine.Validators().Add(key.PubKey().ValidatorAddress()); err != nil {
			t.Fatalf("add validator: %v", err)
		}
	}
	if validators > 0 {
		if err := f.engine.Validators().SetThreshold(threshold); err != nil {
			t.Fatalf("set threshold: %v", err)
		}
	}
	return f
}

func bytesOf(b byte) []byte {
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = b
	}
	return raw
}

func (f *bridgeFixture) fundStable(t *testing.T, addr crypto.Address, amount int64) {
	t.Helper()
	acc := types.NewAccount()
	acc.BalanceStable = big.NewInt(amount)
	if err := f.manager.PutAccount(addr, acc); err != nil {
		t.Fatalf("fund account: %v", err)
	}
	supply, err := f.manager.StableSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if err := f.manager.SetStableSupply(new(big.Int).Add(supply, big.NewInt(amount))); err != nil {
		t.Fatalf("set supply: %v", err)
	}
}

func (f *bridgeFixture) attest(t *testing.T, key *crypto.PrivateKey, tx *bridge.Transaction) bridge.Attestation {
	t.Helper()
	digest := bridge.AttestationDigest(tx.TxID, tx.TargetChain, tx.Recipient, tx.Amount.String())
	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("sign attestation: %v", err)
	}
	return bridge.Attestation{Domain: bridge.AttestDomainV1, TxID: tx.TxID, Signature: sig}
}

func TestInitiateEscrowsFunds(t *testing.T) {
	f := newBridgeFixture(t, 0, 0)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x01))
	f.fundStable(t, sender, 5_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xrecipient", big.NewInt(1_500))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if tx.Status != bridge.StatusPending {
		t.Fatalf("status = %s, want pending", tx.Status)
	}

	senderAcc, err := f.manager.GetAccount(sender)
	if err != nil {
		t.Fatalf("sender account: %v", err)
	}
	if got := senderAcc.BalanceStable; got.Cmp(big.NewInt(3_500)) != 0 {
		t.Fatalf("sender balance = %s, want 3500", got)
	}
	escrowAcc, err := f.manager.GetAccount(f.escrow)
	if err != nil {
		t.Fatalf("escrow account: %v", err)
	}
	if got := escrowAcc.BalanceStable; got.Cmp(big.NewInt(1_500)) != 0 {
		t.Fatalf("escrow balance = %s, want 1500", got)
	}

	stored, err := f.engine.Ledger().Get(tx.TxID)
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if stored.Amount.Cmp(big.NewInt(1_500)) != 0 || stored.Sender.String() != sender.String() {
		t.Fatalf("ledger record mismatch: %+v", stored)
	}
}

func TestInitiateEnforcesBoundsAndCap(t *testing.T) {
	f := newBridgeFixture(t, 0, 0)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x02))
	f.fundStable(t, sender, 50_000)

	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "r", big.NewInt(5)); !errors.Is(err, bridge.ErrAmountOutOfBounds) {
		t.Fatalf("expected ErrAmountOutOfBounds below min, got %v", err)
	}
	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "r", big.NewInt(2_000_000)); !errors.Is(err, bridge.ErrAmountOutOfBounds) {
		t.Fatalf("expected ErrAmountOutOfBounds above max, got %v", err)
	}

	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "r", big.NewInt(6_000)); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "r", big.NewInt(6_000)); !errors.Is(err, bridge.ErrDailyCapExceeded) {
		t.Fatalf("expected ErrDailyCapExceeded, got %v", err)
	}

	// the bucket is per UTC day; the next day has full capacity again
	f.now = f.now.Add(24 * time.Hour)
	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "r", big.NewInt(6_000)); err != nil {
		t.Fatalf("transfer next day: %v", err)
	}
}

func TestCompleteRequiresDelayAndThreshold(t *testing.T) {
	f := newBridgeFixture(t, 3, 2)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x03))
	f.fundStable(t, sender, 5_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	atts := []bridge.Attestation{
		f.attest(t, f.keys[0], tx),
		f.attest(t, f.keys[1], tx),
	}
	if _, err := f.engine.Complete(tx.TxID, atts); !errors.Is(err, bridge.ErrSettlementDelay) {
		t.Fatalf("expected ErrSettlementDelay, got %v", err)
	}

	f.now = f.now.Add(11 * time.Minute)
	if _, err := f.engine.Complete(tx.TxID, atts[:1]); !errors.Is(err, bridge.ErrThresholdNotMet) {
		t.Fatalf("expected ErrThresholdNotMet, got %v", err)
	}

	settled, err := f.engine.Complete(tx.TxID, atts)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if settled.Status != bridge.StatusCompleted || len(settled.Approvals) != 2 {
		t.Fatalf("settled = %+v", settled)
	}

	// escrow burned, supply reduced
	escrowAcc, err := f.manager.GetAccount(f.escrow)
	if err != nil {
		t.Fatalf("escrow account: %v", err)
	}
	if escrowAcc.BalanceStable.Sign() != 0 {
		t.Fatalf("escrow balance = %s, want 0", escrowAcc.BalanceStable)
	}
	supply, err := f.manager.StableSupply()
	if err != nil {
		t.Fatalf("supply: %v", err)
	}
	if supply.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("supply = %s, want 4000", supply)
	}

	// settlement is final
	if _, err := f.engine.Complete(tx.TxID, atts); !errors.Is(err, bridge.ErrTxNotPending) {
		t.Fatalf("expected ErrTxNotPending on re-complete, got %v", err)
	}
}

func TestCompleteRejectsBadAttestations(t *testing.T) {
	f := newBridgeFixture(t, 2, 2)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x04))
	f.fundStable(t, sender, 5_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	f.now = f.now.Add(11 * time.Minute)

	outsider, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	atts := []bridge.Attestation{
		f.attest(t, f.keys[0], tx),
		f.attest(t, outsider, tx),
	}
	if _, err := f.engine.Complete(tx.TxID, atts); !errors.Is(err, bridge.ErrAttestationSigner) {
		t.Fatalf("expected ErrAttestationSigner, got %v", err)
	}

	dup := []bridge.Attestation{
		f.attest(t, f.keys[0], tx),
		f.attest(t, f.keys[0], tx),
	}
	if _, err := f.engine.Complete(tx.TxID, dup); !errors.Is(err, bridge.ErrDuplicateApproval) {
		t.Fatalf("expected ErrDuplicateApproval, got %v", err)
	}

	wrongDomain := f.attest(t, f.keys[0], tx)
	wrongDomain.Domain = "GL_BRIDGE_ATTEST_V0"
	if _, err := f.engine.Complete(tx.TxID, []bridge.Attestation{wrongDomain}); !errors.Is(err, bridge.ErrAttestationDomain) {
		t.Fatalf("expected ErrAttestationDomain, got %v", err)
	}
}

// Membership is evaluated when the transfer settles, not when the signature
// was produced.
func TestCompleteUsesCurrentValidatorSet(t *testing.T) {
	f := newBridgeFixture(t, 3, 2)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x05))
	f.fundStable(t, sender, 5_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	atts := []bridge.Attestation{
		f.attest(t, f.keys[0], tx),
		f.attest(t, f.keys[1], tx),
	}
	if err := f.engine.Validators().Remove(f.keys[1].PubKey().ValidatorAddress()); err != nil {
		t.Fatalf("remove validator: %v", err)
	}

	f.now = f.now.Add(11 * time.Minute)
	if _, err := f.engine.Complete(tx.TxID, atts); !errors.Is(err, bridge.ErrAttestationSigner) {
		t.Fatalf("expected ErrAttestationSigner after removal, got %v", err)
	}

	atts[1] = f.attest(t, f.keys[2], tx)
	if _, err := f.engine.Complete(tx.TxID, atts); err != nil {
		t.Fatalf("complete with remaining members: %v", err)
	}
}

func TestCancelRefundsSender(t *testing.T) {
	f := newBridgeFixture(t, 1, 1)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x06))
	stranger := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x07))
	f.fundStable(t, sender, 5_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(1_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := f.engine.Cancel(stranger, tx.TxID, "not mine"); !errors.Is(err, bridge.ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}

	cancelled, err := f.engine.Cancel(sender, tx.TxID, "fat finger")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != bridge.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cancelled.Status)
	}
	if cancelled.CancelReason != "fat finger" {
		t.Fatalf("reason = %q, want stored verbatim", cancelled.CancelReason)
	}
	senderAcc, err := f.manager.GetAccount(sender)
	if err != nil {
		t.Fatalf("sender account: %v", err)
	}
	if got := senderAcc.BalanceStable; got.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("sender balance = %s, want refunded 5000", got)
	}
	stored, err := f.engine.Ledger().Get(tx.TxID)
	if err != nil {
		t.Fatalf("ledger get: %v", err)
	}
	if stored.CancelReason != "fat finger" {
		t.Fatalf("persisted reason = %q", stored.CancelReason)
	}

	// a cancelled transfer cannot settle
	att := f.attest(t, f.keys[0], tx)
	if _, err := f.engine.Complete(tx.TxID, []bridge.Attestation{att}); !errors.Is(err, bridge.ErrTxNotPending) {
		t.Fatalf("expected ErrTxNotPending, got %v", err)
	}
	if _, err := f.engine.Cancel(sender, tx.TxID, "again"); !errors.Is(err, bridge.ErrTxNotPending) {
		t.Fatalf("expected ErrTxNotPending on double cancel, got %v", err)
	}
}

func TestForceCancelBypassesSenderCheck(t *testing.T) {
	f := newBridgeFixture(t, 1, 1)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x08))
	f.fundStable(t, sender, 2_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(500))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	cancelled, err := f.engine.ForceCancel(tx.TxID, "")
	if err != nil {
		t.Fatalf("force cancel: %v", err)
	}
	if cancelled.CancelReason == "" {
		t.Fatal("expected a default reason on guardian cancel")
	}
	senderAcc, err := f.manager.GetAccount(sender)
	if err != nil {
		t.Fatalf("sender account: %v", err)
	}
	if got := senderAcc.BalanceStable; got.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("sender balance = %s, want 2000", got)
	}
}

// Cancellation does not hand back daily throughput; the bucket only grows
// until the UTC day rolls over.
func TestCancelKeepsDailyVolume(t *testing.T) {
	f := newBridgeFixture(t, 1, 1)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x09))
	f.fundStable(t, sender, 20_000)

	tx, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(9_000))
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := f.engine.ForceCancel(tx.TxID, "rollback"); err != nil {
		t.Fatalf("force cancel: %v", err)
	}
	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(9_000)); !errors.Is(err, bridge.ErrDailyCapExceeded) {
		t.Fatalf("expected ErrDailyCapExceeded after cancel, got %v", err)
	}

	f.now = f.now.Add(24 * time.Hour)
	if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(9_000)); err != nil {
		t.Fatalf("initiate next day: %v", err)
	}
}

// Two simultaneous initiations that together overshoot the daily cap must
// resolve to exactly one escrow; the engine serializes them so the losing
// transfer sees the winner's volume already committed.
func TestConcurrentInitiatesRespectDailyCap(t *testing.T) {
	f := newBridgeFixture(t, 0, 0)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x0b))
	f.fundStable(t, sender, 20_000)

	results := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(6_000))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, capped int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, bridge.ErrDailyCapExceeded):
			capped++
		default:
			t.Fatalf("unexpected initiate error: %v", err)
		}
	}
	if succeeded != 1 || capped != 1 {
		t.Fatalf("succeeded = %d, capped = %d, want exactly one of each", succeeded, capped)
	}

	escrowAcc, err := f.manager.GetAccount(f.escrow)
	if err != nil {
		t.Fatalf("escrow account: %v", err)
	}
	if escrowAcc.BalanceStable.Cmp(big.NewInt(6_000)) != 0 {
		t.Fatalf("escrow balance = %s, want only one transfer escrowed", escrowAcc.BalanceStable)
	}
}

func TestLedgerListPagination(t *testing.T) {
	f := newBridgeFixture(t, 0, 0)
	sender := crypto.NewAddress(crypto.AccountPrefix, bytesOf(0x0a))
	f.fundStable(t, sender, 10_000)

	for i := 0; i < 5; i++ {
		if _, err := f.engine.Initiate(sender, bridge.StableToken, "wGLD", "polygon", "0xabc", big.NewInt(100)); err != nil {
			t.Fatalf("initiate %d: %v", i, err)
		}
		f.now = f.now.Add(time.Minute)
	}

	page, next, err := f.engine.Ledger().List(0, 0, "", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || next == "" {
		t.Fatalf("first page: %d entries, cursor %q", len(page), next)
	}
	total := len(page)
	for next != "" {
		page, next, err = f.engine.Ledger().List(0, 0, next, 2)
		if err != nil {
			t.Fatalf("list page: %v", err)
		}
		total += len(page)
	}
	if total != 5 {
		t.Fatalf("paginated total = %d, want 5", total)
	}
}
