package bridge

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"greenledger/core/events"
	"greenledger/core/types"
	"greenledger/crypto"
	nativecommon "greenledger/native/common"
)

// StableToken is the source-token symbol for the native stablecoin; any other
// symbol is treated as a registered collateral asset.
const StableToken = "GLD"

var (
	errNilState            = errors.New("bridge engine: state not configured")
	errInvalidAmount       = errors.New("bridge engine: amount must be positive")
	errInsufficientBalance = errors.New("bridge engine: insufficient balance")
	// ErrAmountOutOfBounds rejects transfers outside [MinAmount, MaxAmount].
	ErrAmountOutOfBounds = errors.New("bridge engine: amount outside transfer bounds")
	// ErrTxNotPending rejects settlement actions on a finalised transfer.
	ErrTxNotPending = errors.New("bridge engine: transaction not pending")
	// ErrSettlementDelay blocks completion before the delay has elapsed.
	ErrSettlementDelay = errors.New("bridge engine: settlement delay not elapsed")
	// ErrThresholdNotMet rejects completion without enough valid approvals.
	ErrThresholdNotMet = errors.New("bridge engine: approval threshold not met")
	// ErrNotSender rejects cancellation by anyone but the originator.
	ErrNotSender = errors.New("bridge engine: caller is not the sender")
	// ErrReentrancy rejects nested invocation of a mutating operation.
	ErrReentrancy = errors.New("bridge engine: reentrant call")
)

const moduleName = "bridge"

type accountState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	StableSupply() (*big.Int, error)
	SetStableSupply(supply *big.Int) error
}

// Engine escrows outbound transfers and settles them once the validator set
// attests to the release on the target chain. Mutating operations are
// serialized: each holds the engine mutex from entry to exit, so the daily
// volume check and the escrow movement of one transfer commit before the next
// begins.
type Engine struct {
	store      Storage
	ledger     *Ledger
	validators *ValidatorSet
	accounts   accountState
	escrow     crypto.Address
	params     Params
	pauses     nativecommon.PauseView
	emitter    events.Emitter
	clock      func() time.Time
	nonce      uint64

	mu      sync.Mutex
	entered bool
}

// NewEngine constructs a settlement engine escrowing funds in the supplied
// module account.
func NewEngine(store Storage, escrow crypto.Address, params Params) *Engine {
	return &Engine{
		store:      store,
		ledger:     NewLedger(store),
		validators: NewValidatorSet(store),
		escrow:     escrow,
		params:     params,
		emitter:    events.NoopEmitter{},
		clock:      time.Now,
	}
}

// SetAccounts wires the engine to the account persistence layer.
func (e *Engine) SetAccounts(state accountState) { e.accounts = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the event sink shared with the validator set.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil || emitter == nil {
		return
	}
	e.emitter = emitter
	e.validators.SetEmitter(emitter)
}

// SetClock overrides the time source (primarily for deterministic testing).
func (e *Engine) SetClock(clock func() time.Time) {
	if e == nil || clock == nil {
		return
	}
	e.clock = clock
}

// Validators exposes membership management for the admin surface.
func (e *Engine) Validators() *ValidatorSet { return e.validators }

// Ledger exposes the transfer ledger for the read surface.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// enter acquires the engine mutex, held until the matching exit. The entered
// latch underneath rejects reentrant invocation.
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

// Initiate escrows the amount from the sender and records a pending transfer.
func (e *Engine) Initiate(sender crypto.Address, sourceToken, targetToken, targetChain, recipient string, amount *big.Int) (*Transaction, error) {
	if e == nil || e.accounts == nil {
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
	if e.params.MinAmount != nil && amount.Cmp(e.params.MinAmount) < 0 {
		return nil, ErrAmountOutOfBounds
	}
	if e.params.MaxAmount != nil && e.params.MaxAmount.Sign() > 0 && amount.Cmp(e.params.MaxAmount) > 0 {
		return nil, ErrAmountOutOfBounds
	}
	if targetChain == "" || recipient == "" {
		return nil, errors.New("bridge engine: target chain and recipient required")
	}

	now := e.clock().UTC()
	if err := e.consumeDailyCap(sourceToken, amount, now); err != nil {
		return nil, err
	}

	senderAcc, err := e.loadAccount(sender)
	if err != nil {
		return nil, err
	}
	escrowAcc, err := e.loadAccount(e.escrow)
	if err != nil {
		return nil, err
	}
	if err := moveToken(senderAcc, escrowAcc, sourceToken, amount); err != nil {
		return nil, err
	}

	e.nonce++
	tx := &Transaction{
		TxID:        e.deriveTxID(sender, sourceToken, targetChain, recipient, amount, now),
		Sender:      sender,
		SourceToken: sourceToken,
		TargetToken: targetToken,
		Amount:      new(big.Int).Set(amount),
		TargetChain: targetChain,
		Recipient:   recipient,
		Status:      StatusPending,
		InitiatedAt: now.Unix(),
	}
	if err := e.ledger.Append(tx); err != nil {
		return nil, err
	}
	if err := e.accounts.PutAccount(sender, senderAcc); err != nil {
		return nil, err
	}
	if err := e.accounts.PutAccount(e.escrow, escrowAcc); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.BridgeInitiated{
		TxID:        tx.TxID,
		Sender:      sender,
		SourceToken: sourceToken,
		TargetToken: targetToken,
		Recipient:   recipient,
		TargetChain: targetChain,
		Amount:      new(big.Int).Set(amount),
	})
	return tx.Clone(), nil
}

// Complete settles a pending transfer after the delay, provided the
// attestations recover to enough distinct members of the validator set as it
// stands now. The escrowed value is burned from this ledger.
func (e *Engine) Complete(txID [32]byte, attestations []Attestation) (*Transaction, error) {
	if e == nil || e.accounts == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	tx, err := e.ledger.Get(txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusPending {
		return nil, ErrTxNotPending
	}
	now := e.clock().UTC()
	if e.params.SettlementDelay > 0 && now.Before(time.Unix(tx.InitiatedAt, 0).Add(e.params.SettlementDelay)) {
		return nil, ErrSettlementDelay
	}

	threshold, err := e.validators.Threshold()
	if err != nil {
		return nil, err
	}
	approvals, err := e.countApprovals(tx, attestations)
	if err != nil {
		return nil, err
	}
	if uint64(len(approvals)) < threshold {
		return nil, ErrThresholdNotMet
	}

	escrowAcc, err := e.loadAccount(e.escrow)
	if err != nil {
		return nil, err
	}
	if err := e.burnToken(escrowAcc, tx.SourceToken, tx.Amount); err != nil {
		return nil, err
	}

	tx.Status = StatusCompleted
	tx.CompletedAt = now.Unix()
	tx.Approvals = approvals
	if err := e.ledger.Update(tx); err != nil {
		return nil, err
	}
	if err := e.accounts.PutAccount(e.escrow, escrowAcc); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.BridgeCompleted{TxID: tx.TxID, Approvals: uint64(len(approvals)), Amount: new(big.Int).Set(tx.Amount)})
	return tx.Clone(), nil
}

// Cancel refunds a pending transfer to its sender. The reason is stored for
// audit, not interpreted. Consumed daily volume is not released; the bucket
// only ever grows within its day.
func (e *Engine) Cancel(caller crypto.Address, txID [32]byte, reason string) (*Transaction, error) {
	if e == nil || e.accounts == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	tx, err := e.ledger.Get(txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusPending {
		return nil, ErrTxNotPending
	}
	if tx.Sender.String() != caller.String() {
		return nil, ErrNotSender
	}
	return e.finalizeCancel(tx, reason)
}

// ForceCancel refunds a pending transfer on behalf of the guardian surface,
// bypassing the sender check and, deliberately, the pause guard: it stays
// callable while the module is paused so stuck escrow can be drained during
// an incident.
func (e *Engine) ForceCancel(txID [32]byte, reason string) (*Transaction, error) {
	if e == nil || e.accounts == nil {
		return nil, errNilState
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()

	tx, err := e.ledger.Get(txID)
	if err != nil {
		return nil, err
	}
	if tx.Status != StatusPending {
		return nil, ErrTxNotPending
	}
	if reason == "" {
		reason = "guardian override"
	}
	return e.finalizeCancel(tx, reason)
}

func (e *Engine) finalizeCancel(tx *Transaction, reason string) (*Transaction, error) {
	escrowAcc, err := e.loadAccount(e.escrow)
	if err != nil {
		return nil, err
	}
	senderAcc, err := e.loadAccount(tx.Sender)
	if err != nil {
		return nil, err
	}
	if err := moveToken(escrowAcc, senderAcc, tx.SourceToken, tx.Amount); err != nil {
		return nil, err
	}

	tx.Status = StatusCancelled
	tx.CompletedAt = e.clock().UTC().Unix()
	tx.CancelReason = reason
	if err := e.ledger.Update(tx); err != nil {
		return nil, err
	}
	if err := e.accounts.PutAccount(e.escrow, escrowAcc); err != nil {
		return nil, err
	}
	if err := e.accounts.PutAccount(tx.Sender, senderAcc); err != nil {
		return nil, err
	}

	e.emitter.Emit(events.BridgeCancelled{TxID: tx.TxID, Reason: reason, Amount: new(big.Int).Set(tx.Amount)})
	return tx.Clone(), nil
}

// countApprovals verifies each attestation and returns the distinct signers
// that are current validators. Invalid signatures fail the whole batch;
// duplicates from the same validator do too.
func (e *Engine) countApprovals(tx *Transaction, attestations []Attestation) ([][20]byte, error) {
	seen := make(map[[20]byte]struct{}, len(attestations))
	approvals := make([][20]byte, 0, len(attestations))
	for _, att := range attestations {
		signer, err := recoverSigner(att, tx)
		if err != nil {
			return nil, err
		}
		member, err := e.validators.contains(signer)
		if err != nil {
			return nil, err
		}
		if !member {
			return nil, ErrAttestationSigner
		}
		if _, dup := seen[signer]; dup {
			return nil, ErrDuplicateApproval
		}
		seen[signer] = struct{}{}
		approvals = append(approvals, signer)
	}
	return approvals, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.accounts.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = types.NewAccount()
	}
	acc.EnsureDefaults()
	return acc, nil
}

func (e *Engine) deriveTxID(sender crypto.Address, token, chain, recipient string, amount *big.Int, now time.Time) [32]byte {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%d",
		sender.String(), token, chain, recipient, amount.String(), now.UnixNano(), e.nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte(payload)))
	return id
}

func moveToken(from, to *types.Account, token string, amount *big.Int) error {
	if token == StableToken {
		if from.BalanceStable.Cmp(amount) < 0 {
			return errInsufficientBalance
		}
		from.BalanceStable = new(big.Int).Sub(from.BalanceStable, amount)
		to.BalanceStable = new(big.Int).Add(to.BalanceStable, amount)
		return nil
	}
	balance := from.CollateralBalance(token)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	from.SetCollateralBalance(token, new(big.Int).Sub(balance, amount))
	to.SetCollateralBalance(token, new(big.Int).Add(to.CollateralBalance(token), amount))
	return nil
}

// burnToken removes escrowed value from this ledger. Stable burns shrink the
// tracked supply so bridged-out coin cannot double count.
func (e *Engine) burnToken(escrowAcc *types.Account, token string, amount *big.Int) error {
	if token == StableToken {
		if escrowAcc.BalanceStable.Cmp(amount) < 0 {
			return errInsufficientBalance
		}
		escrowAcc.BalanceStable = new(big.Int).Sub(escrowAcc.BalanceStable, amount)
		supply, err := e.accounts.StableSupply()
		if err != nil {
			return err
		}
		if supply == nil {
			supply = big.NewInt(0)
		}
		return e.accounts.SetStableSupply(new(big.Int).Sub(supply, amount))
	}
	balance := escrowAcc.CollateralBalance(token)
	if balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	escrowAcc.SetCollateralBalance(token, new(big.Int).Sub(balance, amount))
	return nil
}
