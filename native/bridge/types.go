package bridge

import (
	"math/big"
	"time"

	"greenledger/crypto"
)

// Status tracks a transfer through its settlement lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Transaction is a cross-ledger transfer held in escrow until the validator
// set attests to its release on the target chain.
type Transaction struct {
	TxID         [32]byte
	Sender       crypto.Address
	SourceToken  string
	TargetToken  string
	Amount       *big.Int
	TargetChain  string
	Recipient    string
	Status       Status
	InitiatedAt  int64
	CompletedAt  int64
	CancelReason string
	Approvals    [][20]byte
}

// Clone returns a deep copy safe for mutation by the caller.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Amount != nil {
		clone.Amount = new(big.Int).Set(t.Amount)
	}
	if len(t.Approvals) > 0 {
		clone.Approvals = make([][20]byte, len(t.Approvals))
		copy(clone.Approvals, t.Approvals)
	}
	return &clone
}

// EnsureDefaults normalises nil numeric fields after decode.
func (t *Transaction) EnsureDefaults() {
	if t == nil {
		return
	}
	if t.Amount == nil {
		t.Amount = big.NewInt(0)
	}
}

// Params bound transfer size, throughput and settlement timing.
type Params struct {
	MinAmount       *big.Int
	MaxAmount       *big.Int
	DailyCap        *big.Int
	SettlementDelay time.Duration
}
