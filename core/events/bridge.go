package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"greenledger/core/types"
	"greenledger/crypto"
)

const (
	// TypeBridgeInitiated is emitted when a cross-ledger transfer is escrowed.
	TypeBridgeInitiated = "bridge.initiated"
	// TypeBridgeCompleted is emitted when a transfer is released on attestation.
	TypeBridgeCompleted = "bridge.completed"
	// TypeBridgeCancelled is emitted when a pending transfer is refunded.
	TypeBridgeCancelled = "bridge.cancelled"
	// TypeValidatorAdded is emitted when a signer joins the validator set.
	TypeValidatorAdded = "bridge.validator_added"
	// TypeValidatorRemoved is emitted when a signer leaves the validator set.
	TypeValidatorRemoved = "bridge.validator_removed"
)

type BridgeInitiated struct {
	TxID        [32]byte
	Sender      crypto.Address
	SourceToken string
	TargetToken string
	Recipient   string
	TargetChain string
	Amount      *big.Int
}

func (BridgeInitiated) EventType() string { return TypeBridgeInitiated }

func (e BridgeInitiated) Event() *types.Event {
	return &types.Event{
		Type: TypeBridgeInitiated,
		Attributes: map[string]string{
			"txId":        hex.EncodeToString(e.TxID[:]),
			"sender":      e.Sender.String(),
			"sourceToken": strings.TrimSpace(e.SourceToken),
			"targetToken": strings.TrimSpace(e.TargetToken),
			"recipient":   strings.TrimSpace(e.Recipient),
			"targetChain": strings.TrimSpace(e.TargetChain),
			"amount":      amountString(e.Amount),
		},
	}
}

type BridgeCompleted struct {
	TxID      [32]byte
	Approvals uint64
	Amount    *big.Int
}

func (BridgeCompleted) EventType() string { return TypeBridgeCompleted }

func (e BridgeCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeBridgeCompleted,
		Attributes: map[string]string{
			"txId":      hex.EncodeToString(e.TxID[:]),
			"approvals": strconv.FormatUint(e.Approvals, 10),
			"amount":    amountString(e.Amount),
		},
	}
}

type BridgeCancelled struct {
	TxID   [32]byte
	Reason string
	Amount *big.Int
}

func (BridgeCancelled) EventType() string { return TypeBridgeCancelled }

func (e BridgeCancelled) Event() *types.Event {
	return &types.Event{
		Type: TypeBridgeCancelled,
		Attributes: map[string]string{
			"txId":   hex.EncodeToString(e.TxID[:]),
			"reason": strings.TrimSpace(e.Reason),
			"amount": amountString(e.Amount),
		},
	}
}

type ValidatorAdded struct {
	Signer [20]byte
}

func (ValidatorAdded) EventType() string { return TypeValidatorAdded }

func (e ValidatorAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeValidatorAdded,
		Attributes: map[string]string{
			"signer": hex.EncodeToString(e.Signer[:]),
		},
	}
}

type ValidatorRemoved struct {
	Signer [20]byte
}

func (ValidatorRemoved) EventType() string { return TypeValidatorRemoved }

func (e ValidatorRemoved) Event() *types.Event {
	return &types.Event{
		Type: TypeValidatorRemoved,
		Attributes: map[string]string{
			"signer": hex.EncodeToString(e.Signer[:]),
		},
	}
}
