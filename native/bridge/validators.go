package bridge

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"greenledger/core/events"
	"greenledger/crypto"
)

var (
	// ErrValidatorExists rejects duplicate membership additions.
	ErrValidatorExists = errors.New("bridge: validator already in set")
	// ErrValidatorUnknown rejects removal of a non-member.
	ErrValidatorUnknown = errors.New("bridge: validator not in set")
	// ErrThresholdInvalid rejects thresholds outside [1, len(set)].
	ErrThresholdInvalid = errors.New("bridge: threshold out of range")
	// ErrSetTooSmall blocks removals that would leave the set below threshold.
	ErrSetTooSmall = errors.New("bridge: removal would break threshold")
)

const validatorSetKey = "bridge/validators"

type storedValidatorSet struct {
	Members   [][]byte
	Threshold uint64
}

// ValidatorSet holds the bridge signers and the approval threshold. Mutations
// are serialized by an internal mutex and persist immediately; reads reflect
// the stored set so completion always evaluates against the membership
// current at that moment.
type ValidatorSet struct {
	store   Storage
	emitter events.Emitter
	mu      sync.Mutex
}

func NewValidatorSet(store Storage) *ValidatorSet {
	return &ValidatorSet{store: store, emitter: events.NoopEmitter{}}
}

func (v *ValidatorSet) SetEmitter(emitter events.Emitter) {
	if v == nil || emitter == nil {
		return
	}
	v.emitter = emitter
}

func (v *ValidatorSet) load() (*storedValidatorSet, error) {
	var stored storedValidatorSet
	ok, err := v.store.KVGet([]byte(validatorSetKey), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &storedValidatorSet{Threshold: 1}, nil
	}
	if stored.Threshold == 0 {
		stored.Threshold = 1
	}
	return &stored, nil
}

func (v *ValidatorSet) save(set *storedValidatorSet) error {
	sort.Slice(set.Members, func(i, j int) bool {
		return bytes.Compare(set.Members[i], set.Members[j]) < 0
	})
	return v.store.KVPut([]byte(validatorSetKey), set)
}

// Add appends a validator to the set.
func (v *ValidatorSet) Add(addr crypto.Address) error {
	if v == nil || v.store == nil {
		return errors.New("bridge: validator set not configured")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	set, err := v.load()
	if err != nil {
		return err
	}
	for _, member := range set.Members {
		if bytes.Equal(member, addr.Bytes()) {
			return ErrValidatorExists
		}
	}
	set.Members = append(set.Members, append([]byte(nil), addr.Bytes()...))
	if err := v.save(set); err != nil {
		return err
	}
	var signer [20]byte
	copy(signer[:], addr.Bytes())
	v.emitter.Emit(events.ValidatorAdded{Signer: signer})
	return nil
}

// Remove drops a validator, refusing when the remaining set could no longer
// meet the threshold.
func (v *ValidatorSet) Remove(addr crypto.Address) error {
	if v == nil || v.store == nil {
		return errors.New("bridge: validator set not configured")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	set, err := v.load()
	if err != nil {
		return err
	}
	idx := -1
	for i, member := range set.Members {
		if bytes.Equal(member, addr.Bytes()) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrValidatorUnknown
	}
	if uint64(len(set.Members)-1) < set.Threshold {
		return ErrSetTooSmall
	}
	set.Members = append(set.Members[:idx], set.Members[idx+1:]...)
	if err := v.save(set); err != nil {
		return err
	}
	var signer [20]byte
	copy(signer[:], addr.Bytes())
	v.emitter.Emit(events.ValidatorRemoved{Signer: signer})
	return nil
}

// SetThreshold updates the approval threshold within [1, len(set)].
func (v *ValidatorSet) SetThreshold(threshold uint64) error {
	if v == nil || v.store == nil {
		return errors.New("bridge: validator set not configured")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	set, err := v.load()
	if err != nil {
		return err
	}
	if threshold == 0 || threshold > uint64(len(set.Members)) {
		return ErrThresholdInvalid
	}
	set.Threshold = threshold
	return v.save(set)
}

// Members returns the sorted membership.
func (v *ValidatorSet) Members() ([]crypto.Address, error) {
	if v == nil || v.store == nil {
		return nil, errors.New("bridge: validator set not configured")
	}
	set, err := v.load()
	if err != nil {
		return nil, err
	}
	members := make([]crypto.Address, 0, len(set.Members))
	for _, raw := range set.Members {
		members = append(members, crypto.NewAddress(crypto.ValidatorPrefix, raw))
	}
	return members, nil
}

// Threshold returns the current approval threshold.
func (v *ValidatorSet) Threshold() (uint64, error) {
	if v == nil || v.store == nil {
		return 0, errors.New("bridge: validator set not configured")
	}
	set, err := v.load()
	if err != nil {
		return 0, err
	}
	return set.Threshold, nil
}

// contains reports membership by raw 20-byte address.
func (v *ValidatorSet) contains(raw [20]byte) (bool, error) {
	set, err := v.load()
	if err != nil {
		return false, err
	}
	for _, member := range set.Members {
		if bytes.Equal(member, raw[:]) {
			return true, nil
		}
	}
	return false, nil
}
