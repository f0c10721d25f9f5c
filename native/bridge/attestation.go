package bridge

import (
	"encoding/hex"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AttestDomainV1 versions the canonical attestation payload. Signatures over
// any other domain string are rejected outright.
const AttestDomainV1 = "GL_BRIDGE_ATTEST_V1"

var (
	// ErrAttestationDomain rejects attestations signed over an unknown domain.
	ErrAttestationDomain = errors.New("bridge: unsupported attestation domain")
	// ErrAttestationSigner rejects signatures that do not recover to a
	// current validator.
	ErrAttestationSigner = errors.New("bridge: signer not in validator set")
	// ErrAttestationInvalid rejects malformed or unverifiable signatures.
	ErrAttestationInvalid = errors.New("bridge: invalid attestation signature")
	// ErrDuplicateApproval rejects a second approval from the same validator.
	ErrDuplicateApproval = errors.New("bridge: duplicate validator approval")
)

// Attestation is a validator's signed approval to release a transfer on the
// target chain.
type Attestation struct {
	Domain    string
	TxID      [32]byte
	Signature []byte
}

// AttestationMessage renders the canonical byte payload a validator signs.
// Both the signing CLI and the settlement engine derive the digest from this
// exact encoding.
func AttestationMessage(txID [32]byte, targetChain, recipient, amount string) []byte {
	payload := fmt.Sprintf("%s|tx=%s|chain=%s|recipient=%s|amount=%s",
		AttestDomainV1,
		hex.EncodeToString(txID[:]),
		targetChain,
		recipient,
		amount,
	)
	return []byte(payload)
}

// AttestationDigest hashes the canonical message with keccak256.
func AttestationDigest(txID [32]byte, targetChain, recipient, amount string) [32]byte {
	var digest [32]byte
	copy(digest[:], ethcrypto.Keccak256(AttestationMessage(txID, targetChain, recipient, amount)))
	return digest
}

// recoverSigner validates the attestation envelope and returns the raw
// 20-byte address recovered from the signature.
func recoverSigner(att Attestation, tx *Transaction) ([20]byte, error) {
	var signer [20]byte
	if att.Domain != AttestDomainV1 {
		return signer, ErrAttestationDomain
	}
	if att.TxID != tx.TxID {
		return signer, ErrAttestationInvalid
	}
	if len(att.Signature) != 65 {
		return signer, ErrAttestationInvalid
	}
	digest := AttestationDigest(tx.TxID, tx.TargetChain, tx.Recipient, tx.Amount.String())
	pub, err := ethcrypto.SigToPub(digest[:], att.Signature)
	if err != nil {
		return signer, ErrAttestationInvalid
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return signer, nil
}
