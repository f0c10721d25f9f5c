package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// QuoteDomainV1 defines the domain separator used when signing price submissions.
const QuoteDomainV1 = "GL_ORACLE_PRICE_V1"

var (
	// ErrSubmissionNil indicates the feed received an empty submission.
	ErrSubmissionNil = errors.New("oracle: submission required")
	// ErrSubmissionDomain indicates the submission domain did not match the expected identifier.
	ErrSubmissionDomain = errors.New("oracle: submission domain invalid")
	// ErrSignerUnknown indicates the recovered signer is not registered for the price source.
	ErrSignerUnknown = errors.New("oracle: signer unknown")
	// ErrSignatureInvalid indicates the signature could not be recovered or did not match.
	ErrSignatureInvalid = errors.New("oracle: signature invalid")
	// ErrSubmissionStale indicates the submission exceeded the configured freshness window.
	ErrSubmissionStale = errors.New("oracle: submission stale")
	// ErrDeviationTooLarge indicates the rate moved beyond the allowed threshold from the last acceptance.
	ErrDeviationTooLarge = errors.New("oracle: deviation too large")
)

// QuoteSubmission is a signed price observation submitted by an authorised
// price source operator.
type QuoteSubmission struct {
	Domain    string
	Source    string
	AssetID   string
	Rate      *big.Rat
	Timestamp time.Time
	Signature []byte
}

// NewQuoteSubmission validates the raw payload and builds the canonical struct.
func NewQuoteSubmission(domain, source, assetID, rate string, ts int64, signature []byte) (*QuoteSubmission, error) {
	trimmedDomain := strings.TrimSpace(domain)
	if trimmedDomain == "" {
		return nil, fmt.Errorf("oracle: domain required")
	}
	trimmedSource := strings.TrimSpace(source)
	if trimmedSource == "" {
		return nil, fmt.Errorf("oracle: source required")
	}
	trimmedAsset := strings.TrimSpace(assetID)
	if trimmedAsset == "" {
		return nil, fmt.Errorf("oracle: asset required")
	}
	trimmedRate := strings.TrimSpace(rate)
	if trimmedRate == "" {
		return nil, fmt.Errorf("oracle: rate required")
	}
	rat, ok := new(big.Rat).SetString(trimmedRate)
	if !ok {
		return nil, fmt.Errorf("oracle: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: rate must be positive")
	}
	if ts <= 0 {
		return nil, fmt.Errorf("oracle: timestamp required")
	}
	submission := &QuoteSubmission{
		Domain:    trimmedDomain,
		Source:    strings.ToLower(trimmedSource),
		AssetID:   trimmedAsset,
		Rate:      rat,
		Timestamp: time.Unix(ts, 0).UTC(),
	}
	if len(signature) > 0 {
		submission.Signature = append([]byte(nil), signature...)
	}
	return submission, nil
}

// CanonicalMessage renders the canonical message covered by the signature.
func (s *QuoteSubmission) CanonicalMessage() (string, error) {
	if s == nil {
		return "", ErrSubmissionNil
	}
	if strings.TrimSpace(s.Domain) == "" {
		return "", fmt.Errorf("oracle: domain required")
	}
	rateStr := ""
	if s.Rate != nil {
		rateStr = s.Rate.FloatString(18)
	}
	if strings.TrimSpace(rateStr) == "" {
		return "", fmt.Errorf("oracle: rate required")
	}
	if s.Timestamp.IsZero() {
		return "", fmt.Errorf("oracle: timestamp required")
	}
	builder := strings.Builder{}
	builder.WriteString(strings.ToUpper(strings.TrimSpace(s.Domain)))
	builder.WriteString("|source=")
	builder.WriteString(strings.ToLower(strings.TrimSpace(s.Source)))
	builder.WriteString("|asset=")
	builder.WriteString(strings.TrimSpace(s.AssetID))
	builder.WriteString("|rate=")
	builder.WriteString(rateStr)
	builder.WriteString("|ts=")
	builder.WriteString(fmt.Sprintf("%d", s.Timestamp.UTC().Unix()))
	return builder.String(), nil
}

// Hash computes the keccak256 digest of the canonical message.
func (s *QuoteSubmission) Hash() ([]byte, error) {
	message, err := s.CanonicalMessage()
	if err != nil {
		return nil, err
	}
	return ethcrypto.Keccak256([]byte(message)), nil
}

// SignedFeed validates signed quote submissions and serves the accepted quotes
// to the issuance engine. Each price source identifier maps to exactly one
// registered signer address.
type SignedFeed struct {
	mu              sync.RWMutex
	signers         map[string][20]byte
	quotes          map[string]Quote
	scores          map[string]uint64
	maxAge          time.Duration
	maxDeviationBps uint64
	futureTolerance time.Duration
	now             func() time.Time
}

// NewSignedFeed constructs a feed with the supplied freshness and deviation guards.
func NewSignedFeed(maxAge time.Duration, maxDeviationBps uint64) *SignedFeed {
	return &SignedFeed{
		signers:         make(map[string][20]byte),
		quotes:          make(map[string]Quote),
		scores:          make(map[string]uint64),
		maxAge:          maxAge,
		maxDeviationBps: maxDeviationBps,
		futureTolerance: 30 * time.Second,
	}
}

// SetClock overrides the feed clock, primarily for deterministic testing.
func (f *SignedFeed) SetClock(now func() time.Time) {
	if f == nil || now == nil {
		return
	}
	f.now = now
}

// RegisterSigner authorises the signer address for the given price source.
func (f *SignedFeed) RegisterSigner(source string, signer [20]byte) {
	if f == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(source))
	if trimmed == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signers[trimmed] = signer
}

// Submit verifies the submission and, on success, records it as the latest
// quote for the asset.
func (f *SignedFeed) Submit(submission *QuoteSubmission) error {
	if f == nil {
		return fmt.Errorf("oracle: feed not configured")
	}
	if submission == nil {
		return ErrSubmissionNil
	}
	if !strings.EqualFold(strings.TrimSpace(submission.Domain), QuoteDomainV1) {
		return ErrSubmissionDomain
	}
	source := strings.ToLower(strings.TrimSpace(submission.Source))
	if source == "" {
		return ErrSignerUnknown
	}

	f.mu.RLock()
	signer, ok := f.signers[source]
	f.mu.RUnlock()
	if !ok {
		return ErrSignerUnknown
	}

	hash, err := submission.Hash()
	if err != nil {
		return err
	}
	if len(submission.Signature) != 65 {
		return ErrSignatureInvalid
	}
	pubKey, err := ethcrypto.SigToPub(hash, submission.Signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	recovered := ethcrypto.PubkeyToAddress(*pubKey)
	if recovered != ethcommon.BytesToAddress(signer[:]) {
		return ErrSignatureInvalid
	}

	now := time.Now()
	if f.now != nil {
		now = f.now()
	}
	ts := submission.Timestamp
	if f.futureTolerance > 0 && ts.After(now.Add(f.futureTolerance)) {
		return ErrSubmissionStale
	}
	if f.maxAge > 0 && now.Sub(ts) > f.maxAge {
		return ErrSubmissionStale
	}

	asset := strings.TrimSpace(submission.AssetID)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.maxDeviationBps > 0 {
		if prev, ok := f.quotes[asset]; ok && prev.Rate != nil && prev.Rate.Sign() > 0 && submission.Rate != nil {
			diff := new(big.Rat).Sub(submission.Rate, prev.Rate)
			if diff.Sign() < 0 {
				diff.Neg(diff)
			}
			threshold := new(big.Rat).Mul(prev.Rate, big.NewRat(int64(f.maxDeviationBps), 10000))
			if threshold.Sign() > 0 && diff.Cmp(threshold) == 1 {
				return ErrDeviationTooLarge
			}
		}
	}
	f.quotes[asset] = Quote{Rate: new(big.Rat).Set(submission.Rate), Timestamp: ts}
	return nil
}

// SetESGScore records the sustainability score for the asset.
func (f *SignedFeed) SetESGScore(assetID string, score uint64) {
	if f == nil {
		return
	}
	trimmed := strings.TrimSpace(assetID)
	if trimmed == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[trimmed] = score
}

// Price implements Source.
func (f *SignedFeed) Price(assetID string) (Quote, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	quote, ok := f.quotes[strings.TrimSpace(assetID)]
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return quote.Clone(), nil
}

// ESGScore implements Source.
func (f *SignedFeed) ESGScore(assetID string) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	score, ok := f.scores[strings.TrimSpace(assetID)]
	if !ok {
		return 0, ErrNoQuote
	}
	return score, nil
}
