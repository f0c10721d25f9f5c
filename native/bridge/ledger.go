package bridge

import (
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sort"
	"strconv"

	"greenledger/crypto"
)

var (
	// ErrTxNotFound indicates no transfer exists for the identifier.
	ErrTxNotFound = errors.New("bridge: transaction not found")
	// ErrTxExists rejects duplicate initiation under the same identifier.
	ErrTxExists = errors.New("bridge: transaction already recorded")
)

const (
	txPrefix   = "bridge/tx/"
	txIndexKey = "bridge/tx/index"
)

type storedTransaction struct {
	TxID         [32]byte
	Sender       []byte
	SourceToken  string
	TargetToken  string
	Amount       string
	TargetChain  string
	Recipient    string
	Status       string
	InitiatedAt  uint64
	CompletedAt  uint64
	CancelReason string
	Approvals    [][]byte
}

func txKey(txID [32]byte) []byte {
	encoded := hex.EncodeToString(txID[:])
	buf := make([]byte, 0, len(txPrefix)+len(encoded))
	buf = append(buf, txPrefix...)
	buf = append(buf, encoded...)
	return buf
}

func toStoredTransaction(tx *Transaction) storedTransaction {
	stored := storedTransaction{
		TxID:         tx.TxID,
		Sender:       append([]byte(nil), tx.Sender.Bytes()...),
		SourceToken:  tx.SourceToken,
		TargetToken:  tx.TargetToken,
		Amount:       "0",
		TargetChain:  tx.TargetChain,
		Recipient:    tx.Recipient,
		Status:       string(tx.Status),
		CancelReason: tx.CancelReason,
	}
	if tx.Amount != nil {
		stored.Amount = tx.Amount.String()
	}
	if tx.InitiatedAt > 0 {
		stored.InitiatedAt = uint64(tx.InitiatedAt)
	}
	if tx.CompletedAt > 0 {
		stored.CompletedAt = uint64(tx.CompletedAt)
	}
	for _, approval := range tx.Approvals {
		stored.Approvals = append(stored.Approvals, append([]byte(nil), approval[:]...))
	}
	return stored
}

func fromStoredTransaction(stored storedTransaction) (*Transaction, error) {
	amount, ok := new(big.Int).SetString(stored.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("bridge: corrupted amount for tx %x", stored.TxID)
	}
	initiated, err := uint64ToInt64(stored.InitiatedAt)
	if err != nil {
		return nil, err
	}
	completed, err := uint64ToInt64(stored.CompletedAt)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		TxID:         stored.TxID,
		Sender:       crypto.NewAddress(crypto.AccountPrefix, stored.Sender),
		SourceToken:  stored.SourceToken,
		TargetToken:  stored.TargetToken,
		Amount:       amount,
		TargetChain:  stored.TargetChain,
		Recipient:    stored.Recipient,
		Status:       Status(stored.Status),
		InitiatedAt:  initiated,
		CompletedAt:  completed,
		CancelReason: stored.CancelReason,
	}
	for _, raw := range stored.Approvals {
		var approval [20]byte
		copy(approval[:], raw)
		tx.Approvals = append(tx.Approvals, approval)
	}
	return tx, nil
}

func uint64ToInt64(v uint64) (int64, error) {
	if v > uint64(int64(^uint64(0)>>1)) {
		return 0, fmt.Errorf("bridge: timestamp %d overflows int64", v)
	}
	return int64(v), nil
}

// Ledger persists bridge transfers and their index.
type Ledger struct {
	store Storage
}

func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store}
}

// Append records a newly initiated transfer, refusing identifier collisions.
func (l *Ledger) Append(tx *Transaction) error {
	if l == nil || l.store == nil {
		return errors.New("bridge: ledger not configured")
	}
	if tx == nil {
		return errors.New("bridge: nil transaction")
	}
	var existing storedTransaction
	ok, err := l.store.KVGet(txKey(tx.TxID), &existing)
	if err != nil {
		return err
	}
	if ok {
		return ErrTxExists
	}
	if err := l.store.KVPut(txKey(tx.TxID), toStoredTransaction(tx)); err != nil {
		return err
	}
	return l.store.KVAppend([]byte(txIndexKey), tx.TxID[:])
}

// Update overwrites an existing transfer record.
func (l *Ledger) Update(tx *Transaction) error {
	if l == nil || l.store == nil {
		return errors.New("bridge: ledger not configured")
	}
	var existing storedTransaction
	ok, err := l.store.KVGet(txKey(tx.TxID), &existing)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTxNotFound
	}
	return l.store.KVPut(txKey(tx.TxID), toStoredTransaction(tx))
}

// Get loads a transfer by identifier.
func (l *Ledger) Get(txID [32]byte) (*Transaction, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("bridge: ledger not configured")
	}
	var stored storedTransaction
	ok, err := l.store.KVGet(txKey(txID), &stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTxNotFound
	}
	return fromStoredTransaction(stored)
}

// List returns transfers initiated inside [fromTs, toTs], newest first, using
// the opaque hex cursor returned by the previous page. A zero toTs means no
// upper bound; limit zero defaults to 50.
func (l *Ledger) List(fromTs, toTs int64, cursor string, limit int) ([]*Transaction, string, error) {
	if l == nil || l.store == nil {
		return nil, "", errors.New("bridge: ledger not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	ids, err := l.indexIDs()
	if err != nil {
		return nil, "", err
	}
	txs := make([]*Transaction, 0, len(ids))
	for _, id := range ids {
		tx, err := l.Get(id)
		if err != nil {
			if errors.Is(err, ErrTxNotFound) {
				continue
			}
			return nil, "", err
		}
		if tx.InitiatedAt < fromTs {
			continue
		}
		if toTs > 0 && tx.InitiatedAt > toTs {
			continue
		}
		txs = append(txs, tx)
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].InitiatedAt == txs[j].InitiatedAt {
			return hex.EncodeToString(txs[i].TxID[:]) < hex.EncodeToString(txs[j].TxID[:])
		}
		return txs[i].InitiatedAt > txs[j].InitiatedAt
	})
	start := 0
	if cursor != "" {
		for i, tx := range txs {
			if hex.EncodeToString(tx.TxID[:]) == cursor {
				start = i + 1
				break
			}
		}
	}
	if start >= len(txs) {
		return nil, "", nil
	}
	end := start + limit
	if end > len(txs) {
		end = len(txs)
	}
	page := txs[start:end]
	next := ""
	if end < len(txs) {
		next = hex.EncodeToString(page[len(page)-1].TxID[:])
	}
	return page, next, nil
}

// ExportCSV streams transfers inside [fromTs, toTs] as CSV rows.
func (l *Ledger) ExportCSV(w io.Writer, fromTs, toTs int64) (int, error) {
	writer := csv.NewWriter(w)
	header := []string{"tx_id", "sender", "source_token", "target_token", "amount", "target_chain", "recipient", "status", "initiated_at", "completed_at", "cancel_reason", "approvals"}
	if err := writer.Write(header); err != nil {
		return 0, err
	}
	count := 0
	cursor := ""
	for {
		page, next, err := l.List(fromTs, toTs, cursor, 200)
		if err != nil {
			return count, err
		}
		for _, tx := range page {
			row := []string{
				hex.EncodeToString(tx.TxID[:]),
				tx.Sender.String(),
				tx.SourceToken,
				tx.TargetToken,
				tx.Amount.String(),
				tx.TargetChain,
				tx.Recipient,
				string(tx.Status),
				strconv.FormatInt(tx.InitiatedAt, 10),
				strconv.FormatInt(tx.CompletedAt, 10),
				tx.CancelReason,
				strconv.Itoa(len(tx.Approvals)),
			}
			if err := writer.Write(row); err != nil {
				return count, err
			}
			count++
		}
		if next == "" {
			break
		}
		cursor = next
	}
	writer.Flush()
	return count, writer.Error()
}

func (l *Ledger) indexIDs() ([][32]byte, error) {
	var raw [][]byte
	if err := l.store.KVGetList([]byte(txIndexKey), &raw); err != nil {
		return nil, err
	}
	seen := make(map[[32]byte]struct{}, len(raw))
	ids := make([][32]byte, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 32 {
			continue
		}
		var id [32]byte
		copy(id[:], entry)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids, nil
}
