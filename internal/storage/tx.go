package storage

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cachekit/cachekit/internal/model"
)

// txOp is one buffered operation inside an open transaction.
type txOp struct {
	kind  txOpKind
	key   string
	wire  []byte
	meta  model.Metadata
}

type txOpKind int

const (
	txPut txOpKind = iota
	txRemove
)

// Tx is a handle to a batch of buffered Put/Remove calls. Per the
// resolved Open Question on isolation, cachekit does not give
// transactions cross-key atomicity or isolation from concurrent
// readers: each buffered operation still commits individually, in the
// order it was added, under the Backend's normal per-key locking.
// A Tx only guarantees that all of its operations are applied, in
// order, by the time Commit returns successfully (a failing operation
// stops Commit and leaves the later ones unapplied), or that none of the
// not-yet-applied ones are, if Rollback is called first.
type Tx struct {
	id  string
	mu  sync.Mutex
	ops []txOp
	done bool
}

// TxManager hands out transaction handles and commits them against a
// Backend.
type TxManager struct {
	b *Backend

	mu   sync.Mutex
	txns map[string]*Tx
}

// NewTxManager wraps a Backend for transactional use.
func NewTxManager(b *Backend) *TxManager {
	return &TxManager{b: b, txns: make(map[string]*Tx)}
}

// Begin allocates a new transaction id and an empty buffer.
func (tm *TxManager) Begin() *Tx {
	tx := &Tx{id: uuid.NewString()}
	tm.mu.Lock()
	tm.txns[tx.id] = tx
	tm.mu.Unlock()
	return tx
}

// ID returns the transaction's identifier.
func (tx *Tx) ID() string { return tx.id }

// Effects returns the net effect of the buffered operations per key: the
// final metadata for keys whose last buffered operation is a write, nil
// for keys whose last buffered operation is a removal. Callers use this
// after Commit to bring their own bookkeeping in line with the durable
// state the commit produced.
func (tx *Tx) Effects() map[string]*model.Metadata {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	effects := make(map[string]*model.Metadata, len(tx.ops))
	for _, op := range tx.ops {
		switch op.kind {
		case txPut:
			meta := op.meta
			effects[op.key] = &meta
		case txRemove:
			effects[op.key] = nil
		}
	}
	return effects
}

// Put buffers a write to be applied on Commit.
func (tx *Tx) Put(key string, wire []byte, meta model.Metadata) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("storage: tx %s already finished", tx.id)
	}
	tx.ops = append(tx.ops, txOp{kind: txPut, key: key, wire: wire, meta: meta})
	return nil
}

// Remove buffers a removal to be applied on Commit.
func (tx *Tx) Remove(key string) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("storage: tx %s already finished", tx.id)
	}
	tx.ops = append(tx.ops, txOp{kind: txRemove, key: key})
	return nil
}

// Commit applies every buffered operation, in order, against the
// backend. If an operation fails partway through, Commit stops and
// returns the error; operations already applied remain applied (each
// one was already a durable, individually-atomic WAL+file commit) —
// this is the per-operation-atomicity semantics documented for
// transactions.
func (tm *TxManager) Commit(tx *Tx) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("storage: tx %s already finished", tx.id)
	}
	tx.done = true

	for i, op := range tx.ops {
		switch op.kind {
		case txPut:
			if err := tm.b.Put(op.key, op.wire, op.meta); err != nil {
				return fmt.Errorf("storage: tx %s commit op %d: %w", tx.id, i, err)
			}
		case txRemove:
			if _, err := tm.b.Remove(op.key); err != nil {
				return fmt.Errorf("storage: tx %s commit op %d: %w", tx.id, i, err)
			}
		}
	}

	tm.mu.Lock()
	delete(tm.txns, tx.id)
	tm.mu.Unlock()
	return nil
}

// Rollback discards a transaction's buffered operations without
// applying any of them. Operations already committed by a prior
// Commit call cannot be rolled back (per-operation atomicity means
// each one is already durable); Rollback is only meaningful before
// Commit is called.
func (tm *TxManager) Rollback(tx *Tx) {
	tx.mu.Lock()
	tx.done = true
	tx.ops = nil
	tx.mu.Unlock()

	tm.mu.Lock()
	delete(tm.txns, tx.id)
	tm.mu.Unlock()
}
