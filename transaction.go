package linebatch

import (
	"context"
	"database/sql"
)

// TransactionManager used by chunk step to execute chunk process in a transaction.
type TransactionManager interface {
	BeginTx(ctx context.Context) (tx interface{}, err BatchError)
	Commit(tx interface{}) BatchError
	Rollback(tx interface{}) BatchError
}

// ChunkTx transaction of one chunk. Writers register the effects of a chunk with OnCommit,
// they are applied in registration order when the chunk commits and dropped when it rolls back.
type ChunkTx struct {
	onCommit   []func() error
	onRollback []func()
	done       bool
}

// OnCommit registers fn to run when the chunk commits
func (tx *ChunkTx) OnCommit(fn func() error) {
	tx.onCommit = append(tx.onCommit, fn)
}

// OnRollback registers fn to run when the chunk rolls back
func (tx *ChunkTx) OnRollback(fn func()) {
	tx.onRollback = append(tx.onRollback, fn)
}

type chunkTxManager struct {
}

// NewChunkTxManager TransactionManager of chunk scoped in-memory transactions
func NewChunkTxManager() TransactionManager {
	return &chunkTxManager{}
}

func (tm *chunkTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	return &ChunkTx{}, nil
}

func (tm *chunkTxManager) Commit(tx interface{}) BatchError {
	ctx, ok := tx.(*ChunkTx)
	if !ok {
		return NewBatchError(ErrCodeGeneral, "not a chunk transaction:%T", tx)
	}
	if ctx.done {
		return nil
	}
	ctx.done = true
	for _, fn := range ctx.onCommit {
		if err := fn(); err != nil {
			return NewBatchError(ErrCodeResource, "chunk commit failed", err)
		}
	}
	return nil
}

func (tm *chunkTxManager) Rollback(tx interface{}) BatchError {
	ctx, ok := tx.(*ChunkTx)
	if !ok {
		return NewBatchError(ErrCodeGeneral, "not a chunk transaction:%T", tx)
	}
	ctx.done = true
	for _, fn := range ctx.onRollback {
		fn()
	}
	ctx.onCommit = nil
	return nil
}

// DefaultTxManager TransactionManager over a *sql.DB, for writers persisting items in a database
type DefaultTxManager struct {
	db *sql.DB
}

// NewTransactionManager create a TransactionManager instance
func NewTransactionManager(db *sql.DB) TransactionManager {
	return &DefaultTxManager{
		db: db,
	}
}

// BeginTx begin a transaction
func (tm *DefaultTxManager) BeginTx(ctx context.Context) (interface{}, BatchError) {
	tx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, NewBatchError(ErrCodeDbFail, "start transaction failed", err)
	}
	return tx, nil
}

// Commit commit a transaction
func (tm *DefaultTxManager) Commit(tx interface{}) BatchError {
	tx1 := tx.(*sql.Tx)
	err := tx1.Commit()
	if err != nil {
		return NewBatchError(ErrCodeDbFail, "transaction commit failed", err)
	}
	return nil
}

// Rollback rollback a transaction
func (tm *DefaultTxManager) Rollback(tx interface{}) BatchError {
	tx1 := tx.(*sql.Tx)
	err := tx1.Rollback()
	if err != nil && err != sql.ErrTxDone {
		return NewBatchError(ErrCodeDbFail, "transaction rollback failed", err)
	}
	return nil
}
