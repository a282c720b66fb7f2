package linebatch

import (
	"context"
	"errors"
	"testing"

	"github.com/bmizerany/assert"
)

func TestChunkTxManager_Commit(t *testing.T) {
	tm := NewChunkTxManager()
	tx, err := tm.BeginTx(context.Background())
	assert.Equal(t, nil, err)
	order := make([]int, 0)
	chunkTx := tx.(*ChunkTx)
	chunkTx.OnCommit(func() error {
		order = append(order, 1)
		return nil
	})
	chunkTx.OnCommit(func() error {
		order = append(order, 2)
		return nil
	})
	chunkTx.OnRollback(func() {
		order = append(order, -1)
	})
	assert.Equal(t, nil, tm.Commit(tx))
	assert.Equal(t, []int{1, 2}, order)
	// a finished transaction is not applied twice
	assert.Equal(t, nil, tm.Commit(tx))
	assert.Equal(t, []int{1, 2}, order)
}

func TestChunkTxManager_Rollback(t *testing.T) {
	tm := NewChunkTxManager()
	tx, _ := tm.BeginTx(context.Background())
	committed := false
	rolledBack := false
	tx.(*ChunkTx).OnCommit(func() error {
		committed = true
		return nil
	})
	tx.(*ChunkTx).OnRollback(func() {
		rolledBack = true
	})
	assert.Equal(t, nil, tm.Rollback(tx))
	assert.Equal(t, nil, tm.Commit(tx))
	assert.Equal(t, false, committed)
	assert.Equal(t, true, rolledBack)
}

func TestChunkTxManager_CommitError(t *testing.T) {
	tm := NewChunkTxManager()
	tx, _ := tm.BeginTx(context.Background())
	second := false
	tx.(*ChunkTx).OnCommit(func() error {
		return errors.New("disk full")
	})
	tx.(*ChunkTx).OnCommit(func() error {
		second = true
		return nil
	})
	err := tm.Commit(tx)
	assert.NotEqual(t, nil, err)
	assert.Equal(t, ErrCodeResource, err.Code())
	assert.Equal(t, false, second)

	assert.NotEqual(t, nil, tm.Commit("not a tx"))
}
