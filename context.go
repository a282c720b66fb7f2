package linebatch

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

//BatchContext contains properties during a job or step execution
type BatchContext struct {
	mu  sync.RWMutex
	kvs map[string]interface{}
}

//NewBatchContext new instance
func NewBatchContext() *BatchContext {
	return &BatchContext{kvs: map[string]interface{}{}}
}

func (ctx *BatchContext) Put(key string, value interface{}) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	ctx.kvs[key] = value
}

func (ctx *BatchContext) Exists(key string) bool {
	return ctx.Get(key) != nil
}

func (ctx *BatchContext) Remove(key string) {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	delete(ctx.kvs, key)
}

func (ctx *BatchContext) Get(key string, def ...interface{}) interface{} {
	ctx.mu.RLock()
	val := ctx.kvs[key]
	ctx.mu.RUnlock()
	if val == nil && len(def) > 0 {
		val = def[0]
	}
	return val
}

func (ctx *BatchContext) GetInt64(key string, def ...int64) (int64, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := toInt64(v); ok {
		return r, nil
	}
	return 0, errors.Errorf("value is nil or not int64: %v", v)
}

func (ctx *BatchContext) GetInt(key string, def ...int) (int, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := toInt64(v); ok {
		return int(r), nil
	}
	return 0, errors.Errorf("value is nil or not int: %v", v)
}

func toInt64(v interface{}) (int64, bool) {
	switch r := v.(type) {
	case int:
		return int64(r), true
	case int32:
		return int64(r), true
	case int64:
		return r, true
	case uint:
		return int64(r), true
	case uint32:
		return int64(r), true
	case uint64:
		return int64(r), true
	case float64:
		return int64(r), true
	case json.Number:
		i, err := r.Int64()
		return i, err == nil
	}
	return 0, false
}

func (ctx *BatchContext) GetString(key string, def ...string) (string, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := v.(string); ok {
		return r, nil
	}
	return "", errors.Errorf("value is nil or not string: %v", v)
}

func (ctx *BatchContext) GetBool(key string, def ...bool) (bool, error) {
	v := ctx.Get(key)
	if v == nil && len(def) > 0 {
		return def[0], nil
	}
	if r, ok := v.(bool); ok {
		return r, nil
	}
	return false, errors.Errorf("value is nil or not bool: %v", v)
}

func (ctx *BatchContext) DeepCopy() *BatchContext {
	result := NewBatchContext()
	result.Merge(ctx)
	return result
}

func (ctx *BatchContext) Merge(other *BatchContext) {
	other.mu.RLock()
	defer other.mu.RUnlock()
	for key, value := range other.kvs {
		ctx.Put(key, value)
	}
}

func (ctx *BatchContext) MarshalJSON() ([]byte, error) {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return json.Marshal(ctx.kvs)
}

func (ctx *BatchContext) UnmarshalJSON(b []byte) error {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if ctx.kvs == nil {
		ctx.kvs = map[string]interface{}{}
	}
	return json.Unmarshal(b, &ctx.kvs)
}

// ChunkContext state of the chunk being processed by a chunk step
type ChunkContext struct {
	StepExecution *StepExecution
	// Tx transaction from the TransactionManager, a *ChunkTx unless another manager is configured
	Tx  interface{}
	End bool
}
