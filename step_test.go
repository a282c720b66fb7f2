package linebatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/linebatch/file"
	"github.com/chararch/linebatch/record"
	"github.com/chararch/linebatch/status"
)

func itemLine(i int) string {
	return fmt.Sprintf("name%d,owner%d,%d,v1,v2,v3,loc%d,type,v4", i, i, i, i)
}

func writeLines(t *testing.T, path string, lines []string) {
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	err := os.WriteFile(path, []byte(content), 0644)
	assert.Equal(t, nil, err)
}

func readLines(t *testing.T, path string) []string {
	data, err := os.ReadFile(path)
	assert.Equal(t, nil, err)
	content := strings.TrimSuffix(string(data), "\n")
	if content == "" {
		return []string{}
	}
	return strings.Split(content, "\n")
}

func itemFile(name string, header bool) file.FileObjectModel {
	return file.FileObjectModel{
		FileStore: &file.LocalFileSystem{},
		FileName:  name,
		Header:    header,
		Codec:     record.NewItemCodec(','),
	}
}

func execStepForTest(ctx context.Context, t *testing.T, step Step, params map[string]interface{}) *StepExecution {
	jobExecution := newJobExecution("test_job", params)
	assert.Equal(t, nil, saveJobExecution(ctx, jobExecution))
	execution := newStepExecution(step.Name(), jobExecution)
	assert.Equal(t, nil, saveStepExecution(ctx, execution))
	err := step.Exec(ctx, execution)
	assert.Equal(t, nil, err)
	return execution
}

// sliceReader serves items by index, an error value is returned as a decode error
type sliceReader struct {
	items []interface{}
}

func (r *sliceReader) ReadKeys() ([]interface{}, error) {
	keys := make([]interface{}, len(r.items))
	for i := range r.items {
		keys[i] = i
	}
	return keys, nil
}

func (r *sliceReader) ReadItem(key interface{}) (interface{}, error) {
	item := r.items[key.(int)]
	if e, ok := item.(error); ok {
		return nil, NewBatchError(ErrCodeDecode, "bad item", e)
	}
	return item, nil
}

// collectWriter keeps the items of committed chunks, failOn makes the n-th Write fail
type collectWriter struct {
	mu     sync.Mutex
	items  []interface{}
	calls  int
	failOn int
}

func (w *collectWriter) Write(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) BatchError {
	w.mu.Lock()
	w.calls++
	calls := w.calls
	w.mu.Unlock()
	if calls == w.failOn {
		return NewBatchError(ErrCodeResource, "write failed")
	}
	copied := append([]interface{}(nil), items...)
	chunkCtx.Tx.(*ChunkTx).OnCommit(func() error {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.items = append(w.items, copied...)
		return nil
	})
	return nil
}

func (w *collectWriter) collected() []interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]interface{}(nil), w.items...)
}

func TestChunkStep_Sequential(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	lines := make([]string, 0)
	for i := 0; i < 10; i++ {
		lines = append(lines, itemLine(i))
	}
	writeLines(t, input, lines)

	step := NewStep("sequential").
		ReadFile(itemFile("{input}", false)).
		Processor(&LoggingProcessor{}).
		WriteFile(itemFile("{output}", false)).
		ChunkSize(3).
		SkipLimit(1).
		Build()
	execution := execStepForTest(context.Background(), t, step, map[string]interface{}{"input": input, "output": output})

	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(10), execution.ReadCount)
	assert.Equal(t, int64(10), execution.WriteCount)
	assert.Equal(t, int64(4), execution.CommitCount)
	assert.Equal(t, int64(0), execution.ReadSkipCount)
	assert.Equal(t, lines, readLines(t, output))
}

func TestChunkStep_SkipLimit(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	lines := []string{itemLine(0), "broken", itemLine(2), itemLine(3), "broken,too", itemLine(5)}
	writeLines(t, input, lines)

	// the second bad line exceeds a limit of 1, its chunk is rolled back
	output := filepath.Join(dir, "out1.csv")
	step := NewStep("skip_exceeded").
		ReadFile(itemFile(input, false)).
		WriteFile(itemFile(output, false)).
		ChunkSize(2).
		SkipLimit(1).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(2), execution.ReadSkipCount)
	assert.Equal(t, int64(2), execution.WriteCount)
	assert.Equal(t, int64(1), execution.RollbackCount)
	assert.T(t, IsCode(execution.FailError, ErrCodeDecode))
	assert.Equal(t, []string{itemLine(0), itemLine(2)}, readLines(t, output))

	// a limit of 2 absorbs both
	output = filepath.Join(dir, "out2.csv")
	step = NewStep("skip_absorbed").
		ReadFile(itemFile(input, false)).
		WriteFile(itemFile(output, false)).
		ChunkSize(2).
		SkipLimit(2).
		Build()
	execution = execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(2), execution.ReadSkipCount)
	assert.Equal(t, int64(4), execution.WriteCount)
	assert.Equal(t, []string{itemLine(0), itemLine(2), itemLine(3), itemLine(5)}, readLines(t, output))
}

func TestChunkStep_ZeroSkipLimit(t *testing.T) {
	reader := &sliceReader{items: []interface{}{"a", fmt.Errorf("bad"), "c"}}
	writer := &collectWriter{}
	step := NewStep("no_skip").Reader(reader).Writer(writer).ChunkSize(5).Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(1), execution.ReadSkipCount)
	assert.Equal(t, 0, len(writer.collected()))
}

func TestChunkStep_NotSkippableError(t *testing.T) {
	reader := &sliceReader{items: []interface{}{"a", fmt.Errorf("bad"), "c"}}
	writer := &collectWriter{}
	step := NewStep("skip_other_codes").Reader(reader).Writer(writer).ChunkSize(1).SkipLimit(10).Skip(ErrCodeResource).Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, int64(0), execution.ReadSkipCount)
	assert.Equal(t, []interface{}{"a"}, writer.collected())
}

func TestChunkStep_ChunkAtomicity(t *testing.T) {
	items := make([]interface{}, 0)
	for i := 0; i < 9; i++ {
		items = append(items, i)
	}
	writer := &collectWriter{failOn: 2}
	step := NewStep("atomic").Reader(&sliceReader{items: items}).Writer(writer).ChunkSize(3).Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.Equal(t, []interface{}{0, 1, 2}, writer.collected())
	assert.Equal(t, int64(1), execution.CommitCount)
	assert.Equal(t, int64(3), execution.WriteCount)
	assert.Equal(t, int64(1), execution.RollbackCount)
}

type evenFilter struct {
}

func (p *evenFilter) Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
	if item.(int)%2 == 0 {
		return nil, nil
	}
	return item, nil
}

func TestChunkStep_Filter(t *testing.T) {
	items := []interface{}{0, 1, 2, 3, 4, 5, 6}
	writer := &collectWriter{}
	step := NewStep("filter").Reader(&sliceReader{items: items}).Processor(&evenFilter{}).Writer(writer).ChunkSize(4).Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(7), execution.ReadCount)
	assert.Equal(t, int64(4), execution.FilterCount)
	assert.Equal(t, int64(3), execution.WriteCount)
	assert.Equal(t, []interface{}{1, 3, 5}, writer.collected())
}

type slowUpper struct {
}

func (p *slowUpper) Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
	s := item.(string)
	// later items finish first
	time.Sleep(time.Duration(10-len(s)) * time.Millisecond)
	return strings.ToUpper(s), nil
}

func TestChunkStep_AsyncProcess(t *testing.T) {
	items := []interface{}{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	writer := &collectWriter{}
	step := NewStep("async").Reader(&sliceReader{items: items}).Processor(&slowUpper{}).Writer(writer).ChunkSize(4).AsyncProcess(4).Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, []interface{}{"A", "BB", "CCC", "DDDD", "EEEEE", "FFFFFF"}, writer.collected())
}

func TestChunkStep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	writer := &collectWriter{}
	step := NewStep("cancelled").Reader(&sliceReader{items: []interface{}{1, 2}}).Writer(writer).Build()
	execution := execStepForTest(ctx, t, step, nil)
	assert.Equal(t, status.STOPPED, execution.StepStatus)
	assert.T(t, IsCode(execution.FailError, ErrCodeStop))
	assert.Equal(t, 0, len(writer.collected()))
}

func TestChunkStep_MissingInput(t *testing.T) {
	dir := t.TempDir()
	step := NewStep("missing_input").
		ReadFile(itemFile(filepath.Join(dir, "absent.csv"), false)).
		WriteFile(itemFile(filepath.Join(dir, "out.csv"), false)).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.FAILED, execution.StepStatus)
	assert.T(t, IsCode(execution.FailError, ErrCodeResource))
}

func TestSimpleStep(t *testing.T) {
	calls := 0
	step := NewStep("retry", func(ctx context.Context, execution *StepExecution) BatchError {
		calls++
		if calls < 3 {
			return NewBatchError(ErrCodeRetry, "try again")
		}
		return nil
	}).Build()
	execution := execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, 3, calls)

	step = NewStep("panics", func() error {
		panic("boom")
	}).Build()
	execution = execStepForTest(context.Background(), t, step, nil)
	assert.Equal(t, status.FAILED, execution.StepStatus)
}

func TestStepBuilder_Misuse(t *testing.T) {
	assert.Panic(t, "partition count of step:s must be positive", func() {
		NewStep("s").Partitions(0)
	})
	assert.Panic(t, "chunk size of step:s must be positive", func() {
		NewStep("s").ChunkSize(0)
	})
	assert.Panic(t, "no handler or reader specified for step: s", func() {
		NewStep("s").Build()
	})
}
