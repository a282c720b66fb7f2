package linebatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/chararch/linebatch/record"
	"github.com/chararch/linebatch/status"
)

func headerFile(t *testing.T, path string, lines []string) {
	header, err := record.NewItemCodec(',').Header()
	assert.Equal(t, nil, err)
	writeLines(t, path, append([]string{header}, lines...))
}

func subExecutions(execution *StepExecution) []*StepExecution {
	subs := make([]*StepExecution, 0)
	for _, e := range execution.JobExecution.StepExecutions {
		if e.LineRange != nil {
			subs = append(subs, e)
		}
	}
	return subs
}

func TestPartitionStep_MergedOutput(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	lines := make([]string, 0)
	for i := 0; i < 23; i++ {
		lines = append(lines, itemLine(i))
	}
	headerFile(t, input, lines)

	step := NewStep("partitioned").
		ReadFile(itemFile("{input}", true)).
		WriteFile(itemFile("{output}", true)).
		ChunkSize(2).
		Partitions(5).
		Workers(2, 1).
		Build()
	execution := execStepForTest(context.Background(), t, step, map[string]interface{}{"input": input, "output": output})

	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, int64(23), execution.ReadCount)
	assert.Equal(t, int64(23), execution.WriteCount)

	subs := subExecutions(execution)
	assert.Equal(t, 5, len(subs))
	expected := []LineRange{
		{ID: "partition1", From: 0, To: 4},
		{ID: "partition2", From: 4, To: 8},
		{ID: "partition3", From: 8, To: 12},
		{ID: "partition4", From: 12, To: 16},
		{ID: "partition5", From: 16, To: 23},
	}
	for i, sub := range subs {
		assert.Equal(t, expected[i], *sub.LineRange)
		assert.Equal(t, "partitioned:"+expected[i].ID, sub.StepName)
		assert.Equal(t, status.COMPLETED, sub.StepStatus)
		assert.Equal(t, expected[i].Len(), sub.ReadCount)
	}
	results := execution.JobExecution.PartitionResults()
	assert.Equal(t, 5, len(results))
	assert.Equal(t, "partition5", results[4].ID)
	assert.Equal(t, int64(7), results[4].WriteCount)

	header, _ := record.NewItemCodec(',').Header()
	assert.Equal(t, append([]string{header}, lines...), readLines(t, output))
	for _, r := range expected {
		_, err := os.Stat(output + "." + r.ID)
		assert.T(t, os.IsNotExist(err))
	}
}

func TestPartitionStep_SkipLimitPerPartition(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	lines := make([]string, 0)
	good := make([]string, 0)
	for i := 0; i < 20; i++ {
		if i%4 == 1 {
			lines = append(lines, "not,an,item")
			continue
		}
		lines = append(lines, itemLine(i))
		good = append(good, itemLine(i))
	}
	headerFile(t, input, lines)

	step := NewStep("skipping").
		ReadFile(itemFile(input, true)).
		WriteFile(itemFile(output, true)).
		ChunkSize(3).
		SkipLimit(1).
		Partitions(5).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)

	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	subs := subExecutions(execution)
	assert.Equal(t, 5, len(subs))
	for _, sub := range subs {
		assert.Equal(t, status.COMPLETED, sub.StepStatus)
		assert.Equal(t, int64(1), sub.ReadSkipCount)
		assert.Equal(t, int64(3), sub.WriteCount)
	}
	assert.Equal(t, int64(5), execution.ReadSkipCount)
	assert.Equal(t, int64(15), execution.WriteCount)

	header, _ := record.NewItemCodec(',').Header()
	assert.Equal(t, append([]string{header}, good...), readLines(t, output))
}

func TestPartitionStep_FailureIsolation(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "in.csv")
	output := filepath.Join(dir, "out.csv")
	lines := make([]string, 0)
	for i := 0; i < 23; i++ {
		if i == 9 {
			lines = append(lines, "not,an,item")
			continue
		}
		lines = append(lines, itemLine(i))
	}
	headerFile(t, input, lines)

	step := NewStep("isolated").
		ReadFile(itemFile(input, true)).
		WriteFile(itemFile(output, true)).
		ChunkSize(1).
		Partitions(5).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)

	assert.Equal(t, status.FAILED, execution.StepStatus)
	for _, sub := range subExecutions(execution) {
		if sub.LineRange.ID == "partition3" {
			assert.Equal(t, status.FAILED, sub.StepStatus)
			assert.T(t, IsCode(sub.FailError, ErrCodeDecode))
			assert.Equal(t, int64(1), sub.WriteCount)
			continue
		}
		assert.Equal(t, status.COMPLETED, sub.StepStatus)
		assert.Equal(t, sub.LineRange.Len(), sub.WriteCount)
	}
	// nothing is merged, the parts stay for diagnosis
	_, err := os.Stat(output)
	assert.T(t, os.IsNotExist(err))
	_, err = os.Stat(output + ".partition1")
	assert.Equal(t, nil, err)
}

func TestPartitionStep_AbortOnFailure(t *testing.T) {
	reader := &sliceReader{items: []interface{}{fmt.Errorf("bad"), "b", "c", "d"}}
	writer := &collectWriter{}
	step := NewStep("abort").
		Reader(reader).
		Writer(writer).
		Partitions(4).
		Workers(1, 0).
		AbortOnFailure(true).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)

	assert.Equal(t, status.FAILED, execution.StepStatus)
	subs := subExecutions(execution)
	assert.Equal(t, 4, len(subs))
	assert.Equal(t, status.FAILED, subs[0].StepStatus)
	for _, sub := range subs[1:] {
		assert.Equal(t, status.STOPPED, sub.StepStatus)
	}
	assert.Equal(t, 0, len(writer.collected()))
}

type concurrencyGauge struct {
	mu      sync.Mutex
	current int
	max     int
}

func (p *concurrencyGauge) Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
	p.mu.Lock()
	p.current++
	if p.current > p.max {
		p.max = p.current
	}
	p.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	p.mu.Lock()
	p.current--
	p.mu.Unlock()
	return item, nil
}

func TestPartitionStep_WorkerBound(t *testing.T) {
	items := make([]interface{}, 0)
	for i := 0; i < 12; i++ {
		items = append(items, i)
	}
	gauge := &concurrencyGauge{}
	writer := &collectWriter{}
	step := NewStep("bounded").
		Reader(&sliceReader{items: items}).
		Processor(gauge).
		Writer(writer).
		ChunkSize(1).
		Partitions(6).
		Workers(2, 1).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)

	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.T(t, gauge.max <= 2)
	got := make([]int, 0)
	for _, it := range writer.collected() {
		got = append(got, it.(int))
	}
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, got)
}

type recordingPartitionListener struct {
	names []string
}

func (l *recordingPartitionListener) BeforePartition(execution *StepExecution) BatchError {
	return nil
}

func (l *recordingPartitionListener) AfterPartition(execution *StepExecution, subExecutions []*StepExecution) BatchError {
	for _, sub := range subExecutions {
		l.names = append(l.names, sub.StepName)
	}
	return nil
}

func (l *recordingPartitionListener) OnError(execution *StepExecution, err BatchError) {
}

func TestPartitionStep_FewerLinesThanPartitions(t *testing.T) {
	listener := &recordingPartitionListener{}
	writer := &collectWriter{}
	step := NewStep("tiny").
		Reader(&sliceReader{items: []interface{}{"x", "y"}}).
		Writer(writer).
		Partitions(3).
		Listener(listener).
		Build()
	execution := execStepForTest(context.Background(), t, step, nil)

	assert.Equal(t, status.COMPLETED, execution.StepStatus)
	assert.Equal(t, []string{"tiny:partition1", "tiny:partition2", "tiny:partition3"}, listener.names)
	assert.Equal(t, []interface{}{"x", "y"}, writer.collected())
	assert.Equal(t, int64(0), subExecutions(execution)[0].ReadCount)
}
