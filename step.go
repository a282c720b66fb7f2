package linebatch

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"time"

	"github.com/chararch/linebatch/status"
	"golang.org/x/sync/errgroup"
)

// Step step interface
type Step interface {
	Name() string
	Exec(ctx context.Context, execution *StepExecution) BatchError
	addListener(listener StepListener)
}

// simpleStep runs a Handler once
type simpleStep struct {
	name      string
	handler   Handler
	listeners []StepListener
}

type handlerAdapter struct {
	task Task
}

func (h *handlerAdapter) Handle(ctx context.Context, execution *StepExecution) BatchError {
	return h.task(ctx, execution)
}

func newSimpleStep(name string, handler interface{}, listeners []StepListener) *simpleStep {
	switch h := handler.(type) {
	case Handler:
		return &simpleStep{name: name, handler: h, listeners: listeners}
	case Task:
		return &simpleStep{name: name, handler: &handlerAdapter{task: h}, listeners: listeners}
	case func(ctx context.Context, execution *StepExecution) BatchError:
		return &simpleStep{name: name, handler: &handlerAdapter{task: h}, listeners: listeners}
	default:
		panic(fmt.Sprintf("not supported step handler:%v for:%v", handler, name))
	}
}

func (step *simpleStep) Name() string {
	return step.name
}

func (step *simpleStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		err = execEnd(ctx, execution, err, recover())
	}()
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v", execution.JobExecution.JobExecutionId, execution.StepName)
	if err = beforeStep(ctx, execution, step.listeners); err != nil {
		return err
	}
	execution.start()
	if err = saveStepExecution(ctx, execution); err != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		return err
	}
	var be BatchError
	for {
		be = step.handler.Handle(ctx, execution)
		if be == nil || be.Code() != ErrCodeRetry || ctx.Err() != nil {
			break
		}
		logger.Warn(ctx, "step execute will retry, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, be)
	}
	if be != nil {
		logger.Error(ctx, "step execute failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, be)
	}
	execution.finish(be)
	afterStep(ctx, execution, step.listeners)
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, stepStatus:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.StepStatus)
	return nil
}

func (step *simpleStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

func beforeStep(ctx context.Context, execution *StepExecution, listeners []StepListener) BatchError {
	for _, listener := range listeners {
		if err := listener.BeforeStep(execution); err != nil {
			logger.Error(ctx, "step listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	return nil
}

// afterStep runs every listener, the first error fails a step that has not failed yet
func afterStep(ctx context.Context, execution *StepExecution, listeners []StepListener) {
	for _, listener := range listeners {
		if err := listener.AfterStep(execution); err != nil {
			logger.Error(ctx, "step listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			if execution.StepStatus == status.COMPLETED {
				execution.finish(err)
			}
		}
	}
}

func execEnd(ctx context.Context, execution *StepExecution, err BatchError, recoverErr interface{}) BatchError {
	if recoverErr != nil {
		logger.Error(ctx, "panic in step executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", execution.JobExecution.JobExecutionId, execution.StepName, recoverErr, string(debug.Stack()))
		execution.StepStatus = status.FAILED
		execution.FailError = NewBatchError(ErrCodeGeneral, "panic in step execution:%v", recoverErr)
		execution.EndTime = time.Now()
	}
	if err != nil && !execution.StepStatus.IsTerminal() {
		logger.Error(ctx, "step executing error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		execution.finish(err)
	}
	if e := saveStepExecution(ctx, execution); e != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, e)
		if err == nil {
			err = e
		}
	}
	return err
}

// chunkStep step implementation that process data in chunk
type chunkStep struct {
	name      string
	reader    Reader
	processor Processor
	writer    Writer
	chunkSize uint
	// skipLimit number of records a step execution may discard before it fails
	skipLimit uint
	// skippable error codes discarded by the skip policy
	skippable      []string
	asyncWorkers   int
	listeners      []StepListener
	chunkListeners []ChunkListener
	skipListeners  []SkipListener
}

type chunk struct {
	items   []interface{}
	skipped int
	end     bool
}

func newChunk() *chunk {
	return &chunk{
		items: make([]interface{}, 0),
	}
}

func (ch *chunk) reset() {
	ch.items = ch.items[0:0]
	ch.skipped = 0
	ch.end = false
}

func (step *chunkStep) Name() string {
	return step.name
}

func (step *chunkStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		err = execEnd(ctx, execution, err, recover())
	}()
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v", execution.JobExecution.JobExecutionId, execution.StepName)
	if err = beforeStep(ctx, execution, step.listeners); err != nil {
		return err
	}
	execution.start()
	if err = saveStepExecution(ctx, execution); err != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		return err
	}
	if err = step.doOpenIfNecessary(ctx, execution); err != nil {
		logger.Error(ctx, "open resource failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		step.doCloseIfNecessary(ctx, execution)
		execution.finish(err)
		afterStep(ctx, execution, step.listeners)
		return nil
	}
	err = step.process(ctx, execution)
	if closeErr := step.doCloseIfNecessary(ctx, execution); closeErr != nil {
		logger.Error(ctx, "close resource failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, closeErr)
		if err == nil {
			err = closeErr
		}
	}
	execution.finish(err)
	afterStep(ctx, execution, step.listeners)
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, stepStatus:%v, read:%v, write:%v, filter:%v, skip:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.StepStatus, execution.ReadCount, execution.WriteCount, execution.FilterCount, execution.ReadSkipCount)
	return nil
}

// process runs chunks until the input is exhausted, every chunk commits or rolls back as a whole
func (step *chunkStep) process(ctx context.Context, execution *StepExecution) BatchError {
	input := newChunk()
	output := newChunk()
	for !input.end {
		if e := ctx.Err(); e != nil {
			logger.Warn(ctx, "step execution cancelled, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, e)
			return NewBatchError(ErrCodeStop, "step:%v cancelled", execution.StepName, e)
		}
		tx, txErr := txManager.BeginTx(ctx)
		if txErr != nil {
			logger.Error(ctx, "start transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, txErr)
			return txErr
		}
		chunkContext := &ChunkContext{
			StepExecution: execution,
			Tx:            tx,
		}
		if err := step.doChunk(ctx, chunkContext, input, output); err != nil {
			logger.Error(ctx, "doChunk err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
			if txErr = txManager.Rollback(tx); txErr != nil {
				logger.Error(ctx, "rollback transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, txErr)
			}
			execution.RollbackCount++
			return err
		}
		if txErr = txManager.Commit(tx); txErr != nil {
			logger.Error(ctx, "commit transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, txErr)
			if txErr2 := txManager.Rollback(tx); txErr2 != nil {
				logger.Error(ctx, "rollback transaction err, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, txErr2)
			}
			execution.RollbackCount++
			return txErr
		}
		if len(input.items) > 0 || input.skipped > 0 {
			execution.ReadCount += int64(len(input.items))
			execution.WriteCount += int64(len(output.items))
			execution.FilterCount += int64(len(input.items) - len(output.items))
			execution.CommitCount++
			if e := saveStepExecution(ctx, execution); e != nil {
				logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, e)
				return e
			}
		}
	}
	return nil
}

func (step *chunkStep) doOpenIfNecessary(ctx context.Context, execution *StepExecution) BatchError {
	if rc, ok := step.reader.(OpenCloser); ok {
		if err := rc.Open(ctx, execution); err != nil {
			return err
		}
	}
	if step.processor != nil {
		if pc, ok := step.processor.(OpenCloser); ok {
			if err := pc.Open(ctx, execution); err != nil {
				return err
			}
		}
	}
	if step.writer != nil {
		if wc, ok := step.writer.(OpenCloser); ok {
			if err := wc.Open(ctx, execution); err != nil {
				return err
			}
		}
	}
	return nil
}

// doCloseIfNecessary closes everything, the first error is returned
func (step *chunkStep) doCloseIfNecessary(ctx context.Context, execution *StepExecution) BatchError {
	var first BatchError
	for _, c := range []interface{}{step.reader, step.processor, step.writer} {
		if oc, ok := c.(OpenCloser); ok {
			if err := oc.Close(ctx, execution); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

func (step *chunkStep) doChunk(ctx context.Context, chunkCtx *ChunkContext, input *chunk, output *chunk) (err BatchError) {
	execution := chunkCtx.StepExecution
	defer func() {
		if er := recover(); er != nil {
			logger.Error(ctx, "panic on chunk executing, jobExecutionId:%v, stepName:%v, err:%v, stack:%v", execution.JobExecution.JobExecutionId, execution.StepName, er, string(debug.Stack()))
			err = NewBatchError(ErrCodeGeneral, "panic on chunk executing, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, er)
		}
	}()
	logger.Debug(ctx, "doChunk start, jobExecutionId:%v, stepName:%v", execution.JobExecution.JobExecutionId, execution.StepName)
	for _, listener := range step.chunkListeners {
		if err = listener.BeforeChunk(chunkCtx); err != nil {
			logger.Error(ctx, "chunk listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	if err = step.readChunk(ctx, chunkCtx, input); err != nil {
		logger.Error(ctx, "read chunk data error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		step.onChunkError(chunkCtx, err)
		return err
	}
	logger.Debug(ctx, "read chunk data success, jobExecutionId:%v, stepName:%v, read count:%v", execution.JobExecution.JobExecutionId, execution.StepName, len(input.items))

	if err = step.processChunk(ctx, chunkCtx, input, output); err != nil {
		logger.Error(ctx, "process chunk data error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		step.onChunkError(chunkCtx, err)
		return err
	}
	if len(output.items) > 0 && step.writer != nil {
		if err = step.writer.Write(ctx, output.items, chunkCtx); err != nil {
			logger.Error(ctx, "write chunk data error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
			step.onChunkError(chunkCtx, err)
			return err
		}
		logger.Debug(ctx, "write chunk data success, jobExecutionId:%v, stepName:%v, write count:%v", execution.JobExecution.JobExecutionId, execution.StepName, len(output.items))
	}
	for _, listener := range step.chunkListeners {
		if err = listener.AfterChunk(chunkCtx); err != nil {
			logger.Error(ctx, "chunk listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return err
		}
	}
	return nil
}

func (step *chunkStep) onChunkError(chunkCtx *ChunkContext, err BatchError) {
	for _, listener := range step.chunkListeners {
		listener.OnError(chunkCtx, err)
	}
}

func (step *chunkStep) isSkippable(err BatchError) bool {
	for _, code := range step.skippable {
		if IsCode(err, code) {
			return true
		}
	}
	return false
}

// readChunk reads up to chunkSize items. Skippable errors discard the record until the step
// has skipped more than skipLimit records, then the chunk fails.
func (step *chunkStep) readChunk(ctx context.Context, chunkCtx *ChunkContext, input *chunk) BatchError {
	execution := chunkCtx.StepExecution
	input.reset()
	for len(input.items) < int(step.chunkSize) {
		if e := ctx.Err(); e != nil {
			return NewBatchError(ErrCodeStop, "step:%v cancelled", execution.StepName, e)
		}
		item, err := step.reader.Read(ctx, chunkCtx)
		if err != nil {
			if !step.isSkippable(err) {
				return err
			}
			execution.ReadSkipCount++
			input.skipped++
			if execution.ReadSkipCount > int64(step.skipLimit) {
				return NewBatchError(err.Code(), "skip limit:%v exceeded, jobExecutionId:%v, stepName:%v", step.skipLimit, execution.JobExecution.JobExecutionId, execution.StepName, err)
			}
			logger.Warn(ctx, "skip record, jobExecutionId:%v, stepName:%v, skipCount:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.ReadSkipCount, err)
			for _, listener := range step.skipListeners {
				listener.OnSkipInRead(chunkCtx, err)
			}
			continue
		}
		if item == nil {
			input.end = true
			break
		}
		input.items = append(input.items, item)
	}
	chunkCtx.End = input.end
	return nil
}

// processChunk fills output with the processed items in input order, nil results are filtered out
func (step *chunkStep) processChunk(ctx context.Context, chunkCtx *ChunkContext, input *chunk, output *chunk) BatchError {
	output.reset()
	if step.processor == nil {
		output.items = append(output.items, input.items...)
		return nil
	}
	results := make([]interface{}, len(input.items))
	if step.asyncWorkers > 1 && len(input.items) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(step.asyncWorkers)
		for i, item := range input.items {
			i, item := i, item
			g.Go(func() error {
				out, err := step.processor.Process(gctx, item, chunkCtx)
				if err != nil {
					return err
				}
				results[i] = out
				return nil
			})
		}
		if e := g.Wait(); e != nil {
			if be, ok := e.(BatchError); ok {
				return be
			}
			return NewBatchError(ErrCodeGeneral, "process chunk items err", e)
		}
	} else {
		for i, item := range input.items {
			out, err := step.processor.Process(ctx, item, chunkCtx)
			if err != nil {
				return err
			}
			results[i] = out
		}
	}
	for _, out := range results {
		if out != nil {
			output.items = append(output.items, out)
		}
	}
	return nil
}

func (step *chunkStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}

// partitionStep runs one sub execution of step per partition on a bounded task pool
type partitionStep struct {
	name               string
	step               Step
	partitions         uint
	partitioner        Partitioner
	aggregator         Aggregator
	workers            int
	queueCapacity      int
	abortOnFailure     bool
	listeners          []StepListener
	partitionListeners []PartitionListener
}

func (step *partitionStep) Name() string {
	return step.name
}

func (step *partitionStep) Exec(ctx context.Context, execution *StepExecution) (err BatchError) {
	defer func() {
		err = execEnd(ctx, execution, err, recover())
	}()
	logger.Info(ctx, "step execute start, jobExecutionId:%v, stepName:%v", execution.JobExecution.JobExecutionId, execution.StepName)
	if err = beforeStep(ctx, execution, step.listeners); err != nil {
		return err
	}
	execution.start()
	if err = saveStepExecution(ctx, execution); err != nil {
		logger.Error(ctx, "save step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		return err
	}
	subExecutions, err := step.split(ctx, execution)
	if err != nil {
		execution.finish(err)
		afterStep(ctx, execution, step.listeners)
		return nil
	}
	logger.Info(ctx, "step:%v split into %d partitions, workers:%v, queueCapacity:%v", execution.StepName, len(subExecutions), step.workers, step.queueCapacity)

	stepStatus := step.runPartitions(ctx, subExecutions)
	for _, subExecution := range subExecutions {
		execution.ReadCount += subExecution.ReadCount
		execution.WriteCount += subExecution.WriteCount
		execution.FilterCount += subExecution.FilterCount
		execution.CommitCount += subExecution.CommitCount
		execution.ReadSkipCount += subExecution.ReadSkipCount
		execution.RollbackCount += subExecution.RollbackCount
	}
	var stepErr BatchError
	if stepStatus != status.COMPLETED {
		failed := make([]string, 0)
		for _, subExecution := range subExecutions {
			if subExecution.StepStatus != status.COMPLETED {
				failed = append(failed, fmt.Sprintf("%v:%v", subExecution.LineRange.ID, subExecution.StepStatus))
			}
		}
		stepErr = NewBatchError(ErrCodeGeneral, "partitions not completed: %v", strings.Join(failed, ", "))
	} else if step.aggregator != nil {
		if stepErr = step.aggregator.Aggregate(ctx, execution, subExecutions); stepErr != nil {
			stepStatus = status.FAILED
			logger.Error(ctx, "aggregate sub-step error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, stepErr)
		} else {
			logger.Info(ctx, "aggregate sub-step finish, jobExecutionId:%v, stepName:%v", execution.JobExecution.JobExecutionId, execution.StepName)
		}
	}
	execution.StepStatus = stepStatus
	execution.FailError = stepErr
	execution.EndTime = time.Now()
	afterStep(ctx, execution, step.listeners)
	logger.Info(ctx, "step execute finish, jobExecutionId:%v, stepName:%v, stepStatus:%v, read:%v, write:%v, skip:%v", execution.JobExecution.JobExecutionId, execution.StepName, execution.StepStatus, execution.ReadCount, execution.WriteCount, execution.ReadSkipCount)
	return nil
}

func (step *partitionStep) split(ctx context.Context, execution *StepExecution) ([]*StepExecution, BatchError) {
	for _, listener := range step.partitionListeners {
		if err := listener.BeforePartition(execution); err != nil {
			logger.Error(ctx, "partition listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return nil, err
		}
	}
	subExecutions, err := step.partitioner.Partition(ctx, execution, step.partitions)
	if err != nil {
		logger.Error(ctx, "step split error, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, err)
		for _, listener := range step.partitionListeners {
			listener.OnError(execution, err)
		}
		return nil, err
	}
	for _, listener := range step.partitionListeners {
		if err = listener.AfterPartition(execution, subExecutions); err != nil {
			logger.Error(ctx, "partition listener executing error, jobExecutionId:%v, stepName:%v, listener:%v, err:%v", execution.JobExecution.JobExecutionId, execution.StepName, reflect.TypeOf(listener).String(), err)
			return nil, err
		}
	}
	for _, subExecution := range subExecutions {
		subExecution.JobExecution = execution.JobExecution
		if err = saveStepExecution(ctx, subExecution); err != nil {
			logger.Error(ctx, "save sub-step execution failed, jobExecutionId:%v, stepName:%v, err:%v", execution.JobExecution.JobExecutionId, subExecution.StepName, err)
			return nil, err
		}
		execution.JobExecution.AddStepExecution(subExecution)
	}
	return subExecutions, nil
}

// runPartitions submits every sub execution to a task pool and waits for all of them.
// Submission blocks while the workers and the queue are full.
func (step *partitionStep) runPartitions(ctx context.Context, subExecutions []*StepExecution) status.BatchStatus {
	pool, e := newTaskPool(step.workers, step.queueCapacity)
	if e != nil {
		for _, subExecution := range subExecutions {
			subExecution.finish(NewBatchError(ErrCodeConfig, "create task pool err", e))
		}
		return status.FAILED
	}
	defer pool.Release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	futures := make([]Future, 0, len(subExecutions))
	for _, subExecution := range subExecutions {
		sub := subExecution
		fu := pool.Submit(runCtx, func() (interface{}, error) {
			logger.Info(ctx, "sub-step execute start, jobExecutionId:%v, sub-step name:%v, range:%v", sub.JobExecution.JobExecutionId, sub.StepName, sub.LineRange)
			er := step.step.Exec(runCtx, sub)
			if step.abortOnFailure && sub.StepStatus == status.FAILED {
				logger.Warn(ctx, "sub-step failed, cancel other partitions, jobExecutionId:%v, sub-step name:%v", sub.JobExecution.JobExecutionId, sub.StepName)
				cancel()
			}
			if er != nil {
				return nil, er
			}
			return sub.Result(), nil
		})
		futures = append(futures, fu)
	}
	stepStatus := status.COMPLETED
	for i, fu := range futures {
		sub := subExecutions[i]
		if _, err := fu.Get(); err != nil {
			logger.Error(ctx, "sub-step execute failed, jobExecutionId:%v, sub-step name:%v, err:%v", sub.JobExecution.JobExecutionId, sub.StepName, err)
			if !sub.StepStatus.IsTerminal() {
				if runCtx.Err() != nil {
					sub.finish(NewBatchError(ErrCodeStop, "sub-step not executed", err))
				} else {
					sub.finish(NewBatchError(ErrCodeGeneral, "sub-step execution error", err))
				}
				if e := saveStepExecution(ctx, sub); e != nil {
					logger.Error(ctx, "save sub-step execution failed, jobExecutionId:%v, stepName:%v, err:%v", sub.JobExecution.JobExecutionId, sub.StepName, e)
				}
			}
		}
		logger.Info(ctx, "sub-step execute finish, jobExecutionId:%v, sub-step name:%v, sub-step status:%v", sub.JobExecution.JobExecutionId, sub.StepName, sub.StepStatus)
		stepStatus = stepStatus.And(sub.StepStatus)
	}
	return stepStatus
}

func (step *partitionStep) addListener(listener StepListener) {
	step.listeners = append(step.listeners, listener)
}
