package linebatch

import (
	"context"
	"fmt"

	"github.com/chararch/linebatch/file"
)

const (
	//DefaultChunkSize default number of record per chunk to read
	DefaultChunkSize = 10
	//DefaultPartitions default number of partitions to construct a step
	DefaultPartitions = 1
	//DefaultSkipLimit default number of records a step execution may skip
	DefaultSkipLimit = 0
)

type stepBuilder struct {
	name               string
	task               Task
	handler            Handler
	reader             Reader
	processor          Processor
	writer             Writer
	chunkSize          uint
	skipLimit          uint
	skippable          []string
	asyncWorkers       int
	partitioner        Partitioner
	partitions         uint
	workers            int
	queueCapacity      int
	abortOnFailure     bool
	aggregator         Aggregator
	stepListeners      []StepListener
	chunkListeners     []ChunkListener
	skipListeners      []SkipListener
	partitionListeners []PartitionListener
}

//NewStep initialize a step builder
func NewStep(name string, handler ...interface{}) *stepBuilder {
	if name == "" {
		panic("step name must not be empty")
	}
	builder := &stepBuilder{
		name:          name,
		chunkSize:     DefaultChunkSize,
		skipLimit:     DefaultSkipLimit,
		skippable:     []string{ErrCodeDecode},
		partitions:    DefaultPartitions,
		workers:       DefaultWorkers,
		queueCapacity: DefaultQueueCapacity,
	}
	for _, h := range handler {
		builder.Handler(h)
	}
	return builder
}

func (builder *stepBuilder) Handler(handler interface{}) *stepBuilder {
	valid := false
	switch val := handler.(type) {
	case Task:
		builder.Task(val)
		valid = true
	case func(ctx context.Context, execution *StepExecution) BatchError:
		builder.Task(val)
		valid = true
	case func(execution *StepExecution) BatchError:
		builder.Task(func(ctx context.Context, execution *StepExecution) BatchError {
			return val(execution)
		})
		valid = true
	case func() error:
		builder.Task(func(ctx context.Context, execution *StepExecution) BatchError {
			if e := val(); e != nil {
				if be, ok := e.(BatchError); ok {
					return be
				}
				return NewBatchError(ErrCodeGeneral, "execute step:%v error", execution.StepName, e)
			}
			return nil
		})
		valid = true
	case Handler:
		builder.handler = val
		valid = true
	default:
		if val2, ok2 := handler.(Reader); ok2 {
			builder.Reader(val2)
			valid = true
		}
		if val2, ok2 := handler.(ItemReader); ok2 {
			builder.Reader(val2)
			valid = true
		}
		if val2, ok2 := handler.(Processor); ok2 {
			builder.Processor(val2)
			valid = true
		}
		if val2, ok2 := handler.(Writer); ok2 {
			builder.Writer(val2)
			valid = true
		}
		if val2, ok2 := handler.(Partitioner); ok2 {
			builder.Partitioner(val2)
			valid = true
		}
		if val2, ok2 := handler.(Aggregator); ok2 {
			builder.Aggregator(val2)
			valid = true
		}
		if builder.addListener(handler) {
			valid = true
		}
	}
	if !valid {
		panic(fmt.Sprintf("invalid handler type:%T for step:%v", handler, builder.name))
	}
	return builder
}

func (builder *stepBuilder) Task(task Task) *stepBuilder {
	builder.task = task
	return builder
}

func (builder *stepBuilder) Reader(reader interface{}) *stepBuilder {
	switch r := reader.(type) {
	case Reader:
		builder.reader = r
	case ItemReader:
		builder.reader = &defaultItemReader{itemReader: r}
	default:
		panic("the type of Reader() argument is neither Reader nor ItemReader")
	}
	return builder
}

func (builder *stepBuilder) Processor(processor Processor) *stepBuilder {
	builder.processor = processor
	return builder
}

func (builder *stepBuilder) Writer(writer Writer) *stepBuilder {
	builder.writer = writer
	return builder
}

//ReadFile reads the data lines of fd through its Codec, a file.FileItemReader replaces the line reader
func (builder *stepBuilder) ReadFile(fd file.FileObjectModel, readers ...file.FileItemReader) *stepBuilder {
	if fd.Codec == nil {
		panic(fmt.Sprintf("no codec specified for input file of step:%v", builder.name))
	}
	builder.reader = newFileReader(fd, readers...)
	return builder
}

//WriteFile writes items into fd through its Codec, a file.FileItemWriter replaces the line writer
func (builder *stepBuilder) WriteFile(fd file.FileObjectModel, writers ...file.FileItemWriter) *stepBuilder {
	if fd.Codec == nil {
		panic(fmt.Sprintf("no codec specified for output file of step:%v", builder.name))
	}
	builder.writer = newFileWriter(fd, writers...)
	return builder
}

func (builder *stepBuilder) CopyFile(filesToMove ...file.FileMove) *stepBuilder {
	builder.handler = &fileCopyHandler{filesToMove: filesToMove}
	return builder
}

func (builder *stepBuilder) ChunkSize(chunkSize uint) *stepBuilder {
	if chunkSize == 0 {
		panic(fmt.Sprintf("chunk size of step:%v must be positive", builder.name))
	}
	builder.chunkSize = chunkSize
	return builder
}

//SkipLimit max number of records a step execution may discard, one more fails the step
func (builder *stepBuilder) SkipLimit(skipLimit uint) *stepBuilder {
	builder.skipLimit = skipLimit
	return builder
}

//Skip error codes handled by the skip policy, ErrCodeDecode by default
func (builder *stepBuilder) Skip(codes ...string) *stepBuilder {
	builder.skippable = codes
	return builder
}

//AsyncProcess processes the items of a chunk with up to workers goroutines, item order is kept
func (builder *stepBuilder) AsyncProcess(workers int) *stepBuilder {
	builder.asyncWorkers = workers
	return builder
}

func (builder *stepBuilder) Partitioner(partitioner Partitioner) *stepBuilder {
	builder.partitioner = partitioner
	return builder
}

func (builder *stepBuilder) Partitions(partitions uint) *stepBuilder {
	if partitions == 0 {
		panic(fmt.Sprintf("partition count of step:%v must be positive", builder.name))
	}
	builder.partitions = partitions
	return builder
}

//Workers number of partitions run at the same time and number of partitions waiting in the queue
func (builder *stepBuilder) Workers(workers, queueCapacity int) *stepBuilder {
	if workers <= 0 || queueCapacity < 0 {
		panic(fmt.Sprintf("invalid workers:%v or queue capacity:%v of step:%v", workers, queueCapacity, builder.name))
	}
	builder.workers = workers
	builder.queueCapacity = queueCapacity
	return builder
}

//AbortOnFailure cancels the other partitions once a partition failed
func (builder *stepBuilder) AbortOnFailure(abort bool) *stepBuilder {
	builder.abortOnFailure = abort
	return builder
}

func (builder *stepBuilder) Aggregator(aggregator Aggregator) *stepBuilder {
	builder.aggregator = aggregator
	return builder
}

func (builder *stepBuilder) Listener(listener ...interface{}) *stepBuilder {
	for _, l := range listener {
		if !builder.addListener(l) {
			panic(fmt.Sprintf("not supported listener:%+v for step:%v", l, builder.name))
		}
	}
	return builder
}

func (builder *stepBuilder) addListener(l interface{}) bool {
	ok := false
	if ll, is := l.(StepListener); is {
		builder.stepListeners = append(builder.stepListeners, ll)
		ok = true
	}
	if ll, is := l.(ChunkListener); is {
		builder.chunkListeners = append(builder.chunkListeners, ll)
		ok = true
	}
	if ll, is := l.(SkipListener); is {
		builder.skipListeners = append(builder.skipListeners, ll)
		ok = true
	}
	if ll, is := l.(PartitionListener); is {
		builder.partitionListeners = append(builder.partitionListeners, ll)
		ok = true
	}
	return ok
}

func (builder *stepBuilder) Build() Step {
	partitioned := builder.partitioner != nil || builder.partitions > 1
	stepListeners := builder.stepListeners
	if partitioned {
		// step listeners observe the partitioned step, not every partition
		stepListeners = nil
	}
	var step Step
	if builder.handler != nil {
		step = newSimpleStep(builder.name, builder.handler, stepListeners)
	} else if builder.task != nil {
		step = newSimpleStep(builder.name, builder.task, stepListeners)
	} else if builder.reader != nil {
		step = &chunkStep{
			name:           builder.name,
			reader:         builder.reader,
			processor:      builder.processor,
			writer:         builder.writer,
			chunkSize:      builder.chunkSize,
			skipLimit:      builder.skipLimit,
			skippable:      builder.skippable,
			asyncWorkers:   builder.asyncWorkers,
			listeners:      stepListeners,
			chunkListeners: builder.chunkListeners,
			skipListeners:  builder.skipListeners,
		}
	}
	if step == nil {
		panic(fmt.Sprintf("no handler or reader specified for step: %s", builder.name))
	}
	if !partitioned {
		return step
	}
	partitioner := builder.partitioner
	if partitioner == nil {
		factory, ok := builder.reader.(PartitionerFactory)
		if !ok {
			panic(fmt.Sprintf("can not partition step[%s] without Partitioner or PartitionerFactory", builder.name))
		}
		partitioner = factory.GetPartitioner()
	}
	aggregator := builder.aggregator
	if aggregator == nil && builder.writer != nil {
		if aggr, ok := builder.writer.(Aggregator); ok {
			aggregator = aggr
		}
	}
	return &partitionStep{
		name:               builder.name,
		step:               step,
		partitions:         builder.partitions,
		partitioner:        partitioner,
		aggregator:         aggregator,
		workers:            builder.workers,
		queueCapacity:      builder.queueCapacity,
		abortOnFailure:     builder.abortOnFailure,
		listeners:          builder.stepListeners,
		partitionListeners: builder.partitionListeners,
	}
}
