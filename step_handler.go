package linebatch

import "context"

// Task a function used as step handler
type Task func(ctx context.Context, execution *StepExecution) BatchError

// Handler work of a simple step
type Handler interface {
	Handle(ctx context.Context, execution *StepExecution) BatchError
}

// Reader reads one item at a time, nil item means no more input for the execution
type Reader interface {
	Read(ctx context.Context, chunkCtx *ChunkContext) (interface{}, BatchError)
}

// Processor transforms one item, a nil result filters the item out
type Processor interface {
	Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError)
}

// Writer writes the items of a chunk within the chunk transaction
type Writer interface {
	Write(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) BatchError
}

// OpenCloser implemented by readers and writers holding resources for the lifetime of a step execution
type OpenCloser interface {
	Open(ctx context.Context, execution *StepExecution) BatchError
	Close(ctx context.Context, execution *StepExecution) BatchError
}

// Partitioner splits a step execution into sub executions run in parallel
type Partitioner interface {
	Partition(ctx context.Context, execution *StepExecution, partitions uint) ([]*StepExecution, BatchError)
	GetPartitionNames(execution *StepExecution, partitions uint) []string
}

// PartitionerFactory implemented by readers which know how to split their input
type PartitionerFactory interface {
	GetPartitioner() Partitioner
}

// Aggregator combines the results of all sub executions after every partition completed
type Aggregator interface {
	Aggregate(ctx context.Context, execution *StepExecution, subExecutions []*StepExecution) BatchError
}
