package linebatch

import (
	"context"
	"reflect"

	"github.com/pkg/errors"
)

const (
	ItemReaderKeyList      = "linebatch.item.reader.key.list"
	ItemReaderCurrentIndex = "linebatch.item.reader.current.index"
)

// ItemReader source of items addressed by keys, e.g. rows of a table or entries of a slice.
// Partitioning splits the key list the same way ComputePartitions splits the lines of a file.
type ItemReader interface {
	ReadKeys() ([]interface{}, error)
	ReadItem(key interface{}) (interface{}, error)
}

type defaultItemReader struct {
	itemReader ItemReader
}

func (reader *defaultItemReader) Open(ctx context.Context, execution *StepExecution) BatchError {
	stepCtx := execution.StepContext
	keyList := stepCtx.Get(ItemReaderKeyList)
	if keyList == nil {
		keys, err := reader.itemReader.ReadKeys()
		if err != nil {
			return NewBatchError(ErrCodeResource, "ReadKeys() err", err)
		}
		stepCtx.Put(ItemReaderKeyList, keys)
	} else if kind := reflect.TypeOf(keyList).Kind(); kind != reflect.Slice {
		return NewBatchError(ErrCodeGeneral, "the type of key list in context must be slice, but the actual is: %v", kind)
	}
	from := int64(0)
	if execution.LineRange != nil {
		from = execution.LineRange.From
	}
	execution.StepExecutionContext.Put(ItemReaderCurrentIndex, from)
	return nil
}

func (reader *defaultItemReader) Read(ctx context.Context, chunkCtx *ChunkContext) (r interface{}, e BatchError) {
	defer func() {
		if err := recover(); err != nil {
			e = NewBatchError(ErrCodeGeneral, "panic on Read() in item reader, err:%v", err)
		}
	}()
	if err := ctx.Err(); err != nil {
		return nil, NewBatchError(ErrCodeStop, "read cancelled", err)
	}
	execution := chunkCtx.StepExecution
	keyList := reflect.ValueOf(execution.StepContext.Get(ItemReaderKeyList))
	currentIndex, _ := execution.StepExecutionContext.GetInt64(ItemReaderCurrentIndex)
	end := int64(keyList.Len())
	if execution.LineRange != nil && execution.LineRange.To < end {
		end = execution.LineRange.To
	}
	if currentIndex >= end {
		return nil, nil
	}
	key := keyList.Index(int(currentIndex)).Interface()
	execution.StepExecutionContext.Put(ItemReaderCurrentIndex, currentIndex+1)
	var item interface{}
	var err error
	if reader.itemReader != nil {
		item, err = reader.itemReader.ReadItem(key)
	} else {
		err = errors.New("no ItemReader is specified")
	}
	if err != nil {
		code := ErrCodeResource
		if IsCode(err, ErrCodeDecode) {
			code = ErrCodeDecode
		}
		return nil, NewBatchError(code, "read item of key:%v error", key, err)
	}
	return item, nil
}

func (reader *defaultItemReader) Close(ctx context.Context, execution *StepExecution) BatchError {
	execution.StepExecutionContext.Remove(ItemReaderCurrentIndex)
	return nil
}

func (reader *defaultItemReader) GetPartitioner() Partitioner {
	return &keyPartitioner{itemReader: reader.itemReader}
}

type keyPartitioner struct {
	itemReader ItemReader
}

func (p *keyPartitioner) Partition(ctx context.Context, execution *StepExecution, partitions uint) (subExecutions []*StepExecution, e BatchError) {
	defer func() {
		if err := recover(); err != nil {
			e = NewBatchError(ErrCodeGeneral, "panic on Partition in keyPartitioner, err:%v", err)
		}
	}()
	if partitions == 0 {
		return nil, NewBatchError(ErrCodeConfig, "partition count must be positive, step:%v", execution.StepName)
	}
	keys, err := p.itemReader.ReadKeys()
	if err != nil {
		return nil, NewBatchError(ErrCodeResource, "ReadKeys() err", err)
	}
	subExecutions = splitExecution(execution, ComputePartitions(int64(len(keys)), int(partitions)))
	for _, subExecution := range subExecutions {
		subExecution.StepContext.Put(ItemReaderKeyList, keys)
	}
	return subExecutions, nil
}

func (p *keyPartitioner) GetPartitionNames(execution *StepExecution, partitions uint) []string {
	return (&linePartitioner{}).GetPartitionNames(execution, partitions)
}
