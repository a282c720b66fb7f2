package linebatch

import (
	"context"
	"math"

	"github.com/chararch/linebatch/file"
	"github.com/chararch/linebatch/record"
	"github.com/pkg/errors"
)

const (
	fileItemReaderHandleKey   = "linebatch.FileItemReader.handle"
	fileItemReaderFileNameKey = "linebatch.FileItemReader.fileName"
)

// fileReader reads the data lines of a file, or of the LineRange of a partition
type fileReader struct {
	fd     file.FileObjectModel
	reader file.FileItemReader
}

func newFileReader(fd file.FileObjectModel, readers ...file.FileItemReader) *fileReader {
	var reader file.FileItemReader = &file.LineFileItemReader{}
	if len(readers) > 0 && readers[0] != nil {
		reader = readers[0]
	}
	if fd.FileStore == nil {
		fd.FileStore = &file.LocalFileSystem{}
	}
	return &fileReader{fd: fd, reader: reader}
}

func (r *fileReader) Open(ctx context.Context, execution *StepExecution) BatchError {
	fd, err := resolveFile(r.fd, execution)
	if err != nil {
		return err
	}
	if fd.Checksum != "" {
		if checksumer := file.GetChecksumer(fd.Checksum); checksumer != nil {
			ok, e := checksumer.Verify(fd)
			if e != nil || !ok {
				return NewBatchError(ErrCodeResource, "verify file checksum:%v, ok:%v err", fd, ok, e)
			}
		}
	}
	handle, e := r.reader.Open(fd)
	if e != nil {
		return NewBatchError(ErrCodeResource, "open file reader:%v err", fd, e)
	}
	if execution.LineRange != nil {
		if e = handle.SkipTo(execution.LineRange.From); e != nil {
			handle.Close()
			return NewBatchError(ErrCodeResource, "skip to line:%v of file:%v err", execution.LineRange.From, fd, e)
		}
	}
	execution.StepExecutionContext.Put(fileItemReaderHandleKey, handle)
	execution.StepExecutionContext.Put(fileItemReaderFileNameKey, fd.FileName)
	return nil
}

func (r *fileReader) Read(ctx context.Context, chunkCtx *ChunkContext) (interface{}, BatchError) {
	if err := ctx.Err(); err != nil {
		return nil, NewBatchError(ErrCodeStop, "read cancelled", err)
	}
	execution := chunkCtx.StepExecution
	handle, ok := execution.StepExecutionContext.Get(fileItemReaderHandleKey).(file.ItemReadCloser)
	if !ok {
		return nil, NewBatchError(ErrCodeResource, "file reader of step:%v is not open", execution.StepName)
	}
	end := int64(math.MaxInt64)
	if execution.LineRange != nil {
		end = execution.LineRange.To
	}
	if handle.Position() >= end {
		return nil, nil
	}
	item, err := handle.ReadItem()
	if err != nil {
		fileName := execution.StepExecutionContext.Get(fileItemReaderFileNameKey)
		var decodeErr *record.DecodeError
		if errors.As(err, &decodeErr) {
			return nil, NewBatchError(ErrCodeDecode, "decode line:%v of file:%v err", decodeErr.Line, fileName, err)
		}
		return nil, NewBatchError(ErrCodeResource, "read item from file:%v err", fileName, err)
	}
	return item, nil
}

func (r *fileReader) Close(ctx context.Context, execution *StepExecution) BatchError {
	executionCtx := execution.StepExecutionContext
	handle, ok := executionCtx.Get(fileItemReaderHandleKey).(file.ItemReadCloser)
	if !ok {
		return nil
	}
	fileName := executionCtx.Get(fileItemReaderFileNameKey)
	executionCtx.Remove(fileItemReaderHandleKey)
	if e := handle.Close(); e != nil {
		return NewBatchError(ErrCodeResource, "close file reader:%v err", fileName, e)
	}
	return nil
}

func (r *fileReader) GetPartitioner() Partitioner {
	return &linePartitioner{
		fd:     r.fd,
		reader: r.reader,
	}
}
