package linebatch

import (
	"context"
	"fmt"

	"github.com/chararch/linebatch/file"
)

const (
	fileItemWriterHandleKey   = "linebatch.FileItemWriter.handle"
	fileItemWriterFileNameKey = "linebatch.FileItemWriter.fileName"
)

// fileWriter writes the items of a step into a file. A partition writes its own part file
// <file>.<partition id>, the parts are merged in partition order by Aggregate.
type fileWriter struct {
	fd     file.FileObjectModel
	writer file.FileItemWriter
	merger file.FileMerger
}

type mergeFunc func(src []file.FileObjectModel, dest file.FileObjectModel) error

func (f mergeFunc) Merge(src []file.FileObjectModel, dest file.FileObjectModel) error {
	return f(src, dest)
}

func newFileWriter(fd file.FileObjectModel, writers ...file.FileItemWriter) *fileWriter {
	var writer file.FileItemWriter = &file.LineFileItemWriter{}
	if len(writers) > 0 && writers[0] != nil {
		writer = writers[0]
	}
	if fd.FileStore == nil {
		fd.FileStore = &file.LocalFileSystem{}
	}
	return &fileWriter{fd: fd, writer: writer, merger: mergeFunc(file.Merge)}
}

func partFileName(fileName string, lineRange *LineRange) string {
	return fmt.Sprintf("%s.%s", fileName, lineRange.ID)
}

func (w *fileWriter) Open(ctx context.Context, execution *StepExecution) BatchError {
	fd, err := resolveFile(w.fd, execution)
	if err != nil {
		return err
	}
	if execution.LineRange != nil {
		fd.FileName = partFileName(fd.FileName, execution.LineRange)
		fd.Header = false
	}
	handle, e := w.writer.Open(fd)
	if e != nil {
		return NewBatchError(ErrCodeResource, "open file writer:%v err", fd, e)
	}
	execution.StepExecutionContext.Put(fileItemWriterHandleKey, handle)
	execution.StepExecutionContext.Put(fileItemWriterFileNameKey, fd.FileName)
	return nil
}

// Write encodes the items right away and appends them to the file when the chunk commits
func (w *fileWriter) Write(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) BatchError {
	executionCtx := chunkCtx.StepExecution.StepExecutionContext
	handle, ok := executionCtx.Get(fileItemWriterHandleKey).(file.ItemWriteCloser)
	if !ok {
		return NewBatchError(ErrCodeResource, "file writer of step:%v is not open", chunkCtx.StepExecution.StepName)
	}
	fileName := executionCtx.Get(fileItemWriterFileNameKey)
	lines, e := handle.Encode(items)
	if e != nil {
		return NewBatchError(ErrCodeGeneral, "encode items for file:%v err", fileName, e)
	}
	if tx, ok := chunkCtx.Tx.(*ChunkTx); ok {
		tx.OnCommit(func() error {
			return handle.WriteLines(lines)
		})
		return nil
	}
	if e = handle.WriteLines(lines); e != nil {
		return NewBatchError(ErrCodeResource, "write items to file:%v err", fileName, e)
	}
	return nil
}

func (w *fileWriter) Close(ctx context.Context, execution *StepExecution) BatchError {
	executionCtx := execution.StepExecutionContext
	handle, ok := executionCtx.Get(fileItemWriterHandleKey).(file.ItemWriteCloser)
	if !ok {
		return nil
	}
	fileName, _ := executionCtx.GetString(fileItemWriterFileNameKey)
	executionCtx.Remove(fileItemWriterHandleKey)
	if e := handle.Close(); e != nil {
		return NewBatchError(ErrCodeResource, "close file writer:%v err", fileName, e)
	}
	// part files get their checksum after merging
	if execution.LineRange == nil && w.fd.Checksum != "" {
		fd := w.fd
		fd.FileName = fileName
		return writeChecksum(fd)
	}
	return nil
}

// Aggregate merges the part files of all partitions into the output file and removes them
func (w *fileWriter) Aggregate(ctx context.Context, execution *StepExecution, subExecutions []*StepExecution) BatchError {
	dest, err := resolveFile(w.fd, execution)
	if err != nil {
		return err
	}
	parts := make([]file.FileObjectModel, 0, len(subExecutions))
	for _, subExecution := range subExecutions {
		part := dest
		part.Header = false
		part.FileName = partFileName(dest.FileName, subExecution.LineRange)
		parts = append(parts, part)
	}
	if e := w.merger.Merge(parts, dest); e != nil {
		return NewBatchError(ErrCodeResource, "merge part files into:%v err", dest, e)
	}
	for _, part := range parts {
		if e := part.FileStore.Remove(part.FileName); e != nil {
			logger.Warn(ctx, "remove part file:%v err:%v", part, e)
		}
	}
	logger.Info(ctx, "merged %v part files into:%v, jobExecutionId:%v, stepName:%v", len(parts), dest, execution.JobExecution.JobExecutionId, execution.StepName)
	if dest.Checksum != "" {
		return writeChecksum(dest)
	}
	return nil
}

func writeChecksum(fd file.FileObjectModel) BatchError {
	checksumer := file.GetChecksumer(fd.Checksum)
	if checksumer == nil {
		return NewBatchError(ErrCodeConfig, "unknown checksum algorithm:%v", fd.Checksum)
	}
	if err := checksumer.Checksum(fd); err != nil {
		return NewBatchError(ErrCodeResource, "generate file checksum:%v err", fd, err)
	}
	return nil
}
