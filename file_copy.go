package linebatch

import (
	"context"
	"io"

	"github.com/chararch/linebatch/file"
)

// fileCopyHandler copies files between storages, e.g. uploads the job output to an FTP server
type fileCopyHandler struct {
	filesToMove []file.FileMove
}

func (handler *fileCopyHandler) Handle(ctx context.Context, execution *StepExecution) BatchError {
	for _, fm := range handler.filesToMove {
		if err := ctx.Err(); err != nil {
			return NewBatchError(ErrCodeStop, "file copy cancelled", err)
		}
		ffp := &FilePath{fm.FromFileName}
		fromFileName, err := ffp.Format(execution)
		if err != nil {
			return NewBatchError(ErrCodeConfig, "get real file path:%v err", fm.FromFileName, err)
		}
		tfp := &FilePath{fm.ToFileName}
		toFileName, err := tfp.Format(execution)
		if err != nil {
			return NewBatchError(ErrCodeConfig, "get real file path:%v err", fm.ToFileName, err)
		}
		if err := copyFile(ctx, fm.FromFileStore, fromFileName, fm.ToFileStore, toFileName); err != nil {
			return err
		}
		logger.Info(ctx, "file copied, jobExecutionId:%v, from:%v, to:%v", execution.JobExecution.JobExecutionId, fromFileName, toFileName)
	}
	return nil
}

func copyFile(ctx context.Context, from file.FileStorage, fromFileName string, to file.FileStorage, toFileName string) BatchError {
	reader, err := from.Open(fromFileName)
	if err != nil {
		return NewBatchError(ErrCodeResource, "open from file:%v err", fromFileName, err)
	}
	defer func() {
		if er := reader.Close(); er != nil {
			logger.Error(ctx, "close file reader:%v error:%v", fromFileName, er)
		}
	}()
	writer, err := to.Create(toFileName)
	if err != nil {
		return NewBatchError(ErrCodeResource, "open to file:%v err", toFileName, err)
	}
	_, err = io.Copy(writer, reader)
	if er := writer.Close(); er != nil && err == nil {
		err = er
	}
	if err != nil {
		return NewBatchError(ErrCodeResource, "copy file: %v -> %v error", fromFileName, toFileName, err)
	}
	return nil
}
