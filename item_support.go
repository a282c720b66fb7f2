package linebatch

import (
	"context"
	"io"
	"sync"

	"github.com/chararch/linebatch/record"
)

// LoggingProcessor passes items through unchanged and logs each of them at debug level
type LoggingProcessor struct {
}

func (p *LoggingProcessor) Process(ctx context.Context, item interface{}, chunkCtx *ChunkContext) (interface{}, BatchError) {
	logger.Debug(ctx, "process item, stepName:%v, item:%+v", chunkCtx.StepExecution.StepName, item)
	return item, nil
}

// ConsoleWriter writes encoded items to an io.Writer, e.g. os.Stdout. Partitions share the writer,
// the lines of one chunk are written together when the chunk commits.
type ConsoleWriter struct {
	out   io.Writer
	codec record.Codec
	mu    sync.Mutex
}

// NewConsoleWriter writer of items encoded by codec
func NewConsoleWriter(out io.Writer, codec record.Codec) *ConsoleWriter {
	return &ConsoleWriter{out: out, codec: codec}
}

func (w *ConsoleWriter) Write(ctx context.Context, items []interface{}, chunkCtx *ChunkContext) BatchError {
	buf := make([]byte, 0, 64*len(items))
	for _, item := range items {
		line, err := w.codec.Encode(item)
		if err != nil {
			return NewBatchError(ErrCodeGeneral, "encode item:%+v err", item, err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	flush := func() error {
		w.mu.Lock()
		defer w.mu.Unlock()
		_, err := w.out.Write(buf)
		return err
	}
	if tx, ok := chunkCtx.Tx.(*ChunkTx); ok {
		tx.OnCommit(flush)
		return nil
	}
	if err := flush(); err != nil {
		return NewBatchError(ErrCodeResource, "write items to console err", err)
	}
	return nil
}
