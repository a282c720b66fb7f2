package file

import (
	"bytes"
	"io"

	"github.com/chararch/linebatch/record"
	"github.com/pkg/errors"
)

// LineFileItemReader reads one item per physical line through the file's Codec
type LineFileItemReader struct {
}

type lineReader struct {
	fd      FileObjectModel
	reader  io.ReadCloser
	scanner *lineScanner
	// 0-based index of the next data line
	pos int64
	// physical line number of the last line read, header included
	lineNo int64
}

func (r *LineFileItemReader) Open(fd FileObjectModel) (ItemReadCloser, error) {
	if fd.Codec == nil {
		return nil, errors.Errorf("no codec specified for %v", fd)
	}
	if fd.FileStore == nil {
		return nil, errors.Errorf("no file storage specified for %v", fd.FileName)
	}
	reader, err := fd.FileStore.Open(fd.FileName)
	if err != nil {
		return nil, err
	}
	lr := &lineReader{fd: fd, reader: reader, scanner: newLineScanner(reader)}
	if fd.Header {
		if _, err = lr.scanner.next(); err != nil && err != io.EOF {
			reader.Close()
			return nil, err
		}
		lr.lineNo++
	}
	return lr, nil
}

func (r *LineFileItemReader) Count(fd FileObjectModel) (int64, error) {
	return Count(fd)
}

func (lr *lineReader) SkipTo(pos int64) error {
	for lr.pos < pos {
		_, err := lr.scanner.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		lr.pos++
		lr.lineNo++
	}
	return nil
}

func (lr *lineReader) ReadItem() (interface{}, error) {
	line, err := lr.scanner.next()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lr.pos++
	lr.lineNo++
	item, err := lr.fd.Codec.Decode(line)
	if err != nil {
		de := &record.DecodeError{}
		if errors.As(err, &de) {
			return nil, &record.DecodeError{Line: lr.lineNo, Text: line, Err: de.Err}
		}
		return nil, &record.DecodeError{Line: lr.lineNo, Text: line, Err: err}
	}
	if item == nil {
		return nil, &record.DecodeError{Line: lr.lineNo, Text: line, Err: errors.New("codec returned no item")}
	}
	return item, nil
}

func (lr *lineReader) Position() int64 {
	return lr.pos
}

func (lr *lineReader) Close() error {
	return lr.reader.Close()
}

// LineFileItemWriter writes one encoded item per line
type LineFileItemWriter struct {
}

type lineWriter struct {
	fd     FileObjectModel
	writer io.WriteCloser
}

func (w *LineFileItemWriter) Open(fd FileObjectModel) (ItemWriteCloser, error) {
	if fd.Codec == nil {
		return nil, errors.Errorf("no codec specified for %v", fd)
	}
	if fd.FileStore == nil {
		return nil, errors.Errorf("no file storage specified for %v", fd.FileName)
	}
	writer, err := fd.FileStore.Create(fd.FileName)
	if err != nil {
		return nil, err
	}
	lw := &lineWriter{fd: fd, writer: writer}
	if fd.Header {
		header, err := Header(fd)
		if err == nil && header != "" {
			err = lw.WriteLines([]string{header})
		}
		if err != nil {
			writer.Close()
			return nil, err
		}
	}
	return lw, nil
}

func (lw *lineWriter) Encode(items []interface{}) ([]string, error) {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		line, err := lw.fd.Codec.Encode(item)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// WriteLines hands the whole chunk to the storage in a single write
func (lw *lineWriter) WriteLines(lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	_, err := lw.writer.Write(buf.Bytes())
	return err
}

func (lw *lineWriter) Close() error {
	return lw.writer.Close()
}
