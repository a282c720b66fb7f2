package file

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/chararch/linebatch/record"
	"github.com/pkg/errors"
)

const (
	LocalFileStorage = "LocalFile"
	FTPFileStorage   = "FTP"
)

const (
	OKFlag = "OK"
	MD5    = "MD5"
	SHA1   = "SHA1"
	SHA256 = "SHA256"
	SHA512 = "SHA512"
)

// FileObjectModel describes a line oriented data file
type FileObjectModel struct {
	FileStore FileStorage
	FileName  string
	// Header the first physical line holds column names and is not data
	Header bool
	// Checksum algorithm of the companion check file, empty for none
	Checksum string
	Codec    record.Codec
}

func (fd FileObjectModel) String() string {
	return fmt.Sprintf("%s://%s", storageName(fd.FileStore), fd.FileName)
}

func storageName(fs FileStorage) string {
	switch fs.(type) {
	case *FTPFileSystem:
		return FTPFileStorage
	default:
		return LocalFileStorage
	}
}

// FileStorage place where files are kept
type FileStorage interface {
	Exists(fileName string) (ok bool, err error)
	Open(fileName string) (reader io.ReadCloser, err error)
	Create(fileName string) (writer io.WriteCloser, err error)
	Remove(fileName string) error
}

// FileMove a file to copy from one storage to another
type FileMove struct {
	FromFileName  string
	FromFileStore FileStorage
	ToFileName    string
	ToFileStore   FileStorage
}

// FileItemReader reads decoded items of a file
type FileItemReader interface {
	Open(fd FileObjectModel) (ItemReadCloser, error)
	Count(fd FileObjectModel) (int64, error)
}

// ItemReadCloser positioned reader over the data lines of one file
type ItemReadCloser interface {
	// SkipTo moves to the data line with 0-based index pos, a pos past the end leaves the reader at EOF
	SkipTo(pos int64) error
	// ReadItem returns the next item, nil item and nil error at end of file. A malformed line is
	// consumed and reported as *record.DecodeError.
	ReadItem() (interface{}, error)
	// Position 0-based index of the next data line
	Position() int64
	Close() error
}

// FileItemWriter writes encoded items into a file
type FileItemWriter interface {
	Open(fd FileObjectModel) (ItemWriteCloser, error)
}

// ItemWriteCloser open output file
type ItemWriteCloser interface {
	// Encode converts items to lines without touching the file
	Encode(items []interface{}) ([]string, error)
	// WriteLines appends the lines and flushes them to the storage
	WriteLines(lines []string) error
	Close() error
}

type FileMerger interface {
	Merge(src []FileObjectModel, dest FileObjectModel) (err error)
}

type ChecksumVerifier interface {
	Verify(fd FileObjectModel) (bool, error)
}

type ChecksumFlusher interface {
	Checksum(fd FileObjectModel) error
}

type Checksumer interface {
	ChecksumVerifier
	ChecksumFlusher
}

// lineScanner reads physical lines, a trailing '\r' is dropped and an unterminated last line counts
type lineScanner struct {
	br *bufio.Reader
}

func newLineScanner(r io.Reader) *lineScanner {
	return &lineScanner{br: bufio.NewReaderSize(r, 64*1024)}
}

// next returns io.EOF when no line is left
func (s *lineScanner) next() (string, error) {
	line, err := s.br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	if err == io.EOF && line == "" {
		return "", io.EOF
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// Count number of data lines of a file, the header line is not counted
func Count(fd FileObjectModel) (int64, error) {
	if fd.FileStore == nil {
		return -1, errors.Errorf("no file storage for %v", fd.FileName)
	}
	reader, err := fd.FileStore.Open(fd.FileName)
	if err != nil {
		return -1, err
	}
	defer reader.Close()
	s := newLineScanner(reader)
	count := int64(0)
	if fd.Header {
		if _, err = s.next(); err == io.EOF {
			return 0, nil
		} else if err != nil {
			return -1, err
		}
	}
	for {
		_, err = s.next()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return -1, err
		}
		count++
	}
}

// Header header line of a file described by fd, empty when the codec can not name its columns
func Header(fd FileObjectModel) (string, error) {
	if h, ok := fd.Codec.(interface{ Header() (string, error) }); ok {
		return h.Header()
	}
	return "", nil
}

// Merge concatenates header-less src files in order into dest, a header line is written first when dest.Header is set
func Merge(src []FileObjectModel, dest FileObjectModel) error {
	writer, err := dest.FileStore.Create(dest.FileName)
	if err != nil {
		return err
	}
	bufWriter := bufio.NewWriter(writer)
	if dest.Header {
		header, err := Header(dest)
		if err != nil {
			writer.Close()
			return err
		}
		if header != "" {
			if _, err = bufWriter.WriteString(header + "\n"); err != nil {
				writer.Close()
				return err
			}
		}
	}
	for _, srcFd := range src {
		if err = copyLines(srcFd, bufWriter); err != nil {
			writer.Close()
			return errors.Wrapf(err, "merge %v into %v", srcFd.FileName, dest.FileName)
		}
	}
	if err = bufWriter.Flush(); err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

func copyLines(srcFd FileObjectModel, writer *bufio.Writer) error {
	reader, err := srcFd.FileStore.Open(srcFd.FileName)
	if err != nil {
		return err
	}
	defer reader.Close()
	s := newLineScanner(reader)
	if srcFd.Header {
		if _, err = s.next(); err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}
	}
	for {
		line, err := s.next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err = writer.WriteString(line + "\n"); err != nil {
			return err
		}
	}
}
