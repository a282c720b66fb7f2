package file

import (
	"fmt"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
)

// LocalFileSystem files on the local disk
type LocalFileSystem struct {
}

func (fs *LocalFileSystem) Exists(fileName string) (bool, error) {
	_, err := os.Stat(fileName)
	if err != nil && os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (fs *LocalFileSystem) Open(fileName string) (io.ReadCloser, error) {
	return os.Open(fileName)
}

// Create truncates or creates fileName, missing parent directories are created
func (fs *LocalFileSystem) Create(fileName string) (io.WriteCloser, error) {
	if dir := filepath.Dir(fileName); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.Create(fileName)
}

func (fs *LocalFileSystem) Remove(fileName string) error {
	err := os.Remove(fileName)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

// FTPFileSystem files on an FTP server, every Open/Create uses its own connection
type FTPFileSystem struct {
	Host        string
	Port        int
	User        string
	Password    string
	ConnTimeout time.Duration
}

func (fs *FTPFileSystem) connect() (*ftp.ServerConn, error) {
	c, err := ftp.Dial(fmt.Sprintf("%s:%d", fs.Host, fs.Port), ftp.DialWithTimeout(fs.ConnTimeout))
	if err != nil {
		return nil, err
	}
	if err = c.Login(fs.User, fs.Password); err != nil {
		c.Quit()
		return nil, err
	}
	return c, nil
}

func (fs *FTPFileSystem) Exists(fileName string) (bool, error) {
	c, err := fs.connect()
	if err != nil {
		return false, err
	}
	defer c.Quit()
	_, err = c.FileSize(fileName)
	if err == nil {
		return true, nil
	}
	if e, ok := err.(*textproto.Error); ok && e.Code == ftp.StatusFileUnavailable {
		return false, nil
	}
	return false, err
}

type ftpReader struct {
	conn *ftp.ServerConn
	resp *ftp.Response
}

func (r *ftpReader) Read(p []byte) (int, error) {
	return r.resp.Read(p)
}

func (r *ftpReader) Close() error {
	err := r.resp.Close()
	if qe := r.conn.Quit(); err == nil {
		err = qe
	}
	return err
}

func (fs *FTPFileSystem) Open(fileName string) (io.ReadCloser, error) {
	c, err := fs.connect()
	if err != nil {
		return nil, err
	}
	resp, err := c.Retr(fileName)
	if err != nil {
		c.Quit()
		return nil, err
	}
	return &ftpReader{conn: c, resp: resp}, nil
}

type ftpWriter struct {
	conn *ftp.ServerConn
	pw   *io.PipeWriter
	done chan error
}

func (w *ftpWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

// Close ends the upload and waits for the server to acknowledge it
func (w *ftpWriter) Close() error {
	w.pw.Close()
	err := <-w.done
	if qe := w.conn.Quit(); err == nil {
		err = qe
	}
	return err
}

func (fs *FTPFileSystem) Create(fileName string) (io.WriteCloser, error) {
	c, err := fs.connect()
	if err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := c.Stor(fileName, pr)
		// unblock the writer side if the server gave up early
		pr.CloseWithError(err)
		done <- err
	}()
	return &ftpWriter{conn: c, pw: pw, done: done}, nil
}

func (fs *FTPFileSystem) Remove(fileName string) error {
	c, err := fs.connect()
	if err != nil {
		return err
	}
	defer c.Quit()
	if err = c.Delete(fileName); err != nil {
		return errors.Wrapf(err, "delete ftp file:%v", fileName)
	}
	return nil
}
