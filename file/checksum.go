package file

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

//OKFlagChecksumer writes an empty '<file>.ok' marking the data file complete
type OKFlagChecksumer struct {
}

func (ch *OKFlagChecksumer) Verify(fd FileObjectModel) (bool, error) {
	ok, err := fd.FileStore.Exists(fd.FileName)
	if err != nil || !ok {
		return false, err
	}
	_, found, err := findCheckFile(fd, "ok")
	return found, err
}

func (ch *OKFlagChecksumer) Checksum(fd FileObjectModel) error {
	w, err := fd.FileStore.Create(fd.FileName + ".ok")
	if err != nil {
		return err
	}
	return w.Close()
}

// DigestChecksumer writes '<file>.<alg>' holding the hex digest of the data file
type DigestChecksumer struct {
	Alg     string
	NewHash func() hash.Hash
}

func (ch *DigestChecksumer) Verify(fd FileObjectModel) (bool, error) {
	ok, err := fd.FileStore.Exists(fd.FileName)
	if err != nil || !ok {
		return false, err
	}
	checkFile, found, err := findCheckFile(fd, ch.Alg)
	if err != nil || !found {
		return false, err
	}
	checkReader, err := fd.FileStore.Open(checkFile)
	if err != nil {
		return false, err
	}
	defer checkReader.Close()
	buf, err := io.ReadAll(checkReader)
	if err != nil {
		return false, err
	}
	fileHash, err := ch.digest(fd)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(string(buf)), fileHash), nil
}

func (ch *DigestChecksumer) Checksum(fd FileObjectModel) error {
	fileHash, err := ch.digest(fd)
	if err != nil {
		return err
	}
	w, err := fd.FileStore.Create(fd.FileName + "." + strings.ToLower(ch.Alg))
	if err != nil {
		return err
	}
	if _, err = w.Write([]byte(fileHash)); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (ch *DigestChecksumer) digest(fd FileObjectModel) (string, error) {
	reader, err := fd.FileStore.Open(fd.FileName)
	if err != nil {
		return "", err
	}
	defer reader.Close()
	h := ch.NewHash()
	if _, err = io.Copy(h, reader); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// findCheckFile looks for data.csv.<ext>, data.csv.<EXT>, data.<ext> and data.<EXT>
func findCheckFile(fd FileObjectModel, ext string) (string, bool, error) {
	candidates := []string{fd.FileName + "." + strings.ToLower(ext), fd.FileName + "." + strings.ToUpper(ext)}
	if dotIdx := strings.LastIndex(fd.FileName, "."); dotIdx > 0 {
		base := fd.FileName[0:dotIdx]
		candidates = append(candidates, base+"."+strings.ToLower(ext), base+"."+strings.ToUpper(ext))
	}
	for _, c := range candidates {
		ok, err := fd.FileStore.Exists(c)
		if err != nil {
			return "", false, err
		}
		if ok {
			return c, true, nil
		}
	}
	return "", false, nil
}

var checksumers = map[string]Checksumer{
	OKFlag: &OKFlagChecksumer{},
	MD5:    &DigestChecksumer{Alg: MD5, NewHash: md5.New},
	SHA1:   &DigestChecksumer{Alg: SHA1, NewHash: sha1.New},
	SHA256: &DigestChecksumer{Alg: SHA256, NewHash: sha256.New},
	SHA512: &DigestChecksumer{Alg: SHA512, NewHash: sha512.New},
}

// RegisterChecksumer makes a custom Checksumer available under key, call it during initialization
func RegisterChecksumer(key string, ch Checksumer) {
	checksumers[strings.ToUpper(key)] = ch
}

// GetChecksumer Checksumer registered under key, nil if none
func GetChecksumer(key string) Checksumer {
	return checksumers[strings.ToUpper(key)]
}
