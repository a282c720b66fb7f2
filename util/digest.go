package util

import (
	"crypto/md5"
	"encoding/hex"
)

// MD5 hex encoded md5 digest of a string, used as the lookup key of job parameters
func MD5(str string) string {
	b := md5.Sum([]byte(str))
	return hex.EncodeToString(b[:])
}
