package utils

import (
	"crypto/md5"
	"fmt"
	"time"
)

func HashString(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}

// Fingerprint derives a cache key component from a file's size and
// modification time. Any change to either produces a new fingerprint.
func Fingerprint(size int64, modTime time.Time) string {
	return HashString(fmt.Sprintf("%d:%d", size, modTime.UnixNano()))
}
