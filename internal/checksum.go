package internal

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
)

// ChecksumLen is the length of a hex encoded MD5 digest.
const ChecksumLen = md5.Size * 2

// ValidChecksum reports whether s is a lower- or upper-case MD5 hex digest.
func ValidChecksum(s string) bool {
	if len(s) != ChecksumLen {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// NormalizeChecksum lower-cases a checksum so it can be used as an index key.
func NormalizeChecksum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ContentMD5 converts a hex checksum into the base64 raw digest the storage
// backend expects in its Content-MD5 header.
func ContentMD5(checksum string) (string, error) {
	raw, err := hex.DecodeString(checksum)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// CalculateMD5 streams r through an MD5 hasher and returns the hex digest and
// the number of bytes read.
func CalculateMD5(r io.Reader) (string, int64, error) {
	h := md5.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
