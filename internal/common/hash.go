package common

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
)

// HashBytes returns the lowercase hex SHA-256 of data. Content hashes on
// documents and versions use this form.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader consumes r and returns its hex SHA-256 and byte count.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
