package drive

import (
	"crypto/md5"
	"encoding/hex"
	"hash"
	"io"
	"strings"
)

// NewHash returns the hash used for content fingerprints. MD5 matches the ETag
// S3 reports for single-part uploads, so remote listings need no re-download.
func NewHash() hash.Hash {
	return md5.New()
}

// HexSum returns the fingerprint held in h.
func HexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// Sum reads r to EOF and returns its fingerprint.
func Sum(r io.Reader) (string, error) {
	h := NewHash()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return HexSum(h), nil
}

// IsNativeDigest reports whether a store-supplied checksum can be used as a fingerprint.
// Multipart ETags look like "<hex>-<parts>" and are not content digests.
func IsNativeDigest(etag string) bool {
	etag = strings.Trim(etag, "\"")
	if len(etag) != md5.Size*2 {
		return false
	}
	_, err := hex.DecodeString(etag)
	return err == nil
}

// NormDigest strips quotes and lowercases a store-supplied checksum.
func NormDigest(etag string) string {
	return strings.ToLower(strings.Trim(etag, "\""))
}
