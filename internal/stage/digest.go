package stage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// Supported digest algorithms.
const (
	AlgSHA256 = "sha256"
	AlgBLAKE3 = "blake3"
)

// Digest is a parsed "<algorithm>:<hex>" checksum.
type Digest struct {
	Algorithm string
	Sum       string
}

func (d Digest) String() string { return d.Algorithm + ":" + d.Sum }

// ParseDigest parses "sha256:<hex>" or "blake3:<hex>".
func ParseDigest(s string) (Digest, error) {
	alg, sum, ok := strings.Cut(s, ":")
	if !ok || sum == "" {
		return Digest{}, fmt.Errorf("digest %q: want <algorithm>:<hex>", s)
	}
	alg = strings.ToLower(alg)
	if alg != AlgSHA256 && alg != AlgBLAKE3 {
		return Digest{}, fmt.Errorf("digest %q: unsupported algorithm %s", s, alg)
	}
	if _, err := hex.DecodeString(sum); err != nil || len(sum) != 64 {
		return Digest{}, fmt.Errorf("digest %q: want 64 hex digits", s)
	}
	return Digest{Algorithm: alg, Sum: strings.ToLower(sum)}, nil
}

func newHash(alg string) hash.Hash {
	if alg == AlgBLAKE3 {
		return blake3.New(32, nil)
	}
	return sha256.New()
}

// Sum hashes the file at path with alg.
func Sum(path, alg string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()
	h := newHash(alg)
	if _, err := io.Copy(h, f); err != nil {
		return Digest{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return Digest{Algorithm: alg, Sum: hex.EncodeToString(h.Sum(nil))}, nil
}

// ChecksumError means an archive does not match its declared digest.
type ChecksumError struct {
	Path string
	Want Digest
	Got  Digest
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: want %s, got %s", e.Path, e.Want, e.Got)
}

// IsChecksumError reports whether err wraps a ChecksumError.
func IsChecksumError(err error) bool {
	var ce *ChecksumError
	return errors.As(err, &ce)
}

// Verify checks the file at path against want.
func Verify(path string, want Digest) error {
	got, err := Sum(path, want.Algorithm)
	if err != nil {
		return err
	}
	if got.Sum != want.Sum {
		return &ChecksumError{Path: path, Want: want, Got: got}
	}
	return nil
}
