package spec

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainSpec prefixes every dag hash. The version suffix leaves room for a
// future change of the hashed record without colliding with old hashes.
const DomainSpec = "smelt/spec/v1"

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ShortHash truncates a dag hash for display. Comparisons must always use
// the full hash.
func ShortHash(hash string, n int) string {
	if n <= 0 || n >= len(hash) {
		return hash
	}
	return hash[:n]
}
