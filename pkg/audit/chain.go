// Package audit provides tamper-evident hash chaining for append-only
// records. Each link's hash commits to the previous link's hash and to the
// RFC 8785 (JCS) canonical form of the link's JSON payload, so byte-level
// differences in JSON serialization cannot break verification.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// ZeroHash is the previous-hash value of the first link in a chain.
var ZeroHash = strings.Repeat("0", 64)

// Link is one verifiable element of a hash chain.
type Link struct {
	PrevHash string
	Hash     string
	Payload  []byte // JSON document the hash commits to
}

// ChainHash computes the hash of a payload chained onto prevHash.
func ChainHash(prevHash string, payload []byte) (string, error) {
	canonical, err := jcs.Transform(payload)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BrokenChainError reports the first link that fails verification.
type BrokenChainError struct {
	Index  int
	Reason string
}

func (e *BrokenChainError) Error() string {
	return fmt.Sprintf("chain broken at link %d: %s", e.Index, e.Reason)
}

// VerifyChain checks that links form an unbroken hash chain starting from
// links[0].PrevHash. An empty chain is valid.
func VerifyChain(links []Link) error {
	for i, link := range links {
		if i > 0 && link.PrevHash != links[i-1].Hash {
			return &BrokenChainError{Index: i, Reason: "prev_hash does not match prior link"}
		}
		computed, err := ChainHash(link.PrevHash, link.Payload)
		if err != nil {
			return &BrokenChainError{Index: i, Reason: err.Error()}
		}
		if computed != link.Hash {
			return &BrokenChainError{Index: i, Reason: "hash mismatch"}
		}
	}
	return nil
}
