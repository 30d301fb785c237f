// --- qpgen-server/bank/hash.go ---
package bank

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeText canonicalizes question text for identity comparison:
// trim, lowercase, collapse internal whitespace runs to a single space.
func NormalizeText(text string) string {
	text = strings.TrimSpace(strings.ToLower(text))
	return whitespaceRun.ReplaceAllString(text, " ")
}

// HashText fingerprints question text. Two questions are the same within a
// subject iff their fingerprints match; this is a pure text-identity check.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// HashFile fingerprints a whole upload for file-level deduplication.
func HashFile(fileBytes []byte) string {
	sum := sha256.Sum256(fileBytes)
	return hex.EncodeToString(sum[:])
}
