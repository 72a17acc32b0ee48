// Package contenthash normalizes memory content and derives the hashes used
// as cache keys and duplicate-detection signals.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	runsOfSpacesOrTabs = regexp.MustCompile(`[ \t]+`)
	runsOfBlankLines   = regexp.MustCompile(`\n\s*\n`)
)

// Normalize collapses whitespace so that semantically equivalent content
// produces the same hash regardless of incidental formatting differences.
// Normalize is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(content string) string {
	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	normalized = runsOfSpacesOrTabs.ReplaceAllString(normalized, " ")
	normalized = runsOfBlankLines.ReplaceAllString(normalized, "\n")

	lines := strings.Split(normalized, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	normalized = strings.Join(lines, "\n")

	return strings.TrimSpace(normalized)
}

// Hash returns the SHA-256 hash of the normalized content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}

// CacheKey derives the embedding cache key for a (model, content) pair:
// SHA-256 of "model:normalized-content".
func CacheKey(model, content string) string {
	combined := model + ":" + Normalize(content)
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}
