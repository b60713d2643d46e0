package importer

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize joins a highlight's identifying fields after cleaning each part.
// It trims whitespace, lowercases, and normalizes line endings so that
// cosmetic edits in the source file do not change the identity.
func Normalize(h ParsedHighlight) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	title := normalizePart(h.BookTitle)
	content := normalizePart(h.Content)

	// Join with a newline so fields cannot bleed into each other.
	// Note and tags are editable metadata and stay out of the identity.
	return strings.Join([]string{title, content}, "\n")
}

// Hash returns the highlight's identity as a SHA-256 hex string.
func Hash(h ParsedHighlight) string {
	hashBytes := sha256.Sum256([]byte(Normalize(h)))
	return fmt.Sprintf("%x", hashBytes)
}
