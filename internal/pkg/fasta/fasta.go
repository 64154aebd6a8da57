// Package fasta validates and decodes FASTA records and computes the
// submission checksum agreed between client and server.
package fasta

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	headerPattern   = regexp.MustCompile(`^>[A-Za-z0-9_]+$`)
	sequencePattern = regexp.MustCompile(`^[ACGTN]+$`)
)

// Validate reports whether content is a well-formed FASTA record: a header
// line of ">" followed by identifier characters, then at least one sequence
// line containing only the symbols A, C, G, T or N (case-insensitive).
// Blank sequence lines are allowed and ignored.
func Validate(content string) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 2 {
		return false
	}
	if !strings.HasPrefix(lines[0], ">") {
		return false
	}
	if !headerPattern.MatchString(strings.TrimRight(lines[0], "\r")) {
		return false
	}
	for _, line := range lines[1:] {
		line = strings.ToUpper(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		if !sequencePattern.MatchString(line) {
			return false
		}
	}
	return true
}

// ExtractSequence concatenates all lines after the header, upper-cased and
// stripped of surrounding whitespace. It returns the empty string for empty
// input; callers that require a sequence must check for emptiness themselves.
func ExtractSequence(content string) string {
	if content == "" {
		return ""
	}
	lines := strings.Split(strings.TrimSpace(content), "\n")
	if len(lines) < 2 {
		return ""
	}
	var b strings.Builder
	for _, line := range lines[1:] {
		b.WriteString(strings.ToUpper(strings.TrimSpace(line)))
	}
	return b.String()
}

// Checksum returns the SHA-256 digest of the raw content bytes as lowercase
// hex. The digest covers the full record including the header line, so the
// sender and receiver must hash byte-identical text.
func Checksum(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
