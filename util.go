package ragchat

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanText collapses runs of whitespace into single spaces and strips
// zero-width characters that documentation pages tend to carry.
func CleanText(text string) string {
	text = strings.ReplaceAll(text, "​", "")
	text = strings.ReplaceAll(text, "﻿", "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// Hash returns the hex-encoded SHA-256 digest of text.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// DocumentID derives a stable 16-character identifier from a document's
// source and the head of its content, so re-crawling the same page yields
// the same ID.
func DocumentID(source, content string) string {
	head := content
	if len(head) > 100 {
		head = head[:100]
	}
	return Hash(source + "_" + head)[:16]
}
