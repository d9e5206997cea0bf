// Package extract turns uploaded files and web pages into plain text.
package extract

import (
	"context"
	"strings"
	"unicode"
)

// Source is either raw file bytes with a MIME type, or a URL to fetch.
type Source struct {
	Name     string
	MimeType string
	Data     []byte
	URL      string
}

// Result is the outcome of an extraction. On failure Text holds a
// human-readable placeholder that IsPlaceholder recognizes.
type Result struct {
	Text    string
	Success bool
	Error   string
}

type Extractor interface {
	Extract(ctx context.Context, src Source) Result
}

// minMeaningfulChars is the shortest extracted text treated as real content.
const minMeaningfulChars = 50

// Markers written into placeholder text when extraction fails.
const (
	markerUnavailable = "[Content unavailable"
	markerNoText      = "[No text could be extracted"
	markerVideo       = "[Video transcript unavailable"
)

var placeholderMarkers = []string{
	markerUnavailable,
	markerNoText,
	markerVideo,
	"could not be extracted",
	"extraction failed",
}

// IsPlaceholder reports whether text is too short to discuss or carries a
// known extraction-failure marker.
func IsPlaceholder(text string) bool {
	lower := strings.ToLower(text)
	for _, m := range placeholderMarkers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return meaningfulChars(text) < minMeaningfulChars
}

func meaningfulChars(text string) int {
	n := 0
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

func failure(text string, err error) Result {
	return Result{Text: text, Success: false, Error: err.Error()}
}
