package checker

import (
	"html"
	"regexp"
	"strings"

	"gradebox/internal/check/sandbox/output"
)

// logOptions controls how raw output becomes a stored log.
type logOptions struct {
	maxBytes    int
	remove      *regexp.Regexp
	returnsHTML bool
}

// renderLog truncates the raw bytes first, then strips removed passages, then escapes unless
// the output is trusted HTML that was not cut.
func renderLog(raw []byte, opts logOptions) (string, bool) {
	cut, truncated := output.Truncate(raw, opts.maxBytes)
	text := strings.ToValidUTF8(string(cut), "�")
	if opts.remove != nil {
		text = opts.remove.ReplaceAllString(text, "")
	}
	if !opts.returnsHTML || truncated {
		text = "<pre>" + html.EscapeString(text) + "</pre>"
	}
	return text, truncated
}
