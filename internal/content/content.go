package content

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/h2non/filetype"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

var (
	policy   = bluemonday.UGCPolicy()
	markdown = goldmark.New()
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is applied to anything user-entered before it lands in a rendering
// cache.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderHTML produces the derived htmlContent cache for a plain-text
// projection of the document. The result is sanitized.
func RenderHTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return string(policy.SanitizeBytes(buf.Bytes())), nil
}

// AudioExtension picks the file extension for an uploaded audio blob. The
// blob's magic bytes win over the declared mime type; recordings from the two
// known devices are either webm or m4a, so m4a is the declared-type fallback.
func AudioExtension(blob []byte, declaredMime string) string {
	if kind, err := filetype.Match(blob); err == nil && kind.Extension != "unknown" {
		return kind.Extension
	}
	if strings.Contains(declaredMime, "webm") {
		return "webm"
	}
	return "m4a"
}
