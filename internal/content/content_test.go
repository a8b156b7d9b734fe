package content

import (
	"strings"
	"testing"
)

func TestSanitize(t *testing.T) {
	input := `<b>hi</b><script>alert("x")</script>`
	got := Sanitize(input)
	if strings.Contains(got, "script") {
		t.Errorf("script tag survived sanitization: %q", got)
	}
	if !strings.Contains(got, "<b>hi</b>") {
		t.Errorf("benign markup stripped: %q", got)
	}
}

func TestRenderHTML(t *testing.T) {
	got, err := RenderHTML("**bold** note")
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if !strings.Contains(got, "<strong>bold</strong>") {
		t.Errorf("markdown not rendered: %q", got)
	}

	got, err = RenderHTML(`<script>alert("x")</script>`)
	if err != nil {
		t.Fatalf("RenderHTML failed: %v", err)
	}
	if strings.Contains(got, "<script") {
		t.Errorf("unsafe html survived render: %q", got)
	}
}

func TestAudioExtension(t *testing.T) {
	// EBML magic -> webm/mkv family detected from bytes
	webm := []byte{0x1a, 0x45, 0xdf, 0xa3, 0x00, 0x00, 0x00, 0x00}
	if ext := AudioExtension(webm, "audio/mp4"); ext != "mkv" && ext != "webm" {
		t.Errorf("expected container extension from magic bytes, got %q", ext)
	}

	// Unrecognized bytes fall back to the declared mime
	if ext := AudioExtension([]byte{0x00, 0x01}, "audio/webm;codecs=opus"); ext != "webm" {
		t.Errorf("expected webm fallback, got %q", ext)
	}
	if ext := AudioExtension([]byte{0x00, 0x01}, "audio/mp4"); ext != "m4a" {
		t.Errorf("expected m4a fallback, got %q", ext)
	}
}
