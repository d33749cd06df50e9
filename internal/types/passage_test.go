package types

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestRefTruncatesLongSnippet(t *testing.T) {
	p := RetrievedPassage{Text: strings.Repeat("a", 300), DocumentID: "doc-a", Score: 0.9}
	ref := p.Ref()
	if len(ref.Snippet) != 200 {
		t.Fatalf("snippet length %d, want 200", len(ref.Snippet))
	}
}

func TestRefKeepsShortSnippet(t *testing.T) {
	p := RetrievedPassage{Text: "short passage", DocumentID: "doc-a"}
	if got := p.Ref().Snippet; got != "short passage" {
		t.Fatalf("snippet %q", got)
	}
}

func TestRefNeverSplitsRune(t *testing.T) {
	// Three-byte runes land a rune boundary mid-way through byte 200.
	p := RetrievedPassage{Text: strings.Repeat("界", 100), DocumentID: "doc-a"}
	ref := p.Ref()
	if !utf8.ValidString(ref.Snippet) {
		t.Fatalf("snippet holds a split rune: %q", ref.Snippet)
	}
	if len(ref.Snippet) > 200 {
		t.Fatalf("snippet length %d exceeds cap", len(ref.Snippet))
	}
}
