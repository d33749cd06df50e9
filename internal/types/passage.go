package types

import (
	"time"
	"unicode/utf8"
)

// RetrievedPassage is one ranked hit from the curriculum index. Ephemeral;
// only PassageRef is persisted on the turn.
type RetrievedPassage struct {
	Text       string    `json:"text"`
	DocumentID string    `json:"document_id"`
	DocumentAt time.Time `json:"document_at,omitempty"`
	Page       int       `json:"page,omitempty"`
	Score      float64   `json:"score"`
}

// PassageRef is the citation-sized slice of a RetrievedPassage stored on the
// turn for display. The full text stays in the index.
type PassageRef struct {
	DocumentID string  `json:"document_id"`
	Page       int     `json:"page,omitempty"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet,omitempty"`
}

func (p RetrievedPassage) Ref() PassageRef {
	snippet := p.Text
	if len(snippet) > 200 {
		cut := 200
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}
	return PassageRef{
		DocumentID: p.DocumentID,
		Page:       p.Page,
		Score:      p.Score,
		Snippet:    snippet,
	}
}
