package types

import "github.com/google/uuid"

// TimingEntry maps one sentence of synthesized narration onto the audio
// timeline. Entries are monotonic and non-overlapping: end of entry i equals
// start of entry i+1 up to rounding.
type TimingEntry struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// VoiceArtifact is a synthesized narration for a turn's detailed response.
// Estimated is true when the timing map was derived from character counts
// rather than engine-reported alignment.
type VoiceArtifact struct {
	AudioURL     string        `json:"audio_url"`
	Timings      []TimingEntry `json:"timings"`
	Estimated    bool          `json:"estimated"`
	VoiceName    string        `json:"voice_name,omitempty"`
	LanguageCode string        `json:"language_code,omitempty"`
}

type ExplanationSnippet struct {
	Text       string `json:"text"`
	DocumentID string `json:"document_id,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// VisualArtifact is a diagram/image explanation for a topic. Available=false
// is the well-defined "no visual for this topic" outcome, not an error.
type VisualArtifact struct {
	Available bool                 `json:"available"`
	ImageURL  string               `json:"image_url,omitempty"`
	ImageType string               `json:"image_type,omitempty"`
	SVG       string               `json:"svg,omitempty"`
	Snippets  []ExplanationSnippet `json:"snippets,omitempty"`
}

// ArtifactValue is the tagged union stored in the artifact cache. Exactly one
// field is set per entry; callers branch on presence.
type ArtifactValue struct {
	Voice  *VoiceArtifact  `json:"voice,omitempty"`
	Visual *VisualArtifact `json:"visual,omitempty"`
	QuizID *uuid.UUID      `json:"quiz_id,omitempty"`
}
