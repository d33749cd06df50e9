package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Modality is how the learner's query arrived.
type Modality string

const (
	ModalityText     Modality = "text"
	ModalityVoice    Modality = "voice"
	ModalityDocument Modality = "document"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityText, ModalityVoice, ModalityDocument:
		return true
	}
	return false
}

// ResponseTier selects one of the three response variants of a turn.
type ResponseTier string

const (
	TierMain       ResponseTier = "main"
	TierSimplified ResponseTier = "simplified"
	TierDetailed   ResponseTier = "detailed"
)

// Turn is one query/response exchange. Immutable once persisted, except for
// the artifact reference columns which are appended after the fact.
type Turn struct {
	gorm.Model
	ID        uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SessionID *uuid.UUID `gorm:"index;column:session_id" json:"session_id,omitempty"`
	UserID    uuid.UUID  `gorm:"index;not null" json:"user_id"`
	TurnIndex int        `gorm:"not null;default:0;column:turn_index" json:"turn_index"`

	QueryText  string   `gorm:"not null;column:query_text" json:"query_text"`
	Modality   Modality `gorm:"not null;column:input_type" json:"modality"`
	Transcript string   `gorm:"column:transcript" json:"transcript,omitempty"`
	Language   string   `gorm:"not null;default:'en';column:response_language" json:"language"`

	SentimentLabel SentimentLabel `gorm:"column:sentiment_label" json:"sentiment_label"`
	SentimentScore float64        `gorm:"column:sentiment_score" json:"sentiment_score"`
	StressScore    *float64       `gorm:"column:stress_score" json:"stress_score,omitempty"`

	// Citation references into the curriculum index ([]PassageRef).
	PassageRefs datatypes.JSON `gorm:"column:passage_refs" json:"passage_refs,omitempty"`

	ResponseMain       string       `gorm:"column:response_main" json:"response_main"`
	ResponseSimplified string       `gorm:"column:response_simplified" json:"response_simplified"`
	ResponseDetailed   string       `gorm:"column:response_detailed" json:"response_detailed"`
	DisplayTier        ResponseTier `gorm:"not null;default:'main';column:display_tier" json:"display_tier"`
	Degraded           bool         `gorm:"not null;default:false;column:degraded" json:"degraded"`

	// Appended post-hoc when artifacts are generated for this turn.
	VoiceAudioURL *string        `gorm:"column:explanation_audio_url" json:"voice_audio_url,omitempty"`
	VoiceTimings  datatypes.JSON `gorm:"column:tts_timings" json:"voice_timings,omitempty"`
	VisualRef     datatypes.JSON `gorm:"column:visual_ref" json:"visual_ref,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (Turn) TableName() string {
	return "query"
}
