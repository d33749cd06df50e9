package types

// SentimentLabel is the coarse polarity reported by the text classifier.
type SentimentLabel string

const (
	SentimentPositive SentimentLabel = "POSITIVE"
	SentimentNeutral  SentimentLabel = "NEUTRAL"
	SentimentNegative SentimentLabel = "NEGATIVE"
)

func (l SentimentLabel) Valid() bool {
	switch l {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

// SentimentSignal is one text-derived affect reading.
//
// Score is on the bucketed [-2, 2] scale produced from classifier confidence:
// confidence > 0.8 maps to +/-2, > 0.6 to +/-1, anything weaker to +/-0.5,
// and NEUTRAL is always 0.
type SentimentSignal struct {
	Label SentimentLabel `json:"label"`
	Score float64        `json:"score"`
}

// AffectChannel names the signal source a reading came from.
type AffectChannel string

const (
	ChannelText   AffectChannel = "text"
	ChannelSpeech AffectChannel = "speech"
	ChannelVisual AffectChannel = "visual"
)

// AffectState is the fused per-turn affect reading. It is a value object:
// recomputed every turn, embedded into the Turn row, never mutated.
//
// StressScore is an independent axis in [0, 100] from the visual channel; it
// never overrides Label, only travels alongside it.
type AffectState struct {
	Label       SentimentLabel  `json:"label"`
	Score       float64         `json:"score"`
	StressScore *float64        `json:"stress_score,omitempty"`
	Channels    []AffectChannel `json:"channels"`
}

func (a AffectState) Negative() bool {
	return a.Label == SentimentNegative
}
