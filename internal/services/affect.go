package services

import (
	"github.com/yungbote/affectlearn-backend/internal/types"
)

// FusionInput carries the per-channel signals for one turn. TextSentiment is
// required; the other channels are optional and their absence degrades to
// text-only affect.
type FusionInput struct {
	TextSentiment   *types.SentimentSignal
	SpeechSentiment *types.SentimentSignal
	VisualStress    *float64
}

// Fuse combines the channel signals into one AffectState. Pure function, no
// side effects.
//
// When both typed text and transcribed speech carry sentiment, the speech
// signal wins: it is the more recent, explicit expression of how the learner
// feels. Visual stress rides alongside as an independent axis; it never
// overrides the sentiment label.
func Fuse(in FusionInput) (types.AffectState, error) {
	if in.TextSentiment == nil {
		return types.AffectState{}, &InvalidSignalError{Channel: "text", Reason: "missing sentiment"}
	}
	if !in.TextSentiment.Label.Valid() {
		return types.AffectState{}, &InvalidSignalError{Channel: "text", Reason: "unknown label " + string(in.TextSentiment.Label)}
	}
	if in.TextSentiment.Score < -2 || in.TextSentiment.Score > 2 {
		return types.AffectState{}, &InvalidSignalError{Channel: "text", Reason: "score out of range"}
	}

	state := types.AffectState{
		Label:    in.TextSentiment.Label,
		Score:    in.TextSentiment.Score,
		Channels: []types.AffectChannel{types.ChannelText},
	}

	if in.SpeechSentiment != nil {
		if !in.SpeechSentiment.Label.Valid() {
			return types.AffectState{}, &InvalidSignalError{Channel: "speech", Reason: "unknown label " + string(in.SpeechSentiment.Label)}
		}
		if in.SpeechSentiment.Score < -2 || in.SpeechSentiment.Score > 2 {
			return types.AffectState{}, &InvalidSignalError{Channel: "speech", Reason: "score out of range"}
		}
		state.Label = in.SpeechSentiment.Label
		state.Score = in.SpeechSentiment.Score
		state.Channels = append(state.Channels, types.ChannelSpeech)
	}

	if in.VisualStress != nil {
		if *in.VisualStress < 0 || *in.VisualStress > 100 {
			return types.AffectState{}, &InvalidSignalError{Channel: "visual", Reason: "stress score out of range"}
		}
		v := *in.VisualStress
		state.StressScore = &v
		state.Channels = append(state.Channels, types.ChannelVisual)
	}

	return state, nil
}
