package services

import (
	"errors"
	"testing"

	"github.com/yungbote/affectlearn-backend/internal/types"
)

func TestFuseTextOnly(t *testing.T) {
	state, err := Fuse(FusionInput{
		TextSentiment: &types.SentimentSignal{Label: types.SentimentNegative, Score: -2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Label != types.SentimentNegative || state.Score != -2 {
		t.Fatalf("text-only fusion must mirror the text signal, got %+v", state)
	}
	if state.StressScore != nil {
		t.Fatalf("no visual channel, stress must be nil")
	}
	if len(state.Channels) != 1 || state.Channels[0] != types.ChannelText {
		t.Fatalf("channels: %v", state.Channels)
	}
}

func TestFuseSpeechWins(t *testing.T) {
	state, err := Fuse(FusionInput{
		TextSentiment:   &types.SentimentSignal{Label: types.SentimentPositive, Score: 1},
		SpeechSentiment: &types.SentimentSignal{Label: types.SentimentNegative, Score: -1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Label != types.SentimentNegative || state.Score != -1 {
		t.Fatalf("speech signal must take precedence, got %+v", state)
	}
	if len(state.Channels) != 2 {
		t.Fatalf("channels: %v", state.Channels)
	}
}

func TestFuseVisualStressIsIndependentAxis(t *testing.T) {
	stress := 72.5
	state, err := Fuse(FusionInput{
		TextSentiment: &types.SentimentSignal{Label: types.SentimentPositive, Score: 2},
		VisualStress:  &stress,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state.Label != types.SentimentPositive {
		t.Fatalf("visual stress must not override the sentiment label")
	}
	if state.StressScore == nil || *state.StressScore != 72.5 {
		t.Fatalf("stress score not surfaced: %+v", state)
	}
}

func TestFuseMalformedInput(t *testing.T) {
	cases := []struct {
		name string
		in   FusionInput
	}{
		{"missing text", FusionInput{}},
		{"bad label", FusionInput{TextSentiment: &types.SentimentSignal{Label: "ANGRY", Score: 0}}},
		{"score out of range", FusionInput{TextSentiment: &types.SentimentSignal{Label: types.SentimentPositive, Score: 3}}},
		{"bad stress", FusionInput{
			TextSentiment: &types.SentimentSignal{Label: types.SentimentNeutral, Score: 0},
			VisualStress:  float64Ptr(140),
		}},
	}
	for _, tc := range cases {
		_, err := Fuse(tc.in)
		var sigErr *InvalidSignalError
		if !errors.As(err, &sigErr) {
			t.Fatalf("%s: expected InvalidSignalError, got %v", tc.name, err)
		}
	}
}

func float64Ptr(v float64) *float64 { return &v }
