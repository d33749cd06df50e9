package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type scriptedAI struct {
	fakeEmbedder
	responses []map[string]any
	errs      []error
	prompts   []string
	calls     int
}

func (s *scriptedAI) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, user)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return nil, errors.New("no scripted response")
}

func goodTiers() map[string]any {
	return map[string]any{
		"main":       "Friction opposes relative motion. [1]",
		"simplified": "Friction is a force that slows sliding things down. [1]",
		"detailed":   "Friction is the force that resists relative motion between surfaces in contact. [1]",
	}
}

func TestComposeHappyPath(t *testing.T) {
	ai := &scriptedAI{responses: []map[string]any{goodTiers()}}
	c := NewComposerService(logger.Nop(), ai)

	affect := types.AffectState{Label: types.SentimentNeutral}
	resp, err := c.Compose(context.Background(), "what is friction", affect, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Main == "" || resp.Simplified == "" || resp.Detailed == "" {
		t.Fatalf("all tiers must be present: %+v", resp)
	}
	if resp.DisplayTier != types.TierMain {
		t.Fatalf("neutral affect surfaces the main tier, got %s", resp.DisplayTier)
	}
	if ai.calls != 1 {
		t.Fatalf("expected one generation pass, got %d", ai.calls)
	}
}

func TestComposeRetriesWithReducedPrompt(t *testing.T) {
	ai := &scriptedAI{
		errs:      []error{errors.New("timeout"), nil},
		responses: []map[string]any{nil, goodTiers()},
	}
	c := NewComposerService(logger.Nop(), ai)

	passages := []types.RetrievedPassage{
		{Text: "strong passage", DocumentID: "doc-a", Score: 0.9},
		{Text: "weak passage", DocumentID: "doc-b", Score: 0.2},
	}
	history := []HistoryTurn{
		{Query: "oldest question", Response: "oldest answer"},
		{Query: "latest question", Response: "latest answer"},
	}

	resp, err := c.Compose(context.Background(), "q", types.AffectState{Label: types.SentimentNeutral}, passages, history)
	if err != nil {
		t.Fatalf("retry should have recovered: %v", err)
	}
	if resp.Main == "" {
		t.Fatalf("empty response after retry")
	}
	if ai.calls != 2 {
		t.Fatalf("expected exactly one retry, calls=%d", ai.calls)
	}
	reduced := ai.prompts[1]
	if strings.Contains(reduced, "weak passage") {
		t.Fatalf("retry prompt must drop the weakest passage")
	}
	if strings.Contains(reduced, "oldest question") {
		t.Fatalf("retry prompt must drop the oldest history turn")
	}
	if !strings.Contains(reduced, "strong passage") || !strings.Contains(reduced, "latest question") {
		t.Fatalf("retry prompt dropped too much: %s", reduced)
	}
}

func TestComposeFailsAfterRetry(t *testing.T) {
	ai := &scriptedAI{errs: []error{errors.New("down"), errors.New("still down")}}
	c := NewComposerService(logger.Nop(), ai)

	_, err := c.Compose(context.Background(), "q", types.AffectState{Label: types.SentimentNeutral}, nil, nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if ai.calls != 2 {
		t.Fatalf("expected exactly two attempts, got %d", ai.calls)
	}
}

func TestComposeEmptyTierIsAFailure(t *testing.T) {
	bad := goodTiers()
	bad["detailed"] = "  "
	ai := &scriptedAI{responses: []map[string]any{bad, bad}}
	c := NewComposerService(logger.Nop(), ai)

	_, err := c.Compose(context.Background(), "q", types.AffectState{Label: types.SentimentNeutral}, nil, nil)
	var genErr *GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("an empty tier must never be returned silently, got %v", err)
	}
}

func TestComposeEmptyRetrievalPromptSaysSo(t *testing.T) {
	ai := &scriptedAI{responses: []map[string]any{goodTiers()}}
	c := NewComposerService(logger.Nop(), ai)
	if _, err := c.Compose(context.Background(), "q", types.AffectState{Label: types.SentimentNeutral}, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ai.prompts[0], "none retrieved") {
		t.Fatalf("ungrounded prompt must state that no material was retrieved")
	}
}

func TestDisplayTierBias(t *testing.T) {
	cases := []struct {
		affect types.AffectState
		want   types.ResponseTier
	}{
		{types.AffectState{Label: types.SentimentNegative, Score: -2}, types.TierSimplified},
		{types.AffectState{Label: types.SentimentNegative, Score: -1}, types.TierSimplified},
		{types.AffectState{Label: types.SentimentNegative, Score: -0.5}, types.TierMain},
		{types.AffectState{Label: types.SentimentNeutral, Score: 0}, types.TierMain},
		{types.AffectState{Label: types.SentimentPositive, Score: 2}, types.TierMain},
	}
	for _, tc := range cases {
		if got := DisplayTierFor(tc.affect); got != tc.want {
			t.Fatalf("affect %+v: got %s, want %s", tc.affect, got, tc.want)
		}
	}
}
