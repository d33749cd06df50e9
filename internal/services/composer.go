package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// TieredResponse is the full generation output for one turn. All three tiers
// are always produced; DisplayTier only selects which one the client surfaces
// first.
type TieredResponse struct {
	Main        string             `json:"main"`
	Simplified  string             `json:"simplified"`
	Detailed    string             `json:"detailed"`
	DisplayTier types.ResponseTier `json:"display_tier"`
}

// HistoryTurn is one prior exchange included in the prompt window.
type HistoryTurn struct {
	Query    string
	Response string
}

type ComposerService interface {
	Compose(ctx context.Context, queryText string, affect types.AffectState, passages []types.RetrievedPassage, history []HistoryTurn) (TieredResponse, error)
}

type composerService struct {
	log           *logger.Logger
	ai            OpenAIClient
	historyWindow int
}

func NewComposerService(log *logger.Logger, ai OpenAIClient) ComposerService {
	return &composerService{
		log:           log.With("service", "ComposerService"),
		ai:            ai,
		historyWindow: utils.GetEnvAsInt("COMPOSER_HISTORY_WINDOW", 6, log),
	}
}

const composerSystemPrompt = `You are a patient tutor. Answer the learner's question three ways:
"main": a concise, clear answer.
"simplified": the same answer with minimal jargon, shorter sentences, more step-by-step scaffolding.
"detailed": an expanded explanation suitable for narration aloud, with smooth full sentences.
Ground every factual claim in the provided course material and cite it as [1], [2], ... matching the numbered passages. If no course material is provided, say the answer is not drawn from the course material and do not fabricate citations.`

var tieredResponseSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"main":       map[string]any{"type": "string"},
		"simplified": map[string]any{"type": "string"},
		"detailed":   map[string]any{"type": "string"},
	},
	"required":             []string{"main", "simplified", "detailed"},
	"additionalProperties": false,
}

func (s *composerService) Compose(ctx context.Context, queryText string, affect types.AffectState, passages []types.RetrievedPassage, history []HistoryTurn) (TieredResponse, error) {
	if len(history) > s.historyWindow {
		history = history[len(history)-s.historyWindow:]
	}

	resp, err := s.generate(ctx, queryText, affect, passages, history)
	if err == nil {
		resp.DisplayTier = DisplayTierFor(affect)
		return resp, nil
	}
	s.log.Warn("Composition failed, retrying with reduced prompt", "error", err.Error())

	// Reduced retry: drop the oldest history turn and the weakest passage.
	if len(history) > 0 {
		history = history[1:]
	}
	if len(passages) > 0 {
		weakest := 0
		for i, p := range passages {
			if p.Score < passages[weakest].Score {
				weakest = i
			}
		}
		passages = append(append([]types.RetrievedPassage{}, passages[:weakest]...), passages[weakest+1:]...)
	}

	resp, err = s.generate(ctx, queryText, affect, passages, history)
	if err != nil {
		return TieredResponse{}, &GenerationError{Stage: "compose", Err: err}
	}
	resp.DisplayTier = DisplayTierFor(affect)
	return resp, nil
}

func (s *composerService) generate(ctx context.Context, queryText string, affect types.AffectState, passages []types.RetrievedPassage, history []HistoryTurn) (TieredResponse, error) {
	obj, err := s.ai.GenerateJSON(ctx, composerSystemPrompt, buildUserPrompt(queryText, affect, passages, history), "tiered_response", tieredResponseSchema)
	if err != nil {
		return TieredResponse{}, err
	}

	resp := TieredResponse{
		Main:       strings.TrimSpace(asString(obj["main"])),
		Simplified: strings.TrimSpace(asString(obj["simplified"])),
		Detailed:   strings.TrimSpace(asString(obj["detailed"])),
	}
	if resp.Main == "" || resp.Simplified == "" || resp.Detailed == "" {
		return TieredResponse{}, fmt.Errorf("generation returned an empty tier")
	}
	return resp, nil
}

func buildUserPrompt(queryText string, affect types.AffectState, passages []types.RetrievedPassage, history []HistoryTurn) string {
	var b strings.Builder

	b.WriteString("Learner state: ")
	b.WriteString(affectDirective(affect))
	b.WriteString("\n\n")

	if len(passages) > 0 {
		b.WriteString("Course material:\n")
		for i, p := range passages {
			fmt.Fprintf(&b, "[%d] (%s p.%d) %s\n", i+1, p.DocumentID, p.Page, strings.TrimSpace(p.Text))
		}
		b.WriteString("\n")
	} else {
		b.WriteString("Course material: none retrieved for this question.\n\n")
	}

	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "Learner: %s\nTutor: %s\n", strings.TrimSpace(h.Query), strings.TrimSpace(h.Response))
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(queryText))
	return b.String()
}

// affectDirective turns the fused affect into one line of prompt guidance.
func affectDirective(affect types.AffectState) string {
	var d string
	switch {
	case affect.Negative() && absScore(affect.Score) >= 2:
		d = "the learner appears frustrated or discouraged; be encouraging, slow down, scaffold every step, and avoid jargon entirely"
	case affect.Negative():
		d = "the learner appears mildly frustrated; increase step-by-step scaffolding and lower jargon"
	case affect.Label == types.SentimentPositive:
		d = "the learner is engaged and confident; keep the pace up and feel free to add depth"
	default:
		d = "the learner appears neutral; explain clearly at a steady pace"
	}
	if affect.StressScore != nil && *affect.StressScore >= 70 {
		d += "; visual cues suggest elevated stress, so keep the tone calm and reassuring"
	}
	return d
}

// DisplayTierFor biases the surfaced tier: clearly negative affect gets the
// simplified rendition first, everything else the main one.
func DisplayTierFor(affect types.AffectState) types.ResponseTier {
	if affect.Negative() && absScore(affect.Score) >= 1 {
		return types.TierSimplified
	}
	return types.TierMain
}

func absScore(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
