package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// SentimentService classifies learner text and maps classifier confidence
// onto the bucketed affect scale.
type SentimentService interface {
	Classify(ctx context.Context, text string) (types.SentimentSignal, error)
}

type sentimentService struct {
	log        *logger.Logger
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

func NewSentimentService(log *logger.Logger) (SentimentService, error) {
	endpoint := utils.GetEnv("SENTIMENT_API_URL", "", log)
	if endpoint == "" {
		return nil, fmt.Errorf("missing SENTIMENT_API_URL")
	}
	timeout := utils.GetEnvAsInt("SENTIMENT_TIMEOUT_SECONDS", 15, log)
	return &sentimentService{
		log:        log.With("service", "SentimentService"),
		endpoint:   endpoint,
		apiKey:     utils.GetEnv("SENTIMENT_API_KEY", "", log),
		httpClient: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}, nil
}

// completionWords flip a low-confidence positive to NEUTRAL: "I finished the
// exercises" is a progress report, not enthusiasm about the material.
var completionWords = []string{"completed", "finished", "done", "understood", "accomplished"}

type classifierResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (s *sentimentService) Classify(ctx context.Context, text string) (types.SentimentSignal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.SentimentSignal{}, &InvalidSignalError{Channel: "text", Reason: "empty input"}
	}

	label, confidence, err := s.classify(ctx, text)
	if err != nil {
		return types.SentimentSignal{}, err
	}

	if label == types.SentimentPositive && confidence < 0.8 && containsCompletionWord(text) {
		return types.SentimentSignal{Label: types.SentimentNeutral, Score: 0}, nil
	}

	return types.SentimentSignal{Label: label, Score: BucketScore(label, confidence)}, nil
}

// BucketScore maps a classifier label and confidence onto the affect scale.
// High confidence lands on the extremes, anything else on the half steps.
func BucketScore(label types.SentimentLabel, confidence float64) float64 {
	if label == types.SentimentNeutral {
		return 0
	}
	var magnitude float64
	switch {
	case confidence > 0.8:
		magnitude = 2
	case confidence > 0.6:
		magnitude = 1
	default:
		magnitude = 0.5
	}
	if label == types.SentimentNegative {
		return -magnitude
	}
	return magnitude
}

func containsCompletionWord(text string) bool {
	lowered := strings.ToLower(text)
	for _, w := range completionWords {
		if strings.Contains(lowered, w) {
			return true
		}
	}
	return false
}

func (s *sentimentService) classify(ctx context.Context, text string) (types.SentimentLabel, float64, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", 0, fmt.Errorf("sentiment http %d: %s", resp.StatusCode, string(raw))
	}

	// The inference API returns a ranked list per input; take the top label.
	var nested [][]classifierResult
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return normalizeLabel(nested[0][0].Label), nested[0][0].Score, nil
	}
	var flat []classifierResult
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return normalizeLabel(flat[0].Label), flat[0].Score, nil
	}
	return "", 0, fmt.Errorf("sentiment decode error: %s", string(raw))
}

func normalizeLabel(raw string) types.SentimentLabel {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "POSITIVE", "POS", "LABEL_2":
		return types.SentimentPositive
	case "NEGATIVE", "NEG", "LABEL_0":
		return types.SentimentNegative
	default:
		return types.SentimentNeutral
	}
}
