package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

const (
	quizMinCount = 1
	quizMaxCount = 15
)

type QuizService interface {
	Generate(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, topic string, difficulty types.QuizDifficulty, count int) (*types.Quiz, error)
	Submit(ctx context.Context, quizID uuid.UUID, userID uuid.UUID, answers []int) (*types.Quiz, error)
}

type quizService struct {
	log         *logger.Logger
	ai          OpenAIClient
	quizRepo    repos.QuizRepo
	sessionRepo repos.SessionRepo
	artifacts   *cache.ArtifactCache
}

func NewQuizService(log *logger.Logger, ai OpenAIClient, quizRepo repos.QuizRepo, sessionRepo repos.SessionRepo, artifacts *cache.ArtifactCache) QuizService {
	return &quizService{
		log:         log.With("service", "QuizService"),
		ai:          ai,
		quizRepo:    quizRepo,
		sessionRepo: sessionRepo,
		artifacts:   artifacts,
	}
}

const quizSystemPrompt = `You write multiple-choice quizzes for students. Every question has exactly 4 options and exactly one correct option. "correct" is the zero-based index of the correct option. Include a short explanation per question.`

func quizSchema(count int) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"questions": map[string]any{
				"type":     "array",
				"minItems": count,
				"maxItems": count,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"question": map[string]any{"type": "string"},
						"options": map[string]any{
							"type":     "array",
							"items":    map[string]any{"type": "string"},
							"minItems": 4,
							"maxItems": 4,
						},
						"correct":     map[string]any{"type": "integer"},
						"explanation": map[string]any{"type": "string"},
					},
					"required":             []string{"question", "options", "correct", "explanation"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"questions"},
		"additionalProperties": false,
	}
}

// Generate produces a persisted quiz. Identical requests within the same
// scope share one generation through the artifact cache; a repeated request
// returns the already-persisted quiz instead of calling the model again.
func (s *quizService) Generate(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, topic string, difficulty types.QuizDifficulty, count int) (*types.Quiz, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, &MalformedQuizError{Reason: "empty topic"}
	}
	if count < quizMinCount || count > quizMaxCount {
		return nil, &MalformedQuizError{Reason: fmt.Sprintf("count %d outside [%d,%d]", count, quizMinCount, quizMaxCount)}
	}
	if !difficulty.Valid() {
		return nil, &MalformedQuizError{Reason: "unknown difficulty " + string(difficulty)}
	}

	scope := userID.String()
	if sessionID != nil {
		session, err := s.sessionRepo.GetByID(ctx, nil, *sessionID)
		if err != nil {
			return nil, err
		}
		if session.UserID != userID {
			return nil, &NotOwnedError{Resource: "session", ID: *sessionID}
		}
		if session.EndedAt != nil {
			return nil, &SessionClosedError{SessionID: *sessionID}
		}
		scope = sessionID.String()
	}

	fp := cache.NewFingerprint(cache.KindQuiz, scope, fmt.Sprintf("%s|%s|%d", topic, difficulty, count))
	val, err := s.artifacts.GetOrCompute(ctx, fp, func(cctx context.Context) (types.ArtifactValue, error) {
		quiz, err := s.generate(cctx, userID, sessionID, topic, difficulty, count)
		if err != nil {
			return types.ArtifactValue{}, err
		}
		return types.ArtifactValue{QuizID: &quiz.ID}, nil
	})
	if err != nil {
		return nil, err
	}
	if val.QuizID == nil {
		return nil, &ArtifactUnavailableError{Kind: "quiz", Err: fmt.Errorf("cache entry holds no quiz id")}
	}
	return s.quizRepo.GetByID(ctx, nil, *val.QuizID, userID)
}

func (s *quizService) generate(ctx context.Context, userID uuid.UUID, sessionID *uuid.UUID, topic string, difficulty types.QuizDifficulty, count int) (*types.Quiz, error) {
	user := fmt.Sprintf("Write %d %s-difficulty questions about: %s", count, difficulty, topic)
	obj, err := s.ai.GenerateJSON(ctx, quizSystemPrompt, user, "quiz", quizSchema(count))
	if err != nil {
		return nil, &GenerationError{Stage: "quiz", Err: err}
	}

	questions, err := parseQuizQuestions(obj, count, s.log)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(questions)
	if err != nil {
		return nil, err
	}
	quiz := &types.Quiz{
		ID:         uuid.New(),
		SessionID:  sessionID,
		UserID:     userID,
		Topic:      topic,
		Difficulty: difficulty,
		Questions:  datatypes.JSON(raw),
	}
	return s.quizRepo.Create(ctx, nil, quiz)
}

// parseQuizQuestions validates the model output against the question
// contract and normalizes answer indices to zero-based.
func parseQuizQuestions(obj map[string]any, count int, log *logger.Logger) ([]types.QuizQuestion, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Questions []types.QuizQuestion `json:"questions"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &MalformedQuizError{Reason: "undecodable quiz payload"}
	}

	if len(parsed.Questions) != count {
		return nil, &MalformedQuizError{Reason: fmt.Sprintf("expected %d questions, got %d", count, len(parsed.Questions))}
	}
	for i, q := range parsed.Questions {
		if strings.TrimSpace(q.Question) == "" {
			return nil, &MalformedQuizError{Reason: fmt.Sprintf("question %d is empty", i)}
		}
		// Wrong option count cannot be safely repaired.
		if len(q.Options) != 4 {
			return nil, &MalformedQuizError{Reason: fmt.Sprintf("question %d has %d options", i, len(q.Options))}
		}
	}

	normalizeCorrectIndices(parsed.Questions, log)
	return parsed.Questions, nil
}

// normalizeCorrectIndices repairs a one-based answer convention, detected
// only when every index lies in [1,4] and the set shows evidence of the
// shift (an index of 4, or no index of 0). Anything else in range is
// trusted; out-of-range values are clamped with a warning. The repair is a
// best-effort fix of an upstream contract violation, not a guaranteed one.
func normalizeCorrectIndices(questions []types.QuizQuestion, log *logger.Logger) {
	allShifted := len(questions) > 0
	sawFour := false
	sawZero := false
	for _, q := range questions {
		if q.Correct < 1 || q.Correct > 4 {
			allShifted = false
		}
		if q.Correct == 4 {
			sawFour = true
		}
		if q.Correct == 0 {
			sawZero = true
		}
	}

	if allShifted && (sawFour || !sawZero) {
		for i := range questions {
			questions[i].Correct--
		}
		log.Warn("Quiz answer indices looked one-based; shifted to zero-based", "questions", len(questions))
		return
	}

	for i := range questions {
		if questions[i].Correct < 0 {
			log.Warn("Quiz answer index below range; clamped", "question", i, "correct", questions[i].Correct)
			questions[i].Correct = 0
		} else if questions[i].Correct > 3 {
			log.Warn("Quiz answer index above range; clamped", "question", i, "correct", questions[i].Correct)
			questions[i].Correct = 3
		}
	}
}

// QuizResult is the outcome of scoring one submission.
type QuizResult struct {
	ScorePercent   float64 `json:"score_percent"`
	CorrectCount   int     `json:"correct_count"`
	StressEstimate float64 `json:"stress_estimate"`
}

// ScoreQuiz grades a submission. Pure function. StressEstimate is a
// heuristic derived from difficulty and error rate, not a measured signal.
func ScoreQuiz(questions []types.QuizQuestion, answers []int, difficulty types.QuizDifficulty) (QuizResult, error) {
	if len(questions) == 0 {
		return QuizResult{}, &MalformedQuizError{Reason: "quiz has no questions"}
	}
	if len(answers) != len(questions) {
		return QuizResult{}, &MalformedQuizError{Reason: fmt.Sprintf("expected %d answers, got %d", len(questions), len(answers))}
	}
	correct := 0
	for i, q := range questions {
		if answers[i] == q.Correct {
			correct++
		}
	}
	n := len(questions)
	result := QuizResult{
		CorrectCount: correct,
		ScorePercent: float64(correct) / float64(n) * 100,
	}

	errorRate := float64(n-correct) / float64(n)
	result.StressEstimate = errorRate * 100 * difficultyWeight(difficulty)
	if result.StressEstimate > 100 {
		result.StressEstimate = 100
	}
	return result, nil
}

func difficultyWeight(d types.QuizDifficulty) float64 {
	switch d {
	case types.DifficultyEasy:
		return 1.0
	case types.DifficultyMedium:
		return 0.8
	default:
		// Missing hard questions says less about stress than missing easy ones.
		return 0.6
	}
}

func (s *quizService) Submit(ctx context.Context, quizID uuid.UUID, userID uuid.UUID, answers []int) (*types.Quiz, error) {
	quiz, err := s.quizRepo.GetByID(ctx, nil, quizID, userID)
	if err != nil {
		return nil, err
	}
	if quiz.ScorePercent != nil {
		// Already scored; quizzes are immutable after scoring.
		return quiz, nil
	}

	var questions []types.QuizQuestion
	if err := json.Unmarshal(quiz.Questions, &questions); err != nil {
		return nil, err
	}
	result, err := ScoreQuiz(questions, answers, quiz.Difficulty)
	if err != nil {
		return nil, err
	}

	rawAnswers, err := json.Marshal(answers)
	if err != nil {
		return nil, err
	}
	quiz.UserAnswers = datatypes.JSON(rawAnswers)
	quiz.ScorePercent = &result.ScorePercent
	quiz.CorrectCount = &result.CorrectCount
	quiz.StressEstimate = &result.StressEstimate

	if err := s.quizRepo.SaveScored(ctx, nil, quiz); err != nil {
		return nil, err
	}
	return quiz, nil
}
