package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

func newTestQuizService(ai OpenAIClient, repo *memQuizRepo, sessions *memSessionRepo) QuizService {
	log := logger.Nop()
	return NewQuizService(log, ai, repo, sessions, cache.NewArtifactCache(log, 64, time.Minute, nil))
}

type memQuizRepo struct {
	quizzes map[uuid.UUID]*types.Quiz
}

func newMemQuizRepo() *memQuizRepo {
	return &memQuizRepo{quizzes: map[uuid.UUID]*types.Quiz{}}
}

func (r *memQuizRepo) Create(ctx context.Context, tx *gorm.DB, quiz *types.Quiz) (*types.Quiz, error) {
	cp := *quiz
	r.quizzes[quiz.ID] = &cp
	return &cp, nil
}

func (r *memQuizRepo) GetByID(ctx context.Context, tx *gorm.DB, quizID, userID uuid.UUID) (*types.Quiz, error) {
	q, ok := r.quizzes[quizID]
	if !ok || q.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *q
	return &cp, nil
}

func (r *memQuizRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Quiz, error) {
	return nil, nil
}

func (r *memQuizRepo) SaveScored(ctx context.Context, tx *gorm.DB, quiz *types.Quiz) error {
	cp := *quiz
	r.quizzes[quiz.ID] = &cp
	return nil
}

func quizPayload(count int, correct func(i int) int) map[string]any {
	questions := make([]map[string]any, 0, count)
	for i := 0; i < count; i++ {
		questions = append(questions, map[string]any{
			"question":    fmt.Sprintf("Question %d?", i+1),
			"options":     []any{"A", "B", "C", "D"},
			"correct":     correct(i),
			"explanation": "Because.",
		})
	}
	return map[string]any{"questions": questions}
}

func TestGenerateQuizScenario(t *testing.T) {
	ai := &scriptedAI{responses: []map[string]any{
		quizPayload(5, func(i int) int { return i % 4 }),
	}}
	svc := newTestQuizService(ai, newMemQuizRepo(), newMemSessionRepo())

	userID := uuid.New()
	quiz, err := svc.Generate(context.Background(), userID, nil, "Photosynthesis", types.DifficultyMedium, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var questions []types.QuizQuestion
	if err := json.Unmarshal(quiz.Questions, &questions); err != nil {
		t.Fatal(err)
	}
	if len(questions) != 5 {
		t.Fatalf("expected exactly 5 questions, got %d", len(questions))
	}
	zeroCorrect := 0
	for i, q := range questions {
		if len(q.Options) != 4 {
			t.Fatalf("question %d has %d options", i, len(q.Options))
		}
		if q.Correct < 0 || q.Correct > 3 {
			t.Fatalf("question %d correct index %d out of range", i, q.Correct)
		}
		if q.Correct == 0 {
			zeroCorrect++
		}
	}

	// All-zero submission scores deterministically.
	result, err := ScoreQuiz(questions, []int{0, 0, 0, 0, 0}, types.DifficultyMedium)
	if err != nil {
		t.Fatal(err)
	}
	want := float64(zeroCorrect) / 5 * 100
	if result.ScorePercent != want {
		t.Fatalf("score %f, want %f", result.ScorePercent, want)
	}
}

func TestGenerateQuizInputValidation(t *testing.T) {
	svc := newTestQuizService(&scriptedAI{}, newMemQuizRepo(), newMemSessionRepo())
	userID := uuid.New()

	cases := []struct {
		name       string
		topic      string
		difficulty types.QuizDifficulty
		count      int
	}{
		{"zero count", "t", types.DifficultyEasy, 0},
		{"too many", "t", types.DifficultyEasy, 16},
		{"bad difficulty", "t", "brutal", 5},
		{"empty topic", " ", types.DifficultyEasy, 5},
	}
	for _, tc := range cases {
		_, err := svc.Generate(context.Background(), userID, nil, tc.topic, tc.difficulty, tc.count)
		var malformed *MalformedQuizError
		if !errors.As(err, &malformed) {
			t.Fatalf("%s: expected MalformedQuizError, got %v", tc.name, err)
		}
	}
}

func TestGenerateQuizRejectsWrongOptionCount(t *testing.T) {
	payload := quizPayload(2, func(i int) int { return 0 })
	payload["questions"].([]map[string]any)[1]["options"] = []any{"A", "B", "C"}
	ai := &scriptedAI{responses: []map[string]any{payload}}
	svc := newTestQuizService(ai, newMemQuizRepo(), newMemSessionRepo())

	_, err := svc.Generate(context.Background(), uuid.New(), nil, "topic", types.DifficultyEasy, 2)
	var malformed *MalformedQuizError
	if !errors.As(err, &malformed) {
		t.Fatalf("wrong option count must be MalformedQuizError, got %v", err)
	}
}

func TestNormalizeCorrectIndicesOneBasedRepair(t *testing.T) {
	questions := []types.QuizQuestion{
		{Correct: 1}, {Correct: 4}, {Correct: 2},
	}
	normalizeCorrectIndices(questions, logger.Nop())
	for i, want := range []int{0, 3, 1} {
		if questions[i].Correct != want {
			t.Fatalf("question %d: got %d, want %d", i, questions[i].Correct, want)
		}
	}
}

func TestNormalizeCorrectIndicesTrustsZeroBased(t *testing.T) {
	// A zero index means the set cannot be one-based; leave it alone.
	questions := []types.QuizQuestion{
		{Correct: 0}, {Correct: 3}, {Correct: 1},
	}
	normalizeCorrectIndices(questions, logger.Nop())
	for i, want := range []int{0, 3, 1} {
		if questions[i].Correct != want {
			t.Fatalf("question %d: got %d, want %d", i, questions[i].Correct, want)
		}
	}
}

func TestNormalizeCorrectIndicesClampsOutOfRange(t *testing.T) {
	questions := []types.QuizQuestion{
		{Correct: -1}, {Correct: 7}, {Correct: 2},
	}
	normalizeCorrectIndices(questions, logger.Nop())
	for i, want := range []int{0, 3, 2} {
		if questions[i].Correct != want {
			t.Fatalf("question %d: got %d, want %d", i, questions[i].Correct, want)
		}
	}
}

func TestSubmitScoresAndIsIdempotent(t *testing.T) {
	ai := &scriptedAI{responses: []map[string]any{
		quizPayload(4, func(i int) int { return 1 }),
	}}
	repo := newMemQuizRepo()
	svc := newTestQuizService(ai, repo, newMemSessionRepo())

	userID := uuid.New()
	quiz, err := svc.Generate(context.Background(), userID, nil, "topic", types.DifficultyHard, 4)
	if err != nil {
		t.Fatal(err)
	}

	scored, err := svc.Submit(context.Background(), quiz.ID, userID, []int{1, 1, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if scored.ScorePercent == nil || *scored.ScorePercent != 50 {
		t.Fatalf("score: %+v", scored.ScorePercent)
	}
	if scored.CorrectCount == nil || *scored.CorrectCount != 2 {
		t.Fatalf("correct count: %+v", scored.CorrectCount)
	}
	if scored.StressEstimate == nil {
		t.Fatalf("missing stress estimate")
	}

	// Second submission must not rescore.
	again, err := svc.Submit(context.Background(), quiz.ID, userID, []int{0, 0, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if *again.ScorePercent != 50 {
		t.Fatalf("scored quiz must be immutable, got %f", *again.ScorePercent)
	}
}

func TestGenerateQuizRepeatServedFromCache(t *testing.T) {
	ai := &scriptedAI{responses: []map[string]any{
		quizPayload(3, func(i int) int { return 0 }),
	}}
	svc := newTestQuizService(ai, newMemQuizRepo(), newMemSessionRepo())
	userID := uuid.New()

	first, err := svc.Generate(context.Background(), userID, nil, "Photosynthesis", types.DifficultyEasy, 3)
	if err != nil {
		t.Fatal(err)
	}
	// Case and spacing differences hash to the same request.
	second, err := svc.Generate(context.Background(), userID, nil, "  photosynthesis ", types.DifficultyEasy, 3)
	if err != nil {
		t.Fatal(err)
	}

	if first.ID != second.ID {
		t.Fatalf("identical requests must resolve to one quiz: %s vs %s", first.ID, second.ID)
	}
	if ai.calls != 1 {
		t.Fatalf("repeat request must not call the model again, calls=%d", ai.calls)
	}
}

func TestGenerateQuizFailureNotCached(t *testing.T) {
	ai := &scriptedAI{
		errs:      []error{errors.New("model down"), nil},
		responses: []map[string]any{nil, quizPayload(3, func(i int) int { return 0 })},
	}
	svc := newTestQuizService(ai, newMemQuizRepo(), newMemSessionRepo())
	userID := uuid.New()

	if _, err := svc.Generate(context.Background(), userID, nil, "topic", types.DifficultyEasy, 3); err == nil {
		t.Fatal("expected generation failure")
	}
	quiz, err := svc.Generate(context.Background(), userID, nil, "topic", types.DifficultyEasy, 3)
	if err != nil {
		t.Fatalf("retry after failure must recompute: %v", err)
	}
	if quiz == nil || quiz.ID == uuid.Nil {
		t.Fatal("missing quiz")
	}
	if ai.calls != 2 {
		t.Fatalf("calls: %d", ai.calls)
	}
}

func TestGenerateQuizRejectsForeignSession(t *testing.T) {
	sessions := newMemSessionRepo()
	owner := uuid.New()
	session, err := sessions.Create(context.Background(), nil, &types.LearningSession{
		ID: uuid.New(), ChatID: uuid.New(), UserID: owner,
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := newTestQuizService(&scriptedAI{}, newMemQuizRepo(), sessions)

	_, err = svc.Generate(context.Background(), uuid.New(), &session.ID, "topic", types.DifficultyEasy, 3)
	var ownErr *NotOwnedError
	if !errors.As(err, &ownErr) {
		t.Fatalf("expected NotOwnedError, got %v", err)
	}
}

func TestGenerateQuizRejectsEndedSession(t *testing.T) {
	sessions := newMemSessionRepo()
	userID := uuid.New()
	session, err := sessions.Create(context.Background(), nil, &types.LearningSession{
		ID: uuid.New(), ChatID: uuid.New(), UserID: userID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sessions.End(context.Background(), nil, session.ID, userID); err != nil {
		t.Fatal(err)
	}
	svc := newTestQuizService(&scriptedAI{}, newMemQuizRepo(), sessions)

	_, err = svc.Generate(context.Background(), userID, &session.ID, "topic", types.DifficultyEasy, 3)
	var closedErr *SessionClosedError
	if !errors.As(err, &closedErr) {
		t.Fatalf("expected SessionClosedError, got %v", err)
	}
}

func TestScoreQuizEmptyQuestions(t *testing.T) {
	_, err := ScoreQuiz(nil, nil, types.DifficultyEasy)
	var malformed *MalformedQuizError
	if !errors.As(err, &malformed) {
		t.Fatalf("empty quiz must be MalformedQuizError, got %v", err)
	}
}

func TestScoreQuizAnswerCountMismatch(t *testing.T) {
	questions := []types.QuizQuestion{{Correct: 0}, {Correct: 1}}
	_, err := ScoreQuiz(questions, []int{0}, types.DifficultyEasy)
	var malformed *MalformedQuizError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedQuizError, got %v", err)
	}
}
