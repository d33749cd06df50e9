package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/sse"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type fakeSentiment struct {
	signal types.SentimentSignal
	err    error
}

func (f *fakeSentiment) Classify(ctx context.Context, text string) (types.SentimentSignal, error) {
	if f.err != nil {
		return types.SentimentSignal{}, f.err
	}
	return f.signal, nil
}

type fakeRetriever struct {
	mu       sync.Mutex
	calls    int
	failures int
	passages []types.RetrievedPassage
}

func (f *fakeRetriever) Retrieve(ctx context.Context, queryText string, topK int) ([]types.RetrievedPassage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, &RetrievalUnavailableError{Err: errors.New("index down")}
	}
	return f.passages, nil
}

type fakeComposer struct {
	err      error
	lastArgs struct {
		passages []types.RetrievedPassage
		history  []HistoryTurn
	}
}

func (f *fakeComposer) Compose(ctx context.Context, queryText string, affect types.AffectState, passages []types.RetrievedPassage, history []HistoryTurn) (TieredResponse, error) {
	f.lastArgs.passages = passages
	f.lastArgs.history = history
	if f.err != nil {
		return TieredResponse{}, f.err
	}
	return TieredResponse{
		Main:        "main answer",
		Simplified:  "simplified answer",
		Detailed:    "detailed answer",
		DisplayTier: DisplayTierFor(affect),
	}, nil
}

type fakeVoice struct {
	calls int32
	block chan struct{}
	err   error
}

func (f *fakeVoice) Synthesize(ctx context.Context, key, text, languageCode string) (types.VoiceArtifact, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return types.VoiceArtifact{}, f.err
	}
	return types.VoiceArtifact{
		AudioURL:  "https://cdn.example.com/audio/" + key + ".mp3",
		Timings:   []types.TimingEntry{{Start: 0, End: 1, Text: text}},
		Estimated: true,
	}, nil
}

type fakeVisual struct {
	calls     int32
	available bool
}

func (f *fakeVisual) Explain(ctx context.Context, topic string) (types.VisualArtifact, error) {
	atomic.AddInt32(&f.calls, 1)
	return types.VisualArtifact{Available: f.available, ImageURL: "https://cdn.example.com/v.png", ImageType: "diagram"}, nil
}

type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*types.LearningSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[uuid.UUID]*types.LearningSession{}}
}

func (r *memSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.LearningSession) (*types.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *session
	r.sessions[session.ID] = &cp
	return &cp, nil
}

func (r *memSessionRepo) GetByID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) ListByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.LearningSession, error) {
	return nil, nil
}

func (r *memSessionRepo) End(ctx context.Context, tx *gorm.DB, sessionID, userID uuid.UUID) (*types.LearningSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok || s.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	now := time.Now().UTC()
	s.EndedAt = &now
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) FullDeleteByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error {
	return nil
}

type memTurnRepo struct {
	mu    sync.Mutex
	turns map[uuid.UUID]*types.Turn
	order []uuid.UUID
}

func newMemTurnRepo() *memTurnRepo {
	return &memTurnRepo{turns: map[uuid.UUID]*types.Turn{}}
}

func (r *memTurnRepo) Create(ctx context.Context, tx *gorm.DB, turn *types.Turn) (*types.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *turn
	r.turns[turn.ID] = &cp
	r.order = append(r.order, turn.ID)
	return &cp, nil
}

func (r *memTurnRepo) GetByID(ctx context.Context, tx *gorm.DB, turnID uuid.UUID) (*types.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.turns[turnID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *memTurnRepo) ListBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Turn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*types.Turn
	for _, id := range r.order {
		t := r.turns[id]
		if t.SessionID != nil && *t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memTurnRepo) ListByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) ([]*types.Turn, error) {
	return nil, nil
}

func (r *memTurnRepo) CountBySession(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (int64, error) {
	turns, _ := r.ListBySession(ctx, tx, sessionID)
	return int64(len(turns)), nil
}

func (r *memTurnRepo) AttachVoice(ctx context.Context, tx *gorm.DB, turnID uuid.UUID, audioURL string, timings datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.turns[turnID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t.VoiceAudioURL = &audioURL
	t.VoiceTimings = timings
	return nil
}

func (r *memTurnRepo) AttachVisual(ctx context.Context, tx *gorm.DB, turnID uuid.UUID, visual datatypes.JSON) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.turns[turnID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	t.VisualRef = visual
	return nil
}

func (r *memTurnRepo) FullDeleteByChat(ctx context.Context, tx *gorm.DB, chatID uuid.UUID) error {
	return nil
}

type orchestratorFixture struct {
	svc       OrchestratorService
	sentiment *fakeSentiment
	retriever *fakeRetriever
	composer  *fakeComposer
	voice     *fakeVoice
	visual    *fakeVisual
	sessions  *memSessionRepo
	turns     *memTurnRepo
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		sentiment: &fakeSentiment{signal: types.SentimentSignal{Label: types.SentimentNeutral}},
		retriever: &fakeRetriever{passages: []types.RetrievedPassage{{Text: "a passage", DocumentID: "doc-1", Score: 0.9}}},
		composer:  &fakeComposer{},
		voice:     &fakeVoice{},
		visual:    &fakeVisual{available: true},
		sessions:  newMemSessionRepo(),
		turns:     newMemTurnRepo(),
	}
	log := logger.Nop()
	f.svc = NewOrchestratorService(
		log, f.sentiment, f.retriever, f.composer, f.voice, f.visual,
		cache.NewArtifactCache(log, 64, time.Minute, nil),
		f.sessions, f.turns, sse.NewSSEHub(log),
	)
	return f
}

func (f *orchestratorFixture) newSession(t *testing.T, userID uuid.UUID) uuid.UUID {
	t.Helper()
	session, err := f.sessions.Create(context.Background(), nil, &types.LearningSession{
		ID:     uuid.New(),
		ChatID: uuid.New(),
		UserID: userID,
	})
	if err != nil {
		t.Fatal(err)
	}
	return session.ID
}

func TestProcessTurnHappyPath(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()
	sessionID := f.newSession(t, userID)

	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    userID,
		SessionID: &sessionID,
		QueryText: "What is friction?",
		Modality:  types.ModalityText,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if turn.ResponseMain == "" || turn.ResponseSimplified == "" || turn.ResponseDetailed == "" {
		t.Fatalf("all tiers must be persisted: %+v", turn)
	}
	if turn.Degraded {
		t.Fatalf("happy path must not be degraded")
	}
	if len(turn.PassageRefs) == 0 {
		t.Fatalf("passage refs missing")
	}
	if !strings.Contains(string(turn.PassageRefs), "doc-1") {
		t.Fatalf("passage refs must cite the retrieved document: %s", turn.PassageRefs)
	}
	if f.retriever.calls != 1 {
		t.Fatalf("retriever calls: %d", f.retriever.calls)
	}
}

func TestProcessTurnRetriesRetrievalOnce(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.retriever.failures = 1

	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		QueryText: "q",
		Modality:  types.ModalityText,
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.retriever.calls != 2 {
		t.Fatalf("expected one retry, calls=%d", f.retriever.calls)
	}
	if len(turn.PassageRefs) == 0 {
		t.Fatalf("retry succeeded, passages must be cited")
	}
}

func TestProcessTurnUngroundedWhenRetrievalDown(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.retriever.failures = 10

	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		QueryText: "q",
		Modality:  types.ModalityText,
	})
	if err != nil {
		t.Fatalf("retrieval outage must not fail the turn: %v", err)
	}
	if f.retriever.calls != 2 {
		t.Fatalf("expected exactly two attempts, got %d", f.retriever.calls)
	}
	if f.composer.lastArgs.passages != nil {
		t.Fatalf("composer must receive no passages on the ungrounded path")
	}
	if turn.Degraded {
		t.Fatalf("ungrounded is not degraded")
	}
	if len(turn.PassageRefs) != 0 {
		t.Fatalf("no citations may be fabricated: %s", turn.PassageRefs)
	}
}

func TestProcessTurnDegradedOnCompositionFailure(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.composer.err = &GenerationError{Stage: "compose", Err: errors.New("model down")}

	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		QueryText: "q",
		Modality:  types.ModalityText,
	})
	if err != nil {
		t.Fatalf("composition failure must resolve to a degraded turn: %v", err)
	}
	if !turn.Degraded {
		t.Fatalf("turn must be marked degraded")
	}
	if turn.ResponseMain != degradedResponse {
		t.Fatalf("degraded turn must carry the fallback text, got %q", turn.ResponseMain)
	}
}

func TestProcessTurnInvalidInputIsFatal(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.sentiment.err = &InvalidSignalError{Channel: "text", Reason: "empty input"}

	_, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		QueryText: "q",
		Modality:  types.ModalityText,
	})
	var sigErr *InvalidSignalError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected InvalidSignalError, got %v", err)
	}
	if len(f.turns.order) != 0 {
		t.Fatalf("no turn must be persisted on fatal input")
	}

	if _, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: uuid.New(), QueryText: "  "}); !errors.As(err, &sigErr) {
		t.Fatalf("empty query: expected InvalidSignalError, got %v", err)
	}
}

func TestProcessTurnClassifierOutageDegradesToNeutral(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.sentiment.err = errors.New("classifier 503")

	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		QueryText: "q",
		Modality:  types.ModalityText,
	})
	if err != nil {
		t.Fatalf("classifier outage must not fail the turn: %v", err)
	}
	if turn.SentimentLabel != types.SentimentNeutral {
		t.Fatalf("expected neutral affect fallback, got %s", turn.SentimentLabel)
	}
}

func TestProcessTurnNegativeAffectSurfacesSimplified(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.sentiment.signal = types.SentimentSignal{Label: types.SentimentNegative, Score: -2}

	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		QueryText: "I still do not get this at all",
		Modality:  types.ModalityText,
	})
	if err != nil {
		t.Fatal(err)
	}
	if turn.DisplayTier != types.TierSimplified {
		t.Fatalf("strong negative affect must surface simplified, got %s", turn.DisplayTier)
	}
}

func TestProcessTurnHistoryExcludesDegraded(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()
	sessionID := f.newSession(t, userID)

	if _, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, SessionID: &sessionID, QueryText: "first question"}); err != nil {
		t.Fatal(err)
	}

	f.composer.err = &GenerationError{Stage: "compose", Err: errors.New("down")}
	if _, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, SessionID: &sessionID, QueryText: "second question"}); err != nil {
		t.Fatal(err)
	}
	f.composer.err = nil

	if _, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, SessionID: &sessionID, QueryText: "third question"}); err != nil {
		t.Fatal(err)
	}

	history := f.composer.lastArgs.history
	if len(history) != 1 {
		t.Fatalf("degraded turns must be excluded from history, got %d entries", len(history))
	}
	if history[0].Query != "first question" {
		t.Fatalf("history: %+v", history)
	}
}

func TestProcessTurnRejectsForeignSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	owner := uuid.New()
	sessionID := f.newSession(t, owner)

	if _, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: owner, SessionID: &sessionID, QueryText: "owner question"}); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.ProcessTurn(context.Background(), TurnInput{
		UserID:    uuid.New(),
		SessionID: &sessionID,
		QueryText: "someone else's question",
	})
	var ownErr *NotOwnedError
	if !errors.As(err, &ownErr) {
		t.Fatalf("expected NotOwnedError, got %v", err)
	}
	if len(f.turns.order) != 1 {
		t.Fatalf("foreign turn must not be persisted into the session, got %d turns", len(f.turns.order))
	}
	if f.composer.lastArgs.history != nil && len(f.composer.lastArgs.history) != 0 {
		t.Fatalf("session history must not reach a foreign caller's prompt: %+v", f.composer.lastArgs.history)
	}
}

func TestProcessTurnRejectsEndedSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()
	sessionID := f.newSession(t, userID)
	if _, err := f.sessions.End(context.Background(), nil, sessionID, userID); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, SessionID: &sessionID, QueryText: "q"})
	var closedErr *SessionClosedError
	if !errors.As(err, &closedErr) {
		t.Fatalf("expected SessionClosedError, got %v", err)
	}
	if len(f.turns.order) != 0 {
		t.Fatalf("no turn may be persisted into an ended session")
	}
}

func TestProcessTurnRejectsUnknownSession(t *testing.T) {
	f := newOrchestratorFixture(t)
	sessionID := uuid.New()

	_, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: uuid.New(), SessionID: &sessionID, QueryText: "q"})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record-not-found, got %v", err)
	}
}

func TestProcessTurnReleasesSessionLock(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()

	for i := 0; i < 5; i++ {
		sessionID := f.newSession(t, userID)
		if _, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, SessionID: &sessionID, QueryText: "q"}); err != nil {
			t.Fatal(err)
		}
	}

	svc := f.svc.(*orchestratorService)
	svc.sessionMu.Lock()
	n := len(svc.sessions)
	svc.sessionMu.Unlock()
	if n != 0 {
		t.Fatalf("session lock entries must be released after the turn, %d left", n)
	}
}

func TestVoiceForTurnSingleSynthesis(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()
	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, QueryText: "q"})
	if err != nil {
		t.Fatal(err)
	}

	f.voice.block = make(chan struct{})
	const workers = 6
	var wg sync.WaitGroup
	arts := make([]types.VoiceArtifact, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arts[i], errs[i] = f.svc.VoiceForTurn(context.Background(), turn.ID, userID)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(f.voice.block)
	wg.Wait()

	if n := atomic.LoadInt32(&f.voice.calls); n != 1 {
		t.Fatalf("concurrent requests must share one synthesis, got %d", n)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if arts[i].AudioURL != arts[0].AudioURL {
			t.Fatalf("workers must observe the same audio reference")
		}
	}

	stored, err := f.turns.GetByID(context.Background(), nil, turn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.VoiceAudioURL == nil || *stored.VoiceAudioURL != arts[0].AudioURL {
		t.Fatalf("audio reference must be attached to the turn")
	}
}

func TestVoiceForTurnFailureNotCached(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()
	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, QueryText: "q"})
	if err != nil {
		t.Fatal(err)
	}

	f.voice.err = &ArtifactUnavailableError{Kind: "voice", Err: errors.New("tts down")}
	if _, err := f.svc.VoiceForTurn(context.Background(), turn.ID, userID); err == nil {
		t.Fatalf("expected failure")
	}

	f.voice.err = nil
	art, err := f.svc.VoiceForTurn(context.Background(), turn.ID, userID)
	if err != nil {
		t.Fatalf("retry after failure must recompute: %v", err)
	}
	if art.AudioURL == "" {
		t.Fatalf("missing audio url")
	}
	if n := atomic.LoadInt32(&f.voice.calls); n != 2 {
		t.Fatalf("calls: %d", n)
	}
}

func TestVoiceForTurnOwnership(t *testing.T) {
	f := newOrchestratorFixture(t)
	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: uuid.New(), QueryText: "q"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.VoiceForTurn(context.Background(), turn.ID, uuid.New())
	var ownErr *NotOwnedError
	if !errors.As(err, &ownErr) {
		t.Fatalf("another user must not fetch the artifact, got %v", err)
	}
}

func TestVisualForTopicStandaloneAndTurnBound(t *testing.T) {
	f := newOrchestratorFixture(t)
	userID := uuid.New()

	art, err := f.svc.VisualForTopic(context.Background(), "parabola", nil, userID)
	if err != nil {
		t.Fatal(err)
	}
	if !art.Available {
		t.Fatalf("visual should be available")
	}

	// Repeat standalone request hits the cache.
	if _, err := f.svc.VisualForTopic(context.Background(), "parabola", nil, userID); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&f.visual.calls); n != 1 {
		t.Fatalf("standalone repeat must be served from cache, calls=%d", n)
	}

	// Turn-bound request has its own fingerprint scope and attaches the
	// artifact to the turn.
	turn, err := f.svc.ProcessTurn(context.Background(), TurnInput{UserID: userID, QueryText: "q"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.VisualForTopic(context.Background(), "parabola", &turn.ID, userID); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&f.visual.calls); n != 2 {
		t.Fatalf("turn-bound scope must compute separately, calls=%d", n)
	}
	stored, err := f.turns.GetByID(context.Background(), nil, turn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.VisualRef) == 0 {
		t.Fatalf("visual must be attached to the turn")
	}
}
