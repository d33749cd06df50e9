package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/repos"
	"github.com/yungbote/affectlearn-backend/internal/sse"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// TurnState is the per-turn pipeline position. Transitions are strictly
// sequential; no stage may be skipped.
type TurnState string

const (
	StateReceived       TurnState = "received"
	StateAffectComputed TurnState = "affect_computed"
	StateRetrieved      TurnState = "retrieved"
	StateComposed       TurnState = "composed"
	StatePersisted      TurnState = "persisted"
	StateFailed         TurnState = "failed"
)

// TurnInput is one inbound learner turn before processing.
type TurnInput struct {
	UserID    uuid.UUID
	SessionID *uuid.UUID
	QueryText string
	Modality  types.Modality
	// Transcript is set for voice turns; it doubles as the query text.
	Transcript string
	Language   string
	// SpeechSentiment is a pre-computed reading from the voice channel.
	SpeechSentiment *types.SentimentSignal
	// VisualStress is the optional webcam stress reading, 0..100.
	VisualStress *float64
}

type OrchestratorService interface {
	ProcessTurn(ctx context.Context, in TurnInput) (*types.Turn, error)
	VoiceForTurn(ctx context.Context, turnID uuid.UUID, userID uuid.UUID) (types.VoiceArtifact, error)
	VisualForTopic(ctx context.Context, topic string, turnID *uuid.UUID, userID uuid.UUID) (types.VisualArtifact, error)
}

type orchestratorService struct {
	log       *logger.Logger
	sentiment SentimentService
	retriever RetrieverService
	composer  ComposerService
	voice     VoiceService
	visual    VisualService
	artifacts   *cache.ArtifactCache
	sessionRepo repos.SessionRepo
	turnRepo    repos.TurnRepo
	hub         *sse.SSEHub

	pipelineTimeout  time.Duration
	affectTimeout    time.Duration
	retrievalTimeout time.Duration
	composeTimeout   time.Duration

	// Serializes turns within one session so history stays coherent.
	// Sessions are independent; standalone turns never serialize.
	// Entries are refcounted and dropped once the last holder releases.
	sessionMu sync.Mutex
	sessions  map[uuid.UUID]*sessionEntry
}

type sessionEntry struct {
	mu   sync.Mutex
	refs int
}

func NewOrchestratorService(
	log *logger.Logger,
	sentiment SentimentService,
	retriever RetrieverService,
	composer ComposerService,
	voice VoiceService,
	visual VisualService,
	artifacts *cache.ArtifactCache,
	sessionRepo repos.SessionRepo,
	turnRepo repos.TurnRepo,
	hub *sse.SSEHub,
) OrchestratorService {
	return &orchestratorService{
		log:              log.With("service", "OrchestratorService"),
		sentiment:        sentiment,
		retriever:        retriever,
		composer:         composer,
		voice:            voice,
		visual:           visual,
		artifacts:        artifacts,
		sessionRepo:      sessionRepo,
		turnRepo:         turnRepo,
		hub:              hub,
		pipelineTimeout:  time.Duration(utils.GetEnvAsInt("PIPELINE_TIMEOUT_SECONDS", 45, log)) * time.Second,
		affectTimeout:    10 * time.Second,
		retrievalTimeout: 10 * time.Second,
		composeTimeout:   30 * time.Second,
		sessions:         make(map[uuid.UUID]*sessionEntry),
	}
}

// lockSession acquires the per-session mutex and returns its release func.
func (s *orchestratorService) lockSession(sessionID uuid.UUID) func() {
	s.sessionMu.Lock()
	entry, ok := s.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{}
		s.sessions[sessionID] = entry
	}
	entry.refs++
	s.sessionMu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		s.sessionMu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.sessions, sessionID)
		}
		s.sessionMu.Unlock()
	}
}

// checkSession enforces that a session-bound turn targets a live session
// owned by the caller.
func (s *orchestratorService) checkSession(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := s.sessionRepo.GetByID(ctx, nil, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return &NotOwnedError{Resource: "session", ID: sessionID}
	}
	if session.EndedAt != nil {
		return &SessionClosedError{SessionID: sessionID}
	}
	return nil
}

const degradedResponse = "I couldn't put together a full answer just now. Could you try asking again in a moment, or rephrase the question?"

// ProcessTurn drives one turn through the pipeline:
// Received -> AffectComputed -> Retrieved -> Composed -> Persisted.
// Any stage failure lands in Failed and produces the degraded response
// instead of leaving the turn unresolved.
func (s *orchestratorService) ProcessTurn(ctx context.Context, in TurnInput) (*types.Turn, error) {
	if in.SessionID != nil {
		if err := s.checkSession(ctx, *in.SessionID, in.UserID); err != nil {
			return nil, err
		}
		unlock := s.lockSession(*in.SessionID)
		defer unlock()
	}

	ctx, cancel := context.WithTimeout(ctx, s.pipelineTimeout)
	defer cancel()

	queryText := strings.TrimSpace(in.QueryText)
	if in.Modality == types.ModalityVoice && queryText == "" {
		queryText = strings.TrimSpace(in.Transcript)
	}
	if queryText == "" {
		return nil, &InvalidSignalError{Channel: "text", Reason: "empty query"}
	}
	if !in.Modality.Valid() {
		in.Modality = types.ModalityText
	}
	if in.Language == "" {
		in.Language = "en"
	}

	state := StateReceived
	log := s.log.With("user_id", in.UserID, "modality", in.Modality)

	// Received -> AffectComputed
	affect, err := s.computeAffect(ctx, queryText, in)
	if err != nil {
		// Malformed input is fatal to the turn, not degradable.
		var sigErr *InvalidSignalError
		if errors.As(err, &sigErr) {
			return nil, err
		}
		log.Warn("Affect stage failed; continuing neutral", "state", state, "error", err.Error())
		affect = types.AffectState{Label: types.SentimentNeutral, Channels: []types.AffectChannel{types.ChannelText}}
	}
	state = StateAffectComputed

	// AffectComputed -> Retrieved. One retry with backoff, then the
	// ungrounded path.
	passages, err := s.retrieveWithRetry(ctx, queryText)
	if err != nil {
		log.Warn("Retrieval unavailable; composing ungrounded", "error", err.Error())
		passages = nil
	}
	state = StateRetrieved

	// Retrieved -> Composed
	history, err := s.loadHistory(ctx, in.SessionID)
	if err != nil {
		log.Warn("History load failed; composing without history", "error", err.Error())
		history = nil
	}

	composeCtx, composeCancel := context.WithTimeout(ctx, s.composeTimeout)
	resp, err := s.composer.Compose(composeCtx, queryText, affect, passages, history)
	composeCancel()

	degraded := false
	if err != nil {
		log.Error("Composition failed; returning degraded response", "state", StateFailed, "error", err.Error())
		degraded = true
		resp = TieredResponse{
			Main:        degradedResponse,
			Simplified:  degradedResponse,
			Detailed:    degradedResponse,
			DisplayTier: types.TierMain,
		}
		passages = nil
	}
	state = StateComposed

	// Composed -> Persisted
	turn, err := s.persistTurn(ctx, in, queryText, affect, passages, resp, degraded)
	if err != nil {
		return nil, fmt.Errorf("persist turn: %w", err)
	}
	state = StatePersisted
	log.Info("Turn processed", "turn_id", turn.ID, "state", state, "degraded", degraded, "display_tier", turn.DisplayTier)

	if in.SessionID != nil {
		s.hub.Broadcast(sse.SSEMessage{
			Channel: sse.SessionChannel(*in.SessionID),
			Event:   sse.SSEEventTurnAnswered,
			Data:    map[string]any{"turn_id": turn.ID, "degraded": degraded},
		})
	}
	return turn, nil
}

func (s *orchestratorService) computeAffect(ctx context.Context, queryText string, in TurnInput) (types.AffectState, error) {
	ctx, cancel := context.WithTimeout(ctx, s.affectTimeout)
	defer cancel()

	textSignal, err := s.sentiment.Classify(ctx, queryText)
	if err != nil {
		return types.AffectState{}, err
	}
	return Fuse(FusionInput{
		TextSentiment:   &textSignal,
		SpeechSentiment: in.SpeechSentiment,
		VisualStress:    in.VisualStress,
	})
}

func (s *orchestratorService) retrieveWithRetry(ctx context.Context, queryText string) ([]types.RetrievedPassage, error) {
	attempt := func() ([]types.RetrievedPassage, error) {
		rctx, cancel := context.WithTimeout(ctx, s.retrievalTimeout)
		defer cancel()
		return s.retriever.Retrieve(rctx, queryText, 0)
	}

	passages, err := attempt()
	if err == nil {
		return passages, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}
	return attempt()
}

func (s *orchestratorService) loadHistory(ctx context.Context, sessionID *uuid.UUID) ([]HistoryTurn, error) {
	if sessionID == nil {
		return nil, nil
	}
	turns, err := s.turnRepo.ListBySession(ctx, nil, *sessionID)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryTurn, 0, len(turns))
	for _, t := range turns {
		if t.Degraded {
			continue
		}
		out = append(out, HistoryTurn{Query: t.QueryText, Response: t.ResponseMain})
	}
	return out, nil
}

func (s *orchestratorService) persistTurn(ctx context.Context, in TurnInput, queryText string, affect types.AffectState, passages []types.RetrievedPassage, resp TieredResponse, degraded bool) (*types.Turn, error) {
	turn := &types.Turn{
		ID:                 uuid.New(),
		SessionID:          in.SessionID,
		UserID:             in.UserID,
		QueryText:          queryText,
		Modality:           in.Modality,
		Transcript:         in.Transcript,
		Language:           in.Language,
		SentimentLabel:     affect.Label,
		SentimentScore:     affect.Score,
		StressScore:        affect.StressScore,
		ResponseMain:       resp.Main,
		ResponseSimplified: resp.Simplified,
		ResponseDetailed:   resp.Detailed,
		DisplayTier:        resp.DisplayTier,
		Degraded:           degraded,
	}

	if in.SessionID != nil {
		count, err := s.turnRepo.CountBySession(ctx, nil, *in.SessionID)
		if err == nil {
			turn.TurnIndex = int(count)
		}
	}

	if len(passages) > 0 {
		refs := make([]types.PassageRef, 0, len(passages))
		for _, p := range passages {
			refs = append(refs, p.Ref())
		}
		raw, err := json.Marshal(refs)
		if err != nil {
			return nil, err
		}
		turn.PassageRefs = datatypes.JSON(raw)
	}

	return s.turnRepo.Create(ctx, nil, turn)
}

// VoiceForTurn generates (or re-serves) the narration for an answered turn.
// Narration always comes from the detailed tier. Generation is keyed by the
// turn fingerprint: concurrent callers share one synthesis.
func (s *orchestratorService) VoiceForTurn(ctx context.Context, turnID uuid.UUID, userID uuid.UUID) (types.VoiceArtifact, error) {
	turn, err := s.turnRepo.GetByID(ctx, nil, turnID)
	if err != nil {
		return types.VoiceArtifact{}, err
	}
	if turn.UserID != userID {
		return types.VoiceArtifact{}, &NotOwnedError{Resource: "turn", ID: turnID}
	}
	if strings.TrimSpace(turn.ResponseDetailed) == "" {
		return types.VoiceArtifact{}, &ArtifactUnavailableError{Kind: "voice", Err: fmt.Errorf("turn has no detailed response")}
	}

	fp := cache.NewFingerprint(cache.KindVoice, turnID.String(), turn.ResponseDetailed)
	val, err := s.artifacts.GetOrCompute(ctx, fp, func(cctx context.Context) (types.ArtifactValue, error) {
		art, err := s.voice.Synthesize(cctx, turnID.String(), turn.ResponseDetailed, languageCodeFor(turn.Language))
		if err != nil {
			return types.ArtifactValue{}, err
		}

		timings, merr := json.Marshal(art.Timings)
		if merr != nil {
			return types.ArtifactValue{}, merr
		}
		if aerr := s.turnRepo.AttachVoice(cctx, nil, turnID, art.AudioURL, datatypes.JSON(timings)); aerr != nil {
			s.log.Warn("Voice generated but not attached to turn", "turn_id", turnID, "error", aerr.Error())
		}
		s.notifyArtifact(turn, sse.SSEEventVoiceReady, map[string]any{"turn_id": turnID, "audio_url": art.AudioURL})
		return types.ArtifactValue{Voice: &art}, nil
	})
	if err != nil {
		return types.VoiceArtifact{}, err
	}
	if val.Voice == nil {
		return types.VoiceArtifact{}, &ArtifactUnavailableError{Kind: "voice", Err: fmt.Errorf("cache entry holds no voice artifact")}
	}
	return *val.Voice, nil
}

// VisualForTopic resolves a visual for a topic, bound to a turn when one is
// given. Turn-bound and standalone requests share the same pipeline; only the
// fingerprint scope differs.
func (s *orchestratorService) VisualForTopic(ctx context.Context, topic string, turnID *uuid.UUID, userID uuid.UUID) (types.VisualArtifact, error) {
	scope := "topic"
	var turn *types.Turn
	if turnID != nil {
		var err error
		turn, err = s.turnRepo.GetByID(ctx, nil, *turnID)
		if err != nil {
			return types.VisualArtifact{}, err
		}
		if turn.UserID != userID {
			return types.VisualArtifact{}, &NotOwnedError{Resource: "turn", ID: *turnID}
		}
		scope = turnID.String()
	}

	fp := cache.NewFingerprint(cache.KindVisual, scope, topic)
	val, err := s.artifacts.GetOrCompute(ctx, fp, func(cctx context.Context) (types.ArtifactValue, error) {
		art, err := s.visual.Explain(cctx, topic)
		if err != nil {
			return types.ArtifactValue{}, err
		}
		if turn != nil && art.Available {
			raw, merr := json.Marshal(art)
			if merr != nil {
				return types.ArtifactValue{}, merr
			}
			if aerr := s.turnRepo.AttachVisual(cctx, nil, turn.ID, datatypes.JSON(raw)); aerr != nil {
				s.log.Warn("Visual generated but not attached to turn", "turn_id", turn.ID, "error", aerr.Error())
			}
			s.notifyArtifact(turn, sse.SSEEventVisualReady, map[string]any{"turn_id": turn.ID, "image_url": art.ImageURL})
		}
		return types.ArtifactValue{Visual: &art}, nil
	})
	if err != nil {
		return types.VisualArtifact{}, err
	}
	if val.Visual == nil {
		return types.VisualArtifact{}, &ArtifactUnavailableError{Kind: "visual", Err: fmt.Errorf("cache entry holds no visual artifact")}
	}
	return *val.Visual, nil
}

func (s *orchestratorService) notifyArtifact(turn *types.Turn, event sse.SSEEvent, data map[string]any) {
	if turn == nil || turn.SessionID == nil {
		return
	}
	s.hub.Broadcast(sse.SSEMessage{
		Channel: sse.SessionChannel(*turn.SessionID),
		Event:   event,
		Data:    data,
	})
}

func languageCodeFor(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "en", "en-us":
		return "en-US"
	case "es":
		return "es-ES"
	case "fr":
		return "fr-FR"
	case "de":
		return "de-DE"
	case "hi":
		return "hi-IN"
	default:
		return lang
	}
}
