package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

func newTestCache(maxEntries int, ttl time.Duration) *ArtifactCache {
	return NewArtifactCache(logger.Nop(), maxEntries, ttl, nil)
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("  Explain   Newton's\tLaws \n")
	want := "explain newton's laws"
	if got != want {
		t.Fatalf("NormalizeText: got %q, want %q", got, want)
	}
}

func TestFingerprintNormalizationEquivalence(t *testing.T) {
	a := NewFingerprint(KindVoice, "turn-1", "Explain photosynthesis")
	b := NewFingerprint(KindVoice, "turn-1", "  explain   PHOTOSYNTHESIS ")
	if a != b {
		t.Fatalf("expected whitespace/case variants to share a fingerprint: %s vs %s", a, b)
	}
	c := NewFingerprint(KindVisual, "turn-1", "Explain photosynthesis")
	if a == c {
		t.Fatalf("expected kinds to partition the fingerprint space")
	}
	d := NewFingerprint(KindVoice, "turn-2", "Explain photosynthesis")
	if a == d {
		t.Fatalf("expected scope to partition the fingerprint space")
	}
}

func TestGetOrComputeSingleFlight(t *testing.T) {
	c := newTestCache(16, time.Minute)
	fp := NewFingerprint(KindVoice, "turn-1", "explain friction")

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) (types.ArtifactValue, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		url := "https://example.com/audio.mp3"
		return types.ArtifactValue{Voice: &types.VoiceArtifact{AudioURL: url}}, nil
	}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]types.ArtifactValue, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), fp, compute)
		}(i)
	}

	// Let every worker reach the flight before releasing the computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one compute call for concurrent identical requests, got %d", n)
	}
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: unexpected error: %v", i, errs[i])
		}
		if results[i].Voice == nil || results[i].Voice.AudioURL != "https://example.com/audio.mp3" {
			t.Fatalf("worker %d: got %+v", i, results[i])
		}
	}
}

func TestGetOrComputeFailureNotCached(t *testing.T) {
	c := newTestCache(16, time.Minute)
	fp := NewFingerprint(KindQuiz, "session-1", "generate a quiz")

	quizID := uuid.New()
	var calls int32
	compute := func(ctx context.Context) (types.ArtifactValue, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return types.ArtifactValue{}, errors.New("upstream unavailable")
		}
		return types.ArtifactValue{QuizID: &quizID}, nil
	}

	if _, err := c.GetOrCompute(context.Background(), fp, compute); err == nil {
		t.Fatalf("expected first computation to fail")
	}
	if _, ok := c.Peek(fp); ok {
		t.Fatalf("failed computation must not be cached")
	}

	val, err := c.GetOrCompute(context.Background(), fp, compute)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if val.QuizID == nil || *val.QuizID != quizID {
		t.Fatalf("retry result: %+v", val)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected retry to recompute, calls=%d", n)
	}
}

func TestGetOrComputeHitSkipsCompute(t *testing.T) {
	c := newTestCache(16, time.Minute)
	fp := NewFingerprint(KindVisual, "topic:parabola", "parabola")

	var calls int32
	compute := func(ctx context.Context) (types.ArtifactValue, error) {
		atomic.AddInt32(&calls, 1)
		return types.ArtifactValue{Visual: &types.VisualArtifact{Available: true, ImageType: "diagram"}}, nil
	}
	for i := 0; i < 3; i++ {
		if _, err := c.GetOrCompute(context.Background(), fp, compute); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected a single compute across repeated calls, got %d", n)
	}
}

func TestGetOrComputeSurvivesCallerCancellation(t *testing.T) {
	c := newTestCache(16, time.Minute)
	fp := NewFingerprint(KindVoice, "turn-9", "cancelled caller")

	computed := make(chan struct{})
	compute := func(ctx context.Context) (types.ArtifactValue, error) {
		select {
		case <-ctx.Done():
			return types.ArtifactValue{}, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
		close(computed)
		url := "https://example.com/late.mp3"
		return types.ArtifactValue{Voice: &types.VoiceArtifact{AudioURL: url}}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetOrCompute(ctx, fp, compute); err != nil {
		t.Fatalf("computation must run detached from caller cancellation: %v", err)
	}
	select {
	case <-computed:
	default:
		t.Fatalf("compute did not complete")
	}
}

func TestLRUEviction(t *testing.T) {
	c := newTestCache(2, time.Minute)
	fps := make([]Fingerprint, 3)
	for i := range fps {
		fps[i] = NewFingerprint(KindVoice, fmt.Sprintf("turn-%d", i), "text")
		url := fmt.Sprintf("https://example.com/%d.mp3", i)
		if _, err := c.GetOrCompute(context.Background(), fps[i], func(ctx context.Context) (types.ArtifactValue, error) {
			return types.ArtifactValue{Voice: &types.VoiceArtifact{AudioURL: url}}, nil
		}); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
	if c.Len() != 2 {
		t.Fatalf("expected capacity 2, got %d", c.Len())
	}
	if _, ok := c.Peek(fps[0]); ok {
		t.Fatalf("oldest entry should have been evicted")
	}
	if _, ok := c.Peek(fps[2]); !ok {
		t.Fatalf("newest entry missing")
	}
}

func TestTTLExpiry(t *testing.T) {
	c := newTestCache(16, 10*time.Millisecond)
	fp := NewFingerprint(KindVoice, "turn-ttl", "text")
	var calls int32
	compute := func(ctx context.Context) (types.ArtifactValue, error) {
		atomic.AddInt32(&calls, 1)
		return types.ArtifactValue{Voice: &types.VoiceArtifact{AudioURL: "u"}}, nil
	}
	if _, err := c.GetOrCompute(context.Background(), fp, compute); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Peek(fp); ok {
		t.Fatalf("entry should have expired")
	}
	if _, err := c.GetOrCompute(context.Background(), fp, compute); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("expected recompute after expiry, calls=%d", n)
	}
}
