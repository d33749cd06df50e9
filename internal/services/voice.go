package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/yungbote/affectlearn-backend/internal/clients/gcp"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

// maxSynthesisBytes bounds one synthesis request; longer explanations are cut
// at the last sentence boundary that fits.
const maxSynthesisBytes = 4800

// secondsPerChar drives the estimated timing map when the engine returns no
// alignment.
const secondsPerChar = 0.08

// VoiceService narrates an explanation and returns the audio reference plus a
// sentence timing map.
type VoiceService interface {
	Synthesize(ctx context.Context, key string, text string, languageCode string) (types.VoiceArtifact, error)
}

type voiceService struct {
	log    *logger.Logger
	tts    gcp.TextToSpeech
	bucket gcp.BucketService
}

func NewVoiceService(log *logger.Logger, tts gcp.TextToSpeech, bucket gcp.BucketService) VoiceService {
	return &voiceService{
		log:    log.With("service", "VoiceService"),
		tts:    tts,
		bucket: bucket,
	}
}

func (s *voiceService) Synthesize(ctx context.Context, key string, text string, languageCode string) (types.VoiceArtifact, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.VoiceArtifact{}, &ArtifactUnavailableError{Kind: "voice", Err: fmt.Errorf("empty synthesis input")}
	}
	text = TruncateAtSentence(text, maxSynthesisBytes)

	result, err := s.tts.Synthesize(ctx, text, languageCode)
	if err != nil {
		return types.VoiceArtifact{}, &ArtifactUnavailableError{Kind: "voice", Err: err}
	}

	url, err := s.bucket.UploadBytes(ctx, gcp.BucketCategoryAudio, key+".mp3", result.Audio)
	if err != nil {
		return types.VoiceArtifact{}, &ArtifactUnavailableError{Kind: "voice", Err: err}
	}

	return types.VoiceArtifact{
		AudioURL:     url,
		Timings:      EstimateTimings(text),
		Estimated:    true,
		VoiceName:    result.VoiceName,
		LanguageCode: result.LanguageCode,
	}, nil
}

// TruncateAtSentence cuts text to at most maxBytes, preferring the last
// sentence boundary that fits and never splitting a rune.
func TruncateAtSentence(text string, maxBytes int) string {
	if len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	truncated := text[:cut]
	if i := lastSentenceEnd(truncated); i > 0 {
		truncated = truncated[:i]
	}
	return strings.TrimSpace(truncated)
}

func lastSentenceEnd(s string) int {
	best := -1
	for _, mark := range []string{". ", "! ", "? ", ".\n", "!\n", "?\n"} {
		if i := strings.LastIndex(s, mark); i >= 0 && i+1 > best {
			best = i + 1
		}
	}
	if best < 0 {
		// Sentence-final punctuation at the very end still counts.
		if n := len(s); n > 0 && strings.ContainsAny(s[n-1:], ".!?") {
			return n
		}
		return -1
	}
	return best
}

// SplitSentences breaks narration text into sentence units for the timing
// map.
func SplitSentences(text string) []string {
	var out []string
	var buf strings.Builder
	for _, r := range text {
		buf.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(buf.String()); s != "" {
				out = append(out, s)
			}
			buf.Reset()
		}
	}
	if s := strings.TrimSpace(buf.String()); s != "" {
		out = append(out, s)
	}
	return out
}

// EstimateTimings builds a character-proportional timing map. Entries are
// monotonic and non-overlapping: each entry starts where the previous one
// ended.
func EstimateTimings(text string) []types.TimingEntry {
	sentences := SplitSentences(text)
	out := make([]types.TimingEntry, 0, len(sentences))
	cursor := 0.0
	for _, sentence := range sentences {
		dur := float64(utf8.RuneCountInString(sentence)) * secondsPerChar
		out = append(out, types.TimingEntry{
			Start: cursor,
			End:   cursor + dur,
			Text:  sentence,
		})
		cursor += dur
	}
	return out
}
