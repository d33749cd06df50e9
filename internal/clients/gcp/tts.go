package gcp

import (
	"context"
	"fmt"
	"time"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	ttspb "cloud.google.com/go/texttospeech/apiv1/texttospeechpb"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

type TextToSpeech interface {
	Synthesize(ctx context.Context, text string, languageCode string) (*SynthesisResult, error)
	Close() error
}

type SynthesisResult struct {
	Audio        []byte `json:"-"`
	VoiceName    string `json:"voice_name"`
	LanguageCode string `json:"language_code"`
}

type ttsService struct {
	log       *logger.Logger
	client    *texttospeech.Client
	voiceName string
	speakRate float64
}

func NewTextToSpeech(log *logger.Logger) (TextToSpeech, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := texttospeech.NewClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("texttospeech client: %w", err)
	}
	return &ttsService{
		log:       log.With("service", "gcp.TextToSpeech"),
		client:    c,
		voiceName: utils.GetEnv("TTS_VOICE_NAME", "en-US-Neural2-F", log),
		speakRate: utils.GetEnvAsFloat("TTS_SPEAKING_RATE", 1.0, log),
	}, nil
}

func (s *ttsService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *ttsService) Synthesize(ctx context.Context, text string, languageCode string) (*SynthesisResult, error) {
	if text == "" {
		return nil, fmt.Errorf("empty synthesis input")
	}
	if languageCode == "" {
		languageCode = "en-US"
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	resp, err := s.client.SynthesizeSpeech(ctx, &ttspb.SynthesizeSpeechRequest{
		Input: &ttspb.SynthesisInput{
			InputSource: &ttspb.SynthesisInput_Text{Text: text},
		},
		Voice: &ttspb.VoiceSelectionParams{
			LanguageCode: languageCode,
			Name:         s.voiceName,
		},
		AudioConfig: &ttspb.AudioConfig{
			AudioEncoding: ttspb.AudioEncoding_MP3,
			SpeakingRate:  s.speakRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("texttospeech synthesize: %w", err)
	}
	if len(resp.AudioContent) == 0 {
		return nil, fmt.Errorf("texttospeech returned empty audio")
	}
	return &SynthesisResult{
		Audio:        resp.AudioContent,
		VoiceName:    s.voiceName,
		LanguageCode: languageCode,
	}, nil
}
