package gcp

import (
	"context"
	"fmt"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/affectlearn-backend/internal/logger"
)

// Vision reads facial affect from an opt-in webcam frame. Only likelihood
// scores leave this package; the frame bytes are never persisted.
type Vision interface {
	DetectFacialStress(ctx context.Context, img []byte) (*FacialStressResult, error)
	Close() error
}

type FacialStressResult struct {
	FaceFound bool `json:"face_found"`
	// StressScore is 0..100, derived from sorrow/anger likelihoods against
	// joy likelihood.
	StressScore float64 `json:"stress_score"`
	Joy         float64 `json:"joy"`
	Sorrow      float64 `json:"sorrow"`
	Anger       float64 `json:"anger"`
	Surprise    float64 `json:"surprise"`
}

type visionService struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVision(log *logger.Logger) (Vision, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionService{
		log:    log.With("service", "gcp.Vision"),
		client: c,
	}, nil
}

func (s *visionService) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *visionService) DetectFacialStress(ctx context.Context, img []byte) (*FacialStressResult, error) {
	if len(img) == 0 {
		return &FacialStressResult{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_FACE_DETECTION, MaxResults: 1},
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision face detection: %w", err)
	}
	if len(resp.Responses) == 0 {
		return &FacialStressResult{}, nil
	}
	if e := resp.Responses[0].Error; e != nil {
		return nil, fmt.Errorf("vision face detection: %s", e.Message)
	}

	faces := resp.Responses[0].FaceAnnotations
	if len(faces) == 0 {
		return &FacialStressResult{}, nil
	}
	face := faces[0]

	out := &FacialStressResult{
		FaceFound: true,
		Joy:       likelihoodScore(face.JoyLikelihood),
		Sorrow:    likelihoodScore(face.SorrowLikelihood),
		Anger:     likelihoodScore(face.AngerLikelihood),
		Surprise:  likelihoodScore(face.SurpriseLikelihood),
	}

	// Negative affect pushes the score up, visible joy pulls it down.
	raw := 50 + 40*max2(out.Sorrow, out.Anger) - 50*out.Joy
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	out.StressScore = raw
	return out, nil
}

func likelihoodScore(l visionpb.Likelihood) float64 {
	switch l {
	case visionpb.Likelihood_VERY_LIKELY:
		return 1.0
	case visionpb.Likelihood_LIKELY:
		return 0.75
	case visionpb.Likelihood_POSSIBLE:
		return 0.5
	case visionpb.Likelihood_UNLIKELY:
		return 0.25
	default:
		return 0
	}
}

func max2(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
