package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/clients/gcp"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// VisualService resolves a topic into a diagram or image. Resolution order:
// curated catalog lookup, then deterministic diagram rendering, then the
// well-defined "not available" result. Only infrastructure failures (bucket
// upload) surface as errors.
type VisualService interface {
	Explain(ctx context.Context, topic string) (types.VisualArtifact, error)
}

type topicCatalog struct {
	Topics []catalogTopic `yaml:"topics"`
}

type catalogTopic struct {
	Name      string   `yaml:"name"`
	Keywords  []string `yaml:"keywords"`
	ImageURL  string   `yaml:"image_url"`
	ImageType string   `yaml:"image_type"`
	SVG       string   `yaml:"svg"`
	Snippets  []struct {
		Text       string `yaml:"text"`
		DocumentID string `yaml:"document_id"`
		Page       int    `yaml:"page"`
	} `yaml:"snippets"`
}

type visualService struct {
	log     *logger.Logger
	bucket  gcp.BucketService
	catalog topicCatalog
}

func NewVisualService(log *logger.Logger, bucket gcp.BucketService) (VisualService, error) {
	serviceLog := log.With("service", "VisualService")

	catalogPath := utils.GetEnv("TOPIC_CATALOG_PATH", "config/topic_catalog.yaml", log)
	var catalog topicCatalog
	raw, err := os.ReadFile(catalogPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read topic catalog: %w", err)
		}
		serviceLog.Warn("Topic catalog not found; catalog lookups disabled", "path", catalogPath)
	} else if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse topic catalog: %w", err)
	}

	return &visualService{
		log:     serviceLog,
		bucket:  bucket,
		catalog: catalog,
	}, nil
}

func (s *visualService) Explain(ctx context.Context, topic string) (types.VisualArtifact, error) {
	normalized := cache.NormalizeText(topic)
	if normalized == "" {
		return types.VisualArtifact{Available: false}, nil
	}

	if art, ok := s.lookupCatalog(normalized); ok {
		return art, nil
	}

	if kind, ok := diagramKindFor(normalized); ok {
		return s.renderAndUpload(ctx, normalized, kind)
	}

	s.log.Info("No visual available for topic", "topic", normalized)
	return types.VisualArtifact{Available: false}, nil
}

func (s *visualService) lookupCatalog(normalized string) (types.VisualArtifact, bool) {
	for _, t := range s.catalog.Topics {
		if !topicMatches(normalized, t) {
			continue
		}
		art := types.VisualArtifact{
			Available: true,
			ImageURL:  t.ImageURL,
			ImageType: t.ImageType,
			SVG:       t.SVG,
		}
		if art.ImageType == "" {
			art.ImageType = "image"
		}
		for _, sn := range t.Snippets {
			art.Snippets = append(art.Snippets, types.ExplanationSnippet{
				Text:       sn.Text,
				DocumentID: sn.DocumentID,
				Page:       sn.Page,
			})
		}
		return art, true
	}
	return types.VisualArtifact{}, false
}

func topicMatches(normalized string, t catalogTopic) bool {
	if name := cache.NormalizeText(t.Name); name != "" && strings.Contains(normalized, name) {
		return true
	}
	for _, kw := range t.Keywords {
		if kw = cache.NormalizeText(kw); kw != "" && strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

func (s *visualService) renderAndUpload(ctx context.Context, normalized string, kind DiagramKind) (types.VisualArtifact, error) {
	png, err := RenderDiagram(kind)
	if err != nil {
		return types.VisualArtifact{}, &ArtifactUnavailableError{Kind: "visual", Err: err}
	}
	key := string(cache.NewFingerprint(cache.KindVisual, "diagram", normalized)) + ".png"
	url, err := s.bucket.UploadBytes(ctx, gcp.BucketCategoryVisual, key, png)
	if err != nil {
		return types.VisualArtifact{}, &ArtifactUnavailableError{Kind: "visual", Err: err}
	}
	return types.VisualArtifact{
		Available: true,
		ImageURL:  url,
		ImageType: "diagram",
		Snippets: []types.ExplanationSnippet{
			{Text: diagramCaption(kind)},
		},
	}, nil
}

func diagramCaption(kind DiagramKind) string {
	switch kind {
	case DiagramParabola:
		return "A parabola is the graph of a quadratic function; the vertex is its minimum or maximum point."
	case DiagramNeuralNetwork:
		return "A feed-forward neural network passes inputs through weighted connections across hidden layers to the output layer."
	default:
		return ""
	}
}
