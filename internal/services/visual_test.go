package services

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yungbote/affectlearn-backend/internal/logger"
)

const testCatalog = `
topics:
  - name: photosynthesis
    keywords: [chlorophyll]
    image_url: https://cdn.example.com/photosynthesis.png
    image_type: labeled-diagram
    snippets:
      - text: Photosynthesis converts light into chemical energy.
        document_id: bio-unit-3
        page: 42
`

func newTestVisual(t *testing.T, bucket *fakeBucket) VisualService {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TOPIC_CATALOG_PATH", path)
	v, err := NewVisualService(logger.Nop(), bucket)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestExplainCatalogHit(t *testing.T) {
	v := newTestVisual(t, &fakeBucket{})
	art, err := v.Explain(context.Background(), "  Photosynthesis basics ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !art.Available {
		t.Fatalf("catalog topic must be available")
	}
	if art.ImageURL != "https://cdn.example.com/photosynthesis.png" {
		t.Fatalf("image url: %s", art.ImageURL)
	}
	if len(art.Snippets) != 1 || art.Snippets[0].DocumentID != "bio-unit-3" || art.Snippets[0].Page != 42 {
		t.Fatalf("snippets: %+v", art.Snippets)
	}
}

func TestExplainCatalogKeywordHit(t *testing.T) {
	v := newTestVisual(t, &fakeBucket{})
	art, err := v.Explain(context.Background(), "role of chlorophyll in plants")
	if err != nil {
		t.Fatal(err)
	}
	if !art.Available {
		t.Fatalf("keyword synonym must resolve to the catalog topic")
	}
}

func TestExplainDiagramFallback(t *testing.T) {
	bucket := &fakeBucket{}
	v := newTestVisual(t, bucket)
	art, err := v.Explain(context.Background(), "graphing a parabola")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !art.Available || art.ImageType != "diagram" {
		t.Fatalf("expected rendered diagram, got %+v", art)
	}
	if !strings.HasSuffix(bucket.key, ".png") {
		t.Fatalf("upload key: %s", bucket.key)
	}
	// PNG signature.
	if !bytes.HasPrefix(bucket.data, []byte("\x89PNG")) {
		t.Fatalf("uploaded bytes are not a PNG")
	}
}

func TestExplainUnknownTopicIsNotAvailableNotError(t *testing.T) {
	v := newTestVisual(t, &fakeBucket{})
	art, err := v.Explain(context.Background(), "the french revolution")
	if err != nil {
		t.Fatalf("miss must not be an error: %v", err)
	}
	if art.Available {
		t.Fatalf("unknown topic must report not available")
	}
}

func TestExplainUploadFailure(t *testing.T) {
	v := newTestVisual(t, &fakeBucket{err: errors.New("bucket down")})
	_, err := v.Explain(context.Background(), "quadratic functions")
	var unavailable *ArtifactUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected ArtifactUnavailableError, got %v", err)
	}
}

func TestRenderDiagramDeterministic(t *testing.T) {
	a, err := RenderDiagram(DiagramNeuralNetwork)
	if err != nil {
		t.Fatal(err)
	}
	b, err := RenderDiagram(DiagramNeuralNetwork)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("diagram rendering must be deterministic")
	}
}
