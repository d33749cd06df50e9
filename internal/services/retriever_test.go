package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yungbote/affectlearn-backend/internal/clients/pinecone"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

func (f *fakeEmbedder) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	return nil, errors.New("not implemented")
}

type fakePassageStore struct {
	passages []types.RetrievedPassage
	err      error
}

func (f *fakePassageStore) UpsertPassages(ctx context.Context, namespace string, passages []pinecone.IndexedPassage) error {
	return nil
}

func (f *fakePassageStore) QueryPassages(ctx context.Context, namespace string, embedding []float32, topK int) ([]types.RetrievedPassage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

func newTestRetriever(store *fakePassageStore, embedErr error) RetrieverService {
	return NewRetrieverService(logger.Nop(), &fakeEmbedder{err: embedErr}, store)
}

func TestRetrieveEmptyIndexIsNotAnError(t *testing.T) {
	r := newTestRetriever(&fakePassageStore{}, nil)
	got, err := r.Retrieve(context.Background(), "what is friction", 4)
	if err != nil {
		t.Fatalf("empty result must not fail: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty slice, got %d", len(got))
	}
}

func TestRetrieveIndexFailure(t *testing.T) {
	r := newTestRetriever(&fakePassageStore{err: errors.New("index down")}, nil)
	_, err := r.Retrieve(context.Background(), "what is friction", 4)
	var unavailable *RetrievalUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RetrievalUnavailableError, got %v", err)
	}
}

func TestRetrieveEmbedFailure(t *testing.T) {
	r := newTestRetriever(&fakePassageStore{}, errors.New("embeddings down"))
	_, err := r.Retrieve(context.Background(), "what is friction", 4)
	var unavailable *RetrievalUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected RetrievalUnavailableError, got %v", err)
	}
}

func TestRetrieveTruncatesToTopK(t *testing.T) {
	store := &fakePassageStore{}
	for i := 0; i < 10; i++ {
		store.passages = append(store.passages, types.RetrievedPassage{
			Text:  "passage",
			Score: float64(10 - i),
		})
	}
	r := newTestRetriever(store, nil)
	got, err := r.Retrieve(context.Background(), "query", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 passages, got %d", len(got))
	}
	if got[0].Score != 10 {
		t.Fatalf("expected highest score first, got %v", got[0].Score)
	}
}

func TestRerankTieBreaks(t *testing.T) {
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	passages := []types.RetrievedPassage{
		{Text: "unrelated content entirely", DocumentID: "a", DocumentAt: older, Score: 0.9},
		{Text: "friction opposes relative motion", DocumentID: "b", DocumentAt: newer, Score: 0.9},
	}
	rerank(passages, "what is friction")
	if passages[0].DocumentID != "b" {
		t.Fatalf("tied scores must prefer the more recent document, got %s first", passages[0].DocumentID)
	}

	// Same recency: lexical overlap with the query decides.
	passages = []types.RetrievedPassage{
		{Text: "unrelated content entirely", DocumentID: "a", DocumentAt: older, Score: 0.9},
		{Text: "friction is a force", DocumentID: "b", DocumentAt: older, Score: 0.9},
	}
	rerank(passages, "what is friction")
	if passages[0].DocumentID != "b" {
		t.Fatalf("tied scores and recency must prefer lexical overlap, got %s first", passages[0].DocumentID)
	}

	// Clear score difference always wins over recency.
	passages = []types.RetrievedPassage{
		{Text: "friction", DocumentID: "a", DocumentAt: newer, Score: 0.5},
		{Text: "friction", DocumentID: "b", DocumentAt: older, Score: 0.8},
	}
	rerank(passages, "friction")
	if passages[0].DocumentID != "b" {
		t.Fatalf("score must dominate recency, got %s first", passages[0].DocumentID)
	}
}
