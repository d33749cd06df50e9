package pinecone

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// PassageStore is the vector index holding course material chunks. Passage
// text and provenance travel in vector metadata so a query round-trip needs
// no second lookup.
type PassageStore interface {
	UpsertPassages(ctx context.Context, namespace string, passages []IndexedPassage) error
	QueryPassages(ctx context.Context, namespace string, embedding []float32, topK int) ([]types.RetrievedPassage, error)
}

// IndexedPassage is one chunk of course material plus its embedding.
type IndexedPassage struct {
	ID         string
	Embedding  []float32
	Text       string
	DocumentID string
	DocumentAt time.Time
	Page       int
}

type passageStore struct {
	log       *logger.Logger
	pc        Client
	indexName string
	indexHost string
	nsPrefix  string
}

func NewPassageStore(log *logger.Logger, pc Client) (PassageStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := utils.GetEnv("PINECONE_INDEX_NAME", "", log)
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}
	host := utils.GetEnv("PINECONE_INDEX_HOST", "", log)
	nsPrefix := utils.GetEnv("PINECONE_NAMESPACE_PREFIX", "al", log)

	// If host missing, bootstrap via describe_index (fine for local/dev; avoid in prod).
	if host == "" {
		desc, err := pc.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index (avoid this in production)",
			"index_name", indexName,
			"index_host", host,
		)
	}

	return &passageStore{
		log:       log.With("service", "PineconePassageStore"),
		pc:        pc,
		indexName: indexName,
		indexHost: host,
		nsPrefix:  nsPrefix,
	}, nil
}

func (s *passageStore) UpsertPassages(ctx context.Context, namespace string, passages []IndexedPassage) error {
	if len(passages) == 0 {
		return nil
	}
	vectors := make([]Vector, 0, len(passages))
	for _, p := range passages {
		vectors = append(vectors, Vector{
			ID:     p.ID,
			Values: p.Embedding,
			Metadata: map[string]any{
				"text":        p.Text,
				"document_id": p.DocumentID,
				"document_at": p.DocumentAt.UTC().Format(time.RFC3339),
				"page":        p.Page,
			},
		})
	}
	_, err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
		Namespace: s.qualifyNamespace(namespace),
		Vectors:   vectors,
	})
	return err
}

func (s *passageStore) QueryPassages(ctx context.Context, namespace string, embedding []float32, topK int) ([]types.RetrievedPassage, error) {
	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace:       s.qualifyNamespace(namespace),
		Vector:          embedding,
		TopK:            topK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.RetrievedPassage, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		p := types.RetrievedPassage{Score: m.Score}
		if text, ok := m.Metadata["text"].(string); ok {
			p.Text = text
		}
		if docID, ok := m.Metadata["document_id"].(string); ok {
			p.DocumentID = docID
		}
		if raw, ok := m.Metadata["document_at"].(string); ok {
			if at, err := time.Parse(time.RFC3339, raw); err == nil {
				p.DocumentAt = at
			}
		}
		// Pinecone metadata numbers decode as float64.
		if page, ok := m.Metadata["page"].(float64); ok {
			p.Page = int(page)
		}
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *passageStore) qualifyNamespace(namespace string) string {
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return s.nsPrefix
	}
	if s.nsPrefix == "" {
		return namespace
	}
	return s.nsPrefix + ":" + namespace
}
