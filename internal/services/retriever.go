package services

import (
	"context"
	"sort"
	"strings"

	"github.com/yungbote/affectlearn-backend/internal/cache"
	"github.com/yungbote/affectlearn-backend/internal/clients/pinecone"
	"github.com/yungbote/affectlearn-backend/internal/logger"
	"github.com/yungbote/affectlearn-backend/internal/types"
	"github.com/yungbote/affectlearn-backend/internal/utils"
)

// RetrieverService finds the curriculum passages grounding one query. Zero
// matches is a normal outcome and returns an empty slice; only index failure
// is an error.
type RetrieverService interface {
	Retrieve(ctx context.Context, queryText string, topK int) ([]types.RetrievedPassage, error)
}

type retrieverService struct {
	log       *logger.Logger
	ai        OpenAIClient
	passages  pinecone.PassageStore
	namespace string
	topK      int
}

func NewRetrieverService(log *logger.Logger, ai OpenAIClient, passages pinecone.PassageStore) RetrieverService {
	return &retrieverService{
		log:       log.With("service", "RetrieverService"),
		ai:        ai,
		passages:  passages,
		namespace: utils.GetEnv("RETRIEVER_NAMESPACE", "curriculum", log),
		topK:      utils.GetEnvAsInt("RETRIEVER_TOP_K", 4, log),
	}
}

func (s *retrieverService) Retrieve(ctx context.Context, queryText string, topK int) ([]types.RetrievedPassage, error) {
	if topK <= 0 {
		topK = s.topK
	}
	normalized := cache.NormalizeText(queryText)
	if normalized == "" {
		return []types.RetrievedPassage{}, nil
	}

	embeddings, err := s.ai.Embed(ctx, []string{normalized})
	if err != nil {
		return nil, &RetrievalUnavailableError{Err: err}
	}

	// Over-fetch so the re-rank has candidates beyond the cut line.
	matches, err := s.passages.QueryPassages(ctx, s.namespace, embeddings[0], topK*3)
	if err != nil {
		return nil, &RetrievalUnavailableError{Err: err}
	}
	if len(matches) == 0 {
		return []types.RetrievedPassage{}, nil
	}

	rerank(matches, normalized)
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// rerank orders by relevance score descending. Near-equal scores fall back to
// document recency, then to lexical overlap with the query.
func rerank(passages []types.RetrievedPassage, normalizedQuery string) {
	queryTerms := termSet(normalizedQuery)
	sort.SliceStable(passages, func(i, j int) bool {
		a, b := passages[i], passages[j]
		if !scoresTied(a.Score, b.Score) {
			return a.Score > b.Score
		}
		if !a.DocumentAt.Equal(b.DocumentAt) {
			return a.DocumentAt.After(b.DocumentAt)
		}
		return lexicalOverlap(a.Text, queryTerms) > lexicalOverlap(b.Text, queryTerms)
	})
}

const scoreTieEpsilon = 1e-4

func scoresTied(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < scoreTieEpsilon
}

func termSet(normalized string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.Fields(normalized) {
		out[w] = struct{}{}
	}
	return out
}

func lexicalOverlap(text string, queryTerms map[string]struct{}) int {
	if len(queryTerms) == 0 {
		return 0
	}
	seen := map[string]struct{}{}
	n := 0
	for _, w := range strings.Fields(cache.NormalizeText(text)) {
		if _, inQuery := queryTerms[w]; !inQuery {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		n++
	}
	return n
}
