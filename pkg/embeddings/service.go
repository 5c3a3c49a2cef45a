package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Match pairs a candidate id with its similarity to a query vector.
type Match struct {
	ID    string
	Score float64
}

// Candidate is an (id, vector) pair offered to FindSimilar.
type Candidate struct {
	ID        string
	Embedding []float32
}

// Service wraps a pluggable Embedder with a content-keyed cache and the
// similarity math used by skill search. A nil underlying Embedder is
// allowed; embedding calls then return nil vectors and callers degrade to
// text search.
type Service struct {
	embedder Embedder
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewService creates an embedding service around the given embedder.
func NewService(embedder Embedder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		embedder: embedder,
		logger:   logger,
		cache:    make(map[string][]float32),
	}
}

// Enabled reports whether a concrete embedder is configured.
func (s *Service) Enabled() bool {
	return s != nil && s.embedder != nil
}

// SkillEmbedding produces (and caches) the embedding for a skill's
// searchable text: name, description, and optional summary joined.
func (s *Service) SkillEmbedding(ctx context.Context, name, description, summary string) ([]float32, error) {
	parts := []string{name, description}
	if summary != "" {
		parts = append(parts, summary)
	}
	text := strings.Join(parts, "\n")

	key := contentKey(text)
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	vec, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = vec
	s.mu.Unlock()
	return vec, nil
}

// QueryEmbedding produces the embedding for a search query. Queries are not
// cached; they rarely repeat.
func (s *Service) QueryEmbedding(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text)
}

// InvalidateCache drops all cached skill embeddings.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	s.cache = make(map[string][]float32)
	s.mu.Unlock()
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if !s.Enabled() {
		return nil, nil
	}
	return s.embedder.Embed(ctx, text)
}

// CosineSimilarity computes cosine similarity between two vectors. It
// returns 0.0 for mismatched lengths or any zero-norm vector; it never
// divides by zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FindSimilar ranks candidates against the query vector, keeping those at
// or above minSimilarity, sorted descending, truncated to topK (topK <= 0
// means unlimited).
func FindSimilar(query []float32, candidates []Candidate, topK int, minSimilarity float64) []Match {
	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		score := CosineSimilarity(query, c.Embedding)
		if score < minSimilarity {
			continue
		}
		matches = append(matches, Match{ID: c.ID, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
