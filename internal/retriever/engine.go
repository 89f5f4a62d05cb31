// Package retriever implements the nutrition knowledge base: corpus
// loading, embedding-based search with a keyword fallback, and seed
// clinical facts used when no corpus is configured.
package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/nextlevelbuilder/nutribot/internal/config"
	"github.com/nextlevelbuilder/nutribot/internal/providers"
)

// seedKnowledge covers the highest-risk contraindications so the
// dietitian has grounding even before a corpus is installed.
var seedKnowledge = []string{
	"For CKD patients, limit potassium to 2000mg/day. Avoid bananas, spinach, and avocados.",
	"Warfarin patients should maintain consistent vitamin K intake. Limit leafy greens.",
	"Diabetes patients should focus on low glycemic index foods and complex carbohydrates.",
	"Hypertension patients should limit sodium to 1500mg/day. Avoid processed foods.",
	"Low potassium fruits include apples (195mg), berries, and grapes - safe for CKD.",
}

// Engine searches the knowledge base. When an embedder is available it
// ranks chunks by cosine similarity; otherwise it scores by keyword
// overlap the same way on every call, so behavior is deterministic.
type Engine struct {
	cfg      config.RetrieverConfig
	embedder providers.Embedder

	mu         sync.RWMutex
	docs       []Document
	embeddings [][]float32 // parallel to docs; nil when keyword-only
}

// NewEngine loads the corpus and, when an embedder is configured,
// embeds it. embedder may be nil; search then uses keyword overlap.
func NewEngine(ctx context.Context, cfg config.RetrieverConfig, embedder providers.Embedder) (*Engine, error) {
	e := &Engine{cfg: cfg, embedder: embedder}
	if err := e.Reload(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the corpus directory and rebuilds the index. It is
// called at startup and by the corpus watcher.
func (e *Engine) Reload(ctx context.Context) error {
	docs, err := loadCorpus(e.cfg.CorpusDir, e.cfg.ChunkSize, e.cfg.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	if len(docs) == 0 {
		for _, fact := range seedKnowledge {
			docs = append(docs, Document{Source: "builtin", Text: fact})
		}
		slog.Info("retriever: corpus empty, using builtin knowledge", "dir", e.cfg.CorpusDir)
	} else {
		slog.Info("retriever: corpus loaded", "dir", e.cfg.CorpusDir, "chunks", len(docs))
	}

	var embeddings [][]float32
	if e.embedder != nil {
		embeddings, err = e.embedAll(ctx, docs)
		if err != nil {
			slog.Warn("retriever: corpus embedding failed, using keyword search", "error", err)
			embeddings = nil
		}
	}

	e.mu.Lock()
	e.docs = docs
	e.embeddings = embeddings
	e.mu.Unlock()
	return nil
}

// Size returns the number of indexed chunks.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.docs)
}

// Search returns up to topK passages relevant to query, biased by the
// patient's health context so contraindication material ranks higher.
func (e *Engine) Search(ctx context.Context, query, patientContext string, topK int) ([]string, error) {
	if topK <= 0 {
		topK = e.cfg.TopK
	}
	if topK <= 0 {
		topK = 4
	}

	e.mu.RLock()
	docs := e.docs
	embeddings := e.embeddings
	e.mu.RUnlock()

	if len(docs) == 0 {
		return nil, nil
	}

	if embeddings != nil {
		results, err := e.searchEmbeddings(ctx, query, patientContext, docs, embeddings, topK)
		if err == nil {
			return results, nil
		}
		slog.Warn("retriever: embedding search failed, using keyword search", "error", err)
	}
	return searchKeywords(query, patientContext, docs, topK), nil
}

func (e *Engine) searchEmbeddings(ctx context.Context, query, patientContext string, docs []Document, embeddings [][]float32, topK int) ([]string, error) {
	// The patient context participates in the query embedding so that
	// condition-specific passages outrank generic ones.
	q := query
	if patientContext != "" {
		q = query + "\n" + patientContext
	}
	vecs, err := e.embedder.Embed(ctx, e.cfg.EmbeddingModel, []string{q})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors, want 1", len(vecs))
	}
	qv := vecs[0]

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, 0, len(docs))
	for i := range docs {
		if i >= len(embeddings) {
			break
		}
		ranked = append(ranked, scored{i, cosineSimilarity(qv, embeddings[i])})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var results []string
	for _, r := range ranked {
		if len(results) >= topK {
			break
		}
		if e.cfg.MinScore > 0 && r.score < e.cfg.MinScore {
			break
		}
		results = append(results, docs[r.idx].Text)
	}
	return results, nil
}

// embedAll embeds documents in batches to stay under request limits.
func (e *Engine) embedAll(ctx context.Context, docs []Document) ([][]float32, error) {
	const batchSize = 64

	embeddings := make([][]float32, 0, len(docs))
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		inputs := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			inputs = append(inputs, d.Text)
		}
		vecs, err := e.embedder.Embed(ctx, e.cfg.EmbeddingModel, inputs)
		if err != nil {
			return nil, fmt.Errorf("embed batch at %d: %w", start, err)
		}
		if len(vecs) != len(inputs) {
			return nil, fmt.Errorf("embed batch at %d: got %d vectors, want %d", start, len(vecs), len(inputs))
		}
		embeddings = append(embeddings, vecs...)
	}
	return embeddings, nil
}

// stopwords excluded from keyword scoring.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "can": true,
	"i": true, "my": true, "do": true, "does": true, "of": true, "to": true,
	"for": true, "in": true, "on": true, "and": true, "or": true, "it": true,
	"what": true, "which": true, "should": true, "eat": true, "have": true,
}

// searchKeywords ranks chunks by term overlap with the query. Patient
// context terms count at half weight. When nothing matches, the first
// topK chunks are returned so the dietitian always has material.
func searchKeywords(query, patientContext string, docs []Document, topK int) []string {
	queryTerms := tokenize(query)
	contextTerms := tokenize(patientContext)

	type scored struct {
		idx   int
		score float64
	}
	var ranked []scored
	for i, d := range docs {
		docTerms := tokenize(d.Text)
		var score float64
		for t := range queryTerms {
			if docTerms[t] {
				score += 1.0
			}
		}
		for t := range contextTerms {
			if docTerms[t] {
				score += 0.5
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{i, score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var results []string
	for _, r := range ranked {
		if len(results) >= topK {
			break
		}
		results = append(results, docs[r.idx].Text)
	}

	if len(results) == 0 {
		for i := 0; i < len(docs) && i < topK; i++ {
			results = append(results, docs[i].Text)
		}
	}
	return results
}

func tokenize(s string) map[string]bool {
	terms := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) < 2 || stopwords[w] {
			continue
		}
		terms[w] = true
	}
	return terms
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
