// Package search implements the knowledge engine's hybrid lexical+vector
// retrieval and re-ranking (spec §4.2 Hybrid search).
package search

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/hearth-ai/assistant/pkg/knowledge/embed"
	"github.com/hearth-ai/assistant/pkg/knowledge/memory"
	"github.com/hearth-ai/assistant/pkg/knowledge/thai"
	"github.com/hearth-ai/assistant/pkg/knowledge/vectorstore"
	"github.com/hearth-ai/assistant/pkg/models"
	"github.com/hearth-ai/assistant/pkg/store"
)

// Mode selects which candidate sets a search draws from.
type Mode string

const (
	ModeLexical Mode = "lexical"
	ModeVector  Mode = "vector"
	ModeHybrid  Mode = "hybrid"
)

// Query is one hybrid-search request.
type Query struct {
	Text              string
	TypeFilter        string
	Limit             int
	Mode              Mode
	ProjectFilter     string
	MemoryLayerFilter string
}

// Result is one ranked hit, with every intermediate score preserved for
// observability.
type Result struct {
	Document   models.Document
	LexicalHit bool
	VectorHit  bool
	LexicalRaw float64
	VectorRaw  float64
	FinalScore float64
}

const (
	candidateDepth  = 20
	maxExpansions   = 5
	lexicalWeight   = 0.6
	vectorWeight    = 0.4
	recencyWindow   = 60 * 24 * time.Hour
	poorScoreCutoff = 0.15
)

var ftsMetachars = regexp.MustCompile(`["*^:()\-]`)

// Engine runs hybrid search over the store, embedder, and vector store.
type Engine struct {
	Store       *store.Store
	Embedder    embed.Embedder
	VectorStore *vectorstore.Store
	Thai        *thai.Client
	Synonyms    map[string][]string
	Log         *slog.Logger
}

// Search runs the full hybrid pipeline: sanitise → expand → lexical +
// vector candidate sets → merge → adaptive re-weight → re-rank →
// filter → top-limit.
func (e *Engine) Search(ctx context.Context, q Query) ([]Result, error) {
	log := e.logger()

	sanitised := sanitise(q.Text)
	if sanitised == "" {
		return nil, nil
	}

	variants := e.expand(ctx, sanitised)

	candidates := map[string]*Result{}
	var lexicalScores, vectorScores []float64

	if q.Mode != ModeVector {
		for _, v := range variants {
			hits, err := e.Store.LexicalSearch(ctx, v, q.ProjectFilter, candidateDepth)
			if err != nil {
				log.Warn("lexical search failed, falling back to substring match", "error", err)
				hits = e.substringFallback(ctx, v, q.ProjectFilter)
			}
			for _, h := range hits {
				r := candidates[h.DocumentID]
				if r == nil {
					r = &Result{}
					candidates[h.DocumentID] = r
				}
				score := -h.BM25 // bm25() is negative; invert so higher is better
				if score > r.LexicalRaw {
					r.LexicalRaw = score
					r.LexicalHit = true
				}
				lexicalScores = append(lexicalScores, score)
			}
		}
	}

	if q.Mode != ModeLexical && e.Embedder != nil && e.VectorStore != nil {
		vectors, err := e.Embedder.Embed(ctx, variants)
		if err != nil {
			log.Warn("embedding query failed, continuing lexical-only", "error", err)
		} else {
			for _, vec := range vectors {
				hits, err := e.VectorStore.Query(ctx, vec, candidateDepth)
				if err != nil {
					log.Warn("vector search failed, continuing lexical-only", "error", err)
					continue
				}
				for _, h := range hits {
					r := candidates[h.DocumentID]
					if r == nil {
						r = &Result{}
						candidates[h.DocumentID] = r
					}
					score := float64(h.Score)
					if score > r.VectorRaw {
						r.VectorRaw = score
						r.VectorHit = true
					}
					vectorScores = append(vectorScores, score)
				}
			}
		}
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	wLex, wVec := adaptiveWeights(q.Mode, lexicalScores, vectorScores)

	now := time.Now().UTC()
	results := make([]Result, 0, len(candidates))
	for docID, r := range candidates {
		doc, err := e.Store.GetDocument(ctx, docID)
		if err != nil {
			continue
		}
		if q.TypeFilter != "" && string(doc.Type) != q.TypeFilter {
			continue
		}
		if q.MemoryLayerFilter != "" && string(doc.Layer) != q.MemoryLayerFilter {
			continue
		}
		if memory.IsExpired(doc, now, false) {
			continue
		}

		r.Document = doc
		r.FinalScore = wLex*r.LexicalRaw + wVec*r.VectorRaw + recencyBoost(doc, now) + accessBoost(doc)
		results = append(results, *r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].FinalScore > results[j].FinalScore })

	limit := q.Limit
	if limit <= 0 || limit > len(results) {
		limit = len(results)
	}
	return results[:limit], nil
}

// sanitise strips FTS5 metacharacters and truncates to 500 characters,
// per spec; callers must never run the raw query against FTS5.
func sanitise(text string) string {
	cleaned := ftsMetachars.ReplaceAllString(text, " ")
	cleaned = strings.TrimSpace(cleaned)
	if len(cleaned) > 500 {
		cleaned = cleaned[:500]
	}
	return cleaned
}

// expand produces up to maxExpansions query variants: the original plus
// Thai<->English translations and synonym-table lookups.
func (e *Engine) expand(ctx context.Context, query string) []string {
	variants := []string{query}

	if e.Thai != nil && containsThaiScript(query) {
		if words, err := e.Thai.Segment(ctx, query); err == nil {
			variants = append(variants, strings.Join(words, " "))
		}
	}

	for _, word := range strings.Fields(query) {
		if syns, ok := e.Synonyms[strings.ToLower(word)]; ok {
			variants = append(variants, syns...)
		}
	}

	if len(variants) > maxExpansions {
		variants = variants[:maxExpansions]
	}
	return variants
}

func containsThaiScript(s string) bool {
	for _, r := range s {
		if r >= 0x0E00 && r <= 0x0E7F {
			return true
		}
	}
	return false
}

// substringFallback is the last resort when FTS5 itself errors (e.g. a
// malformed MATCH query slipped past the sanitiser): a plain LIKE scan
// over title/content with no ranking signal, so every hit ties at
// LexicalRaw 0 and the final score falls back to vector score + boosts.
func (e *Engine) substringFallback(ctx context.Context, query, project string) []store.LexicalSearchHit {
	hits, err := e.Store.SubstringSearch(ctx, query, project, candidateDepth)
	if err != nil {
		e.logger().Warn("substring fallback also failed", "error", err)
		return nil
	}
	return hits
}

// adaptiveWeights implements the quality-correction rule: if one signal's
// candidate scores all look poor while the other's look healthy, shift
// weight toward the healthy signal.
func adaptiveWeights(mode Mode, lexical, vector []float64) (float64, float64) {
	if mode == ModeLexical {
		return 1, 0
	}
	if mode == ModeVector {
		return 0, 1
	}

	lexGood := anyAbove(lexical, poorScoreCutoff)
	vecGood := anyAbove(vector, poorScoreCutoff)

	switch {
	case !lexGood && vecGood:
		return 0.2, 0.8
	case lexGood && !vecGood:
		return 0.8, 0.2
	default:
		return lexicalWeight, vectorWeight
	}
}

func anyAbove(scores []float64, threshold float64) bool {
	for _, s := range scores {
		if s >= threshold {
			return true
		}
	}
	return false
}

func recencyBoost(d models.Document, now time.Time) float64 {
	age := now.Sub(d.LastAccess)
	if age < 0 {
		return 0.2
	}
	if age >= recencyWindow {
		return 0
	}
	return 0.2 * (1 - age.Hours()/recencyWindow.Hours())
}

func accessBoost(d models.Document) float64 {
	if d.AccessCount <= 0 {
		return 0
	}
	boost := 0.1 * math.Log2(float64(d.AccessCount)+1) / math.Log2(100)
	if boost > 0.1 {
		return 0.1
	}
	return boost
}

func (e *Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}
