// Package query implements the query engine component (C7): semantic
// search, code-aware lexical+semantic blending, graph traversal, duplicate
// and related-memory discovery, and a hybrid semantic+graph retrieval mode.
// It never retries a failed store call; callers decide whether to retry.
package query

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/memcore/memcore/internal/embedding"
	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/metrics"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/vectorstore"
)

// observe times an operation and reports it under metrics.QueryDuration.
func observe(operation string, start time.Time) {
	metrics.QueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Engine is the query engine component.
type Engine struct {
	vectors vectorstore.Store
	graph   graphstore.Store
	embedder *embedding.Service

	defaultLimit int
	maxLimit     int
	maxDepth     int
	codeSearchAlpha float64 // weight on cosine similarity vs lexical match
	hybridBeta      float64 // weight on semantic score vs graph-expansion score
}

// New wires the engine to its stores and the ranking constants resolved
// from config (Open Question iii).
func New(vectors vectorstore.Store, graph graphstore.Store, embedder *embedding.Service, defaultLimit, maxLimit, maxDepth int, codeSearchAlpha, hybridBeta float64) *Engine {
	return &Engine{
		vectors:         vectors,
		graph:           graph,
		embedder:        embedder,
		defaultLimit:    defaultLimit,
		maxLimit:        maxLimit,
		maxDepth:        maxDepth,
		codeSearchAlpha: codeSearchAlpha,
		hybridBeta:      hybridBeta,
	}
}

func (e *Engine) clampLimit(limit int) int {
	if limit <= 0 {
		return e.defaultLimit
	}
	if limit > e.maxLimit {
		return e.maxLimit
	}
	return limit
}

// Result pairs a memory with its relevance score for a specific query.
type Result struct {
	Memory *models.Memory
	Score  float64
}

// lessResult orders a ahead of b: by score descending, then, on a tie, by
// the memory's importance score descending, then by most recently updated.
func lessResult(a, b Result) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Memory.ImportanceScore != b.Memory.ImportanceScore {
		return a.Memory.ImportanceScore > b.Memory.ImportanceScore
	}
	return a.Memory.UpdatedAt.After(b.Memory.UpdatedAt)
}

// SemanticSearch embeds query and returns the top matches within variant,
// or across all variants if variant is empty.
func (e *Engine) SemanticSearch(ctx context.Context, query string, variant models.Variant, limit int, minScore float64) ([]Result, error) {
	defer observe("semantic_search", time.Now())
	vec, err := e.embedder.Embed(ctx, query, embedding.InputQuery)
	if err != nil {
		return nil, err
	}

	variants := []models.Variant{variant}
	if variant == "" {
		variants = models.Variants
	}

	limit = e.clampLimit(limit)
	var all []Result
	for _, v := range variants {
		scored, err := e.vectors.Search(ctx, vectorstore.SearchOptions{
			Variant: v, Vector: vec, Limit: limit, MinScore: minScore,
		})
		if err != nil {
			return nil, err
		}
		for _, s := range scored {
			all = append(all, Result{Memory: s.Memory, Score: s.Score})
		}
	}

	sort.Slice(all, func(i, j int) bool { return lessResult(all[i], all[j]) })
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

var identifierPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// tokenize splits code-ish text into lowercase identifier tokens, used by
// the lexical half of CodeSearch's blend.
func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range identifierPattern.FindAllString(text, -1) {
		tokens[strings.ToLower(tok)] = true
	}
	return tokens
}

// lexicalMatch is the Jaccard overlap between the query's tokens and a
// candidate's tokens, grounded on the same set-similarity approach as the
// keyword half of a hybrid text-similarity calculator.
func lexicalMatch(query, candidate string) float64 {
	q := tokenize(query)
	c := tokenize(candidate)
	if len(q) == 0 || len(c) == 0 {
		return 0
	}
	intersection := 0
	for tok := range q {
		if c[tok] {
			intersection++
		}
	}
	union := len(q) + len(c) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// CodeSearch ranks code_pattern and function memories by
// alpha*cosine + (1-alpha)*lexical_match, rewarding exact identifier
// overlap that pure semantic search can miss.
func (e *Engine) CodeSearch(ctx context.Context, query string, limit int) ([]Result, error) {
	defer observe("code_search", time.Now())
	vec, err := e.embedder.Embed(ctx, query, embedding.InputQuery)
	if err != nil {
		return nil, err
	}

	limit = e.clampLimit(limit)
	overfetch := limit * 3
	if overfetch < 30 {
		overfetch = 30
	}

	var candidates []vectorstore.ScoredMemory
	for _, v := range []models.Variant{models.VariantCodePattern, models.VariantFunction} {
		scored, err := e.vectors.Search(ctx, vectorstore.SearchOptions{
			Variant: v, Vector: vec, Limit: overfetch, MinScore: 0,
		})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, scored...)
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		lex := lexicalMatch(query, c.Memory.Content)
		blended := e.codeSearchAlpha*c.Score + (1-e.codeSearchAlpha)*lex
		results[i] = Result{Memory: c.Memory, Score: blended}
	}

	sort.Slice(results, func(i, j int) bool { return lessResult(results[i], results[j]) })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// GraphQuery performs a bounded traversal from startID.
func (e *Engine) GraphQuery(ctx context.Context, startID string, depth int, direction graphstore.Direction, edgeTypes []models.RelationshipType) ([]graphstore.Node, []*models.Relationship, error) {
	defer observe("graph_query", time.Now())
	if depth <= 0 || depth > e.maxDepth {
		depth = e.maxDepth
	}
	return e.graph.Traverse(ctx, graphstore.TraverseOptions{
		StartID: startID, Depth: depth, Direction: direction, EdgeTypes: edgeTypes,
	})
}

// FindDuplicates returns same-variant memories above threshold for an
// existing memory's own embedding, excluding itself.
func (e *Engine) FindDuplicates(ctx context.Context, variant models.Variant, id string, threshold float64, limit int) ([]Result, error) {
	defer observe("find_duplicates", time.Now())
	mem, err := e.vectors.Get(ctx, variant, id)
	if err != nil {
		return nil, err
	}
	scored, err := e.vectors.Search(ctx, vectorstore.SearchOptions{
		Variant: variant, Vector: mem.Embedding, Limit: e.clampLimit(limit), MinScore: threshold, ExcludeID: id,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = Result{Memory: s.Memory, Score: s.Score}
	}
	return out, nil
}

// GetRelated returns the graph neighbours of a memory, optionally filtered
// to types, joined back to full Memory records from the vector store and
// capped at limit.
func (e *Engine) GetRelated(ctx context.Context, variant models.Variant, id string, depth int, direction graphstore.Direction, types []models.RelationshipType, limit int) ([]Result, []*models.Relationship, error) {
	defer observe("get_related", time.Now())
	nodes, rels, err := e.GraphQuery(ctx, id, depth, direction, types)
	if err != nil {
		return nil, nil, err
	}
	limit = e.clampLimit(limit)

	out := make([]Result, 0, len(nodes))
	included := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		mem, err := e.vectors.Get(ctx, n.Variant, n.ID)
		if err != nil {
			continue // node drifted out of sync with the vector store; skip rather than fail the whole query
		}
		out = append(out, Result{Memory: mem, Score: 1})
		included[n.ID] = true
	}
	sort.Slice(out, func(i, j int) bool { return lessResult(out[i], out[j]) })
	if len(out) > limit {
		for _, dropped := range out[limit:] {
			delete(included, dropped.Memory.ID.String())
		}
		out = out[:limit]
	}

	keep := func(nodeID string) bool { return nodeID == id || included[nodeID] }
	kept := rels[:0:0]
	for _, r := range rels {
		if keep(r.SourceID.String()) && keep(r.TargetID.String()) {
			kept = append(kept, r)
		}
	}
	return out, kept, nil
}

// Hybrid blends semantic search with a one-hop graph expansion of the top
// semantic hits: final score = beta*semantic + (1-beta)*edge_weight, where
// edge_weight is the strongest relationship weight connecting the
// expanded memory back to one of the semantic seeds (0 if unconnected).
// This surfaces memories that are structurally related to a strong
// semantic hit even if their own content embedding scores lower.
func (e *Engine) Hybrid(ctx context.Context, query string, variant models.Variant, limit int) ([]Result, error) {
	defer observe("hybrid", time.Now())
	limit = e.clampLimit(limit)
	seeds, err := e.SemanticSearch(ctx, query, variant, limit, 0)
	if err != nil {
		return nil, err
	}

	seedIDs := make(map[string]bool, len(seeds))
	scores := make(map[string]float64, len(seeds))
	byID := make(map[string]*models.Memory, len(seeds))
	for _, s := range seeds {
		id := s.Memory.ID.String()
		seedIDs[id] = true
		scores[id] = s.Score
		byID[id] = s.Memory
	}

	for _, s := range seeds {
		seedID := s.Memory.ID.String()
		nodes, rels, err := e.graph.Traverse(ctx, graphstore.TraverseOptions{
			StartID: seedID, Depth: 1, Direction: graphstore.DirBoth,
		})
		if err != nil {
			return nil, err
		}

		edgeWeight := make(map[string]float64, len(rels))
		for _, r := range rels {
			var other string
			switch seedID {
			case r.SourceID.String():
				other = r.TargetID.String()
			case r.TargetID.String():
				other = r.SourceID.String()
			default:
				continue
			}
			if w, ok := edgeWeight[other]; !ok || r.Weight > w {
				edgeWeight[other] = r.Weight
			}
		}

		for _, n := range nodes {
			if seedIDs[n.ID] {
				continue // seeds keep their own full semantic score, never rescaled
			}
			proximity := e.hybridBeta*s.Score + (1-e.hybridBeta)*edgeWeight[n.ID]
			if existing, ok := scores[n.ID]; ok {
				if proximity > existing {
					scores[n.ID] = proximity
				}
				continue
			}
			mem, err := e.vectors.Get(ctx, n.Variant, n.ID)
			if err != nil {
				continue
			}
			scores[n.ID] = proximity
			byID[n.ID] = mem
		}
	}

	out := make([]Result, 0, len(scores))
	for id, score := range scores {
		out = append(out, Result{Memory: byID[id], Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return lessResult(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
