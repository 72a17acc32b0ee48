// Package normalizer implements the background normalization component
// (C8): four independently runnable, dry-run-capable, idempotent passes
// over the stored memories — snapshot, validation, deduplication, and
// cleanup — generalized from a compactor stub that originally only
// archived and deduplicated episodic memories.
package normalizer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/memcore/memcore/internal/contenthash"
	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/metrics"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/vectorstore"
)

func observe(phase string, start time.Time) {
	metrics.NormalizationDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// Normalizer runs the four maintenance passes over the stores.
type Normalizer struct {
	vectors vectorstore.Store
	graph   graphstore.Store
	log     *zap.Logger

	batchSize           int
	softDeleteRetention time.Duration
	duplicateThreshold  float64
}

// New wires the normalizer to its stores. duplicateThreshold bounds the
// deduplication pass's similarity clustering (the same threshold the
// memory manager's write-path duplicate check uses).
func New(vectors vectorstore.Store, graph graphstore.Store, batchSize int, softDeleteRetentionDays int, duplicateThreshold float64, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	if duplicateThreshold <= 0 {
		duplicateThreshold = 0.85
	}
	return &Normalizer{
		vectors:             vectors,
		graph:               graph,
		log:                 log,
		batchSize:           batchSize,
		softDeleteRetention: time.Duration(softDeleteRetentionDays) * 24 * time.Hour,
		duplicateThreshold:  duplicateThreshold,
	}
}

// Snapshot reports per-variant counts and a content-hash checksum, used to
// detect drift between normalization runs without a full diff.
type Snapshot struct {
	CountsByVariant map[models.Variant]int64
	Checksum        string
}

// Snapshot counts memories per variant and folds a deterministic checksum
// over their content hashes.
func (n *Normalizer) Snapshot(ctx context.Context) (*Snapshot, error) {
	defer observe("snapshot", time.Now())
	counts := make(map[models.Variant]int64, len(models.Variants))
	var hashes []string

	for _, v := range models.Variants {
		count, err := n.vectors.Count(ctx, v)
		if err != nil {
			return nil, err
		}
		counts[v] = count
		metrics.MemoriesByVariant.WithLabelValues(string(v)).Set(float64(count))

		results, err := n.vectors.Search(ctx, vectorstore.SearchOptions{
			Variant: v, Vector: zeroVector(), Limit: int(count) + 1, MinScore: -1,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			hashes = append(hashes, contenthash.Hash(r.Memory.Content))
		}
	}

	sort.Strings(hashes)
	checksum := contenthash.Hash(fmt.Sprint(hashes))

	return &Snapshot{CountsByVariant: counts, Checksum: checksum}, nil
}

// ValidationIssue reports one memory that fails an invariant.
type ValidationIssue struct {
	MemoryID string
	Variant  models.Variant
	Reason   string
}

// Validate checks embedding dimensionality, required timestamps and required
// variant fields for every memory. It does not check that each memory has
// a graph node; it only reports memories whose graph store cannot be
// reached. It never mutates state, so it has no dry-run flag.
func (n *Normalizer) Validate(ctx context.Context) ([]ValidationIssue, error) {
	defer observe("validate", time.Now())
	var issues []ValidationIssue

	for _, v := range models.Variants {
		count, err := n.vectors.Count(ctx, v)
		if err != nil {
			return nil, err
		}
		results, err := n.vectors.Search(ctx, vectorstore.SearchOptions{
			Variant: v, Vector: zeroVector(), Limit: int(count) + 1, MinScore: -1,
		})
		if err != nil {
			return nil, err
		}

		for _, r := range results {
			m := r.Memory
			if err := m.Validate(); err != nil {
				issues = append(issues, ValidationIssue{MemoryID: m.ID.String(), Variant: v, Reason: err.Error()})
				continue
			}
			if len(m.Embedding) != models.EmbeddingDimensions {
				issues = append(issues, ValidationIssue{MemoryID: m.ID.String(), Variant: v, Reason: "missing or wrong-dimension embedding"})
			}
			if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
				issues = append(issues, ValidationIssue{MemoryID: m.ID.String(), Variant: v, Reason: "missing timestamp"})
			}
			if !m.Deleted {
				if _, err := n.graph.CountByVariant(ctx, v); err != nil {
					issues = append(issues, ValidationIssue{MemoryID: m.ID.String(), Variant: v, Reason: "graph store unreachable"})
				}
			}
		}
	}

	return issues, nil
}

// DuplicateCluster is a set of same-variant memories whose content hashes
// are identical or whose embeddings are at least duplicateThreshold
// similar, with Survivor naming the one that should be kept.
type DuplicateCluster struct {
	Variant  models.Variant
	Survivor string
	Removed  []string
}

// Deduplicate streams each variant's memories in content-hash order and
// clusters them within duplicateThreshold similarity (exact content-hash
// matches always cluster; near-duplicate vectors above the threshold also
// merge into the same cluster even when their text differs). Within a
// cluster, all but the survivor (highest importance score, ties broken by
// earliest creation) have their graph edges re-pointed onto the survivor
// and are then soft-deleted, the same way Manager.Delete's default
// (non-hard) path works, so the merge can still be inspected or undone
// within the retention window. When dryRun is true, clusters are reported
// but nothing is changed.
func (n *Normalizer) Deduplicate(ctx context.Context, dryRun bool) ([]DuplicateCluster, error) {
	defer observe("deduplicate", time.Now())
	var clusters []DuplicateCluster

	for _, v := range models.Variants {
		count, err := n.vectors.Count(ctx, v)
		if err != nil {
			return nil, err
		}
		results, err := n.vectors.Search(ctx, vectorstore.SearchOptions{
			Variant: v, Vector: zeroVector(), Limit: int(count) + 1, MinScore: -1,
		})
		if err != nil {
			return nil, err
		}

		var live []*models.Memory
		for _, r := range results {
			if !r.Memory.Deleted {
				live = append(live, r.Memory)
			}
		}
		sort.Slice(live, func(i, j int) bool {
			return contenthash.Hash(live[i].Content) < contenthash.Hash(live[j].Content)
		})

		var groups [][]*models.Memory
		for _, m := range live {
			placed := false
			for gi, g := range groups {
				if contenthash.Hash(g[0].Content) == contenthash.Hash(m.Content) ||
					vectorstore.CosineSimilarity(g[0].Embedding, m.Embedding) >= n.duplicateThreshold {
					groups[gi] = append(g, m)
					placed = true
					break
				}
			}
			if !placed {
				groups = append(groups, []*models.Memory{m})
			}
		}

		for _, group := range groups {
			if len(group) < 2 {
				continue
			}
			sort.Slice(group, func(i, j int) bool {
				if group[i].ImportanceScore != group[j].ImportanceScore {
					return group[i].ImportanceScore > group[j].ImportanceScore
				}
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			})
			survivor := group[0]
			var removed []string
			for _, dup := range group[1:] {
				removed = append(removed, dup.ID.String())
				if !dryRun {
					if err := n.graph.MergeNode(ctx, dup.ID.String(), survivor.ID.String()); err != nil {
						return nil, err
					}
					err := n.vectors.UpdatePayload(ctx, v, dup.ID.String(), func(m *models.Memory) {
						m.MarkDeleted()
					})
					if err != nil {
						return nil, err
					}
				}
			}
			clusters = append(clusters, DuplicateCluster{Variant: v, Survivor: survivor.ID.String(), Removed: removed})
		}
	}

	return clusters, nil
}

// CleanupResult reports what a cleanup pass removed.
type CleanupResult struct {
	HardDeleted  int
	OrphanEdges  int
}

// Cleanup hard-deletes soft-deleted memories past the retention window and
// removes graph edges left dangling by prior hard deletes.
func (n *Normalizer) Cleanup(ctx context.Context, dryRun bool) (*CleanupResult, error) {
	defer observe("cleanup", time.Now())
	result := &CleanupResult{}
	cutoff := time.Now().UTC().Add(-n.softDeleteRetention)

	for _, v := range models.Variants {
		count, err := n.vectors.Count(ctx, v)
		if err != nil {
			return nil, err
		}
		results, err := n.vectors.Search(ctx, vectorstore.SearchOptions{
			Variant: v, Vector: zeroVector(), Limit: int(count) + 1, MinScore: -1,
		})
		if err != nil {
			return nil, err
		}

		for _, r := range results {
			m := r.Memory
			if !m.Deleted || m.DeletedAt == nil || m.DeletedAt.After(cutoff) {
				continue
			}
			result.HardDeleted++
			if !dryRun {
				if err := n.vectors.Delete(ctx, v, m.ID.String()); err != nil {
					return nil, err
				}
				if err := n.graph.DeleteNode(ctx, m.ID.String()); err != nil {
					n.log.Warn("cleanup_graph_node_delete_failed", zap.String("memory_id", m.ID.String()), zap.Error(err))
				}
			}
		}
	}

	if !dryRun {
		orphans, err := n.graph.DeleteOrphanEdges(ctx)
		if err != nil {
			return nil, err
		}
		result.OrphanEdges = orphans
	}

	return result, nil
}

// zeroVector returns a zero embedding used to issue a "match everything"
// search when the normalizer needs every memory in a variant rather than
// the nearest neighbours of a real query; MinScore: -1 ensures no entry is
// excluded on similarity grounds.
func zeroVector() []float32 {
	return make([]float32, models.EmbeddingDimensions)
}
