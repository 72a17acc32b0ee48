// Package memmanager implements the memory manager component (C6): the
// write path that embeds content, detects near-duplicates and conflicts,
// and commits through the sync manager, plus the basic read/update/delete
// operations that sit in front of the two stores.
package memmanager

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/memcore/memcore/internal/audit"
	"github.com/memcore/memcore/internal/embedding"
	"github.com/memcore/memcore/internal/errs"
	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/sync"
	"github.com/memcore/memcore/internal/vectorstore"
)

// Conflict describes an existing memory whose content is near-identical to
// the one being added or updated.
type Conflict struct {
	ExistingID string
	Score      float64
	Summary    string
}

// Manager is the memory manager component.
type Manager struct {
	embedder           *embedding.Service
	syncMgr            *sync.Manager
	vectors            vectorstore.Store
	graph              graphstore.Store
	duplicateThreshold float64
	conflictThreshold  float64
	log                *zap.Logger
	audit              *audit.Log
}

// New wires the embedding service, sync manager, and the two stores (the
// vector store for duplicate/conflict search, the graph store for hard-delete
// cascade), with the configured thresholds (already clamped to their
// documented bounds by config.Load). auditLog is optional; a nil value
// disables audit recording entirely.
func New(embedder *embedding.Service, syncMgr *sync.Manager, vectors vectorstore.Store, graph graphstore.Store, duplicateThreshold, conflictThreshold float64, log *zap.Logger, auditLog *audit.Log) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		embedder:           embedder,
		syncMgr:            syncMgr,
		vectors:            vectors,
		graph:              graph,
		duplicateThreshold: duplicateThreshold,
		conflictThreshold:  conflictThreshold,
		log:                log,
		audit:              auditLog,
	}
}

// record appends an audit entry for a mutating operation. A failure to
// record is logged and swallowed: the audit trail never blocks a write.
func (m *Manager) record(ctx context.Context, operation, memoryID string, variant models.Variant, opErr error) {
	if m.audit == nil {
		return
	}
	entry := audit.Entry{Operation: operation, MemoryID: memoryID, Variant: string(variant), Success: opErr == nil}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	if err := m.audit.Record(ctx, entry); err != nil {
		m.log.Warn("audit_record_failed", zap.String("operation", operation), zap.Error(err))
	}
}

// Add embeds and stores mem. When checkConflicts is true (the default for
// interactive callers; bulk paths may turn it off) it runs a same-variant
// near-duplicate scan at duplicateThreshold purely for logging, then a
// second scan at the stricter conflictThreshold whose hits are returned to
// the caller as conflicts. Neither scan blocks the insert: conflict
// detection is advisory unless the caller separately enforces strict mode
// on the returned list.
func (m *Manager) Add(ctx context.Context, mem *models.Memory, rels []*models.Relationship, checkConflicts bool) ([]Conflict, error) {
	if err := mem.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	vec, err := m.embedder.Embed(ctx, mem.Content, embedding.InputDocument)
	if err != nil {
		return nil, err
	}
	mem.SetEmbedding(vec)

	var conflicts []Conflict
	if checkConflicts {
		dupes, err := m.findNear(ctx, mem.Variant, vec, m.duplicateThreshold, "")
		if err != nil {
			return nil, err
		}
		if len(dupes) > 0 {
			m.log.Debug("duplicate_candidates_found", zap.String("memory_id", mem.ID.String()), zap.Int("count", len(dupes)))
		}

		conflicts, err = m.findNear(ctx, mem.Variant, vec, m.conflictThreshold, "")
		if err != nil {
			return nil, err
		}
	}

	err = m.syncMgr.Write(ctx, mem, rels)
	m.record(ctx, "add", mem.ID.String(), mem.Variant, err)
	if err != nil {
		return nil, err
	}

	return conflicts, nil
}

// Update applies fn to the existing memory, re-embeds if the content
// changed, and runs a self-excluding conflict check above the conflict
// threshold so the caller can warn about accidentally creating a
// near-duplicate via edit.
func (m *Manager) Update(ctx context.Context, variant models.Variant, id string, fn func(*models.Memory)) ([]Conflict, error) {
	mem, err := m.vectors.Get(ctx, variant, id)
	if err != nil {
		return nil, err
	}

	prevContent := mem.Content
	fn(mem)
	mem.Touch()

	if err := mem.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrValidation, err)
	}

	if mem.Content != prevContent {
		vec, err := m.embedder.Embed(ctx, mem.Content, embedding.InputDocument)
		if err != nil {
			return nil, err
		}
		mem.SetEmbedding(vec)
	}

	conflicts, err := m.findNear(ctx, mem.Variant, mem.Embedding, m.conflictThreshold, mem.ID.String())
	if err != nil {
		return nil, err
	}

	err = m.syncMgr.Write(ctx, mem, nil)
	m.record(ctx, "update", mem.ID.String(), mem.Variant, err)
	if err != nil {
		return nil, err
	}

	return conflicts, nil
}

// Get returns a memory by id, recording an access.
func (m *Manager) Get(ctx context.Context, variant models.Variant, id string) (*models.Memory, error) {
	mem, err := m.vectors.Get(ctx, variant, id)
	if err != nil {
		return nil, err
	}
	mem.RecordAccess()
	_ = m.vectors.UpdatePayload(ctx, variant, id, func(v *models.Memory) {
		v.RecordAccess()
	})
	return mem, nil
}

// Delete soft-deletes (default) or hard-deletes a memory. Hard delete
// removes the record from both stores; edges the graph store leaves
// dangling are removed by the normalizer's cleanup pass.
func (m *Manager) Delete(ctx context.Context, variant models.Variant, id string, hard bool) error {
	if hard {
		if err := m.vectors.Delete(ctx, variant, id); err != nil {
			m.record(ctx, "delete", id, variant, err)
			return err
		}
		if m.graph != nil {
			if err := m.graph.DeleteNode(ctx, id); err != nil {
				m.log.Warn("hard_delete_graph_node_failed", zap.String("memory_id", id), zap.Error(err))
			}
		}
		m.record(ctx, "delete", id, variant, nil)
		return nil
	}
	err := m.vectors.UpdatePayload(ctx, variant, id, func(v *models.Memory) {
		v.MarkDeleted()
	})
	m.record(ctx, "delete", id, variant, err)
	return err
}

// AddRelationship links two already-persisted memories directly against
// the graph store. It exists for edges discovered only after both
// endpoints are written, such as a CALLS edge found once an entire
// source tree has been indexed; the graph store's upsert is idempotent
// on (source, target, type), so re-linking an existing edge is a no-op.
func (m *Manager) AddRelationship(ctx context.Context, rel *models.Relationship) error {
	if m.graph == nil {
		return nil
	}
	err := m.graph.UpsertEdge(ctx, rel)
	m.record(ctx, "add_relationship", rel.SourceID.String(), rel.SourceVariant, err)
	return err
}

// BulkAddResult reports the outcome of one item in a BulkAdd call.
type BulkAddResult struct {
	Index     int
	MemoryID  string
	Conflicts []Conflict
	Err       error
}

// BulkAdd validates every item, embeds the survivors in a single batch call
// (rather than one provider round-trip per item), and persists each
// independently so one bad entry never aborts the batch. checkConflicts is
// typically turned off for bulk ingestion paths where per-item conflict
// search would dominate the batch's cost.
func (m *Manager) BulkAdd(ctx context.Context, items []*models.Memory, checkConflicts bool) []BulkAddResult {
	results := make([]BulkAddResult, len(items))
	var pending []int
	var contents []string

	for i, mem := range items {
		if err := mem.Validate(); err != nil {
			results[i] = BulkAddResult{Index: i, MemoryID: mem.ID.String(), Err: fmt.Errorf("%w: %v", errs.ErrValidation, err)}
			continue
		}
		pending = append(pending, i)
		contents = append(contents, mem.Content)
	}

	if len(pending) == 0 {
		return results
	}

	vecs, err := m.embedder.EmbedBatch(ctx, contents, embedding.InputDocument)
	if err != nil {
		for _, i := range pending {
			results[i] = BulkAddResult{Index: i, MemoryID: items[i].ID.String(), Err: err}
		}
		return results
	}

	for j, i := range pending {
		mem := items[i]
		mem.SetEmbedding(vecs[j])

		var conflicts []Conflict
		if checkConflicts {
			conflicts, err = m.findNear(ctx, mem.Variant, mem.Embedding, m.conflictThreshold, "")
			if err != nil {
				results[i] = BulkAddResult{Index: i, MemoryID: mem.ID.String(), Err: err}
				continue
			}
		}

		if err := m.syncMgr.Write(ctx, mem, nil); err != nil {
			results[i] = BulkAddResult{Index: i, MemoryID: mem.ID.String(), Err: err}
			m.log.Warn("bulk_add_item_failed", zap.Int("index", i), zap.Error(err))
			m.record(ctx, "bulk_add", mem.ID.String(), mem.Variant, err)
			continue
		}
		m.record(ctx, "bulk_add", mem.ID.String(), mem.Variant, nil)
		results[i] = BulkAddResult{Index: i, MemoryID: mem.ID.String(), Conflicts: conflicts}
	}
	return results
}

func (m *Manager) findNear(ctx context.Context, variant models.Variant, vec []float32, threshold float64, excludeID string) ([]Conflict, error) {
	results, err := m.vectors.Search(ctx, vectorstore.SearchOptions{
		Variant:   variant,
		Vector:    vec,
		Limit:     10,
		MinScore:  threshold,
		ExcludeID: excludeID,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Conflict, len(results))
	for i, r := range results {
		out[i] = Conflict{ExistingID: r.Memory.ID.String(), Score: r.Score, Summary: summarize(r.Memory.Content)}
	}
	return out, nil
}

const summaryMaxLen = 160

// summarize truncates content to a single-line preview suitable for
// surfacing a conflict to a caller without pulling the full memory.
func summarize(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) <= summaryMaxLen {
		return s
	}
	return s[:summaryMaxLen] + "..."
}
