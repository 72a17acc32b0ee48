package graphstore

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/memcore/memcore/internal/models"
)

// MemStore is an in-process Store used by tests and local development.
type MemStore struct {
	mu    sync.RWMutex
	nodes map[string]Node
	edges map[string]*models.Relationship // keyed by Relationship.Key()
}

func NewMemStore() *MemStore {
	return &MemStore{nodes: make(map[string]Node), edges: make(map[string]*models.Relationship)}
}

func (s *MemStore) UpsertNode(_ context.Context, m *models.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes[m.ID.String()] = Node{ID: m.ID.String(), Variant: m.Variant, Content: m.Content, CreatedAt: m.CreatedAt}
	return nil
}

func (s *MemStore) UpsertEdge(_ context.Context, rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges[rel.Key()] = rel
	return nil
}

func (s *MemStore) Traverse(_ context.Context, opts TraverseOptions) ([]Node, []*models.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	direction := opts.Direction
	if direction == "" {
		direction = DirOut
	}
	allowed := allowedSet(opts.EdgeTypes)

	visitedNodes := map[string]Node{}
	var rels []*models.Relationship
	frontier := []string{opts.StartID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, e := range s.edges {
				if len(allowed) > 0 && !allowed[e.Type] {
					continue
				}
				var otherID string
				matched := false
				if (direction == DirOut || direction == DirBoth) && e.SourceID.String() == id {
					otherID = e.TargetID.String()
					matched = true
				}
				if !matched && (direction == DirIn || direction == DirBoth) && e.TargetID.String() == id {
					otherID = e.SourceID.String()
					matched = true
				}
				if !matched {
					continue
				}
				rels = append(rels, e)
				if n, ok := s.nodes[otherID]; ok {
					if _, seen := visitedNodes[otherID]; !seen {
						visitedNodes[otherID] = n
						next = append(next, otherID)
					}
				}
			}
		}
		frontier = next
	}

	nodes := make([]Node, 0, len(visitedNodes))
	for _, n := range visitedNodes {
		nodes = append(nodes, n)
	}
	return nodes, dedupeRelationships(rels), nil
}

func (s *MemStore) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, id)
	for k, e := range s.edges {
		if e.SourceID.String() == id || e.TargetID.String() == id {
			delete(s.edges, k)
		}
	}
	return nil
}

// MergeNode re-points every edge touching fromID onto toID and removes the
// fromID node, folding a losing duplicate's relationships onto its survivor.
func (s *MemStore) MergeNode(_ context.Context, fromID, toID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	toUUID, err := uuid.Parse(toID)
	if err != nil {
		return err
	}

	for k, e := range s.edges {
		changed := false
		if e.SourceID.String() == fromID {
			e.SourceID = toUUID
			changed = true
		}
		if e.TargetID.String() == fromID {
			e.TargetID = toUUID
			changed = true
		}
		if !changed {
			continue
		}
		delete(s.edges, k)
		if e.SourceID == e.TargetID {
			continue
		}
		s.edges[e.Key()] = e
	}
	delete(s.nodes, fromID)
	return nil
}

func (s *MemStore) DeleteOrphanEdges(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, e := range s.edges {
		_, srcOK := s.nodes[e.SourceID.String()]
		_, tgtOK := s.nodes[e.TargetID.String()]
		if !srcOK || !tgtOK {
			delete(s.edges, k)
			removed++
		}
	}
	return removed, nil
}

func (s *MemStore) CountByVariant(_ context.Context, variant models.Variant) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var count int64
	for _, n := range s.nodes {
		if n.Variant == variant {
			count++
		}
	}
	return count, nil
}

func (s *MemStore) Health(_ context.Context) error { return nil }

func (s *MemStore) Close() error { return nil }
