// Package graphstore adapts Dgraph into the graph store component (C4):
// one node per memory, labelled by variant, connected by typed
// Relationship edges, queried by bounded-depth traversal. The interface is
// shaped so a real Neo4j driver could satisfy it without touching any
// caller; Dgraph is this repository's stand-in.
package graphstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/dgo/v230"
	"github.com/dgraph-io/dgo/v230/protos/api"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/memcore/memcore/internal/errs"
	"github.com/memcore/memcore/internal/models"
)

const schema = `
	type MemoryNode {
		node.id: string
		node.variant: string
		node.content: string
		node.created: datetime
		node.project: string
		edges: [Edge]
	}

	type Edge {
		edge.id: string
		edge.type: string
		edge.weight: float
		edge.created: datetime
		edge.properties: string
		from: uid
		to: uid
	}

	node.id: string @index(exact) @upsert .
	node.variant: string @index(exact) .
	node.content: string @index(fulltext) .
	node.created: datetime @index(hour) .
	node.project: string @index(exact) .

	edge.id: string @index(exact) .
	edge.type: string @index(exact) .
	edge.weight: float .
	edge.created: datetime .
	edge.properties: string .

	from: uid @reverse .
	to: uid @reverse .
	edges: [uid] @reverse .
`

// Direction constrains Traverse to outgoing, incoming, or both edge
// directions from the start node.
type Direction string

const (
	DirOut  Direction = "out"
	DirIn   Direction = "in"
	DirBoth Direction = "both"
)

// TraverseOptions configures a bounded-depth graph walk.
type TraverseOptions struct {
	StartID   string
	Depth     int
	EdgeTypes []models.RelationshipType // empty means any type
	Direction Direction
}

// Node is a graph-store node, mirroring the subset of Memory fields the
// graph needs for traversal and display; full memory content lives in the
// vector store and is joined by ID at the query-engine layer.
type Node struct {
	ID        string
	Variant   models.Variant
	Content   string
	CreatedAt time.Time
}

// Store is the graph store adapter contract.
type Store interface {
	UpsertNode(ctx context.Context, m *models.Memory) error
	UpsertEdge(ctx context.Context, rel *models.Relationship) error
	Traverse(ctx context.Context, opts TraverseOptions) ([]Node, []*models.Relationship, error)
	DeleteNode(ctx context.Context, id string) error
	MergeNode(ctx context.Context, fromID, toID string) error
	DeleteOrphanEdges(ctx context.Context) (int, error)
	CountByVariant(ctx context.Context, variant models.Variant) (int64, error)
	Health(ctx context.Context) error
	Close() error
}

// DgraphStore is the Dgraph-backed Store implementation.
type DgraphStore struct {
	client    *dgo.Dgraph
	conn      *grpc.ClientConn
	projectID string
}

// NewDgraphStore dials addr, applies the schema, and returns a ready store.
// projectID is stamped onto every node and checked on every lookup, so
// multiple projects can share one Dgraph cluster without their graphs
// intersecting.
func NewDgraphStore(ctx context.Context, addr, projectID string) (*DgraphStore, error) {
	conn, err := grpc.Dial(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("%w: dial dgraph: %v", errs.ErrStoreUnavailable, err)
	}

	if projectID == "" {
		projectID = "default"
	}
	client := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	store := &DgraphStore{client: client, conn: conn, projectID: projectID}

	if err := store.client.Alter(ctx, &api.Operation{Schema: schema}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: apply schema: %v", errs.ErrStoreUnavailable, err)
	}
	return store, nil
}

type nodeJSON struct {
	UID        string `json:"uid,omitempty"`
	ID         string `json:"node.id"`
	Variant    string `json:"node.variant"`
	Content    string `json:"node.content"`
	Created    string `json:"node.created"`
	Project    string `json:"node.project"`
	DgraphType string `json:"dgraph.type"`
}

// UpsertNode creates or updates the node for m, using @upsert on node.id so
// repeated calls are idempotent.
func (s *DgraphStore) UpsertNode(ctx context.Context, m *models.Memory) error {
	uid, _ := s.findNodeUID(ctx, m.ID.String())
	if uid == "" {
		uid = "_:node"
	}

	payload := nodeJSON{
		UID:        uid,
		ID:         m.ID.String(),
		Variant:    string(m.Variant),
		Content:    m.Content,
		Created:    m.CreatedAt.Format(time.RFC3339),
		Project:    s.projectID,
		DgraphType: "MemoryNode",
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("graphstore: marshal node: %w", err)
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)
	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: data, CommitNow: true}); err != nil {
		return fmt.Errorf("%w: upsert node: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// UpsertEdge creates the edge described by rel if it does not already
// exist, keyed on (source, target, type) so retries are safe.
func (s *DgraphStore) UpsertEdge(ctx context.Context, rel *models.Relationship) error {
	fromUID, err := s.findNodeUID(ctx, rel.SourceID.String())
	if err != nil {
		return fmt.Errorf("graphstore: source node not found: %w", err)
	}
	toUID, err := s.findNodeUID(ctx, rel.TargetID.String())
	if err != nil {
		return fmt.Errorf("graphstore: target node not found: %w", err)
	}

	if exists, err := s.edgeExists(ctx, fromUID, toUID, rel.Type); err != nil {
		return err
	} else if exists {
		return nil
	}

	props, err := json.Marshal(rel.Properties)
	if err != nil {
		return fmt.Errorf("graphstore: marshal edge properties: %w", err)
	}

	edge := map[string]interface{}{
		"uid":              "_:edge",
		"edge.id":          rel.ID.String(),
		"edge.type":        string(rel.Type),
		"edge.weight":      rel.Weight,
		"edge.created":     rel.CreatedAt.Format(time.RFC3339),
		"edge.properties":  string(props),
		"from":             map[string]string{"uid": fromUID},
		"to":               map[string]string{"uid": toUID},
		"dgraph.type":      "Edge",
	}
	data, err := json.Marshal(map[string]interface{}{"uid": fromUID, "edges": []interface{}{edge}})
	if err != nil {
		return fmt.Errorf("graphstore: marshal edge: %w", err)
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)
	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: data, CommitNow: true}); err != nil {
		return fmt.Errorf("%w: upsert edge: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *DgraphStore) findNodeUID(ctx context.Context, id string) (string, error) {
	q := fmt.Sprintf(`{ q(func: eq(node.id, %q)) @filter(eq(node.project, %q)) { uid } }`, id, s.projectID)
	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)

	resp, err := txn.Query(ctx, q)
	if err != nil {
		return "", fmt.Errorf("%w: find node: %v", errs.ErrStoreUnavailable, err)
	}
	var result struct {
		Q []struct {
			UID string `json:"uid"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return "", fmt.Errorf("graphstore: decode find-node response: %w", err)
	}
	if len(result.Q) == 0 {
		return "", errs.ErrNotFound
	}
	return result.Q[0].UID, nil
}

func (s *DgraphStore) edgeExists(ctx context.Context, fromUID, toUID string, relType models.RelationshipType) (bool, error) {
	q := fmt.Sprintf(`{
		q(func: uid(%s)) {
			edges @filter(eq(edge.type, %q)) {
				to @filter(uid(%s))
			}
		}
	}`, fromUID, string(relType), toUID)

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)
	resp, err := txn.Query(ctx, q)
	if err != nil {
		return false, fmt.Errorf("%w: edge-exists query: %v", errs.ErrStoreUnavailable, err)
	}
	var result struct {
		Q []struct {
			Edges []struct {
				To []struct{} `json:"to"`
			} `json:"edges"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return false, fmt.Errorf("graphstore: decode edge-exists response: %w", err)
	}
	for _, n := range result.Q {
		for _, e := range n.Edges {
			if len(e.To) > 0 {
				return true, nil
			}
		}
	}
	return false, nil
}

// Traverse walks up to opts.Depth hops from opts.StartID, optionally
// filtered to opts.EdgeTypes, in opts.Direction. It expands one hop per
// round-trip rather than relying on Dgraph's @recurse, since @recurse
// cannot express a heterogeneous edge-type filter or report direction
// per edge; at the bounded depths this component uses (<=5, per the
// configured graph_max_depth) the extra round-trips are immaterial.
func (s *DgraphStore) Traverse(ctx context.Context, opts TraverseOptions) ([]Node, []*models.Relationship, error) {
	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	direction := opts.Direction
	if direction == "" {
		direction = DirOut
	}

	visited := map[string]Node{}
	var relationships []*models.Relationship
	frontier := []string{opts.StartID}

	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			hop, rels, err := s.expandOneHop(ctx, id, direction, opts.EdgeTypes)
			if err != nil {
				return nil, nil, err
			}
			relationships = append(relationships, rels...)
			for _, n := range hop {
				if _, seen := visited[n.ID]; !seen {
					visited[n.ID] = n
					next = append(next, n.ID)
				}
			}
		}
		frontier = next
	}

	nodes := make([]Node, 0, len(visited))
	for _, n := range visited {
		nodes = append(nodes, n)
	}
	return nodes, dedupeRelationships(relationships), nil
}

func (s *DgraphStore) expandOneHop(ctx context.Context, id string, direction Direction, edgeTypes []models.RelationshipType) ([]Node, []*models.Relationship, error) {
	var nodes []Node
	var rels []*models.Relationship

	if direction == DirOut || direction == DirBoth {
		n, r, err := s.expandDirected(ctx, id, "edges", edgeTypes)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n...)
		rels = append(rels, r...)
	}
	if direction == DirIn || direction == DirBoth {
		n, r, err := s.expandDirected(ctx, id, "~edges", edgeTypes)
		if err != nil {
			return nil, nil, err
		}
		nodes = append(nodes, n...)
		rels = append(rels, r...)
	}
	return nodes, rels, nil
}

func (s *DgraphStore) expandDirected(ctx context.Context, id string, edgePred string, edgeTypes []models.RelationshipType) ([]Node, []*models.Relationship, error) {
	q := fmt.Sprintf(`{
		q(func: eq(node.id, %q)) @filter(eq(node.project, %q)) {
			uid
			%s {
				edge.id
				edge.type
				edge.weight
				edge.created
				to { uid node.id node.variant node.content node.created }
				from { uid node.id node.variant node.content node.created }
			}
		}
	}`, id, s.projectID, edgePred)

	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)
	resp, err := txn.Query(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: traverse hop: %v", errs.ErrStoreUnavailable, err)
	}

	type nodeRow struct {
		ID      string `json:"node.id"`
		Variant string `json:"node.variant"`
		Content string `json:"node.content"`
		Created string `json:"node.created"`
	}
	var result struct {
		Q []struct {
			Edges []struct {
				EdgeID  string    `json:"edge.id"`
				Type    string    `json:"edge.type"`
				Weight  float64   `json:"edge.weight"`
				Created string    `json:"edge.created"`
				To      []nodeRow `json:"to"`
				From    []nodeRow `json:"from"`
			} `json:"edges"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return nil, nil, fmt.Errorf("graphstore: decode hop response: %w", err)
	}

	allowed := allowedSet(edgeTypes)
	var nodes []Node
	var rels []*models.Relationship
	for _, q := range result.Q {
		for _, e := range q.Edges {
			relType := models.RelationshipType(e.Type)
			if len(allowed) > 0 && !allowed[relType] {
				continue
			}
			var other nodeRow
			if edgePred == "edges" && len(e.To) > 0 {
				other = e.To[0]
			} else if edgePred == "~edges" && len(e.From) > 0 {
				other = e.From[0]
			} else {
				continue
			}
			created, _ := time.Parse(time.RFC3339, other.Created)
			nodes = append(nodes, Node{ID: other.ID, Variant: models.Variant(other.Variant), Content: other.Content, CreatedAt: created})

			edgeCreated, _ := time.Parse(time.RFC3339, e.Created)
			sourceID, targetID := id, other.ID
			if edgePred == "~edges" {
				sourceID, targetID = other.ID, id
			}
			srcUUID, _ := uuid.Parse(sourceID)
			tgtUUID, _ := uuid.Parse(targetID)
			rels = append(rels, &models.Relationship{
				Type: relType, Weight: e.Weight, CreatedAt: edgeCreated,
				SourceID: srcUUID, TargetID: tgtUUID,
			})
		}
	}
	return nodes, rels, nil
}

func allowedSet(types []models.RelationshipType) map[models.RelationshipType]bool {
	if len(types) == 0 {
		return nil
	}
	out := make(map[models.RelationshipType]bool, len(types))
	for _, t := range types {
		out[t] = true
	}
	return out
}

func dedupeRelationships(rels []*models.Relationship) []*models.Relationship {
	seen := map[string]bool{}
	out := make([]*models.Relationship, 0, len(rels))
	for _, r := range rels {
		key := fmt.Sprintf("%s|%s|%s", r.SourceID, r.TargetID, r.Type)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// DeleteNode removes a node's own predicates. Edge nodes that reference it
// through from/to are left in place; DeleteOrphanEdges reclaims them.
func (s *DgraphStore) DeleteNode(ctx context.Context, id string) error {
	uid, err := s.findNodeUID(ctx, id)
	if err != nil {
		if err == errs.ErrNotFound {
			return nil
		}
		return err
	}

	txn := s.client.NewTxn()
	defer txn.Discard(ctx)
	mu := &api.Mutation{
		DelNquads: []byte(fmt.Sprintf("<%s> * * .", uid)),
		CommitNow: true,
	}
	if _, err := txn.Mutate(ctx, mu); err != nil {
		return fmt.Errorf("%w: delete node: %v", errs.ErrStoreUnavailable, err)
	}
	return nil
}

// MergeNode re-points every edge whose from or to references fromID onto
// toID, then deletes the fromID node. The normalizer calls this during
// deduplication to fold a losing duplicate's relationships onto the
// surviving memory before soft-deleting it; without it DeleteNode alone
// would leave those edges pointing at a uid that no longer resolves.
func (s *DgraphStore) MergeNode(ctx context.Context, fromID, toID string) error {
	fromUID, err := s.findNodeUID(ctx, fromID)
	if err != nil {
		if err == errs.ErrNotFound {
			return nil
		}
		return err
	}
	toUID, err := s.findNodeUID(ctx, toID)
	if err != nil {
		return fmt.Errorf("graphstore: merge target node not found: %w", err)
	}

	q := fmt.Sprintf(`{
		asFrom(func: uid(%s)) { ~from { uid } }
		asTo(func: uid(%s)) { ~to { uid } }
	}`, fromUID, fromUID)
	txn := s.client.NewReadOnlyTxn()
	resp, err := txn.Query(ctx, q)
	txn.Discard(ctx)
	if err != nil {
		return fmt.Errorf("%w: find edges to repoint: %v", errs.ErrStoreUnavailable, err)
	}

	var result struct {
		AsFrom []struct {
			Edges []struct {
				UID string `json:"uid"`
			} `json:"~from"`
		} `json:"asFrom"`
		AsTo []struct {
			Edges []struct {
				UID string `json:"uid"`
			} `json:"~to"`
		} `json:"asTo"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return fmt.Errorf("graphstore: decode repoint response: %w", err)
	}

	var setNquads, delNquads strings.Builder
	for _, n := range result.AsFrom {
		for _, e := range n.Edges {
			fmt.Fprintf(&delNquads, "<%s> <from> <%s> .\n", e.UID, fromUID)
			fmt.Fprintf(&setNquads, "<%s> <from> <%s> .\n", e.UID, toUID)
			fmt.Fprintf(&setNquads, "<%s> <edges> <%s> .\n", toUID, e.UID)
		}
	}
	for _, n := range result.AsTo {
		for _, e := range n.Edges {
			fmt.Fprintf(&delNquads, "<%s> <to> <%s> .\n", e.UID, fromUID)
			fmt.Fprintf(&setNquads, "<%s> <to> <%s> .\n", e.UID, toUID)
		}
	}

	if setNquads.Len() > 0 {
		txn2 := s.client.NewTxn()
		_, err := txn2.Mutate(ctx, &api.Mutation{SetNquads: []byte(setNquads.String()), DelNquads: []byte(delNquads.String()), CommitNow: true})
		txn2.Discard(ctx)
		if err != nil {
			return fmt.Errorf("%w: repoint edges: %v", errs.ErrStoreUnavailable, err)
		}
	}

	return s.DeleteNode(ctx, fromID)
}

// DeleteOrphanEdges removes Edge-typed nodes whose from or to endpoint no
// longer resolves to a live MemoryNode. DeleteNode's wildcard delete only
// strips predicates set on the deleted uid itself; a separate Edge node
// that merely references that uid through from/to is untouched and left
// dangling, so this sweep is what actually reclaims it.
func (s *DgraphStore) DeleteOrphanEdges(ctx context.Context) (int, error) {
	q := `{
		edges(func: type(Edge)) {
			uid
			from { uid node.id }
			to { uid node.id }
		}
	}`
	txn := s.client.NewReadOnlyTxn()
	resp, err := txn.Query(ctx, q)
	txn.Discard(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: find orphan edges: %v", errs.ErrStoreUnavailable, err)
	}

	var result struct {
		Edges []struct {
			UID  string `json:"uid"`
			From []struct {
				ID string `json:"node.id"`
			} `json:"from"`
			To []struct {
				ID string `json:"node.id"`
			} `json:"to"`
		} `json:"edges"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return 0, fmt.Errorf("graphstore: decode orphan-edges response: %w", err)
	}

	var orphanUIDs []string
	for _, e := range result.Edges {
		fromAlive := len(e.From) > 0 && e.From[0].ID != ""
		toAlive := len(e.To) > 0 && e.To[0].ID != ""
		if !fromAlive || !toAlive {
			orphanUIDs = append(orphanUIDs, e.UID)
		}
	}
	if len(orphanUIDs) == 0 {
		return 0, nil
	}

	var delNquads strings.Builder
	for _, uid := range orphanUIDs {
		fmt.Fprintf(&delNquads, "<%s> * * .\n", uid)
	}

	txn2 := s.client.NewTxn()
	_, err = txn2.Mutate(ctx, &api.Mutation{DelNquads: []byte(delNquads.String()), CommitNow: true})
	txn2.Discard(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: delete orphan edges: %v", errs.ErrStoreUnavailable, err)
	}
	return len(orphanUIDs), nil
}

// CountByVariant counts nodes with the given variant label.
func (s *DgraphStore) CountByVariant(ctx context.Context, variant models.Variant) (int64, error) {
	q := fmt.Sprintf(`{ q(func: eq(node.variant, %q)) @filter(eq(node.project, %q)) { count(uid) } }`, string(variant), s.projectID)
	txn := s.client.NewReadOnlyTxn()
	defer txn.Discard(ctx)
	resp, err := txn.Query(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("%w: count: %v", errs.ErrStoreUnavailable, err)
	}
	var result struct {
		Q []struct {
			Count int64 `json:"count"`
		} `json:"q"`
	}
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return 0, fmt.Errorf("graphstore: decode count response: %w", err)
	}
	if len(result.Q) == 0 {
		return 0, nil
	}
	return result.Q[0].Count, nil
}

func (s *DgraphStore) Health(ctx context.Context) error {
	_, err := s.findNodeUID(ctx, "__health__")
	if err != nil && err != errs.ErrNotFound {
		return err
	}
	return nil
}

func (s *DgraphStore) Close() error {
	return s.conn.Close()
}
