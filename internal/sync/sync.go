// Package sync coordinates writes across the vector store (C3) and graph
// store (C4) so the two stay consistent despite independent failure modes:
// the vector store write must succeed synchronously (it is the primary
// read path), while a graph store failure is recorded in a persistent
// retry log and repaired in the background, grounded on the same
// BadgerDB-backed durability pattern the embedding cache uses.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/memcore/memcore/internal/errs"
	"github.com/memcore/memcore/internal/graphstore"
	"github.com/memcore/memcore/internal/metrics"
	"github.com/memcore/memcore/internal/models"
	"github.com/memcore/memcore/internal/vectorstore"
)

const retryLogPrefix = "sync:retry:"

// retryEntry is the persisted record of a memory whose graph-store write
// has not yet succeeded. Relationships holds the edges the original Write
// call was asked to persist alongside the node, so a retry replays the
// whole intended C4 operation rather than just the node upsert.
type retryEntry struct {
	MemoryID      string                 `json:"memory_id"`
	Variant       string                 `json:"variant"`
	Relationships []*models.Relationship `json:"relationships,omitempty"`
	Attempts      int                    `json:"attempts"`
	LastError     string                 `json:"last_error"`
	NextRetry     time.Time              `json:"next_retry"`
}

// Manager performs two-phase writes across the vector and graph stores and
// reconciles failures via a background retry loop.
type Manager struct {
	vectors vectorstore.Store
	graph   graphstore.Store
	db      *badger.DB
	log     *zap.Logger

	interval   time.Duration
	maxRetries int

	locks   sync.Map // id string -> *sync.Mutex, stripes writers per memory id
	stopCh  chan struct{}
	stopped sync.Once
}

// NewManager opens the retry log at retryLogPath and wires it to vectors
// and graph. interval controls how often the reconciler drains pending
// entries; maxRetries bounds attempts before an entry is marked failed.
func NewManager(vectors vectorstore.Store, graph graphstore.Store, retryLogPath string, interval time.Duration, maxRetries int, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	opts := badger.DefaultOptions(retryLogPath).WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("sync: open retry log: %w", err)
	}
	return &Manager{
		vectors:    vectors,
		graph:      graph,
		db:         db,
		log:        log,
		interval:   interval,
		maxRetries: maxRetries,
		stopCh:     make(chan struct{}),
	}, nil
}

// Close stops the reconciler and releases the retry log.
func (m *Manager) Close() error {
	m.stopped.Do(func() { close(m.stopCh) })
	return m.db.Close()
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	l, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// Write performs the two-phase write for m: the vector store first (its
// failure is surfaced immediately since it is the synchronous read path),
// then the graph store (its failure is swallowed into the retry log and m's
// SyncStatus is set to pending rather than failing the caller's request).
func (m *Manager) Write(ctx context.Context, mem *models.Memory, rels []*models.Relationship) error {
	lock := m.lockFor(mem.ID.String())
	lock.Lock()
	defer lock.Unlock()

	if err := m.vectors.EnsureCollection(ctx, mem.Variant); err != nil {
		return err
	}
	if err := m.vectors.Upsert(ctx, mem); err != nil {
		return fmt.Errorf("%w: vector store write: %v", errs.ErrStoreUnavailable, err)
	}

	if err := m.writeGraph(ctx, mem, rels); err != nil {
		m.log.Warn("graph_write_deferred", zap.String("memory_id", mem.ID.String()), zap.Error(err))
		mem.SyncStatus = models.SyncPending
		_ = m.vectors.UpdatePayload(ctx, mem.Variant, mem.ID.String(), func(v *models.Memory) {
			v.SyncStatus = models.SyncPending
		})
		return m.enqueueRetry(mem.ID.String(), mem.Variant, rels, err)
	}

	mem.SyncStatus = models.SyncSynced
	return nil
}

func (m *Manager) writeGraph(ctx context.Context, mem *models.Memory, rels []*models.Relationship) error {
	if err := m.graph.UpsertNode(ctx, mem); err != nil {
		return err
	}
	for _, r := range rels {
		if err := m.graph.UpsertEdge(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) enqueueRetry(memoryID string, variant models.Variant, rels []*models.Relationship, cause error) error {
	entry := retryEntry{
		MemoryID:      memoryID,
		Variant:       string(variant),
		Relationships: rels,
		Attempts:      0,
		LastError:     cause.Error(),
		NextRetry:     time.Now().UTC(),
	}
	return m.persistRetry(entry)
}

func (m *Manager) persistRetry(entry retryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("sync: marshal retry entry: %w", err)
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(retryLogPrefix+entry.MemoryID), data)
	})
}

func (m *Manager) deleteRetry(memoryID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(retryLogPrefix + memoryID))
	})
}

// PendingRetries returns the memory ids of all entries currently awaiting
// reconciliation; reconcileOnce uses their count for the retry-queue gauge.
func (m *Manager) PendingRetries(ctx context.Context) ([]string, error) {
	var ids []string
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retryLogPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e retryEntry
			err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) })
			if err != nil {
				continue
			}
			ids = append(ids, e.MemoryID)
		}
		return nil
	})
	return ids, err
}

// Run starts the reconciler loop; it blocks until ctx is cancelled or Close
// is called.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reconcileOnce(ctx)
		}
	}
}

func (m *Manager) reconcileOnce(ctx context.Context) {
	var entries []retryEntry
	_ = m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(retryLogPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var e retryEntry
			err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &e) })
			if err != nil {
				continue
			}
			if time.Now().UTC().After(e.NextRetry) {
				entries = append(entries, e)
			}
		}
		return nil
	})

	for _, e := range entries {
		m.retryOne(ctx, e)
	}

	if pending, err := m.PendingRetries(ctx); err == nil {
		metrics.SyncRetryQueueDepth.Set(float64(len(pending)))
	}
}

func (m *Manager) retryOne(ctx context.Context, e retryEntry) {
	lock := m.lockFor(e.MemoryID)
	lock.Lock()
	defer lock.Unlock()

	mem, err := m.vectors.Get(ctx, models.Variant(e.Variant), e.MemoryID)
	if err != nil {
		m.log.Warn("retry_source_missing", zap.String("memory_id", e.MemoryID), zap.Error(err))
		_ = m.deleteRetry(e.MemoryID)
		return
	}

	if err := m.writeGraph(ctx, mem, e.Relationships); err != nil {
		e.Attempts++
		e.LastError = err.Error()
		if e.Attempts >= m.maxRetries {
			m.log.Error("sync_retry_exhausted", zap.String("memory_id", e.MemoryID), zap.Int("attempts", e.Attempts))
			metrics.SyncFailuresTotal.Inc()
			_ = m.vectors.UpdatePayload(ctx, mem.Variant, mem.ID.String(), func(v *models.Memory) {
				v.SyncStatus = models.SyncFailed
			})
			_ = m.deleteRetry(e.MemoryID)
			return
		}
		e.NextRetry = time.Now().UTC().Add(backoff(e.Attempts))
		_ = m.persistRetry(e)
		return
	}

	_ = m.vectors.UpdatePayload(ctx, mem.Variant, mem.ID.String(), func(v *models.Memory) {
		v.SyncStatus = models.SyncSynced
	})
	_ = m.deleteRetry(e.MemoryID)
}

func backoff(attempt int) time.Duration {
	base := 30 * time.Second
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	if d > 10*time.Minute {
		d = 10 * time.Minute
	}
	return d
}

