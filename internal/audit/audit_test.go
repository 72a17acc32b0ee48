package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRecordAndQuery(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Entry{Operation: "add", MemoryID: "mem-1", Variant: "function", Success: true}))
	require.NoError(t, l.Record(ctx, Entry{Operation: "delete", MemoryID: "mem-1", Variant: "function", Success: false, Error: "not found"}))

	entries, err := l.Query(ctx, Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "delete", entries[0].Operation)
	require.False(t, entries[0].Success)
	require.Equal(t, "not found", entries[0].Error)
}

func TestQueryFiltersByOperation(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, Entry{Operation: "add", MemoryID: "mem-1", Variant: "function", Success: true}))
	require.NoError(t, l.Record(ctx, Entry{Operation: "update", MemoryID: "mem-1", Variant: "function", Success: true}))

	entries, err := l.Query(ctx, Filter{Operation: "update"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "update", entries[0].Operation)
}
