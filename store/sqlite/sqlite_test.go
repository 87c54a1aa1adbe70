package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/livecoder/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func appendEvent(t *testing.T, s *Store, typ model.EventType, v any) *model.Event {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	e := &model.Event{Type: typ, Data: data}
	require.NoError(t, s.Append(context.Background(), e))
	return e
}

func TestAppendAssignsIDs(t *testing.T) {
	s := newTestStore(t)

	e1 := appendEvent(t, s, model.EventMessage, map[string]string{"content": "hi"})
	e2 := appendEvent(t, s, model.EventExecution, map[string]bool{"success": true})

	assert.Equal(t, int64(1), e1.ID)
	assert.Equal(t, int64(2), e2.ID)
	assert.False(t, e1.CreatedAt.IsZero())
}

func TestEventsPagination(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		appendEvent(t, s, model.EventAction, map[string]int{"n": i})
	}

	page, err := s.Events(context.Background(), 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(1), page[0].ID)

	rest, err := s.Events(context.Background(), page[1].ID, 0)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.Equal(t, int64(3), rest[0].ID)
	assert.JSONEq(t, `{"n":4}`, string(rest[2].Data))
	assert.Equal(t, model.EventAction, rest[2].Type)
}

func TestEventsEmpty(t *testing.T) {
	s := newTestStore(t)
	events, err := s.Events(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.NotNil(t, events)
}

func TestCount(t *testing.T) {
	s := newTestStore(t)
	appendEvent(t, s, model.EventMessage, "a")
	appendEvent(t, s, model.EventMessage, "b")
	appendEvent(t, s, model.EventScript, "c")

	n, err := s.Count(context.Background(), model.EventMessage)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := newTestStore(t)
	b := newTestStore(t)
	appendEvent(t, a, model.EventMessage, "only in a")

	events, err := b.Events(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	s, err := New(path)
	require.NoError(t, err)
	appendEvent(t, s, model.EventScript, map[string]string{"script": "a=1"})
	require.NoError(t, s.Close())

	s2, err := New(path)
	require.NoError(t, err)
	defer s2.Close()
	n, err := s2.Count(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 1, n, fmt.Sprintf("journal at %s", path))
}
