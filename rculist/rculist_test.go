package rculist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/nbtaylor/goqsbr"
)

func lessUint32(a, b uint32) bool { return a < b }

func collect[T any](l *List[T], g qsbr.ReadGuard) []T {
	var out []T
	for v := range l.Iterate(g) {
		out = append(out, v)
	}
	return out
}

func TestInsertAscending(t *testing.T) {
	l := New(lessUint32, qsbr.NewMutex())
	for _, v := range []uint32{5, 1, 9, 3, 7} {
		l.Insert(v)
	}

	e := qsbr.New()
	h := e.Register(1)
	defer h.Close()
	guard := h.Read()
	defer guard.Done()

	assert.Equal(t, []uint32{1, 3, 5, 7, 9}, collect(l, guard))
}

func TestInsertBeforeHead(t *testing.T) {
	l := New(lessUint32, qsbr.NewMutex())
	l.Insert(10)
	l.Insert(5)
	l.Insert(1)

	e := qsbr.New()
	h := e.Register(1)
	defer h.Close()
	guard := h.Read()
	defer guard.Done()

	assert.Equal(t, []uint32{1, 5, 10}, collect(l, guard))
}

func TestInsertReturnsPointerToStoredElement(t *testing.T) {
	l := New(lessUint32, qsbr.NewMutex())
	p := l.Insert(42)
	require.Equal(t, uint32(42), *p)
}

func TestRemoveUnlinksAndSyncs(t *testing.T) {
	l := New(lessUint32, qsbr.NewMutex())
	l.Insert(1)
	l.Insert(2)
	l.Insert(3)

	e := qsbr.New()
	h := e.Register(1)
	defer h.Close()

	v, ok := l.Remove(2, h)
	require.True(t, ok)
	assert.Equal(t, uint32(2), v)

	guard := h.Read()
	defer guard.Done()
	assert.Equal(t, []uint32{1, 3}, collect(l, guard))
}

func TestRemoveAbsentReturnsFalse(t *testing.T) {
	l := New(lessUint32, qsbr.NewMutex())
	l.Insert(1)

	e := qsbr.New()
	h := e.Register(1)
	defer h.Close()

	_, ok := l.Remove(99, h)
	assert.False(t, ok)
}

func TestIterateStopsWhenYieldReturnsFalse(t *testing.T) {
	l := New(lessUint32, qsbr.NewMutex())
	l.Insert(1)
	l.Insert(2)
	l.Insert(3)

	e := qsbr.New()
	h := e.Register(1)
	defer h.Close()
	guard := h.Read()
	defer guard.Done()

	var seen []uint32
	for v := range l.Iterate(guard) {
		seen = append(seen, v)
		if v == 2 {
			break
		}
	}
	assert.Equal(t, []uint32{1, 2}, seen)
}

// modifyList mirrors the original source's per-goroutine modify_rcu scenario:
// register, insert id, confirm it is visible while reading, remove even ids,
// then announce a quiescent state before returning.
func modifyList(id uint64, e *qsbr.Engine, l *List[uint32]) error {
	h := e.Register(id)
	defer h.Close()

	v := uint32(id)
	l.Insert(v)

	guard := h.Read()
	found := false
	for x := range l.Iterate(guard) {
		if x == v {
			found = true
			break
		}
	}
	guard.Done()
	if !found {
		return errNotFound(v)
	}

	if id%2 == 0 {
		popped, ok := l.Remove(v, h)
		if !ok || popped != v {
			return errNotFound(v)
		}
	}

	h.QuiescentState()
	return nil
}

type errNotFound uint32

func (e errNotFound) Error() string { return "value not found in list" }

func TestSingleGoroutineList(t *testing.T) {
	e := qsbr.New()
	l := New(lessUint32, qsbr.NewMutex())
	require.NoError(t, modifyList(1, e, l))
}

func TestManyGoroutinesList(t *testing.T) {
	e := qsbr.New()
	l := New(lessUint32, qsbr.NewMutex())

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		id := uint64(i)
		g.Go(func() error { return modifyList(id, e, l) })
	}
	require.NoError(t, g.Wait())
}
