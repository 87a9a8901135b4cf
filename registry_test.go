package qsbr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idsOf(r *registry) []uint64 {
	var ids []uint64
	for cur := r.head.Load(); cur != nil; cur = cur.next.Load() {
		ids = append(ids, cur.id)
	}
	return ids
}

func TestRegistryInsertAscending(t *testing.T) {
	r := newRegistry(newBlockingMutex())
	for _, id := range []uint64{5, 1, 9, 3, 7} {
		r.insert(newTentry(id))
	}
	assert.Equal(t, []uint64{1, 3, 5, 7, 9}, idsOf(r))
}

func TestRegistryInsertBeforeHeadUpdatesHead(t *testing.T) {
	r := newRegistry(newBlockingMutex())
	r.insert(newTentry(10))
	r.insert(newTentry(5))
	r.insert(newTentry(1))
	assert.Equal(t, []uint64{1, 5, 10}, idsOf(r))
	assert.Equal(t, uint64(1), r.head.Load().id)
}

func TestRegistryDuplicateIDPanics(t *testing.T) {
	r := newRegistry(newBlockingMutex())
	r.insert(newTentry(4))
	assert.Panics(t, func() { r.insert(newTentry(4)) })
}

func TestRegistryRemoveUnsyncedMaintainsLinks(t *testing.T) {
	r := newRegistry(newBlockingMutex())
	entries := make(map[uint64]*tentry)
	for _, id := range []uint64{1, 2, 3, 4, 5} {
		e := newTentry(id)
		entries[id] = e
		r.insert(e)
	}
	r.removeUnsynced(entries[3])
	assert.Equal(t, []uint64{1, 2, 4, 5}, idsOf(r))

	r.removeUnsynced(entries[1])
	assert.Equal(t, []uint64{2, 4, 5}, idsOf(r))
	assert.Equal(t, uint64(2), r.head.Load().id)

	r.removeUnsynced(entries[5])
	assert.Equal(t, []uint64{2, 4}, idsOf(r))
}

func TestRegistryRemoveAbsentPanics(t *testing.T) {
	r := newRegistry(newBlockingMutex())
	r.insert(newTentry(1))
	assert.Panics(t, func() { r.removeUnsynced(newTentry(2)) })
}

func TestRegistrySnapshotMatchesLiveState(t *testing.T) {
	r := newRegistry(newBlockingMutex())
	r.insert(newTentry(1))
	r.insert(newTentry(2))

	snap := r.snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, uint64(1), snap[0].id)
	assert.Equal(t, uint64(2), snap[1].id)
	assert.Equal(t, uint32(counterStart), snap[0].qstate)
}
