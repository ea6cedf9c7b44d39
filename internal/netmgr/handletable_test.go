package netmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTable_ClaimAssignsDenseSlots(t *testing.T) {
	tbl := newHandleTable()

	h0 := &Handle{}
	h1 := &Handle{}

	slot0 := tbl.claim(h0)
	slot1 := tbl.claim(h1)

	assert.Equal(t, 0, slot0)
	assert.Equal(t, 1, slot1)
	assert.Equal(t, 2, tbl.count())
}

func TestHandleTable_RemoveRecyclesSlotLIFO(t *testing.T) {
	tbl := newHandleTable()

	h0 := &Handle{}
	h1 := &Handle{}
	h2 := &Handle{}

	slot0 := tbl.claim(h0)
	_ = tbl.claim(h1)

	tbl.remove(slot0)
	require.Equal(t, 1, tbl.count())

	slot2 := tbl.claim(h2)
	assert.Equal(t, slot0, slot2, "freed slots are reused LIFO before growing the dense array")
	assert.Equal(t, 2, tbl.count())
}

func TestHandleTable_RemoveUnknownSlotIsNoop(t *testing.T) {
	tbl := newHandleTable()

	tbl.claim(&Handle{})
	tbl.remove(99)

	assert.Equal(t, 1, tbl.count())
}

func TestHandleTable_ForEachVisitsLiveHandlesOnly(t *testing.T) {
	tbl := newHandleTable()

	h0 := &Handle{}
	h1 := &Handle{}

	slot0 := tbl.claim(h0)
	tbl.claim(h1)
	tbl.remove(slot0)

	var visited []*Handle
	tbl.forEach(func(h *Handle) {
		visited = append(visited, h)
	})

	require.Len(t, visited, 1)
	assert.Same(t, h1, visited[0])
}
