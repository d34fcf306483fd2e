package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arvore-db/arvore/core/pagestore"
)

func TestRemoveFromLeaf(t *testing.T) {
	bt := setupTree(t, 4)

	for _, k := range []int32{1, 2, 3} {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}
	require.NoError(t, bt.Remove(2))
	checkInvariants(t, bt)

	got := collect(t, bt)
	require.Equal(t, map[int32]int32{1: 1, 3: 3}, got)
}

func TestRemoveMissingKeyLeavesTreeUntouched(t *testing.T) {
	bt := setupTree(t, 4)

	for k := int32(1); k <= 20; k++ {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}
	before := collect(t, bt)

	require.ErrorIs(t, bt.Remove(99), ErrKeyNotFound)
	checkInvariants(t, bt)
	require.Equal(t, before, collect(t, bt))
}

func TestRemoveInternalKey(t *testing.T) {
	bt := setupTree(t, 4)

	for _, k := range []int32{10, 20, 5, 6, 12, 30, 7, 17} {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}

	// 10 sits in the internal root; removal replaces it with a neighbor
	// from a leaf.
	require.NoError(t, bt.Remove(10))
	checkInvariants(t, bt)

	_, _, found, err := bt.Search(10)
	require.NoError(t, err)
	require.False(t, found)
	require.Len(t, collect(t, bt), 7)
}

func TestRootShrinksAfterMerges(t *testing.T) {
	bt := setupTree(t, 4)

	for k := int32(1); k <= 4; k++ {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}
	require.False(t, bt.rootID == pagestore.NoPage)
	root, err := bt.store.ReadNode(bt.rootID)
	require.NoError(t, err)
	require.False(t, root.Leaf)

	// Dropping back below capacity collapses the tree into a single leaf.
	require.NoError(t, bt.Remove(1))
	require.NoError(t, bt.Remove(2))
	checkInvariants(t, bt)

	root, err = bt.store.ReadNode(bt.rootID)
	require.NoError(t, err)
	require.True(t, root.Leaf)
	require.Equal(t, map[int32]int32{3: 3, 4: 4}, collect(t, bt))
}

// TestRemoveEverything drains trees of several orders completely, checking
// the structure after every removal. Odd orders exercise the return-path
// repair that kicks in when a merge would not fit the record.
func TestRemoveEverything(t *testing.T) {
	for _, order := range []int{3, 4, 5, 7} {
		bt := setupTree(t, order)

		keys := permute(120)
		for _, k := range keys {
			_, err := bt.Insert(k, k*2)
			require.NoError(t, err)
		}
		checkInvariants(t, bt)

		remaining := make(map[int32]int32)
		for _, k := range keys {
			remaining[k] = k * 2
		}

		for _, k := range keys {
			require.NoError(t, bt.Remove(k), "order %d removing %d", order, k)
			delete(remaining, k)
			checkInvariants(t, bt)

			_, _, found, err := bt.Search(k)
			require.NoError(t, err)
			require.False(t, found, "order %d key %d still present", order, k)
		}

		require.Empty(t, collect(t, bt))
	}
}

// TestInterleavedInsertRemove mixes the two mutation paths so borrows,
// merges and fresh splits land on the same pages repeatedly.
func TestInterleavedInsertRemove(t *testing.T) {
	for _, order := range []int{3, 4, 5} {
		bt := setupTree(t, order)
		expect := make(map[int32]int32)

		for round := 0; round < 6; round++ {
			for _, k := range permute(60) {
				key := k + int32(round*17)
				_, err := bt.Insert(key, key)
				require.NoError(t, err)
				expect[key] = key
			}
			for _, k := range permute(60) {
				key := k + int32(round*11)
				if _, ok := expect[key]; !ok {
					continue
				}
				require.NoError(t, bt.Remove(key))
				delete(expect, key)
			}
			checkInvariants(t, bt)
		}

		require.Equal(t, expect, collect(t, bt))
	}
}

// TestSpineWalksRejectEmptyLeaf hand-writes a decodable but malformed page
// (a leaf with zero keys) and checks the predecessor/successor walks refuse
// it instead of indexing out of range.
func TestSpineWalksRejectEmptyLeaf(t *testing.T) {
	bt := setupTree(t, 4)

	id, err := bt.store.AllocatePage()
	require.NoError(t, err)
	require.NoError(t, bt.store.WriteNode(&pagestore.Node{PageID: id, Leaf: true}))

	node, err := bt.store.ReadNode(id)
	require.NoError(t, err)

	_, _, err = bt.subtreeMax(node)
	require.ErrorIs(t, err, pagestore.ErrCorruptRecord)
	_, _, err = bt.subtreeMin(node)
	require.ErrorIs(t, err, pagestore.ErrCorruptRecord)
}

func TestMergeCounterAdvances(t *testing.T) {
	bt := setupTree(t, 4)

	for k := int32(1); k <= 30; k++ {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}
	for k := int32(1); k <= 25; k++ {
		require.NoError(t, bt.Remove(k))
	}

	_, merges := bt.OpStats()
	require.Positive(t, merges)
}

// TestOrphanedPagesAreNotReclaimed pins the allocator behavior: merges
// abandon the right sibling's page, so the page count never decreases.
func TestOrphanedPagesAreNotReclaimed(t *testing.T) {
	bt := setupTree(t, 4)

	for k := int32(1); k <= 20; k++ {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}
	countBefore, err := bt.PageCount()
	require.NoError(t, err)

	for k := int32(1); k <= 20; k++ {
		require.NoError(t, bt.Remove(k))
	}
	countAfter, err := bt.PageCount()
	require.NoError(t, err)
	require.Equal(t, countBefore, countAfter)
}
