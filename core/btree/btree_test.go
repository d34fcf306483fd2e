package btree

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/pagestore"
)

// --- Test Helpers ---

func setupTree(t *testing.T, order int) *BTree {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.db")
	bt, err := Create(path, order, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { bt.Close() })
	return bt
}

// checkInvariants walks the whole tree and asserts the structural rules:
// keys strictly ascending within a node and across subtree boundaries, key
// counts within [t-1, m-1] for non-root nodes, child counts equal to key
// count plus one, and every leaf at the same depth.
func checkInvariants(t *testing.T, bt *BTree) {
	t.Helper()
	if bt.rootID == pagestore.NoPage {
		return
	}
	root, err := bt.store.ReadNode(bt.rootID)
	require.NoError(t, err)
	if !root.Leaf {
		// A drained root leaf may hold zero keys; an internal root cannot,
		// the shrink step would have replaced it.
		require.GreaterOrEqual(t, root.KeyCount(), 1)
	}

	var minKey, maxKey int32 = -1 << 31, 1<<31 - 1
	checkSubtree(t, bt, root, true, minKey, maxKey, -1, 0)
}

// checkSubtree asserts invariants for one node and recurses. leafDepth is a
// pointer-free accumulator: -1 until the first leaf fixes the expected depth.
func checkSubtree(t *testing.T, bt *BTree, node *pagestore.Node, isRoot bool, lo, hi int32, wantLeafDepth, depth int) int {
	t.Helper()

	require.LessOrEqual(t, node.KeyCount(), bt.order-1,
		"node %d exceeds key capacity", node.PageID)
	if !isRoot {
		require.GreaterOrEqual(t, node.KeyCount(), bt.minDegree-1,
			"node %d below minimum key count", node.PageID)
	}

	for i, key := range node.Keys {
		require.Greater(t, key, lo, "node %d key %d out of subtree range", node.PageID, i)
		require.Less(t, key, hi, "node %d key %d out of subtree range", node.PageID, i)
		if i > 0 {
			require.Greater(t, key, node.Keys[i-1], "node %d keys not strictly ascending", node.PageID)
		}
	}

	if node.Leaf {
		require.Empty(t, node.Children)
		if wantLeafDepth >= 0 {
			require.Equal(t, wantLeafDepth, depth, "leaf %d at uneven depth", node.PageID)
		}
		return depth
	}

	require.Len(t, node.Children, node.KeyCount()+1)
	for i := 0; i <= node.KeyCount(); i++ {
		childLo, childHi := lo, hi
		if i > 0 {
			childLo = node.Keys[i-1]
		}
		if i < node.KeyCount() {
			childHi = node.Keys[i]
		}
		child, err := bt.store.ReadNode(node.Children[i])
		require.NoError(t, err)
		wantLeafDepth = checkSubtree(t, bt, child, false, childLo, childHi, wantLeafDepth, depth+1)
	}
	return wantLeafDepth
}

// collect returns all pairs in ascending key order.
func collect(t *testing.T, bt *BTree) map[int32]int32 {
	t.Helper()
	got := make(map[int32]int32)
	var prev int32 = -1 << 31
	require.NoError(t, bt.Ascend(func(key, value int32) error {
		require.Greater(t, key, prev, "ascend out of order")
		prev = key
		got[key] = value
		return nil
	}))
	return got
}

// permute yields 1..n in a deterministic scrambled order.
func permute(n int) []int32 {
	keys := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		keys = append(keys, int32((i*37)%n)+1)
	}
	return keys
}

// --- Test Cases ---

func TestCreateRejectsSmallOrder(t *testing.T) {
	_, err := Create(filepath.Join(t.TempDir(), "bad.db"), 2, zap.NewNop())
	require.ErrorIs(t, err, pagestore.ErrInvalidOrder)
	require.Equal(t, StatusInvalidParam, StatusOf(err))
}

func TestEmptyTree(t *testing.T) {
	bt := setupTree(t, 4)

	require.Equal(t, pagestore.NoPage, bt.RootPageID())

	_, _, found, err := bt.Search(42)
	require.NoError(t, err)
	require.False(t, found)

	err = bt.Remove(42)
	require.ErrorIs(t, err, ErrKeyNotFound)
	require.Equal(t, StatusNotFound, StatusOf(err))
}

func TestInsertAndSearch(t *testing.T) {
	for _, order := range []int{3, 4, 5, 8} {
		bt := setupTree(t, order)

		keys := permute(200)
		for _, k := range keys {
			updated, err := bt.Insert(k, k*10)
			require.NoError(t, err)
			require.False(t, updated)
		}
		checkInvariants(t, bt)

		for _, k := range keys {
			value, found, err := bt.Get(k)
			require.NoError(t, err)
			require.True(t, found, "order %d key %d missing", order, k)
			require.Equal(t, k*10, value)
		}

		_, _, found, err := bt.Search(9999)
		require.NoError(t, err)
		require.False(t, found)

		require.Len(t, collect(t, bt), 200)
	}
}

func TestInsertDuplicateUpdatesInPlace(t *testing.T) {
	bt := setupTree(t, 4)

	updated, err := bt.Insert(7, 70)
	require.NoError(t, err)
	require.False(t, updated)

	updated, err = bt.Insert(7, 700)
	require.NoError(t, err)
	require.True(t, updated)

	value, found, err := bt.Get(7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, int32(700), value)

	require.Len(t, collect(t, bt), 1)
}

func TestRootSplitOnAscendingInserts(t *testing.T) {
	bt := setupTree(t, 4)

	// Capacity is three keys; the fourth insert must split the root.
	for k := int32(1); k <= 4; k++ {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
	}

	splits, _ := bt.OpStats()
	require.Equal(t, int64(1), splits)

	root, err := bt.store.ReadNode(bt.rootID)
	require.NoError(t, err)
	require.False(t, root.Leaf)
	require.Equal(t, []int32{2}, root.Keys)
	require.Len(t, root.Children, 2)
	checkInvariants(t, bt)
}

// TestOrderFourScenario replays the textbook sequence and checks the exact
// resulting shape: two levels, root [10 20], leaves [5 6 7] [12 17] [30].
func TestOrderFourScenario(t *testing.T) {
	bt := setupTree(t, 4)

	for _, k := range []int32{10, 20, 5, 6, 12, 30, 7, 17} {
		_, err := bt.Insert(k, k*100)
		require.NoError(t, err)
		checkInvariants(t, bt)
	}

	root, err := bt.store.ReadNode(bt.rootID)
	require.NoError(t, err)
	require.Equal(t, []int32{10, 20}, root.Keys)
	require.Len(t, root.Children, 3)

	var leaves [][]int32
	for _, id := range root.Children {
		child, err := bt.store.ReadNode(id)
		require.NoError(t, err)
		require.True(t, child.Leaf)
		leaves = append(leaves, child.Keys)
	}
	require.Equal(t, [][]int32{{5, 6, 7}, {12, 17}, {30}}, leaves)

	_, _, found, err := bt.Search(17)
	require.NoError(t, err)
	require.True(t, found)

	require.NoError(t, bt.Remove(6))
	checkInvariants(t, bt)
	_, _, found, err = bt.Search(6)
	require.NoError(t, err)
	require.False(t, found)
}

// TestOddOrderSplitKeepsMinimum pins the odd-order split discipline: every
// split must leave both halves at t-1 keys, checked immediately after each
// insert rather than only on the final shape. The first sequence forces a
// split whose new key lands left of the median at order 3.
func TestOddOrderSplitKeepsMinimum(t *testing.T) {
	bt := setupTree(t, 3)
	for _, k := range []int32{20, 21, 19} {
		_, err := bt.Insert(k, k)
		require.NoError(t, err)
		checkInvariants(t, bt)
	}
	root, err := bt.store.ReadNode(bt.rootID)
	require.NoError(t, err)
	require.Equal(t, []int32{20}, root.Keys)
	require.Len(t, root.Children, 2)

	for _, order := range []int{3, 5, 7} {
		bt := setupTree(t, order)
		for _, k := range permute(150) {
			_, err := bt.Insert(k, k)
			require.NoError(t, err, "order %d inserting %d", order, k)
			checkInvariants(t, bt)
		}
		require.Len(t, collect(t, bt), 150)
	}
}

func TestReopenPreservesContents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.db")

	bt, err := Create(path, 5, zap.NewNop())
	require.NoError(t, err)
	keys := permute(100)
	for _, k := range keys {
		_, err := bt.Insert(k, k+1000)
		require.NoError(t, err)
	}
	require.NoError(t, bt.Close())

	bt2, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer bt2.Close()

	require.Equal(t, 5, bt2.Order())
	checkInvariants(t, bt2)
	for _, k := range keys {
		value, found, err := bt2.Get(k)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, k+1000, value)
	}
}

func TestClosedHandle(t *testing.T) {
	bt := setupTree(t, 4)
	require.NoError(t, bt.Close())

	_, err := bt.Insert(1, 1)
	require.ErrorIs(t, err, ErrTreeClosed)
	_, _, _, err = bt.Search(1)
	require.ErrorIs(t, err, ErrTreeClosed)
	require.ErrorIs(t, bt.Remove(1), ErrTreeClosed)
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, StatusSuccess, StatusOf(nil))
	require.Equal(t, StatusNotFound, StatusOf(ErrKeyNotFound))
	require.Equal(t, StatusInvalidParam, StatusOf(pagestore.ErrInvalidOrder))
	require.Equal(t, StatusInvalidParam, StatusOf(pagestore.ErrInvalidPageID))
	require.Equal(t, StatusAllocError, StatusOf(pagestore.ErrAlloc))
	require.Equal(t, StatusIOError, StatusOf(pagestore.ErrIO))
}
