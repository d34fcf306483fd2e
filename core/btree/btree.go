// Package btree implements a disk-resident B-tree index over fixed-size
// page records. Nodes are fetched from and stored to a pagestore.Store;
// at most the nodes on the current root-to-leaf path are held in memory.
//
// The structure is the classic Knuth order-m B-tree: at most m-1 keys per
// node, at least t-1 per non-root node with minimum degree t = ceil(m/2),
// all leaves at the same depth. Inserts split full nodes ahead of the
// descent for even orders and split overflowed nodes on the way back up for
// odd ones; deletes repair under-full children on the way down, with the
// mirror-image odd-order fallback.
package btree

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/pagestore"
)

// BTree is the tree handle: order, root page id and the open page store.
// It is not safe for concurrent use; callers that share a handle must
// arbitrate (see indexmanager).
type BTree struct {
	order      int
	minDegree  int // t = ceil(order/2)
	rootID     pagestore.PageID
	store      *pagestore.Store
	instanceID string
	logger     *zap.Logger

	splits int64
	merges int64
}

// OpStats reports how many node splits and merges the handle has performed
// since it was opened.
func (bt *BTree) OpStats() (splits, merges int64) {
	return bt.splits, bt.merges
}

// Create builds a new, empty tree of the given order on a fresh backing
// file. Orders below pagestore.MinOrder are rejected.
func Create(path string, order int, logger *zap.Logger) (*BTree, error) {
	store, err := pagestore.Create(path, order, logger)
	if err != nil {
		return nil, err
	}
	return newHandle(store, logger), nil
}

// Open loads an existing tree from its backing file. The order and root
// come from the file header.
func Open(path string, logger *zap.Logger) (*BTree, error) {
	store, err := pagestore.Open(path, logger)
	if err != nil {
		return nil, err
	}
	rootID, err := store.RootPageID()
	if err != nil {
		store.Close()
		return nil, err
	}
	bt := newHandle(store, logger)
	bt.rootID = rootID
	return bt, nil
}

func newHandle(store *pagestore.Store, logger *zap.Logger) *BTree {
	order := store.Order()
	id := uuid.NewString()
	return &BTree{
		order:      order,
		minDegree:  (order + 1) / 2,
		rootID:     pagestore.NoPage,
		store:      store,
		instanceID: id,
		logger:     logger.With(zap.String("tree", id)),
	}
}

// Order returns the tree order m.
func (bt *BTree) Order() int { return bt.order }

// MinDegree returns t = ceil(order/2).
func (bt *BTree) MinDegree() int { return bt.minDegree }

// RootPageID returns the current root page id, or pagestore.NoPage for an
// empty tree.
func (bt *BTree) RootPageID() pagestore.PageID { return bt.rootID }

// InstanceID returns the handle's unique id, carried on log fields.
func (bt *BTree) InstanceID() string { return bt.instanceID }

// PageCount returns the number of allocated pages, header and orphans
// included.
func (bt *BTree) PageCount() (int64, error) {
	if bt.store == nil {
		return 0, ErrTreeClosed
	}
	return bt.store.PageCount()
}

// Close flushes and closes the backing file. The handle is unusable
// afterwards.
func (bt *BTree) Close() error {
	if bt.store == nil {
		return nil
	}
	err := bt.store.Close()
	bt.store = nil
	return err
}

// setRoot records a new root both on the handle and in the file header.
func (bt *BTree) setRoot(id pagestore.PageID) error {
	if err := bt.store.SetRootPageID(id); err != nil {
		return err
	}
	bt.rootID = id
	return nil
}

// Search locates a key in a single downward pass. It returns the page id of
// the containing node and the key's index within it. The parent's in-memory
// copy is discarded as soon as the child is fetched, so at most O(height)
// nodes are live at once.
func (bt *BTree) Search(key int32) (pagestore.PageID, int, bool, error) {
	if bt.store == nil {
		return pagestore.NoPage, -1, false, ErrTreeClosed
	}
	id := bt.rootID
	for id != pagestore.NoPage {
		node, err := bt.store.ReadNode(id)
		if err != nil {
			return pagestore.NoPage, -1, false, err
		}
		idx, found := slices.BinarySearch(node.Keys, key)
		if found {
			return node.PageID, idx, true, nil
		}
		if node.Leaf {
			break
		}
		id = node.Children[idx]
	}
	return pagestore.NoPage, -1, false, nil
}

// Get returns the value stored under the key.
func (bt *BTree) Get(key int32) (int32, bool, error) {
	pageID, idx, found, err := bt.Search(key)
	if err != nil || !found {
		return 0, false, err
	}
	node, err := bt.store.ReadNode(pageID)
	if err != nil {
		return 0, false, err
	}
	return node.Values[idx], true, nil
}

// Ascend walks the keys in ascending order, calling fn for each key/value
// pair until fn returns an error or the traversal completes.
func (bt *BTree) Ascend(fn func(key, value int32) error) error {
	if bt.store == nil {
		return ErrTreeClosed
	}
	if bt.rootID == pagestore.NoPage {
		return nil
	}
	return bt.ascend(bt.rootID, fn)
}

func (bt *BTree) ascend(id pagestore.PageID, fn func(key, value int32) error) error {
	node, err := bt.store.ReadNode(id)
	if err != nil {
		return err
	}
	for i, key := range node.Keys {
		if !node.Leaf {
			if err := bt.ascend(node.Children[i], fn); err != nil {
				return err
			}
		}
		if err := fn(key, node.Values[i]); err != nil {
			return err
		}
	}
	if !node.Leaf {
		return bt.ascend(node.Children[len(node.Keys)], fn)
	}
	return nil
}

// fetch is a small wrapper that annotates read failures with the tree
// instance for log correlation at the call sites that bubble errors up.
func (bt *BTree) fetch(id pagestore.PageID) (*pagestore.Node, error) {
	node, err := bt.store.ReadNode(id)
	if err != nil {
		return nil, fmt.Errorf("fetching node %d: %w", id, err)
	}
	return node, nil
}
