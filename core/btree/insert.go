package btree

import (
	"slices"

	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/pagestore"
)

// Insert adds a key/value pair to the tree. A key that already exists has
// its value overwritten in place, persisting only the containing node; the
// returned bool reports that update path.
//
// For even orders the descent splits full nodes preemptively, so it always
// enters a node with spare capacity. A full node of an odd order holds
// 2t-2 keys and cannot split into two halves of minimum degree, so odd
// orders descend unsplit and relieve overflowed nodes on the way back up,
// which leaves exactly t-1 keys on each side.
func (bt *BTree) Insert(key, value int32) (bool, error) {
	if bt.store == nil {
		return false, ErrTreeClosed
	}

	// Update-on-duplicate: one node read, one node write.
	if bt.rootID != pagestore.NoPage {
		pageID, idx, found, err := bt.Search(key)
		if err != nil {
			return false, err
		}
		if found {
			node, err := bt.fetch(pageID)
			if err != nil {
				return false, err
			}
			node.Values[idx] = value
			if err := bt.store.WriteNode(node); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	// First key: allocate the root leaf.
	if bt.rootID == pagestore.NoPage {
		id, err := bt.store.AllocatePage()
		if err != nil {
			return false, err
		}
		root := &pagestore.Node{
			PageID: id,
			Leaf:   true,
			Keys:   []int32{key},
			Values: []int32{value},
		}
		if err := bt.store.WriteNode(root); err != nil {
			return false, err
		}
		if err := bt.setRoot(id); err != nil {
			return false, err
		}
		bt.logger.Debug("allocated root leaf", zap.Int32("page", int32(id)))
		return false, nil
	}

	root, err := bt.fetch(bt.rootID)
	if err != nil {
		return false, err
	}

	if bt.order < 2*bt.minDegree {
		return false, bt.insertReactive(root, key, value)
	}

	if root.Full(bt.order) {
		// Grow upward: a new root whose sole child is the old root,
		// then split that child before descending.
		newRootID, err := bt.store.AllocatePage()
		if err != nil {
			return false, err
		}
		newRoot := &pagestore.Node{
			PageID:   newRootID,
			Leaf:     false,
			Children: []pagestore.PageID{root.PageID},
		}
		if err := bt.splitChild(newRoot, 0, root); err != nil {
			return false, err
		}
		if err := bt.setRoot(newRootID); err != nil {
			return false, err
		}
		bt.logger.Debug("root split",
			zap.Int32("old_root", int32(root.PageID)),
			zap.Int32("new_root", int32(newRootID)))
		root = newRoot
	}

	return false, bt.insertNonFull(root, key, value)
}

// insertNonFull descends from a node known to have spare capacity, splitting
// any full child ahead of the step into it. The loop mirrors the recursion
// of the textbook algorithm with the recursion depth made explicit.
func (bt *BTree) insertNonFull(node *pagestore.Node, key, value int32) error {
	for {
		idx, _ := slices.BinarySearch(node.Keys, key)

		if node.Leaf {
			node.Keys = slices.Insert(node.Keys, idx, key)
			node.Values = slices.Insert(node.Values, idx, value)
			return bt.store.WriteNode(node)
		}

		child, err := bt.fetch(node.Children[idx])
		if err != nil {
			return err
		}
		if child.Full(bt.order) {
			if err := bt.splitChild(node, idx, child); err != nil {
				return err
			}
			// The promoted median decides which half the key belongs to.
			if key > node.Keys[idx] {
				idx++
				child, err = bt.fetch(node.Children[idx])
				if err != nil {
					return err
				}
			}
		}
		node = child
	}
}

// splitChild relieves a full child: the upper keys move to a freshly
// allocated sibling, the median is promoted into the parent at idx, and the
// child keeps the lower t-1 keys. All three pages are persisted before
// returning, child first, then sibling, then parent, so a failure mid-way
// leaves the narrowest possible inconsistency. Even orders only; a full
// odd-order node has no two-way split that keeps both halves at t-1.
func (bt *BTree) splitChild(parent *pagestore.Node, idx int, child *pagestore.Node) error {
	mid := bt.minDegree - 1 // median key index in the full child

	siblingID, err := bt.store.AllocatePage()
	if err != nil {
		return err
	}
	sibling := &pagestore.Node{
		PageID: siblingID,
		Leaf:   child.Leaf,
		Keys:   slices.Clone(child.Keys[mid+1:]),
		Values: slices.Clone(child.Values[mid+1:]),
	}
	if !child.Leaf {
		sibling.Children = slices.Clone(child.Children[mid+1:])
		child.Children = child.Children[:mid+1]
	}

	promotedKey, promotedValue := child.Keys[mid], child.Values[mid]
	child.Keys = child.Keys[:mid]
	child.Values = child.Values[:mid]

	parent.Keys = slices.Insert(parent.Keys, idx, promotedKey)
	parent.Values = slices.Insert(parent.Values, idx, promotedValue)
	parent.Children = slices.Insert(parent.Children, idx+1, siblingID)

	if err := bt.store.WriteNode(child); err != nil {
		return err
	}
	if err := bt.store.WriteNode(sibling); err != nil {
		return err
	}
	if err := bt.store.WriteNode(parent); err != nil {
		return err
	}

	bt.splits++
	bt.logger.Debug("split child",
		zap.Int32("child", int32(child.PageID)),
		zap.Int32("sibling", int32(siblingID)),
		zap.Int32("parent", int32(parent.PageID)),
		zap.Int32("promoted_key", promotedKey))
	return nil
}

// promotion carries a split's median and fresh sibling up one level of the
// reactive descent.
type promotion struct {
	key, value int32
	sibling    pagestore.PageID
}

// insertReactive is the odd-order insert: descend to the leaf, insert, and
// split overflowed nodes on the unwind. A promotion surviving past the root
// grows the tree with a fresh root page.
func (bt *BTree) insertReactive(root *pagestore.Node, key, value int32) error {
	promo, err := bt.insertOverflow(root, key, value)
	if err != nil || promo == nil {
		return err
	}

	newRootID, err := bt.store.AllocatePage()
	if err != nil {
		return err
	}
	newRoot := &pagestore.Node{
		PageID:   newRootID,
		Leaf:     false,
		Keys:     []int32{promo.key},
		Values:   []int32{promo.value},
		Children: []pagestore.PageID{root.PageID, promo.sibling},
	}
	if err := bt.store.WriteNode(newRoot); err != nil {
		return err
	}
	if err := bt.setRoot(newRootID); err != nil {
		return err
	}
	bt.logger.Debug("root split",
		zap.Int32("old_root", int32(root.PageID)),
		zap.Int32("new_root", int32(newRootID)))
	return nil
}

// insertOverflow inserts below node and returns the promotion when node
// itself had to split. A node holding one key over capacity exists only in
// memory; it is never written before splitOverflowed trims it.
func (bt *BTree) insertOverflow(node *pagestore.Node, key, value int32) (*promotion, error) {
	idx, _ := slices.BinarySearch(node.Keys, key)

	if node.Leaf {
		node.Keys = slices.Insert(node.Keys, idx, key)
		node.Values = slices.Insert(node.Values, idx, value)
	} else {
		child, err := bt.fetch(node.Children[idx])
		if err != nil {
			return nil, err
		}
		promo, err := bt.insertOverflow(child, key, value)
		if err != nil || promo == nil {
			return nil, err
		}
		node.Keys = slices.Insert(node.Keys, idx, promo.key)
		node.Values = slices.Insert(node.Values, idx, promo.value)
		node.Children = slices.Insert(node.Children, idx+1, promo.sibling)
	}

	if len(node.Keys) <= bt.order-1 {
		return nil, bt.store.WriteNode(node)
	}
	return bt.splitOverflowed(node)
}

// splitOverflowed relieves a node holding order keys: the upper half moves
// to a freshly allocated sibling and the median travels up to the caller.
// Splitting the 2t-1 overflowed keys leaves t-1 on each side, so the key
// minimum holds at every odd order. The trimmed node and the sibling are
// persisted here; the parent record is the caller's to update.
func (bt *BTree) splitOverflowed(node *pagestore.Node) (*promotion, error) {
	mid := len(node.Keys) / 2

	siblingID, err := bt.store.AllocatePage()
	if err != nil {
		return nil, err
	}
	sibling := &pagestore.Node{
		PageID: siblingID,
		Leaf:   node.Leaf,
		Keys:   slices.Clone(node.Keys[mid+1:]),
		Values: slices.Clone(node.Values[mid+1:]),
	}
	if !node.Leaf {
		sibling.Children = slices.Clone(node.Children[mid+1:])
		node.Children = node.Children[:mid+1]
	}

	promo := &promotion{key: node.Keys[mid], value: node.Values[mid], sibling: siblingID}
	node.Keys = node.Keys[:mid]
	node.Values = node.Values[:mid]

	if err := bt.store.WriteNode(node); err != nil {
		return nil, err
	}
	if err := bt.store.WriteNode(sibling); err != nil {
		return nil, err
	}

	bt.splits++
	bt.logger.Debug("split overflowed node",
		zap.Int32("node", int32(node.PageID)),
		zap.Int32("sibling", int32(siblingID)),
		zap.Int32("promoted_key", promo.key))
	return promo, nil
}
