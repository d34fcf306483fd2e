package pagestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// sentinel fills unused key, value and child slots on disk.
const sentinel int32 = -1

// Node is the in-memory form of one page record. Slices carry only the
// valid entries; sentinel padding exists solely on disk.
//
// Record layout (little-endian, order m fixed at file creation):
//
//	[key_count: int64] [is_leaf: 1 byte] [page_id: int64]
//	[keys:     (m-1) × int32, sentinel -1]
//	[values:   (m-1) × int32, sentinel -1]
//	[children:  m    × int32, sentinel -1]
type Node struct {
	PageID   PageID
	Leaf     bool
	Keys     []int32
	Values   []int32
	Children []PageID
}

// KeyCount returns the number of valid keys in the node.
func (n *Node) KeyCount() int { return len(n.Keys) }

// Full reports whether the node is at the order-1 key capacity.
func (n *Node) Full(order int) bool { return len(n.Keys) == order-1 }

// validateShape rejects nodes that cannot be expressed in the fixed record.
func (n *Node) validateShape(order int) error {
	if len(n.Keys) > order-1 {
		return fmt.Errorf("%w: %d keys exceed capacity %d", ErrSerialization, len(n.Keys), order-1)
	}
	if len(n.Values) != len(n.Keys) {
		return fmt.Errorf("%w: %d values for %d keys", ErrSerialization, len(n.Values), len(n.Keys))
	}
	if n.Leaf {
		if len(n.Children) != 0 {
			return fmt.Errorf("%w: leaf with %d children", ErrSerialization, len(n.Children))
		}
		return nil
	}
	if len(n.Children) != len(n.Keys)+1 {
		return fmt.Errorf("%w: internal node with %d keys and %d children", ErrSerialization, len(n.Keys), len(n.Children))
	}
	return nil
}

// encodeNode serializes a node into one full fixed-width record.
func encodeNode(n *Node, order int) ([]byte, error) {
	if err := n.validateShape(order); err != nil {
		return nil, err
	}

	recordSize, err := RecordSize(order)
	if err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, recordSize))

	if err := binary.Write(buf, binary.LittleEndian, int64(len(n.Keys))); err != nil {
		return nil, fmt.Errorf("%w: key_count: %v", ErrSerialization, err)
	}
	var leaf byte
	if n.Leaf {
		leaf = 1
	}
	buf.WriteByte(leaf)
	if err := binary.Write(buf, binary.LittleEndian, int64(n.PageID)); err != nil {
		return nil, fmt.Errorf("%w: page_id: %v", ErrSerialization, err)
	}

	for i := 0; i < order-1; i++ {
		v := sentinel
		if i < len(n.Keys) {
			v = n.Keys[i]
		}
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: key slot %d: %v", ErrSerialization, i, err)
		}
	}
	for i := 0; i < order-1; i++ {
		v := sentinel
		if i < len(n.Values) {
			v = n.Values[i]
		}
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: value slot %d: %v", ErrSerialization, i, err)
		}
	}
	for i := 0; i < order; i++ {
		v := sentinel
		if i < len(n.Children) {
			v = int32(n.Children[i])
		}
		if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: child slot %d: %v", ErrSerialization, i, err)
		}
	}

	return buf.Bytes(), nil
}

// decodeNode deserializes one full record into a node, dropping sentinel
// padding.
func decodeNode(data []byte, order int) (*Node, error) {
	buf := bytes.NewReader(data)

	var keyCount int64
	if err := binary.Read(buf, binary.LittleEndian, &keyCount); err != nil {
		return nil, fmt.Errorf("%w: key_count: %v", ErrDeserialization, err)
	}
	if keyCount < 0 || keyCount > int64(order-1) {
		return nil, fmt.Errorf("%w: key_count %d out of range for order %d", ErrCorruptRecord, keyCount, order)
	}

	leaf, err := buf.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: is_leaf: %v", ErrDeserialization, err)
	}
	if leaf > 1 {
		return nil, fmt.Errorf("%w: is_leaf byte 0x%x", ErrCorruptRecord, leaf)
	}

	var pageID int64
	if err := binary.Read(buf, binary.LittleEndian, &pageID); err != nil {
		return nil, fmt.Errorf("%w: page_id: %v", ErrDeserialization, err)
	}

	node := &Node{
		PageID: PageID(pageID),
		Leaf:   leaf == 1,
		Keys:   make([]int32, keyCount),
		Values: make([]int32, keyCount),
	}

	slots := make([]int32, order-1)
	if err := binary.Read(buf, binary.LittleEndian, slots); err != nil {
		return nil, fmt.Errorf("%w: keys: %v", ErrDeserialization, err)
	}
	copy(node.Keys, slots[:keyCount])

	if err := binary.Read(buf, binary.LittleEndian, slots); err != nil {
		return nil, fmt.Errorf("%w: values: %v", ErrDeserialization, err)
	}
	copy(node.Values, slots[:keyCount])

	childSlots := make([]int32, order)
	if err := binary.Read(buf, binary.LittleEndian, childSlots); err != nil {
		return nil, fmt.Errorf("%w: children: %v", ErrDeserialization, err)
	}
	if !node.Leaf {
		node.Children = make([]PageID, keyCount+1)
		for i := range node.Children {
			node.Children[i] = PageID(childSlots[i])
		}
	}

	return node, nil
}
