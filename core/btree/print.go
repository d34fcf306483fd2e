package btree

import (
	"fmt"
	"io"
	"strings"

	"github.com/arvore-db/arvore/core/pagestore"
)

// Print writes a level-order dump of the tree to the sink, one line per
// level. It uses an explicit queue sized to the allocated page count and
// reads every node on demand through the page store. Diagnostic only.
func (bt *BTree) Print(w io.Writer) error {
	if bt.store == nil {
		return ErrTreeClosed
	}
	if bt.rootID == pagestore.NoPage {
		_, err := fmt.Fprintln(w, "empty tree")
		return err
	}

	pageCount, err := bt.store.PageCount()
	if err != nil {
		return err
	}
	queue := make([]pagestore.PageID, 0, pageCount)

	root, err := bt.fetch(bt.rootID)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "root: %s\n", formatNode(root)); err != nil {
		return err
	}
	if !root.Leaf {
		queue = append(queue, root.Children...)
	}

	level := 1
	nodesCurrentLevel := 0
	nodesNextLevel := len(queue)
	var line []string

	for front := 0; front < len(queue); front++ {
		if nodesCurrentLevel == 0 {
			nodesCurrentLevel = nodesNextLevel
			nodesNextLevel = 0
			line = line[:0]
		}

		node, err := bt.fetch(queue[front])
		if err != nil {
			return err
		}
		nodesCurrentLevel--
		line = append(line, formatNode(node))

		if !node.Leaf {
			queue = append(queue, node.Children...)
			nodesNextLevel += len(node.Children)
		}

		if nodesCurrentLevel == 0 {
			if _, err := fmt.Fprintf(w, "%d-level: %s\n", level, strings.Join(line, ", ")); err != nil {
				return err
			}
			level++
		}
	}
	return nil
}

// formatNode renders a node as "[ key0: 10, key1: 20 ]".
func formatNode(n *pagestore.Node) string {
	var sb strings.Builder
	sb.WriteString("[ ")
	for i, key := range n.Keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "key%d: %d", i, key)
	}
	sb.WriteString(" ]")
	return sb.String()
}
