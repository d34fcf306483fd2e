// Package script parses and runs the line-oriented operation scripts that
// drive the index: a header with the tree order and operation count,
// followed by one operation per line.
//
//	4          tree order
//	3          number of operations
//	I 10, 100  insert key 10 with value 100
//	B 10       point lookup for key 10
//	R 10       remove key 10
package script

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/btree"
)

// Op opcodes. Anything else is carried through and reported as unsupported
// at run time rather than failing the whole script.
const (
	OpInsert = 'I'
	OpRemove = 'R'
	OpSearch = 'B'
)

// Op is one scripted operation.
type Op struct {
	Code  byte
	Key   int32
	Value int32 // inserts only
}

// Script is a parsed operation script.
type Script struct {
	Order int
	Ops   []Op
}

// Parse reads a script: first line the tree order, second line the number
// of operations, then exactly that many operation lines.
func Parse(r io.Reader) (*Script, error) {
	scanner := bufio.NewScanner(r)

	order, err := scanInt(scanner, "order")
	if err != nil {
		return nil, err
	}
	count, err := scanInt(scanner, "operation count")
	if err != nil {
		return nil, err
	}
	if count < 0 {
		return nil, fmt.Errorf("script: negative operation count %d", count)
	}

	s := &Script{Order: order, Ops: make([]Op, 0, count)}
	for i := 0; i < count; i++ {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("script: reading operation %d: %w", i+1, err)
			}
			return nil, fmt.Errorf("script: expected %d operations, got %d", count, i)
		}
		op, err := parseOp(strings.TrimSpace(scanner.Text()))
		if err != nil {
			return nil, fmt.Errorf("script: operation %d: %w", i+1, err)
		}
		s.Ops = append(s.Ops, op)
	}
	return s, nil
}

func scanInt(scanner *bufio.Scanner, what string) (int, error) {
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return 0, fmt.Errorf("script: reading %s: %w", what, err)
		}
		return 0, fmt.Errorf("script: missing %s line", what)
	}
	v, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil {
		return 0, fmt.Errorf("script: parsing %s: %w", what, err)
	}
	return v, nil
}

func parseOp(line string) (Op, error) {
	if line == "" {
		return Op{}, fmt.Errorf("empty operation line")
	}
	op := Op{Code: line[0]}
	rest := strings.TrimSpace(line[1:])

	switch op.Code {
	case OpInsert:
		key, value, ok := strings.Cut(rest, ",")
		if !ok {
			return Op{}, fmt.Errorf("insert needs 'key, value', got %q", rest)
		}
		k, err := strconv.ParseInt(strings.TrimSpace(key), 10, 32)
		if err != nil {
			return Op{}, fmt.Errorf("insert key: %w", err)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 32)
		if err != nil {
			return Op{}, fmt.Errorf("insert value: %w", err)
		}
		op.Key, op.Value = int32(k), int32(v)
	case OpRemove, OpSearch:
		k, err := strconv.ParseInt(rest, 10, 32)
		if err != nil {
			return Op{}, fmt.Errorf("key: %w", err)
		}
		op.Key = int32(k)
	default:
		// Kept as-is; Run reports it in the output stream.
	}
	return op, nil
}

// Runner executes scripts against a tree and writes the results the format
// expects: one line per lookup, unsupported opcodes called out, and a
// level-order dump after the last operation.
type Runner struct {
	tree   *btree.BTree
	logger *zap.Logger
}

// NewRunner returns a Runner bound to an open tree.
func NewRunner(tree *btree.BTree, logger *zap.Logger) *Runner {
	return &Runner{tree: tree, logger: logger}
}

// Run applies every operation in order. Per-key misses (removing an absent
// key) are logged and skipped; I/O and parameter errors abort the run.
func (r *Runner) Run(s *Script, out io.Writer) error {
	for _, op := range s.Ops {
		switch op.Code {
		case OpInsert:
			updated, err := r.tree.Insert(op.Key, op.Value)
			if err != nil {
				return fmt.Errorf("insert %d: %w", op.Key, err)
			}
			if updated {
				r.logger.Debug("duplicate key updated", zap.Int32("key", op.Key))
			}
		case OpRemove:
			err := r.tree.Remove(op.Key)
			if btree.StatusOf(err) == btree.StatusNotFound {
				r.logger.Debug("remove miss", zap.Int32("key", op.Key))
				continue
			}
			if err != nil {
				return fmt.Errorf("remove %d: %w", op.Key, err)
			}
		case OpSearch:
			_, _, found, err := r.tree.Search(op.Key)
			if err != nil {
				return fmt.Errorf("search %d: %w", op.Key, err)
			}
			msg := "RECORD IS NOT IN THE TREE!"
			if found {
				msg = "RECORD IS IN THE TREE!"
			}
			if _, err := fmt.Fprintln(out, msg); err != nil {
				return err
			}
		default:
			if _, err := fmt.Fprintln(out, "UNSUPPORTED OPERATION!"); err != nil {
				return err
			}
		}
	}

	if _, err := fmt.Fprintln(out); err != nil {
		return err
	}
	return r.tree.Print(out)
}
