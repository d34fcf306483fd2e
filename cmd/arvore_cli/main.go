// Command arvore_cli is an interactive shell over an index file. It opens
// the backing file if it exists (the order is read from the file header) or
// creates a fresh one with the requested order.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/btree"
	"github.com/arvore-db/arvore/core/pagestore"
	"github.com/arvore-db/arvore/pkg/logger"
)

const helpText = `Commands:
  insert <key> <value>   insert a key, or update its value in place
  search <key>           report whether the key is in the tree
  get <key>              print the value stored under the key
  remove <key>           delete the key
  scan                   list all pairs in ascending key order
  print                  dump the tree level by level
  stats                  show order, page count, splits and merges
  help                   this text
  exit                   close the index and quit`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "arvore_cli:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	dbPath := "arvore.db"
	order := 4
	if len(args) > 0 {
		dbPath = args[0]
	}
	if len(args) > 1 {
		o, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("order argument: %w", err)
		}
		order = o
	}

	log, err := logger.New(logger.Config{Level: "warn", Format: "console", OutputFile: "stderr"})
	if err != nil {
		return err
	}
	defer log.Sync()

	tree, err := openOrCreate(dbPath, order, log)
	if err != nil {
		return err
	}
	defer tree.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "arvore> ",
		HistoryFile:     "/tmp/arvore_cli_history",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Printf("opened %s (order %d), type 'help' for commands\n", dbPath, tree.Order())

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "exit" || fields[0] == "quit" {
			return nil
		}
		if err := dispatch(tree, fields); err != nil {
			fmt.Printf("error: %v (status %d)\n", err, btree.StatusOf(err))
		}
	}
}

func openOrCreate(path string, order int, log *zap.Logger) (*btree.BTree, error) {
	tree, err := btree.Open(path, log)
	if errors.Is(err, pagestore.ErrDBFileNotFound) {
		return btree.Create(path, order, log)
	}
	return tree, err
}

func dispatch(tree *btree.BTree, fields []string) error {
	switch fields[0] {
	case "insert":
		key, value, err := keyValueArgs(fields)
		if err != nil {
			return err
		}
		updated, err := tree.Insert(key, value)
		if err != nil {
			return err
		}
		if updated {
			fmt.Println("updated")
		} else {
			fmt.Println("inserted")
		}

	case "search":
		key, err := keyArg(fields)
		if err != nil {
			return err
		}
		_, _, found, err := tree.Search(key)
		if err != nil {
			return err
		}
		if found {
			fmt.Println("found")
		} else {
			fmt.Println("not found")
		}

	case "get":
		key, err := keyArg(fields)
		if err != nil {
			return err
		}
		value, found, err := tree.Get(key)
		if err != nil {
			return err
		}
		if found {
			fmt.Println(value)
		} else {
			fmt.Println("not found")
		}

	case "remove":
		key, err := keyArg(fields)
		if err != nil {
			return err
		}
		if err := tree.Remove(key); err != nil {
			return err
		}
		fmt.Println("removed")

	case "scan":
		return tree.Ascend(func(key, value int32) error {
			_, err := fmt.Printf("%d: %d\n", key, value)
			return err
		})

	case "print":
		return tree.Print(os.Stdout)

	case "stats":
		pages, err := tree.PageCount()
		if err != nil {
			return err
		}
		splits, merges := tree.OpStats()
		fmt.Printf("order=%d pages=%d splits=%d merges=%d root=%d\n",
			tree.Order(), pages, splits, merges, tree.RootPageID())

	case "help":
		fmt.Println(helpText)

	default:
		fmt.Printf("unknown command %q, type 'help'\n", fields[0])
	}
	return nil
}

func keyArg(fields []string) (int32, error) {
	if len(fields) != 2 {
		return 0, fmt.Errorf("usage: %s <key>", fields[0])
	}
	k, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("key: %w", err)
	}
	return int32(k), nil
}

func keyValueArgs(fields []string) (int32, int32, error) {
	if len(fields) != 3 {
		return 0, 0, fmt.Errorf("usage: %s <key> <value>", fields[0])
	}
	k, err := strconv.ParseInt(fields[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("key: %w", err)
	}
	v, err := strconv.ParseInt(fields[2], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("value: %w", err)
	}
	return int32(k), int32(v), nil
}
