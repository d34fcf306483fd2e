// Command arvore runs an operation script against a fresh index file:
// the script's first line fixes the tree order, the remaining lines drive
// inserts, removals and lookups, and the final tree layout is printed.
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/btree"
	"github.com/arvore-db/arvore/core/script"
	"github.com/arvore-db/arvore/pkg/logger"
)

func main() {
	scriptPath := flag.String("script", "", "path to the operation script (default stdin)")
	outPath := flag.String("out", "", "path for the result output (default stdout)")
	dbPath := flag.String("db", "arvore.db", "path for the index backing file")
	logLevel := flag.String("log-level", "warn", "minimum log level")
	flag.Parse()

	log, err := logger.New(logger.Config{Level: *logLevel, Format: "console", OutputFile: "stderr"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger setup failed:", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*scriptPath, *outPath, *dbPath, log); err != nil {
		log.Error("script run failed",
			zap.Error(err),
			zap.Int32("status", int32(btree.StatusOf(err))))
		os.Exit(1)
	}
}

func run(scriptPath, outPath, dbPath string, log *zap.Logger) error {
	in := os.Stdin
	if scriptPath != "" {
		f, err := os.Open(scriptPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	s, err := script.Parse(in)
	if err != nil {
		return err
	}

	out := os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	// Each run starts from an empty tree of the scripted order.
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	tree, err := btree.Create(dbPath, s.Order, log)
	if err != nil {
		return err
	}
	defer tree.Close()

	log.Info("running script",
		zap.Int("order", s.Order),
		zap.Int("operations", len(s.Ops)),
		zap.String("db", dbPath))

	return script.NewRunner(tree, log).Run(s, out)
}
