package script

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/arvore-db/arvore/core/btree"
)

// --- Test Helpers ---

func runScript(t *testing.T, text string) string {
	t.Helper()

	s, err := Parse(strings.NewReader(text))
	require.NoError(t, err)

	tree, err := btree.Create(filepath.Join(t.TempDir(), "script.db"), s.Order, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { tree.Close() })

	var out bytes.Buffer
	require.NoError(t, NewRunner(tree, zap.NewNop()).Run(s, &out))
	return out.String()
}

// --- Test Cases ---

func TestParse(t *testing.T) {
	s, err := Parse(strings.NewReader("4\n3\nI 10, 100\nB 10\nR 10\n"))
	require.NoError(t, err)
	require.Equal(t, 4, s.Order)
	require.Equal(t, []Op{
		{Code: OpInsert, Key: 10, Value: 100},
		{Code: OpSearch, Key: 10},
		{Code: OpRemove, Key: 10},
	}, s.Ops)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"empty input":          "",
		"missing count":        "4\n",
		"truncated operations": "4\n2\nI 1, 1\n",
		"insert without comma": "4\n1\nI 1 1\n",
		"non-numeric key":      "4\n1\nB ten\n",
		"non-numeric order":    "four\n1\nB 1\n",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(text))
			require.Error(t, err)
		})
	}
}

func TestRunReportsLookups(t *testing.T) {
	out := runScript(t, strings.Join([]string{
		"4",
		"8",
		"I 10, 100",
		"I 20, 200",
		"I 5, 50",
		"B 10",
		"B 42",
		"R 10",
		"B 10",
		"X 1",
		"",
	}, "\n"))

	require.Equal(t, strings.Join([]string{
		"RECORD IS IN THE TREE!",
		"RECORD IS NOT IN THE TREE!",
		"RECORD IS NOT IN THE TREE!",
		"UNSUPPORTED OPERATION!",
		"",
		"root: [ key0: 5, key1: 20 ]",
		"",
	}, "\n"), out)
}

func TestRunPrintsMultiLevelTree(t *testing.T) {
	lines := []string{"4", "8"}
	for _, k := range []int{10, 20, 5, 6, 12, 30, 7, 17} {
		lines = append(lines, fmt.Sprintf("I %d, %d", k, k*100))
	}
	lines = append(lines, "")
	out := runScript(t, strings.Join(lines, "\n"))

	require.Equal(t, strings.Join([]string{
		"",
		"root: [ key0: 10, key1: 20 ]",
		"1-level: [ key0: 5, key1: 6, key2: 7 ], [ key0: 12, key1: 17 ], [ key0: 30 ]",
		"",
	}, "\n"), out)
}

func TestRunSkipsMissingRemovals(t *testing.T) {
	out := runScript(t, "4\n2\nR 99\nB 99\n")
	require.Contains(t, out, "RECORD IS NOT IN THE TREE!")
}

func TestRunEmptyTreeDump(t *testing.T) {
	out := runScript(t, "4\n0\n")
	require.Equal(t, "\nempty tree\n", out)
}

