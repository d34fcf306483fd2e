package pagestore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- Test Helpers ---

// setupStore creates a Store on a fresh backing file in a temp directory.
func setupStore(t *testing.T, order int) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Create(path, order, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// --- Test Cases ---

func TestRecordSize(t *testing.T) {
	// header 17 bytes + 2*(m-1)*4 + m*4
	size, err := RecordSize(3)
	require.NoError(t, err)
	require.Equal(t, int64(17+2*2*4+3*4), size)

	size, err = RecordSize(4)
	require.NoError(t, err)
	require.Equal(t, int64(17+2*3*4+4*4), size)

	_, err = RecordSize(2)
	require.ErrorIs(t, err, ErrInvalidOrder)
	_, err = RecordSize(0)
	require.ErrorIs(t, err, ErrInvalidOrder)
}

func TestCreateRejectsExistingFile(t *testing.T) {
	s := setupStore(t, 4)
	_, err := Create(s.Path(), 4, zap.NewNop())
	require.ErrorIs(t, err, ErrDBFileExists)
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "absent.db"), zap.NewNop())
	require.ErrorIs(t, err, ErrDBFileNotFound)
}

func TestHeaderRoundTrip(t *testing.T) {
	s := setupStore(t, 5)

	// Fresh file: no root, counter at 1 because page 0 is the header.
	root, err := s.RootPageID()
	require.NoError(t, err)
	require.Equal(t, NoPage, root)

	next, err := s.NextPageID()
	require.NoError(t, err)
	require.Equal(t, PageID(1), next)

	require.NoError(t, s.SetRootPageID(3))

	// Reopen and confirm order, root and counter survived.
	path := s.Path()
	require.NoError(t, s.Close())
	s2, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	require.Equal(t, 5, s2.Order())
	root, err = s2.RootPageID()
	require.NoError(t, err)
	require.Equal(t, PageID(3), root)
}

func TestAllocatePageSequence(t *testing.T) {
	s := setupStore(t, 4)

	for want := PageID(1); want <= 3; want++ {
		id, err := s.AllocatePage()
		require.NoError(t, err)
		require.Equal(t, want, id)
	}

	count, err := s.PageCount()
	require.NoError(t, err)
	require.Equal(t, int64(4), count) // header plus three nodes
}

func TestNodeRoundTrip(t *testing.T) {
	s := setupStore(t, 4)

	leaf := &Node{
		PageID: 1,
		Leaf:   true,
		Keys:   []int32{10, 20},
		Values: []int32{100, 200},
	}
	require.NoError(t, s.WriteNode(leaf))

	got, err := s.ReadNode(1)
	require.NoError(t, err)
	require.Equal(t, leaf, got)

	internal := &Node{
		PageID:   2,
		Leaf:     false,
		Keys:     []int32{15},
		Values:   []int32{150},
		Children: []PageID{1, 3},
	}
	require.NoError(t, s.WriteNode(internal))

	got, err = s.ReadNode(2)
	require.NoError(t, err)
	require.Equal(t, internal, got)

	// The leaf's record must be untouched by its neighbor's write.
	got, err = s.ReadNode(1)
	require.NoError(t, err)
	require.Equal(t, leaf, got)
}

func TestReadNodeRejectsReservedIDs(t *testing.T) {
	s := setupStore(t, 4)

	_, err := s.ReadNode(HeaderPageID)
	require.ErrorIs(t, err, ErrInvalidPageID)
	_, err = s.ReadNode(NoPage)
	require.ErrorIs(t, err, ErrInvalidPageID)

	err = s.WriteNode(&Node{PageID: 0, Leaf: true})
	require.ErrorIs(t, err, ErrInvalidPageID)
}

func TestReadNodePageMismatch(t *testing.T) {
	s := setupStore(t, 4)

	// Writing page 2 extends the file past page 1's slot, which stays
	// zeroed. Its page-id echo then disagrees with the requested id.
	node := &Node{PageID: 2, Leaf: true, Keys: []int32{1}, Values: []int32{1}}
	require.NoError(t, s.WriteNode(node))

	_, err := s.ReadNode(1)
	require.ErrorIs(t, err, ErrPageMismatch)
}

func TestReadNodeShortRecord(t *testing.T) {
	s := setupStore(t, 4)

	// Nothing was written past the header, so page 1 cannot be fully read.
	_, err := s.ReadNode(1)
	require.ErrorIs(t, err, ErrIO)
}

func TestWriteNodeRejectsOverflow(t *testing.T) {
	s := setupStore(t, 3)

	err := s.WriteNode(&Node{
		PageID: 1,
		Leaf:   true,
		Keys:   []int32{1, 2, 3},
		Values: []int32{1, 2, 3},
	})
	require.ErrorIs(t, err, ErrSerialization)

	// Internal node child count must be keys+1.
	err = s.WriteNode(&Node{
		PageID:   1,
		Leaf:     false,
		Keys:     []int32{1},
		Values:   []int32{1},
		Children: []PageID{2},
	})
	require.ErrorIs(t, err, ErrSerialization)
}
