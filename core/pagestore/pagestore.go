// Package pagestore maps logical page ids to byte offsets in a single
// backing file and performs whole-record reads and writes of fixed-size
// binary node records. It owns the record-size formula and the global page
// counter and knows nothing about tree semantics.
package pagestore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// --- Error Definitions ---

var (
	ErrInvalidOrder    = errors.New("tree order must be at least 3")
	ErrInvalidPageID   = errors.New("invalid page id")
	ErrIO              = errors.New("i/o error")
	ErrAlloc           = errors.New("page allocation failed")
	ErrSerialization   = errors.New("error during serialization")
	ErrDeserialization = errors.New("error during deserialization")
	ErrCorruptRecord   = errors.New("page record is corrupt")
	ErrPageMismatch    = errors.New("page record does not match requested page id")
	ErrDBFileExists    = errors.New("database file already exists")
	ErrDBFileNotFound  = errors.New("database file not found")
)

// --- Page addressing ---

// PageID identifies one fixed-size record in the backing file.
type PageID int32

// NoPage marks an absent page reference. On disk it is the -1 sentinel
// required by the record format; in memory it is the only value that may
// stand for "no child" or "no root".
const NoPage PageID = -1

// HeaderPageID is the reserved page holding the file header. The addressing
// formula assigns it the same slot a node with id 0 would get, so node ids
// start at 1.
const HeaderPageID PageID = 0

const (
	// MinOrder is the smallest supported tree order.
	MinOrder = 3

	fileMagic     uint32 = 0x41525631 // "ARV1"
	formatVersion uint32 = 1

	countWidth = 8 // key_count, stored size-width
	flagWidth  = 1 // is_leaf
	idWidth    = 8 // page_id echo, stored size-width
	slotWidth  = 4 // one key, value or child slot

	headerSize = 24
)

// fileHeader occupies the page-0 slot. The NextPage counter doubles as the
// page allocator: it is the id the next split will claim, and it starts at 1
// because page 0 is this header.
type fileHeader struct {
	Magic    uint32
	Version  uint32
	Order    int32
	Root     PageID
	NextPage int64
}

// RecordSize returns the on-disk size of one node record for the given
// order: fixed header, order-1 key slots, order-1 value slots and order
// child slots.
func RecordSize(order int) (int64, error) {
	if order < MinOrder {
		return 0, fmt.Errorf("%w: got %d", ErrInvalidOrder, order)
	}
	return countWidth + flagWidth + idWidth +
		2*int64(order-1)*slotWidth + int64(order)*slotWidth, nil
}

// --- Store ---

// Store performs exact-size binary transfer of node records to and from the
// backing file. It assumes exclusive ownership of the file by one process.
type Store struct {
	path       string
	file       *os.File
	order      int
	recordSize int64
	logger     *zap.Logger
}

// Create initializes a new backing file for a tree of the given order.
// It fails if the file already exists.
func Create(path string, order int, logger *zap.Logger) (*Store, error) {
	recordSize, err := RecordSize(order)
	if err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, path)
		}
		return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, path, err)
	}

	s := &Store{
		path:       path,
		file:       file,
		order:      order,
		recordSize: recordSize,
		logger:     logger,
	}

	header := fileHeader{
		Magic:    fileMagic,
		Version:  formatVersion,
		Order:    int32(order),
		Root:     NoPage,
		NextPage: 1,
	}
	if err := s.writeHeader(&header); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	logger.Info("created page store",
		zap.String("path", path),
		zap.Int("order", order),
		zap.Int64("record_size", recordSize))
	return s, nil
}

// Open opens an existing backing file and validates its header.
func Open(path string, logger *zap.Logger) (*Store, error) {
	file, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, path, err)
	}

	s := &Store{path: path, file: file, logger: logger}

	header, err := s.readHeader()
	if err != nil {
		file.Close()
		return nil, err
	}
	if header.Magic != fileMagic {
		file.Close()
		return nil, fmt.Errorf("%w: bad magic 0x%x in %s", ErrCorruptRecord, header.Magic, path)
	}
	if header.Version != formatVersion {
		file.Close()
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptRecord, header.Version)
	}

	recordSize, err := RecordSize(int(header.Order))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: header order %d", ErrCorruptRecord, header.Order)
	}
	s.order = int(header.Order)
	s.recordSize = recordSize

	logger.Info("opened page store",
		zap.String("path", path),
		zap.Int("order", s.order),
		zap.Int32("root", int32(header.Root)),
		zap.Int64("next_page", header.NextPage))
	return s, nil
}

// Order returns the tree order the file was created with.
func (s *Store) Order() int { return s.order }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// offset maps a page id to its byte offset: page_id * record_size.
func (s *Store) offset(id PageID) int64 {
	return int64(id) * s.recordSize
}

func (s *Store) writeHeader(header *fileHeader) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: header: %v", ErrSerialization, err)
	}
	// Pad the header out to a full record slot so page 1 starts at the
	// offset the addressing formula expects.
	padding := make([]byte, s.recordSize-int64(buf.Len()))
	buf.Write(padding)

	if _, err := s.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("%w: writing header: %v", ErrIO, err)
	}
	return s.sync()
}

func (s *Store) readHeader() (*fileHeader, error) {
	data := make([]byte, headerSize)
	n, err := s.file.ReadAt(data, 0)
	if err != nil {
		if err == io.EOF && n < headerSize {
			return nil, fmt.Errorf("%w: file too small for header", ErrCorruptRecord)
		}
		return nil, fmt.Errorf("%w: reading header: %v", ErrIO, err)
	}

	header := &fileHeader{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrDeserialization, err)
	}
	return header, nil
}

// RootPageID returns the root page id recorded in the header, or NoPage for
// an empty tree.
func (s *Store) RootPageID() (PageID, error) {
	header, err := s.readHeader()
	if err != nil {
		return NoPage, err
	}
	return header.Root, nil
}

// SetRootPageID persists a new root page id in the header.
func (s *Store) SetRootPageID(id PageID) error {
	header, err := s.readHeader()
	if err != nil {
		return err
	}
	header.Root = id
	return s.writeHeader(header)
}

// NextPageID reads the counter at page 0 and returns it as the next free
// page id.
func (s *Store) NextPageID() (PageID, error) {
	header, err := s.readHeader()
	if err != nil {
		return NoPage, err
	}
	return PageID(header.NextPage), nil
}

// AdvanceCounter increments the page counter and persists it. It is not
// atomic with the write of the page it reserves; a crash between the two
// leaves the counter stale, which the format accepts (no journal).
func (s *Store) AdvanceCounter() error {
	header, err := s.readHeader()
	if err != nil {
		return err
	}
	header.NextPage++
	return s.writeHeader(header)
}

// AllocatePage claims the next free page id and advances the counter.
// The page's record is not written here; the caller must persist a node
// into the slot.
func (s *Store) AllocatePage() (PageID, error) {
	id, err := s.NextPageID()
	if err != nil {
		return NoPage, fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	if err := s.AdvanceCounter(); err != nil {
		return NoPage, fmt.Errorf("%w: %v", ErrAlloc, err)
	}
	return id, nil
}

// PageCount returns the total number of allocated pages, header page
// included. Orphaned pages left behind by merges are counted; their storage
// is never reclaimed.
func (s *Store) PageCount() (int64, error) {
	header, err := s.readHeader()
	if err != nil {
		return 0, err
	}
	return header.NextPage, nil
}

// ReadNode reads the full record at the page id and deserializes it into a
// node. A record that cannot be fully read is never returned.
func (s *Store) ReadNode(id PageID) (*Node, error) {
	if id <= HeaderPageID {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageID, id)
	}

	data := make([]byte, s.recordSize)
	n, err := s.file.ReadAt(data, s.offset(id))
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: short read for page %d, expected %d, got %d", ErrIO, id, s.recordSize, n)
		}
		return nil, fmt.Errorf("%w: reading page %d: %v", ErrIO, id, err)
	}

	node, err := decodeNode(data, s.order)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", id, err)
	}
	if node.PageID != id {
		return nil, fmt.Errorf("%w: requested %d, record says %d", ErrPageMismatch, id, node.PageID)
	}
	return node, nil
}

// WriteNode serializes the node into its fixed-width record, writes it at
// the offset derived from the node's own page id and flushes, so subsequent
// reads from this process observe the write.
func (s *Store) WriteNode(node *Node) error {
	if node.PageID <= HeaderPageID {
		return fmt.Errorf("%w: %d", ErrInvalidPageID, node.PageID)
	}

	data, err := encodeNode(node, s.order)
	if err != nil {
		return fmt.Errorf("page %d: %w", node.PageID, err)
	}

	written, err := s.file.WriteAt(data, s.offset(node.PageID))
	if err != nil {
		return fmt.Errorf("%w: writing page %d: %v", ErrIO, node.PageID, err)
	}
	if int64(written) != s.recordSize {
		return fmt.Errorf("%w: short write for page %d, expected %d, got %d", ErrIO, node.PageID, s.recordSize, written)
	}
	return s.sync()
}

func (s *Store) sync() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrIO, err)
	}
	return nil
}

// Close flushes and closes the backing file.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Sync()
	if err != nil {
		s.logger.Warn("sync on close failed", zap.Error(err))
	}
	closeErr := s.file.Close()
	s.file = nil
	return closeErr
}
