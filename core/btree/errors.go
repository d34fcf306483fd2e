package btree

import (
	"errors"

	"github.com/arvore-db/arvore/core/pagestore"
)

// --- Error Definitions ---

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrInvalidParam = errors.New("invalid parameter")
	ErrTreeClosed   = errors.New("tree handle is closed")
)

// Status is the numeric result contract consumed by the script and CLI
// surfaces.
type Status int

const (
	StatusSuccess      Status = 0
	StatusAllocError   Status = -1
	StatusNotFound     Status = -2
	StatusDuplicate    Status = -3 // reserved; inserts update duplicates in place
	StatusInvalidParam Status = -4
	StatusIOError      Status = -5
)

// StatusOf maps an error from the public operations onto the status code
// contract. Unknown errors report as I/O failures, the broadest category.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrKeyNotFound):
		return StatusNotFound
	case errors.Is(err, ErrInvalidParam),
		errors.Is(err, pagestore.ErrInvalidOrder),
		errors.Is(err, pagestore.ErrInvalidPageID):
		return StatusInvalidParam
	case errors.Is(err, pagestore.ErrAlloc):
		return StatusAllocError
	default:
		return StatusIOError
	}
}
