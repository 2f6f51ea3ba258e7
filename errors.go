package packbase

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFoundError reports a key absent from a pack or from the whole
// store.  It is a normal outcome of a lookup, not a systemic failure,
// and is never logged as one.
type NotFoundError struct {
	Name string
	Node Node
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s %s", e.Name, e.Node)
}

// FormatError reports a pack whose leading version byte is outside the
// supported set.  Raised at open time; never silently tolerated.
type FormatError struct {
	Path    string
	Version byte
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported pack version %d: %s", e.Version, e.Path)
}

// CorruptPackError reports a structural parse failure after the
// version byte passes: truncation, checksum mismatch, bad fanout.
type CorruptPackError struct {
	Path   string
	Reason string
}

func (e *CorruptPackError) Error() string {
	return fmt.Sprintf("corrupt pack: %s: %s", e.Path, e.Reason)
}

// SealedError reports a write attempted on a flushed mutable pack.
// This is caller misuse; it is never recovered from.
type SealedError struct {
	Dir string
}

func (e *SealedError) Error() string {
	return fmt.Sprintf("mutable pack is sealed: %s", e.Dir)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

// isPackDamage reports whether err means the pack itself is unusable
// (unsupported version or structural corruption), as opposed to a
// missing key or an I/O error.
func isPackDamage(err error) bool {
	switch errors.Cause(err).(type) {
	case *FormatError, *CorruptPackError:
		return true
	}
	return false
}
