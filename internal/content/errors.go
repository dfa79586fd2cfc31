package content

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound marks a mutating operation whose prerequisite object is
	// missing. Read paths return a nil result instead.
	ErrNotFound = errors.New("object not found")

	// ErrDuplicateName rejects a create/rename that would collide with a
	// sibling under the unique-name policy.
	ErrDuplicateName = errors.New("duplicate name under parent")

	// ErrAlreadyCheckedOut rejects checkout of a series that already has a
	// private working copy.
	ErrAlreadyCheckedOut = errors.New("version series already checked out")

	// ErrNotCheckedOut rejects checkin/cancel on a series with no private
	// working copy.
	ErrNotCheckedOut = errors.New("version series not checked out")

	// ErrNotFileable rejects filing an object whose type cannot live in a
	// folder.
	ErrNotFileable = errors.New("type is not fileable")

	// ErrContentRequired rejects a document create whose type demands a
	// content stream that was not supplied.
	ErrContentRequired = errors.New("content stream required")

	// ErrContentNotAllowed rejects a stream supplied to a type that forbids
	// one.
	ErrContentNotAllowed = errors.New("content stream not allowed")

	// ErrParentNoLongerExists is the caller-recoverable restore failure: the
	// archived parent folder is gone from the live tree.
	ErrParentNoLongerExists = errors.New("parent no longer exists")

	// ErrNotRestorable rejects restoring an attachment archive on its own;
	// attachments come back only with their owning document.
	ErrNotRestorable = errors.New("archive cannot be restored standalone")

	// ErrImmutable rejects mutation of an immutable document.
	ErrImmutable = errors.New("document is immutable")
)

// atomicFailure wraps the original cause of a failed multi-phase create
// after its compensations ran.
func atomicFailure(err error) error {
	return fmt.Errorf("atomic creation failed: %w", err)
}
