// Package blob stores attachment payload bytes. Metadata stays in the
// document store; only the raw streams live here.
package blob

import (
	"context"
	"io"
)

// Store reads and writes payload streams keyed by attachment node id.
// Length may be negative when the caller does not know the stream size.
type Store interface {
	Put(ctx context.Context, id string, r io.Reader, length int64, mimeType string) (int64, error)
	Get(ctx context.Context, id string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, id string) error
}
