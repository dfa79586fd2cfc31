package content

import (
	"context"
	"log"
)

// compensation undoes one artifact of a multi-phase workflow.
type compensation struct {
	name string
	undo func(ctx context.Context) error
}

// workflow accumulates compensations as a compound create progresses.
// The store cannot commit several records together, so on failure the
// already-created artifacts are deleted in reverse order by hand.
type workflow struct {
	compensations []compensation
}

func (w *workflow) add(name string, undo func(ctx context.Context) error) {
	w.compensations = append(w.compensations, compensation{name: name, undo: undo})
}

// rollback runs the compensations newest-first. Failures are logged and
// skipped; they must never mask the original error.
func (w *workflow) rollback(ctx context.Context) {
	for i := len(w.compensations) - 1; i >= 0; i-- {
		c := w.compensations[i]
		if err := c.undo(ctx); err != nil {
			log.Printf("content: rollback of %s failed: %v", c.name, err)
		}
	}
}
