package content

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coffer/internal/model"
	"coffer/internal/store"
)

// Journal appends immutable change records and derives their tokens.
// Tokens are the record's creation time in unix milliseconds plus a
// process-local counter that breaks ties within the same millisecond, so
// tokens stay strictly ordered even for back-to-back events.
type Journal struct {
	store store.Store

	mu         sync.Mutex
	lastMillis int64
	counter    int64
}

func NewJournal(s store.Store) *Journal {
	return &Journal{store: s}
}

func (j *Journal) nextToken(t time.Time) string {
	millis := t.UnixMilli()
	j.mu.Lock()
	defer j.mu.Unlock()
	if millis == j.lastMillis {
		j.counter++
	} else {
		j.lastMillis = millis
		j.counter = 0
	}
	return fmt.Sprintf("%d-%d", millis, j.counter)
}

// Write persists a change record for the given event and returns it.
// The token derives from the record's own creation time, never from the
// content's timestamps, so a create-then-delete of an untouched object
// still yields two distinct tokens. The event time is the content's
// creation timestamp for CREATED and DELETED events and its modification
// timestamp otherwise. The source content is never mutated.
func (j *Journal) Write(ctx context.Context, repositoryID string, c model.Content, acl *model.ACL, changeType model.ChangeType) (*model.Change, error) {
	base := c.Base()
	now := time.Now()

	eventTime := base.Modified
	if changeType == model.ChangeCreated || changeType == model.ChangeDeleted || eventTime.IsZero() {
		eventTime = base.Created
	}
	if eventTime.IsZero() {
		eventTime = now
	}

	change := &model.Change{
		ObjectID:   base.ID,
		ChangeType: changeType,
		Time:       eventTime,
		Token:      j.nextToken(now),
		Name:       base.Name,
		Type:       base.Type,
		ObjectType: base.ObjectType,
		ParentID:   base.ParentID,
	}
	if doc, isDoc := c.(*model.Document); isDoc {
		change.VersionSeriesID = doc.VersionSeriesID
		change.VersionLabel = doc.VersionLabel
	}
	if acl != nil {
		change.ACL = acl.Clone()
	}
	change.Creator = base.Modifier
	change.Created = now
	change.Modifier = base.Modifier
	change.Modified = now

	return j.store.CreateChange(ctx, repositoryID, change)
}

// Latest returns the newest change record, nil when the journal is empty.
func (j *Journal) Latest(ctx context.Context, repositoryID string) (*model.Change, error) {
	return j.store.GetLatestChange(ctx, repositoryID)
}

// Since returns the journal from the given token onward, inclusive.
// An empty token means from the beginning.
func (j *Journal) Since(ctx context.Context, repositoryID, token string, max int) ([]*model.Change, error) {
	return j.store.GetLatestChanges(ctx, repositoryID, token, max)
}
