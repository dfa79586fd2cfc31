package content

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"coffer/internal/model"
	"coffer/internal/store"
	"coffer/internal/types"
)

// failingStore injects a failure into CreateContent when shouldFail says so.
type failingStore struct {
	store.Store
	shouldFail func(c model.Content) bool
}

var errInjected = errors.New("injected store failure")

func (f *failingStore) CreateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error) {
	if f.shouldFail != nil && f.shouldFail(c) {
		return nil, errInjected
	}
	return f.Store.CreateContent(ctx, repositoryID, c)
}

func TestAtomicCreateRollback(t *testing.T) {
	st := newTestStore(t)
	failing := &failingStore{Store: st}
	svc := newTestService(t, failing)
	ctx := context.Background()

	// Fail the document persist, after the attachment and series exist.
	failing.shouldFail = func(c model.Content) bool {
		return c.Base().IsDocument()
	}

	_, err := svc.CreateDocument(ctx, "alice", testRepo, DocumentInput{
		CreateInput:     CreateInput{Name: "doomed.txt", ParentID: "root"},
		VersioningState: VersioningMajor,
		Content:         strings.NewReader("payload"),
		MimeType:        "text/plain",
		Length:          7,
	})
	if !errors.Is(err, errInjected) {
		t.Fatalf("expected the injected cause, got %v", err)
	}
	if !strings.Contains(err.Error(), "atomic creation failed") {
		t.Fatalf("expected the atomic wrapper, got %v", err)
	}

	// Nothing survived: no document under root, no attachment payload.
	children, err := st.GetChildren(ctx, testRepo, "root")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("document row leaked: %+v", children)
	}
}

func TestAtomicCreateRollbackRemovesAttachment(t *testing.T) {
	st := newTestStore(t)
	failing := &failingStore{Store: st}
	svc := newTestService(t, failing)
	ctx := context.Background()

	var attachmentID string
	failing.shouldFail = func(c model.Content) bool {
		if c.Base().IsDocument() {
			doc := c.(*model.Document)
			attachmentID = doc.AttachmentNodeID
			return true
		}
		return false
	}

	_, err := svc.CreateDocument(ctx, "alice", testRepo, DocumentInput{
		CreateInput:     CreateInput{Name: "doomed.txt", ParentID: "root"},
		VersioningState: VersioningMajor,
		Content:         strings.NewReader("payload"),
		MimeType:        "text/plain",
		Length:          7,
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if attachmentID == "" {
		t.Fatal("attachment was never created")
	}
	if an, _ := st.GetAttachment(ctx, testRepo, attachmentID); an != nil {
		t.Fatal("attachment metadata survived rollback")
	}
	if _, _, err := st.OpenAttachment(ctx, testRepo, attachmentID); err == nil {
		t.Fatal("attachment payload survived rollback")
	}
}

func TestUniqueNameRejected(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)

	mustCreateDocument(t, svc, "root", "report.txt", "a")
	_, err := svc.CreateDocument(context.Background(), "alice", testRepo, DocumentInput{
		CreateInput:     CreateInput{Name: "Report.TXT", ParentID: "root"},
		VersioningState: VersioningMajor,
		Content:         strings.NewReader("b"),
		MimeType:        "text/plain",
		Length:          1,
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected case-insensitive duplicate rejection, got %v", err)
	}
}

func TestBuildUniqueNameSuffix(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	svc.cfg.BuildUniqueName = true

	mustCreateDocument(t, svc, "root", "notes.txt", "a")
	second := mustCreateDocument(t, svc, "root", "notes.txt", "b")
	if second.Name != "notes ~1.txt" {
		t.Fatalf("expected suffix before the extension, got %q", second.Name)
	}
	third := mustCreateDocument(t, svc, "root", "notes.txt", "c")
	if third.Name != "notes ~2.txt" {
		t.Fatalf("expected second suffix, got %q", third.Name)
	}
}

func TestUpdateProperties(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "old.txt", "x")

	updated, err := svc.Update(ctx, "alice", testRepo, doc.ID, []model.Property{
		{Key: types.PropName, Value: "new.txt"},
		{Key: types.PropDescription, Value: "renamed"},
		{Key: types.PropObjectID, Value: "hax"},
		{Key: types.PropCheckinComment, Value: "only on pwc"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	base := updated.Base()
	if base.Name != "new.txt" || base.Description != "renamed" {
		t.Fatalf("readwrite properties not applied: %+v", base)
	}
	if base.ID != doc.ID {
		t.Fatal("readonly object id was overwritten")
	}
	// checkinComment is when-checked-out only; the document is not a PWC.
	if updated.(*model.Document).CheckinComment != "" {
		t.Fatal("whencheckedout property applied to a checked-in version")
	}

	// The rename is visible to path resolution.
	c, err := svc.GetObjectByPath(ctx, testRepo, "/new.txt")
	if err != nil || c == nil || c.Base().ID != doc.ID {
		t.Fatalf("rename not reflected in tree: %v %v", c, err)
	}
}

func TestUpdateRenameDuplicateRejected(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)

	mustCreateDocument(t, svc, "root", "a.txt", "a")
	doc := mustCreateDocument(t, svc, "root", "b.txt", "b")

	_, err := svc.Update(context.Background(), "alice", testRepo, doc.ID, []model.Property{
		{Key: types.PropName, Value: "a.txt"},
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestSecondaryTypeReplacement(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc, err := svc.CreateDocument(ctx, "alice", testRepo, DocumentInput{
		CreateInput: CreateInput{
			Name:         "tagged.txt",
			ParentID:     "root",
			SecondaryIDs: []string{types.TypeIDItem},
			Aspects: []model.Aspect{{
				Name:       types.TypeIDItem,
				Properties: []model.Property{{Key: "cmis:description", Value: "keep"}},
			}},
		},
		VersioningState: VersioningMajor,
		Content:         strings.NewReader("x"),
		MimeType:        "text/plain",
		Length:          1,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Replacing with an empty list removes all secondary types and their
	// property bags.
	updated, err := svc.Update(ctx, "alice", testRepo, doc.ID, []model.Property{
		{Key: types.PropSecondaryTypeIDs, Value: []string{}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(updated.Base().SecondaryIDs) != 0 {
		t.Fatalf("secondary ids not cleared: %v", updated.Base().SecondaryIDs)
	}
	if len(updated.Base().Aspects) != 0 {
		t.Fatalf("aspects not pruned: %+v", updated.Base().Aspects)
	}
}

func TestMoveWritesFolderChanges(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	src := mustCreateFolder(t, svc, "root", "src")
	dst := mustCreateFolder(t, svc, "root", "dst")
	doc := mustCreateDocument(t, svc, src.ID, "m.txt", "x")

	before, err := svc.GetChanges(ctx, testRepo, "", 0)
	if err != nil {
		t.Fatalf("changes before: %v", err)
	}

	moved, err := svc.Move(ctx, "alice", testRepo, doc.ID, dst.ID)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Base().ParentID != dst.ID {
		t.Fatalf("parent not updated: %+v", moved.Base())
	}

	after, err := svc.GetChanges(ctx, testRepo, "", 0)
	if err != nil {
		t.Fatalf("changes after: %v", err)
	}
	tail := after[len(before):]
	if len(tail) != 2 {
		t.Fatalf("expected 2 folder change events, got %d", len(tail))
	}
	ids := map[string]bool{tail[0].ObjectID: true, tail[1].ObjectID: true}
	if !ids[src.ID] || !ids[dst.ID] {
		t.Fatalf("change events for wrong objects: %+v", ids)
	}

	// Path resolution follows the move.
	c, err := svc.GetObjectByPath(ctx, testRepo, "/dst/m.txt")
	if err != nil || c == nil || c.Base().ID != doc.ID {
		t.Fatalf("moved object not at new path: %v %v", c, err)
	}
}

func TestRelationshipCleanupOnDelete(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	a := mustCreateDocument(t, svc, "root", "a.txt", "a")
	b := mustCreateDocument(t, svc, "root", "b.txt", "b")
	rel, err := svc.CreateRelationship(ctx, "alice", testRepo, CreateInput{Name: "a-to-b"}, a.ID, b.ID)
	if err != nil {
		t.Fatalf("create relationship: %v", err)
	}

	if err := svc.Delete(ctx, "alice", testRepo, a.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gone, _ := svc.GetObject(ctx, testRepo, rel.ID); gone != nil {
		t.Fatal("relationship survived endpoint delete")
	}
	// The other endpoint is untouched.
	if alive, _ := svc.GetObject(ctx, testRepo, b.ID); alive == nil {
		t.Fatal("unrelated endpoint deleted")
	}
}

func TestAppendContentStream(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "log.txt", "one")
	if _, err := svc.AppendContentStream(ctx, "alice", testRepo, doc.ID, strings.NewReader(", two"), 5); err != nil {
		t.Fatalf("append: %v", err)
	}

	an, rc, err := svc.OpenAttachment(ctx, testRepo, doc.AttachmentNodeID)
	if err != nil {
		t.Fatalf("open attachment: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "one, two" {
		t.Fatalf("appended payload mismatch: %q", body)
	}
	if an.Length != int64(len("one, two")) {
		t.Fatalf("length not extended: %d", an.Length)
	}
}

func TestTopLevelOwnerAce(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	folder := mustCreateFolder(t, svc, "root", "mine")
	effective, err := svc.GetEffectiveACL(ctx, testRepo, folder.ID)
	if err != nil {
		t.Fatalf("effective acl: %v", err)
	}
	ace := aceFor(effective, "alice")
	if ace == nil || !ace.Direct {
		t.Fatalf("creator should own a top-level folder: %+v", effective.AllAces())
	}
	if len(ace.Permissions) != 1 || ace.Permissions[0] != model.PermissionAll {
		t.Fatalf("expected all permissions, got %v", ace.Permissions)
	}
}

func TestChangeTokensDistinctAcrossCreateDelete(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "brief.txt", "x")
	if err := svc.Delete(ctx, "alice", testRepo, doc.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	changes, err := svc.GetChanges(ctx, testRepo, "", 0)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	seen := make(map[string]bool, len(changes))
	var deleted *model.Change
	for _, ch := range changes {
		if seen[ch.Token] {
			t.Fatalf("token %s issued twice", ch.Token)
		}
		seen[ch.Token] = true
		if ch.ObjectID == doc.ID && ch.ChangeType == model.ChangeDeleted {
			deleted = ch
		}
	}
	if deleted == nil {
		t.Fatal("no deleted event for the document")
	}

	// The deleted event resolves through its own token and carries the
	// object's creation time as the event time.
	got, err := svc.GetChange(ctx, testRepo, deleted.Token)
	if err != nil || got == nil || got.ChangeType != model.ChangeDeleted || got.ObjectID != doc.ID {
		t.Fatalf("token lookup resolved wrong record: %+v %v", got, err)
	}
	if !got.Time.Equal(doc.Created) {
		t.Fatalf("deleted event time %v, want creation time %v", got.Time, doc.Created)
	}
}

func TestRenameCollisionRejectedWithSuffixing(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	svc.cfg.BuildUniqueName = true
	ctx := context.Background()

	mustCreateDocument(t, svc, "root", "a.txt", "x")
	b := mustCreateDocument(t, svc, "root", "b.txt", "y")

	_, err := svc.Update(ctx, "alice", testRepo, b.ID, []model.Property{
		{Key: types.PropName, Value: "a.txt"},
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate name on rename, got %v", err)
	}
}

func TestMoveCollisionRejectedWithSuffixing(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	svc.cfg.BuildUniqueName = true
	ctx := context.Background()

	sub := mustCreateFolder(t, svc, "root", "sub")
	mustCreateDocument(t, svc, "root", "a.txt", "x")
	inner := mustCreateDocument(t, svc, sub.ID, "a.txt", "y")

	_, err := svc.Move(ctx, "alice", testRepo, inner.ID, "root")
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected duplicate name on move, got %v", err)
	}

	children, err := st.GetChildren(ctx, testRepo, "root")
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	count := 0
	for _, child := range children {
		if child.Base().Name == "a.txt" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected one a.txt under root, got %d", count)
	}
}

func TestPolicyMutationJournalsTargetSecurity(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "held.txt", "x")
	policy, err := svc.CreatePolicy(ctx, "alice", testRepo, CreateInput{Name: "retention", ParentID: "root"}, "hold")
	if err != nil {
		t.Fatalf("create policy: %v", err)
	}

	if _, err := svc.ApplyPolicy(ctx, "alice", testRepo, policy.ID, doc.ID); err != nil {
		t.Fatalf("apply policy: %v", err)
	}
	latest, err := svc.GetLatestChange(ctx, testRepo)
	if err != nil {
		t.Fatalf("latest change: %v", err)
	}
	if latest.ChangeType != model.ChangeSecurity || latest.ObjectID != doc.ID {
		t.Fatalf("expected a security event on the governed object, got %+v", latest)
	}

	if _, err := svc.RemovePolicy(ctx, "alice", testRepo, policy.ID, doc.ID); err != nil {
		t.Fatalf("remove policy: %v", err)
	}
	latest, err = svc.GetLatestChange(ctx, testRepo)
	if err != nil {
		t.Fatalf("latest change after removal: %v", err)
	}
	if latest.ChangeType != model.ChangeSecurity || latest.ObjectID != doc.ID {
		t.Fatalf("expected a security event on removal, got %+v", latest)
	}
}

func TestChangeTokenStampedOnObject(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	folder := mustCreateFolder(t, svc, "root", "stamped")
	stored, err := svc.GetObject(ctx, testRepo, folder.ID)
	if err != nil || stored == nil {
		t.Fatalf("get: %v", err)
	}
	first := stored.Base().ChangeToken
	if first == "" {
		t.Fatal("no change token after create")
	}

	if _, err := svc.Update(ctx, "alice", testRepo, folder.ID, []model.Property{
		{Key: types.PropDescription, Value: "renumbered"},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, err = svc.GetObject(ctx, testRepo, folder.ID)
	if err != nil || stored == nil {
		t.Fatalf("get after update: %v", err)
	}
	if stored.Base().ChangeToken == "" || stored.Base().ChangeToken == first {
		t.Fatalf("change token not advanced: %q", stored.Base().ChangeToken)
	}
}
