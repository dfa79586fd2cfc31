package store

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"coffer/internal/blob"
	"coffer/internal/model"
)

const testRepo = "books"

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, blob.NewMemoryStore())
}

func TestRedisStoreContentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	folder := &model.Folder{NodeBase: model.NodeBase{Name: "reports", Type: model.TypeFolder}}
	created, err := s.CreateContent(ctx, testRepo, folder)
	if err != nil {
		t.Fatalf("create folder: %v", err)
	}
	id := created.Base().ID
	if id == "" {
		t.Fatal("expected generated id")
	}
	if created.Base().Rev != 1 {
		t.Fatalf("expected rev 1, got %d", created.Base().Rev)
	}

	got, err := s.GetContent(ctx, testRepo, id)
	if err != nil {
		t.Fatalf("get folder: %v", err)
	}
	if got == nil || got.Base().Name != "reports" {
		t.Fatalf("unexpected folder read back: %+v", got)
	}
	if !got.Base().IsFolder() {
		t.Fatal("expected folder base type")
	}

	missing, err := s.GetContent(ctx, testRepo, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil for missing node")
	}
}

func TestRedisStoreStaleRevisionRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &model.Document{NodeBase: model.NodeBase{Name: "plan.txt", Type: model.TypeDocument}}
	created, err := s.CreateContent(ctx, testRepo, doc)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := created.Base().ID

	first, _ := s.GetContent(ctx, testRepo, id)
	second, _ := s.GetContent(ctx, testRepo, id)

	first.Base().Description = "first writer"
	if _, err := s.UpdateContent(ctx, testRepo, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	second.Base().Description = "second writer"
	if _, err := s.UpdateContent(ctx, testRepo, second); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRedisStoreChildIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent, err := s.CreateContent(ctx, testRepo, &model.Folder{NodeBase: model.NodeBase{Name: "root", Type: model.TypeFolder}})
	if err != nil {
		t.Fatalf("create parent: %v", err)
	}
	parentID := parent.Base().ID

	child, err := s.CreateContent(ctx, testRepo, &model.Document{NodeBase: model.NodeBase{Name: "a.txt", Type: model.TypeDocument, ParentID: parentID}})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}

	children, err := s.GetChildren(ctx, testRepo, parentID)
	if err != nil {
		t.Fatalf("children: %v", err)
	}
	if len(children) != 1 || children[0].Base().ID != child.Base().ID {
		t.Fatalf("unexpected children: %+v", children)
	}

	byName, err := s.GetChildByName(ctx, testRepo, parentID, "a.txt")
	if err != nil {
		t.Fatalf("child by name: %v", err)
	}
	if byName == nil || byName.Base().ID != child.Base().ID {
		t.Fatal("child not found by name")
	}

	// Rename re-homes the name index.
	child.Base().Name = "b.txt"
	if _, err := s.UpdateContent(ctx, testRepo, child); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if stale, _ := s.GetChildByName(ctx, testRepo, parentID, "a.txt"); stale != nil {
		t.Fatal("old name still resolves")
	}
	if renamed, _ := s.GetChildByName(ctx, testRepo, parentID, "b.txt"); renamed == nil {
		t.Fatal("new name does not resolve")
	}

	if err := s.DeleteContent(ctx, testRepo, child.Base().ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}
	names, err := s.GetChildrenNames(ctx, testRepo, parentID)
	if err != nil {
		t.Fatalf("children names: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no names after delete, got %v", names)
	}
}

func TestRedisStoreVersionSeries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	vs, err := s.CreateVersionSeries(ctx, testRepo, &model.VersionSeries{})
	if err != nil {
		t.Fatalf("create series: %v", err)
	}

	for _, label := range []string{"1.0", "1.1"} {
		_, err := s.CreateContent(ctx, testRepo, &model.Document{
			NodeBase:        model.NodeBase{Name: "doc", Type: model.TypeDocument},
			VersionSeriesID: vs.ID,
			VersionLabel:    label,
		})
		if err != nil {
			t.Fatalf("create version %s: %v", label, err)
		}
	}

	versions, err := s.GetAllVersions(ctx, testRepo, vs.ID)
	if err != nil {
		t.Fatalf("all versions: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}

	vs.CheckedOut = true
	vs.CheckedOutBy = "alice"
	if _, err := s.UpdateVersionSeries(ctx, testRepo, vs); err != nil {
		t.Fatalf("update series: %v", err)
	}
	got, err := s.GetVersionSeries(ctx, testRepo, vs.ID)
	if err != nil {
		t.Fatalf("get series: %v", err)
	}
	if !got.CheckedOut || got.CheckedOutBy != "alice" {
		t.Fatalf("series not updated: %+v", got)
	}
}

func TestRedisStoreChangeFeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tokens := []string{"100-0", "101-0", "102-0"}
	for i, token := range tokens {
		_, err := s.CreateChange(ctx, testRepo, &model.Change{
			ObjectID:   "obj",
			ChangeType: model.ChangeCreated,
			Token:      token,
		})
		if err != nil {
			t.Fatalf("create change %d: %v", i, err)
		}
	}

	latest, err := s.GetLatestChange(ctx, testRepo)
	if err != nil {
		t.Fatalf("latest change: %v", err)
	}
	if latest.Token != "102-0" {
		t.Fatalf("expected latest token 102-0, got %s", latest.Token)
	}

	from, err := s.GetLatestChanges(ctx, testRepo, "101-0", 0)
	if err != nil {
		t.Fatalf("changes from token: %v", err)
	}
	if len(from) != 2 || from[0].Token != "101-0" {
		t.Fatalf("unexpected slice from token: %+v", from)
	}

	capped, err := s.GetLatestChanges(ctx, testRepo, "", 2)
	if err != nil {
		t.Fatalf("capped changes: %v", err)
	}
	if len(capped) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(capped))
	}
}

func TestRedisStoreArchives(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parentArch, err := s.CreateArchive(ctx, testRepo, &model.Archive{
		OriginalID: "folder-1",
		Name:       "trash-folder",
		Type:       model.TypeFolder,
	})
	if err != nil {
		t.Fatalf("create parent archive: %v", err)
	}

	_, err = s.CreateArchive(ctx, testRepo, &model.Archive{
		OriginalID:        "doc-1",
		ParentID:          "folder-1",
		Name:              "trash-doc",
		Type:              model.TypeDocument,
		DeletedWithParent: true,
		VersionSeriesID:   "vs-1",
	})
	if err != nil {
		t.Fatalf("create child archive: %v", err)
	}

	byOriginal, err := s.GetArchiveByOriginalID(ctx, testRepo, "folder-1")
	if err != nil {
		t.Fatalf("archive by original: %v", err)
	}
	if byOriginal == nil || byOriginal.ID != parentArch.ID {
		t.Fatal("archive not found by original id")
	}

	children, err := s.GetChildArchives(ctx, testRepo, "folder-1")
	if err != nil {
		t.Fatalf("child archives: %v", err)
	}
	if len(children) != 1 || !children[0].DeletedWithParent {
		t.Fatalf("unexpected child archives: %+v", children)
	}

	ofSeries, err := s.GetArchivesOfVersionSeries(ctx, testRepo, "vs-1")
	if err != nil {
		t.Fatalf("series archives: %v", err)
	}
	if len(ofSeries) != 1 {
		t.Fatalf("expected 1 series archive, got %d", len(ofSeries))
	}

	page, err := s.GetArchives(ctx, testRepo, 0, 1, true)
	if err != nil {
		t.Fatalf("archive page: %v", err)
	}
	if len(page) != 1 || page[0].OriginalID != "doc-1" {
		t.Fatalf("expected newest-first page, got %+v", page)
	}

	if err := s.DeleteArchive(ctx, testRepo, parentArch.ID); err != nil {
		t.Fatalf("delete archive: %v", err)
	}
	if gone, _ := s.GetArchiveByOriginalID(ctx, testRepo, "folder-1"); gone != nil {
		t.Fatal("archive index survived delete")
	}
}

func TestRedisStoreAttachmentPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	an := &model.AttachmentNode{MimeType: "text/plain", Length: model.LengthUnknown}
	id, err := s.CreateAttachment(ctx, testRepo, an, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("create attachment: %v", err)
	}
	if an.Length != 5 {
		t.Fatalf("expected resolved length 5, got %d", an.Length)
	}

	rc, length, err := s.OpenAttachment(ctx, testRepo, id)
	if err != nil {
		t.Fatalf("open attachment: %v", err)
	}
	defer rc.Close()
	payload, _ := io.ReadAll(rc)
	if string(payload) != "hello" || length != 5 {
		t.Fatalf("unexpected payload %q (len %d)", payload, length)
	}

	// Soft delete keeps the payload for a later restore.
	if err := s.DeleteAttachment(ctx, testRepo, id, false); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	if meta, _ := s.GetAttachment(ctx, testRepo, id); meta != nil {
		t.Fatal("metadata survived delete")
	}
	if _, _, err := s.OpenAttachment(ctx, testRepo, id); err != nil {
		t.Fatalf("payload should survive soft delete: %v", err)
	}

	if err := s.DeleteAttachment(ctx, testRepo, id, true); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, _, err := s.OpenAttachment(ctx, testRepo, id); err == nil {
		t.Fatal("payload should be gone after purge")
	}
}
