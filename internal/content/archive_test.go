package content

import (
	"context"
	"errors"
	"io"
	"testing"

	"coffer/internal/model"
)

func TestDeleteArchivesAndRestore(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "keep.txt", "hello")

	if err := svc.Delete(ctx, "alice", testRepo, doc.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gone, _ := svc.GetObject(ctx, testRepo, doc.ID); gone != nil {
		t.Fatal("document still live after delete")
	}

	archives, err := svc.GetArchives(ctx, testRepo, 0, 0)
	if err != nil {
		t.Fatalf("archives: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive, got %d", len(archives))
	}
	arch := archives[0]
	if arch.OriginalID != doc.ID || arch.Name != "keep.txt" {
		t.Fatalf("archive does not describe the document: %+v", arch)
	}

	restored, err := svc.Restore(ctx, testRepo, arch.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	rdoc := restored.Base()
	if rdoc.ID != doc.ID || rdoc.Name != "keep.txt" || rdoc.ParentID != "root" {
		t.Fatalf("restored document does not match original: %+v", rdoc)
	}

	// Attachment metadata and payload survived the round trip.
	an, rc, err := svc.OpenAttachment(ctx, testRepo, doc.AttachmentNodeID)
	if err != nil {
		t.Fatalf("open attachment: %v", err)
	}
	if an == nil || rc == nil {
		t.Fatal("attachment gone after restore")
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "hello" || an.MimeType != "text/plain" {
		t.Fatalf("payload damaged: %q %s", body, an.MimeType)
	}
	if an.Length != int64(len("hello")) {
		t.Fatalf("attachment length lost: %d", an.Length)
	}

	// No residual archive rows.
	archives, err = svc.GetArchives(ctx, testRepo, 0, 0)
	if err != nil {
		t.Fatalf("archives after restore: %v", err)
	}
	if len(archives) != 0 {
		t.Fatalf("residual archives: %+v", archives)
	}
}

func TestRestoreRequiresLivingParent(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	folder := mustCreateFolder(t, svc, "root", "box")
	doc := mustCreateDocument(t, svc, folder.ID, "inside.txt", "x")

	if err := svc.Delete(ctx, "alice", testRepo, doc.ID, false); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if err := svc.Delete(ctx, "alice", testRepo, folder.ID, false); err != nil {
		t.Fatalf("delete folder: %v", err)
	}

	arch, err := st.GetArchiveByOriginalID(ctx, testRepo, doc.ID)
	if err != nil || arch == nil {
		t.Fatalf("archive lookup: %v %v", arch, err)
	}
	if _, err := svc.Restore(ctx, testRepo, arch.ID); !errors.Is(err, ErrParentNoLongerExists) {
		t.Fatalf("expected parent check to fail, got %v", err)
	}
}

func TestDeleteTreeRestoresAsAWhole(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	folder := mustCreateFolder(t, svc, "root", "project")
	sub := mustCreateFolder(t, svc, folder.ID, "drafts")
	mustCreateDocument(t, svc, folder.ID, "readme.txt", "r")
	mustCreateDocument(t, svc, sub.ID, "draft1.txt", "d")

	failed, err := svc.DeleteTree(ctx, "alice", testRepo, folder.ID, false, false)
	if err != nil {
		t.Fatalf("delete tree: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("unexpected failures: %v", failed)
	}
	if left, _ := svc.GetChildren(ctx, testRepo, "root"); len(left) != 0 {
		t.Fatalf("tree not fully deleted: %+v", left)
	}

	arch, err := st.GetArchiveByOriginalID(ctx, testRepo, folder.ID)
	if err != nil || arch == nil {
		t.Fatalf("folder archive lookup: %v %v", arch, err)
	}
	if arch.DeletedWithParent {
		t.Fatal("tree root must be independently restorable")
	}

	if _, err := svc.Restore(ctx, testRepo, arch.ID); err != nil {
		t.Fatalf("restore tree: %v", err)
	}

	for _, path := range []string{"/project", "/project/drafts", "/project/readme.txt", "/project/drafts/draft1.txt"} {
		c, err := svc.GetObjectByPath(ctx, testRepo, path)
		if err != nil {
			t.Fatalf("resolve %s: %v", path, err)
		}
		if c == nil {
			t.Fatalf("%s missing after restore", path)
		}
	}
	if archives, _ := svc.GetArchives(ctx, testRepo, 0, 0); len(archives) != 0 {
		t.Fatalf("residual archives after tree restore: %+v", archives)
	}
}

func TestDeleteAllVersionsThenDestroy(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "v.txt", "one")
	pwc, err := svc.CheckOut(ctx, "alice", testRepo, doc.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	v2, err := svc.CheckIn(ctx, "alice", testRepo, pwc.ID, true, "second", nil)
	if err != nil {
		t.Fatalf("checkin: %v", err)
	}

	if err := svc.DeleteDocument(ctx, "alice", testRepo, v2.ID, true, false); err != nil {
		t.Fatalf("delete all versions: %v", err)
	}

	archives, err := svc.GetArchives(ctx, testRepo, 0, 0)
	if err != nil {
		t.Fatalf("archives: %v", err)
	}
	// One archive per version.
	if len(archives) != 2 {
		t.Fatalf("expected 2 version archives, got %d", len(archives))
	}
	if series, _ := st.GetVersionSeries(ctx, testRepo, doc.VersionSeriesID); series != nil {
		t.Fatal("version series row survived delete")
	}

	// Destroying any version archive purges the whole series, payloads
	// included.
	if err := svc.Destroy(ctx, testRepo, archives[0].ID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, _, err := st.OpenAttachment(ctx, testRepo, v2.AttachmentNodeID); err == nil {
		t.Fatal("destroyed payload still readable")
	}
	if _, _, err := st.OpenAttachment(ctx, testRepo, doc.AttachmentNodeID); err == nil {
		t.Fatal("first version payload still readable")
	}
	if left, _ := svc.GetArchives(ctx, testRepo, 0, 0); len(left) != 0 {
		t.Fatalf("residual archives after destroy: %+v", left)
	}
}

func TestDeleteWritesJournalThenArchives(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "j.txt", "x")
	if err := svc.Delete(ctx, "alice", testRepo, doc.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}

	latest, err := svc.GetLatestChange(ctx, testRepo)
	if err != nil {
		t.Fatalf("latest change: %v", err)
	}
	if latest.ChangeType != model.ChangeDeleted || latest.ObjectID != doc.ID {
		t.Fatalf("expected a deleted event for the document, got %+v", latest)
	}
}

func TestRestoreJournalsRevival(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "back.txt", "x")
	if err := svc.Delete(ctx, "alice", testRepo, doc.ID, false); err != nil {
		t.Fatalf("delete: %v", err)
	}
	archives, err := svc.GetArchives(ctx, testRepo, 0, 0)
	if err != nil || len(archives) != 1 {
		t.Fatalf("archives: %v %d", err, len(archives))
	}

	if _, err := svc.Restore(ctx, testRepo, archives[0].ID); err != nil {
		t.Fatalf("restore: %v", err)
	}
	latest, err := svc.GetLatestChange(ctx, testRepo)
	if err != nil {
		t.Fatalf("latest change: %v", err)
	}
	if latest.ChangeType != model.ChangeCreated || latest.ObjectID != doc.ID {
		t.Fatalf("expected a created event for the revived document, got %+v", latest)
	}
	if latest.Creator != model.PrincipalSystem {
		t.Fatalf("revival should be journaled by the system principal, got %s", latest.Creator)
	}
}
