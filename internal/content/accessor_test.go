package content

import (
	"context"
	"testing"
)

func TestPathRoundTrip(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	reports := mustCreateFolder(t, svc, "root", "reports")
	q3 := mustCreateFolder(t, svc, reports.ID, "q3")
	doc := mustCreateDocument(t, svc, q3.ID, "total.txt", "42")

	for _, id := range []string{"root", reports.ID, q3.ID, doc.ID} {
		c, err := svc.GetObject(ctx, testRepo, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		path, err := svc.Accessor().CalculatePath(ctx, testRepo, c)
		if err != nil {
			t.Fatalf("path of %s: %v", id, err)
		}
		back, err := svc.GetObjectByPath(ctx, testRepo, path)
		if err != nil {
			t.Fatalf("resolve %s: %v", path, err)
		}
		if back == nil || back.Base().ID != id {
			t.Fatalf("path %s resolved to %+v, want %s", path, back, id)
		}
	}

	root, err := svc.GetObjectByPath(ctx, testRepo, "/")
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if root == nil || root.Base().ID != "root" {
		t.Fatal("slash did not resolve to the root folder")
	}
}

func TestGetByPathMissingSegment(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	mustCreateFolder(t, svc, "root", "reports")

	c, err := svc.GetObjectByPath(ctx, testRepo, "/reports/nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatal("missing segment should resolve to nil")
	}
}

func TestGetByPathThroughDocument(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "a.txt", "x")
	_ = doc

	c, err := svc.GetObjectByPath(ctx, testRepo, "/a.txt/deeper")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != nil {
		t.Fatal("a document mid-path should resolve to nil")
	}
}

func TestIsTopLevel(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)

	top := mustCreateFolder(t, svc, "root", "top")
	nested := mustCreateFolder(t, svc, top.ID, "nested")

	if !svc.Accessor().IsTopLevel(top) {
		t.Fatal("folder under root should be top level")
	}
	if svc.Accessor().IsTopLevel(nested) {
		t.Fatal("nested folder should not be top level")
	}
}
