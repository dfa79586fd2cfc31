package content

import (
	"context"
	"errors"
	"strings"
	"testing"

	"coffer/internal/model"
)

func TestIncrementLabel(t *testing.T) {
	cases := []struct {
		label string
		major bool
		want  string
	}{
		{"1.0", false, "1.1"},
		{"1.1", true, "2.0"},
		{"2.0", false, "2.1"},
		{"10.42", true, "11.0"},
	}
	for _, tc := range cases {
		got, err := IncrementLabel(tc.label, tc.major)
		if err != nil {
			t.Fatalf("increment %s: %v", tc.label, err)
		}
		if got != tc.want {
			t.Fatalf("increment %s (major=%v): got %s, want %s", tc.label, tc.major, got, tc.want)
		}
	}
}

func TestIncrementLabelMalformed(t *testing.T) {
	for _, label := range []string{"", "1", "a.b", "1.x"} {
		if _, err := IncrementLabel(label, false); err == nil {
			t.Fatalf("label %q should not parse", label)
		}
	}
}

func seriesInvariants(t *testing.T, svc *Service, seriesID string) {
	t.Helper()
	versions, err := svc.GetAllVersions(context.Background(), testRepo, seriesID)
	if err != nil {
		t.Fatalf("all versions: %v", err)
	}

	pwcs, latest, latestMajor := 0, 0, 0
	for _, v := range versions {
		if v.PrivateWorkingCopy {
			pwcs++
			continue
		}
		if v.LatestVersion {
			latest++
		}
		if v.LatestMajorVersion {
			latestMajor++
		}
	}
	if pwcs > 1 {
		t.Fatalf("%d private working copies in series %s", pwcs, seriesID)
	}
	if latest != 1 {
		t.Fatalf("%d latest versions in series %s, want exactly 1", latest, seriesID)
	}
	if latestMajor > 1 {
		t.Fatalf("%d latest major versions in series %s", latestMajor, seriesID)
	}
}

func TestCheckoutCheckinLifecycle(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "spec.txt", "v1")
	if doc.VersionLabel != "1.0" {
		t.Fatalf("first version label %s, want 1.0", doc.VersionLabel)
	}
	seriesInvariants(t, svc, doc.VersionSeriesID)

	pwc, err := svc.CheckOut(ctx, "alice", testRepo, doc.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !pwc.PrivateWorkingCopy || pwc.LatestVersion {
		t.Fatalf("pwc flags wrong: %+v", pwc)
	}
	if pwc.CheckedOutBy != "alice" || pwc.CheckedOutID != pwc.ID {
		t.Fatalf("pwc checkout metadata wrong: %+v", pwc)
	}
	seriesInvariants(t, svc, doc.VersionSeriesID)

	// The checked-in sibling mirrors the checkout state.
	c, _ := svc.GetObject(ctx, testRepo, doc.ID)
	if sibling := c.(*model.Document); !sibling.CheckedOut || sibling.CheckedOutID != pwc.ID {
		t.Fatalf("sibling does not mirror checkout: %+v", sibling)
	}

	// A second checkout of the same series is rejected.
	if _, err := svc.CheckOut(ctx, "bob", testRepo, doc.ID); !errors.Is(err, ErrAlreadyCheckedOut) {
		t.Fatalf("expected ErrAlreadyCheckedOut, got %v", err)
	}

	minor, err := svc.CheckIn(ctx, "alice", testRepo, pwc.ID, false, "fix typo", nil)
	if err != nil {
		t.Fatalf("minor checkin: %v", err)
	}
	if minor.VersionLabel != "1.1" || !minor.LatestVersion || minor.MajorVersion {
		t.Fatalf("minor version wrong: %+v", minor)
	}
	if minor.CheckinComment != "fix typo" {
		t.Fatalf("checkin comment lost: %q", minor.CheckinComment)
	}
	seriesInvariants(t, svc, doc.VersionSeriesID)

	// The PWC row is gone.
	if gone, _ := svc.GetObject(ctx, testRepo, pwc.ID); gone != nil {
		t.Fatal("pwc row survived checkin")
	}

	pwc2, err := svc.CheckOut(ctx, "alice", testRepo, minor.ID)
	if err != nil {
		t.Fatalf("second checkout: %v", err)
	}
	majorVer, err := svc.CheckIn(ctx, "alice", testRepo, pwc2.ID, true, "release", nil)
	if err != nil {
		t.Fatalf("major checkin: %v", err)
	}
	if majorVer.VersionLabel != "2.0" || !majorVer.MajorVersion || !majorVer.LatestMajorVersion {
		t.Fatalf("major version wrong: %+v", majorVer)
	}
	seriesInvariants(t, svc, doc.VersionSeriesID)

	versions, _ := svc.GetAllVersions(ctx, testRepo, doc.VersionSeriesID)
	if len(versions) != 3 {
		t.Fatalf("expected 3 checked-in versions, got %d", len(versions))
	}
}

func TestCancelCheckout(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "draft.txt", "v1")
	pwc, err := svc.CheckOut(ctx, "alice", testRepo, doc.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if err := svc.CancelCheckOut(ctx, "alice", testRepo, pwc.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if gone, _ := svc.GetObject(ctx, testRepo, pwc.ID); gone != nil {
		t.Fatal("pwc survived cancel")
	}
	seriesInvariants(t, svc, doc.VersionSeriesID)

	series, err := st.GetVersionSeries(ctx, testRepo, doc.VersionSeriesID)
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	if series.CheckedOut || series.CheckedOutID != "" {
		t.Fatalf("series still checked out: %+v", series)
	}

	// The series can be checked out again afterwards.
	if _, err := svc.CheckOut(ctx, "bob", testRepo, doc.ID); err != nil {
		t.Fatalf("re-checkout after cancel: %v", err)
	}
}

func TestCheckoutCopiesAttachment(t *testing.T) {
	st := newTestStore(t)
	svc := newTestService(t, st)
	ctx := context.Background()

	doc := mustCreateDocument(t, svc, "root", "report.txt", "body")
	pwc, err := svc.CheckOut(ctx, "alice", testRepo, doc.ID)
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if pwc.AttachmentNodeID == "" || pwc.AttachmentNodeID == doc.AttachmentNodeID {
		t.Fatalf("pwc should carry its own attachment copy, got %q (source %q)", pwc.AttachmentNodeID, doc.AttachmentNodeID)
	}

	// Editing the working copy leaves the checked-in payload untouched.
	if _, err := svc.SetContentStream(ctx, "alice", testRepo, pwc.ID, strings.NewReader("edited"), "text/plain", 6); err != nil {
		t.Fatalf("set stream: %v", err)
	}
	_, rc, err := svc.OpenAttachment(ctx, testRepo, doc.AttachmentNodeID)
	if err != nil || rc == nil {
		t.Fatalf("open source attachment: %v", err)
	}
	defer rc.Close()
	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "body" {
		t.Fatalf("checked-in payload mutated: %q", buf[:n])
	}
}

func TestVersioningStateNone(t *testing.T) {
	doc := &model.Document{}
	ApplyInitialState(doc, VersioningNone)
	if doc.VersionLabel != "1.0" || !doc.LatestVersion || !doc.MajorVersion || doc.PrivateWorkingCopy {
		t.Fatalf("none state wrong: %+v", doc)
	}
	if doc.CheckinComment != "" {
		t.Fatalf("checkin comment should default to empty, got %q", doc.CheckinComment)
	}
}
