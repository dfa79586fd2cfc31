package content

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"coffer/internal/model"
	"coffer/internal/store"
)

// VersioningState is the caller-requested initial state of a new document.
type VersioningState string

const (
	VersioningNone       VersioningState = "none"
	VersioningMajor      VersioningState = "major"
	VersioningMinor      VersioningState = "minor"
	VersioningCheckedOut VersioningState = "checkedout"
)

// FirstVersionLabel is where every new series starts.
const FirstVersionLabel = "1.0"

// Versioning owns the version-series state machine. States are derived
// from a document's flags, never stored as an enum.
type Versioning struct {
	store store.Store
}

func NewVersioning(s store.Store) *Versioning {
	return &Versioning{store: s}
}

// IncrementLabel bumps "N.M": major goes to "N+1.0", minor to "N.M+1".
// A label that does not parse indicates store corruption and fails hard.
func IncrementLabel(label string, major bool) (string, error) {
	dot := strings.LastIndex(label, ".")
	if dot < 0 {
		return "", fmt.Errorf("malformed version label %q", label)
	}
	whole, err := strconv.Atoi(label[:dot])
	if err != nil {
		return "", fmt.Errorf("malformed version label %q: %w", label, err)
	}
	fraction, err := strconv.Atoi(label[dot+1:])
	if err != nil {
		return "", fmt.Errorf("malformed version label %q: %w", label, err)
	}
	if major {
		return fmt.Sprintf("%d.0", whole+1), nil
	}
	return fmt.Sprintf("%d.%d", whole, fraction+1), nil
}

// CreateSeries persists a fresh, not-checked-out series.
func (v *Versioning) CreateSeries(ctx context.Context, repositoryID string) (*model.VersionSeries, error) {
	return v.store.CreateVersionSeries(ctx, repositoryID, &model.VersionSeries{})
}

// ApplyInitialState stamps a brand-new first version's flags for the
// requested state. Checked-out bookkeeping on the series happens separately
// once the document row exists.
func ApplyInitialState(doc *model.Document, state VersioningState) {
	doc.VersionLabel = FirstVersionLabel
	switch state {
	case VersioningCheckedOut:
		doc.LatestVersion = false
		doc.MajorVersion = false
		doc.LatestMajorVersion = false
		doc.PrivateWorkingCopy = true
	case VersioningMinor:
		doc.VersionLabel = "0.1"
		doc.LatestVersion = true
		doc.MajorVersion = false
		doc.LatestMajorVersion = false
		doc.PrivateWorkingCopy = false
	default:
		// Major and non-versionable types both start at a checked-in 1.0.
		doc.LatestVersion = true
		doc.MajorVersion = true
		doc.LatestMajorVersion = true
		doc.PrivateWorkingCopy = false
	}
}

// LatestVersionOf returns the series' current latest non-PWC version.
func (v *Versioning) LatestVersionOf(ctx context.Context, repositoryID, versionSeriesID string) (*model.Document, error) {
	versions, err := v.store.GetAllVersions(ctx, repositoryID, versionSeriesID)
	if err != nil {
		return nil, err
	}
	for _, doc := range versions {
		if doc.LatestVersion && !doc.PrivateWorkingCopy {
			return doc, nil
		}
	}
	return nil, nil
}

// MarkCheckedOut records the PWC on the series and mirrors the checkout
// fields onto every non-PWC sibling so all versions report a consistent
// checked-out status. Each sibling is re-fetched right before its write to
// carry the freshest revision.
func (v *Versioning) MarkCheckedOut(ctx context.Context, repositoryID string, series *model.VersionSeries, pwcID, userID string) error {
	series.CheckedOut = true
	series.CheckedOutBy = userID
	series.CheckedOutID = pwcID
	if _, err := v.store.UpdateVersionSeries(ctx, repositoryID, series); err != nil {
		return err
	}
	return v.mirrorCheckoutState(ctx, repositoryID, series.ID, pwcID, true, userID, pwcID)
}

// ClearCheckedOut reverses checkout bookkeeping on the series and all
// versions.
func (v *Versioning) ClearCheckedOut(ctx context.Context, repositoryID string, series *model.VersionSeries) error {
	pwcID := series.CheckedOutID
	series.CheckedOut = false
	series.CheckedOutBy = ""
	series.CheckedOutID = ""
	if _, err := v.store.UpdateVersionSeries(ctx, repositoryID, series); err != nil {
		return err
	}
	return v.mirrorCheckoutState(ctx, repositoryID, series.ID, pwcID, false, "", "")
}

func (v *Versioning) mirrorCheckoutState(ctx context.Context, repositoryID, seriesID, skipID string, checkedOut bool, userID, pwcID string) error {
	versions, err := v.store.GetAllVersions(ctx, repositoryID, seriesID)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if version.ID == skipID || version.PrivateWorkingCopy {
			continue
		}
		fresh, err := v.store.GetContent(ctx, repositoryID, version.ID)
		if err != nil {
			return err
		}
		doc, isDoc := fresh.(*model.Document)
		if !isDoc {
			continue
		}
		if doc.CheckedOut == checkedOut && doc.CheckedOutBy == userID && doc.CheckedOutID == pwcID {
			continue
		}
		doc.CheckedOut = checkedOut
		doc.CheckedOutBy = userID
		doc.CheckedOutID = pwcID
		if _, err := v.store.UpdateContent(ctx, repositoryID, doc); err != nil {
			return err
		}
	}
	return nil
}

// PromoteLatest recomputes latestVersion/latestMajorVersion across the
// remaining versions of a series, used after the old latest is deleted or
// superseded. Returns the new latest, nil when the series is empty.
func (v *Versioning) PromoteLatest(ctx context.Context, repositoryID, versionSeriesID string) (*model.Document, error) {
	versions, err := v.store.GetAllVersions(ctx, repositoryID, versionSeriesID)
	if err != nil {
		return nil, err
	}

	var latest, latestMajor *model.Document
	for _, doc := range versions {
		if doc.PrivateWorkingCopy {
			continue
		}
		if latest == nil || labelLess(latest.VersionLabel, doc.VersionLabel) {
			latest = doc
		}
		if doc.MajorVersion && (latestMajor == nil || labelLess(latestMajor.VersionLabel, doc.VersionLabel)) {
			latestMajor = doc
		}
	}

	for _, doc := range versions {
		if doc.PrivateWorkingCopy {
			continue
		}
		wantLatest := latest != nil && doc.ID == latest.ID
		wantLatestMajor := latestMajor != nil && doc.ID == latestMajor.ID
		if doc.LatestVersion == wantLatest && doc.LatestMajorVersion == wantLatestMajor {
			continue
		}
		fresh, err := v.store.GetContent(ctx, repositoryID, doc.ID)
		if err != nil {
			return nil, err
		}
		freshDoc, isDoc := fresh.(*model.Document)
		if !isDoc {
			continue
		}
		freshDoc.LatestVersion = wantLatest
		freshDoc.LatestMajorVersion = wantLatestMajor
		freshDoc.SetModifiedSignature(model.PrincipalSystem, time.Now())
		if _, err := v.store.UpdateContent(ctx, repositoryID, freshDoc); err != nil {
			return nil, err
		}
		if wantLatest {
			latest = freshDoc
		}
	}
	return latest, nil
}

// labelLess orders "N.M" labels numerically.
func labelLess(a, b string) bool {
	aw, af := splitLabel(a)
	bw, bf := splitLabel(b)
	if aw != bw {
		return aw < bw
	}
	return af < bf
}

func splitLabel(label string) (int, int) {
	dot := strings.LastIndex(label, ".")
	if dot < 0 {
		return 0, 0
	}
	whole, _ := strconv.Atoi(label[:dot])
	fraction, _ := strconv.Atoi(label[dot+1:])
	return whole, fraction
}
