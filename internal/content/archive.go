package content

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coffer/internal/model"
	"coffer/internal/store"
)

// Archiver soft-deletes content into archive records and brings them back.
// Archive rows are persisted before the live row is removed, and removed
// last on restore, so a crash mid-operation never loses the object.
type Archiver struct {
	store store.Store
}

func NewArchiver(s store.Store) *Archiver {
	return &Archiver{store: s}
}

// Archive snapshots a live node into an archive row. The caller deletes the
// live row afterwards, never before.
func (a *Archiver) Archive(ctx context.Context, repositoryID string, c model.Content, deletedWithParent bool) (*model.Archive, error) {
	base := c.Base()
	snapshot, err := model.EncodeContent(c)
	if err != nil {
		return nil, err
	}

	arch := &model.Archive{
		OriginalID:        base.ID,
		ParentID:          base.ParentID,
		Name:              base.Name,
		Type:              base.Type,
		DeletedWithParent: deletedWithParent,
		Snapshot:          snapshot,
		Creator:           base.Modifier,
		Created:           time.Now(),
	}
	if doc, isDoc := c.(*model.Document); isDoc {
		arch.VersionSeriesID = doc.VersionSeriesID
		arch.AttachmentNodeID = doc.AttachmentNodeID
		arch.WasLatestVersion = doc.LatestVersion
	}
	return a.store.CreateArchive(ctx, repositoryID, arch)
}

// ArchiveAttachment snapshots an attachment node so restore can bring the
// metadata row back and destroy can purge the payload later. The payload
// itself stays in the blob store.
func (a *Archiver) ArchiveAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, deletedWithParent bool) (*model.Archive, error) {
	snapshot, err := json.Marshal(an)
	if err != nil {
		return nil, fmt.Errorf("marshal attachment %s: %w", an.ID, err)
	}
	arch := &model.Archive{
		OriginalID:        an.ID,
		Type:              model.ArchiveKindAttachment,
		DeletedWithParent: deletedWithParent,
		Snapshot:          snapshot,
		Created:           time.Now(),
	}
	return a.store.CreateArchive(ctx, repositoryID, arch)
}

// Restore reconstructs the archived node as a live row. Folders bring back
// every direct child archived with them; documents bring back every version
// of their series. Attachments alone are not restorable. The archive rows
// are deleted only after their nodes are live again. The second return
// value lists every node brought back, so the caller can journal each one.
func (a *Archiver) Restore(ctx context.Context, repositoryID, archiveID string) (model.Content, []model.Content, error) {
	arch, err := a.store.GetArchive(ctx, repositoryID, archiveID)
	if err != nil {
		return nil, nil, err
	}
	if arch == nil {
		return nil, nil, fmt.Errorf("archive %s: %w", archiveID, ErrNotFound)
	}
	if arch.IsAttachment() {
		return nil, nil, fmt.Errorf("archive %s: %w", archiveID, ErrNotRestorable)
	}

	if arch.ParentID != "" {
		parent, err := a.store.GetContent(ctx, repositoryID, arch.ParentID)
		if err != nil {
			return nil, nil, err
		}
		if parent == nil {
			return nil, nil, fmt.Errorf("archive %s parent %s: %w", archiveID, arch.ParentID, ErrParentNoLongerExists)
		}
	}

	var revived []model.Content
	var c model.Content
	switch {
	case arch.IsFolder():
		c, err = a.restoreFolder(ctx, repositoryID, arch, &revived)
	case arch.IsDocument():
		c, err = a.restoreDocument(ctx, repositoryID, arch, &revived)
	default:
		c, err = a.restoreNode(ctx, repositoryID, arch, &revived)
	}
	if err != nil {
		return nil, nil, err
	}
	return c, revived, nil
}

// restoreNode revives a single archived node from its snapshot and drops
// the archive row.
func (a *Archiver) restoreNode(ctx context.Context, repositoryID string, arch *model.Archive, revived *[]model.Content) (model.Content, error) {
	c, err := model.DecodeContent(arch.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("archive %s snapshot: %w", arch.ID, err)
	}
	c.Base().Rev = 0
	c.Base().SetModifiedSignature(model.PrincipalSystem, time.Now())
	if _, err := a.store.CreateContent(ctx, repositoryID, c); err != nil {
		return nil, err
	}
	if err := a.store.DeleteArchive(ctx, repositoryID, arch.ID); err != nil {
		return nil, err
	}
	*revived = append(*revived, c)
	return c, nil
}

func (a *Archiver) restoreFolder(ctx context.Context, repositoryID string, arch *model.Archive, revived *[]model.Content) (model.Content, error) {
	folder, err := a.restoreNode(ctx, repositoryID, arch, revived)
	if err != nil {
		return nil, err
	}

	children, err := a.store.GetChildArchives(ctx, repositoryID, arch.OriginalID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		// Children deleted on their own stay archived; only the ones that
		// went down with this folder come back with it.
		if !child.DeletedWithParent {
			continue
		}
		switch {
		case child.IsFolder():
			_, err = a.restoreFolder(ctx, repositoryID, child, revived)
		case child.IsDocument():
			_, err = a.restoreDocument(ctx, repositoryID, child, revived)
		case child.IsAttachment():
			continue
		default:
			_, err = a.restoreNode(ctx, repositoryID, child, revived)
		}
		if err != nil {
			return nil, err
		}
	}
	return folder, nil
}

// restoreDocument revives every archived version of the document's series,
// plus their attachment metadata, each via its own store call.
func (a *Archiver) restoreDocument(ctx context.Context, repositoryID string, arch *model.Archive, revived *[]model.Content) (model.Content, error) {
	if arch.VersionSeriesID == "" {
		return a.restoreNode(ctx, repositoryID, arch, revived)
	}

	versionArchives, err := a.store.GetArchivesOfVersionSeries(ctx, repositoryID, arch.VersionSeriesID)
	if err != nil {
		return nil, err
	}

	// The series record itself was deleted with the last version; recreate
	// it before its versions point at it.
	series, err := a.store.GetVersionSeries(ctx, repositoryID, arch.VersionSeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		if _, err := a.store.CreateVersionSeries(ctx, repositoryID, &model.VersionSeries{ID: arch.VersionSeriesID}); err != nil {
			return nil, err
		}
	}

	var restored model.Content
	for _, versionArch := range versionArchives {
		if !versionArch.IsDocument() {
			continue
		}
		c, err := a.restoreNode(ctx, repositoryID, versionArch, revived)
		if err != nil {
			return nil, err
		}
		if versionArch.AttachmentNodeID != "" {
			if err := a.restoreAttachment(ctx, repositoryID, versionArch.AttachmentNodeID); err != nil {
				return nil, err
			}
		}
		if versionArch.ID == arch.ID || restored == nil {
			restored = c
		}
	}
	return restored, nil
}

// restoreAttachment revives the attachment metadata row from its archived
// snapshot. The payload never left the blob store on soft delete.
func (a *Archiver) restoreAttachment(ctx context.Context, repositoryID, attachmentNodeID string) error {
	arch, err := a.store.GetAttachmentArchive(ctx, repositoryID, attachmentNodeID)
	if err != nil {
		return err
	}
	if arch == nil {
		return nil
	}
	var an model.AttachmentNode
	if err := json.Unmarshal(arch.Snapshot, &an); err != nil {
		return fmt.Errorf("archive %s snapshot: %w", arch.ID, err)
	}
	if err := a.store.RestoreAttachment(ctx, repositoryID, &an); err != nil {
		return err
	}
	return a.store.DeleteArchive(ctx, repositoryID, arch.ID)
}

// Destroy permanently erases an archive. Folders destroy their child
// archives first, post-order. Documents take every version archive of the
// series with them, purging each version's attachment payload for good.
func (a *Archiver) Destroy(ctx context.Context, repositoryID, archiveID string) error {
	arch, err := a.store.GetArchive(ctx, repositoryID, archiveID)
	if err != nil {
		return err
	}
	if arch == nil {
		return fmt.Errorf("archive %s: %w", archiveID, ErrNotFound)
	}
	if arch.IsAttachment() {
		return fmt.Errorf("archive %s: attachments cannot be destroyed standalone", archiveID)
	}
	return a.destroy(ctx, repositoryID, arch)
}

func (a *Archiver) destroy(ctx context.Context, repositoryID string, arch *model.Archive) error {
	switch {
	case arch.IsFolder():
		children, err := a.store.GetChildArchives(ctx, repositoryID, arch.OriginalID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.IsAttachment() {
				continue
			}
			if err := a.destroy(ctx, repositoryID, child); err != nil {
				return err
			}
		}
		return a.store.DeleteArchive(ctx, repositoryID, arch.ID)

	case arch.IsDocument() && arch.VersionSeriesID != "":
		versionArchives, err := a.store.GetArchivesOfVersionSeries(ctx, repositoryID, arch.VersionSeriesID)
		if err != nil {
			return err
		}
		for _, versionArch := range versionArchives {
			if versionArch.AttachmentNodeID != "" {
				if err := a.destroyAttachment(ctx, repositoryID, versionArch.AttachmentNodeID); err != nil {
					return err
				}
			}
			if err := a.store.DeleteArchive(ctx, repositoryID, versionArch.ID); err != nil {
				return err
			}
		}
		return nil

	default:
		if arch.AttachmentNodeID != "" {
			if err := a.destroyAttachment(ctx, repositoryID, arch.AttachmentNodeID); err != nil {
				return err
			}
		}
		return a.store.DeleteArchive(ctx, repositoryID, arch.ID)
	}
}

func (a *Archiver) destroyAttachment(ctx context.Context, repositoryID, attachmentNodeID string) error {
	arch, err := a.store.GetAttachmentArchive(ctx, repositoryID, attachmentNodeID)
	if err != nil {
		return err
	}
	if arch != nil {
		if err := a.store.DeleteArchive(ctx, repositoryID, arch.ID); err != nil {
			return err
		}
	}
	return a.store.DeleteAttachment(ctx, repositoryID, attachmentNodeID, true)
}
