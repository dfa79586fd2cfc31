// Package store is the narrow document-store boundary the engine writes
// through. Backends offer per-document optimistic concurrency and nothing
// more: there are no transactions spanning several documents, which is why
// the engine runs its own compensation logic.
package store

import (
	"context"
	"errors"
	"io"

	"coffer/internal/model"
)

// ErrConflict reports a stale-revision write. The engine surfaces it to the
// caller unchanged; there is no retry.
var ErrConflict = errors.New("stale revision")

// Store is the full boundary. Read methods return (nil, nil) when the
// record does not exist; "missing" is a result, not an error, on read
// paths.
type Store interface {
	// Content nodes.
	GetContent(ctx context.Context, repositoryID, id string) (model.Content, error)
	CreateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error)
	UpdateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error)
	DeleteContent(ctx context.Context, repositoryID, id string) error
	GetChildren(ctx context.Context, repositoryID, folderID string) ([]model.Content, error)
	GetChildByName(ctx context.Context, repositoryID, folderID, name string) (model.Content, error)
	GetChildrenNames(ctx context.Context, repositoryID, folderID string) ([]string, error)

	// Version series.
	CreateVersionSeries(ctx context.Context, repositoryID string, vs *model.VersionSeries) (*model.VersionSeries, error)
	GetVersionSeries(ctx context.Context, repositoryID, id string) (*model.VersionSeries, error)
	UpdateVersionSeries(ctx context.Context, repositoryID string, vs *model.VersionSeries) (*model.VersionSeries, error)
	DeleteVersionSeries(ctx context.Context, repositoryID, id string) error
	GetAllVersions(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Document, error)

	// Relationships by endpoint.
	GetRelationshipsBySource(ctx context.Context, repositoryID, sourceID string) ([]*model.Relationship, error)
	GetRelationshipsByTarget(ctx context.Context, repositoryID, targetID string) ([]*model.Relationship, error)

	// Principal items by their logical ids.
	GetUserItemByUserID(ctx context.Context, repositoryID, userID string) (*model.UserItem, error)
	GetGroupItemByGroupID(ctx context.Context, repositoryID, groupID string) (*model.GroupItem, error)
	GetGroupItems(ctx context.Context, repositoryID string) ([]*model.GroupItem, error)

	// Change journal.
	CreateChange(ctx context.Context, repositoryID string, change *model.Change) (*model.Change, error)
	GetChangeByToken(ctx context.Context, repositoryID, token string) (*model.Change, error)
	GetLatestChange(ctx context.Context, repositoryID string) (*model.Change, error)
	GetLatestChanges(ctx context.Context, repositoryID, fromToken string, max int) ([]*model.Change, error)

	// Archives.
	CreateArchive(ctx context.Context, repositoryID string, a *model.Archive) (*model.Archive, error)
	GetArchive(ctx context.Context, repositoryID, id string) (*model.Archive, error)
	GetArchiveByOriginalID(ctx context.Context, repositoryID, originalID string) (*model.Archive, error)
	GetArchives(ctx context.Context, repositoryID string, skip, limit int, desc bool) ([]*model.Archive, error)
	GetChildArchives(ctx context.Context, repositoryID, parentOriginalID string) ([]*model.Archive, error)
	GetArchivesOfVersionSeries(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Archive, error)
	GetAttachmentArchive(ctx context.Context, repositoryID, attachmentNodeID string) (*model.Archive, error)
	DeleteArchive(ctx context.Context, repositoryID, id string) error

	// Attachments. Metadata lives with the other records; payload bytes go
	// to the blob store. A negative length means "unknown".
	CreateAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, r io.Reader) (string, error)
	UpdateAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, r io.Reader) error
	GetAttachment(ctx context.Context, repositoryID, id string) (*model.AttachmentNode, error)
	OpenAttachment(ctx context.Context, repositoryID, id string) (io.ReadCloser, int64, error)
	// RestoreAttachment writes a metadata row back after a soft delete.
	// The payload never left the blob store, so it is not touched.
	RestoreAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode) error
	DeleteAttachment(ctx context.Context, repositoryID, id string, purgePayload bool) error

	// Renditions.
	CreateRendition(ctx context.Context, repositoryID string, rd *model.Rendition, r io.Reader) (string, error)
	GetRendition(ctx context.Context, repositoryID, id string) (*model.Rendition, error)
	OpenRendition(ctx context.Context, repositoryID, id string) (io.ReadCloser, int64, error)
	DeleteRendition(ctx context.Context, repositoryID, id string) error

	Ping(ctx context.Context) error
}
