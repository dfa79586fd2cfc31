package model

import (
	"encoding/json"
	"time"
)

// ArchiveKindAttachment marks the archive row kept for an attachment node;
// attachments are never restorable or destroyable on their own.
const ArchiveKindAttachment BaseType = "attachment"

// Archive is the soft-delete snapshot of a content node: enough to
// reconstruct the object on restore, nothing more.
type Archive struct {
	ID                string   `json:"id"`
	OriginalID        string   `json:"originalId"`
	ParentID          string   `json:"parentId,omitempty"`
	Name              string   `json:"name"`
	Type              BaseType `json:"type"`
	DeletedWithParent bool     `json:"deletedWithParent"`

	// Document-only snapshot fields.
	VersionSeriesID  string `json:"versionSeriesId,omitempty"`
	AttachmentNodeID string `json:"attachmentNodeId,omitempty"`
	WasLatestVersion bool   `json:"wasLatestVersion,omitempty"`

	// Snapshot is the serialized node as it stood at delete time; restore
	// decodes it back into a live record.
	Snapshot json.RawMessage `json:"snapshot,omitempty"`

	Creator  string    `json:"creator"`
	Created  time.Time `json:"created"`
	Modifier string    `json:"modifier"`
	Modified time.Time `json:"modified"`
	Rev      int64     `json:"rev"`
}

func (a *Archive) IsFolder() bool     { return a.Type == TypeFolder }
func (a *Archive) IsDocument() bool   { return a.Type == TypeDocument }
func (a *Archive) IsAttachment() bool { return a.Type == ArchiveKindAttachment }
