// Package model defines the persistent shapes of the repository: the content
// envelope with its per-base-type payloads, ACLs, change records, archives
// and attachment metadata.
package model

import "time"

// BaseType tags the variant carried by a content envelope.
type BaseType string

const (
	TypeFolder       BaseType = "folder"
	TypeDocument     BaseType = "document"
	TypeRelationship BaseType = "relationship"
	TypePolicy       BaseType = "policy"
	TypeItem         BaseType = "item"
	TypeUser         BaseType = "user"
	TypeGroup        BaseType = "group"
)

// NodeBase is the envelope shared by every content variant. Rev is the
// opaque revision used for optimistic writes; the store bumps it on every
// successful create/update.
type NodeBase struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         BaseType  `json:"type"`
	ObjectType   string    `json:"objectType"`
	ParentID     string    `json:"parentId,omitempty"`
	ACL          ACL       `json:"acl"`
	ACLInherited bool      `json:"aclInherited"`
	SecondaryIDs []string  `json:"secondaryIds,omitempty"`
	Aspects      []Aspect  `json:"aspects,omitempty"`
	Description  string    `json:"description,omitempty"`
	ChangeToken  string    `json:"changeToken,omitempty"`
	Creator      string    `json:"creator"`
	Created      time.Time `json:"created"`
	Modifier     string    `json:"modifier"`
	Modified     time.Time `json:"modified"`
	Rev          int64     `json:"rev"`
}

// Content is the polymorphic view over all variants. Base exposes the
// shared envelope for mutation in place.
type Content interface {
	Base() *NodeBase
}

func (n *NodeBase) Base() *NodeBase { return n }

func (n *NodeBase) IsFolder() bool       { return n.Type == TypeFolder }
func (n *NodeBase) IsDocument() bool     { return n.Type == TypeDocument }
func (n *NodeBase) IsRelationship() bool { return n.Type == TypeRelationship }
func (n *NodeBase) IsPolicy() bool       { return n.Type == TypePolicy }
func (n *NodeBase) IsItem() bool {
	return n.Type == TypeItem || n.Type == TypeUser || n.Type == TypeGroup
}

// Aspect is one secondary-type property bag attached to an object.
type Aspect struct {
	Name       string     `json:"name"`
	Properties []Property `json:"properties,omitempty"`
}

// Property is a typed key/value inside an aspect. Value is a single value
// or a slice, depending on the property definition's cardinality.
type Property struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type Folder struct {
	NodeBase
	AllowedChildTypeIDs []string `json:"allowedChildTypeIds,omitempty"`
}

type Document struct {
	NodeBase
	Immutable bool `json:"immutable,omitempty"`

	VersionSeriesID    string `json:"versionSeriesId"`
	VersionLabel       string `json:"versionLabel,omitempty"`
	LatestVersion      bool   `json:"latestVersion"`
	MajorVersion       bool   `json:"majorVersion"`
	LatestMajorVersion bool   `json:"latestMajorVersion"`
	PrivateWorkingCopy bool   `json:"privateWorkingCopy"`

	// Checkout mirror fields; every version in a series reports the same
	// values as the series record itself.
	CheckedOut   bool   `json:"checkedOut"`
	CheckedOutBy string `json:"checkedOutBy,omitempty"`
	CheckedOutID string `json:"checkedOutId,omitempty"`

	AttachmentNodeID string   `json:"attachmentNodeId,omitempty"`
	RenditionIDs     []string `json:"renditionIds,omitempty"`
	CheckinComment   string   `json:"checkinComment"`
}

type Relationship struct {
	NodeBase
	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`
}

type Policy struct {
	NodeBase
	PolicyText string   `json:"policyText,omitempty"`
	AppliedIDs []string `json:"appliedIds,omitempty"`
}

type Item struct {
	NodeBase
}

type UserItem struct {
	NodeBase
	UserID       string `json:"userId"`
	Admin        bool   `json:"admin,omitempty"`
	PasswordHash string `json:"passwordHash,omitempty"`
}

type GroupItem struct {
	NodeBase
	GroupID string   `json:"groupId"`
	Users   []string `json:"users,omitempty"`
	Groups  []string `json:"groups,omitempty"`
}

// VersionSeries ties all versions of one logical document together.
// CheckedOutID is the id of the current PWC, empty when not checked out.
type VersionSeries struct {
	ID           string    `json:"id"`
	CheckedOut   bool      `json:"checkedOut"`
	CheckedOutBy string    `json:"checkedOutBy,omitempty"`
	CheckedOutID string    `json:"checkedOutId,omitempty"`
	Creator      string    `json:"creator"`
	Created      time.Time `json:"created"`
	Modifier     string    `json:"modifier"`
	Modified     time.Time `json:"modified"`
	Rev          int64     `json:"rev"`
}

// SetSignature stamps creator/created and modifier/modified in one go, the
// way every new node starts out.
func (n *NodeBase) SetSignature(username string, now time.Time) {
	n.Creator = username
	n.Created = now
	n.Modifier = username
	n.Modified = now
}

// SetModifiedSignature refreshes only the modifier half of the signature.
func (n *NodeBase) SetModifiedSignature(username string, now time.Time) {
	n.Modifier = username
	n.Modified = now
}
