package model

import "time"

// ChangeType classifies a change journal entry.
type ChangeType string

const (
	ChangeCreated  ChangeType = "CREATED"
	ChangeUpdated  ChangeType = "UPDATED"
	ChangeDeleted  ChangeType = "DELETED"
	ChangeSecurity ChangeType = "SECURITY"
)

// Change is one immutable journal record. Name/Type/ObjectType/ParentID are
// denormalized snapshots of the object at event time so the journal can be
// replayed without the live object.
type Change struct {
	ID         string     `json:"id"`
	ObjectID   string     `json:"objectId"`
	ChangeType ChangeType `json:"changeType"`
	Time       time.Time  `json:"time"`
	Token      string     `json:"token"`

	Name       string   `json:"name"`
	Type       BaseType `json:"type"`
	ObjectType string   `json:"objectType"`
	ParentID   string   `json:"parentId,omitempty"`

	// Document-only snapshot fields.
	VersionSeriesID string `json:"versionSeriesId,omitempty"`
	VersionLabel    string `json:"versionLabel,omitempty"`

	ACL *ACL `json:"acl,omitempty"`

	Creator  string    `json:"creator"`
	Created  time.Time `json:"created"`
	Modifier string    `json:"modifier"`
	Modified time.Time `json:"modified"`
	Rev      int64     `json:"rev"`
}
