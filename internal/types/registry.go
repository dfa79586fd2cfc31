// Package types is the type/schema registry boundary: base and secondary
// type definitions with per-property updatability rules.
package types

import (
	"context"
	"fmt"

	"coffer/internal/model"
)

// Updatability controls when a property may be written.
type Updatability string

const (
	ReadOnly       Updatability = "readonly"
	ReadWrite      Updatability = "readwrite"
	WhenCheckedOut Updatability = "whencheckedout"
	OnCreate       Updatability = "oncreate"
)

// Cardinality distinguishes single values from lists.
type Cardinality string

const (
	Single Cardinality = "single"
	Multi  Cardinality = "multi"
)

// ContentStreamAllowed controls whether documents of a type carry a binary.
type ContentStreamAllowed string

const (
	StreamNotAllowed ContentStreamAllowed = "notallowed"
	StreamAllowed    ContentStreamAllowed = "allowed"
	StreamRequired   ContentStreamAllowed = "required"
)

// Well-known property ids.
const (
	PropName             = "cmis:name"
	PropDescription      = "cmis:description"
	PropObjectID         = "cmis:objectId"
	PropSecondaryTypeIDs = "cmis:secondaryObjectTypeIds"
	PropCheckinComment   = "cmis:checkinComment"
)

// Built-in type ids.
const (
	TypeIDFolder       = "cmis:folder"
	TypeIDDocument     = "cmis:document"
	TypeIDRelationship = "cmis:relationship"
	TypeIDPolicy       = "cmis:policy"
	TypeIDItem         = "cmis:item"
)

type PropertyDefinition struct {
	ID           string
	Updatability Updatability
	Cardinality  Cardinality
}

type TypeDefinition struct {
	ID                   string
	BaseType             model.BaseType
	Fileable             bool
	Versionable          bool
	ContentStreamAllowed ContentStreamAllowed
	Properties           map[string]PropertyDefinition
}

// Registry resolves type definitions for a repository.
type Registry interface {
	GetTypeDefinition(ctx context.Context, repositoryID, typeID string) (*TypeDefinition, error)
}

// StaticRegistry serves a fixed definition table; the built-in set plus any
// definitions registered at construction time.
type StaticRegistry struct {
	defs map[string]*TypeDefinition
}

func NewStaticRegistry(extra ...*TypeDefinition) *StaticRegistry {
	r := &StaticRegistry{defs: make(map[string]*TypeDefinition)}
	for _, def := range builtinDefinitions() {
		r.defs[def.ID] = def
	}
	for _, def := range extra {
		r.defs[def.ID] = def
	}
	return r
}

func (r *StaticRegistry) GetTypeDefinition(_ context.Context, _ string, typeID string) (*TypeDefinition, error) {
	def, ok := r.defs[typeID]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", typeID)
	}
	return def, nil
}

func baseProperties() map[string]PropertyDefinition {
	return map[string]PropertyDefinition{
		PropObjectID:         {ID: PropObjectID, Updatability: ReadOnly, Cardinality: Single},
		PropName:             {ID: PropName, Updatability: ReadWrite, Cardinality: Single},
		PropDescription:      {ID: PropDescription, Updatability: ReadWrite, Cardinality: Single},
		PropSecondaryTypeIDs: {ID: PropSecondaryTypeIDs, Updatability: ReadWrite, Cardinality: Multi},
	}
}

func builtinDefinitions() []*TypeDefinition {
	document := &TypeDefinition{
		ID:                   TypeIDDocument,
		BaseType:             model.TypeDocument,
		Fileable:             true,
		Versionable:          true,
		ContentStreamAllowed: StreamAllowed,
		Properties:           baseProperties(),
	}
	document.Properties[PropCheckinComment] = PropertyDefinition{
		ID: PropCheckinComment, Updatability: WhenCheckedOut, Cardinality: Single,
	}

	return []*TypeDefinition{
		document,
		{
			ID:                   TypeIDFolder,
			BaseType:             model.TypeFolder,
			Fileable:             true,
			ContentStreamAllowed: StreamNotAllowed,
			Properties:           baseProperties(),
		},
		{
			ID:                   TypeIDRelationship,
			BaseType:             model.TypeRelationship,
			ContentStreamAllowed: StreamNotAllowed,
			Properties:           baseProperties(),
		},
		{
			ID:                   TypeIDPolicy,
			BaseType:             model.TypePolicy,
			Fileable:             true,
			ContentStreamAllowed: StreamNotAllowed,
			Properties:           baseProperties(),
		},
		{
			ID:                   TypeIDItem,
			BaseType:             model.TypeItem,
			Fileable:             true,
			ContentStreamAllowed: StreamNotAllowed,
			Properties:           baseProperties(),
		},
	}
}
