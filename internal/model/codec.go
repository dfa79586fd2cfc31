package model

import (
	"encoding/json"
	"fmt"
)

type envelope struct {
	Kind BaseType        `json:"kind"`
	Node json.RawMessage `json:"node"`
}

// EncodeContent serializes any content variant with a kind tag so it can be
// decoded back into the right concrete type.
func EncodeContent(c Content) ([]byte, error) {
	node, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal node: %w", err)
	}
	return json.Marshal(envelope{Kind: c.Base().Type, Node: node})
}

// DecodeContent deserializes a tagged envelope into its concrete variant.
func DecodeContent(data []byte) (Content, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var c Content
	switch env.Kind {
	case TypeFolder:
		c = &Folder{}
	case TypeDocument:
		c = &Document{}
	case TypeRelationship:
		c = &Relationship{}
	case TypePolicy:
		c = &Policy{}
	case TypeItem:
		c = &Item{}
	case TypeUser:
		c = &UserItem{}
	case TypeGroup:
		c = &GroupItem{}
	default:
		return nil, fmt.Errorf("unknown content kind %q", env.Kind)
	}
	if err := json.Unmarshal(env.Node, c); err != nil {
		return nil, fmt.Errorf("unmarshal %s node: %w", env.Kind, err)
	}
	return c, nil
}
