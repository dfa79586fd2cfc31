package model

import "time"

// LengthUnknown is the sentinel for attachment payloads whose byte length
// is not known up front (chunked uploads). Callers must not treat it as an
// error.
const LengthUnknown int64 = -1

// AttachmentNode is the metadata record for a binary payload. The payload
// itself lives in the blob store under the node's id.
type AttachmentNode struct {
	ID       string    `json:"id"`
	MimeType string    `json:"mimeType,omitempty"`
	Length   int64     `json:"length"`
	Creator  string    `json:"creator"`
	Created  time.Time `json:"created"`
	Modifier string    `json:"modifier"`
	Modified time.Time `json:"modified"`
	Rev      int64     `json:"rev"`
}

// RenditionKindPreview is the kind tag for generated PDF previews.
const RenditionKindPreview = "cmis:preview"

// Rendition is the metadata record for a derived representation of a
// document (currently only PDF previews).
type Rendition struct {
	ID       string    `json:"id"`
	Title    string    `json:"title,omitempty"`
	Kind     string    `json:"kind"`
	MimeType string    `json:"mimeType,omitempty"`
	Length   int64     `json:"length"`
	Creator  string    `json:"creator"`
	Created  time.Time `json:"created"`
	Modifier string    `json:"modifier"`
	Modified time.Time `json:"modified"`
	Rev      int64     `json:"rev"`
}
