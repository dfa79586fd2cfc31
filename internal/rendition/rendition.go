package rendition

import "context"

// Result is a generated preview payload.
type Result struct {
	Data     []byte
	MimeType string
}

// Converter turns an attachment payload into a preview rendition.
// A nil Result with a nil error means the mime type is not convertible;
// callers skip preview generation in that case.
type Converter interface {
	Convert(ctx context.Context, mimeType string, payload []byte) (*Result, error)
}

// Noop never produces a preview.
type Noop struct{}

func (Noop) Convert(context.Context, string, []byte) (*Result, error) { return nil, nil }
