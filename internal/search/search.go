package search

import "coffer/internal/model"

// NodeRecord is the data we index for a content node.
type NodeRecord struct {
	ID           string `json:"id"`
	RepositoryID string `json:"repositoryId"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Type         string `json:"type"`
	ObjectType   string `json:"objectType"`
	ParentID     string `json:"parentId"`
	VersionLabel string `json:"versionLabel,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	RepositoryID string
	FilterType   string // empty = all base types
	Limit        int
	Offset       int
}

// Result is a single search hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	RepositoryID string `json:"repositoryId"`
	Name         string `json:"name"`
	Snippet      string `json:"snippet"`
	Type         string `json:"type"`
	ParentID     string `json:"parentId"`
}

// Searcher can execute a full-text search over indexed nodes.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer receives node mutations so the index tracks the repository.
// Implementations must never block a content operation on index trouble.
type Indexer interface {
	IndexContent(repositoryID string, c model.Content) error
	DeleteContent(repositoryID, id string) error
}

// RecordFor flattens a node into its index document.
func RecordFor(repositoryID string, c model.Content) NodeRecord {
	base := c.Base()
	rec := NodeRecord{
		ID:           base.ID,
		RepositoryID: repositoryID,
		Name:         base.Name,
		Description:  base.Description,
		Type:         string(base.Type),
		ObjectType:   base.ObjectType,
		ParentID:     base.ParentID,
	}
	if doc, isDoc := c.(*model.Document); isDoc {
		rec.VersionLabel = doc.VersionLabel
	}
	return rec
}

// Noop satisfies Indexer and Searcher when no search backend is configured.
type Noop struct{}

func (Noop) IndexContent(string, model.Content) error { return nil }
func (Noop) DeleteContent(string, string) error       { return nil }
func (Noop) Search(Query) ([]Result, int, error)      { return nil, 0, nil }
func (Noop) Healthy() bool                            { return false }
