package content

import (
	"context"
	"fmt"
	"strings"

	"coffer/internal/model"
	"coffer/internal/store"
)

// Accessor resolves identity and paths over the content tree. It never
// mutates anything and is safe for concurrent use.
type Accessor struct {
	store        store.Store
	rootFolderID string
}

func NewAccessor(s store.Store, rootFolderID string) *Accessor {
	return &Accessor{store: s, rootFolderID: rootFolderID}
}

func (a *Accessor) Get(ctx context.Context, repositoryID, id string) (model.Content, error) {
	return a.store.GetContent(ctx, repositoryID, id)
}

func (a *Accessor) GetChildren(ctx context.Context, repositoryID, folderID string) ([]model.Content, error) {
	return a.store.GetChildren(ctx, repositoryID, folderID)
}

func (a *Accessor) GetParent(ctx context.Context, repositoryID, id string) (model.Content, error) {
	c, err := a.store.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Base().ParentID == "" {
		return nil, nil
	}
	return a.store.GetContent(ctx, repositoryID, c.Base().ParentID)
}

func (a *Accessor) IsRoot(c model.Content) bool {
	return c != nil && c.Base().ID == a.rootFolderID
}

// IsTopLevel reports whether the object sits directly under the root folder.
func (a *Accessor) IsTopLevel(c model.Content) bool {
	return c != nil && c.Base().ParentID == a.rootFolderID
}

// GetByPath walks the tree one segment at a time. "/" is the root folder.
// A missing segment, or a non-folder in the middle of the path, resolves to
// nil rather than an error.
func (a *Accessor) GetByPath(ctx context.Context, repositoryID, path string) (model.Content, error) {
	root, err := a.store.GetContent(ctx, repositoryID, a.rootFolderID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("root folder %s missing", a.rootFolderID)
	}
	if path == "" || path == "/" {
		return root, nil
	}

	current := root
	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		if !current.Base().IsFolder() {
			return nil, nil
		}
		next, err := a.store.GetChildByName(ctx, repositoryID, current.Base().ID, segment)
		if err != nil {
			return nil, err
		}
		if next == nil {
			return nil, nil
		}
		current = next
	}
	return current, nil
}

// CalculatePath walks parent links up to the root, prepending each name.
// A dangling parent link is store corruption and fails hard.
func (a *Accessor) CalculatePath(ctx context.Context, repositoryID string, c model.Content) (string, error) {
	if c == nil {
		return "", fmt.Errorf("calculate path: nil content")
	}
	if a.IsRoot(c) {
		return "/", nil
	}

	segments := []string{c.Base().Name}
	current := c
	for {
		parentID := current.Base().ParentID
		if parentID == "" {
			return "", fmt.Errorf("calculate path: %s has no parent and is not root", current.Base().ID)
		}
		parent, err := a.store.GetContent(ctx, repositoryID, parentID)
		if err != nil {
			return "", err
		}
		if parent == nil {
			return "", fmt.Errorf("calculate path: dangling parent %s of %s", parentID, current.Base().ID)
		}
		if a.IsRoot(parent) {
			break
		}
		segments = append([]string{parent.Base().Name}, segments...)
		current = parent
	}
	return "/" + strings.Join(segments, "/"), nil
}
