package content

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"coffer/internal/blob"
	"coffer/internal/config"
	"coffer/internal/model"
	"coffer/internal/principal"
	"coffer/internal/rendition"
	"coffer/internal/search"
	"coffer/internal/store"
	"coffer/internal/types"
)

const testRepo = "main"

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return store.NewRedisStoreWithClient(client, blob.NewMemoryStore())
}

func newTestService(t *testing.T, st store.Store) *Service {
	t.Helper()
	cfg := &config.Config{
		RepositoryID:       testRepo,
		RootFolderID:       "root",
		PrincipalAnonymous: "anonymous",
		PrincipalAnyone:    "GROUP_EVERYONE",
		UniqueNameCheck:    true,
		TopLevelACLInherit: true,
	}
	resolver := principal.NewResolver(st, cfg.PrincipalAnonymous, cfg.PrincipalAnyone)
	svc := NewService(cfg, st, types.NewStaticRegistry(), search.Noop{}, rendition.Noop{}, resolver)

	root := &model.Folder{}
	root.ID = "root"
	root.Name = "root"
	root.Type = model.TypeFolder
	root.ObjectType = types.TypeIDFolder
	root.ACLInherited = false
	if _, err := st.CreateContent(context.Background(), testRepo, root); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	return svc
}

func mustCreateFolder(t *testing.T, svc *Service, parentID, name string) *model.Folder {
	t.Helper()
	folder, err := svc.CreateFolder(context.Background(), "alice", testRepo, CreateInput{Name: name, ParentID: parentID}, nil)
	if err != nil {
		t.Fatalf("create folder %s: %v", name, err)
	}
	return folder
}

func mustCreateDocument(t *testing.T, svc *Service, parentID, name, body string) *model.Document {
	t.Helper()
	doc, err := svc.CreateDocument(context.Background(), "alice", testRepo, DocumentInput{
		CreateInput:     CreateInput{Name: name, ParentID: parentID},
		VersioningState: VersioningMajor,
		Content:         strings.NewReader(body),
		MimeType:        "text/plain",
		Length:          int64(len(body)),
	})
	if err != nil {
		t.Fatalf("create document %s: %v", name, err)
	}
	return doc
}
