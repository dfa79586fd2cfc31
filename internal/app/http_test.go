package app

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"coffer/internal/blob"
	"coffer/internal/config"
	"coffer/internal/content"
	"coffer/internal/principal"
	"coffer/internal/rendition"
	"coffer/internal/search"
	"coffer/internal/store"
	"coffer/internal/types"
)

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	st := store.NewRedisStoreWithClient(client, blob.NewMemoryStore())

	cfg := &config.Config{
		RepositoryID:       "main",
		RootFolderID:       "root",
		PrincipalAnonymous: "anonymous",
		PrincipalAnyone:    "GROUP_EVERYONE",
		UniqueNameCheck:    true,
		TopLevelACLInherit: true,
	}
	resolver := principal.NewResolver(st, cfg.PrincipalAnonymous, cfg.PrincipalAnyone)
	svc := content.NewService(cfg, st, types.NewStaticRegistry(), search.Noop{}, rendition.Noop{}, resolver)
	if err := svc.EnsureRoot(context.Background()); err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	return NewHTTPServer(cfg, svc, search.Noop{}, "*")
}

func doJSON(t *testing.T, server *HTTPServer, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if ok, exists := response["ok"]; !exists || ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
}

func TestReadyEndpoint(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/ready", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["status"] != "ready" {
		t.Errorf("expected ready, got %v", response["status"])
	}
}

func TestFolderLifecycle(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/folders", map[string]any{
		"name":     "reports",
		"parentId": "root",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create folder: status %d body %s", rr.Code, rr.Body.String())
	}
	folder := decodeResponse(t, rr)
	folderID, _ := folder["id"].(string)
	if folderID == "" {
		t.Fatalf("no folder id in response: %v", folder)
	}

	// A sibling with the same name is a conflict.
	rr = doJSON(t, server, http.MethodPost, "/api/folders", map[string]any{
		"name":     "reports",
		"parentId": "root",
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate name, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "DUPLICATE_NAME" {
		t.Fatalf("expected DUPLICATE_NAME, got %v", code)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/objects?path=/reports", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve by path: status %d", rr.Code)
	}
	if got := decodeResponse(t, rr)["id"]; got != folderID {
		t.Fatalf("path resolved to %v, want %s", got, folderID)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/objects/root/children", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("children: status %d", rr.Code)
	}
	children, _ := decodeResponse(t, rr)["children"].([]any)
	if len(children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(children))
	}

	rr = doJSON(t, server, http.MethodDelete, "/api/objects/"+folderID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("delete: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/objects/"+folderID, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rr.Code)
	}
}

func TestDocumentUploadAndDownload(t *testing.T) {
	server := newTestServer(t)

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	meta, _ := json.Marshal(map[string]any{"name": "hello.txt", "parentId": "root"})
	if err := writer.WriteField("meta", string(meta)); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	part, err := writer.CreateFormFile("file", "hello.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write([]byte("hello world")); err != nil {
		t.Fatalf("write payload: %v", err)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &form)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("create document: status %d body %s", rr.Code, rr.Body.String())
	}
	doc := decodeResponse(t, rr)
	docID, _ := doc["id"].(string)
	if docID == "" {
		t.Fatalf("no document id: %v", doc)
	}
	if doc["versionLabel"] != "1.0" {
		t.Fatalf("expected first major label, got %v", doc["versionLabel"])
	}

	rr = doJSON(t, server, http.MethodGet, "/api/documents/"+docID+"/content", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("download: status %d", rr.Code)
	}
	if rr.Body.String() != "hello world" {
		t.Fatalf("payload mismatch: %q", rr.Body.String())
	}
}

func TestCheckoutCheckinOverHTTP(t *testing.T) {
	server := newTestServer(t)

	var form bytes.Buffer
	writer := multipart.NewWriter(&form)
	meta, _ := json.Marshal(map[string]any{"name": "doc.txt", "parentId": "root"})
	writer.WriteField("meta", string(meta))
	part, _ := writer.CreateFormFile("file", "doc.txt")
	part.Write([]byte("v1"))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/documents", &form)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rr.Code, rr.Body.String())
	}
	docID := decodeResponse(t, rr)["id"].(string)

	rr = doJSON(t, server, http.MethodPost, "/api/documents/"+docID+"/checkout", nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("checkout: status %d body %s", rr.Code, rr.Body.String())
	}
	pwc := decodeResponse(t, rr)
	pwcID := pwc["id"].(string)
	if pwc["privateWorkingCopy"] != true {
		t.Fatalf("expected a pwc, got %v", pwc)
	}

	// Replace the PWC's payload, then check in as a minor version.
	putReq := httptest.NewRequest(http.MethodPut, "/api/documents/"+pwcID+"/content", strings.NewReader("v2"))
	putReq.Header.Set("Content-Type", "text/plain")
	rr = httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, putReq)
	if rr.Code != http.StatusOK {
		t.Fatalf("set content: status %d body %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodPost, "/api/documents/"+pwcID+"/checkin", map[string]any{
		"major":   false,
		"comment": "second draft",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("checkin: status %d body %s", rr.Code, rr.Body.String())
	}
	version := decodeResponse(t, rr)
	if version["versionLabel"] != "1.1" {
		t.Fatalf("expected label 1.1, got %v", version["versionLabel"])
	}

	newID := version["id"].(string)
	rr = doJSON(t, server, http.MethodGet, "/api/documents/"+newID+"/content", nil)
	if rr.Code != http.StatusOK || rr.Body.String() != "v2" {
		t.Fatalf("new version payload: status %d body %q", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, server, http.MethodGet, "/api/documents/"+newID+"/versions", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("versions: status %d", rr.Code)
	}
	versions, _ := decodeResponse(t, rr)["versions"].([]any)
	if len(versions) != 2 {
		t.Fatalf("expected 2 versions, got %d", len(versions))
	}
}

func TestUserSecretsNeverLeave(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/users", map[string]any{
		"name":   "alice",
		"userId": "alice",
		"secret": "hunter2",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: status %d body %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "passwordHash") || strings.Contains(rr.Body.String(), "$2") {
		t.Fatalf("password hash leaked: %s", rr.Body.String())
	}
}

func TestBasicAuthRejectsBadCredentials(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/users", map[string]any{
		"name":   "alice",
		"userId": "alice",
		"secret": "hunter2",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: status %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/objects/root", nil)
	req.SetBasicAuth("alice", "wrong")
	rr2 := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr2, req)
	if rr2.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr2.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/objects/root", nil)
	req.SetBasicAuth("alice", "hunter2")
	rr3 := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr3, req)
	if rr3.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid credentials, got %d", rr3.Code)
	}
}
