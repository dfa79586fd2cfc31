package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"coffer/internal/config"
	"coffer/internal/content"
	"coffer/internal/model"
	"coffer/internal/search"
	"coffer/internal/store"
)

// HTTPServer is the JSON binding over the content engine. Every route
// resolves its caller from basic auth first; requests without credentials
// run as the configured anonymous principal.
type HTTPServer struct {
	cfg        *config.Config
	content    *content.Service
	searcher   search.Searcher
	corsOrigin string
}

func NewHTTPServer(cfg *config.Config, svc *content.Service, searcher search.Searcher, corsOrigin string) *HTTPServer {
	return &HTTPServer{cfg: cfg, content: svc, searcher: searcher, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) caller(ctx context.Context, r *http.Request) (string, error) {
	userID, secret, ok := r.BasicAuth()
	if !ok {
		return s.cfg.PrincipalAnonymous, nil
	}
	user, err := s.content.Resolver().Authenticate(ctx, s.cfg.RepositoryID, userID, secret)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials", nil)
	}
	return user.UserID, nil
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"store":  map[string]any{"status": "ok"},
			"search": map[string]any{"status": "ok"},
		}

		if _, err := s.content.GetObject(ctx, s.cfg.RepositoryID, s.cfg.RootFolderID); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if !s.searcher.Healthy() {
			// Search is best-effort and never gates readiness.
			checks["search"] = map[string]any{"status": "unavailable"}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	caller, err := s.caller(r.Context(), r)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/repository" {
		latest, err := s.content.GetLatestChange(r.Context(), s.cfg.RepositoryID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load repository info", nil)
			return
		}
		info := map[string]any{
			"repositoryId": s.cfg.RepositoryID,
			"rootFolderId": s.cfg.RootFolderID,
		}
		if latest != nil {
			info["latestChangeToken"] = latest.Token
		}
		writeJSON(w, http.StatusOK, info)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/folders" {
		var body struct {
			createBody
			AllowedChildTypeIDs []string `json:"allowedChildTypeIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		folder, err := s.content.CreateFolder(r.Context(), caller, s.cfg.RepositoryID, body.input(), body.AllowedChildTypeIDs)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, viewContent(folder))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/documents" {
		s.handleCreateDocument(w, r, caller)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/relationships" {
		var body struct {
			createBody
			SourceID string `json:"sourceId"`
			TargetID string `json:"targetId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		rel, err := s.content.CreateRelationship(r.Context(), caller, s.cfg.RepositoryID, body.input(), body.SourceID, body.TargetID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, viewContent(rel))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/policies" {
		var body struct {
			createBody
			PolicyText string `json:"policyText"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		policy, err := s.content.CreatePolicy(r.Context(), caller, s.cfg.RepositoryID, body.input(), body.PolicyText)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, viewContent(policy))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/items" {
		var body createBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		item, err := s.content.CreateItem(r.Context(), caller, s.cfg.RepositoryID, body.input())
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, viewContent(item))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/users" {
		var body struct {
			createBody
			UserID string `json:"userId"`
			Secret string `json:"secret"`
			Admin  bool   `json:"admin"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		user, err := s.content.CreateUserItem(r.Context(), caller, s.cfg.RepositoryID, body.input(), body.UserID, body.Secret, body.Admin)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, viewContent(user))
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/groups" {
		var body struct {
			createBody
			GroupID string   `json:"groupId"`
			Users   []string `json:"users"`
			Groups  []string `json:"groups"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		group, err := s.content.CreateGroupItem(r.Context(), caller, s.cfg.RepositoryID, body.input(), body.GroupID, body.Users, body.Groups)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, viewContent(group))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/objects" {
		path := r.URL.Query().Get("path")
		if path == "" {
			writeError(w, http.StatusBadRequest, "INVALID_QUERY", "path query parameter required", nil)
			return
		}
		c, err := s.content.GetObjectByPath(r.Context(), s.cfg.RepositoryID, path)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if c == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, viewContent(c))
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/changes/latest" {
		latest, err := s.content.GetLatestChange(r.Context(), s.cfg.RepositoryID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load change journal", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"change": latest})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/changes" {
		from := r.URL.Query().Get("from")
		max := queryInt(r, "max", 0)
		changes, err := s.content.GetChanges(r.Context(), s.cfg.RepositoryID, from, max)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load change journal", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/archives" {
		skip := queryInt(r, "skip", 0)
		limit := queryInt(r, "limit", 0)
		archives, err := s.content.GetArchives(r.Context(), s.cfg.RepositoryID, skip, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not load archives", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"archives": archives})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		if !s.searcher.Healthy() {
			writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not available", nil)
			return
		}
		results, total, err := s.searcher.Search(search.Query{
			Text:         r.URL.Query().Get("q"),
			RepositoryID: s.cfg.RepositoryID,
			FilterType:   r.URL.Query().Get("type"),
			Limit:        queryInt(r, "limit", 20),
			Offset:       queryInt(r, "offset", 0),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Search failed", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results, "total": total})
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "changes" && r.Method == http.MethodGet {
		change, err := s.content.GetChange(r.Context(), s.cfg.RepositoryID, parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		if change == nil {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"change": change})
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "objects" {
		s.handleObject(w, r, caller, parts[2], parts[3:])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocument(w, r, caller, parts[2], parts[3])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "policies" {
		s.handlePolicy(w, r, caller, parts[2], parts[3])
		return
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "archives" {
		s.handleArchive(w, r, parts[2], parts[3:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// createBody is the JSON shape shared by every create route.
type createBody struct {
	Name         string         `json:"name"`
	ObjectType   string         `json:"objectType"`
	ParentID     string         `json:"parentId"`
	Description  string         `json:"description"`
	Aces         []model.Ace    `json:"aces"`
	ACLInherited *bool          `json:"aclInherited"`
	SecondaryIDs []string       `json:"secondaryIds"`
	Aspects      []model.Aspect `json:"aspects"`
}

func (b createBody) input() content.CreateInput {
	in := content.CreateInput{
		Name:         b.Name,
		ObjectType:   b.ObjectType,
		ParentID:     b.ParentID,
		Description:  b.Description,
		ACLInherited: b.ACLInherited,
		SecondaryIDs: b.SecondaryIDs,
		Aspects:      b.Aspects,
	}
	if len(b.Aces) > 0 {
		in.ACL = &model.ACL{LocalAces: b.Aces}
	}
	return in
}

// handleCreateDocument accepts either a multipart form with a "meta" JSON
// field and an optional "file" part, or a plain JSON body for types whose
// definition does not allow a content stream.
func (s *HTTPServer) handleCreateDocument(w http.ResponseWriter, r *http.Request, caller string) {
	var body struct {
		createBody
		VersioningState string `json:"versioningState"`
		SourceID        string `json:"sourceId"`
	}
	in := content.DocumentInput{}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid multipart form", nil)
			return
		}
		if meta := r.FormValue("meta"); meta != "" {
			if err := json.Unmarshal([]byte(meta), &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid meta JSON", nil)
				return
			}
		}
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			in.Content = file
			in.MimeType = header.Header.Get("Content-Type")
			in.Length = header.Size
		} else if !errors.Is(err, http.ErrMissingFile) {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", "invalid file part", nil)
			return
		}
	} else {
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
	}

	in.CreateInput = body.input()
	in.VersioningState = content.VersioningState(body.VersioningState)
	if in.VersioningState == "" {
		in.VersioningState = content.VersioningMajor
	}

	var doc *model.Document
	var err error
	if body.SourceID != "" {
		doc, err = s.content.CreateDocumentFromSource(r.Context(), caller, s.cfg.RepositoryID, body.SourceID, in)
	} else {
		doc, err = s.content.CreateDocument(r.Context(), caller, s.cfg.RepositoryID, in)
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusCreated, viewContent(doc))
}

func (s *HTTPServer) handleObject(w http.ResponseWriter, r *http.Request, caller, id string, rest []string) {
	repo := s.cfg.RepositoryID

	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			c, err := s.content.GetObject(r.Context(), repo, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			if c == nil {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
				return
			}
			writeJSON(w, http.StatusOK, viewContent(c))
			return

		case http.MethodPatch:
			var body struct {
				Properties []model.Property `json:"properties"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			c, err := s.content.Update(r.Context(), caller, repo, id, body.Properties)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, viewContent(c))
			return

		case http.MethodDelete:
			s.handleDelete(w, r, caller, id)
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	switch rest[0] {
	case "children":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		children, err := s.content.GetChildren(r.Context(), repo, id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]any, 0, len(children))
		for _, child := range children {
			views = append(views, viewContent(child))
		}
		writeJSON(w, http.StatusOK, map[string]any{"children": views})
		return

	case "checkouts":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		pwcs, err := s.content.GetCheckedOutDocs(r.Context(), repo, id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]any, 0, len(pwcs))
		for _, pwc := range pwcs {
			views = append(views, viewContent(pwc))
		}
		writeJSON(w, http.StatusOK, map[string]any{"checkedOut": views})
		return

	case "path":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		c, err := s.content.GetObject(r.Context(), repo, id)
		if err != nil || c == nil {
			status, code, message, details := mapError(firstError(err, content.ErrNotFound))
			writeError(w, status, code, message, details)
			return
		}
		path, err := s.content.Accessor().CalculatePath(r.Context(), repo, c)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Could not calculate path", nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"path": path})
		return

	case "acl":
		switch r.Method {
		case http.MethodGet:
			acl, err := s.content.GetEffectiveACL(r.Context(), repo, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			if acl == nil {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"aces": acl.AllAces()})
			return
		case http.MethodPut:
			var body struct {
				Aces      []model.Ace `json:"aces"`
				Inherited *bool       `json:"inherited"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			c, err := s.content.ApplyACL(r.Context(), caller, repo, id, body.Aces, body.Inherited)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, viewContent(c))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return

	case "move":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			TargetFolderID string `json:"targetFolderId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		c, err := s.content.Move(r.Context(), caller, repo, id, body.TargetFolderID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, viewContent(c))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleDelete dispatches on the object's base type: folders delete their
// subtree, documents delete all versions unless told otherwise.
func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request, caller, id string) {
	repo := s.cfg.RepositoryID
	c, err := s.content.GetObject(r.Context(), repo, id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case c.Base().IsFolder():
		continueOnFailure := r.URL.Query().Get("continueOnFailure") == "true"
		failed, err := s.content.DeleteTree(r.Context(), caller, repo, id, continueOnFailure, false)
		if err != nil {
			status, code, message, _ := mapError(err)
			writeError(w, status, code, message, map[string]any{"failedIds": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"failedIds": failed})
		return

	case c.Base().IsDocument():
		allVersions := r.URL.Query().Get("allVersions") != "false"
		if err := s.content.DeleteDocument(r.Context(), caller, repo, id, allVersions, false); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if err := s.content.Delete(r.Context(), caller, repo, id, false); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDocument(w http.ResponseWriter, r *http.Request, caller, id, action string) {
	repo := s.cfg.RepositoryID

	switch action {
	case "content":
		switch r.Method {
		case http.MethodGet:
			doc, err := s.documentByID(r.Context(), id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			if doc.AttachmentNodeID == "" {
				writeError(w, http.StatusNotFound, "NO_CONTENT_STREAM", "Document has no content stream", nil)
				return
			}
			an, rc, err := s.content.OpenAttachment(r.Context(), repo, doc.AttachmentNodeID)
			if err != nil || rc == nil {
				writeError(w, http.StatusNotFound, "NO_CONTENT_STREAM", "Content stream unavailable", nil)
				return
			}
			defer rc.Close()
			if an.MimeType != "" {
				w.Header().Set("Content-Type", an.MimeType)
			}
			if an.Length >= 0 {
				w.Header().Set("Content-Length", strconv.FormatInt(an.Length, 10))
			}
			w.WriteHeader(http.StatusOK)
			_, _ = io.Copy(w, rc)
			return

		case http.MethodPut:
			length := model.LengthUnknown
			if r.ContentLength >= 0 {
				length = r.ContentLength
			}
			doc, err := s.content.SetContentStream(r.Context(), caller, repo, id, r.Body, r.Header.Get("Content-Type"), length)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, viewContent(doc))
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return

	case "append":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		length := model.LengthUnknown
		if r.ContentLength >= 0 {
			length = r.ContentLength
		}
		doc, err := s.content.AppendContentStream(r.Context(), caller, repo, id, r.Body, length)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, viewContent(doc))
		return

	case "versions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		doc, err := s.documentByID(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		versions, err := s.content.GetAllVersions(r.Context(), repo, doc.VersionSeriesID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		views := make([]any, 0, len(versions))
		for _, v := range versions {
			views = append(views, viewContent(v))
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": views})
		return

	case "checkout":
		switch r.Method {
		case http.MethodPost:
			pwc, err := s.content.CheckOut(r.Context(), caller, repo, id)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusCreated, viewContent(pwc))
			return
		case http.MethodDelete:
			if err := s.content.CancelCheckOut(r.Context(), caller, repo, id); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return
		}
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return

	case "checkin":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Major      bool             `json:"major"`
			Comment    string           `json:"comment"`
			Properties []model.Property `json:"properties"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		doc, err := s.content.CheckIn(r.Context(), caller, repo, id, body.Major, body.Comment, body.Properties)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, viewContent(doc))
		return

	case "preview":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		doc, err := s.documentByID(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		for _, renditionID := range doc.RenditionIDs {
			rd, rc, err := s.content.OpenRendition(r.Context(), repo, renditionID)
			if err != nil || rc == nil {
				continue
			}
			if rd.Kind != model.RenditionKindPreview {
				rc.Close()
				continue
			}
			defer rc.Close()
			if rd.MimeType != "" {
				w.Header().Set("Content-Type", rd.MimeType)
			}
			w.WriteHeader(http.StatusOK)
			_, _ = io.Copy(w, rc)
			return
		}
		writeError(w, http.StatusNotFound, "NO_PREVIEW", "No preview rendition", nil)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handlePolicy(w http.ResponseWriter, r *http.Request, caller, id, action string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	var body struct {
		ObjectID string `json:"objectId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	var policy *model.Policy
	var err error
	switch action {
	case "apply":
		policy, err = s.content.ApplyPolicy(r.Context(), caller, s.cfg.RepositoryID, id, body.ObjectID)
	case "remove":
		policy, err = s.content.RemovePolicy(r.Context(), caller, s.cfg.RepositoryID, id, body.ObjectID)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, viewContent(policy))
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request, id string, rest []string) {
	repo := s.cfg.RepositoryID

	if len(rest) == 0 && r.Method == http.MethodDelete {
		if err := s.content.Destroy(r.Context(), repo, id); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(rest) == 1 && rest[0] == "restore" && r.Method == http.MethodPost {
		c, err := s.content.Restore(r.Context(), repo, id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, viewContent(c))
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) documentByID(ctx context.Context, id string) (*model.Document, error) {
	c, err := s.content.GetObject(ctx, s.cfg.RepositoryID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("document %s: %w", id, content.ErrNotFound)
	}
	doc, ok := c.(*model.Document)
	if !ok {
		return nil, domainError(http.StatusBadRequest, "NOT_A_DOCUMENT", "Object is not a document", nil)
	}
	return doc, nil
}

// viewContent strips server-only fields before a node goes out on the wire.
func viewContent(c model.Content) any {
	if user, ok := c.(*model.UserItem); ok {
		clean := *user
		clean.PasswordHash = ""
		return &clean
	}
	return c
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(h http.Header, origin string) {
	if origin == "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
}

func randomRequestID() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, content.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, content.ErrDuplicateName):
		return http.StatusConflict, "DUPLICATE_NAME", "An object with that name already exists", nil
	case errors.Is(err, content.ErrAlreadyCheckedOut):
		return http.StatusConflict, "ALREADY_CHECKED_OUT", "Document is already checked out", nil
	case errors.Is(err, content.ErrNotCheckedOut):
		return http.StatusConflict, "NOT_CHECKED_OUT", "Document is not checked out", nil
	case errors.Is(err, content.ErrImmutable):
		return http.StatusConflict, "IMMUTABLE", "Document is immutable", nil
	case errors.Is(err, content.ErrParentNoLongerExists):
		return http.StatusConflict, "PARENT_MISSING", "Original parent no longer exists", nil
	case errors.Is(err, content.ErrNotFileable):
		return http.StatusBadRequest, "NOT_FILEABLE", "Object type cannot be filed there", nil
	case errors.Is(err, content.ErrContentRequired):
		return http.StatusBadRequest, "CONTENT_REQUIRED", "A content stream is required", nil
	case errors.Is(err, content.ErrContentNotAllowed):
		return http.StatusBadRequest, "CONTENT_NOT_ALLOWED", "A content stream is not allowed", nil
	case errors.Is(err, content.ErrNotRestorable):
		return http.StatusBadRequest, "NOT_RESTORABLE", "Archive cannot be restored on its own", nil
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, "CONFLICT", "Concurrent modification, retry", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
