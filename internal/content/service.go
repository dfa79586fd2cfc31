package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"coffer/internal/config"
	"coffer/internal/model"
	"coffer/internal/principal"
	"coffer/internal/rendition"
	"coffer/internal/search"
	"coffer/internal/store"
	"coffer/internal/types"
)

// Service sequences the engine components into the compound workflows the
// binding layer calls. The store cannot commit several records together, so
// every multi-record create carries its own compensation list and rolls
// back by hand on failure.
type Service struct {
	cfg       *config.Config
	store     store.Store
	registry  types.Registry
	accessor  *Accessor
	acl       *ACLEngine
	versions  *Versioning
	journal   *Journal
	archiver  *Archiver
	indexer   search.Indexer
	converter rendition.Converter
	resolver  *principal.Resolver
}

func NewService(cfg *config.Config, s store.Store, registry types.Registry, indexer search.Indexer, converter rendition.Converter, resolver *principal.Resolver) *Service {
	accessor := NewAccessor(s, cfg.RootFolderID)
	return &Service{
		cfg:       cfg,
		store:     s,
		registry:  registry,
		accessor:  accessor,
		acl:       NewACLEngine(accessor, resolver),
		versions:  NewVersioning(s),
		journal:   NewJournal(s),
		archiver:  NewArchiver(s),
		indexer:   indexer,
		converter: converter,
		resolver:  resolver,
	}
}

func (s *Service) Accessor() *Accessor     { return s.accessor }
func (s *Service) ACL() *ACLEngine         { return s.acl }
func (s *Service) Versioning() *Versioning { return s.versions }
func (s *Service) Journal() *Journal       { return s.journal }
func (s *Service) Archiver() *Archiver     { return s.archiver }

func (s *Service) Resolver() *principal.Resolver { return s.resolver }

// CreateInput carries the caller-supplied seed of any new object.
type CreateInput struct {
	Name         string
	ObjectType   string
	ParentID     string
	Description  string
	ACL          *model.ACL
	ACLInherited *bool
	SecondaryIDs []string
	Aspects      []model.Aspect
}

// DocumentInput extends CreateInput with the document-only pieces.
type DocumentInput struct {
	CreateInput
	VersioningState VersioningState
	Content         io.Reader
	MimeType        string
	Length          int64
}

// ---- shared helpers ----

func (s *Service) seedBase(base *model.NodeBase, caller string, in CreateInput) {
	base.Name = in.Name
	base.ObjectType = in.ObjectType
	base.ParentID = in.ParentID
	base.Description = in.Description
	if in.ACL != nil {
		base.ACL = *in.ACL.Clone()
	} else if in.ParentID == s.cfg.RootFolderID {
		// Top-level objects start owned by their creator.
		base.ACL = model.ACL{LocalAces: []model.Ace{{
			PrincipalID: caller,
			Permissions: []string{model.PermissionAll},
			Direct:      true,
		}}}
	}
	base.ACLInherited = true
	if in.ACLInherited != nil {
		base.ACLInherited = *in.ACLInherited
	} else if base.ParentID == s.cfg.RootFolderID {
		base.ACLInherited = s.cfg.TopLevelACLInherit
	}
	base.SecondaryIDs = in.SecondaryIDs
	base.Aspects = in.Aspects
	base.SetSignature(caller, time.Now())
}

// resolveParentFolder loads and validates the destination folder of a
// fileable create.
func (s *Service) resolveParentFolder(ctx context.Context, repositoryID, parentID string) (*model.Folder, error) {
	parent, err := s.store.GetContent(ctx, repositoryID, parentID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fmt.Errorf("parent %s: %w", parentID, ErrNotFound)
	}
	folder, isFolder := parent.(*model.Folder)
	if !isFolder {
		return nil, fmt.Errorf("parent %s is not a folder", parentID)
	}
	return folder, nil
}

func (s *Service) typeAllowedUnder(folder *model.Folder, objectType string) bool {
	if len(folder.AllowedChildTypeIDs) == 0 {
		return true
	}
	for _, allowed := range folder.AllowedChildTypeIDs {
		if allowed == objectType {
			return true
		}
	}
	return false
}

// uniqueName enforces the case-insensitive sibling-name policy. With
// BuildUniqueName set, a colliding name is suffixed " ~N" instead of
// rejected.
func (s *Service) uniqueName(ctx context.Context, repositoryID, parentID, name, excludeID string) (string, error) {
	if !s.cfg.UniqueNameCheck || parentID == "" {
		return name, nil
	}
	siblings, err := s.store.GetChildren(ctx, repositoryID, parentID)
	if err != nil {
		return "", err
	}
	taken := make(map[string]bool, len(siblings))
	for _, sibling := range siblings {
		if sibling.Base().ID == excludeID {
			continue
		}
		taken[strings.ToLower(sibling.Base().Name)] = true
	}
	if !taken[strings.ToLower(name)] {
		return name, nil
	}
	if !s.cfg.BuildUniqueName {
		return "", fmt.Errorf("%q under %s: %w", name, parentID, ErrDuplicateName)
	}
	body, ext := splitFileName(name)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s ~%d%s", body, n, ext)
		if !taken[strings.ToLower(candidate)] {
			return candidate, nil
		}
	}
}

// requireUniqueName is the update-path variant of uniqueName: renames and
// moves reject a colliding sibling name outright, even when creation would
// have suffixed it.
func (s *Service) requireUniqueName(ctx context.Context, repositoryID, parentID, name, excludeID string) error {
	if !s.cfg.UniqueNameCheck || parentID == "" {
		return nil
	}
	siblings, err := s.store.GetChildren(ctx, repositoryID, parentID)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.Base().ID == excludeID {
			continue
		}
		if strings.EqualFold(sibling.Base().Name, name) {
			return fmt.Errorf("%q under %s: %w", name, parentID, ErrDuplicateName)
		}
	}
	return nil
}

// splitFileName cuts "report.txt" into "report" and ".txt". A leading dot
// or a name without one keeps the whole name as the body.
func splitFileName(name string) (body, ext string) {
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return name, ""
	}
	return name[:dot], name[dot:]
}

func (s *Service) notifyIndex(repositoryID string, c model.Content) {
	if err := s.indexer.IndexContent(repositoryID, c); err != nil {
		log.Printf("content: index %s failed: %v", c.Base().ID, err)
	}
}

func (s *Service) notifyUnindex(repositoryID, id string) {
	if err := s.indexer.DeleteContent(repositoryID, id); err != nil {
		log.Printf("content: unindex %s failed: %v", id, err)
	}
}

// writeChange journals the event and stamps the new token onto the object.
// Deleted objects keep their last token; there is no live row to stamp.
func (s *Service) writeChange(ctx context.Context, repositoryID string, c model.Content, changeType model.ChangeType) error {
	effective, err := s.acl.CalculateEffective(ctx, repositoryID, c)
	if err != nil {
		log.Printf("content: effective acl for change on %s: %v", c.Base().ID, err)
		effective = nil
	}
	change, err := s.journal.Write(ctx, repositoryID, c, effective, changeType)
	if err != nil {
		return fmt.Errorf("write change for %s: %w", c.Base().ID, err)
	}
	c.Base().ChangeToken = change.Token
	if changeType != model.ChangeDeleted {
		if _, err := s.store.UpdateContent(ctx, repositoryID, c); err != nil {
			log.Printf("content: stamp change token on %s: %v", c.Base().ID, err)
		}
	}
	return nil
}

// ---- simple creates ----

// createNode is the single-row create path shared by every non-document
// variant: validate parent, enforce unique name, persist, journal, index.
func (s *Service) createNode(ctx context.Context, caller, repositoryID string, c model.Content, fileable bool) (model.Content, error) {
	base := c.Base()
	if fileable {
		parent, err := s.resolveParentFolder(ctx, repositoryID, base.ParentID)
		if err != nil {
			return nil, err
		}
		if !s.typeAllowedUnder(parent, base.ObjectType) {
			return nil, fmt.Errorf("type %s under %s: %w", base.ObjectType, parent.ID, ErrNotFileable)
		}
		name, err := s.uniqueName(ctx, repositoryID, base.ParentID, base.Name, "")
		if err != nil {
			return nil, err
		}
		base.Name = name
	}

	created, err := s.store.CreateContent(ctx, repositoryID, c)
	if err != nil {
		return nil, err
	}
	if err := s.writeChange(ctx, repositoryID, created, model.ChangeCreated); err != nil {
		return nil, err
	}
	s.notifyIndex(repositoryID, created)
	return created, nil
}

func (s *Service) CreateFolder(ctx context.Context, caller, repositoryID string, in CreateInput, allowedChildTypeIDs []string) (*model.Folder, error) {
	if in.ObjectType == "" {
		in.ObjectType = types.TypeIDFolder
	}
	folder := &model.Folder{AllowedChildTypeIDs: allowedChildTypeIDs}
	folder.Type = model.TypeFolder
	s.seedBase(&folder.NodeBase, caller, in)

	c, err := s.createNode(ctx, caller, repositoryID, folder, true)
	if err != nil {
		return nil, err
	}
	return c.(*model.Folder), nil
}

func (s *Service) CreateRelationship(ctx context.Context, caller, repositoryID string, in CreateInput, sourceID, targetID string) (*model.Relationship, error) {
	if in.ObjectType == "" {
		in.ObjectType = types.TypeIDRelationship
	}
	for _, endpoint := range []string{sourceID, targetID} {
		c, err := s.store.GetContent(ctx, repositoryID, endpoint)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return nil, fmt.Errorf("relationship endpoint %s: %w", endpoint, ErrNotFound)
		}
	}

	rel := &model.Relationship{SourceID: sourceID, TargetID: targetID}
	rel.Type = model.TypeRelationship
	s.seedBase(&rel.NodeBase, caller, in)

	c, err := s.createNode(ctx, caller, repositoryID, rel, false)
	if err != nil {
		return nil, err
	}
	return c.(*model.Relationship), nil
}

func (s *Service) CreatePolicy(ctx context.Context, caller, repositoryID string, in CreateInput, policyText string) (*model.Policy, error) {
	if in.ObjectType == "" {
		in.ObjectType = types.TypeIDPolicy
	}
	policy := &model.Policy{PolicyText: policyText}
	policy.Type = model.TypePolicy
	s.seedBase(&policy.NodeBase, caller, in)

	c, err := s.createNode(ctx, caller, repositoryID, policy, in.ParentID != "")
	if err != nil {
		return nil, err
	}
	return c.(*model.Policy), nil
}

func (s *Service) CreateItem(ctx context.Context, caller, repositoryID string, in CreateInput) (*model.Item, error) {
	if in.ObjectType == "" {
		in.ObjectType = types.TypeIDItem
	}
	item := &model.Item{}
	item.Type = model.TypeItem
	s.seedBase(&item.NodeBase, caller, in)

	c, err := s.createNode(ctx, caller, repositoryID, item, in.ParentID != "")
	if err != nil {
		return nil, err
	}
	return c.(*model.Item), nil
}

func (s *Service) CreateUserItem(ctx context.Context, caller, repositoryID string, in CreateInput, userID, secret string, admin bool) (*model.UserItem, error) {
	existing, err := s.store.GetUserItemByUserID(ctx, repositoryID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("user %s: %w", userID, ErrDuplicateName)
	}
	hash, err := principal.HashSecret(secret)
	if err != nil {
		return nil, err
	}

	user := &model.UserItem{UserID: userID, Admin: admin, PasswordHash: hash}
	user.Type = model.TypeUser
	s.seedBase(&user.NodeBase, caller, in)

	c, err := s.createNode(ctx, caller, repositoryID, user, in.ParentID != "")
	if err != nil {
		return nil, err
	}
	return c.(*model.UserItem), nil
}

func (s *Service) CreateGroupItem(ctx context.Context, caller, repositoryID string, in CreateInput, groupID string, users, groups []string) (*model.GroupItem, error) {
	existing, err := s.store.GetGroupItemByGroupID(ctx, repositoryID, groupID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrDuplicateName)
	}

	group := &model.GroupItem{GroupID: groupID, Users: users, Groups: groups}
	group.Type = model.TypeGroup
	s.seedBase(&group.NodeBase, caller, in)

	c, err := s.createNode(ctx, caller, repositoryID, group, in.ParentID != "")
	if err != nil {
		return nil, err
	}
	return c.(*model.GroupItem), nil
}

// ---- document creation ----

// CreateDocument runs the phased document create: attachment first, then
// version series, then the document row, then checkout bookkeeping, change
// journal and indexing. Any failure after the first store write rolls back
// the artifacts created so far, in reverse order, and surfaces the original
// cause wrapped once.
func (s *Service) CreateDocument(ctx context.Context, caller, repositoryID string, in DocumentInput) (*model.Document, error) {
	if in.ObjectType == "" {
		in.ObjectType = types.TypeIDDocument
	}
	def, err := s.registry.GetTypeDefinition(ctx, repositoryID, in.ObjectType)
	if err != nil {
		return nil, err
	}
	parent, err := s.resolveParentFolder(ctx, repositoryID, in.ParentID)
	if err != nil {
		return nil, err
	}
	if !s.typeAllowedUnder(parent, in.ObjectType) {
		return nil, fmt.Errorf("type %s under %s: %w", in.ObjectType, parent.ID, ErrNotFileable)
	}

	streamRequired, err := s.streamRequired(ctx, repositoryID, def, in.SecondaryIDs)
	if err != nil {
		return nil, err
	}
	if streamRequired && in.Content == nil {
		return nil, fmt.Errorf("type %s: %w", in.ObjectType, ErrContentRequired)
	}
	if def.ContentStreamAllowed == types.StreamNotAllowed && in.Content != nil {
		return nil, fmt.Errorf("type %s: %w", in.ObjectType, ErrContentNotAllowed)
	}

	name, err := s.uniqueName(ctx, repositoryID, in.ParentID, in.Name, "")
	if err != nil {
		return nil, err
	}
	in.Name = name

	doc := &model.Document{}
	doc.Type = model.TypeDocument
	s.seedBase(&doc.NodeBase, caller, in.CreateInput)

	wf := &workflow{}

	if in.Content != nil {
		attachmentID, err := s.createAttachment(ctx, caller, repositoryID, wf, in.Content, in.MimeType, in.Length)
		if err != nil {
			wf.rollback(ctx)
			return nil, atomicFailure(err)
		}
		doc.AttachmentNodeID = attachmentID

		if renditionID := s.generatePreview(ctx, caller, repositoryID, wf, attachmentID, in.MimeType); renditionID != "" {
			doc.RenditionIDs = append(doc.RenditionIDs, renditionID)
		}
	}

	series, err := s.versions.CreateSeries(ctx, repositoryID)
	if err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	wf.add("version series", func(ctx context.Context) error {
		return s.store.DeleteVersionSeries(ctx, repositoryID, series.ID)
	})
	doc.VersionSeriesID = series.ID
	state := in.VersioningState
	if !def.Versionable {
		state = VersioningNone
	}
	ApplyInitialState(doc, state)

	if _, err := s.store.CreateContent(ctx, repositoryID, doc); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	wf.add("document row", func(ctx context.Context) error {
		return s.store.DeleteContent(ctx, repositoryID, doc.ID)
	})

	if state == VersioningCheckedOut {
		doc.CheckedOut = true
		doc.CheckedOutBy = caller
		doc.CheckedOutID = doc.ID
		if _, err := s.store.UpdateContent(ctx, repositoryID, doc); err != nil {
			wf.rollback(ctx)
			return nil, atomicFailure(err)
		}
		if err := s.versions.MarkCheckedOut(ctx, repositoryID, series, doc.ID, caller); err != nil {
			wf.rollback(ctx)
			return nil, atomicFailure(err)
		}
	}

	if err := s.writeChange(ctx, repositoryID, doc, model.ChangeCreated); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	s.notifyIndex(repositoryID, doc)
	return doc, nil
}

// streamRequired is true when the primary or any applied secondary type
// demands a content stream.
func (s *Service) streamRequired(ctx context.Context, repositoryID string, def *types.TypeDefinition, secondaryIDs []string) (bool, error) {
	if def.ContentStreamAllowed == types.StreamRequired {
		return true, nil
	}
	for _, secondaryID := range secondaryIDs {
		secondary, err := s.registry.GetTypeDefinition(ctx, repositoryID, secondaryID)
		if err != nil {
			log.Printf("content: unknown secondary type %s: %v", secondaryID, err)
			continue
		}
		if secondary.ContentStreamAllowed == types.StreamRequired {
			return true, nil
		}
	}
	return false, nil
}

// createAttachment persists the binary and verifies it reads back, guarding
// against eventual-consistency gaps in the store.
func (s *Service) createAttachment(ctx context.Context, caller, repositoryID string, wf *workflow, r io.Reader, mimeType string, length int64) (string, error) {
	an := &model.AttachmentNode{MimeType: mimeType, Length: length}
	an.Creator = caller
	an.Created = time.Now()

	id, err := s.store.CreateAttachment(ctx, repositoryID, an, r)
	if err != nil {
		return "", err
	}
	wf.add("attachment "+id, func(ctx context.Context) error {
		return s.store.DeleteAttachment(ctx, repositoryID, id, true)
	})

	readBack, err := s.store.GetAttachment(ctx, repositoryID, id)
	if err != nil {
		return "", err
	}
	if readBack == nil {
		return "", fmt.Errorf("attachment %s not readable after create", id)
	}
	return id, nil
}

// generatePreview renders a PDF rendition of the payload. Failures are
// logged and swallowed; previews never fail or roll back a create.
func (s *Service) generatePreview(ctx context.Context, caller, repositoryID string, wf *workflow, attachmentID, mimeType string) string {
	if !s.cfg.PreviewEnabled || s.converter == nil {
		return ""
	}
	rc, _, err := s.store.OpenAttachment(ctx, repositoryID, attachmentID)
	if err != nil {
		log.Printf("content: preview read of %s failed: %v", attachmentID, err)
		return ""
	}
	payload, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		log.Printf("content: preview read of %s failed: %v", attachmentID, err)
		return ""
	}

	result, err := s.converter.Convert(ctx, mimeType, payload)
	if err != nil {
		log.Printf("content: preview conversion of %s failed: %v", attachmentID, err)
		return ""
	}
	if result == nil {
		return ""
	}

	rd := &model.Rendition{
		Kind:     model.RenditionKindPreview,
		MimeType: result.MimeType,
		Length:   int64(len(result.Data)),
		Creator:  caller,
		Created:  time.Now(),
	}
	id, err := s.store.CreateRendition(ctx, repositoryID, rd, bytes.NewReader(result.Data))
	if err != nil {
		log.Printf("content: preview store of %s failed: %v", attachmentID, err)
		return ""
	}
	wf.add("rendition "+id, func(ctx context.Context) error {
		return s.store.DeleteRendition(ctx, repositoryID, id)
	})
	return id
}

// copyAttachment duplicates an attachment payload under a fresh id.
func (s *Service) copyAttachment(ctx context.Context, caller, repositoryID string, wf *workflow, sourceAttachmentID string) (string, error) {
	source, err := s.store.GetAttachment(ctx, repositoryID, sourceAttachmentID)
	if err != nil {
		return "", err
	}
	if source == nil {
		return "", fmt.Errorf("attachment %s: %w", sourceAttachmentID, ErrNotFound)
	}
	rc, length, err := s.store.OpenAttachment(ctx, repositoryID, sourceAttachmentID)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return s.createAttachment(ctx, caller, repositoryID, wf, rc, source.MimeType, length)
}

// CreateDocumentFromSource copies an existing document into a new series
// under the target folder: same phase shape and rollback as CreateDocument.
func (s *Service) CreateDocumentFromSource(ctx context.Context, caller, repositoryID, sourceID string, in DocumentInput) (*model.Document, error) {
	source, err := s.store.GetContent(ctx, repositoryID, sourceID)
	if err != nil {
		return nil, err
	}
	sourceDoc, isDoc := source.(*model.Document)
	if !isDoc {
		return nil, fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
	}

	if in.Name == "" {
		in.Name = sourceDoc.Name
	}
	if in.ObjectType == "" {
		in.ObjectType = sourceDoc.ObjectType
	}
	if in.ACL == nil {
		in.ACL = sourceDoc.ACL.Clone()
	}
	if in.SecondaryIDs == nil {
		in.SecondaryIDs = append([]string(nil), sourceDoc.SecondaryIDs...)
	}
	if in.Aspects == nil {
		in.Aspects = append([]model.Aspect(nil), sourceDoc.Aspects...)
	}
	if in.Content == nil && sourceDoc.AttachmentNodeID != "" {
		rc, length, err := s.store.OpenAttachment(ctx, repositoryID, sourceDoc.AttachmentNodeID)
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		an, err := s.store.GetAttachment(ctx, repositoryID, sourceDoc.AttachmentNodeID)
		if err != nil {
			return nil, err
		}
		in.Content = rc
		in.Length = length
		if an != nil {
			in.MimeType = an.MimeType
		}
	}
	return s.CreateDocument(ctx, caller, repositoryID, in)
}

// CreateDocumentWithNewStream supersedes the latest version of a document
// with a copy carrying a replacing payload (minor bump). Change events are
// written for both the superseded and the new version.
func (s *Service) CreateDocumentWithNewStream(ctx context.Context, caller, repositoryID, docID string, r io.Reader, mimeType string, length int64) (*model.Document, error) {
	c, err := s.store.GetContent(ctx, repositoryID, docID)
	if err != nil {
		return nil, err
	}
	doc, isDoc := c.(*model.Document)
	if !isDoc {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	if doc.Immutable {
		return nil, fmt.Errorf("document %s: %w", docID, ErrImmutable)
	}

	latest, err := s.versions.LatestVersionOf(ctx, repositoryID, doc.VersionSeriesID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		latest = doc
	}

	wf := &workflow{}
	attachmentID, err := s.createAttachment(ctx, caller, repositoryID, wf, r, mimeType, length)
	if err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}

	label, err := IncrementLabel(latest.VersionLabel, false)
	if err != nil {
		wf.rollback(ctx)
		return nil, err
	}

	next := s.cloneVersion(latest, caller)
	next.AttachmentNodeID = attachmentID
	next.VersionLabel = label
	next.LatestVersion = true
	next.MajorVersion = false
	next.LatestMajorVersion = false

	if _, err := s.store.CreateContent(ctx, repositoryID, next); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	wf.add("document row", func(ctx context.Context) error {
		return s.store.DeleteContent(ctx, repositoryID, next.ID)
	})

	// Recompute latest/latest-major flags across the series now that a
	// higher label exists.
	if _, err := s.versions.PromoteLatest(ctx, repositoryID, doc.VersionSeriesID); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}

	if err := s.writeChange(ctx, repositoryID, latest, model.ChangeUpdated); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	if err := s.writeChange(ctx, repositoryID, next, model.ChangeCreated); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	s.notifyIndex(repositoryID, next)
	return next, nil
}

// cloneVersion copies a version row into an unsaved sibling with a fresh
// identity and the source's ACL carried over, not recomputed.
func (s *Service) cloneVersion(source *model.Document, caller string) *model.Document {
	next := &model.Document{}
	next.NodeBase = source.NodeBase
	next.ID = ""
	next.Rev = 0
	next.ACL = *source.ACL.Clone()
	next.SecondaryIDs = append([]string(nil), source.SecondaryIDs...)
	next.Aspects = append([]model.Aspect(nil), source.Aspects...)
	next.VersionSeriesID = source.VersionSeriesID
	next.VersionLabel = source.VersionLabel
	next.AttachmentNodeID = source.AttachmentNodeID
	next.RenditionIDs = append([]string(nil), source.RenditionIDs...)
	next.CheckinComment = source.CheckinComment
	next.SetSignature(caller, time.Now())
	return next
}

// ---- checkout / checkin ----

// CheckOut clones the latest version into the series' private working copy.
func (s *Service) CheckOut(ctx context.Context, caller, repositoryID, docID string) (*model.Document, error) {
	c, err := s.store.GetContent(ctx, repositoryID, docID)
	if err != nil {
		return nil, err
	}
	doc, isDoc := c.(*model.Document)
	if !isDoc {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}

	series, err := s.store.GetVersionSeries(ctx, repositoryID, doc.VersionSeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, fmt.Errorf("version series %s: %w", doc.VersionSeriesID, ErrNotFound)
	}
	if series.CheckedOut {
		return nil, fmt.Errorf("series %s: %w", series.ID, ErrAlreadyCheckedOut)
	}

	latest, err := s.versions.LatestVersionOf(ctx, repositoryID, series.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		latest = doc
	}

	wf := &workflow{}
	pwc := s.cloneVersion(latest, caller)
	pwc.LatestVersion = false
	pwc.MajorVersion = false
	pwc.LatestMajorVersion = false
	pwc.PrivateWorkingCopy = true

	if latest.AttachmentNodeID != "" {
		attachmentID, err := s.copyAttachment(ctx, caller, repositoryID, wf, latest.AttachmentNodeID)
		if err != nil {
			wf.rollback(ctx)
			return nil, atomicFailure(err)
		}
		pwc.AttachmentNodeID = attachmentID
	}

	if _, err := s.store.CreateContent(ctx, repositoryID, pwc); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	wf.add("pwc row", func(ctx context.Context) error {
		return s.store.DeleteContent(ctx, repositoryID, pwc.ID)
	})

	pwc.CheckedOut = true
	pwc.CheckedOutBy = caller
	pwc.CheckedOutID = pwc.ID
	if _, err := s.store.UpdateContent(ctx, repositoryID, pwc); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	if err := s.versions.MarkCheckedOut(ctx, repositoryID, series, pwc.ID, caller); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}

	if err := s.writeChange(ctx, repositoryID, pwc, model.ChangeCreated); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	s.notifyIndex(repositoryID, pwc)
	return pwc, nil
}

// CheckIn turns the private working copy into a new checked-in version and
// removes the PWC.
func (s *Service) CheckIn(ctx context.Context, caller, repositoryID, pwcID string, major bool, comment string, props []model.Property) (*model.Document, error) {
	c, err := s.store.GetContent(ctx, repositoryID, pwcID)
	if err != nil {
		return nil, err
	}
	pwc, isDoc := c.(*model.Document)
	if !isDoc || !pwc.PrivateWorkingCopy {
		return nil, fmt.Errorf("pwc %s: %w", pwcID, ErrNotCheckedOut)
	}

	series, err := s.store.GetVersionSeries(ctx, repositoryID, pwc.VersionSeriesID)
	if err != nil {
		return nil, err
	}
	if series == nil || !series.CheckedOut {
		return nil, fmt.Errorf("series of %s: %w", pwcID, ErrNotCheckedOut)
	}

	latest, err := s.versions.LatestVersionOf(ctx, repositoryID, series.ID)
	if err != nil {
		return nil, err
	}

	baseLabel := FirstVersionLabel
	if latest != nil {
		baseLabel = latest.VersionLabel
	}
	label, err := IncrementLabel(baseLabel, major)
	if err != nil {
		return nil, err
	}

	wf := &workflow{}
	next := s.cloneVersion(pwc, caller)
	next.PrivateWorkingCopy = false
	next.CheckedOut = false
	next.CheckedOutBy = ""
	next.CheckedOutID = ""
	next.VersionLabel = label
	next.LatestVersion = true
	next.MajorVersion = major
	next.LatestMajorVersion = major
	next.CheckinComment = comment

	if pwc.AttachmentNodeID != "" {
		attachmentID, err := s.copyAttachment(ctx, caller, repositoryID, wf, pwc.AttachmentNodeID)
		if err != nil {
			wf.rollback(ctx)
			return nil, atomicFailure(err)
		}
		next.AttachmentNodeID = attachmentID
	}

	if props != nil {
		defs, err := s.effectivePropertyDefs(ctx, repositoryID, next)
		if err != nil {
			wf.rollback(ctx)
			return nil, atomicFailure(err)
		}
		applyProperties(defs, next, props)
	}

	if _, err := s.store.CreateContent(ctx, repositoryID, next); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}
	wf.add("document row", func(ctx context.Context) error {
		return s.store.DeleteContent(ctx, repositoryID, next.ID)
	})

	// Recompute latest/latest-major flags across the series; the new
	// version carries the highest label and wins, the superseded one is
	// demoted in the same pass.
	if _, err := s.versions.PromoteLatest(ctx, repositoryID, series.ID); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}

	if err := s.versions.ClearCheckedOut(ctx, repositoryID, series); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}

	if err := s.deletePWCRow(ctx, repositoryID, pwc); err != nil {
		wf.rollback(ctx)
		return nil, atomicFailure(err)
	}

	if latest != nil {
		if err := s.writeChange(ctx, repositoryID, latest, model.ChangeUpdated); err != nil {
			return nil, err
		}
	}
	if err := s.writeChange(ctx, repositoryID, next, model.ChangeCreated); err != nil {
		return nil, err
	}
	s.notifyIndex(repositoryID, next)
	s.notifyUnindex(repositoryID, pwc.ID)
	return next, nil
}

// CancelCheckOut discards the private working copy without a new version.
func (s *Service) CancelCheckOut(ctx context.Context, caller, repositoryID, pwcID string) error {
	c, err := s.store.GetContent(ctx, repositoryID, pwcID)
	if err != nil {
		return err
	}
	pwc, isDoc := c.(*model.Document)
	if !isDoc || !pwc.PrivateWorkingCopy {
		return fmt.Errorf("pwc %s: %w", pwcID, ErrNotCheckedOut)
	}

	series, err := s.store.GetVersionSeries(ctx, repositoryID, pwc.VersionSeriesID)
	if err != nil {
		return err
	}
	if series == nil {
		return fmt.Errorf("series of %s: %w", pwcID, ErrNotFound)
	}

	if err := s.writeChange(ctx, repositoryID, pwc, model.ChangeDeleted); err != nil {
		return err
	}
	if err := s.versions.ClearCheckedOut(ctx, repositoryID, series); err != nil {
		return err
	}
	if err := s.deletePWCRow(ctx, repositoryID, pwc); err != nil {
		return err
	}
	s.notifyUnindex(repositoryID, pwc.ID)
	return nil
}

// deletePWCRow removes a PWC and purges its working attachment; PWCs are
// never archived.
func (s *Service) deletePWCRow(ctx context.Context, repositoryID string, pwc *model.Document) error {
	if pwc.AttachmentNodeID != "" {
		if err := s.store.DeleteAttachment(ctx, repositoryID, pwc.AttachmentNodeID, true); err != nil {
			return err
		}
	}
	return s.store.DeleteContent(ctx, repositoryID, pwc.ID)
}

// SetContentStream replaces a PWC's working payload in place; a checked-in
// document is superseded via CreateDocumentWithNewStream instead.
func (s *Service) SetContentStream(ctx context.Context, caller, repositoryID, docID string, r io.Reader, mimeType string, length int64) (*model.Document, error) {
	c, err := s.store.GetContent(ctx, repositoryID, docID)
	if err != nil {
		return nil, err
	}
	doc, isDoc := c.(*model.Document)
	if !isDoc {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}

	if !doc.PrivateWorkingCopy {
		return s.CreateDocumentWithNewStream(ctx, caller, repositoryID, docID, r, mimeType, length)
	}

	an, err := s.store.GetAttachment(ctx, repositoryID, doc.AttachmentNodeID)
	if err != nil {
		return nil, err
	}
	if an == nil {
		an = &model.AttachmentNode{MimeType: mimeType, Length: length, Creator: caller, Created: time.Now()}
		id, err := s.store.CreateAttachment(ctx, repositoryID, an, r)
		if err != nil {
			return nil, err
		}
		doc.AttachmentNodeID = id
	} else {
		an.MimeType = mimeType
		an.Length = length
		an.Modifier = caller
		an.Modified = time.Now()
		if err := s.store.UpdateAttachment(ctx, repositoryID, an, r); err != nil {
			return nil, err
		}
	}

	s.refreshPreview(ctx, caller, repositoryID, doc, mimeType)

	doc.SetModifiedSignature(caller, time.Now())
	if _, err := s.store.UpdateContent(ctx, repositoryID, doc); err != nil {
		return nil, err
	}
	if err := s.writeChange(ctx, repositoryID, doc, model.ChangeUpdated); err != nil {
		return nil, err
	}
	s.notifyIndex(repositoryID, doc)
	return doc, nil
}

// refreshPreview replaces the preview rendition after a payload change.
// Best effort, like preview generation on create.
func (s *Service) refreshPreview(ctx context.Context, caller, repositoryID string, doc *model.Document, mimeType string) {
	if !s.cfg.PreviewEnabled || s.converter == nil {
		return
	}
	for _, id := range doc.RenditionIDs {
		if err := s.store.DeleteRendition(ctx, repositoryID, id); err != nil {
			log.Printf("content: stale rendition %s of %s: %v", id, doc.ID, err)
		}
	}
	doc.RenditionIDs = nil
	wf := &workflow{}
	if id := s.generatePreview(ctx, caller, repositoryID, wf, doc.AttachmentNodeID, mimeType); id != "" {
		doc.RenditionIDs = []string{id}
	}
}

// AppendContentStream adds a chunk to the end of a document's payload. The
// existing payload is streamed through rather than buffered, so appends of
// unknown total length work.
func (s *Service) AppendContentStream(ctx context.Context, caller, repositoryID, docID string, r io.Reader, length int64) (*model.Document, error) {
	c, err := s.store.GetContent(ctx, repositoryID, docID)
	if err != nil {
		return nil, err
	}
	doc, isDoc := c.(*model.Document)
	if !isDoc {
		return nil, fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}
	if doc.Immutable {
		return nil, fmt.Errorf("document %s: %w", docID, ErrImmutable)
	}
	if doc.AttachmentNodeID == "" {
		return nil, fmt.Errorf("document %s has no content stream: %w", docID, ErrNotFound)
	}

	an, err := s.store.GetAttachment(ctx, repositoryID, doc.AttachmentNodeID)
	if err != nil {
		return nil, err
	}
	if an == nil {
		return nil, fmt.Errorf("attachment %s: %w", doc.AttachmentNodeID, ErrNotFound)
	}
	existing, _, err := s.store.OpenAttachment(ctx, repositoryID, an.ID)
	if err != nil {
		return nil, err
	}
	defer existing.Close()

	if an.Length >= 0 && length >= 0 {
		an.Length += length
	} else {
		an.Length = model.LengthUnknown
	}
	an.Modifier = caller
	an.Modified = time.Now()
	if err := s.store.UpdateAttachment(ctx, repositoryID, an, io.MultiReader(existing, r)); err != nil {
		return nil, err
	}

	doc.SetModifiedSignature(caller, time.Now())
	if _, err := s.store.UpdateContent(ctx, repositoryID, doc); err != nil {
		return nil, err
	}
	if err := s.writeChange(ctx, repositoryID, doc, model.ChangeUpdated); err != nil {
		return nil, err
	}
	return doc, nil
}

// ---- update / move / acl ----

// Update applies caller-supplied properties under the effective type's
// updatability rules.
func (s *Service) Update(ctx context.Context, caller, repositoryID, id string, props []model.Property) (model.Content, error) {
	c, err := s.store.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if doc, isDoc := c.(*model.Document); isDoc && doc.Immutable {
		return nil, fmt.Errorf("document %s: %w", id, ErrImmutable)
	}

	defs, err := s.effectivePropertyDefs(ctx, repositoryID, c)
	if err != nil {
		return nil, err
	}

	// Reject a renaming collision before anything is written.
	for _, p := range props {
		if p.Key != types.PropName {
			continue
		}
		name := asString(p.Value)
		if name == "" || name == c.Base().Name {
			continue
		}
		if err := s.requireUniqueName(ctx, repositoryID, c.Base().ParentID, name, id); err != nil {
			return nil, err
		}
	}

	if !applyProperties(defs, c, props) {
		return c, nil
	}

	c.Base().SetModifiedSignature(caller, time.Now())
	if _, err := s.store.UpdateContent(ctx, repositoryID, c); err != nil {
		return nil, err
	}
	if err := s.writeChange(ctx, repositoryID, c, model.ChangeUpdated); err != nil {
		return nil, err
	}
	s.notifyIndex(repositoryID, c)
	return c, nil
}

// ApplyACL replaces the object's local aces and inheritance flag, writes a
// SECURITY change and drops the whole ACL cache, since descendants of the
// object inherit from it and the cache tracks no dependency edges.
func (s *Service) ApplyACL(ctx context.Context, caller, repositoryID, id string, localAces []model.Ace, inherited *bool) (model.Content, error) {
	c, err := s.store.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}

	base := c.Base()
	base.ACL.LocalAces = localAces
	if inherited != nil && !s.accessor.IsRoot(c) {
		base.ACLInherited = *inherited
	}
	base.SetModifiedSignature(caller, time.Now())

	if _, err := s.store.UpdateContent(ctx, repositoryID, c); err != nil {
		return nil, err
	}
	s.acl.InvalidateAll(repositoryID)
	if err := s.writeChange(ctx, repositoryID, c, model.ChangeSecurity); err != nil {
		return nil, err
	}
	return c, nil
}

// Move re-parents an object. Change events go to the two folders whose
// listings changed, not to the moved object.
func (s *Service) Move(ctx context.Context, caller, repositoryID, id, targetFolderID string) (model.Content, error) {
	c, err := s.store.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	target, err := s.resolveParentFolder(ctx, repositoryID, targetFolderID)
	if err != nil {
		return nil, err
	}
	if !s.typeAllowedUnder(target, c.Base().ObjectType) {
		return nil, fmt.Errorf("type %s under %s: %w", c.Base().ObjectType, targetFolderID, ErrNotFileable)
	}
	if err := s.requireUniqueName(ctx, repositoryID, targetFolderID, c.Base().Name, id); err != nil {
		return nil, err
	}

	sourceParentID := c.Base().ParentID
	c.Base().ParentID = targetFolderID
	c.Base().SetModifiedSignature(caller, time.Now())
	if _, err := s.store.UpdateContent(ctx, repositoryID, c); err != nil {
		return nil, err
	}

	// Ancestor edges changed for the whole moved subtree.
	s.acl.InvalidateAll(repositoryID)

	for _, folderID := range []string{sourceParentID, targetFolderID} {
		folder, err := s.store.GetContent(ctx, repositoryID, folderID)
		if err != nil {
			return nil, err
		}
		if folder == nil {
			continue
		}
		if err := s.writeChange(ctx, repositoryID, folder, model.ChangeUpdated); err != nil {
			return nil, err
		}
	}
	s.notifyIndex(repositoryID, c)
	return c, nil
}

// ---- policies ----

func (s *Service) ApplyPolicy(ctx context.Context, caller, repositoryID, policyID, objectID string) (*model.Policy, error) {
	return s.mutatePolicy(ctx, caller, repositoryID, policyID, objectID, true)
}

func (s *Service) RemovePolicy(ctx context.Context, caller, repositoryID, policyID, objectID string) (*model.Policy, error) {
	return s.mutatePolicy(ctx, caller, repositoryID, policyID, objectID, false)
}

func (s *Service) mutatePolicy(ctx context.Context, caller, repositoryID, policyID, objectID string, apply bool) (*model.Policy, error) {
	c, err := s.store.GetContent(ctx, repositoryID, policyID)
	if err != nil {
		return nil, err
	}
	policy, isPolicy := c.(*model.Policy)
	if !isPolicy {
		return nil, fmt.Errorf("policy %s: %w", policyID, ErrNotFound)
	}
	targetC, err := s.store.GetContent(ctx, repositoryID, objectID)
	if err != nil {
		return nil, err
	}
	if targetC == nil {
		return nil, fmt.Errorf("object %s: %w", objectID, ErrNotFound)
	}

	applied := policy.AppliedIDs[:0]
	found := false
	for _, id := range policy.AppliedIDs {
		if id == objectID {
			found = true
			if !apply {
				continue
			}
		}
		applied = append(applied, id)
	}
	if apply && !found {
		applied = append(applied, objectID)
	}
	policy.AppliedIDs = applied

	policy.SetModifiedSignature(caller, time.Now())
	if _, err := s.store.UpdateContent(ctx, repositoryID, policy); err != nil {
		return nil, err
	}
	// The governed object's security changed, not the policy's.
	if err := s.writeChange(ctx, repositoryID, targetC, model.ChangeSecurity); err != nil {
		return nil, err
	}
	return policy, nil
}

// ---- deletion ----

// relationshipCleanupPause paces the per-relationship deletes of a content
// delete so a heavily linked object cannot hammer the store.
const relationshipCleanupPause = 10 * time.Millisecond

// Delete soft-deletes one object: DELETED change while still live, archive
// row, relationship cleanup, then the live row. Document versions carry
// their attachment metadata into the archive; payloads survive until
// destroy.
func (s *Service) Delete(ctx context.Context, caller, repositoryID, id string, deletedWithParent bool) error {
	c, err := s.store.GetContent(ctx, repositoryID, id)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("object %s: %w", id, ErrNotFound)
	}

	if err := s.writeChange(ctx, repositoryID, c, model.ChangeDeleted); err != nil {
		return err
	}
	if _, err := s.archiver.Archive(ctx, repositoryID, c, deletedWithParent); err != nil {
		return err
	}
	if err := s.cleanupRelationships(ctx, repositoryID, id); err != nil {
		log.Printf("content: relationship cleanup for %s: %v", id, err)
	}

	doc, isDoc := c.(*model.Document)
	if isDoc && doc.AttachmentNodeID != "" {
		an, err := s.store.GetAttachment(ctx, repositoryID, doc.AttachmentNodeID)
		if err != nil {
			return err
		}
		if an != nil {
			if _, err := s.archiver.ArchiveAttachment(ctx, repositoryID, an, true); err != nil {
				return err
			}
			if err := s.store.DeleteAttachment(ctx, repositoryID, an.ID, false); err != nil {
				return err
			}
		}
	}

	if err := s.store.DeleteContent(ctx, repositoryID, id); err != nil {
		return err
	}
	s.acl.Invalidate(repositoryID, id)
	s.notifyUnindex(repositoryID, id)

	if isDoc && doc.LatestVersion {
		if _, err := s.versions.PromoteLatest(ctx, repositoryID, doc.VersionSeriesID); err != nil {
			log.Printf("content: promote latest of %s: %v", doc.VersionSeriesID, err)
		}
	}
	return nil
}

// cleanupRelationships removes every relationship pointing at the object,
// both directions, pacing each delete.
func (s *Service) cleanupRelationships(ctx context.Context, repositoryID, id string) error {
	bySource, err := s.store.GetRelationshipsBySource(ctx, repositoryID, id)
	if err != nil {
		return err
	}
	byTarget, err := s.store.GetRelationshipsByTarget(ctx, repositoryID, id)
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, rel := range append(bySource, byTarget...) {
		if seen[rel.ID] {
			continue
		}
		seen[rel.ID] = true
		if err := s.writeChange(ctx, repositoryID, rel, model.ChangeDeleted); err != nil {
			return err
		}
		if err := s.store.DeleteContent(ctx, repositoryID, rel.ID); err != nil {
			return err
		}
		time.Sleep(relationshipCleanupPause)
	}
	return nil
}

// DeleteDocument removes one version or, with allVersions, the entire
// series including the series record and any outstanding PWC.
func (s *Service) DeleteDocument(ctx context.Context, caller, repositoryID, docID string, allVersions, deletedWithParent bool) error {
	c, err := s.store.GetContent(ctx, repositoryID, docID)
	if err != nil {
		return err
	}
	doc, isDoc := c.(*model.Document)
	if !isDoc {
		return fmt.Errorf("document %s: %w", docID, ErrNotFound)
	}

	if !allVersions {
		return s.Delete(ctx, caller, repositoryID, docID, deletedWithParent)
	}

	series, err := s.store.GetVersionSeries(ctx, repositoryID, doc.VersionSeriesID)
	if err != nil {
		return err
	}
	versions, err := s.store.GetAllVersions(ctx, repositoryID, doc.VersionSeriesID)
	if err != nil {
		return err
	}
	for _, version := range versions {
		if version.PrivateWorkingCopy {
			// The working copy is discarded, not archived.
			if err := s.CancelCheckOut(ctx, caller, repositoryID, version.ID); err != nil {
				return err
			}
			continue
		}
		if err := s.Delete(ctx, caller, repositoryID, version.ID, deletedWithParent); err != nil {
			return err
		}
	}
	if series != nil {
		if err := s.store.DeleteVersionSeries(ctx, repositoryID, series.ID); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTree removes a folder and its subtree depth-first. With
// continueOnFailure the ids that failed are collected and returned;
// otherwise the first failure aborts.
func (s *Service) DeleteTree(ctx context.Context, caller, repositoryID, folderID string, continueOnFailure, deletedWithParent bool) ([]string, error) {
	c, err := s.store.GetContent(ctx, repositoryID, folderID)
	if err != nil {
		return nil, err
	}
	folder, isFolder := c.(*model.Folder)
	if !isFolder {
		return nil, fmt.Errorf("folder %s: %w", folderID, ErrNotFound)
	}

	var failed []string
	children, err := s.store.GetChildren(ctx, repositoryID, folder.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		var childErr error
		switch typed := child.(type) {
		case *model.Folder:
			var childFailed []string
			childFailed, childErr = s.DeleteTree(ctx, caller, repositoryID, typed.ID, continueOnFailure, true)
			failed = append(failed, childFailed...)
		case *model.Document:
			childErr = s.DeleteDocument(ctx, caller, repositoryID, typed.ID, true, true)
		default:
			childErr = s.Delete(ctx, caller, repositoryID, child.Base().ID, true)
		}
		if childErr != nil {
			if !continueOnFailure {
				return failed, childErr
			}
			log.Printf("content: delete tree %s: child %s failed: %v", folderID, child.Base().ID, childErr)
			failed = append(failed, child.Base().ID)
		}
	}

	if err := s.Delete(ctx, caller, repositoryID, folder.ID, deletedWithParent); err != nil {
		if !continueOnFailure {
			return failed, err
		}
		failed = append(failed, folder.ID)
	}
	return failed, nil
}

// ---- archive facade ----

// Restore brings an archived subtree back to life, running under the
// system principal. Every revived node gets a CREATED change record.
func (s *Service) Restore(ctx context.Context, repositoryID, archiveID string) (model.Content, error) {
	restored, revived, err := s.archiver.Restore(ctx, repositoryID, archiveID)
	if err != nil {
		return nil, err
	}
	s.acl.InvalidateAll(repositoryID)
	for _, c := range revived {
		if err := s.writeChange(ctx, repositoryID, c, model.ChangeCreated); err != nil {
			return nil, err
		}
		s.notifyIndex(repositoryID, c)
	}
	return restored, nil
}

// Destroy permanently erases an archive and its dependents.
func (s *Service) Destroy(ctx context.Context, repositoryID, archiveID string) error {
	return s.archiver.Destroy(ctx, repositoryID, archiveID)
}

// ---- reads ----

func (s *Service) GetObject(ctx context.Context, repositoryID, id string) (model.Content, error) {
	return s.accessor.Get(ctx, repositoryID, id)
}

func (s *Service) GetObjectByPath(ctx context.Context, repositoryID, path string) (model.Content, error) {
	return s.accessor.GetByPath(ctx, repositoryID, path)
}

func (s *Service) GetChildren(ctx context.Context, repositoryID, folderID string) ([]model.Content, error) {
	return s.accessor.GetChildren(ctx, repositoryID, folderID)
}

func (s *Service) GetAllVersions(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Document, error) {
	return s.store.GetAllVersions(ctx, repositoryID, versionSeriesID)
}

// GetLatestVersion returns the series' current non-PWC latest version.
func (s *Service) GetLatestVersion(ctx context.Context, repositoryID, versionSeriesID string) (*model.Document, error) {
	return s.versions.LatestVersionOf(ctx, repositoryID, versionSeriesID)
}

// GetLatestMajorVersion returns the newest major version of the series,
// nil when the series has only minor versions.
func (s *Service) GetLatestMajorVersion(ctx context.Context, repositoryID, versionSeriesID string) (*model.Document, error) {
	versions, err := s.store.GetAllVersions(ctx, repositoryID, versionSeriesID)
	if err != nil {
		return nil, err
	}
	for _, doc := range versions {
		if doc.LatestMajorVersion && !doc.PrivateWorkingCopy {
			return doc, nil
		}
	}
	return nil, nil
}

// GetCheckedOutDocs lists the private working copies filed directly under
// the folder.
func (s *Service) GetCheckedOutDocs(ctx context.Context, repositoryID, folderID string) ([]*model.Document, error) {
	children, err := s.store.GetChildren(ctx, repositoryID, folderID)
	if err != nil {
		return nil, err
	}
	pwcs := make([]*model.Document, 0)
	for _, child := range children {
		if doc, isDoc := child.(*model.Document); isDoc && doc.PrivateWorkingCopy {
			pwcs = append(pwcs, doc)
		}
	}
	return pwcs, nil
}

func (s *Service) GetEffectiveACL(ctx context.Context, repositoryID, id string) (*model.ACL, error) {
	c, err := s.store.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return s.acl.CalculateEffective(ctx, repositoryID, c)
}

func (s *Service) GetChanges(ctx context.Context, repositoryID, fromToken string, max int) ([]*model.Change, error) {
	return s.journal.Since(ctx, repositoryID, fromToken, max)
}

// GetChange resolves a single journal entry by its token.
func (s *Service) GetChange(ctx context.Context, repositoryID, token string) (*model.Change, error) {
	return s.store.GetChangeByToken(ctx, repositoryID, token)
}

func (s *Service) GetLatestChange(ctx context.Context, repositoryID string) (*model.Change, error) {
	return s.journal.Latest(ctx, repositoryID)
}

func (s *Service) GetArchives(ctx context.Context, repositoryID string, skip, limit int) ([]*model.Archive, error) {
	return s.store.GetArchives(ctx, repositoryID, skip, limit, true)
}

func (s *Service) OpenAttachment(ctx context.Context, repositoryID, id string) (*model.AttachmentNode, io.ReadCloser, error) {
	an, err := s.store.GetAttachment(ctx, repositoryID, id)
	if err != nil {
		return nil, nil, err
	}
	if an == nil {
		return nil, nil, nil
	}
	rc, _, err := s.store.OpenAttachment(ctx, repositoryID, id)
	if err != nil {
		return nil, nil, err
	}
	return an, rc, nil
}

func (s *Service) OpenRendition(ctx context.Context, repositoryID, id string) (*model.Rendition, io.ReadCloser, error) {
	rd, err := s.store.GetRendition(ctx, repositoryID, id)
	if err != nil {
		return nil, nil, err
	}
	if rd == nil {
		return nil, nil, nil
	}
	rc, _, err := s.store.OpenRendition(ctx, repositoryID, id)
	if err != nil {
		return nil, nil, err
	}
	return rd, rc, nil
}

// EnsureRoot creates the repository root folder on first start. The root
// keeps its own ACL rather than inheriting one, and grants everything to
// the anyone principal until an administrator narrows it.
func (s *Service) EnsureRoot(ctx context.Context) error {
	existing, err := s.store.GetContent(ctx, s.cfg.RepositoryID, s.cfg.RootFolderID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	root := &model.Folder{}
	root.ID = s.cfg.RootFolderID
	root.Name = s.cfg.RootFolderID
	root.Type = model.TypeFolder
	root.ObjectType = types.TypeIDFolder
	root.ACLInherited = false
	root.ACL = model.ACL{LocalAces: []model.Ace{{
		PrincipalID: model.PrincipalAnyoneOnDisk,
		Permissions: []string{model.PermissionAll},
		Direct:      true,
	}}}
	root.SetSignature(model.PrincipalSystem, time.Now())
	if _, err := s.store.CreateContent(ctx, s.cfg.RepositoryID, root); err != nil {
		return err
	}
	log.Printf("content: created root folder %s in repository %s", root.ID, s.cfg.RepositoryID)
	return nil
}
