package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"

	"coffer/internal/blob"
	"coffer/internal/model"
	"coffer/internal/util"
)

// RedisStore keeps every record as a JSON value under its own key, with
// secondary index sets/hashes maintained alongside. Writes to a single
// record are optimistic: the revision inside the JSON is checked under
// WATCH before the replacing MULTI/EXEC. Nothing ties several records into
// one transaction.
type RedisStore struct {
	client *redis.Client
	blobs  blob.Store
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, blobs blob.Store) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, blobs), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, blobs blob.Store) *RedisStore {
	return &RedisStore{client: client, blobs: blobs, prefix: "coffer:"}
}

func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Ping(ctx context.Context) error { return s.client.Ping(ctx).Err() }

func (s *RedisStore) key(repositoryID string, parts ...string) string {
	k := s.prefix + repositoryID
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisStore) nodeKey(repo, id string) string      { return s.key(repo, "node", id) }
func (s *RedisStore) childrenKey(repo, id string) string  { return s.key(repo, "children", id) }
func (s *RedisStore) childNameKey(repo, id string) string { return s.key(repo, "childnames", id) }
func (s *RedisStore) seriesKey(repo, id string) string    { return s.key(repo, "series", id) }
func (s *RedisStore) seriesSetKey(repo, id string) string { return s.key(repo, "seriesversions", id) }
func (s *RedisStore) relSourceKey(repo, id string) string { return s.key(repo, "relsource", id) }
func (s *RedisStore) relTargetKey(repo, id string) string { return s.key(repo, "reltarget", id) }
func (s *RedisStore) changeKey(repo, id string) string    { return s.key(repo, "change", id) }
func (s *RedisStore) changeFeedKey(repo string) string    { return s.key(repo, "changes") }
func (s *RedisStore) changeTokenKey(repo string) string   { return s.key(repo, "changetokens") }
func (s *RedisStore) archiveKey(repo, id string) string   { return s.key(repo, "archive", id) }
func (s *RedisStore) archiveListKey(repo string) string   { return s.key(repo, "archives") }
func (s *RedisStore) archiveOriginalKey(repo string) string {
	return s.key(repo, "archivebyoriginal")
}
func (s *RedisStore) archiveChildrenKey(repo, parentID string) string {
	return s.key(repo, "archivechildren", parentID)
}
func (s *RedisStore) archiveSeriesKey(repo, seriesID string) string {
	return s.key(repo, "archiveseries", seriesID)
}
func (s *RedisStore) archiveAttachmentKey(repo string) string {
	return s.key(repo, "archivebyattachment")
}
func (s *RedisStore) userIndexKey(repo string) string      { return s.key(repo, "users") }
func (s *RedisStore) groupIndexKey(repo string) string     { return s.key(repo, "groups") }
func (s *RedisStore) attachmentKey(repo, id string) string { return s.key(repo, "attachment", id) }
func (s *RedisStore) renditionKey(repo, id string) string  { return s.key(repo, "rendition", id) }

// ---- content nodes ----

func (s *RedisStore) GetContent(ctx context.Context, repositoryID, id string) (model.Content, error) {
	if id == "" {
		return nil, nil
	}
	raw, err := s.client.Get(ctx, s.nodeKey(repositoryID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return model.DecodeContent([]byte(raw))
}

func (s *RedisStore) CreateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error) {
	base := c.Base()
	if base.ID == "" {
		base.ID = util.NewID()
	}
	base.Rev = 1

	data, err := model.EncodeContent(c)
	if err != nil {
		return nil, err
	}

	ok, err := s.client.SetNX(ctx, s.nodeKey(repositoryID, base.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create node %s: %w", base.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("create node %s: %w", base.ID, ErrConflict)
	}

	if err := s.indexContent(ctx, repositoryID, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *RedisStore) indexContent(ctx context.Context, repositoryID string, c model.Content) error {
	base := c.Base()
	pipe := s.client.Pipeline()
	if base.ParentID != "" {
		pipe.SAdd(ctx, s.childrenKey(repositoryID, base.ParentID), base.ID)
		pipe.HSet(ctx, s.childNameKey(repositoryID, base.ParentID), base.Name, base.ID)
	}
	if doc, isDoc := c.(*model.Document); isDoc && doc.VersionSeriesID != "" {
		pipe.SAdd(ctx, s.seriesSetKey(repositoryID, doc.VersionSeriesID), base.ID)
	}
	if rel, isRel := c.(*model.Relationship); isRel {
		pipe.SAdd(ctx, s.relSourceKey(repositoryID, rel.SourceID), base.ID)
		pipe.SAdd(ctx, s.relTargetKey(repositoryID, rel.TargetID), base.ID)
	}
	if user, isUser := c.(*model.UserItem); isUser {
		pipe.HSet(ctx, s.userIndexKey(repositoryID), user.UserID, base.ID)
	}
	if group, isGroup := c.(*model.GroupItem); isGroup {
		pipe.HSet(ctx, s.groupIndexKey(repositoryID), group.GroupID, base.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index node %s: %w", base.ID, err)
	}
	return nil
}

func (s *RedisStore) unindexContent(ctx context.Context, repositoryID string, c model.Content) error {
	base := c.Base()
	pipe := s.client.Pipeline()
	if base.ParentID != "" {
		pipe.SRem(ctx, s.childrenKey(repositoryID, base.ParentID), base.ID)
		pipe.HDel(ctx, s.childNameKey(repositoryID, base.ParentID), base.Name)
	}
	if doc, isDoc := c.(*model.Document); isDoc && doc.VersionSeriesID != "" {
		pipe.SRem(ctx, s.seriesSetKey(repositoryID, doc.VersionSeriesID), base.ID)
	}
	if rel, isRel := c.(*model.Relationship); isRel {
		pipe.SRem(ctx, s.relSourceKey(repositoryID, rel.SourceID), base.ID)
		pipe.SRem(ctx, s.relTargetKey(repositoryID, rel.TargetID), base.ID)
	}
	if user, isUser := c.(*model.UserItem); isUser {
		pipe.HDel(ctx, s.userIndexKey(repositoryID), user.UserID)
	}
	if group, isGroup := c.(*model.GroupItem); isGroup {
		pipe.HDel(ctx, s.groupIndexKey(repositoryID), group.GroupID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unindex node %s: %w", base.ID, err)
	}
	return nil
}

func (s *RedisStore) UpdateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error) {
	base := c.Base()
	key := s.nodeKey(repositoryID, base.ID)

	var previous model.Content
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("node %s vanished: %w", base.ID, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("read node %s: %w", base.ID, err)
		}
		previous, err = model.DecodeContent([]byte(raw))
		if err != nil {
			return err
		}
		if previous.Base().Rev != base.Rev {
			return fmt.Errorf("node %s: %w", base.ID, ErrConflict)
		}

		base.Rev++
		data, err := model.EncodeContent(c)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("node %s: %w", base.ID, ErrConflict)
		}
		return nil, err
	}

	// Re-home the secondary indexes when name or parent changed. Index
	// maintenance is best-effort and outside the node's own transaction.
	prevBase := previous.Base()
	if prevBase.ParentID != base.ParentID || prevBase.Name != base.Name {
		if err := s.unindexContent(ctx, repositoryID, previous); err != nil {
			return nil, err
		}
		if err := s.indexContent(ctx, repositoryID, c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *RedisStore) DeleteContent(ctx context.Context, repositoryID, id string) error {
	c, err := s.GetContent(ctx, repositoryID, id)
	if err != nil {
		return err
	}
	if c == nil {
		return nil
	}
	if err := s.client.Del(ctx, s.nodeKey(repositoryID, id)).Err(); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return s.unindexContent(ctx, repositoryID, c)
}

func (s *RedisStore) GetChildren(ctx context.Context, repositoryID, folderID string) ([]model.Content, error) {
	ids, err := s.client.SMembers(ctx, s.childrenKey(repositoryID, folderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("children of %s: %w", folderID, err)
	}
	children := make([]model.Content, 0, len(ids))
	for _, id := range ids {
		child, err := s.GetContent(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children, nil
}

func (s *RedisStore) GetChildByName(ctx context.Context, repositoryID, folderID, name string) (model.Content, error) {
	id, err := s.client.HGet(ctx, s.childNameKey(repositoryID, folderID), name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("child %q of %s: %w", name, folderID, err)
	}
	return s.GetContent(ctx, repositoryID, id)
}

func (s *RedisStore) GetChildrenNames(ctx context.Context, repositoryID, folderID string) ([]string, error) {
	names, err := s.client.HKeys(ctx, s.childNameKey(repositoryID, folderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("children names of %s: %w", folderID, err)
	}
	return names, nil
}

// ---- version series ----

func (s *RedisStore) CreateVersionSeries(ctx context.Context, repositoryID string, vs *model.VersionSeries) (*model.VersionSeries, error) {
	if vs.ID == "" {
		vs.ID = util.NewID()
	}
	vs.Rev = 1
	data, err := json.Marshal(vs)
	if err != nil {
		return nil, fmt.Errorf("marshal series: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.seriesKey(repositoryID, vs.ID), data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("create series %s: %w", vs.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("create series %s: %w", vs.ID, ErrConflict)
	}
	return vs, nil
}

func (s *RedisStore) GetVersionSeries(ctx context.Context, repositoryID, id string) (*model.VersionSeries, error) {
	raw, err := s.client.Get(ctx, s.seriesKey(repositoryID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series %s: %w", id, err)
	}
	var vs model.VersionSeries
	if err := json.Unmarshal([]byte(raw), &vs); err != nil {
		return nil, fmt.Errorf("unmarshal series %s: %w", id, err)
	}
	return &vs, nil
}

func (s *RedisStore) UpdateVersionSeries(ctx context.Context, repositoryID string, vs *model.VersionSeries) (*model.VersionSeries, error) {
	key := s.seriesKey(repositoryID, vs.ID)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("series %s vanished: %w", vs.ID, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("read series %s: %w", vs.ID, err)
		}
		var current model.VersionSeries
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("unmarshal series %s: %w", vs.ID, err)
		}
		if current.Rev != vs.Rev {
			return fmt.Errorf("series %s: %w", vs.ID, ErrConflict)
		}
		vs.Rev++
		data, err := json.Marshal(vs)
		if err != nil {
			return fmt.Errorf("marshal series: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			return nil, fmt.Errorf("series %s: %w", vs.ID, ErrConflict)
		}
		return nil, err
	}
	return vs, nil
}

func (s *RedisStore) DeleteVersionSeries(ctx context.Context, repositoryID, id string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.seriesKey(repositoryID, id))
	pipe.Del(ctx, s.seriesSetKey(repositoryID, id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete series %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) GetAllVersions(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Document, error) {
	ids, err := s.client.SMembers(ctx, s.seriesSetKey(repositoryID, versionSeriesID)).Result()
	if err != nil {
		return nil, fmt.Errorf("versions of %s: %w", versionSeriesID, err)
	}
	versions := make([]*model.Document, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetContent(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if doc, isDoc := c.(*model.Document); isDoc {
			versions = append(versions, doc)
		}
	}
	return versions, nil
}

// ---- relationships ----

func (s *RedisStore) GetRelationshipsBySource(ctx context.Context, repositoryID, sourceID string) ([]*model.Relationship, error) {
	return s.relationshipsByIndex(ctx, repositoryID, s.relSourceKey(repositoryID, sourceID))
}

func (s *RedisStore) GetRelationshipsByTarget(ctx context.Context, repositoryID, targetID string) ([]*model.Relationship, error) {
	return s.relationshipsByIndex(ctx, repositoryID, s.relTargetKey(repositoryID, targetID))
}

func (s *RedisStore) relationshipsByIndex(ctx context.Context, repositoryID, indexKey string) ([]*model.Relationship, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("relationship index %s: %w", indexKey, err)
	}
	rels := make([]*model.Relationship, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetContent(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if rel, isRel := c.(*model.Relationship); isRel {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

// ---- principals ----

func (s *RedisStore) GetUserItemByUserID(ctx context.Context, repositoryID, userID string) (*model.UserItem, error) {
	id, err := s.client.HGet(ctx, s.userIndexKey(repositoryID), userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user %s: %w", userID, err)
	}
	c, err := s.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if user, isUser := c.(*model.UserItem); isUser {
		return user, nil
	}
	return nil, nil
}

func (s *RedisStore) GetGroupItemByGroupID(ctx context.Context, repositoryID, groupID string) (*model.GroupItem, error) {
	id, err := s.client.HGet(ctx, s.groupIndexKey(repositoryID), groupID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("group %s: %w", groupID, err)
	}
	c, err := s.GetContent(ctx, repositoryID, id)
	if err != nil {
		return nil, err
	}
	if group, isGroup := c.(*model.GroupItem); isGroup {
		return group, nil
	}
	return nil, nil
}

func (s *RedisStore) GetGroupItems(ctx context.Context, repositoryID string) ([]*model.GroupItem, error) {
	ids, err := s.client.HVals(ctx, s.groupIndexKey(repositoryID)).Result()
	if err != nil {
		return nil, fmt.Errorf("group index: %w", err)
	}
	groups := make([]*model.GroupItem, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetContent(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if group, isGroup := c.(*model.GroupItem); isGroup {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// ---- change journal ----

func (s *RedisStore) CreateChange(ctx context.Context, repositoryID string, change *model.Change) (*model.Change, error) {
	if change.ID == "" {
		change.ID = util.NewID()
	}
	change.Rev = 1
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("marshal change: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.changeKey(repositoryID, change.ID), data, 0)
	pipe.RPush(ctx, s.changeFeedKey(repositoryID), change.ID)
	pipe.HSet(ctx, s.changeTokenKey(repositoryID), change.Token, change.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create change %s: %w", change.ID, err)
	}
	return change, nil
}

func (s *RedisStore) getChange(ctx context.Context, repositoryID, id string) (*model.Change, error) {
	raw, err := s.client.Get(ctx, s.changeKey(repositoryID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change %s: %w", id, err)
	}
	var change model.Change
	if err := json.Unmarshal([]byte(raw), &change); err != nil {
		return nil, fmt.Errorf("unmarshal change %s: %w", id, err)
	}
	return &change, nil
}

func (s *RedisStore) GetChangeByToken(ctx context.Context, repositoryID, token string) (*model.Change, error) {
	id, err := s.client.HGet(ctx, s.changeTokenKey(repositoryID), token).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("change token %s: %w", token, err)
	}
	return s.getChange(ctx, repositoryID, id)
}

func (s *RedisStore) GetLatestChange(ctx context.Context, repositoryID string) (*model.Change, error) {
	id, err := s.client.LIndex(ctx, s.changeFeedKey(repositoryID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest change: %w", err)
	}
	return s.getChange(ctx, repositoryID, id)
}

func (s *RedisStore) GetLatestChanges(ctx context.Context, repositoryID, fromToken string, max int) ([]*model.Change, error) {
	ids, err := s.client.LRange(ctx, s.changeFeedKey(repositoryID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("change feed: %w", err)
	}

	start := 0
	if fromToken != "" {
		fromID, err := s.client.HGet(ctx, s.changeTokenKey(repositoryID), fromToken).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("change token %s: %w", fromToken, err)
		}
		for i, id := range ids {
			if id == fromID {
				start = i
				break
			}
		}
	}

	changes := make([]*model.Change, 0)
	for _, id := range ids[start:] {
		if max > 0 && len(changes) >= max {
			break
		}
		change, err := s.getChange(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if change != nil {
			changes = append(changes, change)
		}
	}
	return changes, nil
}

// ---- archives ----

func (s *RedisStore) CreateArchive(ctx context.Context, repositoryID string, a *model.Archive) (*model.Archive, error) {
	if a.ID == "" {
		a.ID = util.NewID()
	}
	a.Rev = 1
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal archive: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.archiveKey(repositoryID, a.ID), data, 0)
	pipe.RPush(ctx, s.archiveListKey(repositoryID), a.ID)
	pipe.HSet(ctx, s.archiveOriginalKey(repositoryID), a.OriginalID, a.ID)
	if a.ParentID != "" {
		pipe.SAdd(ctx, s.archiveChildrenKey(repositoryID, a.ParentID), a.ID)
	}
	if a.VersionSeriesID != "" {
		pipe.SAdd(ctx, s.archiveSeriesKey(repositoryID, a.VersionSeriesID), a.ID)
	}
	if a.IsAttachment() {
		pipe.HSet(ctx, s.archiveAttachmentKey(repositoryID), a.OriginalID, a.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("create archive %s: %w", a.ID, err)
	}
	return a, nil
}

func (s *RedisStore) GetArchive(ctx context.Context, repositoryID, id string) (*model.Archive, error) {
	raw, err := s.client.Get(ctx, s.archiveKey(repositoryID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get archive %s: %w", id, err)
	}
	var a model.Archive
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("unmarshal archive %s: %w", id, err)
	}
	return &a, nil
}

func (s *RedisStore) GetArchiveByOriginalID(ctx context.Context, repositoryID, originalID string) (*model.Archive, error) {
	id, err := s.client.HGet(ctx, s.archiveOriginalKey(repositoryID), originalID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("archive of %s: %w", originalID, err)
	}
	return s.GetArchive(ctx, repositoryID, id)
}

func (s *RedisStore) GetArchives(ctx context.Context, repositoryID string, skip, limit int, desc bool) ([]*model.Archive, error) {
	ids, err := s.client.LRange(ctx, s.archiveListKey(repositoryID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("archive list: %w", err)
	}

	// Attachment archives are internal to document restore and destroy
	// and never appear in listings.
	archives := make([]*model.Archive, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetArchive(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if a != nil && !a.IsAttachment() {
			archives = append(archives, a)
		}
	}
	if desc {
		for i, j := 0, len(archives)-1; i < j; i, j = i+1, j-1 {
			archives[i], archives[j] = archives[j], archives[i]
		}
	}
	if skip > len(archives) {
		skip = len(archives)
	}
	archives = archives[skip:]
	if limit > 0 && limit < len(archives) {
		archives = archives[:limit]
	}
	return archives, nil
}

func (s *RedisStore) GetChildArchives(ctx context.Context, repositoryID, parentOriginalID string) ([]*model.Archive, error) {
	ids, err := s.client.SMembers(ctx, s.archiveChildrenKey(repositoryID, parentOriginalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("child archives of %s: %w", parentOriginalID, err)
	}
	return s.archivesByIDs(ctx, repositoryID, ids)
}

func (s *RedisStore) GetArchivesOfVersionSeries(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Archive, error) {
	ids, err := s.client.SMembers(ctx, s.archiveSeriesKey(repositoryID, versionSeriesID)).Result()
	if err != nil {
		return nil, fmt.Errorf("series archives of %s: %w", versionSeriesID, err)
	}
	return s.archivesByIDs(ctx, repositoryID, ids)
}

func (s *RedisStore) archivesByIDs(ctx context.Context, repositoryID string, ids []string) ([]*model.Archive, error) {
	archives := make([]*model.Archive, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetArchive(ctx, repositoryID, id)
		if err != nil {
			return nil, err
		}
		if a != nil {
			archives = append(archives, a)
		}
	}
	return archives, nil
}

func (s *RedisStore) GetAttachmentArchive(ctx context.Context, repositoryID, attachmentNodeID string) (*model.Archive, error) {
	id, err := s.client.HGet(ctx, s.archiveAttachmentKey(repositoryID), attachmentNodeID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("attachment archive of %s: %w", attachmentNodeID, err)
	}
	return s.GetArchive(ctx, repositoryID, id)
}

func (s *RedisStore) DeleteArchive(ctx context.Context, repositoryID, id string) error {
	a, err := s.GetArchive(ctx, repositoryID, id)
	if err != nil {
		return err
	}
	if a == nil {
		return nil
	}
	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.archiveKey(repositoryID, id))
	pipe.LRem(ctx, s.archiveListKey(repositoryID), 0, id)
	pipe.HDel(ctx, s.archiveOriginalKey(repositoryID), a.OriginalID)
	if a.ParentID != "" {
		pipe.SRem(ctx, s.archiveChildrenKey(repositoryID, a.ParentID), id)
	}
	if a.VersionSeriesID != "" {
		pipe.SRem(ctx, s.archiveSeriesKey(repositoryID, a.VersionSeriesID), id)
	}
	if a.IsAttachment() {
		pipe.HDel(ctx, s.archiveAttachmentKey(repositoryID), a.OriginalID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete archive %s: %w", id, err)
	}
	return nil
}

// ---- attachments ----

func (s *RedisStore) CreateAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, r io.Reader) (string, error) {
	if an.ID == "" {
		an.ID = util.NewID()
	}
	an.Rev = 1

	written, err := s.blobs.Put(ctx, an.ID, r, an.Length, an.MimeType)
	if err != nil {
		return "", fmt.Errorf("store attachment payload %s: %w", an.ID, err)
	}
	if an.Length < 0 {
		an.Length = written
	}

	data, err := json.Marshal(an)
	if err != nil {
		return "", fmt.Errorf("marshal attachment: %w", err)
	}
	if err := s.client.Set(ctx, s.attachmentKey(repositoryID, an.ID), data, 0).Err(); err != nil {
		return "", fmt.Errorf("create attachment %s: %w", an.ID, err)
	}
	return an.ID, nil
}

func (s *RedisStore) UpdateAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, r io.Reader) error {
	written, err := s.blobs.Put(ctx, an.ID, r, an.Length, an.MimeType)
	if err != nil {
		return fmt.Errorf("store attachment payload %s: %w", an.ID, err)
	}
	if an.Length < 0 {
		an.Length = written
	}
	an.Rev++
	data, err := json.Marshal(an)
	if err != nil {
		return fmt.Errorf("marshal attachment: %w", err)
	}
	if err := s.client.Set(ctx, s.attachmentKey(repositoryID, an.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("update attachment %s: %w", an.ID, err)
	}
	return nil
}

func (s *RedisStore) GetAttachment(ctx context.Context, repositoryID, id string) (*model.AttachmentNode, error) {
	raw, err := s.client.Get(ctx, s.attachmentKey(repositoryID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	var an model.AttachmentNode
	if err := json.Unmarshal([]byte(raw), &an); err != nil {
		return nil, fmt.Errorf("unmarshal attachment %s: %w", id, err)
	}
	return &an, nil
}

func (s *RedisStore) OpenAttachment(ctx context.Context, repositoryID, id string) (io.ReadCloser, int64, error) {
	return s.blobs.Get(ctx, id)
}

func (s *RedisStore) RestoreAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode) error {
	data, err := json.Marshal(an)
	if err != nil {
		return fmt.Errorf("marshal attachment: %w", err)
	}
	if err := s.client.Set(ctx, s.attachmentKey(repositoryID, an.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("restore attachment %s: %w", an.ID, err)
	}
	return nil
}

func (s *RedisStore) DeleteAttachment(ctx context.Context, repositoryID, id string, purgePayload bool) error {
	if err := s.client.Del(ctx, s.attachmentKey(repositoryID, id)).Err(); err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	if purgePayload {
		return s.blobs.Delete(ctx, id)
	}
	return nil
}

// ---- renditions ----

func (s *RedisStore) CreateRendition(ctx context.Context, repositoryID string, rd *model.Rendition, r io.Reader) (string, error) {
	if rd.ID == "" {
		rd.ID = util.NewID()
	}
	rd.Rev = 1

	written, err := s.blobs.Put(ctx, rd.ID, r, rd.Length, rd.MimeType)
	if err != nil {
		return "", fmt.Errorf("store rendition payload %s: %w", rd.ID, err)
	}
	if rd.Length < 0 {
		rd.Length = written
	}

	data, err := json.Marshal(rd)
	if err != nil {
		return "", fmt.Errorf("marshal rendition: %w", err)
	}
	if err := s.client.Set(ctx, s.renditionKey(repositoryID, rd.ID), data, 0).Err(); err != nil {
		return "", fmt.Errorf("create rendition %s: %w", rd.ID, err)
	}
	return rd.ID, nil
}

func (s *RedisStore) GetRendition(ctx context.Context, repositoryID, id string) (*model.Rendition, error) {
	raw, err := s.client.Get(ctx, s.renditionKey(repositoryID, id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rendition %s: %w", id, err)
	}
	var rd model.Rendition
	if err := json.Unmarshal([]byte(raw), &rd); err != nil {
		return nil, fmt.Errorf("unmarshal rendition %s: %w", id, err)
	}
	return &rd, nil
}

func (s *RedisStore) OpenRendition(ctx context.Context, repositoryID, id string) (io.ReadCloser, int64, error) {
	return s.blobs.Get(ctx, id)
}

func (s *RedisStore) DeleteRendition(ctx context.Context, repositoryID, id string) error {
	if err := s.client.Del(ctx, s.renditionKey(repositoryID, id)).Err(); err != nil {
		return fmt.Errorf("delete rendition %s: %w", id, err)
	}
	return s.blobs.Delete(ctx, id)
}
