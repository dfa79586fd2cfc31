package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"coffer/internal/blob"
	"coffer/internal/model"
	"coffer/internal/util"
)

// PostgresStore keeps every record as a jsonb document in its own row, with
// the fields needed for lookups lifted into plain columns. Each write touches
// exactly one row; the rev column carries the optimistic check. There are no
// cross-row transactions on purpose.
type PostgresStore struct {
	db    *sql.DB
	blobs blob.Store
}

func NewPostgresStore(ctx context.Context, databaseURL string, blobs blob.Store) (*PostgresStore, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &PostgresStore{db: db, blobs: blobs}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			repository_id TEXT NOT NULL,
			id            TEXT NOT NULL,
			parent_id     TEXT NOT NULL DEFAULT '',
			name          TEXT NOT NULL DEFAULT '',
			series_id     TEXT NOT NULL DEFAULT '',
			source_id     TEXT NOT NULL DEFAULT '',
			target_id     TEXT NOT NULL DEFAULT '',
			rev           BIGINT NOT NULL DEFAULT 1,
			doc           JSONB NOT NULL,
			PRIMARY KEY (repository_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS nodes_parent_idx ON nodes (repository_id, parent_id)`,
		`CREATE INDEX IF NOT EXISTS nodes_series_idx ON nodes (repository_id, series_id)`,
		`CREATE INDEX IF NOT EXISTS nodes_source_idx ON nodes (repository_id, source_id)`,
		`CREATE INDEX IF NOT EXISTS nodes_target_idx ON nodes (repository_id, target_id)`,
		`CREATE TABLE IF NOT EXISTS version_series (
			repository_id TEXT NOT NULL,
			id            TEXT NOT NULL,
			rev           BIGINT NOT NULL DEFAULT 1,
			doc           JSONB NOT NULL,
			PRIMARY KEY (repository_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS changes (
			repository_id TEXT NOT NULL,
			id            TEXT NOT NULL,
			seq           BIGSERIAL,
			token         TEXT NOT NULL,
			doc           JSONB NOT NULL,
			PRIMARY KEY (repository_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS changes_token_idx ON changes (repository_id, token)`,
		`CREATE INDEX IF NOT EXISTS changes_seq_idx ON changes (repository_id, seq)`,
		`CREATE TABLE IF NOT EXISTS archives (
			repository_id TEXT NOT NULL,
			id            TEXT NOT NULL,
			seq           BIGSERIAL,
			original_id   TEXT NOT NULL,
			parent_id     TEXT NOT NULL DEFAULT '',
			series_id     TEXT NOT NULL DEFAULT '',
			is_attachment BOOLEAN NOT NULL DEFAULT FALSE,
			doc           JSONB NOT NULL,
			PRIMARY KEY (repository_id, id)
		)`,
		`CREATE INDEX IF NOT EXISTS archives_original_idx ON archives (repository_id, original_id)`,
		`CREATE INDEX IF NOT EXISTS archives_parent_idx ON archives (repository_id, parent_id)`,
		`CREATE TABLE IF NOT EXISTS attachments (
			repository_id TEXT NOT NULL,
			id            TEXT NOT NULL,
			rev           BIGINT NOT NULL DEFAULT 1,
			doc           JSONB NOT NULL,
			PRIMARY KEY (repository_id, id)
		)`,
		`CREATE TABLE IF NOT EXISTS renditions (
			repository_id TEXT NOT NULL,
			id            TEXT NOT NULL,
			doc           JSONB NOT NULL,
			PRIMARY KEY (repository_id, id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func relationshipEndpoints(c model.Content) (sourceID, targetID string) {
	if rel, isRel := c.(*model.Relationship); isRel {
		return rel.SourceID, rel.TargetID
	}
	return "", ""
}

func seriesID(c model.Content) string {
	if doc, isDoc := c.(*model.Document); isDoc {
		return doc.VersionSeriesID
	}
	return ""
}

// ---- content nodes ----

func (s *PostgresStore) GetContent(ctx context.Context, repositoryID, id string) (model.Content, error) {
	if id == "" {
		return nil, nil
	}
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND id=$2`, repositoryID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	return model.DecodeContent(doc)
}

func (s *PostgresStore) CreateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error) {
	base := c.Base()
	if base.ID == "" {
		base.ID = util.NewID()
	}
	base.Rev = 1

	data, err := model.EncodeContent(c)
	if err != nil {
		return nil, err
	}
	sourceID, targetID := relationshipEndpoints(c)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO nodes (repository_id, id, parent_id, name, series_id, source_id, target_id, rev, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8)
	`, repositoryID, base.ID, base.ParentID, base.Name, seriesID(c), sourceID, targetID, data)
	if err != nil {
		return nil, fmt.Errorf("insert node %s: %w", base.ID, err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateContent(ctx context.Context, repositoryID string, c model.Content) (model.Content, error) {
	base := c.Base()
	previousRev := base.Rev
	base.Rev++

	data, err := model.EncodeContent(c)
	if err != nil {
		base.Rev = previousRev
		return nil, err
	}
	sourceID, targetID := relationshipEndpoints(c)
	res, err := s.db.ExecContext(ctx, `
		UPDATE nodes
		SET parent_id=$4, name=$5, series_id=$6, source_id=$7, target_id=$8, rev=$9, doc=$10
		WHERE repository_id=$1 AND id=$2 AND rev=$3
	`, repositoryID, base.ID, previousRev, base.ParentID, base.Name, seriesID(c), sourceID, targetID, base.Rev, data)
	if err != nil {
		base.Rev = previousRev
		return nil, fmt.Errorf("update node %s: %w", base.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update node %s: %w", base.ID, err)
	}
	if affected == 0 {
		base.Rev = previousRev
		return nil, fmt.Errorf("node %s: %w", base.ID, ErrConflict)
	}
	return c, nil
}

func (s *PostgresStore) DeleteContent(ctx context.Context, repositoryID, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM nodes WHERE repository_id=$1 AND id=$2`, repositoryID, id); err != nil {
		return fmt.Errorf("delete node %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) queryContents(ctx context.Context, query string, args ...any) ([]model.Content, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	var contents []model.Content
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		c, err := model.DecodeContent(doc)
		if err != nil {
			return nil, err
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

func (s *PostgresStore) GetChildren(ctx context.Context, repositoryID, folderID string) ([]model.Content, error) {
	return s.queryContents(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND parent_id=$2 ORDER BY name`,
		repositoryID, folderID)
}

func (s *PostgresStore) GetChildByName(ctx context.Context, repositoryID, folderID, name string) (model.Content, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND parent_id=$2 AND name=$3`,
		repositoryID, folderID, name).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("child %q of %s: %w", name, folderID, err)
	}
	return model.DecodeContent(doc)
}

func (s *PostgresStore) GetChildrenNames(ctx context.Context, repositoryID, folderID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM nodes WHERE repository_id=$1 AND parent_id=$2`,
		repositoryID, folderID)
	if err != nil {
		return nil, fmt.Errorf("children names of %s: %w", folderID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ---- version series ----

func (s *PostgresStore) CreateVersionSeries(ctx context.Context, repositoryID string, vs *model.VersionSeries) (*model.VersionSeries, error) {
	if vs.ID == "" {
		vs.ID = util.NewID()
	}
	vs.Rev = 1
	data, err := json.Marshal(vs)
	if err != nil {
		return nil, fmt.Errorf("marshal series: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO version_series (repository_id, id, rev, doc) VALUES ($1, $2, 1, $3)
	`, repositoryID, vs.ID, data); err != nil {
		return nil, fmt.Errorf("insert series %s: %w", vs.ID, err)
	}
	return vs, nil
}

func (s *PostgresStore) GetVersionSeries(ctx context.Context, repositoryID, id string) (*model.VersionSeries, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM version_series WHERE repository_id=$1 AND id=$2`, repositoryID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series %s: %w", id, err)
	}
	var vs model.VersionSeries
	if err := json.Unmarshal(doc, &vs); err != nil {
		return nil, fmt.Errorf("unmarshal series %s: %w", id, err)
	}
	return &vs, nil
}

func (s *PostgresStore) UpdateVersionSeries(ctx context.Context, repositoryID string, vs *model.VersionSeries) (*model.VersionSeries, error) {
	previousRev := vs.Rev
	vs.Rev++
	data, err := json.Marshal(vs)
	if err != nil {
		vs.Rev = previousRev
		return nil, fmt.Errorf("marshal series: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE version_series SET rev=$4, doc=$5
		WHERE repository_id=$1 AND id=$2 AND rev=$3
	`, repositoryID, vs.ID, previousRev, vs.Rev, data)
	if err != nil {
		vs.Rev = previousRev
		return nil, fmt.Errorf("update series %s: %w", vs.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update series %s: %w", vs.ID, err)
	}
	if affected == 0 {
		vs.Rev = previousRev
		return nil, fmt.Errorf("series %s: %w", vs.ID, ErrConflict)
	}
	return vs, nil
}

func (s *PostgresStore) DeleteVersionSeries(ctx context.Context, repositoryID, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM version_series WHERE repository_id=$1 AND id=$2`, repositoryID, id); err != nil {
		return fmt.Errorf("delete series %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) GetAllVersions(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Document, error) {
	contents, err := s.queryContents(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND series_id=$2`,
		repositoryID, versionSeriesID)
	if err != nil {
		return nil, err
	}
	versions := make([]*model.Document, 0, len(contents))
	for _, c := range contents {
		if doc, isDoc := c.(*model.Document); isDoc {
			versions = append(versions, doc)
		}
	}
	return versions, nil
}

// ---- relationships ----

func (s *PostgresStore) GetRelationshipsBySource(ctx context.Context, repositoryID, sourceID string) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND source_id=$2`, repositoryID, sourceID)
}

func (s *PostgresStore) GetRelationshipsByTarget(ctx context.Context, repositoryID, targetID string) ([]*model.Relationship, error) {
	return s.queryRelationships(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND target_id=$2`, repositoryID, targetID)
}

func (s *PostgresStore) queryRelationships(ctx context.Context, query string, args ...any) ([]*model.Relationship, error) {
	contents, err := s.queryContents(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	rels := make([]*model.Relationship, 0, len(contents))
	for _, c := range contents {
		if rel, isRel := c.(*model.Relationship); isRel {
			rels = append(rels, rel)
		}
	}
	return rels, nil
}

// ---- principals ----

func (s *PostgresStore) GetUserItemByUserID(ctx context.Context, repositoryID, userID string) (*model.UserItem, error) {
	contents, err := s.queryContents(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND doc->>'kind'='user' AND doc->'node'->>'userId'=$2 LIMIT 1`,
		repositoryID, userID)
	if err != nil {
		return nil, err
	}
	for _, c := range contents {
		if user, isUser := c.(*model.UserItem); isUser {
			return user, nil
		}
	}
	return nil, nil
}

func (s *PostgresStore) GetGroupItemByGroupID(ctx context.Context, repositoryID, groupID string) (*model.GroupItem, error) {
	contents, err := s.queryContents(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND doc->>'kind'='group' AND doc->'node'->>'groupId'=$2 LIMIT 1`,
		repositoryID, groupID)
	if err != nil {
		return nil, err
	}
	for _, c := range contents {
		if group, isGroup := c.(*model.GroupItem); isGroup {
			return group, nil
		}
	}
	return nil, nil
}

func (s *PostgresStore) GetGroupItems(ctx context.Context, repositoryID string) ([]*model.GroupItem, error) {
	contents, err := s.queryContents(ctx,
		`SELECT doc FROM nodes WHERE repository_id=$1 AND doc->>'kind'='group'`, repositoryID)
	if err != nil {
		return nil, err
	}
	groups := make([]*model.GroupItem, 0, len(contents))
	for _, c := range contents {
		if group, isGroup := c.(*model.GroupItem); isGroup {
			groups = append(groups, group)
		}
	}
	return groups, nil
}

// ---- change journal ----

func (s *PostgresStore) CreateChange(ctx context.Context, repositoryID string, change *model.Change) (*model.Change, error) {
	if change.ID == "" {
		change.ID = util.NewID()
	}
	change.Rev = 1
	data, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("marshal change: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO changes (repository_id, id, token, doc) VALUES ($1, $2, $3, $4)
	`, repositoryID, change.ID, change.Token, data); err != nil {
		return nil, fmt.Errorf("insert change %s: %w", change.ID, err)
	}
	return change, nil
}

func (s *PostgresStore) scanChange(row interface{ Scan(...any) error }) (*model.Change, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan change: %w", err)
	}
	var change model.Change
	if err := json.Unmarshal(doc, &change); err != nil {
		return nil, fmt.Errorf("unmarshal change: %w", err)
	}
	return &change, nil
}

func (s *PostgresStore) GetChangeByToken(ctx context.Context, repositoryID, token string) (*model.Change, error) {
	return s.scanChange(s.db.QueryRowContext(ctx,
		`SELECT doc FROM changes WHERE repository_id=$1 AND token=$2 ORDER BY seq LIMIT 1`,
		repositoryID, token))
}

func (s *PostgresStore) GetLatestChange(ctx context.Context, repositoryID string) (*model.Change, error) {
	return s.scanChange(s.db.QueryRowContext(ctx,
		`SELECT doc FROM changes WHERE repository_id=$1 ORDER BY seq DESC LIMIT 1`, repositoryID))
}

func (s *PostgresStore) GetLatestChanges(ctx context.Context, repositoryID, fromToken string, max int) ([]*model.Change, error) {
	query := `SELECT doc FROM changes WHERE repository_id=$1`
	args := []any{repositoryID}
	if fromToken != "" {
		query += ` AND seq >= COALESCE((SELECT MIN(seq) FROM changes WHERE repository_id=$1 AND token=$2), 0)`
		args = append(args, fromToken)
	}
	query += ` ORDER BY seq`
	if max > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, max)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := make([]*model.Change, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		var change model.Change
		if err := json.Unmarshal(doc, &change); err != nil {
			return nil, fmt.Errorf("unmarshal change: %w", err)
		}
		changes = append(changes, &change)
	}
	return changes, rows.Err()
}

// ---- archives ----

func (s *PostgresStore) CreateArchive(ctx context.Context, repositoryID string, a *model.Archive) (*model.Archive, error) {
	if a.ID == "" {
		a.ID = util.NewID()
	}
	a.Rev = 1
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal archive: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO archives (repository_id, id, original_id, parent_id, series_id, is_attachment, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, repositoryID, a.ID, a.OriginalID, a.ParentID, a.VersionSeriesID, a.IsAttachment(), data); err != nil {
		return nil, fmt.Errorf("insert archive %s: %w", a.ID, err)
	}
	return a, nil
}

func (s *PostgresStore) scanArchive(row interface{ Scan(...any) error }) (*model.Archive, error) {
	var doc []byte
	err := row.Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}
	var a model.Archive
	if err := json.Unmarshal(doc, &a); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) GetArchive(ctx context.Context, repositoryID, id string) (*model.Archive, error) {
	return s.scanArchive(s.db.QueryRowContext(ctx,
		`SELECT doc FROM archives WHERE repository_id=$1 AND id=$2`, repositoryID, id))
}

func (s *PostgresStore) GetArchiveByOriginalID(ctx context.Context, repositoryID, originalID string) (*model.Archive, error) {
	return s.scanArchive(s.db.QueryRowContext(ctx,
		`SELECT doc FROM archives WHERE repository_id=$1 AND original_id=$2 ORDER BY seq DESC LIMIT 1`,
		repositoryID, originalID))
}

func (s *PostgresStore) queryArchives(ctx context.Context, query string, args ...any) ([]*model.Archive, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archives: %w", err)
	}
	defer rows.Close()

	archives := make([]*model.Archive, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan archive: %w", err)
		}
		var a model.Archive
		if err := json.Unmarshal(doc, &a); err != nil {
			return nil, fmt.Errorf("unmarshal archive: %w", err)
		}
		archives = append(archives, &a)
	}
	return archives, rows.Err()
}

func (s *PostgresStore) GetArchives(ctx context.Context, repositoryID string, skip, limit int, desc bool) ([]*model.Archive, error) {
	order := "ASC"
	if desc {
		order = "DESC"
	}
	query := fmt.Sprintf(`SELECT doc FROM archives WHERE repository_id=$1 AND NOT is_attachment ORDER BY seq %s OFFSET $2`, order)
	args := []any{repositoryID, skip}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	return s.queryArchives(ctx, query, args...)
}

func (s *PostgresStore) GetChildArchives(ctx context.Context, repositoryID, parentOriginalID string) ([]*model.Archive, error) {
	return s.queryArchives(ctx,
		`SELECT doc FROM archives WHERE repository_id=$1 AND parent_id=$2`, repositoryID, parentOriginalID)
}

func (s *PostgresStore) GetArchivesOfVersionSeries(ctx context.Context, repositoryID, versionSeriesID string) ([]*model.Archive, error) {
	return s.queryArchives(ctx,
		`SELECT doc FROM archives WHERE repository_id=$1 AND series_id=$2`, repositoryID, versionSeriesID)
}

func (s *PostgresStore) GetAttachmentArchive(ctx context.Context, repositoryID, attachmentNodeID string) (*model.Archive, error) {
	return s.scanArchive(s.db.QueryRowContext(ctx,
		`SELECT doc FROM archives WHERE repository_id=$1 AND original_id=$2 AND is_attachment ORDER BY seq DESC LIMIT 1`,
		repositoryID, attachmentNodeID))
}

func (s *PostgresStore) DeleteArchive(ctx context.Context, repositoryID, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM archives WHERE repository_id=$1 AND id=$2`, repositoryID, id); err != nil {
		return fmt.Errorf("delete archive %s: %w", id, err)
	}
	return nil
}

// ---- attachments ----

func (s *PostgresStore) CreateAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, r io.Reader) (string, error) {
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
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (repository_id, id, rev, doc) VALUES ($1, $2, 1, $3)
	`, repositoryID, an.ID, data); err != nil {
		return "", fmt.Errorf("insert attachment %s: %w", an.ID, err)
	}
	return an.ID, nil
}

func (s *PostgresStore) UpdateAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode, r io.Reader) error {
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
	if _, err := s.db.ExecContext(ctx, `
		UPDATE attachments SET rev=$3, doc=$4 WHERE repository_id=$1 AND id=$2
	`, repositoryID, an.ID, an.Rev, data); err != nil {
		return fmt.Errorf("update attachment %s: %w", an.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, repositoryID, id string) (*model.AttachmentNode, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM attachments WHERE repository_id=$1 AND id=$2`, repositoryID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment %s: %w", id, err)
	}
	var an model.AttachmentNode
	if err := json.Unmarshal(doc, &an); err != nil {
		return nil, fmt.Errorf("unmarshal attachment %s: %w", id, err)
	}
	return &an, nil
}

func (s *PostgresStore) OpenAttachment(ctx context.Context, repositoryID, id string) (io.ReadCloser, int64, error) {
	return s.blobs.Get(ctx, id)
}

func (s *PostgresStore) RestoreAttachment(ctx context.Context, repositoryID string, an *model.AttachmentNode) error {
	data, err := json.Marshal(an)
	if err != nil {
		return fmt.Errorf("marshal attachment: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (repository_id, id, rev, doc) VALUES ($1, $2, $3, $4)
	`, repositoryID, an.ID, an.Rev, data); err != nil {
		return fmt.Errorf("restore attachment %s: %w", an.ID, err)
	}
	return nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, repositoryID, id string, purgePayload bool) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM attachments WHERE repository_id=$1 AND id=$2`, repositoryID, id); err != nil {
		return fmt.Errorf("delete attachment %s: %w", id, err)
	}
	if purgePayload {
		return s.blobs.Delete(ctx, id)
	}
	return nil
}

// ---- renditions ----

func (s *PostgresStore) CreateRendition(ctx context.Context, repositoryID string, rd *model.Rendition, r io.Reader) (string, error) {
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
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO renditions (repository_id, id, doc) VALUES ($1, $2, $3)
	`, repositoryID, rd.ID, data); err != nil {
		return "", fmt.Errorf("insert rendition %s: %w", rd.ID, err)
	}
	return rd.ID, nil
}

func (s *PostgresStore) GetRendition(ctx context.Context, repositoryID, id string) (*model.Rendition, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM renditions WHERE repository_id=$1 AND id=$2`, repositoryID, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rendition %s: %w", id, err)
	}
	var rd model.Rendition
	if err := json.Unmarshal(doc, &rd); err != nil {
		return nil, fmt.Errorf("unmarshal rendition %s: %w", id, err)
	}
	return &rd, nil
}

func (s *PostgresStore) OpenRendition(ctx context.Context, repositoryID, id string) (io.ReadCloser, int64, error) {
	return s.blobs.Get(ctx, id)
}

func (s *PostgresStore) DeleteRendition(ctx context.Context, repositoryID, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM renditions WHERE repository_id=$1 AND id=$2`, repositoryID, id); err != nil {
		return fmt.Errorf("delete rendition %s: %w", id, err)
	}
	return s.blobs.Delete(ctx, id)
}
