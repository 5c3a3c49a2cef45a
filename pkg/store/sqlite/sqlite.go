// Package sqlite provides a SQLite-backed skill store using raw SQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
)

// Store implements store.Store using SQLite as the storage backend.
type Store struct {
	db *sql.DB
}

// New creates a new SQLite-backed skill store.
// The dbPath can be a file path or ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the necessary tables if they don't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS skill_groups (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		scope TEXT NOT NULL,
		owner_agent_name TEXT NOT NULL DEFAULT '',
		owner_user_id TEXT NOT NULL DEFAULT '',
		production_version_id TEXT,
		is_archived INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		correction_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(owner_agent_name, owner_user_id, name)
	);

	CREATE TABLE IF NOT EXISTS skill_versions (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES skill_groups(id) ON DELETE CASCADE,
		version INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		markdown_content TEXT NOT NULL DEFAULT '',
		tool_steps TEXT,
		agent_chain TEXT,
		summary TEXT NOT NULL DEFAULT '',
		source_task_id TEXT NOT NULL DEFAULT '',
		related_task_ids TEXT,
		involved_agents TEXT,
		embedding BLOB,
		complexity_score INTEGER NOT NULL DEFAULT 0,
		created_by TEXT NOT NULL DEFAULT '',
		creation_reason TEXT NOT NULL DEFAULT '',
		resource_uri TEXT NOT NULL DEFAULT '',
		resource_manifest TEXT,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(group_id, version)
	);

	CREATE INDEX IF NOT EXISTS idx_skill_versions_group ON skill_versions(group_id);

	CREATE TABLE IF NOT EXISTS skill_group_users (
		group_id TEXT NOT NULL REFERENCES skill_groups(id) ON DELETE CASCADE,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE(group_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS learning_queue (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		agent_name TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		queued_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		error_message TEXT NOT NULL DEFAULT '',
		retry_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_learning_queue_status ON learning_queue(status, queued_at);

	CREATE TABLE IF NOT EXISTS skill_feedback (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES skill_groups(id) ON DELETE CASCADE,
		task_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		feedback_type TEXT NOT NULL,
		correction_text TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS skill_usages (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL REFERENCES skill_groups(id) ON DELETE CASCADE,
		version_id TEXT NOT NULL DEFAULT '',
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_skill_usages_task ON skill_usages(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

const groupColumns = `id, name, description, category, type, scope,
	owner_agent_name, owner_user_id, production_version_id, is_archived,
	success_count, failure_count, correction_count, created_at, updated_at`

const versionColumns = `id, group_id, version, description, markdown_content,
	tool_steps, agent_chain, summary, source_task_id, related_task_ids,
	involved_agents, embedding, complexity_score, created_by, creation_reason,
	resource_uri, resource_manifest, created_at`

// CreateGroup atomically persists the group, its first version, and the
// production pointer in one transaction.
func (s *Store) CreateGroup(ctx context.Context, group *skill.Group, first *skill.Version) error {
	if err := group.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	group.CreatedAt = now
	group.UpdatedAt = now

	if first.ID == "" {
		first.ID = uuid.NewString()
	}
	first.GroupID = group.ID
	first.Version = 1
	first.CreatedAt = now
	group.ProductionVersionID = first.ID
	group.VersionCount = 1

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skill_groups (`+groupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.Description, group.Category,
		string(group.Type), string(group.Scope), group.OwnerAgentName,
		group.OwnerUserID, group.ProductionVersionID, group.IsArchived,
		group.SuccessCount, group.FailureCount, group.CorrectionCount,
		group.CreatedAt, group.UpdatedAt,
	)
	if err != nil {
		return mapConstraint(err, "insert group")
	}

	if err := insertVersion(ctx, tx, first); err != nil {
		return err
	}

	return tx.Commit()
}

func insertVersion(ctx context.Context, tx *sql.Tx, v *skill.Version) error {
	toolSteps, err := marshalJSON(v.ToolSteps)
	if err != nil {
		return fmt.Errorf("marshal tool steps: %w", err)
	}
	agentChain, err := marshalJSON(v.AgentChain)
	if err != nil {
		return fmt.Errorf("marshal agent chain: %w", err)
	}
	relatedTasks, err := marshalJSON(v.RelatedTaskIDs)
	if err != nil {
		return fmt.Errorf("marshal related tasks: %w", err)
	}
	involvedAgents, err := marshalJSON(v.InvolvedAgents)
	if err != nil {
		return fmt.Errorf("marshal involved agents: %w", err)
	}
	manifest, err := marshalJSON(v.ResourceManifest)
	if err != nil {
		return fmt.Errorf("marshal resource manifest: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skill_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.GroupID, v.Version, v.Description, v.MarkdownContent,
		toolSteps, agentChain, v.Summary, v.SourceTaskID, relatedTasks,
		involvedAgents, serializeEmbedding(v.Embedding), v.ComplexityScore,
		v.CreatedBy, v.CreationReason, v.ResourceURI, manifest, v.CreatedAt,
	)
	if err != nil {
		return mapConstraint(err, "insert version")
	}
	return nil
}

func (s *Store) GetGroup(ctx context.Context, id string, includeVersions bool) (*skill.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM skill_groups WHERE id = ?`, id)

	group, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "skill group", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}

	if err := s.attachDerived(ctx, group, includeVersions); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Store) attachDerived(ctx context.Context, group *skill.Group, includeVersions bool) error {
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skill_versions WHERE group_id = ?`, group.ID,
	).Scan(&group.VersionCount)
	if err != nil {
		return fmt.Errorf("count versions: %w", err)
	}

	if group.ProductionVersionID != "" {
		v, err := s.GetVersion(ctx, group.ProductionVersionID)
		if err == nil {
			group.ProductionVersion = v
		} else if !store.IsNotFound(err) {
			return err
		}
	}

	if includeVersions {
		versions, err := s.ListVersions(ctx, group.ID)
		if err != nil {
			return err
		}
		group.Versions = versions
	}
	return nil
}

func (s *Store) GetGroupByName(ctx context.Context, name, ownerAgentName, ownerUserID string) (*skill.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM skill_groups
		 WHERE name = ? AND owner_agent_name = ? AND owner_user_id = ?`,
		name, ownerAgentName, ownerUserID)

	group, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "skill group", ID: name}
	}
	if err != nil {
		return nil, fmt.Errorf("scan group: %w", err)
	}

	if err := s.attachDerived(ctx, group, false); err != nil {
		return nil, err
	}
	return group, nil
}

func (s *Store) ListGroups(ctx context.Context, f store.GroupFilter) ([]*skill.Group, error) {
	var conds []string
	var args []any

	if f.AgentName != "" {
		conds = append(conds, "owner_agent_name = ?")
		args = append(args, f.AgentName)
	}
	if f.UserID != "" {
		conds = append(conds, "(owner_user_id = '' OR owner_user_id = ?)")
		args = append(args, f.UserID)
	}
	if f.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, string(f.Scope))
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if !f.IncludeArchived {
		conds = append(conds, "is_archived = 0")
	}

	query := `SELECT ` + groupColumns + ` FROM skill_groups`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*skill.Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	rows.Close()

	for _, group := range groups {
		if err := s.attachDerived(ctx, group, false); err != nil {
			return nil, err
		}
	}
	return groups, nil
}

func (s *Store) UpdateGroup(ctx context.Context, group *skill.Group) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE skill_groups
		SET description = ?, category = ?, is_archived = ?, updated_at = ?
		WHERE id = ?`,
		group.Description, group.Category, group.IsArchived, time.Now().UTC(), group.ID)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return requireRow(res, "skill group", group.ID)
}

func (s *Store) ArchiveGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skill_groups SET is_archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archive group: %w", err)
	}
	return requireRow(res, "skill group", id)
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM skill_groups WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return requireRow(res, "skill group", id)
}

func (s *Store) CreateVersion(ctx context.Context, v *skill.Version, setProduction bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT 1 FROM skill_groups WHERE id = ?`, v.GroupID).Scan(&exists)
	if err == sql.ErrNoRows {
		return store.ErrNotFound{Kind: "skill group", ID: v.GroupID}
	}
	if err != nil {
		return fmt.Errorf("check group: %w", err)
	}

	var maxVersion int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM skill_versions WHERE group_id = ?`,
		v.GroupID).Scan(&maxVersion)
	if err != nil {
		return fmt.Errorf("max version: %w", err)
	}

	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.Version = maxVersion + 1
	v.CreatedAt = time.Now().UTC()

	if err := insertVersion(ctx, tx, v); err != nil {
		return err
	}

	if setProduction {
		_, err = tx.ExecContext(ctx,
			`UPDATE skill_groups SET production_version_id = ?, updated_at = ? WHERE id = ?`,
			v.ID, v.CreatedAt, v.GroupID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE skill_groups SET updated_at = ? WHERE id = ?`,
			v.CreatedAt, v.GroupID)
	}
	if err != nil {
		return fmt.Errorf("update group pointer: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetVersion(ctx context.Context, id string) (*skill.Version, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+versionColumns+` FROM skill_versions WHERE id = ?`, id)

	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "skill version", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	return v, nil
}

func (s *Store) ListVersions(ctx context.Context, groupID string) ([]*skill.Version, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM skill_groups WHERE id = ?`, groupID).Scan(&exists)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "skill group", ID: groupID}
	}
	if err != nil {
		return nil, fmt.Errorf("check group: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+versionColumns+` FROM skill_versions WHERE group_id = ? ORDER BY version ASC`,
		groupID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var versions []*skill.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *Store) SetProductionVersion(ctx context.Context, groupID, versionID string) error {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.GroupID != groupID {
		return store.ErrWrongGroup
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE skill_groups SET production_version_id = ?, updated_at = ? WHERE id = ?`,
		versionID, time.Now().UTC(), groupID)
	if err != nil {
		return fmt.Errorf("set production version: %w", err)
	}
	return requireRow(res, "skill group", groupID)
}

func (s *Store) AttachEmbedding(ctx context.Context, versionID string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skill_versions SET embedding = ? WHERE id = ?`,
		serializeEmbedding(embedding), versionID)
	if err != nil {
		return fmt.Errorf("attach embedding: %w", err)
	}
	return requireRow(res, "skill version", versionID)
}

func (s *Store) AttachResource(ctx context.Context, versionID, uri string, manifest []string) error {
	m, err := marshalJSON(manifest)
	if err != nil {
		return fmt.Errorf("marshal resource manifest: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE skill_versions SET resource_uri = ?, resource_manifest = ? WHERE id = ?`,
		uri, m, versionID)
	if err != nil {
		return fmt.Errorf("attach resource: %w", err)
	}
	return requireRow(res, "skill version", versionID)
}

func (s *Store) AppendRelatedTask(ctx context.Context, versionID, taskID string) error {
	v, err := s.GetVersion(ctx, versionID)
	if err != nil {
		return err
	}
	for _, existing := range v.RelatedTaskIDs {
		if existing == taskID {
			return nil
		}
	}

	related, err := marshalJSON(append(v.RelatedTaskIDs, taskID))
	if err != nil {
		return fmt.Errorf("marshal related tasks: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE skill_versions SET related_task_ids = ? WHERE id = ?`,
		related, versionID)
	if err != nil {
		return fmt.Errorf("append related task: %w", err)
	}
	return nil
}

func (s *Store) UpdateVersionMarkdown(ctx context.Context, versionID, markdown string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skill_versions SET markdown_content = ? WHERE id = ?`,
		markdown, versionID)
	if err != nil {
		return fmt.Errorf("update version markdown: %w", err)
	}
	return requireRow(res, "skill version", versionID)
}

func (s *Store) AddGroupUser(ctx context.Context, gu *skill.GroupUser) error {
	gu.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skill_group_users (group_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
		gu.GroupID, gu.UserID, string(gu.Role), gu.CreatedAt)
	if err != nil {
		return mapConstraint(err, "insert group user")
	}
	return nil
}

func (s *Store) RemoveGroupUser(ctx context.Context, groupID, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM skill_group_users WHERE group_id = ? AND user_id = ?`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("remove group user: %w", err)
	}
	return requireRow(res, "group grant", groupID+"/"+userID)
}

func (s *Store) GetGroupUser(ctx context.Context, groupID, userID string) (*skill.GroupUser, error) {
	gu := &skill.GroupUser{}
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT group_id, user_id, role, created_at FROM skill_group_users
		 WHERE group_id = ? AND user_id = ?`, groupID, userID,
	).Scan(&gu.GroupID, &gu.UserID, &role, &gu.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "group grant", ID: groupID + "/" + userID}
	}
	if err != nil {
		return nil, fmt.Errorf("scan group user: %w", err)
	}
	gu.Role = skill.GrantRole(role)
	return gu, nil
}

func (s *Store) ListGroupUsers(ctx context.Context, groupID string) ([]*skill.GroupUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_id, user_id, role, created_at FROM skill_group_users
		 WHERE group_id = ? ORDER BY user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group users: %w", err)
	}
	defer rows.Close()

	var grants []*skill.GroupUser
	for rows.Next() {
		gu := &skill.GroupUser{}
		var role string
		if err := rows.Scan(&gu.GroupID, &gu.UserID, &role, &gu.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group user: %w", err)
		}
		gu.Role = skill.GrantRole(role)
		grants = append(grants, gu)
	}
	return grants, rows.Err()
}

func (s *Store) EnqueueLearning(ctx context.Context, item *skill.QueueItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Status = skill.QueuePending
	item.QueuedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learning_queue (id, task_id, agent_name, user_id, status, queued_at, retry_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TaskID, item.AgentName, item.UserID,
		string(item.Status), item.QueuedAt, item.RetryCount)
	if err != nil {
		return mapConstraint(err, "enqueue learning")
	}
	return nil
}

func (s *Store) PendingQueueItems(ctx context.Context, limit int) ([]*skill.QueueItem, error) {
	query := `SELECT id, task_id, agent_name, user_id, status, queued_at,
		started_at, completed_at, error_message, retry_count
		FROM learning_queue WHERE status = ? ORDER BY queued_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, string(skill.QueuePending))
	if err != nil {
		return nil, fmt.Errorf("pending queue items: %w", err)
	}
	defer rows.Close()

	var items []*skill.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ClaimQueueItem transitions pending -> processing with a conditional
// update, so a concurrent claimer loses cleanly instead of double-claiming.
func (s *Store) ClaimQueueItem(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learning_queue SET status = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(skill.QueueProcessing), time.Now().UTC(), id, string(skill.QueuePending))
	if err != nil {
		return false, fmt.Errorf("claim queue item: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		if _, err := s.GetQueueItem(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *Store) CompleteQueueItem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE learning_queue SET status = ?, completed_at = ? WHERE id = ?`,
		string(skill.QueueCompleted), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("complete queue item: %w", err)
	}
	return requireRow(res, "queue item", id)
}

func (s *Store) FailQueueItem(ctx context.Context, id, errorMessage string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE learning_queue
		SET status = ?, completed_at = ?, error_message = ?, retry_count = retry_count + 1
		WHERE id = ?`,
		string(skill.QueueFailed), time.Now().UTC(), errorMessage, id)
	if err != nil {
		return fmt.Errorf("fail queue item: %w", err)
	}
	return requireRow(res, "queue item", id)
}

func (s *Store) GetQueueItem(ctx context.Context, id string) (*skill.QueueItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, agent_name, user_id, status, queued_at,
			started_at, completed_at, error_message, retry_count
		FROM learning_queue WHERE id = ?`, id)

	item, err := scanQueueItem(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "queue item", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) AddFeedback(ctx context.Context, fb *skill.Feedback) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	fb.CreatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skill_feedback (id, group_id, task_id, user_id, feedback_type, correction_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.GroupID, fb.TaskID, fb.UserID, string(fb.Type), fb.CorrectionText, fb.CreatedAt)
	if err != nil {
		return mapConstraint(err, "insert feedback")
	}

	var counter string
	switch fb.Type {
	case skill.FeedbackThumbsUp:
		counter = "success_count"
	case skill.FeedbackThumbsDown:
		counter = "failure_count"
	case skill.FeedbackCorrection:
		counter = "correction_count"
	}
	if counter != "" {
		res, err := tx.ExecContext(ctx,
			`UPDATE skill_groups SET `+counter+` = `+counter+` + 1 WHERE id = ?`, fb.GroupID)
		if err != nil {
			return fmt.Errorf("bump %s: %w", counter, err)
		}
		if err := requireRow(res, "skill group", fb.GroupID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) ListFeedback(ctx context.Context, groupID string) ([]*skill.Feedback, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, task_id, user_id, feedback_type, correction_text, created_at
		FROM skill_feedback WHERE group_id = ? ORDER BY created_at ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	defer rows.Close()

	var out []*skill.Feedback
	for rows.Next() {
		fb := &skill.Feedback{}
		var typ string
		if err := rows.Scan(&fb.ID, &fb.GroupID, &fb.TaskID, &fb.UserID, &typ, &fb.CorrectionText, &fb.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		fb.Type = skill.FeedbackType(typ)
		out = append(out, fb)
	}
	return out, rows.Err()
}

func (s *Store) AddUsage(ctx context.Context, u *skill.Usage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.CreatedAt = time.Now().UTC()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skill_usages (id, group_id, version_id, task_id, user_id, success, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.GroupID, u.VersionID, u.TaskID, u.UserID, u.Success, u.CreatedAt)
	if err != nil {
		return mapConstraint(err, "insert usage")
	}

	counter := "failure_count"
	if u.Success {
		counter = "success_count"
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE skill_groups SET `+counter+` = `+counter+` + 1 WHERE id = ?`, u.GroupID)
	if err != nil {
		return fmt.Errorf("bump %s: %w", counter, err)
	}
	if err := requireRow(res, "skill group", u.GroupID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) UsageForTask(ctx context.Context, taskID string) (*skill.Usage, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, group_id, version_id, task_id, user_id, success, created_at
		FROM skill_usages WHERE task_id = ? ORDER BY created_at DESC LIMIT 1`, taskID)

	u := &skill.Usage{}
	err := row.Scan(&u.ID, &u.GroupID, &u.VersionID, &u.TaskID, &u.UserID, &u.Success, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound{Kind: "skill usage", ID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("scan usage: %w", err)
	}
	return u, nil
}

func (s *Store) UsageCount(ctx context.Context, groupID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM skill_usages WHERE group_id = ?`, groupID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("usage count: %w", err)
	}
	return count, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGroup(row scanner) (*skill.Group, error) {
	g := &skill.Group{}
	var typ, scope string
	var prodID sql.NullString

	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Category, &typ, &scope,
		&g.OwnerAgentName, &g.OwnerUserID, &prodID, &g.IsArchived,
		&g.SuccessCount, &g.FailureCount, &g.CorrectionCount,
		&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, err
	}

	g.Type = skill.Type(typ)
	g.Scope = skill.Scope(scope)
	if prodID.Valid {
		g.ProductionVersionID = prodID.String
	}
	return g, nil
}

func scanVersion(row scanner) (*skill.Version, error) {
	v := &skill.Version{}
	var toolSteps, agentChain, relatedTasks, involvedAgents, manifest sql.NullString
	var embedding []byte

	err := row.Scan(&v.ID, &v.GroupID, &v.Version, &v.Description, &v.MarkdownContent,
		&toolSteps, &agentChain, &v.Summary, &v.SourceTaskID, &relatedTasks,
		&involvedAgents, &embedding, &v.ComplexityScore, &v.CreatedBy,
		&v.CreationReason, &v.ResourceURI, &manifest, &v.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(toolSteps, &v.ToolSteps); err != nil {
		return nil, fmt.Errorf("unmarshal tool steps: %w", err)
	}
	if err := unmarshalJSON(agentChain, &v.AgentChain); err != nil {
		return nil, fmt.Errorf("unmarshal agent chain: %w", err)
	}
	if err := unmarshalJSON(relatedTasks, &v.RelatedTaskIDs); err != nil {
		return nil, fmt.Errorf("unmarshal related tasks: %w", err)
	}
	if err := unmarshalJSON(involvedAgents, &v.InvolvedAgents); err != nil {
		return nil, fmt.Errorf("unmarshal involved agents: %w", err)
	}
	if err := unmarshalJSON(manifest, &v.ResourceManifest); err != nil {
		return nil, fmt.Errorf("unmarshal resource manifest: %w", err)
	}
	if len(embedding) > 0 {
		v.Embedding, err = deserializeEmbedding(embedding)
		if err != nil {
			return nil, fmt.Errorf("deserialize embedding: %w", err)
		}
	}
	return v, nil
}

func scanQueueItem(row scanner) (*skill.QueueItem, error) {
	item := &skill.QueueItem{}
	var status string
	var started, completed sql.NullTime

	err := row.Scan(&item.ID, &item.TaskID, &item.AgentName, &item.UserID,
		&status, &item.QueuedAt, &started, &completed,
		&item.ErrorMessage, &item.RetryCount)
	if err != nil {
		return nil, err
	}

	item.Status = skill.QueueStatus(status)
	if started.Valid {
		t := started.Time
		item.StartedAt = &t
	}
	if completed.Valid {
		t := completed.Time
		item.CompletedAt = &t
	}
	return item, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalJSON(src sql.NullString, dst any) error {
	if !src.Valid || src.String == "" || src.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(src.String), dst)
}

// serializeEmbedding converts a float32 slice to a little-endian BLOB.
func serializeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func deserializeEmbedding(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding blob length %d: must be divisible by 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound{Kind: kind, ID: id}
	}
	return nil
}

// mapConstraint converts unique-constraint violations into ErrDuplicate so
// callers can branch on them without driver-specific error inspection.
func mapConstraint(err error, op string) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique") || strings.Contains(msg, "constraint") {
		return fmt.Errorf("%s: %w", op, store.ErrDuplicate)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ store.Store = (*Store)(nil)
