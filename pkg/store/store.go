// Package store defines the persistence interface for the versioned skill
// model: skill groups, immutable version snapshots, access grants, the
// learning queue, and the append-only feedback/usage logs.
//
// The Store is the sole writer of group and version rows. Drivers live in
// subpackages (inmemory, sqlite, postgres) and share the same semantics;
// the inmemory driver is the canonical reference used by the test suites.
package store

import (
	"context"

	"github.com/skillmesh/skillmesh/pkg/skill"
)

// GroupFilter narrows ListGroups results. Zero fields are ignored.
type GroupFilter struct {
	AgentName       string
	UserID          string
	Scope           skill.Scope
	Type            skill.Type
	Category        string
	IncludeArchived bool

	// Limit caps the result count after filtering (0 = unlimited).
	Limit int
}

// Store persists the versioned skill model.
type Store interface {
	// CreateGroup atomically persists a new group together with its first
	// version and points production at it. Returns ErrDuplicate when a
	// group with the same (name, owner) already exists.
	CreateGroup(ctx context.Context, group *skill.Group, first *skill.Version) error

	// GetGroup fetches a group by id. With includeVersions the full
	// version history is attached; the production version is always
	// attached when one is set.
	GetGroup(ctx context.Context, id string, includeVersions bool) (*skill.Group, error)

	// GetGroupByName fetches a group by its unique (name, owner) key.
	GetGroupByName(ctx context.Context, name, ownerAgentName, ownerUserID string) (*skill.Group, error)

	// ListGroups returns groups matching the filter, newest first, with
	// production versions attached.
	ListGroups(ctx context.Context, f GroupFilter) ([]*skill.Group, error)

	// UpdateGroup persists mutable group fields (description, category,
	// archived flag) and bumps updated_at.
	UpdateGroup(ctx context.Context, group *skill.Group) error

	// ArchiveGroup soft-deletes a group.
	ArchiveGroup(ctx context.Context, id string) error

	// DeleteGroup hard-deletes a group and its versions, grants, and logs.
	DeleteGroup(ctx context.Context, id string) error

	// CreateVersion persists a new immutable version for an existing
	// group, assigning the next version number (max+1) and optionally
	// repointing production. The assigned number is written back to v.
	CreateVersion(ctx context.Context, v *skill.Version, setProduction bool) error

	// GetVersion fetches a version by id.
	GetVersion(ctx context.Context, id string) (*skill.Version, error)

	// ListVersions returns a group's versions in ascending version order.
	ListVersions(ctx context.Context, groupID string) ([]*skill.Version, error)

	// SetProductionVersion repoints the group's production pointer. The
	// version must belong to the group.
	SetProductionVersion(ctx context.Context, groupID, versionID string) error

	// AttachEmbedding backfills a version's embedding vector. This and
	// AttachResource are the only permitted post-creation version writes,
	// besides UpdateVersionMarkdown for explicit user edits.
	AttachEmbedding(ctx context.Context, versionID string, embedding []float32) error

	// AttachResource records the bundled-resource URI and manifest.
	AttachResource(ctx context.Context, versionID, uri string, manifest []string) error

	// AppendRelatedTask adds a task id to a version's related task list,
	// ignoring duplicates.
	AppendRelatedTask(ctx context.Context, versionID, taskID string) error

	// UpdateVersionMarkdown overwrites a version's markdown content
	// (user_edit feedback path).
	UpdateVersionMarkdown(ctx context.Context, versionID, markdown string) error

	// AddGroupUser grants a user a role on a group, unique per (group, user).
	AddGroupUser(ctx context.Context, gu *skill.GroupUser) error

	// RemoveGroupUser revokes a user's grant.
	RemoveGroupUser(ctx context.Context, groupID, userID string) error

	// GetGroupUser returns the grant for (group, user), or ErrNotFound.
	GetGroupUser(ctx context.Context, groupID, userID string) (*skill.GroupUser, error)

	// ListGroupUsers returns all grants on a group.
	ListGroupUsers(ctx context.Context, groupID string) ([]*skill.GroupUser, error)

	// EnqueueLearning persists a new pending queue item.
	EnqueueLearning(ctx context.Context, item *skill.QueueItem) error

	// PendingQueueItems returns up to limit pending items, oldest first.
	PendingQueueItems(ctx context.Context, limit int) ([]*skill.QueueItem, error)

	// ClaimQueueItem transitions pending -> processing. Returns false when
	// the item was not pending (already claimed or terminal).
	ClaimQueueItem(ctx context.Context, id string) (bool, error)

	// CompleteQueueItem transitions an item to completed.
	CompleteQueueItem(ctx context.Context, id string) error

	// FailQueueItem transitions an item to failed, records the error
	// message, and increments its retry count.
	FailQueueItem(ctx context.Context, id, errorMessage string) error

	// GetQueueItem fetches a queue item by id.
	GetQueueItem(ctx context.Context, id string) (*skill.QueueItem, error)

	// AddFeedback appends a feedback row and bumps the owning group's
	// counters as a side effect (thumbs_up -> success, thumbs_down ->
	// failure, correction -> corrections).
	AddFeedback(ctx context.Context, fb *skill.Feedback) error

	// ListFeedback returns a group's feedback rows, oldest first.
	ListFeedback(ctx context.Context, groupID string) ([]*skill.Feedback, error)

	// AddUsage appends a usage row and bumps the owning group's
	// success/failure counters.
	AddUsage(ctx context.Context, u *skill.Usage) error

	// UsageForTask returns the most recent usage recorded for a task, or
	// ErrNotFound. Feedback resolution uses this to find the skill behind
	// a task.
	UsageForTask(ctx context.Context, taskID string) (*skill.Usage, error)

	// UsageCount returns how many times a group has been applied.
	UsageCount(ctx context.Context, groupID string) (int, error)

	// Close releases driver resources.
	Close() error
}
