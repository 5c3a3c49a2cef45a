// Package skill defines the domain model for the skill learning system:
// versioned skill groups, immutable version snapshots, access grants, and
// the append-only event records (feedback, usage, learning queue) that feed
// their aggregate counters.
package skill

import (
	"fmt"
	"slices"
	"time"
)

// Type distinguishes skills learned from task traces from author-maintained ones.
type Type string

const (
	TypeLearned  Type = "learned"
	TypeAuthored Type = "authored"
)

// Scope controls who a skill group is visible to.
type Scope string

const (
	ScopeAgent  Scope = "agent"
	ScopeUser   Scope = "user"
	ScopeShared Scope = "shared"
	ScopeGlobal Scope = "global"
)

// Scopes enumerates valid scope values.
var Scopes = []Scope{ScopeAgent, ScopeUser, ScopeShared, ScopeGlobal}

// ValidScope returns true if the given scope is recognized.
func ValidScope(s Scope) bool {
	return slices.Contains(Scopes, s)
}

// GrantRole is the role a user holds on a shared skill group.
type GrantRole string

const (
	RoleOwner  GrantRole = "owner"
	RoleEditor GrantRole = "editor"
	RoleViewer GrantRole = "viewer"
)

// Group is a logical, named skill container. Its content lives in immutable
// Version snapshots; the group row owns the production pointer and the
// aggregate counters.
type Group struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	Category            string    `json:"category,omitempty"`
	Type                Type      `json:"type"`
	Scope               Scope     `json:"scope"`
	OwnerAgentName      string    `json:"owner_agent_name,omitempty"`
	OwnerUserID         string    `json:"owner_user_id,omitempty"`
	ProductionVersionID string    `json:"production_version_id,omitempty"`
	IsArchived          bool      `json:"is_archived"`
	SuccessCount        int       `json:"success_count"`
	FailureCount        int       `json:"failure_count"`
	CorrectionCount     int       `json:"correction_count"`
	VersionCount        int       `json:"version_count"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	// ProductionVersion and Versions are populated on demand by the store;
	// they are not part of the group row itself.
	ProductionVersion *Version   `json:"production_version,omitempty"`
	Versions          []*Version `json:"versions,omitempty"`
}

// Validate checks the scope/owner pairing invariants.
func (g *Group) Validate() error {
	if g.Name == "" {
		return fmt.Errorf("skill group name is required")
	}
	if !ValidScope(g.Scope) {
		return fmt.Errorf("invalid scope %q", g.Scope)
	}
	switch g.Scope {
	case ScopeAgent:
		if g.OwnerAgentName == "" {
			return fmt.Errorf("scope %q requires owner_agent_name", g.Scope)
		}
	case ScopeUser:
		if g.OwnerUserID == "" {
			return fmt.Errorf("scope %q requires owner_user_id", g.Scope)
		}
	}
	return nil
}

// SuccessRate returns the observed success ratio, or -1 when no outcomes
// have been recorded yet.
func (g *Group) SuccessRate() float64 {
	total := g.SuccessCount + g.FailureCount
	if total == 0 {
		return -1
	}
	return float64(g.SuccessCount) / float64(total)
}

// Version is an immutable snapshot of a skill group's content. Versions are
// never mutated after creation except for embedding backfill and bundled
// resource URI attachment.
type Version struct {
	ID               string            `json:"id"`
	GroupID          string            `json:"group_id"`
	Version          int               `json:"version"`
	Description      string            `json:"description"`
	MarkdownContent  string            `json:"markdown_content,omitempty"`
	ToolSteps        []ToolStep        `json:"tool_steps,omitempty"`
	AgentChain       []AgentChainEntry `json:"agent_chain,omitempty"`
	Summary          string            `json:"summary,omitempty"`
	SourceTaskID     string            `json:"source_task_id,omitempty"`
	RelatedTaskIDs   []string          `json:"related_task_ids,omitempty"`
	InvolvedAgents   []string          `json:"involved_agents,omitempty"`
	Embedding        []float32         `json:"-"`
	ComplexityScore  int               `json:"complexity_score"`
	CreatedBy        string            `json:"created_by,omitempty"`
	CreationReason   string            `json:"creation_reason,omitempty"`
	ResourceURI      string            `json:"resource_uri,omitempty"`
	ResourceManifest []string          `json:"resource_manifest,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ToolStep is one ordered step of a skill's recorded procedure.
type ToolStep struct {
	AgentName  string         `json:"agent_name"`
	ToolName   string         `json:"tool_name"`
	Action     string         `json:"action,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Sequence   int            `json:"sequence"`
}

// AgentChainEntry records one agent's part in the multi-agent procedure a
// skill was learned from.
type AgentChainEntry struct {
	AgentName   string   `json:"agent_name"`
	Role        string   `json:"role"`
	Tools       []string `json:"tools,omitempty"`
	DelegatedTo []string `json:"delegated_to,omitempty"`
}

// GroupUser is an access-control edge granting a user a role on a group.
type GroupUser struct {
	GroupID   string    `json:"group_id"`
	UserID    string    `json:"user_id"`
	Role      GrantRole `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// QueueStatus is the lifecycle state of a learning queue item.
type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

// QueueItem is a unit of pending learning work. Created when a task is
// nominated or completes, mutated only by the worker loop, terminal in
// completed or failed.
type QueueItem struct {
	ID           string      `json:"id"`
	TaskID       string      `json:"task_id"`
	AgentName    string      `json:"agent_name"`
	UserID       string      `json:"user_id,omitempty"`
	Status       QueueStatus `json:"status"`
	QueuedAt     time.Time   `json:"queued_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	RetryCount   int         `json:"retry_count"`
}

// FeedbackType classifies user feedback on a skill-assisted task.
type FeedbackType string

const (
	FeedbackThumbsUp   FeedbackType = "thumbs_up"
	FeedbackThumbsDown FeedbackType = "thumbs_down"
	FeedbackCorrection FeedbackType = "correction"
	FeedbackUserEdit   FeedbackType = "user_edit"
)

// FeedbackTypes enumerates valid feedback type values.
var FeedbackTypes = []FeedbackType{
	FeedbackThumbsUp, FeedbackThumbsDown, FeedbackCorrection, FeedbackUserEdit,
}

// ValidFeedbackType returns true if the given type is recognized.
func ValidFeedbackType(t FeedbackType) bool {
	return slices.Contains(FeedbackTypes, t)
}

// Feedback is an append-only record of one feedback event. Inserting it
// bumps the owning group's counters at the store layer.
type Feedback struct {
	ID             string       `json:"id"`
	GroupID        string       `json:"group_id"`
	TaskID         string       `json:"task_id"`
	UserID         string       `json:"user_id,omitempty"`
	Type           FeedbackType `json:"feedback_type"`
	CorrectionText string       `json:"correction_text,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Usage is an append-only record of a skill being applied to a task.
type Usage struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	VersionID string    `json:"version_id,omitempty"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}
