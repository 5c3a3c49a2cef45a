// Package inmemory provides a mutex-guarded in-memory Store. It is the
// canonical reference implementation: the shared store test suites assert
// its semantics and the SQL drivers mirror them.
package inmemory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
)

// Store implements store.Store over in-process maps.
type Store struct {
	mu sync.RWMutex

	groups   map[string]*skill.Group
	versions map[string]*skill.Version
	grants   map[string]map[string]*skill.GroupUser // groupID -> userID -> grant
	queue    map[string]*skill.QueueItem
	feedback []*skill.Feedback
	usages   []*skill.Usage

	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		groups:   make(map[string]*skill.Group),
		versions: make(map[string]*skill.Version),
		grants:   make(map[string]map[string]*skill.GroupUser),
		queue:    make(map[string]*skill.QueueItem),
		now:      time.Now,
	}
}

// CreateGroup atomically persists the group, its first version, and the
// production pointer.
func (s *Store) CreateGroup(_ context.Context, group *skill.Group, first *skill.Version) error {
	if err := group.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if g.Name == group.Name && g.OwnerAgentName == group.OwnerAgentName && g.OwnerUserID == group.OwnerUserID {
			return store.ErrDuplicate
		}
	}

	now := s.now()
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	group.CreatedAt = now
	group.UpdatedAt = now

	first.ID = orNewID(first.ID)
	first.GroupID = group.ID
	first.Version = 1
	first.CreatedAt = now

	group.ProductionVersionID = first.ID
	group.VersionCount = 1

	s.groups[group.ID] = cloneGroup(group)
	s.versions[first.ID] = cloneVersion(first)
	return nil
}

func (s *Store) GetGroup(_ context.Context, id string, includeVersions bool) (*skill.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getGroupLocked(id, includeVersions)
}

func (s *Store) getGroupLocked(id string, includeVersions bool) (*skill.Group, error) {
	g, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound{Kind: "skill group", ID: id}
	}

	out := cloneGroup(g)
	if g.ProductionVersionID != "" {
		if v, ok := s.versions[g.ProductionVersionID]; ok {
			out.ProductionVersion = cloneVersion(v)
		}
	}
	if includeVersions {
		out.Versions = s.versionsForLocked(id)
	}
	return out, nil
}

func (s *Store) GetGroupByName(_ context.Context, name, ownerAgentName, ownerUserID string) (*skill.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if g.Name == name && g.OwnerAgentName == ownerAgentName && g.OwnerUserID == ownerUserID {
			return s.getGroupLocked(g.ID, false)
		}
	}
	return nil, store.ErrNotFound{Kind: "skill group", ID: name}
}

func (s *Store) ListGroups(_ context.Context, f store.GroupFilter) ([]*skill.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*skill.Group
	for _, g := range s.groups {
		if !matches(g, f) {
			continue
		}
		if !f.IncludeArchived && g.IsArchived {
			continue
		}
		withProd, _ := s.getGroupLocked(g.ID, false)
		out = append(out, withProd)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func matches(g *skill.Group, f store.GroupFilter) bool {
	if f.AgentName != "" && g.OwnerAgentName != f.AgentName {
		return false
	}
	if f.UserID != "" && g.OwnerUserID != "" && g.OwnerUserID != f.UserID {
		return false
	}
	if f.Scope != "" && g.Scope != f.Scope {
		return false
	}
	if f.Type != "" && g.Type != f.Type {
		return false
	}
	if f.Category != "" && g.Category != f.Category {
		return false
	}
	return true
}

func (s *Store) UpdateGroup(_ context.Context, group *skill.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[group.ID]
	if !ok {
		return store.ErrNotFound{Kind: "skill group", ID: group.ID}
	}
	g.Description = group.Description
	g.Category = group.Category
	g.IsArchived = group.IsArchived
	g.UpdatedAt = s.now()
	return nil
}

func (s *Store) ArchiveGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		return store.ErrNotFound{Kind: "skill group", ID: id}
	}
	g.IsArchived = true
	g.UpdatedAt = s.now()
	return nil
}

func (s *Store) DeleteGroup(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[id]; !ok {
		return store.ErrNotFound{Kind: "skill group", ID: id}
	}
	delete(s.groups, id)
	for vid, v := range s.versions {
		if v.GroupID == id {
			delete(s.versions, vid)
		}
	}
	delete(s.grants, id)

	feedback := s.feedback[:0]
	for _, fb := range s.feedback {
		if fb.GroupID != id {
			feedback = append(feedback, fb)
		}
	}
	s.feedback = feedback

	usages := s.usages[:0]
	for _, u := range s.usages {
		if u.GroupID != id {
			usages = append(usages, u)
		}
	}
	s.usages = usages
	return nil
}

func (s *Store) CreateVersion(_ context.Context, v *skill.Version, setProduction bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[v.GroupID]
	if !ok {
		return store.ErrNotFound{Kind: "skill group", ID: v.GroupID}
	}

	maxVersion := 0
	for _, existing := range s.versions {
		if existing.GroupID == v.GroupID && existing.Version > maxVersion {
			maxVersion = existing.Version
		}
	}

	v.ID = orNewID(v.ID)
	v.Version = maxVersion + 1
	v.CreatedAt = s.now()
	s.versions[v.ID] = cloneVersion(v)

	g.VersionCount++
	g.UpdatedAt = v.CreatedAt
	if setProduction {
		g.ProductionVersionID = v.ID
	}
	return nil
}

func (s *Store) GetVersion(_ context.Context, id string) (*skill.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, store.ErrNotFound{Kind: "skill version", ID: id}
	}
	return cloneVersion(v), nil
}

func (s *Store) ListVersions(_ context.Context, groupID string) ([]*skill.Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.groups[groupID]; !ok {
		return nil, store.ErrNotFound{Kind: "skill group", ID: groupID}
	}
	return s.versionsForLocked(groupID), nil
}

func (s *Store) versionsForLocked(groupID string) []*skill.Version {
	var out []*skill.Version
	for _, v := range s.versions {
		if v.GroupID == groupID {
			out = append(out, cloneVersion(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (s *Store) SetProductionVersion(_ context.Context, groupID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return store.ErrNotFound{Kind: "skill group", ID: groupID}
	}
	v, ok := s.versions[versionID]
	if !ok {
		return store.ErrNotFound{Kind: "skill version", ID: versionID}
	}
	if v.GroupID != groupID {
		return store.ErrWrongGroup
	}

	g.ProductionVersionID = versionID
	g.UpdatedAt = s.now()
	return nil
}

func (s *Store) AttachEmbedding(_ context.Context, versionID string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return store.ErrNotFound{Kind: "skill version", ID: versionID}
	}
	v.Embedding = append([]float32(nil), embedding...)
	return nil
}

func (s *Store) AttachResource(_ context.Context, versionID, uri string, manifest []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return store.ErrNotFound{Kind: "skill version", ID: versionID}
	}
	v.ResourceURI = uri
	v.ResourceManifest = append([]string(nil), manifest...)
	return nil
}

func (s *Store) AppendRelatedTask(_ context.Context, versionID, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return store.ErrNotFound{Kind: "skill version", ID: versionID}
	}
	for _, existing := range v.RelatedTaskIDs {
		if existing == taskID {
			return nil
		}
	}
	v.RelatedTaskIDs = append(v.RelatedTaskIDs, taskID)
	return nil
}

func (s *Store) UpdateVersionMarkdown(_ context.Context, versionID, markdown string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return store.ErrNotFound{Kind: "skill version", ID: versionID}
	}
	v.MarkdownContent = markdown
	return nil
}

func (s *Store) AddGroupUser(_ context.Context, gu *skill.GroupUser) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[gu.GroupID]; !ok {
		return store.ErrNotFound{Kind: "skill group", ID: gu.GroupID}
	}
	byUser := s.grants[gu.GroupID]
	if byUser == nil {
		byUser = make(map[string]*skill.GroupUser)
		s.grants[gu.GroupID] = byUser
	}
	if _, exists := byUser[gu.UserID]; exists {
		return store.ErrDuplicate
	}

	grant := *gu
	grant.CreatedAt = s.now()
	byUser[gu.UserID] = &grant
	return nil
}

func (s *Store) RemoveGroupUser(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byUser := s.grants[groupID]
	if _, ok := byUser[userID]; !ok {
		return store.ErrNotFound{Kind: "group grant", ID: groupID + "/" + userID}
	}
	delete(byUser, userID)
	return nil
}

func (s *Store) GetGroupUser(_ context.Context, groupID, userID string) (*skill.GroupUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if grant, ok := s.grants[groupID][userID]; ok {
		out := *grant
		return &out, nil
	}
	return nil, store.ErrNotFound{Kind: "group grant", ID: groupID + "/" + userID}
}

func (s *Store) ListGroupUsers(_ context.Context, groupID string) ([]*skill.GroupUser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*skill.GroupUser
	for _, grant := range s.grants[groupID] {
		g := *grant
		out = append(out, &g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *Store) EnqueueLearning(_ context.Context, item *skill.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item.ID = orNewID(item.ID)
	item.Status = skill.QueuePending
	item.QueuedAt = s.now()

	queued := *item
	s.queue[item.ID] = &queued
	return nil
}

func (s *Store) PendingQueueItems(_ context.Context, limit int) ([]*skill.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*skill.QueueItem
	for _, item := range s.queue {
		if item.Status == skill.QueuePending {
			it := *item
			out = append(out, &it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueuedAt.Before(out[j].QueuedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClaimQueueItem(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return false, store.ErrNotFound{Kind: "queue item", ID: id}
	}
	if item.Status != skill.QueuePending {
		return false, nil
	}

	now := s.now()
	item.Status = skill.QueueProcessing
	item.StartedAt = &now
	return true, nil
}

func (s *Store) CompleteQueueItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return store.ErrNotFound{Kind: "queue item", ID: id}
	}
	now := s.now()
	item.Status = skill.QueueCompleted
	item.CompletedAt = &now
	return nil
}

func (s *Store) FailQueueItem(_ context.Context, id, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return store.ErrNotFound{Kind: "queue item", ID: id}
	}
	now := s.now()
	item.Status = skill.QueueFailed
	item.CompletedAt = &now
	item.ErrorMessage = errorMessage
	item.RetryCount++
	return nil
}

func (s *Store) GetQueueItem(_ context.Context, id string) (*skill.QueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.queue[id]
	if !ok {
		return nil, store.ErrNotFound{Kind: "queue item", ID: id}
	}
	out := *item
	return &out, nil
}

func (s *Store) AddFeedback(_ context.Context, fb *skill.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[fb.GroupID]
	if !ok {
		return store.ErrNotFound{Kind: "skill group", ID: fb.GroupID}
	}

	fb.ID = orNewID(fb.ID)
	fb.CreatedAt = s.now()

	switch fb.Type {
	case skill.FeedbackThumbsUp:
		g.SuccessCount++
	case skill.FeedbackThumbsDown:
		g.FailureCount++
	case skill.FeedbackCorrection:
		g.CorrectionCount++
	}

	row := *fb
	s.feedback = append(s.feedback, &row)
	return nil
}

func (s *Store) ListFeedback(_ context.Context, groupID string) ([]*skill.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*skill.Feedback
	for _, fb := range s.feedback {
		if fb.GroupID == groupID {
			row := *fb
			out = append(out, &row)
		}
	}
	return out, nil
}

func (s *Store) AddUsage(_ context.Context, u *skill.Usage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[u.GroupID]
	if !ok {
		return store.ErrNotFound{Kind: "skill group", ID: u.GroupID}
	}

	u.ID = orNewID(u.ID)
	u.CreatedAt = s.now()
	if u.Success {
		g.SuccessCount++
	} else {
		g.FailureCount++
	}

	row := *u
	s.usages = append(s.usages, &row)
	return nil
}

func (s *Store) UsageForTask(_ context.Context, taskID string) (*skill.Usage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.usages) - 1; i >= 0; i-- {
		if s.usages[i].TaskID == taskID {
			out := *s.usages[i]
			return &out, nil
		}
	}
	return nil, store.ErrNotFound{Kind: "skill usage", ID: taskID}
}

func (s *Store) UsageCount(_ context.Context, groupID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.usages {
		if u.GroupID == groupID {
			count++
		}
	}
	return count, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

func orNewID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func cloneGroup(g *skill.Group) *skill.Group {
	out := *g
	out.ProductionVersion = nil
	out.Versions = nil
	return &out
}

func cloneVersion(v *skill.Version) *skill.Version {
	out := *v
	out.ToolSteps = append([]skill.ToolStep(nil), v.ToolSteps...)
	out.AgentChain = append([]skill.AgentChainEntry(nil), v.AgentChain...)
	out.RelatedTaskIDs = append([]string(nil), v.RelatedTaskIDs...)
	out.InvolvedAgents = append([]string(nil), v.InvolvedAgents...)
	out.Embedding = append([]float32(nil), v.Embedding...)
	out.ResourceManifest = append([]string(nil), v.ResourceManifest...)
	return &out
}

var _ store.Store = (*Store)(nil)
