// Package service is the versioned skill facade: group and version
// lifecycle, search, and the read paths agents consume.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/embeddings"
	"github.com/skillmesh/skillmesh/pkg/resources"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/vector"
)

// DefaultInjectThreshold is the minimum similarity for a skill to be offered
// to an agent prompt.
const DefaultInjectThreshold = 0.3

// Config tunes service behavior.
type Config struct {
	// InjectThreshold is the minimum cosine similarity for semantic matches
	// used in prompt injection. Zero means DefaultInjectThreshold.
	InjectThreshold float64
}

// Service coordinates the skill store, embeddings, static skills, and
// resource bundles behind one API.
type Service struct {
	store  store.Store
	embed  *embeddings.Service
	static *skill.StaticLoader
	res    resources.Store
	index  vector.Driver
	cfg    Config
	logger *zap.Logger
}

// New creates a Service. static and res may be nil; embed may be a service
// around a nil embedder (search then degrades to text matching).
func New(st store.Store, embed *embeddings.Service, static *skill.StaticLoader, res resources.Store, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InjectThreshold <= 0 {
		cfg.InjectThreshold = DefaultInjectThreshold
	}
	return &Service{
		store:  st,
		embed:  embed,
		static: static,
		res:    res,
		cfg:    cfg,
		logger: logger,
	}
}

// UseIndex attaches a vector index. New production embeddings are mirrored
// into it and semantic search queries it instead of scanning the store.
func (s *Service) UseIndex(d vector.Driver) {
	s.index = d
}

// CreateSkillParams carries everything needed to create a group with its
// first version.
type CreateSkillParams struct {
	Name           string
	Description    string
	Category       string
	Type           skill.Type
	Scope          skill.Scope
	OwnerAgentName string
	OwnerUserID    string

	MarkdownContent string
	Summary         string
	ToolSteps       []skill.ToolStep
	AgentChain      []skill.AgentChainEntry
	SourceTaskID    string
	InvolvedAgents  []string
	ComplexityScore int
	CreatedBy       string
	CreationReason  string

	Files []resources.File
}

// CreateSkill creates a group with version 1 as production. The embedding
// and resource bundle are attached best-effort: their failure degrades
// search and disclosure, not creation.
func (s *Service) CreateSkill(ctx context.Context, p CreateSkillParams) (*skill.Group, error) {
	if p.Type == "" {
		p.Type = skill.TypeLearned
	}

	group := &skill.Group{
		Name:           p.Name,
		Description:    p.Description,
		Category:       p.Category,
		Type:           p.Type,
		Scope:          p.Scope,
		OwnerAgentName: p.OwnerAgentName,
		OwnerUserID:    p.OwnerUserID,
	}
	version := &skill.Version{
		Description:     p.Description,
		MarkdownContent: p.MarkdownContent,
		Summary:         p.Summary,
		ToolSteps:       p.ToolSteps,
		AgentChain:      p.AgentChain,
		SourceTaskID:    p.SourceTaskID,
		InvolvedAgents:  p.InvolvedAgents,
		ComplexityScore: p.ComplexityScore,
		CreatedBy:       p.CreatedBy,
		CreationReason:  p.CreationReason,
	}

	if err := s.store.CreateGroup(ctx, group, version); err != nil {
		return nil, err
	}
	group.ProductionVersion = version

	s.attachEmbedding(ctx, group, version)

	if len(p.Files) > 0 && s.res != nil {
		uri, manifest, err := s.res.Save(ctx, group.ID, version.ID, p.Files)
		if err != nil {
			s.logger.Warn("resource bundle save failed",
				zap.String("group_id", group.ID), zap.Error(err))
		} else if err := s.store.AttachResource(ctx, version.ID, uri, manifest); err != nil {
			s.logger.Warn("resource attach failed",
				zap.String("version_id", version.ID), zap.Error(err))
		} else {
			version.ResourceURI = uri
			version.ResourceManifest = manifest
		}
	}

	return group, nil
}

// VersionParams describes a new version of an existing group.
type VersionParams struct {
	Description     string
	MarkdownContent string
	Summary         string
	ToolSteps       []skill.ToolStep
	AgentChain      []skill.AgentChainEntry
	SourceTaskID    string
	RelatedTaskIDs  []string
	InvolvedAgents  []string
	ComplexityScore int
	CreatedBy       string
	CreationReason  string
}

// CreateVersion adds a version to a group. setProduction atomically moves
// the production pointer to it.
func (s *Service) CreateVersion(ctx context.Context, groupID string, p VersionParams, setProduction bool) (*skill.Version, error) {
	group, err := s.store.GetGroup(ctx, groupID, false)
	if err != nil {
		return nil, err
	}

	version := &skill.Version{
		GroupID:         groupID,
		Description:     p.Description,
		MarkdownContent: p.MarkdownContent,
		Summary:         p.Summary,
		ToolSteps:       p.ToolSteps,
		AgentChain:      p.AgentChain,
		SourceTaskID:    p.SourceTaskID,
		RelatedTaskIDs:  p.RelatedTaskIDs,
		InvolvedAgents:  p.InvolvedAgents,
		ComplexityScore: p.ComplexityScore,
		CreatedBy:       p.CreatedBy,
		CreationReason:  p.CreationReason,
	}
	if err := s.store.CreateVersion(ctx, version, setProduction); err != nil {
		return nil, err
	}

	if setProduction {
		s.attachEmbedding(ctx, group, version)
	}

	return version, nil
}

// ImproveSkill creates a refined production version. The procedure (tool
// steps, agent chain, source task) is inherited from the current production
// version; only the narrative changes.
func (s *Service) ImproveSkill(ctx context.Context, groupID, markdown, summary, createdBy, reason string, relatedTaskID string) (*skill.Version, error) {
	group, err := s.store.GetGroup(ctx, groupID, false)
	if err != nil {
		return nil, err
	}
	if group.ProductionVersion == nil {
		return nil, store.ErrNotFound{Kind: "skill version", ID: group.ProductionVersionID}
	}
	prod := group.ProductionVersion

	related := append([]string{}, prod.RelatedTaskIDs...)
	if relatedTaskID != "" {
		related = appendUnique(related, relatedTaskID)
	}
	if summary == "" {
		summary = prod.Summary
	}

	return s.CreateVersion(ctx, groupID, VersionParams{
		Description:     prod.Description,
		MarkdownContent: markdown,
		Summary:         summary,
		ToolSteps:       prod.ToolSteps,
		AgentChain:      prod.AgentChain,
		SourceTaskID:    prod.SourceTaskID,
		RelatedTaskIDs:  related,
		InvolvedAgents:  prod.InvolvedAgents,
		ComplexityScore: prod.ComplexityScore,
		CreatedBy:       createdBy,
		CreationReason:  reason,
	}, true)
}

// RollbackToVersion moves the production pointer to an earlier version
// number. The version itself is untouched; rollback is just a pointer move.
func (s *Service) RollbackToVersion(ctx context.Context, groupID string, versionNumber int) (*skill.Version, error) {
	versions, err := s.store.ListVersions(ctx, groupID)
	if err != nil {
		return nil, err
	}

	for _, v := range versions {
		if v.Version == versionNumber {
			if err := s.store.SetProductionVersion(ctx, groupID, v.ID); err != nil {
				return nil, err
			}
			return v, nil
		}
	}
	return nil, store.ErrNotFound{Kind: "skill version", ID: fmt.Sprintf("%s v%d", groupID, versionNumber)}
}

// SearchResult pairs a group with its relevance score.
type SearchResult struct {
	Group *skill.Group
	Score float64
}

// SearchSkills performs case-insensitive substring matching over names and
// descriptions. A name hit scores 0.6, a description hit 0.4; both sum.
func (s *Service) SearchSkills(ctx context.Context, query string, f store.GroupFilter) ([]SearchResult, error) {
	groups, err := s.ListSkills(ctx, f)
	if err != nil {
		return nil, err
	}

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}

	var results []SearchResult
	for _, g := range groups {
		var score float64
		if strings.Contains(strings.ToLower(g.Name), q) {
			score += 0.6
		}
		if strings.Contains(strings.ToLower(g.Description), q) {
			score += 0.4
		}
		if score > 0 {
			results = append(results, SearchResult{Group: g, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// SemanticSearch ranks groups by cosine similarity between the query and
// each production version's embedding. When embeddings are unavailable or
// the embed call fails, it falls back to text search without surfacing the
// error to the caller.
func (s *Service) SemanticSearch(ctx context.Context, query string, f store.GroupFilter, topK int, minSimilarity float64) ([]SearchResult, error) {
	if s.embed == nil || !s.embed.Enabled() {
		return s.SearchSkills(ctx, query, f)
	}

	queryVec, err := s.embed.QueryEmbedding(ctx, query)
	if err != nil || len(queryVec) == 0 {
		s.logger.Debug("query embedding unavailable, using text search", zap.Error(err))
		return s.SearchSkills(ctx, query, f)
	}

	groups, err := s.store.ListGroups(ctx, f)
	if err != nil {
		return nil, err
	}

	if s.index != nil {
		results, err := s.searchIndex(ctx, queryVec, groups, topK, minSimilarity)
		if err == nil {
			return results, nil
		}
		s.logger.Warn("vector index query failed, scanning store", zap.Error(err))
	}

	byID := make(map[string]*skill.Group, len(groups))
	var candidates []embeddings.Candidate
	for _, g := range groups {
		if g.ProductionVersion == nil || len(g.ProductionVersion.Embedding) == 0 {
			continue
		}
		byID[g.ID] = g
		candidates = append(candidates, embeddings.Candidate{
			ID:        g.ID,
			Embedding: g.ProductionVersion.Embedding,
		})
	}

	if len(candidates) == 0 {
		return s.SearchSkills(ctx, query, f)
	}

	matches := embeddings.FindSimilar(queryVec, candidates, topK, minSimilarity)
	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{Group: byID[m.ID], Score: m.Score})
	}
	return results, nil
}

// searchIndex queries the vector index and keeps the best-scoring hit per
// group among the caller's filtered groups. The index holds one row per
// indexed version, so several versions of one group may come back.
func (s *Service) searchIndex(ctx context.Context, queryVec []float32, groups []*skill.Group, topK int, minSimilarity float64) ([]SearchResult, error) {
	byID := make(map[string]*skill.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}

	hits, err := s.index.Query(ctx, queryVec, topK*2)
	if err != nil {
		return nil, err
	}

	best := make(map[string]float64, len(hits))
	for _, h := range hits {
		score := float64(h.Score)
		if score < minSimilarity {
			continue
		}
		if _, ok := byID[h.GroupID]; !ok {
			continue
		}
		if score > best[h.GroupID] {
			best[h.GroupID] = score
		}
	}

	results := make([]SearchResult, 0, len(best))
	for groupID, score := range best {
		results = append(results, SearchResult{Group: byID[groupID], Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// SkillSummary is the progressive-disclosure line injected into prompts:
// enough to decide whether to read the full skill, nothing more.
type SkillSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SkillSummariesForPrompt returns the skills worth offering to an agent for
// the given task context. With a task context and embeddings it ranks
// semantically at the inject threshold; otherwise it returns the most
// recently updated skills.
func (s *Service) SkillSummariesForPrompt(ctx context.Context, f store.GroupFilter, taskContext string, limit int) ([]SkillSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	if taskContext != "" && s.embed != nil && s.embed.Enabled() {
		results, err := s.SemanticSearch(ctx, taskContext, f, limit, s.cfg.InjectThreshold)
		if err != nil {
			return nil, err
		}
		if len(results) > 0 {
			return toSummaries(results), nil
		}
	}

	f.Limit = limit
	groups, err := s.ListSkills(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(groups) > limit {
		groups = groups[:limit]
	}

	summaries := make([]SkillSummary, 0, len(groups))
	for _, g := range groups {
		summaries = append(summaries, SkillSummary{ID: g.ID, Name: g.Name, Description: g.Description})
	}
	return summaries, nil
}

func toSummaries(results []SearchResult) []SkillSummary {
	summaries := make([]SkillSummary, 0, len(results))
	for _, r := range results {
		summaries = append(summaries, SkillSummary{
			ID:          r.Group.ID,
			Name:        r.Group.Name,
			Description: r.Group.Description,
		})
	}
	return summaries
}

// ListSkills returns stored groups merged with static pseudo-groups, both
// subject to the filter. Static skills are global-scope and authored, so
// agent and user filters never exclude them; type/scope/category filters do.
func (s *Service) ListSkills(ctx context.Context, f store.GroupFilter) ([]*skill.Group, error) {
	groups, err := s.store.ListGroups(ctx, f)
	if err != nil {
		return nil, err
	}

	if s.static != nil {
		for _, g := range s.static.Groups() {
			if f.Type != "" && g.Type != f.Type {
				continue
			}
			if f.Scope != "" && g.Scope != f.Scope {
				continue
			}
			if f.Category != "" && g.Category != f.Category {
				continue
			}
			groups = append(groups, g)
		}
	}

	if f.Limit > 0 && len(groups) > f.Limit {
		groups = groups[:f.Limit]
	}
	return groups, nil
}

// GetSkill resolves a group by id or name, falling back to static
// pseudo-groups. Names are only unique per owner, so an unqualified name
// can match several groups: the caller's agent wins when given, otherwise
// unowned (shared or global) groups beat agent-owned ones, and remaining
// ties resolve to the oldest group so repeat reads stay stable.
func (s *Service) GetSkill(ctx context.Context, id, agentName string, includeVersions bool) (*skill.Group, error) {
	group, err := s.store.GetGroup(ctx, id, includeVersions)
	if err == nil {
		return group, nil
	}
	if !store.IsNotFound(err) {
		return nil, err
	}

	// Fall back to name resolution; skill_read callers pass either.
	groups, lerr := s.store.ListGroups(ctx, store.GroupFilter{})
	if lerr == nil {
		var best *skill.Group
		for _, g := range groups {
			if g.Name != id {
				continue
			}
			if agentName != "" && g.OwnerAgentName == agentName {
				best = g
				break
			}
			if best == nil || preferByName(g, best) {
				best = g
			}
		}
		if best != nil {
			return s.store.GetGroup(ctx, best.ID, includeVersions)
		}
	}

	if s.static != nil {
		for _, g := range s.static.Groups() {
			if g.ID == id || g.Name == id {
				return g, nil
			}
		}
	}
	return nil, err
}

func preferByName(g, over *skill.Group) bool {
	if (g.OwnerAgentName == "") != (over.OwnerAgentName == "") {
		return g.OwnerAgentName == ""
	}
	if !g.CreatedAt.Equal(over.CreatedAt) {
		return g.CreatedAt.Before(over.CreatedAt)
	}
	return g.ID < over.ID
}

// CanUserEdit reports whether the user may modify the group. Static skills
// are read-only. A user-scoped group is editable by its owner or a user
// holding an owner/editor grant. Groups without a user owner are editable.
func (s *Service) CanUserEdit(ctx context.Context, group *skill.Group, userID string) (bool, error) {
	if strings.HasPrefix(group.ID, "static:") {
		return false, nil
	}
	if group.OwnerUserID == "" {
		return true, nil
	}
	if group.OwnerUserID == userID {
		return true, nil
	}

	grant, err := s.store.GetGroupUser(ctx, group.ID, userID)
	if err != nil {
		if store.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return grant.Role == skill.RoleOwner || grant.Role == skill.RoleEditor, nil
}

// RecordUsage persists a usage row; the store bumps the group's outcome
// counters as a side effect.
func (s *Service) RecordUsage(ctx context.Context, u *skill.Usage) error {
	return s.store.AddUsage(ctx, u)
}

// AppendRelatedTask records a task on the group's production version.
func (s *Service) AppendRelatedTask(ctx context.Context, groupID, taskID string) error {
	group, err := s.store.GetGroup(ctx, groupID, false)
	if err != nil {
		return err
	}
	if group.ProductionVersionID == "" {
		return errors.New("group has no production version")
	}
	return s.store.AppendRelatedTask(ctx, group.ProductionVersionID, taskID)
}

// Store exposes the underlying store for callers that need raw access, such
// as the CLI.
func (s *Service) Store() store.Store {
	return s.store
}

func (s *Service) attachEmbedding(ctx context.Context, group *skill.Group, version *skill.Version) {
	if s.embed == nil || !s.embed.Enabled() {
		return
	}

	vec, err := s.embed.SkillEmbedding(ctx, group.Name, version.Description, version.Summary)
	if err != nil || len(vec) == 0 {
		s.logger.Warn("skill embedding failed",
			zap.String("group_id", group.ID), zap.Error(err))
		return
	}
	if err := s.store.AttachEmbedding(ctx, version.ID, vec); err != nil {
		s.logger.Warn("embedding attach failed",
			zap.String("version_id", version.ID), zap.Error(err))
		return
	}
	version.Embedding = vec

	if s.index != nil {
		doc := vector.Document{ID: version.ID, GroupID: group.ID, Embedding: vec}
		if err := s.index.Add(ctx, []vector.Document{doc}); err != nil {
			s.logger.Warn("vector index add failed",
				zap.String("version_id", version.ID), zap.Error(err))
		}
	}
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
