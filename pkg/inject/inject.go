// Package inject builds the skill material that reaches agent prompts:
// compact summaries up front, full skill bodies on demand.
package inject

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
)

// Injector renders skill summaries into prompt fragments and serves full
// skill reads. Reads always return well-formed JSON: the consumer is an LLM
// tool call that must get a parseable response either way.
type Injector struct {
	service *service.Service
	logger  *zap.Logger
}

// New creates an Injector.
func New(svc *service.Service, logger *zap.Logger) *Injector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Injector{service: svc, logger: logger}
}

// PromptFragment returns the skills block for an agent's system prompt, or
// "" when no skills apply. Only id, name, and description are disclosed;
// the agent calls skill_read for the full procedure.
func (i *Injector) PromptFragment(ctx context.Context, agentName, userID, taskContext string, limit int) (string, error) {
	summaries, err := i.service.SkillSummariesForPrompt(ctx, store.GroupFilter{
		AgentName: agentName,
		UserID:    userID,
	}, taskContext, limit)
	if err != nil {
		return "", err
	}
	if len(summaries) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("## Available Skills\n\n")
	b.WriteString("You have learned skills from previous tasks. Call skill_read with a skill id to get its full instructions before using it.\n\n")
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s (%s): %s\n", s.Name, s.ID, s.Description)
	}
	return b.String(), nil
}

// SkillReadResult is the full-detail payload returned by SkillRead.
type SkillReadResult struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Description      string                  `json:"description"`
	Category         string                  `json:"category,omitempty"`
	Version          int                     `json:"version"`
	MarkdownContent  string                  `json:"markdown_content"`
	Summary          string                  `json:"summary,omitempty"`
	ToolSteps        []skill.ToolStep        `json:"tool_steps,omitempty"`
	AgentChain       []skill.AgentChainEntry `json:"agent_chain,omitempty"`
	ResourceManifest []string                `json:"resource_manifest,omitempty"`
	Error            string                  `json:"error,omitempty"`
}

// SkillRead resolves a skill by id or name and returns its production
// version as JSON. Names are only unique per owner; agentName, when known,
// disambiguates same-named skills in the caller's favor. A missing skill
// yields {"error": "Skill not found: ..."} with a nil error, never a
// failure.
func (i *Injector) SkillRead(ctx context.Context, idOrName, agentName string) (json.RawMessage, error) {
	group, err := i.service.GetSkill(ctx, idOrName, agentName, false)
	if err != nil {
		if store.IsNotFound(err) {
			return marshalResult(SkillReadResult{
				Error: "Skill not found: " + idOrName,
			})
		}
		return nil, err
	}

	result := SkillReadResult{
		ID:          group.ID,
		Name:        group.Name,
		Description: group.Description,
		Category:    group.Category,
	}
	if prod := group.ProductionVersion; prod != nil {
		result.Version = prod.Version
		result.MarkdownContent = prod.MarkdownContent
		result.Summary = prod.Summary
		result.ToolSteps = prod.ToolSteps
		result.AgentChain = prod.AgentChain
		result.ResourceManifest = prod.ResourceManifest
	}
	return marshalResult(result)
}

func marshalResult(r SkillReadResult) (json.RawMessage, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal skill read result: %w", err)
	}
	return data, nil
}
