// Package extractor turns analyzed task traces into skill drafts via an LLM.
package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/llm"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/trace"
)

const defaultRetries = 3

// maxPromptChars truncates very large trace renderings before the LLM call.
const maxPromptChars = 30000

// Config tunes the extractor.
type Config struct {
	// Retries bounds LLM attempts per call; <= 0 selects the default of 3.
	Retries int
}

// Draft is the LLM's proposal for a new skill, before it is persisted.
type Draft struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	Category        string `json:"category"`
	Summary         string `json:"summary"`
	MarkdownContent string `json:"markdown_content"`
	ShouldExtract   bool   `json:"should_extract"`
	Reason          string `json:"reason"`

	// Assembled deterministically from the trace, not from the LLM.
	ToolSteps  []skill.ToolStep        `json:"-"`
	AgentChain []skill.AgentChainEntry `json:"-"`
}

// Extractor drafts skills from task analyses via an LLM call.
type Extractor struct {
	llmCall llm.CallFunc
	retries int
	logger  *zap.Logger
}

// New creates an Extractor. A nil logger disables logging.
func New(llmCall llm.CallFunc, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	return &Extractor{llmCall: llmCall, retries: cfg.Retries, logger: logger}
}

// Extract drafts a skill from a learnable task analysis. The LLM names and
// documents the skill; tool steps and the agent chain come straight from the
// trace. With no LLM configured Extract builds a heuristic draft instead.
// When a configured LLM stays unreachable or keeps returning garbage across
// all retries, Extract yields a declined draft rather than a heuristic one:
// an outage should not mint skills no model ever reviewed.
func (e *Extractor) Extract(ctx context.Context, analysis *trace.TaskAnalysis) (*Draft, error) {
	if analysis == nil {
		return nil, fmt.Errorf("nil analysis")
	}

	if e.llmCall == nil {
		draft := heuristicDraft(analysis)
		attachTraceData(draft, analysis)
		return draft, nil
	}

	basePrompt := buildExtractPrompt(analysis)

	var lastErr error
	for attempt := range e.retries {
		prompt := basePrompt
		if attempt > 0 {
			prompt += "\n\nReturn ONLY valid JSON, no markdown."
			e.logger.Debug("retrying skill extraction",
				zap.String("task_id", analysis.TaskID),
				zap.Int("attempt", attempt+1))
		}

		response, err := e.llmCall(ctx, prompt)
		if err != nil {
			lastErr = fmt.Errorf("llm call (attempt %d): %w", attempt+1, err)
			continue
		}

		draft, err := parseDraftResponse(response)
		if err != nil {
			lastErr = fmt.Errorf("parse response (attempt %d): %w", attempt+1, err)
			continue
		}

		if !draft.ShouldExtract {
			e.logger.Info("llm declined extraction",
				zap.String("task_id", analysis.TaskID),
				zap.String("reason", draft.Reason))
			return draft, nil
		}

		draft.Name = normalizeName(draft.Name)
		if draft.Name == "" {
			lastErr = fmt.Errorf("llm returned empty skill name (attempt %d)", attempt+1)
			continue
		}

		attachTraceData(draft, analysis)
		return draft, nil
	}

	e.logger.Warn("skill extraction exhausted retries, no draft produced",
		zap.String("task_id", analysis.TaskID),
		zap.Error(lastErr))

	return &Draft{
		ShouldExtract: false,
		Reason:        fmt.Sprintf("extraction failed: %v", lastErr),
	}, nil
}

// Refine produces a revised markdown body for an existing skill version from
// accumulated correction feedback. Tool steps and the agent chain are never
// touched: corrections refine the instructions, not the observed execution.
func (e *Extractor) Refine(ctx context.Context, v *skill.Version, corrections []string) (string, error) {
	if e.llmCall == nil {
		return "", fmt.Errorf("no llm configured")
	}
	if len(corrections) == 0 {
		return "", fmt.Errorf("no corrections to apply")
	}

	basePrompt := buildRefinePrompt(v, corrections)

	var lastErr error
	for attempt := range e.retries {
		prompt := basePrompt
		if attempt > 0 {
			prompt += "\n\nReturn ONLY valid JSON, no markdown."
		}

		response, err := e.llmCall(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("llm call: %w", err)
		}

		var refined struct {
			MarkdownContent string `json:"markdown_content"`
		}
		if err := json.Unmarshal([]byte(extractJSON(response)), &refined); err != nil {
			lastErr = fmt.Errorf("parse response (attempt %d): %w", attempt+1, err)
			continue
		}
		if strings.TrimSpace(refined.MarkdownContent) == "" {
			lastErr = fmt.Errorf("llm returned empty markdown (attempt %d)", attempt+1)
			continue
		}

		return refined.MarkdownContent, nil
	}

	return "", lastErr
}

// Merge folds a newly observed execution into an existing skill's markdown.
// Used when a new task is similar enough to refine an existing skill but not
// similar enough to be a plain duplicate.
func (e *Extractor) Merge(ctx context.Context, v *skill.Version, analysis *trace.TaskAnalysis) (string, error) {
	if e.llmCall == nil {
		return "", fmt.Errorf("no llm configured")
	}

	rendered := renderAnalysis(analysis)
	if len(rendered) > maxPromptChars {
		rendered = rendered[:maxPromptChars]
	}
	basePrompt := fmt.Sprintf(`The following skill instructions cover a workflow similar to a newly observed execution. Rewrite the instructions to generalize over both.

Return ONLY valid JSON: {"markdown_content": "the full revised markdown body"}

Current instructions:
%s

New execution:
%s`, v.MarkdownContent, rendered)

	var lastErr error
	for attempt := range e.retries {
		prompt := basePrompt
		if attempt > 0 {
			prompt += "\n\nReturn ONLY valid JSON, no markdown."
		}

		response, err := e.llmCall(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("llm call: %w", err)
		}

		var merged struct {
			MarkdownContent string `json:"markdown_content"`
		}
		if err := json.Unmarshal([]byte(extractJSON(response)), &merged); err != nil {
			lastErr = fmt.Errorf("parse response (attempt %d): %w", attempt+1, err)
			continue
		}
		if strings.TrimSpace(merged.MarkdownContent) == "" {
			lastErr = fmt.Errorf("llm returned empty markdown (attempt %d)", attempt+1)
			continue
		}

		return merged.MarkdownContent, nil
	}

	return "", lastErr
}

func attachTraceData(draft *Draft, analysis *trace.TaskAnalysis) {
	seq := 0
	for _, exec := range analysis.AgentExecutions {
		for _, inv := range exec.ToolInvocations {
			seq++
			draft.ToolSteps = append(draft.ToolSteps, skill.ToolStep{
				AgentName:  exec.AgentName,
				ToolName:   inv.ToolName,
				Parameters: inv.Parameters,
				Sequence:   seq,
			})
		}
	}

	for _, exec := range analysis.AgentExecutions {
		draft.AgentChain = append(draft.AgentChain, skill.AgentChainEntry{
			AgentName:   exec.AgentName,
			Role:        exec.Role,
			Tools:       exec.ToolsUsed,
			DelegatedTo: exec.DelegatedTo,
		})
	}
}

// heuristicDraft builds a minimal draft without LLM help. The name comes from
// the first words of the user request, so repeat runs of the same request
// collide by name and merge instead of piling up duplicates.
func heuristicDraft(analysis *trace.TaskAnalysis) *Draft {
	name := heuristicName(analysis.UserRequest)
	if name == "" {
		name = "task-" + analysis.TaskID
	}

	var agents []string
	for _, exec := range analysis.AgentExecutions {
		agents = append(agents, exec.AgentName)
	}

	return &Draft{
		Name:          name,
		Description:   analysis.UserRequest,
		Category:      "general",
		Summary:       fmt.Sprintf("Workflow involving %s", strings.Join(agents, ", ")),
		ShouldExtract: true,
		Reason:        "heuristic fallback",
		MarkdownContent: fmt.Sprintf("# %s\n\n%s\n\nAgents involved: %s\n",
			name, analysis.UserRequest, strings.Join(agents, ", ")),
	}
}

func heuristicName(request string) string {
	words := strings.Fields(strings.ToLower(request))
	if len(words) > 3 {
		words = words[:3]
	}
	for i, w := range words {
		var b strings.Builder
		for _, r := range w {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
				b.WriteRune(r)
			}
		}
		words[i] = b.String()
	}

	var keep []string
	for _, w := range words {
		if w != "" {
			keep = append(keep, w)
		}
	}
	return strings.Join(keep, "-")
}

func normalizeName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	name = strings.ReplaceAll(name, " ", "-")
	name = strings.ReplaceAll(name, "_", "-")
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

func buildExtractPrompt(analysis *trace.TaskAnalysis) string {
	rendered := renderAnalysis(analysis)
	if len(rendered) > maxPromptChars {
		rendered = rendered[:maxPromptChars]
	}

	return fmt.Sprintf(`Analyze the following multi-agent task execution and decide whether it contains a reusable skill worth saving.

Return ONLY valid JSON with these fields:

{
  "should_extract": true,
  "reason": "One sentence on why this is (or is not) worth saving",
  "name": "short-kebab-case-name",
  "description": "A clear description with trigger phrases for when an agent should use this skill. Start with an action verb.",
  "category": "a one-word category like data, devops, research",
  "summary": "One or two sentences summarizing the workflow",
  "markdown_content": "Markdown body with step-by-step instructions in imperative form. Use ## headers and numbered steps."
}

Guidelines:
- Identify the reusable pattern/workflow from the execution
- Write a clear description with trigger phrases (e.g. "Use when exporting dashboards to CSV")
- Write step-by-step instructions in imperative form
- Focus on the generalizable technique, not task-specific details
- Set should_extract to false for one-off or trivial tasks

Task execution:
%s`, rendered)
}

func buildRefinePrompt(v *skill.Version, corrections []string) string {
	var b strings.Builder
	for i, c := range corrections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, c)
	}

	return fmt.Sprintf(`The following skill instructions have accumulated user corrections. Rewrite the instructions to incorporate them.

Return ONLY valid JSON: {"markdown_content": "the full revised markdown body"}

Current instructions:
%s

Corrections to incorporate:
%s`, v.MarkdownContent, b.String())
}

func renderAnalysis(analysis *trace.TaskAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User request: %s\n", analysis.UserRequest)
	fmt.Fprintf(&b, "Outcome: success=%t\n", analysis.Success)
	fmt.Fprintf(&b, "Agents: %d, tool calls: %d, complexity: %d\n\n",
		analysis.TotalAgents, analysis.TotalToolCalls, analysis.ComplexityScore)

	for _, exec := range analysis.AgentExecutions {
		fmt.Fprintf(&b, "Agent %s (%s)\n", exec.AgentName, exec.Role)
		if len(exec.DelegatedTo) > 0 {
			fmt.Fprintf(&b, "  delegated to: %s\n", strings.Join(exec.DelegatedTo, ", "))
		}
		for _, inv := range exec.ToolInvocations {
			fmt.Fprintf(&b, "  tool %s: success=%t\n", inv.ToolName, inv.Success)
			if len(inv.Parameters) > 0 {
				if data, err := json.Marshal(inv.Parameters); err == nil {
					fmt.Fprintf(&b, "    params: %s\n", data)
				}
			}
		}
	}
	return b.String()
}

func parseDraftResponse(response string) (*Draft, error) {
	var draft Draft
	if err := json.Unmarshal([]byte(extractJSON(response)), &draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft JSON: %w", err)
	}
	return &draft, nil
}

// extractJSON pulls the outermost JSON object out of a response that may be
// wrapped in markdown fences or prose.
func extractJSON(response string) string {
	if idx := strings.Index(response, "{"); idx >= 0 {
		endIdx := strings.LastIndex(response, "}")
		if endIdx > idx {
			return response[idx : endIdx+1]
		}
	}
	return response
}
