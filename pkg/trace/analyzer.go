package trace

import (
	"fmt"
)

const (
	// DefaultMinToolCalls is the minimum tool-call count for a task to be
	// considered learnable.
	DefaultMinToolCalls = 1

	// DefaultMaxToolCalls is the maximum tool-call count for a task to be
	// considered learnable.
	DefaultMaxToolCalls = 50

	// maxComplexityScore caps the computed complexity score.
	maxComplexityScore = 100

	// SkipNotSuccessful is the skip reason for failed tasks. The nomination
	// path rejects on exactly this reason and no other.
	SkipNotSuccessful = "Task was not successful"
)

// Config tunes the analyzer's filtering and learnability rules.
type Config struct {
	// MinToolCalls and MaxToolCalls bound the learnable tool-call range.
	// Zero values fall back to the defaults.
	MinToolCalls int
	MaxToolCalls int

	// ExcludedTools are tool names left out of per-agent invocation lists.
	ExcludedTools []string

	// ExcludedAgents never count as delegation targets and, when they are
	// the only agents present, make the task unlearnable.
	ExcludedAgents []string
}

// Analyzer derives a TaskAnalysis from a raw event stream. It is a pure
// function over its inputs: no I/O, no side effects.
type Analyzer struct {
	minToolCalls   int
	maxToolCalls   int
	excludedTools  map[string]bool
	excludedAgents map[string]bool
}

// NewAnalyzer creates an analyzer with the given config.
func NewAnalyzer(cfg Config) *Analyzer {
	a := &Analyzer{
		minToolCalls:   cfg.MinToolCalls,
		maxToolCalls:   cfg.MaxToolCalls,
		excludedTools:  make(map[string]bool, len(cfg.ExcludedTools)),
		excludedAgents: make(map[string]bool, len(cfg.ExcludedAgents)),
	}
	if a.minToolCalls == 0 {
		a.minToolCalls = DefaultMinToolCalls
	}
	if a.maxToolCalls == 0 {
		a.maxToolCalls = DefaultMaxToolCalls
	}
	for _, t := range cfg.ExcludedTools {
		a.excludedTools[t] = true
	}
	for _, ag := range cfg.ExcludedAgents {
		a.excludedAgents[ag] = true
	}
	return a
}

// Analyze turns a task's ordered event stream into a TaskAnalysis.
// Metadata keys "user_request" (string) and "success" (bool) override what
// the events themselves say.
func (a *Analyzer) Analyze(taskID string, events []Event, metadata map[string]any) *TaskAnalysis {
	analysis := &TaskAnalysis{
		TaskID:      taskID,
		UserRequest: extractUserRequest(events, metadata),
		Success:     resolveSuccess(events, metadata),
	}

	analysis.AgentExecutions = a.groupByAgent(events)
	analysis.TotalAgents = len(analysis.AgentExecutions)
	for _, exec := range analysis.AgentExecutions {
		analysis.TotalToolCalls += len(exec.ToolInvocations)
	}

	depth := maxDelegationDepth(analysis.AgentExecutions)
	analysis.ComplexityScore = complexityScore(analysis.TotalAgents, analysis.TotalToolCalls, depth)

	analysis.IsLearnable, analysis.SkipReason = a.verdict(analysis)
	return analysis
}

func extractUserRequest(events []Event, metadata map[string]any) string {
	if req, ok := metadata["user_request"].(string); ok && req != "" {
		return req
	}
	for _, e := range events {
		if (e.Type == EventUserMessage || e.Type == EventTaskStart) && e.Content != "" {
			return e.Content
		}
	}
	return ""
}

func resolveSuccess(events []Event, metadata map[string]any) bool {
	if ok, isBool := metadata["success"].(bool); isBool {
		return ok
	}

	// Last terminal event wins.
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if !e.terminal() {
			continue
		}
		switch e.Type {
		case EventTaskFailed, EventError:
			return false
		case EventTaskComplete:
			if e.Success != nil {
				return *e.Success
			}
			return true
		}
	}
	return true
}

// groupByAgent builds per-agent execution records in first-seen order.
// Events without an agent name (pure user messages, terminal markers) are
// excluded from grouping.
func (a *Analyzer) groupByAgent(events []Event) []*AgentExecution {
	var order []string
	byAgent := make(map[string]*AgentExecution)

	for _, e := range events {
		if e.AgentName == "" {
			continue
		}

		exec, seen := byAgent[e.AgentName]
		if !seen {
			exec = &AgentExecution{AgentName: e.AgentName}
			byAgent[e.AgentName] = exec
			order = append(order, e.AgentName)
		}
		if e.TaskID != "" && exec.TaskID == "" {
			exec.TaskID = e.TaskID
		}
		if e.ParentTaskID != "" && exec.ParentTaskID == "" {
			exec.ParentTaskID = e.ParentTaskID
		}

		switch e.Type {
		case EventToolCall:
			if e.ToolName == "" || a.excludedTools[e.ToolName] {
				continue
			}
			success := e.Success == nil || *e.Success
			exec.ToolInvocations = append(exec.ToolInvocations, ToolInvocation{
				ToolName:   e.ToolName,
				Parameters: e.Parameters,
				Success:    success,
				Sequence:   len(exec.ToolInvocations) + 1,
			})
			if !contains(exec.ToolsUsed, e.ToolName) {
				exec.ToolsUsed = append(exec.ToolsUsed, e.ToolName)
			}
		case EventDelegation:
			if e.DelegatedTo == "" || a.excludedAgents[e.DelegatedTo] {
				continue
			}
			if !contains(exec.DelegatedTo, e.DelegatedTo) {
				exec.DelegatedTo = append(exec.DelegatedTo, e.DelegatedTo)
			}
		}
	}

	execs := make([]*AgentExecution, 0, len(order))
	for _, name := range order {
		exec := byAgent[name]
		exec.Role = role(exec)
		if exec.ToolsUsed == nil {
			exec.ToolsUsed = []string{}
		}
		execs = append(execs, exec)
	}
	return execs
}

func role(exec *AgentExecution) string {
	if len(exec.DelegatedTo) > 0 {
		return RoleOrchestrator
	}
	if exec.ParentTaskID != "" {
		return RoleSpecialist
	}
	return RoleLeaf
}

// maxDelegationDepth walks parent_task_id links among the discovered
// executions. The walk is cycle-safe: it stops when no execution claims the
// parent task id or when a task id repeats.
func maxDelegationDepth(execs []*AgentExecution) int {
	byTask := make(map[string]*AgentExecution, len(execs))
	for _, exec := range execs {
		if exec.TaskID != "" {
			byTask[exec.TaskID] = exec
		}
	}

	maxDepth := 0
	for _, exec := range execs {
		depth := 0
		visited := map[string]bool{}
		cur := exec
		for cur.ParentTaskID != "" && !visited[cur.ParentTaskID] {
			visited[cur.ParentTaskID] = true
			parent, ok := byTask[cur.ParentTaskID]
			if !ok {
				break
			}
			depth++
			cur = parent
		}
		if depth > maxDepth {
			maxDepth = depth
		}
	}
	return maxDepth
}

func complexityScore(agents, toolCalls, depth int) int {
	score := 10*agents + 2*toolCalls + 5*depth
	if score > maxComplexityScore {
		score = maxComplexityScore
	}
	return score
}

// verdict applies the learnability rules in order.
func (a *Analyzer) verdict(analysis *TaskAnalysis) (bool, string) {
	if !analysis.Success {
		return false, SkipNotSuccessful
	}
	if analysis.TotalToolCalls < a.minToolCalls {
		return false, fmt.Sprintf("Too few tool calls (%d < %d)", analysis.TotalToolCalls, a.minToolCalls)
	}
	if analysis.TotalToolCalls > a.maxToolCalls {
		return false, fmt.Sprintf("Too many tool calls (%d > %d)", analysis.TotalToolCalls, a.maxToolCalls)
	}
	if len(analysis.AgentExecutions) == 0 {
		return false, "No agent executions found"
	}

	allExcluded := true
	for _, exec := range analysis.AgentExecutions {
		if !a.excludedAgents[exec.AgentName] {
			allExcluded = false
			break
		}
	}
	if allExcluded {
		return false, "All involved agents are excluded from learning"
	}

	return true, ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
