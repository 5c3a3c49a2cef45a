package trace

// AgentRole classifies an agent's part in a task.
const (
	RoleOrchestrator = "orchestrator"
	RoleSpecialist   = "specialist"
	RoleLeaf         = "leaf"
)

// ToolInvocation is one tool call made by an agent, in stream order.
type ToolInvocation struct {
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Success    bool           `json:"success"`
	Sequence   int            `json:"sequence"`
}

// AgentExecution summarizes one agent's activity within a task.
type AgentExecution struct {
	AgentName       string           `json:"agent_name"`
	TaskID          string           `json:"task_id,omitempty"`
	ParentTaskID    string           `json:"parent_task_id,omitempty"`
	Role            string           `json:"role"`
	ToolsUsed       []string         `json:"tools_used"`
	DelegatedTo     []string         `json:"delegated_to,omitempty"`
	ToolInvocations []ToolInvocation `json:"tool_invocations,omitempty"`
}

// TaskAnalysis is the structured, ephemeral result of analyzing a task's
// event stream. It is consumed once by the learning pipeline and never
// persisted.
type TaskAnalysis struct {
	TaskID          string            `json:"task_id"`
	UserRequest     string            `json:"user_request"`
	Success         bool              `json:"success"`
	AgentExecutions []*AgentExecution `json:"agent_executions"`
	TotalToolCalls  int               `json:"total_tool_calls"`
	TotalAgents     int               `json:"total_agents"`
	ComplexityScore int               `json:"complexity_score"`
	IsLearnable     bool              `json:"is_learnable"`
	SkipReason      string            `json:"skip_reason,omitempty"`
}

// Execution returns the execution record for the named agent, or nil.
func (a *TaskAnalysis) Execution(agentName string) *AgentExecution {
	for _, exec := range a.AgentExecutions {
		if exec.AgentName == agentName {
			return exec
		}
	}
	return nil
}
