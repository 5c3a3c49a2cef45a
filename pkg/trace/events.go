// Package trace turns raw agent task event streams into structured task
// analyses: which agents ran, what tools they invoked, how work was
// delegated, and whether the task is worth learning a skill from.
package trace

// Event types emitted by the agent host.
const (
	EventUserMessage  = "user_message"
	EventTaskStart    = "task_start"
	EventToolCall     = "tool_call"
	EventDelegation   = "delegation"
	EventTaskComplete = "task_complete"
	EventTaskFailed   = "task_failed"
	EventError        = "error"
)

// Event is one entry of a task's ordered event stream. The shape is loose
// on purpose: hosts populate the fields relevant to each event type.
type Event struct {
	Type         string         `json:"event_type"`
	AgentName    string         `json:"agent_name,omitempty"`
	ToolName     string         `json:"tool_name,omitempty"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Content      string         `json:"content,omitempty"`
	Success      *bool          `json:"success,omitempty"`
	TaskID       string         `json:"task_id,omitempty"`
	ParentTaskID string         `json:"parent_task_id,omitempty"`
	DelegatedTo  string         `json:"delegated_to,omitempty"`
}

func (e *Event) terminal() bool {
	switch e.Type {
	case EventTaskComplete, EventTaskFailed, EventError:
		return true
	}
	return false
}
