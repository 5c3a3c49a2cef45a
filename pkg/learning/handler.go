// Package learning is the broker-driven skill learning pipeline: the
// message handler reacts to task and feedback events, the worker drains the
// learning queue in batches.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/bus"
	"github.com/skillmesh/skillmesh/pkg/feedback"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/trace"
)

// HandlerConfig controls message handling behavior.
type HandlerConfig struct {
	// PassiveLearning enables learning from plain task-completed events.
	// Nominations are always processed.
	PassiveLearning bool
}

// TaskPayload is the inbound shape for nomination and task-completed
// messages.
type TaskPayload struct {
	TaskID           string         `json:"task_id"`
	AgentName        string         `json:"agent_name"`
	UserID           string         `json:"user_id,omitempty"`
	Success          *bool          `json:"success,omitempty"`
	Events           []trace.Event  `json:"events,omitempty"`
	NominationReason string         `json:"nomination_reason,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// SearchRequest is the inbound shape for correlated search messages.
type SearchRequest struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
	AgentName string `json:"agent_name,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// SearchResponse is the correlated reply published for a SearchRequest.
type SearchResponse struct {
	RequestID string        `json:"request_id"`
	Results   []SearchMatch `json:"results"`
}

// SearchMatch is one scored hit in a SearchResponse.
type SearchMatch struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// Handler dispatches inbound broker messages into the learning pipeline.
// Message handling stays cheap: analysis and enqueueing only. LLM work
// happens in the Worker's batch loop.
type Handler struct {
	store    store.Store
	analyzer *trace.Analyzer
	service  *service.Service
	feedback *feedback.Processor
	events   EventSource
	pub      bus.Publisher
	cfg      HandlerConfig
	logger   *zap.Logger
}

// NewHandler creates a Handler. pub may be nil (events are then dropped).
func NewHandler(st store.Store, analyzer *trace.Analyzer, svc *service.Service, fb *feedback.Processor, events EventSource, pub bus.Publisher, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = bus.NopPublisher{}
	}
	if events == nil {
		events = NewMemoryEvents()
	}
	return &Handler{
		store:    st,
		analyzer: analyzer,
		service:  svc,
		feedback: fb,
		events:   events,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
	}
}

// Events exposes the handler's event source so the worker can share it.
func (h *Handler) Events() EventSource { return h.events }

// HandleMessage routes one inbound message by topic substring. Unknown
// topics are logged and ignored; a malformed payload is an error, an
// unrecognized topic is not.
func (h *Handler) HandleMessage(ctx context.Context, topic string, payload []byte) error {
	switch {
	case strings.Contains(topic, bus.FragmentNominate):
		return h.handleNomination(ctx, payload)
	case strings.Contains(topic, bus.FragmentTaskCompleted):
		if !h.cfg.PassiveLearning {
			return nil
		}
		return h.handleTaskCompleted(ctx, payload)
	case strings.Contains(topic, bus.FragmentFeedback):
		return h.handleFeedback(ctx, payload)
	case strings.Contains(topic, bus.FragmentSearchRequest):
		_, err := h.HandleSearchRequest(ctx, payload)
		return err
	default:
		h.logger.Info("ignoring message on unknown topic", zap.String("topic", topic))
		return nil
	}
}

// handleNomination enqueues an agent-nominated task for learning. Nominated
// tasks are trusted: the only rejection reason is a failed task. Complexity
// heuristics that would gate passive learning are skipped.
func (h *Handler) handleNomination(ctx context.Context, payload []byte) error {
	var p TaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal nomination: %w", err)
	}
	if p.TaskID == "" || p.AgentName == "" {
		return fmt.Errorf("nomination requires task_id and agent_name")
	}

	analysis := h.analyzer.Analyze(p.TaskID, p.Events, metadataWithSuccess(p.Metadata, p.Success))
	if !analysis.Success {
		h.logger.Info("nomination rejected",
			zap.String("task_id", p.TaskID),
			zap.String("reason", trace.SkipNotSuccessful))
		return nil
	}

	h.events.Record(p.TaskID, p.Events)
	return h.enqueue(ctx, &p)
}

// handleTaskCompleted is the passive path: it requires an explicit success
// flag and applies the analyzer's full learnability verdict.
func (h *Handler) handleTaskCompleted(ctx context.Context, payload []byte) error {
	var p TaskPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal task completion: %w", err)
	}
	if p.TaskID == "" || p.AgentName == "" {
		return fmt.Errorf("task completion requires task_id and agent_name")
	}
	if p.Success == nil || !*p.Success {
		return nil
	}

	analysis := h.analyzer.Analyze(p.TaskID, p.Events, metadataWithSuccess(p.Metadata, p.Success))
	if !analysis.IsLearnable {
		h.logger.Debug("task not learnable",
			zap.String("task_id", p.TaskID),
			zap.String("reason", analysis.SkipReason))
		return nil
	}

	h.events.Record(p.TaskID, p.Events)
	return h.enqueue(ctx, &p)
}

func (h *Handler) enqueue(ctx context.Context, p *TaskPayload) error {
	item := &skill.QueueItem{
		TaskID:    p.TaskID,
		AgentName: p.AgentName,
		UserID:    p.UserID,
	}
	if err := h.store.EnqueueLearning(ctx, item); err != nil {
		return fmt.Errorf("enqueue learning: %w", err)
	}

	h.publishJSON(ctx, bus.TopicLearningQueued, map[string]string{
		"queue_id":   item.ID,
		"task_id":    p.TaskID,
		"agent_name": p.AgentName,
	})

	h.logger.Info("task queued for learning",
		zap.String("task_id", p.TaskID),
		zap.String("agent", p.AgentName))
	return nil
}

func (h *Handler) handleFeedback(ctx context.Context, payload []byte) error {
	var in feedback.Input
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("unmarshal feedback: %w", err)
	}
	if !skill.ValidFeedbackType(in.Type) {
		h.logger.Info("dropping feedback with unknown type",
			zap.String("type", string(in.Type)))
		return nil
	}
	if h.feedback == nil {
		return nil
	}
	return h.feedback.Process(ctx, in)
}

// HandleSearchRequest runs a search and publishes the correlated response.
// The response is also returned for in-process callers.
func (h *Handler) HandleSearchRequest(ctx context.Context, payload []byte) (*SearchResponse, error) {
	var req SearchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("unmarshal search request: %w", err)
	}

	filter := store.GroupFilter{
		AgentName: req.AgentName,
		UserID:    req.UserID,
		Scope:     skill.Scope(req.Scope),
		Limit:     req.Limit,
	}
	results, err := h.service.SearchSkills(ctx, req.Query, filter)
	if err != nil {
		return nil, fmt.Errorf("search skills: %w", err)
	}

	resp := &SearchResponse{RequestID: req.RequestID, Results: []SearchMatch{}}
	for _, r := range results {
		resp.Results = append(resp.Results, SearchMatch{
			ID:          r.Group.ID,
			Name:        r.Group.Name,
			Description: r.Group.Description,
			Score:       r.Score,
		})
	}

	h.publishJSON(ctx, bus.SearchResponseTopic(req.RequestID), resp)
	return resp, nil
}

func (h *Handler) publishJSON(ctx context.Context, topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Warn("marshal event payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := h.pub.Publish(ctx, topic, data); err != nil {
		h.logger.Warn("publish event", zap.String("topic", topic), zap.Error(err))
	}
}

func metadataWithSuccess(metadata map[string]any, success *bool) map[string]any {
	if success == nil {
		return metadata
	}
	out := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		out[k] = v
	}
	out["success"] = *success
	return out
}
