package learning

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/bus"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/skill/extractor"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/trace"
)

// WorkerConfig tunes the queue-draining loop.
type WorkerConfig struct {
	// BatchSize caps items per iteration. Zero means 10.
	BatchSize int
	// Interval between iterations. Zero means 60s.
	Interval time.Duration
	// MergeThreshold: similarity above this is a duplicate of an existing
	// skill. Zero means 0.9.
	MergeThreshold float64
	// RefineThreshold: similarity above this (but at or below merge)
	// refines the existing skill. Zero means 0.7.
	RefineThreshold float64
}

func (c *WorkerConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.MergeThreshold <= 0 {
		c.MergeThreshold = 0.9
	}
	if c.RefineThreshold <= 0 {
		c.RefineThreshold = 0.7
	}
}

// Worker drains the learning queue, deciding per item whether a task is a
// duplicate of an existing skill, a refinement of one, or a new skill.
//
// The claim is a conditional status update, not a lock: the design assumes a
// single worker instance per queue.
type Worker struct {
	store     store.Store
	analyzer  *trace.Analyzer
	service   *service.Service
	extractor *extractor.Extractor
	events    EventSource
	pub       bus.Publisher
	cfg       WorkerConfig
	logger    *zap.Logger
}

// NewWorker creates a Worker sharing the handler's event source.
func NewWorker(st store.Store, analyzer *trace.Analyzer, svc *service.Service, ext *extractor.Extractor, events EventSource, pub bus.Publisher, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pub == nil {
		pub = bus.NopPublisher{}
	}
	if events == nil {
		events = NewMemoryEvents()
	}
	cfg.applyDefaults()
	return &Worker{
		store:     st,
		analyzer:  analyzer,
		service:   svc,
		extractor: ext,
		events:    events,
		pub:       pub,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run polls the queue until the context is canceled. The first iteration
// runs immediately.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := w.ProcessQueue(ctx, w.cfg.BatchSize); err != nil {
			w.logger.Error("queue iteration failed", zap.Error(err))
		} else if n > 0 {
			w.logger.Info("processed learning queue batch", zap.Int("items", n))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessQueue claims and processes up to batchSize pending items. One
// item's failure marks that item failed and moves on; it never aborts the
// batch. Returns the number of items claimed.
func (w *Worker) ProcessQueue(ctx context.Context, batchSize int) (int, error) {
	items, err := w.store.PendingQueueItems(ctx, batchSize)
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, item := range items {
		claimed, err := w.store.ClaimQueueItem(ctx, item.ID)
		if err != nil {
			w.logger.Warn("claim failed", zap.String("queue_id", item.ID), zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}
		processed++

		if err := w.processItem(ctx, item); err != nil {
			w.logger.Warn("learning item failed",
				zap.String("queue_id", item.ID),
				zap.String("task_id", item.TaskID),
				zap.Error(err))
			if failErr := w.store.FailQueueItem(ctx, item.ID, err.Error()); failErr != nil {
				w.logger.Error("mark failed", zap.String("queue_id", item.ID), zap.Error(failErr))
			}
			w.publishJSON(ctx, bus.TopicLearningFailed, map[string]string{
				"queue_id": item.ID,
				"task_id":  item.TaskID,
				"error":    err.Error(),
			})
			continue
		}

		if err := w.store.CompleteQueueItem(ctx, item.ID); err != nil {
			w.logger.Error("mark completed", zap.String("queue_id", item.ID), zap.Error(err))
			continue
		}
		w.publishJSON(ctx, bus.TopicLearningCompleted, map[string]string{
			"queue_id": item.ID,
			"task_id":  item.TaskID,
		})
	}

	return processed, nil
}

// processItem re-analyzes the task and runs the similarity-gated decision:
// duplicate, refinement, or new skill.
func (w *Worker) processItem(ctx context.Context, item *skill.QueueItem) error {
	events, err := w.events.Events(ctx, item.TaskID)
	if err != nil {
		return err
	}

	analysis := w.analyzer.Analyze(item.TaskID, events, nil)
	if !analysis.IsLearnable {
		w.logger.Info("queued task no longer learnable, skipping",
			zap.String("task_id", item.TaskID),
			zap.String("reason", analysis.SkipReason))
		return nil
	}

	filter := store.GroupFilter{AgentName: item.AgentName, Scope: skill.ScopeAgent}
	best, score, err := w.bestMatch(ctx, analysis.UserRequest, filter)
	if err != nil {
		return err
	}

	if best != nil && score > w.cfg.MergeThreshold {
		w.logger.Info("task matches existing skill, appending",
			zap.String("task_id", item.TaskID),
			zap.String("group_id", best.ID),
			zap.Float64("similarity", score))
		return w.appendDuplicate(ctx, best, item)
	}

	if best != nil && score > w.cfg.RefineThreshold {
		if err := w.refineExisting(ctx, best, analysis); err != nil {
			w.logger.Warn("refinement failed, falling through to extraction",
				zap.String("group_id", best.ID), zap.Error(err))
		} else {
			return nil
		}
	}

	return w.extractNew(ctx, item, analysis)
}

// bestMatch returns the top-scoring existing skill for the request, or nil.
func (w *Worker) bestMatch(ctx context.Context, userRequest string, f store.GroupFilter) (*skill.Group, float64, error) {
	if userRequest == "" {
		return nil, 0, nil
	}
	results, err := w.service.SemanticSearch(ctx, userRequest, f, 1, 0)
	if err != nil {
		return nil, 0, err
	}
	if len(results) == 0 {
		return nil, 0, nil
	}
	return results[0].Group, results[0].Score, nil
}

// appendDuplicate records the task against an existing skill without any
// LLM call. Near-duplicates are the common case for repeat workflows;
// skipping extraction keeps them cheap.
func (w *Worker) appendDuplicate(ctx context.Context, group *skill.Group, item *skill.QueueItem) error {
	if err := w.service.AppendRelatedTask(ctx, group.ID, item.TaskID); err != nil {
		return err
	}
	if err := w.service.RecordUsage(ctx, &skill.Usage{
		GroupID:   group.ID,
		VersionID: group.ProductionVersionID,
		TaskID:    item.TaskID,
		UserID:    item.UserID,
		Success:   true,
	}); err != nil {
		return err
	}

	w.publishJSON(ctx, bus.TopicSkillUpdated, map[string]string{
		"group_id": group.ID,
		"task_id":  item.TaskID,
		"change":   "related_task",
	})
	return nil
}

func (w *Worker) refineExisting(ctx context.Context, group *skill.Group, analysis *trace.TaskAnalysis) error {
	fresh, err := w.store.GetGroup(ctx, group.ID, false)
	if err != nil {
		return err
	}
	if fresh.ProductionVersion == nil {
		return store.ErrNotFound{Kind: "skill version", ID: fresh.ProductionVersionID}
	}

	markdown, err := w.extractor.Merge(ctx, fresh.ProductionVersion, analysis)
	if err != nil {
		return err
	}

	if _, err := w.service.ImproveSkill(ctx, group.ID, markdown, "", "learning-worker",
		"refined from similar task", analysis.TaskID); err != nil {
		return err
	}

	w.logger.Info("existing skill refined from similar task",
		zap.String("group_id", group.ID),
		zap.String("task_id", analysis.TaskID))
	w.publishJSON(ctx, bus.TopicSkillUpdated, map[string]string{
		"group_id": group.ID,
		"task_id":  analysis.TaskID,
		"change":   "refined",
	})
	return nil
}

func (w *Worker) extractNew(ctx context.Context, item *skill.QueueItem, analysis *trace.TaskAnalysis) error {
	draft, err := w.extractor.Extract(ctx, analysis)
	if err != nil {
		return err
	}
	if !draft.ShouldExtract {
		w.logger.Info("extraction declined",
			zap.String("task_id", item.TaskID),
			zap.String("reason", draft.Reason))
		return nil
	}

	// A name collision means the search missed a semantically identical
	// skill. Treat it as a duplicate rather than erroring on the unique
	// constraint.
	existing, err := w.store.GetGroupByName(ctx, draft.Name, item.AgentName, "")
	if err == nil {
		w.logger.Info("extracted name collides with existing skill, appending",
			zap.String("name", draft.Name),
			zap.String("group_id", existing.ID))
		return w.appendDuplicate(ctx, existing, item)
	}
	if !store.IsNotFound(err) {
		return err
	}

	group, err := w.service.CreateSkill(ctx, service.CreateSkillParams{
		Name:            draft.Name,
		Description:     draft.Description,
		Category:        draft.Category,
		Type:            skill.TypeLearned,
		Scope:           skill.ScopeAgent,
		OwnerAgentName:  item.AgentName,
		MarkdownContent: draft.MarkdownContent,
		Summary:         draft.Summary,
		ToolSteps:       draft.ToolSteps,
		AgentChain:      draft.AgentChain,
		SourceTaskID:    item.TaskID,
		InvolvedAgents:  involvedAgents(analysis),
		ComplexityScore: analysis.ComplexityScore,
		CreatedBy:       "learning-worker",
		CreationReason:  "learned from task " + item.TaskID,
	})
	if err != nil {
		return err
	}

	w.logger.Info("new skill learned",
		zap.String("group_id", group.ID),
		zap.String("name", group.Name),
		zap.String("task_id", item.TaskID))

	w.publishJSON(ctx, bus.TopicSkillCreated, map[string]string{
		"group_id": group.ID,
		"name":     group.Name,
		"task_id":  item.TaskID,
	})
	w.publishJSON(ctx, bus.AgentLearnedTopic(item.AgentName), map[string]string{
		"group_id": group.ID,
		"name":     group.Name,
	})
	return nil
}

func involvedAgents(analysis *trace.TaskAnalysis) []string {
	var agents []string
	for _, exec := range analysis.AgentExecutions {
		agents = append(agents, exec.AgentName)
	}
	return agents
}

func (w *Worker) publishJSON(ctx context.Context, topic string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.logger.Warn("marshal event payload", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := w.pub.Publish(ctx, topic, data); err != nil {
		w.logger.Warn("publish event", zap.String("topic", topic), zap.Error(err))
	}
}
