// Package feedback applies user feedback to learned skills: outcome
// counters, correction-driven refinement, and direct edits.
package feedback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/skill/extractor"
	"github.com/skillmesh/skillmesh/pkg/store"
)

// Config tunes feedback processing.
type Config struct {
	// CorrectionThreshold is how many corrections accumulate before a
	// refinement version is generated. Zero means 3.
	CorrectionThreshold int
	// DeprecationMinUses is the usage floor below which a skill is never
	// flagged for deprecation. Zero means 5.
	DeprecationMinUses int
	// DeprecationRate is the success rate under which a well-used skill is
	// flagged. Zero means 0.3.
	DeprecationRate float64
}

func (c *Config) applyDefaults() {
	if c.CorrectionThreshold <= 0 {
		c.CorrectionThreshold = 3
	}
	if c.DeprecationMinUses <= 0 {
		c.DeprecationMinUses = 5
	}
	if c.DeprecationRate <= 0 {
		c.DeprecationRate = 0.3
	}
}

// Input is one piece of feedback on a skill outcome. SkillID may be empty
// when the reporter only knows the task; the processor resolves it through
// the usage log.
type Input struct {
	SkillID        string             `json:"skill_id,omitempty"`
	TaskID         string             `json:"task_id,omitempty"`
	UserID         string             `json:"user_id,omitempty"`
	Type           skill.FeedbackType `json:"feedback_type"`
	CorrectionText string             `json:"correction_text,omitempty"`
}

// Processor routes feedback into the store and triggers refinement when
// corrections pile up.
type Processor struct {
	store     store.Store
	extractor *extractor.Extractor
	service   *service.Service
	cfg       Config
	logger    *zap.Logger
}

// New creates a Processor. extractor may be nil; corrections then accumulate
// without triggering refinement.
func New(st store.Store, ext *extractor.Extractor, svc *service.Service, cfg Config, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Processor{
		store:     st,
		extractor: ext,
		service:   svc,
		cfg:       cfg,
		logger:    logger,
	}
}

// Process applies one piece of feedback. Unresolvable feedback (no skill id
// and no usage record for the task) is dropped with a log line: feedback is
// advisory and must never fail the caller's pipeline.
func (p *Processor) Process(ctx context.Context, in Input) error {
	if !skill.ValidFeedbackType(in.Type) {
		return fmt.Errorf("invalid feedback type %q", in.Type)
	}

	groupID := in.SkillID
	if groupID == "" {
		usage, err := p.store.UsageForTask(ctx, in.TaskID)
		if err != nil {
			if store.IsNotFound(err) {
				p.logger.Info("feedback dropped: no skill usage for task",
					zap.String("task_id", in.TaskID))
				return nil
			}
			return err
		}
		groupID = usage.GroupID
	}

	group, err := p.store.GetGroup(ctx, groupID, false)
	if err != nil {
		if store.IsNotFound(err) {
			p.logger.Info("feedback dropped: skill no longer exists",
				zap.String("group_id", groupID))
			return nil
		}
		return err
	}

	if err := p.store.AddFeedback(ctx, &skill.Feedback{
		GroupID:        group.ID,
		TaskID:         in.TaskID,
		UserID:         in.UserID,
		Type:           in.Type,
		CorrectionText: in.CorrectionText,
	}); err != nil {
		return fmt.Errorf("persist feedback: %w", err)
	}

	switch in.Type {
	case skill.FeedbackThumbsDown:
		p.checkDeprecation(ctx, group)
	case skill.FeedbackCorrection:
		return p.maybeRefine(ctx, group)
	case skill.FeedbackUserEdit:
		return p.applyUserEdit(ctx, group, in)
	}
	return nil
}

// checkDeprecation logs an advisory when a well-used skill keeps failing.
// Nothing is archived automatically; that call belongs to an operator.
func (p *Processor) checkDeprecation(ctx context.Context, group *skill.Group) {
	uses, err := p.store.UsageCount(ctx, group.ID)
	if err != nil {
		p.logger.Warn("usage count failed", zap.String("group_id", group.ID), zap.Error(err))
		return
	}
	if uses < p.cfg.DeprecationMinUses {
		return
	}

	fresh, err := p.store.GetGroup(ctx, group.ID, false)
	if err != nil {
		return
	}
	rate := fresh.SuccessRate()
	if rate >= 0 && rate < p.cfg.DeprecationRate {
		p.logger.Warn("skill is a deprecation candidate",
			zap.String("group_id", group.ID),
			zap.String("name", group.Name),
			zap.Int("uses", uses),
			zap.Float64("success_rate", rate))
	}
}

// maybeRefine generates a refinement version once enough corrections have
// accumulated. Refinement failures are logged, not returned: the correction
// itself is already persisted.
func (p *Processor) maybeRefine(ctx context.Context, group *skill.Group) error {
	if p.extractor == nil || p.service == nil {
		return nil
	}

	all, err := p.store.ListFeedback(ctx, group.ID)
	if err != nil {
		return err
	}

	var corrections []string
	for _, fb := range all {
		if fb.Type == skill.FeedbackCorrection && fb.CorrectionText != "" {
			corrections = append(corrections, fb.CorrectionText)
		}
	}
	if len(corrections) < p.cfg.CorrectionThreshold || len(corrections)%p.cfg.CorrectionThreshold != 0 {
		return nil
	}

	fresh, err := p.store.GetGroup(ctx, group.ID, false)
	if err != nil || fresh.ProductionVersion == nil {
		return err
	}

	markdown, err := p.extractor.Refine(ctx, fresh.ProductionVersion, corrections)
	if err != nil {
		p.logger.Warn("correction refinement failed",
			zap.String("group_id", group.ID), zap.Error(err))
		return nil
	}

	_, err = p.service.ImproveSkill(ctx, group.ID, markdown, "", "feedback-processor",
		fmt.Sprintf("refined from %d corrections", len(corrections)), "")
	if err != nil {
		p.logger.Warn("refinement version creation failed",
			zap.String("group_id", group.ID), zap.Error(err))
		return nil
	}

	p.logger.Info("skill refined from corrections",
		zap.String("group_id", group.ID),
		zap.Int("corrections", len(corrections)))
	return nil
}

// applyUserEdit overwrites the production version's markdown with the user's
// text. Edits are authoritative; no LLM round-trip.
func (p *Processor) applyUserEdit(ctx context.Context, group *skill.Group, in Input) error {
	if in.CorrectionText == "" {
		p.logger.Info("user edit dropped: empty content", zap.String("group_id", group.ID))
		return nil
	}
	if group.ProductionVersionID == "" {
		return nil
	}

	if p.service != nil {
		ok, err := p.service.CanUserEdit(ctx, group, in.UserID)
		if err != nil {
			return err
		}
		if !ok {
			p.logger.Info("user edit rejected: no edit permission",
				zap.String("group_id", group.ID), zap.String("user_id", in.UserID))
			return nil
		}
	}

	return p.store.UpdateVersionMarkdown(ctx, group.ProductionVersionID, in.CorrectionText)
}
