package feedback_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skillmesh/skillmesh/pkg/embeddings"
	"github.com/skillmesh/skillmesh/pkg/feedback"
	resourcemem "github.com/skillmesh/skillmesh/pkg/resources/inmemory"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/skill/extractor"
	"github.com/skillmesh/skillmesh/pkg/store/inmemory"
	testutils "github.com/skillmesh/skillmesh/pkg/utils/test"
)

func TestFeedback(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Feedback Suite")
}

var _ = Describe("Processor", func() {
	var (
		ctx  context.Context
		st   *inmemory.Store
		svc  *service.Service
		llm  *testutils.MockLLM
		proc *feedback.Processor
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = inmemory.New()
		embedSvc := embeddings.NewService(testutils.NewMockEmbedder(), nil)
		svc = service.New(st, embedSvc, nil, resourcemem.New(), service.Config{}, nil)
		llm = &testutils.MockLLM{
			Responses: []string{`{"markdown_content": "## Refined instructions"}`},
		}
		ext := extractor.New(llm.Call, extractor.Config{}, nil)
		proc = feedback.New(st, ext, svc, feedback.Config{}, nil)
	})

	createSkill := func(name, ownerUser string) *skill.Group {
		g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
			Name:            name,
			Description:     "Extract data from CSV files",
			Scope:           skill.ScopeAgent,
			OwnerAgentName:  "web-agent",
			OwnerUserID:     ownerUser,
			MarkdownContent: "## " + name,
		})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	Describe("outcome feedback", func() {
		It("bumps the group counters per feedback type", func() {
			g := createSkill("extract-csv", "")

			Expect(proc.Process(ctx, feedback.Input{SkillID: g.ID, Type: skill.FeedbackThumbsUp})).To(Succeed())
			Expect(proc.Process(ctx, feedback.Input{SkillID: g.ID, Type: skill.FeedbackThumbsDown})).To(Succeed())

			fresh, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.SuccessCount).To(Equal(1))
			Expect(fresh.FailureCount).To(Equal(1))
		})

		It("rejects unknown feedback types", func() {
			g := createSkill("extract-csv", "")
			err := proc.Process(ctx, feedback.Input{SkillID: g.ID, Type: "applause"})
			Expect(err).To(MatchError(ContainSubstring("invalid feedback type")))
		})
	})

	Describe("skill resolution", func() {
		It("resolves the skill through the usage log when only a task is known", func() {
			g := createSkill("extract-csv", "")
			Expect(st.AddUsage(ctx, &skill.Usage{GroupID: g.ID, TaskID: "task-42", Success: true})).To(Succeed())

			Expect(proc.Process(ctx, feedback.Input{TaskID: "task-42", Type: skill.FeedbackThumbsUp})).To(Succeed())

			rows, err := st.ListFeedback(ctx, g.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].TaskID).To(Equal("task-42"))
		})

		It("drops feedback for tasks that never used a skill", func() {
			Expect(proc.Process(ctx, feedback.Input{TaskID: "unknown-task", Type: skill.FeedbackThumbsUp})).To(Succeed())
		})

		It("drops feedback for skills that no longer exist", func() {
			Expect(proc.Process(ctx, feedback.Input{SkillID: "gone", Type: skill.FeedbackThumbsUp})).To(Succeed())
		})
	})

	Describe("correction refinement", func() {
		correct := func(g *skill.Group, text string) {
			Expect(proc.Process(ctx, feedback.Input{
				SkillID:        g.ID,
				Type:           skill.FeedbackCorrection,
				CorrectionText: text,
			})).To(Succeed())
		}

		It("accumulates corrections below the threshold without refining", func() {
			g := createSkill("extract-csv", "")
			correct(g, "use semicolons as delimiters")
			correct(g, "skip the header row")

			Expect(llm.Calls()).To(BeZero())
			fresh, err := st.GetGroup(ctx, g.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.VersionCount).To(Equal(1))
			Expect(fresh.CorrectionCount).To(Equal(2))
		})

		It("generates a refinement version at the threshold", func() {
			g := createSkill("extract-csv", "")
			correct(g, "use semicolons as delimiters")
			correct(g, "skip the header row")
			correct(g, "quote fields with commas")

			Expect(llm.Calls()).To(Equal(1))
			fresh, err := st.GetGroup(ctx, g.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.VersionCount).To(Equal(2))
			Expect(fresh.ProductionVersion.MarkdownContent).To(Equal("## Refined instructions"))
			Expect(fresh.ProductionVersion.CreatedBy).To(Equal("feedback-processor"))
			Expect(fresh.ProductionVersion.CreationReason).To(ContainSubstring("3 corrections"))
		})

		It("keeps the correction even when refinement fails", func() {
			llm.Err = context.DeadlineExceeded
			g := createSkill("extract-csv", "")
			correct(g, "one")
			correct(g, "two")
			correct(g, "three")

			fresh, err := st.GetGroup(ctx, g.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.VersionCount).To(Equal(1))
			Expect(fresh.CorrectionCount).To(Equal(3))
		})

		It("keeps the correction when no llm is configured", func() {
			proc = feedback.New(st, extractor.New(nil, extractor.Config{}, nil), svc, feedback.Config{}, nil)
			g := createSkill("extract-csv", "")
			correct(g, "one")
			correct(g, "two")
			correct(g, "three")

			fresh, err := st.GetGroup(ctx, g.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.VersionCount).To(Equal(1))
			Expect(fresh.CorrectionCount).To(Equal(3))
		})
	})

	Describe("deprecation advisory", func() {
		It("never archives a skill on its own", func() {
			g := createSkill("extract-csv", "")
			for i := 0; i < 6; i++ {
				Expect(st.AddUsage(ctx, &skill.Usage{GroupID: g.ID, TaskID: "t", Success: false})).To(Succeed())
			}
			Expect(proc.Process(ctx, feedback.Input{SkillID: g.ID, Type: skill.FeedbackThumbsDown})).To(Succeed())

			fresh, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.IsArchived).To(BeFalse())
		})
	})

	Describe("user edits", func() {
		It("overwrites the production markdown for the owner", func() {
			g := createSkill("extract-csv", "alice")
			Expect(proc.Process(ctx, feedback.Input{
				SkillID:        g.ID,
				UserID:         "alice",
				Type:           skill.FeedbackUserEdit,
				CorrectionText: "## Edited by hand",
			})).To(Succeed())

			fresh, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.ProductionVersion.MarkdownContent).To(Equal("## Edited by hand"))
		})

		It("ignores edits from users without edit permission", func() {
			g := createSkill("extract-csv", "alice")
			Expect(proc.Process(ctx, feedback.Input{
				SkillID:        g.ID,
				UserID:         "mallory",
				Type:           skill.FeedbackUserEdit,
				CorrectionText: "## Vandalism",
			})).To(Succeed())

			fresh, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.ProductionVersion.MarkdownContent).To(Equal("## extract-csv"))
		})

		It("accepts edits from a granted editor", func() {
			g := createSkill("extract-csv", "alice")
			Expect(st.AddGroupUser(ctx, &skill.GroupUser{
				GroupID: g.ID, UserID: "bob", Role: skill.RoleEditor,
			})).To(Succeed())

			Expect(proc.Process(ctx, feedback.Input{
				SkillID:        g.ID,
				UserID:         "bob",
				Type:           skill.FeedbackUserEdit,
				CorrectionText: "## Bob's revision",
			})).To(Succeed())

			fresh, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.ProductionVersion.MarkdownContent).To(Equal("## Bob's revision"))
		})

		It("drops empty edits", func() {
			g := createSkill("extract-csv", "alice")
			Expect(proc.Process(ctx, feedback.Input{
				SkillID: g.ID,
				UserID:  "alice",
				Type:    skill.FeedbackUserEdit,
			})).To(Succeed())

			fresh, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(fresh.ProductionVersion.MarkdownContent).To(Equal("## extract-csv"))
		})
	})
})
