package inject_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skillmesh/skillmesh/pkg/embeddings"
	"github.com/skillmesh/skillmesh/pkg/inject"
	resourcemem "github.com/skillmesh/skillmesh/pkg/resources/inmemory"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store/inmemory"
	testutils "github.com/skillmesh/skillmesh/pkg/utils/test"
)

func TestInject(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Inject Suite")
}

var _ = Describe("Injector", func() {
	var (
		ctx      context.Context
		svc      *service.Service
		injector *inject.Injector
	)

	BeforeEach(func() {
		ctx = context.Background()
		st := inmemory.New()
		embedSvc := embeddings.NewService(testutils.NewMockEmbedder(), nil)
		svc = service.New(st, embedSvc, nil, resourcemem.New(), service.Config{}, nil)
		injector = inject.New(svc, nil)
	})

	createSkill := func(name, description string) *skill.Group {
		g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
			Name:            name,
			Description:     description,
			Category:        "data",
			Scope:           skill.ScopeAgent,
			OwnerAgentName:  "web-agent",
			MarkdownContent: "## Steps\n\n1. Do the thing",
			Summary:         "How to " + name,
			ToolSteps: []skill.ToolStep{
				{Sequence: 1, ToolName: "open_dashboard", AgentName: "web-agent"},
			},
		})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	Describe("PromptFragment", func() {
		It("discloses only name, id, and description", func() {
			g := createSkill("extract-csv", "Extract tabular data from CSV files")

			fragment, err := injector.PromptFragment(ctx, "web-agent", "", "", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(fragment).To(HavePrefix("## Available Skills"))
			Expect(fragment).To(ContainSubstring("skill_read"))
			Expect(fragment).To(ContainSubstring("- extract-csv (" + g.ID + "): Extract tabular data from CSV files"))
			Expect(fragment).NotTo(ContainSubstring("## Steps"))
		})

		It("returns an empty string when no skills apply", func() {
			fragment, err := injector.PromptFragment(ctx, "web-agent", "", "", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(fragment).To(BeEmpty())
		})

		It("caps the number of listed skills", func() {
			createSkill("extract-csv", "Extract tabular data")
			createSkill("render-report", "Render the weekly report")
			createSkill("send-digest", "Send the email digest")

			fragment, err := injector.PromptFragment(ctx, "web-agent", "", "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Count(fragment, "\n- ")).To(BeNumerically("<=", 2))
		})
	})

	Describe("SkillRead", func() {
		It("returns the full production version by id", func() {
			g := createSkill("extract-csv", "Extract tabular data from CSV files")

			raw, err := injector.SkillRead(ctx, g.ID, "")
			Expect(err).NotTo(HaveOccurred())

			var result inject.SkillReadResult
			Expect(json.Unmarshal(raw, &result)).To(Succeed())
			Expect(result.Name).To(Equal("extract-csv"))
			Expect(result.Version).To(Equal(1))
			Expect(result.MarkdownContent).To(ContainSubstring("## Steps"))
			Expect(result.ToolSteps).To(HaveLen(1))
			Expect(result.Error).To(BeEmpty())
		})

		It("resolves skills by name", func() {
			createSkill("extract-csv", "Extract tabular data from CSV files")

			raw, err := injector.SkillRead(ctx, "extract-csv", "")
			Expect(err).NotTo(HaveOccurred())

			var result inject.SkillReadResult
			Expect(json.Unmarshal(raw, &result)).To(Succeed())
			Expect(result.Name).To(Equal("extract-csv"))
		})

		It("answers missing skills with an error payload, not a failure", func() {
			raw, err := injector.SkillRead(ctx, "no-such-skill", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring(`"error":"Skill not found: no-such-skill"`))
		})
	})
})
