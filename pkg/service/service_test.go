package service_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skillmesh/skillmesh/pkg/embeddings"
	"github.com/skillmesh/skillmesh/pkg/resources"
	resourcemem "github.com/skillmesh/skillmesh/pkg/resources/inmemory"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/store/inmemory"
	testutils "github.com/skillmesh/skillmesh/pkg/utils/test"
)

func TestService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Service Suite")
}

var _ = Describe("Service", func() {
	var (
		ctx      context.Context
		st       *inmemory.Store
		embedder *testutils.MockEmbedder
		svc      *service.Service
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = inmemory.New()
		embedder = testutils.NewMockEmbedder()
		embedSvc := embeddings.NewService(embedder, nil)
		svc = service.New(st, embedSvc, nil, resourcemem.New(), service.Config{}, nil)
	})

	createSkill := func(name, description string) *skill.Group {
		g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
			Name:            name,
			Description:     description,
			Scope:           skill.ScopeAgent,
			OwnerAgentName:  "web-agent",
			MarkdownContent: "## " + name,
		})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	Describe("CreateSkill", func() {
		It("creates a group with an embedded production version", func() {
			g := createSkill("extract-csv", "Extract data from CSV files")
			Expect(g.Type).To(Equal(skill.TypeLearned))
			Expect(g.ProductionVersion).NotTo(BeNil())
			Expect(g.ProductionVersion.Embedding).NotTo(BeEmpty())
		})

		It("stores resource bundles and attaches the manifest", func() {
			g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
				Name:            "with-files",
				Description:     "bundled",
				Scope:           skill.ScopeAgent,
				OwnerAgentName:  "web-agent",
				MarkdownContent: "## with-files",
				Files: []resources.File{
					{Name: "scripts/run.sh", Content: []byte("#!/bin/sh\n")},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.ProductionVersion.ResourceURI).NotTo(BeEmpty())
			Expect(g.ProductionVersion.ResourceManifest).To(ContainElement("scripts/run.sh"))
		})

		It("degrades creation gracefully when embedding fails", func() {
			embedder.FailOn = "no-embed\nplain description"
			g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
				Name:           "no-embed",
				Description:    "plain description",
				Scope:          skill.ScopeAgent,
				OwnerAgentName: "web-agent",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(g.ProductionVersion.Embedding).To(BeEmpty())
		})
	})

	Describe("SearchSkills", func() {
		BeforeEach(func() {
			createSkill("extract-csv", "Extract tabular data from CSV files")
			createSkill("render-report", "Render a summary report for csv exports")
			createSkill("send-email", "Send notification emails")
		})

		It("scores name hits 0.6 and description hits 0.4", func() {
			results, err := svc.SearchSkills(ctx, "csv", store.GroupFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))

			Expect(results[0].Group.Name).To(Equal("extract-csv"))
			Expect(results[0].Score).To(BeNumerically("==", 1.0))
			Expect(results[1].Group.Name).To(Equal("render-report"))
			Expect(results[1].Score).To(BeNumerically("==", 0.4))
		})

		It("returns nothing for a blank query", func() {
			results, err := svc.SearchSkills(ctx, "   ", store.GroupFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})
	})

	Describe("SemanticSearch", func() {
		It("excludes matches below the similarity threshold", func() {
			embedder.Default = []float32{1, 0, 0}
			createSkill("extract-csv", "Extract tabular data")

			embedder.Embeddings["unrelated request"] = []float32{0.5, 0.8660254, 0}
			results, err := svc.SemanticSearch(ctx, "unrelated request", store.GroupFilter{}, 5, 0.99)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("ranks by cosine similarity", func() {
			embedder.Embeddings["extract-csv\nExtract tabular data"] = []float32{1, 0, 0}
			embedder.Embeddings["send-email\nSend emails"] = []float32{0, 1, 0}
			createSkill("extract-csv", "Extract tabular data")
			createSkill("send-email", "Send emails")

			embedder.Embeddings["work with csv data"] = []float32{0.9, 0.1, 0}
			results, err := svc.SemanticSearch(ctx, "work with csv data", store.GroupFilter{}, 5, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Group.Name).To(Equal("extract-csv"))
			Expect(results[0].Score).To(BeNumerically(">", results[1].Score))
		})

		It("falls back to text search when the query embedding fails", func() {
			embedder.Default = []float32{1, 0, 0}
			createSkill("extract-csv", "Extract tabular data")

			embedder.FailOn = "csv"
			results, err := svc.SemanticSearch(ctx, "csv", store.GroupFilter{}, 5, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Group.Name).To(Equal("extract-csv"))
		})
	})

	Describe("ImproveSkill", func() {
		It("inherits the procedure and moves production", func() {
			g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
				Name:            "extract-csv",
				Description:     "Extract data",
				Scope:           skill.ScopeAgent,
				OwnerAgentName:  "web-agent",
				MarkdownContent: "## v1",
				ToolSteps:       []skill.ToolStep{{AgentName: "web-agent", ToolName: "read_file", Sequence: 1}},
				SourceTaskID:    "task-1",
			})
			Expect(err).NotTo(HaveOccurred())

			v2, err := svc.ImproveSkill(ctx, g.ID, "## v2", "better", "feedback-processor", "corrections", "task-2")
			Expect(err).NotTo(HaveOccurred())
			Expect(v2.Version).To(Equal(2))
			Expect(v2.ToolSteps).To(HaveLen(1))
			Expect(v2.SourceTaskID).To(Equal("task-1"))
			Expect(v2.RelatedTaskIDs).To(ContainElement("task-2"))

			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersionID).To(Equal(v2.ID))
		})
	})

	Describe("RollbackToVersion", func() {
		It("moves the pointer and keeps all version rows", func() {
			g := createSkill("extract-csv", "Extract data")
			_, err := svc.ImproveSkill(ctx, g.ID, "## v2", "", "user", "edit", "")
			Expect(err).NotTo(HaveOccurred())

			v, err := svc.RollbackToVersion(ctx, g.ID, 1)
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Version).To(Equal(1))

			got, err := st.GetGroup(ctx, g.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersionID).To(Equal(v.ID))
			Expect(got.Versions).To(HaveLen(2))
		})

		It("errors on an unknown version number", func() {
			g := createSkill("extract-csv", "Extract data")
			_, err := svc.RollbackToVersion(ctx, g.ID, 42)
			Expect(store.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("GetSkill", func() {
		createFor := func(name, agent string) *skill.Group {
			g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
				Name:            name,
				Description:     "owned by " + agent,
				Scope:           skill.ScopeAgent,
				OwnerAgentName:  agent,
				MarkdownContent: "## " + name,
			})
			Expect(err).NotTo(HaveOccurred())
			return g
		}

		It("resolves by id and by name", func() {
			g := createSkill("extract-csv", "Extract data")

			byID, err := svc.GetSkill(ctx, g.ID, "", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(byID.ID).To(Equal(g.ID))

			byName, err := svc.GetSkill(ctx, "extract-csv", "", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(byName.ID).To(Equal(g.ID))
		})

		It("prefers the reading agent's skill among same-named groups", func() {
			a := createFor("extract-csv", "agent-a")
			b := createFor("extract-csv", "agent-b")

			got, err := svc.GetSkill(ctx, "extract-csv", "agent-b", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(b.ID))

			got, err = svc.GetSkill(ctx, "extract-csv", "agent-a", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(a.ID))
		})

		It("prefers unowned groups and stays stable without an agent", func() {
			shared, err := svc.CreateSkill(ctx, service.CreateSkillParams{
				Name:            "extract-csv",
				Description:     "shared variant",
				Scope:           skill.ScopeShared,
				MarkdownContent: "## extract-csv",
			})
			Expect(err).NotTo(HaveOccurred())
			createFor("extract-csv", "agent-a")

			for range 3 {
				got, gerr := svc.GetSkill(ctx, "extract-csv", "", false)
				Expect(gerr).NotTo(HaveOccurred())
				Expect(got.ID).To(Equal(shared.ID))
			}
		})
	})

	Describe("SkillSummariesForPrompt", func() {
		It("returns compact summaries only", func() {
			createSkill("extract-csv", "Extract tabular data")

			summaries, err := svc.SkillSummariesForPrompt(ctx, store.GroupFilter{}, "", 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(1))
			Expect(summaries[0].Name).To(Equal("extract-csv"))
			Expect(summaries[0].ID).NotTo(BeEmpty())
		})

		It("honors the limit", func() {
			createSkill("one", "first")
			createSkill("two", "second")
			createSkill("three", "third")

			summaries, err := svc.SkillSummariesForPrompt(ctx, store.GroupFilter{}, "", 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(summaries).To(HaveLen(2))
		})
	})

	Describe("CanUserEdit", func() {
		It("lets owners and editors edit, others not", func() {
			g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
				Name:        "user-skill",
				Description: "personal",
				Scope:       skill.ScopeUser,
				OwnerUserID: "alice",
			})
			Expect(err).NotTo(HaveOccurred())

			ok, err := svc.CanUserEdit(ctx, g, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = svc.CanUserEdit(ctx, g, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			Expect(st.AddGroupUser(ctx, &skill.GroupUser{GroupID: g.ID, UserID: "bob", Role: skill.RoleEditor})).To(Succeed())
			ok, err = svc.CanUserEdit(ctx, g, "bob")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
		})

		It("treats static skills as read-only", func() {
			g := &skill.Group{ID: "static:how-to", Name: "how-to"}
			ok, err := svc.CanUserEdit(ctx, g, "anyone")
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})
})
