package inmemory_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/store/inmemory"
)

func TestInmemoryStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Inmemory Store Suite")
}

func newGroup(name, agent string) (*skill.Group, *skill.Version) {
	return &skill.Group{
			Name:           name,
			Description:    "desc of " + name,
			Type:           skill.TypeLearned,
			Scope:          skill.ScopeAgent,
			OwnerAgentName: agent,
		}, &skill.Version{
			Description:     "desc of " + name,
			MarkdownContent: "## " + name,
		}
}

var _ = Describe("Store", func() {
	var (
		ctx context.Context
		st  *inmemory.Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = inmemory.New()
	})

	Describe("CreateGroup", func() {
		It("persists the group with version 1 as production", func() {
			g, v := newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g, v)).To(Succeed())
			Expect(g.ID).NotTo(BeEmpty())
			Expect(v.Version).To(Equal(1))

			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersionID).To(Equal(v.ID))
			Expect(got.ProductionVersion).NotTo(BeNil())
			Expect(got.ProductionVersion.Version).To(Equal(1))
			Expect(got.VersionCount).To(Equal(1))
		})

		It("rejects a duplicate (name, owner) pair", func() {
			g1, v1 := newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g1, v1)).To(Succeed())

			g2, v2 := newGroup("extract-csv", "web-agent")
			err := st.CreateGroup(ctx, g2, v2)
			Expect(err).To(MatchError(store.ErrDuplicate))
		})

		It("allows the same name under a different owner", func() {
			g1, v1 := newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g1, v1)).To(Succeed())

			g2, v2 := newGroup("extract-csv", "other-agent")
			Expect(st.CreateGroup(ctx, g2, v2)).To(Succeed())
		})

		It("rejects invalid scope pairings", func() {
			g, v := newGroup("bad", "")
			g.Scope = skill.ScopeAgent
			Expect(st.CreateGroup(ctx, g, v)).NotTo(Succeed())
		})
	})

	Describe("GetGroupByName", func() {
		It("resolves by the (name, owner) key", func() {
			g, v := newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g, v)).To(Succeed())

			got, err := st.GetGroupByName(ctx, "extract-csv", "web-agent", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ID).To(Equal(g.ID))

			_, err = st.GetGroupByName(ctx, "extract-csv", "other-agent", "")
			Expect(store.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("CreateVersion", func() {
		var g *skill.Group

		BeforeEach(func() {
			var v *skill.Version
			g, v = newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g, v)).To(Succeed())
		})

		It("assigns monotonically increasing version numbers", func() {
			v2 := &skill.Version{GroupID: g.ID, Description: "v2"}
			Expect(st.CreateVersion(ctx, v2, false)).To(Succeed())
			Expect(v2.Version).To(Equal(2))

			v3 := &skill.Version{GroupID: g.ID, Description: "v3"}
			Expect(st.CreateVersion(ctx, v3, true)).To(Succeed())
			Expect(v3.Version).To(Equal(3))

			versions, err := st.ListVersions(ctx, g.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(versions).To(HaveLen(3))
			Expect(versions[0].Version).To(Equal(1))
			Expect(versions[2].Version).To(Equal(3))
		})

		It("moves the production pointer only when asked", func() {
			v2 := &skill.Version{GroupID: g.ID, Description: "v2"}
			Expect(st.CreateVersion(ctx, v2, false)).To(Succeed())

			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersion.Version).To(Equal(1))

			v3 := &skill.Version{GroupID: g.ID, Description: "v3"}
			Expect(st.CreateVersion(ctx, v3, true)).To(Succeed())

			got, err = st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersionID).To(Equal(v3.ID))
		})
	})

	Describe("SetProductionVersion", func() {
		It("repoints production without touching version rows", func() {
			g, v1 := newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g, v1)).To(Succeed())
			v2 := &skill.Version{GroupID: g.ID, Description: "v2"}
			Expect(st.CreateVersion(ctx, v2, true)).To(Succeed())

			Expect(st.SetProductionVersion(ctx, g.ID, v1.ID)).To(Succeed())

			got, err := st.GetGroup(ctx, g.ID, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ProductionVersionID).To(Equal(v1.ID))
			Expect(got.Versions).To(HaveLen(2))
		})

		It("rejects a version from another group", func() {
			g1, v1 := newGroup("one", "web-agent")
			Expect(st.CreateGroup(ctx, g1, v1)).To(Succeed())
			g2, v2 := newGroup("two", "web-agent")
			Expect(st.CreateGroup(ctx, g2, v2)).To(Succeed())

			Expect(st.SetProductionVersion(ctx, g1.ID, v2.ID)).NotTo(Succeed())
		})
	})

	Describe("version writes", func() {
		var v *skill.Version

		BeforeEach(func() {
			var g *skill.Group
			g, v = newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g, v)).To(Succeed())
		})

		It("backfills embeddings", func() {
			Expect(st.AttachEmbedding(ctx, v.ID, []float32{1, 0, 0})).To(Succeed())
			got, err := st.GetVersion(ctx, v.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Embedding).To(Equal([]float32{1, 0, 0}))
		})

		It("appends related tasks without duplicates", func() {
			Expect(st.AppendRelatedTask(ctx, v.ID, "task-9")).To(Succeed())
			Expect(st.AppendRelatedTask(ctx, v.ID, "task-9")).To(Succeed())

			got, err := st.GetVersion(ctx, v.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.RelatedTaskIDs).To(Equal([]string{"task-9"}))
		})

		It("records resource attachments", func() {
			Expect(st.AttachResource(ctx, v.ID, "file:///skills/x", []string{"scripts/run.sh"})).To(Succeed())
			got, err := st.GetVersion(ctx, v.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.ResourceURI).To(Equal("file:///skills/x"))
			Expect(got.ResourceManifest).To(Equal([]string{"scripts/run.sh"}))
		})

		It("overwrites markdown on user edit", func() {
			Expect(st.UpdateVersionMarkdown(ctx, v.ID, "## edited")).To(Succeed())
			got, err := st.GetVersion(ctx, v.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.MarkdownContent).To(Equal("## edited"))
		})
	})

	Describe("ListGroups", func() {
		BeforeEach(func() {
			g1, v1 := newGroup("csv-skill", "web-agent")
			Expect(st.CreateGroup(ctx, g1, v1)).To(Succeed())
			g2, v2 := newGroup("pdf-skill", "doc-agent")
			Expect(st.CreateGroup(ctx, g2, v2)).To(Succeed())
			g3, v3 := newGroup("archived-skill", "web-agent")
			Expect(st.CreateGroup(ctx, g3, v3)).To(Succeed())
			Expect(st.ArchiveGroup(ctx, g3.ID)).To(Succeed())
		})

		It("filters by agent and skips archived by default", func() {
			groups, err := st.ListGroups(ctx, store.GroupFilter{AgentName: "web-agent"})
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(1))
			Expect(groups[0].Name).To(Equal("csv-skill"))
		})

		It("includes archived groups when asked", func() {
			groups, err := st.ListGroups(ctx, store.GroupFilter{AgentName: "web-agent", IncludeArchived: true})
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(2))
		})

		It("caps results with Limit", func() {
			groups, err := st.ListGroups(ctx, store.GroupFilter{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(groups).To(HaveLen(1))
		})
	})

	Describe("learning queue", func() {
		It("walks pending -> processing -> completed", func() {
			item := &skill.QueueItem{TaskID: "task-1", AgentName: "web-agent"}
			Expect(st.EnqueueLearning(ctx, item)).To(Succeed())
			Expect(item.ID).NotTo(BeEmpty())
			Expect(item.Status).To(Equal(skill.QueuePending))

			pending, err := st.PendingQueueItems(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(HaveLen(1))

			claimed, err := st.ClaimQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())

			got, err := st.GetQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(skill.QueueProcessing))
			Expect(got.StartedAt).NotTo(BeNil())

			Expect(st.CompleteQueueItem(ctx, item.ID)).To(Succeed())
			got, err = st.GetQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(skill.QueueCompleted))
			Expect(got.CompletedAt).NotTo(BeNil())
		})

		It("claims an item only while pending", func() {
			item := &skill.QueueItem{TaskID: "task-1", AgentName: "web-agent"}
			Expect(st.EnqueueLearning(ctx, item)).To(Succeed())

			claimed, err := st.ClaimQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeTrue())

			claimed, err = st.ClaimQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(claimed).To(BeFalse())
		})

		It("records the error and bumps retries on failure", func() {
			item := &skill.QueueItem{TaskID: "task-1", AgentName: "web-agent"}
			Expect(st.EnqueueLearning(ctx, item)).To(Succeed())
			_, err := st.ClaimQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())

			Expect(st.FailQueueItem(ctx, item.ID, "llm unavailable")).To(Succeed())
			got, err := st.GetQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(skill.QueueFailed))
			Expect(got.ErrorMessage).To(Equal("llm unavailable"))
			Expect(got.RetryCount).To(Equal(1))
		})

		It("returns completed items to no queue listing", func() {
			item := &skill.QueueItem{TaskID: "task-1", AgentName: "web-agent"}
			Expect(st.EnqueueLearning(ctx, item)).To(Succeed())
			_, err := st.ClaimQueueItem(ctx, item.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(st.CompleteQueueItem(ctx, item.ID)).To(Succeed())

			pending, err := st.PendingQueueItems(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})

	Describe("feedback and usage", func() {
		var g *skill.Group

		BeforeEach(func() {
			var v *skill.Version
			g, v = newGroup("extract-csv", "web-agent")
			Expect(st.CreateGroup(ctx, g, v)).To(Succeed())
		})

		It("bumps group counters per feedback type", func() {
			Expect(st.AddFeedback(ctx, &skill.Feedback{GroupID: g.ID, TaskID: "t1", Type: skill.FeedbackThumbsUp})).To(Succeed())
			Expect(st.AddFeedback(ctx, &skill.Feedback{GroupID: g.ID, TaskID: "t2", Type: skill.FeedbackThumbsDown})).To(Succeed())
			Expect(st.AddFeedback(ctx, &skill.Feedback{GroupID: g.ID, TaskID: "t3", Type: skill.FeedbackCorrection, CorrectionText: "wrong column"})).To(Succeed())

			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SuccessCount).To(Equal(1))
			Expect(got.FailureCount).To(Equal(1))
			Expect(got.CorrectionCount).To(Equal(1))

			rows, err := st.ListFeedback(ctx, g.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rows).To(HaveLen(3))
		})

		It("tracks usage and resolves it by task", func() {
			Expect(st.AddUsage(ctx, &skill.Usage{GroupID: g.ID, TaskID: "task-7", Success: true})).To(Succeed())
			Expect(st.AddUsage(ctx, &skill.Usage{GroupID: g.ID, TaskID: "task-8", Success: false})).To(Succeed())

			u, err := st.UsageForTask(ctx, "task-7")
			Expect(err).NotTo(HaveOccurred())
			Expect(u.GroupID).To(Equal(g.ID))

			count, err := st.UsageCount(ctx, g.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(2))

			got, err := st.GetGroup(ctx, g.ID, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.SuccessCount).To(Equal(1))
			Expect(got.FailureCount).To(Equal(1))
		})

		It("returns ErrNotFound for a task with no usage", func() {
			_, err := st.UsageForTask(ctx, "never-seen")
			Expect(store.IsNotFound(err)).To(BeTrue())
		})
	})

	Describe("group users", func() {
		It("grants, fetches, and revokes roles", func() {
			g, v := newGroup("shared-skill", "web-agent")
			g.Scope = skill.ScopeShared
			Expect(st.CreateGroup(ctx, g, v)).To(Succeed())

			Expect(st.AddGroupUser(ctx, &skill.GroupUser{GroupID: g.ID, UserID: "u1", Role: skill.RoleEditor})).To(Succeed())

			gu, err := st.GetGroupUser(ctx, g.ID, "u1")
			Expect(err).NotTo(HaveOccurred())
			Expect(gu.Role).To(Equal(skill.RoleEditor))

			Expect(st.RemoveGroupUser(ctx, g.ID, "u1")).To(Succeed())
			_, err = st.GetGroupUser(ctx, g.ID, "u1")
			Expect(store.IsNotFound(err)).To(BeTrue())
		})
	})
})
