package learning_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/skillmesh/skillmesh/pkg/bus"
	"github.com/skillmesh/skillmesh/pkg/embeddings"
	"github.com/skillmesh/skillmesh/pkg/learning"
	resourcemem "github.com/skillmesh/skillmesh/pkg/resources/inmemory"
	"github.com/skillmesh/skillmesh/pkg/service"
	"github.com/skillmesh/skillmesh/pkg/skill"
	"github.com/skillmesh/skillmesh/pkg/skill/extractor"
	"github.com/skillmesh/skillmesh/pkg/store"
	"github.com/skillmesh/skillmesh/pkg/store/inmemory"
	"github.com/skillmesh/skillmesh/pkg/trace"
	testutils "github.com/skillmesh/skillmesh/pkg/utils/test"
)

// flakyEvents wraps an event source and fails lookups for one task.
type flakyEvents struct {
	inner    learning.EventSource
	failTask string
}

func (f *flakyEvents) Events(ctx context.Context, taskID string) ([]trace.Event, error) {
	if taskID == f.failTask {
		return nil, errors.New("event stream unavailable")
	}
	return f.inner.Events(ctx, taskID)
}

func (f *flakyEvents) Record(taskID string, events []trace.Event) {
	f.inner.Record(taskID, events)
}

const mergedMarkdownJSON = `{"markdown_content": "## Generalized steps"}`

const draftJSON = `{
	"should_extract": true,
	"reason": "repeatable export workflow",
	"name": "Export Dashboard CSV",
	"description": "Use when exporting dashboards to CSV",
	"category": "data",
	"summary": "Open the dashboard and export it",
	"markdown_content": "## Steps\n\n1. Open the dashboard\n2. Export as CSV"
}`

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		st       *inmemory.Store
		embedder *testutils.MockEmbedder
		svc      *service.Service
		llm      *testutils.MockLLM
		pub      *testutils.MockPublisher
		events   *learning.MemoryEvents
		worker   *learning.Worker
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = inmemory.New()
		embedder = testutils.NewMockEmbedder()
		embedSvc := embeddings.NewService(embedder, nil)
		svc = service.New(st, embedSvc, nil, resourcemem.New(), service.Config{}, nil)
		llm = &testutils.MockLLM{Responses: []string{draftJSON}}
		pub = &testutils.MockPublisher{}
		events = learning.NewMemoryEvents()
		worker = learning.NewWorker(st, trace.NewAnalyzer(trace.Config{}), svc,
			extractor.New(llm.Call, extractor.Config{}, nil), events, pub, learning.WorkerConfig{}, nil)
	})

	enqueue := func(taskID string) *skill.QueueItem {
		item := &skill.QueueItem{TaskID: taskID, AgentName: "web-agent"}
		Expect(st.EnqueueLearning(ctx, item)).To(Succeed())
		events.Record(taskID, exportEvents(taskID))
		return item
	}

	existingSkill := func() *skill.Group {
		g, err := svc.CreateSkill(ctx, service.CreateSkillParams{
			Name:            "export-dashboard-csv",
			Description:     "Use when exporting dashboards to CSV",
			Scope:           skill.ScopeAgent,
			OwnerAgentName:  "web-agent",
			MarkdownContent: "## Steps",
		})
		Expect(err).NotTo(HaveOccurred())
		return g
	}

	It("creates a new skill from an unmatched task", func() {
		item := enqueue("task-1")

		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		g, err := st.GetGroupByName(ctx, "export-dashboard-csv", "web-agent", "")
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Type).To(Equal(skill.TypeLearned))
		Expect(g.ProductionVersion.SourceTaskID).To(Equal("task-1"))
		Expect(g.ProductionVersion.CreatedBy).To(Equal("learning-worker"))

		done, err := st.GetQueueItem(ctx, item.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(done.Status).To(Equal(skill.QueueCompleted))

		Expect(pub.ByTopic(bus.TopicSkillCreated)).To(HaveLen(1))
		Expect(pub.ByTopic(bus.AgentLearnedTopic("web-agent"))).To(HaveLen(1))
		Expect(pub.ByTopic(bus.TopicLearningCompleted)).To(HaveLen(1))
	})

	It("appends near-duplicates instead of creating a second skill", func() {
		g := existingSkill()
		embedder.Embeddings["export-dashboard-csv\nUse when exporting dashboards to CSV"] = []float32{1, 0, 0}
		embedder.Embeddings["Export the monthly dashboard to CSV"] = []float32{1, 0, 0}
		// Re-embed the stored version with the keyed vector.
		fresh, err := st.GetGroup(ctx, g.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.AttachEmbedding(ctx, fresh.ProductionVersionID, []float32{1, 0, 0})).To(Succeed())

		enqueue("task-2")
		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		Expect(llm.Calls()).To(BeZero())

		groups, err := st.ListGroups(ctx, store.GroupFilter{AgentName: "web-agent"})
		Expect(err).NotTo(HaveOccurred())
		Expect(groups).To(HaveLen(1))

		fresh, err = st.GetGroup(ctx, g.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh.ProductionVersion.RelatedTaskIDs).To(ContainElement("task-2"))
		Expect(fresh.SuccessCount).To(Equal(1))

		Expect(pub.ByTopic(bus.TopicSkillUpdated)).To(HaveLen(1))
	})

	It("refines an existing skill when similarity lands between the thresholds", func() {
		g := existingSkill()
		embedder.Embeddings["Export the monthly dashboard to CSV"] = []float32{0.8, 0.6, 0}
		fresh, err := st.GetGroup(ctx, g.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.AttachEmbedding(ctx, fresh.ProductionVersionID, []float32{1, 0, 0})).To(Succeed())

		llm.Responses = []string{mergedMarkdownJSON}

		enqueue("task-3")
		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		fresh, err = st.GetGroup(ctx, g.ID, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh.VersionCount).To(Equal(2))
		Expect(fresh.ProductionVersion.MarkdownContent).To(Equal("## Generalized steps"))
		Expect(fresh.ProductionVersion.CreationReason).To(Equal("refined from similar task"))
	})

	It("completes items whose tasks are no longer learnable", func() {
		item := &skill.QueueItem{TaskID: "task-gone", AgentName: "web-agent"}
		Expect(st.EnqueueLearning(ctx, item)).To(Succeed())

		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		done, err := st.GetQueueItem(ctx, item.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(done.Status).To(Equal(skill.QueueCompleted))

		groups, err := st.ListGroups(ctx, store.GroupFilter{AgentName: "web-agent"})
		Expect(err).NotTo(HaveOccurred())
		Expect(groups).To(BeEmpty())
	})

	It("isolates one item's failure from the rest of the batch", func() {
		worker = learning.NewWorker(st, trace.NewAnalyzer(trace.Config{}), svc,
			extractor.New(llm.Call, extractor.Config{}, nil),
			&flakyEvents{inner: events, failTask: "task-bad"},
			pub, learning.WorkerConfig{}, nil)

		bad := enqueue("task-bad")
		good := enqueue("task-good")

		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))

		failed, err := st.GetQueueItem(ctx, bad.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(failed.Status).To(Equal(skill.QueueFailed))
		Expect(failed.ErrorMessage).To(ContainSubstring("event stream unavailable"))
		Expect(failed.RetryCount).To(Equal(1))

		completed, err := st.GetQueueItem(ctx, good.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(completed.Status).To(Equal(skill.QueueCompleted))

		Expect(pub.ByTopic(bus.TopicLearningFailed)).To(HaveLen(1))
	})

	It("never processes the same item twice", func() {
		enqueue("task-4")

		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		n, err = worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeZero())
	})

	It("falls back to appending when the extracted name already exists", func() {
		g := existingSkill()
		// Embeddings stay apart so the similarity gate does not match,
		// but the draft's normalized name collides.
		embedder.Embeddings["Export the monthly dashboard to CSV"] = []float32{0, 1, 0}
		fresh, err := st.GetGroup(ctx, g.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(st.AttachEmbedding(ctx, fresh.ProductionVersionID, []float32{1, 0, 0})).To(Succeed())

		enqueue("task-5")
		n, err := worker.ProcessQueue(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(1))

		groups, err := st.ListGroups(ctx, store.GroupFilter{AgentName: "web-agent"})
		Expect(err).NotTo(HaveOccurred())
		Expect(groups).To(HaveLen(1))

		fresh, err = st.GetGroup(ctx, g.ID, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(fresh.ProductionVersion.RelatedTaskIDs).To(ContainElement("task-5"))
	})
})
