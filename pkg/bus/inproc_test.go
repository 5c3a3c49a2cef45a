package bus_test

import (
	"context"
	"testing"

	"github.com/skillmesh/skillmesh/pkg/bus"
)

func TestInprocDeliversSubscribedTopics(t *testing.T) {
	b := bus.NewInproc()
	ctx := context.Background()

	if err := b.Subscribe("sam/web-agent/task/nominate-for-learning"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(ctx, "sam/web-agent/task/nominate-for-learning", []byte(`{"task_id":"t1"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := <-b.Messages()
	if msg.Topic != "sam/web-agent/task/nominate-for-learning" {
		t.Errorf("wrong topic: %q", msg.Topic)
	}
	if string(msg.Value) != `{"task_id":"t1"}` {
		t.Errorf("wrong payload: %q", msg.Value)
	}
}

func TestInprocWildcardMatchesPrefix(t *testing.T) {
	b := bus.NewInproc()
	ctx := context.Background()

	if err := b.Subscribe("sam/webui/feedback*"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(ctx, bus.FeedbackTopic("webui", "task-1"), []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := <-b.Messages()
	if msg.Topic != "sam/webui/feedback/task-1" {
		t.Errorf("wrong topic: %q", msg.Topic)
	}
}

func TestInprocDropsUnmatchedTopics(t *testing.T) {
	b := bus.NewInproc()
	ctx := context.Background()

	if err := b.Subscribe("sam/web-agent/task/completed"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Publish(ctx, "sam/other-agent/task/completed", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-b.Messages():
		t.Errorf("unexpected delivery: %q", msg.Topic)
	default:
	}
}

func TestInprocPublishAfterClose(t *testing.T) {
	b := bus.NewInproc()
	if err := b.Subscribe("topic"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(context.Background(), "topic", []byte(`{}`)); err != nil {
		t.Errorf("Publish after Close: %v", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	cases := []struct {
		got, want string
	}{
		{bus.NominateTopic("web-agent"), "sam/web-agent/task/nominate-for-learning"},
		{bus.TaskCompletedTopic("web-agent"), "sam/web-agent/task/completed"},
		{bus.FeedbackTopic("webui", "task-1"), "sam/webui/feedback/task-1"},
		{bus.SearchRequestTopic("req-1"), "sam/skills/search/request/req-1"},
		{bus.SearchResponseTopic("req-1"), "sam/skills/search/response/req-1"},
		{bus.AgentLearnedTopic("web-agent"), "sam/skills/web-agent/learned"},
		{bus.TopicSkillDeleted, "sam/skills/events/deleted"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestSearchRequestID(t *testing.T) {
	if id := bus.SearchRequestID(bus.SearchRequestTopic("req-9")); id != "req-9" {
		t.Errorf("got %q", id)
	}
	if id := bus.SearchRequestID("sam/skills/search/response/req-9"); id != "" {
		t.Errorf("expected empty id, got %q", id)
	}
}

func TestKafkaTopicMapping(t *testing.T) {
	got := bus.KafkaTopic("sam/web-agent/task/completed")
	if got != "sam.web-agent.task.completed" {
		t.Errorf("got %q", got)
	}
}
