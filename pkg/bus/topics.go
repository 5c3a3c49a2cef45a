package bus

import "strings"

// Topic fragments used for dispatch. Handlers match on substring so broker
// prefixes and per-agent segments stay out of the routing logic.
const (
	FragmentNominate       = "/task/nominate-for-learning"
	FragmentTaskCompleted  = "/task/completed"
	FragmentFeedback       = "/feedback"
	FragmentSearchRequest  = "sam/skills/search/request"
	FragmentSearchResponse = "sam/skills/search/response"
)

// Outbound learning lifecycle topics.
const (
	TopicLearningQueued    = "sam/skills/learning/queued"
	TopicLearningCompleted = "sam/skills/learning/completed"
	TopicLearningFailed    = "sam/skills/learning/failed"

	TopicSkillCreated = "sam/skills/events/created"
	TopicSkillUpdated = "sam/skills/events/updated"
	TopicSkillDeleted = "sam/skills/events/deleted"
)

// NominateTopic builds the inbound nomination topic for an agent.
func NominateTopic(agentName string) string {
	return "sam/" + agentName + "/task/nominate-for-learning"
}

// TaskCompletedTopic builds the inbound passive-learning topic for an agent.
func TaskCompletedTopic(agentName string) string {
	return "sam/" + agentName + "/task/completed"
}

// FeedbackTopic builds the inbound feedback topic for a gateway and task.
func FeedbackTopic(gatewayName, taskID string) string {
	return "sam/" + gatewayName + "/feedback/" + taskID
}

// SearchRequestTopic builds the correlated search request topic.
func SearchRequestTopic(requestID string) string {
	return FragmentSearchRequest + "/" + requestID
}

// SearchResponseTopic builds the correlated search response topic.
func SearchResponseTopic(requestID string) string {
	return FragmentSearchResponse + "/" + requestID
}

// AgentLearnedTopic builds the per-agent notification topic for newly
// learned skills.
func AgentLearnedTopic(agentName string) string {
	return "sam/skills/" + agentName + "/learned"
}

// SearchRequestID extracts the correlation id from a search request topic,
// or "" when the topic is not one.
func SearchRequestID(topic string) string {
	if rest, ok := strings.CutPrefix(topic, FragmentSearchRequest+"/"); ok {
		return rest
	}
	return ""
}
