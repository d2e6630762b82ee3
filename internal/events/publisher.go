package events

import "fmt"

// Publisher stamps envelopes for the topics its holder is authorized to
// emit. Exactly one publisher exists per topic: the command executor
// holds the task lifecycle topics, the reminder scheduler holds
// task.reminder_triggered. Consumers never construct envelopes.
type Publisher struct {
	allowed map[string]bool
}

func NewPublisher(topics ...string) *Publisher {
	p := &Publisher{allowed: make(map[string]bool, len(topics))}
	for _, t := range topics {
		p.allowed[t] = true
	}
	return p
}

// NewTaskPublisher returns the publisher held by the command executor.
func NewTaskPublisher() *Publisher {
	return NewPublisher(TopicTaskCreated, TopicTaskUpdated, TopicTaskCompleted, TopicTaskDeleted)
}

// NewReminderPublisher returns the publisher held by the reminder
// scheduler.
func NewReminderPublisher() *Publisher {
	return NewPublisher(TopicReminderTriggered)
}

// Envelope builds an envelope for an authorized topic. An unauthorized
// topic is a wiring bug and is reported as an error rather than emitted.
func (p *Publisher) Envelope(topic, ownerID, taskID string, payload any) (Envelope, error) {
	if !p.allowed[topic] {
		return Envelope{}, fmt.Errorf("publisher not authorized for topic %q", topic)
	}
	return NewEnvelope(topic, ownerID, taskID, payload), nil
}
