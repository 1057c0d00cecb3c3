package notify

import (
	"encoding/json"
	"time"

	nsq "github.com/nsqio/go-nsq"
	uuid "github.com/satori/go.uuid"
)

// ResultEvent is the envelope published to the event bus for every run.
type ResultEvent struct {
	ID     string  `json:"id"`
	Time   int64   `json:"time"`
	Result Message `json:"result"`
}

// Publisher publishes events to an NSQ topic.
type Publisher struct {
	Producer *nsq.Producer
}

func (p *Publisher) Publish(topic string, event []byte) error {
	return p.Producer.Publish(topic, event)
}

// EventSink publishes run results to NSQ so other automation (reporting,
// dashboards) can consume them.
type EventSink struct {
	publisher *Publisher
	topic     string
}

// NewEventSink creates an NSQ-backed sink.
func NewEventSink(publisher *Publisher, topic string) *EventSink {
	return &EventSink{publisher: publisher, topic: topic}
}

func (s *EventSink) Send(msg Message) error {
	event := ResultEvent{
		ID:     uuid.NewV4().String(),
		Time:   time.Now().UnixNano(),
		Result: msg,
	}
	data, err := json.Marshal(&event)
	if err != nil {
		return err
	}
	return s.publisher.Publish(s.topic, data)
}
