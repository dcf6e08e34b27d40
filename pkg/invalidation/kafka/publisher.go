package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/eo-timeseries/internal/invalidation"
)

// Publisher announces collection updates on the invalidation topic. Events
// are keyed by collection so one collection's events stay on one partition
// and arrive in sequence order.
type Publisher struct {
	topic string
	prod  sarama.SyncProducer
	now   func() time.Time
}

func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	prod, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("invalidation publisher: create producer: %w", err)
	}
	return NewPublisherWith(prod, topic), nil
}

func NewPublisherWith(prod sarama.SyncProducer, topic string) *Publisher {
	return &Publisher{topic: topic, prod: prod, now: time.Now}
}

// CollectionUpdated fills in the envelope fields, validates the event and
// sends it.
func (p *Publisher) CollectionUpdated(collection string, seq uint64, source string) (invalidation.Event, error) {
	ev := invalidation.Event{
		Version:    1,
		Op:         invalidation.OpCollectionUpdated,
		Collection: strings.TrimSpace(collection),
		Seq:        seq,
		TS:         p.now().UTC(),
		Source:     source,
	}
	if err := ev.Validate(); err != nil {
		return ev, fmt.Errorf("invalidation publisher: %w", err)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return ev, fmt.Errorf("invalidation publisher: marshal: %w", err)
	}
	_, _, err = p.prod.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Collection),
		Value: sarama.ByteEncoder(b),
	})
	if err != nil {
		return ev, fmt.Errorf("invalidation publisher: send: %w", err)
	}
	return ev, nil
}

func (p *Publisher) Close() error {
	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("invalidation publisher: close producer: %w", err)
	}
	return nil
}
