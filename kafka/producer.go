package kafka

import (
	"encoding/json"
	"sync"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/6587027/VipStore-sub001/chat"
	"github.com/6587027/VipStore-sub001/metrics"
)

type Producer struct {
	producer sarama.SyncProducer
}

func NewProducer(brokers []string, config *sarama.Config) (*Producer, error) {
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}
	return &Producer{producer: producer}, nil
}

// NewProducerFrom wraps an existing sarama producer.
func NewProducerFrom(producer sarama.SyncProducer) *Producer {
	return &Producer{producer: producer}
}

func (p *Producer) SendMessage(topic string, key string, value interface{}) (int32, int64, error) {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return 0, 0, err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonValue),
	}
	return p.producer.SendMessage(msg)
}

func (p *Producer) Close() error {
	return p.producer.Close()
}

// EventPublisher ships chat activity to Kafka off the request path. Events are
// queued and sent by a small worker pool keyed by room id, so one room's events
// stay in one partition. A full queue drops the event.
type EventPublisher struct {
	producer *Producer
	topic    string
	queue    chan chat.ActivityEvent
	logger   zerolog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewEventPublisher(producer *Producer, topic string, workers, queueSize int, logger zerolog.Logger) *EventPublisher {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}
	p := &EventPublisher{
		producer: producer,
		topic:    topic,
		queue:    make(chan chat.ActivityEvent, queueSize),
		logger:   logger.With().Str("component", "kafka_publisher").Logger(),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *EventPublisher) Publish(evt chat.ActivityEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- evt:
	default:
		metrics.KafkaPublishFailures.Inc()
		p.logger.Warn().Str("event", string(evt.Type)).Msg("publish queue full, dropping event")
	}
}

func (p *EventPublisher) worker() {
	defer p.wg.Done()
	for evt := range p.queue {
		partition, offset, err := p.producer.SendMessage(p.topic, evt.RoomID, evt)
		if err != nil {
			metrics.KafkaPublishFailures.Inc()
			p.logger.Error().Err(err).Str("event", string(evt.Type)).Str("room_id", evt.RoomID).Msg("failed to publish chat event")
			continue
		}
		p.logger.Debug().Int32("partition", partition).Int64("offset", offset).Msg("chat event published")
	}
}

// Close drains queued events and closes the producer.
func (p *EventPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.producer.Close()
}
