package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/IBM/sarama"

	"tglink/internal/domain/models"
	"tglink/internal/lib/logger/sl"
)

// Producer publishes link events to Kafka without waiting for acks.
type Producer struct {
	log      *slog.Logger
	producer sarama.AsyncProducer
	topic    models.Topic
	wg       sync.WaitGroup
}

func NewKafkaProducer(log *slog.Logger, brokers []string, topic models.Topic) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 500

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return NewProducer(log, producer, topic), nil
}

// NewProducer wraps an existing async producer.
func NewProducer(log *slog.Logger, producer sarama.AsyncProducer, topic models.Topic) *Producer {
	p := &Producer{
		log:      log.With(slog.String("component", "kafka_producer"), slog.String("topic", string(topic))),
		producer: producer,
		topic:    topic,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for err := range producer.Errors() {
			p.log.Error("failed to deliver event", sl.Err(err))
		}
	}()

	return p
}

// PublishLink queues the event. When the input buffer is full the event is
// dropped, since link events never block a login.
func (p *Producer) PublishLink(_ context.Context, event models.LinkEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		p.log.Error("failed to marshal event", sl.Err(err))
		return
	}

	select {
	case p.producer.Input() <- &sarama.ProducerMessage{
		Topic: string(p.topic),
		Key:   sarama.StringEncoder(event.Email),
		Value: sarama.ByteEncoder(message),
	}:
		p.log.Debug("event queued", slog.String("phase", string(event.Phase)))
	default:
		p.log.Warn("event dropped, producer input is full")
	}
}

func (p *Producer) Close() error {
	err := p.producer.Close()
	p.wg.Wait()

	return err
}
