package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/rs/zerolog"

	"github.com/4xmen/goftegu/pkg/log"
)

type KafkaJournal struct {
	producer *kafka.Producer
	topic    string
	log      zerolog.Logger
	doneCh   chan struct{}
}

// NewKafka creates a producer for topic, creating the topic with the given
// partition count when it does not exist yet.
func NewKafka(brokers, topic string, partitions int) (*KafkaJournal, error) {
	logger := log.L().With().Str("component", "journal").Str("topic", topic).Logger()

	if partitions <= 0 {
		partitions = 4
	}
	if err := ensureTopic(brokers, topic, partitions); err != nil {
		logger.Warn().Err(err).Msg("failed to ensure topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": strings.TrimSpace(brokers),
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	j := &KafkaJournal{
		producer: p,
		topic:    topic,
		log:      logger,
		doneCh:   make(chan struct{}),
	}

	go j.deliveryReportHandler()

	return j, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}

	return nil
}

func (j *KafkaJournal) deliveryReportHandler() {
	for e := range j.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				j.log.Error().Err(ev.TopicPartition.Error).Str("key", string(ev.Key)).Msg("journal delivery failed")
			}
		}
	}
	close(j.doneCh)
}

// Append enqueues r keyed by its conversation. Delivery is asynchronous and
// failures are reported by the delivery handler.
func (j *KafkaJournal) Append(ctx context.Context, r *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	value, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}

	err = j.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &j.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(r.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(r.Kind)},
		},
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce journal record: %w", err)
	}

	return nil
}

func (j *KafkaJournal) Close() error {
	j.producer.Flush(5000)
	j.producer.Close()
	<-j.doneCh
	return nil
}
