// Package kafka connects the event bus to a Kafka cluster through watermill.
package kafka

import (
	"errors"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
)

var ErrNoBrokers = errors.New("kafka brokers are not configured")

type Config struct {
	Brokers []string
	// ServiceName names the consumer group ("cg-<name>") and the sarama client ID.
	ServiceName string
	// PublishTimeout bounds how long a publish waits for every in-sync replica.
	PublishTimeout time.Duration
}

func (c Config) brokers() []string {
	brokers := make([]string, 0, len(c.Brokers))

	for _, broker := range c.Brokers {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			brokers = append(brokers, broker)
		}
	}

	return brokers
}

func (c Config) subscriberConfig() kafka.SubscriberConfig {
	saramaConfig := kafka.DefaultSaramaSubscriberConfig()
	saramaConfig.ClientID = c.ServiceName
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest

	return kafka.SubscriberConfig{
		Brokers:               c.brokers(),
		Unmarshaler:           kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
		ConsumerGroup:         "cg-" + c.ServiceName,
		OTELEnabled:           true,
	}
}

func (c Config) publisherConfig() kafka.PublisherConfig {
	saramaConfig := kafka.DefaultSaramaSyncPublisherConfig()
	saramaConfig.ClientID = c.ServiceName
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll

	if c.PublishTimeout > 0 {
		saramaConfig.Producer.Timeout = c.PublishTimeout
	}

	return kafka.PublisherConfig{
		Brokers:               c.brokers(),
		Marshaler:             kafka.DefaultMarshaler{},
		OverwriteSaramaConfig: saramaConfig,
		OTELEnabled:           true,
	}
}

// New connects a publisher and a subscriber to the cluster. Both share the broker list.
func New(config Config, logger watermill.LoggerAdapter) (*kafka.Publisher, *kafka.Subscriber, error) {
	if len(config.brokers()) == 0 {
		return nil, nil, ErrNoBrokers
	}

	subscriber, err := kafka.NewSubscriber(config.subscriberConfig(), logger)
	if err != nil {
		return nil, nil, err
	}

	publisher, err := kafka.NewPublisher(config.publisherConfig(), logger)
	if err != nil {
		_ = subscriber.Close()

		return nil, nil, err
	}

	return publisher, subscriber, nil
}
