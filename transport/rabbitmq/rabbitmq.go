// Package rabbitmq provides the RabbitMQ transport: envelopes are published to
// a topic exchange under their routing key, and each service consumes one
// durable queue named after it.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/syncflow/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

// DeclareFunc declares the topology at startup, before any message flows, so
// direct queues exist even for processes that only publish. Tests replace it.
var DeclareFunc = declareOverDial

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.Register(TransportName, Build, transport.RabbitMQCapabilities)
}

// NewConfig returns the watermill-amqp configuration for a topology: a durable
// topic exchange, publishing with the topic as routing key, and the custom
// topology builder binding the service queue.
func NewConfig(url string, top transport.Topology) amqp.Config {
	cfg := amqp.NewDurablePubSubConfig(url, func(topic string) string { return topic })

	cfg.Exchange.GenerateName = top.ExchangeFor
	cfg.Exchange.Type = amqp091.ExchangeTopic
	cfg.Exchange.Durable = true

	cfg.QueueBind.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.GenerateRoutingKey = func(topic string) string { return topic }
	cfg.Publish.ConfirmDelivery = true

	// One message in flight keeps handling sequential per queue.
	cfg.Consume.Qos.PrefetchCount = 1

	cfg.TopologyBuilder = TopologyBuilder{Topology: top}
	return cfg
}

// Build creates a new RabbitMQ transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetRabbitMQURL()
	if url == "" {
		return transport.Transport{}, errors.New("rabbitmq: URL is required")
	}
	top := transport.TopologyFor(cfg)
	amqpConfig := NewConfig(url, top)

	if err := DeclareFunc(url, TopologyBuilder{Topology: top}, amqpConfig.Exchange.Type); err != nil {
		return transport.Transport{}, err
	}

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   url,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	logger.Info("RabbitMQ transport ready", watermill.LogFields{
		"exchange": top.Exchange,
		"queue":    top.Queue,
		"bindings": len(top.Bindings),
	})
	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

func declareOverDial(url string, b TopologyBuilder, kind string) error {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return fmt.Errorf("rabbitmq: dial: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer ch.Close()

	return b.declare(ch, kind)
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
