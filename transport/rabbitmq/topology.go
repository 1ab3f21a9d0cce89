package rabbitmq

import (
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/syncflow/transport"
)

// declarer is the part of an AMQP channel topology declaration needs.
type declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	ExchangeDeclarePassive(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp091.Table) error
}

// TopologyBuilder declares the service queue and binds it to the routing keys
// of every other service. Exchanges whose name starts with "amq." are
// pre-declared by the broker and only checked passively.
type TopologyBuilder struct {
	Topology transport.Topology
}

var _ amqp.TopologyBuilder = TopologyBuilder{}

// ExchangeDeclare implements amqp.TopologyBuilder.
func (b TopologyBuilder) ExchangeDeclare(channel *amqp091.Channel, exchangeName string, config amqp.Config) error {
	return declareExchange(channel, exchangeName, config.Exchange.Type)
}

// BuildTopology implements amqp.TopologyBuilder. It is called by the
// subscriber for the topic it consumes, which is the service queue.
func (b TopologyBuilder) BuildTopology(channel *amqp091.Channel, params amqp.BuildTopologyParams, config amqp.Config, logger watermill.LoggerAdapter) error {
	if err := b.declare(channel, config.Exchange.Type); err != nil {
		return err
	}
	if params.QueueName != b.Topology.Queue {
		if _, err := channel.QueueDeclare(params.QueueName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", params.QueueName, err)
		}
	}
	logger.Debug("Topology declared", watermill.LogFields{
		"queue":    params.QueueName,
		"exchange": b.Topology.Exchange,
		"bindings": len(b.Topology.Bindings),
	})
	return nil
}

func (b TopologyBuilder) declare(ch declarer, kind string) error {
	top := b.Topology
	if err := declareExchange(ch, top.Exchange, kind); err != nil {
		return err
	}
	if _, err := ch.QueueDeclare(top.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", top.Queue, err)
	}
	for _, key := range top.Bindings {
		if err := ch.QueueBind(top.Queue, key, top.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", top.Queue, key, err)
		}
	}
	for _, q := range top.DirectQueues {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
	}
	return nil
}

func declareExchange(ch declarer, name, kind string) error {
	if name == "" {
		return nil
	}
	if kind == "" {
		kind = amqp091.ExchangeTopic
	}
	var err error
	if strings.HasPrefix(name, "amq.") {
		err = ch.ExchangeDeclarePassive(name, kind, true, false, false, false, nil)
	} else {
		err = ch.ExchangeDeclare(name, kind, true, false, false, false, nil)
	}
	if err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}
