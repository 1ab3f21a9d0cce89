package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubConfig struct {
	system   string
	service  string
	services []string
	direct   []string
}

func (s stubConfig) GetPubSubSystem() string   { return s.system }
func (s stubConfig) GetRabbitMQURL() string    { return "" }
func (s stubConfig) GetExchange() string       { return "amq.topic" }
func (s stubConfig) GetServiceName() string    { return s.service }
func (s stubConfig) GetServices() []string     { return s.services }
func (s stubConfig) GetDirectQueues() []string { return s.direct }

func stubBuilder(pubsub *gochannel.GoChannel) Builder {
	return func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{Publisher: pubsub, Subscriber: pubsub}, nil
	}
}

func TestRegistryBuildsRegisteredTransport(t *testing.T) {
	reg := NewRegistry()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })
	reg.Register("Fake", stubBuilder(pubsub), Capabilities{SupportsAck: true})

	assert.True(t, reg.Has("fake"))
	assert.Equal(t, []string{"fake"}, reg.Names())
	assert.Equal(t, Capabilities{Name: "fake", SupportsAck: true}, reg.GetCapabilities("FAKE"))

	tr, err := reg.Build(context.Background(), stubConfig{system: "fake", service: "crm"}, nil)
	require.NoError(t, err)
	var pub message.Publisher = pubsub
	assert.Equal(t, pub, tr.Publisher)
}

func TestRegistryBuildErrors(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("dial failed")
	reg.Register("broken", func(context.Context, Config, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, boom
	}, Capabilities{})

	_, err := reg.Build(context.Background(), nil, nil)
	assert.ErrorContains(t, err, "config is required")

	_, err = reg.Build(context.Background(), stubConfig{system: "broken"}, nil)
	assert.ErrorContains(t, err, "service name is required")

	_, err = reg.Build(context.Background(), stubConfig{system: "kafka", service: "crm"}, nil)
	assert.ErrorIs(t, err, ErrUnknownTransport)
	assert.ErrorContains(t, err, "broken")

	_, err = reg.Build(context.Background(), stubConfig{system: "broken", service: "crm"}, nil)
	assert.ErrorIs(t, err, boom)

	assert.Panics(t, func() { reg.Register("nil", nil, Capabilities{}) })
	assert.Equal(t, Capabilities{Name: "nope"}, reg.GetCapabilities("nope"))
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubsub.Close() })

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register("fake", stubBuilder(pubsub), ChannelCapabilities)
		}()
		go func() {
			defer wg.Done()
			_ = reg.Names()
			_ = reg.GetCapabilities("fake")
		}()
	}
	wg.Wait()
	assert.True(t, reg.Has("fake"))
}

func TestTopologyFor(t *testing.T) {
	top := TopologyFor(stubConfig{
		service:  "pos",
		services: []string{"crm", "pos"},
		direct:   []string{"pos.dead_letter", "heartbeat_queue"},
	})

	assert.Equal(t, "pos", top.Queue)
	assert.Contains(t, top.Bindings, "user.crm")
	assert.Contains(t, top.Bindings, "order.crm")
	assert.NotContains(t, top.Bindings, "user.pos")
	assert.Equal(t, "", top.ExchangeFor("heartbeat_queue"))
	assert.Equal(t, "amq.topic", top.ExchangeFor("user.pos"))
}

func TestCapabilities(t *testing.T) {
	assert.True(t, ChannelCapabilities.RequiresDLQEmulation())
	assert.False(t, RabbitMQCapabilities.RequiresDLQEmulation())
	assert.True(t, RabbitMQCapabilities.Durable)
}
