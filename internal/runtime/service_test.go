package runtime

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/syncflow/internal/adapter/memory"
	"github.com/drblury/syncflow/internal/dispatcher"
	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/identity"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	"github.com/drblury/syncflow/internal/runtime/metadata"
)

func TestNewServiceRequiresConfig(t *testing.T) {
	_, err := NewService(context.Background(), nil, newTestLogger(), ServiceDependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)
}

func TestNewServiceRejectsInvalidConfig(t *testing.T) {
	conf := &configpkg.Config{PubSubSystem: "kafka"}
	_, err := NewService(context.Background(), conf, newTestLogger(), testDeps(ServiceDependencies{}))
	require.Error(t, err)
	var cfgErr errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "unsupported system")
	assert.Contains(t, err.Error(), "service: name is required")
}

func TestNewServiceRequiresResolver(t *testing.T) {
	_, err := NewService(context.Background(), channelConfig(t, "pos"), newTestLogger(), testDeps(ServiceDependencies{}))
	assert.ErrorIs(t, err, errspkg.ErrResolverRequired)
}

func TestNewServiceDefaultsIdentityClient(t *testing.T) {
	conf := channelConfig(t, "crm")
	conf.IdentityServiceURL = "http://identity.invalid"
	svc, err := NewService(context.Background(), conf, newTestLogger(), testDeps(ServiceDependencies{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	assert.Nil(t, svc.Dispatcher())
	assert.Nil(t, svc.Pipeline())
	assert.Empty(t, svc.Handlers())
	assert.Equal(t, "crm.dead_letter", svc.Conf.DeadLetterQueue)
	assert.NotNil(t, svc.Validator())
}

func TestNewServiceDoesNotMutateConfig(t *testing.T) {
	conf := channelConfig(t, "pos")
	_, err := NewService(context.Background(), conf, newTestLogger(), testDeps(ServiceDependencies{
		Resolver: identity.NewMemoryResolver(),
	}))
	require.NoError(t, err)
	assert.Empty(t, conf.DeadLetterQueue)
}

func TestStartReturnsWithoutLoops(t *testing.T) {
	svc, err := NewService(context.Background(), channelConfig(t, "pos"), newTestLogger(), testDeps(ServiceDependencies{
		Resolver: identity.NewMemoryResolver(),
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	assert.NoError(t, svc.Start(context.Background()))
}

func TestConsumerRegistersDispatcher(t *testing.T) {
	table := dispatcher.NewTable()
	require.NoError(t, memory.NewService("pos").Bind(table))

	svc, err := NewService(context.Background(), channelConfig(t, "pos"), newTestLogger(), testDeps(ServiceDependencies{
		Resolver: identity.NewMemoryResolver(),
		Handlers: table,
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })

	require.NotNil(t, svc.Dispatcher())
	handlers := svc.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, DispatcherHandlerName, handlers[0].Name)
	assert.Equal(t, "pos", handlers[0].ConsumeQueue)
}

func TestRoundTripBetweenServices(t *testing.T) {
	resolver := identity.NewMemoryResolver()
	changes := &memoryChangeLog{pending: []entity.ChangeNotification{
		{ChangeID: "c1", Type: entity.User, Operation: entity.Create, SourceID: "u1"},
	}}
	records := &memoryRecords{records: map[string]envelope.Record{
		"u1": userRecord(t, `{"Id":"u1","first_name__c":"Jo","last_name__c":"Doe"}`),
	}}

	crmConf := channelConfig(t, "crm")
	crmConf.PollInterval = 10 * time.Millisecond
	crm, err := NewService(context.Background(), crmConf, newTestLogger(), testDeps(ServiceDependencies{
		Resolver:  resolver,
		ChangeLog: changes,
		Records:   records,
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = crm.Close() })
	require.NotNil(t, crm.Pipeline())

	downstream := memory.NewService("pos")
	table := dispatcher.NewTable()
	require.NoError(t, downstream.Bind(table))

	var done []EnvelopeContext
	doneCh := make(chan struct{}, 1)
	pos, err := NewService(context.Background(), channelConfig(t, "pos"), newTestLogger(), testDeps(ServiceDependencies{
		Resolver: resolver,
		Handlers: table,
		Hooks: EnvelopeHooks{OnDone: func(ec EnvelopeContext) {
			done = append(done, ec)
			doneCh <- struct{}{}
		}},
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pos.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 2)
	go func() { errs <- crm.Start(ctx) }()
	go func() { errs <- pos.Start(ctx) }()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("envelope was not applied")
	}
	cancel()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	assert.Equal(t, 1, downstream.Users.Len())
	assert.Equal(t, []string{"c1"}, changes.Cleared())

	require.Len(t, done, 1)
	assert.Equal(t, entity.Kind{Type: entity.User, Operation: entity.Create}, done[0].Kind)
	assert.Equal(t, "crm", done[0].OriginService)
	assert.NotEmpty(t, done[0].MasterUUID)

	localID, found, err := resolver.GetServiceID(context.Background(), "pos", done[0].MasterUUID)
	require.NoError(t, err)
	require.True(t, found)
	fields, ok := downstream.Users.Get(localID)
	require.True(t, ok)
	assert.True(t, slices.Contains(valuesOf(fields), "Jo"), fields)

	stats := pos.Handlers()[0].Stats
	assert.Equal(t, uint64(1), stats.MessagesProcessed)
	assert.Equal(t, uint64(1), stats.ByKind["user.create"])
}

func TestUnreadableEnvelopeIsDeadLettered(t *testing.T) {
	table := dispatcher.NewTable()
	require.NoError(t, memory.NewService("pos").Bind(table))

	var category ErrorCategory
	pos, err := NewService(context.Background(), channelConfig(t, "pos"), newTestLogger(), testDeps(ServiceDependencies{
		Resolver: identity.NewMemoryResolver(),
		Handlers: table,
		Hooks: EnvelopeHooks{OnError: func(_ EnvelopeContext, c ErrorCategory, _ error) {
			category = c
		}},
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = pos.Close() })

	dead, err := pos.Subscriber().Subscribe(context.Background(), pos.Conf.DeadLetterQueue)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errs := make(chan error, 1)
	go func() { errs <- pos.Start(ctx) }()

	msg := message.NewMessage("m1", []byte("<spaceship/>"))
	msg.Metadata.Set(metadata.KeyCorrelationID, "corr-1")
	require.NoError(t, pos.Publisher().Publish("user.crm", msg))

	select {
	case got := <-dead:
		got.Ack()
		assert.Equal(t, "<spaceship/>", string(got.Payload))
		assert.Equal(t, "corr-1", got.Metadata.Get(metadata.KeyCorrelationID))
		assert.NotEmpty(t, got.Metadata.Get("reason_poisoned"))
	case <-time.After(5 * time.Second):
		t.Fatal("envelope was not dead-lettered")
	}
	cancel()
	require.NoError(t, <-errs)

	assert.Equal(t, ErrorCategoryValidation, category)
	stats := pos.Handlers()[0].Stats
	assert.Equal(t, uint64(1), stats.MessagesFailed)
	assert.Equal(t, uint64(1), stats.Errors.Validation)
}

func valuesOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out
}
