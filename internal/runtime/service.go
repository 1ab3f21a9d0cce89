package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/syncflow/internal/codec"
	"github.com/drblury/syncflow/internal/dispatcher"
	"github.com/drblury/syncflow/internal/identity"
	"github.com/drblury/syncflow/internal/monitoring"
	"github.com/drblury/syncflow/internal/publisher"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
	metricspkg "github.com/drblury/syncflow/internal/runtime/metrics"
	transportpkg "github.com/drblury/syncflow/internal/runtime/transport"
	"github.com/drblury/syncflow/internal/schema"
	"github.com/drblury/syncflow/internal/source"
	"github.com/drblury/syncflow/internal/source/pgchangelog"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// DispatcherHandlerName names the router handler consuming the service queue.
const DispatcherHandlerName = "dispatcher"

const shutdownTimeout = 10 * time.Second

// ServiceDependencies holds the collaborators a Service uses instead of
// building them from configuration. Leave fields nil for the defaults.
type ServiceDependencies struct {
	TransportFactory transportpkg.Factory
	// Resolver defaults to the HTTP client of IdentityServiceURL.
	Resolver identity.Resolver
	// Validator defaults to the embedded schemas, or SchemaDir when set.
	Validator schema.Validator
	// Handlers enables the consumer. Kinds without a handler are dead-lettered.
	Handlers *dispatcher.Table
	// ChangeLog and Records replace the source system backends. Setting
	// ChangeLog enables the publisher.
	ChangeLog source.ChangeLog
	Records   publisher.RecordSource
	// HTTPClient is used for the identity service and the source system.
	HTTPClient *http.Client

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool
	ErrorClassifier           ErrorClassifier
	Hooks                     EnvelopeHooks

	// Registerer and Gatherer default to the Prometheus default registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Service runs one syncflow participant: the consumer of its queue, the
// publisher of its source system changes, the heartbeat and the ops servers.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	publisher  message.Publisher
	subscriber message.Subscriber
	router     *message.Router

	validator  schema.Validator
	codec      *codec.Codec
	metrics    *metricspkg.Recorder
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer
	shipper    *monitoring.Shipper

	dispatcher *dispatcher.Dispatcher
	pipeline   *publisher.Publisher
	heartbeat  *monitoring.Heartbeat
	closers    []io.Closer

	handlers   []*HandlerInfo
	handlersMu sync.RWMutex

	httpRouters map[int]*mux.Router
	httpMu      sync.Mutex

	errorClassifier ErrorClassifier
	hooks           EnvelopeHooks
	resources       *resourceSampler
}

// NewService builds a Service for conf. Defaults are applied to a copy of
// conf and the result is validated before anything connects.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	c := conf.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	log = loggingpkg.OrNop(log).With(loggingpkg.LogFields{loggingpkg.FieldService: c.ServiceName})
	log.Info("Creating syncflow service", loggingpkg.LogFields{
		"pubsub_system": c.PubSubSystem,
		"config":        c.String(),
	})

	s := &Service{
		Conf:            &c,
		Logger:          log,
		registerer:      deps.Registerer,
		gatherer:        deps.Gatherer,
		errorClassifier: deps.ErrorClassifier,
		hooks:           deps.Hooks,
		resources:       newResourceSampler(),
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	if err := s.build(ctx, deps); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build(ctx context.Context, deps ServiceDependencies) error {
	c := s.Conf
	wmLogger := loggingpkg.NewWatermillAdapter(s.Logger)

	if c.MetricsEnabled {
		s.metrics = metricspkg.NewRecorder(s.registerer)
		if err := s.metrics.Register(); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}

	validator, err := s.buildValidator(deps)
	if err != nil {
		return err
	}
	s.validator = validator

	resolver := deps.Resolver
	if resolver == nil {
		if c.IdentityServiceURL == "" {
			return errspkg.ErrResolverRequired
		}
		opts := []identity.Option{identity.WithMetrics(s.metrics)}
		if deps.HTTPClient != nil {
			opts = append(opts, identity.WithHTTPClient(deps.HTTPClient))
		}
		opts = append(opts, identity.WithTimeout(c.IdentityTimeout))
		resolver = identity.NewClient(c.IdentityServiceURL, opts...)
	}
	if s.codec, err = codec.New(resolver, c.ServiceName); err != nil {
		return err
	}

	factory := deps.TransportFactory
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	tr, err := factory.Build(ctx, c, wmLogger)
	if err != nil {
		return fmt.Errorf("build transport: %w", err)
	}
	s.publisher, s.subscriber = tr.Publisher, tr.Subscriber

	if s.router, err = message.NewRouter(message.RouterConfig{CloseTimeout: shutdownTimeout}, wmLogger); err != nil {
		return err
	}
	s.router.AddPlugin(plugin.SignalsHandler)

	if c.ShipLogs {
		s.shipper, err = monitoring.NewShipper(monitoring.ShipperConfig{
			SystemName:  c.ServiceName,
			RoutingKey:  c.LogRoutingKey,
			ShipSuccess: c.ShipSuccessLogs,
		}, s.publisher, s.validator)
		if err != nil {
			return err
		}
	}
	if c.HeartbeatEnabled {
		s.heartbeat, err = monitoring.NewHeartbeat(monitoring.HeartbeatConfig{
			SystemName: c.ServiceName,
			Queue:      c.HeartbeatQueue,
			Interval:   c.HeartbeatInterval,
		}, s.publisher, s.validator, s.Logger)
		if err != nil {
			return err
		}
	}

	if deps.Handlers != nil {
		if err := s.buildConsumer(resolver, deps); err != nil {
			return err
		}
	}
	if deps.ChangeLog != nil || c.PublishingEnabled() {
		if err := s.buildPublisher(ctx, deps); err != nil {
			return err
		}
	}

	s.registerOpsRoutes()
	return nil
}

func (s *Service) buildValidator(deps ServiceDependencies) (schema.Validator, error) {
	if deps.Validator != nil {
		return deps.Validator, nil
	}
	if s.Conf.SchemaDir != "" {
		reg, err := schema.Load(s.Conf.SchemaDir)
		if err != nil {
			return nil, fmt.Errorf("load schemas from %s: %w", s.Conf.SchemaDir, err)
		}
		return reg, nil
	}
	return schema.Default()
}

func (s *Service) buildConsumer(resolver identity.Resolver, deps ServiceDependencies) error {
	d, err := dispatcher.New(dispatcher.Config{
		Codec:    s.codec,
		Resolver: resolver,
		Table:    deps.Handlers,
		Logger:   s.Logger,
		Metrics:  s.metrics,
		Shipper:  s.logShipper(),
	})
	if err != nil {
		return err
	}
	s.dispatcher = d

	if missing := deps.Handlers.Missing(); len(missing) > 0 {
		s.Logger.Info("Envelopes without a handler will be dead-lettered", loggingpkg.LogFields{
			"kinds": fmt.Sprint(missing),
		})
	}

	s.registerConfiguredMiddlewares(deps)
	return s.registerHandler(MessageHandlerRegistration{
		Name:         DispatcherHandlerName,
		ConsumeQueue: s.Conf.ServiceName,
		Handler:      d.Handle,
	})
}

func (s *Service) buildPublisher(ctx context.Context, deps ServiceDependencies) error {
	c := s.Conf
	var client *source.Client
	sourceClient := func() (*source.Client, error) {
		if client != nil {
			return client, nil
		}
		key, err := os.ReadFile(c.SourcePrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read source private key: %w", err)
		}
		tokens := source.JWTTokenSource(source.Credentials{
			TokenURL:   c.SourceTokenURL,
			ClientID:   c.SourceClientID,
			Subject:    c.SourceSubject,
			Audience:   c.SourceAudience,
			PrivateKey: key,
		})
		client, err = source.NewClient(c.SourceBaseURL, tokens, deps.HTTPClient)
		return client, err
	}

	records := deps.Records
	if records == nil {
		cl, err := sourceClient()
		if err != nil {
			return err
		}
		records = cl
	}

	changeLog := deps.ChangeLog
	if changeLog == nil {
		switch c.ChangeLogBackend {
		case configpkg.ChangeLogPostgres:
			pg, err := pgchangelog.Open(pgchangelog.Config{ConnectionString: c.PostgresURL}, s.Logger)
			if err != nil {
				return err
			}
			s.closers = append(s.closers, pg)
			if err := pg.Install(ctx); err != nil {
				return err
			}
			changeLog = pg
		default:
			cl, err := sourceClient()
			if err != nil {
				return err
			}
			changeLog = source.NewRESTChangeLog(cl, s.Logger)
		}
	}

	poller, err := source.NewPoller(changeLog, source.PollerConfig{
		Interval:  c.PollInterval,
		BatchSize: c.PollBatchSize,
	}, s.Logger)
	if err != nil {
		return err
	}

	s.pipeline, err = publisher.New(publisher.Config{
		Source:    poller,
		Records:   records,
		Codec:     s.codec,
		Validator: s.validator,
		Publisher: s.publisher,
		Logger:    s.Logger,
		Metrics:   s.metrics,
		Shipper:   s.logShipper(),
	})
	return err
}

// logShipper keeps a nil *Shipper out of the interface.
func (s *Service) logShipper() publisher.LogShipper {
	if s.shipper == nil {
		return nil
	}
	return s.shipper
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			s.Logger.Error("Middleware not registered", err, loggingpkg.LogFields{"middleware": name})
		}
	}
}

// Start runs every configured loop until ctx is cancelled or one of them
// fails. A failing loop stops the others so a supervisor can restart the
// process.
func (s *Service) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range s.httpServers() {
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server %s: %w", srv.Addr, err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if len(s.Handlers()) > 0 {
		g.Go(func() error { return routerRun(s.router, gctx) })
		g.Go(func() error {
			<-gctx.Done()
			return s.router.Close()
		})
	}
	if s.pipeline != nil {
		g.Go(func() error { return s.pipeline.Run(gctx) })
	}
	if s.heartbeat != nil {
		g.Go(func() error { return s.heartbeat.Run(gctx) })
	}

	err := g.Wait()
	s.Logger.Info("Service stopped", nil)
	return err
}

func (s *Service) httpServers() []*http.Server {
	s.httpMu.Lock()
	defer s.httpMu.Unlock()
	servers := make([]*http.Server, 0, len(s.httpRouters))
	for port, r := range s.httpRouters {
		servers = append(servers, &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}
	return servers
}

// Close releases the transport and the change log connection.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.subscriber != nil {
		errs = append(errs, s.subscriber.Close())
	}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Publisher returns the transport publisher.
func (s *Service) Publisher() message.Publisher { return s.publisher }

// Subscriber returns the transport subscriber.
func (s *Service) Subscriber() message.Subscriber { return s.subscriber }

// Dispatcher returns the consumer, or nil when no handler table was given.
func (s *Service) Dispatcher() *dispatcher.Dispatcher { return s.dispatcher }

// Pipeline returns the publisher, or nil when no source system is configured.
func (s *Service) Pipeline() *publisher.Publisher { return s.pipeline }

// Heartbeat returns the heartbeat, or nil when disabled.
func (s *Service) Heartbeat() *monitoring.Heartbeat { return s.heartbeat }

// Validator returns the schema validator in use.
func (s *Service) Validator() schema.Validator { return s.validator }

func (s *Service) getErrorClassifier() ErrorClassifier {
	if s.errorClassifier == nil {
		return DefaultErrorClassifier
	}
	return s.errorClassifier
}
