package syncflow

import (
	"github.com/drblury/syncflow/internal/adapter/memory"
	"github.com/drblury/syncflow/internal/dispatcher"
	"github.com/drblury/syncflow/internal/entity"
	"github.com/drblury/syncflow/internal/envelope"
	"github.com/drblury/syncflow/internal/identity"
	"github.com/drblury/syncflow/internal/publisher"
	runtimepkg "github.com/drblury/syncflow/internal/runtime"
	configpkg "github.com/drblury/syncflow/internal/runtime/config"
	errspkg "github.com/drblury/syncflow/internal/runtime/errors"
	idspkg "github.com/drblury/syncflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/syncflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/syncflow/internal/runtime/metadata"
	transportpkg "github.com/drblury/syncflow/internal/runtime/transport"
	"github.com/drblury/syncflow/internal/schema"
	"github.com/drblury/syncflow/internal/source"
	newtransport "github.com/drblury/syncflow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Transport           = transportpkg.Transport
	TransportFactory    = transportpkg.Factory

	MessageHandlerRegistration = runtimepkg.MessageHandlerRegistration
	MiddlewareBuilder          = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration     = runtimepkg.MiddlewareRegistration

	// Entities and envelopes
	EntityType         = entity.Type
	Operation          = entity.Operation
	Kind               = entity.Kind
	ChangeNotification = entity.ChangeNotification
	Record             = envelope.Record

	UserFields       = envelope.UserFields
	CompanyFields    = envelope.CompanyFields
	EventFields      = envelope.EventFields
	AttendanceFields = envelope.AttendanceFields
	ProductFields    = envelope.ProductFields
	OrderFields      = envelope.OrderFields

	// Consumer side
	HandlerTable    = dispatcher.Table
	Adapter[F any]  = dispatcher.Adapter[F]
	AdapterError    = dispatcher.AdapterError
	Resolver        = identity.Resolver
	MemoryResolver  = identity.MemoryResolver
	MemoryAdapter   = memory.Service
	SchemaValidator = schema.Validator
	ChangeLog       = source.ChangeLog
	RecordSource    = publisher.RecordSource

	Metadata = metadatapkg.Metadata

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	Health                = runtimepkg.Health
	ConfigValidationError = errspkg.ConfigValidationError

	// Envelope hooks
	EnvelopeContext = runtimepkg.EnvelopeContext
	EnvelopeHooks   = runtimepkg.EnvelopeHooks

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
	Topology              = newtransport.Topology
)

// Entity types and operations.
const (
	User       = entity.User
	Company    = entity.Company
	Event      = entity.Event
	Attendance = entity.Attendance
	Product    = entity.Product
	Order      = entity.Order

	Create = entity.Create
	Update = entity.Update
	Delete = entity.Delete
)

// Transport and change log names accepted by Config.
const (
	PubSubRabbitMQ    = configpkg.PubSubRabbitMQ
	PubSubChannel     = configpkg.PubSubChannel
	ChangeLogREST     = configpkg.ChangeLogREST
	ChangeLogPostgres = configpkg.ChangeLogPostgres
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone       = runtimepkg.ErrorCategoryNone
	ErrorCategoryValidation = runtimepkg.ErrorCategoryValidation
	ErrorCategoryTransport  = runtimepkg.ErrorCategoryTransport
	ErrorCategoryDownstream = runtimepkg.ErrorCategoryDownstream
	ErrorCategoryOther      = runtimepkg.ErrorCategoryOther
)

var (
	NewService     = runtimepkg.NewService
	ConfigFromEnv  = configpkg.FromEnv
	ValidateConfig = configpkg.ValidateConfig

	RegisterMessageHandler = runtimepkg.RegisterMessageHandler

	DefaultMiddlewares      = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware   = runtimepkg.LogMessagesMiddleware
	TracerMiddleware        = runtimepkg.TracerMiddleware
	MetricsMiddleware       = runtimepkg.MetricsMiddleware
	DeadLetterMiddleware    = runtimepkg.DeadLetterMiddleware
	HooksMiddleware         = runtimepkg.HooksMiddleware
	RecovererMiddleware     = runtimepkg.RecovererMiddleware
	DefaultErrorClassifier  = runtimepkg.DefaultErrorClassifier

	NewHandlerTable   = dispatcher.NewTable
	NewMemoryResolver = identity.NewMemoryResolver
	NewMemoryAdapter  = memory.NewService
	NewIdentityClient = identity.NewClient
	EnsureMaster      = identity.EnsureMaster

	DefaultSchemas = schema.Default
	LoadSchemas    = schema.Load

	DecodeRecord = envelope.DecodeRecord
	RoutingKey   = entity.RoutingKey
	Bindings     = entity.Bindings

	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	TopologyFor              = newtransport.TopologyFor

	ErrServiceRequired      = errspkg.ErrServiceRequired
	ErrHandlerRequired      = errspkg.ErrHandlerRequired
	ErrConsumeQueueRequired = errspkg.ErrConsumeQueueRequired
	ErrHandlerNameRequired  = errspkg.ErrHandlerNameRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrResolverRequired     = errspkg.ErrResolverRequired
	ErrNoHandler            = dispatcher.ErrNoHandler
	ErrUnknownKind          = envelope.ErrUnknownKind

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewJSONLogger        = loggingpkg.NewJSONLogger
	ParseLogLevel        = loggingpkg.ParseLevel

	NewMetadata = metadatapkg.New
	CreateULID  = idspkg.CreateULID
)

// Metadata keys stamped on every envelope.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyEntityType    = metadatapkg.KeyEntityType
	MetadataKeyOperation     = metadatapkg.KeyOperation
	MetadataKeyOriginService = metadatapkg.KeyOriginService
	MetadataKeyRoutingKey    = metadatapkg.KeyRoutingKey
	MetadataKeyMasterUUID    = metadatapkg.KeyMasterUUID
)

// Bind registers the create, update and delete handlers of a for typ.
func Bind[F any](t *HandlerTable, typ EntityType, a Adapter[F]) error {
	return dispatcher.Bind(t, typ, a)
}
