package onesided

import (
	runtimepkg "github.com/drblury/onesided/internal/runtime"
	bufferpkg "github.com/drblury/onesided/internal/runtime/buffer"
	configpkg "github.com/drblury/onesided/internal/runtime/config"
	errspkg "github.com/drblury/onesided/internal/runtime/errors"
	handlerpkg "github.com/drblury/onesided/internal/runtime/handlers"
	idspkg "github.com/drblury/onesided/internal/runtime/ids"
	jsoncodec "github.com/drblury/onesided/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/onesided/internal/runtime/logging"
	recordingpkg "github.com/drblury/onesided/internal/runtime/recording"
	transportpkg "github.com/drblury/onesided/internal/runtime/transport"
	wirepkg "github.com/drblury/onesided/internal/runtime/wire"
	newtransport "github.com/drblury/onesided/transport"
)

type (
	Config                = configpkg.Config
	Messenger             = runtimepkg.Messenger
	MessengerDependencies = runtimepkg.MessengerDependencies
	MessengerStats        = runtimepkg.MessengerStats
	ExchangeResult        = runtimepkg.ExchangeResult
	TransportFactory      = transportpkg.Factory

	// Message encoding
	Message = wirepkg.Message
	Field   = wirepkg.Field
	Cursor  = wirepkg.Cursor

	// Handlers
	Handler         = handlerpkg.Handler
	HandlerRegistry = handlerpkg.Registry

	// Buffers
	Buffer         = bufferpkg.Buffer
	Header         = bufferpkg.Header
	Key            = bufferpkg.Key
	BufferSnapshot = bufferpkg.Snapshot

	// Discovery and epochs
	Discoverer = runtimepkg.Discoverer
	Exchange   = runtimepkg.Exchange
	View       = runtimepkg.View
	RemoteGet  = runtimepkg.RemoteGet
	Broadcast  = runtimepkg.Broadcast
	Guard      = runtimepkg.Guard
	Epoch      = runtimepkg.Epoch

	// Exchange lifecycle hooks
	ExchangeContext = runtimepkg.ExchangeContext
	ExchangeHooks   = runtimepkg.ExchangeHooks

	// Exchange metrics
	ExchangeMetrics         = runtimepkg.ExchangeMetrics
	ExchangeMetricsSnapshot = runtimepkg.ExchangeMetricsSnapshot
	StrategyMetrics         = runtimepkg.StrategyMetrics

	LogFields     = loggingpkg.LogFields
	ServiceLogger = loggingpkg.ServiceLogger

	HandlerInfo           = runtimepkg.HandlerInfo
	HandlerStats          = runtimepkg.HandlerStats
	ConfigValidationError = errspkg.ConfigValidationError
	RankError             = errspkg.RankError
	CapacityError         = errspkg.CapacityError

	// Error classification
	ErrorClassifier = runtimepkg.ErrorClassifier
	ErrorCategory   = runtimepkg.ErrorCategory

	// Recording
	Recorder        = recordingpkg.Recorder
	RecordedPass    = recordingpkg.Pass
	RecordedMessage = recordingpkg.Message
	SQLiteRecorder  = recordingpkg.SQLiteRecorder

	// RMA transport
	Comm        = newtransport.Comm
	Window      = newtransport.Window
	Tag         = newtransport.Tag
	FenceAssert = newtransport.FenceAssert

	// Pub/sub transports carrying the bus
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
)

// Discovery strategy names.
const (
	DiscoveryRemoteGet = configpkg.DiscoveryRemoteGet
	DiscoveryBroadcast = configpkg.DiscoveryBroadcast
)

// Fence assertions.
const (
	AssertNone      = newtransport.AssertNone
	AssertNoStore   = newtransport.AssertNoStore
	AssertNoPut     = newtransport.AssertNoPut
	AssertNoPrecede = newtransport.AssertNoPrecede
	AssertNoSucceed = newtransport.AssertNoSucceed
)

var (
	NewMessenger   = runtimepkg.NewMessenger
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromEnv  = configpkg.FromEnv
	ConfigFromMap  = configpkg.FromMap

	NewMessage    = wirepkg.NewMessage
	String        = wirepkg.String
	NewCursor     = wirepkg.NewCursor
	MarshalWire   = wirepkg.Marshal
	UnmarshalWire = wirepkg.Unmarshal

	NewHandlerRegistry = handlerpkg.NewRegistry

	NewBuffer           = bufferpkg.New
	NewHeaderOnlyBuffer = bufferpkg.NewHeaderOnly
	WrapBuffer          = bufferpkg.Wrap

	NewDiscoverer = runtimepkg.NewDiscoverer
	NewGuard      = runtimepkg.NewGuard
	OpenEpoch     = runtimepkg.OpenEpoch
	WithEpoch     = runtimepkg.WithEpoch

	// Exchange lifecycle hooks
	LoggingHooks  = runtimepkg.LoggingHooks
	MetricsHooks  = runtimepkg.MetricsHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewExchangeMetrics = runtimepkg.NewExchangeMetrics

	NewRecorder          = recordingpkg.New
	DefaultRecordingPath = recordingpkg.DefaultPath

	// Transports
	DefaultTransportFactory  = transportpkg.DefaultFactory
	RegistryTransportFactory = transportpkg.RegistryFactory
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	GetCapabilities          = newtransport.GetCapabilities
	Label                    = newtransport.Label
	NextRank                 = newtransport.NextRank

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	ErrConfigRequired   = errspkg.ErrConfigRequired
	ErrLoggerRequired   = errspkg.ErrLoggerRequired
	ErrMessageRequired  = errspkg.ErrMessageRequired
	ErrDuplicateHandler = errspkg.ErrDuplicateHandler
	ErrUnknownHandler   = errspkg.ErrUnknownHandler
	ErrShortBuffer      = errspkg.ErrShortBuffer
	ErrTooManyMessages  = errspkg.ErrTooManyMessages
	ErrBufferFull       = errspkg.ErrBufferFull
	ErrEpochOpen        = errspkg.ErrEpochOpen
	ErrEpochClosed      = errspkg.ErrEpochClosed
	ErrDuplicateTag     = errspkg.ErrDuplicateTag
	ErrUnknownDiscovery = errspkg.ErrUnknownDiscovery
	ErrUnknownTransport = errspkg.ErrUnknownTransport
	ErrInvalidRank      = errspkg.ErrInvalidRank

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NewTextLogger             = loggingpkg.NewTextLogger
	ParseLogLevel             = loggingpkg.ParseLevel

	CreateULID = idspkg.CreateULID
)

// Error category constants for ErrorClassifier.
const (
	ErrorCategoryNone      = runtimepkg.ErrorCategoryNone
	ErrorCategoryDecode    = runtimepkg.ErrorCategoryDecode
	ErrorCategoryTransport = runtimepkg.ErrorCategoryTransport
	ErrorCategoryCapacity  = runtimepkg.ErrorCategoryCapacity
	ErrorCategoryOther     = runtimepkg.ErrorCategoryOther
)

// Fixed binds a fixed-size value: a scalar, array or struct of fixed-size fields.
func Fixed[T any](v *T) Field {
	return wirepkg.Fixed(v)
}

// Slice binds a length-prefixed sequence of fixed-size elements.
func Slice[E any](v *[]E) Field {
	return wirepkg.Slice(v)
}
