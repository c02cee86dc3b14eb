package procflow

import (
	enginepkg "github.com/drblury/procflow/internal/engine"
	conditionpkg "github.com/drblury/procflow/internal/engine/condition"
	configpkg "github.com/drblury/procflow/internal/engine/config"
	definitionpkg "github.com/drblury/procflow/internal/engine/definition"
	errspkg "github.com/drblury/procflow/internal/engine/errors"
	idspkg "github.com/drblury/procflow/internal/engine/ids"
	jsoncodec "github.com/drblury/procflow/internal/engine/jsoncodec"
	loggingpkg "github.com/drblury/procflow/internal/engine/logging"
	loaderpkg "github.com/drblury/procflow/loader"
	telemetrypkg "github.com/drblury/procflow/telemetry"
)

type (
	Config       = configpkg.Config
	Engine       = enginepkg.Engine
	Dependencies = enginepkg.Dependencies

	Handler         = enginepkg.Handler
	HandlerFunc     = enginepkg.HandlerFunc
	HandlerRegistry = enginepkg.HandlerRegistry
	ContextView     = enginepkg.ContextView
	TaskMeta        = enginepkg.TaskMeta

	Instance       = enginepkg.Instance
	InstanceHandle = enginepkg.InstanceHandle
	InstanceStatus = enginepkg.InstanceStatus
	TaskRecord     = enginepkg.TaskRecord
	TaskState      = enginepkg.TaskState
	Snapshot       = enginepkg.Snapshot
	TaskSnapshot   = enginepkg.TaskSnapshot
	Event          = enginepkg.Event

	// Task lifecycle hooks
	TaskContext = enginepkg.TaskContext
	TaskHooks   = enginepkg.TaskHooks

	// Per-handler dispatch statistics
	HandlerInfo    = enginepkg.HandlerInfo
	HandlerStats   = enginepkg.HandlerStats
	LatencyMetrics = enginepkg.LatencyMetrics
	ErrorBreakdown = enginepkg.ErrorBreakdown

	// Definition model
	Definition        = definitionpkg.Definition
	DefinitionBuilder = definitionpkg.Builder
	Graph             = definitionpkg.Graph
	Node              = definitionpkg.Node
	Flow              = definitionpkg.Flow
	NodeKind          = definitionpkg.NodeKind
	GatewayKind       = definitionpkg.GatewayKind
	Predicate         = definitionpkg.Predicate
	ConditionFunc     = conditionpkg.Func

	// Definition validation
	Issue           = definitionpkg.Issue
	IssueCode       = definitionpkg.IssueCode
	ValidationError = definitionpkg.ValidationError

	// Definition files
	ParseError = loaderpkg.ParseError

	// Dispatch errors
	NoHandlerError        = errspkg.NoHandlerError
	HandlerExecutionError = errspkg.HandlerExecutionError
	TimeoutError          = errspkg.TimeoutError
	NoMatchingBranchError = errspkg.NoMatchingBranchError
	ConditionError        = errspkg.ConditionError
	StuckError            = errspkg.StuckError

	LogFields = loggingpkg.LogFields
	Logger    = loggingpkg.Logger

	// Telemetry contract (backends live in telemetry/otel and
	// telemetry/prometheus)
	TelemetryEmitter    = telemetrypkg.Emitter
	TelemetrySpan       = telemetrypkg.Span
	TelemetryAttributes = telemetrypkg.Attributes
	TelemetryStatus     = telemetrypkg.Status
	TelemetryRegistry   = telemetrypkg.Registry
	EmitterBuilder      = telemetrypkg.Builder
)

var (
	NewEngine      = enginepkg.NewEngine
	TryNewEngine   = enginepkg.TryNewEngine
	ValidateConfig = configpkg.ValidateConfig

	NewHandlerRegistry = enginepkg.NewHandlerRegistry

	// Definition construction and validation
	NewDefinitionBuilder = definitionpkg.NewBuilder
	ValidateDefinition   = definitionpkg.Validate
	CompileDefinition    = definitionpkg.Compile

	// Flow conditions
	ConditionPath       = conditionpkg.Path
	ConditionPathEquals = conditionpkg.PathEquals
	ConditionScript     = conditionpkg.Expr

	// Definition files
	ParseDefinition     = loaderpkg.Parse
	ParseDefinitionYAML = loaderpkg.ParseYAML
	ParseDefinitionJSON = loaderpkg.ParseJSON
	ParseDefinitionFile = loaderpkg.ParseFile

	// Task lifecycle hooks
	LoggingHooks  = enginepkg.LoggingHooks
	MetricsHooks  = enginepkg.MetricsHooks
	AlertingHooks = enginepkg.AlertingHooks

	// Snapshots
	DecodeSnapshot = enginepkg.DecodeSnapshot

	// Event stream
	NewEventMessage = enginepkg.NewEventMessage

	// Telemetry
	NoopTelemetry          = telemetrypkg.Noop
	MultiTelemetry         = telemetrypkg.Multi
	RegisterEmitter        = telemetrypkg.Register
	BuildEmitter           = telemetrypkg.Build
	DefaultEmitterRegistry = telemetrypkg.DefaultRegistry

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode
	DeepCopyMap   = jsoncodec.DeepCopyMap

	ErrEngineRequired      = errspkg.ErrEngineRequired
	ErrRegistryRequired    = errspkg.ErrRegistryRequired
	ErrDefinitionRequired  = errspkg.ErrDefinitionRequired
	ErrHandlerRefRequired  = errspkg.ErrHandlerRefRequired
	ErrNilHandler          = errspkg.ErrNilHandler
	ErrDuplicateHandler    = errspkg.ErrDuplicateHandler
	ErrUnknownDefinition   = errspkg.ErrUnknownDefinition
	ErrDuplicateDefinition = errspkg.ErrDuplicateDefinition
	ErrInstanceTerminal    = errspkg.ErrInstanceTerminal
	ErrNotResumable        = errspkg.ErrNotResumable
	ErrSnapshotMismatch    = errspkg.ErrSnapshotMismatch
	ErrSuspended           = errspkg.ErrSuspended
	ErrCancelled           = errspkg.ErrCancelled

	NewSlogLogger       = loggingpkg.NewSlogLogger
	NewWatermillLogger  = loggingpkg.NewWatermillLogger
	NewNopLogger        = loggingpkg.NewNopLogger
	NewWatermillAdapter = loggingpkg.NewWatermillAdapter

	NewInstanceID = idspkg.NewInstanceID
	NewEventID    = idspkg.NewEventID
	NewFlowID     = idspkg.NewFlowID
)

// Node and gateway kinds used when building definitions programmatically.
const (
	KindStart   = definitionpkg.KindStart
	KindEnd     = definitionpkg.KindEnd
	KindTask    = definitionpkg.KindTask
	KindGateway = definitionpkg.KindGateway

	GatewayExclusive     = definitionpkg.GatewayExclusive
	GatewayParallelSplit = definitionpkg.GatewayParallelSplit
	GatewayParallelJoin  = definitionpkg.GatewayParallelJoin
)

// Task record states.
const (
	TaskFuture    = enginepkg.TaskFuture
	TaskWaiting   = enginepkg.TaskWaiting
	TaskReady     = enginepkg.TaskReady
	TaskRunning   = enginepkg.TaskRunning
	TaskCompleted = enginepkg.TaskCompleted
	TaskFailed    = enginepkg.TaskFailed
	TaskCancelled = enginepkg.TaskCancelled
)

// Instance statuses.
const (
	InstanceRunning   = enginepkg.InstanceRunning
	InstanceCompleted = enginepkg.InstanceCompleted
	InstanceFailed    = enginepkg.InstanceFailed
	InstanceCancelled = enginepkg.InstanceCancelled
)

// Lifecycle event types published on the event stream.
const (
	EventInstanceStarted   = enginepkg.EventInstanceStarted
	EventTaskState         = enginepkg.EventTaskState
	EventInstanceCompleted = enginepkg.EventInstanceCompleted
	EventInstanceFailed    = enginepkg.EventInstanceFailed
	EventInstanceCancelled = enginepkg.EventInstanceCancelled
	EventInstanceStuck     = enginepkg.EventInstanceStuck
)

// Metadata keys set on every published event message.
const (
	MetadataKeyEventType    = enginepkg.MetadataKeyEventType
	MetadataKeyInstanceID   = enginepkg.MetadataKeyInstanceID
	MetadataKeyDefinitionID = enginepkg.MetadataKeyDefinitionID
)

// Validation issue codes reported through ValidationError.
const (
	IssueMissingNodeID      = definitionpkg.IssueMissingNodeID
	IssueDuplicateNode      = definitionpkg.IssueDuplicateNode
	IssueBadNodeKind        = definitionpkg.IssueBadNodeKind
	IssueBadGatewayKind     = definitionpkg.IssueBadGatewayKind
	IssueMissingHandler     = definitionpkg.IssueMissingHandler
	IssueNoStart            = definitionpkg.IssueNoStart
	IssueMultipleStart      = definitionpkg.IssueMultipleStart
	IssueBadStartRef        = definitionpkg.IssueBadStartRef
	IssueStartHasIncoming   = definitionpkg.IssueStartHasIncoming
	IssueNoEnd              = definitionpkg.IssueNoEnd
	IssueUnknownNode        = definitionpkg.IssueUnknownNode
	IssueDuplicateFlow      = definitionpkg.IssueDuplicateFlow
	IssueUnreachableNode    = definitionpkg.IssueUnreachableNode
	IssueMisplacedCondition = definitionpkg.IssueMisplacedCondition
	IssueMisplacedDefault   = definitionpkg.IssueMisplacedDefault
	IssueDuplicateDefault   = definitionpkg.IssueDuplicateDefault
	IssueMissingDefault     = definitionpkg.IssueMissingDefault
	IssueBadCondition       = definitionpkg.IssueBadCondition
	IssueUnmatchedJoin      = definitionpkg.IssueUnmatchedJoin
)

// Span outcomes and names reported to telemetry emitters.
const (
	StatusOK        = telemetrypkg.StatusOK
	StatusError     = telemetrypkg.StatusError
	StatusCancelled = telemetrypkg.StatusCancelled

	SpanInstance = telemetrypkg.SpanInstance
	SpanTask     = telemetrypkg.SpanTask
)
