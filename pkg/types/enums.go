// Package types defines the public domain types for the Conveyor delivery engine.
package types

// StageClass categorizes what a pipeline stage does.
type StageClass string

// StageClass values enumerate the supported stage categories.
const (
	ClassBuild    StageClass = "build"
	ClassTest     StageClass = "test"
	ClassSecurity StageClass = "security"
	ClassPublish  StageClass = "publish"
	ClassDeploy   StageClass = "deploy"
	ClassVerify   StageClass = "verify"
)

// StageState represents the lifecycle state of a stage execution.
type StageState string

// StageState values represent the lifecycle states of a stage execution.
const (
	StagePending   StageState = "PENDING"
	StageRunning   StageState = "RUNNING"
	StageSucceeded StageState = "SUCCEEDED"
	StageFailed    StageState = "FAILED"
	StageTimedOut  StageState = "TIMED_OUT"
	StageSkipped   StageState = "SKIPPED"
)

// RunOutcome represents the lifecycle state of a pipeline run.
type RunOutcome string

// RunOutcome values represent the lifecycle states of a pipeline run.
const (
	RunPending   RunOutcome = "PENDING"
	RunRunning   RunOutcome = "RUNNING"
	RunSucceeded RunOutcome = "SUCCEEDED"
	RunFailed    RunOutcome = "FAILED"
	RunCancelled RunOutcome = "CANCELLED"
)

// PipelineKind distinguishes integration pipelines from delivery pipelines.
type PipelineKind string

const (
	KindCI PipelineKind = "ci"
	KindCD PipelineKind = "cd"
)

// ActionType defines what a stage executes.
type ActionType string

// ActionType values enumerate the supported stage action mechanisms.
const (
	ActionCommand ActionType = "command"
	ActionHTTP    ActionType = "http"
	ActionPublish ActionType = "publish"
	ActionApply   ActionType = "apply"
	ActionVerify  ActionType = "verify"
)

// HealthStatus is the verdict of a post-deploy health verification.
type HealthStatus string

const (
	Healthy   HealthStatus = "HEALTHY"
	Unhealthy HealthStatus = "UNHEALTHY"
)

// SinkType defines the event sink backend type.
type SinkType string

// SinkType values enumerate the supported event sink backends.
const (
	SinkConsole    SinkType = "console"
	SinkWebhook    SinkType = "webhook"
	SinkFile       SinkType = "file"
	SinkCloudWatch SinkType = "cloudwatch"
)

// SinkLevel classifies the severity of an emitted log line.
type SinkLevel string

const (
	LevelInfo    SinkLevel = "info"
	LevelWarning SinkLevel = "warning"
	LevelError   SinkLevel = "error"
)
