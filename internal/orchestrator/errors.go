package orchestrator

import "errors"

var (
	ErrVersionNotFound  = errors.New("flow version not found")
	ErrInvalidFlowSpec  = errors.New("invalid flow spec")
	ErrRunAlreadyActive = errors.New("run already being processed")
	ErrRunNotPending    = errors.New("run is not in PENDING status")

	// ErrRunTimeout — run не уложился в Config.RunTimeout.
	ErrRunTimeout = errors.New("run timeout exceeded")

	// ErrOrchestratorStopped возвращается из Execute после Stop.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)
