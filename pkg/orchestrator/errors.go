package orchestrator

import "errors"

var (
	ErrServerNotFound = errors.New("server not found")
	ErrInvalidConfig  = errors.New("invalid server config")
	ErrShutdown       = errors.New("orchestrator shut down")
)
