package server

import "github.com/pkg/errors"

var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerNotRunning     = errors.New("server is not running")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrUnknownTransport     = errors.New("unknown transport kind")
)
