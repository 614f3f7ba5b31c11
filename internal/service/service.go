package service

import (
	"context"
	"errors"
)

// ErrRestartFailed wraps any failure to restart or confirm the bot service.
var ErrRestartFailed = errors.New("service restart failed")

// State is the supervisor's view of the service.
type State string

const (
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Controller restarts the bot process and reports whether it is up.
type Controller interface {
	Restart(ctx context.Context) error
	Status(ctx context.Context) (State, error)
}
