// File: cmd/factory.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/cookiekeeper/internal/browser"
	"github.com/xkilldash9x/cookiekeeper/internal/config"
	"github.com/xkilldash9x/cookiekeeper/internal/credstore"
	"github.com/xkilldash9x/cookiekeeper/internal/policy"
	"github.com/xkilldash9x/cookiekeeper/internal/refresh"
	"github.com/xkilldash9x/cookiekeeper/internal/service"
)

// Refresher is the part of the orchestrator the commands drive.
type Refresher interface {
	Run(ctx context.Context, now time.Time, opts ...refresh.RunOption) refresh.RunResult
	Policy() policy.Policy
}

// Components is everything a command may need, built from one config.
type Components struct {
	Refresher  Refresher
	Store      *credstore.Store
	Controller service.Controller
}

// ComponentFactory builds Components. Commands take it as a parameter so
// their logic can be tested without a browser or systemd.
type ComponentFactory interface {
	Create(cfg *config.Config, logger *zap.Logger) (*Components, error)
}

// concreteFactory wires the production implementations.
type concreteFactory struct{}

// NewComponentFactory returns the production factory.
func NewComponentFactory() ComponentFactory {
	return concreteFactory{}
}

// factory is replaced in tests.
var factory = NewComponentFactory()

func (concreteFactory) Create(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cannot create components without configuration")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store := credstore.New(cfg.Store, cfg.Publish, logger)
	controller := service.NewSystemd(cfg.Service, service.ExecRunner{}, logger)
	newSession := func() refresh.BrowserSession {
		return browser.NewSession(cfg.Browser, cfg.Timeouts, logger)
	}

	orch, err := refresh.New(cfg, store, newSession, controller, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh orchestrator: %w", err)
	}
	return &Components{Refresher: orch, Store: store, Controller: controller}, nil
}
