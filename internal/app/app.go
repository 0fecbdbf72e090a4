// Package app assembles the library's collaborators from configuration:
// token cache with optional file persistence, authority resolver, broker
// invoker and the request orchestrator.
package app

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"vouch/internal/authority"
	"vouch/internal/broker"
	"vouch/internal/cache"
	"vouch/internal/config"
	"vouch/internal/request"
	"vouch/pkg/logging"
	"vouch/pkg/persist"
)

// App owns the wired component graph for one application instance.
type App struct {
	Config       config.Config
	Authority    authority.Info
	Store        *cache.Store
	Resolver     *authority.Resolver
	Orchestrator *request.Orchestrator

	fileStore *persist.FileStore
}

// Option overrides a collaborator during assembly.
type Option func(*options)

type options struct {
	authz      request.AuthorizationProvider
	invoker    broker.Invoker
	httpClient *http.Client
}

// WithAuthorizationProvider installs the interactive UI collaborator.
func WithAuthorizationProvider(p request.AuthorizationProvider) Option {
	return func(o *options) { o.authz = p }
}

// WithBrokerInvoker installs a native broker binding.
func WithBrokerInvoker(i broker.Invoker) Option {
	return func(o *options) { o.invoker = i }
}

// WithHTTPClient overrides the provider-facing HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// New assembles an App from configuration.
func New(cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	initLogging(cfg.Logging)

	info, err := authority.NewInfo(cfg.Authority)
	if err != nil {
		return nil, fmt.Errorf("invalid authority %q: %w", cfg.Authority, err)
	}

	a := &App{Config: cfg, Authority: info}

	storeOpts := []cache.StoreOption{}
	if cfg.CachePath != "" {
		fileStore, err := persist.NewFileStore(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("failed to set up cache persistence: %w", err)
		}
		if err := fileStore.Watch(); err != nil {
			logging.Warn("App", "Cache file watching unavailable: %v", err)
		}
		a.fileStore = fileStore
		storeOpts = append(storeOpts, cache.WithNotifier(fileStore))
	}
	a.Store = cache.NewStore(storeOpts...)

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSeconds) * time.Second}
	}

	// The endpoint cache is owned per App, so a rebuilt instance in the
	// same process always re-discovers.
	a.Resolver = authority.NewResolver(authority.NewEndpointCache(), authority.WithHTTPClient(httpClient))

	invoker := o.invoker
	if invoker == nil {
		invoker = broker.NewNoBroker()
	}

	orchOpts := []request.OrchestratorOption{}
	if o.authz != nil {
		orchOpts = append(orchOpts, request.WithAuthorizationProvider(o.authz))
	}
	a.Orchestrator = request.NewOrchestrator(a.Store, a.Resolver, invoker,
		request.NewTokenClient(httpClient), orchOpts...)

	return a, nil
}

// Close releases the persistence watcher, when one is attached.
func (a *App) Close() error {
	if a.fileStore != nil {
		return a.fileStore.Close()
	}
	return nil
}

func initLogging(cfg config.LoggingConfig) {
	level := logging.LevelInfo
	switch cfg.Level {
	case "debug":
		level = logging.LevelDebug
	case "warn":
		level = logging.LevelWarn
	case "error":
		level = logging.LevelError
	}
	logging.Init(level, os.Stderr)
	logging.EnablePii(cfg.EnablePii)
}
