package cdr

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Engine is the top-level, constructed value that owns every piece of
// engine state: the channel and bridge indices, the backend registry,
// the batch dispatcher, and the current configuration. There is no
// process-wide singleton — callers construct one Engine per server
// instance and it owns its own lifetime.
type Engine struct {
	logger *slog.Logger

	cfg atomic.Pointer[Config]
	seq atomic.Int64

	channels *channelIndex
	bridges  *bridgeIndex
	backends *BackendRegistry

	dispatcher *BatchDispatcher

	recordsEmitted atomic.Int64
}

// NewEngine constructs an Engine with cfg as its starting configuration.
// Call Start to launch the batch dispatcher's background worker.
func NewEngine(logger *slog.Logger, cfg *Config) *Engine {
	eng := &Engine{
		logger:   logger.With("subsystem", "cdr"),
		channels: newChannelIndex(),
		bridges:  newBridgeIndex(),
		backends: newBackendRegistry(),
	}
	eng.cfg.Store(cfg)
	eng.dispatcher = newBatchDispatcher(eng.logger, eng.backends, eng.configSnapshot)
	return eng
}

// Start launches the batch dispatcher's background worker, bound to
// ctx: cancelling ctx stops the worker (Shutdown does this for you).
func (eng *Engine) Start(ctx context.Context) {
	eng.dispatcher.start(ctx, eng)
}

// Shutdown stops the batch worker, safe-draining first if configured.
func (eng *Engine) Shutdown() {
	eng.dispatcher.shutdown(eng)
}

// RegisterBackend adds a named sink to the engine's backend registry.
func (eng *Engine) RegisterBackend(name, description string, sink SinkFunc) error {
	return eng.backends.Register(name, description, sink)
}

// UnregisterBackend removes a previously registered backend.
func (eng *Engine) UnregisterBackend(name string) {
	eng.backends.Unregister(name)
}

// SubmitEvent feeds one event from the upstream channel/bridge producer
// into the router. If the engine is disabled (Config.Enable == false)
// the event is dropped.
func (eng *Engine) SubmitEvent(ev Event) {
	if !eng.configSnapshot().Enable {
		return
	}
	eng.route(ev)
}

// Reload atomically swaps in a new configuration, as re-read from the
// external config source at runtime.
func (eng *Engine) Reload(cfg *Config) {
	eng.cfg.Store(cfg.clone())
}

// Enable and Disable are convenience wrappers over Reload's master
// switch, used by callers that don't want to round-trip a whole Config.
func (eng *Engine) Enable()  { eng.setConfigField(func(c *Config) { c.Enable = true }) }
func (eng *Engine) Disable() { eng.setConfigField(func(c *Config) { c.Enable = false }) }

func (eng *Engine) setConfigField(mutate func(*Config)) {
	next := eng.configSnapshot().clone()
	mutate(next)
	eng.cfg.Store(next)
}

func (eng *Engine) configSnapshot() *Config {
	return eng.cfg.Load()
}

func (eng *Engine) nextSequence() int64 {
	return eng.seq.Add(1)
}
