package offlinecache

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// MessageSkipWaiting asks the controller to activate the waiting engine immediately.
const MessageSkipWaiting = "SKIP_WAITING"

// Message is sent by the host page on the lifecycle channel.
type Message struct {
	Type string `json:"type"`
}

// Controller holds the active engine version and at most one waiting version.
// Requests are served by the engine that is active when they arrive.
type Controller struct {
	mu      sync.RWMutex
	active  *Engine
	waiting *Engine
	log     zerolog.Logger
	// retired tracks replaced engines until their work has drained.
	retired sync.WaitGroup
}

func NewController(logger zerolog.Logger) *Controller {
	return &Controller{log: logger}
}

// Install registers a new engine version.
// The first version is activated right away, later ones wait for SkipWaiting.
// A waiting version that was never activated is replaced.
func (c *Controller) Install(e *Engine) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return c.activate(e)
	}
	c.waiting = e
	c.mu.Unlock()
	c.log.Info().Strs("namespaces", e.Namespaces()).Msg("New engine version installed and waiting")
	return nil
}

// SkipWaiting activates the waiting engine, if there is one.
// Requests already dispatched to the previous engine finish on it.
func (c *Controller) SkipWaiting() error {
	c.mu.Lock()
	e := c.waiting
	c.mu.Unlock()
	if e == nil {
		c.log.Debug().Msg("Skip waiting requested without a waiting engine")
		return nil
	}
	return c.activate(e)
}

func (c *Controller) activate(e *Engine) error {
	c.mu.Lock()
	prev := c.active
	c.active = e
	if c.waiting == e {
		c.waiting = nil
	}
	if prev != nil && prev != e {
		c.retired.Add(1)
	}
	c.mu.Unlock()
	c.log.Info().Strs("namespaces", e.Namespaces()).Msg("Engine version activated")
	if prev != nil && prev != e {
		go c.retire(prev)
	}
	return purgeOrphans(e, c.log)
}

// retire waits for the replaced engine to drain and purges once more,
// since its revalidations may have written to namespaces purged on activation.
func (c *Controller) retire(prev *Engine) {
	defer c.retired.Done()
	prev.Wait()
	if err := purgeOrphans(c.Active(), c.log); err != nil {
		c.log.Error().Err(err).Msg("Could not purge orphaned namespaces")
	}
}

// Wait blocks until the active engine and all replaced engines have finished
// their requests and background work. Stop dispatching requests first.
func (c *Controller) Wait() {
	if e := c.Active(); e != nil {
		e.Wait()
	}
	c.retired.Wait()
}

// purgeOrphans removes stored namespaces the engine does not use.
func purgeOrphans(e *Engine, logger zerolog.Logger) error {
	stored, err := e.Storage().Namespaces()
	if err != nil {
		return err
	}
	bound := map[string]bool{}
	for _, ns := range e.Namespaces() {
		bound[ns] = true
	}
	for _, ns := range stored {
		if bound[ns] {
			continue
		}
		if err := e.Storage().DeleteNamespace(ns); err != nil {
			return err
		}
		logger.Info().Str("namespace", ns).Msg("Purged orphaned namespace")
	}
	return nil
}

// Active returns the engine currently serving requests.
func (c *Controller) Active() *Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Waiting returns the installed engine waiting for activation, if any.
func (c *Controller) Waiting() *Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.waiting
}

// ServeHTTP dispatches the request to the active engine.
func (c *Controller) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.mu.RLock()
	e := c.active
	if e != nil {
		e.inflight.Add(1)
	}
	c.mu.RUnlock()
	if e == nil {
		http.Error(w, "No engine installed", http.StatusServiceUnavailable)
		return
	}
	defer e.inflight.Done()
	e.ServeHTTP(w, r)
}

// MessageHandler accepts lifecycle messages as JSON.
// Unknown message types are ignored.
func (c *Controller) MessageHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, "Malformed message", http.StatusBadRequest)
			return
		}
		switch msg.Type {
		case MessageSkipWaiting:
			if err := c.SkipWaiting(); err != nil {
				c.log.Error().Err(err).Msg("Could not purge orphaned namespaces")
			}
		default:
			c.log.Debug().Str("type", msg.Type).Msg("Ignoring unknown message")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}
