// Package server implements the node provisioning and connection lifecycle
// manager for the server role: it owns the protocol handle, keeps the
// registered namespace and the resolved node subtree consistent with the
// connection state, and rolls back any mutation that would leave the three
// out of step. Callers serialize lifecycle calls; one manager has one
// logical owner.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
	"github.com/c360/opcbridge/pkg/retry"
	"github.com/c360/opcbridge/point"
)

// State is the connection lifecycle state of a manager.
type State int

const (
	// StateAbsent means no protocol handle exists.
	StateAbsent State = iota
	// StateCreated means the handle exists and the namespace is registered,
	// but the endpoint is not serving.
	StateCreated
	// StateStarted means the endpoint is serving.
	StateStarted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	default:
		return "absent"
	}
}

// DefaultRootFolder is the well-known folder under Objects that the resolver
// owns. Everything beneath it is deleted and rebuilt on every pass.
const DefaultRootFolder = "Points"

// Config holds the provisioning parameters of one managed endpoint.
type Config struct {
	// Endpoint is the listening URL; must begin with opc.tcp://.
	Endpoint string
	// Namespace is the namespace URI to register; must be non-empty.
	Namespace string
	// FilesDir is the directory holding the input and output files.
	FilesDir string
	// InputFile is the CSV of point definitions, relative to FilesDir.
	InputFile string
	// OutputFile is the exported alias map, relative to FilesDir.
	OutputFile string
	// RootFolder names the managed subtree; empty means DefaultRootFolder.
	RootFolder string
	// Retries bounds endpoint start attempts; must be >= 1.
	Retries int
	// Backoff is the base delay between start attempts, scaled linearly by
	// attempt number; must be > 0.
	Backoff time.Duration
	// Loader configures the CSV reader.
	Loader point.LoaderConfig
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Endpoint, opcua.Scheme) {
		return errors.NewValidation("endpoint", c.Endpoint, "must begin with "+opcua.Scheme)
	}
	if c.Namespace == "" {
		return errors.NewValidation("namespace", "", "must be non-empty")
	}
	if c.Retries < 1 {
		return errors.NewValidation("retries", fmt.Sprint(c.Retries), "must be >= 1")
	}
	if c.Backoff <= 0 {
		return errors.NewValidation("backoff", c.Backoff.String(), "must be > 0")
	}
	return nil
}

// Deps carries the collaborators a manager needs.
type Deps struct {
	// NewEndpoint creates the protocol handle. Required.
	NewEndpoint func() opcua.ServerEndpoint
	// Logger receives structured lifecycle logs. Nil means slog.Default().
	Logger *slog.Logger
	// Metrics receives provisioning counters. Optional.
	Metrics *Metrics
}

// Manager owns one server endpoint: its handle, namespace registration,
// definition cache and resolved node subtree.
type Manager struct {
	cfg     Config
	newEP   func() opcua.ServerEndpoint
	logger  *slog.Logger
	metrics *Metrics
	loader  *point.Loader

	handle      opcua.ServerEndpoint
	nsIndex     uint16
	nsBound     bool
	started     bool
	everStarted bool
	resolved    *ResolvedNodeSet
}

// NewManager creates a manager in the Absent state.
func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if cfg.RootFolder == "" {
		cfg.RootFolder = DefaultRootFolder
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.NewEndpoint == nil {
		return nil, errors.NewValidation("new_endpoint", "", "endpoint factory is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("endpoint", cfg.Endpoint)

	return &Manager{
		cfg:      cfg,
		newEP:    deps.NewEndpoint,
		logger:   logger,
		metrics:  deps.Metrics,
		loader:   point.NewLoader(cfg.Loader, logger),
		resolved: newResolvedNodeSet(),
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	switch {
	case m.handle == nil:
		return StateAbsent
	case m.started:
		return StateStarted
	default:
		return StateCreated
	}
}

// NamespaceIndex returns the registered namespace index; valid only in
// Created or Started state.
func (m *Manager) NamespaceIndex() uint16 { return m.nsIndex }

// Definitions returns the committed point definitions.
func (m *Manager) Definitions() *point.Set { return m.loader.Definitions() }

// ResolvedNodes returns the nodes built by the last resolution pass.
func (m *Manager) ResolvedNodes() []ResolvedNode { return m.resolved.All() }

// Create instantiates the protocol handle, binds the endpoint and registers
// the namespace. Idempotent: if the handle already exists it only re-ensures
// the namespace registration. Any failure rolls the manager back to Absent.
func (m *Manager) Create() error {
	if m.handle != nil {
		// Re-registering an existing URI returns the index it already holds.
		idx, err := m.handle.RegisterNamespace(m.cfg.Namespace)
		if err != nil {
			return errors.WrapLifecycle(err, m.cfg.Endpoint, "create")
		}
		m.nsIndex = idx
		m.nsBound = true
		return m.checkInvariants("create")
	}

	h := m.newEP()
	if err := h.SetEndpoint(m.cfg.Endpoint); err != nil {
		return errors.WrapLifecycle(err, m.cfg.Endpoint, "create")
	}
	idx, err := h.RegisterNamespace(m.cfg.Namespace)
	if err != nil {
		return errors.WrapLifecycle(err, m.cfg.Endpoint, "create")
	}

	m.handle = h
	m.nsIndex = idx
	m.nsBound = true
	m.metrics.recordState(StateCreated)

	if err := m.checkInvariants("create"); err != nil {
		m.clearHandle()
		return err
	}

	m.logger.Info("endpoint created", "namespace", m.cfg.Namespace, "namespace_index", idx)
	return nil
}

// Start serves the endpoint, attempting the underlying start up to
// cfg.Retries times with a linear backoff of cfg.Backoff × attempt between
// failures. Idempotent when already started. On exhaustion it performs a
// best-effort clean stop and returns a LifecycleError carrying the last
// underlying cause, leaving the manager Absent.
func (m *Manager) Start(ctx context.Context) error {
	if m.started {
		m.logger.Info("endpoint already started")
		return nil
	}

	if err := m.Create(); err != nil {
		return err
	}

	attempt := 0
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: m.cfg.Retries,
		BaseDelay:   m.cfg.Backoff,
		Policy:      retry.PolicyLinear,
	}, func() error {
		attempt++
		m.metrics.recordStartAttempt()
		if serr := m.handle.Start(); serr != nil {
			m.logger.Warn("start attempt failed", "attempt", attempt, "retries", m.cfg.Retries, "error", serr)
			return serr
		}
		return nil
	})

	if err != nil {
		m.logger.Error("endpoint start exhausted all attempts", "retries", m.cfg.Retries, "error", err)
		// Best-effort rollback to Absent; secondary failures are swallowed.
		if _, serr := m.Stop(true); serr != nil {
			m.logger.Warn("rollback stop failed", "error", serr)
		}
		return errors.WrapLifecycle(fmt.Errorf("%w: %w", errors.ErrRetryExhausted, err), m.cfg.Endpoint, "start")
	}

	m.started = true
	m.everStarted = true
	m.metrics.recordState(StateStarted)

	if err := m.checkInvariants("start"); err != nil {
		m.started = false
		if _, serr := m.Stop(true); serr != nil {
			m.logger.Warn("rollback stop failed", "error", serr)
		}
		return err
	}

	m.logger.Info("endpoint started", "attempts", attempt)
	return nil
}

// Stop stops the endpoint. It returns false when there is nothing to stop.
// The underlying stop is best-effort: a failure is logged, never raised.
// With clean set, the handle, namespace index, definition cache and resolved
// set are all cleared, returning the manager to Absent; otherwise the handle
// and definitions are retained for a cheap edit/restart cycle.
func (m *Manager) Stop(clean bool) (bool, error) {
	if m.handle == nil {
		return false, nil
	}

	if err := m.handle.Stop(); err != nil {
		m.logger.Warn("underlying stop failed", "error", err)
	} else {
		m.logger.Info("endpoint stopped", "clean", clean)
	}
	m.started = false

	if clean {
		m.clearHandle()
		m.loader.Reset()
		m.resolved.Clear()
		m.metrics.recordState(StateAbsent)
	} else {
		m.metrics.recordState(StateCreated)
	}

	if err := m.checkInvariants("stop"); err != nil {
		return true, err
	}
	return true, nil
}

// Load reads the configured CSV and merges its definitions into the cache.
func (m *Manager) Load() (point.LoadStats, error) {
	stats, err := m.loader.Load(m.InputPath())
	m.metrics.recordLoad(stats)
	return stats, err
}

// InputPath returns the full path of the definition CSV.
func (m *Manager) InputPath() string {
	return filepath.Join(m.cfg.FilesDir, m.cfg.InputFile)
}

// OutputPath returns the full path of the exported alias map.
func (m *Manager) OutputPath() string {
	return filepath.Join(m.cfg.FilesDir, m.cfg.OutputFile)
}

// checkInvariants snapshots the manager and verifies the lifecycle rules,
// wrapping any violation into a LifecycleError.
func (m *Manager) checkInvariants(op string) error {
	violations := CheckInvariants(StateView{
		HandlePresent:    m.handle != nil,
		NamespacePresent: m.nsBound,
		Started:          m.started,
		ResolvedCount:    m.resolved.Len(),
	})
	if len(violations) == 0 {
		return nil
	}
	return errors.WrapLifecycle(fmt.Errorf("invariant violated: %v", violations), m.cfg.Endpoint, op)
}

func (m *Manager) clearHandle() {
	m.handle = nil
	m.nsIndex = 0
	m.nsBound = false
	m.started = false
}
