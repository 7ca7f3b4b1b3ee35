// Package client is the consumer-side mirror of the server package: it holds
// one session against a served address space and resolves logical aliases to
// node handles lazily, so callers read and write points by name without ever
// touching protocol identifiers.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
	"github.com/c360/opcbridge/pkg/retry"
)

// Config holds the client connection parameters.
type Config struct {
	// Endpoint is the server URL, opc.tcp:// scheme.
	Endpoint string

	// Retries bounds the connect attempts. Must be >= 1.
	Retries int

	// Backoff is the base delay between attempts; attempt n sleeps
	// Backoff × n. Must be > 0.
	Backoff time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.Endpoint, opcua.Scheme) {
		return errors.NewValidation("endpoint", c.Endpoint,
			fmt.Sprintf("must begin with %q", opcua.Scheme))
	}
	if c.Retries < 1 {
		return errors.NewValidation("retries", fmt.Sprintf("%d", c.Retries), "must be >= 1")
	}
	if c.Backoff <= 0 {
		return errors.NewValidation("backoff", c.Backoff.String(), "must be > 0")
	}
	return nil
}

// DefaultConfig returns a Config with sensible defaults for a local server.
func DefaultConfig() Config {
	return Config{
		Endpoint: "opc.tcp://127.0.0.1:4841",
		Retries:  3,
		Backoff:  2 * time.Second,
	}
}

// Deps carries the client's collaborators.
type Deps struct {
	// NewSession builds the protocol session. Required.
	NewSession func() opcua.ClientSession

	// Logger receives structured client logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client reads and writes points by alias over one protocol session. Not safe
// for concurrent use; callers serialize access.
type Client struct {
	cfg        Config
	newSession func() opcua.ClientSession
	logger     *slog.Logger

	sessionID string
	session   opcua.ClientSession
	connected bool

	aliases map[string]opcua.NodeID
	cache   map[string]opcua.Node
}

// New builds a Client from config and dependencies.
func New(cfg Config, deps Deps) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.NewSession == nil {
		return nil, errors.NewValidation("new_session", "", "session factory is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	return &Client{
		cfg:        cfg,
		newSession: deps.NewSession,
		logger:     logger.With("endpoint", cfg.Endpoint, "session_id", id),
		sessionID:  id,
		aliases:    make(map[string]opcua.NodeID),
		cache:      make(map[string]opcua.Node),
	}, nil
}

// Connect establishes the session, attempting the underlying connect up to
// cfg.Retries times with a linear backoff of cfg.Backoff × attempt between
// failures. Idempotent when already connected. On exhaustion the session
// handle is dropped and a LifecycleError carrying the last cause is returned.
func (c *Client) Connect(ctx context.Context) error {
	if c.connected {
		c.logger.Info("session already connected")
		return nil
	}

	sess := c.newSession()
	attempt := 0
	err := retry.Do(ctx, retry.Config{
		MaxAttempts: c.cfg.Retries,
		BaseDelay:   c.cfg.Backoff,
		Policy:      retry.PolicyLinear,
	}, func() error {
		attempt++
		if cerr := sess.Connect(); cerr != nil {
			c.logger.Warn("connect attempt failed", "attempt", attempt, "retries", c.cfg.Retries, "error", cerr)
			return cerr
		}
		return nil
	})

	if err != nil {
		c.logger.Error("connect exhausted all attempts", "retries", c.cfg.Retries, "error", err)
		return errors.WrapLifecycle(fmt.Errorf("%w: %w", errors.ErrRetryExhausted, err), c.cfg.Endpoint, "connect")
	}

	c.session = sess
	c.connected = true
	c.logger.Info("session connected", "attempts", attempt)
	return nil
}

// Disconnect closes the session and drops every cached node handle.
// Disconnecting a client that never connected is not an error. The underlying
// disconnect is best-effort: a failure is logged, never raised.
func (c *Client) Disconnect() {
	if c.session == nil {
		return
	}

	if err := c.session.Disconnect(); err != nil {
		c.logger.Warn("underlying disconnect failed", "error", err)
	} else {
		c.logger.Info("session disconnected")
	}
	c.session = nil
	c.connected = false
	c.cache = make(map[string]opcua.Node)
}

// Connected reports whether the session is established.
func (c *Client) Connected() bool { return c.connected }

// LoadAliases reads the alias→identifier JSON map exported by the server and
// replaces the current map, dropping every node handle resolved against the
// prior one. On any failure the map is left empty and a StructuralError is
// returned.
func (c *Client) LoadAliases(path string) error {
	c.aliases = make(map[string]opcua.NodeID)
	c.cache = make(map[string]opcua.Node)

	data, err := os.ReadFile(path)
	if err != nil {
		return &errors.StructuralError{Source: path, Err: err}
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &errors.StructuralError{Source: path, Err: fmt.Errorf("decode alias map: %w", err)}
	}

	loaded := make(map[string]opcua.NodeID, len(raw))
	for alias, ident := range raw {
		id, perr := opcua.ParseNodeID(ident)
		if perr != nil {
			return &errors.StructuralError{Source: path, Err: fmt.Errorf("alias %q: %w", alias, perr)}
		}
		loaded[alias] = id
	}

	c.aliases = loaded
	c.logger.Info("alias map loaded", "source", path, "aliases", len(loaded))
	return nil
}

// Aliases returns the loaded alias names, sorted.
func (c *Client) Aliases() []string {
	out := make([]string, 0, len(c.aliases))
	for alias := range c.aliases {
		out = append(out, alias)
	}
	sort.Strings(out)
	return out
}

// Read returns the current value of the point named by alias, resolving and
// caching the node handle on first access.
func (c *Client) Read(alias string) (any, error) {
	node, err := c.resolve(alias)
	if err != nil {
		return nil, err
	}

	v, err := node.Value()
	if err != nil {
		return nil, &errors.ReadError{Alias: alias, Err: err}
	}
	return v, nil
}

// Write updates the value of the point named by alias, resolving and caching
// the node handle on first access.
func (c *Client) Write(alias string, value any) error {
	node, err := c.resolve(alias)
	if err != nil {
		return err
	}

	if err := node.SetValue(value); err != nil {
		return &errors.WriteError{Alias: alias, Err: err}
	}
	return nil
}

// ReadAll reads every loaded alias once and returns the values keyed by
// alias. Per-alias failures are logged and skipped, never fatal; only a
// missing session aborts the pass.
func (c *Client) ReadAll() (map[string]any, error) {
	if !c.connected {
		return nil, errors.WrapLifecycle(errors.ErrNotConnected, c.cfg.Endpoint, "read")
	}

	out := make(map[string]any, len(c.aliases))
	for _, alias := range c.Aliases() {
		v, err := c.Read(alias)
		if err != nil {
			c.logger.Warn("read failed", "alias", alias, "error", err)
			continue
		}
		out[alias] = v
	}
	return out, nil
}

// resolve returns the node handle for alias, from cache or by a session
// lookup on first access.
func (c *Client) resolve(alias string) (opcua.Node, error) {
	if !c.connected {
		return nil, errors.WrapLifecycle(errors.ErrNotConnected, c.cfg.Endpoint, "resolve")
	}

	if node, ok := c.cache[alias]; ok {
		return node, nil
	}

	id, ok := c.aliases[alias]
	if !ok {
		return nil, &errors.ValidationError{
			Field:  "alias",
			Value:  alias,
			Reason: "not present in the loaded alias map",
			Err:    errors.ErrUnknownAlias,
		}
	}

	node, err := c.session.Node(id)
	if err != nil {
		return nil, &errors.ReadError{Alias: alias, Err: err}
	}
	c.cache[alias] = node
	return node, nil
}
