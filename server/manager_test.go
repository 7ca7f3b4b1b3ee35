package server

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	opcerrors "github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
)

// countingEndpoint wraps the in-memory server and counts or fails underlying
// start calls.
type countingEndpoint struct {
	*opcua.Server
	startCalls int
	failStarts int // fail this many leading start attempts
	failStop   bool
}

func (e *countingEndpoint) Start() error {
	e.startCalls++
	if e.startCalls <= e.failStarts {
		return errors.New("bind: address already in use")
	}
	return e.Server.Start()
}

func (e *countingEndpoint) Stop() error {
	if e.failStop {
		return errors.New("socket already closed")
	}
	return e.Server.Stop()
}

func testConfig(dir string) Config {
	return Config{
		Endpoint:   "opc.tcp://127.0.0.1:4841",
		Namespace:  "urn:cafersa:plc",
		FilesDir:   dir,
		InputFile:  "nodes.csv",
		OutputFile: "nodes.json",
		Retries:    3,
		Backoff:    time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestManager(t *testing.T, csv string) (*Manager, *countingEndpoint) {
	t.Helper()
	dir := t.TempDir()
	if csv != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "nodes.csv"), []byte(csv), 0o644))
	}

	ep := &countingEndpoint{Server: opcua.NewServer()}
	m, err := NewManager(testConfig(dir), Deps{
		NewEndpoint: func() opcua.ServerEndpoint { return ep },
		Logger:      quietLogger(),
	})
	require.NoError(t, err)
	return m, ep
}

func TestNewManager_ValidatesConfig(t *testing.T) {
	ep := func() opcua.ServerEndpoint { return opcua.NewServer() }

	for name, mutate := range map[string]func(*Config){
		"bad scheme":     func(c *Config) { c.Endpoint = "tcp://127.0.0.1:4841" },
		"empty namespace": func(c *Config) { c.Namespace = "" },
		"zero retries":   func(c *Config) { c.Retries = 0 },
		"zero backoff":   func(c *Config) { c.Backoff = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t.TempDir())
			mutate(&cfg)
			_, err := NewManager(cfg, Deps{NewEndpoint: ep})
			require.Error(t, err)
			assert.True(t, opcerrors.IsValidation(err))
		})
	}

	t.Run("missing factory", func(t *testing.T) {
		_, err := NewManager(testConfig(t.TempDir()), Deps{})
		require.Error(t, err)
	})
}

func TestCreate_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, "")
	assert.Equal(t, StateAbsent, m.State())

	require.NoError(t, m.Create())
	assert.Equal(t, StateCreated, m.State())
	idx := m.NamespaceIndex()
	assert.Equal(t, uint16(2), idx)

	require.NoError(t, m.Create())
	assert.Equal(t, StateCreated, m.State())
	assert.Equal(t, idx, m.NamespaceIndex())
}

func TestStart_IdempotentSecondCall(t *testing.T) {
	m, ep := newTestManager(t, "")
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	assert.Equal(t, StateStarted, m.State())
	require.Equal(t, 1, ep.startCalls)

	// Second start must not reach the underlying primitive again
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, 1, ep.startCalls)
	assert.Equal(t, StateStarted, m.State())
}

func TestStart_RetriesThenSucceeds(t *testing.T) {
	m, ep := newTestManager(t, "")
	ep.failStarts = 2

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, 3, ep.startCalls)
	assert.Equal(t, StateStarted, m.State())
}

func TestStart_ExhaustionRollsBackToAbsent(t *testing.T) {
	m, ep := newTestManager(t, "")
	ep.failStarts = 99

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.True(t, opcerrors.IsLifecycle(err))
	assert.ErrorIs(t, err, opcerrors.ErrRetryExhausted)
	assert.Equal(t, 3, ep.startCalls, "bounded by configured retries")
	assert.Equal(t, StateAbsent, m.State(), "handle and namespace index both absent")

	var le *opcerrors.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "start", le.Op)
	assert.Equal(t, "opc.tcp://127.0.0.1:4841", le.Endpoint)
}

func TestStop_NeverCreated(t *testing.T) {
	m, _ := newTestManager(t, "")

	stopped, err := m.Stop(false)
	require.NoError(t, err)
	assert.False(t, stopped)
}

func TestStop_CleanClearsEverything(t *testing.T) {
	csv := "alias,nodeid,datatype,initial,folder,writable\n" +
		"A,DB_HMI.F.A,int32,1,F,yes\n"
	m, _ := newTestManager(t, csv)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	_, err := m.Resolve(ctx)
	require.NoError(t, err)
	require.NotZero(t, m.Definitions().Len())
	require.NotZero(t, len(m.ResolvedNodes()))

	stopped, err := m.Stop(true)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, StateAbsent, m.State())
	assert.Zero(t, m.Definitions().Len())
	assert.Zero(t, len(m.ResolvedNodes()))
}

func TestStop_NonCleanRetainsHandleAndDefinitions(t *testing.T) {
	csv := "alias,nodeid,datatype,initial,folder,writable\n" +
		"A,DB_HMI.F.A,int32,1,F,yes\n"
	m, _ := newTestManager(t, csv)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	_, err := m.Load()
	require.NoError(t, err)

	stopped, err := m.Stop(false)
	require.NoError(t, err)
	assert.True(t, stopped)
	assert.Equal(t, StateCreated, m.State())
	assert.Equal(t, 1, m.Definitions().Len(), "definitions retained for edit/restart cycle")
	assert.Equal(t, uint16(2), m.NamespaceIndex())
}

func TestStop_UnderlyingFailureIsNotRaised(t *testing.T) {
	m, ep := newTestManager(t, "")
	require.NoError(t, m.Start(context.Background()))

	ep.failStop = true
	stopped, err := m.Stop(false)
	require.NoError(t, err, "stop is best-effort; underlying failure is logged, not raised")
	assert.True(t, stopped)
	assert.Equal(t, StateCreated, m.State())
}
