package client

import (
	"context"
	"encoding/json"
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

// trackingSession wraps the in-memory session, counting calls and optionally
// failing leading connect attempts.
type trackingSession struct {
	opcua.ClientSession
	connectCalls int
	failConnects int
	nodeCalls    int
}

func (s *trackingSession) Connect() error {
	s.connectCalls++
	if s.connectCalls <= s.failConnects {
		return assert.AnError
	}
	return s.ClientSession.Connect()
}

func (s *trackingSession) Node(id opcua.NodeID) (opcua.Node, error) {
	s.nodeCalls++
	return s.ClientSession.Node(id)
}

// newTestServer builds a started in-memory server exposing two variables, one
// writable, and writes their alias map to a temp file.
func newTestServer(t *testing.T) (*opcua.Server, string) {
	t.Helper()

	srv := opcua.NewServer()
	require.NoError(t, srv.SetEndpoint("opc.tcp://127.0.0.1:4841"))
	idx, err := srv.RegisterNamespace("urn:cafersa:plc")
	require.NoError(t, err)

	objects, err := srv.ObjectsNode()
	require.NoError(t, err)
	root, err := objects.AddFolder(opcua.NewStringID(idx, "Points"), "Points")
	require.NoError(t, err)

	tempID := opcua.NewStringID(idx, "Points.Temperatura")
	temp, err := root.AddVariable(tempID, "Temperatura", 20.5, opcua.TypeDouble)
	require.NoError(t, err)
	require.NoError(t, temp.SetWritable(true))

	flagID := opcua.NewStringID(idx, "Points.Flag")
	_, err = root.AddVariable(flagID, "Flag", false, opcua.TypeBoolean)
	require.NoError(t, err)

	require.NoError(t, srv.Start())

	aliases := map[string]string{
		"Temperatura": tempID.String(),
		"Flag":        flagID.String(),
	}
	data, err := json.MarshalIndent(aliases, "", "    ")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "nodes.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return srv, path
}

func testConfig() Config {
	return Config{
		Endpoint: "opc.tcp://127.0.0.1:4841",
		Retries:  3,
		Backoff:  time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestClient(t *testing.T) (*Client, *trackingSession, string) {
	t.Helper()
	srv, aliasPath := newTestServer(t)

	sess := &trackingSession{ClientSession: srv.Session()}
	c, err := New(testConfig(), Deps{
		NewSession: func() opcua.ClientSession { return sess },
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	return c, sess, aliasPath
}

func TestNew_ValidatesConfig(t *testing.T) {
	sess := func() opcua.ClientSession { return opcua.NewServer().Session() }

	for name, mutate := range map[string]func(*Config){
		"bad scheme":   func(c *Config) { c.Endpoint = "http://127.0.0.1:4841" },
		"zero retries": func(c *Config) { c.Retries = 0 },
		"zero backoff": func(c *Config) { c.Backoff = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			_, err := New(cfg, Deps{NewSession: sess})
			require.Error(t, err)
			assert.True(t, opcerrors.IsValidation(err))
		})
	}

	t.Run("missing factory", func(t *testing.T) {
		_, err := New(testConfig(), Deps{})
		require.Error(t, err)
	})
}

func TestConnect_Idempotent(t *testing.T) {
	c, sess, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.Equal(t, 1, sess.connectCalls)
	assert.True(t, c.Connected())
}

func TestConnect_RetriesThenSucceeds(t *testing.T) {
	c, sess, _ := newTestClient(t)
	sess.failConnects = 2

	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 3, sess.connectCalls)
	assert.True(t, c.Connected())
}

func TestConnect_ExhaustionDropsSession(t *testing.T) {
	c, sess, _ := newTestClient(t)
	sess.failConnects = 10

	err := c.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, opcerrors.IsLifecycle(err))
	assert.ErrorIs(t, err, opcerrors.ErrRetryExhausted)
	assert.False(t, c.Connected())

	var le *opcerrors.LifecycleError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "connect", le.Op)
}

func TestLoadAliases(t *testing.T) {
	c, _, aliasPath := newTestClient(t)

	require.NoError(t, c.LoadAliases(aliasPath))
	assert.Equal(t, []string{"Flag", "Temperatura"}, c.Aliases())
}

func TestLoadAliases_MissingFileEmptiesMap(t *testing.T) {
	c, _, aliasPath := newTestClient(t)
	require.NoError(t, c.LoadAliases(aliasPath))

	err := c.LoadAliases(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, opcerrors.IsStructural(err))
	assert.Empty(t, c.Aliases(), "prior map dropped, not kept")
}

func TestLoadAliases_RejectsMalformedContent(t *testing.T) {
	c, _, _ := newTestClient(t)
	dir := t.TempDir()

	badJSON := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{not json"), 0o644))
	err := c.LoadAliases(badJSON)
	require.Error(t, err)
	assert.True(t, opcerrors.IsStructural(err))

	badID := filepath.Join(dir, "badid.json")
	require.NoError(t, os.WriteFile(badID, []byte(`{"X": "ns=2;i=42"}`), 0o644))
	err = c.LoadAliases(badID)
	require.Error(t, err)
	assert.True(t, opcerrors.IsStructural(err))
	assert.Empty(t, c.Aliases())
}

func TestReadWrite_RoundTrip(t *testing.T) {
	c, _, aliasPath := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.LoadAliases(aliasPath))

	v, err := c.Read("Temperatura")
	require.NoError(t, err)
	assert.Equal(t, 20.5, v)

	require.NoError(t, c.Write("Temperatura", 22.0))
	v, err = c.Read("Temperatura")
	require.NoError(t, err)
	assert.Equal(t, 22.0, v)
}

func TestRead_CachesNodeHandle(t *testing.T) {
	c, sess, aliasPath := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.LoadAliases(aliasPath))

	_, err := c.Read("Flag")
	require.NoError(t, err)
	_, err = c.Read("Flag")
	require.NoError(t, err)
	assert.Equal(t, 1, sess.nodeCalls, "second read served from cache")

	// Reloading the alias source invalidates the cache
	require.NoError(t, c.LoadAliases(aliasPath))
	_, err = c.Read("Flag")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.nodeCalls)
}

func TestRead_UnknownAlias(t *testing.T) {
	c, _, aliasPath := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.LoadAliases(aliasPath))

	_, err := c.Read("Nivel")
	require.Error(t, err)
	assert.True(t, opcerrors.IsValidation(err))
	assert.ErrorIs(t, err, opcerrors.ErrUnknownAlias)
}

func TestReadWrite_NotConnected(t *testing.T) {
	c, _, aliasPath := newTestClient(t)
	require.NoError(t, c.LoadAliases(aliasPath))

	_, err := c.Read("Temperatura")
	require.Error(t, err)
	assert.True(t, opcerrors.IsLifecycle(err))
	assert.ErrorIs(t, err, opcerrors.ErrNotConnected)

	err = c.Write("Temperatura", 1.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, opcerrors.ErrNotConnected)
}

func TestWrite_ReadOnlyPoint(t *testing.T) {
	c, _, aliasPath := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.LoadAliases(aliasPath))

	err := c.Write("Flag", true)
	require.Error(t, err)
	assert.ErrorIs(t, err, opcua.ErrNotWritable)

	var we *opcerrors.WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "Flag", we.Alias)
}

func TestDisconnect_ClearsSessionAndCache(t *testing.T) {
	c, sess, aliasPath := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.LoadAliases(aliasPath))

	_, err := c.Read("Flag")
	require.NoError(t, err)

	c.Disconnect()
	assert.False(t, c.Connected())

	_, err = c.Read("Flag")
	require.Error(t, err)
	assert.ErrorIs(t, err, opcerrors.ErrNotConnected)

	// Reconnect resolves fresh, not from the stale cache
	require.NoError(t, c.Connect(context.Background()))
	_, err = c.Read("Flag")
	require.NoError(t, err)
	assert.Equal(t, 2, sess.nodeCalls)
}

func TestDisconnect_NeverConnectedIsNoOp(t *testing.T) {
	c, _, _ := newTestClient(t)
	c.Disconnect()
	assert.False(t, c.Connected())
}

func TestReadAll(t *testing.T) {
	c, _, aliasPath := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.LoadAliases(aliasPath))

	values, err := c.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Temperatura": 20.5, "Flag": false}, values)
}

func TestReadAll_SkipsUnresolvableAliases(t *testing.T) {
	c, _, _ := newTestClient(t)
	require.NoError(t, c.Connect(context.Background()))

	path := filepath.Join(t.TempDir(), "nodes.json")
	content := `{"Temperatura": "ns=2;s=Points.Temperatura", "Fantasma": "ns=2;s=Points.Fantasma"}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, c.LoadAliases(path))

	values, err := c.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Temperatura": 20.5}, values)
}
