package notify

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/opcbridge/opcua"
)

type captureConn struct {
	subjects []string
	payloads [][]byte
	fail     bool
}

func (c *captureConn) Publish(subject string, data []byte) error {
	if c.fail {
		return assert.AnError
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublish_ForwardsEvent(t *testing.T) {
	conn := &captureConn{}
	p := New(Config{SubjectPrefix: "plant.points"}, conn, quietLogger())
	require.True(t, p.Enabled())

	ev := opcua.ChangeEvent{
		NodeID:     opcua.NewStringID(2, "Points.Temperatura"),
		BrowseName: "Temperatura",
		Value:      21.5,
		Timestamp:  time.Now().UTC(),
	}
	p.Publish(ev)

	require.Len(t, conn.subjects, 1)
	assert.Equal(t, "plant.points.Temperatura", conn.subjects[0])

	var got opcua.ChangeEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &got))
	assert.Equal(t, "Temperatura", got.BrowseName)
	assert.Equal(t, 21.5, got.Value)
	assert.Equal(t, "ns=2;s=Points.Temperatura", got.NodeID.String())
}

func TestPublish_DefaultPrefixAndTokenSanitizing(t *testing.T) {
	conn := &captureConn{}
	p := New(Config{}, conn, quietLogger())

	p.Publish(opcua.ChangeEvent{BrowseName: "Linea 1.Espesor"})
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, DefaultSubjectPrefix+".Linea_1_Espesor", conn.subjects[0])

	p.Publish(opcua.ChangeEvent{})
	require.Len(t, conn.subjects, 2)
	assert.Equal(t, DefaultSubjectPrefix+".unnamed", conn.subjects[1])
}

func TestPublish_NilConnIsNoOp(t *testing.T) {
	p := New(Config{}, nil, quietLogger())
	assert.False(t, p.Enabled())
	p.Publish(opcua.ChangeEvent{BrowseName: "X"}) // must not panic
}

func TestPublish_FailureIsDropped(t *testing.T) {
	conn := &captureConn{fail: true}
	p := New(Config{}, conn, quietLogger())
	p.Publish(opcua.ChangeEvent{BrowseName: "X"}) // logged, not raised
	assert.Empty(t, conn.subjects)
}

func TestAttach_ForwardsServerChanges(t *testing.T) {
	srv := opcua.NewServer()
	idx, err := srv.RegisterNamespace("urn:test")
	require.NoError(t, err)
	objects, err := srv.ObjectsNode()
	require.NoError(t, err)
	v, err := objects.AddVariable(opcua.NewStringID(idx, "Contador"), "Contador", int32(0), opcua.TypeInt32)
	require.NoError(t, err)

	conn := &captureConn{}
	New(Config{}, conn, quietLogger()).Attach(srv)

	require.NoError(t, v.SetValue(int32(7)))
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, DefaultSubjectPrefix+".Contador", conn.subjects[0])
}
