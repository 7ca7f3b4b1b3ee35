// Package opcua defines the narrow contracts opcbridge consumes from an
// OPC UA address-space/session stack: endpoint lifecycle, namespace
// registration, node creation and browsing, and value access. The package
// also ships an in-memory implementation of both contracts (see memory.go)
// used by the demo binary and the test suite; transport, security and
// subscription delivery belong to the external stack, not here.
package opcua

import (
	"errors"
	"time"
)

// Sentinel errors reported by contract implementations.
var (
	ErrNodeExists   = errors.New("node already exists")
	ErrNodeNotFound = errors.New("node not found")
	ErrNotStarted   = errors.New("endpoint not started")
	ErrNotWritable  = errors.New("node is not writable")
	ErrBadEndpoint  = errors.New("invalid endpoint url")
)

// Scheme is the transport scheme prefix every endpoint URL must carry.
const Scheme = "opc.tcp://"

// NodeClass identifies what kind of node an address-space entry is.
type NodeClass int

const (
	// ClassUnspecified is reported by nodes that cannot classify themselves.
	ClassUnspecified NodeClass = iota
	// ClassObject is a folder or other structural object.
	ClassObject
	// ClassVariable is a value-bearing node.
	ClassVariable
)

// String returns the node class name.
func (c NodeClass) String() string {
	switch c {
	case ClassObject:
		return "Object"
	case ClassVariable:
		return "Variable"
	default:
		return "Unspecified"
	}
}

// Node is a handle on a single address-space entry. Browse accessors return
// errors rather than zero values because remote nodes can fail to report
// their own class or name; walkers skip such nodes.
type Node interface {
	// ID returns the node identifier. Always available locally.
	ID() NodeID

	// BrowseName returns the node's browse name.
	BrowseName() (string, error)

	// Class returns the node's class.
	Class() (NodeClass, error)

	// Children returns the direct children in creation order.
	Children() ([]Node, error)

	// Child resolves a descendant by browse path. Each element is either a
	// plain browse name or the "ns:Name" form.
	Child(path []string) (Node, error)

	// Value returns the current value of a variable node.
	Value() (any, error)

	// SetValue updates the value of a variable node.
	SetValue(v any) error

	// SetWritable marks a variable node writable (or not) for client sessions.
	SetWritable(writable bool) error

	// AddFolder creates a child object node.
	AddFolder(id NodeID, name string) (Node, error)

	// AddVariable creates a child variable node with an initial value and type.
	AddVariable(id NodeID, name string, initial any, vt VariantType) (Node, error)
}

// ServerEndpoint is the server-role contract: one listening endpoint owning
// one address space. Implementations are safe for use by a single logical
// owner; callers serialize lifecycle calls.
type ServerEndpoint interface {
	// SetEndpoint binds the endpoint URL the server will listen on.
	SetEndpoint(url string) error

	// RegisterNamespace registers a namespace URI and returns its index.
	// Registering the same URI twice returns the existing index.
	RegisterNamespace(uri string) (uint16, error)

	// Start begins serving the address space.
	Start() error

	// Stop stops serving. Stopping a stopped endpoint is not an error.
	Stop() error

	// RootNode returns the address-space root.
	RootNode() (Node, error)

	// ObjectsNode returns the standard Objects folder.
	ObjectsNode() (Node, error)

	// Node resolves a node by identifier.
	Node(id NodeID) (Node, error)

	// DeleteNodes removes the given nodes, and their descendants when
	// recursive is true.
	DeleteNodes(nodes []Node, recursive bool) error
}

// ClientSession is the client-role contract: one session against a served
// address space.
type ClientSession interface {
	// Connect establishes the session.
	Connect() error

	// Disconnect closes the session. Disconnecting a closed session is not
	// an error.
	Disconnect() error

	// Node resolves a node by identifier within the session.
	Node(id NodeID) (Node, error)
}

// ChangeEvent describes a variable value change delivered on the data-change
// callback path. Handlers must not block: they run on the delivery path of
// the address-space implementation.
type ChangeEvent struct {
	NodeID     NodeID    `json:"node_id"`
	BrowseName string    `json:"browse_name"`
	Value      any       `json:"value"`
	Timestamp  time.Time `json:"timestamp"`
}
