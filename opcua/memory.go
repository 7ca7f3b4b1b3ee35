package opcua

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Server is an in-memory ServerEndpoint. It serves no transport; it exists so
// the provisioning manager, the client mirror and the test suite can run
// against a real address space without an external stack. A single RWMutex
// guards the whole tree, which is plenty for the single-owner call pattern
// the manager enforces.
type Server struct {
	mu         sync.RWMutex
	endpoint   string
	namespaces []string
	started    bool
	nodes      map[string]*memNode
	root       *memNode
	objects    *memNode
	watchers   []func(ChangeEvent)
}

// NewServer creates an empty in-memory address space with the standard Root
// and Objects nodes in namespace 0.
func NewServer() *Server {
	s := &Server{
		// Index 0 is the OPC UA namespace, index 1 the server's own URI,
		// so the first application namespace lands at index 2.
		namespaces: []string{
			"http://opcfoundation.org/UA/",
			"urn:opcbridge:memory-server",
		},
		nodes: make(map[string]*memNode),
	}

	s.root = &memNode{srv: s, id: NewStringID(0, "Root"), name: "Root", class: ClassObject}
	s.objects = &memNode{srv: s, id: NewStringID(0, "Objects"), name: "Objects", class: ClassObject, parent: s.root}
	s.root.children = []*memNode{s.objects}
	s.nodes[s.root.id.String()] = s.root
	s.nodes[s.objects.id.String()] = s.objects
	return s
}

// SetEndpoint binds the endpoint URL. The URL must carry the opc.tcp scheme.
func (s *Server) SetEndpoint(url string) error {
	if !strings.HasPrefix(url, Scheme) {
		return fmt.Errorf("%w: %q", ErrBadEndpoint, url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endpoint = url
	return nil
}

// RegisterNamespace registers uri and returns its index. Re-registering an
// existing uri returns the index it already holds.
func (s *Server) RegisterNamespace(uri string) (uint16, error) {
	if uri == "" {
		return 0, fmt.Errorf("register namespace: empty uri")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.namespaces {
		if existing == uri {
			return uint16(i), nil
		}
	}
	s.namespaces = append(s.namespaces, uri)
	return uint16(len(s.namespaces) - 1), nil
}

// Start begins serving. The endpoint must have been bound first.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endpoint == "" {
		return fmt.Errorf("%w: endpoint not set", ErrBadEndpoint)
	}
	s.started = true
	return nil
}

// Stop stops serving. Safe to call on a stopped server.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
	return nil
}

// Started reports whether the server is currently serving.
func (s *Server) Started() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started
}

// RootNode returns the address-space root.
func (s *Server) RootNode() (Node, error) { return s.root, nil }

// ObjectsNode returns the standard Objects folder.
func (s *Server) ObjectsNode() (Node, error) { return s.objects, nil }

// Node resolves a node by identifier.
func (s *Server) Node(id NodeID) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// NodeCount returns the number of nodes currently in the address space,
// including the standard Root and Objects nodes.
func (s *Server) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// DeleteNodes removes nodes from the address space, detaching them from
// their parents. With recursive set, descendants are removed too.
func (s *Server) DeleteNodes(nodes []Node, recursive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		mn, ok := s.nodes[n.ID().String()]
		if !ok {
			continue
		}
		s.deleteLocked(mn, recursive)
	}
	return nil
}

func (s *Server) deleteLocked(n *memNode, recursive bool) {
	if recursive {
		for _, c := range n.children {
			s.deleteLocked(c, true)
		}
	}
	delete(s.nodes, n.id.String())
	if n.parent != nil {
		kept := n.parent.children[:0]
		for _, c := range n.parent.children {
			if c != n {
				kept = append(kept, c)
			}
		}
		n.parent.children = kept
	}
	n.parent = nil
}

// Watch registers a data-change handler invoked on every variable value
// update. Handlers run synchronously on the writer's path and must not block.
func (s *Server) Watch(fn func(ChangeEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

func (s *Server) notify(ev ChangeEvent) {
	s.mu.RLock()
	watchers := make([]func(ChangeEvent), len(s.watchers))
	copy(watchers, s.watchers)
	s.mu.RUnlock()
	for _, fn := range watchers {
		fn(ev)
	}
}

// Session returns an in-process client session against this server.
func (s *Server) Session() ClientSession {
	return &memSession{srv: s}
}

// memNode is an address-space entry in the in-memory server.
type memNode struct {
	srv      *Server
	id       NodeID
	name     string
	class    NodeClass
	vt       VariantType
	value    any
	writable bool
	parent   *memNode
	children []*memNode
}

func (n *memNode) ID() NodeID { return n.id }

func (n *memNode) BrowseName() (string, error) {
	n.srv.mu.RLock()
	defer n.srv.mu.RUnlock()
	return n.name, nil
}

func (n *memNode) Class() (NodeClass, error) {
	n.srv.mu.RLock()
	defer n.srv.mu.RUnlock()
	return n.class, nil
}

func (n *memNode) Children() ([]Node, error) {
	n.srv.mu.RLock()
	defer n.srv.mu.RUnlock()
	out := make([]Node, len(n.children))
	for i, c := range n.children {
		out[i] = c
	}
	return out, nil
}

func (n *memNode) Child(path []string) (Node, error) {
	n.srv.mu.RLock()
	defer n.srv.mu.RUnlock()
	cur := n
	for _, elem := range path {
		// Accept the "ns:Name" browse path form.
		if _, name, found := strings.Cut(elem, ":"); found {
			elem = name
		}
		var next *memNode
		for _, c := range cur.children {
			if c.name == elem {
				next = c
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: child %q of %s", ErrNodeNotFound, elem, cur.id)
		}
		cur = next
	}
	return cur, nil
}

func (n *memNode) Value() (any, error) {
	n.srv.mu.RLock()
	defer n.srv.mu.RUnlock()
	if n.class != ClassVariable {
		return nil, fmt.Errorf("node %s is not a variable", n.id)
	}
	return n.value, nil
}

func (n *memNode) SetValue(v any) error {
	n.srv.mu.Lock()
	if n.class != ClassVariable {
		n.srv.mu.Unlock()
		return fmt.Errorf("node %s is not a variable", n.id)
	}
	if n.vt != TypeNull && !n.vt.Conforms(v) {
		n.srv.mu.Unlock()
		return fmt.Errorf("node %s: value %T does not conform to %s", n.id, v, n.vt)
	}
	n.value = v
	ev := ChangeEvent{NodeID: n.id, BrowseName: n.name, Value: v, Timestamp: time.Now().UTC()}
	n.srv.mu.Unlock()

	n.srv.notify(ev)
	return nil
}

func (n *memNode) SetWritable(writable bool) error {
	n.srv.mu.Lock()
	defer n.srv.mu.Unlock()
	if n.class != ClassVariable {
		return fmt.Errorf("node %s is not a variable", n.id)
	}
	n.writable = writable
	return nil
}

func (n *memNode) AddFolder(id NodeID, name string) (Node, error) {
	return n.addChild(id, name, ClassObject, nil, TypeNull)
}

func (n *memNode) AddVariable(id NodeID, name string, initial any, vt VariantType) (Node, error) {
	if initial != nil && !vt.Conforms(initial) {
		return nil, fmt.Errorf("add variable %s: initial value %T does not conform to %s", id, initial, vt)
	}
	return n.addChild(id, name, ClassVariable, initial, vt)
}

func (n *memNode) addChild(id NodeID, name string, class NodeClass, value any, vt VariantType) (Node, error) {
	n.srv.mu.Lock()
	defer n.srv.mu.Unlock()
	if _, exists := n.srv.nodes[id.String()]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeExists, id)
	}
	child := &memNode{
		srv:    n.srv,
		id:     id,
		name:   name,
		class:  class,
		vt:     vt,
		value:  value,
		parent: n,
	}
	n.children = append(n.children, child)
	n.srv.nodes[id.String()] = child
	return child, nil
}

// memSession is an in-process ClientSession against a Server. Writes honor
// the writable flag the way a remote session would.
type memSession struct {
	mu        sync.Mutex
	srv       *Server
	connected bool
}

func (c *memSession) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.srv.Started() {
		return fmt.Errorf("%w: %s", ErrNotStarted, c.srv.endpoint)
	}
	c.connected = true
	return nil
}

func (c *memSession) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return nil
}

func (c *memSession) Node(id NodeID) (Node, error) {
	c.mu.Lock()
	connected := c.connected
	c.mu.Unlock()
	if !connected {
		return nil, fmt.Errorf("session: %w", ErrNotStarted)
	}
	n, err := c.srv.Node(id)
	if err != nil {
		return nil, err
	}
	return &sessionNode{Node: n, mem: n.(*memNode)}, nil
}

// sessionNode restricts writes to nodes marked writable.
type sessionNode struct {
	Node
	mem *memNode
}

func (n *sessionNode) SetValue(v any) error {
	n.mem.srv.mu.RLock()
	writable := n.mem.writable
	n.mem.srv.mu.RUnlock()
	if !writable {
		return fmt.Errorf("%w: %s", ErrNotWritable, n.mem.id)
	}
	return n.Node.SetValue(v)
}
