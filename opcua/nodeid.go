package opcua

import (
	"fmt"
	"strconv"
	"strings"
)

// NodeID identifies a node within a registered namespace. Identifiers are
// string-typed; PLC exports commonly use fully qualified symbol paths such
// as `""."ENTRADAS"."Espesor_Medido"`.
type NodeID struct {
	Namespace  uint16
	Identifier string
}

// NewStringID builds a string-identifier NodeID in the given namespace.
func NewStringID(ns uint16, identifier string) NodeID {
	return NodeID{Namespace: ns, Identifier: identifier}
}

// String renders the canonical "ns=<n>;s=<identifier>" form.
func (id NodeID) String() string {
	return fmt.Sprintf("ns=%d;s=%s", id.Namespace, id.Identifier)
}

// IsZero reports whether the NodeID is unset.
func (id NodeID) IsZero() bool {
	return id.Namespace == 0 && id.Identifier == ""
}

// ParseNodeID parses the canonical "ns=<n>;s=<identifier>" form. A bare
// identifier with no "ns=" prefix parses into namespace 0.
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return NodeID{}, fmt.Errorf("parse node id: empty string")
	}

	if !strings.HasPrefix(s, "ns=") {
		return NodeID{Identifier: strings.TrimPrefix(s, "s=")}, nil
	}

	nsPart, idPart, found := strings.Cut(s, ";")
	if !found {
		return NodeID{}, fmt.Errorf("parse node id %q: missing identifier part", s)
	}

	ns, err := strconv.ParseUint(strings.TrimPrefix(nsPart, "ns="), 10, 16)
	if err != nil {
		return NodeID{}, fmt.Errorf("parse node id %q: bad namespace: %w", s, err)
	}

	if !strings.HasPrefix(idPart, "s=") {
		return NodeID{}, fmt.Errorf("parse node id %q: only string identifiers are supported", s)
	}

	return NodeID{Namespace: uint16(ns), Identifier: strings.TrimPrefix(idPart, "s=")}, nil
}
