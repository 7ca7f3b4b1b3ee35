package server

import (
	"fmt"

	"github.com/c360/opcbridge/opcua"
)

// Violation describes one broken consistency rule. Checkers return verdicts;
// callers decide rollback.
type Violation struct {
	Rule   string
	Detail string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Detail)
}

// StateView is a snapshot of the lifecycle-relevant fields of a manager,
// taken under its lock.
type StateView struct {
	HandlePresent    bool
	NamespacePresent bool
	Started          bool
	ResolvedCount    int
}

// CheckInvariants verifies the cross-field consistency rules that tie
// connection state, namespace registration and resolved nodes together.
// Pure: it inspects the view and returns every violated rule.
func CheckInvariants(v StateView) []Violation {
	var out []Violation

	if v.HandlePresent != v.NamespacePresent {
		out = append(out, Violation{
			Rule:   "namespace-iff-handle",
			Detail: fmt.Sprintf("handle present=%v, namespace present=%v", v.HandlePresent, v.NamespacePresent),
		})
	}
	if v.Started && (!v.HandlePresent || !v.NamespacePresent) {
		out = append(out, Violation{
			Rule:   "started-implies-created",
			Detail: "endpoint started without handle and registered namespace",
		})
	}
	if v.ResolvedCount > 0 && !v.HandlePresent {
		out = append(out, Violation{
			Rule:   "resolved-requires-handle",
			Detail: fmt.Sprintf("%d resolved nodes with no handle", v.ResolvedCount),
		})
	}

	return out
}

// ResolutionView is a snapshot of one finished resolution pass.
type ResolutionView struct {
	Stats          ResolveStats
	Nodes          []ResolvedNode
	NamespaceIndex uint16
	// UnderRoot holds the identifiers reachable beneath the managed root,
	// keyed by canonical NodeID string.
	UnderRoot map[string]bool
}

// CheckResolution verifies the post-pass rules: counters add up, and every
// resolved node carries the registered namespace index and sits under the
// managed root.
func CheckResolution(v ResolutionView) []Violation {
	var out []Violation

	s := v.Stats
	if s.TotalRows != s.Resolved+s.Duplicates+s.Errors {
		out = append(out, Violation{
			Rule: "counters-add-up",
			Detail: fmt.Sprintf("total=%d but resolved=%d duplicates=%d errors=%d",
				s.TotalRows, s.Resolved, s.Duplicates, s.Errors),
		})
	}
	if len(v.Nodes) != s.Resolved {
		out = append(out, Violation{
			Rule:   "set-matches-count",
			Detail: fmt.Sprintf("resolved=%d but node set holds %d", s.Resolved, len(v.Nodes)),
		})
	}

	for _, rn := range v.Nodes {
		id := rn.Node.ID()
		if id.Namespace != v.NamespaceIndex {
			out = append(out, Violation{
				Rule:   "namespace-index-matches",
				Detail: fmt.Sprintf("alias %q node %s not in namespace %d", rn.Alias, id, v.NamespaceIndex),
			})
		}
		if !v.UnderRoot[id.String()] {
			out = append(out, Violation{
				Rule:   "reachable-under-root",
				Detail: fmt.Sprintf("alias %q node %s not reachable under managed root", rn.Alias, id),
			})
		}
	}

	return out
}

// collectSubtree walks n and records every descendant identifier into ids.
func collectSubtree(n opcua.Node, ids map[string]bool) {
	children, err := n.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		ids[c.ID().String()] = true
		collectSubtree(c, ids)
	}
}
