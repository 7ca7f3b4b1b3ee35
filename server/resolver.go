package server

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
)

// ResolveStats counts the outcome of one resolution pass. TotalRows always
// equals Resolved + Duplicates + Errors.
type ResolveStats struct {
	TotalRows  int
	Resolved   int
	Duplicates int
	Errors     int
}

// ResolvedNode is one variable node built by a resolution pass, tagged with
// its owning alias and folder.
type ResolvedNode struct {
	Alias  string
	Folder string
	Node   opcua.Node
}

// ResolvedNodeSet is the ordered collection of nodes under the managed root.
// Exclusively owned by the resolution pass: it is replaced wholesale on every
// pass and cleared on clean shutdown, never partially mutated.
type ResolvedNodeSet struct {
	nodes []ResolvedNode
}

func newResolvedNodeSet() *ResolvedNodeSet {
	return &ResolvedNodeSet{}
}

func (s *ResolvedNodeSet) add(n ResolvedNode) { s.nodes = append(s.nodes, n) }

// Len returns the number of resolved nodes.
func (s *ResolvedNodeSet) Len() int { return len(s.nodes) }

// All returns the resolved nodes in creation order.
func (s *ResolvedNodeSet) All() []ResolvedNode {
	out := make([]ResolvedNode, len(s.nodes))
	copy(out, s.nodes)
	return out
}

// Clear empties the set.
func (s *ResolvedNodeSet) Clear() { s.nodes = nil }

// Resolve (re)builds the managed subtree from the committed definitions.
// It ensures the handle exists, loads definitions if none are committed,
// and performs the edit cold: a started endpoint is stopped first and
// restarted after the pass. The pre-existing managed root is deleted
// outright, so re-running Resolve never grows the address space. Per-point
// failures are counted, never fatal; a post-pass invariant violation tears
// the fresh subtree down again and fails the whole pass.
func (m *Manager) Resolve(ctx context.Context) (ResolveStats, error) {
	if err := m.Create(); err != nil {
		return ResolveStats{}, err
	}

	if m.loader.Definitions().Len() == 0 {
		if _, err := m.Load(); err != nil {
			return ResolveStats{}, errors.WrapLifecycle(err, m.cfg.Endpoint, "resolve")
		}
	}
	defs := m.loader.Definitions().All()

	// Cold edit: never mutate a live, served address space.
	wasStarted := m.started
	if wasStarted {
		if _, err := m.Stop(false); err != nil {
			return ResolveStats{}, err
		}
	}

	objects, err := m.handle.ObjectsNode()
	if err != nil {
		return ResolveStats{}, errors.WrapLifecycle(err, m.cfg.Endpoint, "resolve")
	}

	// A leftover subtree from a previous pass is deleted, not merged.
	// Its absence is not an error.
	if prior, cerr := objects.Child([]string{m.cfg.RootFolder}); cerr == nil {
		if derr := m.handle.DeleteNodes([]opcua.Node{prior}, true); derr != nil {
			return ResolveStats{}, errors.WrapLifecycle(derr, m.cfg.Endpoint, "resolve")
		}
		m.logger.Debug("previous managed subtree deleted", "root", m.cfg.RootFolder)
	}

	root, err := objects.AddFolder(opcua.NewStringID(m.nsIndex, m.cfg.RootFolder), m.cfg.RootFolder)
	if err != nil {
		return ResolveStats{}, errors.WrapLifecycle(err, m.cfg.Endpoint, "resolve")
	}

	stats := ResolveStats{TotalRows: len(defs)}
	fresh := newResolvedNodeSet()
	folders := make(map[string]opcua.Node)

	for _, def := range defs {
		folder, ferr := m.folderFor(root, folders, def.Folder)
		if ferr != nil {
			stats.Errors++
			m.logger.Warn("folder creation failed", "alias", def.Alias, "folder", def.Folder, "error", ferr)
			continue
		}

		node, verr := folder.AddVariable(
			opcua.NewStringID(m.nsIndex, def.Identifier), def.Alias, def.Initial, def.Type)
		switch {
		case stderrors.Is(verr, opcua.ErrNodeExists):
			stats.Duplicates++
			m.logger.Warn("node already exists", "alias", def.Alias, "identifier", def.Identifier)
			continue
		case verr != nil:
			stats.Errors++
			m.logger.Warn("variable creation failed", "alias", def.Alias, "identifier", def.Identifier, "error", verr)
			continue
		}

		if def.Writable {
			if werr := node.SetWritable(true); werr != nil {
				stats.Errors++
				m.logger.Warn("set writable failed", "alias", def.Alias, "error", werr)
				continue
			}
		}

		fresh.add(ResolvedNode{Alias: def.Alias, Folder: def.Folder, Node: node})
		stats.Resolved++
	}

	underRoot := make(map[string]bool)
	collectSubtree(root, underRoot)
	violations := CheckResolution(ResolutionView{
		Stats:          stats,
		Nodes:          fresh.All(),
		NamespaceIndex: m.nsIndex,
		UnderRoot:      underRoot,
	})
	if len(violations) > 0 {
		// Never leave a half-built subtree observable.
		if derr := m.handle.DeleteNodes([]opcua.Node{root}, true); derr != nil {
			m.logger.Warn("teardown of inconsistent subtree failed", "error", derr)
		}
		m.resolved.Clear()
		return stats, errors.WrapLifecycle(
			fmt.Errorf("resolution invariant violated: %v", violations), m.cfg.Endpoint, "resolve")
	}

	// Replace wholesale; the old set dies with the old subtree.
	m.resolved = fresh
	m.metrics.recordResolve(stats)

	m.logger.Info("resolution pass complete",
		"total_rows", stats.TotalRows,
		"resolved", stats.Resolved,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors)

	// Restart after the cold edit. A manager that has never been started
	// starts fresh here, so the provision flow ends with a serving endpoint.
	if wasStarted || !m.everStarted {
		if err := m.Start(ctx); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// folderFor resolves or creates the folder child of root, caching lookups
// for the duration of one pass.
func (m *Manager) folderFor(root opcua.Node, cache map[string]opcua.Node, name string) (opcua.Node, error) {
	if f, ok := cache[name]; ok {
		return f, nil
	}
	if f, err := root.Child([]string{name}); err == nil {
		cache[name] = f
		return f, nil
	}
	f, err := root.AddFolder(opcua.NewStringID(m.nsIndex, m.cfg.RootFolder+"."+name), name)
	if err != nil {
		return nil, err
	}
	cache[name] = f
	return f, nil
}
