package server

import (
	"encoding/json"
	"os"

	"github.com/c360/opcbridge/errors"
	"github.com/c360/opcbridge/opcua"
)

// Export walks the address space beneath the Objects folder, collects the
// browse-name→identifier mapping of every variable node in the managed
// namespace, and writes it pretty-printed to the configured output file,
// overwriting any prior content. With an empty resolved set it logs a
// warning and writes nothing.
func (m *Manager) Export() error {
	return m.ExportTo(m.OutputPath())
}

// ExportTo is Export with an explicit destination path.
func (m *Manager) ExportTo(path string) error {
	if m.resolved.Len() == 0 {
		m.logger.Warn("export skipped: no resolved nodes", "path", path)
		return nil
	}

	aliases, err := m.AliasMap()
	if err != nil {
		return &errors.ExportError{Path: path, Err: err}
	}

	data, err := json.MarshalIndent(aliases, "", "    ")
	if err != nil {
		return &errors.ExportError{Path: path, Err: err}
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &errors.ExportError{Path: path, Err: err}
	}

	m.metrics.recordExport()
	m.logger.Info("alias map exported", "path", path, "aliases", len(aliases))
	return nil
}

// AliasMap walks the address space and returns the browse-name→identifier
// mapping of every variable node carrying the managed namespace index.
// A child that cannot report its class or name is skipped, not fatal.
func (m *Manager) AliasMap() (map[string]string, error) {
	if m.handle == nil {
		return nil, errors.ErrNotCreated
	}
	objects, err := m.handle.ObjectsNode()
	if err != nil {
		return nil, err
	}

	aliases := make(map[string]string)
	m.collectAliases(objects, aliases)
	return aliases, nil
}

func (m *Manager) collectAliases(n opcua.Node, aliases map[string]string) {
	children, err := n.Children()
	if err != nil {
		return
	}
	for _, c := range children {
		name, nerr := c.BrowseName()
		class, cerr := c.Class()
		if nerr == nil && cerr == nil &&
			class == opcua.ClassVariable && c.ID().Namespace == m.nsIndex {
			aliases[name] = c.ID().String()
		}
		m.collectAliases(c, aliases)
	}
}
