package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/opcbridge/opcua"
)

func ruleNames(vs []Violation) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, v.Rule)
	}
	return out
}

func TestCheckInvariants(t *testing.T) {
	tests := map[string]struct {
		view  StateView
		rules []string
	}{
		"absent": {
			view: StateView{},
		},
		"created": {
			view: StateView{HandlePresent: true, NamespacePresent: true},
		},
		"started": {
			view: StateView{HandlePresent: true, NamespacePresent: true, Started: true, ResolvedCount: 3},
		},
		"handle without namespace": {
			view:  StateView{HandlePresent: true},
			rules: []string{"namespace-iff-handle"},
		},
		"namespace without handle": {
			view:  StateView{NamespacePresent: true},
			rules: []string{"namespace-iff-handle"},
		},
		"started without anything": {
			view:  StateView{Started: true},
			rules: []string{"started-implies-created"},
		},
		"resolved nodes after teardown": {
			view:  StateView{ResolvedCount: 2},
			rules: []string{"resolved-requires-handle"},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got := CheckInvariants(tt.view)
			assert.ElementsMatch(t, tt.rules, ruleNames(got))
		})
	}
}

func TestCheckResolution(t *testing.T) {
	srv := opcua.NewServer()
	idx, err := srv.RegisterNamespace("urn:test")
	require.NoError(t, err)
	objects, err := srv.ObjectsNode()
	require.NoError(t, err)
	root, err := objects.AddFolder(opcua.NewStringID(idx, "Points"), "Points")
	require.NoError(t, err)
	node, err := root.AddVariable(opcua.NewStringID(idx, "Points.T1"), "T1", 0.0, opcua.TypeDouble)
	require.NoError(t, err)

	under := map[string]bool{}
	collectSubtree(root, under)

	good := ResolutionView{
		Stats:          ResolveStats{TotalRows: 1, Resolved: 1},
		Nodes:          []ResolvedNode{{Alias: "T1", Folder: "", Node: node}},
		NamespaceIndex: idx,
		UnderRoot:      under,
	}
	assert.Empty(t, CheckResolution(good))

	t.Run("counters must add up", func(t *testing.T) {
		v := good
		v.Stats = ResolveStats{TotalRows: 3, Resolved: 1}
		assert.Contains(t, ruleNames(CheckResolution(v)), "counters-add-up")
	})

	t.Run("node set must match resolved count", func(t *testing.T) {
		v := good
		v.Nodes = nil
		assert.Contains(t, ruleNames(CheckResolution(v)), "set-matches-count")
	})

	t.Run("foreign namespace index", func(t *testing.T) {
		v := good
		v.NamespaceIndex = idx + 1
		assert.Contains(t, ruleNames(CheckResolution(v)), "namespace-index-matches")
	})

	t.Run("node outside managed root", func(t *testing.T) {
		v := good
		v.UnderRoot = map[string]bool{}
		assert.Contains(t, ruleNames(CheckResolution(v)), "reachable-under-root")
	})
}

func TestCollectSubtree(t *testing.T) {
	srv := opcua.NewServer()
	idx, err := srv.RegisterNamespace("urn:test")
	require.NoError(t, err)
	objects, _ := srv.ObjectsNode()
	root, err := objects.AddFolder(opcua.NewStringID(idx, "R"), "R")
	require.NoError(t, err)
	sub, err := root.AddFolder(opcua.NewStringID(idx, "R.F"), "F")
	require.NoError(t, err)
	_, err = sub.AddVariable(opcua.NewStringID(idx, "R.F.V"), "V", int32(0), opcua.TypeInt32)
	require.NoError(t, err)

	ids := map[string]bool{}
	collectSubtree(root, ids)

	assert.Len(t, ids, 2, "folder and variable, root itself excluded")
	assert.True(t, ids[opcua.NewStringID(idx, "R.F").String()])
	assert.True(t, ids[opcua.NewStringID(idx, "R.F.V").String()])
}
