package controller

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"testing"

	"github.com/KevinKickass/OdinBridge/internal/attributes"
	"github.com/KevinKickass/OdinBridge/internal/odin/odintest"
	"github.com/KevinKickass/OdinBridge/internal/paramtree"
	"github.com/KevinKickass/OdinBridge/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const processTree = `{
	"status": {"hdf": {"frames_written": {"value": 0, "type": "int", "writeable": false}}},
	"config": {"hdf": {"file": {"path": {"value": "/tmp", "type": "str", "writeable": true}}}}
}`

const fpTree = `{
	"temp": {"value": 21.5, "type": "float", "writeable": false},
	"0": ` + processTree + `,
	"1": ` + processTree + `
}`

const frTree = `{
	"status": {"buffers": {"empty": {"value": 10, "type": "int", "writeable": false}}},
	"config": {"rx_ports": {"value": "8000", "type": "str", "writeable": true}}
}`

func newComposer(t *testing.T, srv *odintest.Server, adapters map[string]types.AdapterConfig) *Composer {
	t.Helper()
	c, err := NewComposer(srv.OpenConnection(t), Options{
		Composition: types.Composition{
			APIPrefix: srv.APIPrefix,
			Ignore:    types.DefaultIgnoredAdapters,
			Adapters:  adapters,
		},
	}, zap.NewNop())
	require.NoError(t, err)
	return c
}

type tuple struct {
	Node, Name, RemotePath string
	ValueType              types.ValueType
	Access                 types.AccessType
}

func tuples(root *Controller) []tuple {
	var out []tuple
	for _, node := range root.Nodes() {
		for _, attr := range node.Attributes().List() {
			info := attr.Info()
			out = append(out, tuple{node.ID(), info.Name, info.RemotePath, info.ValueType, info.Access})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func TestDiscoverExpandsIndexedSubtrees(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	c := newComposer(t, srv, map[string]types.AdapterConfig{"fp": {ProcessPrefix: "FP"}})

	report, err := c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())
	assert.Empty(t, report.Failed())

	fp, ok := c.Root().Find("fp")
	require.True(t, ok)
	require.Equal(t, 1, fp.Attributes().Len())
	temp, ok := fp.Attributes().Get("temp")
	require.True(t, ok)
	assert.Equal(t, "api/0.1/fp/temp", temp.Info().RemotePath)

	children := fp.Children()
	require.Len(t, children, 2)
	for i, want := range []struct{ id, label, prefix string }{
		{"fp.0", "FP1", "api/0.1/fp/0"},
		{"fp.1", "FP2", "api/0.1/fp/1"},
	} {
		child := children[i]
		assert.Equal(t, want.id, child.ID())
		assert.Equal(t, want.label, child.Label())
		assert.Equal(t, want.prefix, child.APIPrefix())

		path, ok := child.Attributes().Get("path")
		require.True(t, ok)
		assert.Equal(t, want.prefix+"/config/hdf/file/path", path.Info().RemotePath)
		assert.Equal(t, "HdfFile", path.Info().Group)

		written, ok := child.Attributes().Get("frames_written")
		require.True(t, ok)
		assert.False(t, written.Writable())
	}

	assert.Len(t, c.Root().Tasks(), 5)
}

func TestDiscoverIsIdempotent(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	srv.AddAdapter(t, "fr", frTree)
	c := newComposer(t, srv, nil)

	_, err := c.Discover(context.Background())
	require.NoError(t, err)
	first := tuples(c.Root())

	_, err = c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, tuples(c.Root()))
	assert.NotEmpty(t, first)
}

func TestDiscoverSkipsIgnoredAdapters(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fr", frTree)
	srv.AddAdapter(t, "api", frTree)
	srv.AddAdapter(t, "od", frTree)
	srv.AddAdapter(t, "system_info", frTree)
	c := newComposer(t, srv, nil)

	report, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"api", "od", "system_info"}, report.Skipped)
	require.Len(t, c.Root().Children(), 1)
	assert.Equal(t, "fr", c.Root().Children()[0].ID())
	assert.Zero(t, srv.Gets("od"))
}

func TestDiscoverIsolatesFailingAdapters(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	srv.AddAdapter(t, "fr", frTree)
	srv.Fail("fr", true)
	c := newComposer(t, srv, nil)

	report, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"fr"}, report.Failed())
	assert.Error(t, report.Err())
	assert.NoError(t, report.Fatal())

	_, ok := c.Root().Find("fp")
	assert.True(t, ok)
	_, ok = c.Root().Find("fr")
	assert.False(t, ok)
}

func TestDiscoverFailsWithoutAdapterList(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	srv.Fail("adapters", true)

	c, err := NewComposer(srv.OpenConnection(t), Options{
		Composition: types.Composition{APIPrefix: srv.APIPrefix},
		Attempts:    3,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Discover(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, c.State())
	assert.Equal(t, 3, srv.Gets("adapters"))

	srv.Fail("adapters", false)
	_, err = c.Discover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, c.State())
}

func TestDiscoverNameConflictIsFatal(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", `{
		"config": {"hdf": {"frames": {"value": 1, "type": "int", "writeable": true}}},
		"status": {"hdf": {"frames": {"value": 1, "type": "int", "writeable": false}}}
	}`)
	srv.AddAdapter(t, "fr", frTree)
	c := newComposer(t, srv, nil)

	report, err := c.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, IsNamingConflict(err))

	var conflict *paramtree.NameConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "hdf_frames", conflict.Name)

	assert.Equal(t, []string{"fp"}, report.Failed())
	assert.Equal(t, StateFailed, c.State())
	assert.Empty(t, c.Root().Children())
}

func TestDiscoverNameConflictStillReportsOtherAdapters(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", `{
		"config": {"hdf": {"frames": {"value": 1, "type": "int", "writeable": true}}},
		"status": {"hdf": {"frames": {"value": 1, "type": "int", "writeable": false}}}
	}`)
	srv.AddAdapter(t, "fr", frTree)
	c := newComposer(t, srv, nil)

	report, err := c.Discover(context.Background())
	require.Error(t, err)

	results := make(map[string]AdapterResult)
	for _, result := range report.Adapters {
		results[result.Adapter] = result
	}
	require.Len(t, results, 2)

	fr := results["fr"]
	assert.NoError(t, fr.Err())
	assert.Empty(t, fr.Error)
	assert.Equal(t, 1, fr.Nodes)
	assert.Equal(t, 2, fr.Attributes)

	fp := results["fp"]
	assert.True(t, IsNamingConflict(fp.Err()))
	assert.Contains(t, fp.Error, "hdf_frames")
}

func TestDiscoverRequiresConnection(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)

	c, err := NewComposer(srv.Connection(), Options{
		Composition: types.Composition{APIPrefix: srv.APIPrefix},
		Attempts:    3,
	}, zap.NewNop())
	require.NoError(t, err)

	_, err = c.Discover(context.Background())
	require.Error(t, err)
	assert.Zero(t, srv.Gets("adapters"))

	require.NoError(t, c.Connect())
	_, err = c.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
}

func TestConnectDoesNotRediscover(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fr", frTree)
	c := newComposer(t, srv, nil)

	_, err := c.Discover(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Connect())

	assert.Equal(t, 1, srv.Gets("adapters"))
	assert.Equal(t, StateReady, c.State())
}

func TestDiscoverBindsParamTreeAndClientParams(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", `{"status": {"connected": {"value": true, "type": "bool", "writeable": false}}}`)
	srv.SetRaw(t, "fp/config/param_tree", `{"value": {
		"hdf/file/path": {"value": "/tmp", "type": "str", "writeable": true},
		"hdf/frames": {"value": 3, "type": "int", "writeable": false},
		"broken": 7
	}}`)
	srv.SetRaw(t, "fp/config/client_params", `{"value": {
		"0": {"hdf": {"frames": 5, "dataset": ["data"]}},
		"1": {"hdf": {"frames": 6, "dataset": ["data"]}}
	}}`)
	c := newComposer(t, srv, map[string]types.AdapterConfig{
		"fp": {ProcessPrefix: "FP", HasParamTree: true, HasProcessParams: true},
	})

	_, err := c.Discover(context.Background())
	require.NoError(t, err)

	fp, ok := c.Root().Find("fp")
	require.True(t, ok)

	path, ok := fp.Attributes().Get("FP_path")
	require.True(t, ok)
	assert.Equal(t, "api/0.1/fp/hdf/file/path", path.Info().RemotePath)
	assert.True(t, path.Writable())
	_, ok = fp.Attributes().Get("FP_frames")
	assert.True(t, ok)
	_, ok = fp.Attributes().Get("FP_broken")
	assert.False(t, ok)

	for _, want := range []struct{ id, name string }{{"fp.0", "FP1_frames"}, {"fp.1", "FP2_frames"}} {
		node, ok := c.Root().Find(want.id)
		require.True(t, ok, want.id)
		attr, ok := node.Attributes().Get(want.name)
		require.True(t, ok, want.name)
		assert.False(t, attr.Writable())
		assert.Equal(t, 1, node.Attributes().Len())
	}

	var caches int
	for _, task := range c.Root().Tasks() {
		if _, ok := task.(*attributes.ParamCache); ok {
			caches++
		}
	}
	assert.Equal(t, 1, caches)
}

func TestManifestYAML(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)
	c := newComposer(t, srv, map[string]types.AdapterConfig{"fp": {ProcessPrefix: "FP"}})

	report, err := c.Discover(context.Background())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, BuildManifest(c.Root(), report).WriteYAML(&buf))

	var decoded struct {
		Report struct {
			ID string `yaml:"id"`
		} `yaml:"report"`
		Nodes []struct {
			ID         string `yaml:"id"`
			Label      string `yaml:"label"`
			Parent     string `yaml:"parent"`
			Attributes []struct {
				Name string `yaml:"name"`
			} `yaml:"attributes"`
		} `yaml:"nodes"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))

	assert.Equal(t, report.ID.String(), decoded.Report.ID)
	require.Len(t, decoded.Nodes, 3)
	assert.Equal(t, "fp", decoded.Nodes[0].ID)
	assert.Equal(t, "FP2", decoded.Nodes[2].Label)
	assert.Equal(t, "fp", decoded.Nodes[2].Parent)
	assert.Equal(t, "temp", decoded.Nodes[0].Attributes[0].Name)
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StateDiscovering, true},
		{StateUninitialized, StateReady, false},
		{StateDiscovering, StateReady, true},
		{StateDiscovering, StateFailed, true},
		{StateDiscovering, StateDiscovering, false},
		{StateReady, StateDiscovering, true},
		{StateFailed, StateDiscovering, true},
		{StateFailed, StateReady, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if tt.ok {
			assert.NoError(t, err, "%s -> %s", tt.from, tt.to)
		} else {
			assert.Error(t, err, "%s -> %s", tt.from, tt.to)
		}
	}
}
