package main

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/KevinKickass/OdinBridge/internal/odin/odintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fpTree = `{
	"0": {"status": {"hdf": {"frames_written": {"value": 0, "type": "int", "writeable": false}}}}
}`

func writeConfig(t *testing.T, srv *odintest.Server) string {
	t.Helper()
	host, port, err := net.SplitHostPort(strings.TrimPrefix(srv.URL, "http://"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "odin:\n  host: " + host + "\n  port: " + port + "\n  discovery_attempts: 1\n" +
		"log:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDiscoverPrintsYAMLManifest(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)

	out, err := execute(t, "discover", "--config", writeConfig(t, srv))
	require.NoError(t, err)

	var manifest controller.Manifest
	require.NoError(t, yaml.Unmarshal([]byte(out), &manifest))
	require.Len(t, manifest.Nodes, 2)
	assert.Equal(t, "fp.0", manifest.Nodes[1].ID)
	assert.Equal(t, "FP1", manifest.Nodes[1].Label)
}

func TestDiscoverPrintsJSONManifest(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)

	out, err := execute(t, "discover", "-o", "json", "--config", writeConfig(t, srv))
	require.NoError(t, err)

	var manifest controller.Manifest
	require.NoError(t, json.Unmarshal([]byte(out), &manifest))
	assert.Len(t, manifest.Nodes, 2)
}

func TestDiscoverFailsWhenAdapterListIsUnreachable(t *testing.T) {
	srv := odintest.NewServer(t)
	srv.Fail("adapters", true)

	_, err := execute(t, "discover", "--config", writeConfig(t, srv))
	assert.Error(t, err)
}

func TestDiscoverRejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "discover", "-o", "xml")
	assert.ErrorContains(t, err, "unsupported output format")
}

func TestMachineToken(t *testing.T) {
	out, err := execute(t, "token", "machine")
	require.NoError(t, err)
	assert.Contains(t, out, "token: obr_")
	assert.Contains(t, out, "hash:")
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, version)
}
