package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OdinBridge/internal/api/websocket"
	"github.com/KevinKickass/OdinBridge/internal/auth"
	"github.com/KevinKickass/OdinBridge/internal/config"
	"github.com/KevinKickass/OdinBridge/internal/controller"
	"github.com/KevinKickass/OdinBridge/internal/interfaces"
	"github.com/KevinKickass/OdinBridge/internal/odin/odintest"
	"github.com/KevinKickass/OdinBridge/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const fpTree = `{
	"0": {
		"status": {"hdf": {"frames_written": {"value": 3, "type": "int", "writeable": false}}},
		"config": {"hdf": {"file": {"path": {"value": "/tmp", "type": "str", "writeable": true}}}}
	}
}`

type fakeLifecycle struct {
	cfg      *config.Config
	composer *controller.Composer
}

func (f *fakeLifecycle) Config() *config.Config { return f.cfg }
func (f *fakeLifecycle) Composer() *controller.Composer { return f.composer }
func (f *fakeLifecycle) Shutdown(ctx context.Context) error { return nil }

func (f *fakeLifecycle) Rediscover(ctx context.Context) (*controller.DiscoveryReport, error) {
	return f.composer.Discover(ctx)
}

func (f *fakeLifecycle) GetCurrentStatus() interfaces.SystemStatus {
	return interfaces.SystemStatus{
		State:      "RUNNING",
		Discovery:  f.composer.State().String(),
		Attributes: f.composer.Root().AttributeCount(),
		Connected:  f.composer.Connected(),
		Timestamp:  time.Now().Unix(),
	}
}

type fixture struct {
	odin    *odintest.Server
	handler http.Handler
	auth    *auth.Service
}

func newFixture(t *testing.T, authOpts auth.Options) *fixture {
	t.Helper()
	srv := odintest.NewServer(t)
	srv.AddAdapter(t, "fp", fpTree)

	composer, err := controller.NewComposer(srv.OpenConnection(t), controller.Options{
		Composition: types.Composition{
			APIPrefix: srv.APIPrefix,
			Ignore:    types.DefaultIgnoredAdapters,
		},
	}, zap.NewNop())
	require.NoError(t, err)
	_, err = composer.Discover(context.Background())
	require.NoError(t, err)

	cfg, err := config.Load("")
	require.NoError(t, err)

	svc := auth.NewService(authOpts, zap.NewNop())
	hub := websocket.NewHub(zap.NewNop(), svc)
	lm := &fakeLifecycle{cfg: cfg, composer: composer}

	server := NewServer(cfg, lm, zap.NewNop(), hub, svc, prometheus.NewRegistry())
	return &fixture{odin: srv, handler: server.Handler(), auth: svc}
}

func (f *fixture) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode(t, w)["error"].(map[string]any)["code"].(string)
}

func TestHealthReportsDiscoveryState(t *testing.T) {
	f := newFixture(t, auth.Options{})
	w := f.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", decode(t, w)["discovery"])
}

func TestListNodes(t *testing.T) {
	f := newFixture(t, auth.Options{})
	w := f.do(t, http.MethodGet, "/api/v1/nodes", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, float64(2), body["count"])
	nodes := body["nodes"].([]any)
	assert.Equal(t, "fp", nodes[0].(map[string]any)["id"])
	child := nodes[1].(map[string]any)
	assert.Equal(t, "fp.0", child["id"])
	assert.Equal(t, "FP1", child["label"])
	assert.Equal(t, float64(2), child["attributes"])
}

func TestGetAttribute(t *testing.T) {
	f := newFixture(t, auth.Options{})
	w := f.do(t, http.MethodGet, "/api/v1/nodes/fp.0/attributes/frames_written", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	assert.Equal(t, "frames_written", body["name"])
	assert.Equal(t, "read_only", body["access"])
	assert.Equal(t, "api/0.1/fp/0/status/hdf/frames_written", body["remote_path"])
	assert.Equal(t, float64(3), body["value"])
}

func TestUnknownNodeAndAttribute(t *testing.T) {
	f := newFixture(t, auth.Options{})
	w := f.do(t, http.MethodGet, "/api/v1/nodes/fr/attributes", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NODE_404", errorCode(t, w))

	w = f.do(t, http.MethodGet, "/api/v1/nodes/fp.0/attributes/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ATTR_404", errorCode(t, w))
}

func TestPutAttribute(t *testing.T) {
	f := newFixture(t, auth.Options{})
	w := f.do(t, http.MethodPut, "/api/v1/nodes/fp.0/attributes/path", `{"value": "/data"}`, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/data", decode(t, w)["value"])
	assert.Equal(t, "/data", f.odin.Value("fp/0/config/hdf/file/path"))
}

func TestPutAttributeErrors(t *testing.T) {
	f := newFixture(t, auth.Options{})

	w := f.do(t, http.MethodPut, "/api/v1/nodes/fp.0/attributes/frames_written", `{"value": 1}`, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ATTR_409", errorCode(t, w))

	w = f.do(t, http.MethodPut, "/api/v1/nodes/fp.0/attributes/path", `{"value": 5}`, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "ATTR_400", errorCode(t, w))

	f.odin.Reject("fp/0/config/hdf/file/path", "disk full")
	w = f.do(t, http.MethodPut, "/api/v1/nodes/fp.0/attributes/path", `{"value": "/full"}`, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "ATTR_502", errorCode(t, w))
	assert.Equal(t, "/tmp", f.odin.Value("fp/0/config/hdf/file/path"))
}

func TestPutRequiresWritePermission(t *testing.T) {
	f := newFixture(t, auth.Options{Enabled: true, Secret: testSecret, AccessTokenTTL: time.Minute})
	const path = "/api/v1/nodes/fp.0/attributes/path"

	w := f.do(t, http.MethodPut, path, `{"value": "/x"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	viewer, err := f.auth.JWT().GenerateAccessToken("ui", "viewer")
	require.NoError(t, err)
	w = f.do(t, http.MethodPut, path, `{"value": "/x"}`, viewer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	operator, err := f.auth.JWT().GenerateAccessToken("ui", "operator")
	require.NoError(t, err)
	w = f.do(t, http.MethodPut, path, `{"value": "/x"}`, operator)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/discovery", "", operator)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRediscoverAndReport(t *testing.T) {
	f := newFixture(t, auth.Options{})

	w := f.do(t, http.MethodPost, "/api/v1/discovery", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	id := decode(t, w)["id"]

	w = f.do(t, http.MethodGet, "/api/v1/discovery", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, decode(t, w)["id"])

	f.odin.Fail("adapters", true)
	w = f.do(t, http.MethodPost, "/api/v1/discovery", "", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "DISCOVERY_502", errorCode(t, w))

	w = f.do(t, http.MethodGet, "/api/v1/nodes/fp.0", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestManifestFormats(t *testing.T) {
	f := newFixture(t, auth.Options{})

	w := f.do(t, http.MethodGet, "/api/v1/manifest", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/yaml", w.Header().Get("Content-Type"))
	var manifest controller.Manifest
	require.NoError(t, yaml.Unmarshal(w.Body.Bytes(), &manifest))
	require.Len(t, manifest.Nodes, 2)
	assert.Equal(t, "fp", manifest.Nodes[1].Parent)

	w = f.do(t, http.MethodGet, "/api/v1/manifest?format=json", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["nodes"], 2)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, auth.Options{})
	w := f.do(t, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}
