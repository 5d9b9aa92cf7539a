package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"clashdash/internal/app"
	"clashdash/internal/clashapi"
	"clashdash/internal/metrics"
	"clashdash/internal/servers"
	"clashdash/internal/shared/types"
	"clashdash/internal/storage"
)

const (
	testUser = "admin"
	testPass = "pw"
)

type testEnv struct {
	api     *httptest.Server
	hub     *Hub
	core    types.ServerConfig // a reachable fake control server
	refresh []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{}

	core := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.URL.Path == "/version":
			io.WriteString(w, `{"version":"1.0","premium":true}`)
		case r.URL.Path == "/rules":
			io.WriteString(w, `{"rules":[{"type":"DOMAIN-SUFFIX","payload":"lan","proxy":"DIRECT"}]}`)
		case r.URL.Path == "/proxies":
			io.WriteString(w, `{"proxies":{"Proxy":{"name":"Proxy","type":"Selector","all":["a"],"now":"a"},"a":{"name":"a","type":"Direct"}}}`)
		case strings.HasPrefix(r.URL.Path, "/providers/rules/") && r.Method == http.MethodPut:
			env.refresh = append(env.refresh, r.URL.Path)
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(core.Close)
	u, _ := url.Parse(core.URL)
	host, port, _ := net.SplitHostPort(u.Host)
	env.core = types.ServerConfig{Name: "core", Host: host, Port: port, Secret: "secret"}

	client, err := clashapi.New(clashapi.Options{RequestTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	state := app.New(servers.NewStore(storage.NewMemoryKV()), client, app.Options{})
	collector := metrics.NewCollector(nil)
	state.AddObserver(collector)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.hub = NewHub()
	go env.hub.Run(ctx)
	state.Subscribe(env.hub.BroadcastEvent)

	cfg := types.WebConf{User: testUser, Password: testPass}
	env.api = httptest.NewServer(NewMux(cfg, NewHandler(state, nil), env.hub, collector))
	t.Cleanup(env.api.Close)
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, auth bool) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, env.api.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	if auth {
		req.SetBasicAuth(testUser, testPass)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (env *testEnv) addCore(t *testing.T) types.ServerConfig {
	t.Helper()
	resp, body := env.do(t, http.MethodPost, "/api/servers", env.core, true)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/servers = %d %s", resp.StatusCode, body)
	}
	var out ServerResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	return out.Server
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)
	if resp, _ := env.do(t, http.MethodGet, "/api/servers", nil, false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("GET /api/servers without auth = %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/servers", nil, true); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/servers with auth = %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodGet, "/api/status", nil, false); resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/status = %d, want public", resp.StatusCode)
	}
}

func TestServersCRUD(t *testing.T) {
	env := newTestEnv(t)

	added := env.addCore(t)
	if added.Status != types.StatusOK || added.ServerType != types.ServerTypePremium {
		t.Errorf("added server was not checked: %+v", added)
	}

	resp, body := env.do(t, http.MethodPost, "/api/servers", types.ServerConfig{Name: "half", Host: "127.0.0.1"}, true)
	var partial ServerResponse
	json.Unmarshal(body, &partial)
	if resp.StatusCode != http.StatusCreated || partial.Warning == "" {
		t.Errorf("incomplete add = %d %s", resp.StatusCode, body)
	}

	renamed := added
	renamed.Name = "renamed"
	resp, body = env.do(t, http.MethodPut, "/api/servers?id="+added.ID, renamed, true)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"renamed"`) {
		t.Errorf("PUT = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/servers?id="+partial.Server.ID, nil, true)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("DELETE = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/servers?id="+partial.Server.ID, nil, true)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second DELETE = %d, want 404", resp.StatusCode)
	}

	_, body = env.do(t, http.MethodGet, "/api/servers", nil, true)
	var list []types.ServerConfig
	json.Unmarshal(body, &list)
	if len(list) != 1 || list[0].Name != "renamed" {
		t.Errorf("GET /api/servers = %s", body)
	}
}

func TestCurrentEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/current/rules", nil, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("rules without selection = %d, want 409", resp.StatusCode)
	}

	added := env.addCore(t)
	if resp, body := env.do(t, http.MethodPost, "/api/servers/"+added.ID+"/select", nil, true); resp.StatusCode != http.StatusOK {
		t.Fatalf("select = %d %s", resp.StatusCode, body)
	}

	resp, body := env.do(t, http.MethodGet, "/api/current/rules", nil, true)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "DOMAIN-SUFFIX") {
		t.Errorf("rules = %d %s", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodGet, "/api/current/groups", nil, true)
	var groups []map[string]interface{}
	json.Unmarshal(body, &groups)
	if resp.StatusCode != http.StatusOK || len(groups) != 1 {
		t.Errorf("groups = %d %s", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodGet, "/api/current/providers/proxies", nil, true)
	if resp.StatusCode != http.StatusBadGateway || !strings.Contains(string(body), "API path does not exist") {
		t.Errorf("providers/proxies = %d %s", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/current/providers/rules/geosite", nil, true)
	if resp.StatusCode != http.StatusNoContent || len(env.refresh) != 1 {
		t.Errorf("refresh = %d, core saw %v", resp.StatusCode, env.refresh)
	}

	resp, body = env.do(t, http.MethodGet, "/api/status", nil, false)
	var status StatusResponse
	json.Unmarshal(body, &status)
	if status.Current != added.ID || status.ByStatus[types.StatusOK] != 1 {
		t.Errorf("status = %s", body)
	}
}

func TestQuickLaunchAction(t *testing.T) {
	env := newTestEnv(t)
	added := env.addCore(t)

	_, body := env.do(t, http.MethodPost, "/api/servers/"+added.ID+"/quicklaunch", nil, true)
	var srv types.ServerConfig
	json.Unmarshal(body, &srv)
	if !srv.IsQuickLaunch {
		t.Errorf("quicklaunch = %s", body)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/servers/nope/check", nil, true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("check unknown = %d", resp.StatusCode)
	}
	if resp, _ := env.do(t, http.MethodPost, "/api/servers/"+added.ID+"/explode", nil, true); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown action = %d", resp.StatusCode)
	}
}

func TestCheckAllBroadcastsAndCounts(t *testing.T) {
	env := newTestEnv(t)
	env.addCore(t)

	wsURL := "ws" + strings.TrimPrefix(env.api.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial /ws: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for env.hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	resp, body := env.do(t, http.MethodPost, "/api/check", nil, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/check = %d %s", resp.StatusCode, body)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read ws: %v", err)
	}
	if msg.Type != string(app.EventStatusUpdate) {
		t.Errorf("ws message type = %q", msg.Type)
	}

	_, body = env.do(t, http.MethodGet, "/metrics", nil, false)
	if !strings.Contains(string(body), `clashdash_checks_total{status="ok"} 2`) {
		t.Errorf("/metrics missing check count:\n%s", body)
	}
}
