package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"clashdash/internal/app"
	"clashdash/internal/clashapi"
	"clashdash/internal/normalize"
	"clashdash/internal/servers"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
)

// Controller is what the web handler needs from the application state.
// *app.State implements it.
type Controller interface {
	Servers() []types.ServerConfig
	AddServer(ctx context.Context, cfg types.ServerConfig) (types.ServerConfig, error)
	UpdateServer(cfg types.ServerConfig) (types.ServerConfig, error)
	DeleteServer(id string) error
	CheckServer(ctx context.Context, id string) (types.ServerConfig, error)
	CheckAll(ctx context.Context) []types.ServerConfig
	Select(id string) (types.ServerConfig, error)
	ToggleQuickLaunch(id string) (types.ServerConfig, error)
	Current() (types.ServerConfig, bool)
	Launch() (types.ServerConfig, bool)

	CurrentRules(ctx context.Context) ([]normalize.RuleEntry, error)
	CurrentProxies(ctx context.Context) ([]normalize.ProxyNode, error)
	CurrentGroups(ctx context.Context) ([]normalize.ProxyNode, error)
	CurrentRuleProviders(ctx context.Context) ([]normalize.RuleProvider, error)
	CurrentProxyProviders(ctx context.Context) ([]normalize.ProxyProvider, error)
	CurrentConfigs(ctx context.Context) (clashapi.RuntimeConfig, error)
	Client() *clashapi.Client
}

var _ Controller = (*app.State)(nil)

type Handler struct {
	controller Controller
	nextPoll   func() *time.Time
}

func NewHandler(controller Controller, nextPoll func() *time.Time) *Handler {
	return &Handler{controller: controller, nextPoll: nextPoll}
}

// ServerResponse 是新增/更新服务器的返回体。Warning 非空表示配置不完整, 但已保存。
type ServerResponse struct {
	Server  types.ServerConfig `json:"server"`
	Warning string             `json:"warning,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn().Err(err).Msg("[Handler] Failed to write JSON response.")
	}
}

// writeError maps domain errors to HTTP statuses. Errors from the control
// server itself are reported as 502 with the user-facing message.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, app.ErrServerNotFound):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrNoCurrent):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: clashapi.ErrorMessage(err)})
}

func warningOf(err error) string {
	var verr *servers.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return ""
}

// HandleServers 处理 /api/servers 的增删改查。PUT 与 DELETE 通过 ?id= 指定服务器。
func (h *Handler) HandleServers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.controller.Servers())
	case http.MethodPost:
		h.addServer(w, r)
	case http.MethodPut:
		h.updateServer(w, r)
	case http.MethodDelete:
		h.deleteServer(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) addServer(w http.ResponseWriter, r *http.Request) {
	var cfg types.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	cfg.ID = ""

	added, err := h.controller.AddServer(r.Context(), cfg)
	warning := warningOf(err)
	if err != nil && warning == "" {
		writeError(w, err)
		return
	}
	logger.Info().Str("id", added.ID).Str("server", added.DisplayName()).Msg("[Handler] Server added via API.")
	writeJSON(w, http.StatusCreated, ServerResponse{Server: added, Warning: warning})
}

func (h *Handler) updateServer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing server ID", http.StatusBadRequest)
		return
	}
	var cfg types.ServerConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	cfg.ID = id

	updated, err := h.controller.UpdateServer(cfg)
	warning := warningOf(err)
	if err != nil && warning == "" {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ServerResponse{Server: updated, Warning: warning})
}

func (h *Handler) deleteServer(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing server ID", http.StatusBadRequest)
		return
	}
	if err := h.controller.DeleteServer(id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleServerActions handles /api/servers/{id}/{check|select|quicklaunch}.
func (h *Handler) HandleServerActions(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/servers/"), "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := parts[0]
	var (
		srv types.ServerConfig
		err error
	)
	switch parts[1] {
	case "check":
		srv, err = h.controller.CheckServer(r.Context(), id)
	case "select":
		srv, err = h.controller.Select(id)
	case "quicklaunch":
		srv, err = h.controller.ToggleQuickLaunch(id)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

// HandleCheckAll 处理 POST /api/check: 检查所有服务器并返回最新列表
func (h *Handler) HandleCheckAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.controller.CheckAll(r.Context()))
}

// HandleCurrent 处理 GET /api/current 以及 /api/current/{resource}
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	resource := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/current"), "/")

	if strings.HasPrefix(resource, "providers/") && strings.Count(resource, "/") == 2 {
		h.refreshProvider(w, r, resource)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	var (
		v   interface{}
		err error
	)
	switch resource {
	case "":
		cur, ok := h.controller.Current()
		if !ok {
			writeError(w, app.ErrNoCurrent)
			return
		}
		v = cur
	case "rules":
		v, err = h.controller.CurrentRules(ctx)
	case "proxies":
		v, err = h.controller.CurrentProxies(ctx)
	case "groups":
		v, err = h.controller.CurrentGroups(ctx)
	case "providers/rules":
		v, err = h.controller.CurrentRuleProviders(ctx)
	case "providers/proxies":
		v, err = h.controller.CurrentProxyProviders(ctx)
	case "configs":
		v, err = h.controller.CurrentConfigs(ctx)
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// refreshProvider handles POST /api/current/providers/{rules|proxies}/{name}.
func (h *Handler) refreshProvider(w http.ResponseWriter, r *http.Request, resource string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := strings.SplitN(resource, "/", 3)
	cur, ok := h.controller.Current()
	if !ok {
		writeError(w, app.ErrNoCurrent)
		return
	}

	client := h.controller.Client()
	var err error
	switch parts[1] {
	case "rules":
		err = client.RefreshRuleProvider(r.Context(), cur, parts[2])
	case "proxies":
		err = client.RefreshProxyProvider(r.Context(), cur, parts[2])
	default:
		http.NotFound(w, r)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StatusResponse 是公开的 /api/status 返回体
type StatusResponse struct {
	Servers     int                        `json:"servers"`
	ByStatus    map[types.ServerStatus]int `json:"byStatus"`
	Current     string                     `json:"current,omitempty"`
	QuickLaunch string                     `json:"quickLaunch,omitempty"`
	NextPoll    *time.Time                 `json:"nextPoll,omitempty"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	list := h.controller.Servers()
	resp := StatusResponse{
		Servers:  len(list),
		ByStatus: make(map[types.ServerStatus]int),
	}
	for _, srv := range list {
		resp.ByStatus[srv.Status]++
		if srv.IsQuickLaunch {
			resp.QuickLaunch = srv.ID
		}
	}
	if cur, ok := h.controller.Current(); ok {
		resp.Current = cur.ID
	}
	if h.nextPoll != nil {
		resp.NextPoll = h.nextPoll()
	}
	writeJSON(w, http.StatusOK, resp)
}
