// Package mobile is the gomobile binding of the dashboard core.
// Every value crossing the boundary is a string, int, bool or error; structured
// data is passed as JSON.
package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"clashdash/internal/app"
	"clashdash/internal/clashapi"
	"clashdash/internal/poller"
	"clashdash/internal/servers"
	"clashdash/internal/shared/config"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
	"clashdash/internal/storage"
)

// StatusListener is implemented on the platform side to receive list updates.
type StatusListener interface {
	OnServersChanged(serversJSON string)
}

// Dashboard 是移动端持有的唯一句柄。由宿主显式创建和关闭, 没有全局单例。
type Dashboard struct {
	kv    storage.KV
	state *app.State

	mu       sync.Mutex
	poller   *poller.Poller
	cancel   context.CancelFunc
	listener StatusListener
	unsub    func()
}

// guard converts a panic into an error; panics must not cross the cgo boundary.
func guard(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("go core panic: %v\n\n%s", r, debug.Stack())
	}
}

// userError 把内部错误转换成可以直接展示给用户的文本
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(clashapi.ErrorMessage(err))
}

func toJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewDashboard opens the store under dataDir. iniContent is the content of a
// clashdash.ini file and may be empty; a relative [store] path is resolved
// against dataDir.
func NewDashboard(dataDir, iniContent string) (d *Dashboard, err error) {
	defer guard(&err)

	cfg, err := config.ParseIni(iniContent)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.LogConf); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	if cfg.StoreConf.Path != "" && !filepath.IsAbs(cfg.StoreConf.Path) {
		cfg.StoreConf.Path = filepath.Join(dataDir, cfg.StoreConf.Path)
	}

	kv, err := storage.Open(cfg.StoreConf)
	if err != nil {
		return nil, err
	}
	client, err := clashapi.New(clashapi.OptionsFromConfig(cfg.ClientConf))
	if err != nil {
		kv.Close()
		return nil, err
	}

	logger.Debug().Str("data_dir", dataDir).Str("backend", cfg.StoreConf.Backend).Msg("Mobile dashboard created.")
	return &Dashboard{
		kv:    kv,
		state: app.New(servers.NewStore(kv), client, app.Options{Concurrency: cfg.PollConf.Concurrency}),
	}, nil
}

// SetListener registers l for list changes; nil removes the current listener.
func (d *Dashboard) SetListener(l StatusListener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.unsub != nil {
		d.unsub()
		d.unsub = nil
	}
	d.listener = l
	if l == nil {
		return
	}
	d.unsub = d.state.Subscribe(func(app.Event) {
		if js, err := toJSON(d.state.Servers()); err == nil {
			l.OnServersChanged(js)
		}
	})
}

func (d *Dashboard) ServersJSON() (js string, err error) {
	defer guard(&err)
	return toJSON(d.state.Servers())
}

// AddServer saves the server described by serverJSON and checks it. The result
// is {"server": {...}, "warning": "..."}; a warning means the record is
// incomplete but was saved.
func (d *Dashboard) AddServer(serverJSON string) (js string, err error) {
	defer guard(&err)

	var cfg types.ServerConfig
	if err := json.Unmarshal([]byte(serverJSON), &cfg); err != nil {
		return "", fmt.Errorf("invalid server JSON: %w", err)
	}
	cfg.ID = ""

	added, err := d.state.AddServer(context.Background(), cfg)
	return addResult(added, err)
}

func (d *Dashboard) UpdateServer(serverJSON string) (js string, err error) {
	defer guard(&err)

	var cfg types.ServerConfig
	if err := json.Unmarshal([]byte(serverJSON), &cfg); err != nil {
		return "", fmt.Errorf("invalid server JSON: %w", err)
	}
	updated, err := d.state.UpdateServer(cfg)
	return addResult(updated, err)
}

func addResult(srv types.ServerConfig, err error) (string, error) {
	out := struct {
		Server  types.ServerConfig `json:"server"`
		Warning string             `json:"warning,omitempty"`
	}{Server: srv}

	var verr *servers.ValidationError
	switch {
	case errors.As(err, &verr):
		out.Warning = verr.Error()
	case err != nil:
		return "", userError(err)
	}
	return toJSON(out)
}

func (d *Dashboard) DeleteServer(id string) (err error) {
	defer guard(&err)
	return userError(d.state.DeleteServer(id))
}

// CheckServer checks one server and returns the updated record.
func (d *Dashboard) CheckServer(id string) (js string, err error) {
	defer guard(&err)
	srv, err := d.state.CheckServer(context.Background(), id)
	if err != nil {
		return "", userError(err)
	}
	return toJSON(srv)
}

// CheckAll checks every server and returns the updated list.
func (d *Dashboard) CheckAll() (js string, err error) {
	defer guard(&err)
	return toJSON(d.state.CheckAll(context.Background()))
}

func (d *Dashboard) SelectServer(id string) (js string, err error) {
	defer guard(&err)
	srv, err := d.state.Select(id)
	if err != nil {
		return "", userError(err)
	}
	return toJSON(srv)
}

func (d *Dashboard) ToggleQuickLaunch(id string) (js string, err error) {
	defer guard(&err)
	srv, err := d.state.ToggleQuickLaunch(id)
	if err != nil {
		return "", userError(err)
	}
	return toJSON(srv)
}

// LaunchServer returns the server to open at startup, or "" when there is none.
func (d *Dashboard) LaunchServer() (js string, err error) {
	defer guard(&err)
	srv, ok := d.state.Launch()
	if !ok {
		return "", nil
	}
	return toJSON(srv)
}

func currentJSON[T any](fn func(context.Context) (T, error)) (js string, err error) {
	defer guard(&err)
	v, err := fn(context.Background())
	if err != nil {
		return "", userError(err)
	}
	return toJSON(v)
}

func (d *Dashboard) RulesJSON() (string, error)   { return currentJSON(d.state.CurrentRules) }
func (d *Dashboard) ProxiesJSON() (string, error) { return currentJSON(d.state.CurrentProxies) }
func (d *Dashboard) GroupsJSON() (string, error)  { return currentJSON(d.state.CurrentGroups) }
func (d *Dashboard) ConfigsJSON() (string, error) { return currentJSON(d.state.CurrentConfigs) }

func (d *Dashboard) RuleProvidersJSON() (string, error) {
	return currentJSON(d.state.CurrentRuleProviders)
}

func (d *Dashboard) ProxyProvidersJSON() (string, error) {
	return currentJSON(d.state.CurrentProxyProviders)
}

func (d *Dashboard) withCurrent(fn func(context.Context, types.ServerConfig) error) (err error) {
	defer guard(&err)
	cur, ok := d.state.Current()
	if !ok {
		return userError(app.ErrNoCurrent)
	}
	return userError(fn(context.Background(), cur))
}

func (d *Dashboard) RefreshRuleProvider(name string) error {
	return d.withCurrent(func(ctx context.Context, srv types.ServerConfig) error {
		return d.state.Client().RefreshRuleProvider(ctx, srv, name)
	})
}

func (d *Dashboard) RefreshProxyProvider(name string) error {
	return d.withCurrent(func(ctx context.Context, srv types.ServerConfig) error {
		return d.state.Client().RefreshProxyProvider(ctx, srv, name)
	})
}

func (d *Dashboard) SelectProxy(group, name string) error {
	return d.withCurrent(func(ctx context.Context, srv types.ServerConfig) error {
		return d.state.Client().SelectProxy(ctx, srv, group, name)
	})
}

// PatchConfig sets one runtime setting; valueJSON is a JSON literal ("7890", "true", "\"rule\"").
func (d *Dashboard) PatchConfig(key, valueJSON string) error {
	var value interface{}
	if err := json.Unmarshal([]byte(valueJSON), &value); err != nil {
		return fmt.Errorf("invalid value JSON: %w", err)
	}
	if f, ok := value.(float64); ok {
		value = int(f)
	}
	return d.withCurrent(func(ctx context.Context, srv types.ServerConfig) error {
		return d.state.Client().PatchConfig(ctx, srv, key, value)
	})
}

// ProxyDelay tests one proxy of the current server. 0 means unreachable.
func (d *Dashboard) ProxyDelay(name string, timeoutMs int) (delay int, err error) {
	err = d.withCurrent(func(ctx context.Context, srv types.ServerConfig) error {
		var derr error
		delay, derr = d.state.Client().ProxyDelay(ctx, srv, name, "", timeoutMs)
		return derr
	})
	return delay, err
}

// StartPolling runs CheckAll on schedule ("@every 30s", cron syntax) until StopPolling.
func (d *Dashboard) StartPolling(schedule string) (err error) {
	defer guard(&err)
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.poller != nil {
		return errors.New("polling is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := poller.New(schedule, func(ctx context.Context) { d.state.CheckAll(ctx) })
	if err := p.Start(ctx); err != nil {
		cancel()
		return err
	}
	d.poller, d.cancel = p, cancel
	return nil
}

// NextPoll returns the next poll time as Unix milliseconds, or 0.
func (d *Dashboard) NextPoll() int64 {
	d.mu.Lock()
	p := d.poller
	d.mu.Unlock()
	if p == nil {
		return 0
	}
	if next := p.NextRun(); next != nil {
		return next.UnixNano() / int64(time.Millisecond)
	}
	return 0
}

func (d *Dashboard) StopPolling() {
	d.mu.Lock()
	p, cancel := d.poller, d.cancel
	d.poller, d.cancel = nil, nil
	d.mu.Unlock()

	if p != nil {
		p.Stop()
		cancel()
	}
}

// Close stops polling and releases the store.
func (d *Dashboard) Close() (err error) {
	defer guard(&err)
	d.StopPolling()
	d.SetListener(nil)
	return d.kv.Close()
}
