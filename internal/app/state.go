// Package app 把服务器列表、控制端客户端和检查逻辑组装成一个显式构造的应用状态。
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"clashdash/internal/clashapi"
	"clashdash/internal/normalize"
	"clashdash/internal/servers"
	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
)

var (
	ErrServerNotFound = errors.New("server not found")
	ErrNoCurrent      = errors.New("no server selected")
)

// EventType 标识推送给订阅者的变化类型
type EventType string

const (
	EventStatusUpdate   EventType = "status_update"
	EventServersChanged EventType = "servers_changed"
	EventCurrentChanged EventType = "current_changed"
)

// Event is delivered to subscribers after the store has been updated.
type Event struct {
	Type    EventType            `json:"type"`
	Servers []types.ServerConfig `json:"servers,omitempty"`
}

// Options 控制检查行为
type Options struct {
	Concurrency int // [poll] concurrency
}

// State 持有 Store 与 Client。所有方法并发安全。
//
// 两次 CheckAll 重叠时不会互相取消; 后完成的一次覆盖先完成的结果。
type State struct {
	store   *servers.Store
	client  *clashapi.Client
	checker *Checker

	mu          sync.Mutex
	subscribers map[int]func(Event)
	nextSubID   int
}

// New builds the application state. client may be any configured *clashapi.Client.
func New(store *servers.Store, client *clashapi.Client, opts Options) *State {
	return &State{
		store:       store,
		client:      client,
		checker:     NewChecker(client, opts.Concurrency),
		subscribers: make(map[int]func(Event)),
	}
}

func (s *State) Store() *servers.Store         { return s.store }
func (s *State) Client() *clashapi.Client      { return s.client }
func (s *State) AddObserver(o Observer)        { s.checker.AddObserver(o) }
func (s *State) Servers() []types.ServerConfig { return s.store.List() }

// Subscribe registers fn for state events and returns a function that removes it.
// fn is called synchronously and must not block.
func (s *State) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

func (s *State) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// CheckServer 检查单个服务器并把结果写回列表。
func (s *State) CheckServer(ctx context.Context, id string) (types.ServerConfig, error) {
	srv, ok := s.store.Get(id)
	if !ok {
		return types.ServerConfig{}, fmt.Errorf("check %q: %w", id, ErrServerNotFound)
	}
	res := s.checker.CheckOne(ctx, srv)
	s.store.ApplyResults(map[string]types.CheckResult{id: res})

	updated, found := s.store.Get(id)
	if !found {
		updated = srv
		res.Apply(&updated)
	}
	s.publish(Event{Type: EventStatusUpdate, Servers: []types.ServerConfig{updated}})
	return updated, nil
}

// CheckAll 对当前列表做一次快照, 逐个 (或按并发上限) 检查, 最后一次性写回。
// 快照之后新增的服务器不在本轮检查范围内; 被删除的服务器结果会被丢弃。
func (s *State) CheckAll(ctx context.Context) []types.ServerConfig {
	snapshot := s.store.List()
	if len(snapshot) == 0 {
		return snapshot
	}

	logger.Debug().Int("count", len(snapshot)).Msg("[State] Checking all servers...")
	results := s.checker.Check(ctx, snapshot)
	s.store.ApplyResults(results)

	list := s.store.List()
	s.publish(Event{Type: EventStatusUpdate, Servers: list})

	ok := 0
	for _, r := range results {
		if r.Status == types.StatusOK {
			ok++
		}
	}
	logger.Info().Int("checked", len(results)).Int("ok", ok).Msg("[State] Check-all finished.")
	return list
}

// AddServer 保存 cfg 并立即检查它。ValidationError 只是提示: 记录已保存, 检查照常进行。
func (s *State) AddServer(ctx context.Context, cfg types.ServerConfig) (types.ServerConfig, error) {
	added, verr := s.store.Add(cfg)
	s.publish(Event{Type: EventServersChanged, Servers: s.store.List()})

	checked, err := s.CheckServer(ctx, added.ID)
	if err != nil {
		// deleted concurrently
		return added, verr
	}
	return checked, verr
}

// connectionChanged 报告会影响检查结果的字段是否变化。
func connectionChanged(old, cfg types.ServerConfig) bool {
	return old.Host != cfg.Host || old.Port != cfg.Port || old.Secret != cfg.Secret ||
		old.UseSSL != cfg.UseSSL || old.InsecureSkipVerify != cfg.InsecureSkipVerify
}

// UpdateServer replaces a record. Connection fields reset the cached status.
func (s *State) UpdateServer(cfg types.ServerConfig) (types.ServerConfig, error) {
	old, ok := s.store.Get(cfg.ID)
	if !ok {
		return types.ServerConfig{}, fmt.Errorf("update %q: %w", cfg.ID, ErrServerNotFound)
	}
	if connectionChanged(old, cfg) {
		cfg.Status = types.StatusUnknown
		cfg.Version = ""
		cfg.ServerType = ""
		cfg.ErrorMessage = ""
	} else {
		cfg.Status, cfg.Version, cfg.ServerType, cfg.ErrorMessage = old.Status, old.Version, old.ServerType, old.ErrorMessage
	}
	cfg.IsQuickLaunch = old.IsQuickLaunch

	s.store.Update(cfg)
	s.publish(Event{Type: EventServersChanged, Servers: s.store.List()})
	return cfg, servers.Validate(cfg)
}

// DeleteServer removes a record.
func (s *State) DeleteServer(id string) error {
	if _, ok := s.store.Get(id); !ok {
		return fmt.Errorf("delete %q: %w", id, ErrServerNotFound)
	}
	s.store.Delete(id)
	s.publish(Event{Type: EventServersChanged, Servers: s.store.List()})
	return nil
}

// ToggleQuickLaunch flips the quick-launch flag of id, clearing it everywhere else.
func (s *State) ToggleQuickLaunch(id string) (types.ServerConfig, error) {
	if _, ok := s.store.Get(id); !ok {
		return types.ServerConfig{}, fmt.Errorf("quick launch %q: %w", id, ErrServerNotFound)
	}
	s.store.SetQuickLaunch(id)
	s.publish(Event{Type: EventServersChanged, Servers: s.store.List()})
	srv, _ := s.store.Get(id)
	return srv, nil
}

// Select 设置当前服务器
func (s *State) Select(id string) (types.ServerConfig, error) {
	srv, ok := s.store.Get(id)
	if !ok {
		return types.ServerConfig{}, fmt.Errorf("select %q: %w", id, ErrServerNotFound)
	}
	s.store.Select(srv)
	s.publish(Event{Type: EventCurrentChanged, Servers: []types.ServerConfig{srv}})
	return srv, nil
}

// Launch 返回启动时应自动打开的服务器: 快速启动服务器优先, 其次是上次选中的。
func (s *State) Launch() (types.ServerConfig, bool) {
	if srv, ok := s.store.QuickLaunch(); ok {
		return srv, true
	}
	return s.Current()
}

// Current returns the selected server, refreshed from the list when it is still there.
func (s *State) Current() (types.ServerConfig, bool) {
	cur, ok := s.store.Current()
	if !ok {
		return types.ServerConfig{}, false
	}
	if fresh, found := s.store.Get(cur.ID); found {
		return fresh, true
	}
	return cur, true
}

func withCurrent[T any](ctx context.Context, s *State, fn func(context.Context, types.ServerConfig) (T, error)) (T, error) {
	cur, ok := s.Current()
	if !ok {
		var zero T
		return zero, ErrNoCurrent
	}
	return fn(ctx, cur)
}

func (s *State) CurrentRules(ctx context.Context) ([]normalize.RuleEntry, error) {
	return withCurrent(ctx, s, s.client.Rules)
}

func (s *State) CurrentProxies(ctx context.Context) ([]normalize.ProxyNode, error) {
	return withCurrent(ctx, s, s.client.Proxies)
}

func (s *State) CurrentGroups(ctx context.Context) ([]normalize.ProxyNode, error) {
	return withCurrent(ctx, s, s.client.ProxyGroups)
}

func (s *State) CurrentRuleProviders(ctx context.Context) ([]normalize.RuleProvider, error) {
	return withCurrent(ctx, s, s.client.RuleProviders)
}

func (s *State) CurrentProxyProviders(ctx context.Context) ([]normalize.ProxyProvider, error) {
	return withCurrent(ctx, s, s.client.ProxyProviders)
}

func (s *State) CurrentConfigs(ctx context.Context) (clashapi.RuntimeConfig, error) {
	return withCurrent(ctx, s, s.client.Configs)
}

// Reload re-reads the store from its KV, e.g. after the file was edited externally.
func (s *State) Reload() {
	s.store.Reload()
	s.publish(Event{Type: EventServersChanged, Servers: s.store.List()})
}
