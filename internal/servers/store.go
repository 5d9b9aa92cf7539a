// Package servers 维护用户配置的控制端列表以及“当前选中”的服务器，并同步持久化到 KV。
package servers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"clashdash/internal/shared/logger"
	"clashdash/internal/shared/types"
	"clashdash/internal/storage"
)

const (
	ServersKey       = "SavedClashServers"
	CurrentServerKey = "CurrentSelectedServer"
)

// ValidationError 表示配置不完整。它只是提示: 记录依然会被保存。
type ValidationError struct {
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("incomplete server config: missing %s", strings.Join(e.Missing, ", "))
}

// Validate returns a *ValidationError listing empty required fields, or nil.
func Validate(c types.ServerConfig) error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "host")
	}
	if c.Port == "" {
		missing = append(missing, "port")
	}
	if c.Secret == "" {
		missing = append(missing, "secret")
	}
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Missing: missing}
}

// Store 是服务器列表的唯一持有者。每次修改都会把完整列表同步写入 KV。
// 持久化失败只记录日志，不会返回给调用方。
type Store struct {
	kv storage.KV

	mu         sync.RWMutex
	servers    []types.ServerConfig
	current    types.ServerConfig
	hasCurrent bool
}

// NewStore 创建 Store 并从 KV 加载列表和当前服务器。解码失败时使用空列表。
func NewStore(kv storage.KV) *Store {
	s := &Store{kv: kv}
	s.servers = s.loadServers()
	s.current, s.hasCurrent = s.loadCurrent()
	return s
}

// List returns a copy of the servers in insertion order.
func (s *Store) List() []types.ServerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ServerConfig, len(s.servers))
	copy(out, s.servers)
	return out
}

// Get looks a server up by id.
func (s *Store) Get(id string) (types.ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(id); i >= 0 {
		return s.servers[i], true
	}
	return types.ServerConfig{}, false
}

// Add appends cfg. An empty ID is replaced with a fresh UUID and the stored
// record is returned. The returned error is a *ValidationError when host, port
// or secret is missing; the record is saved regardless.
func (s *Store) Add(cfg types.ServerConfig) (types.ServerConfig, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Status == "" {
		cfg.Status = types.StatusUnknown
	}

	s.mu.Lock()
	s.servers = append(s.servers, cfg)
	s.persistLocked()
	s.mu.Unlock()

	logger.Info().Str("server", cfg.DisplayName()).Str("id", cfg.ID).Msg("Added server.")
	return cfg, Validate(cfg)
}

// Update replaces the record with the same ID. Unknown IDs are ignored.
func (s *Store) Update(cfg types.ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(cfg.ID)
	if i < 0 {
		logger.Debug().Str("id", cfg.ID).Msg("Update ignored, server not found.")
		return
	}
	s.servers[i] = cfg
	s.persistLocked()
}

// Delete removes the record with the given ID, if present.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	s.servers = append(s.servers[:i], s.servers[i+1:]...)
	s.persistLocked()
}

// SetQuickLaunch 设置快速启动标记: 至多一个服务器持有该标记。
// 对已持有标记的服务器再次调用会清除它。未知 ID 不做任何修改。
func (s *Store) SetQuickLaunch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return
	}
	enable := !s.servers[i].IsQuickLaunch
	for j := range s.servers {
		s.servers[j].IsQuickLaunch = false
	}
	s.servers[i].IsQuickLaunch = enable
	s.persistLocked()
}

// QuickLaunch returns the server carrying the quick-launch flag.
func (s *Store) QuickLaunch() (types.ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, srv := range s.servers {
		if srv.IsQuickLaunch {
			return srv, true
		}
	}
	return types.ServerConfig{}, false
}

// Select records cfg as the current server, whether or not it is in the list.
func (s *Store) Select(cfg types.ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cfg
	s.hasCurrent = true
	s.persistCurrentLocked()
}

// Current returns the selected server.
func (s *Store) Current() (types.ServerConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, s.hasCurrent
}

// ApplyResults 在一次加锁中把一批检查结果写回列表并持久化一次。
// 检查期间被删除的服务器会被跳过。
func (s *Store) ApplyResults(results map[string]types.CheckResult) {
	if len(results) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for i := range s.servers {
		if r, ok := results[s.servers[i].ID]; ok {
			r.Apply(&s.servers[i])
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
	if r, ok := results[s.current.ID]; ok && s.hasCurrent {
		r.Apply(&s.current)
		s.persistCurrentLocked()
	}
}

// Reload 重新从 KV 读取列表 (例如文件被外部修改后)。
// 读取和替换在同一把锁内完成, 不会覆盖并发的写入。
func (s *Store) Reload() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers = s.loadServers()
	s.current, s.hasCurrent = s.loadCurrent()
	logger.Debug().Int("count", len(s.servers)).Msg("Server store reloaded.")
}

func (s *Store) indexOf(id string) int {
	for i := range s.servers {
		if s.servers[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) loadServers() []types.ServerConfig {
	l := logger.WithComponent("Servers/Store")
	servers, err := DecodeList(s.kv.Get(ServersKey))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			l.Warn().Err(err).Msg("Failed to load saved servers, starting with an empty list.")
		}
		return []types.ServerConfig{}
	}
	l.Debug().Int("count", len(servers)).Msg("Loaded saved servers.")
	return servers
}

func (s *Store) loadCurrent() (types.ServerConfig, bool) {
	data, err := s.kv.Get(CurrentServerKey)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Warn().Err(err).Msg("Failed to read current server.")
		}
		return types.ServerConfig{}, false
	}
	var cfg types.ServerConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		logger.Warn().Err(err).Msg("Failed to decode current server, ignoring it.")
		return types.ServerConfig{}, false
	}
	return cfg, true
}

func (s *Store) persistLocked() {
	data, err := EncodeList(s.servers)
	if err == nil {
		err = s.kv.Set(ServersKey, data)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to persist server list.")
	}
}

func (s *Store) persistCurrentLocked() {
	data, err := json.Marshal(s.current)
	if err == nil {
		err = s.kv.Set(CurrentServerKey, data)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to persist current server.")
	}
}

// EncodeList serializes a server list; a nil list encodes as [].
func EncodeList(servers []types.ServerConfig) ([]byte, error) {
	if servers == nil {
		servers = []types.ServerConfig{}
	}
	return json.Marshal(servers)
}

// DecodeList is the inverse of EncodeList. It accepts the (data, err) pair of a KV Get.
func DecodeList(data []byte, err error) ([]types.ServerConfig, error) {
	if err != nil {
		return nil, err
	}
	servers := []types.ServerConfig{}
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal server list: %w", err)
	}
	return servers, nil
}
