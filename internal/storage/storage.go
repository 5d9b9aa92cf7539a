// Package storage provides the durable key-value stores the server list is persisted to.
package storage

import (
	"errors"
	"fmt"
	"sync"

	"clashdash/internal/shared/types"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// KV 接口定义了本地键值持久化的行为。值是不透明的字节 (调用方使用 JSON)。
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Close() error
}

// Open 根据 [store] 配置创建对应的后端。
func Open(cfg types.StoreConf) (KV, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileKV(cfg.Path)
	case "sqlite":
		return NewSQLiteKV(cfg.Path)
	case "memory":
		return NewMemoryKV(), nil
	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

// MemoryKV 是一个进程内的 KV，用于测试以及移动端的纯内存模式。
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

func (m *MemoryKV) Close() error { return nil }
