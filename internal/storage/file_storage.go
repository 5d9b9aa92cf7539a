package storage

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"clashdash/internal/shared/logger"
)

// FileKV 实现了 KV 接口，所有键保存在同一个 JSON 对象文件中 (key -> 原始 JSON)。
// 写入时先写临时文件再 rename，避免进程中途退出留下半个文件。
type FileKV struct {
	filePath string
	mu       sync.RWMutex
	lastSum  [sha256.Size]byte // 本进程最近一次写入的内容摘要
}

// NewFileKV 创建一个新的 FileKV 实例。文件不存在不是错误，首次 Set 时创建。
func NewFileKV(filePath string) (*FileKV, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file store path cannot be empty")
	}
	if dir := filepath.Dir(filePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &FileKV{filePath: filePath}, nil
}

// Path returns the backing file, used by the watcher.
func (fs *FileKV) Path() string { return fs.filePath }

func (fs *FileKV) Get(key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	all, err := fs.readAll()
	if err != nil {
		return nil, err
	}
	v, ok := all[key]
	if !ok {
		return nil, ErrNotFound
	}
	return []byte(v), nil
}

func (fs *FileKV) Set(key string, value []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	l := logger.WithComponent("Storage/File")

	all, err := fs.readAll()
	if err != nil {
		// 文件已损坏: 丢弃旧内容, 以本次写入为准
		l.Warn().Err(err).Str("path", fs.filePath).Msg("Store file unreadable, rewriting from scratch.")
		all = make(map[string]json.RawMessage)
	}
	if !json.Valid(value) {
		return fmt.Errorf("value for key %s is not valid JSON", key)
	}
	all[key] = json.RawMessage(value)

	// 值保持紧凑, Get 原样返回 Set 的字节
	data, err := json.Marshal(all)
	if err != nil {
		return err
	}

	tmp := fs.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, fs.filePath); err != nil {
		return err
	}
	fs.lastSum = sha256.Sum256(data)
	l.Debug().Str("key", key).Int("bytes", len(value)).Msg("Persisted key to file store.")
	return nil
}

func (fs *FileKV) Close() error { return nil }

// ModifiedExternally reports whether the file differs from what this FileKV
// last wrote. A true result is remembered, so each external edit is reported once.
func (fs *FileKV) ModifiedExternally() (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	sum := sha256.Sum256(data)
	if sum == fs.lastSum {
		return false, nil
	}
	fs.lastSum = sum
	return true, nil
}

func (fs *FileKV) readAll() (map[string]json.RawMessage, error) {
	all := make(map[string]json.RawMessage)
	data, err := os.ReadFile(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return all, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fs.filePath, err)
	}
	return all, nil
}
