package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/sirupsen/logrus"
)

// Store 是进程级的缓存：内存 map 为准，每次写入后把整个 map 重写到快照文件。
// 快照文件由 Store 独占，其他组件不得写入。
type Store struct {
	fs     billy.Filesystem
	path   string
	logger logrus.FieldLogger

	mu      sync.RWMutex
	entries map[string]*CachedResponse

	// persistMu 串行化快照写入，保证后写入者拿到的快照不早于先写入者。
	persistMu sync.Mutex
}

// NewStore 构建 Store 并立即从 path 加载快照；文件缺失或损坏时以空缓存启动。
func NewStore(fs billy.Filesystem, path string, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Store{
		fs:      fs,
		path:    path,
		logger:  logger,
		entries: make(map[string]*CachedResponse),
	}
	s.load()
	return s
}

// Path 返回快照文件路径。
func (s *Store) Path() string {
	return s.path
}

// Get 返回 key 对应的记录。返回值与其他调用方共享，只读。
func (s *Store) Get(key string) (*CachedResponse, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp, ok := s.entries[key]
	return resp, ok
}

// Put 写入（或覆盖）key 对应的记录，并同步重写快照文件。
// 快照写入失败只记录警告，内存状态保持有效。
func (s *Store) Put(key string, resp *CachedResponse) {
	if resp == nil {
		return
	}
	record := resp.Clone()

	s.mu.Lock()
	s.entries[key] = record
	cacheEntries.Set(float64(len(s.entries)))
	s.mu.Unlock()

	s.persist()
}

// Len 返回当前缓存条目数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Clear 清空内存 map 并删除快照文件。
func (s *Store) Clear() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.Lock()
	s.entries = make(map[string]*CachedResponse)
	cacheEntries.Set(0)
	s.mu.Unlock()

	if err := s.fs.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.warn("cache_clear", "clear", err)
	}
}

func (s *Store) load() {
	f, err := s.fs.Open(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.warn("cache_load", "load", err)
		}
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		s.warn("cache_load", "load", err)
		return
	}

	var snapshot map[string]*CachedResponse
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.warn("cache_load", "load", fmt.Errorf("decode snapshot: %w", err))
		return
	}

	for key, resp := range snapshot {
		if resp == nil {
			continue
		}
		if resp.Headers == nil {
			resp.Headers = map[string][]string{}
		}
		if resp.ContentHeaders == nil {
			resp.ContentHeaders = map[string][]string{}
		}
		if resp.Body == nil {
			resp.Body = []byte{}
		}
		s.entries[key] = resp
	}
	cacheEntries.Set(float64(len(s.entries)))

	s.logger.WithFields(logrus.Fields{
		"action":  "cache_load",
		"path":    s.path,
		"entries": len(s.entries),
	}).Debug("cache snapshot loaded")
}

func (s *Store) persist() {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	data, err := json.MarshalIndent(s.entries, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.warn("cache_persist", "persist", fmt.Errorf("encode snapshot: %w", err))
		return
	}

	if err := s.writeSnapshot(data); err != nil {
		s.warn("cache_persist", "persist", err)
	}
}

// writeSnapshot 先写入同目录的临时文件再 rename 覆盖，失败时清理临时文件。
func (s *Store) writeSnapshot(data []byte) error {
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}

	tempName := s.path + ".tmp"
	tempFile, err := s.fs.OpenFile(tempName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tempName)
		return err
	}

	if err := s.fs.Rename(tempName, s.path); err != nil {
		_ = s.fs.Remove(tempName)
		return err
	}
	return nil
}

func (s *Store) warn(action, operation string, err error) {
	ioFailures.WithLabelValues(operation).Inc()
	s.logger.WithFields(logrus.Fields{
		"action": action,
		"path":   s.path,
	}).WithError(err).Warn("cache snapshot unavailable, continuing in memory")
}
