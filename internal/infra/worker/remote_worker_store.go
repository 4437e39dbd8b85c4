package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	configs "go_http_interceptor/internal/infra/config"
	"go_http_interceptor/utils"

	"golang.org/x/sync/singleflight"
)

var ErrWorkerNotAcquired = errors.New("remote worker was not acquired")

// DialFunc opens a remote worker connection.
type DialFunc func(ctx context.Context, serverURL string, cfg configs.RemoteConfig) (*RemoteWorker, error)

type storeEntry struct {
	worker *RemoteWorker
	refs   int
}

// RemoteWorkerStore holds one reference-counted worker per server URL.
// Acquire and Release must be paired.
type RemoteWorkerStore struct {
	cfg     configs.RemoteConfig
	dial    DialFunc
	mu      sync.Mutex
	entries map[string]*storeEntry
	sfGroup singleflight.Group
}

func NewRemoteWorkerStore(cfg configs.RemoteConfig) *RemoteWorkerStore {
	return &RemoteWorkerStore{
		cfg:     withRemoteDefaults(cfg),
		dial:    DialRemoteWorker,
		entries: make(map[string]*storeEntry),
	}
}

var (
	defaultStore     *RemoteWorkerStore
	defaultStoreOnce sync.Once
)

// DefaultRemoteWorkerStore is the process-wide store, configured from the `remote` config section.
func DefaultRemoteWorkerStore() *RemoteWorkerStore {
	defaultStoreOnce.Do(func() {
		cfg, err := configs.LoadRemoteConfig()
		if err != nil {
			utils.GetLogger().Warnf("failed to load remote config, using defaults: %v", err)
			cfg = &configs.DefaultConfig().Remote
		}
		defaultStore = NewRemoteWorkerStore(*cfg)
	})
	return defaultStore
}

// Acquire returns the worker of serverURL, connecting on first use. Concurrent first
// acquisitions share one dial.
func (s *RemoteWorkerStore) Acquire(ctx context.Context, serverURL string) (*RemoteWorker, error) {
	key := storeKey(serverURL)

	s.mu.Lock()
	if e, ok := s.entries[key]; ok && !e.worker.IsClosed() {
		e.refs++
		s.mu.Unlock()
		return e.worker, nil
	}
	s.mu.Unlock()

	// 使用 singleflight 防止并发重复建连
	data, err, _ := s.sfGroup.Do(key, func() (interface{}, error) {
		s.mu.Lock()
		if e, ok := s.entries[key]; ok && !e.worker.IsClosed() {
			s.mu.Unlock()
			return e.worker, nil
		}
		s.mu.Unlock()

		w, err := s.dial(ctx, key, s.cfg)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		refs := 0
		if stale, ok := s.entries[key]; ok {
			// holders of the lost connection keep their references
			refs = stale.refs
		}
		s.entries[key] = &storeEntry{worker: w, refs: refs}
		return w, nil
	})
	if err != nil {
		return nil, err
	}

	w := data.(*RemoteWorker)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || e.worker != w {
		return nil, fmt.Errorf("remote worker for %s was replaced while connecting", key)
	}
	e.refs++
	return w, nil
}

// Release drops one reference. The connection closes with the last one.
func (s *RemoteWorkerStore) Release(serverURL string) error {
	key := storeKey(serverURL)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || e.refs == 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkerNotAcquired, key)
	}
	e.refs--
	if e.refs > 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.entries, key)
	s.mu.Unlock()

	return e.worker.Close()
}

// RefCount reports the references held on serverURL's worker.
func (s *RemoteWorkerStore) RefCount(serverURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[storeKey(serverURL)]; ok {
		return e.refs
	}
	return 0
}

func storeKey(serverURL string) string {
	return strings.TrimRight(serverURL, "/")
}

func withRemoteDefaults(cfg configs.RemoteConfig) configs.RemoteConfig {
	defaults := configs.DefaultConfig().Remote
	if cfg.DialRetryCount <= 0 {
		cfg.DialRetryCount = defaults.DialRetryCount
	}
	if cfg.ResolvePoolSize <= 0 {
		cfg.ResolvePoolSize = defaults.ResolvePoolSize
	}
	if cfg.RPCPath == "" {
		cfg.RPCPath = defaults.RPCPath
	}
	return cfg
}
