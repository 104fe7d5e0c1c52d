package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DeviceState is the locally persisted view of this device's registration.
// It is the single source of truth the reconciler consults before deciding
// to re-register.
type DeviceState struct {
	Token        string `json:"token,omitempty"`
	AttachedUser string `json:"attachedToUser,omitempty"`
	TokenID      string `json:"tokenId,omitempty"`
	Enabled      bool   `json:"enabled,omitempty"`
	UpdatedAt    int64  `json:"updatedAt,omitempty"`
	AppName      string `json:"appName,omitempty"`
}

// HasToken reports whether a token is cached.
func (s DeviceState) HasToken() bool { return s.Token != "" }

// ClearToken drops the token-only fields, leaving app configuration in
// place for the next registration cycle.
func (s *DeviceState) ClearToken() {
	s.Token = ""
	s.AttachedUser = ""
	s.TokenID = ""
	s.Enabled = false
}

// DeviceCache persists DeviceState across process restarts.
type DeviceCache interface {
	Load() (DeviceState, error)
	Store(DeviceState) error
}

// FileCache stores the device state as a JSON file, written atomically via
// rename. It stands in for the platform's local storage.
type FileCache struct {
	mu   sync.Mutex
	path string
}

func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

func (c *FileCache) Load() (DeviceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return DeviceState{}, nil
	}
	if err != nil {
		return DeviceState{}, fmt.Errorf("device cache read failed: %w", err)
	}
	var state DeviceState
	if err := json.Unmarshal(raw, &state); err != nil {
		return DeviceState{}, fmt.Errorf("device cache corrupt: %w", err)
	}
	return state, nil
}

func (c *FileCache) Store(state DeviceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("device cache encode failed: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("device cache write failed: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("device cache rename failed: %w", err)
	}
	return nil
}

// MemoryCache is an in-process DeviceCache for tests.
type MemoryCache struct {
	mu    sync.Mutex
	state DeviceState
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) Load() (DeviceState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, nil
}

func (c *MemoryCache) Store(state DeviceState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
	return nil
}

var _ DeviceCache = (*FileCache)(nil)
var _ DeviceCache = (*MemoryCache)(nil)

// defaultCachePath is a convenience for desktop builds.
func defaultCachePath(appName string) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appName, "push-state.json")
}
