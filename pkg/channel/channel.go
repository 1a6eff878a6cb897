// Package channel implements ChannelManager: lazily created,
// reader-preferring-locked per-(kind,id) state.
package channel

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/loquat/loquat/pkg/pipeline"
)

// Channel is per-conversation state owned by the Manager. Scratch is
// opaque per-channel storage Workers may read through a scoped handle;
// the Manager never interprets its contents.
type Channel struct {
	Key        pipeline.ChannelType
	CreatedAt  time.Time
	mu         sync.Mutex
	lastAccess time.Time
	scratch    map[string]any
}

func newChannel(key pipeline.ChannelType, now time.Time) *Channel {
	return &Channel{
		Key:        key,
		CreatedAt:  now,
		lastAccess: now,
		scratch:    make(map[string]any),
	}
}

// LastAccess returns the last time this Channel was looked up.
func (c *Channel) LastAccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAccess
}

func (c *Channel) touch(now time.Time) {
	c.mu.Lock()
	c.lastAccess = now
	c.mu.Unlock()
}

// Scratch returns a scoped read/write handle for Worker-owned state.
func (c *Channel) Scratch() *ScratchHandle {
	return &ScratchHandle{channel: c}
}

// ScratchHandle is the only way Worker code touches Channel state,
// keeping the Manager free of back-references into Worker internals
//.
type ScratchHandle struct {
	channel *Channel
}

func (h *ScratchHandle) Get(key string) (any, bool) {
	h.channel.mu.Lock()
	defer h.channel.mu.Unlock()
	v, ok := h.channel.scratch[key]
	return v, ok
}

func (h *ScratchHandle) Set(key string, value any) {
	h.channel.mu.Lock()
	defer h.channel.mu.Unlock()
	h.channel.scratch[key] = value
}

// ErrUnknownChannel is returned by Get when auto-creation is disabled
// and no Channel exists for the requested key.
var ErrUnknownChannel = fmt.Errorf("channel: unknown channel")

// Manager owns the (kind,id) → Channel map behind a reader-preferring
// lock; creation takes the write lock, lookup takes the read lock.
type Manager struct {
	mu               sync.RWMutex
	channels         map[pipeline.ChannelType]*Channel
	autoCreate       bool
	idleTTL          time.Duration
	evictionInterval time.Duration
	group            singleflight.Group
	logger           *slog.Logger

	stopEviction chan struct{}
	evictionOnce sync.Once
	now          func() time.Time
}

// Option configures a Manager at construction.
type Option func(*Manager)

func WithAutoCreate(enabled bool) Option {
	return func(m *Manager) { m.autoCreate = enabled }
}

func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.idleTTL = ttl }
}

func WithEvictionInterval(interval time.Duration) Option {
	return func(m *Manager) { m.evictionInterval = interval }
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New constructs a Manager. Auto-creation is enabled by default; idle
// eviction is disabled unless both an idle TTL and an eviction
// interval are configured.
func New(opts ...Option) *Manager {
	m := &Manager{
		channels:     make(map[pipeline.ChannelType]*Channel),
		autoCreate:   true,
		logger:       slog.Default(),
		stopEviction: make(chan struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get looks up an existing Channel without creating one.
func (m *Manager) Get(key pipeline.ChannelType) (*Channel, error) {
	m.mu.RLock()
	ch, ok := m.channels[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("channel[%s]: %w", key, ErrUnknownChannel)
	}
	ch.touch(m.now())
	return ch, nil
}

// GetOrCreate returns the Channel for key, creating it under the write
// lock if it doesn't exist and auto-creation is enabled. Concurrent
// callers racing for the same key are collapsed onto a single creation
// via singleflight, so at most one Channel ever exists for a given key.
func (m *Manager) GetOrCreate(key pipeline.ChannelType) (*Channel, error) {
	m.mu.RLock()
	ch, ok := m.channels[key]
	m.mu.RUnlock()
	if ok {
		ch.touch(m.now())
		return ch, nil
	}

	if !m.autoCreate {
		return nil, fmt.Errorf("channel[%s]: %w", key, ErrUnknownChannel)
	}

	v, err, _ := m.group.Do(key.String(), func() (any, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if existing, ok := m.channels[key]; ok {
			return existing, nil
		}
		created := newChannel(key, m.now())
		m.channels[key] = created
		return created, nil
	})
	if err != nil {
		return nil, err
	}

	ch = v.(*Channel)
	ch.touch(m.now())
	return ch, nil
}

// Count returns the number of live channels.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// StartEviction runs the idle-eviction sweep at the configured
// interval until Stop is called. It is a no-op if idleTTL or
// evictionInterval is zero.
func (m *Manager) StartEviction() {
	if m.idleTTL <= 0 || m.evictionInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(m.evictionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopEviction:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// StopEviction halts the idle-eviction goroutine, if running.
func (m *Manager) StopEviction() {
	m.evictionOnce.Do(func() { close(m.stopEviction) })
}

// sweep drops channels idle past idleTTL. It re-checks LastAccess
// under the write lock immediately before removal, so a channel
// touched by a concurrent traversal after the sweep began survives.
func (m *Manager) sweep() {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.RLock()
	candidates := make([]pipeline.ChannelType, 0)
	for key, ch := range m.channels {
		if ch.LastAccess().Before(cutoff) {
			candidates = append(candidates, key)
		}
	}
	m.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range candidates {
		ch, ok := m.channels[key]
		if !ok {
			continue
		}
		if ch.LastAccess().Before(cutoff) {
			delete(m.channels, key)
			m.logger.Debug("channel: evicted idle channel", "channel", key.String())
		}
	}
}
