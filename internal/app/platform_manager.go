package app

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

// EventHandler recibe cada payload crudo de una plataforma.
type EventHandler interface {
	Handle(ctx context.Context, raw domain.RawEvent) error
}

// Source es una conexión a una plataforma. Connect bloquea hasta que la conexión se cae
// o el contexto se cancela.
type Source interface {
	Platform() domain.Platform
	Connect(ctx context.Context, emit func(domain.RawEvent)) error
}

type StatusReporter interface {
	PlatformStatus(platform domain.Platform, state string, attempt int, err error)
}

const (
	StateConnecting   = "connecting"
	StateDisconnected = "disconnected"
	StateFailed       = "failed"
	StateStopped      = "stopped"
)

type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// ReconnectPolicy decide cuánto esperar entre reintentos. MaxAttempts 0 reintenta para siempre.
type ReconnectPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Backoff     Backoff
	// ResetAfter reinicia el contador si la conexión duró al menos este tiempo.
	ResetAfter time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Delay:      2500 * time.Millisecond,
		MaxDelay:   time.Minute,
		Backoff:    BackoffFixed,
		ResetAfter: time.Minute,
	}
}

func (p ReconnectPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Next devuelve la espera antes del intento número attempt (desde 1).
func (p ReconnectPolicy) Next(attempt int) time.Duration {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultReconnectPolicy().Delay
	}
	if p.Backoff != BackoffExponential || attempt <= 1 {
		return delay
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

type ManagerConfig struct {
	Handler EventHandler
	Policy  ReconnectPolicy
	Status  StatusReporter
	Logger  *zap.Logger
}

// PlatformManager supervisa un worker por plataforma y lo reconecta según la política.
type PlatformManager struct {
	handler EventHandler
	policy  ReconnectPolicy
	status  StatusReporter
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error

	mu        sync.RWMutex
	sources   map[domain.Platform]Source
	connected map[domain.Platform]bool
}

func NewPlatformManager(cfg ManagerConfig) *PlatformManager {
	return &PlatformManager{
		handler:   cfg.Handler,
		policy:    cfg.Policy,
		status:    cfg.Status,
		logger:    util.OrNop(cfg.Logger),
		sleep:     sleepContext,
		sources:   make(map[domain.Platform]Source),
		connected: make(map[domain.Platform]bool),
	}
}

func (m *PlatformManager) Register(src Source) {
	if src == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sources[src.Platform()] = src
}

func (m *PlatformManager) Platforms() []domain.Platform {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Platform, 0, len(m.sources))
	for p := range m.sources {
		out = append(out, p)
	}
	return out
}

func (m *PlatformManager) Connected(platform domain.Platform) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected[platform]
}

// Run bloquea hasta que ctx se cancela y todos los workers terminan.
func (m *PlatformManager) Run(ctx context.Context) error {
	m.mu.RLock()
	sources := make([]Source, 0, len(m.sources))
	for _, src := range m.sources {
		sources = append(sources, src)
	}
	m.mu.RUnlock()

	var wg conc.WaitGroup
	for _, src := range sources {
		wg.Go(func() { m.supervise(ctx, src) })
	}
	wg.Wait()
	return nil
}

func (m *PlatformManager) supervise(ctx context.Context, src Source) {
	platform := src.Platform()
	logger := m.logger.With(zap.String("platform", string(platform)))
	emit := func(raw domain.RawEvent) {
		if raw.Platform == "" {
			raw.Platform = platform
		}
		if err := m.handler.Handle(ctx, raw); err != nil {
			logger.Warn("platform: handler failed", zap.String("id", raw.ID), zap.Error(err))
		}
	}
	defer m.setConnected(platform, false)

	attempt := 0
	for {
		m.report(platform, StateConnecting, attempt, nil)
		m.setConnected(platform, true)
		started := time.Now()
		err := src.Connect(ctx, emit)
		m.setConnected(platform, false)

		if ctx.Err() != nil {
			m.report(platform, StateStopped, attempt, nil)
			return
		}
		if errors.IsNotConnected(err) {
			logger.Warn("platform: not configured, worker stopped", zap.Error(err))
			m.report(platform, StateFailed, attempt, err)
			return
		}
		if m.policy.ResetAfter > 0 && time.Since(started) >= m.policy.ResetAfter {
			attempt = 0
		}
		attempt++
		if m.policy.Exhausted(attempt) {
			logger.Error("platform: giving up after reconnect attempts",
				zap.Int("attempts", attempt-1), zap.Error(err))
			m.report(platform, StateFailed, attempt-1, err)
			return
		}

		delay := m.policy.Next(attempt)
		telemetry.IncReconnect(string(platform))
		logger.Warn("platform: connection lost, reconnecting",
			zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		m.report(platform, StateDisconnected, attempt, err)

		if m.sleep(ctx, delay) != nil {
			m.report(platform, StateStopped, attempt, nil)
			return
		}
	}
}

func (m *PlatformManager) setConnected(platform domain.Platform, v bool) {
	m.mu.Lock()
	m.connected[platform] = v
	m.mu.Unlock()
}

func (m *PlatformManager) report(platform domain.Platform, state string, attempt int, err error) {
	if m.status != nil {
		m.status.PlatformStatus(platform, state, attempt, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
