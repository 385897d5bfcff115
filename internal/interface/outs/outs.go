package outs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

// MultiSender enruta los mensajes al adapter de la plataforma de origen.
type MultiSender struct {
	mu      sync.RWMutex
	senders map[domain.Platform]domain.OutgoingMessagePort
}

func NewMultiSender() *MultiSender {
	return &MultiSender{senders: make(map[domain.Platform]domain.OutgoingMessagePort)}
}

func (m *MultiSender) Register(platform domain.Platform, sender domain.OutgoingMessagePort) {
	if sender == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.senders[platform] = sender
}

func (m *MultiSender) Unregister(platform domain.Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.senders, platform)
}

// SendMessage devuelve NotConnectedError si la plataforma nunca se registró.
func (m *MultiSender) SendMessage(ctx context.Context, platform domain.Platform, channelID, text string) error {
	m.mu.RLock()
	sender, ok := m.senders[platform]
	m.mu.RUnlock()
	if !ok {
		return errors.NewNotConnectedError(string(platform))
	}
	return sender.SendMessage(ctx, platform, channelID, text)
}

// MultiModerator enruta las acciones de moderación por plataforma.
type MultiModerator struct {
	mu         sync.RWMutex
	moderators map[domain.Platform]domain.Moderator
}

func NewMultiModerator() *MultiModerator {
	return &MultiModerator{moderators: make(map[domain.Platform]domain.Moderator)}
}

func (m *MultiModerator) Register(platform domain.Platform, moderator domain.Moderator) {
	if moderator == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moderators[platform] = moderator
}

func (m *MultiModerator) Moderate(ctx context.Context, req domain.ModerationRequest) error {
	m.mu.RLock()
	moderator, ok := m.moderators[req.Platform]
	m.mu.RUnlock()
	if !ok {
		return errors.NewNotConnectedError(string(req.Platform))
	}
	return moderator.Moderate(ctx, req)
}

// MultiLookup enruta la búsqueda de usuarios; sin API para la plataforma devuelve
// NotConnectedError y el resolver usa la identidad no asociada.
type MultiLookup struct {
	mu      sync.RWMutex
	lookups map[domain.Platform]domain.UserLookup
}

func NewMultiLookup() *MultiLookup {
	return &MultiLookup{lookups: make(map[domain.Platform]domain.UserLookup)}
}

func (m *MultiLookup) Register(platform domain.Platform, lookup domain.UserLookup) {
	if lookup == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[platform] = lookup
}

func (m *MultiLookup) LookupUser(ctx context.Context, platform domain.Platform, username string) (domain.PlatformIdentity, error) {
	m.mu.RLock()
	lookup, ok := m.lookups[platform]
	m.mu.RUnlock()
	if !ok {
		return domain.PlatformIdentity{}, errors.NewNotConnectedError(string(platform))
	}
	return lookup.LookupUser(ctx, platform, username)
}

const historyTimeout = 2 * time.Second

// AlertHistory guarda cada alerta para consultarla después.
type AlertHistory interface {
	SaveAlert(ctx context.Context, alert domain.Alert) error
}

// AlertFanout reparte cada alerta entre los sinks y la guarda en el historial.
// Los fallos se registran y nunca se propagan.
type AlertFanout struct {
	sinks   []domain.AlertSink
	history AlertHistory
	logger  *zap.Logger
}

func NewAlertFanout(history AlertHistory, logger *zap.Logger, sinks ...domain.AlertSink) *AlertFanout {
	return &AlertFanout{sinks: sinks, history: history, logger: util.OrNop(logger)}
}

func (f *AlertFanout) Alert(alert domain.Alert) {
	for _, sink := range f.sinks {
		sink.Alert(alert)
	}
	if f.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	if err := f.history.SaveAlert(ctx, alert); err != nil {
		f.logger.Warn("alerts: history save failed", zap.String("kind", string(alert.Kind)), zap.Error(err))
	}
}
