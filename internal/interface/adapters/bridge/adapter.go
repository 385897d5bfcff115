// Package bridge conecta plataformas que llegan a través de un relay websocket
// (Trovo, YouTube, Glimesh). El relay envía eventos crudos y acepta mensajes y acciones
// de moderación de vuelta.
package bridge

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

const (
	frameEvent    = "event"
	frameSend     = "send"
	frameModerate = "moderate"
	framePing     = "ping"

	writeTimeout = 5 * time.Second
)

type Config struct {
	Platform domain.Platform
	URL      string
	Token    string
	Logger   *zap.Logger
}

type wireUser struct {
	ID             string   `json:"id"`
	Username       string   `json:"username"`
	DisplayName    string   `json:"display_name,omitempty"`
	Roles          []string `json:"roles,omitempty"`
	SubscriberTier int      `json:"subscriber_tier,omitempty"`
}

type wireEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	ChannelID  string            `json:"channel_id"`
	Sender     wireUser          `json:"sender"`
	Target     *wireUser         `json:"target,omitempty"`
	Text       string            `json:"text,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	ReceivedAt time.Time         `json:"received_at,omitempty"`
}

type wireModeration struct {
	Type            string `json:"type"`
	TargetID        string `json:"target_id,omitempty"`
	TargetUsername  string `json:"target_username,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

type frame struct {
	Type       string          `json:"type"`
	Event      *wireEvent      `json:"event,omitempty"`
	ChannelID  string          `json:"channel_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	Moderation *wireModeration `json:"moderation,omitempty"`
}

type Adapter struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func NewAdapter(cfg Config) *Adapter {
	return &Adapter{
		cfg:    cfg,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: util.OrNop(cfg.Logger).With(zap.String("platform", string(cfg.Platform))),
	}
}

func (a *Adapter) Platform() domain.Platform {
	return a.cfg.Platform
}

// Connect bloquea leyendo frames hasta que el relay cierra o ctx se cancela.
func (a *Adapter) Connect(ctx context.Context, emit func(domain.RawEvent)) error {
	if strings.TrimSpace(a.cfg.URL) == "" {
		return errors.NewNotConnectedError(string(a.cfg.Platform))
	}

	header := http.Header{}
	if a.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	conn, resp, err := a.dialer.DialContext(ctx, a.cfg.URL, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return errors.NewPlatformError("bridge dial", string(a.cfg.Platform), status, true, err)
	}
	a.logger.Info("bridge: connected", zap.String("url", a.cfg.URL))

	a.mu.Lock()
	a.conn = conn
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.conn = nil
		a.mu.Unlock()
		conn.Close()
	}()

	stop := context.AfterFunc(ctx, func() {
		a.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		a.writeMu.Unlock()
		conn.Close()
	})
	defer stop()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.NewPlatformError("bridge read", string(a.cfg.Platform), 0, true, err)
		}
		switch f.Type {
		case frameEvent:
			if f.Event == nil {
				continue
			}
			emit(a.toRaw(*f.Event))
		case framePing:
			_ = a.write(frame{Type: "pong"})
		default:
			a.logger.Debug("bridge: unknown frame", zap.String("type", f.Type))
		}
	}
}

func (a *Adapter) SendMessage(_ context.Context, platform domain.Platform, channelID, text string) error {
	if platform != a.cfg.Platform {
		return errors.NewValidationError("unsupported platform", "platform", platform)
	}
	return a.write(frame{Type: frameSend, ChannelID: channelID, Text: text})
}

// Moderate delega la acción en el relay, que conoce la API de la plataforma.
func (a *Adapter) Moderate(_ context.Context, req domain.ModerationRequest) error {
	if req.Platform != a.cfg.Platform {
		return errors.NewValidationError("unsupported platform", "platform", req.Platform)
	}
	return a.write(frame{
		Type:      frameModerate,
		ChannelID: req.ChannelID,
		Moderation: &wireModeration{
			Type:            string(req.Type),
			TargetID:        req.Target.ID,
			TargetUsername:  req.Target.Username,
			DurationSeconds: int(req.Duration / time.Second),
			Reason:          req.Reason,
		},
	})
}

func (a *Adapter) write(f frame) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return errors.NewNotConnectedError(string(a.cfg.Platform))
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(f); err != nil {
		return errors.NewPlatformError("bridge write", string(a.cfg.Platform), 0, true, err)
	}
	return nil
}

func (a *Adapter) toRaw(ev wireEvent) domain.RawEvent {
	raw := domain.RawEvent{
		Platform:   a.cfg.Platform,
		ID:         ev.ID,
		Type:       ev.Type,
		ChannelID:  ev.ChannelID,
		Sender:     toRawUser(ev.Sender),
		Text:       ev.Text,
		Tags:       ev.Tags,
		ReceivedAt: ev.ReceivedAt,
	}
	if ev.Target != nil {
		target := toRawUser(*ev.Target)
		raw.Target = &target
	}
	if raw.ReceivedAt.IsZero() {
		raw.ReceivedAt = time.Now()
	}
	return raw
}

func toRawUser(u wireUser) domain.RawUser {
	var roles []domain.CommandAccessRole
	for _, r := range u.Roles {
		if role, ok := domain.NormalizeRole(r); ok {
			roles = append(roles, role)
		}
	}
	return domain.RawUser{
		ID:             u.ID,
		Username:       u.Username,
		DisplayName:    u.DisplayName,
		Roles:          roles,
		SubscriberTier: u.SubscriberTier,
	}
}
