// Package twitchadapter conecta el chat IRC de Twitch con el pipeline.
package twitchadapter

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/ingest"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

type Config struct {
	Username   string
	OAuthToken string
	Channels   []string
	Logger     *zap.Logger
}

// Adapter es a la vez la fuente de eventos (app.Source) y el emisor de chat de Twitch.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	client *twitch.Client
}

func NewAdapter(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, logger: util.OrNop(cfg.Logger)}
}

func (a *Adapter) Platform() domain.Platform {
	return domain.PlatformTwitch
}

// Connect bloquea mientras la conexión IRC siga viva.
func (a *Adapter) Connect(ctx context.Context, emit func(domain.RawEvent)) error {
	if len(a.cfg.Channels) == 0 || a.cfg.Username == "" || a.cfg.OAuthToken == "" {
		return errors.NewNotConnectedError(string(domain.PlatformTwitch))
	}

	token := a.cfg.OAuthToken
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	client := twitch.NewClient(a.cfg.Username, token)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		emit(fromPrivateMessage(msg))
	})
	client.OnUserNoticeMessage(func(msg twitch.UserNoticeMessage) {
		emit(fromUserNotice(msg))
	})
	client.OnClearChatMessage(func(msg twitch.ClearChatMessage) {
		if raw, ok := fromClearChat(msg); ok {
			emit(raw)
		}
	})
	client.OnConnect(func() {
		a.logger.Info("twitch: connected",
			zap.String("username", a.cfg.Username),
			zap.Strings("channels", a.cfg.Channels),
		)
	})
	client.Join(a.cfg.Channels...)

	a.mu.Lock()
	a.client = client
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.client = nil
		a.mu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case <-ctx.Done():
		_ = client.Disconnect()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if stderrors.Is(err, twitch.ErrClientDisconnected) {
			return nil
		}
		return errors.NewPlatformError("irc connection closed", string(domain.PlatformTwitch), 0, true, err)
	}
}

func (a *Adapter) SendMessage(_ context.Context, platform domain.Platform, channelID, text string) error {
	if platform != domain.PlatformTwitch {
		return errors.NewValidationError("unsupported platform", "platform", platform)
	}
	a.mu.RLock()
	client := a.client
	a.mu.RUnlock()
	if client == nil {
		return errors.NewNotConnectedError(string(domain.PlatformTwitch))
	}

	channel := strings.TrimPrefix(channelID, "#")
	if channel == "" && len(a.cfg.Channels) > 0 {
		channel = a.cfg.Channels[0]
	}
	a.logger.Debug("twitch: say", zap.String("channel", channel), zap.String("text", text))
	client.Say(channel, text)
	return nil
}

func fromPrivateMessage(msg twitch.PrivateMessage) domain.RawEvent {
	tags := cloneTags(msg.Tags)
	if msg.Bits > 0 {
		tags["bits"] = strconv.Itoa(msg.Bits)
	}
	if msg.CustomRewardID != "" {
		tags["custom-reward-id"] = msg.CustomRewardID
	}
	return domain.RawEvent{
		Platform:   domain.PlatformTwitch,
		ID:         msg.ID,
		Type:       ingest.TwitchTypePrivmsg,
		ChannelID:  msg.Channel,
		Sender:     fromUser(msg.User),
		Text:       msg.Message,
		Tags:       tags,
		ReceivedAt: receivedAt(msg.Time),
	}
}

func fromUserNotice(msg twitch.UserNoticeMessage) domain.RawEvent {
	tags := cloneTags(msg.Tags)
	if msg.MsgID != "" {
		tags["msg-id"] = msg.MsgID
	}
	for k, v := range msg.MsgParams {
		if _, ok := tags[k]; !ok {
			tags[k] = v
		}
	}
	return domain.RawEvent{
		Platform:   domain.PlatformTwitch,
		ID:         msg.ID,
		Type:       ingest.TwitchTypeUserNotice,
		ChannelID:  msg.Channel,
		Sender:     fromUser(msg.User),
		Text:       msg.Message,
		Tags:       tags,
		ReceivedAt: receivedAt(msg.Time),
	}
}

// fromClearChat descarta el borrado completo del chat: no hay usuario afectado.
func fromClearChat(msg twitch.ClearChatMessage) (domain.RawEvent, bool) {
	if msg.TargetUserID == "" {
		return domain.RawEvent{}, false
	}
	tags := cloneTags(msg.Tags)
	tags["target-user-id"] = msg.TargetUserID
	if msg.BanDuration > 0 {
		tags["ban-duration"] = strconv.Itoa(msg.BanDuration)
	} else {
		delete(tags, "ban-duration")
	}
	id := tags["id"]
	if id == "" {
		id = "clearchat:" + msg.TargetUserID + ":" + tags["tmi-sent-ts"]
	}
	return domain.RawEvent{
		Platform:   domain.PlatformTwitch,
		ID:         id,
		Type:       ingest.TwitchTypeClearChat,
		ChannelID:  msg.Channel,
		Text:       msg.TargetUsername,
		Tags:       tags,
		ReceivedAt: receivedAt(msg.Time),
	}, true
}

func fromUser(u twitch.User) domain.RawUser {
	return domain.RawUser{
		ID:             u.ID,
		Username:       strings.ToLower(u.Name),
		DisplayName:    u.DisplayName,
		Roles:          rolesFromBadges(u.Badges),
		SubscriberTier: subscriberTier(u.Badges),
	}
}

func rolesFromBadges(badges map[string]int) []domain.CommandAccessRole {
	var roles []domain.CommandAccessRole
	if _, ok := badges["broadcaster"]; ok {
		roles = append(roles, domain.CommandAccessOwner)
	}
	if _, ok := badges["moderator"]; ok {
		roles = append(roles, domain.CommandAccessModerators)
	}
	if _, ok := badges["vip"]; ok {
		roles = append(roles, domain.CommandAccessVIPs)
	}
	if subscriberTier(badges) > 0 {
		roles = append(roles, domain.CommandAccessSubscribers)
	}
	return roles
}

// subscriberTier usa la insignia: 1-999 Tier 1, 2000+ Tier 2, 3000+ Tier 3.
func subscriberTier(badges map[string]int) int {
	v, ok := badges["subscriber"]
	if !ok {
		if _, founder := badges["founder"]; founder {
			return 1
		}
		return 0
	}
	switch {
	case v >= 3000:
		return 3
	case v >= 2000:
		return 2
	default:
		return 1
	}
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+2)
	for k, v := range tags {
		out[k] = v
	}
	return out
}

func receivedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
