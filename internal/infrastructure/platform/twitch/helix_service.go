package twitchinfra

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nicklaw5/helix/v2"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

type Config struct {
	ClientID        string
	UserAccessToken string
	BroadcasterID   string
	// ModeratorID es la cuenta que modera; vacío usa BroadcasterID.
	ModeratorID string
	// APIBaseURL solo se cambia en pruebas.
	APIBaseURL string
	Logger     *zap.Logger
}

// HelixService implementa domain.UserLookup y domain.Moderator sobre la API Helix.
type HelixService struct {
	mu            sync.RWMutex
	client        *helix.Client
	broadcasterID string
	moderatorID   string
	logger        *zap.Logger
}

func NewHelixService(cfg Config) (*HelixService, error) {
	client, err := helix.NewClient(&helix.Options{
		ClientID:        cfg.ClientID,
		UserAccessToken: cfg.UserAccessToken,
		APIBaseURL:      cfg.APIBaseURL,
	})
	if err != nil {
		return nil, errors.NewPlatformError("helix client", string(domain.PlatformTwitch), 0, false, err)
	}
	moderatorID := cfg.ModeratorID
	if moderatorID == "" {
		moderatorID = cfg.BroadcasterID
	}
	return &HelixService{
		client:        client,
		broadcasterID: cfg.BroadcasterID,
		moderatorID:   moderatorID,
		logger:        util.OrNop(cfg.Logger),
	}, nil
}

// UpdateAccessToken permite rotar el token sin reconstruir el servicio.
func (s *HelixService) UpdateAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client.SetUserAccessToken(token)
}

func (s *HelixService) getClient() *helix.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

func (s *HelixService) LookupUser(_ context.Context, platform domain.Platform, username string) (domain.PlatformIdentity, error) {
	if platform != domain.PlatformTwitch {
		return domain.PlatformIdentity{}, errors.NewNotConnectedError(string(platform))
	}
	login := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
	if login == "" {
		return domain.PlatformIdentity{}, errors.NewValidationError("empty username", "username", username)
	}

	resp, err := s.getClient().GetUsers(&helix.UsersParams{Logins: []string{login}})
	if err != nil {
		return domain.PlatformIdentity{}, errors.NewPlatformError("helix: GetUsers", string(domain.PlatformTwitch), 0, true, err)
	}
	if err := check("GetUsers", resp.StatusCode, resp.ErrorMessage); err != nil {
		return domain.PlatformIdentity{}, err
	}
	if len(resp.Data.Users) == 0 {
		return domain.PlatformIdentity{}, errors.NewValidationError("unknown twitch user", "username", login)
	}
	u := resp.Data.Users[0]
	return domain.PlatformIdentity{
		Platform:    domain.PlatformTwitch,
		ID:          u.ID,
		Username:    u.Login,
		DisplayName: u.DisplayName,
	}, nil
}

func (s *HelixService) Moderate(_ context.Context, req domain.ModerationRequest) error {
	if req.Platform != domain.PlatformTwitch {
		return errors.NewNotConnectedError(string(req.Platform))
	}
	if s.broadcasterID == "" {
		return errors.NewNotConnectedError(string(domain.PlatformTwitch))
	}
	if req.Type != domain.ModerationClearChat && req.Target.ID == "" {
		return errors.NewValidationError("moderation target without id", "target", req.Target.Username)
	}

	client := s.getClient()
	s.logger.Info("twitch: moderate",
		zap.String("type", string(req.Type)),
		zap.String("target", req.Target.Username),
	)

	switch req.Type {
	case domain.ModerationTimeout, domain.ModerationPurge, domain.ModerationBan:
		body := helix.BanUserRequestBody{UserId: req.Target.ID, Reason: req.Reason}
		if req.Type != domain.ModerationBan {
			body.Duration = timeoutSeconds(req.Duration)
		}
		resp, err := client.BanUser(&helix.BanUserParams{
			BroadcasterID: s.broadcasterID,
			ModeratorId:   s.moderatorID,
			Body:          body,
		})
		if err != nil {
			return transient("BanUser", err)
		}
		return check("BanUser", resp.StatusCode, resp.ErrorMessage)

	case domain.ModerationUnban:
		resp, err := client.UnbanUser(&helix.UnbanUserParams{
			BroadcasterID: s.broadcasterID,
			ModeratorID:   s.moderatorID,
			UserID:        req.Target.ID,
		})
		if err != nil {
			return transient("UnbanUser", err)
		}
		return check("UnbanUser", resp.StatusCode, resp.ErrorMessage)

	case domain.ModerationMod:
		resp, err := client.AddChannelModerator(&helix.AddChannelModeratorParams{
			BroadcasterID: s.broadcasterID,
			UserID:        req.Target.ID,
		})
		if err != nil {
			return transient("AddChannelModerator", err)
		}
		return check("AddChannelModerator", resp.StatusCode, resp.ErrorMessage)

	case domain.ModerationUnmod:
		resp, err := client.RemoveChannelModerator(&helix.RemoveChannelModeratorParams{
			BroadcasterID: s.broadcasterID,
			UserID:        req.Target.ID,
		})
		if err != nil {
			return transient("RemoveChannelModerator", err)
		}
		return check("RemoveChannelModerator", resp.StatusCode, resp.ErrorMessage)

	case domain.ModerationClearChat:
		resp, err := client.DeleteChatMessage(&helix.DeleteChatMessageParams{
			BroadcasterID: s.broadcasterID,
			ModeratorID:   s.moderatorID,
		})
		if err != nil {
			return transient("DeleteChatMessage", err)
		}
		return check("DeleteChatMessage", resp.StatusCode, resp.ErrorMessage)
	}
	return errors.NewValidationError("unsupported moderation type", "type", req.Type)
}

// timeoutSeconds respeta el rango de Helix: 1 segundo a 2 semanas.
func timeoutSeconds(d time.Duration) int {
	secs := int(d / time.Second)
	return min(max(secs, 1), 1209600)
}

func transient(op string, err error) error {
	return errors.NewPlatformError("helix: "+op, string(domain.PlatformTwitch), 0, true, err)
}

func check(op string, status int, message string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	return errors.NewPlatformError(
		fmt.Sprintf("helix: %s failed (%d) %s", op, status, message),
		string(domain.PlatformTwitch),
		status,
		status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
		nil,
	)
}
