package events

import (
	"maps"
	"time"

	"streamBot/internal/domain"
)

// ChatMessageDTO describe un mensaje de chat para el overlay.
type ChatMessageDTO struct {
	ID               string `json:"id"`
	Platform         string `json:"platform"`
	ChannelID        string `json:"channel_id"`
	UserID           string `json:"user_id"`
	Username         string `json:"username"`
	DisplayName      string `json:"display_name"`
	Text             string `json:"text"`
	Role             string `json:"role"`
	ModerationReason string `json:"moderation_reason,omitempty"`
	Timestamp        string `json:"timestamp"`
}

// PlatformEventDTO es la forma serializable de cualquier evento que no es chat.
type PlatformEventDTO struct {
	ID         string            `json:"id"`
	Kind       string            `json:"kind"`
	Platform   string            `json:"platform"`
	ChannelID  string            `json:"channel_id"`
	UserID     string            `json:"user_id,omitempty"`
	Username   string            `json:"username"`
	Target     string            `json:"target,omitempty"`
	Arguments  []string          `json:"arguments,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt string            `json:"occurred_at"`
}

type AlertDTO struct {
	Type      string            `json:"type"`
	Kind      string            `json:"kind,omitempty"`
	Platform  string            `json:"platform,omitempty"`
	Username  string            `json:"username,omitempty"`
	Text      string            `json:"text"`
	Duration  float64           `json:"duration_seconds,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at"`
}

type PlatformStatusDTO struct {
	Platform  string `json:"platform"`
	State     string `json:"state"`
	Attempt   int    `json:"attempt,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func NewChatMessageDTO(ev *domain.PlatformEvent) ChatMessageDTO {
	dto := ChatMessageDTO{
		ID:               ev.ID,
		Platform:         string(ev.Platform),
		ChannelID:        ev.ChannelID,
		Text:             ev.Attr(domain.AttrMessage),
		ModerationReason: ev.Attr(domain.AttrModerationReason),
		Timestamp:        ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if user := ev.ActingUser; user != nil {
		if !user.IsUnassociated() {
			dto.UserID = user.ID()
		}
		dto.Username = user.Username(ev.Platform)
		dto.DisplayName = user.DisplayName(ev.Platform)
		dto.Role = string(domain.HighestRole(user.Roles(ev.Platform)))
	}
	return dto
}

func NewPlatformEventDTO(ev *domain.PlatformEvent) PlatformEventDTO {
	dto := PlatformEventDTO{
		ID:         ev.ID,
		Kind:       string(ev.Kind),
		Platform:   string(ev.Platform),
		ChannelID:  ev.ChannelID,
		Arguments:  append([]string(nil), ev.Arguments...),
		Attributes: maps.Clone(ev.Attributes),
		OccurredAt: ev.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	if user := ev.ActingUser; user != nil {
		if !user.IsUnassociated() {
			dto.UserID = user.ID()
		}
		dto.Username = user.DisplayName(ev.Platform)
	}
	if ev.TargetUser != nil {
		dto.Target = ev.TargetUser.DisplayName(ev.Platform)
	}
	return dto
}

func NewAlertDTO(alert domain.Alert) AlertDTO {
	return AlertDTO{
		Type:      string(alert.Type),
		Kind:      string(alert.Kind),
		Platform:  string(alert.Platform),
		Username:  alert.Username,
		Text:      alert.Text,
		Duration:  alert.Duration.Seconds(),
		Metadata:  maps.Clone(alert.Metadata),
		CreatedAt: alert.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func NewPlatformStatusDTO(platform domain.Platform, state string, attempt int, err error) PlatformStatusDTO {
	dto := PlatformStatusDTO{
		Platform:  string(platform),
		State:     state,
		Attempt:   attempt,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}
