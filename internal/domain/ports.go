package domain

import (
	"context"
	"time"
)

type OutgoingMessagePort interface {
	SendMessage(ctx context.Context, platform Platform, channelID, text string) error
}

// ModerationService devuelve el motivo si el texto debe moderarse, o "" si está limpio.
type ModerationService interface {
	ShouldTextBeModerated(ctx context.Context, user *User, platform Platform, text string) string
}

type ModerationRequest struct {
	Platform  Platform
	ChannelID string
	Type      ModerationType
	Target    PlatformIdentity
	Duration  time.Duration
	Reason    string
}

// Moderator aplica acciones de moderación en la plataforma.
type Moderator interface {
	Moderate(ctx context.Context, req ModerationRequest) error
}

// SpeechQueue recibe textos para leer en voz alta.
type SpeechQueue interface {
	Speak(ctx context.Context, text, voice, requestedBy string, platform Platform, channelID string) error
}

type SocialPoster interface {
	Post(ctx context.Context, text string) error
}
