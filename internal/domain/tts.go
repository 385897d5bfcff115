package domain

import "context"

type TTSSettingsRepository interface {
	SetTTSVoice(ctx context.Context, voice string) error
	GetTTSVoice(ctx context.Context) (string, error)
	SetTTSEnabled(ctx context.Context, enabled bool) error
	GetTTSEnabled(ctx context.Context) (bool, error)
}
