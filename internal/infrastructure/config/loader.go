package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"streamBot/pkg/errors"
)

type Config struct {
	Logging    LoggingConfig
	Storage    StorageConfig
	Redis      RedisConfig
	Twitch     TwitchConfig
	Bridges    BridgesConfig
	Pipeline   PipelineConfig
	Dispatcher DispatcherConfig
	Reconnect  ReconnectConfig
	Server     ServerConfig
	TTS        TTSConfig
	Social     SocialConfig
	Moderation ModerationConfig
}

type LoggingConfig struct {
	Level string
	File  string
}

type StorageConfig struct {
	DBPath           string
	AutosaveInterval time.Duration
}

// RedisConfig es opcional: sin Addr se usa el dedup en memoria.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	DedupTTL time.Duration
}

type TwitchConfig struct {
	Username      string
	Token         string
	Channels      []string
	ClientID      string
	APIToken      string
	BroadcasterID string
	ModeratorID   string
}

func (t TwitchConfig) ChatEnabled() bool {
	return t.Username != "" && t.Token != "" && len(t.Channels) > 0
}

func (t TwitchConfig) APIEnabled() bool {
	return t.ClientID != "" && t.APIToken != ""
}

type BridgesConfig struct {
	TrovoURL   string
	YouTubeURL string
	GlimeshURL string
	Token      string
}

type PipelineConfig struct {
	DedupSize         int
	GiftFlushInterval time.Duration
	// MassGiftThreshold es MASS_GIFTED_SUBS_FILTER_AMOUNT; 0 procesa los regalos sin buffer.
	MassGiftThreshold int
	FollowMaxInQueue  int
	UserLookupTimeout time.Duration
}

type DispatcherConfig struct {
	MaxConcurrent int
	QueueSize     int
}

type ReconnectConfig struct {
	MaxAttempts int
	Delay       time.Duration
	MaxDelay    time.Duration
	Backoff     string
	ResetAfter  time.Duration
}

type ServerConfig struct {
	Addr string
}

type TTSConfig struct {
	Enabled       bool
	LocalPlayback bool
	QueueSize     int
}

type SocialConfig struct {
	WebhookURL string
}

type ModerationConfig struct {
	BannedWords []string
	BlockLinks  bool
}

// Load lee .env si existe y después el entorno.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
		Storage: StorageConfig{
			DBPath:           getEnv("DB_PATH", "streambot.db"),
			AutosaveInterval: getEnvDuration("USER_AUTOSAVE_INTERVAL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			DedupTTL: getEnvDuration("DEDUP_TTL", 10*time.Minute),
		},
		Twitch: TwitchConfig{
			Username:      getEnv("TWITCH_BOT_USERNAME", ""),
			Token:         getEnv("TWITCH_BOT_ACCESS_TOKEN", ""),
			Channels:      getEnvList("TWITCH_BOT_CHANNELS"),
			ClientID:      getEnv("TWITCH_CLIENT_ID", ""),
			APIToken:      getEnv("TWITCH_API_ACCESS_TOKEN", ""),
			BroadcasterID: getEnv("TWITCH_BROADCASTER_ID", ""),
			ModeratorID:   getEnv("TWITCH_MODERATOR_ID", ""),
		},
		Bridges: BridgesConfig{
			TrovoURL:   getEnv("TROVO_BRIDGE_URL", ""),
			YouTubeURL: getEnv("YOUTUBE_BRIDGE_URL", ""),
			GlimeshURL: getEnv("GLIMESH_BRIDGE_URL", ""),
			Token:      getEnv("BRIDGE_TOKEN", ""),
		},
		Pipeline: PipelineConfig{
			DedupSize:         getEnvInt("DEDUP_SIZE", 4096),
			GiftFlushInterval: getEnvDuration("GIFT_FLUSH_INTERVAL", 3*time.Second),
			MassGiftThreshold: getEnvInt("MASS_GIFTED_SUBS_FILTER_AMOUNT", 0),
			FollowMaxInQueue:  getEnvInt("FOLLOW_MAX_IN_QUEUE", 0),
			UserLookupTimeout: getEnvDuration("USER_LOOKUP_TIMEOUT", 3*time.Second),
		},
		Dispatcher: DispatcherConfig{
			MaxConcurrent: getEnvInt("DISPATCH_MAX_CONCURRENT", 8),
			QueueSize:     getEnvInt("DISPATCH_QUEUE_SIZE", 256),
		},
		Reconnect: ReconnectConfig{
			MaxAttempts: getEnvInt("RECONNECT_MAX_ATTEMPTS", 0),
			Delay:       getEnvDuration("RECONNECT_DELAY", 2500*time.Millisecond),
			MaxDelay:    getEnvDuration("RECONNECT_MAX_DELAY", time.Minute),
			Backoff:     strings.ToLower(getEnv("RECONNECT_BACKOFF", "fixed")),
			ResetAfter:  getEnvDuration("RECONNECT_RESET_AFTER", time.Minute),
		},
		Server: ServerConfig{
			Addr: getEnv("SERVER_ADDR", ":8089"),
		},
		TTS: TTSConfig{
			Enabled:       getEnvBool("TTS_ENABLED", true),
			LocalPlayback: getEnvBool("TTS_LOCAL_PLAYBACK", false),
			QueueSize:     getEnvInt("TTS_QUEUE_SIZE", 32),
		},
		Social: SocialConfig{
			WebhookURL: getEnv("SOCIAL_WEBHOOK_URL", ""),
		},
		Moderation: ModerationConfig{
			BannedWords: getEnvList("MODERATION_BANNED_WORDS"),
			BlockLinks:  getEnvBool("MODERATION_BLOCK_LINKS", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Pipeline.MassGiftThreshold < 0:
		return errors.NewValidationError("must not be negative", "MASS_GIFTED_SUBS_FILTER_AMOUNT", c.Pipeline.MassGiftThreshold)
	case c.Pipeline.FollowMaxInQueue < 0:
		return errors.NewValidationError("must not be negative", "FOLLOW_MAX_IN_QUEUE", c.Pipeline.FollowMaxInQueue)
	case c.Pipeline.GiftFlushInterval <= 0:
		return errors.NewValidationError("must be positive", "GIFT_FLUSH_INTERVAL", c.Pipeline.GiftFlushInterval)
	case c.Pipeline.DedupSize < 0:
		return errors.NewValidationError("must not be negative", "DEDUP_SIZE", c.Pipeline.DedupSize)
	case c.Dispatcher.MaxConcurrent <= 0:
		return errors.NewValidationError("must be positive", "DISPATCH_MAX_CONCURRENT", c.Dispatcher.MaxConcurrent)
	case c.Dispatcher.QueueSize <= 0:
		return errors.NewValidationError("must be positive", "DISPATCH_QUEUE_SIZE", c.Dispatcher.QueueSize)
	case c.Reconnect.MaxAttempts < 0:
		return errors.NewValidationError("must not be negative", "RECONNECT_MAX_ATTEMPTS", c.Reconnect.MaxAttempts)
	case c.Reconnect.Delay <= 0:
		return errors.NewValidationError("must be positive", "RECONNECT_DELAY", c.Reconnect.Delay)
	case c.Reconnect.Backoff != "fixed" && c.Reconnect.Backoff != "exponential":
		return errors.NewValidationError("must be fixed or exponential", "RECONNECT_BACKOFF", c.Reconnect.Backoff)
	case c.Storage.AutosaveInterval <= 0:
		return errors.NewValidationError("must be positive", "USER_AUTOSAVE_INTERVAL", c.Storage.AutosaveInterval)
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// getEnvDuration acepta "3s", "500ms" o segundos sin unidad.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
