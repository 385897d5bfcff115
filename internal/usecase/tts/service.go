package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hegedustibor/htgo-tts/voices"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

const (
	defaultEndpoint = "https://translate.google.com/translate_tts"
	chunkSize       = 200
)

type VoiceOption struct {
	Code  string
	Label string
}

type Request struct {
	ID          string
	Text        string
	VoiceCode   string
	VoiceLabel  string
	RequestedBy string
	Platform    domain.Platform
	ChannelID   string
	CreatedAt   time.Time
}

type Queue interface {
	Enqueue(ctx context.Context, req Request) (string, error)
}

type Config struct {
	Repo domain.TTSSettingsRepository
	// Endpoint permite apuntar la síntesis a otro servidor compatible.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Service resuelve voces, guarda la configuración y sintetiza audio. Implementa
// domain.SpeechQueue para la acción de hablar.
type Service struct {
	repo     domain.TTSSettingsRepository
	queue    Queue
	voices   []VoiceOption
	endpoint string
	httpCli  *http.Client
	logger   *zap.Logger
}

func NewService(cfg Config) *Service {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	httpCli := cfg.HTTPClient
	if httpCli == nil {
		httpCli = &http.Client{Timeout: 15 * time.Second}
	}
	return &Service{
		repo: cfg.Repo,
		voices: []VoiceOption{
			{Code: voices.Spanish, Label: "Español"},
			{Code: "es-es", Label: "Español España"},
			{Code: voices.English, Label: "Inglés US"},
			{Code: voices.EnglishUK, Label: "Inglés UK"},
			{Code: voices.Portuguese, Label: "Portugués"},
			{Code: voices.French, Label: "Francés"},
			{Code: voices.German, Label: "Alemán"},
		},
		endpoint: endpoint,
		httpCli:  httpCli,
		logger:   util.OrNop(cfg.Logger),
	}
}

func (s *Service) SetQueue(queue Queue) {
	s.queue = queue
}

func (s *Service) ListVoices() []VoiceOption {
	return append([]VoiceOption(nil), s.voices...)
}

func (s *Service) SetVoice(ctx context.Context, code string) (VoiceOption, error) {
	option, ok := s.findVoice(code)
	if !ok {
		return VoiceOption{}, errors.NewValidationError("voz no soportada", "voice", code)
	}
	if s.repo != nil {
		if err := s.repo.SetTTSVoice(ctx, option.Code); err != nil {
			return VoiceOption{}, errors.NewStorageError("no pude guardar la voz", "set_tts_voice", err)
		}
	}
	return option, nil
}

func (s *Service) CurrentVoice(ctx context.Context) VoiceOption {
	if s.repo != nil {
		if stored, err := s.repo.GetTTSVoice(ctx); err == nil {
			if option, ok := s.findVoice(stored); ok {
				return option
			}
		}
	}
	return s.voices[0]
}

func (s *Service) SetEnabled(ctx context.Context, enabled bool) error {
	if s.repo == nil {
		return nil
	}
	return s.repo.SetTTSEnabled(ctx, enabled)
}

// Enabled es true si no hay repositorio o si falla la lectura.
func (s *Service) Enabled(ctx context.Context) bool {
	if s.repo == nil {
		return true
	}
	enabled, err := s.repo.GetTTSEnabled(ctx)
	if err != nil {
		s.logger.Debug("tts: enabled flag unavailable", zap.Error(err))
		return true
	}
	return enabled
}

// Speak encola un texto; voice vacío usa la voz guardada.
func (s *Service) Speak(ctx context.Context, text, voice, requestedBy string, platform domain.Platform, channelID string) error {
	_, err := s.Enqueue(ctx, Request{
		Text:        text,
		VoiceCode:   voice,
		RequestedBy: requestedBy,
		Platform:    platform,
		ChannelID:   channelID,
	})
	return err
}

func (s *Service) Enqueue(ctx context.Context, req Request) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", errors.NewValidationError("texto vacío", "text", req.Text)
	}
	if !s.Enabled(ctx) {
		return "", errors.NewNotConnectedError("tts")
	}
	if s.queue == nil {
		return "", errors.NewNotConnectedError("tts")
	}

	voice, err := s.pickVoice(ctx, req.VoiceCode)
	if err != nil {
		return "", err
	}

	req.Text = text
	req.VoiceCode = voice.Code
	req.VoiceLabel = voice.Label
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	return s.queue.Enqueue(ctx, req)
}

func (s *Service) GenerateAudio(ctx context.Context, text, voiceCode string) ([]byte, VoiceOption, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, VoiceOption{}, errors.NewValidationError("texto vacío", "text", text)
	}
	voice, err := s.pickVoice(ctx, voiceCode)
	if err != nil {
		return nil, VoiceOption{}, err
	}

	runes := []rune(text)
	buf := bytes.NewBuffer(nil)
	for start := 0; start < len(runes); start += chunkSize {
		end := min(start+chunkSize, len(runes))
		audio, err := s.fetchChunk(ctx, string(runes[start:end]), voice.Code)
		if err != nil {
			return nil, VoiceOption{}, err
		}
		buf.Write(audio)
	}
	return buf.Bytes(), voice, nil
}

func (s *Service) pickVoice(ctx context.Context, code string) (VoiceOption, error) {
	if strings.TrimSpace(code) == "" {
		return s.CurrentVoice(ctx), nil
	}
	option, ok := s.findVoice(code)
	if !ok {
		return VoiceOption{}, errors.NewValidationError("voz no soportada", "voice", code)
	}
	return option, nil
}

func (s *Service) findVoice(code string) (VoiceOption, bool) {
	code = normalizeVoice(code)
	if code == "" {
		return s.voices[0], true
	}
	for _, option := range s.voices {
		if normalizeVoice(option.Code) == code {
			return option, true
		}
	}
	// es-mx -> es
	if idx := strings.Index(code, "-"); idx > 0 {
		return s.findVoice(code[:idx])
	}
	return VoiceOption{}, false
}

func (s *Service) fetchChunk(ctx context.Context, text, voice string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := s.httpCli.Do(req)
	if err != nil {
		return nil, errors.NewPlatformError("tts request failed", "tts", 0, true, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, errors.NewPlatformError(fmt.Sprintf("tts status %d: %s", resp.StatusCode, body),
			"tts", resp.StatusCode, resp.StatusCode >= 500, nil)
	}
	return io.ReadAll(resp.Body)
}

func normalizeVoice(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
