package runner

import (
	"bytes"
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/hajimehoshi/oto/v2"
	"go.uber.org/zap"

	"streamBot/internal/app/events"
	ttsusecase "streamBot/internal/usecase/tts"
	"streamBot/internal/util"
	"streamBot/pkg/errors"
)

type Synthesizer interface {
	GenerateAudio(ctx context.Context, text, voiceCode string) ([]byte, ttsusecase.VoiceOption, error)
}

// Player reproduce audio mp3 y bloquea hasta terminar o hasta que ctx se cancele.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

type Config struct {
	Synth Synthesizer
	// Player nil desactiva la reproducción local; el overlay recibe el audio igual.
	Player    Player
	Bus       *events.Bus
	QueueSize int
	Logger    *zap.Logger
}

// Runner lee los pedidos de TTS de a uno, en orden de llegada.
type Runner struct {
	synth  Synthesizer
	player Player
	bus    *events.Bus
	logger *zap.Logger
	queue  chan ttsusecase.Request

	mu            sync.Mutex
	closed        bool
	cancelCurrent context.CancelFunc
	status        events.TTSStatusDTO
}

func New(cfg Config) *Runner {
	size := cfg.QueueSize
	if size <= 0 {
		size = 32
	}
	return &Runner{
		synth:  cfg.Synth,
		player: cfg.Player,
		bus:    cfg.Bus,
		logger: util.OrNop(cfg.Logger),
		queue:  make(chan ttsusecase.Request, size),
		status: events.NewTTSStatusDTO("idle", 0, "", ""),
	}
}

// Enqueue implementa ttsusecase.Queue. Con la cola llena el pedido se rechaza.
func (r *Runner) Enqueue(_ context.Context, req ttsusecase.Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", errors.NewNotConnectedError("tts")
	}
	select {
	case r.queue <- req:
		r.setStatusLocked(r.status.State, len(r.queue), r.status.CurrentID, "")
		return req.ID, nil
	default:
		return "", errors.NewValidationError("la cola de TTS está llena", "queue", len(r.queue))
	}
}

// Run bloquea hasta que ctx se cancela.
func (r *Runner) Run(ctx context.Context) error {
	r.publish(events.TopicTTSStatus, r.Status())
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.closed = true
			r.setStatusLocked("stopped", 0, "", "")
			r.mu.Unlock()
			return nil
		case req := <-r.queue:
			r.handle(ctx, req)
		}
	}
}

// Skip corta la lectura en curso.
func (r *Runner) Skip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelCurrent != nil {
		r.cancelCurrent()
	}
}

// StopAll corta la lectura en curso y vacía la cola.
func (r *Runner) StopAll() {
	r.Skip()
	for {
		select {
		case <-r.queue:
		default:
			r.updateStatus("idle", "", "")
			return
		}
	}
}

func (r *Runner) Status() events.TTSStatusDTO {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runner) handle(ctx context.Context, req ttsusecase.Request) {
	if r.synth == nil {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelCurrent = cancel
	r.setStatusLocked("speaking", len(r.queue), req.ID, "")
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.cancelCurrent = nil
		r.mu.Unlock()
	}()

	audio, voice, err := r.synth.GenerateAudio(childCtx, req.Text, req.VoiceCode)
	if err != nil {
		r.fail(req, err)
		return
	}
	req.VoiceCode, req.VoiceLabel = voice.Code, voice.Label

	if r.player != nil {
		if err := r.player.Play(childCtx, audio); err != nil && childCtx.Err() == nil {
			r.fail(req, err)
			return
		}
	}

	r.emitSpoken(req, nil, audio)
	r.updateStatus("idle", "", "")
}

func (r *Runner) fail(req ttsusecase.Request, err error) {
	r.logger.Warn("tts: request failed", zap.String("id", req.ID), zap.Error(err))
	r.publish(events.TopicAppError, map[string]any{"source": "tts", "error": err.Error()})
	r.updateStatus("error", req.ID, err.Error())
	r.emitSpoken(req, err, nil)
}

func (r *Runner) emitSpoken(req ttsusecase.Request, err error, audio []byte) {
	payload := events.TTSSpokenDTO{
		ID:          req.ID,
		OK:          err == nil,
		Text:        req.Text,
		Voice:       req.VoiceCode,
		VoiceLabel:  req.VoiceLabel,
		RequestedBy: req.RequestedBy,
		Platform:    string(req.Platform),
		FinishedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		payload.Error = err.Error()
	}
	if len(audio) > 0 {
		payload.AudioBase64 = base64.StdEncoding.EncodeToString(audio)
	}
	r.publish(events.TopicTTSSpoken, payload)
}

func (r *Runner) updateStatus(state, currentID, lastError string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setStatusLocked(state, len(r.queue), currentID, lastError)
}

func (r *Runner) setStatusLocked(state string, queueLength int, currentID, lastError string) {
	if state == "" {
		state = "idle"
	}
	r.status = events.NewTTSStatusDTO(state, queueLength, currentID, lastError)
	r.publish(events.TopicTTSStatus, r.status)
}

func (r *Runner) publish(topic string, payload any) {
	if r.bus != nil {
		r.bus.Publish(topic, payload)
	}
}

// SpeakerPlayer reproduce por la salida de audio local con oto.
type SpeakerPlayer struct {
	mu  sync.Mutex
	ctx *oto.Context
}

func NewSpeakerPlayer() *SpeakerPlayer {
	return &SpeakerPlayer{}
}

func (p *SpeakerPlayer) Play(ctx context.Context, audio []byte) error {
	if len(audio) == 0 {
		return errors.NewValidationError("audio vacío", "audio", 0)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	decoder, err := mp3.NewDecoder(bytes.NewReader(audio))
	if err != nil {
		return errors.NewActionError("no se pudo decodificar el audio", "speak", err)
	}
	// oto admite un solo contexto por proceso.
	if p.ctx == nil {
		otoCtx, ready, err := oto.NewContext(decoder.SampleRate(), 2, 2)
		if err != nil {
			return errors.NewActionError("no se pudo abrir la salida de audio", "speak", err)
		}
		<-ready
		p.ctx = otoCtx
	}

	player := p.ctx.NewPlayer(decoder)
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()
	for player.IsPlaying() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
