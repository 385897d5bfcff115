package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"streamBot/internal/app/events"
	"streamBot/internal/domain"
	ttsusecase "streamBot/internal/usecase/tts"
	"streamBot/pkg/errors"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
)

type AlertHistory interface {
	ListAlerts(ctx context.Context, limit int) ([]domain.Alert, error)
}

type TTSManager interface {
	ListVoices() []ttsusecase.VoiceOption
	CurrentVoice(ctx context.Context) ttsusecase.VoiceOption
	Enabled(ctx context.Context) bool
	SetVoice(ctx context.Context, code string) (ttsusecase.VoiceOption, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

type TTSStatusReporter interface {
	Status() events.TTSStatusDTO
}

type CommandAdmin interface {
	List() []*domain.CommandDefinition
	Upsert(ctx context.Context, cmd *domain.CommandDefinition) (*domain.CommandDefinition, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type PlatformStatus interface {
	Platforms() []domain.Platform
	Connected(platform domain.Platform) bool
}

type apiHandlers struct {
	alerts    AlertHistory
	tts       TTSManager
	ttsStatus TTSStatusReporter
	commands  CommandAdmin
	platforms PlatformStatus
	logger    *zap.Logger
}

func newAPIHandlers(cfg Config, logger *zap.Logger) *apiHandlers {
	return &apiHandlers{
		alerts:    cfg.Alerts,
		tts:       cfg.TTS,
		ttsStatus: cfg.TTSStatus,
		commands:  cfg.Commands,
		platforms: cfg.Platforms,
		logger:    logger,
	}
}

func (a *apiHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", a.handleStatus)
	if a.alerts != nil {
		mux.HandleFunc("GET /api/alerts", a.handleAlerts)
	}
	if a.tts != nil {
		mux.HandleFunc("GET /api/tts/status", a.handleTTSStatus)
		mux.HandleFunc("POST /api/tts/settings", a.handleTTSUpdate)
	}
	if a.commands != nil {
		mux.HandleFunc("GET /api/commands", a.handleCommandList)
		mux.HandleFunc("POST /api/commands", a.handleCommandUpsert)
		mux.HandleFunc("DELETE /api/commands/{id}", a.handleCommandDelete)
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
}

type platformState struct {
	Platform  domain.Platform `json:"platform"`
	Connected bool            `json:"connected"`
}

type statusResponse struct {
	Platforms []platformState      `json:"platforms"`
	TTS       *events.TTSStatusDTO `json:"tts,omitempty"`
}

func (a *apiHandlers) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Platforms: []platformState{}}
	if a.platforms != nil {
		for _, p := range a.platforms.Platforms() {
			resp.Platforms = append(resp.Platforms, platformState{Platform: p, Connected: a.platforms.Connected(p)})
		}
	}
	if a.ttsStatus != nil {
		status := a.ttsStatus.Status()
		resp.TTS = &status
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *apiHandlers) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxAlertLimit)
	}

	alerts, err := a.alerts.ListAlerts(r.Context(), limit)
	if err != nil {
		a.fail(w, "list alerts", err)
		return
	}
	out := make([]events.AlertDTO, 0, len(alerts))
	for _, alert := range alerts {
		out = append(out, events.NewAlertDTO(alert))
	}
	writeJSON(w, http.StatusOK, out)
}

type ttsStatusResponse struct {
	Enabled    bool               `json:"enabled"`
	Voice      string             `json:"voice"`
	VoiceLabel string             `json:"voice_label"`
	Voices     []ttsVoiceResponse `json:"voices"`
}

type ttsVoiceResponse struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

type ttsUpdateRequest struct {
	Voice   string `json:"voice"`
	Enabled *bool  `json:"enabled"`
}

func (a *apiHandlers) handleTTSStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.ttsStatusSnapshot(r.Context()))
}

func (a *apiHandlers) handleTTSUpdate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req ttsUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if strings.TrimSpace(req.Voice) != "" {
		if _, err := a.tts.SetVoice(r.Context(), req.Voice); err != nil {
			a.fail(w, "set voice", err)
			return
		}
	}
	if req.Enabled != nil {
		if err := a.tts.SetEnabled(r.Context(), *req.Enabled); err != nil {
			a.fail(w, "set enabled", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, a.ttsStatusSnapshot(r.Context()))
}

func (a *apiHandlers) ttsStatusSnapshot(ctx context.Context) ttsStatusResponse {
	current := a.tts.CurrentVoice(ctx)
	status := ttsStatusResponse{
		Enabled:    a.tts.Enabled(ctx),
		Voice:      current.Code,
		VoiceLabel: current.Label,
	}
	voices := a.tts.ListVoices()
	status.Voices = make([]ttsVoiceResponse, 0, len(voices))
	for _, v := range voices {
		status.Voices = append(status.Voices, ttsVoiceResponse{Code: v.Code, Label: v.Label})
	}
	return status
}

func (a *apiHandlers) handleCommandList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.commands.List())
}

type commandUpsertResponse struct {
	Command *domain.CommandDefinition `json:"command"`
	Created bool                      `json:"created"`
}

func (a *apiHandlers) handleCommandUpsert(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var cmd domain.CommandDefinition
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	saved, created, err := a.commands.Upsert(r.Context(), &cmd)
	if err != nil {
		a.fail(w, "upsert command", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, commandUpsertResponse{Command: saved, Created: created})
}

func (a *apiHandlers) handleCommandDelete(w http.ResponseWriter, r *http.Request) {
	deleted, err := a.commands.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		a.fail(w, "delete command", err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "command not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail traduce los errores del dominio a códigos HTTP.
func (a *apiHandlers) fail(w http.ResponseWriter, op string, err error) {
	var verr *errors.ValidationError
	if stderrors.As(err, &verr) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.logger.Error("api: "+op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
