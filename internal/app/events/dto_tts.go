package events

import "time"

type TTSStatusDTO struct {
	State       string `json:"state"`
	QueueLength int    `json:"queue_length"`
	CurrentID   string `json:"current_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

// TTSSpokenDTO lleva el audio al overlay, que lo reproduce si no hay salida local.
type TTSSpokenDTO struct {
	ID          string `json:"id"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Text        string `json:"text,omitempty"`
	Voice       string `json:"voice,omitempty"`
	VoiceLabel  string `json:"voice_label,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	Platform    string `json:"platform,omitempty"`
	FinishedAt  string `json:"finished_at"`
	AudioBase64 string `json:"audio_base64,omitempty"`
}

func NewTTSStatusDTO(state string, queueLength int, currentID, lastError string) TTSStatusDTO {
	return TTSStatusDTO{
		State:       state,
		QueueLength: queueLength,
		CurrentID:   currentID,
		LastError:   lastError,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}
