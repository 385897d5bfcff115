package domain

import "time"

type AlertType string

const (
	AlertEvent   AlertType = "event"
	AlertOverlay AlertType = "overlay"
)

// Alert es una notificación legible para mostrar en pantalla.
type Alert struct {
	Type      AlertType         `json:"type"`
	Kind      EventKind         `json:"kind,omitempty"`
	Platform  Platform          `json:"platform,omitempty"`
	Username  string            `json:"username,omitempty"`
	Text      string            `json:"text"`
	Duration  time.Duration     `json:"duration,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AlertSink es de una sola vía: los fallos se registran y nunca se propagan.
type AlertSink interface {
	Alert(alert Alert)
}
