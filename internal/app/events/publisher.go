package events

import "streamBot/internal/domain"

// Publisher adapta el bus a los puertos del pipeline: eventos para el overlay y alertas.
type Publisher struct {
	bus *Bus
}

func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

func (p *Publisher) PublishEvent(ev *domain.PlatformEvent) {
	if ev == nil {
		return
	}
	if ev.Kind == domain.EventChatMessage {
		p.bus.Publish(TopicChatMessage, NewChatMessageDTO(ev))
		return
	}
	p.bus.Publish(TopicPlatformEvent, NewPlatformEventDTO(ev))
}

func (p *Publisher) Alert(alert domain.Alert) {
	p.bus.Publish(TopicAlert, NewAlertDTO(alert))
}

// PlatformStatus informa conexiones, caídas y reintentos de cada plataforma.
func (p *Publisher) PlatformStatus(platform domain.Platform, state string, attempt int, err error) {
	p.bus.Publish(TopicPlatformStatus, NewPlatformStatusDTO(platform, state, attempt, err))
}
