// Package notifications describe los eventos de plataforma para mostrarlos en pantalla.
package notifications

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/util"
)

// EventLogger centraliza el registro de eventos admitidos y publica su alerta.
type EventLogger struct {
	sink   domain.AlertSink
	logger *zap.Logger
	now    func() time.Time
}

func NewEventLogger(sink domain.AlertSink, logger *zap.Logger) *EventLogger {
	return &EventLogger{
		sink:   sink,
		logger: util.OrNop(logger),
		now:    time.Now,
	}
}

// Notify registra el evento y, si tiene descripción, la envía al overlay. Nunca falla.
func (l *EventLogger) Notify(ev *domain.PlatformEvent) {
	if ev == nil || ev.Kind == domain.EventChatMessage {
		return
	}
	l.logger.Info("events: "+string(ev.Kind),
		zap.String("platform", string(ev.Platform)),
		zap.String("user", actorName(ev)),
		zap.Any("attributes", ev.Attributes),
	)

	text, ok := Describe(ev)
	if !ok || l.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("events: alert sink panicked", zap.Any("panic", r))
		}
	}()
	l.sink.Alert(domain.Alert{
		Type:      domain.AlertEvent,
		Kind:      ev.Kind,
		Platform:  ev.Platform,
		Username:  actorName(ev),
		Text:      text,
		Metadata:  ev.Attributes,
		CreatedAt: l.now(),
	})
}

// Describe devuelve el texto legible del evento, por ejemplo "alice Followed".
func Describe(ev *domain.PlatformEvent) (string, bool) {
	name := actorName(ev)
	switch ev.Kind {
	case domain.EventFollow:
		return name + " Followed", true
	case domain.EventSubscribe:
		return fmt.Sprintf("%s Subscribed (%s)", name, planName(ev)), true
	case domain.EventResubscribe:
		return fmt.Sprintf("%s Re-Subscribed For %d Months (%s)", name, ev.AttrInt(domain.AttrSubMonths, 1), planName(ev)), true
	case domain.EventSubscriptionGifted:
		return fmt.Sprintf("%s Gifted A Subscription To %s", name, targetName(ev)), true
	case domain.EventMassSubscriptionsGifted:
		return fmt.Sprintf("%s Gifted %d Subs", name, ev.AttrInt(domain.AttrSubsGiftedAmount, 1)), true
	case domain.EventBitsCheered:
		return fmt.Sprintf("%s Cheered %d Bits", name, ev.AttrInt(domain.AttrBitsAmount, 0)), true
	case domain.EventChannelPointsRedeemed:
		return fmt.Sprintf("%s Redeemed %s", name, ev.Attr(domain.AttrRewardName)), true
	case domain.EventRaided:
		return fmt.Sprintf("%s raided with %d viewers", name, ev.AttrInt(domain.AttrRaidViewerCount, 0)), true
	case domain.EventSpellCast:
		return fmt.Sprintf("%s Cast %s x%d", name, ev.Attr(domain.AttrSpellName), ev.AttrInt(domain.AttrSpellQuantity, 1)), true
	case domain.EventSuperChat:
		return fmt.Sprintf("%s Super Chat %s", name, ev.Attr(domain.AttrAmount)), true
	case domain.EventTimeout:
		return fmt.Sprintf("%s Timed Out For %ss", name, ev.Attr(domain.AttrTimeoutLength)), true
	case domain.EventBan:
		return name + " Banned", true
	}
	return "", false
}

func actorName(ev *domain.PlatformEvent) string {
	if ev.IsAnonymous() || ev.ActingUser == nil {
		return domain.AnonymousUsername
	}
	return ev.ActingUser.DisplayName(ev.Platform)
}

func targetName(ev *domain.PlatformEvent) string {
	if ev.TargetUser == nil {
		return domain.AnonymousUsername
	}
	return ev.TargetUser.DisplayName(ev.Platform)
}

func planName(ev *domain.PlatformEvent) string {
	if plan := ev.Attr(domain.AttrSubPlanName); plan != "" {
		return plan
	}
	return "Tier 1"
}
