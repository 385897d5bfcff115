// Package pipeline lleva cada evento crudo desde la normalización hasta el despacho de comandos.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/usecase/admission"
	"streamBot/internal/usecase/commands"
	"streamBot/internal/util"
)

type Normalizer interface {
	Normalize(ctx context.Context, raw domain.RawEvent) (*domain.PlatformEvent, bool)
}

// GiftBuffer recibe los regalos para reconciliarlos con su regalo masivo.
type GiftBuffer interface {
	AddGift(ctx context.Context, gift *domain.PlatformEvent)
	AddMassGift(ctx context.Context, mass *domain.PlatformEvent)
}

type Gate interface {
	CanAdmit(ev *domain.PlatformEvent) (*admission.Ticket, bool)
	Admit(ctx context.Context, ev *domain.PlatformEvent) bool
	Award(ev *domain.PlatformEvent)
}

type Matcher interface {
	MatchChat(platform domain.Platform, text string) (commands.Match, bool)
	MatchEvent(ev *domain.PlatformEvent) []commands.Match
	MatchReward(platform domain.Platform, rewardID, rewardName string) (commands.Match, bool)
	MatchSpell(platform domain.Platform, spellName string) (commands.Match, bool)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ev *domain.PlatformEvent, matches []commands.Match, done func())
}

type Notifier interface {
	Notify(ev *domain.PlatformEvent)
}

// EventSink recibe todos los eventos normalizados, incluso los moderados, para mostrarlos.
type EventSink interface {
	PublishEvent(ev *domain.PlatformEvent)
}

type Config struct {
	Normalizer Normalizer
	Gate       Gate
	Matcher    Matcher
	Dispatcher Dispatcher
	Notifier   Notifier
	Sink       EventSink
	Logger     *zap.Logger
}

type Interactor struct {
	normalizer Normalizer
	gate       Gate
	matcher    Matcher
	dispatcher Dispatcher
	notifier   Notifier
	sink       EventSink
	gifts      GiftBuffer
	logger     *zap.Logger
}

func NewInteractor(cfg Config) *Interactor {
	return &Interactor{
		normalizer: cfg.Normalizer,
		gate:       cfg.Gate,
		matcher:    cfg.Matcher,
		dispatcher: cfg.Dispatcher,
		notifier:   cfg.Notifier,
		sink:       cfg.Sink,
		logger:     util.OrNop(cfg.Logger),
	}
}

// SetGiftBuffer conecta el reconciliador, que a su vez usa el Interactor como GiftHandler.
func (uc *Interactor) SetGiftBuffer(gifts GiftBuffer) {
	uc.gifts = gifts
}

// Handle procesa un evento crudo. Los errores se resuelven adentro: nada corta el ciclo de
// ingesta de la plataforma.
func (uc *Interactor) Handle(ctx context.Context, raw domain.RawEvent) error {
	ev, ok := uc.normalizer.Normalize(ctx, raw)
	if !ok {
		return nil
	}
	if uc.sink != nil {
		uc.sink.PublishEvent(ev)
	}
	if ev.Kind == domain.EventFollow && ev.ActingUser != nil && !ev.ActingUser.IsUnassociated() {
		ev.ActingUser.AddRole(ev.Platform, domain.CommandAccessFollowers)
	}

	if uc.gifts != nil {
		switch ev.Kind {
		case domain.EventSubscriptionGifted:
			uc.gifts.AddGift(ctx, ev)
			return nil
		case domain.EventMassSubscriptionsGifted:
			uc.gifts.AddMassGift(ctx, ev)
			return nil
		}
	}

	uc.process(ctx, ev)
	return nil
}

// HandleGift implementa giftsubs.GiftHandler. Un regalo dentro de un regalo masivo sólo
// otorga premios; no dispara comandos propios.
func (uc *Interactor) HandleGift(ctx context.Context, gift *domain.PlatformEvent, fire bool) {
	if !fire {
		if ticket, ok := uc.gate.CanAdmit(gift); ok {
			uc.gate.Award(gift)
			ticket.Release()
		}
		return
	}
	uc.process(ctx, gift)
}

func (uc *Interactor) HandleMassGift(ctx context.Context, mass *domain.PlatformEvent, gifts []*domain.PlatformEvent) {
	uc.logger.Debug("pipeline: mass gift",
		zap.String("platform", string(mass.Platform)),
		zap.Int("batched", len(gifts)),
	)
	uc.process(ctx, mass)
}

func (uc *Interactor) process(ctx context.Context, ev *domain.PlatformEvent) {
	ticket, ok := uc.gate.CanAdmit(ev)
	if !ok {
		return
	}
	if !uc.gate.Admit(ctx, ev) {
		ticket.Release()
		return
	}
	if uc.notifier != nil {
		uc.notifier.Notify(ev)
	}

	matches := uc.match(ev)
	if len(matches) == 0 || uc.dispatcher == nil {
		ticket.Release()
		return
	}
	uc.dispatcher.Dispatch(ctx, ev, matches, ticket.Release)
}

// match junta los comandos del evento. Para canjes y hechizos primero va el evento genérico
// y después el comando de la recompensa o hechizo.
func (uc *Interactor) match(ev *domain.PlatformEvent) []commands.Match {
	if uc.matcher == nil {
		return nil
	}
	var matches []commands.Match
	if ev.Kind == domain.EventChatMessage {
		if m, ok := uc.matcher.MatchChat(ev.Platform, ev.Attr(domain.AttrMessage)); ok {
			matches = append(matches, m)
		}
	}
	matches = append(matches, uc.matcher.MatchEvent(ev)...)

	switch ev.Kind {
	case domain.EventChannelPointsRedeemed:
		if m, ok := uc.matcher.MatchReward(ev.Platform, ev.Attr(domain.AttrRewardID), ev.Attr(domain.AttrRewardName)); ok {
			matches = append(matches, m)
		}
	case domain.EventSpellCast:
		if m, ok := uc.matcher.MatchSpell(ev.Platform, ev.Attr(domain.AttrSpellName)); ok {
			matches = append(matches, m)
		}
	}
	return matches
}
