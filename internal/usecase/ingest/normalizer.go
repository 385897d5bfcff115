// Package ingest convierte los eventos crudos de cada plataforma en domain.PlatformEvent.
package ingest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
)

// Deduper recuerda los IDs ya vistos. MarkSeen devuelve true la primera vez.
type Deduper interface {
	MarkSeen(ctx context.Context, key string) bool
}

type UserResolver interface {
	ResolveIdentity(ctx context.Context, identity domain.PlatformIdentity) *domain.User
}

// decoded es lo que un decoder extrae del evento crudo antes de resolver usuarios.
type decoded struct {
	kind      domain.EventKind
	attrs     map[string]string
	args      []string
	sender    *domain.RawUser
	target    *domain.RawUser
	anonymous bool
}

type decoder func(raw domain.RawEvent) (decoded, bool)

type Normalizer struct {
	dedup    Deduper
	resolver UserResolver
	logger   *zap.Logger
	decoders map[domain.Platform]decoder
	now      func() time.Time
}

func NewNormalizer(resolver UserResolver, dedup Deduper, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		dedup:    dedup,
		resolver: resolver,
		logger:   util.OrNop(logger),
		decoders: map[domain.Platform]decoder{
			domain.PlatformTwitch:  decodeTwitch,
			domain.PlatformTrovo:   decodeTrovo,
			domain.PlatformYouTube: decodeYouTube,
			domain.PlatformGlimesh: decodeGlimesh,
		},
		now: time.Now,
	}
}

// Normalize produce cero o un evento. Los duplicados y los tipos desconocidos se descartan
// sin error.
func (n *Normalizer) Normalize(ctx context.Context, raw domain.RawEvent) (*domain.PlatformEvent, bool) {
	if raw.ID != "" && n.dedup != nil {
		if !n.dedup.MarkSeen(ctx, string(raw.Platform)+":"+raw.ID) {
			telemetry.IncDeduplicated(string(raw.Platform))
			n.logger.Debug("ingest: duplicate dropped",
				zap.String("platform", string(raw.Platform)),
				zap.String("id", raw.ID),
			)
			return nil, false
		}
	}

	decode, ok := n.decoders[raw.Platform]
	if !ok {
		n.logger.Warn("ingest: unsupported platform", zap.String("platform", string(raw.Platform)))
		return nil, false
	}
	d, ok := decode(raw)
	if !ok {
		n.logger.Debug("ingest: unhandled event type",
			zap.String("platform", string(raw.Platform)),
			zap.String("type", raw.Type),
		)
		return nil, false
	}

	ev := &domain.PlatformEvent{
		ID:         raw.ID,
		Kind:       d.kind,
		Platform:   raw.Platform,
		ChannelID:  raw.ChannelID,
		Arguments:  d.args,
		Attributes: d.attrs,
		OccurredAt: raw.ReceivedAt,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = n.now()
	}
	if ev.Attributes == nil {
		ev.Attributes = make(map[string]string)
	}

	sender := raw.Sender
	if d.sender != nil {
		sender = *d.sender
	}
	if d.anonymous {
		ev.ActingUser = domain.NewUnassociatedUser(raw.Platform, domain.AnonymousUsername, ev.OccurredAt)
		ev.SetAttr(domain.AttrIsAnonymous, "true")
	} else {
		ev.ActingUser = n.resolve(ctx, raw.Platform, sender)
		if _, set := ev.Attributes[domain.AttrIsAnonymous]; !set {
			ev.SetAttr(domain.AttrIsAnonymous, "false")
		}
	}
	if d.target != nil {
		ev.TargetUser = n.resolve(ctx, raw.Platform, *d.target)
	}

	switch ev.Kind {
	case domain.EventChatMessage:
		if !ev.ActingUser.IsUnassociated() {
			ev.ActingUser.AddCounter(domain.CounterMessagesSent, 1)
		}
	case domain.EventBan:
		ev.ActingUser.AddRole(raw.Platform, domain.RoleBanned)
	}

	telemetry.IncNormalized(string(ev.Platform), string(ev.Kind))
	return ev, true
}

func (n *Normalizer) resolve(ctx context.Context, platform domain.Platform, raw domain.RawUser) *domain.User {
	if n.resolver == nil || (raw.ID == "" && raw.Username == "") {
		return domain.NewUnassociatedUser(platform, raw.Username, n.now())
	}
	return n.resolver.ResolveIdentity(ctx, domain.PlatformIdentity{
		Platform:       platform,
		ID:             raw.ID,
		Username:       raw.Username,
		DisplayName:    raw.DisplayName,
		Roles:          raw.Roles,
		SubscriberTier: raw.SubscriberTier,
	})
}

func splitArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields
}
