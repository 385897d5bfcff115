// Package admission decide qué eventos llegan a disparar automatizaciones.
package admission

import (
	"context"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"streamBot/internal/domain"
	"streamBot/internal/telemetry"
	"streamBot/internal/util"
)

const (
	DenyBanned    = "banned"
	DenyQuota     = "quota"
	DenyRepeated  = "once_per_session"
	DenyModerated = "moderated"
)

const defaultSessionMemory = 10000

// Awarder aplica los premios de moneda y stream pass de un evento.
type Awarder interface {
	AwardFor(ev *domain.PlatformEvent)
}

type Config struct {
	// Quotas limita los eventos en curso por tipo; 0 o ausente es sin límite.
	Quotas     map[domain.EventKind]int
	Moderation domain.ModerationService
	Awards     Awarder
	// SessionMemory acota cuántos usuarios recuerda la regla de una vez por sesión.
	SessionMemory int
	Logger        *zap.Logger
}

// Ticket reserva un lugar en la cuota del tipo de evento hasta que se llama Release.
type Ticket struct {
	once    sync.Once
	release func()
}

// Release es idempotente y acepta un ticket nil.
func (t *Ticket) Release() {
	if t == nil || t.release == nil {
		return
	}
	t.once.Do(t.release)
}

type Gate struct {
	quotas     map[domain.EventKind]int
	moderation domain.ModerationService
	awards     Awarder
	logger     *zap.Logger

	mu       sync.Mutex
	inFlight map[domain.EventKind]int
	session  *lru.Cache[string, struct{}]
}

func New(cfg Config) (*Gate, error) {
	size := cfg.SessionMemory
	if size <= 0 {
		size = defaultSessionMemory
	}
	session, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, err
	}
	quotas := make(map[domain.EventKind]int, len(cfg.Quotas))
	for kind, limit := range cfg.Quotas {
		if limit > 0 {
			quotas[kind] = limit
		}
	}
	return &Gate{
		quotas:     quotas,
		moderation: cfg.Moderation,
		awards:     cfg.Awards,
		logger:     util.OrNop(cfg.Logger),
		inFlight:   make(map[domain.EventKind]int),
		session:    session,
	}, nil
}

// CanAdmit aplica las reglas que no dependen del contenido: usuario baneado, cuota en curso
// y eventos que sólo cuentan una vez por sesión (follow, raid).
func (g *Gate) CanAdmit(ev *domain.PlatformEvent) (*Ticket, bool) {
	if ev == nil {
		return nil, false
	}
	if ev.ActingUser != nil && ev.ActingUser.IsBanned(ev.Platform) {
		g.deny(ev, DenyBanned)
		return nil, false
	}

	ticket, ok := g.reserve(ev.Kind)
	if !ok {
		g.deny(ev, DenyQuota)
		return nil, false
	}

	if onlyOncePerSession(ev.Kind) {
		if seen, _ := g.session.ContainsOrAdd(sessionKey(ev), struct{}{}); seen {
			ticket.Release()
			g.deny(ev, DenyRepeated)
			return nil, false
		}
	}
	return ticket, true
}

func (g *Gate) reserve(kind domain.EventKind) (*Ticket, bool) {
	limit, limited := g.quotas[kind]
	if !limited {
		return &Ticket{}, true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight[kind] >= limit {
		return nil, false
	}
	g.inFlight[kind]++
	return &Ticket{release: func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.inFlight[kind] > 0 {
			g.inFlight[kind]--
		}
	}}, true
}

// InFlight devuelve cuántos eventos del tipo siguen en curso.
func (g *Gate) InFlight(kind domain.EventKind) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight[kind]
}

// Admit otorga los premios y después pasa el filtro de moderación. Devuelve false si la
// automatización debe suprimirse; los premios se entregan igual.
func (g *Gate) Admit(ctx context.Context, ev *domain.PlatformEvent) bool {
	g.Award(ev)
	return g.Screen(ctx, ev)
}

func (g *Gate) Award(ev *domain.PlatformEvent) {
	if g.awards != nil {
		g.awards.AwardFor(ev)
	}
}

// Screen modera el texto de los eventos que traen mensaje y deja el motivo en los atributos.
func (g *Gate) Screen(ctx context.Context, ev *domain.PlatformEvent) bool {
	if g.moderation == nil || !carriesText(ev.Kind) {
		return true
	}
	text := ev.Attr(domain.AttrMessage)
	if text == "" {
		return true
	}
	reason := g.moderation.ShouldTextBeModerated(ctx, ev.ActingUser, ev.Platform, text)
	if reason == "" {
		return true
	}
	ev.SetAttr(domain.AttrModerationReason, reason)
	g.deny(ev, DenyModerated)
	return false
}

func (g *Gate) deny(ev *domain.PlatformEvent, reason string) {
	telemetry.IncDenied(reason)
	g.logger.Debug("admission: denied",
		zap.String("platform", string(ev.Platform)),
		zap.String("kind", string(ev.Kind)),
		zap.String("reason", reason),
	)
}

func carriesText(kind domain.EventKind) bool {
	switch kind {
	case domain.EventChatMessage, domain.EventBitsCheered, domain.EventSubscribe, domain.EventResubscribe,
		domain.EventChannelPointsRedeemed, domain.EventSuperChat:
		return true
	}
	return false
}

func onlyOncePerSession(kind domain.EventKind) bool {
	return kind == domain.EventFollow || kind == domain.EventRaided
}

func sessionKey(ev *domain.PlatformEvent) string {
	user := ev.ActingUser
	if user == nil {
		return string(ev.Kind) + "|" + string(ev.Platform) + "|"
	}
	if user.IsUnassociated() {
		return string(ev.Kind) + "|" + string(ev.Platform) + "|" + strings.ToLower(user.Username(ev.Platform))
	}
	return string(ev.Kind) + "|" + user.ID()
}
